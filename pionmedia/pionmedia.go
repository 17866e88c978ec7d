// Package pionmedia backs connection.MediaConnection with a pion/webrtc
// PeerConnection.
//
// Session descriptions travel as raw SDP. ICE candidates travel one per
// entry as the JSON form of webrtc.ICECandidateInit, which is what
// PeerConnection.OnICECandidate produces and AddICECandidate consumes.
package pionmedia

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/connection"
	"github.com/opd-ai/callcore/signaling"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("media connection closed")

// Config selects the ICE servers and transceivers of new connections.
type Config struct {
	ICEServers []webrtc.ICEServer

	// Video adds a video transceiver next to the audio one. NewFactory sets
	// it from each call's media type.
	Video bool

	// Loopback gathers loopback candidates, which lets two connections in
	// one process reach each other.
	Loopback bool
}

// NewFactory returns a connection.MediaFactory creating pion connections.
// Audio calls get an audio transceiver only.
func NewFactory(cfg Config) connection.MediaFactory {
	return func(media signaling.MediaType, obs connection.MediaObserver) (connection.MediaConnection, error) {
		c := cfg
		c.Video = media == signaling.MediaVideo
		return New(c, obs)
	}
}

// Connection is one pion PeerConnection driven through the
// connection.MediaConnection operations.
type Connection struct {
	pc  *webrtc.PeerConnection
	obs connection.MediaObserver

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
	closed  bool
}

// New creates a peer connection reporting to obs.
func New(cfg Config, obs connection.MediaObserver) (*Connection, error) {
	if obs == nil {
		return nil, errors.New("media observer is nil")
	}

	var se webrtc.SettingEngine
	if cfg.Loopback {
		se.SetIncludeLoopbackCandidate(true)
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if cfg.Video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, kind := range kinds {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to add %s transceiver: %w", kind, err)
		}
	}

	c := &Connection{pc: pc, obs: obs}
	c.bind()

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"video":       cfg.Video,
		"ice_servers": len(cfg.ICEServers),
	}).Debug("Peer connection created")

	return c, nil
}

func (c *Connection) bind() {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		data, err := json.Marshal(cand.ToJSON())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OnICECandidate",
				"error":    err.Error(),
			}).Warn("Failed to encode local candidate")
			return
		}
		c.obs.OnLocalCandidates([][]byte{data})
	})

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		logrus.WithFields(logrus.Fields{
			"function":  "OnICEConnectionStateChange",
			"ice_state": s.String(),
		}).Debug("ICE state changed")
		if state, ok := IceState(s); ok {
			c.obs.OnIceStateChanged(state)
		}
	})

	c.pc.SCTP().Transport().ICETransport().OnSelectedCandidatePairChange(func(pair *webrtc.ICECandidatePair) {
		if pair == nil || pair.Local == nil || pair.Remote == nil {
			return
		}
		c.obs.OnNetworkRouteChanged(Route(pair))
	})
}

// IceState maps a pion ICE connection state. Unknown states report false.
func IceState(s webrtc.ICEConnectionState) (connection.IceState, bool) {
	switch s {
	case webrtc.ICEConnectionStateNew:
		return connection.IceNew, true
	case webrtc.ICEConnectionStateChecking:
		return connection.IceChecking, true
	case webrtc.ICEConnectionStateConnected:
		return connection.IceConnected, true
	case webrtc.ICEConnectionStateCompleted:
		return connection.IceCompleted, true
	case webrtc.ICEConnectionStateDisconnected:
		return connection.IceDisconnected, true
	case webrtc.ICEConnectionStateFailed:
		return connection.IceFailed, true
	case webrtc.ICEConnectionStateClosed:
		return connection.IceClosed, true
	default:
		return 0, false
	}
}

// Route describes a selected candidate pair.
func Route(pair *webrtc.ICECandidatePair) connection.NetworkRoute {
	relayed := pair.Local.Typ == webrtc.ICECandidateTypeRelay || pair.Remote.Typ == webrtc.ICECandidateTypeRelay
	return connection.NetworkRoute{
		LocalAddress:  fmt.Sprintf("%s:%d", pair.Local.Address, pair.Local.Port),
		RemoteAddress: fmt.Sprintf("%s:%d", pair.Remote.Address, pair.Remote.Port),
		Relayed:       relayed,
	}
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CreateOffer creates an offer and applies it locally. Candidates trickle
// through the observer afterwards.
func (c *Connection) CreateOffer() ([]byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set local offer: %w", err)
	}
	return []byte(offer.SDP), nil
}

// ApplyRemoteOffer applies the remote offer.
func (c *Connection) ApplyRemoteOffer(sdp []byte) error {
	return c.applyRemote(webrtc.SDPTypeOffer, sdp)
}

// CreateAnswer creates an answer to the applied remote offer and applies it
// locally.
func (c *Connection) CreateAnswer() ([]byte, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local answer: %w", err)
	}
	return []byte(answer.SDP), nil
}

// ApplyRemoteAnswer applies the remote answer.
func (c *Connection) ApplyRemoteAnswer(sdp []byte) error {
	return c.applyRemote(webrtc.SDPTypeAnswer, sdp)
}

func (c *Connection) applyRemote(typ webrtc.SDPType, sdp []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.Lock()
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: string(sdp)}); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to set remote %s: %w", typ, err)
	}
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "applyRemote",
				"candidate": cand.Candidate,
				"error":     err.Error(),
			}).Warn("Failed to add queued remote candidate")
		}
	}
	return nil
}

// AddRemoteCandidates adds remote candidates. Candidates that arrive before
// the remote description are held until it is applied.
func (c *Connection) AddRemoteCandidates(candidates [][]byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	inits := make([]webrtc.ICECandidateInit, 0, len(candidates))
	for _, raw := range candidates {
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal(raw, &init); err != nil {
			return fmt.Errorf("failed to decode remote candidate: %w", err)
		}
		inits = append(inits, init)
	}

	c.mu.Lock()
	if c.pc.RemoteDescription() == nil {
		c.pending = append(c.pending, inits...)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	for _, init := range inits {
		if err := c.pc.AddICECandidate(init); err != nil {
			return fmt.Errorf("failed to add remote candidate: %w", err)
		}
	}
	return nil
}

// Pending returns the number of remote candidates waiting for the remote
// description.
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close closes the peer connection. Later calls are no-ops.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.pending = nil
	c.mu.Unlock()

	if err := c.pc.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}
