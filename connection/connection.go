// Package connection implements the per-device signaling and ICE lifecycle of
// one media connection.
//
// A Connection moves through Idle, Negotiating, IceConnecting, Connected,
// Reconnecting and Ended. Events that are not legal in the current state are
// rejected with an error wrapping ErrInvalidTransition, reported to the
// Listener, and leave the state unchanged.
//
// A Connection is not safe for concurrent use. It is owned by a call and only
// touched from that call's actor. It owns no timers; the reconnect deadline is
// enforced by the owner through ReconnectTimeout.
package connection

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/signaling"
)

// DefaultMaxReconnectAttempts bounds route-loss signals tolerated while
// reconnecting when Config.MaxReconnectAttempts is zero.
const DefaultMaxReconnectAttempts = 3

// ID identifies a connection by its call and remote device.
type ID struct {
	CallID signaling.CallID
	Device signaling.DeviceID
}

// String returns "callID/device".
func (id ID) String() string {
	return fmt.Sprintf("%s/%d", id.CallID, id.Device)
}

// Config describes the relationship a connection serves.
type Config struct {
	CallID       signaling.CallID
	Remote       signaling.PeerID
	RemoteDevice signaling.DeviceID
	LocalDevice  signaling.DeviceID
	Media        signaling.MediaType

	// MaxReconnectAttempts is the number of route-loss signals accepted
	// while reconnecting before the connection ends.
	MaxReconnectAttempts int
}

// Listener is notified of state changes and rejected events.
type Listener interface {
	OnConnectionStateChanged(c *Connection, from, to State)
	OnEventRejected(c *Connection, ev Event, err error)
}

type nopListener struct{}

func (nopListener) OnConnectionStateChanged(*Connection, State, State) {}
func (nopListener) OnEventRejected(*Connection, Event, error) {}

// Connection is the state machine for one remote device.
type Connection struct {
	cfg       Config
	media     MediaConnection
	transport signaling.Transport
	listener  Listener

	state     State
	offerer   bool
	reason    EndReason
	attempts  int
	caps      signaling.Capabilities
	route     NetworkRoute
	haveRoute bool
}

// New creates a connection in StateIdle.
func New(cfg Config, media MediaConnection, transport signaling.Transport, listener Listener) (*Connection, error) {
	if media == nil {
		return nil, ErrNilMedia
	}
	if transport == nil {
		return nil, ErrNilTransport
	}
	if listener == nil {
		listener = nopListener{}
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}

	c := &Connection{
		cfg:       cfg,
		media:     media,
		transport: transport,
		listener:  listener,
		state:     StateIdle,
	}

	logrus.WithFields(logrus.Fields{
		"function":      "New",
		"connection_id": c.ID().String(),
		"remote":        cfg.Remote,
	}).Debug("Connection created")

	return c, nil
}

// ID returns the connection identifier.
func (c *Connection) ID() ID {
	return ID{CallID: c.cfg.CallID, Device: c.cfg.RemoteDevice}
}

// Remote returns the remote peer.
func (c *Connection) Remote() signaling.PeerID { return c.cfg.Remote }

// State returns the current state.
func (c *Connection) State() State { return c.state }

// EndReason returns why the connection ended, or EndReasonNone.
func (c *Connection) EndReason() EndReason { return c.reason }

// Offerer reports whether this side sent the offer.
func (c *Connection) Offerer() bool { return c.offerer }

// Capabilities returns the media negotiated from the remote description.
func (c *Connection) Capabilities() signaling.Capabilities { return c.caps }

// Route returns the last network route reported by the media engine.
func (c *Connection) Route() (NetworkRoute, bool) { return c.route, c.haveRoute }

// ReconnectAttempts returns the route-loss signals seen in the current
// reconnect episode.
func (c *Connection) ReconnectAttempts() int { return c.attempts }

// Legal reports whether ev would be accepted in the current state.
func (c *Connection) Legal(ev Event) bool {
	if _, ok := Next(c.state, ev); !ok {
		return false
	}
	if c.state == StateNegotiating {
		switch ev {
		case EventSendAnswer:
			return !c.offerer
		case EventReceivedAnswer:
			return c.offerer
		}
	}
	return true
}

// check validates ev against the current state and reports rejections.
func (c *Connection) check(ev Event) (State, error) {
	if !c.Legal(ev) {
		err := fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev, c.state)
		logrus.WithFields(logrus.Fields{
			"function":      "check",
			"connection_id": c.ID().String(),
			"state":         c.state.String(),
			"event":         ev.String(),
		}).Warn("Rejected connection event")
		c.listener.OnEventRejected(c, ev, err)
		return c.state, err
	}
	next, _ := Next(c.state, ev)
	return next, nil
}

func (c *Connection) setState(to State, ev Event) {
	from := c.state
	if from == to {
		return
	}
	c.state = to

	logrus.WithFields(logrus.Fields{
		"function":      "setState",
		"connection_id": c.ID().String(),
		"from":          from.String(),
		"to":            to.String(),
		"event":         ev.String(),
	}).Debug("Connection state changed")

	c.listener.OnConnectionStateChanged(c, from, to)
}

// end moves to StateEnded and releases the media handle.
func (c *Connection) end(reason EndReason, ev Event) {
	if c.state == StateEnded {
		return
	}
	c.reason = reason
	if err := c.media.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "end",
			"connection_id": c.ID().String(),
			"error":         err.Error(),
		}).Warn("Failed to close media connection")
	}

	logrus.WithFields(logrus.Fields{
		"function":      "end",
		"connection_id": c.ID().String(),
		"reason":        reason.String(),
	}).Info("Connection ended")

	c.setState(StateEnded, ev)
}

// fail ends the connection after a media or transport error raised while
// handling ev. The original error is returned wrapped.
func (c *Connection) fail(ev Event, op string, err error) error {
	logrus.WithFields(logrus.Fields{
		"function":      "fail",
		"connection_id": c.ID().String(),
		"event":         ev.String(),
		"operation":     op,
		"error":         err.Error(),
	}).Error("Connection operation failed")
	c.end(EndReasonError, EventError)
	return fmt.Errorf("failed to %s: %w", op, err)
}

func (c *Connection) send(msg *signaling.Message) error {
	msg.SenderDevice = c.cfg.LocalDevice
	return c.transport.Send(c.cfg.Remote, msg)
}

func (c *Connection) learnCapabilities(sdp []byte) {
	caps, err := signaling.ParseCapabilities(sdp)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "learnCapabilities",
			"connection_id": c.ID().String(),
			"error":         err.Error(),
		}).Warn("Could not parse remote session description")
		return
	}
	c.caps = caps
}

// SendOffer creates a local offer and sends it to the remote device.
func (c *Connection) SendOffer() error {
	next, err := c.check(EventSendOffer)
	if err != nil {
		return err
	}
	sdp, err := c.media.CreateOffer()
	if err != nil {
		return c.fail(EventSendOffer, "create offer", err)
	}
	if err := c.send(signaling.NewOffer(c.cfg.CallID, c.cfg.Media, sdp)); err != nil {
		return c.fail(EventSendOffer, "send offer", err)
	}
	c.offerer = true
	c.setState(next, EventSendOffer)
	return nil
}

// ReceiveOffer applies a remote offer.
func (c *Connection) ReceiveOffer(sdp []byte) error {
	next, err := c.check(EventReceivedOffer)
	if err != nil {
		return err
	}
	if err := c.media.ApplyRemoteOffer(sdp); err != nil {
		return c.fail(EventReceivedOffer, "apply remote offer", err)
	}
	c.learnCapabilities(sdp)
	c.setState(next, EventReceivedOffer)
	return nil
}

// SendAnswer creates a local answer to the received offer and sends it.
func (c *Connection) SendAnswer() error {
	next, err := c.check(EventSendAnswer)
	if err != nil {
		return err
	}
	sdp, err := c.media.CreateAnswer()
	if err != nil {
		return c.fail(EventSendAnswer, "create answer", err)
	}
	if err := c.send(signaling.NewAnswer(c.cfg.CallID, sdp)); err != nil {
		return c.fail(EventSendAnswer, "send answer", err)
	}
	c.setState(next, EventSendAnswer)
	return nil
}

// ReceiveAnswer applies the remote answer to our offer.
func (c *Connection) ReceiveAnswer(sdp []byte) error {
	next, err := c.check(EventReceivedAnswer)
	if err != nil {
		return err
	}
	if err := c.media.ApplyRemoteAnswer(sdp); err != nil {
		return c.fail(EventReceivedAnswer, "apply remote answer", err)
	}
	c.learnCapabilities(sdp)
	c.setState(next, EventReceivedAnswer)
	return nil
}

// SendLocalCandidates forwards locally gathered candidates to the remote
// device.
func (c *Connection) SendLocalCandidates(candidates [][]byte) error {
	next, err := c.check(EventLocalICE)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	for start := 0; start < len(candidates); start += signaling.MaxCandidates {
		end := min(start+signaling.MaxCandidates, len(candidates))
		if err := c.send(signaling.NewICECandidates(c.cfg.CallID, candidates[start:end])); err != nil {
			// Candidates are best effort; the batch is simply lost.
			logrus.WithFields(logrus.Fields{
				"function":      "SendLocalCandidates",
				"connection_id": c.ID().String(),
				"error":         err.Error(),
			}).Warn("Failed to send ICE candidates")
			return fmt.Errorf("failed to send ICE candidates: %w", err)
		}
	}
	c.setState(next, EventLocalICE)
	return nil
}

// ReceiveCandidates adds remote candidates to the media connection.
func (c *Connection) ReceiveCandidates(candidates [][]byte) error {
	next, err := c.check(EventReceivedICE)
	if err != nil {
		return err
	}
	if err := c.media.AddRemoteCandidates(candidates); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":      "ReceiveCandidates",
			"connection_id": c.ID().String(),
			"count":         len(candidates),
			"error":         err.Error(),
		}).Warn("Failed to add remote ICE candidates")
		return fmt.Errorf("failed to add remote candidates: %w", err)
	}
	c.setState(next, EventReceivedICE)
	return nil
}

// HandleIceState feeds an ICE state change from the media engine into the
// state machine. States without lifecycle meaning are ignored.
func (c *Connection) HandleIceState(s IceState) error {
	ev, ok := s.event()
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":      "HandleIceState",
			"connection_id": c.ID().String(),
			"ice_state":     s.String(),
		}).Trace("Ignoring ICE state")
		return nil
	}
	next, err := c.check(ev)
	if err != nil {
		return err
	}

	switch {
	case next == StateEnded:
		c.end(EndReasonIceFailed, ev)
	case next == StateConnected:
		c.attempts = 0
		c.setState(next, ev)
	case next == StateReconnecting:
		c.attempts++
		if c.attempts > c.cfg.MaxReconnectAttempts {
			logrus.WithFields(logrus.Fields{
				"function":      "HandleIceState",
				"connection_id": c.ID().String(),
				"attempts":      c.attempts,
			}).Warn("Reconnect attempts exhausted")
			c.end(EndReasonReconnectExhausted, ev)
			return nil
		}
		c.setState(next, ev)
	default:
		c.setState(next, ev)
	}
	return nil
}

// HandleRouteChanged records the network route now carrying media.
func (c *Connection) HandleRouteChanged(route NetworkRoute) error {
	next, err := c.check(EventRouteChanged)
	if err != nil {
		return err
	}
	c.route = route
	c.haveRoute = true

	logrus.WithFields(logrus.Fields{
		"function":      "HandleRouteChanged",
		"connection_id": c.ID().String(),
		"local":         route.LocalAddress,
		"remote":        route.RemoteAddress,
		"relayed":       route.Relayed,
	}).Debug("Network route changed")

	c.setState(next, EventRouteChanged)
	return nil
}

// ReconnectTimeout ends a connection that is still reconnecting when the
// owner's reconnect deadline passes.
func (c *Connection) ReconnectTimeout() error {
	if _, err := c.check(EventReconnectTimeout); err != nil {
		return err
	}
	c.end(EndReasonReconnectTimeout, EventReconnectTimeout)
	return nil
}

// Hangup ends the connection locally and tells the remote device why.
// A failure to send the hangup does not keep the connection alive.
func (c *Connection) Hangup(hangup signaling.HangupType) error {
	if _, err := c.check(EventHangup); err != nil {
		return err
	}
	sendErr := c.send(signaling.NewHangup(c.cfg.CallID, hangup, c.cfg.LocalDevice))
	c.end(EndReasonLocalHangup, EventHangup)
	if sendErr != nil {
		return fmt.Errorf("failed to send hangup: %w", sendErr)
	}
	return nil
}

// RemoteHangup ends the connection after the remote device hung up.
func (c *Connection) RemoteHangup() error {
	if _, err := c.check(EventRemoteHangup); err != nil {
		return err
	}
	c.end(EndReasonRemoteHangup, EventRemoteHangup)
	return nil
}

// Fail ends the connection because of an external error.
func (c *Connection) Fail(cause error) error {
	if _, err := c.check(EventError); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function":      "Fail",
		"connection_id": c.ID().String(),
		"error":         fmt.Sprint(cause),
	}).Warn("Connection failed")
	c.end(EndReasonError, EventError)
	return nil
}
