package callcore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/call"
	"github.com/opd-ai/callcore/config"
	"github.com/opd-ai/callcore/connection"
	"github.com/opd-ai/callcore/pionmedia"
	"github.com/opd-ai/callcore/signaling"
	"github.com/opd-ai/callcore/wsignal"
)

// relayTransport hands outgoing signaling to the websocket client once it is
// connected. The manager needs a transport before the client can be dialed
// with the manager as its handler.
type relayTransport struct {
	mu     sync.RWMutex
	client *wsignal.Client
}

func (t *relayTransport) set(c *wsignal.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.client = c
}

// Send implements signaling.Transport.
func (t *relayTransport) Send(remote signaling.PeerID, msg *signaling.Message) error {
	t.mu.RLock()
	c := t.client
	t.mu.RUnlock()
	if c == nil {
		return wsignal.ErrClosed
	}
	return c.Send(remote, msg)
}

// Options configures an Endpoint.
type Options struct {
	// Config supplies timers, limits and ICE servers. Nil means defaults.
	Config *config.Config

	// RelayURL is the websocket URL of the signaling relay. Empty means
	// ws://<signal-addr>/signal.
	RelayURL string

	// Device is stamped on outgoing signaling. Zero means 1.
	Device signaling.DeviceID

	// Media overrides the pion media factory, mainly for tests. The default
	// offers video only for video calls.
	Media connection.MediaFactory
}

// Endpoint is one local peer: a signaling connection to the relay, a pion
// media engine and the call manager between them.
//
// Events are delivered through callbacks registered with the On* methods.
// Callbacks run on the call's actor and must not block.
type Endpoint struct {
	self      signaling.PeerID
	cfg       *config.Config
	manager   *call.Manager
	client    *wsignal.Client
	transport *relayTransport

	mu           sync.RWMutex
	incomingCb   func(c *call.Call)
	callStateCb  func(c *call.Call, state call.State)
	connectionCb func(c *call.Call, state connection.State)
	callEndedCb  func(c *call.Call, reason call.EndReason)
}

// NewEndpoint connects self to the relay and returns a ready endpoint.
//
// Parameters:
//   - ctx: bounds the relay dial
//   - self: the local peer id
//   - opts: configuration; the zero value uses defaults
func NewEndpoint(ctx context.Context, self signaling.PeerID, opts Options) (*Endpoint, error) {
	if self == "" {
		return nil, errors.New("peer id cannot be empty")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	device := opts.Device
	if device == 0 {
		device = 1
	}
	media := opts.Media
	if media == nil {
		media = pionmedia.NewFactory(pionmedia.Config{ICEServers: cfg.ICEServers()})
	}
	relayURL := opts.RelayURL
	if relayURL == "" {
		relayURL = fmt.Sprintf("ws://%s/signal", cfg.SignalAddr)
	}

	e := &Endpoint{
		self:      self,
		cfg:       cfg,
		transport: &relayTransport{},
	}
	manager, err := call.NewManager(cfg.CallConfig(self, device), e.transport, media, e)
	if err != nil {
		return nil, fmt.Errorf("failed to create call manager: %w", err)
	}
	e.manager = manager

	client, err := wsignal.Dial(ctx, relayURL, self, manager)
	if err != nil {
		return nil, err
	}
	e.client = client
	e.transport.set(client)

	logrus.WithFields(logrus.Fields{
		"function": "NewEndpoint",
		"peer":     self,
		"device":   device,
	}).Info("Endpoint ready")

	return e, nil
}

// Self returns the local peer id.
func (e *Endpoint) Self() signaling.PeerID { return e.self }

// Manager returns the underlying call manager.
func (e *Endpoint) Manager() *call.Manager { return e.manager }

// Call places a call to remote.
func (e *Endpoint) Call(remote signaling.PeerID, video bool) (*call.Call, error) {
	media := signaling.MediaAudio
	if video {
		media = signaling.MediaVideo
	}
	return e.manager.Call(remote, media)
}

// Answer accepts a ringing incoming call.
func (e *Endpoint) Answer(id signaling.CallID) error {
	c, ok := e.manager.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", call.ErrCallNotFound, id)
	}
	return c.Accept()
}

// Decline rejects a ringing incoming call.
func (e *Endpoint) Decline(id signaling.CallID) error {
	c, ok := e.manager.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", call.ErrCallNotFound, id)
	}
	return c.Decline()
}

// Hangup ends a call.
func (e *Endpoint) Hangup(id signaling.CallID) error {
	c, ok := e.manager.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", call.ErrCallNotFound, id)
	}
	return c.Hangup()
}

// Close hangs up every active call and disconnects from the relay.
func (e *Endpoint) Close() error {
	for _, c := range e.manager.Calls() {
		_ = c.Hangup()
	}
	for _, c := range e.manager.Calls() {
		<-c.Done()
	}
	e.transport.set(nil)
	return e.client.Close()
}

// OnIncomingCall sets the callback for calls offered by remote peers.
func (e *Endpoint) OnIncomingCall(cb func(c *call.Call)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.incomingCb = cb
}

// OnCallState sets the callback for call state changes.
func (e *Endpoint) OnCallState(cb func(c *call.Call, state call.State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callStateCb = cb
}

// OnConnectionState sets the callback for media connection state changes.
func (e *Endpoint) OnConnectionState(cb func(c *call.Call, state connection.State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connectionCb = cb
}

// OnCallEnded sets the callback for ended calls.
func (e *Endpoint) OnCallEnded(cb func(c *call.Call, reason call.EndReason)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callEndedCb = cb
}

// OnCallStateChanged implements call.Observer.
func (e *Endpoint) OnCallStateChanged(c *call.Call, from, to call.State) {
	e.mu.RLock()
	incoming, stateCb := e.incomingCb, e.callStateCb
	e.mu.RUnlock()

	if from == call.StateIdle && to == call.StateRinging && c.Direction() == call.Incoming && incoming != nil {
		incoming(c)
	}
	if stateCb != nil {
		stateCb(c, to)
	}
}

// OnConnectionStateChanged implements call.Observer.
func (e *Endpoint) OnConnectionStateChanged(c *call.Call, _ connection.ID, state connection.State) {
	e.mu.RLock()
	cb := e.connectionCb
	e.mu.RUnlock()
	if cb != nil {
		cb(c, state)
	}
}

// OnCallEnded implements call.Observer.
func (e *Endpoint) OnCallEnded(c *call.Call, reason call.EndReason) {
	e.mu.RLock()
	cb := e.callEndedCb
	e.mu.RUnlock()
	if cb != nil {
		cb(c, reason)
	}
}
