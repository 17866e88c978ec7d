package call

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/clock"
	"github.com/opd-ai/callcore/connection"
	"github.com/opd-ai/callcore/groupcall"
	"github.com/opd-ai/callcore/signaling"
)

// Manager owns the calls of one local user and routes inbound signaling to
// them. It implements signaling.Handler.
type Manager struct {
	env *env

	mu    sync.RWMutex
	calls map[signaling.CallID]*Call
}

// NewManager creates a manager.
//
// Parameters:
//   - cfg: call tunables; zero durations fall back to DefaultConfig
//   - transport: sends signaling to remote peers
//   - media: creates a media connection for each direct call
//   - observer: receives call lifecycle notifications
func NewManager(cfg Config, transport signaling.Transport, media connection.MediaFactory, observer Observer) (*Manager, error) {
	switch {
	case transport == nil:
		return nil, ErrNilTransport
	case media == nil:
		return nil, ErrNilMediaFactory
	case observer == nil:
		return nil, ErrNilObserver
	}

	m := &Manager{calls: make(map[signaling.CallID]*Call)}
	m.env = &env{
		cfg:       cfg.withDefaults(),
		transport: transport,
		media:     media,
		observer:  observer,
		tp:        clock.DefaultTimeProvider{},
		onEnded:   m.remove,
	}

	logrus.WithFields(logrus.Fields{
		"function":     "NewManager",
		"local_peer":   cfg.LocalPeer,
		"ring_timeout": m.env.cfg.RingTimeout.String(),
	}).Info("Call manager created")

	return m, nil
}

// SetTimeProvider replaces the clock used for call ids and timers. It must
// be called before any call is created.
func (m *Manager) SetTimeProvider(tp clock.TimeProvider) {
	m.env.tp = clock.Or(tp)
}

// Get returns the active call with the given id.
func (m *Manager) Get(id signaling.CallID) (*Call, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[id]
	return c, ok
}

// Calls returns the calls that have not been forgotten yet.
func (m *Manager) Calls() []*Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Call, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	return out
}

func (m *Manager) remove(c *Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls[c.id] == c {
		delete(m.calls, c.id)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "remove",
		"call_id":      c.id.String(),
		"active_calls": len(m.calls),
	}).Debug("Call forgotten")
}

// newIDLocked returns a call id not used by any active call.
func (m *Manager) newIDLocked() signaling.CallID {
	for {
		id := NewCallID(m.env.tp.Now())
		if _, taken := m.calls[id]; !taken && id != 0 {
			return id
		}
	}
}

// Call places an outgoing direct call to remote.
func (m *Manager) Call(remote signaling.PeerID, media signaling.MediaType) (*Call, error) {
	m.mu.Lock()
	for _, c := range m.calls {
		if c.kind == KindDirect && c.remote == remote && c.State() != StateEnded {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrCallAlreadyActive, remote)
		}
	}
	c := newCall(m.newIDLocked(), Outgoing, KindDirect, remote, media, m.env)
	m.calls[c.id] = c
	// Queued under the lock so a crossed offer's loseGlare lands behind it.
	err := c.post("startOutgoing", c.startOutgoing)
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return c, nil
}

// StartGroupCall creates a group call and starts joining it. The call rings
// while joining, is accepted once joined and connects with the media.
func (m *Manager) StartGroupCall(cfg groupcall.Config, deps GroupDeps) (*Call, error) {
	if deps.Observer == nil {
		return nil, groupcall.ErrNilObserver
	}

	m.mu.Lock()
	c := newCall(m.newIDLocked(), Outgoing, KindGroup, signaling.PeerID(cfg.GroupID), signaling.MediaVideo, m.env)
	client, err := groupcall.New(cfg, groupcall.Deps{
		SFU:          deps.SFU,
		Media:        deps.Media,
		Resolver:     deps.Resolver,
		Observer:     &groupBridge{Observer: deps.Observer, call: c},
		Actor:        c.actor,
		TimeProvider: m.env.tp,
		Go:           deps.Go,
	})
	if err != nil {
		m.mu.Unlock()
		c.actor.Stop()
		return nil, fmt.Errorf("failed to create group call client: %w", err)
	}
	c.group = client
	m.calls[c.id] = c
	m.mu.Unlock()

	if err := c.post("startGroup", c.startGroup); err != nil {
		return nil, err
	}
	return c, nil
}

// HandleMessage routes an inbound signaling message.
func (m *Manager) HandleMessage(from signaling.PeerID, msg *signaling.Message) error {
	if msg == nil {
		return errors.New("signaling message is nil")
	}

	logrus.WithFields(logrus.Fields{
		"function": "HandleMessage",
		"from":     from,
		"type":     msg.Type.String(),
		"call_id":  msg.CallID.String(),
	}).Debug("Routing signaling message")

	if msg.Type == signaling.MessageOffer {
		return m.handleOffer(from, msg)
	}

	c, ok := m.Get(msg.CallID)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "HandleMessage",
			"from":     from,
			"type":     msg.Type.String(),
			"call_id":  msg.CallID.String(),
		}).Debug("Message for unknown call")
		return fmt.Errorf("%w: %s", ErrCallNotFound, msg.CallID)
	}
	if c.remote != from {
		logrus.WithFields(logrus.Fields{
			"function": "HandleMessage",
			"from":     from,
			"expected": c.remote,
			"call_id":  msg.CallID.String(),
		}).Warn("Dropping message from unexpected sender")
		return ErrUnexpectedSender
	}

	switch msg.Type {
	case signaling.MessageAnswer:
		return c.post("handleAnswer", func() { c.handleAnswer(msg) })
	case signaling.MessageICECandidates:
		return c.post("handleCandidates", func() { c.handleCandidates(msg) })
	case signaling.MessageHangup:
		return c.post("handleHangup", func() { c.handleHangup(msg) })
	case signaling.MessageBusy:
		return c.post("handleBusy", c.handleBusy)
	default:
		return fmt.Errorf("%w: %d", signaling.ErrUnknownMessageType, msg.Type)
	}
}

// handleOffer creates the incoming call and decides glare and busy.
func (m *Manager) handleOffer(from signaling.PeerID, msg *signaling.Message) error {
	m.mu.Lock()
	if _, dup := m.calls[msg.CallID]; dup {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "handleOffer",
			"call_id":  msg.CallID.String(),
		}).Debug("Ignoring duplicate offer")
		return nil
	}

	var colliding, busyWith *Call
	for _, c := range m.calls {
		state := c.State()
		if state == StateEnded {
			continue
		}
		// An outgoing attempt still in Idle is sending its offer.
		if c.kind == KindDirect && c.direction == Outgoing && c.remote == from &&
			(state == StateIdle || state == StateRinging || state == StateAccepted) {
			colliding = c
			continue
		}
		busyWith = c
	}

	incoming := newCall(msg.CallID, Incoming, KindDirect, from, msg.Media, m.env)
	m.calls[incoming.id] = incoming
	m.mu.Unlock()

	switch {
	case colliding != nil && glareIncomingWins(incoming.id, colliding.id, from, m.env.cfg.LocalPeer):
		logrus.WithFields(logrus.Fields{
			"function":         "handleOffer",
			"incoming_call_id": incoming.id.String(),
			"outgoing_call_id": colliding.id.String(),
		}).Info("Glare: incoming call wins")
		_ = colliding.post("loseGlare", colliding.loseGlare)
		if busyWith != nil {
			return incoming.post("rejectBusy", incoming.rejectBusy)
		}
		return incoming.post("startIncoming", func() { incoming.startIncoming(msg) })

	case colliding != nil:
		logrus.WithFields(logrus.Fields{
			"function":         "handleOffer",
			"incoming_call_id": incoming.id.String(),
			"outgoing_call_id": colliding.id.String(),
		}).Info("Glare: outgoing call wins")
		return incoming.post("loseGlare", func() {
			incoming.end(EndReasonGlareLost, signaling.HangupNormal, false)
		})

	case busyWith != nil:
		logrus.WithFields(logrus.Fields{
			"function":       "handleOffer",
			"call_id":        incoming.id.String(),
			"active_call_id": busyWith.id.String(),
		}).Info("Busy: rejecting incoming call")
		return incoming.post("rejectBusy", incoming.rejectBusy)

	default:
		return incoming.post("startIncoming", func() { incoming.startIncoming(msg) })
	}
}
