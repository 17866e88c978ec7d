// Package call implements the per-call orchestration state machine.
//
// A Call moves through Idle, Ringing, Accepted, Connected and Ended. Direct
// calls own exactly one connection.Connection and enter Connected once that
// connection does. Group calls own a groupcall.Client whose lifecycle is
// mapped onto the same states. Every call runs on its own actor: signaling,
// media callbacks and timer firings for one call never interleave.
//
// The Manager routes inbound signaling to calls and resolves glare: when an
// offer arrives from a peer we are already calling and neither attempt has
// connected, the attempt with the lower call id wins on both sides.
package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/actor"
	"github.com/opd-ai/callcore/clock"
	"github.com/opd-ai/callcore/connection"
	"github.com/opd-ai/callcore/groupcall"
	"github.com/opd-ai/callcore/signaling"
)

// env is what a call borrows from its manager.
type env struct {
	cfg       Config
	transport signaling.Transport
	media     connection.MediaFactory
	observer  Observer
	tp        clock.TimeProvider
	onEnded   func(*Call)
}

// Call is one call attempt.
type Call struct {
	id        signaling.CallID
	direction Direction
	kind      Kind
	remote    signaling.PeerID
	mediaType signaling.MediaType
	createdAt time.Time

	env   *env
	actor *actor.Actor

	mu     sync.RWMutex
	state  State
	reason EndReason

	// Owned by the actor.
	conn           *connection.Connection
	group          *groupcall.Client
	ringTimer      clock.Timer
	reconnectTimer clock.Timer
}

func newCall(id signaling.CallID, dir Direction, kind Kind, remote signaling.PeerID, media signaling.MediaType, e *env) *Call {
	c := &Call{
		id:        id,
		direction: dir,
		kind:      kind,
		remote:    remote,
		mediaType: media,
		createdAt: e.tp.Now(),
		env:       e,
		state:     StateIdle,
	}
	c.actor = actor.New(fmt.Sprintf("call-%s", id))

	logrus.WithFields(logrus.Fields{
		"function":  "newCall",
		"call_id":   id.String(),
		"direction": dir.String(),
		"kind":      kind.String(),
		"remote":    remote,
	}).Info("Call created")

	return c
}

// ID returns the call id.
func (c *Call) ID() signaling.CallID { return c.id }

// Direction returns who placed the call.
func (c *Call) Direction() Direction { return c.direction }

// Kind returns whether this is a direct or group call.
func (c *Call) Kind() Kind { return c.kind }

// Remote returns the remote peer, or the group id for group calls.
func (c *Call) Remote() signaling.PeerID { return c.remote }

// MediaType returns the media requested for the call.
func (c *Call) MediaType() signaling.MediaType { return c.mediaType }

// CreatedAt returns when the call attempt was created.
func (c *Call) CreatedAt() time.Time { return c.createdAt }

// State returns the current state.
func (c *Call) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// EndReason returns why the call ended, or EndReasonNone.
func (c *Call) EndReason() EndReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// Group returns the group client of a group call, or nil.
func (c *Call) Group() *groupcall.Client { return c.group }

// Synchronize waits until all work queued for the call so far has run.
func (c *Call) Synchronize() { c.actor.Synchronize() }

// Done is closed once the call's actor has stopped after the call ended.
func (c *Call) Done() <-chan struct{} { return c.actor.Done() }

// post queues task on the call's actor, dropping it once the call ended.
func (c *Call) post(op string, task func()) error {
	ok := c.actor.Send(func() {
		if c.state == StateEnded {
			logrus.WithFields(logrus.Fields{
				"function": op,
				"call_id":  c.id.String(),
			}).Debug("Dropping event for ended call")
			return
		}
		task()
	})
	if !ok {
		return ErrCallEnded
	}
	return nil
}

// after arms a one-shot timer in slot; the task only runs while slot still
// holds that timer.
func (c *Call) after(slot *clock.Timer, d time.Duration, op string, task func()) {
	stopTimer(slot)
	var t clock.Timer
	t = c.env.tp.AfterFunc(d, func() {
		_ = c.post(op, func() {
			if *slot != t {
				return
			}
			*slot = nil
			task()
		})
	})
	*slot = t
}

func stopTimer(slot *clock.Timer) {
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
}

func (c *Call) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from == to {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "setState",
		"call_id":  c.id.String(),
		"from":     from.String(),
		"to":       to.String(),
	}).Debug("Call state changed")

	if from == StateRinging {
		stopTimer(&c.ringTimer)
	}
	c.env.observer.OnCallStateChanged(c, from, to)
}

func (c *Call) reject(op string) {
	logrus.WithFields(logrus.Fields{
		"function":  op,
		"call_id":   c.id.String(),
		"state":     c.state.String(),
		"direction": c.direction.String(),
		"error":     ErrInvalidTransition.Error(),
	}).Warn("Rejected call event")
}

func (c *Call) ring() {
	c.setState(StateRinging)
	c.after(&c.ringTimer, c.env.cfg.RingTimeout, "ringTimeout", func() {
		if c.state != StateRinging {
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "ringTimeout",
			"call_id":  c.id.String(),
		}).Info("Call was not answered in time")
		c.end(EndReasonTimeoutNoAnswer, signaling.HangupNormal, c.direction == Outgoing)
	})
}

// newConnection creates the call's media connection to device.
func (c *Call) newConnection(device signaling.DeviceID) (*connection.Connection, error) {
	events := &mediaEvents{call: c}
	media, err := c.env.media(c.mediaType, events)
	if err != nil {
		return nil, fmt.Errorf("failed to create media connection: %w", err)
	}
	conn, err := connection.New(connection.Config{
		CallID:               c.id,
		Remote:               c.remote,
		RemoteDevice:         device,
		LocalDevice:          c.env.cfg.LocalDevice,
		Media:                c.mediaType,
		MaxReconnectAttempts: c.env.cfg.MaxReconnectAttempts,
	}, media, c.env.transport, c)
	if err != nil {
		_ = media.Close()
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

// startOutgoing sends the offer and starts ringing.
func (c *Call) startOutgoing() {
	conn, err := c.newConnection(0)
	if err != nil {
		c.failStart("startOutgoing", err)
		return
	}
	if err := conn.SendOffer(); err != nil {
		c.failStart("startOutgoing", err)
		return
	}
	c.ring()
}

// startIncoming applies the remote offer and starts ringing.
func (c *Call) startIncoming(offer *signaling.Message) {
	conn, err := c.newConnection(offer.SenderDevice)
	if err != nil {
		c.failStart("startIncoming", err)
		return
	}
	if err := conn.ReceiveOffer(offer.Opaque); err != nil {
		c.failStart("startIncoming", err)
		return
	}
	c.ring()
}

func (c *Call) failStart(op string, err error) {
	logrus.WithFields(logrus.Fields{
		"function": op,
		"call_id":  c.id.String(),
		"error":    err.Error(),
	}).Error("Failed to start call")
	c.end(EndReasonConnectionFailure, signaling.HangupNormal, false)
}

// Accept answers a ringing incoming call.
func (c *Call) Accept() error {
	return c.post("Accept", func() {
		if c.direction != Incoming || c.state != StateRinging || c.conn == nil {
			c.reject("Accept")
			return
		}
		if err := c.conn.SendAnswer(); err != nil {
			return
		}
		c.setState(StateAccepted)
		c.promoteIfConnected()
	})
}

// Decline rejects a ringing incoming call.
func (c *Call) Decline() error {
	return c.post("Decline", func() {
		if c.direction != Incoming || c.state != StateRinging {
			c.reject("Decline")
			return
		}
		c.end(EndReasonDeclined, signaling.HangupDeclined, true)
	})
}

// Hangup ends the call locally.
func (c *Call) Hangup() error {
	return c.post("Hangup", func() {
		c.end(EndReasonLocalHangup, signaling.HangupNormal, true)
	})
}

func (c *Call) handleAnswer(msg *signaling.Message) {
	if c.direction != Outgoing || c.state != StateRinging || c.conn == nil {
		c.reject("handleAnswer")
		return
	}
	if err := c.conn.ReceiveAnswer(msg.Opaque); err != nil {
		return
	}
	c.setState(StateAccepted)
	c.promoteIfConnected()
}

func (c *Call) handleCandidates(msg *signaling.Message) {
	if c.conn == nil {
		c.reject("handleCandidates")
		return
	}
	_ = c.conn.ReceiveCandidates(msg.Candidates)
}

func (c *Call) handleHangup(msg *signaling.Message) {
	reason := EndReasonRemoteHangup
	switch msg.Hangup {
	case signaling.HangupDeclined, signaling.HangupNeedPermission:
		reason = EndReasonDeclined
	case signaling.HangupBusy:
		reason = EndReasonBusy
	case signaling.HangupAccepted:
		reason = EndReasonAcceptedOnAnotherDevice
	}
	c.end(reason, msg.Hangup, false)
}

func (c *Call) handleBusy() {
	if c.direction != Outgoing || c.state != StateRinging {
		c.reject("handleBusy")
		return
	}
	c.end(EndReasonBusy, signaling.HangupBusy, false)
}

// loseGlare ends an outgoing attempt beaten by an incoming one. Nothing is
// sent: the remote side reaches the same decision on its own.
func (c *Call) loseGlare() {
	if c.state == StateConnected {
		return
	}
	c.end(EndReasonGlareLost, signaling.HangupNormal, false)
}

// rejectBusy answers an offer that arrived while another call was active.
func (c *Call) rejectBusy() {
	msg := signaling.NewBusy(c.id)
	msg.SenderDevice = c.env.cfg.LocalDevice
	if err := c.env.transport.Send(c.remote, msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "rejectBusy",
			"call_id":  c.id.String(),
			"error":    err.Error(),
		}).Warn("Failed to send busy")
	}
	c.end(EndReasonBusy, signaling.HangupBusy, false)
}

// promoteIfConnected enters Connected when the connection got there first.
func (c *Call) promoteIfConnected() {
	if c.state == StateAccepted && c.conn != nil && c.conn.State() == connection.StateConnected {
		c.setState(StateConnected)
	}
}

// OnConnectionStateChanged implements connection.Listener.
func (c *Call) OnConnectionStateChanged(conn *connection.Connection, _, to connection.State) {
	c.env.observer.OnConnectionStateChanged(c, conn.ID(), to)

	switch to {
	case connection.StateConnected:
		stopTimer(&c.reconnectTimer)
		c.promoteIfConnected()
	case connection.StateReconnecting:
		if c.reconnectTimer == nil {
			c.after(&c.reconnectTimer, c.env.cfg.ReconnectTimeout, "reconnectTimeout", func() {
				_ = conn.ReconnectTimeout()
			})
		}
	case connection.StateEnded:
		if c.state == StateEnded {
			return
		}
		reason := EndReasonConnectionFailure
		switch conn.EndReason() {
		case connection.EndReasonRemoteHangup:
			reason = EndReasonRemoteHangup
		case connection.EndReasonLocalHangup:
			reason = EndReasonLocalHangup
		}
		c.end(reason, signaling.HangupNormal, false)
	}
}

// OnEventRejected implements connection.Listener.
func (c *Call) OnEventRejected(conn *connection.Connection, ev connection.Event, err error) {
	logrus.WithFields(logrus.Fields{
		"function":      "OnEventRejected",
		"call_id":       c.id.String(),
		"connection_id": conn.ID().String(),
		"event":         ev.String(),
		"error":         err.Error(),
	}).Debug("Connection rejected event")
}

// end moves the call to StateEnded. When notify is set the remote side is
// told with a hangup of the given type.
func (c *Call) end(reason EndReason, hangup signaling.HangupType, notify bool) {
	if c.state == StateEnded {
		return
	}
	stopTimer(&c.ringTimer)
	stopTimer(&c.reconnectTimer)

	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()
	c.setState(StateEnded)

	if c.conn != nil && c.conn.State() != connection.StateEnded {
		switch {
		case notify:
			_ = c.conn.Hangup(hangup)
		case reason.remote():
			_ = c.conn.RemoteHangup()
		case reason == EndReasonGlareLost:
			_ = c.conn.Fail(ErrGlareLost)
		default:
			_ = c.conn.Fail(fmt.Errorf("call ended: %s", reason))
		}
	}
	if c.group != nil && c.group.State() != groupcall.StateEnded {
		_ = c.group.Leave()
	}

	logrus.WithFields(logrus.Fields{
		"function": "end",
		"call_id":  c.id.String(),
		"reason":   reason.String(),
		"duration": c.env.tp.Since(c.createdAt).String(),
	}).Info("Call ended")

	c.env.observer.OnCallEnded(c, reason)
	c.env.onEnded(c)
	c.actor.Stop()
}

// mediaEvents forwards media engine callbacks onto the call's actor.
type mediaEvents struct {
	call *Call
}

func (m *mediaEvents) OnLocalCandidates(candidates [][]byte) {
	_ = m.call.post("OnLocalCandidates", func() {
		if m.call.conn != nil {
			_ = m.call.conn.SendLocalCandidates(candidates)
		}
	})
}

func (m *mediaEvents) OnIceStateChanged(state connection.IceState) {
	_ = m.call.post("OnIceStateChanged", func() {
		if m.call.conn != nil {
			_ = m.call.conn.HandleIceState(state)
		}
	})
}

func (m *mediaEvents) OnNetworkRouteChanged(route connection.NetworkRoute) {
	_ = m.call.post("OnNetworkRouteChanged", func() {
		if m.call.conn != nil {
			_ = m.call.conn.HandleRouteChanged(route)
		}
	})
}
