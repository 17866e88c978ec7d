// Package groupcall implements the client side of a group call hosted on a
// selective forwarding unit (SFU).
//
// A Client joins a session with a membership proof, peeks the SFU
// periodically and on demand, reconciles the roster of remote devices,
// resolves their opaque identities and fans media events out to an Observer.
// All state changes run on an actor; the exported methods only queue work and
// are safe for concurrent use.
package groupcall

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/actor"
	"github.com/opd-ai/callcore/clock"
	"github.com/opd-ai/callcore/connection"
	"github.com/opd-ai/callcore/member"
)

var clientIDs atomic.Uint32

// Deps are the collaborators of a Client.
type Deps struct {
	SFU      SFUClient
	Media    MediaEngine
	Resolver MemberResolver
	Observer Observer

	// Actor serializes the client's work. A call that owns the client
	// passes its own actor; when nil the client starts and owns one.
	Actor *actor.Actor

	// TimeProvider drives peek, join-retry and reconnect timers.
	TimeProvider clock.TimeProvider

	// Go runs blocking SFU requests. Defaults to a new goroutine.
	Go func(func())
}

// Client is one group call session.
type Client struct {
	id       ClientID
	cfg      Config
	sfu      SFUClient
	media    MediaEngine
	resolver MemberResolver
	observer Observer

	actor     *actor.Actor
	ownsActor bool
	tp        clock.TimeProvider
	goFn      func(func())

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the fields read by accessors off the actor. They are only
	// written on the actor.
	mu        sync.RWMutex
	state     State
	devices   []RemoteDeviceState
	era       EraID
	endReason EndReason
	session   *Session

	// Owned by the actor.
	proof             *MembershipProof
	joinDeferred      bool
	joinAttempts      int
	lastPeek          *PeekInfo
	lastPeekState     *PeekState
	peekInFlight      bool
	peekQueued        bool
	peekTimer         clock.Timer
	joinTimer         clock.Timer
	reconnectTimer    clock.Timer
	reconnectAttempts int

	// Peek identities outside the remote roster, resolved again only when
	// the opaque id changes or was unresolvable.
	creatorID     resolvedID
	localMemberID resolvedID
}

type resolvedID struct {
	opaque string
	id     member.UserID
	ok     bool
}

func (r *resolvedID) resolve(resolver MemberResolver, opaque string) (member.UserID, bool) {
	if r.opaque != opaque || !r.ok {
		r.opaque = opaque
		r.id, r.ok = resolver.Resolve(opaque)
	}
	return r.id, r.ok
}

// New creates a client in StateNotJoined. Nothing is sent until Join or
// Peek is called.
func New(cfg Config, deps Deps) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.SFU == nil:
		return nil, ErrNilSFU
	case deps.Media == nil:
		return nil, ErrNilMedia
	case deps.Resolver == nil:
		return nil, ErrNilResolver
	case deps.Observer == nil:
		return nil, ErrNilObserver
	}

	c := &Client{
		id:       ClientID(clientIDs.Add(1)),
		cfg:      cfg,
		sfu:      deps.SFU,
		media:    deps.Media,
		resolver: deps.Resolver,
		observer: deps.Observer,
		actor:    deps.Actor,
		tp:       clock.Or(deps.TimeProvider),
		goFn:     deps.Go,
		state:    StateNotJoined,
	}
	if c.actor == nil {
		c.actor = actor.New(fmt.Sprintf("groupcall-%d", c.id))
		c.ownsActor = true
	}
	if c.goFn == nil {
		c.goFn = func(f func()) { go f() }
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"client_id": c.id,
		"group_id":  fmt.Sprintf("%x", string(cfg.GroupID)),
	}).Info("Group call client created")

	return c, nil
}

// ID returns the client id.
func (c *Client) ID() ClientID { return c.id }

// GroupID returns the group this client serves.
func (c *Client) GroupID() GroupID { return c.cfg.GroupID }

// State returns the current state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// EndReason returns why the client ended. It is only meaningful in
// StateEnded.
func (c *Client) EndReason() EndReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endReason
}

// EraID returns the era of the last applied peek.
func (c *Client) EraID() EraID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.era
}

// LocalDemuxID returns the demux id the SFU assigned on join.
func (c *Client) LocalDemuxID() (DemuxID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return 0, false
	}
	return c.session.LocalDemuxID, true
}

// RemoteDevices returns a copy of the current roster.
func (c *Client) RemoteDevices() []RemoteDeviceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyDevices(c.devices)
}

// Synchronize waits until all work queued so far has run.
func (c *Client) Synchronize() {
	c.actor.Synchronize()
}

// post queues task on the actor. Tasks that arrive after the client ended
// are dropped.
func (c *Client) post(op string, task func()) error {
	ok := c.actor.Send(func() {
		if c.state == StateEnded {
			logrus.WithFields(logrus.Fields{
				"function":  op,
				"client_id": c.id,
			}).Debug("Dropping work for ended group call")
			return
		}
		task()
	})
	if !ok {
		return ErrClientEnded
	}
	return nil
}

// after arms a one-shot timer in slot. The task runs on the actor only while
// the timer is still the one held by slot.
func (c *Client) after(slot *clock.Timer, d time.Duration, op string, task func()) {
	stopTimer(slot)
	var t clock.Timer
	t = c.tp.AfterFunc(d, func() {
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

func (c *Client) setState(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from == to {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":  "setState",
		"client_id": c.id,
		"from":      from.String(),
		"to":        to.String(),
	}).Debug("Group call state changed")

	c.observer.OnStateChanged(c, from, to)
}

func (c *Client) reject(op string) {
	logrus.WithFields(logrus.Fields{
		"function":  op,
		"client_id": c.id,
		"state":     c.state.String(),
		"error":     ErrInvalidTransition.Error(),
	}).Warn("Rejected group call request")
}

// Join starts joining the session. If no usable membership proof is held,
// the observer is asked for one and the join waits for SetMembershipProof.
func (c *Client) Join() error {
	return c.post("Join", c.join)
}

func (c *Client) join() {
	if c.state != StateNotJoined {
		c.reject("Join")
		return
	}
	if c.lastPeek != nil && c.lastPeek.Full() {
		logrus.WithFields(logrus.Fields{
			"function":    "Join",
			"client_id":   c.id,
			"max_devices": c.lastPeek.MaxDevices,
		}).Warn("Group call is full")
		c.end(EndReasonHasMaxDevices)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Join",
		"client_id": c.id,
	}).Info("Joining group call")

	c.setState(StateJoining)
	c.joinAttempts = 0
	if !c.proofUsable() {
		c.joinDeferred = true
		c.observer.RequestMembershipProof(c)
		return
	}
	c.sendJoin()
}

// proofUsable reports whether the held proof is valid now. An expired proof
// is discarded.
func (c *Client) proofUsable() bool {
	if c.proof == nil {
		return false
	}
	if err := c.proof.Validate(c.cfg.GroupID, c.tp.Now(), c.cfg.MembershipProofTTL); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "proofUsable",
			"client_id": c.id,
			"error":     err.Error(),
		}).Warn("Discarding membership proof")
		c.proof = nil
		return false
	}
	return true
}

// SetMembershipProof supplies the credential used to join. A join waiting
// for a proof proceeds once a valid one arrives.
func (c *Client) SetMembershipProof(raw []byte) error {
	proof, err := ParseMembershipProof(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "SetMembershipProof",
			"client_id": c.id,
			"error":     err.Error(),
		}).Warn("Invalid membership proof")
		return err
	}
	return c.post("SetMembershipProof", func() {
		c.proof = proof
		if !c.proofUsable() {
			if c.joinDeferred {
				c.observer.RequestMembershipProof(c)
			}
			return
		}
		if c.joinDeferred && c.state == StateJoining {
			c.joinDeferred = false
			c.sendJoin()
		}
	})
}

func (c *Client) sendJoin() {
	c.joinAttempts++
	attempt := c.joinAttempts
	req := JoinRequest{
		GroupID:         c.cfg.GroupID,
		MembershipProof: c.proof.Bytes(),
		Client:          c.cfg.Client,
	}

	logrus.WithFields(logrus.Fields{
		"function":  "sendJoin",
		"client_id": c.id,
		"attempt":   attempt,
	}).Debug("Sending join request")

	ctx := c.ctx
	c.goFn(func() {
		session, err := c.sfu.Join(ctx, req)
		_ = c.post("handleJoinResult", func() { c.handleJoinResult(attempt, session, err) })
	})
}

func (c *Client) handleJoinResult(attempt int, session *Session, err error) {
	if c.state != StateJoining || attempt != c.joinAttempts {
		logrus.WithFields(logrus.Fields{
			"function":  "handleJoinResult",
			"client_id": c.id,
			"attempt":   attempt,
		}).Debug("Dropping stale join response")
		return
	}

	if err == nil && session == nil {
		err = errors.New("SFU returned no session")
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "handleJoinResult",
			"client_id":    c.id,
			"attempt":      attempt,
			"max_attempts": c.cfg.MaxJoinAttempts,
			"error":        err.Error(),
		}).Warn("Join request failed")

		switch {
		case errors.Is(err, ErrGroupFull):
			c.end(EndReasonHasMaxDevices)
		case attempt >= c.cfg.MaxJoinAttempts:
			c.end(EndReasonJoinFailed)
		default:
			c.after(&c.joinTimer, c.cfg.joinRetryDelay(attempt+1), "retryJoin", c.sendJoin)
		}
		return
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "handleJoinResult",
		"client_id":      c.id,
		"local_demux_id": session.LocalDemuxID,
		"era_id":         session.EraID,
	}).Info("Joined group call")

	c.setState(StateJoined)
	if err := c.media.Connect(*session); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "handleJoinResult",
			"client_id": c.id,
			"error":     err.Error(),
		}).Error("Media engine failed to connect")
		c.end(EndReasonConnectionLost)
		return
	}
	c.peek()
}

// Leave leaves the session and ends the client. Pending timers are canceled
// and in-flight responses are discarded.
func (c *Client) Leave() error {
	return c.post("Leave", func() {
		logrus.WithFields(logrus.Fields{
			"function":  "Leave",
			"client_id": c.id,
		}).Info("Leaving group call")
		c.end(EndReasonLeft)
	})
}

func (c *Client) end(reason EndReason) {
	if c.state == StateEnded {
		return
	}
	stopTimer(&c.peekTimer)
	stopTimer(&c.joinTimer)
	stopTimer(&c.reconnectTimer)
	c.cancel()

	if c.session != nil {
		if err := c.media.Disconnect(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "end",
				"client_id": c.id,
				"error":     err.Error(),
			}).Warn("Media engine failed to disconnect")
		}
	}

	c.mu.Lock()
	c.endReason = reason
	c.mu.Unlock()
	c.setState(StateEnded)

	logrus.WithFields(logrus.Fields{
		"function":  "end",
		"client_id": c.id,
		"reason":    reason.String(),
	}).Info("Group call ended")

	c.observer.OnEnded(c, reason)
	if c.ownsActor {
		c.actor.Stop()
	}
}

// Peek asks the SFU for the session state now. Afterwards peeks repeat every
// PeekInterval until the client ends.
func (c *Client) Peek() error {
	return c.post("Peek", c.peek)
}

func (c *Client) peek() {
	if c.peekInFlight {
		c.peekQueued = true
		return
	}
	c.peekInFlight = true
	stopTimer(&c.peekTimer)

	ctx := c.ctx
	group := c.cfg.GroupID
	c.goFn(func() {
		info, err := c.sfu.Peek(ctx, group)
		_ = c.post("handlePeekResult", func() { c.handlePeekResult(info, err) })
	})
}

func (c *Client) handlePeekResult(info *PeekInfo, err error) {
	c.peekInFlight = false
	if err == nil && info == nil {
		err = errors.New("SFU returned no peek info")
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "handlePeekResult",
			"client_id": c.id,
			"error":     err.Error(),
		}).Warn("Peek failed, retrying on next interval")
		c.observer.OnPeekFailed(c, err)
	} else {
		c.applyPeek(info)
	}

	if c.state == StateEnded {
		return
	}
	if c.peekQueued {
		c.peekQueued = false
		c.peek()
		return
	}
	c.after(&c.peekTimer, c.cfg.PeekInterval, "peek", c.peek)
}

func (c *Client) applyPeek(info *PeekInfo) {
	remote := info.Devices
	if local, ok := c.localDemux(); ok {
		remote = slices.DeleteFunc(slices.Clone(remote), func(d PeekDevice) bool {
			return d.DemuxID == local
		})
	}

	next, change := reconcile(c.era, info.EraID, c.devices, remote, c.resolver, c.tp.Now())
	c.mu.Lock()
	c.devices = next
	c.era = info.EraID
	c.mu.Unlock()
	c.lastPeek = info

	if !change.Empty() {
		logrus.WithFields(logrus.Fields{
			"function":    "applyPeek",
			"client_id":   c.id,
			"reasons":     change.Reasons.String(),
			"era_changed": change.EraChanged,
			"added":       len(change.Added),
			"removed":     len(change.Removed),
			"devices":     len(next),
		}).Debug("Remote devices changed")
		c.observer.OnRemoteDevicesChanged(c, change, copyDevices(next))
	}

	if n := unresolved(next); n > 0 {
		logrus.WithFields(logrus.Fields{
			"function":   "applyPeek",
			"client_id":  c.id,
			"unresolved": n,
		}).Debug("Some member identities are unresolved")
		c.observer.RequestGroupMembers(c)
	}

	state := c.peekState(info)
	if c.lastPeekState == nil || !state.equal(*c.lastPeekState) {
		c.lastPeekState = &state
		c.observer.OnPeekChanged(c, state)
	}
}

func (c *Client) localDemux() (DemuxID, bool) {
	if c.session == nil {
		return 0, false
	}
	return c.session.LocalDemuxID, true
}

// peekState summarizes a peek. Remote members come from the reconciled
// roster, so an unchanged roster costs no identity lookups.
func (c *Client) peekState(info *PeekInfo) PeekState {
	state := PeekState{
		EraID:              info.EraID,
		DeviceCount:        uint32(len(info.Devices)),
		PendingDeviceCount: info.PendingDeviceCount,
		MaxDevices:         info.MaxDevices,
	}
	if info.Creator != "" {
		state.Creator, state.CreatorResolved = c.creatorID.resolve(c.resolver, info.Creator)
	}

	roster := make(map[DemuxID]RemoteDeviceState, len(c.devices))
	for _, d := range c.devices {
		roster[d.DemuxID] = d
	}
	local, haveLocal := c.localDemux()
	for _, d := range info.Devices {
		var id member.UserID
		var ok bool
		if haveLocal && d.DemuxID == local {
			id, ok = c.localMemberID.resolve(c.resolver, d.OpaqueUserID)
		} else if r, found := roster[d.DemuxID]; found {
			id, ok = r.UserID, r.Resolved
		}
		if ok && !slices.Contains(state.JoinedMembers, id) {
			state.JoinedMembers = append(state.JoinedMembers, id)
		}
	}
	return state
}

func (p PeekState) equal(o PeekState) bool {
	return p.EraID == o.EraID &&
		p.Creator == o.Creator &&
		p.CreatorResolved == o.CreatorResolved &&
		p.DeviceCount == o.DeviceCount &&
		p.PendingDeviceCount == o.PendingDeviceCount &&
		p.MaxDevices == o.MaxDevices &&
		slices.Equal(p.JoinedMembers, o.JoinedMembers)
}

// HandleIceState feeds the media connection state into the lifecycle.
func (c *Client) HandleIceState(s connection.IceState) error {
	return c.post("HandleIceState", func() { c.handleIceState(s) })
}

func (c *Client) handleIceState(s connection.IceState) {
	up := s == connection.IceConnected || s == connection.IceCompleted
	down := s == connection.IceDisconnected || s == connection.IceFailed

	switch {
	case c.state == StateJoined && up:
		c.setState(StateConnected)
	case c.state == StateJoined && s == connection.IceFailed:
		c.end(EndReasonConnectionLost)
	case c.state == StateConnected && down:
		logrus.WithFields(logrus.Fields{
			"function":  "handleIceState",
			"client_id": c.id,
			"ice_state": s.String(),
		}).Warn("Group call media disrupted")
		c.reconnectAttempts = 0
		c.setState(StateDisrupted)
		c.reconnect()
	case c.state == StateDisrupted && up:
		stopTimer(&c.reconnectTimer)
		c.reconnectAttempts = 0
		c.setState(StateConnected)
	default:
		logrus.WithFields(logrus.Fields{
			"function":  "handleIceState",
			"client_id": c.id,
			"state":     c.state.String(),
			"ice_state": s.String(),
		}).Trace("ICE state does not affect group call state")
	}
}

func (c *Client) reconnect() {
	c.reconnectAttempts++
	if c.reconnectAttempts > c.cfg.MaxReconnectAttempts {
		logrus.WithFields(logrus.Fields{
			"function":  "reconnect",
			"client_id": c.id,
			"attempts":  c.reconnectAttempts - 1,
		}).Warn("Reconnect attempts exhausted")
		c.end(EndReasonConnectionLost)
		return
	}
	if err := c.media.Reconnect(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "reconnect",
			"client_id": c.id,
			"error":     err.Error(),
		}).Warn("Media engine reconnect failed")
	}
	c.after(&c.reconnectTimer, c.cfg.ReconnectTimeout, "reconnect", c.reconnect)
}

func copyDevices(devices []RemoteDeviceState) []RemoteDeviceState {
	out := make([]RemoteDeviceState, len(devices))
	copy(out, devices)
	for i := range out {
		if out[i].LastFrame != nil {
			frame := *out[i].LastFrame
			out[i].LastFrame = &frame
		}
	}
	return out
}

// Ensure *member.Resolver can be used directly.
var _ MemberResolver = (*member.Resolver)(nil)
