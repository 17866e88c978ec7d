package call

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callcore/connection"
	"github.com/opd-ai/callcore/groupcall"
	"github.com/opd-ai/callcore/signaling"
)

// GroupDeps are the collaborators of a group call. The observer receives
// every group event; lifecycle events are also mapped onto the call.
type GroupDeps struct {
	SFU      groupcall.SFUClient
	Media    groupcall.MediaEngine
	Resolver groupcall.MemberResolver
	Observer groupcall.Observer

	// Go runs SFU requests. Nil starts a goroutine per request.
	Go func(func())
}

// groupBridge maps the group client's lifecycle onto the call and forwards
// everything to the application's group observer.
type groupBridge struct {
	groupcall.Observer
	call *Call
}

func (b *groupBridge) OnStateChanged(gc *groupcall.Client, from, to groupcall.State) {
	b.Observer.OnStateChanged(gc, from, to)
	b.call.onGroupState(to)
}

func (b *groupBridge) OnEnded(gc *groupcall.Client, reason groupcall.EndReason) {
	b.Observer.OnEnded(gc, reason)
	b.call.onGroupEnded(reason)
}

// onGroupState maps Joining to Ringing, Joined to Accepted and Connected to
// Connected. Disrupted keeps the call Connected and is reported as a
// reconnecting connection. The ring timer bounds Joining: a call that is not
// joined in time ends with EndReasonTimeoutNoAnswer and leaves the group.
func (c *Call) onGroupState(to groupcall.State) {
	id := connection.ID{CallID: c.id}
	switch to {
	case groupcall.StateJoining:
		if c.state == StateIdle {
			c.ring()
		}
	case groupcall.StateJoined:
		if c.state == StateRinging {
			c.setState(StateAccepted)
		}
	case groupcall.StateConnected:
		c.env.observer.OnConnectionStateChanged(c, id, connection.StateConnected)
		if c.state == StateAccepted {
			c.setState(StateConnected)
		}
	case groupcall.StateDisrupted:
		c.env.observer.OnConnectionStateChanged(c, id, connection.StateReconnecting)
	}
}

func (c *Call) onGroupEnded(reason groupcall.EndReason) {
	if c.state == StateEnded {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "onGroupEnded",
		"call_id":  c.id.String(),
		"reason":   reason.String(),
	}).Debug("Group call client ended")

	if reason == groupcall.EndReasonLeft {
		c.end(EndReasonLocalHangup, signaling.HangupNormal, false)
		return
	}
	c.end(EndReasonConnectionFailure, signaling.HangupNormal, false)
}

func (c *Call) startGroup() {
	if err := c.group.Join(); err != nil {
		c.failStart("startGroup", err)
	}
}
