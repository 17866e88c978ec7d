package call

import "github.com/opd-ai/callcore/connection"

// Observer receives call lifecycle notifications. Methods run on the call's
// actor and must not block. OnCallEnded is delivered exactly once per call;
// the manager forgets the call when it returns.
type Observer interface {
	OnCallStateChanged(c *Call, from, to State)
	OnConnectionStateChanged(c *Call, id connection.ID, state connection.State)
	OnCallEnded(c *Call, reason EndReason)
}
