package call

import "fmt"

// State is the application-facing lifecycle of a call. Direct and group
// calls share it.
type State uint8

const (
	StateIdle State = iota
	StateRinging
	StateAccepted
	StateConnected
	StateEnded
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRinging:
		return "Ringing"
	case StateAccepted:
		return "Accepted"
	case StateConnected:
		return "Connected"
	case StateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Direction tells who placed the call.
type Direction uint8

const (
	Outgoing Direction = iota
	Incoming
)

// String returns a human-readable representation of the direction.
func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Kind distinguishes one-to-one calls from SFU group calls.
type Kind uint8

const (
	KindDirect Kind = iota
	KindGroup
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	if k == KindGroup {
		return "group"
	}
	return "direct"
}

// EndReason tells why a call ended.
type EndReason uint8

const (
	EndReasonNone EndReason = iota
	EndReasonRemoteHangup
	EndReasonLocalHangup
	EndReasonTimeoutNoAnswer
	EndReasonGlareLost
	EndReasonConnectionFailure
	EndReasonDeclined
	EndReasonBusy
	// EndReasonAcceptedOnAnotherDevice means another of our devices
	// answered the incoming call.
	EndReasonAcceptedOnAnotherDevice
)

// String returns a human-readable representation of the reason.
func (r EndReason) String() string {
	switch r {
	case EndReasonNone:
		return "none"
	case EndReasonRemoteHangup:
		return "remote-hangup"
	case EndReasonLocalHangup:
		return "local-hangup"
	case EndReasonTimeoutNoAnswer:
		return "timeout-no-answer"
	case EndReasonGlareLost:
		return "glare-lost"
	case EndReasonConnectionFailure:
		return "connection-failure"
	case EndReasonDeclined:
		return "declined"
	case EndReasonBusy:
		return "busy"
	case EndReasonAcceptedOnAnotherDevice:
		return "accepted-on-another-device"
	default:
		return fmt.Sprintf("EndReason(%d)", uint8(r))
	}
}

// remote reports whether the remote side caused the end.
func (r EndReason) remote() bool {
	switch r {
	case EndReasonRemoteHangup, EndReasonDeclined, EndReasonBusy, EndReasonAcceptedOnAnotherDevice:
		return true
	default:
		return false
	}
}
