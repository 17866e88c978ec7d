package connection

import "fmt"

// State is the signaling/ICE lifecycle state of one connection.
type State uint8

const (
	// StateIdle is the initial state before any offer is sent or received.
	StateIdle State = iota
	// StateNegotiating covers the offer/answer exchange.
	StateNegotiating
	// StateIceConnecting covers connectivity checks after negotiation.
	StateIceConnecting
	// StateConnected means media can flow.
	StateConnected
	// StateReconnecting means the network route was lost after connecting.
	StateReconnecting
	// StateEnded is terminal.
	StateEnded
)

// States lists every state in lifecycle order.
var States = []State{
	StateIdle,
	StateNegotiating,
	StateIceConnecting,
	StateConnected,
	StateReconnecting,
	StateEnded,
}

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateNegotiating:
		return "Negotiating"
	case StateIceConnecting:
		return "IceConnecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	case StateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Event is an input to the connection state machine.
type Event uint8

const (
	EventSendOffer Event = iota
	EventReceivedOffer
	EventSendAnswer
	EventReceivedAnswer
	EventLocalICE
	EventReceivedICE
	EventIceConnected
	EventIceDisconnected
	EventIceFailed
	EventRouteChanged
	EventReconnectTimeout
	EventHangup
	EventRemoteHangup
	EventError
)

// Events lists every event.
var Events = []Event{
	EventSendOffer,
	EventReceivedOffer,
	EventSendAnswer,
	EventReceivedAnswer,
	EventLocalICE,
	EventReceivedICE,
	EventIceConnected,
	EventIceDisconnected,
	EventIceFailed,
	EventRouteChanged,
	EventReconnectTimeout,
	EventHangup,
	EventRemoteHangup,
	EventError,
}

// String returns a human-readable representation of the event.
func (e Event) String() string {
	switch e {
	case EventSendOffer:
		return "SendOffer"
	case EventReceivedOffer:
		return "ReceivedOffer"
	case EventSendAnswer:
		return "SendAnswer"
	case EventReceivedAnswer:
		return "ReceivedAnswer"
	case EventLocalICE:
		return "LocalICE"
	case EventReceivedICE:
		return "ReceivedICE"
	case EventIceConnected:
		return "IceConnected"
	case EventIceDisconnected:
		return "IceDisconnected"
	case EventIceFailed:
		return "IceFailed"
	case EventRouteChanged:
		return "RouteChanged"
	case EventReconnectTimeout:
		return "ReconnectTimeout"
	case EventHangup:
		return "Hangup"
	case EventRemoteHangup:
		return "RemoteHangup"
	case EventError:
		return "Error"
	default:
		return fmt.Sprintf("Event(%d)", uint8(e))
	}
}

// EndReason records why a connection reached StateEnded.
type EndReason uint8

const (
	EndReasonNone EndReason = iota
	EndReasonLocalHangup
	EndReasonRemoteHangup
	EndReasonIceFailed
	EndReasonReconnectTimeout
	EndReasonReconnectExhausted
	EndReasonError
)

// String returns a human-readable representation of the reason.
func (r EndReason) String() string {
	switch r {
	case EndReasonNone:
		return "none"
	case EndReasonLocalHangup:
		return "local-hangup"
	case EndReasonRemoteHangup:
		return "remote-hangup"
	case EndReasonIceFailed:
		return "ice-failed"
	case EndReasonReconnectTimeout:
		return "reconnect-timeout"
	case EndReasonReconnectExhausted:
		return "reconnect-exhausted"
	case EndReasonError:
		return "error"
	default:
		return fmt.Sprintf("EndReason(%d)", uint8(r))
	}
}

// Failed reports whether the reason is a failure rather than a hangup.
func (r EndReason) Failed() bool {
	switch r {
	case EndReasonIceFailed, EndReasonReconnectTimeout, EndReasonReconnectExhausted, EndReasonError:
		return true
	default:
		return false
	}
}

// terminal events are legal in every state except StateEnded.
var terminal = map[Event]State{
	EventHangup:       StateEnded,
	EventRemoteHangup: StateEnded,
	EventError:        StateEnded,
}

// transitions is the legality table. An event missing from a state's row is
// rejected in that state. Rows for Reconnecting list the nominal target;
// exhausting the reconnect budget ends the connection instead.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventSendOffer:     StateNegotiating,
		EventReceivedOffer: StateNegotiating,
	},
	StateNegotiating: {
		EventSendAnswer:     StateIceConnecting,
		EventReceivedAnswer: StateIceConnecting,
		EventLocalICE:       StateNegotiating,
		EventReceivedICE:    StateNegotiating,
	},
	StateIceConnecting: {
		EventLocalICE:     StateIceConnecting,
		EventReceivedICE:  StateIceConnecting,
		EventRouteChanged: StateIceConnecting,
		EventIceConnected: StateConnected,
		EventIceFailed:    StateEnded,
	},
	StateConnected: {
		EventLocalICE:        StateConnected,
		EventReceivedICE:     StateConnected,
		EventRouteChanged:    StateConnected,
		EventIceConnected:    StateConnected,
		EventIceDisconnected: StateReconnecting,
		EventIceFailed:       StateReconnecting,
	},
	StateReconnecting: {
		EventLocalICE:         StateReconnecting,
		EventReceivedICE:      StateReconnecting,
		EventRouteChanged:     StateReconnecting,
		EventIceConnected:     StateConnected,
		EventIceDisconnected:  StateReconnecting,
		EventIceFailed:        StateReconnecting,
		EventReconnectTimeout: StateEnded,
	},
	StateEnded: {},
}

// Next returns the state the table assigns to ev in s, and false if ev is
// not legal in s. Role checks (only the offerer may receive an answer) are
// applied by Connection.Legal on top of this table.
func Next(s State, ev Event) (State, bool) {
	if s == StateEnded {
		return s, false
	}
	if next, ok := terminal[ev]; ok {
		return next, true
	}
	next, ok := transitions[s][ev]
	return next, ok
}

// IceState is the ICE connection state reported by the media engine.
type IceState uint8

const (
	IceNew IceState = iota
	IceChecking
	IceConnected
	IceCompleted
	IceDisconnected
	IceFailed
	IceClosed
)

// String returns a human-readable representation of the ICE state.
func (s IceState) String() string {
	switch s {
	case IceNew:
		return "new"
	case IceChecking:
		return "checking"
	case IceConnected:
		return "connected"
	case IceCompleted:
		return "completed"
	case IceDisconnected:
		return "disconnected"
	case IceFailed:
		return "failed"
	case IceClosed:
		return "closed"
	default:
		return fmt.Sprintf("IceState(%d)", uint8(s))
	}
}

// event maps an ICE state to a state machine event. States that carry no
// lifecycle meaning return false.
func (s IceState) event() (Event, bool) {
	switch s {
	case IceConnected, IceCompleted:
		return EventIceConnected, true
	case IceDisconnected:
		return EventIceDisconnected, true
	case IceFailed:
		return EventIceFailed, true
	default:
		return 0, false
	}
}
