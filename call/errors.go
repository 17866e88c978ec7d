package call

import "errors"

// Call lookup and creation errors.
var (
	// ErrCallNotFound indicates no active call has the given id.
	ErrCallNotFound = errors.New("call not found")

	// ErrCallAlreadyActive indicates a call already exists with this peer.
	ErrCallAlreadyActive = errors.New("call already active with this peer")

	// ErrUnexpectedSender indicates a message for a call from another peer.
	ErrUnexpectedSender = errors.New("message sender does not match call peer")
)

// Call control errors.
var (
	// ErrInvalidTransition indicates a request that is not legal in the
	// call's current state. The state is left unchanged.
	ErrInvalidTransition = errors.New("invalid call state transition")

	// ErrCallEnded indicates the call has already ended.
	ErrCallEnded = errors.New("call has ended")

	// ErrGlareLost ends the connection of a call that lost a glare
	// tie-break.
	ErrGlareLost = errors.New("call lost glare resolution")
)

// Manager construction errors.
var (
	ErrNilTransport    = errors.New("signaling transport cannot be nil")
	ErrNilMediaFactory = errors.New("media factory cannot be nil")
	ErrNilObserver     = errors.New("observer cannot be nil")
)
