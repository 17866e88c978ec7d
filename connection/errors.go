package connection

import "errors"

// Sentinel errors for connection operations.
var (
	// ErrInvalidTransition indicates an event that is not legal in the
	// connection's current state. The state is left unchanged.
	ErrInvalidTransition = errors.New("invalid connection state transition")

	// ErrNilMedia indicates a connection was created without a media handle.
	ErrNilMedia = errors.New("media connection cannot be nil")

	// ErrNilTransport indicates a connection was created without a transport.
	ErrNilTransport = errors.New("signaling transport cannot be nil")
)
