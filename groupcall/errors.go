package groupcall

import "errors"

// Lifecycle errors.
var (
	// ErrInvalidTransition indicates a request that is not legal in the
	// client's current state. The state is left unchanged.
	ErrInvalidTransition = errors.New("invalid group call state transition")

	// ErrClientEnded indicates the client has already ended.
	ErrClientEnded = errors.New("group call client has ended")

	// ErrGroupFull may be returned by an SFUClient when the session has
	// reached its device cap. The join is not retried.
	ErrGroupFull = errors.New("group call is full")
)

// Membership proof errors.
var (
	// ErrProofMalformed indicates a proof that does not parse.
	ErrProofMalformed = errors.New("malformed membership proof")

	// ErrProofGroupMismatch indicates a proof issued for another group.
	ErrProofGroupMismatch = errors.New("membership proof is for a different group")

	// ErrProofExpired indicates a proof older than the configured TTL.
	ErrProofExpired = errors.New("membership proof expired")
)

// Construction errors.
var (
	ErrNilSFU      = errors.New("SFU client cannot be nil")
	ErrNilMedia    = errors.New("media engine cannot be nil")
	ErrNilObserver = errors.New("observer cannot be nil")
	ErrNilResolver = errors.New("member resolver cannot be nil")

	// ErrEmptyGroupID indicates a Config without a group id.
	ErrEmptyGroupID = errors.New("group id cannot be empty")
)
