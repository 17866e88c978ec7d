package member

import "errors"

// Ciphertext errors.
var (
	// ErrCiphertextLength indicates a ciphertext of the wrong size.
	ErrCiphertextLength = errors.New("invalid ciphertext length")

	// ErrCiphertextVersion indicates an unknown ciphertext format version.
	ErrCiphertextVersion = errors.New("unsupported ciphertext version")

	// ErrDecryptionFailed indicates authentication of the ciphertext failed.
	ErrDecryptionFailed = errors.New("ciphertext authentication failed")

	// ErrInvalidRootKey indicates a root key that cannot be parsed.
	ErrInvalidRootKey = errors.New("invalid root key")
)
