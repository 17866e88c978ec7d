package member

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// UserID is the fixed-length binary identity of a user.
type UserID = uuid.UUID

// RootKeySize is the length of a call-link root key.
const RootKeySize = 16

// UserIDSize is the length of a binary user id.
const UserIDSize = 16

// CiphertextVersion is the leading byte of every serialized ciphertext.
const CiphertextVersion byte = 0x01

// CiphertextSize is the serialized size of an encrypted UserID:
//
//	[VERSION(1)][NONCE(24)][SEALED_USER_ID(16)][TAG(16)]
const CiphertextSize = 1 + chacha20poly1305.NonceSizeX + UserIDSize + chacha20poly1305.Overhead

const (
	hkdfSalt          = "callcore-member-v1"
	hkdfInfoEncrypt   = "callcore-member-v1 encryption key"
	hkdfInfoSynthetic = "callcore-member-v1 nonce key"
)

// RootKey is the secret associated with a call link or group from which the
// member secret parameters are derived.
type RootKey [RootKeySize]byte

// GenerateRootKey returns a new random root key.
func GenerateRootKey() (RootKey, error) {
	var key RootKey
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return RootKey{}, fmt.Errorf("failed to generate root key: %w", err)
	}
	return key, nil
}

// ParseRootKey decodes a hex encoded root key.
func ParseRootKey(s string) (RootKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return RootKey{}, fmt.Errorf("%w: %v", ErrInvalidRootKey, err)
	}
	if len(raw) != RootKeySize {
		return RootKey{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidRootKey, len(raw), RootKeySize)
	}
	var key RootKey
	copy(key[:], raw)
	return key, nil
}

// String returns the hex form of the key.
func (k RootKey) String() string {
	return hex.EncodeToString(k[:])
}

// SecretParams are the session secret parameters derived from a RootKey.
//
// Encryption is deterministic: the nonce is an HMAC of the plaintext, so the
// same user always maps to the same ciphertext under one root key. The SFU can
// therefore hand out stable opaque ids, and decryption rejects any ciphertext
// whose nonce does not match its plaintext.
type SecretParams struct {
	encKey   [chacha20poly1305.KeySize]byte
	nonceKey [32]byte
}

// DeriveSecretParams derives the secret parameters for root with HKDF-SHA256.
func DeriveSecretParams(root RootKey) *SecretParams {
	p := &SecretParams{}
	readHKDF(root[:], hkdfInfoEncrypt, p.encKey[:])
	readHKDF(root[:], hkdfInfoSynthetic, p.nonceKey[:])
	return p
}

func readHKDF(secret []byte, info string, out []byte) {
	r := hkdf.New(sha256.New, secret, []byte(hkdfSalt), []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF-SHA256 can produce up to 8160 bytes; 32 never fails.
		panic(fmt.Sprintf("hkdf derivation failed: %v", err))
	}
}

func (p *SecretParams) syntheticNonce(id UserID) []byte {
	mac := hmac.New(sha256.New, p.nonceKey[:])
	mac.Write(id[:])
	return mac.Sum(nil)[:chacha20poly1305.NonceSizeX]
}

// EncryptUserID produces the serialized ciphertext of id.
func (p *SecretParams) EncryptUserID(id UserID) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(p.encKey[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := p.syntheticNonce(id)

	out := make([]byte, 0, CiphertextSize)
	out = append(out, CiphertextVersion)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, id[:], []byte{CiphertextVersion})
	return out, nil
}

// EncryptUserIDHex produces the textual (hex) opaque form of id.
func (p *SecretParams) EncryptUserIDHex(id UserID) (string, error) {
	ct, err := p.EncryptUserID(id)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ct), nil
}

// DecryptUserID parses and decrypts a serialized ciphertext.
func (p *SecretParams) DecryptUserID(ciphertext []byte) (UserID, error) {
	if len(ciphertext) != CiphertextSize {
		return UserID{}, fmt.Errorf("%w: got %d bytes, want %d", ErrCiphertextLength, len(ciphertext), CiphertextSize)
	}
	if ciphertext[0] != CiphertextVersion {
		return UserID{}, fmt.Errorf("%w: 0x%02x", ErrCiphertextVersion, ciphertext[0])
	}

	aead, err := chacha20poly1305.NewX(p.encKey[:])
	if err != nil {
		return UserID{}, fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := ciphertext[1 : 1+chacha20poly1305.NonceSizeX]
	sealed := ciphertext[1+chacha20poly1305.NonceSizeX:]

	plain, err := aead.Open(nil, nonce, sealed, ciphertext[:1])
	if err != nil {
		return UserID{}, ErrDecryptionFailed
	}

	var id UserID
	copy(id[:], plain)
	if !hmac.Equal(nonce, p.syntheticNonce(id)) {
		return UserID{}, ErrDecryptionFailed
	}
	return id, nil
}
