package member

import (
	"bytes"
	"encoding/hex"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Resolver maps opaque participant identifiers to user identities.
//
// It is safe for concurrent use and is meant to be shared by every session
// derived from the same root key.
type Resolver struct {
	params *SecretParams

	textCache  *fifoCache[string]
	bytesCache *fifoCache[[]byte]

	cacheHits    atomic.Uint64
	decryptCalls atomic.Uint64
}

// NewResolver creates a resolver for the sessions of root.
func NewResolver(root RootKey) *Resolver {
	logrus.WithFields(logrus.Fields{
		"function": "NewResolver",
	}).Debug("Deriving member secret params")

	return NewResolverWithParams(DeriveSecretParams(root))
}

// NewResolverWithParams creates a resolver from already derived parameters.
func NewResolverWithParams(params *SecretParams) *Resolver {
	return &Resolver{
		params: params,
		textCache: newFIFOCache("member.Resolver.textCache", func(a, b string) bool {
			return a == b
		}),
		bytesCache: newFIFOCache("member.Resolver.bytesCache", bytes.Equal),
	}
}

// Resolve maps a hex encoded opaque id to a user id. It returns false when
// the id is malformed or cannot be decrypted with this resolver's params.
func (r *Resolver) Resolve(opaqueUserID string) (UserID, bool) {
	if id, ok := r.textCache.lookup(opaqueUserID); ok {
		r.cacheHits.Add(1)
		return id, true
	}

	ciphertext, err := hex.DecodeString(opaqueUserID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Resolve",
			"length":   len(opaqueUserID),
			"error":    err.Error(),
		}).Debug("Opaque user id is not valid hex")
		return UserID{}, false
	}

	id, ok := r.ResolveBytes(ciphertext)
	if !ok {
		return UserID{}, false
	}
	r.textCache.insert(opaqueUserID, id)
	return id, true
}

// ResolveBytes maps a raw serialized ciphertext to a user id.
func (r *Resolver) ResolveBytes(ciphertext []byte) (UserID, bool) {
	if id, ok := r.bytesCache.lookup(ciphertext); ok {
		r.cacheHits.Add(1)
		return id, true
	}

	r.decryptCalls.Add(1)
	id, err := r.params.DecryptUserID(ciphertext)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ResolveBytes",
			"length":   len(ciphertext),
			"error":    err.Error(),
		}).Debug("Opaque user id not resolvable")
		return UserID{}, false
	}

	key := make([]byte, len(ciphertext))
	copy(key, ciphertext)
	r.bytesCache.insert(key, id)
	return id, true
}

// CacheHits returns how many lookups were served from a cache.
func (r *Resolver) CacheHits() uint64 {
	return r.cacheHits.Load()
}

// DecryptCalls returns how many lookups required a decryption attempt.
func (r *Resolver) DecryptCalls() uint64 {
	return r.decryptCalls.Load()
}

// CachedOpaqueIDs returns the textual ids currently cached, oldest first.
func (r *Resolver) CachedOpaqueIDs() []string {
	return r.textCache.keys()
}

// CacheLen returns the number of entries in the text and bytes caches.
func (r *Resolver) CacheLen() (text, raw int) {
	return r.textCache.len(), r.bytesCache.len()
}
