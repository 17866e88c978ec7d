// Package member resolves the opaque participant identifiers reported by the
// SFU into real user identities.
//
// Participants of a call-link or group call are listed by the SFU only as
// ciphertexts of their user ids. Every session derived from the same root key
// shares one Resolver; it decrypts identifiers with secret parameters derived
// once from that root key and remembers recent results in two small FIFO
// caches, one keyed by the hex text form and one keyed by raw ciphertext:
//
//	resolver := member.NewResolver(rootKey)
//	if userID, ok := resolver.Resolve(device.OpaqueUserID); ok {
//	    fmt.Println("device belongs to", userID)
//	}
//
// A failed decryption is not an error for the caller: the identity is simply
// not resolvable yet and nothing is cached.
package member
