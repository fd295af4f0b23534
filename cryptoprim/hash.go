// Package cryptoprim gathers the low-level cryptographic primitives used
// throughout the engine: content hashing, Ed25519 signing, AES-256-GCM
// sealing and deterministic CBOR encoding options. Nothing here is
// domain-aware; higher packages (keystore, capability, opauth) build on it.
package cryptoprim

import (
	"crypto/rand"
	"crypto/sha512"

	"github.com/zeebo/blake3"
)

// BLAKE3 returns the full 32-byte BLAKE3 digest of the concatenation of parts,
// each domain-separated by the caller via a distinct leading tag (see the
// op-ref and token-id derivations in wire and capability).
func BLAKE3(parts ...[]byte) [32]byte {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// BLAKE3Sum128 returns the first 16 bytes of BLAKE3(parts...), used for
// OpRef and token_id, both of which are defined as truncated BLAKE3 digests.
func BLAKE3Sum128(parts ...[]byte) [16]byte {
	full := BLAKE3(parts...)
	var out [16]byte
	copy(out[:], full[:16])
	return out
}

// SHA512 returns the SHA-512 digest, used only where Ed25519 itself requires
// it internally (crypto/ed25519 hashes its own input with SHA-512; this
// helper exists for call sites, such as COSE external_aad binding, that need
// an explicit digest of their own).
func SHA512(parts ...[]byte) [64]byte {
	h := sha512.New()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [64]byte
	copy(out[:], h.Sum(nil))
	return out
}

// RandomBytes returns n cryptographically random bytes from the CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
