package cryptoprim

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/veraison/go-cose"
)

// GenerateEd25519 creates a fresh Ed25519 key pair, used both for replica
// signing identities (§3 ReplicaID) and for device/identity keys (§4.4).
func GenerateEd25519() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoprim: generate ed25519 key: %w", err)
	}
	return pub, priv, nil
}

// COSESigner wraps an Ed25519 private key as a cose.Signer using alg=-8
// (EdDSA), the algorithm mandated by the spec for capability tokens and
// device/replica certificates. Mirrors the teacher's pattern of wrapping a
// stdlib key as an IdentifiableCoseSigner (massifs/identifiablecosesigner.go),
// generalized from ECDSA to Ed25519.
func COSESigner(priv ed25519.PrivateKey) (cose.Signer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmEdDSA, priv)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: new cose signer: %w", err)
	}
	return signer, nil
}

// COSEVerifier wraps an Ed25519 public key as a cose.Verifier using alg=-8.
func COSEVerifier(pub ed25519.PublicKey) (cose.Verifier, error) {
	verifier, err := cose.NewVerifier(cose.AlgorithmEdDSA, pub)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: new cose verifier: %w", err)
	}
	return verifier, nil
}
