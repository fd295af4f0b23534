package capability

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
	"github.com/veraison/go-cose"
)

const (
	deviceCertTag  = "treecrdt/device-cert/v1"
	replicaCertTag = "treecrdt/replica-cert/v1"
)

// DeviceCertClaims binds an identity public key to a device public key.
type DeviceCertClaims struct {
	Tag       string `cbor:"t"`
	IdentityPub []byte `cbor:"identity_pub"`
	DevicePub []byte `cbor:"device_pub"`
}

// ReplicaCertClaims binds (doc_id, replica_pk), scoping the chain to a
// specific document.
type ReplicaCertClaims struct {
	Tag        string `cbor:"t"`
	DocID      []byte `cbor:"doc_id"`
	DevicePub  []byte `cbor:"device_pub"`
	ReplicaPub []byte `cbor:"replica_pub"`
}

func signCert(codec cryptoprim.Codec, claims any, signer cose.Signer) ([]byte, error) {
	payload, err := codec.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("capability: marshal cert claims: %w", err)
	}
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmEdDSA)
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("capability: sign cert: %w", err)
	}
	return msg.MarshalCBOR()
}

// IssueDeviceCert signs a device certificate with the identity key.
func IssueDeviceCert(codec cryptoprim.Codec, identityPub ed25519.PublicKey, devicePub ed25519.PublicKey, signer cose.Signer) ([]byte, error) {
	return signCert(codec, DeviceCertClaims{Tag: deviceCertTag, IdentityPub: identityPub, DevicePub: devicePub}, signer)
}

// IssueReplicaCert signs a replica certificate with the device key.
func IssueReplicaCert(codec cryptoprim.Codec, docID []byte, devicePub, replicaPub ed25519.PublicKey, signer cose.Signer) ([]byte, error) {
	return signCert(codec, ReplicaCertClaims{Tag: replicaCertTag, DocID: docID, DevicePub: devicePub, ReplicaPub: replicaPub}, signer)
}

// VerifyDeviceCert decodes and verifies a device cert against the issuing
// identity's public key.
func VerifyDeviceCert(codec cryptoprim.Codec, raw []byte, identityPub ed25519.PublicKey) (DeviceCertClaims, error) {
	var claims DeviceCertClaims
	msg := cose.NewSign1Message()
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return claims, fmt.Errorf("capability: decode device cert: %w", err)
	}
	verifier, err := cryptoprim.COSEVerifier(identityPub)
	if err != nil {
		return claims, err
	}
	if err := VerifySignature(msg, verifier); err != nil {
		return claims, err
	}
	if err := codec.Unmarshal(msg.Payload, &claims); err != nil {
		return claims, fmt.Errorf("capability: decode device cert claims: %w", err)
	}
	if claims.Tag != deviceCertTag {
		return claims, fmt.Errorf("capability: wrong cert tag %q", claims.Tag)
	}
	return claims, nil
}

// VerifyReplicaCert decodes and verifies a replica cert against the issuing
// device's public key.
func VerifyReplicaCert(codec cryptoprim.Codec, raw []byte, devicePub ed25519.PublicKey) (ReplicaCertClaims, error) {
	var claims ReplicaCertClaims
	msg := cose.NewSign1Message()
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return claims, fmt.Errorf("capability: decode replica cert: %w", err)
	}
	verifier, err := cryptoprim.COSEVerifier(devicePub)
	if err != nil {
		return claims, err
	}
	if err := VerifySignature(msg, verifier); err != nil {
		return claims, err
	}
	if err := codec.Unmarshal(msg.Payload, &claims); err != nil {
		return claims, fmt.Errorf("capability: decode replica cert claims: %w", err)
	}
	if claims.Tag != replicaCertTag {
		return claims, fmt.Errorf("capability: wrong cert tag %q", claims.Tag)
	}
	return claims, nil
}
