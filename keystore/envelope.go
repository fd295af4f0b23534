// Package keystore implements device-local sealing of long-term secrets
// (§4.3): a device wrap key protects sealed blobs at rest, and a per-doc
// payload keyring with rotation protects application payloads. Nothing here
// is transported over the wire — sealed blobs and keyring state are local to
// a device.
package keystore

import (
	"errors"
	"fmt"

	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
)

// BlobKind identifies what a sealed blob holds. The kind's string form is
// folded into both the envelope tag and the AAD, so a blob sealed under one
// kind can never be opened as another.
type BlobKind string

const (
	BlobKindDocKeyBundle  BlobKind = "treecrdt/blob/doc-key-bundle/v1"
	BlobKindDocPayloadKey BlobKind = "treecrdt/blob/doc-payload-key/v1"
	BlobKindIssuerKey     BlobKind = "treecrdt/blob/issuer-key/v1"
	BlobKindLocalIdentity BlobKind = "treecrdt/blob/local-identity/v1"
)

// DeviceWrapKey is the single AES-256 key that protects every sealed blob
// held by a device.
type DeviceWrapKey [cryptoprim.KeySize]byte

// GenerateDeviceWrapKey creates a fresh random wrap key.
func GenerateDeviceWrapKey() (DeviceWrapKey, error) {
	var k DeviceWrapKey
	raw, err := cryptoprim.RandomBytes(cryptoprim.KeySize)
	if err != nil {
		return k, err
	}
	copy(k[:], raw)
	return k, nil
}

// sealedBlob is the CBOR envelope persisted for every sealed blob kind:
// {v:1, t:<tag>, alg:"A256GCM", nonce, ct}.
type sealedBlob struct {
	V     int    `cbor:"v"`
	T     string `cbor:"t"`
	Alg   string `cbor:"alg"`
	Nonce []byte `cbor:"nonce"`
	CT    []byte `cbor:"ct"`
}

const algA256GCM = "A256GCM"

var ErrWrongKind = errors.New("keystore: sealed blob kind or algorithm mismatch")

func blobAAD(kind BlobKind, docID []byte, replicaLabel []byte) []byte {
	aad := append([]byte{}, []byte(kind)...)
	aad = append(aad, docID...)
	if replicaLabel != nil {
		aad = append(aad, 0x00)
		aad = append(aad, replicaLabel...)
	}
	return aad
}

// Seal encrypts plaintext under the device wrap key, binding the result to
// (kind, docID) and, for per-replica identity blobs, to replicaLabel too.
// replicaLabel is nil for blob kinds that are not per-replica.
func Seal(wrapKey DeviceWrapKey, kind BlobKind, docID, replicaLabel, plaintext []byte) ([]byte, error) {
	aad := blobAAD(kind, docID, replicaLabel)
	nonce, ct, err := cryptoprim.SealAESGCM(wrapKey[:], aad, plaintext)
	if err != nil {
		return nil, fmt.Errorf("keystore: seal %s: %w", kind, err)
	}
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return nil, err
	}
	return codec.Marshal(sealedBlob{V: 1, T: string(kind), Alg: algA256GCM, Nonce: nonce, CT: ct})
}

// Open decrypts a blob previously produced by Seal. kind, docID and
// replicaLabel must match what was passed to Seal, or AEAD authentication
// fails.
func Open(wrapKey DeviceWrapKey, kind BlobKind, docID, replicaLabel, blob []byte) ([]byte, error) {
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return nil, err
	}
	var sb sealedBlob
	if err := codec.Unmarshal(blob, &sb); err != nil {
		return nil, fmt.Errorf("keystore: decode sealed blob: %w", err)
	}
	if sb.V != 1 || sb.T != string(kind) || sb.Alg != algA256GCM {
		return nil, ErrWrongKind
	}
	aad := blobAAD(kind, docID, replicaLabel)
	pt, err := cryptoprim.OpenAESGCM(wrapKey[:], sb.Nonce, aad, sb.CT)
	if err != nil {
		return nil, fmt.Errorf("keystore: open %s: %w", kind, err)
	}
	return pt, nil
}

// DocKeyBundle is the blob held for a document's issuer and replica
// identities: the issuer secret and this device's replica secret.
type DocKeyBundle struct {
	IssuerSecret  []byte `cbor:"issuer_secret"`
	ReplicaSecret []byte `cbor:"replica_secret"`
}

// LocalIdentity is the blob holding a replica's private key material plus
// whatever capability tokens are held locally for presenting at sync time.
type LocalIdentity struct {
	ReplicaSecret []byte   `cbor:"replica_secret"`
	Tokens        [][]byte `cbor:"tokens"`
}
