package keystore

import "github.com/cybersemics/treecrdt-sub002/cryptoprim"

// SealDocKeyBundle CBOR-encodes and seals a DocKeyBundle for docID.
func SealDocKeyBundle(wrapKey DeviceWrapKey, docID []byte, bundle DocKeyBundle) ([]byte, error) {
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return nil, err
	}
	plaintext, err := codec.Marshal(bundle)
	if err != nil {
		return nil, err
	}
	return Seal(wrapKey, BlobKindDocKeyBundle, docID, nil, plaintext)
}

// OpenDocKeyBundle reverses SealDocKeyBundle.
func OpenDocKeyBundle(wrapKey DeviceWrapKey, docID []byte, blob []byte) (DocKeyBundle, error) {
	var bundle DocKeyBundle
	plaintext, err := Open(wrapKey, BlobKindDocKeyBundle, docID, nil, blob)
	if err != nil {
		return bundle, err
	}
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return bundle, err
	}
	err = codec.Unmarshal(plaintext, &bundle)
	return bundle, err
}

// SealDocPayloadKey seals a single 32-byte doc payload key.
func SealDocPayloadKey(wrapKey DeviceWrapKey, docID []byte, key [cryptoprim.KeySize]byte) ([]byte, error) {
	return Seal(wrapKey, BlobKindDocPayloadKey, docID, nil, key[:])
}

// OpenDocPayloadKey reverses SealDocPayloadKey.
func OpenDocPayloadKey(wrapKey DeviceWrapKey, docID []byte, blob []byte) ([cryptoprim.KeySize]byte, error) {
	var key [cryptoprim.KeySize]byte
	pt, err := Open(wrapKey, BlobKindDocPayloadKey, docID, nil, blob)
	if err != nil {
		return key, err
	}
	if len(pt) != cryptoprim.KeySize {
		return key, ErrWrongKind
	}
	copy(key[:], pt)
	return key, nil
}

// SealIssuerKey seals an issuer's long-term private key material.
func SealIssuerKey(wrapKey DeviceWrapKey, docID []byte, issuerSecret []byte) ([]byte, error) {
	return Seal(wrapKey, BlobKindIssuerKey, docID, nil, issuerSecret)
}

// OpenIssuerKey reverses SealIssuerKey.
func OpenIssuerKey(wrapKey DeviceWrapKey, docID []byte, blob []byte) ([]byte, error) {
	return Open(wrapKey, BlobKindIssuerKey, docID, nil, blob)
}

// SealLocalIdentity seals a per-replica identity blob. replicaLabel binds
// the blob to the specific replica it belongs to, per §4.3's AAD rule for
// identity blobs.
func SealLocalIdentity(wrapKey DeviceWrapKey, docID, replicaLabel []byte, identity LocalIdentity) ([]byte, error) {
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return nil, err
	}
	plaintext, err := codec.Marshal(identity)
	if err != nil {
		return nil, err
	}
	return Seal(wrapKey, BlobKindLocalIdentity, docID, replicaLabel, plaintext)
}

// OpenLocalIdentity reverses SealLocalIdentity.
func OpenLocalIdentity(wrapKey DeviceWrapKey, docID, replicaLabel []byte, blob []byte) (LocalIdentity, error) {
	var identity LocalIdentity
	plaintext, err := Open(wrapKey, BlobKindLocalIdentity, docID, replicaLabel, blob)
	if err != nil {
		return identity, err
	}
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return identity, err
	}
	err = codec.Unmarshal(plaintext, &identity)
	return identity, err
}
