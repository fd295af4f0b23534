package keystore

import (
	"testing"

	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
	"github.com/cybersemics/treecrdt-sub002/internal/logging"
	"github.com/stretchr/testify/require"
)

func TestSealOpenBindsDocID(t *testing.T) {
	wrapKey, err := GenerateDeviceWrapKey()
	require.NoError(t, err)

	blob, err := SealIssuerKey(wrapKey, []byte("doc-1"), []byte("secret"))
	require.NoError(t, err)

	pt, err := OpenIssuerKey(wrapKey, []byte("doc-1"), blob)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), pt)

	_, err = OpenIssuerKey(wrapKey, []byte("doc-2"), blob)
	require.Error(t, err)
}

func TestSealLocalIdentityBindsReplicaLabel(t *testing.T) {
	wrapKey, err := GenerateDeviceWrapKey()
	require.NoError(t, err)

	identity := LocalIdentity{ReplicaSecret: []byte("rsecret"), Tokens: [][]byte{[]byte("tok1")}}
	blob, err := SealLocalIdentity(wrapKey, []byte("doc-1"), []byte("replica-a"), identity)
	require.NoError(t, err)

	got, err := OpenLocalIdentity(wrapKey, []byte("doc-1"), []byte("replica-a"), blob)
	require.NoError(t, err)
	require.Equal(t, identity, got)

	_, err = OpenLocalIdentity(wrapKey, []byte("doc-1"), []byte("replica-b"), blob)
	require.Error(t, err)
}

func TestDocPayloadKeyRoundTrip(t *testing.T) {
	wrapKey, err := GenerateDeviceWrapKey()
	require.NoError(t, err)

	var key [cryptoprim.KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	blob, err := SealDocPayloadKey(wrapKey, []byte("doc-1"), key)
	require.NoError(t, err)

	got, err := OpenDocPayloadKey(wrapKey, []byte("doc-1"), blob)
	require.NoError(t, err)
	require.Equal(t, key, got)
}

// TestPayloadKeyringRotation is scenario S5: rotate mid-session, old
// ciphertext still decrypts, and a ring missing the old kid reports
// key_missing rather than failing outright.
func TestPayloadKeyringRotation(t *testing.T) {
	var keyEpoch1, keyEpoch2 [cryptoprim.KeySize]byte
	copy(keyEpoch1[:], []byte("11111111111111111111111111111111"))
	copy(keyEpoch2[:], []byte("22222222222222222222222222222222"))

	kr, err := NewKeyring("epoch-1", keyEpoch1, logging.Nop())
	require.NoError(t, err)

	aad := []byte("doc-1/node-7")
	before, err := EncryptWithKeyring(kr, aad, []byte("before"))
	require.NoError(t, err)

	require.NoError(t, kr.Rotate("epoch-2", keyEpoch2))

	after, err := EncryptWithKeyring(kr, aad, []byte("after"))
	require.NoError(t, err)

	gotBefore, res, err := DecryptWithKeyring(kr, aad, before)
	require.NoError(t, err)
	require.Equal(t, "before", string(gotBefore))
	require.Equal(t, "epoch-1", res.KeyID)

	gotAfter, res, err := DecryptWithKeyring(kr, aad, after)
	require.NoError(t, err)
	require.Equal(t, "after", string(gotAfter))
	require.Equal(t, "epoch-2", res.KeyID)

	narrowRing, err := NewKeyring("epoch-2", keyEpoch2, logging.Nop())
	require.NoError(t, err)
	_, res, err = DecryptWithKeyring(narrowRing, aad, before)
	require.NoError(t, err)
	require.True(t, res.Encrypted)
	require.True(t, res.KeyMissing)
	require.Equal(t, "epoch-1", res.KeyID)
}

func TestMaybeDecryptPassesThroughPlaintext(t *testing.T) {
	var key [cryptoprim.KeySize]byte
	copy(key[:], []byte("33333333333333333333333333333333"))
	kr, err := NewKeyring("epoch-1", key, logging.Nop())
	require.NoError(t, err)

	plain := []byte("just a plain payload, not cbor")
	got, res, err := MaybeDecrypt(kr, []byte("aad"), plain)
	require.NoError(t, err)
	require.False(t, res.Encrypted)
	require.Equal(t, plain, got)
}

func TestInvalidKidRejected(t *testing.T) {
	var key [cryptoprim.KeySize]byte
	_, err := NewKeyring("bad kid with spaces", key, logging.Nop())
	require.ErrorIs(t, err, ErrInvalidKeyID)
}
