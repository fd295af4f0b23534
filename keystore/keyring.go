package keystore

import (
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
	"github.com/cybersemics/treecrdt-sub002/internal/logging"
)

var kidPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

var ErrInvalidKeyID = errors.New("keystore: kid must match [A-Za-z0-9._:-]{1,128}")

// Keyring is a per-doc payload key ring: one active key used for new
// encryptions, plus historical keys retained so old ciphertexts keep
// decrypting across rotation (§4.3, scenario S5).
type Keyring struct {
	ActiveKid string
	Keys      map[string][cryptoprim.KeySize]byte

	log *logging.Logger
}

// NewKeyring builds a keyring with a single active key. log may be nil, in
// which case rotation events are discarded.
func NewKeyring(kid string, key [cryptoprim.KeySize]byte, log *logging.Logger) (*Keyring, error) {
	if !kidPattern.MatchString(kid) {
		return nil, ErrInvalidKeyID
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Keyring{
		ActiveKid: kid,
		Keys:      map[string][cryptoprim.KeySize]byte{kid: key},
		log:       log,
	}, nil
}

// Rotate adds a new key and marks it active. Old keys remain available for
// decrypting historical payloads.
func (kr *Keyring) Rotate(kid string, key [cryptoprim.KeySize]byte) error {
	if !kidPattern.MatchString(kid) {
		return ErrInvalidKeyID
	}
	previous := kr.ActiveKid
	kr.Keys[kid] = key
	kr.ActiveKid = kid
	kr.log.Info("keystore: rotated active payload key", zap.String("previous_kid", previous), zap.String("new_kid", kid))
	return nil
}

// payloadEnvelope is the self-describing encrypted-payload wire/storage
// shape: CBOR {v:1, t:"treecrdt/payload-encrypted/v1", alg:"A256GCM", nonce,
// ct, kid?}.
type payloadEnvelope struct {
	V     int    `cbor:"v"`
	T     string `cbor:"t"`
	Alg   string `cbor:"alg"`
	Nonce []byte `cbor:"nonce"`
	CT    []byte `cbor:"ct"`
	Kid   string `cbor:"kid,omitempty"`
}

const payloadEnvelopeTag = "treecrdt/payload-encrypted/v1"

// DecryptResult reports the outcome of DecryptWithKeyring / MaybeDecrypt when
// the ciphertext's key is not held locally.
type DecryptResult struct {
	Encrypted  bool
	KeyMissing bool
	KeyID      string
}

// EncryptWithKeyring seals plaintext under the keyring's active key, tagging
// the ciphertext with the active kid. aad binds the ciphertext to its
// context (typically the doc id and node id).
func EncryptWithKeyring(kr *Keyring, aad, plaintext []byte) ([]byte, error) {
	key, ok := kr.Keys[kr.ActiveKid]
	if !ok {
		return nil, fmt.Errorf("keystore: active kid %q not present in keyring", kr.ActiveKid)
	}
	nonce, ct, err := cryptoprim.SealAESGCM(key[:], aad, plaintext)
	if err != nil {
		return nil, err
	}
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return nil, err
	}
	return codec.Marshal(payloadEnvelope{
		V: 1, T: payloadEnvelopeTag, Alg: algA256GCM,
		Nonce: nonce, CT: ct, Kid: kr.ActiveKid,
	})
}

// DecryptWithKeyring looks up the ciphertext's kid in the keyring. If the
// key is absent it returns a DecryptResult with KeyMissing set instead of an
// error, so callers can surface "need key epoch X" rather than failing.
func DecryptWithKeyring(kr *Keyring, aad, envelope []byte) ([]byte, DecryptResult, error) {
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return nil, DecryptResult{}, err
	}
	var env payloadEnvelope
	if err := codec.Unmarshal(envelope, &env); err != nil {
		return nil, DecryptResult{}, fmt.Errorf("keystore: decode payload envelope: %w", err)
	}
	if env.V != 1 || env.T != payloadEnvelopeTag || env.Alg != algA256GCM {
		return nil, DecryptResult{}, ErrWrongKind
	}
	key, ok := kr.Keys[env.Kid]
	if !ok {
		return nil, DecryptResult{Encrypted: true, KeyMissing: true, KeyID: env.Kid}, nil
	}
	pt, err := cryptoprim.OpenAESGCM(key[:], env.Nonce, aad, env.CT)
	if err != nil {
		return nil, DecryptResult{}, fmt.Errorf("keystore: decrypt payload: %w", err)
	}
	return pt, DecryptResult{Encrypted: true, KeyID: env.Kid}, nil
}

// MaybeDecrypt detects the self-describing encrypted-payload envelope and is
// a no-op on plaintext, letting an application mix encrypted and plaintext
// payloads freely (§4.3).
func MaybeDecrypt(kr *Keyring, aad, raw []byte) ([]byte, DecryptResult, error) {
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return raw, DecryptResult{}, err
	}
	var env payloadEnvelope
	if err := codec.Unmarshal(raw, &env); err != nil || env.T != payloadEnvelopeTag {
		return raw, DecryptResult{}, nil
	}
	return DecryptWithKeyring(kr, aad, raw)
}
