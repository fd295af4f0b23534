package capability

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
	"github.com/veraison/go-cose"
)

var (
	ErrExpired        = errors.New("capability: token expired")
	ErrNotYetValid    = errors.New("capability: token not yet valid")
	ErrRevoked        = errors.New("capability: token revoked")
	ErrAudienceMiss   = errors.New("capability: token audience does not include doc")
	ErrBadSignature   = errors.New("capability: signature verification failed")
	ErrUntrustedRoot  = errors.New("capability: chain root is not a trusted issuer")
	ErrMissingGrant   = errors.New("capability: delegator token lacks grant action")
	ErrScopeExceeded  = errors.New("capability: delegated scope exceeds proof scope")
	ErrChainTooDeep   = errors.New("capability: delegation chain exceeds max depth")
	ErrNoScopeEvaluator = errors.New("capability: delegation present but no scope evaluator supplied")
)

// MaxChainDepth bounds delegation walk length; §8 requires support for
// chains of depth >= 3, so this leaves generous headroom.
const MaxChainDepth = 16

// TokenIDTagV1 domain-separates token_id derivation from other BLAKE3 uses.
const tokenIDTag = "treecrdt/tokenid/v1"

// TokenID derives token_id = first 16B of BLAKE3("treecrdt/tokenid/v1" || cose_bytes).
func TokenID(coseBytes []byte) [16]byte {
	return cryptoprim.BLAKE3Sum128([]byte(tokenIDTag), coseBytes)
}

// Token is a parsed capability token: its raw COSE_Sign1 bytes and decoded
// claims.
type Token struct {
	Raw    []byte
	Claims Claims
}

// ID returns this token's token_id.
func (t *Token) ID() [16]byte { return TokenID(t.Raw) }

// IssueToken signs claims with signer and returns the encoded COSE_Sign1
// token.
func IssueToken(codec cryptoprim.Codec, claims Claims, signer cose.Signer) (*Token, error) {
	payload, err := codec.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("capability: marshal claims: %w", err)
	}
	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmEdDSA)
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, fmt.Errorf("capability: sign token: %w", err)
	}
	raw, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("capability: encode token: %w", err)
	}
	return &Token{Raw: raw, Claims: claims}, nil
}

// ParseToken decodes a COSE_Sign1 token without verifying its signature.
func ParseToken(codec cryptoprim.Codec, raw []byte) (*Token, *cose.Sign1Message, error) {
	msg := cose.NewSign1Message()
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return nil, nil, fmt.Errorf("capability: decode cose envelope: %w", err)
	}
	var claims Claims
	if err := codec.Unmarshal(msg.Payload, &claims); err != nil {
		return nil, nil, fmt.Errorf("capability: decode claims: %w", err)
	}
	return &Token{Raw: raw, Claims: claims}, msg, nil
}

// VerifySignature checks msg's COSE_Sign1 signature against verifier.
func VerifySignature(msg *cose.Sign1Message, verifier cose.Verifier) error {
	if err := msg.Verify(nil, verifier); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// CheckTimes enforces exp/nbf against now (unix seconds).
func CheckTimes(c Claims, now int64) error {
	if c.Exp != nil && now >= *c.Exp {
		return ErrExpired
	}
	if c.Nbf != nil && now < *c.Nbf {
		return ErrNotYetValid
	}
	return nil
}

// CheckAudience requires docID (as its canonical string form) to appear in
// the token's aud claim.
func CheckAudience(c Claims, docID string) error {
	for _, a := range c.Aud {
		if a == docID {
			return nil
		}
	}
	return ErrAudienceMiss
}
