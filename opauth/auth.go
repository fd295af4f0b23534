package opauth

import (
	"crypto/ed25519"
	"errors"

	"github.com/cybersemics/treecrdt-sub002/capability"
	"github.com/cybersemics/treecrdt-sub002/wire"
)

var (
	ErrNoAuthorizingToken = errors.New("opauth: no local token authorizes this op")
	ErrBadSignature       = errors.New("opauth: op signature verification failed")
	ErrMissingProofRef    = errors.New("opauth: op missing proof_ref")
	ErrUnknownProofRef    = errors.New("opauth: proof_ref does not match any candidate token")
)

// tokenAllows reports whether tok authorizes op for every required action,
// across every scope target (AND, per §4.6), combining tok's individual
// grants with OR.
func tokenAllows(r TreeReader, docID string, tok *capability.Token, op *wire.Operation) Disposition {
	grants := tok.Claims.GrantsForDoc(docID)
	required := op.RequiredActions()
	targets := op.ScopeTargets()

	var grantResults []Disposition
	for _, g := range grants {
		if !grantHasAllActions(g, required) {
			continue
		}
		var targetResults []Disposition
		for _, target := range targets {
			targetResults = append(targetResults, EvaluateScope(r, g.Res, target))
		}
		grantResults = append(grantResults, ANDDisposition(targetResults))
	}
	if len(grantResults) == 0 {
		return Deny
	}
	return ORDisposition(grantResults)
}

func grantHasAllActions(g capability.Grant, required []string) bool {
	have := make(map[string]bool, len(g.Actions))
	for _, a := range g.Actions {
		have[string(a)] = true
	}
	for _, req := range required {
		if !have[req] {
			return false
		}
	}
	return true
}

// Sign picks the first candidate token whose scope allows op (Disposition ==
// Allow), signs op's domain-separated preimage with priv, and attaches the
// token's token_id as proof_ref (§4.6).
func Sign(r TreeReader, docID string, op *wire.Operation, priv ed25519.PrivateKey, candidates []*capability.Token) (*wire.Auth, error) {
	preimage, err := wire.EncodeOpSigInput(op)
	if err != nil {
		return nil, err
	}
	for _, tok := range candidates {
		if tokenAllows(r, docID, tok, op) != Allow {
			continue
		}
		sig := ed25519.Sign(priv, preimage)
		tid := tok.ID()
		return &wire.Auth{Sig: sig, ProofRef: &tid}, nil
	}
	return nil, ErrNoAuthorizingToken
}

// VerifyResult is the outcome of verifying a signed op against a matched
// token: its tri-state disposition and the token that was checked.
type VerifyResult struct {
	Disposition Disposition
	Token       *capability.Token
}

// Verify checks a signed op's signature, resolves its proof_ref against
// candidates (the tokens on file for the op's author), checks
// expiry/revocation, and evaluates scope. Disposition Allow means accept;
// Unknown means the caller should park the op via the pending-ops store
// (C10); Deny means reject the whole batch (§4.6, §7).
func Verify(
	r TreeReader,
	docID string,
	sop *wire.SignedOperation,
	candidates []*capability.Token,
	revoked capability.IsRevoked,
	now int64,
) (VerifyResult, error) {
	op := &sop.Op
	preimage, err := wire.EncodeOpSigInput(op)
	if err != nil {
		return VerifyResult{}, err
	}
	authorPub := ed25519.PublicKey(op.Meta.ID.Replica[:])
	if !ed25519.Verify(authorPub, preimage, sop.Auth.Sig) {
		return VerifyResult{}, ErrBadSignature
	}
	if sop.Auth.ProofRef == nil {
		return VerifyResult{}, ErrMissingProofRef
	}

	var matched *capability.Token
	for _, tok := range candidates {
		if tok.ID() == *sop.Auth.ProofRef {
			matched = tok
			break
		}
	}
	if matched == nil {
		return VerifyResult{}, ErrUnknownProofRef
	}

	tid := matched.ID()
	if revoked(tid) {
		return VerifyResult{}, capability.ErrRevoked
	}
	if err := capability.CheckTimes(matched.Claims, now); err != nil {
		return VerifyResult{}, err
	}
	if err := capability.CheckAudience(matched.Claims, docID); err != nil {
		return VerifyResult{}, err
	}

	disp := tokenAllows(r, docID, matched, op)
	return VerifyResult{Disposition: disp, Token: matched}, nil
}
