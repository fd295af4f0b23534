package capability

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
)

// IsRevoked reports whether a token_id is in the caller's revocation set.
type IsRevoked func(tokenID [16]byte) bool

// ScopeContainer checks that a delegated grant's scope is within its proof
// grant's scope, walking the materialized tree (§4.4c). Implemented by
// opauth, which has tree access; capability stays tree-agnostic.
type ScopeContainer interface {
	Contains(proof, delegated Resource) (bool, error)
}

// Chain is a fully validated delegation chain, root first, leaf last.
type Chain struct {
	Links []*Token
}

// Leaf returns the chain's leaf (the token actually presented).
func (c Chain) Leaf() *Token { return c.Links[len(c.Links)-1] }

// ValidateChain walks a capability token's delegation_proof links back to a
// trusted issuer, checking at every layer: signer identity, grant action on
// non-leaf layers, scope containment, expiry/revocation. docID is the
// document the token is being used against.
func ValidateChain(
	codec cryptoprim.Codec,
	leafRaw []byte,
	trustedIssuers []ed25519.PublicKey,
	revoked IsRevoked,
	now int64,
	docID string,
	scopeOK ScopeContainer,
) (Chain, error) {
	// Collect the chain leaf-to-root first, then validate root-to-leaf so
	// signer/scope checks read naturally as "does this layer's delegator
	// authorize it".
	var rawChain [][]byte
	cur := leafRaw
	for {
		rawChain = append(rawChain, cur)
		if len(rawChain) > MaxChainDepth {
			return Chain{}, ErrChainTooDeep
		}
		_, msg, err := ParseToken(codec, cur)
		if err != nil {
			return Chain{}, err
		}
		var claims Claims
		if err := codec.Unmarshal(msg.Payload, &claims); err != nil {
			return Chain{}, err
		}
		if len(claims.DelegationProof) == 0 {
			break
		}
		cur = claims.DelegationProof
	}

	// Reverse to root-first order.
	for i, j := 0, len(rawChain)-1; i < j; i, j = i+1, j-1 {
		rawChain[i], rawChain[j] = rawChain[j], rawChain[i]
	}

	chain := Chain{}
	var prevTok *Token
	for i, raw := range rawChain {
		tok, msg, err := ParseToken(codec, raw)
		if err != nil {
			return Chain{}, err
		}
		tid := tok.ID()
		if revoked(tid) {
			return Chain{}, fmt.Errorf("%w: token_id %x", ErrRevoked, tid)
		}
		if err := CheckTimes(tok.Claims, now); err != nil {
			return Chain{}, err
		}
		if err := CheckAudience(tok.Claims, docID); err != nil {
			return Chain{}, err
		}

		isLeaf := i == len(rawChain)-1
		if i == 0 {
			// Root: must verify against one of the trusted issuer keys.
			verified := false
			for _, pub := range trustedIssuers {
				verifier, err := cryptoprim.COSEVerifier(pub)
				if err != nil {
					continue
				}
				if VerifySignature(msg, verifier) == nil {
					verified = true
					break
				}
			}
			if !verified {
				return Chain{}, ErrUntrustedRoot
			}
		} else {
			// Non-root: must be signed by the subject (cnf.pub) of the
			// enclosing (previous) layer, which must itself carry grant.
			if !hasGrantSomewhere(prevTok.Claims, docID) {
				return Chain{}, ErrMissingGrant
			}
			verifier, err := cryptoprim.COSEVerifier(prevTok.Claims.Cnf.Pub)
			if err != nil {
				return Chain{}, err
			}
			if err := VerifySignature(msg, verifier); err != nil {
				return Chain{}, err
			}
			// A delegation narrows scope; without a scope evaluator there is
			// no way to confirm the narrowing actually holds, so a
			// delegated chain must fail closed rather than validate
			// unchecked (§8 S4).
			if scopeOK == nil {
				return Chain{}, ErrNoScopeEvaluator
			}
			if err := checkScopeContainment(prevTok.Claims, tok.Claims, docID, scopeOK); err != nil {
				return Chain{}, err
			}
		}
		_ = isLeaf
		chain.Links = append(chain.Links, tok)
		prevTok = tok
	}
	return chain, nil
}

func hasGrantSomewhere(c Claims, docID string) bool {
	for _, g := range c.grantsForDoc(docID) {
		if hasAction(g.Actions, ActionGrant) {
			return true
		}
	}
	return false
}

func checkScopeContainment(proof, delegated Claims, docID string, scopeOK ScopeContainer) error {
	proofGrants := proof.grantsForDoc(docID)
	for _, dg := range delegated.grantsForDoc(docID) {
		contained := false
		for _, pg := range proofGrants {
			ok, err := scopeOK.Contains(pg.Res, dg.Res)
			if err != nil {
				return err
			}
			if ok {
				contained = true
				break
			}
		}
		if !contained {
			return ErrScopeExceeded
		}
	}
	return nil
}
