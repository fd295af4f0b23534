package capability

import (
	"crypto/ed25519"
	"testing"

	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
	"github.com/stretchr/testify/require"
)

type alwaysContains struct{}

func (alwaysContains) Contains(proof, delegated Resource) (bool, error) { return true, nil }

type neverContains struct{}

func (neverContains) Contains(proof, delegated Resource) (bool, error) { return false, nil }

func issueLeafClaims(docID string, pub []byte, actions []Action) Claims {
	return Claims{
		Aud:  []string{docID},
		Cnf:  Confirmation{Pub: pub},
		Caps: []Grant{{Res: Resource{DocID: []byte(docID)}, Actions: actions}},
	}
}

func TestTokenIssueParseVerifyRoundTrip(t *testing.T) {
	codec, err := cryptoprim.NewCodec()
	require.NoError(t, err)

	issuerPub, issuerPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	subjectPub, _, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)

	signer, err := cryptoprim.COSESigner(issuerPriv)
	require.NoError(t, err)

	claims := issueLeafClaims("doc-1", subjectPub, []Action{ActionReadStructure})
	tok, err := IssueToken(codec, claims, signer)
	require.NoError(t, err)

	parsed, msg, err := ParseToken(codec, tok.Raw)
	require.NoError(t, err)
	require.Equal(t, claims.Aud, parsed.Claims.Aud)

	verifier, err := cryptoprim.COSEVerifier(issuerPub)
	require.NoError(t, err)
	require.NoError(t, VerifySignature(msg, verifier))
}

// TestDelegationChainDepth3 is the depth>=3 boundary case from §8.
func TestDelegationChainDepth3(t *testing.T) {
	codec, err := cryptoprim.NewCodec()
	require.NoError(t, err)
	docID := "doc-1"

	issuerPub, issuerPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	issuerSigner, err := cryptoprim.COSESigner(issuerPriv)
	require.NoError(t, err)

	aPub, aPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	aSigner, err := cryptoprim.COSESigner(aPriv)
	require.NoError(t, err)

	bPub, bPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	bSigner, err := cryptoprim.COSESigner(bPriv)
	require.NoError(t, err)

	cPub, _, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)

	rootClaims := issueLeafClaims(docID, aPub, []Action{ActionGrant, ActionWriteStructure})
	rootTok, err := IssueToken(codec, rootClaims, issuerSigner)
	require.NoError(t, err)

	midClaims := issueLeafClaims(docID, bPub, []Action{ActionGrant, ActionWriteStructure})
	midClaims.DelegationProof = rootTok.Raw
	midTok, err := IssueToken(codec, midClaims, aSigner)
	require.NoError(t, err)

	leafClaims := issueLeafClaims(docID, cPub, []Action{ActionWriteStructure})
	leafClaims.DelegationProof = midTok.Raw
	leafTok, err := IssueToken(codec, leafClaims, bSigner)
	require.NoError(t, err)

	noneRevoked := func([16]byte) bool { return false }
	chain, err := ValidateChain(codec, leafTok.Raw, []ed25519.PublicKey{issuerPub}, noneRevoked, 0, docID, alwaysContains{})
	require.NoError(t, err)
	require.Len(t, chain.Links, 3)

	// Revoking the root must fail closed even though only the leaf is presented.
	rootTid := TokenID(rootTok.Raw)
	revokedRoot := func(tid [16]byte) bool { return tid == rootTid }
	_, err = ValidateChain(codec, leafTok.Raw, []ed25519.PublicKey{issuerPub}, revokedRoot, 0, docID, alwaysContains{})
	require.ErrorIs(t, err, ErrRevoked)

	// Scope containment failing rejects the chain.
	_, err = ValidateChain(codec, leafTok.Raw, []ed25519.PublicKey{issuerPub}, noneRevoked, 0, docID, neverContains{})
	require.ErrorIs(t, err, ErrScopeExceeded)
}

// TestS4DelegationWithoutScopeEvaluatorFailsClosed is scenario S4: a
// delegated (non-root) layer must validate only when a scope evaluator is
// supplied; omitting it must fail, not silently skip the check.
func TestS4DelegationWithoutScopeEvaluatorFailsClosed(t *testing.T) {
	codec, err := cryptoprim.NewCodec()
	require.NoError(t, err)
	docID := "doc-1"

	issuerPub, issuerPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	issuerSigner, err := cryptoprim.COSESigner(issuerPriv)
	require.NoError(t, err)

	aPub, aPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	aSigner, err := cryptoprim.COSESigner(aPriv)
	require.NoError(t, err)

	bPub, _, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)

	rootClaims := issueLeafClaims(docID, aPub, []Action{ActionGrant, ActionWriteStructure})
	rootTok, err := IssueToken(codec, rootClaims, issuerSigner)
	require.NoError(t, err)

	leafClaims := issueLeafClaims(docID, bPub, []Action{ActionWriteStructure})
	leafClaims.DelegationProof = rootTok.Raw
	leafTok, err := IssueToken(codec, leafClaims, aSigner)
	require.NoError(t, err)

	noneRevoked := func([16]byte) bool { return false }

	_, err = ValidateChain(codec, leafTok.Raw, []ed25519.PublicKey{issuerPub}, noneRevoked, 0, docID, nil)
	require.ErrorIs(t, err, ErrNoScopeEvaluator)

	chain, err := ValidateChain(codec, leafTok.Raw, []ed25519.PublicKey{issuerPub}, noneRevoked, 0, docID, alwaysContains{})
	require.NoError(t, err)
	require.Len(t, chain.Links, 2)
}
