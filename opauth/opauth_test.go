package opauth

import (
	"testing"

	"github.com/cybersemics/treecrdt-sub002/capability"
	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
	"github.com/cybersemics/treecrdt-sub002/ids"
	"github.com/cybersemics/treecrdt-sub002/tree"
	"github.com/cybersemics/treecrdt-sub002/wire"
	"github.com/stretchr/testify/require"
)

func node(b byte) ids.NodeID {
	var n ids.NodeID
	n[len(n)-1] = b
	return n
}

func TestScopeEvaluatorTriState(t *testing.T) {
	docID := []byte("doc-1")
	var replicaID ids.ReplicaID
	replicaID[31] = 1
	p := node(1)
	c := node(2)
	orphan := node(3)

	d := tree.New(docID)
	_, err := d.Append(&wire.Operation{
		DocID: docID,
		Meta:  wire.Meta{ID: ids.OpID{Replica: replicaID, Counter: 1}, Lamport: 1},
		Kind:  wire.KindInsert,
		Insert: &wire.InsertFields{Parent: ids.ROOT, Node: p, OrderKey: ids.OrderKey("m")},
	})
	require.NoError(t, err)
	_, err = d.Append(&wire.Operation{
		DocID: docID,
		Meta:  wire.Meta{ID: ids.OpID{Replica: replicaID, Counter: 2}, Lamport: 2},
		Kind:  wire.KindInsert,
		Insert: &wire.InsertFields{Parent: p, Node: c, OrderKey: ids.OrderKey("m")},
	})
	require.NoError(t, err)

	scope := capability.Resource{DocID: docID, Root: &p}
	require.Equal(t, Allow, EvaluateScope(d, scope, c))

	excludeScope := capability.Resource{DocID: docID, Root: &ids.ROOT, Exclude: []ids.NodeID{p}}
	require.Equal(t, Deny, EvaluateScope(d, excludeScope, c))

	require.Equal(t, Unknown, EvaluateScope(d, scope, orphan))
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	codec, err := cryptoprim.NewCodec()
	require.NoError(t, err)
	docID := []byte("doc-1")

	_, issuerPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	issuerSigner, err := cryptoprim.COSESigner(issuerPriv)
	require.NoError(t, err)

	authorPub, authorPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	var replicaID ids.ReplicaID
	copy(replicaID[:], authorPub)

	claims := capability.Claims{
		Aud: []string{string(docID)},
		Cnf: capability.Confirmation{Pub: authorPub},
		Caps: []capability.Grant{{
			Res:     capability.Resource{DocID: docID},
			Actions: []capability.Action{capability.ActionWriteStructure},
		}},
	}
	tok, err := capability.IssueToken(codec, claims, issuerSigner)
	require.NoError(t, err)

	d := tree.New(docID)
	node1 := node(1)
	op := &wire.Operation{
		DocID: docID,
		Meta:  wire.Meta{ID: ids.OpID{Replica: replicaID, Counter: 1}, Lamport: 1},
		Kind:  wire.KindInsert,
		Insert: &wire.InsertFields{Parent: ids.ROOT, Node: node1, OrderKey: ids.OrderKey("m")},
	}

	auth, err := Sign(d, string(docID), op, authorPriv, []*capability.Token{tok})
	require.NoError(t, err)
	require.NotNil(t, auth.ProofRef)

	sop := &wire.SignedOperation{Op: *op, Auth: *auth}
	noneRevoked := func([16]byte) bool { return false }
	result, err := Verify(d, string(docID), sop, []*capability.Token{tok}, noneRevoked, 0)
	require.NoError(t, err)
	require.Equal(t, Allow, result.Disposition)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	codec, err := cryptoprim.NewCodec()
	require.NoError(t, err)
	docID := []byte("doc-1")

	_, issuerPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	issuerSigner, err := cryptoprim.COSESigner(issuerPriv)
	require.NoError(t, err)

	authorPub, authorPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	var replicaID ids.ReplicaID
	copy(replicaID[:], authorPub)

	claims := capability.Claims{
		Aud: []string{string(docID)},
		Cnf: capability.Confirmation{Pub: authorPub},
		Caps: []capability.Grant{{
			Res:     capability.Resource{DocID: docID},
			Actions: []capability.Action{capability.ActionWriteStructure},
		}},
	}
	tok, err := capability.IssueToken(codec, claims, issuerSigner)
	require.NoError(t, err)

	d := tree.New(docID)
	node1 := node(1)
	op := &wire.Operation{
		DocID: docID,
		Meta:  wire.Meta{ID: ids.OpID{Replica: replicaID, Counter: 1}, Lamport: 1},
		Kind:  wire.KindInsert,
		Insert: &wire.InsertFields{Parent: ids.ROOT, Node: node1, OrderKey: ids.OrderKey("m")},
	}
	auth, err := Sign(d, string(docID), op, authorPriv, []*capability.Token{tok})
	require.NoError(t, err)
	auth.Sig[0] ^= 0xff

	sop := &wire.SignedOperation{Op: *op, Auth: *auth}
	noneRevoked := func([16]byte) bool { return false }
	_, err = Verify(d, string(docID), sop, []*capability.Token{tok}, noneRevoked, 0)
	require.ErrorIs(t, err, ErrBadSignature)
}
