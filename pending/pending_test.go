package pending

import (
	"testing"

	"github.com/cybersemics/treecrdt-sub002/capability"
	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
	"github.com/cybersemics/treecrdt-sub002/ids"
	"github.com/cybersemics/treecrdt-sub002/opauth"
	"github.com/cybersemics/treecrdt-sub002/tree"
	"github.com/cybersemics/treecrdt-sub002/wire"
	"github.com/stretchr/testify/require"
)

func TestParkRemoveRoundTrip(t *testing.T) {
	docID := []byte("doc-1")
	var replicaID ids.ReplicaID
	replicaID[0] = 9
	op := &wire.Operation{
		DocID: docID,
		Meta:  wire.Meta{ID: ids.OpID{Replica: replicaID, Counter: 1}, Lamport: 1},
		Kind:  wire.KindTombstone,
		Tombstone: &wire.TombstoneFields{Node: ids.NodeID{1}},
	}

	s := New()
	require.Equal(t, 0, s.Len(docID))
	s.Park(docID, op, wire.Auth{}, "scope unknown: awaiting parent")
	require.Equal(t, 1, s.Len(docID))

	entries := s.All(docID)
	require.Len(t, entries, 1)
	require.Equal(t, ReasonMissingContext, entries[0].Reason)

	s.Remove(docID, op.OpRef())
	require.Equal(t, 0, s.Len(docID))
}

// TestS7RevocationPropagatesThroughPendingReplay is scenario S7: an op
// whose scope can't yet be evaluated parks as pending_context; once the
// missing context arrives it replays and is accepted; but once the
// authorizing token is revoked, neither the parked op nor any new op under
// the same token is ever accepted again — revocation fails closed at
// verify time, before an op can reach (or be replayed out of) pending.
func TestS7RevocationPropagatesThroughPendingReplay(t *testing.T) {
	docID := []byte("doc-1")
	codec, err := cryptoprim.NewCodec()
	require.NoError(t, err)

	issuerPub, issuerPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	issuerSigner, err := cryptoprim.COSESigner(issuerPriv)
	require.NoError(t, err)

	authorPub, authorPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	var replicaID ids.ReplicaID
	copy(replicaID[:], authorPub)

	tok, err := capability.IssueToken(codec, capability.Claims{
		Aud: []string{string(docID)},
		Cnf: capability.Confirmation{Pub: authorPub},
		Caps: []capability.Grant{{
			Res:     capability.Resource{DocID: docID},
			Actions: []capability.Action{capability.ActionWriteStructure},
		}},
	}, issuerSigner)
	require.NoError(t, err)

	parent := ids.NodeID{9}
	child := ids.NodeID{10}
	parentInsert := &wire.Operation{
		DocID: docID,
		Meta:  wire.Meta{ID: ids.OpID{Replica: replicaID, Counter: 0}, Lamport: 1},
		Kind:  wire.KindInsert,
		Insert: &wire.InsertFields{Parent: ids.ROOT, Node: parent, OrderKey: ids.OrderKey("a")},
	}

	// The author's own tree already has parent, so it can sign locally
	// (scope evaluates Allow there); the verifying peer below does not yet
	// have parent, so the same op evaluates Unknown for it.
	authorDoc := tree.New(docID)
	_, err = authorDoc.Append(parentInsert)
	require.NoError(t, err)

	op := &wire.Operation{
		DocID: docID,
		Meta:  wire.Meta{ID: ids.OpID{Replica: replicaID, Counter: 1}, Lamport: 2},
		Kind:  wire.KindInsert,
		Insert: &wire.InsertFields{Parent: parent, Node: child, OrderKey: ids.OrderKey("m")},
	}
	auth, err := opauth.Sign(authorDoc, string(docID), op, authorPriv, []*capability.Token{tok})
	require.NoError(t, err)
	sop := &wire.SignedOperation{Op: *op, Auth: *auth}

	d := tree.New(docID) // the verifying peer: lacks parent until it arrives below
	store := New()
	noneRevoked := func([16]byte) bool { return false }

	result, err := opauth.Verify(d, string(docID), sop, []*capability.Token{tok}, noneRevoked, 0)
	require.NoError(t, err)
	require.Equal(t, opauth.Unknown, result.Disposition)
	store.Park(docID, op, *auth, "scope unknown: parent not yet known")
	require.Equal(t, 1, store.Len(docID))

	// The missing context arrives: parent is inserted under ROOT.
	_, err = d.Append(parentInsert)
	require.NoError(t, err)

	// Replay: re-verify every parked entry now that context exists.
	for _, e := range store.All(docID) {
		result, err := opauth.Verify(d, string(docID), &wire.SignedOperation{Op: e.Op, Auth: e.Auth}, []*capability.Token{tok}, noneRevoked, 0)
		require.NoError(t, err)
		require.Equal(t, opauth.Allow, result.Disposition)
		_, err = d.Append(&e.Op)
		require.NoError(t, err)
		store.Remove(docID, e.OpRef)
	}
	require.Equal(t, 0, store.Len(docID))
	require.Equal(t, []ids.NodeID{child}, d.Children(parent))

	// The token is now revoked.
	tid := tok.ID()
	revoked := func(id [16]byte) bool { return id == tid }

	_, err = opauth.Verify(d, string(docID), sop, []*capability.Token{tok}, revoked, 0)
	require.ErrorIs(t, err, capability.ErrRevoked)

	// A brand new op signed under the same (now revoked) token must be
	// rejected at verify time, never reaching pending at all.
	newChild := ids.NodeID{11}
	newOp := &wire.Operation{
		DocID: docID,
		Meta:  wire.Meta{ID: ids.OpID{Replica: replicaID, Counter: 2}, Lamport: 3},
		Kind:  wire.KindInsert,
		Insert: &wire.InsertFields{Parent: parent, Node: newChild, OrderKey: ids.OrderKey("z")},
	}
	newAuth, err := opauth.Sign(d, string(docID), newOp, authorPriv, []*capability.Token{tok})
	require.NoError(t, err)
	newSop := &wire.SignedOperation{Op: *newOp, Auth: *newAuth}

	_, err = opauth.Verify(d, string(docID), newSop, []*capability.Token{tok}, revoked, 0)
	require.ErrorIs(t, err, capability.ErrRevoked)
	require.Equal(t, 0, store.Len(docID))
}
