package syncpeer

import (
	"context"
	"testing"

	"github.com/cybersemics/treecrdt-sub002/capability"
	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
	"github.com/cybersemics/treecrdt-sub002/ids"
	"github.com/cybersemics/treecrdt-sub002/storage/memory"
	"github.com/cybersemics/treecrdt-sub002/transport"
	"github.com/cybersemics/treecrdt-sub002/wire"
	"github.com/stretchr/testify/require"
)

func node(b byte) ids.NodeID {
	var n ids.NodeID
	n[len(n)-1] = b
	return n
}

func replica(b byte) ids.ReplicaID {
	var r ids.ReplicaID
	r[len(r)-1] = b
	return r
}

func insertOp(docID []byte, rep ids.ReplicaID, counter, lamport uint64, parent, n ids.NodeID) *wire.Operation {
	return &wire.Operation{
		DocID:  docID,
		Meta:   wire.Meta{ID: ids.OpID{Replica: rep, Counter: counter}, Lamport: lamport},
		Kind:   wire.KindInsert,
		Insert: &wire.InsertFields{Parent: parent, Node: n, OrderKey: ids.OrderKey("m")},
	}
}

func allDocToken(t *testing.T, docID []byte) *capability.Token {
	codec, err := cryptoprim.NewCodec()
	require.NoError(t, err)
	_, issuerPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	signer, err := cryptoprim.COSESigner(issuerPriv)
	require.NoError(t, err)
	pub, _, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)

	claims := capability.Claims{
		Aud: []string{string(docID)},
		Cnf: capability.Confirmation{Pub: pub},
		Caps: []capability.Grant{{
			Res:     capability.Resource{DocID: docID},
			Actions: []capability.Action{capability.ActionReadStructure, capability.ActionWriteStructure},
		}},
	}
	tok, err := capability.IssueToken(codec, claims, signer)
	require.NoError(t, err)
	return tok
}

// TestTwoPeerSyncConverges seeds one peer with ops the other lacks and
// vice versa, runs a full session, and asserts both converge to the same
// materialized tree.
func TestTwoPeerSyncConverges(t *testing.T) {
	docID := []byte("doc-1")
	repA := replica(1)
	repB := replica(2)

	a := memory.New(docID)
	b := memory.New(docID)

	_, err := a.AppendOp(&wire.SignedOperation{Op: *insertOp(docID, repA, 1, 1, ids.ROOT, node(1))})
	require.NoError(t, err)
	_, err = b.AppendOp(&wire.SignedOperation{Op: *insertOp(docID, repB, 1, 2, ids.ROOT, node(2))})
	require.NoError(t, err)

	tok := allDocToken(t, docID)

	wireCodec, err := wire.NewCodec()
	require.NoError(t, err)
	codec, err := NewCodec()
	require.NoError(t, err)

	connA, connB := transport.NewPipe(16)
	sessA := NewSession(connA, codec, wireCodec, docID, a, []*capability.Token{tok})
	sessB := NewSession(connB, codec, wireCodec, docID, b, []*capability.Token{tok})

	ctx := context.Background()
	errCh := make(chan error, 2)
	go func() { errCh <- sessA.RunInitiator(ctx, []Filter{{ID: "all", All: true}}) }()
	go func() { errCh <- sessB.RunResponder(ctx) }()

	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)

	require.ElementsMatch(t, a.TreeChildren(ids.ROOT), b.TreeChildren(ids.ROOT))
	require.Len(t, a.TreeChildren(ids.ROOT), 2)
	require.Equal(t, a.OpRefsAll(), b.OpRefsAll())
}

// excludeToken mints a token scoped to root with private subtree excluded,
// matching the "scoped invite" shape of S3.
func excludeToken(t *testing.T, docID []byte, exclude ids.NodeID) *capability.Token {
	codec, err := cryptoprim.NewCodec()
	require.NoError(t, err)
	_, issuerPriv, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)
	signer, err := cryptoprim.COSESigner(issuerPriv)
	require.NoError(t, err)
	pub, _, err := cryptoprim.GenerateEd25519()
	require.NoError(t, err)

	root := ids.ROOT
	claims := capability.Claims{
		Aud: []string{string(docID)},
		Cnf: capability.Confirmation{Pub: pub},
		Caps: []capability.Grant{{
			Res:     capability.Resource{DocID: docID, Root: &root, Exclude: []ids.NodeID{exclude}},
			Actions: []capability.Action{capability.ActionReadStructure, capability.ActionWriteStructure},
		}},
	}
	tok, err := capability.IssueToken(codec, claims, signer)
	require.NoError(t, err)
	return tok
}

// TestS3ScopedInviteHidesPrivateRoot is scenario S3: A holds doc-wide
// access, B holds a scoped-invite token excluding a private subtree. A's
// op log contains a public sibling and a private root with a child; after
// sync B must see the public sibling only, never the private root or its
// descendants.
func TestS3ScopedInviteHidesPrivateRoot(t *testing.T) {
	docID := []byte("doc-1")
	rep := replica(1)
	public := node(1)
	private := node(2)
	privateChild := node(3)

	a := memory.New(docID)
	_, err := a.AppendMany([]*wire.SignedOperation{
		{Op: *insertOp(docID, rep, 1, 1, ids.ROOT, public)},
		{Op: *insertOp(docID, rep, 2, 2, ids.ROOT, private)},
		{Op: *insertOp(docID, rep, 3, 3, private, privateChild)},
	})
	require.NoError(t, err)

	b := memory.New(docID)

	bTok := excludeToken(t, docID, private)

	wireCodec, err := wire.NewCodec()
	require.NoError(t, err)
	codec, err := NewCodec()
	require.NoError(t, err)

	connA, connB := transport.NewPipe(16)
	// A authorizes outgoing ops against B's (scoped) token; B presents its
	// own scoped token as the peer-side credential for the filter.
	sessA := NewSession(connA, codec, wireCodec, docID, a, []*capability.Token{bTok})
	sessB := NewSession(connB, codec, wireCodec, docID, b, []*capability.Token{bTok})

	root := ids.ROOT
	ctx := context.Background()
	errCh := make(chan error, 2)
	go func() { errCh <- sessA.RunInitiator(ctx, []Filter{{ID: "root-children", Parent: &root}}) }()
	go func() { errCh <- sessB.RunResponder(ctx) }()

	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)

	require.Equal(t, []ids.NodeID{public}, b.TreeChildren(ids.ROOT))
	require.Empty(t, b.TreeChildren(private))
	require.Nil(t, b.Row(private))
	require.Nil(t, b.Row(privateChild))
}

// TestSubscriptionPushesLocalUpdates exercises §4.8 subscriptions: after an
// initial sync converges, A subscribes to B's "all" filter; once a new op
// lands in B's backend and the owning application calls NotifyLocalUpdate,
// B's subscription loop pushes it to A without either side starting a fresh
// session. Unsubscribe then tears the loop down cleanly.
func TestSubscriptionPushesLocalUpdates(t *testing.T) {
	docID := []byte("doc-1")
	rep := replica(1)
	root := ids.ROOT

	a := memory.New(docID)
	b := memory.New(docID)
	_, err := b.AppendOp(&wire.SignedOperation{Op: *insertOp(docID, rep, 1, 1, root, node(1))})
	require.NoError(t, err)

	tok := allDocToken(t, docID)
	wireCodec, err := wire.NewCodec()
	require.NoError(t, err)
	codec, err := NewCodec()
	require.NoError(t, err)

	connA, connB := transport.NewPipe(16)
	sessA := NewSession(connA, codec, wireCodec, docID, a, []*capability.Token{tok})
	sessB := NewSession(connB, codec, wireCodec, docID, b, []*capability.Token{tok})

	ctx := context.Background()
	errCh := make(chan error, 2)
	go func() { errCh <- sessA.RunInitiator(ctx, []Filter{{ID: "all", All: true}}) }()
	go func() { errCh <- sessB.RunResponder(ctx) }()
	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)
	require.Equal(t, []ids.NodeID{node(1)}, a.TreeChildren(root))

	subErrCh := make(chan error, 1)
	go func() { subErrCh <- sessB.RunSubscribee(ctx) }()

	f := Filter{ID: "all", All: true}
	require.NoError(t, sessA.SubscribeRequest(ctx, f))

	// The new op lands only in B's backend (the live document sessB reads
	// from); NotifyLocalUpdate wakes sessB's already-running push loop.
	_, err = b.AppendOp(&wire.SignedOperation{Op: *insertOp(docID, rep, 2, 2, root, node(2))})
	require.NoError(t, err)
	sessB.NotifyLocalUpdate()

	msg, err := sessA.recv(ctx)
	require.NoError(t, err)
	require.Equal(t, KindOpsBatch, msg.Kind)
	require.NoError(t, sessA.applyBatch(msg.OpsBatch))
	require.ElementsMatch(t, []ids.NodeID{node(1), node(2)}, a.TreeChildren(root))

	require.NoError(t, sessA.send(ctx, &Message{Kind: KindUnsubscribe, Unsubscribe: &Unsubscribe{FilterID: f.ID}}))
	require.NoError(t, <-subErrCh)
}
