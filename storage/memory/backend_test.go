package memory

import (
	"testing"

	"github.com/cybersemics/treecrdt-sub002/ids"
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

func TestAppendOpIsIdempotentByRef(t *testing.T) {
	docID := []byte("doc-1")
	b := New(docID)
	op := &wire.SignedOperation{Op: *insertOp(docID, replica(1), 1, 1, ids.ROOT, node(1))}

	ref1, err := b.AppendOp(op)
	require.NoError(t, err)
	ref2, err := b.AppendOp(op)
	require.NoError(t, err)
	require.Equal(t, ref1, ref2)

	require.Len(t, b.OpsAll(), 1)
	require.Len(t, b.OpRefsAll(), 1)
	require.Len(t, b.TreeChildren(ids.ROOT), 1)
}

func TestAppendManyRebuildsTreeAtomically(t *testing.T) {
	docID := []byte("doc-1")
	b := New(docID)
	rep := replica(1)

	refs, err := b.AppendMany([]*wire.SignedOperation{
		{Op: *insertOp(docID, rep, 1, 1, ids.ROOT, node(1))},
		{Op: *insertOp(docID, rep, 2, 2, ids.ROOT, node(2))},
	})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.ElementsMatch(t, []ids.NodeID{node(1), node(2)}, b.TreeChildren(ids.ROOT))
	require.Equal(t, uint64(2), b.MetaHeadLamport())
	require.Equal(t, uint64(2), b.MetaReplicaMaxCounter(rep))
}

func TestOpsSinceIsStrictlyGreaterThan(t *testing.T) {
	docID := []byte("doc-1")
	b := New(docID)
	rep := replica(1)

	_, err := b.AppendMany([]*wire.SignedOperation{
		{Op: *insertOp(docID, rep, 1, 1, ids.ROOT, node(1))},
		{Op: *insertOp(docID, rep, 2, 2, ids.ROOT, node(2))},
		{Op: *insertOp(docID, rep, 3, 3, ids.ROOT, node(3))},
	})
	require.NoError(t, err)

	since := b.OpsSince(1)
	require.Len(t, since, 2)
	for _, sop := range since {
		require.Greater(t, sop.Op.Meta.Lamport, uint64(1))
	}
}

func TestOpsGetOmitsUnknownRefs(t *testing.T) {
	docID := []byte("doc-1")
	b := New(docID)
	rep := replica(1)

	refs, err := b.AppendMany([]*wire.SignedOperation{
		{Op: *insertOp(docID, rep, 1, 1, ids.ROOT, node(1))},
	})
	require.NoError(t, err)

	unknown := ids.OpRef{0xff}
	got := b.OpsGet([]ids.OpRef{refs[0], unknown})
	require.Len(t, got, 1)
	require.Equal(t, refs[0], b.OpRefsAll()[0])
}

func TestOpRefsChildrenScopesToSubtree(t *testing.T) {
	docID := []byte("doc-1")
	b := New(docID)
	rep := replica(1)

	_, err := b.AppendMany([]*wire.SignedOperation{
		{Op: *insertOp(docID, rep, 1, 1, ids.ROOT, node(1))},
		{Op: *insertOp(docID, rep, 2, 2, node(1), node(2))},
		{Op: *insertOp(docID, rep, 3, 3, ids.ROOT, node(3))},
	})
	require.NoError(t, err)

	childRefs := b.OpRefsChildren(node(1))
	require.Len(t, childRefs, 1)
}
