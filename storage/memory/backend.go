// Package memory implements the in-process Backend (§6.1) used by tests and
// by single-process sync sessions: an op log plus the materialized tree
// view (tree.Doc), guarded by a single RWMutex per the concurrency model's
// "backend serializes writes, concurrent reads allowed" rule (§5).
package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cybersemics/treecrdt-sub002/ids"
	"github.com/cybersemics/treecrdt-sub002/tree"
	"github.com/cybersemics/treecrdt-sub002/wire"
)

// Backend is an in-memory, single-document append-only op log with its
// materialized tree view. It is safe for concurrent use.
type Backend struct {
	mu     sync.RWMutex
	docID  []byte
	doc    *tree.Doc
	byRef  map[ids.OpRef]*wire.SignedOperation
	order  []ids.OpRef // append order, the log's canonical enumeration for ops_all
}

// New creates an empty backend for docID. opts is forwarded to tree.New,
// so callers that want the materialized view's own logging (e.g. rebuild
// and cycle-rejection events) can pass tree.WithLogger.
func New(docID []byte, opts ...tree.Option) *Backend {
	return &Backend{
		docID: docID,
		doc:   tree.New(docID, opts...),
		byRef: make(map[ids.OpRef]*wire.SignedOperation),
	}
}

// AppendOp appends one signed op. Appending the same op twice (by OpRef) is
// a no-op, matching tree.Doc's idempotence (§6.1 "rebuild is idempotent").
func (b *Backend) AppendOp(sop *wire.SignedOperation) (ids.OpRef, error) {
	refs, err := b.AppendMany([]*wire.SignedOperation{sop})
	if err != nil {
		return ids.OpRef{}, err
	}
	return refs[0], nil
}

// AppendMany appends a batch atomically: either every op is applied and the
// materialized view rebuilt once, or none are (§5 "apply is transactional
// at the batch level").
func (b *Backend) AppendMany(sops []*wire.SignedOperation) ([]ids.OpRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ops := make([]*wire.Operation, len(sops))
	for i, sop := range sops {
		op := sop.Op
		ops[i] = &op
	}
	refs, err := b.doc.AppendMany(ops)
	if err != nil {
		return nil, fmt.Errorf("memory backend: append: %w", err)
	}
	for i, ref := range refs {
		if _, seen := b.byRef[ref]; seen {
			continue
		}
		b.byRef[ref] = sops[i]
		b.order = append(b.order, ref)
	}
	return refs, nil
}

// OpsAll returns every signed op in append order.
func (b *Backend) OpsAll() []*wire.SignedOperation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*wire.SignedOperation, 0, len(b.order))
	for _, ref := range b.order {
		out = append(out, b.byRef[ref])
	}
	return out
}

// OpsSince returns ops with Meta.Lamport strictly greater than lamport, in
// append order (a convenience replay cursor, not a causal guarantee).
func (b *Backend) OpsSince(lamport uint64) []*wire.SignedOperation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*wire.SignedOperation
	for _, ref := range b.order {
		sop := b.byRef[ref]
		if sop.Op.Meta.Lamport > lamport {
			out = append(out, sop)
		}
	}
	return out
}

// OpsGet resolves a set of refs to their signed ops; refs not present are
// omitted from the result rather than erroring, matching a reconciliation
// peer's "give me what you have" use (§4.8).
func (b *Backend) OpsGet(refs []ids.OpRef) []*wire.SignedOperation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*wire.SignedOperation, 0, len(refs))
	for _, ref := range refs {
		if sop, ok := b.byRef[ref]; ok {
			out = append(out, sop)
		}
	}
	return out
}

// OpRefsAll returns every known op_ref, sorted for deterministic RIBLT
// filter construction.
func (b *Backend) OpRefsAll() []ids.OpRef {
	b.mu.RLock()
	defer b.mu.RUnlock()
	refs := b.doc.OpRefsAll()
	sort.Slice(refs, func(i, j int) bool { return string(refs[i][:]) < string(refs[j][:]) })
	return refs
}

// OpRefsChildren returns the op_refs reachable under parent's current
// children, for scoped (subtree) sync filters.
func (b *Backend) OpRefsChildren(parent ids.NodeID) []ids.OpRef {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.OpRefsChildren(parent)
}

func (b *Backend) TreeChildren(parent ids.NodeID) []ids.NodeID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.Children(parent)
}

func (b *Backend) TreeChildrenPage(parent ids.NodeID, cursor *tree.Cursor, limit int) ([]tree.ChildRow, *tree.Cursor) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.ChildrenPage(parent, cursor, limit)
}

func (b *Backend) TreeDump() []tree.DumpRow {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.Dump()
}

func (b *Backend) TreeNodeCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.NodeCount()
}

func (b *Backend) MetaHeadLamport() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.HeadLamport()
}

func (b *Backend) MetaReplicaMaxCounter(replica ids.ReplicaID) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.ReplicaMaxCounter(replica)
}

// Row exposes a single node's materialized row, used by opauth's
// TreeReader during scope evaluation.
func (b *Backend) Row(node ids.NodeID) *tree.NodeRow {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.doc.Row(node)
}

// DocID returns the document this backend stores.
func (b *Backend) DocID() []byte { return b.docID }
