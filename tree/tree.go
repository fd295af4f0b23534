// Package tree implements the replicated move-tree engine (§4.5): an
// append-only operation log plus a materialized view rebuilt from it, with
// Kleppmann-style cycle rejection and the defensive-delete visibility rule.
package tree

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cybersemics/treecrdt-sub002/ids"
	"github.com/cybersemics/treecrdt-sub002/internal/logging"
	"github.com/cybersemics/treecrdt-sub002/wire"
)

// NodeRow is one row of the materialized tree_nodes view.
type NodeRow struct {
	Node        ids.NodeID
	Parent      ids.NodeID
	OrderKey    ids.OrderKey
	Tombstone   bool
	PayloadSet  bool
	Payload     []byte
	PayloadOpID *ids.OpID
	// PlacingOpID is the op that most recently set Parent/OrderKey for this
	// node (the insert or move that placed it here). Defensive delete's
	// known_state coverage check is evaluated against this op.
	PlacingOpID ids.OpID
}

// loggedOp is one entry of the append-only log: the op plus its derived
// OpRef, kept so rebuild never has to recompute hashes.
type loggedOp struct {
	Op  *wire.Operation
	Ref ids.OpRef
}

// Doc is one document's op log and materialized tree view. A Doc is not
// safe for concurrent use from multiple goroutines; callers serialize
// mutation per document per §5.
type Doc struct {
	docID []byte

	oplog    []loggedOp
	seenRefs map[ids.OpRef]bool

	nodes    map[ids.NodeID]*NodeRow
	opsByNode map[ids.NodeID][]ids.OpRef

	replicaMaxCounter map[ids.ReplicaID]uint64
	headLamport       uint64

	log *logging.Logger
	// sem enforces §5's per-document exclusive mutation capability: held
	// only across the synchronous portion of Append/AppendMany, never across
	// a suspension point, so a second concurrent caller blocks instead of
	// racing the materialized view.
	sem *semaphore.Weighted
}

// Option configures a Doc at construction time.
type Option func(*Doc)

// WithLogger attaches a logger for append/rebuild lifecycle events. The
// default, used when no Option supplies one, is a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Doc) { d.log = l }
}

// New creates an empty Doc for docID.
func New(docID []byte, opts ...Option) *Doc {
	d := &Doc{
		docID:             docID,
		seenRefs:          make(map[ids.OpRef]bool),
		nodes:             make(map[ids.NodeID]*NodeRow),
		opsByNode:         make(map[ids.NodeID][]ids.OpRef),
		replicaMaxCounter: make(map[ids.ReplicaID]uint64),
		log:               logging.Nop(),
		sem:               semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Append validates and appends a single op, rebuilding the materialized
// view. Appending the same op twice (by OpRef) is a no-op: the existing ref
// is returned and the materialized view is left unchanged (testable
// property 2: append idempotence).
func (d *Doc) Append(op *wire.Operation) (ids.OpRef, error) {
	refs, err := d.AppendMany([]*wire.Operation{op})
	if err != nil {
		return ids.OpRef{}, err
	}
	return refs[0], nil
}

// AppendMany validates, dedupes and appends a batch of ops, then rebuilds
// the materialized view once. The batch is all-or-nothing: if any op fails
// validation, none are appended.
func (d *Doc) AppendMany(ops []*wire.Operation) ([]ids.OpRef, error) {
	if err := d.sem.Acquire(context.Background(), 1); err != nil {
		return nil, fmt.Errorf("tree: acquire mutation capability: %w", err)
	}
	defer d.sem.Release(1)

	refs := make([]ids.OpRef, len(ops))
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("tree: append: %w", err)
		}
		refs[i] = op.OpRef()
	}

	changed := false
	added := 0
	for i, op := range ops {
		if d.seenRefs[refs[i]] {
			continue
		}
		d.seenRefs[refs[i]] = true
		d.oplog = append(d.oplog, loggedOp{Op: op, Ref: refs[i]})
		changed = true
		added++
	}
	if changed {
		d.log.Debug("tree: appended ops", zap.Int("added", added), zap.Int("batch_size", len(ops)))
		d.rebuild()
	}
	return refs, nil
}

// sortedLog returns the log ops in the authoritative apply order:
// (lamport ASC, replica bytes ASC, counter ASC).
func (d *Doc) sortedLog() []loggedOp {
	out := make([]loggedOp, len(d.oplog))
	copy(out, d.oplog)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Op.Meta, out[j].Op.Meta
		return ids.ApplyOrder(a.Lamport, a.ID.Replica, a.ID.Counter, b.Lamport, b.ID.Replica, b.ID.Counter) < 0
	})
	return out
}

// rebuild replays the full log in apply order to reconstruct the
// materialized view from scratch. This trades per-append throughput for a
// trivially-correct implementation of out-of-order rebuild (§4.5): any
// permutation of delivery order converges to the same state because rebuild
// always replays in the same authoritative order.
func (d *Doc) rebuild() {
	d.nodes = make(map[ids.NodeID]*NodeRow)
	d.opsByNode = make(map[ids.NodeID][]ids.OpRef)
	d.replicaMaxCounter = make(map[ids.ReplicaID]uint64)
	d.headLamport = 0

	for _, lo := range d.sortedLog() {
		d.applyOne(lo)
	}
	d.log.Debug("tree: rebuilt materialized view", zap.Int("log_len", len(d.oplog)), zap.Int("node_count", len(d.nodes)))
}

func (d *Doc) applyOne(lo loggedOp) {
	op := lo.Op
	meta := op.Meta

	if meta.Lamport > d.headLamport {
		d.headLamport = meta.Lamport
	}
	if meta.ID.Counter > d.replicaMaxCounter[meta.ID.Replica] {
		d.replicaMaxCounter[meta.ID.Replica] = meta.ID.Counter
	}

	switch op.Kind {
	case wire.KindInsert:
		d.applyInsert(lo, op.Insert)
	case wire.KindMove:
		d.applyMove(lo, op.Move)
	case wire.KindDelete:
		d.applyDelete(op.Delete)
	case wire.KindTombstone:
		d.applyTombstone(op.Tombstone)
	case wire.KindPayload:
		d.applyPayload(lo, op.Payload)
	}
}

func (d *Doc) row(node ids.NodeID) *NodeRow {
	r, ok := d.nodes[node]
	if !ok {
		return nil
	}
	return r
}

func (d *Doc) recordOpForNode(node ids.NodeID, ref ids.OpRef) {
	d.opsByNode[node] = append(d.opsByNode[node], ref)
}

func (d *Doc) applyInsert(lo loggedOp, f *wire.InsertFields) {
	op := lo.Op
	d.recordOpForNode(f.Node, lo.Ref)

	existing := d.row(f.Node)
	if existing != nil && !existing.Tombstone {
		// Node exists and is live: ignore (idempotent-by-structure per §4.5).
		return
	}

	var payload []byte
	hasPayload := f.HasPayload
	if hasPayload {
		payload = f.Payload
	}

	row := &NodeRow{
		Node:        f.Node,
		Parent:      f.Parent,
		OrderKey:    append(ids.OrderKey{}, f.OrderKey...),
		Tombstone:   false,
		PayloadSet:  hasPayload,
		Payload:     payload,
		PlacingOpID: op.Meta.ID,
	}
	if hasPayload {
		id := op.Meta.ID
		row.PayloadOpID = &id
	}
	d.nodes[f.Node] = row
}

func (d *Doc) wouldCycle(node, newParent ids.NodeID) bool {
	if newParent.IsRoot() {
		return false
	}
	cur := newParent
	seen := 0
	for {
		if cur == node {
			return true
		}
		if cur.IsRoot() {
			return false
		}
		row := d.row(cur)
		if row == nil {
			return false
		}
		cur = row.Parent
		seen++
		if seen > len(d.nodes)+1 {
			// Defensive bound: a well-formed tree cannot have a parent chain
			// longer than the node count.
			return true
		}
	}
}

func (d *Doc) applyMove(lo loggedOp, f *wire.MoveFields) {
	op := lo.Op
	if d.wouldCycle(f.Node, f.NewParent) {
		d.log.Warn("tree: move rejected, would create cycle",
			logging.HexBytes("node", f.Node[:]), logging.HexBytes("new_parent", f.NewParent[:]))
		return
	}
	d.recordOpForNode(f.Node, lo.Ref)

	row := d.row(f.Node)
	if row == nil {
		row = &NodeRow{Node: f.Node}
		d.nodes[f.Node] = row
	}
	row.Parent = f.NewParent
	row.OrderKey = append(ids.OrderKey{}, f.OrderKey...)
	row.Tombstone = false // move restores, per §4.5
	row.PlacingOpID = op.Meta.ID
}

func (d *Doc) applyDelete(f *wire.DeleteFields) {
	row := d.row(f.Node)
	if row == nil {
		return
	}
	row.Tombstone = true
	d.defensiveDeleteChildren(f.Node, f.KnownState)
}

// defensiveDeleteChildren recursively tombstones the subtree rooted at
// parent, but only through children whose placing op the emitter's
// known_state already covers. Children the emitter never saw are left
// untouched and stay live under parent (§4.5's defensive delete).
func (d *Doc) defensiveDeleteChildren(parent ids.NodeID, ks *wire.KnownState) {
	for node, row := range d.nodes {
		if row.Parent != parent || row.Tombstone {
			continue
		}
		if ks.Covers(row.PlacingOpID.Replica, row.PlacingOpID.Counter) {
			row.Tombstone = true
			d.defensiveDeleteChildren(node, ks)
		}
	}
}

func (d *Doc) applyTombstone(f *wire.TombstoneFields) {
	row := d.row(f.Node)
	if row == nil {
		return
	}
	row.Tombstone = true
}

func (d *Doc) applyPayload(lo loggedOp, f *wire.PayloadFields) {
	op := lo.Op
	row := d.row(f.Node)
	if row == nil {
		return
	}
	d.recordOpForNode(f.Node, lo.Ref)
	row.PayloadSet = f.HasPayload
	if f.HasPayload {
		row.Payload = f.Payload
		id := op.Meta.ID
		row.PayloadOpID = &id
	} else {
		row.Payload = nil
		row.PayloadOpID = nil
	}
}

// visible implements §4.5's defensive-restore rule: a node is visible iff
// it is not tombstoned, or it has at least one visible descendant.
// childrenOf must be precomputed for the current call so recursive lookups
// don't re-scan the whole node map at every level.
func (d *Doc) visible(node ids.NodeID, childrenOf map[ids.NodeID][]ids.NodeID, memo map[ids.NodeID]bool) bool {
	if v, ok := memo[node]; ok {
		return v
	}
	// Guard against marking-in-progress cycles (should not occur in a
	// well-formed tree, but recursion must still terminate).
	memo[node] = false

	row := d.row(node)
	v := row == nil || !row.Tombstone
	if !v {
		for _, c := range childrenOf[node] {
			if d.visible(c, childrenOf, memo) {
				v = true
				break
			}
		}
	}
	memo[node] = v
	return v
}

func (d *Doc) childrenIndex() map[ids.NodeID][]ids.NodeID {
	idx := make(map[ids.NodeID][]ids.NodeID, len(d.nodes))
	for node, row := range d.nodes {
		idx[row.Parent] = append(idx[row.Parent], node)
	}
	return idx
}

// Children returns parent's live children ordered by (order_key, node).
func (d *Doc) Children(parent ids.NodeID) []ids.NodeID {
	idx := d.childrenIndex()
	memo := make(map[ids.NodeID]bool)
	var out []ids.NodeID
	for _, node := range idx[parent] {
		if d.visible(node, idx, memo) {
			out = append(out, node)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := d.nodes[out[i]], d.nodes[out[j]]
		return ids.SiblingOrder(ri.OrderKey, out[i], rj.OrderKey, out[j]) < 0
	})
	return out
}

// Cursor is a keyset continuation token for ChildrenPage.
type Cursor struct {
	OrderKey ids.OrderKey
	Node     ids.NodeID
}

// ChildRow is one row returned by ChildrenPage.
type ChildRow struct {
	Node     ids.NodeID
	OrderKey ids.OrderKey
}

// ChildrenPage returns up to limit live children of parent strictly after
// cursor, ordered by (order_key, node), plus the cursor to continue from
// (nil when exhausted).
func (d *Doc) ChildrenPage(parent ids.NodeID, cursor *Cursor, limit int) ([]ChildRow, *Cursor) {
	children := d.Children(parent)
	rows := make([]ChildRow, 0, len(children))
	for _, n := range children {
		rows = append(rows, ChildRow{Node: n, OrderKey: d.nodes[n].OrderKey})
	}
	start := 0
	if cursor != nil {
		start = len(rows)
		for i, r := range rows {
			if ids.SiblingOrder(r.OrderKey, r.Node, cursor.OrderKey, cursor.Node) > 0 {
				start = i
				break
			}
		}
	}
	end := start + limit
	if limit <= 0 || end > len(rows) {
		end = len(rows)
	}
	page := rows[start:end]
	var next *Cursor
	if end < len(rows) {
		next = &Cursor{OrderKey: page[len(page)-1].OrderKey, Node: page[len(page)-1].Node}
	}
	return page, next
}

// DumpRow is one row returned by Dump, including tombstoned nodes.
type DumpRow struct {
	Node      ids.NodeID
	Parent    ids.NodeID
	OrderKey  ids.OrderKey
	Tombstone bool
}

// Dump returns every tracked node, live or tombstoned, ordered by
// (order_key, node).
func (d *Doc) Dump() []DumpRow {
	out := make([]DumpRow, 0, len(d.nodes))
	for node, row := range d.nodes {
		out = append(out, DumpRow{Node: node, Parent: row.Parent, OrderKey: row.OrderKey, Tombstone: row.Tombstone})
	}
	sort.Slice(out, func(i, j int) bool {
		return ids.SiblingOrder(out[i].OrderKey, out[i].Node, out[j].OrderKey, out[j].Node) < 0
	})
	return out
}

// NodeCount returns the number of tracked nodes (live and tombstoned).
func (d *Doc) NodeCount() uint64 { return uint64(len(d.nodes)) }

// HeadLamport returns the highest lamport timestamp observed.
func (d *Doc) HeadLamport() uint64 { return d.headLamport }

// ReplicaMaxCounter returns the highest counter observed for replica.
func (d *Doc) ReplicaMaxCounter(replica ids.ReplicaID) uint64 { return d.replicaMaxCounter[replica] }

// OpRefsAll returns every distinct OpRef in the log.
func (d *Doc) OpRefsAll() []ids.OpRef {
	out := make([]ids.OpRef, 0, len(d.oplog))
	for _, lo := range d.oplog {
		out = append(out, lo.Ref)
	}
	return out
}

// OpRefsChildren returns op refs whose logical target parent in the
// *current* tree is parent: every op recorded against a node whose current
// parent is parent. This stays correct across moves — after a node moves,
// its insert and any prior payload ops are reachable under its new parent
// (§4.5).
func (d *Doc) OpRefsChildren(parent ids.NodeID) []ids.OpRef {
	var out []ids.OpRef
	for node, row := range d.nodes {
		if row.Parent != parent {
			continue
		}
		out = append(out, d.opsByNode[node]...)
	}
	return out
}

// Row returns the current row for node, or nil if untracked.
func (d *Doc) Row(node ids.NodeID) *NodeRow {
	r := d.row(node)
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// Exists reports whether node has ever been tracked (inserted or moved).
func (d *Doc) Exists(node ids.NodeID) bool {
	_, ok := d.nodes[node]
	return ok
}
