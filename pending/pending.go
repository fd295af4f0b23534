// Package pending implements the pending-ops store (C10): ops whose
// authorization returned Unknown (missing tree context) are parked here and
// replayed once new ops are applied that might resolve their scope (§4.6).
package pending

import (
	"github.com/cybersemics/treecrdt-sub002/ids"
	"github.com/cybersemics/treecrdt-sub002/wire"
)

// Entry is one parked op, keyed by (doc_id, op_ref).
type Entry struct {
	DocID    []byte
	OpRef    ids.OpRef
	Op       wire.Operation
	Auth     wire.Auth
	Reason   string
	Message  string
}

const ReasonMissingContext = "missing_context"

// Store holds parked ops for every document. Writes are serialized by the
// caller, matching the rest of the engine's per-doc exclusive mutation
// model (§5).
type Store struct {
	byDoc map[string]map[ids.OpRef]*Entry
}

// New creates an empty pending-ops store.
func New() *Store {
	return &Store{byDoc: make(map[string]map[ids.OpRef]*Entry)}
}

// Park records op as pending for docID.
func (s *Store) Park(docID []byte, op *wire.Operation, auth wire.Auth, message string) {
	ref := op.OpRef()
	bucket := s.byDoc[string(docID)]
	if bucket == nil {
		bucket = make(map[ids.OpRef]*Entry)
		s.byDoc[string(docID)] = bucket
	}
	bucket[ref] = &Entry{
		DocID: docID, OpRef: ref, Op: *op, Auth: auth,
		Reason: ReasonMissingContext, Message: message,
	}
}

// Remove discards a parked op, used once it has been successfully replayed
// or its governing token is found to be revoked.
func (s *Store) Remove(docID []byte, ref ids.OpRef) {
	bucket := s.byDoc[string(docID)]
	if bucket == nil {
		return
	}
	delete(bucket, ref)
}

// All returns every entry parked for docID, in no particular order.
func (s *Store) All(docID []byte) []*Entry {
	bucket := s.byDoc[string(docID)]
	out := make([]*Entry, 0, len(bucket))
	for _, e := range bucket {
		out = append(out, e)
	}
	return out
}

// Len reports how many ops are parked for docID.
func (s *Store) Len(docID []byte) int {
	return len(s.byDoc[string(docID)])
}
