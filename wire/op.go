// Package wire defines the operation model (§3, §4.1) and its two encodings:
// the domain-separated signing preimage (encodeOpSigInput) and the
// deterministic CBOR wire envelope used between peers (codec.go).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
	"github.com/cybersemics/treecrdt-sub002/ids"
)

// Kind tags an Operation variant. Kinds are a closed, tagged set —
// exhaustiveness is required at every switch over Kind (§9 Design Notes).
type Kind uint8

const (
	KindInsert    Kind = 1
	KindMove      Kind = 2
	KindDelete    Kind = 3
	KindTombstone Kind = 4
	KindPayload   Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindMove:
		return "move"
	case KindDelete:
		return "delete"
	case KindTombstone:
		return "tombstone"
	case KindPayload:
		return "payload"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// KnownStateEntry is one replica's contribution to a known_state version
// vector: a frontier (all counters <= Frontier are known) plus explicit
// sparse ranges for replicas with gaps, per spec.md §9 Open Question.
type KnownStateEntry struct {
	Replica   ids.ReplicaID `cbor:"1,keyasint"`
	Frontier  uint64        `cbor:"2,keyasint"`
	Ranges    [][2]uint64   `cbor:"3,keyasint,omitempty"`
}

// KnownState is the version vector an emitter captures at delete time,
// canonically CBOR-encoded as {entries:[{replica,frontier,ranges}]}.
type KnownState struct {
	Entries []KnownStateEntry `cbor:"entries"`
}

// Covers reports whether this known_state would have observed an op with
// the given (replica, counter), i.e. the emitter of the delete had already
// seen that op at delete time.
func (ks *KnownState) Covers(replica ids.ReplicaID, counter uint64) bool {
	if ks == nil {
		return false
	}
	for _, e := range ks.Entries {
		if e.Replica != replica {
			continue
		}
		if counter <= e.Frontier {
			return true
		}
		for _, r := range e.Ranges {
			if counter >= r[0] && counter <= r[1] {
				return true
			}
		}
	}
	return false
}

// ErrMissingKnownState is returned by append paths when a delete op lacks
// known_state: without it a rebuild cannot replay defensive-delete
// semantics faithfully, so appends fail closed (§4.5).
var ErrMissingKnownState = errors.New("wire: delete op missing known_state")

// InsertFields carries the insert-op-specific data.
type InsertFields struct {
	Parent   ids.NodeID
	Node     ids.NodeID
	OrderKey ids.OrderKey
	Payload  []byte // nil means "no payload"
	HasPayload bool
}

// MoveFields carries the move-op-specific data.
type MoveFields struct {
	Node      ids.NodeID
	NewParent ids.NodeID
	OrderKey  ids.OrderKey
}

// DeleteFields carries the delete-op-specific data.
type DeleteFields struct {
	Node       ids.NodeID
	KnownState *KnownState
}

// TombstoneFields carries the tombstone-op-specific data.
type TombstoneFields struct {
	Node ids.NodeID
}

// PayloadFields carries the payload-update-op-specific data.
type PayloadFields struct {
	Node       ids.NodeID
	Payload    []byte // meaningless unless HasPayload
	HasPayload bool   // false means "clear to null"
}

// Meta is the metadata common to every operation.
type Meta struct {
	ID         ids.OpID
	Lamport    uint64
	KnownState *KnownState // only populated for delete ops
}

// Operation is the tagged union of the five op kinds. Exactly one of the
// Kind-matching field pointers is non-nil.
type Operation struct {
	DocID []byte
	Meta  Meta
	Kind  Kind

	Insert    *InsertFields
	Move      *MoveFields
	Delete    *DeleteFields
	Tombstone *TombstoneFields
	Payload   *PayloadFields
}

// Validate checks structural well-formedness and the fail-closed
// known_state requirement on delete ops.
func (op *Operation) Validate() error {
	switch op.Kind {
	case KindInsert:
		if op.Insert == nil {
			return fmt.Errorf("wire: insert op missing fields")
		}
	case KindMove:
		if op.Move == nil {
			return fmt.Errorf("wire: move op missing fields")
		}
	case KindDelete:
		if op.Delete == nil {
			return fmt.Errorf("wire: delete op missing fields")
		}
		if op.Delete.KnownState == nil {
			return ErrMissingKnownState
		}
	case KindTombstone:
		if op.Tombstone == nil {
			return fmt.Errorf("wire: tombstone op missing fields")
		}
	case KindPayload:
		if op.Payload == nil {
			return fmt.Errorf("wire: payload op missing fields")
		}
	default:
		return fmt.Errorf("wire: unknown op kind %v", op.Kind)
	}
	return nil
}

// RequiredActions returns the set of capability actions (§3, §4.6) this op
// requires. Move requires authorization checked against two targets (source
// node and destination parent); the caller performs both checks.
func (op *Operation) RequiredActions() []string {
	switch op.Kind {
	case KindInsert:
		actions := []string{"write_structure"}
		if op.Insert != nil && op.Insert.HasPayload {
			actions = append(actions, "write_payload")
		}
		return actions
	case KindMove:
		return []string{"write_structure"}
	case KindDelete:
		return []string{"delete"}
	case KindTombstone:
		return []string{"tombstone"}
	case KindPayload:
		return []string{"write_payload"}
	default:
		return nil
	}
}

// ScopeTargets returns the node(s) the scope evaluator must check for this
// op. Move returns two: the node itself (source) and the new parent
// (destination) — both must authorize per §9's closed privilege-escalation
// question.
func (op *Operation) ScopeTargets() []ids.NodeID {
	switch op.Kind {
	case KindInsert:
		return []ids.NodeID{op.Insert.Parent}
	case KindMove:
		return []ids.NodeID{op.Move.Node, op.Move.NewParent}
	case KindDelete:
		return []ids.NodeID{op.Delete.Node}
	case KindTombstone:
		return []ids.NodeID{op.Tombstone.Node}
	case KindPayload:
		return []ids.NodeID{op.Payload.Node}
	default:
		return nil
	}
}

// AffectedNodes returns every node whose visibility this op could reveal,
// for the outgoing sync filter (§4.6 "outgoing filter"). Unlike
// ScopeTargets, which only names the write-authorization checkpoint (and
// so, for insert, must stop at the parent — the new node has no row yet at
// sign time), this is evaluated against an already-materialized tree at
// send time, so it additionally includes the node an insert or move
// introduces or relocates. A node excluded from a peer's scope must never
// be revealed by the op that creates or moves it there.
func (op *Operation) AffectedNodes() []ids.NodeID {
	switch op.Kind {
	case KindInsert:
		return []ids.NodeID{op.Insert.Parent, op.Insert.Node}
	default:
		return op.ScopeTargets()
	}
}

func putLenPrefixed(buf []byte, data []byte) []byte {
	var lenb [4]byte
	binary.BigEndian.PutUint32(lenb[:], uint32(len(data)))
	buf = append(buf, lenb[:]...)
	buf = append(buf, data...)
	return buf
}

// EncodeOpSigInput produces the domain-separated signing preimage defined
// in §4.1. It depends only on the op's semantic content — never on wire
// framing or map key order (testable property 3).
func EncodeOpSigInput(op *Operation) ([]byte, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	var buf []byte
	buf = append(buf, []byte("treecrdt/op-sig/v1")...)
	buf = append(buf, 0x00)
	buf = putLenPrefixed(buf, op.DocID)
	buf = putLenPrefixed(buf, op.Meta.ID.Replica[:])

	var counterb, lamportb [8]byte
	binary.BigEndian.PutUint64(counterb[:], op.Meta.ID.Counter)
	binary.BigEndian.PutUint64(lamportb[:], op.Meta.Lamport)
	buf = append(buf, counterb[:]...)
	buf = append(buf, lamportb[:]...)
	buf = append(buf, byte(op.Kind))

	switch op.Kind {
	case KindInsert:
		f := op.Insert
		buf = append(buf, f.Parent[:]...)
		buf = append(buf, f.Node[:]...)
		buf = putLenPrefixed(buf, f.OrderKey)
		if f.HasPayload {
			buf = append(buf, 1)
			buf = putLenPrefixed(buf, f.Payload)
		} else {
			buf = append(buf, 0)
		}
	case KindMove:
		f := op.Move
		buf = append(buf, f.Node[:]...)
		buf = append(buf, f.NewParent[:]...)
		buf = putLenPrefixed(buf, f.OrderKey)
	case KindDelete:
		f := op.Delete
		buf = append(buf, f.Node[:]...)
		ksBytes, err := encodeKnownStateCanonical(f.KnownState)
		if err != nil {
			return nil, err
		}
		buf = putLenPrefixed(buf, ksBytes)
	case KindTombstone:
		f := op.Tombstone
		buf = append(buf, f.Node[:]...)
	case KindPayload:
		f := op.Payload
		buf = append(buf, f.Node[:]...)
		if f.HasPayload {
			buf = append(buf, 1)
			buf = putLenPrefixed(buf, f.Payload)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf, nil
}

func encodeKnownStateCanonical(ks *KnownState) ([]byte, error) {
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return nil, err
	}
	return codec.Marshal(ks)
}

// DecodeKnownStateCanonical decodes the deterministic CBOR form mandated by
// §9's open question. JSON decoding of legacy known_state payloads is left
// to callers migrating old deployments and is out of scope here.
func DecodeKnownStateCanonical(data []byte) (*KnownState, error) {
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return nil, err
	}
	var ks KnownState
	if err := codec.Unmarshal(data, &ks); err != nil {
		return nil, err
	}
	return &ks, nil
}

// ComputeOpRef derives the reconciliation key:
// BLAKE3("treecrdt/opref/v0" || doc_id || replica || counter)[0:16].
func ComputeOpRef(docID []byte, replica ids.ReplicaID, counter uint64) ids.OpRef {
	var counterb [8]byte
	binary.BigEndian.PutUint64(counterb[:], counter)
	return ids.OpRef(cryptoprim.BLAKE3Sum128([]byte("treecrdt/opref/v0"), docID, replica[:], counterb[:]))
}

// OpRef is a convenience accessor for an Operation's reconciliation key.
func (op *Operation) OpRef() ids.OpRef {
	return ComputeOpRef(op.DocID, op.Meta.ID.Replica, op.Meta.ID.Counter)
}
