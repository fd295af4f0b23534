// Package syncpeer implements the sync peer protocol (C9, §4.8): session
// handshake, filter authorization, RIBLT reconciliation, and op transfer
// over a transport.Duplex.
package syncpeer

import "github.com/cybersemics/treecrdt-sub002/ids"

// ErrorCode enumerates SyncError codes (§4.8).
type ErrorCode string

const (
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrProtocol     ErrorCode = "PROTOCOL"
	ErrBackend      ErrorCode = "BACKEND"
	ErrDecodeFailed ErrorCode = "DECODE_FAILED"
	ErrCancelled    ErrorCode = "CANCELLED"
)

// Filter selects which op_refs a session reconciles: either the whole
// document or everything reachable under a subtree root. IntervalMS is only
// meaningful when the filter is used with SubscribeRequest/RunSubscribee: it
// sets the poll cadence between NotifyLocalUpdate wakeups (0 uses
// defaultSubscriptionInterval).
type Filter struct {
	ID         string
	All        bool
	Parent     *ids.NodeID
	IntervalMS uint32
}

// FilterID derives the deterministic filter_id fed into RIBLT seeding
// (§4.7), so both peers agree on it without negotiation beyond Hello.
func (f Filter) FilterID() string { return f.ID }

type RejectedFilter struct {
	ID      string
	Reason  ErrorCode
	Message string
}

// Hello is the first message of a session, sent by the initiator.
type Hello struct {
	Capabilities []string
	Filters      []Filter
	MaxLamport   uint64
}

// HelloAck answers Hello, reporting which filters the responder accepted.
type HelloAck struct {
	Capabilities    []string
	AcceptedFilters []string
	RejectedFilters []RejectedFilter
	MaxLamport      uint64
}

type RibltCodewords struct {
	FilterID   string
	Round      uint32
	StartIndex int64
	Codewords  []CodedSymbolWire
}

// CodedSymbolWire mirrors riblt.CodedSymbol in a transport-friendly shape
// (syncpeer does not import riblt's internal peeling state, only its
// symbol type's fields).
type CodedSymbolWire struct {
	Count    int32
	KeySum   [16]byte
	ValueSum [16]byte
}

type RibltStatus struct {
	FilterID string
	Round    uint32
	Decoded  bool
	// Populated when Decoded is true.
	SenderMissing    []ids.OpRef
	ReceiverMissing  []ids.OpRef
	CodewordsRecv    int
	// Populated when Decoded is false and the round budget is exhausted.
	Failed  bool
	Reason  ErrorCode
	Message string
}

type OpsBatch struct {
	FilterID string
	Ops      []SignedOpWire
	Done     bool
}

// SignedOpWire is the wire-codec'd bytes of one wire.SignedOperation,
// kept opaque here so syncpeer doesn't need to import cbor directly.
type SignedOpWire struct {
	Bytes []byte
}

type Subscribe struct {
	FilterID      string
	Filter        Filter
	IntervalMS    uint32
}

type SubscribeAck struct {
	FilterID string
	Accepted bool
	Reason   ErrorCode
}

type Unsubscribe struct {
	FilterID string
}

type SyncError struct {
	Code           ErrorCode
	Message        string
	FilterID       string
	SubscriptionID string
}

// Kind tags a Message's payload variant.
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindHelloAck
	KindRibltCodewords
	KindRibltStatus
	KindOpsBatch
	KindSubscribe
	KindSubscribeAck
	KindUnsubscribe
	KindSyncError
)

// Message is the SyncMessage envelope (§6.3): `v=0`, doc_id, and exactly
// one populated payload field per Kind.
type Message struct {
	V     uint32
	DocID []byte
	Kind  Kind

	Hello          *Hello
	HelloAck       *HelloAck
	RibltCodewords *RibltCodewords
	RibltStatus    *RibltStatus
	OpsBatch       *OpsBatch
	Subscribe      *Subscribe
	SubscribeAck   *SubscribeAck
	Unsubscribe    *Unsubscribe
	SyncError      *SyncError
}
