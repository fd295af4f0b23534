package wire

import (
	"fmt"

	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
)

// Auth is the per-op authorization envelope signed over EncodeOpSigInput,
// carrying an optional proof_ref identifying which local capability token
// authorized the signature (§4.6).
type Auth struct {
	Sig      []byte
	ProofRef *[16]byte
}

// SignedOperation pairs a wire Operation with its Auth envelope, the unit
// that crosses the wire in an OpsBatch (§4.8) and is persisted by a backend.
type SignedOperation struct {
	Op   Operation
	Auth Auth
}

// Codec marshals operations and signed operations to/from the deterministic
// CBOR wire envelope. See SPEC_FULL.md §6.3 for why CBOR stands in for the
// protobuf schema that is normative for cross-implementation interop: this
// module has no protoc toolchain available to generate and verify
// wire-compatible protobuf bindings.
type Codec struct {
	inner cryptoprim.Codec
}

// NewCodec constructs a wire Codec.
func NewCodec() (Codec, error) {
	inner, err := cryptoprim.NewCodec()
	if err != nil {
		return Codec{}, err
	}
	return Codec{inner: inner}, nil
}

// MarshalOp encodes a single Operation.
func (c Codec) MarshalOp(op *Operation) ([]byte, error) {
	if err := op.Validate(); err != nil {
		return nil, fmt.Errorf("wire: marshal op: %w", err)
	}
	return c.inner.Marshal(op)
}

// UnmarshalOp decodes a single Operation.
func (c Codec) UnmarshalOp(data []byte) (*Operation, error) {
	var op Operation
	if err := c.inner.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("wire: unmarshal op: %w", err)
	}
	if err := op.Validate(); err != nil {
		return nil, fmt.Errorf("wire: unmarshal op: %w", err)
	}
	return &op, nil
}

// MarshalSignedOp encodes a SignedOperation.
func (c Codec) MarshalSignedOp(sop *SignedOperation) ([]byte, error) {
	return c.inner.Marshal(sop)
}

// UnmarshalSignedOp decodes a SignedOperation.
func (c Codec) UnmarshalSignedOp(data []byte) (*SignedOperation, error) {
	var sop SignedOperation
	if err := c.inner.Unmarshal(data, &sop); err != nil {
		return nil, fmt.Errorf("wire: unmarshal signed op: %w", err)
	}
	return &sop, nil
}
