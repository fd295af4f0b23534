package ids

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// plainBytes has no cbor.Marshaler methods, so cbor.Marshal encodes it using
// the library's default byte-string representation instead of recursing
// back into NodeID/ReplicaID/OpRef's own MarshalCBOR.
type plainBytes []byte

// MarshalCBOR encodes a NodeID as a 16-byte CBOR byte string.
func (id NodeID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(plainBytes(id[:]))
}

// UnmarshalCBOR decodes a NodeID from a CBOR byte string.
func (id *NodeID) UnmarshalCBOR(data []byte) error {
	var b plainBytes
	if err := cbor.Unmarshal(data, &b); err != nil {
		return err
	}
	nid, ok := NodeIDFromBytes(b)
	if !ok {
		return fmt.Errorf("ids: NodeID must be %d bytes, got %d", NodeIDSize, len(b))
	}
	*id = nid
	return nil
}

// MarshalCBOR encodes a ReplicaID as a 32-byte CBOR byte string.
func (r ReplicaID) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(plainBytes(r[:]))
}

// UnmarshalCBOR decodes a ReplicaID from a CBOR byte string.
func (r *ReplicaID) UnmarshalCBOR(data []byte) error {
	var b plainBytes
	if err := cbor.Unmarshal(data, &b); err != nil {
		return err
	}
	rid, ok := ReplicaIDFromBytes(b)
	if !ok {
		return fmt.Errorf("ids: ReplicaID must be %d bytes, got %d", ReplicaIDSize, len(b))
	}
	*r = rid
	return nil
}

// MarshalCBOR encodes an OpRef as a 16-byte CBOR byte string.
func (r OpRef) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(plainBytes(r[:]))
}

// UnmarshalCBOR decodes an OpRef from a CBOR byte string.
func (r *OpRef) UnmarshalCBOR(data []byte) error {
	var b plainBytes
	if err := cbor.Unmarshal(data, &b); err != nil {
		return err
	}
	ref, ok := OpRefFromBytes(b)
	if !ok {
		return fmt.Errorf("ids: OpRef must be %d bytes, got %d", OpRefSize, len(b))
	}
	*r = ref
	return nil
}
