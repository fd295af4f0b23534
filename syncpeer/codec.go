package syncpeer

import (
	"fmt"

	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
)

// Codec maps Message to and from the bytes a transport.Duplex exchanges,
// satisfying §6.2's "codec wrapper that maps SyncMessage ↔ bytes".
type Codec struct {
	inner cryptoprim.Codec
}

func NewCodec() (Codec, error) {
	inner, err := cryptoprim.NewCodec()
	if err != nil {
		return Codec{}, err
	}
	return Codec{inner: inner}, nil
}

func (c Codec) Encode(msg *Message) ([]byte, error) {
	data, err := c.inner.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("syncpeer: encode: %w", err)
	}
	return data, nil
}

func (c Codec) Decode(data []byte) (*Message, error) {
	var msg Message
	if err := c.inner.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("syncpeer: decode: %w", err)
	}
	return &msg, nil
}
