package cryptoprim

import "github.com/fxamacker/cbor/v2"

// NewDeterministicEncOptions returns CBOR encode options implementing RFC
// 8949 core deterministic encoding: canonical (shortest-form, sorted-map-key)
// output, matching the teacher's own
// massifs/cbor.NewDeterministicEncOpts / commoncbor.NewDeterministicEncOpts
// convention of centralizing encode options rather than leaving them to
// call-site defaults.
func NewDeterministicEncOptions() cbor.EncOptions {
	return cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		Time:        cbor.TimeUnix,
		ShortestFloat: cbor.ShortestFloat16,
		NaNConvert:  cbor.NaNConvert7e00,
		InfConvert:  cbor.InfConvertFloat16,
		IndefLength: cbor.IndefLengthForbidden,
		TagsMd:      cbor.TagsAllowed,
	}
}

// NewDeterministicDecOptions returns matching decode options: no duplicate
// map keys, no indefinite-length items, signed integers retained as int64.
func NewDeterministicDecOptions() cbor.DecOptions {
	return cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
		IntDec:      cbor.IntDecConvertNone,
		TagsMd:      cbor.TagsAllowed,
	}
}

// Codec bundles a matched encode/decode mode pair, mirroring the teacher's
// massifs/cbor.CBORCodec.
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCodec builds a Codec using the deterministic options above.
func NewCodec() (Codec, error) {
	enc, err := NewDeterministicEncOptions().EncMode()
	if err != nil {
		return Codec{}, err
	}
	dec, err := NewDeterministicDecOptions().DecMode()
	if err != nil {
		return Codec{}, err
	}
	return Codec{enc: enc, dec: dec}, nil
}

// Marshal encodes v using deterministic CBOR.
func (c Codec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

// Unmarshal decodes CBOR bytes into v.
func (c Codec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}
