// Package riblt implements set reconciliation over 16-byte OpRef symbols
// using rateless invertible Bloom lookup tables (§4.7): each side streams a
// deterministic codeword sequence for a filter/round, and a peeling decoder
// recovers the symmetric difference once enough codewords have arrived.
//
// There is no mature third-party RIBLT implementation among the example
// repositories or in the broader ecosystem at the quality bar this module
// needs, so this package is built on the standard library only (see
// DESIGN.md); it borrows the bloom package's idiom of small composable
// functions over an explicit, versioned wire layout rather than its fixed
// Bloom filter code.
package riblt

import (
	"encoding/binary"

	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
	"github.com/cybersemics/treecrdt-sub002/ids"
)

// CodedSymbol is one cell of the codeword stream: {count, key_sum, value_sum}
// as defined in §4.7.
type CodedSymbol struct {
	Count    int32
	KeySum   [16]byte
	ValueSum [16]byte
}

func xorInto(dst *[16]byte, src [16]byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// hashSymbol derives a symbol's value_sum contribution, domain-separated
// from the key sum so a colliding key_sum/value_sum pair cannot be forged
// by picking an adversarial ref.
func hashSymbol(ref ids.OpRef) [16]byte {
	return cryptoprim.BLAKE3Sum128([]byte("treecrdt/riblt-value/v1"), ref[:])
}

// isPure reports whether a cell decodes to exactly one symbol: count is
// ±1 and value_sum is that symbol's hash.
func isPure(c CodedSymbol) (ref ids.OpRef, sign int32, ok bool) {
	if c.Count != 1 && c.Count != -1 {
		return ids.OpRef{}, 0, false
	}
	if hashSymbol(ids.OpRef(c.KeySum)) != c.ValueSum {
		return ids.OpRef{}, 0, false
	}
	return ids.OpRef(c.KeySum), c.Count, true
}

// add merges a single ref's contribution into c with the given sign
// (+1 to add a symbol, -1 to remove/peel one).
func (c *CodedSymbol) add(ref ids.OpRef, sign int32) {
	xorInto(&c.KeySum, ref)
	xorInto(&c.ValueSum, hashSymbol(ref))
	c.Count += sign
}

// sub combines two coded symbols, e.g. diff = peer - local.
func sub(a, b CodedSymbol) CodedSymbol {
	out := CodedSymbol{Count: a.Count - b.Count}
	xorInto(&out.KeySum, a.KeySum)
	xorInto(&out.KeySum, b.KeySum)
	xorInto(&out.ValueSum, a.ValueSum)
	xorInto(&out.ValueSum, b.ValueSum)
	return out
}

func deriveSeed(filterID []byte, round uint32, ref ids.OpRef) uint64 {
	var roundb [4]byte
	binary.BigEndian.PutUint32(roundb[:], round)
	h := cryptoprim.BLAKE3Sum128([]byte("treecrdt/riblt-seed/v1"), filterID, roundb[:], ref[:])
	return binary.BigEndian.Uint64(h[:8])
}
