package riblt

import "github.com/cybersemics/treecrdt-sub002/ids"

// Encoder produces codewords for a fixed local set of OpRefs over a named
// filter (the filter_id scopes the deterministic seed so two unrelated
// reconciliations over the same refs don't share a mapping, §4.7).
type Encoder struct {
	filterID []byte
	round    uint32
	refs     []ids.OpRef
}

func NewEncoder(filterID []byte, round uint32, refs []ids.OpRef) *Encoder {
	cp := make([]ids.OpRef, len(refs))
	copy(cp, refs)
	return &Encoder{filterID: filterID, round: round, refs: cp}
}

// Codewords recomputes the coded symbols for codeword indices
// [startIndex, startIndex+count). Each call is O(len(refs) * indices
// visited), recomputed from scratch: acceptable for the set sizes this
// module reconciles (single documents' op logs), not a high-throughput
// sync substrate.
func (e *Encoder) Codewords(startIndex int64, count int) []CodedSymbol {
	out := make([]CodedSymbol, count)
	for _, ref := range e.refs {
		addContribution(out, deriveSeed(e.filterID, e.round, ref), ref, startIndex, count, 1)
	}
	return out
}

// addContribution adds (sign=1) or removes (sign=-1) ref's contribution to
// every cell it maps into within [startIndex, startIndex+count).
func addContribution(window []CodedSymbol, seed uint64, ref ids.OpRef, startIndex int64, count int, sign int32) {
	m := newRandomMapping(seed)
	for {
		i := m.nextIndex()
		if i >= startIndex+int64(count) {
			return
		}
		if i >= startIndex {
			window[i-startIndex].add(ref, sign)
		}
	}
}
