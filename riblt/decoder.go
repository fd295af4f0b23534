package riblt

import "github.com/cybersemics/treecrdt-sub002/ids"

// DecodeResult reports the symmetric difference discovered so far. Naming
// is from the local decoder's point of view: LocalMissing are refs the
// remote peer has and local does not (local should request/receive them);
// RemoteMissing are refs local has and the remote peer does not (local
// should offer them).
type DecodeResult struct {
	LocalMissing  []ids.OpRef
	RemoteMissing []ids.OpRef
	Decoded       bool // true once the window has no undecoded non-zero cells
}

// Decoder peels a growing window of diff cells (remote codeword minus the
// matching local codeword) until every cell is either zero (both sides
// agree on that region) or has been resolved to a single ref.
type Decoder struct {
	filterID []byte
	round    uint32
	local    *Encoder

	window     []CodedSymbol
	resolved   []bool
	localMiss  []ids.OpRef
	remoteMiss []ids.OpRef
}

// NewDecoder builds a decoder for the given local ref set, reconciling
// against a remote peer's codewords for the same filter_id/round.
func NewDecoder(filterID []byte, round uint32, localRefs []ids.OpRef) *Decoder {
	return &Decoder{
		filterID: filterID,
		round:    round,
		local:    NewEncoder(filterID, round, localRefs),
	}
}

// AddPeerCodewords extends the window with a fresh batch of remote
// codewords covering [startIndex, startIndex+len(remote)), diffs them
// against the matching local codewords, and peels as far as it can.
func (d *Decoder) AddPeerCodewords(startIndex int64, remote []CodedSymbol) DecodeResult {
	count := len(remote)
	if startIndex != int64(len(d.window)) {
		// Callers are expected to stream contiguous, increasing windows
		// (§4.7 round sequencing); anything else is a protocol error the
		// caller should surface as a sync error rather than silently drop.
		panic("riblt: non-contiguous codeword window")
	}
	local := d.local.Codewords(startIndex, count)
	for i := 0; i < count; i++ {
		d.window = append(d.window, sub(remote[i], local[i]))
		d.resolved = append(d.resolved, false)
	}
	d.peel()
	return DecodeResult{
		LocalMissing:  append([]ids.OpRef(nil), d.localMiss...),
		RemoteMissing: append([]ids.OpRef(nil), d.remoteMiss...),
		Decoded:       d.fullyResolved(),
	}
}

func (d *Decoder) fullyResolved() bool {
	for i, r := range d.resolved {
		if r {
			continue
		}
		if d.window[i].Count == 0 && d.window[i].KeySum == ([16]byte{}) && d.window[i].ValueSum == ([16]byte{}) {
			continue
		}
		return false
	}
	return true
}

// peel repeatedly finds pure cells and removes the discovered ref's
// contribution from the whole window, until no further progress is made.
func (d *Decoder) peel() {
	for {
		progressed := false
		for i, c := range d.window {
			if d.resolved[i] {
				continue
			}
			ref, sign, ok := isPure(c)
			if !ok {
				continue
			}
			d.resolved[i] = true
			progressed = true
			if sign > 0 {
				d.localMiss = append(d.localMiss, ref)
			} else {
				d.remoteMiss = append(d.remoteMiss, ref)
			}
			d.removeContribution(ref, -sign)
		}
		if !progressed {
			return
		}
	}
}

// removeContribution applies a peeled ref's contribution (with the given
// sign) to every still-unresolved cell it maps into. Resolved cells are
// skipped: a cell only reaches count ±1 purity when exactly one ref maps
// into it, so no later peel can legitimately touch it again.
func (d *Decoder) removeContribution(ref ids.OpRef, sign int32) {
	m := newRandomMapping(deriveSeed(d.filterID, d.round, ref))
	n := int64(len(d.window))
	for {
		i := m.nextIndex()
		if i >= n {
			return
		}
		if !d.resolved[i] {
			d.window[i].add(ref, sign)
		}
	}
}
