package riblt

import (
	"sort"
	"testing"

	"github.com/cybersemics/treecrdt-sub002/ids"
	"github.com/stretchr/testify/require"
)

func ref(b byte) ids.OpRef {
	var r ids.OpRef
	r[len(r)-1] = b
	return r
}

func sortedRefs(rs []ids.OpRef) []ids.OpRef {
	out := append([]ids.OpRef(nil), rs...)
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

func TestDecoderPeelsSymmetricDifference(t *testing.T) {
	filterID := []byte("doc-1/subtree-root")
	shared := []ids.OpRef{ref(1), ref(2), ref(3), ref(4), ref(5)}
	localOnly := []ids.OpRef{ref(10), ref(11)}
	remoteOnly := []ids.OpRef{ref(20)}

	local := append(append([]ids.OpRef(nil), shared...), localOnly...)
	remote := append(append([]ids.OpRef(nil), shared...), remoteOnly...)

	enc := NewEncoder(filterID, 1, remote)
	dec := NewDecoder(filterID, 1, local)

	const batch = 8
	var result DecodeResult
	var start int64
	for i := 0; i < 20 && !result.Decoded; i++ {
		peerWindow := enc.Codewords(start, batch)
		result = dec.AddPeerCodewords(start, peerWindow)
		start += batch
	}

	require.True(t, result.Decoded, "decoder should converge within a handful of rounds")
	require.ElementsMatch(t, remoteOnly, result.LocalMissing)
	require.ElementsMatch(t, localOnly, result.RemoteMissing)
}

func TestDecoderConvergesWithIdenticalSets(t *testing.T) {
	filterID := []byte("doc-2/root")
	refs := []ids.OpRef{ref(1), ref(2), ref(3)}

	enc := NewEncoder(filterID, 0, refs)
	dec := NewDecoder(filterID, 0, refs)

	peerWindow := enc.Codewords(0, 4)
	result := dec.AddPeerCodewords(0, peerWindow)

	require.True(t, result.Decoded)
	require.Empty(t, result.LocalMissing)
	require.Empty(t, result.RemoteMissing)
}

func TestStatusReportsExhaustionPastBudget(t *testing.T) {
	r := DecodeResult{Decoded: false}
	st := FromDecodeResult(r, MaxRoundSymbols)
	require.True(t, st.Exhausted)
	require.False(t, st.Success)

	r2 := DecodeResult{Decoded: true, LocalMissing: []ids.OpRef{ref(9)}}
	st2 := FromDecodeResult(r2, 8)
	require.True(t, st2.Success)
	require.False(t, st2.Exhausted)
	require.Equal(t, sortedRefs([]ids.OpRef{ref(9)}), sortedRefs(st2.LocalMissing))
}
