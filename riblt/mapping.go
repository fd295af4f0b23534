package riblt

import "math"

// randomMapping produces the deterministic, unbounded sequence of codeword
// indices a single ref contributes to. The sequence is a pure function of
// the ref's seed (§4.7: "each side, without talking to its peer, must
// produce an identical mapping"), implemented with the same geometric
// degree-spacing construction used by rateless IBLT designs generally:
// index gaps shrink like 1/sqrt(u) so low-index codewords see contributions
// from many refs and the decoder can start peeling early.
type randomMapping struct {
	prng      uint64
	lastIndex int64
}

func newRandomMapping(seed uint64) *randomMapping {
	if seed == 0 {
		seed = 1
	}
	return &randomMapping{prng: seed, lastIndex: -1}
}

// nextUint64 advances an xorshift64 generator.
func (m *randomMapping) nextUint64() uint64 {
	x := m.prng
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	m.prng = x
	return x
}

// nextIndex returns the next codeword index this ref contributes to.
func (m *randomMapping) nextIndex() int64 {
	u := float64(m.nextUint64()>>11) / float64(1<<53)
	if u <= 0 {
		u = 1e-18
	}
	gap := math.Ceil(float64(m.lastIndex+1) * (1/math.Sqrt(u) - 1))
	m.lastIndex += int64(gap) + 1
	return m.lastIndex
}
