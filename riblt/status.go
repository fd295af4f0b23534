package riblt

import "github.com/cybersemics/treecrdt-sub002/ids"

// Status is the outcome reported in a RibltStatus sync message (§6.2):
// either reconciliation succeeded within the round budget, or the window
// grew past MaxRoundSymbols and the peers must fall back to a full
// op-ref exchange instead.
type Status struct {
	Success       bool
	LocalMissing  []ids.OpRef
	RemoteMissing []ids.OpRef
	Exhausted     bool
}

// MaxRoundSymbols bounds how large a single reconciliation window is
// allowed to grow before a sync session gives up on RIBLT and falls back
// to exchanging full op-ref sets (§4.7 round budget).
const MaxRoundSymbols = 4096

// FromDecodeResult wraps a decoder's current state into a wire-shaped
// Status, and observes the round budget.
func FromDecodeResult(r DecodeResult, symbolsSent int) Status {
	if symbolsSent >= MaxRoundSymbols && !r.Decoded {
		return Status{Exhausted: true}
	}
	return Status{
		Success:       r.Decoded,
		LocalMissing:  r.LocalMissing,
		RemoteMissing: r.RemoteMissing,
	}
}
