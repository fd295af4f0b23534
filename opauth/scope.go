// Package opauth implements per-op signing and verification against
// capability tokens, the tri-state subtree scope evaluator, and the
// disposition logic that routes unauthorizable ops to the pending-ops store
// (§4.6).
package opauth

import (
	"github.com/cybersemics/treecrdt-sub002/capability"
	"github.com/cybersemics/treecrdt-sub002/ids"
	"github.com/cybersemics/treecrdt-sub002/tree"
)

// Disposition is the tri-state result of evaluating a token's scope against
// a target node.
type Disposition int

const (
	Deny Disposition = iota
	Unknown
	Allow
)

// TreeReader is the subset of *tree.Doc the scope evaluator needs: just
// enough to walk a node's parent chain.
type TreeReader interface {
	Row(node ids.NodeID) *tree.NodeRow
}

// EvaluateScope walks node's parent chain looking for scope's exclude list
// or its root, per §4.6:
//   - reaches a node in scope.Exclude before anything else → Deny
//   - reaches scope.EffectiveRoot() within scope.MaxDepth edges → Allow
//   - the chain terminates (no local row) before either → Unknown
func EvaluateScope(r TreeReader, scope capability.Resource, node ids.NodeID) Disposition {
	root := scope.EffectiveRoot()
	excluded := make(map[ids.NodeID]bool, len(scope.Exclude))
	for _, n := range scope.Exclude {
		excluded[n] = true
	}

	depth := 0
	cur := node
	for {
		if excluded[cur] {
			return Deny
		}
		if cur == root {
			if scope.MaxDepth == nil || depth <= *scope.MaxDepth {
				return Allow
			}
			return Deny
		}
		if cur.IsRoot() {
			// Reached the true document root without matching scope.root:
			// the chain terminated without satisfying scope, but we did
			// reach a known boundary — not unknown, just out of scope.
			return Deny
		}
		row := r.Row(cur)
		if row == nil {
			return Unknown
		}
		cur = row.Parent
		depth++
	}
}

// ORDisposition combines the Disposition a single op gets from multiple
// candidate tokens: allow > unknown > deny (§4.6).
func ORDisposition(ds []Disposition) Disposition {
	best := Deny
	for _, d := range ds {
		if d > best {
			best = d
		}
	}
	return best
}

// ANDDisposition combines the Dispositions required by a single op's
// multiple scope checks (e.g. move needs both source and destination):
// deny > unknown > allow (§4.6).
func ANDDisposition(ds []Disposition) Disposition {
	worst := Allow
	for _, d := range ds {
		if d < worst {
			worst = d
		}
	}
	return worst
}
