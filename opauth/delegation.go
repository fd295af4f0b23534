package opauth

import "github.com/cybersemics/treecrdt-sub002/capability"

// DelegationScopeChecker implements capability.ScopeContainer using the
// tree-walking scope evaluator: a delegated grant's resource is contained
// in its proof's resource when the proof scope allows the delegated root,
// and the delegation does not drop any of the proof's exclusions.
type DelegationScopeChecker struct {
	Reader TreeReader
}

func (c DelegationScopeChecker) Contains(proof, delegated capability.Resource) (bool, error) {
	if EvaluateScope(c.Reader, proof, delegated.EffectiveRoot()) != Allow {
		return false, nil
	}
	excluded := make(map[string]bool, len(delegated.Exclude))
	for _, n := range delegated.Exclude {
		excluded[n.String()] = true
	}
	for _, n := range proof.Exclude {
		if !excluded[n.String()] {
			return false, nil
		}
	}
	if proof.MaxDepth != nil {
		if delegated.MaxDepth == nil || *delegated.MaxDepth > *proof.MaxDepth {
			return false, nil
		}
	}
	return true, nil
}
