// Package capability implements device/replica certificates and CWT-shaped
// capability tokens (§4.4): COSE_Sign1 envelopes over CBOR claims, with
// subtree scope, actions, delegation chains and revocation.
package capability

import "github.com/cybersemics/treecrdt-sub002/ids"

// Action names a capability a token grants over a scope.
type Action string

const (
	ActionReadStructure  Action = "read_structure"
	ActionReadPayload    Action = "read_payload"
	ActionWriteStructure Action = "write_structure"
	ActionWritePayload   Action = "write_payload"
	ActionDelete         Action = "delete"
	ActionTombstone      Action = "tombstone"
	ActionGrant          Action = "grant"
)

// Has reports whether actions contains a.
func hasAction(actions []Action, a Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

// Resource names the subtree a grant applies to: rooted at Root, optionally
// bounded by MaxDepth edges, with Exclude nodes carved out.
type Resource struct {
	DocID    []byte       `cbor:"doc_id"`
	Root     *ids.NodeID  `cbor:"root,omitempty"`
	MaxDepth *int         `cbor:"max_depth,omitempty"`
	Exclude  []ids.NodeID `cbor:"exclude,omitempty"`
}

// EffectiveRoot returns the scope's root, defaulting to ids.ROOT when unset
// (a token with no explicit root scopes the whole document).
func (r Resource) EffectiveRoot() ids.NodeID {
	if r.Root == nil {
		return ids.ROOT
	}
	return *r.Root
}

// Grant pairs a resource scope with the actions it authorizes.
type Grant struct {
	Res     Resource `cbor:"res"`
	Actions []Action `cbor:"actions"`
}

// Confirmation is the CWT cnf claim: the token subject's public key and
// derived key id.
type Confirmation struct {
	Pub []byte `cbor:"pub"`
	Kid []byte `cbor:"kid,omitempty"`
}

// Claims is the CBOR payload of a capability token's COSE_Sign1 envelope,
// using the CWT numeric claim labels from §4.4.
type Claims struct {
	Aud             []string     `cbor:"3,keyasint"`
	Exp             *int64       `cbor:"4,keyasint,omitempty"`
	Nbf             *int64       `cbor:"5,keyasint,omitempty"`
	Cnf             Confirmation `cbor:"8,keyasint"`
	Caps            []Grant      `cbor:"-1,keyasint"`
	DelegationProof []byte       `cbor:"-2,keyasint,omitempty"`
}

// grantsForDoc returns the caps entries scoped to docID (scope/target
// containment is checked by the caller's scope evaluator, not here).
func (c Claims) grantsForDoc(docID string) []Grant {
	var out []Grant
	for _, g := range c.Caps {
		if string(g.Res.DocID) == docID {
			out = append(out, g)
		}
	}
	return out
}

// GrantsForDoc is the exported form of grantsForDoc, used by opauth's
// verification path.
func (c Claims) GrantsForDoc(docID string) []Grant { return c.grantsForDoc(docID) }
