package store

import "maps"

// Root is the sentinel parent id for top-level entities. It is a reference
// target only, never a stored entity: it cannot be fetched, changed, or
// deleted, and deleting its direct children reparents their subtrees to it.
const Root = "root"

// Entity is one node of the stored tree.
type Entity struct {
	// ID is the generated, immutable identifier.
	ID string

	// Parent is the id of the parent entity, or Root for top-level entities.
	Parent string

	// Attributes holds the entity's scalar attributes. Never contains
	// removal markers; may be empty.
	Attributes Attributes
}

// Attributes maps attribute names to scalar values.
type Attributes map[string]Value

// Clone returns an independent copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}
