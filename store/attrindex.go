package store

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/jacentio/arbor/internal/keys"
)

// attributeIndex maintains the reverse indexes mapping each (attribute,
// value) pair to the set of entity ids holding it. Like relationshipIndex,
// its write methods only queue commands on the commit batch, derived from
// values the read phase already materialized.
type attributeIndex struct {
	client redis.UniversalClient
}

// add indexes id under every pair in attrs. Used by create.
func (a attributeIndex) add(w *writeBatch, id string, attrs Attributes) {
	for name, v := range attrs {
		w.addMembers(keys.Index(name, v.term()), id)
	}
}

// removeAll drops every index entry attrs holds for id. Used by delete with
// the entity's full attribute snapshot.
func (a attributeIndex) removeAll(w *writeBatch, id string, attrs Attributes) {
	for name, v := range attrs {
		w.removeMembers(keys.Index(name, v.term()), id)
	}
}

// applyDiff updates the indexes for exactly the attributes an apply touches:
// the old entry goes away when the attribute had a value, and a new entry
// appears unless the change is a removal. Untouched attributes cost nothing.
func (a attributeIndex) applyDiff(w *writeBatch, id string, old, changes Attributes) {
	for name, next := range changes {
		if prev, ok := old[name]; ok {
			w.removeMembers(keys.Index(name, prev.term()), id)
		}
		if !next.IsUnset() {
			w.addMembers(keys.Index(name, next.term()), id)
		}
	}
}

// iterate returns the ids currently indexed under (attr, value).
func (a attributeIndex) iterate(ctx context.Context, attr string, v Value) ([]string, error) {
	return a.client.SMembers(ctx, keys.Index(attr, v.term())).Result()
}
