package store

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/jacentio/arbor/internal/keys"
)

// relationshipIndex maintains the two sides of the tree adjacency: the parent
// pointer of each entity and the children set of each parent. The two are
// written together in the same commit so neither is ever observable without
// the other.
type relationshipIndex struct {
	client redis.UniversalClient
}

// link records id as a child of parent. The parent pointer written here is
// also the entity's existence witness.
func (r relationshipIndex) link(w *writeBatch, id, parent string) {
	w.setPointer(keys.Parent(id), parent)
	w.addMembers(keys.Children(parent), id)
}

// unlink removes id from its parent's children set and drops id's own
// relationship keys. Callers reparent id's children first.
func (r relationshipIndex) unlink(w *writeBatch, id, parent string) {
	w.removeMembers(keys.Children(parent), id)
	w.del(keys.Parent(id), keys.Children(id))
}

// reparent moves already-materialized children under newParent: one pointer
// write per child plus one membership write. The batch grows linearly with
// the child list and with nothing else.
func (r relationshipIndex) reparent(w *writeBatch, children []string, newParent string) {
	for _, child := range children {
		w.setPointer(keys.Parent(child), newParent)
	}
	w.addMembers(keys.Children(newParent), children...)
}

// childrenOf returns the direct child ids of id, in no particular order.
func (r relationshipIndex) childrenOf(ctx context.Context, id string) ([]string, error) {
	return r.client.SMembers(ctx, keys.Children(id)).Result()
}

// parentOf returns the parent id of id, or ErrNotFound for entities that
// don't exist. Root has no parent and reports ErrNotFound too.
func (r relationshipIndex) parentOf(ctx context.Context, id string) (string, error) {
	val, err := r.client.Get(ctx, keys.Parent(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}
