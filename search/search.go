// Package search finds entities by attribute values, glob patterns, and
// parent, using the reverse indexes the store maintains.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jacentio/arbor/internal/keys"
	"github.com/jacentio/arbor/store"
)

const (
	// scanBatch is the COUNT hint for index key scans.
	scanBatch = 1000

	// scratchTTL bounds the life of staging keys. Long enough for any
	// in-flight intersection, short enough to never accumulate.
	scratchTTL = 60 * time.Second
)

// Query selects entities. All criteria must hold; an entity matches when it
// satisfies every exact match, every pattern, and the parent filter.
type Query struct {
	// Parent, when non-empty, restricts matches to direct children of this
	// id. Use store.Root for top-level entities.
	Parent string

	// Match requires attributes to hold exact values.
	Match store.Attributes

	// Patterns requires string attributes to match glob patterns
	// (*, ?, [...]). Non-string values never match a pattern.
	Patterns map[string]string
}

// Finder answers queries against a Store's key space. Results reflect
// committed state as of the intersection; entities deleted mid-query are
// dropped rather than returned half-read.
type Finder struct {
	store  *store.Store
	client redis.UniversalClient
	logger *slog.Logger
}

// New creates a Finder over s.
func New(s *store.Store, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{
		store:  s,
		client: s.Client(),
		logger: logger,
	}
}

// Find returns the entities matching q, in no particular order. A query with
// no criteria matches nothing.
func (f *Finder) Find(ctx context.Context, q Query) ([]*store.Entity, error) {
	filters := make([]string, 0, 1+len(q.Match)+len(q.Patterns))

	if q.Parent != "" {
		if !keys.ValidID(q.Parent) {
			return nil, &store.ValidationError{Field: "parent", Reason: "id must be non-empty and contain no ':'"}
		}
		filters = append(filters, keys.Children(q.Parent))
	}

	for attr, v := range q.Match {
		t, err := exactTerm(attr, v)
		if err != nil {
			return nil, err
		}
		filters = append(filters, keys.Index(attr, t))
	}

	for attr, pattern := range q.Patterns {
		if !keys.ValidAttr(attr) {
			return nil, &store.ValidationError{Field: attr, Reason: "attribute name must be non-empty and contain no ':'"}
		}
		staged, ok, err := f.stagePattern(ctx, attr, pattern)
		if err != nil {
			return nil, err
		}
		if !ok {
			// No index key matches this pattern, so the intersection
			// is empty no matter what the other criteria say.
			return nil, nil
		}
		filters = append(filters, staged)
	}

	if len(filters) == 0 {
		f.logger.Warn("find called without criteria")
		return nil, nil
	}

	ids, err := f.client.SInter(ctx, filters...).Result()
	if err != nil {
		return nil, fmt.Errorf("intersect criteria: %w", err)
	}
	return f.fetch(ctx, ids)
}

// ByIndex materializes every entity whose attribute attr currently holds
// value. It is the entity-returning form of store.IterateIndex.
func (f *Finder) ByIndex(ctx context.Context, attr string, value store.Value) ([]*store.Entity, error) {
	ids, err := f.store.IterateIndex(ctx, attr, value)
	if err != nil {
		return nil, err
	}
	return f.fetch(ctx, ids)
}

// stagePattern scans the index keys of attr for string terms matching
// pattern and unions them into a scratch set. ok is false when nothing
// matched. The scratch key expires on its own; failures to set the TTL are
// logged and tolerated.
func (f *Finder) stagePattern(ctx context.Context, attr, pattern string) (key string, ok bool, err error) {
	match := keys.IndexPattern(attr, pattern)

	var hits []string
	iter := f.client.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		hits = append(hits, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return "", false, fmt.Errorf("scan index %q: %w", attr, err)
	}
	if len(hits) == 0 {
		return "", false, nil
	}

	staged := keys.Scratch(uuid.NewString())
	if err := f.client.SUnionStore(ctx, staged, hits...).Err(); err != nil {
		return "", false, fmt.Errorf("stage pattern %q: %w", pattern, err)
	}
	if err := f.client.Expire(ctx, staged, scratchTTL).Err(); err != nil {
		f.logger.Warn("failed to expire scratch key",
			"key", staged,
			"error", err,
		)
	}

	f.logger.Debug("staged pattern",
		"attribute", attr,
		"pattern", pattern,
		"indexKeys", len(hits),
	)
	return staged, true, nil
}

// fetch materializes entities for ids, skipping any deleted since the ids
// were computed.
func (f *Finder) fetch(ctx context.Context, ids []string) ([]*store.Entity, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	entities := make([]*store.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := f.store.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", id, err)
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// exactTerm encodes an exact-match value the way the indexes store it.
func exactTerm(attr string, v store.Value) (string, error) {
	if !keys.ValidAttr(attr) {
		return "", &store.ValidationError{Field: attr, Reason: "attribute name must be non-empty and contain no ':'"}
	}
	switch v.Kind() {
	case store.KindString:
		s, _ := v.AsString()
		return keys.StringTerm(s), nil
	case store.KindNumber:
		n, _ := v.AsNumber()
		return keys.NumberTerm(n), nil
	case store.KindBool:
		b, _ := v.AsBool()
		return keys.BoolTerm(b), nil
	}
	return "", &store.ValidationError{Field: attr, Reason: "value must be a string, number, or bool"}
}
