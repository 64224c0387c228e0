package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jacentio/arbor/internal/keys"
)

// Store provides transactional create, apply, and delete over the entity
// tree, plus the read-only traversal and index lookups. All methods are safe
// for concurrent use.
type Store struct {
	client redis.UniversalClient
	cfg    Config
	logger *slog.Logger

	rel relationshipIndex
	idx attributeIndex

	ownsClient bool
}

// New creates a Store around an injected engine client. The caller keeps
// ownership of the client; Close is a no-op. Addr, DB, and PoolSize in cfg
// are ignored.
func New(client redis.UniversalClient, cfg Config) *Store {
	cfg.validate()
	return &Store{
		client: client,
		cfg:    cfg,
		logger: cfg.Logger,
		rel:    relationshipIndex{client: client},
		idx:    attributeIndex{client: client},
	}
}

// Connect creates a Store with its own engine client built from cfg.
// Close releases the client's connection pool.
func Connect(cfg Config) *Store {
	cfg.validate()
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	s := New(client, cfg)
	s.ownsClient = true
	return s
}

// Client exposes the underlying engine handle for collaborators that build
// on the same key space, such as the search package.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Close releases the engine client if the Store owns it.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

// Create stores a new entity under parentID and returns it with its generated
// id. parentID must be Root or an existing entity; attrs may be nil. The new
// entity, its parent pointer, its membership in the parent's children set,
// and its index entries become visible atomically.
func (s *Store) Create(ctx context.Context, parentID string, attrs Attributes) (*Entity, error) {
	if !keys.ValidID(parentID) {
		return nil, &ValidationError{Field: "parent", Reason: "id must be non-empty and contain no ':'"}
	}
	if err := validateAttrs(attrs, false); err != nil {
		return nil, err
	}

	id := uuid.NewString()

	// Creating under Root needs no watch: Root always exists and is never
	// deleted. Under a real parent, the parent pointer key is the witness
	// that must survive until commit.
	var watch []string
	if parentID != Root {
		watch = []string{keys.Parent(parentID)}
	}

	err := s.runSession(ctx, "create", watch, func(sess *session) error {
		if parentID != Root {
			ok, err := sess.exists(keys.Parent(parentID))
			if err != nil {
				return err
			}
			if !ok {
				return ErrParentNotFound
			}
		}
		return sess.commit(func(w *writeBatch) {
			w.setFields(keys.Entity(id), encodeAttrs(attrs))
			s.rel.link(w, id, parentID)
			s.idx.add(w, id, attrs)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("entity created", "id", id, "parent", parentID, "attributes", len(attrs))
	return &Entity{ID: id, Parent: parentID, Attributes: attrs.Clone()}, nil
}

// Get fetches an entity by id. The attribute hash and the parent pointer are
// read in one atomic block, so a concurrent delete yields ErrNotFound rather
// than a half-removed entity.
func (s *Store) Get(ctx context.Context, id string) (*Entity, error) {
	if !keys.ValidID(id) {
		return nil, &ValidationError{Field: "id", Reason: "id must be non-empty and contain no ':'"}
	}

	var (
		attrCmd   *redis.MapStringStringCmd
		parentCmd *redis.StringCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		attrCmd = pipe.HGetAll(ctx, keys.Entity(id))
		parentCmd = pipe.Get(ctx, keys.Parent(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}

	parent, err := parentCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}

	fields, err := attrCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	attrs, err := decodeAttrs(fields)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w: %v", id, ErrIndexInconsistency, err)
	}

	return &Entity{ID: id, Parent: parent, Attributes: attrs}, nil
}

// Apply merges changes into an existing entity's attributes and keeps the
// reverse indexes in step, atomically. A change whose value is Unset removes
// that attribute; other attributes and the entity's relationships are
// untouched. An empty change set validates existence and changes nothing.
// Returns the resulting entity.
func (s *Store) Apply(ctx context.Context, id string, changes Attributes) (*Entity, error) {
	if !keys.ValidID(id) {
		return nil, &ValidationError{Field: "id", Reason: "id must be non-empty and contain no ':'"}
	}
	if err := validateAttrs(changes, true); err != nil {
		return nil, err
	}

	var result *Entity
	watch := []string{keys.Entity(id), keys.Parent(id)}
	err := s.runSession(ctx, "apply", watch, func(sess *session) error {
		parent, err := sess.pointer(keys.Parent(id))
		if err != nil {
			return err
		}
		if parent == "" {
			return ErrNotFound
		}

		fields, err := sess.attrMap(keys.Entity(id))
		if err != nil {
			return err
		}
		old, err := decodeAttrs(fields)
		if err != nil {
			return fmt.Errorf("apply %s: %w: %v", id, ErrIndexInconsistency, err)
		}

		next := old.Clone()
		var setFields map[string]string
		var delFields []string
		for name, v := range changes {
			if v.IsUnset() {
				if _, had := old[name]; had {
					delFields = append(delFields, name)
					delete(next, name)
				}
				continue
			}
			if setFields == nil {
				setFields = make(map[string]string, len(changes))
			}
			setFields[name] = v.term()
			next[name] = v
		}

		err = sess.commit(func(w *writeBatch) {
			s.idx.applyDiff(w, id, old, changes)
			w.setFields(keys.Entity(id), setFields)
			w.delFields(keys.Entity(id), delFields...)
		})
		if err != nil {
			return err
		}
		result = &Entity{ID: id, Parent: parent, Attributes: next}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("entity updated", "id", id, "changed", len(changes))
	return result, nil
}

// deleteSnapshot is the fully materialized read-phase state a delete commits
// from. All three parts are plain values: the commit grows with them and
// with nothing else.
type deleteSnapshot struct {
	attrs    Attributes
	parent   string
	children []string
}

// Delete removes an entity and splices its children onto its former parent.
// The entity's attributes, index entries, parent pointer, and membership in
// the parent's children set all disappear in the same atomic commit that
// rehomes the children, so no reader ever observes a dangling reference.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !keys.ValidID(id) {
		return &ValidationError{Field: "id", Reason: "id must be non-empty and contain no ':'"}
	}

	var reparented int
	watch := []string{keys.Entity(id), keys.Parent(id), keys.Children(id)}
	err := s.runSession(ctx, "delete", watch, func(sess *session) error {
		snap, err := readForDelete(sess, id)
		if err != nil {
			return err
		}
		err = sess.commit(func(w *writeBatch) {
			s.deleteWrites(w, id, snap)
		})
		if err != nil {
			return err
		}
		reparented = len(snap.children)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("entity deleted", "id", id, "childrenReparented", reparented)
	return nil
}

// readForDelete materializes everything a delete needs before its commit.
func readForDelete(sess *session, id string) (deleteSnapshot, error) {
	parent, err := sess.pointer(keys.Parent(id))
	if err != nil {
		return deleteSnapshot{}, err
	}
	if parent == "" {
		return deleteSnapshot{}, ErrNotFound
	}

	fields, err := sess.attrMap(keys.Entity(id))
	if err != nil {
		return deleteSnapshot{}, err
	}
	attrs, err := decodeAttrs(fields)
	if err != nil {
		return deleteSnapshot{}, fmt.Errorf("delete %s: %w: %v", id, ErrIndexInconsistency, err)
	}

	children, err := sess.members(keys.Children(id))
	if err != nil {
		return deleteSnapshot{}, err
	}

	return deleteSnapshot{attrs: attrs, parent: parent, children: children}, nil
}

// deleteWrites queues the full removal: index entries, the attribute hash,
// the children's new home, and the entity's relationship keys. Command count
// is len(attrs) + len(children) + a small constant.
func (s *Store) deleteWrites(w *writeBatch, id string, snap deleteSnapshot) {
	s.idx.removeAll(w, id, snap.attrs)
	w.del(keys.Entity(id))
	s.rel.reparent(w, snap.children, snap.parent)
	s.rel.unlink(w, id, snap.parent)
}

// ChildrenOf returns the ids of id's direct children, in no particular
// order. Root lists the top-level entities. A missing or leaf entity yields
// an empty slice.
func (s *Store) ChildrenOf(ctx context.Context, id string) ([]string, error) {
	if !keys.ValidID(id) {
		return nil, &ValidationError{Field: "id", Reason: "id must be non-empty and contain no ':'"}
	}
	return s.rel.childrenOf(ctx, id)
}

// ParentOf returns the parent id of id, or ErrNotFound if id is not stored.
func (s *Store) ParentOf(ctx context.Context, id string) (string, error) {
	if !keys.ValidID(id) {
		return "", &ValidationError{Field: "id", Reason: "id must be non-empty and contain no ':'"}
	}
	return s.rel.parentOf(ctx, id)
}

// IterateIndex returns the ids of entities whose attribute attr currently
// holds value. Results reflect committed state only.
func (s *Store) IterateIndex(ctx context.Context, attr string, value Value) ([]string, error) {
	if !keys.ValidAttr(attr) {
		return nil, &ValidationError{Field: attr, Reason: "attribute name must be non-empty and contain no ':'"}
	}
	switch value.Kind() {
	case KindString, KindNumber, KindBool:
	default:
		return nil, &ValidationError{Field: attr, Reason: "value must be a string, number, or bool"}
	}
	return s.idx.iterate(ctx, attr, value)
}

// Flush removes every key in the configured database. Intended for tests and
// local bootstrap.
func (s *Store) Flush(ctx context.Context) error {
	return s.client.FlushDB(ctx).Err()
}
