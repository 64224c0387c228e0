// Package store provides a transactional entity-tree layer over Redis with
// reverse attribute indexes.
//
// Arbor models a forest of entities. Each entity has a generated id, a map of
// scalar attributes (strings, numbers, booleans), a single parent, and a set
// of children. The conceptual root of the forest is the [Root] sentinel,
// which is never stored. Every attribute value is mirrored into a reverse
// index so entities can be looked up by value.
//
// # Key Features
//
//   - Parent validation on child creation (atomic)
//   - Atomic delete with child reparenting onto the former parent
//   - Reverse value indexes maintained in the same commit as the data
//   - Optimistic concurrency with bounded, jittered retries
//   - Read snapshots fully materialized before any write is queued
//
// # Concurrency
//
// Mutations run as optimistic attempts: the keys an operation depends on are
// watched, current state is read into plain Go values, and all writes execute
// as one atomic batch that the engine discards if any watched key changed.
// Aborted attempts retry up to Config.MaxRetries times with doubling jittered
// backoff; operations whose writers never win return [ErrConflict].
//
// # Configuration
//
// Use [DefaultConfig] and [Connect] for a local engine, or [New] to inject a
// shared client:
//
//	cfg := store.DefaultConfig()
//	cfg.Addr = "redis-primary:6379"
//	s := store.Connect(cfg)
//	defer s.Close()
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - entity doesn't exist
//   - [ErrParentNotFound] - parent validation failed
//   - [ErrConflict] - every optimistic attempt was invalidated
//   - [ErrIndexInconsistency] - stored state failed an internal check
//   - [ValidationError] - input rejected before reaching the engine
//
// # Key Layout
//
// One entity occupies entity:<id> (attribute hash), parent:<id> (pointer and
// existence witness), and children:<id> (child id set). Each attribute value
// adds the entity's id to index:<attr>:<typed-term>. The layout is internal
// but stable; the search package builds on it.
package store
