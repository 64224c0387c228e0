package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// outcome classifies one optimistic attempt.
type outcome int

const (
	// committed: the attempt's writes executed atomically.
	committed outcome = iota
	// aborted: a watched key changed between watch and commit; the engine
	// discarded the whole batch. Retryable.
	aborted
	// failed: a validation or transport error. terminal decides whether a
	// retry can help.
	failed
)

func classify(err error) outcome {
	switch {
	case err == nil:
		return committed
	case errors.Is(err, redis.TxFailedErr):
		return aborted
	default:
		return failed
	}
}

// terminal reports whether err is an outcome retrying cannot change.
func terminal(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrParentNotFound) ||
		errors.Is(err, ErrIndexInconsistency) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &ve)
}

// session is a single optimistic attempt. The keys the operation depends on
// are watched before the session runs, every read materializes a concrete Go
// value, and commit executes writes derived only from those values as one
// atomic batch. A session lives for exactly one attempt; retries get a fresh
// one with a fresh watch.
type session struct {
	ctx context.Context
	tx  *redis.Tx
}

// attrMap reads a whole hash. A missing key yields an empty map.
func (s *session) attrMap(key string) (map[string]string, error) {
	return s.tx.HGetAll(s.ctx, key).Result()
}

// pointer reads a string key. A missing key yields "".
func (s *session) pointer(key string) (string, error) {
	val, err := s.tx.Get(s.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// members reads a whole set. A missing key yields an empty slice.
func (s *session) members(key string) ([]string, error) {
	return s.tx.SMembers(s.ctx, key).Result()
}

func (s *session) exists(key string) (bool, error) {
	n, err := s.tx.Exists(s.ctx, key).Result()
	return n > 0, err
}

// commit runs build to queue writes, then executes them as one MULTI/EXEC
// block. build must not touch the engine: the batch accepts plain strings,
// slices, and maps, so a commit can never grow beyond what the read phase
// materialized.
func (s *session) commit(build func(w *writeBatch)) error {
	_, err := s.tx.TxPipelined(s.ctx, func(pipe redis.Pipeliner) error {
		build(&writeBatch{ctx: s.ctx, pipe: pipe})
		return nil
	})
	return err
}

// writeBatch queues engine writes inside a commit. It exposes no reads.
type writeBatch struct {
	ctx  context.Context
	pipe redis.Pipeliner
	n    int
}

// queued reports how many commands the batch holds.
func (w *writeBatch) queued() int { return w.n }

func (w *writeBatch) setFields(key string, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	w.pipe.HSet(w.ctx, key, fields)
	w.n++
}

func (w *writeBatch) delFields(key string, fields ...string) {
	if len(fields) == 0 {
		return
	}
	w.pipe.HDel(w.ctx, key, fields...)
	w.n++
}

func (w *writeBatch) setPointer(key, val string) {
	w.pipe.Set(w.ctx, key, val, 0)
	w.n++
}

func (w *writeBatch) addMembers(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	w.pipe.SAdd(w.ctx, key, anySlice(members)...)
	w.n++
}

func (w *writeBatch) removeMembers(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	w.pipe.SRem(w.ctx, key, anySlice(members)...)
	w.n++
}

func (w *writeBatch) del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	w.pipe.Del(w.ctx, keys...)
	w.n++
}

func anySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// runSession drives the bounded retry loop for one mutating operation. Each
// attempt watches watchKeys and runs fn with a fresh session. Terminal errors
// surface immediately; aborts and transport errors retry with doubling
// jittered backoff until the attempt budget runs out, then surface as
// ErrConflict or the last transport error.
func (s *Store) runSession(ctx context.Context, op string, watchKeys []string, fn func(sess *session) error) error {
	backoff := s.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			return fn(&session{ctx: ctx, tx: tx})
		}, watchKeys...)

		switch classify(err) {
		case committed:
			if attempt > 1 {
				s.logger.Debug("committed after retry", "op", op, "attempt", attempt)
			}
			return nil
		case aborted:
			s.logger.Warn("optimistic attempt invalidated",
				"op", op, "attempt", attempt, "maxRetries", s.cfg.MaxRetries)
		case failed:
			if terminal(err) {
				return err
			}
			s.logger.Warn("engine error, retrying",
				"op", op, "attempt", attempt, "error", err)
		}
		lastErr = err

		if attempt == s.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(backoff)):
		}
		if backoff *= 2; backoff > s.cfg.MaxRetryBackoff {
			backoff = s.cfg.MaxRetryBackoff
		}
	}

	if errors.Is(lastErr, redis.TxFailedErr) {
		return fmt.Errorf("%s: %w (%d attempts)", op, ErrConflict, s.cfg.MaxRetries)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

// jitter spreads a delay uniformly over [d/2, 3d/2) so concurrent retriers
// don't stampede in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
