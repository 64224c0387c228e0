package store

import (
	"log/slog"
	"time"
)

// Config holds configuration for the Store.
type Config struct {
	// Addr is the engine address as "host:port".
	// Default: "localhost:6379"
	Addr string

	// DB selects the engine database index. All keys the store owns live
	// in this database, so Flush is scoped to it.
	// Default: 0
	DB int

	// PoolSize caps the connection pool.
	// Default: 0 (driver default, 10 per CPU)
	PoolSize int

	// MaxRetries bounds the optimistic attempts per operation. When every
	// attempt is invalidated by concurrent writers the operation returns
	// ErrConflict.
	// Default: 5
	MaxRetries int

	// RetryBackoff is the delay before the second attempt. It doubles on
	// each further attempt, with jitter, up to MaxRetryBackoff.
	// Default: 10ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the doubling.
	// Default: 160ms
	MaxRetryBackoff time.Duration

	// Logger receives structured operation logs.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for a local engine.
func DefaultConfig() Config {
	return Config{
		Addr:            "localhost:6379",
		MaxRetries:      5,
		RetryBackoff:    10 * time.Millisecond,
		MaxRetryBackoff: 160 * time.Millisecond,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.DB < 0 {
		c.DB = 0
	}
	if c.PoolSize < 0 {
		c.PoolSize = 0
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 10 * time.Millisecond
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		c.MaxRetryBackoff = c.RetryBackoff
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
