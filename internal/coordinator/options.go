package coordinator

import (
	"log/slog"
	"time"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultStoreTimeout  = 5 * time.Second
	DefaultMaxEntries    = 100000
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source used for every transition.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRetention sets how long sliding-window timestamps are kept.
func WithRetention(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithSweepInterval sets how often the expiry sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithMaxEntries caps the number of keys held in memory. Above the cap the
// sweeper evicts idle keys, least recently used first. Zero disables the cap.
func WithMaxEntries(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.maxEntries = n
		}
	}
}

// WithOwner sets the owner recorded on every durable record.
func WithOwner(owner string) Option {
	return func(c *Coordinator) {
		c.owner = owner
	}
}

// WithStoreTimeout bounds every durable store call made inside a region.
func WithStoreTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.storeTimeout = d
		}
	}
}

// WithPurgeOnStart runs PurgeExpired once when the sweeper starts.
func WithPurgeOnStart(enabled bool) Option {
	return func(c *Coordinator) {
		c.purgeOnStart = enabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}
