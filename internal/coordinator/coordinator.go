// Package coordinator owns the in-memory limiter state of every key routed to
// this process and serializes all operations on a key through an exclusive
// region.
//
// Inside a key's region the coordinator lazily loads durable state on first
// use, runs one algorithm transition, and writes the result through to the
// durable store before publishing it in memory. Operations on different keys
// never wait on each other.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"ratekeeper/internal/models"
	"ratekeeper/internal/ratelimit"
	"ratekeeper/internal/storage"
)

// ErrClosed is returned by operations on a closed coordinator.
var ErrClosed = errors.New("coordinator closed")

// Transition computes a key's next state from its current state.
type Transition func(current ratelimit.State, now time.Time) (ratelimit.State, error)

// entry is the in-memory slot of one key.
type entry struct {
	// region is the key's exclusive execution region. Blocked senders are
	// admitted in arrival order.
	region chan struct{}

	// refs counts callers holding or waiting for the region. Guarded by
	// Coordinator.mu.
	refs int

	// loaded is set once durable state has been read. Guarded by region.
	loaded bool

	// state is the last committed state, nil until loaded. Written only
	// inside the region; read without it by Snapshot.
	state atomic.Pointer[ratelimit.State]

	lastUsed atomic.Int64
}

func newEntry() *entry {
	return &entry{region: make(chan struct{}, 1)}
}

func (e *entry) idleEmpty() bool {
	s := e.state.Load()
	return e.refs == 0 && (s == nil || s.Empty())
}

// Coordinator serializes limiter operations per key and persists every
// committed state through a storage.Storage.
type Coordinator struct {
	store         storage.Storage
	now           func() time.Time
	retention     time.Duration
	sweepInterval time.Duration
	maxEntries    int
	owner         string
	storeTimeout  time.Duration
	purgeOnStart  bool
	logger        *slog.Logger

	regionWait metric.Float64Histogram
	evictions  metric.Int64Counter

	mu      sync.Mutex
	entries map[string]*entry
	started bool
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a coordinator persisting through store. Call Start to run the
// expiry sweeper.
func New(store storage.Storage, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		store:         store,
		now:           time.Now,
		retention:     ratelimit.DefaultRetention,
		sweepInterval: DefaultSweepInterval,
		maxEntries:    DefaultMaxEntries,
		storeTimeout:  DefaultStoreTimeout,
		logger:        slog.Default(),
		entries:       make(map[string]*entry),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	meter := otel.Meter("ratekeeper/coordinator")

	var err error
	c.regionWait, err = meter.Float64Histogram(
		"coordinator.region.wait",
		metric.WithDescription("Time spent waiting to enter a key's exclusive region"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create region wait histogram: %w", err)
	}

	c.evictions, err = meter.Int64Counter(
		"coordinator.evictions",
		metric.WithDescription("Keys dropped from memory by the sweeper"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create eviction counter: %w", err)
	}

	_, err = meter.Int64ObservableGauge(
		"coordinator.keys",
		metric.WithDescription("Keys currently held in memory"),
		metric.WithUnit("{key}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(c.Len()))
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create key gauge: %w", err)
	}

	return c, nil
}

// Retention returns the sliding-window retention horizon.
func (c *Coordinator) Retention() time.Duration {
	return c.retention
}

// Now returns the current time of the coordinator's clock.
func (c *Coordinator) Now() time.Time {
	return c.now()
}

// Owner returns the owner recorded on durable records.
func (c *Coordinator) Owner() string {
	return c.owner
}

// Len returns the number of keys held in memory.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Apply runs fn inside key's exclusive region and commits its result.
//
// ctx only bounds the wait to enter the region. Once inside, the load, the
// transition and the write-through run to completion even if ctx is
// cancelled, so an abandoned caller never leaves a half-applied transition.
// If the write-through fails, the committed state is unchanged and a
// *PersistenceError is returned.
func (c *Coordinator) Apply(ctx context.Context, key string, fn Transition) error {
	e, err := c.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer c.release(key, e)

	bg := context.WithoutCancel(ctx)
	now := c.now()

	current, err := c.load(bg, key, e, now)
	if err != nil {
		return err
	}

	next, err := fn(current, now)
	if err != nil {
		return err
	}

	if !next.Equal(current) {
		if err := c.persist(bg, key, next, now); err != nil {
			return err
		}
	}
	e.state.Store(&next)
	e.lastUsed.Store(now.UnixNano())
	return nil
}

// View runs fn with key's committed state inside its region without
// changing it.
func (c *Coordinator) View(ctx context.Context, key string, fn func(current ratelimit.State, now time.Time)) error {
	e, err := c.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer c.release(key, e)

	now := c.now()
	current, err := c.load(context.WithoutCancel(ctx), key, e, now)
	if err != nil {
		return err
	}
	fn(current, now)
	return nil
}

// Reset deletes all state for key, durable first. Resetting a key without
// state succeeds.
func (c *Coordinator) Reset(ctx context.Context, key string) error {
	e, err := c.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer c.release(key, e)

	if err := c.storeCall(context.WithoutCancel(ctx), func(sctx context.Context) error {
		return c.store.Delete(sctx, key)
	}); err != nil {
		return &PersistenceError{Op: "reset", Key: key, Err: err}
	}

	e.state.Store(&ratelimit.State{})
	e.loaded = true
	return nil
}

// Snapshot returns the committed in-memory state of every loaded key.
// Keys whose region is busy report their last committed state.
func (c *Coordinator) Snapshot() map[string]ratelimit.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]ratelimit.State, len(c.entries))
	for key, e := range c.entries {
		if s := e.state.Load(); s != nil && !s.Empty() {
			out[key] = *s
		}
	}
	return out
}

// acquire enters key's region, waiting in arrival order. It gives up only
// if ctx ends before the region is entered.
func (c *Coordinator) acquire(ctx context.Context, key string) (*entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.entries[key]
	if !ok {
		e = newEntry()
		c.entries[key] = e
	}
	e.refs++
	c.mu.Unlock()

	start := time.Now()
	select {
	case e.region <- struct{}{}:
		c.regionWait.Record(ctx, time.Since(start).Seconds())
		return e, nil
	case <-ctx.Done():
		c.mu.Lock()
		e.refs--
		if e.idleEmpty() && c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// tryAcquire enters key's region only if nobody holds or waits for it.
func (c *Coordinator) tryAcquire(key string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.refs != 0 {
		return nil, false
	}
	e.refs++
	e.region <- struct{}{}
	return e, true
}

// release leaves the region. An idle key without state is dropped from
// memory; the next operation reloads it from the store.
func (c *Coordinator) release(key string, e *entry) {
	<-e.region

	c.mu.Lock()
	defer c.mu.Unlock()
	e.refs--
	if e.idleEmpty() && c.entries[key] == e {
		delete(c.entries, key)
	}
}

// load returns key's committed state, reading it from the store on first use.
// An expired durable record is deleted and the key starts empty.
func (c *Coordinator) load(ctx context.Context, key string, e *entry, now time.Time) (ratelimit.State, error) {
	if e.loaded {
		if s := e.state.Load(); s != nil {
			return *s, nil
		}
		return ratelimit.State{}, nil
	}

	var state ratelimit.State
	var record *models.StateRecord
	err := c.storeCall(ctx, func(sctx context.Context) error {
		var err error
		record, err = c.store.Get(sctx, key)
		return err
	})

	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return ratelimit.State{}, &PersistenceError{Op: "load", Key: key, Err: err}
	case record.Expired(now):
		c.discard(ctx, key, "expired")
	default:
		decoded, err := decodeRecord(record)
		if err != nil {
			c.logger.Error("Discarding unreadable record", "key", key, "error", err)
			c.discard(ctx, key, "unreadable")
			break
		}
		state = decoded.Prune(now, c.retention)
	}

	e.loaded = true
	e.state.Store(&state)
	return state, nil
}

// discard deletes a durable record that load will not honour, so the key
// starts from empty state on every coordinator and not just this one.
func (c *Coordinator) discard(ctx context.Context, key, reason string) {
	if err := c.storeCall(ctx, func(sctx context.Context) error {
		return c.store.Delete(sctx, key)
	}); err != nil {
		c.logger.Warn("Failed to delete discarded record", "key", key, "reason", reason, "error", err)
	}
}

// persist writes state through to the store, deleting the record when the
// state is empty.
func (c *Coordinator) persist(ctx context.Context, key string, state ratelimit.State, now time.Time) error {
	if state.Empty() {
		if err := c.storeCall(ctx, func(sctx context.Context) error {
			return c.store.Delete(sctx, key)
		}); err != nil {
			return &PersistenceError{Op: "delete", Key: key, Err: err}
		}
		return nil
	}

	record, err := encodeRecord(key, state, c.owner, c.retention, now)
	if err != nil {
		return err
	}
	if err := c.storeCall(ctx, func(sctx context.Context) error {
		return c.store.Put(sctx, record)
	}); err != nil {
		return &PersistenceError{Op: "write", Key: key, Err: err}
	}
	return nil
}

func (c *Coordinator) storeCall(ctx context.Context, call func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return call(sctx)
}
