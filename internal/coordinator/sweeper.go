package coordinator

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"ratekeeper/internal/models"
	"ratekeeper/internal/storage"
)

// Start launches the background expiry sweeper. It is a no-op when the
// sweeper is already running.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true

	c.wg.Add(1)
	go c.sweepLoop()
}

// Close stops the sweeper and rejects further operations. Operations already
// inside a region complete normally.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()

	if c.purgeOnStart {
		c.runPurge()
	}

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.Sweep(context.Background())
			c.runPurge()
		}
	}
}

func (c *Coordinator) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), c.sweepInterval)
	defer cancel()

	purged, err := c.PurgeExpired(ctx)
	if err != nil {
		c.logger.Warn("Failed to purge expired records", "error", err)
		return
	}
	if purged > 0 {
		c.logger.Debug("Purged expired records", "count", purged)
	}
}

// Sweep drops elapsed fixed windows and drained sliding logs from every idle
// key, writing the pruned state through. Keys whose region is busy are
// skipped until the next pass. Bucket state is left to self-correct on next
// access. When more keys than the configured maximum remain, the least
// recently used idle keys are evicted from memory only.
func (c *Coordinator) Sweep(ctx context.Context) {
	now := c.now()

	for _, key := range c.keys() {
		e, ok := c.tryAcquire(key)
		if !ok {
			continue
		}
		c.sweepKey(ctx, key, e, now)
		c.release(key, e)
	}

	c.evictOverflow(ctx)
}

func (c *Coordinator) sweepKey(ctx context.Context, key string, e *entry, now time.Time) {
	current := e.state.Load()
	if current == nil {
		return
	}

	swept := current.SweepWindows(now, c.retention)
	if swept.Equal(*current) {
		return
	}

	if err := c.persist(ctx, key, swept, now); err != nil {
		// The durable copy still holds the old state; keep memory in step
		// and retry on the next pass.
		c.logger.Warn("Failed to persist swept state", "key", key, "error", err)
		return
	}
	e.state.Store(&swept)
	if swept.Empty() {
		c.logger.Debug("Swept expired key", "key", key)
	}
}

// evictOverflow drops idle keys from memory, oldest use first, until at
// most maxEntries remain. Their durable copy makes this lossless.
func (c *Coordinator) evictOverflow(ctx context.Context) {
	if c.maxEntries <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	excess := len(c.entries) - c.maxEntries
	if excess <= 0 {
		return
	}

	type candidate struct {
		key      string
		lastUsed int64
	}
	candidates := make([]candidate, 0, len(c.entries))
	for key, e := range c.entries {
		if e.refs == 0 {
			candidates = append(candidates, candidate{key: key, lastUsed: e.lastUsed.Load()})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastUsed < candidates[j].lastUsed
	})

	evicted := 0
	for _, cand := range candidates {
		if evicted == excess {
			break
		}
		delete(c.entries, cand.key)
		evicted++
	}

	if evicted > 0 {
		c.evictions.Add(ctx, int64(evicted), metric.WithAttributes(attribute.String("reason", "max_entries")))
		c.logger.Debug("Evicted idle keys from memory", "count", evicted, "remaining", len(c.entries))
	}
}

// PurgeExpired deletes durable records whose expiry has passed and that are
// not held in memory. Each deletion runs inside the key's region so it cannot
// race a concurrent load of the same key. It returns the number of records
// deleted.
func (c *Coordinator) PurgeExpired(ctx context.Context) (int, error) {
	var records []*models.StateRecord
	err := c.storeCall(ctx, func(sctx context.Context) error {
		var err error
		records, err = c.store.List(sctx)
		return err
	})
	if err != nil {
		return 0, &PersistenceError{Op: "list", Err: err}
	}

	now := c.now()
	purged := 0
	var errs []error
	for _, record := range records {
		if !record.Expired(now) {
			continue
		}
		e, ok := c.claimUnloaded(record.Key)
		if !ok {
			continue
		}
		err := c.storeCall(ctx, func(sctx context.Context) error {
			return c.store.Delete(sctx, record.Key)
		})
		c.release(record.Key, e)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, &PersistenceError{Op: "purge", Key: record.Key, Err: err})
			continue
		}
		purged++
	}
	return purged, errors.Join(errs...)
}

// claimUnloaded enters the region of a key that has no in-memory entry,
// creating a placeholder entry so concurrent callers queue behind it.
func (c *Coordinator) claimUnloaded(key string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	if _, ok := c.entries[key]; ok {
		return nil, false
	}
	e := newEntry()
	e.refs = 1
	e.region <- struct{}{}
	c.entries[key] = e
	return e, true
}

func (c *Coordinator) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}
