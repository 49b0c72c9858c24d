package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ratekeeper/internal/models"
	"ratekeeper/internal/ratelimit"
	"ratekeeper/internal/storage"
)

var errStoreDown = errors.New("store down")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// flakyStore wraps a memory store and fails selected operations on demand.
type flakyStore struct {
	*storage.MemoryStorage
	failGet    atomic.Bool
	failPut    atomic.Bool
	failDelete atomic.Bool
	gets       atomic.Int64
	puts       atomic.Int64

	// putGate, when set, blocks Put until it is closed.
	putGate chan struct{}
	// putCtxErr records the context error seen by the last Put.
	putCtxErr atomic.Value
}

func newFlakyStore(t *testing.T) *flakyStore {
	t.Helper()
	mem, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	return &flakyStore{MemoryStorage: mem}
}

func (f *flakyStore) Get(ctx context.Context, key string) (*models.StateRecord, error) {
	f.gets.Add(1)
	if f.failGet.Load() {
		return nil, errStoreDown
	}
	return f.MemoryStorage.Get(ctx, key)
}

func (f *flakyStore) Put(ctx context.Context, record *models.StateRecord) error {
	f.puts.Add(1)
	if f.putGate != nil {
		<-f.putGate
	}
	if err := ctx.Err(); err != nil {
		f.putCtxErr.Store(err)
	}
	if f.failPut.Load() {
		return errStoreDown
	}
	return f.MemoryStorage.Put(ctx, record)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.failDelete.Load() {
		return errStoreDown
	}
	return f.MemoryStorage.Delete(ctx, key)
}

func newTestCoordinator(t *testing.T, store storage.Storage, clock *fakeClock, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now), WithOwner("test-node")}, opts...)
	c, err := New(store, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func checkFixed(ctx context.Context, c *Coordinator, key string, limit int64, window time.Duration) (ratelimit.FixedWindowDecision, error) {
	var d ratelimit.FixedWindowDecision
	err := c.Apply(ctx, key, func(s ratelimit.State, now time.Time) (ratelimit.State, error) {
		s.FixedWindow, d = ratelimit.FixedWindow(s.FixedWindow, now, ratelimit.FixedWindowParams{Limit: limit, Window: window})
		return s, nil
	})
	return d, err
}

func checkToken(ctx context.Context, c *Coordinator, key string) (ratelimit.TokenBucketDecision, error) {
	var d ratelimit.TokenBucketDecision
	err := c.Apply(ctx, key, func(s ratelimit.State, now time.Time) (ratelimit.State, error) {
		s.TokenBucket, d = ratelimit.TokenBucket(s.TokenBucket, now, ratelimit.TokenBucketParams{Capacity: 10, RefillRate: 1, Cost: 1})
		return s, nil
	})
	return d, err
}

func storedState(t *testing.T, store storage.Storage, key string) (*models.StateRecord, ratelimit.State) {
	t.Helper()
	record, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	state, err := decodeRecord(record)
	require.NoError(t, err)
	return record, state
}
