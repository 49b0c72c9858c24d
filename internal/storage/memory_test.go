package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	// Memory stores never share data, so isolation holds trivially.
	runStorageContract(t, func(t *testing.T, namespace string) Storage {
		s, err := NewMemoryStorage(Config{Namespace: namespace})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStorage_ConcurrentAccess(t *testing.T) {
	s, err := NewMemoryStorage(Config{})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i%10)
			assert.NoError(t, s.Put(ctx, newRecord(key, time.Minute)))
			_, _ = s.Get(ctx, key)
			_, _ = s.List(ctx)
		}(i)
	}
	wg.Wait()

	records, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 10)
}

func TestMemoryStorage_CloseClears(t *testing.T) {
	s, err := NewMemoryStorage(Config{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, newRecord("k", time.Minute)))
	require.NoError(t, s.Close())

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
