package storage

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratekeeper/internal/models"
)

// storageConstructor opens a store scoped to namespace. Stores opened with
// the same namespace within one test must share their data.
type storageConstructor func(t *testing.T, namespace string) Storage

func newRecord(key string, expiresIn time.Duration) *models.StateRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.StateRecord{
		Key:       key,
		Value:     []byte(fmt.Sprintf(`{"fixed_window":{"count":1,"key":%q}}`, key)),
		Owner:     "node-a",
		ExpiresAt: now.Add(expiresIn),
		UpdatedAt: now,
	}
}

func runStorageContract(t *testing.T, open storageConstructor) {
	ctx := context.Background()

	t.Run("Get missing key", func(t *testing.T) {
		s := open(t, "contract-missing")
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Put then Get", func(t *testing.T) {
		s := open(t, "contract-put")
		record := newRecord("user:1", time.Hour)
		require.NoError(t, s.Put(ctx, record))

		got, err := s.Get(ctx, "user:1")
		require.NoError(t, err)
		assert.Equal(t, record.Key, got.Key)
		assert.Equal(t, record.Value, got.Value)
		assert.Equal(t, record.Owner, got.Owner)
		assert.Equal(t, record.ExpiresAt.UnixMilli(), got.ExpiresAt.UnixMilli())
		assert.Equal(t, record.UpdatedAt.UnixMilli(), got.UpdatedAt.UnixMilli())
	})

	t.Run("Put overwrites", func(t *testing.T) {
		s := open(t, "contract-overwrite")
		require.NoError(t, s.Put(ctx, newRecord("k", time.Hour)))

		updated := newRecord("k", 2*time.Hour)
		updated.Value = []byte(`{"token_bucket":{"tokens":3}}`)
		require.NoError(t, s.Put(ctx, updated))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, updated.Value, got.Value)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("Returned records are copies", func(t *testing.T) {
		s := open(t, "contract-copy")
		record := newRecord("k", time.Hour)
		require.NoError(t, s.Put(ctx, record))
		record.Value[0] = 'X'

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, byte('{'), got.Value[0])
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		s := open(t, "contract-delete")
		require.NoError(t, s.Put(ctx, newRecord("k", time.Hour)))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "never-existed"))

		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List returns the namespace", func(t *testing.T) {
		s := open(t, "contract-list")
		for _, key := range []string{"a", "b", "c"} {
			require.NoError(t, s.Put(ctx, newRecord(key, time.Hour)))
		}

		records, err := s.List(ctx)
		require.NoError(t, err)

		keys := make([]string, 0, len(records))
		for _, r := range records {
			keys = append(keys, r.Key)
		}
		sort.Strings(keys)
		assert.Equal(t, []string{"a", "b", "c"}, keys)
	})

	t.Run("Namespaces are isolated", func(t *testing.T) {
		left := open(t, "contract-left")
		right := open(t, "contract-right")

		require.NoError(t, left.Put(ctx, newRecord("shared", time.Hour)))

		_, err := right.Get(ctx, "shared")
		assert.ErrorIs(t, err, ErrNotFound)

		records, err := right.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)

		require.NoError(t, right.Delete(ctx, "shared"))
		_, err = left.Get(ctx, "shared")
		assert.NoError(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		s := open(t, "contract-ping")
		assert.NoError(t, s.Ping(ctx))
	})
}
