package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ratekeeper/internal/models"

	"github.com/redis/go-redis/v9"
)

const redisScanBatch = 256

// RedisStorage keeps one Redis string per record under "<namespace>:<key>".
// Records carry a PXAT expiry at their ExpiresAt, so Redis discards drained
// state on its own.
type RedisStorage struct {
	client    *redis.Client
	namespace string
	now       func() time.Time
}

// redisEnvelope is the JSON value stored for each record.
type redisEnvelope struct {
	Value     []byte `json:"value"`
	Owner     string `json:"owner,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

// NewRedisStorage connects to the server at config.RedisAddr.
func NewRedisStorage(config Config) (*RedisStorage, error) {
	if config.RedisAddr == "" {
		return nil, fmt.Errorf("address is required for Redis storage")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
		PoolSize: config.RedisPoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStorageFromClient(client, config.namespace()), nil
}

// NewRedisStorageFromClient wraps an existing client. The storage takes
// ownership of the client and closes it on Close.
func NewRedisStorageFromClient(client *redis.Client, namespace string) *RedisStorage {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisStorage{client: client, namespace: namespace, now: time.Now}
}

func (rs *RedisStorage) redisKey(key string) string {
	return rs.namespace + ":" + key
}

func (rs *RedisStorage) Get(ctx context.Context, key string) (*models.StateRecord, error) {
	data, err := rs.client.Get(ctx, rs.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get %s: %v", ErrUnavailable, key, err)
	}
	return decodeRedisRecord(key, data)
}

// Put stores the record with an absolute expiry. A record whose expiry has
// already passed is deleted instead.
func (rs *RedisStorage) Put(ctx context.Context, record *models.StateRecord) error {
	if record.Expired(rs.now()) {
		return rs.Delete(ctx, record.Key)
	}

	envelope := redisEnvelope{
		Value:     record.Value,
		Owner:     record.Owner,
		UpdatedAt: updatedAtMillis(record),
	}
	if !record.ExpiresAt.IsZero() {
		envelope.ExpiresAt = record.ExpiresAt.UnixMilli()
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	// SetArgs.ExpireAt truncates to whole seconds (EXAT); PXAT keeps the
	// record alive until its exact expiry.
	cmd := []any{"SET", rs.redisKey(record.Key), data}
	if !record.ExpiresAt.IsZero() {
		cmd = append(cmd, "PXAT", envelope.ExpiresAt)
	}
	if err := rs.client.Do(ctx, cmd...).Err(); err != nil {
		return fmt.Errorf("%w: failed to put %s: %v", ErrUnavailable, record.Key, err)
	}
	return nil
}

func (rs *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, rs.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: failed to delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// List walks the namespace with SCAN and fetches values in batches. Values
// that do not decode are logged and left out.
func (rs *RedisStorage) List(ctx context.Context) ([]*models.StateRecord, error) {
	prefix := rs.namespace + ":"
	var records []*models.StateRecord

	iter := rs.client.Scan(ctx, 0, prefix+"*", redisScanBatch).Iterator()
	batch := make([]string, 0, redisScanBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		values, err := rs.client.MGet(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("%w: failed to fetch records: %v", ErrUnavailable, err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				// Expired or deleted between SCAN and MGET.
				continue
			}
			key := strings.TrimPrefix(batch[i], prefix)
			record, err := decodeRedisRecord(key, []byte(raw))
			if err != nil {
				slog.WarnContext(ctx, "Skipping unreadable redis record", "key", key, "namespace", rs.namespace, "error", err)
				continue
			}
			records = append(records, record)
		}
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == redisScanBatch {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to scan records: %v", ErrUnavailable, err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return records, nil
}

// Ping verifies the storage backend is reachable and operational.
func (rs *RedisStorage) Ping(ctx context.Context) error {
	if err := rs.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

func decodeRedisRecord(key string, data []byte) (*models.StateRecord, error) {
	var envelope redisEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", key, err)
	}

	record := &models.StateRecord{
		Key:       key,
		Value:     envelope.Value,
		Owner:     envelope.Owner,
		UpdatedAt: time.UnixMilli(envelope.UpdatedAt).UTC(),
	}
	if envelope.ExpiresAt != 0 {
		record.ExpiresAt = time.UnixMilli(envelope.ExpiresAt).UTC()
	}
	return record, nil
}
