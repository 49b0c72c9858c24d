package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratekeeper/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS limiter_state (
	namespace  TEXT   NOT NULL,
	state_key  TEXT   NOT NULL,
	value      BYTEA  NOT NULL,
	owner      TEXT,
	expires_at BIGINT,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (namespace, state_key)
);
CREATE INDEX IF NOT EXISTS idx_limiter_state_expires_at ON limiter_state (namespace, expires_at);
`

// PostgresStorage implements the Storage interface on PostgreSQL through a
// pgx connection pool.
type PostgresStorage struct {
	pool      *pgxpool.Pool
	namespace string
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{
		pool:      pool,
		namespace: config.namespace(),
	}, nil
}

func (ps *PostgresStorage) Get(ctx context.Context, key string) (*models.StateRecord, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT state_key, value, owner, expires_at, updated_at
		   FROM limiter_state WHERE namespace = $1 AND state_key = $2`,
		ps.namespace, key)

	record, err := scanSQLRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get %s: %v", ErrUnavailable, key, err)
	}
	return record, nil
}

// Put upserts the record.
func (ps *PostgresStorage) Put(ctx context.Context, record *models.StateRecord) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO limiter_state (namespace, state_key, value, owner, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (namespace, state_key) DO UPDATE SET
		   value = EXCLUDED.value,
		   owner = EXCLUDED.owner,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = EXCLUDED.updated_at`,
		ps.namespace, record.Key, record.Value, nullableString(record.Owner),
		timeToMillis(record.ExpiresAt), updatedAtMillis(record))
	if err != nil {
		return fmt.Errorf("%w: failed to put %s: %v", ErrUnavailable, record.Key, err)
	}
	return nil
}

func (ps *PostgresStorage) Delete(ctx context.Context, key string) error {
	_, err := ps.pool.Exec(ctx,
		`DELETE FROM limiter_state WHERE namespace = $1 AND state_key = $2`, ps.namespace, key)
	if err != nil {
		return fmt.Errorf("%w: failed to delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (ps *PostgresStorage) List(ctx context.Context) ([]*models.StateRecord, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT state_key, value, owner, expires_at, updated_at
		   FROM limiter_state WHERE namespace = $1`, ps.namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list records: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var records []*models.StateRecord
	for rows.Next() {
		record, err := scanSQLRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to list records: %v", ErrUnavailable, err)
	}
	return records, nil
}

// Ping verifies the storage backend is reachable and operational.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	if err := ps.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}
