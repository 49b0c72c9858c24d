package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ratekeeper/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS limiter_state (
	namespace  TEXT    NOT NULL,
	state_key  TEXT    NOT NULL,
	value      BLOB    NOT NULL,
	owner      TEXT,
	expires_at INTEGER,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, state_key)
);
CREATE INDEX IF NOT EXISTS idx_limiter_state_expires_at ON limiter_state (namespace, expires_at);
`

// SQLiteStorage stores limiter state in a single SQLite table using the
// pure-Go modernc driver.
type SQLiteStorage struct {
	db        *sql.DB
	namespace string
}

// NewSQLiteStorage opens (or creates) the database and ensures the schema exists.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY churn.
	maxOpen := config.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{
		db:        db,
		namespace: config.namespace(),
	}, nil
}

func (ss *SQLiteStorage) Get(ctx context.Context, key string) (*models.StateRecord, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT state_key, value, owner, expires_at, updated_at
		   FROM limiter_state WHERE namespace = ? AND state_key = ?`,
		ss.namespace, key)

	record, err := scanSQLRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get %s: %v", ErrUnavailable, key, err)
	}
	return record, nil
}

func (ss *SQLiteStorage) Put(ctx context.Context, record *models.StateRecord) error {
	_, err := ss.db.ExecContext(ctx,
		`INSERT INTO limiter_state (namespace, state_key, value, owner, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (namespace, state_key) DO UPDATE SET
		   value = excluded.value,
		   owner = excluded.owner,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		ss.namespace, record.Key, record.Value, nullableString(record.Owner),
		timeToMillis(record.ExpiresAt), updatedAtMillis(record))
	if err != nil {
		return fmt.Errorf("%w: failed to put %s: %v", ErrUnavailable, record.Key, err)
	}
	return nil
}

func (ss *SQLiteStorage) Delete(ctx context.Context, key string) error {
	_, err := ss.db.ExecContext(ctx,
		`DELETE FROM limiter_state WHERE namespace = ? AND state_key = ?`, ss.namespace, key)
	if err != nil {
		return fmt.Errorf("%w: failed to delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (ss *SQLiteStorage) List(ctx context.Context) ([]*models.StateRecord, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT state_key, value, owner, expires_at, updated_at
		   FROM limiter_state WHERE namespace = ?`, ss.namespace)
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
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	if err := ss.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLRecord(row rowScanner) (*models.StateRecord, error) {
	var (
		record    models.StateRecord
		owner     sql.NullString
		expiresAt sql.NullInt64
		updatedAt sql.NullInt64
	)
	if err := row.Scan(&record.Key, &record.Value, &owner, &expiresAt, &updatedAt); err != nil {
		return nil, err
	}
	record.Owner = owner.String
	record.ExpiresAt = millisToTime(expiresAt)
	record.UpdatedAt = millisToTime(updatedAt)
	return &record, nil
}

func updatedAtMillis(record *models.StateRecord) int64 {
	if record.UpdatedAt.IsZero() {
		return time.Now().UnixMilli()
	}
	return record.UpdatedAt.UnixMilli()
}
