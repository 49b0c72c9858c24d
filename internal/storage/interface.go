package storage

import (
	"context"
	"time"

	"ratekeeper/internal/models"
)

// Storage defines the durable key-value contract the limiter coordinator
// persists state through. Every implementation is scoped to a single
// namespace: records written under one namespace are invisible to another
// sharing the same backend.
type Storage interface {
	// Get returns the record stored for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*models.StateRecord, error)

	// Put stores or replaces the record for record.Key.
	Put(ctx context.Context, record *models.StateRecord) error

	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every record in the namespace, in no particular order.
	List(ctx context.Context) ([]*models.StateRecord, error)

	// Ping verifies the backend is reachable and operational.
	Ping(ctx context.Context) error

	// Close releases connections and other resources.
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, sqlite, redis, ...)
	Type string `json:"type" yaml:"type"`

	// Namespace scopes every record this instance reads or writes
	Namespace string `json:"namespace" yaml:"namespace"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`

	// Redis connection settings
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"-" yaml:"-"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	RedisPoolSize int    `json:"redis_pool_size,omitempty" yaml:"redis_pool_size,omitempty"`

	// Additional options for specific backends
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
}

// DefaultNamespace is used when a Config leaves Namespace empty.
const DefaultNamespace = "ratekeeper"

func (c Config) namespace() string {
	if c.Namespace == "" {
		return DefaultNamespace
	}
	return c.Namespace
}
