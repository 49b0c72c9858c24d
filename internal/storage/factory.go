package storage

import (
	"fmt"

	"ratekeeper/internal/models"
)

// backend describes how one storage type is checked and opened.
type backend struct {
	require func(models.StorageConfig) error
	open    func(Config) (Storage, error)
}

// Factory opens the Storage named by a models.StorageConfig.
type Factory struct {
	backends map[string]backend
}

// NewFactory returns a Factory that knows every built-in backend.
func NewFactory() *Factory {
	return &Factory{backends: map[string]backend{
		models.StorageTypeMemory: {
			open: func(c Config) (Storage, error) { return NewMemoryStorage(c) },
		},
		models.StorageTypeJSON: {
			require: requirePath,
			open:    func(c Config) (Storage, error) { return NewJSONStorage(c) },
		},
		models.StorageTypeSQLite: {
			require: requireDSN,
			open:    func(c Config) (Storage, error) { return NewSQLiteStorage(c) },
		},
		models.StorageTypePostgres: {
			require: requireDSN,
			open:    func(c Config) (Storage, error) { return NewPostgresStorage(c) },
		},
		models.StorageTypeRedis: {
			require: requireRedisAddr,
			open:    func(c Config) (Storage, error) { return NewRedisStorage(c) },
		},
	}}
}

// Create validates cfg and opens the matching backend.
func (f *Factory) Create(cfg models.StorageConfig) (Storage, error) {
	b, err := f.lookup(cfg)
	if err != nil {
		return nil, err
	}
	return b.open(backendConfig(cfg))
}

// SupportedTypes lists the storage types Create accepts, in documentation order.
func (f *Factory) SupportedTypes() []string {
	var types []string
	for _, t := range models.SupportedStorageTypes() {
		if _, ok := f.backends[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

// ValidateConfig reports whether cfg carries what its backend needs to open.
func (f *Factory) ValidateConfig(cfg models.StorageConfig) error {
	_, err := f.lookup(cfg)
	return err
}

func (f *Factory) lookup(cfg models.StorageConfig) (backend, error) {
	b, ok := f.backends[cfg.Type]
	if !ok {
		return backend{}, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	if b.require != nil {
		if err := b.require(cfg); err != nil {
			return backend{}, err
		}
	}
	return b, nil
}

func requirePath(cfg models.StorageConfig) error {
	if cfg.Path == "" {
		return fmt.Errorf("path is required for %s storage", cfg.Type)
	}
	return nil
}

func requireDSN(cfg models.StorageConfig) error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database DSN is required for %s storage", cfg.Type)
	}
	return nil
}

func requireRedisAddr(cfg models.StorageConfig) error {
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis address is required for %s storage", cfg.Type)
	}
	return nil
}

func backendConfig(cfg models.StorageConfig) Config {
	options := make(map[string]interface{}, len(cfg.Options))
	for k, v := range cfg.Options {
		options[k] = v
	}
	return Config{
		Type:             cfg.Type,
		Namespace:        cfg.Namespace,
		Path:             cfg.Path,
		ConnectionString: cfg.Database.DSN,
		MaxOpenConns:     cfg.Database.MaxOpenConns,
		MaxIdleConns:     cfg.Database.MaxIdleConns,
		ConnMaxLifetime:  cfg.Database.ConnMaxLifetime,
		RedisAddr:        cfg.Redis.Addr,
		RedisPassword:    cfg.Redis.Password,
		RedisDB:          cfg.Redis.DB,
		RedisPoolSize:    cfg.Redis.PoolSize,
		Options:          options,
	}
}
