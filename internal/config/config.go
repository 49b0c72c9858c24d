// Package config assembles the service configuration from defaults, an
// optional YAML file and RATEKEEPER_* environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ratekeeper/internal/models"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RATEKEEPER_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// deprecatedConfig mirrors moved config fields for detecting stale operator configs.
type deprecatedConfig struct {
	Storage struct {
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"storage"`
	Security struct {
		BootstrapKey string `yaml:"bootstrap_key"`
	} `yaml:"security"`
	Cache interface{} `yaml:"cache"`
}

// warnDeprecatedKeys logs a warning for each moved config key found in the YAML data.
// The service continues to start normally - these keys are silently ignored by the main decoder.
func warnDeprecatedKeys(data []byte) {
	var dep deprecatedConfig
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return
	}
	if dep.Storage.CacheTTL != "" {
		slog.Warn("Config key has moved; set storage.options.cache_ttl instead.", "config_key", "storage.cache_ttl")
	}
	if dep.Security.BootstrapKey != "" {
		slog.Warn("Config key is no longer used; list keys under security.api_keys or set "+EnvPrefix+"ADMIN_API_KEY.", "config_key", "security.bootstrap_key")
	}
	if dep.Cache != nil {
		slog.Warn("Config key is no longer used; limiter state is held by the coordinator.", "config_key", "cache")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnDeprecatedKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables.
// Unparseable values are ignored and the previous value kept.
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)
	envBool("CORS_ENABLED", &config.Server.CORS.Enabled)

	// Storage configuration
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("STORAGE_PATH", &config.Storage.Path)
	envString("STORAGE_NAMESPACE", &config.Storage.Namespace)
	envDuration("STORAGE_TIMEOUT", &config.Storage.Timeout)
	envString("DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)
	envDuration("DATABASE_CONN_MAX_LIFETIME", &config.Storage.Database.ConnMaxLifetime)
	envString("REDIS_ADDR", &config.Storage.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Storage.Redis.Password)
	envInt("REDIS_DB", &config.Storage.Redis.DB)
	envInt("REDIS_POOL_SIZE", &config.Storage.Redis.PoolSize)

	// Limiter configuration
	envDuration("SWEEP_INTERVAL", &config.Limiter.SweepInterval)
	envDuration("RETENTION", &config.Limiter.Retention)
	envInt("MAX_ENTRIES", &config.Limiter.MaxEntries)
	envBool("PURGE_ON_START", &config.Limiter.PurgeOnStart)

	// Security configuration
	envBool("ENABLE_AUTH", &config.Security.EnableAuth)
	envBool("RATE_LIMIT_ENABLED", &config.Security.RateLimit.Enabled)
	envInt("RATE_LIMIT_REQUESTS_PER_MINUTE", &config.Security.RateLimit.RequestsPerMinute)
	envInt("RATE_LIMIT_BURST_SIZE", &config.Security.RateLimit.BurstSize)

	// An admin key from the environment keeps secrets out of config files.
	if key := os.Getenv(EnvPrefix + "ADMIN_API_KEY"); key != "" {
		config.Security.APIKeys = append(config.Security.APIKeys, models.APIKeyConfig{
			Key:         key,
			Name:        "env-admin",
			Permissions: []string{"admin"},
			Enabled:     true,
		})
	}

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)

	// Observability configuration
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	if rate := os.Getenv(EnvPrefix + "TRACING_SAMPLE_RATE"); rate != "" {
		if r, err := strconv.ParseFloat(rate, 64); err == nil {
			config.Observability.Tracing.SampleRate = r
		}
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Get default config with some example values
	config := models.NewDefaultConfig()

	// Durable, shared state for a multi-instance deployment
	config.Storage.Type = models.StorageTypeRedis

	// Enable authentication for example
	config.Security.EnableAuth = true
	config.Security.APIKeys = []models.APIKeyConfig{
		{Name: "gateway", Key: "rk_replace-with-a-generated-key", Permissions: []string{"write"}, Enabled: true},
		{Name: "ops", Key: "rk_replace-with-another-key", Permissions: []string{"admin"}, Enabled: true},
	}

	// Example TLS configuration
	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
