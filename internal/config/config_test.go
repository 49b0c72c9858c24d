package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"ratekeeper/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 8080
  host: "localhost"
  read_timeout: 30s
  write_timeout: 30s
  idle_timeout: 60s
  tls_enabled: false
  cors:
    enabled: true
    allowed_origins: ["https://gateway.example.com"]
    allowed_methods: ["GET", "POST"]
    allowed_headers: ["Content-Type"]
    max_age: 3600

storage:
  type: "sqlite"
  namespace: "limits"
  timeout: 2s
  database:
    dsn: "file:limits.db"
    max_open_conns: 1

limiter:
  sweep_interval: 10s
  retention: 2h
  max_entries: 5000
  purge_on_start: false

security:
  enable_auth: true
  api_keys:
    - key: "test-key"
      name: "Test Key"
      permissions: ["read", "write"]
      enabled: true
  rate_limit:
    enabled: true
    requests_per_minute: 100
    burst_size: 10

logging:
  level: "debug"
  format: "text"
  output: "stdout"

metrics:
  enabled: true
  path: "/metrics"
  port: 9191
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	// Server
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 30*time.Second, config.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, config.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, config.Server.IdleTimeout)
	assert.False(t, config.Server.TLSEnabled)

	// CORS
	assert.True(t, config.Server.CORS.Enabled)
	assert.Equal(t, []string{"https://gateway.example.com"}, config.Server.CORS.AllowedOrigins)
	assert.Equal(t, []string{"GET", "POST"}, config.Server.CORS.AllowedMethods)
	assert.Equal(t, []string{"Content-Type"}, config.Server.CORS.AllowedHeaders)
	assert.Equal(t, 3600, config.Server.CORS.MaxAge)

	// Storage
	assert.Equal(t, models.StorageTypeSQLite, config.Storage.Type)
	assert.Equal(t, "limits", config.Storage.Namespace)
	assert.Equal(t, 2*time.Second, config.Storage.Timeout)
	assert.Equal(t, "file:limits.db", config.Storage.Database.DSN)
	assert.Equal(t, 1, config.Storage.Database.MaxOpenConns)
	assert.Equal(t, 5, config.Storage.Database.MaxIdleConns) // Default

	// Limiter
	assert.Equal(t, 10*time.Second, config.Limiter.SweepInterval)
	assert.Equal(t, 2*time.Hour, config.Limiter.Retention)
	assert.Equal(t, 5000, config.Limiter.MaxEntries)
	assert.False(t, config.Limiter.PurgeOnStart)

	// Security
	assert.True(t, config.Security.EnableAuth)
	require.Len(t, config.Security.APIKeys, 1)
	assert.Equal(t, "test-key", config.Security.APIKeys[0].Key)
	assert.Equal(t, "Test Key", config.Security.APIKeys[0].Name)
	assert.Equal(t, []string{"read", "write"}, config.Security.APIKeys[0].Permissions)
	assert.True(t, config.Security.APIKeys[0].Enabled)
	assert.True(t, config.Security.RateLimit.Enabled)
	assert.Equal(t, 100, config.Security.RateLimit.RequestsPerMinute)
	assert.Equal(t, 10, config.Security.RateLimit.BurstSize)

	// Logging
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.Equal(t, "stdout", config.Logging.Output)

	// Metrics
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "/metrics", config.Metrics.Path)
	assert.Equal(t, 9191, config.Metrics.Port)
}

func TestLoad_WithDefaults(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 3000
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 3000, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, 10*time.Second, config.Server.ReadTimeout)
	assert.False(t, config.Server.CORS.Enabled)

	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
	assert.Equal(t, "ratekeeper", config.Storage.Namespace)

	assert.Equal(t, 30*time.Second, config.Limiter.SweepInterval)
	assert.Equal(t, time.Hour, config.Limiter.Retention)
	assert.True(t, config.Limiter.PurgeOnStart)

	assert.False(t, config.Security.EnableAuth)
	assert.Empty(t, config.Security.APIKeys)
	assert.False(t, config.Security.RateLimit.Enabled)

	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "ratekeeper", config.Observability.ServiceName)
}

func TestLoad_NoConfigPath(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, models.NewDefaultConfig().Server.Port, config.Server.Port)
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	t.Setenv("RATEKEEPER_PORT", "9000")
	t.Setenv("RATEKEEPER_HOST", "127.0.0.1")
	t.Setenv("RATEKEEPER_STORAGE_TYPE", "redis")
	t.Setenv("RATEKEEPER_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("RATEKEEPER_REDIS_DB", "3")
	t.Setenv("RATEKEEPER_STORAGE_TIMEOUT", "750ms")
	t.Setenv("RATEKEEPER_SWEEP_INTERVAL", "5s")
	t.Setenv("RATEKEEPER_MAX_ENTRIES", "42")
	t.Setenv("RATEKEEPER_PURGE_ON_START", "false")
	t.Setenv("RATEKEEPER_RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATEKEEPER_RATE_LIMIT_REQUESTS_PER_MINUTE", "120")
	t.Setenv("RATEKEEPER_LOG_LEVEL", "warn")
	t.Setenv("RATEKEEPER_TRACING_SAMPLE_RATE", "0.25")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
	assert.Equal(t, models.StorageTypeRedis, config.Storage.Type)
	assert.Equal(t, "redis.internal:6379", config.Storage.Redis.Addr)
	assert.Equal(t, 3, config.Storage.Redis.DB)
	assert.Equal(t, 750*time.Millisecond, config.Storage.Timeout)
	assert.Equal(t, 5*time.Second, config.Limiter.SweepInterval)
	assert.Equal(t, 42, config.Limiter.MaxEntries)
	assert.False(t, config.Limiter.PurgeOnStart)
	assert.True(t, config.Security.RateLimit.Enabled)
	assert.Equal(t, 120, config.Security.RateLimit.RequestsPerMinute)
	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, 0.25, config.Observability.Tracing.SampleRate)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 8081
logging:
  level: debug
`)
	t.Setenv("RATEKEEPER_PORT", "8082")

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 8082, config.Server.Port)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestLoad_InvalidEnvironmentValuesIgnored(t *testing.T) {
	t.Setenv("RATEKEEPER_PORT", "not-a-port")
	t.Setenv("RATEKEEPER_SWEEP_INTERVAL", "soon")

	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 30*time.Second, config.Limiter.SweepInterval)
}

func TestLoad_AdminKeyFromEnvironment(t *testing.T) {
	t.Setenv("RATEKEEPER_ENABLE_AUTH", "true")
	t.Setenv("RATEKEEPER_ADMIN_API_KEY", "rk_from-env")

	config, err := Load("")
	require.NoError(t, err)

	assert.True(t, config.Security.EnableAuth)
	require.Len(t, config.Security.APIKeys, 1)
	assert.Equal(t, "env-admin", config.Security.APIKeys[0].Name)
	assert.Equal(t, "rk_from-env", config.Security.APIKeys[0].Key)
	assert.Equal(t, []string{"admin"}, config.Security.APIKeys[0].Permissions)
	assert.True(t, config.Security.APIKeys[0].Enabled)
}

func TestLoad_AuthWithoutKeysFails(t *testing.T) {
	t.Setenv("RATEKEEPER_ENABLE_AUTH", "true")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/non/existent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 8080
  invalid_yaml: [unclosed array
`)

	_, err := Load(configFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")
}

func TestLoad_EmptyConfigFile(t *testing.T) {
	configFile := writeConfig(t, "")

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, models.StorageTypeMemory, config.Storage.Type)
}

func TestLoad_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown storage type",
			content: "storage:\n  type: mongo\n",
			errMsg:  "invalid storage type",
		},
		{
			name:    "postgres without dsn",
			content: "storage:\n  type: postgres\n",
			errMsg:  "database DSN is required",
		},
		{
			name:    "tls without cert",
			content: "server:\n  tls_enabled: true\n",
			errMsg:  "TLS cert file is required",
		},
		{
			name:    "zero retention",
			content: "limiter:\n  retention: 0s\n",
			errMsg:  "retention must be positive",
		},
		{
			name:    "otlp without endpoint",
			content: "observability:\n  tracing:\n    enabled: true\n    exporter: otlp\n",
			errMsg:  "otlp endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_WithTLSConfig(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 8443
  tls_enabled: true
  tls_cert_file: "/path/to/cert.pem"
  tls_key_file: "/path/to/key.pem"
`)

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.True(t, config.Server.TLSEnabled)
	assert.Equal(t, "/path/to/cert.pem", config.Server.TLSCertFile)
	assert.Equal(t, "/path/to/key.pem", config.Server.TLSKeyFile)
}

func TestLoad_WithFileLogging(t *testing.T) {
	configFile := writeConfig(t, `
logging:
  level: "error"
  format: "text"
  output: "file"
  file_path: "/var/log/ratekeeper.log"
`)

	config, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "file", config.Logging.Output)
	assert.Equal(t, "/var/log/ratekeeper.log", config.Logging.FilePath)
}

func TestWarnDeprecatedKeys(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	warnDeprecatedKeys([]byte(`
storage:
  cache_ttl: 5m
security:
  bootstrap_key: "old"
cache:
  enabled: true
`))

	out := buf.String()
	assert.Contains(t, out, "config_key=storage.cache_ttl")
	assert.Contains(t, out, "config_key=security.bootstrap_key")
	assert.Contains(t, out, "config_key=cache")
}

func TestWarnDeprecatedKeys_CleanConfig(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	warnDeprecatedKeys([]byte("server:\n  port: 8080\nsecurity:\n  rate_limit:\n    enabled: true\n"))
	assert.Empty(t, buf.String())
}

func TestSaveExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, SaveExample(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var saved models.Config
	require.NoError(t, yaml.Unmarshal(data, &saved))
	assert.Equal(t, models.StorageTypeRedis, saved.Storage.Type)
	assert.True(t, saved.Security.EnableAuth)
	require.Len(t, saved.Security.APIKeys, 2)
	assert.Equal(t, "gateway", saved.Security.APIKeys[0].Name)
	assert.Equal(t, "/path/to/cert.pem", saved.Server.TLSCertFile)

	// The example must itself be loadable.
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ops", loaded.Security.APIKeys[1].Name)
}
