package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"ratekeeper/internal/models"
	"ratekeeper/internal/version"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name       string
		metrics    models.MetricsConfig
		tracing    models.TracingConfig
		wantTracer bool
		wantProm   bool
	}{
		{
			name:     "metrics only",
			metrics:  models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090},
			wantProm: true,
		},
		{
			name:       "tracing to stdout",
			tracing:    models.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 1.0},
			wantTracer: true,
		},
		{
			name:       "both enabled",
			metrics:    models.MetricsConfig{Enabled: true, Path: "/metrics", Port: 9090},
			tracing:    models.TracingConfig{Enabled: true, Exporter: "stdout", SampleRate: 0.5},
			wantTracer: true,
			wantProm:   true,
		},
		{
			name: "both disabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := models.ObservabilityConfig{ServiceName: "ratekeeper-test", Tracing: tt.tracing}
			info := version.Info{Version: "v0.0.1", InstanceID: "node-a", Hostname: "host-a"}

			provider, err := Setup(tt.metrics, obs, info)
			require.NoError(t, err)
			require.NotNil(t, provider)

			assert.Equal(t, tt.wantTracer, provider.tracerProvider != nil)
			assert.Equal(t, tt.wantProm, provider.PrometheusExporter() != nil)
			assert.Equal(t, tt.wantProm, provider.meterProvider != nil)

			assert.NoError(t, provider.Shutdown(context.Background()))
		})
	}
}

func TestSetup_InstallsPropagators(t *testing.T) {
	provider, err := Setup(models.MetricsConfig{}, models.ObservabilityConfig{ServiceName: "ratekeeper-test"}, version.Info{})
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())

	fields := otel.GetTextMapPropagator().Fields()
	assert.Contains(t, fields, "traceparent")
	assert.Contains(t, fields, "baggage")
}

func TestSetup_InvalidExporter(t *testing.T) {
	obs := models.ObservabilityConfig{
		ServiceName: "ratekeeper-test",
		Tracing:     models.TracingConfig{Enabled: true, Exporter: "invalid", SampleRate: 1.0},
	}

	provider, err := Setup(models.MetricsConfig{}, obs, version.Info{})
	assert.Error(t, err)
	assert.Nil(t, provider)
	assert.Contains(t, err.Error(), "unsupported trace exporter")
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{name: "always sample", rate: 1.0, want: "root:AlwaysOnSampler"},
		{name: "above one", rate: 2.0, want: "root:AlwaysOnSampler"},
		{name: "never sample", rate: 0.0, want: "root:AlwaysOffSampler"},
		{name: "ratio based", rate: 0.25, want: "root:TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := newSampler(tt.rate).Description()
			assert.Contains(t, desc, "ParentBased")
			assert.Contains(t, desc, tt.want)
		})
	}
}

func TestProvider_ShutdownNilProviders(t *testing.T) {
	p := &Provider{}
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("RATEKEEPER_ENVIRONMENT", "")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("DEPLOYMENT_ENV", "")
	assert.Equal(t, "development", getEnvironment())

	t.Setenv("DEPLOYMENT_ENV", "staging")
	assert.Equal(t, "staging", getEnvironment())

	t.Setenv("ENVIRONMENT", "qa")
	assert.Equal(t, "qa", getEnvironment())

	t.Setenv("RATEKEEPER_ENVIRONMENT", "production")
	assert.Equal(t, "production", getEnvironment())
}
