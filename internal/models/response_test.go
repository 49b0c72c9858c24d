package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorResponse(t *testing.T) {
	before := time.Now()
	response := NewErrorResponse("limit must be a positive integer", ErrorCodeValidation)

	assert.Equal(t, "error", response.Error)
	assert.Equal(t, "limit must be a positive integer", response.Message)
	assert.Equal(t, ErrorCodeValidation, response.Code)
	assert.False(t, response.Retryable)
	assert.False(t, response.Timestamp.Before(before))
}

func TestNewHealthCheckResponse(t *testing.T) {
	response := NewHealthCheckResponse(StatusHealthy)

	assert.Equal(t, StatusHealthy, response.Status)
	assert.NotNil(t, response.Components)
	assert.NotNil(t, response.Metrics)
	assert.WithinDuration(t, time.Now(), response.Timestamp, time.Second)
}

func TestHealthCheckResponse_AddComponent(t *testing.T) {
	response := NewHealthCheckResponse(StatusHealthy)
	response.AddComponent("storage", StatusUnhealthy, "connection refused")

	require.Contains(t, response.Components, "storage")
	component := response.Components["storage"]
	assert.Equal(t, StatusUnhealthy, component.Status)
	assert.Equal(t, "connection refused", component.Message)
	assert.False(t, component.Timestamp.IsZero())
}

func TestHealthCheckResponse_AddMetric(t *testing.T) {
	response := NewHealthCheckResponse(StatusHealthy)
	response.AddMetric("instance_id", "node-a")
	response.AddMetric("authentication_enabled", true)

	assert.Equal(t, "node-a", response.Metrics["instance_id"])
	assert.Equal(t, true, response.Metrics["authentication_enabled"])
}

func TestHealthStatusConstants(t *testing.T) {
	assert.Equal(t, "healthy", StatusHealthy)
	assert.Equal(t, "unhealthy", StatusUnhealthy)
	assert.Equal(t, "degraded", StatusDegraded)
}

func TestUnixMilli(t *testing.T) {
	assert.Equal(t, int64(0), UnixMilli(time.Time{}))

	instant := time.Date(2026, 3, 1, 12, 0, 0, 500*int(time.Millisecond), time.UTC)
	assert.Equal(t, instant.UnixMilli(), UnixMilli(instant))
}

// Callers parse these field names, so they are pinned here.
func TestDecisionWireNames(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		fields []string
		absent []string
	}{
		{
			name:   "fixed window",
			value:  FixedWindowResponse{Allowed: true, Count: 1, ResetAt: 1000, Limit: 5},
			fields: []string{"allowed", "count", "resetAt", "limit"},
		},
		{
			name:   "sliding window allowed",
			value:  SlidingWindowResponse{Allowed: true, Count: 1, Limit: 3},
			fields: []string{"allowed", "count", "limit"},
			absent: []string{"oldestRequest", "resetAt"},
		},
		{
			name:   "token bucket",
			value:  TokenBucketResponse{Allowed: true, TokensRemaining: 4, LastRefillAt: 1, Capacity: 5, RefillRate: 1},
			fields: []string{"allowed", "tokens_remaining", "lastRefillAt", "capacity", "refillRate"},
		},
		{
			name:   "leaky bucket",
			value:  LeakyBucketResponse{Allowed: true, Level: 1, LastLeakAt: 1, Capacity: 5, LeakRate: 1},
			fields: []string{"allowed", "level", "lastLeakAt", "capacity", "leakRate"},
		},
		{
			name:   "list",
			value:  ListResponse{Entries: []WindowEntry{}, TotalCount: 0},
			fields: []string{"entries", "total_count"},
			absent: []string{"owner"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.value)
			require.NoError(t, err)

			var decoded map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &decoded))
			for _, f := range tt.fields {
				assert.Contains(t, decoded, f)
			}
			for _, f := range tt.absent {
				assert.NotContains(t, decoded, f)
			}
		})
	}
}

func TestSlidingWindowResponse_DeniedCarriesHints(t *testing.T) {
	oldest := int64(1000)
	reset := int64(61000)
	data, err := json.Marshal(SlidingWindowResponse{Allowed: false, Count: 3, Limit: 3, OldestRequest: &oldest, ResetAt: &reset})
	require.NoError(t, err)
	assert.JSONEq(t, `{"allowed":false,"count":3,"limit":3,"oldestRequest":1000,"resetAt":61000}`, string(data))
}
