// Package models - API response types and error handling.
// This file defines the outgoing decision, usage, and error structures.
//
// Response Design Principles:
// - Field names follow the limiter's wire contract (camelCase where the contract says so)
// - All timestamps are epoch milliseconds
// - A denied check is a decision, not an error: it is returned with allowed=false
// - Errors carry a machine-readable code and whether a retry can succeed
package models

import (
	"time"
)

// FixedWindowResponse is the decision of a fixed-window check.
type FixedWindowResponse struct {
	Allowed bool  `json:"allowed"`
	Count   int64 `json:"count"`
	ResetAt int64 `json:"resetAt"`
	Limit   int64 `json:"limit"`
}

// SlidingWindowResponse is the decision of a sliding-window check.
// OldestRequest and ResetAt are only present on denial; a caller derives its
// retry-after hint from ResetAt.
type SlidingWindowResponse struct {
	Allowed       bool   `json:"allowed"`
	Count         int64  `json:"count"`
	Limit         int64  `json:"limit"`
	OldestRequest *int64 `json:"oldestRequest,omitempty"`
	ResetAt       *int64 `json:"resetAt,omitempty"`
}

// TokenBucketResponse is the decision of a token-bucket check.
type TokenBucketResponse struct {
	Allowed         bool    `json:"allowed"`
	TokensRemaining float64 `json:"tokens_remaining"`
	LastRefillAt    int64   `json:"lastRefillAt"`
	Capacity        float64 `json:"capacity"`
	RefillRate      float64 `json:"refillRate"`
}

// LeakyBucketResponse is the decision of a leaky-bucket check.
type LeakyBucketResponse struct {
	Allowed    bool    `json:"allowed"`
	Level      float64 `json:"level"`
	LastLeakAt int64   `json:"lastLeakAt"`
	Capacity   float64 `json:"capacity"`
	LeakRate   float64 `json:"leakRate"`
}

// UsageResponse reports fixed-window usage for a key. Both fields are zero
// when the key has no live window.
type UsageResponse struct {
	Count   int64 `json:"count"`
	ResetAt int64 `json:"resetAt"`
}

type ResetResponse struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// WindowEntry is one live fixed-window entry in a ListResponse.
type WindowEntry struct {
	Key     string `json:"key"`
	Count   int64  `json:"count"`
	Limit   int64  `json:"limit"`
	ResetAt int64  `json:"resetAt"`
}

// ListResponse is a debugging snapshot of one coordinator's live fixed
// windows. It is not complete across coordinator instances.
type ListResponse struct {
	Entries    []WindowEntry `json:"entries"`
	TotalCount int           `json:"total_count"`
	Owner      string        `json:"owner,omitempty"`
}

// ErrorResponse provides structured error information.
//
// Error Categories:
// - Validation errors: malformed key or non-positive parameters (never retryable)
// - Persistence errors: durable store unreachable (retryable, state rolled back)
// - Authorization errors: missing or insufficient API key
// - Internal errors: unexpected server-side failures
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Code      string            `json:"code,omitempty"`
	Retryable bool              `json:"retryable"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	RequestID string            `json:"request_id,omitempty"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// Standard HTTP Error Codes
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Route doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Malformed request body
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Unsupported method or shape
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 400: Parameter validation failed
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Authentication required
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Permission denied
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Durable store unavailable, retry
	ErrorCodeRequestTimeout     = "REQUEST_TIMEOUT"     // 408: Caller gave up before the operation ran
	ErrorCodeRateLimited        = "RATE_LIMIT_EXCEEDED" // 429: Self-throttle of the API
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}

// UnixMilli converts t to epoch milliseconds, mapping the zero time to 0.
func UnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
