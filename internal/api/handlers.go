package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"ratekeeper/internal/models"
	"ratekeeper/internal/service"
	"ratekeeper/internal/storage"
	"ratekeeper/internal/version"
)

// maxRequestBody bounds the size of a JSON request body.
const maxRequestBody = 64 << 10

// healthPingTimeout bounds the storage ping of a health check.
const healthPingTimeout = 2 * time.Second

// Handlers contains HTTP handlers for the limiter API
type Handlers struct {
	service   service.ServiceInterface
	storage   storage.Storage
	version   version.Info
	startTime time.Time
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithStorage lets the health check ping the durable store.
func WithStorage(store storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.storage = store
	}
}

// WithVersion sets the build metadata reported by the health check.
func WithVersion(info version.Info) HandlerOption {
	return func(h *Handlers) {
		h.version = info
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc service.ServiceInterface, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		service:   svc,
		version:   version.Info{Version: version.Version},
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CheckFixedWindow handles fixed-window checks
// POST /api/v1/check
func (h *Handlers) CheckFixedWindow(w http.ResponseWriter, r *http.Request) {
	var req models.FixedWindowRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	response, err := h.service.CheckFixedWindow(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	setRateLimitHeaders(w, response.Limit, response.Limit-response.Count, response.ResetAt)
	h.writeJSONResponse(w, http.StatusOK, response)
}

// CheckSlidingWindow handles sliding-window log checks
// POST /api/v1/check/sliding-window
func (h *Handlers) CheckSlidingWindow(w http.ResponseWriter, r *http.Request) {
	var req models.SlidingWindowRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	response, err := h.service.CheckSlidingWindow(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var resetAt int64
	if response.ResetAt != nil {
		resetAt = *response.ResetAt
	}
	setRateLimitHeaders(w, response.Limit, response.Limit-response.Count, resetAt)
	h.writeJSONResponse(w, http.StatusOK, response)
}

// CheckTokenBucket handles token-bucket checks
// POST /api/v1/check/token-bucket
func (h *Handlers) CheckTokenBucket(w http.ResponseWriter, r *http.Request) {
	var req models.TokenBucketRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	response, err := h.service.CheckTokenBucket(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	setRateLimitHeaders(w, floorInt(response.Capacity), floorInt(response.TokensRemaining), 0)
	h.writeJSONResponse(w, http.StatusOK, response)
}

// CheckLeakyBucket handles leaky-bucket checks
// POST /api/v1/check/leaky-bucket
func (h *Handlers) CheckLeakyBucket(w http.ResponseWriter, r *http.Request) {
	var req models.LeakyBucketRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	response, err := h.service.CheckLeakyBucket(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	setRateLimitHeaders(w, floorInt(response.Capacity), floorInt(response.Capacity-response.Level), 0)
	h.writeJSONResponse(w, http.StatusOK, response)
}

// Usage reports fixed-window usage for a key
// GET /api/v1/usage?key=
func (h *Handlers) Usage(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.Usage(r.Context(), r.URL.Query().Get("key"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// Reset clears all state held for a key
// POST /api/v1/reset
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	var req models.ResetRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	h.reset(w, r, &req)
}

// ResetKey clears all state held for the key named in the path
// DELETE /api/v1/keys/{key}
func (h *Handlers) ResetKey(w http.ResponseWriter, r *http.Request) {
	h.reset(w, r, &models.ResetRequest{Key: mux.Vars(r)["key"]})
}

func (h *Handlers) reset(w http.ResponseWriter, r *http.Request, req *models.ResetRequest) {
	securityContext := GetSecurityContext(r)

	response, err := h.service.Reset(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	slog.Info("Rate limit state reset",
		"key", response.Key,
		"api_key", getAPIKeyName(securityContext),
		"client_ip", getClientIP(r))

	h.writeJSONResponse(w, http.StatusOK, response)
}

// ListAll returns this instance's live fixed windows
// GET /api/v1/list
func (h *Handlers) ListAll(w http.ResponseWriter, r *http.Request) {
	response, err := h.service.ListAll(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// HealthCheck handles health check requests
// GET /health
// Provides basic health info publicly, enhanced details with authentication
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.startTime).Round(time.Second).String()

	response.AddComponent("api", models.StatusHealthy, "API is operational")
	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		err := h.storage.Ping(ctx)
		cancel()
		if err != nil {
			response.Status = models.StatusDegraded
			response.AddComponent("storage", models.StatusUnhealthy, err.Error())
		} else {
			response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
		}
	}

	securityContext := GetSecurityContext(r)
	if securityContext != nil && securityContext.HasPermission(PermissionRead) {
		response.AddMetric("authentication_enabled", true)
		response.AddMetric("api_key_name", getAPIKeyName(securityContext))
		response.AddMetric("permissions", securityContext.APIKey.Permissions)
		response.AddMetric("instance_id", h.version.InstanceID)
		response.AddMetric("hostname", h.version.Hostname)
		response.AddMetric("go_version", h.version.GoVersion)
	} else {
		response.AddMetric("authentication_enabled", false)
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// decodeBody parses a JSON request body into dst, writing a 400 on failure.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing more can be sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = RequestIDFromContext(r.Context())
	h.writeJSONResponse(w, statusCode, errorResp)
}

// writeServiceError maps a service failure onto a structured error response.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *service.ServiceError
	if !errors.As(err, &svcErr) {
		slog.Error("Unexpected service failure", "error", err, "path", r.URL.Path)
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
		return
	}

	errorResp := models.NewErrorResponse(svcErr.Message, svcErr.Code)
	errorResp.Retryable = svcErr.Retryable
	errorResp.RequestID = RequestIDFromContext(r.Context())

	var fieldErr *models.FieldError
	if errors.As(err, &fieldErr) {
		errorResp.Message = svcErr.Message + ": " + fieldErr.Error()
		errorResp.Details = map[string]string{
			"field":  fieldErr.Field,
			"reason": fieldErr.Reason,
		}
	}

	switch {
	case svcErr.StatusCode == http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		slog.Warn("Limiter store unavailable", "error", err, "path", r.URL.Path)
	case svcErr.StatusCode >= http.StatusInternalServerError:
		slog.Error("Limiter request failed", "error", err, "path", r.URL.Path)
	}

	h.writeJSONResponse(w, svcErr.StatusCode, errorResp)
}

// setRateLimitHeaders publishes a decision as X-RateLimit-* headers.
// resetAtMillis of zero omits the reset header.
func setRateLimitHeaders(w http.ResponseWriter, limit, remaining, resetAtMillis int64) {
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	if resetAtMillis > 0 {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt((resetAtMillis+999)/1000, 10))
	}
}

// floorInt converts a bucket quantity for the X-RateLimit headers, saturating
// at the int64 range.
func floorInt(v float64) int64 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(math.Floor(v))
}

// getAPIKeyName safely extracts the API key name for logging
func getAPIKeyName(securityContext *SecurityContext) string {
	if securityContext == nil || securityContext.APIKey == nil {
		return "anonymous"
	}
	if securityContext.APIKey.Name != "" {
		return securityContext.APIKey.Name
	}
	return "unnamed-key"
}
