package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ratekeeper/internal/models"
	"ratekeeper/internal/service"
)

func throttleConfig() models.RateLimitConfig {
	return models.RateLimitConfig{Enabled: true, RequestsPerMinute: 120, BurstSize: 10}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestThrottle_Allows(t *testing.T) {
	mockService := &MockLimiterService{}
	mockService.On("CheckTokenBucket", mock.Anything, mock.MatchedBy(func(req *models.TokenBucketRequest) bool {
		return req.Key == throttleKeyPrefix+"ip:203.0.113.9" && req.Capacity == 10 && req.RefillRate == 2
	})).Return(&models.TokenBucketResponse{Allowed: true, TokensRemaining: 7.4, Capacity: 10, RefillRate: 2}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/list", nil)
	req.RemoteAddr = "203.0.113.9:51234"
	rr := httptest.NewRecorder()
	Throttle(mockService, throttleConfig())(okHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "10", rr.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "7", rr.Header().Get("X-RateLimit-Remaining"))
	mockService.AssertExpectations(t)
}

func TestThrottle_Denies(t *testing.T) {
	mockService := &MockLimiterService{}
	mockService.On("CheckTokenBucket", mock.Anything, mock.Anything).
		Return(&models.TokenBucketResponse{Allowed: false, TokensRemaining: 0, Capacity: 10, RefillRate: 2}, nil)

	rr := httptest.NewRecorder()
	Throttle(mockService, throttleConfig())(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/list", nil))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	var errorResp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errorResp))
	assert.Equal(t, models.ErrorCodeRateLimited, errorResp.Code)
	assert.True(t, errorResp.Retryable)
}

func TestThrottle_RetryAfterScalesWithRate(t *testing.T) {
	mockService := &MockLimiterService{}
	mockService.On("CheckTokenBucket", mock.Anything, mock.Anything).
		Return(&models.TokenBucketResponse{Allowed: false, TokensRemaining: 0.25}, nil)

	cfg := models.RateLimitConfig{Enabled: true, RequestsPerMinute: 6, BurstSize: 1}
	rr := httptest.NewRecorder()
	Throttle(mockService, cfg)(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/list", nil))

	// 0.75 tokens missing at 0.1 tokens/s.
	assert.Equal(t, "8", rr.Header().Get("Retry-After"))
}

func TestThrottle_FailsOpen(t *testing.T) {
	mockService := &MockLimiterService{}
	mockService.On("CheckTokenBucket", mock.Anything, mock.Anything).
		Return((*models.TokenBucketResponse)(nil), service.NewUnavailableError("rate limit store unavailable", errors.New("down")))

	rr := httptest.NewRecorder()
	Throttle(mockService, throttleConfig())(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/list", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
}

func TestThrottle_SkipsHealth(t *testing.T) {
	mockService := &MockLimiterService{}

	rr := httptest.NewRecorder()
	Throttle(mockService, throttleConfig())(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	mockService.AssertNotCalled(t, "CheckTokenBucket", mock.Anything, mock.Anything)
}

func TestThrottleKey(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(r *http.Request) *http.Request
		wantKey string
	}{
		{
			name:    "remote address without port",
			setup:   func(r *http.Request) *http.Request { r.RemoteAddr = "198.51.100.7:4000"; return r },
			wantKey: throttleKeyPrefix + "ip:198.51.100.7",
		},
		{
			name: "first forwarded address",
			setup: func(r *http.Request) *http.Request {
				r.Header.Set("X-Forwarded-For", "192.0.2.1, 10.0.0.1")
				return r
			},
			wantKey: throttleKeyPrefix + "ip:192.0.2.1",
		},
		{
			name: "real ip header",
			setup: func(r *http.Request) *http.Request {
				r.Header.Set("X-Real-IP", "192.0.2.44")
				return r
			},
			wantKey: throttleKeyPrefix + "ip:192.0.2.44",
		},
		{
			name: "authenticated caller keyed by key name",
			setup: func(r *http.Request) *http.Request {
				key := testKey("billing", "write")
				return r.WithContext(withAPIKey(r.Context(), key))
			},
			wantKey: throttleKeyPrefix + "auth:billing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.setup(httptest.NewRequest(http.MethodGet, "/api/v1/list", nil))
			assert.Equal(t, tt.wantKey, throttleKey(req))
		})
	}
}

func TestWithRateLimiterRoute(t *testing.T) {
	mockService := permissiveMock()
	limiter := &MockLimiterService{}
	limiter.On("CheckTokenBucket", mock.Anything, mock.Anything).
		Return(&models.TokenBucketResponse{Allowed: false}, nil)

	router := SetupRoutes(NewHandlers(mockService), models.NewDefaultConfig(),
		WithRateLimiter(Throttle(limiter, throttleConfig())))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/list", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
