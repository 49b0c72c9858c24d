package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"ratekeeper/internal/models"
	"ratekeeper/internal/service"
)

// throttleKeyPrefix namespaces self-throttle buckets away from caller keys.
const throttleKeyPrefix = "ratekeeper:throttle:"

// Throttle returns middleware that limits callers of this API with a token
// bucket per client, run through the limiter service itself. Authenticated
// callers are keyed by API key name, anonymous callers by client IP. Health
// probes are never throttled. If the limiter cannot decide, the request is
// let through.
func Throttle(svc service.ServiceInterface, cfg models.RateLimitConfig) func(http.Handler) http.Handler {
	capacity := float64(cfg.BurstSize)
	refillRate := float64(cfg.RequestsPerMinute) / 60

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := throttleKey(r)
			decision, err := svc.CheckTokenBucket(r.Context(), &models.TokenBucketRequest{
				Key:        key,
				Capacity:   capacity,
				RefillRate: refillRate,
			})
			if err != nil {
				slog.Warn("Self-throttle check failed, allowing request", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, int64(cfg.BurstSize), floorInt(decision.TokensRemaining), 0)

			if !decision.Allowed {
				retryAfterSecs := int(math.Ceil((models.DefaultTokenCost - decision.TokensRemaining) / refillRate))
				if retryAfterSecs < 1 {
					retryAfterSecs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))

				errorResp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimited)
				errorResp.Retryable = true
				errorResp.RequestID = RequestIDFromContext(r.Context())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(errorResp)

				slog.Warn("Rate limit exceeded",
					"key", key,
					"limit", cfg.BurstSize,
					"retry_after", retryAfterSecs,
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// throttleKey picks the bucket for a request based on its authentication
// context.
func throttleKey(r *http.Request) string {
	if apiKey, ok := r.Context().Value(apiKeyContextKey).(*models.APIKey); ok && apiKey != nil {
		return throttleKeyPrefix + "auth:" + apiKey.Name
	}
	return throttleKeyPrefix + "ip:" + getClientIP(r)
}

// getClientIP extracts the client IP from the request, checking proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if ip := strings.TrimSpace(ips[0]); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
