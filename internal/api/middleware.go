package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"ratekeeper/internal/models"
)

// Permission represents the different permission levels
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// SecurityContext represents the security information for a request
type SecurityContext struct {
	APIKey      *models.APIKey
	Permissions []string
}

// HasPermission checks if the security context has the required permission.
// admin implies write, and write implies read.
func (sc *SecurityContext) HasPermission(required Permission) bool {
	if sc == nil || sc.APIKey == nil {
		return false
	}
	return sc.APIKey.HasPermission(string(required))
}

// GetSecurityContext extracts security context from request context
func GetSecurityContext(r *http.Request) *SecurityContext {
	if apiKey, ok := r.Context().Value(apiKeyContextKey).(*models.APIKey); ok && apiKey != nil {
		return &SecurityContext{
			APIKey:      apiKey,
			Permissions: apiKey.Permissions,
		}
	}
	return nil
}

// withAPIKey returns ctx carrying an authenticated key.
func withAPIKey(ctx context.Context, key *models.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, key)
}

// Keyring holds the configured API keys indexed by hash. Raw key values are
// dropped once hashed.
type Keyring struct {
	keys map[string]*models.APIKey
}

// NewKeyring hashes every configured key.
func NewKeyring(configs []models.APIKeyConfig) *Keyring {
	k := &Keyring{keys: make(map[string]*models.APIKey, len(configs))}
	for _, cfg := range configs {
		key := models.NewAPIKeyFromConfig(cfg)
		k.keys[key.KeyHash] = key
	}
	return k
}

// Lookup resolves a raw bearer token to an enabled key.
func (k *Keyring) Lookup(token string) (*models.APIKey, bool) {
	if k == nil || token == "" {
		return nil, false
	}
	key, ok := k.keys[models.HashAPIKey(token)]
	if !ok || !key.Enabled {
		return nil, false
	}
	return key, true
}

// Len returns the number of configured keys.
func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	return len(k.keys)
}

// RequirePermission creates middleware that enforces a specific permission
func RequirePermission(required Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			securityContext := GetSecurityContext(r)

			if securityContext == nil || !securityContext.HasPermission(required) {
				writeMiddlewareError(w, r, http.StatusForbidden,
					"Insufficient permissions for this operation", models.ErrorCodeForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OptionalAuth creates middleware that allows optional authentication.
// Used for endpoints that provide different data based on auth status.
// On any error, the request continues without authentication.
func OptionalAuth(keyring *Keyring) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			apiKey, ok := keyring.Lookup(token)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(withAPIKey(r.Context(), apiKey)))
		})
	}
}

// authMiddleware rejects requests without a valid bearer API key.
func authMiddleware(keyring *Keyring) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHealthPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeMiddlewareError(w, r, http.StatusUnauthorized, "Authorization required", models.ErrorCodeUnauthorized)
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				writeMiddlewareError(w, r, http.StatusUnauthorized, "Invalid authorization format", models.ErrorCodeUnauthorized)
				return
			}
			apiKey, ok := keyring.Lookup(token)
			if !ok {
				writeMiddlewareError(w, r, http.StatusUnauthorized, "Invalid API key", models.ErrorCodeUnauthorized)
				return
			}
			slog.DebugContext(r.Context(), "API key authenticated", "key_name", apiKey.Name, "key_prefix", apiKey.Prefix)
			next.ServeHTTP(w, r.WithContext(withAPIKey(r.Context(), apiKey)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, prefix) {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len(prefix):])
	return token, token != ""
}

func isHealthPath(path string) bool {
	return path == "/health" || path == "/api/v1/health"
}

// writeMiddlewareError writes a JSON error from middleware that has no
// Handlers receiver.
func writeMiddlewareError(w http.ResponseWriter, r *http.Request, statusCode int, message, code string) {
	errorResp := models.NewErrorResponse(message, code)
	errorResp.RequestID = RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResp)
}
