package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratekeeper/internal/models"
)

func TestOpenAPIDocuments(t *testing.T) {
	tests := []struct {
		name            string
		path            string
		handler         func(h *Handlers) http.HandlerFunc
		wantContentType string
		wantContains    []string
		wantETag        bool
	}{
		{
			name:            "yaml description",
			path:            "/api/v1/openapi.yaml",
			handler:         func(h *Handlers) http.HandlerFunc { return h.ServeOpenAPISpec },
			wantContentType: "application/yaml",
			wantContains:    []string{"openapi:", "/api/v1/check/token-bucket", "/api/v1/keys/{key}"},
			wantETag:        true,
		},
		{
			name:            "json description",
			path:            "/api/v1/openapi.json",
			handler:         func(h *Handlers) http.HandlerFunc { return h.ServeOpenAPIJSON },
			wantContentType: "application/json",
			wantContains:    []string{`"openapi"`, `"/api/v1/check/leaky-bucket"`},
			wantETag:        true,
		},
		{
			name:            "swagger ui",
			path:            "/api/v1/docs",
			handler:         func(h *Handlers) http.HandlerFunc { return h.ServeSwaggerUI },
			wantContentType: "text/html; charset=utf-8",
			wantContains:    []string{"swagger-ui", "/api/v1/openapi.yaml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handlers := NewHandlers(&MockLimiterService{})

			rec := httptest.NewRecorder()
			tt.handler(handlers)(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantContentType, rec.Header().Get("Content-Type"))
			assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
			for _, want := range tt.wantContains {
				assert.Contains(t, rec.Body.String(), want)
			}
			if tt.wantETag {
				assert.NotEmpty(t, rec.Header().Get("ETag"))
			} else {
				assert.Empty(t, rec.Header().Get("ETag"))
			}
		})
	}
}

func TestOpenAPIJSON_MatchesYAML(t *testing.T) {
	handlers := NewHandlers(&MockLimiterService{})
	rec := httptest.NewRecorder()
	handlers.ServeOpenAPIJSON(rec, httptest.NewRequest(http.MethodGet, "/api/v1/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc["openapi"])

	paths, ok := doc["paths"].(map[string]interface{})
	require.True(t, ok)
	check, ok := paths["/api/v1/check"].(map[string]interface{})
	require.True(t, ok)
	post, ok := check["post"].(map[string]interface{})
	require.True(t, ok)
	responses, ok := post["responses"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, responses, "200")
}

func TestOpenAPISpec_ConditionalRequest(t *testing.T) {
	handlers := NewHandlers(&MockLimiterService{})

	first := httptest.NewRecorder()
	handlers.ServeOpenAPISpec(first, httptest.NewRequest(http.MethodGet, "/api/v1/openapi.yaml", nil))
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	tests := []struct {
		name        string
		ifNoneMatch string
		wantStatus  int
	}{
		{name: "matching etag", ifNoneMatch: etag, wantStatus: http.StatusNotModified},
		{name: "weak matching etag", ifNoneMatch: "W/" + etag, wantStatus: http.StatusNotModified},
		{name: "one of several", ifNoneMatch: `"stale", ` + etag, wantStatus: http.StatusNotModified},
		{name: "wildcard", ifNoneMatch: "*", wantStatus: http.StatusNotModified},
		{name: "stale etag", ifNoneMatch: `"stale"`, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/openapi.yaml", nil)
			req.Header.Set("If-None-Match", tt.ifNoneMatch)
			rec := httptest.NewRecorder()

			handlers.ServeOpenAPISpec(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusNotModified {
				assert.Empty(t, rec.Body.String())
			}
		})
	}
}

func TestYAMLToJSON_StringifiesKeys(t *testing.T) {
	out, err := yamlToJSON([]byte("responses:\n  200:\n    description: ok\n  default:\n    description: error\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"responses":{"200":{"description":"ok"},"default":{"description":"error"}}}`, string(out))

	_, err = yamlToJSON([]byte("key: [unclosed"))
	assert.Error(t, err)
}

func TestOpenAPIRoutes_ArePublic(t *testing.T) {
	for _, enableAuth := range []bool{false, true} {
		for _, path := range []string{"/api/v1/openapi.yaml", "/api/v1/openapi.json", "/api/v1/docs"} {
			name := strings.TrimPrefix(path, "/api/v1/")
			if enableAuth {
				name += " with auth"
			}
			t.Run(name, func(t *testing.T) {
				config := &models.Config{}
				config.Security.EnableAuth = enableAuth
				if enableAuth {
					config.Security.APIKeys = []models.APIKeyConfig{
						{Name: "test", Key: "test-key", Enabled: true, Permissions: []string{"admin"}},
					}
				}

				server := httptest.NewServer(SetupRoutes(NewHandlers(&MockLimiterService{}), config))
				defer server.Close()

				// Deliberately no Authorization header
				resp, err := http.Get(server.URL + path)
				require.NoError(t, err)
				defer resp.Body.Close()

				assert.Equal(t, http.StatusOK, resp.StatusCode, "route %s should be public", path)
			})
		}
	}
}
