package api

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"ratekeeper/internal/models"
)

//go:embed openapi/openapi.yaml
var openAPISpec []byte

// openAPIETag is a strong validator for the embedded document; it changes
// only when the binary does.
var openAPIETag = func() string {
	sum := sha256.Sum256(openAPISpec)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}()

var (
	openAPIJSONOnce sync.Once
	openAPIJSON     []byte
	openAPIJSONErr  error
)

// ServeOpenAPISpec serves the OpenAPI 3.0.3 description as YAML.
func (h *Handlers) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	serveDocument(w, r, "application/yaml", openAPIETag, openAPISpec)
}

// ServeOpenAPIJSON serves the same description converted to JSON, for
// clients that cannot read YAML.
func (h *Handlers) ServeOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	openAPIJSONOnce.Do(func() {
		openAPIJSON, openAPIJSONErr = yamlToJSON(openAPISpec)
	})
	if openAPIJSONErr != nil {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError, "OpenAPI document unavailable")
		return
	}
	serveDocument(w, r, "application/json", strings.TrimSuffix(openAPIETag, `"`)+`-json"`, openAPIJSON)
}

// ServeSwaggerUI serves an interactive Swagger UI that loads the YAML description.
func (h *Handlers) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	serveDocument(w, r, "text/html; charset=utf-8", "", []byte(swaggerUIHTML))
}

func serveDocument(w http.ResponseWriter, r *http.Request, contentType, etag string, body []byte) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if etag != "" {
		w.Header().Set("ETag", etag)
		if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON. Mapping keys that YAML
// reads as non-strings (such as unquoted status codes) are stringified.
func yamlToJSON(doc []byte) ([]byte, error) {
	var v interface{}
	if err := yaml.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("parse openapi yaml: %w", err)
	}
	return json.Marshal(stringKeys(v))
}

func stringKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			t[k] = stringKeys(child)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = stringKeys(child)
		}
		return out
	case []interface{}:
		for i, child := range t {
			t[i] = stringKeys(child)
		}
		return t
	default:
		return v
	}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>ratekeeper API - Documentation</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/api/v1/openapi.yaml',
      dom_id: '#swagger-ui',
      deepLinking: true,
      displayRequestDuration: true,
      tryItOutEnabled: true,
      persistAuthorization: true
    });
  </script>
</body>
</html>`
