package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// KeyPrefix marks keys minted by GenerateAPIKey.
const KeyPrefix = "rk_"

const displayPrefixLen = 8

// permissionRank orders the built-in permissions. A key holding a rank
// satisfies every permission of equal or lower rank.
var permissionRank = map[string]int{
	"read":  1,
	"write": 2,
	"admin": 3,
}

// APIKey is a configured caller, resolved from its bearer token. Only the
// SHA-256 of the token is held, plus a short prefix for log lines.
type APIKey struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	KeyHash     string   `json:"key_hash"`
	Prefix      string   `json:"prefix"`
	Permissions []string `json:"permissions"`
	Enabled     bool     `json:"enabled"`
}

// NewAPIKeyFromConfig turns an api_keys entry into an APIKey with a fresh ID.
func NewAPIKeyFromConfig(cfg APIKeyConfig) *APIKey {
	prefix := cfg.Key
	if len(prefix) > displayPrefixLen {
		prefix = prefix[:displayPrefixLen]
	}
	return &APIKey{
		ID:          uuid.NewString(),
		Name:        cfg.Name,
		KeyHash:     HashAPIKey(cfg.Key),
		Prefix:      prefix,
		Permissions: cfg.Permissions,
		Enabled:     cfg.Enabled,
	}
}

// GenerateAPIKey returns a random key: KeyPrefix followed by 44 base64url
// characters.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 33)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAPIKey returns the hex SHA-256 of a raw key.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// HasPermission reports whether an enabled key grants required. "*" grants
// everything; unranked names only match themselves.
func (ak *APIKey) HasPermission(required string) bool {
	if ak == nil || !ak.Enabled {
		return false
	}
	need, ranked := permissionRank[required]
	for _, p := range ak.Permissions {
		if p == "*" || p == required {
			return true
		}
		if have, ok := permissionRank[p]; ok && ranked && have >= need {
			return true
		}
	}
	return false
}
