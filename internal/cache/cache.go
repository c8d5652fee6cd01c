// Package cache memoizes final routed responses keyed by a schema-versioned
// hash of the normalized query. Every operation is fail-safe: storage errors
// are logged and absorbed, never surfaced to the request path.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// SchemaVersion participates in the cache key so behavioral changes
// invalidate old entries without a manual purge.
const SchemaVersion = "v1"

// Entry is one cached response.
type Entry struct {
	Query     string        `json:"query"`
	Response  string        `json:"response"`
	AgentIDs  []string      `json:"agent_ids"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// Expired reports whether the entry is past its TTL.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.CreatedAt.Add(e.TTL))
}

// ResultCache stores routed responses across requests.
type ResultCache interface {
	// Get returns the cached entry for a query, or ok=false on miss, expiry,
	// or any storage error.
	Get(ctx context.Context, query string) (*Entry, bool)
	// Store saves a response. Errors are absorbed.
	Store(ctx context.Context, query, response string, agentIDs []string)
	// Clear drops all entries.
	Clear(ctx context.Context)
}

// Normalize canonicalizes a query for keying: lowercase and trimmed.
func Normalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Key builds the schema-versioned content hash for a query.
func Key(query string) string {
	h := sha256.Sum256([]byte(SchemaVersion + "|" + Normalize(query)))
	return "res:" + hex.EncodeToString(h[:])
}
