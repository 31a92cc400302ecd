// Package cache stores finished answers keyed by session and normalized
// query, so repeating a question within a session skips the whole pipeline.
// Any write to a session's corpus invalidates that session's entries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Cache is a session-scoped answer cache. Get returns errors.ErrNotFound on
// a miss or an expired entry. Invalidate drops every entry of one session.
type Cache interface {
	Get(ctx context.Context, sessionID, query string) ([]byte, error)
	Set(ctx context.Context, sessionID, query string, payload []byte) error
	Invalidate(ctx context.Context, sessionID string) error
}

// Key derives the cache key for a query within a session. The query is
// case-folded and trimmed first, so trivial retypes of the same question hit.
func Key(sessionID, query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(sessionID + ":" + normalized))
	return hex.EncodeToString(sum[:])
}
