package port

import (
	"context"
	"time"
)

// CacheRepository memoizes read results per project site. Implementations
// are best-effort: a miss or an error just means the caller recomputes.
type CacheRepository interface {
	// Get looks up key within site scope (empty site = admin/global scope)
	// and unmarshals into out, reporting whether a live entry was found.
	Get(ctx context.Context, site, key string, out any) (bool, error)

	// Set stores val under key within site scope with the given TTL.
	Set(ctx context.Context, site, key string, val any, ttl time.Duration) error

	// InvalidateSite makes every entry scoped to site, and every entry in
	// the admin/global scope, unreachable. O(1) regardless of entry count.
	InvalidateSite(ctx context.Context, site string) error

	// FlushAll drops everything. Administrative recovery only; correctness
	// never depends on it being called.
	FlushAll(ctx context.Context) error
}
