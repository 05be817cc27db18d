package domains

import (
	"context"
	"sync"
	"time"
)

// source is the fetch side of the allow-list. *Repository satisfies it.
type source interface {
	ListActiveNames(ctx context.Context) ([]string, error)
}

// Allowlist is a read-through cache over the active domain list with bounded
// staleness. It exists to spare a database round trip when rendering
// confirmation-link origins; it is never consulted for any integrity-critical
// decision. The cached value and its fetch time are explicit fields, and the
// cache is injected into its consumers rather than held as package state.
type Allowlist struct {
	src source
	ttl time.Duration

	mu        sync.Mutex
	value     []string
	fetchedAt time.Time
}

// NewAllowlist creates an Allowlist refreshing at most every ttl.
func NewAllowlist(src source, ttl time.Duration) *Allowlist {
	return &Allowlist{src: src, ttl: ttl}
}

// Names returns the active domain names, refetching when the cached value is
// older than the TTL. A failed refresh serves the stale value when one
// exists; bounded staleness is acceptable here.
func (a *Allowlist) Names(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.value != nil && time.Since(a.fetchedAt) < a.ttl {
		return a.value, nil
	}

	names, err := a.src.ListActiveNames(ctx)
	if err != nil {
		if a.value != nil {
			return a.value, nil
		}
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	a.value = names
	a.fetchedAt = time.Now()
	return a.value, nil
}

// Invalidate drops the cached value so the next Names call refetches.
func (a *Allowlist) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = nil
	a.fetchedAt = time.Time{}
}
