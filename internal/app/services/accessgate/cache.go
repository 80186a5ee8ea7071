package accessgate

import (
	"context"
	"sync"
	"time"
)

// GrantCache remembers which (session, report) pairs were already paid for.
type GrantCache interface {
	Has(ctx context.Context, sessionKey, reportID string) (bool, error)
	// Claim records a grant and reports false when one already existed.
	Claim(ctx context.Context, sessionKey, reportID string) (bool, error)
	Release(ctx context.Context, sessionKey, reportID string) error
}

func grantKey(sessionKey, reportID string) string {
	return "audit:grant:" + sessionKey + ":" + reportID
}

// MemoryCache is a process-local GrantCache. A zero TTL never expires.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	grants map[string]time.Time
}

// NewMemoryCache builds an in-memory cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, grants: make(map[string]time.Time)}
}

func (c *MemoryCache) Has(_ context.Context, sessionKey, reportID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(grantKey(sessionKey, reportID)), nil
}

func (c *MemoryCache) Claim(_ context.Context, sessionKey, reportID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := grantKey(sessionKey, reportID)
	if c.liveLocked(key) {
		return false, nil
	}
	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	c.grants[key] = expires
	return true, nil
}

func (c *MemoryCache) Release(_ context.Context, sessionKey, reportID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.grants, grantKey(sessionKey, reportID))
	return nil
}

func (c *MemoryCache) liveLocked(key string) bool {
	expires, ok := c.grants[key]
	if !ok {
		return false
	}
	if !expires.IsZero() && !c.now().Before(expires) {
		delete(c.grants, key)
		return false
	}
	return true
}
