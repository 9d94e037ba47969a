package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// cachedToken is a token with its reported expiry.
type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// valid reports whether the token can still be used, honoring
// tokenRefreshMargin so a request never starts with a token that expires
// mid-flight.
func (c cachedToken) valid() bool {
	return time.Now().Before(c.expiresAt.Add(-tokenRefreshMargin))
}

// TokenCache is a process-wide, thread-safe cache of Azure AD access
// tokens keyed by secret/credential identity, with singleflight collapsing
// concurrent refreshes of the same key into one HTTP round trip.
type TokenCache struct {
	mu    sync.Mutex
	cache map[string]cachedToken
	group singleflight.Group
}

// NewTokenCache creates an empty cache.
func NewTokenCache() *TokenCache {
	return &TokenCache{cache: make(map[string]cachedToken)}
}

// Get returns a cached, still-valid token for key, or ("", false).
func (c *TokenCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, ok := c.cache[key]
	if !ok || !tok.valid() {
		return "", false
	}
	return tok.accessToken, true
}

// Set stores a freshly acquired token.
func (c *TokenCache) Set(key, accessToken string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cachedToken{accessToken: accessToken, expiresAt: expiresAt}
}

// Invalidate discards the cached token for key, forcing the next
// GetOrAcquire to call acquire again.
func (c *TokenCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, key)
}

// GetOrAcquire returns the cached token for key if valid, otherwise calls
// acquire exactly once even if multiple goroutines request the same key
// concurrently, and caches the result.
func (c *TokenCache) GetOrAcquire(ctx context.Context, key string, acquire func(context.Context) (string, time.Time, error)) (string, error) {
	if tok, ok := c.Get(key); ok {
		return tok, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if tok, ok := c.Get(key); ok {
			return tok, nil
		}
		tok, expiresAt, err := acquire(ctx)
		if err != nil {
			return "", err
		}
		c.Set(key, tok, expiresAt)
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
