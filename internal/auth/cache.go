// Package auth acquires and caches bearer tokens for providers that require
// a login step.
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultExpirySkew treats a token as expired slightly before its deadline
	// so it never expires on the wire.
	DefaultExpirySkew = 30 * time.Second

	// CleanupInterval is how often Run sweeps expired entries.
	CleanupInterval = 1 * time.Minute
)

// CachedToken is a bearer token with its validity window.
type CachedToken struct {
	Token      string
	ExpiresAt  time.Time
	ObtainedAt time.Time
}

// ValidAt reports whether the token can still be used at now.
func (t CachedToken) ValidAt(now time.Time, skew time.Duration) bool {
	return t.Token != "" && now.Before(t.ExpiresAt.Add(-skew))
}

// TokenCache is a thread-safe token store keyed by provider ID.
type TokenCache struct {
	mu      sync.RWMutex
	entries map[string]CachedToken
	skew    time.Duration
	now     func() time.Time
	logger  *slog.Logger

	// Stats
	hits   int64
	misses int64
}

// TokenCacheOption is a functional option for configuring TokenCache.
type TokenCacheOption func(*TokenCache)

// WithExpirySkew sets how early tokens are considered expired.
func WithExpirySkew(d time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		c.skew = d
	}
}

// WithCacheClock sets the time source.
func WithCacheClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// WithCacheLogger sets a custom logger.
func WithCacheLogger(logger *slog.Logger) TokenCacheOption {
	return func(c *TokenCache) {
		c.logger = logger
	}
}

// NewTokenCache creates an empty TokenCache. Call Run to sweep expired
// entries in the background.
func NewTokenCache(opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		entries: make(map[string]CachedToken),
		skew:    DefaultExpirySkew,
		now:     time.Now,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the token for id if it is still valid.
func (c *TokenCache) Get(id string) (CachedToken, bool) {
	c.mu.RLock()
	entry, exists := c.entries[id]
	c.mu.RUnlock()

	valid := exists && entry.ValidAt(c.now(), c.skew)

	c.mu.Lock()
	if valid {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if !valid {
		return CachedToken{}, false
	}
	return entry, true
}

// Peek returns the entry for id whether or not it has expired.
func (c *TokenCache) Peek(id string) (CachedToken, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	return entry, ok
}

// Set stores tok under id.
func (c *TokenCache) Set(id string, tok CachedToken) {
	if tok.ObtainedAt.IsZero() {
		tok.ObtainedAt = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = tok
}

// Delete drops the token for id.
func (c *TokenCache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Run removes expired entries every interval until ctx is done.
func (c *TokenCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = CleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes all expired entries from the cache.
func (c *TokenCache) cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expired := 0

	for id, entry := range c.entries {
		if !entry.ValidAt(now, 0) {
			delete(c.entries, id)
			expired++
		}
	}

	if expired > 0 && c.logger != nil {
		c.logger.Debug("token cache cleanup",
			slog.Int("expired_entries", expired),
			slog.Int("remaining_entries", len(c.entries)),
		)
	}
	return expired
}

// Stats returns cache hit/miss statistics.
func (c *TokenCache) Stats() (hits, misses int64, size int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses, len(c.entries)
}
