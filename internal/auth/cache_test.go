package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// TOKEN CACHE UNIT TESTS
// ============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestTokenCacheGetSet tests basic cache get/set operations.
func TestTokenCacheGetSet(t *testing.T) {
	t.Log("=== TEST: Token Cache Get/Set ===")

	clock := newFakeClock()
	cache := NewTokenCache(WithCacheClock(clock.Now))

	if _, found := cache.Get("p1"); found {
		t.Errorf("Expected cache miss for new provider")
	}

	cache.Set("p1", CachedToken{Token: "tok", ExpiresAt: clock.Now().Add(time.Hour)})

	got, found := cache.Get("p1")
	if !found {
		t.Fatalf("Expected cache hit after set")
	}
	if got.Token != "tok" {
		t.Errorf("Token = %q, want tok", got.Token)
	}
	if !got.ObtainedAt.Equal(clock.Now()) {
		t.Errorf("ObtainedAt = %v, want %v", got.ObtainedAt, clock.Now())
	}

	t.Log("=== TEST PASSED: Token Cache Get/Set ===")
}

// TestTokenCacheExpiry tests that tokens stop being served inside the skew window.
func TestTokenCacheExpiry(t *testing.T) {
	t.Log("=== TEST: Token Cache Expiry ===")

	clock := newFakeClock()
	cache := NewTokenCache(WithCacheClock(clock.Now), WithExpirySkew(10*time.Second))
	cache.Set("p1", CachedToken{Token: "tok", ExpiresAt: clock.Now().Add(time.Minute)})

	clock.Advance(49 * time.Second)
	if _, found := cache.Get("p1"); !found {
		t.Errorf("Expected hit before the skew window")
	}

	clock.Advance(2 * time.Second)
	if _, found := cache.Get("p1"); found {
		t.Errorf("Expected miss inside the skew window")
	}

	if _, found := cache.Peek("p1"); !found {
		t.Errorf("Expected Peek to return the expired entry")
	}

	t.Log("=== TEST PASSED: Token Cache Expiry ===")
}

// TestTokenCacheStats tests cache statistics tracking.
func TestTokenCacheStats(t *testing.T) {
	t.Log("=== TEST: Token Cache Stats ===")

	clock := newFakeClock()
	cache := NewTokenCache(WithCacheClock(clock.Now))

	cache.Get("a")
	cache.Set("a", CachedToken{Token: "x", ExpiresAt: clock.Now().Add(time.Hour)})
	cache.Get("a")
	cache.Get("a")

	hits, misses, size := cache.Stats()
	if hits != 2 || misses != 1 || size != 1 {
		t.Errorf("Stats() = (%d, %d, %d), want (2, 1, 1)", hits, misses, size)
	}

	t.Log("=== TEST PASSED: Token Cache Stats ===")
}

// TestTokenCacheCleanup tests that cleanup removes only expired entries.
func TestTokenCacheCleanup(t *testing.T) {
	t.Log("=== TEST: Token Cache Cleanup ===")

	clock := newFakeClock()
	cache := NewTokenCache(WithCacheClock(clock.Now))
	cache.Set("short", CachedToken{Token: "s", ExpiresAt: clock.Now().Add(time.Minute)})
	cache.Set("long", CachedToken{Token: "l", ExpiresAt: clock.Now().Add(time.Hour)})

	clock.Advance(2 * time.Minute)
	if removed := cache.cleanup(); removed != 1 {
		t.Errorf("cleanup() removed %d entries, want 1", removed)
	}
	if _, found := cache.Peek("short"); found {
		t.Errorf("Expected expired entry to be gone")
	}
	if _, found := cache.Peek("long"); !found {
		t.Errorf("Expected live entry to survive")
	}

	t.Log("=== TEST PASSED: Token Cache Cleanup ===")
}

// TestTokenCacheRunStops tests that the janitor exits with its context.
func TestTokenCacheRunStops(t *testing.T) {
	cache := NewTokenCache()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		cache.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// TestTokenCacheDelete tests explicit invalidation.
func TestTokenCacheDelete(t *testing.T) {
	cache := NewTokenCache()
	cache.Set("p", CachedToken{Token: "x", ExpiresAt: time.Now().Add(time.Hour)})
	cache.Delete("p")

	if _, found := cache.Peek("p"); found {
		t.Errorf("Expected entry to be deleted")
	}
}
