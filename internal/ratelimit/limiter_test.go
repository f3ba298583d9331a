package ratelimit

import (
	"context"
	"runtime"
	"testing"
	"time"
)

func TestMapLimiterEnforcesBurst(t *testing.T) {
	limiter := NewMapLimiter(5, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := limiter.Allow(ctx, "caller")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should have been allowed", i+1)
		}
	}

	ok, err := limiter.Allow(ctx, "caller")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("request over burst should have been rejected")
	}
}

func TestMapLimiterIsolatesKeys(t *testing.T) {
	limiter := NewMapLimiter(1, 1)
	ctx := context.Background()

	if ok, _ := limiter.Allow(ctx, "a"); !ok {
		t.Fatalf("first request for key a should pass")
	}
	if ok, _ := limiter.Allow(ctx, "a"); ok {
		t.Fatalf("second request for key a should be rejected")
	}
	if ok, _ := limiter.Allow(ctx, "b"); !ok {
		t.Fatalf("key b has its own bucket and should pass")
	}
}

func TestNewMapLimiterStartsNoGoroutine(t *testing.T) {
	before := runtime.NumGoroutine()

	limiters := make([]*MapLimiter, 0, 50)
	for i := 0; i < 50; i++ {
		limiters = append(limiters, NewMapLimiter(10, 10))
	}
	_ = limiters

	if after := runtime.NumGoroutine(); after > before {
		t.Fatalf("constructing limiters spawned goroutines: before=%d after=%d", before, after)
	}
}

func TestMapLimiterEvictsIdleEntries(t *testing.T) {
	limiter := NewMapLimiter(600, 600)
	current := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return current }
	ctx := context.Background()

	if ok, _ := limiter.Allow(ctx, "stale"); !ok {
		t.Fatalf("first request should pass")
	}

	current = current.Add(limiter.idleTTL + time.Minute)
	for i := 0; i < evictEvery; i++ {
		if _, err := limiter.Allow(ctx, "active"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	limiter.mu.Lock()
	_, staleAlive := limiter.limiters["stale"]
	_, activeAlive := limiter.limiters["active"]
	limiter.mu.Unlock()
	if staleAlive {
		t.Fatalf("idle entry should have been evicted")
	}
	if !activeAlive {
		t.Fatalf("active entry must survive eviction")
	}
}
