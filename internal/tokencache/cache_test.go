package tokencache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type backend struct {
	name string
	open func(t *testing.T, ttl time.Duration, clk *clock) Cache
}

func backends() []backend {
	return []backend{
		{name: BackendMemory, open: func(t *testing.T, ttl time.Duration, clk *clock) Cache {
			return NewMemory(ttl, WithClock(clk.Now))
		}},
		{name: BackendRedis, open: func(t *testing.T, ttl time.Duration, clk *clock) Cache {
			t.Helper()
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			c := NewRedis(client, "test:", ttl, WithClock(clk.Now))
			t.Cleanup(func() { _ = c.Close() })
			return c
		}},
	}
}

func TestCacheKeysAreIndependent(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clk := &clock{now: t0}
			c := b.open(t, time.Hour, clk)
			ctx := context.Background()
			if err := c.Set(ctx, "session-a", "token-a", t0.Add(time.Hour)); err != nil {
				t.Fatalf("Set a: %v", err)
			}
			if err := c.Set(ctx, "session-b", "token-b", t0.Add(time.Hour)); err != nil {
				t.Fatalf("Set b: %v", err)
			}
			for key, want := range map[string]string{"session-a": "token-a", "session-b": "token-b"} {
				got, err := c.Get(ctx, key)
				if err != nil || got != want {
					t.Fatalf("Get(%s) = %q, %v; want %q", key, got, err, want)
				}
			}
			if err := c.Invalidate(ctx, "session-a"); err != nil {
				t.Fatalf("Invalidate: %v", err)
			}
			if _, err := c.Get(ctx, "session-a"); !errors.Is(err, ErrAbsent) {
				t.Fatalf("expected ErrAbsent after invalidate, got %v", err)
			}
			if got, err := c.Get(ctx, "session-b"); err != nil || got != "token-b" {
				t.Fatalf("invalidating one key touched another: %q, %v", got, err)
			}
		})
	}
}

func TestCacheExpiryIsMinOfTTLAndToken(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			// cache TTL shorter than token lifetime
			clk := &clock{now: t0}
			c := b.open(t, 10*time.Minute, clk)
			if err := c.Set(ctx, "s", "tok", t0.Add(time.Hour)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			clk.Advance(10*time.Minute - time.Second)
			if _, err := c.Get(ctx, "s"); err != nil {
				t.Fatalf("expected hit before cache ttl, got %v", err)
			}
			clk.Advance(2 * time.Second)
			if _, err := c.Get(ctx, "s"); !errors.Is(err, ErrAbsent) {
				t.Fatalf("expected ErrAbsent after cache ttl, got %v", err)
			}

			// token lifetime shorter than cache TTL
			clk = &clock{now: t0}
			c = b.open(t, time.Hour, clk)
			if err := c.Set(ctx, "s", "tok", t0.Add(5*time.Minute)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			clk.Advance(5*time.Minute + time.Second)
			if _, err := c.Get(ctx, "s"); !errors.Is(err, ErrAbsent) {
				t.Fatalf("expected ErrAbsent after token expiry, got %v", err)
			}
		})
	}
}

func TestCacheSkipsExpiredTokens(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clk := &clock{now: t0}
			c := b.open(t, time.Hour, clk)
			ctx := context.Background()
			if err := c.Set(ctx, "s", "old", t0.Add(time.Hour)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := c.Set(ctx, "s", "stale", t0.Add(-time.Second)); err != nil {
				t.Fatalf("Set expired: %v", err)
			}
			if _, err := c.Get(ctx, "s"); !errors.Is(err, ErrAbsent) {
				t.Fatalf("expected ErrAbsent, got %v", err)
			}
		})
	}
}

func TestCacheRejectsEmptyKey(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			c := b.open(t, time.Hour, &clock{now: t0})
			ctx := context.Background()
			if err := c.Set(ctx, " ", "tok", t0.Add(time.Hour)); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("Set: expected ErrInvalidKey, got %v", err)
			}
			if _, err := c.Get(ctx, ""); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("Get: expected ErrInvalidKey, got %v", err)
			}
			if err := c.Invalidate(ctx, ""); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("Invalidate: expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestCacheCancelledSetWritesNothing(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			c := b.open(t, time.Hour, &clock{now: t0})
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if err := c.Set(ctx, "s", "tok", t0.Add(time.Hour)); !errors.Is(err, context.Canceled) {
				t.Fatalf("expected context.Canceled, got %v", err)
			}
			if _, err := c.Get(context.Background(), "s"); !errors.Is(err, ErrAbsent) {
				t.Fatalf("expected nothing stored, got %v", err)
			}
		})
	}
}

func TestMemoryConcurrentWriters(t *testing.T) {
	c := NewMemory(time.Hour, WithClock(func() time.Time { return t0 }))
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("session-%d", i%4)
			_ = c.Set(ctx, key, fmt.Sprintf("tok-%d", i), t0.Add(time.Hour))
			_, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()
	if c.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", c.Len())
	}
}

func TestRedisKeyTTLAndPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := DialRedis("redis://"+mr.Addr()+"/0", "", 10*time.Minute, WithClock(func() time.Time { return t0 }))
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	defer c.Close()
	ctx := context.Background()
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := c.Set(ctx, "s", "tok", t0.Add(time.Hour)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("permgate:token:s") {
		t.Fatalf("expected prefixed key, have %v", mr.Keys())
	}
	if ttl := mr.TTL("permgate:token:s"); ttl != 10*time.Minute {
		t.Fatalf("expected 10m key ttl, got %s", ttl)
	}
	mr.FastForward(10*time.Minute + time.Second)
	if _, err := c.Get(ctx, "s"); !errors.Is(err, ErrAbsent) {
		t.Fatalf("expected ErrAbsent after key expiry, got %v", err)
	}
}

func TestRedisCorruptEntryIsAbsent(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "p:", time.Hour, WithClock(func() time.Time { return t0 }))
	defer c.Close()
	if err := mr.Set("p:s", "not-json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := c.Get(context.Background(), "s"); !errors.Is(err, ErrAbsent) {
		t.Fatalf("expected ErrAbsent, got %v", err)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	c, err := Open(Config{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := c.(*Memory); !ok {
		t.Fatalf("expected memory backend, got %T", c)
	}

	mr := miniredis.RunT(t)
	c, err = Open(Config{Backend: "redis", RedisURL: "redis://" + mr.Addr(), TTL: time.Minute})
	if err != nil {
		t.Fatalf("Open redis: %v", err)
	}
	defer c.Close()
	if _, ok := c.(*Redis); !ok {
		t.Fatalf("expected redis backend, got %T", c)
	}

	if _, err := Open(Config{Backend: "memcached"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if _, err := Open(Config{Backend: "redis"}); err == nil {
		t.Fatalf("expected error for missing redis url")
	}
}
