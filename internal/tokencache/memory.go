package tokencache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"qazna.org/permgate/internal/obs"
)

const memoryStripes = 64

// Memory is an in-process Cache on go-cache. Writers to the same key are
// serialized; reads go straight to go-cache.
type Memory struct {
	c     *gocache.Cache
	ttl   time.Duration
	now   func() time.Time
	locks [memoryStripes]sync.Mutex
}

var _ Cache = (*Memory)(nil)

// NewMemory returns a memory cache capping entries at ttl.
func NewMemory(ttl time.Duration, opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		c:   gocache.New(gocache.NoExpiration, time.Minute),
		ttl: ttl,
		now: o.now,
	}
}

func (m *Memory) Set(ctx context.Context, key, token string, expiresAt time.Time) error {
	if err := checkKey(key); err != nil {
		return err
	}
	mu := &m.locks[stripe(key, memoryStripes)]
	mu.Lock()
	defer mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	now := m.now()
	until := effectiveExpiry(now, m.ttl, expiresAt)
	if !until.After(now) {
		m.c.Delete(key)
		return nil
	}
	m.c.Set(key, entry{Token: token, ExpiresAt: until}, until.Sub(now))
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, ok := m.c.Get(key)
	e, _ := v.(entry)
	if !ok || !e.live(m.now()) {
		obs.CountCacheLookup(BackendMemory, false)
		return "", ErrAbsent
	}
	obs.CountCacheLookup(BackendMemory, true)
	return e.Token, nil
}

func (m *Memory) Invalidate(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	mu := &m.locks[stripe(key, memoryStripes)]
	mu.Lock()
	defer mu.Unlock()
	m.c.Delete(key)
	return nil
}

// Len reports stored entries, expired ones not yet swept included.
func (m *Memory) Len() int { return m.c.ItemCount() }

func (m *Memory) Close() error {
	m.c.Flush()
	return nil
}
