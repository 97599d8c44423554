// Package tokencache keeps issued tokens per session so consumers can reuse a
// token until it expires instead of authenticating on every call.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

var (
	// ErrAbsent reports a missing or expired entry.
	ErrAbsent = errors.New("tokencache: absent")
	// ErrInvalidKey rejects empty cache keys.
	ErrInvalidKey = errors.New("tokencache: invalid key")
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	defaultKeyPrefix = "permgate:token:"
)

// Cache stores one token per key. Implementations are safe for concurrent use.
type Cache interface {
	// Set stores token under key until min(now+TTL, expiresAt). An already
	// expired token is not stored and clears any previous entry.
	Set(ctx context.Context, key, token string, expiresAt time.Time) error
	// Get returns the token stored under key or ErrAbsent.
	Get(ctx context.Context, key string) (string, error)
	// Invalidate removes the entry under key.
	Invalidate(ctx context.Context, key string) error
	Close() error
}

// Config selects and tunes a backend.
type Config struct {
	Backend   string
	TTL       time.Duration
	RedisURL  string
	KeyPrefix string
}

// Option tweaks backend construction.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry checks.
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.now = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Open builds the backend named by cfg.Backend.
func Open(cfg Config, opts ...Option) (Cache, error) {
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("tokencache: negative ttl %s", cfg.TTL)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(cfg.TTL, opts...), nil
	case BackendRedis:
		r, err := DialRedis(cfg.RedisURL, cfg.KeyPrefix, cfg.TTL, opts...)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("tokencache: unknown backend %q", cfg.Backend)
	}
}

// entry is the stored form of a cached token.
type entry struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (e entry) live(now time.Time) bool {
	return e.Token != "" && now.Before(e.ExpiresAt)
}

// effectiveExpiry returns min(now+ttl, expiresAt); ttl <= 0 means token
// expiry only.
func effectiveExpiry(now time.Time, ttl time.Duration, expiresAt time.Time) time.Time {
	if ttl > 0 {
		if capped := now.Add(ttl); capped.Before(expiresAt) {
			return capped
		}
	}
	return expiresAt
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

func stripe(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
