package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"qazna.org/permgate/internal/obs"
)

// Redis is a Cache shared between processes. Each entry carries its own
// expiry as a key TTL and inside the stored value.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ Cache = (*Redis)(nil)

// DialRedis parses url (redis://host:port/db) and returns a Redis cache.
func DialRedis(url, prefix string, ttl time.Duration, opts ...Option) (*Redis, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("tokencache: redis url is required")
	}
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("tokencache: parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(ropts), prefix, ttl, opts...), nil
}

// NewRedis wraps an existing client. An empty prefix uses "permgate:token:".
func NewRedis(client *redis.Client, prefix string, ttl time.Duration, opts ...Option) *Redis {
	o := buildOptions(opts)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, now: o.now}
}

func (r *Redis) Set(ctx context.Context, key, token string, expiresAt time.Time) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := r.now()
	until := effectiveExpiry(now, r.ttl, expiresAt)
	if !until.After(now) {
		return r.Invalidate(ctx, key)
	}
	data, err := json.Marshal(entry{Token: token, ExpiresAt: until.UTC()})
	if err != nil {
		return fmt.Errorf("tokencache: encode entry: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, until.Sub(now)).Err(); err != nil {
		return fmt.Errorf("tokencache: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		obs.CountCacheLookup(BackendRedis, false)
		return "", ErrAbsent
	}
	if err != nil {
		return "", fmt.Errorf("tokencache: redis get: %w", err)
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil || !e.live(r.now()) {
		obs.CountCacheLookup(BackendRedis, false)
		return "", ErrAbsent
	}
	obs.CountCacheLookup(BackendRedis, true)
	return e.Token, nil
}

func (r *Redis) Invalidate(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("tokencache: redis del: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
