package token

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MinKeyBytes is the smallest accepted HS256 key.
	MinKeyBytes          = 32
	DefaultMaxClaimBytes = 8 << 10
)

// Config holds the signing parameters shared by Issuer and Validator.
type Config struct {
	Key       []byte
	Issuer    string
	Audience  string
	TTL       time.Duration
	ClockSkew time.Duration
	// MaxClaimBytes bounds the encoded permission claim; zero means DefaultMaxClaimBytes.
	MaxClaimBytes int
}

func (c Config) normalized() (Config, error) {
	c.Issuer = strings.TrimSpace(c.Issuer)
	c.Audience = strings.TrimSpace(c.Audience)
	if len(c.Key) < MinKeyBytes {
		return Config{}, fmt.Errorf("%w: signing key must be at least %d bytes", ErrConfiguration, MinKeyBytes)
	}
	if c.Issuer == "" || c.Audience == "" {
		return Config{}, fmt.Errorf("%w: issuer and audience are required", ErrConfiguration)
	}
	if c.TTL <= 0 {
		return Config{}, fmt.Errorf("%w: ttl must be greater than zero", ErrConfiguration)
	}
	if c.ClockSkew < 0 {
		return Config{}, fmt.Errorf("%w: clock skew must not be negative", ErrConfiguration)
	}
	if c.MaxClaimBytes == 0 {
		c.MaxClaimBytes = DefaultMaxClaimBytes
	}
	if c.MaxClaimBytes < 0 {
		return Config{}, fmt.Errorf("%w: max claim bytes must not be negative", ErrConfiguration)
	}
	key := make([]byte, len(c.Key))
	copy(key, c.Key)
	c.Key = key
	return c, nil
}
