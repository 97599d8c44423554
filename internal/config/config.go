// Package config loads server and CLI settings: a YAML file, then an optional
// .env file, then PERMGATE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"qazna.org/permgate/internal/obs"
	"qazna.org/permgate/internal/store/pg"
	"qazna.org/permgate/internal/token"
	"qazna.org/permgate/internal/tokencache"
)

const envPrefix = "PERMGATE_"

type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	} `yaml:"server"`

	Database struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	} `yaml:"database"`

	Token struct {
		Issuer        string        `yaml:"issuer"`
		Audience      string        `yaml:"audience"`
		TTL           time.Duration `yaml:"ttl"`
		ClockSkew     time.Duration `yaml:"clock_skew"`
		MaxClaimBytes int           `yaml:"max_claim_bytes"`
		// SigningKeyFile points at a file holding the HMAC key. The key itself
		// never lives in YAML.
		SigningKeyFile string `yaml:"signing_key_file"`
	} `yaml:"token"`

	Cache struct {
		Backend   string        `yaml:"backend"` // memory | redis
		TTL       time.Duration `yaml:"ttl"`
		RedisURL  string        `yaml:"redis_url"`
		KeyPrefix string        `yaml:"key_prefix"`
	} `yaml:"cache"`

	Rate struct {
		Enabled bool    `yaml:"enabled"`
		RPS     float64 `yaml:"rps"`
		Burst   int     `yaml:"burst"`

		// TrustForwarded keys limits on X-Forwarded-For; set only behind a proxy.
		TrustForwarded bool `yaml:"trust_forwarded"`
	} `yaml:"rate"`

	Authz struct {
		ViewerFunction string `yaml:"viewer_function"`
	} `yaml:"authz"`

	Client struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"client"`

	signingKey []byte
}

// Load reads path (optional), then .env files (missing ones are ignored), then
// environment overrides, and validates the result.
func Load(path string, envFiles ...string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	c.applyDefaults()
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := c.loadSigningKey(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = pg.DefaultPool.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = pg.DefaultPool.MaxIdleConns
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = pg.DefaultPool.ConnMaxLifetime
	}
	if c.Database.ConnMaxIdleTime == 0 {
		c.Database.ConnMaxIdleTime = pg.DefaultPool.ConnMaxIdleTime
	}
	if c.Token.Issuer == "" {
		c.Token.Issuer = "permgate"
	}
	if c.Token.Audience == "" {
		c.Token.Audience = "permgate-clients"
	}
	if c.Token.TTL == 0 {
		c.Token.TTL = 60 * time.Minute
	}
	if c.Token.MaxClaimBytes == 0 {
		c.Token.MaxClaimBytes = token.DefaultMaxClaimBytes
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = tokencache.BackendMemory
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = c.Token.TTL
	}
	if c.Rate.RPS == 0 {
		c.Rate.RPS = 5
	}
	if c.Rate.Burst == 0 {
		c.Rate.Burst = 10
	}
	if c.Client.BaseURL == "" {
		c.Client.BaseURL = "http://localhost:8080"
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = 10 * time.Second
	}
}

func (c *Config) applyEnvOverrides() error {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("DB_DSN"); ok {
		c.Database.DSN = v
	}
	if err := overrideInt("DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns); err != nil {
		return err
	}
	if v, ok := getEnvStr("TOKEN_ISSUER"); ok {
		c.Token.Issuer = v
	}
	if v, ok := getEnvStr("TOKEN_AUDIENCE"); ok {
		c.Token.Audience = v
	}
	if err := overrideDur("TOKEN_TTL", &c.Token.TTL); err != nil {
		return err
	}
	if err := overrideDur("TOKEN_CLOCK_SKEW", &c.Token.ClockSkew); err != nil {
		return err
	}
	if v, ok := getEnvStr("SIGNING_KEY_FILE"); ok {
		c.Token.SigningKeyFile = v
	}
	if v, ok := getEnvStr("CACHE_BACKEND"); ok {
		c.Cache.Backend = strings.ToLower(v)
	}
	if err := overrideDur("CACHE_TTL", &c.Cache.TTL); err != nil {
		return err
	}
	if v, ok := getEnvStr("REDIS_URL"); ok {
		c.Cache.RedisURL = v
	}
	if err := overrideBool("RATE_ENABLED", &c.Rate.Enabled); err != nil {
		return err
	}
	if err := overrideBool("RATE_TRUST_FORWARDED", &c.Rate.TrustForwarded); err != nil {
		return err
	}
	if v, ok := getEnvStr("VIEWER_FUNCTION"); ok {
		c.Authz.ViewerFunction = v
	}
	if v, ok := getEnvStr("BASE_URL"); ok {
		c.Client.BaseURL = v
	}
	return nil
}

// loadSigningKey prefers PERMGATE_SIGNING_KEY over the key file.
func (c *Config) loadSigningKey() error {
	if v, ok := getEnvStr("SIGNING_KEY"); ok {
		c.signingKey = []byte(v)
		return nil
	}
	if p := strings.TrimSpace(c.Token.SigningKeyFile); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("config: read signing key: %w", err)
		}
		c.signingKey = []byte(strings.TrimSpace(string(b)))
	}
	return nil
}

// Validate checks ranges that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Token.TTL <= 0 {
		return errors.New("config: token.ttl must be positive")
	}
	if c.Token.ClockSkew < 0 {
		return errors.New("config: token.clock_skew must not be negative")
	}
	if c.Cache.TTL < 0 {
		return errors.New("config: cache.ttl must not be negative")
	}
	switch c.Cache.Backend {
	case tokencache.BackendMemory:
	case tokencache.BackendRedis:
		if strings.TrimSpace(c.Cache.RedisURL) == "" {
			return errors.New("config: cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Rate.RPS < 0 || c.Rate.Burst < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	if c.Server.MaxBodyBytes < 0 {
		return errors.New("config: server.max_body_bytes must not be negative")
	}
	return nil
}

// HasSigningKey reports whether a signing key was supplied.
func (c *Config) HasSigningKey() bool { return len(c.signingKey) > 0 }

// TokenConfig assembles issuer/validator settings. It fails when no signing
// key was supplied through the environment or a key file.
func (c *Config) TokenConfig() (token.Config, error) {
	if !c.HasSigningKey() {
		return token.Config{}, fmt.Errorf("config: signing key missing; set %sSIGNING_KEY or token.signing_key_file", envPrefix)
	}
	return token.Config{
		Key:           append([]byte(nil), c.signingKey...),
		Issuer:        c.Token.Issuer,
		Audience:      c.Token.Audience,
		TTL:           c.Token.TTL,
		ClockSkew:     c.Token.ClockSkew,
		MaxClaimBytes: c.Token.MaxClaimBytes,
	}, nil
}

func (c *Config) CacheConfig() tokencache.Config {
	return tokencache.Config{
		Backend:   c.Cache.Backend,
		TTL:       c.Cache.TTL,
		RedisURL:  c.Cache.RedisURL,
		KeyPrefix: c.Cache.KeyPrefix,
	}
}

func (c *Config) PoolConfig() pg.PoolConfig {
	return pg.PoolConfig{
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}

func (c *Config) LogConfig(service, version string) obs.LogConfig {
	return obs.LogConfig{
		Env:     c.App.Env,
		Level:   c.App.LogLevel,
		Service: service,
		Version: version,
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func overrideInt(key string, dst *int) error {
	s, ok := getEnvStr(key)
	if !ok {
		return nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	*dst = i
	return nil
}

func overrideBool(key string, dst *bool) error {
	v, ok := getEnvStr(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	*dst = b
	return nil
}

func overrideDur(key string, dst *time.Duration) error {
	s, ok := getEnvStr(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
	}
	*dst = d
	return nil
}
