package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"qazna.org/permgate/internal/token"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func noDotEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("", noDotEnv(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.Addr != ":8080" || c.Token.TTL != time.Hour || c.Cache.Backend != "memory" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Cache.TTL != c.Token.TTL {
		t.Fatalf("cache ttl should default to token ttl")
	}
	if c.HasSigningKey() {
		t.Fatalf("signing key must not have a default")
	}
	if _, err := c.TokenConfig(); err == nil {
		t.Fatalf("expected TokenConfig to fail without a key")
	}
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "permgate.yaml", `
app:
  env: prod
server:
  addr: ":9090"
token:
  issuer: yaml-issuer
  audience: frontend
  ttl: 30m
  clock_skew: 5s
cache:
  backend: memory
  ttl: 10m
`)
	t.Setenv("PERMGATE_TOKEN_TTL", "45m")
	t.Setenv("PERMGATE_SIGNING_KEY", "0123456789abcdef0123456789abcdef")

	c, err := Load(path, noDotEnv(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.App.Env != "prod" || c.Server.Addr != ":9090" {
		t.Fatalf("yaml values lost: %+v", c.App)
	}
	if c.Token.TTL != 45*time.Minute {
		t.Fatalf("env override not applied: %s", c.Token.TTL)
	}
	if c.Cache.TTL != 10*time.Minute {
		t.Fatalf("unexpected cache ttl %s", c.Cache.TTL)
	}
	tc, err := c.TokenConfig()
	if err != nil {
		t.Fatalf("TokenConfig: %v", err)
	}
	if tc.Issuer != "yaml-issuer" || tc.ClockSkew != 5*time.Second || len(tc.Key) != 32 {
		t.Fatalf("unexpected token config %+v", tc)
	}
	if _, err := token.NewIssuer(tc); err != nil {
		t.Fatalf("token config rejected: %v", err)
	}
}

func TestLoadDotEnvAndKeyFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeFile(t, dir, "key", "  abcdefghijklmnopqrstuvwxyz0123456789  \n")
	envPath := writeFile(t, dir, "test.env", "PERMGATE_SIGNING_KEY_FILE="+keyPath+"\nPERMGATE_CACHE_BACKEND=redis\nPERMGATE_REDIS_URL=redis://localhost:6379/0\n")
	t.Cleanup(func() {
		os.Unsetenv("PERMGATE_SIGNING_KEY_FILE")
		os.Unsetenv("PERMGATE_CACHE_BACKEND")
		os.Unsetenv("PERMGATE_REDIS_URL")
	})

	c, err := Load("", envPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tc, err := c.TokenConfig()
	if err != nil {
		t.Fatalf("TokenConfig: %v", err)
	}
	if string(tc.Key) != "abcdefghijklmnopqrstuvwxyz0123456789" {
		t.Fatalf("key not trimmed: %q", tc.Key)
	}
	if cc := c.CacheConfig(); cc.Backend != "redis" || cc.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected cache config %+v", cc)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad duration":   "token:\n  ttl: soon\n",
		"negative skew":  "token:\n  clock_skew: -1s\n",
		"unknown cache":  "cache:\n  backend: memcached\n",
		"redis sans url": "cache:\n  backend: redis\n",
	}
	for name, body := range cases {
		path := writeFile(t, dir, "c.yaml", body)
		if _, err := Load(path, noDotEnv(t)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	t.Setenv("PERMGATE_TOKEN_TTL", "forever")
	if _, err := Load("", noDotEnv(t)); err == nil {
		t.Fatalf("expected error for malformed env duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noDotEnv(t)); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestPoolAndLogConfig(t *testing.T) {
	c, err := Load("", noDotEnv(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p := c.PoolConfig(); p.MaxOpenConns != 50 || p.ConnMaxLifetime != 15*time.Minute {
		t.Fatalf("unexpected pool %+v", p)
	}
	if l := c.LogConfig("permgate-api", "1.0.0"); l.Service != "permgate-api" || l.Level != "info" {
		t.Fatalf("unexpected log config %+v", l)
	}
}

func TestRateTrustForwarded(t *testing.T) {
	c, err := Load("", noDotEnv(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Rate.TrustForwarded {
		t.Fatalf("forwarded headers must not be trusted by default")
	}

	t.Setenv("PERMGATE_RATE_TRUST_FORWARDED", "true")
	c, err = Load("", noDotEnv(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.Rate.TrustForwarded {
		t.Fatalf("env override not applied")
	}

	t.Setenv("PERMGATE_RATE_TRUST_FORWARDED", "maybe")
	if _, err := Load("", noDotEnv(t)); err == nil {
		t.Fatalf("expected error for bad bool")
	}
}
