package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_Minimal(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.ListenAddress != DefaultListenAddress {
		t.Errorf("listen address = %q, want %q", cfg.Server.ListenAddress, DefaultListenAddress)
	}
	if cfg.Upstream.Timeout != DefaultUpstreamTimeout {
		t.Errorf("upstream timeout = %v, want %v", cfg.Upstream.Timeout, DefaultUpstreamTimeout)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("storage backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Sessions.TTL != 12*time.Hour {
		t.Errorf("session ttl = %v, want 12h", cfg.Sessions.TTL)
	}
	if got := *cfg.Budget.AlertThreshold; got != 0.8 {
		t.Errorf("alert threshold = %v, want 0.8", got)
	}
	if !Enabled(cfg.Directory.Watch, false) {
		t.Error("directory watch should default to true")
	}
	if !Enabled(cfg.Telemetry.Metrics.Enabled, false) {
		t.Error("metrics should default to enabled")
	}
}

func TestLoadConfig_FullFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9090"
  write_timeout: 5m
upstream:
  base_url: "https://api.anthropic.com"
  chat_path: "/v1/messages"
  auth_header: "x-api-key"
  headers:
    anthropic-version: "2023-06-01"
  timeout: 2m
storage:
  backend: postgres
  postgres:
    url: "postgres://tollgate@localhost/tollgate"
    max_conns: 5
    min_conns: 1
    auto_migrate: false
sessions:
  backend: redis
  redis:
    url: "redis://cache:6379/2"
budget:
  timezone: "Europe/Berlin"
  alert_threshold: 0
auth:
  jwt_secret: "`+testSecret+`"
  issuer: "tollgate"
tokens:
  models:
    default: 3.5
    claude: 3.2
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9090" {
		t.Errorf("listen address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Upstream.Headers["anthropic-version"] != "2023-06-01" {
		t.Errorf("headers = %v", cfg.Upstream.Headers)
	}
	if cfg.Upstream.CompletionsPath != DefaultUpstreamCompletionsPath {
		t.Errorf("completions path = %q", cfg.Upstream.CompletionsPath)
	}
	if Enabled(cfg.Storage.Postgres.AutoMigrate, true) {
		t.Error("auto_migrate: false was not honored")
	}
	if cfg.Sessions.Redis.KeyPrefix != DefaultRedisKeyPrefix {
		t.Errorf("key prefix = %q", cfg.Sessions.Redis.KeyPrefix)
	}
	if got := *cfg.Budget.AlertThreshold; got != 0 {
		t.Errorf("explicit zero alert threshold became %v", got)
	}
	if cfg.Tokens.Models["claude"] != 3.2 {
		t.Errorf("token models = %v", cfg.Tokens.Models)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeConfig(t, "server: [unclosed")
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("expected parse error, got %v", err)
	}

	path = writeConfig(t, "storage:\n  backend: mongo\n")
	_, err := LoadConfig(path)
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := map[string]bool{}
	for _, fe := range verr.Errors {
		fields[fe.Field] = true
	}
	for _, want := range []string{"storage.backend", "auth.jwt_secret"} {
		if !fields[want] {
			t.Errorf("missing validation error for %s in %v", want, verr.Errors)
		}
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:8080"
`)

	t.Setenv("TOLLGATE_AUTH_JWT_SECRET", testSecret)
	t.Setenv("TOLLGATE_SERVER_LISTEN_ADDRESS", "0.0.0.0:7000")
	t.Setenv("TOLLGATE_SESSIONS_TTL", "30m")
	t.Setenv("TOLLGATE_DIRECTORY_WATCH", "false")
	t.Setenv("TOLLGATE_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TOLLGATE_BUDGET_ALERT_THRESHOLD", "0.5")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}

	if cfg.Auth.JWTSecret != testSecret {
		t.Error("jwt secret not taken from environment")
	}
	if cfg.Server.ListenAddress != "0.0.0.0:7000" {
		t.Errorf("listen address = %q", cfg.Server.ListenAddress)
	}
	if cfg.Sessions.TTL != 30*time.Minute {
		t.Errorf("session ttl = %v", cfg.Sessions.TTL)
	}
	if Enabled(cfg.Directory.Watch, true) {
		t.Error("directory watch override not applied")
	}
	if got := cfg.Server.CORS.AllowedOrigins; len(got) != 2 || got[1] != "https://b.example" {
		t.Errorf("allowed origins = %v", got)
	}
	if *cfg.Budget.AlertThreshold != 0.5 {
		t.Errorf("alert threshold = %v", *cfg.Budget.AlertThreshold)
	}
}

func TestApplyEnvOverrides_InvalidValues(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	env := map[string]string{
		"TOLLGATE_UPSTREAM_TIMEOUT":           "soon",
		"TOLLGATE_TELEMETRY_TRACING_ENABLED":  "maybe",
		"TOLLGATE_STORAGE_POSTGRES_MAX_CONNS": "9999999999",
	}
	err := applyEnvOverrides(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(verr.Errors), verr.Errors)
	}
	if cfg.Upstream.Timeout != DefaultUpstreamTimeout {
		t.Errorf("invalid override changed timeout to %v", cfg.Upstream.Timeout)
	}
}

func TestLoadConfigWithEnvOverrides_SecretReferences(t *testing.T) {
	secretsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(secretsDir, "jwt-key"), []byte(testSecret+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, `
auth:
  jwt_secret: ${secret:jwt-key}
upstream:
  api_key: ${secret:upstream-key}
`)
	t.Setenv("TOLLGATE_SECRETS_DIR", secretsDir)
	t.Setenv("TOLLGATE_SECRET_UPSTREAM_KEY", "sk-shared")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Error("jwt secret not resolved from secrets dir")
	}
	if cfg.Upstream.APIKey != "sk-shared" {
		t.Errorf("upstream api key = %q", cfg.Upstream.APIKey)
	}
	if cfg.Secrets.EnvPrefix != DefaultSecretsEnvPrefix {
		t.Errorf("env prefix = %q", cfg.Secrets.EnvPrefix)
	}
}

func TestLoadConfigWithEnvOverrides_UnresolvedSecret(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: ${secret:never-set}
`)
	_, err := LoadConfigWithEnvOverrides(path)
	if err == nil || !strings.Contains(err.Error(), "auth.jwt_secret") {
		t.Fatalf("expected unresolved secret error, got %v", err)
	}
}
