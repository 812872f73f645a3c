package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/tollgate/pkg/secrets"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TOLLGATE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TOLLGATE_SECTION_FIELD (e.g., TOLLGATE_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Resolve ${secret:name} references
// 5. Validate final configuration
//
// Secrets can be supplied purely through the environment, so validation is
// deferred until the overrides are applied.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	ApplyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := ResolveSecrets(context.Background(), &cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

// envBinding ties one environment variable to one configuration field.
type envBinding struct {
	name string
	set  func(val string) error
}

func bindings(cfg *Config) []envBinding {
	return []envBinding{
		// Server
		{"SERVER_LISTEN_ADDRESS", setString(&cfg.Server.ListenAddress)},
		{"SERVER_READ_TIMEOUT", setDuration(&cfg.Server.ReadTimeout)},
		{"SERVER_WRITE_TIMEOUT", setDuration(&cfg.Server.WriteTimeout)},
		{"SERVER_IDLE_TIMEOUT", setDuration(&cfg.Server.IdleTimeout)},
		{"SERVER_SHUTDOWN_TIMEOUT", setDuration(&cfg.Server.ShutdownTimeout)},
		{"SERVER_MAX_BODY_BYTES", setInt64(&cfg.Server.MaxBodyBytes)},
		{"SERVER_CORS_ENABLED", setBool(&cfg.Server.CORS.Enabled)},
		{"SERVER_CORS_ALLOWED_ORIGINS", setList(&cfg.Server.CORS.AllowedOrigins)},

		// Upstream
		{"UPSTREAM_BASE_URL", setString(&cfg.Upstream.BaseURL)},
		{"UPSTREAM_API_KEY", setString(&cfg.Upstream.APIKey)},
		{"UPSTREAM_AUTH_HEADER", setString(&cfg.Upstream.AuthHeader)},
		{"UPSTREAM_TIMEOUT", setDuration(&cfg.Upstream.Timeout)},

		// Storage
		{"STORAGE_BACKEND", setString(&cfg.Storage.Backend)},
		{"STORAGE_SQLITE_PATH", setString(&cfg.Storage.SQLite.Path)},
		{"STORAGE_SQLITE_DRIVER", setString(&cfg.Storage.SQLite.Driver)},
		{"STORAGE_POSTGRES_URL", setString(&cfg.Storage.Postgres.URL)},
		{"STORAGE_POSTGRES_MAX_CONNS", setInt32(&cfg.Storage.Postgres.MaxConns)},
		{"STORAGE_POSTGRES_AUTO_MIGRATE", setBoolPtr(&cfg.Storage.Postgres.AutoMigrate)},

		// Sessions
		{"SESSIONS_BACKEND", setString(&cfg.Sessions.Backend)},
		{"SESSIONS_TTL", setDuration(&cfg.Sessions.TTL)},
		{"SESSIONS_SWEEP_SCHEDULE", setString(&cfg.Sessions.SweepSchedule)},
		{"SESSIONS_REDIS_URL", setString(&cfg.Sessions.Redis.URL)},
		{"SESSIONS_REDIS_KEY_PREFIX", setString(&cfg.Sessions.Redis.KeyPrefix)},

		// Budget
		{"BUDGET_TIMEZONE", setString(&cfg.Budget.Timezone)},
		{"BUDGET_ALERT_THRESHOLD", setFloatPtr(&cfg.Budget.AlertThreshold)},

		// Auth
		{"AUTH_JWT_SECRET", setString(&cfg.Auth.JWTSecret)},
		{"AUTH_ISSUER", setString(&cfg.Auth.Issuer)},
		{"AUTH_AUDIENCE", setString(&cfg.Auth.Audience)},

		// Directory
		{"DIRECTORY_PATH", setString(&cfg.Directory.Path)},
		{"DIRECTORY_WATCH", setBoolPtr(&cfg.Directory.Watch)},

		// Secrets
		{"SECRETS_DIR", setString(&cfg.Secrets.Dir)},

		// Telemetry
		{"TELEMETRY_LOGGING_LEVEL", setString(&cfg.Telemetry.Logging.Level)},
		{"TELEMETRY_LOGGING_FORMAT", setString(&cfg.Telemetry.Logging.Format)},
		{"TELEMETRY_METRICS_ENABLED", setBoolPtr(&cfg.Telemetry.Metrics.Enabled)},
		{"TELEMETRY_TRACING_ENABLED", setBool(&cfg.Telemetry.Tracing.Enabled)},
		{"TELEMETRY_TRACING_ENDPOINT", setString(&cfg.Telemetry.Tracing.Endpoint)},
		{"TELEMETRY_TRACING_SAMPLE_RATIO", setFloat(&cfg.Telemetry.Tracing.SampleRatio)},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format TOLLGATE_SECTION_FIELD. A value that
// does not parse is an error rather than being silently ignored.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	var errs []FieldError
	for _, b := range bindings(cfg) {
		val, ok := lookup(EnvPrefix + b.name)
		if !ok || val == "" {
			continue
		}
		if err := b.set(val); err != nil {
			errs = append(errs, FieldError{
				Field:   EnvPrefix + b.name,
				Message: err.Error(),
			})
		}
	}
	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setList(dst *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q", v)
		}
		*dst = d
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*dst = b
		return nil
	}
}

func setBoolPtr(dst **bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		*dst = &b
		return nil
	}
}

func setInt64(dst *int64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*dst = n
		return nil
	}
}

func setInt32(dst *int32) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid integer %q", v)
		}
		*dst = int32(n)
		return nil
	}
}

func setFloat(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", v)
		}
		*dst = f
		return nil
	}
}

func setFloatPtr(dst **float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", v)
		}
		*dst = &f
		return nil
	}
}

// SecretResolver returns a resolver for the secrets section.
func SecretResolver(cfg *SecretsConfig) *secrets.Resolver {
	var providers []secrets.Provider
	if cfg.Dir != "" {
		providers = append(providers, secrets.Dir{Path: cfg.Dir})
	}
	providers = append(providers, secrets.Env{Prefix: cfg.EnvPrefix})
	return secrets.New(nil, providers...)
}

// ResolveSecrets replaces secret references in the credential fields.
func ResolveSecrets(ctx context.Context, cfg *Config) error {
	err := SecretResolver(&cfg.Secrets).ResolveAll(ctx, map[string]*string{
		"auth.jwt_secret":      &cfg.Auth.JWTSecret,
		"upstream.api_key":     &cfg.Upstream.APIKey,
		"storage.postgres.url": &cfg.Storage.Postgres.URL,
		"sessions.redis.url":   &cfg.Sessions.Redis.URL,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve secrets: %w", err)
	}
	return nil
}
