package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server, &cfg.Upstream)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateSessions(&cfg.Sessions)...)
	errs = append(errs, validateBudget(&cfg.Budget)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateDirectory(&cfg.Directory)...)
	errs = append(errs, validateTokens(&cfg.Tokens)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(cfg *ServerConfig, upstream *UpstreamConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "must not be empty"})
	} else if _, port, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: fmt.Sprintf("invalid address: %v", err)})
	} else if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: fmt.Sprintf("invalid port %q", port)})
	}

	errs = append(errs, positive("server.read_timeout", cfg.ReadTimeout)...)
	errs = append(errs, positive("server.write_timeout", cfg.WriteTimeout)...)
	errs = append(errs, positive("server.idle_timeout", cfg.IdleTimeout)...)
	errs = append(errs, positive("server.shutdown_timeout", cfg.ShutdownTimeout)...)

	if cfg.WriteTimeout > 0 && upstream.Timeout > 0 && cfg.WriteTimeout <= upstream.Timeout {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: fmt.Sprintf("must exceed upstream.timeout (%s)", upstream.Timeout),
		})
	}
	if cfg.MaxHeaderBytes <= 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "must be positive"})
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, FieldError{Field: "server.max_body_bytes", Message: "must be positive"})
	}
	if cfg.CORS.MaxAge < 0 {
		errs = append(errs, FieldError{Field: "server.cors.max_age", Message: "must not be negative"})
	}
	if cfg.CORS.AllowCredentials {
		for _, o := range cfg.CORS.AllowedOrigins {
			if o == "*" {
				errs = append(errs, FieldError{
					Field:   "server.cors.allowed_origins",
					Message: "wildcard origin cannot be combined with allow_credentials",
				})
				break
			}
		}
	}

	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	if cfg.BaseURL == "" {
		errs = append(errs, FieldError{Field: "upstream.base_url", Message: "must not be empty"})
	} else if u, err := url.Parse(cfg.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, FieldError{Field: "upstream.base_url", Message: fmt.Sprintf("invalid URL %q: must be http or https with a host", cfg.BaseURL)})
	}

	for field, path := range map[string]string{
		"upstream.chat_path":        cfg.ChatPath,
		"upstream.completions_path": cfg.CompletionsPath,
	} {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, FieldError{Field: field, Message: "must start with /"})
		}
	}

	errs = append(errs, positive("upstream.timeout", cfg.Timeout)...)
	if cfg.MaxIdleConns < 0 {
		errs = append(errs, FieldError{Field: "upstream.max_idle_conns", Message: "must not be negative"})
	}
	if cfg.MaxIdleConnsPerHost < 0 {
		errs = append(errs, FieldError{Field: "upstream.max_idle_conns_per_host", Message: "must not be negative"})
	}
	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "storage.sqlite.path", Message: "required for the sqlite backend"})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{Field: "storage.sqlite.driver", Message: fmt.Sprintf("must be sqlite or sqlite3, got %q", cfg.SQLite.Driver)})
		}
	case "postgres":
		pg := cfg.Postgres
		if pg.URL == "" {
			errs = append(errs, FieldError{Field: "storage.postgres.url", Message: "required for the postgres backend"})
		}
		if pg.MaxConns <= 0 {
			errs = append(errs, FieldError{Field: "storage.postgres.max_conns", Message: "must be positive"})
		}
		if pg.MinConns < 0 || pg.MinConns > pg.MaxConns {
			errs = append(errs, FieldError{Field: "storage.postgres.min_conns", Message: "must be between 0 and max_conns"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("must be one of memory, sqlite, postgres, got %q", cfg.Backend),
		})
	}
	return errs
}

func validateSessions(cfg *SessionsConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "storage":
	case "redis":
		if _, err := redis.ParseURL(cfg.Redis.URL); err != nil {
			errs = append(errs, FieldError{Field: "sessions.redis.url", Message: err.Error()})
		}
		if cfg.Redis.HistoryLimit < 0 {
			errs = append(errs, FieldError{Field: "sessions.redis.history_limit", Message: "must not be negative"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "sessions.backend",
			Message: fmt.Sprintf("must be storage or redis, got %q", cfg.Backend),
		})
	}

	errs = append(errs, positive("sessions.ttl", cfg.TTL)...)

	if cfg.SweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.SweepSchedule); err != nil {
			errs = append(errs, FieldError{Field: "sessions.sweep_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}
	return errs
}

func validateBudget(cfg *BudgetConfig) []FieldError {
	var errs []FieldError
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, FieldError{Field: "budget.timezone", Message: fmt.Sprintf("unknown time zone %q", cfg.Timezone)})
	}
	if t := cfg.AlertThreshold; t != nil && (*t < 0 || *t > 1) {
		errs = append(errs, FieldError{Field: "budget.alert_threshold", Message: "must be between 0.0 and 1.0"})
	}
	return errs
}

func validateAuth(cfg *AuthConfig) []FieldError {
	var errs []FieldError
	switch {
	case cfg.JWTSecret == "":
		errs = append(errs, FieldError{Field: "auth.jwt_secret", Message: "must not be empty (set TOLLGATE_AUTH_JWT_SECRET)"})
	case len(cfg.JWTSecret) < 32:
		errs = append(errs, FieldError{Field: "auth.jwt_secret", Message: "must be at least 32 bytes"})
	}
	if cfg.Leeway < 0 {
		errs = append(errs, FieldError{Field: "auth.leeway", Message: "must not be negative"})
	}
	return errs
}

func validateDirectory(cfg *DirectoryConfig) []FieldError {
	var errs []FieldError
	if cfg.Path == "" {
		errs = append(errs, FieldError{Field: "directory.path", Message: "must not be empty"})
	}
	if cfg.Debounce < 0 {
		errs = append(errs, FieldError{Field: "directory.debounce", Message: "must not be negative"})
	}
	return errs
}

func validateTokens(cfg *TokensConfig) []FieldError {
	var errs []FieldError
	for model, ratio := range cfg.Models {
		if ratio <= 0 {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("tokens.models.%s", model),
				Message: "characters per token must be positive",
			})
		}
	}
	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("must be one of debug, info, warn, error, got %q", cfg.Logging.Level),
		})
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("must be json or text, got %q", cfg.Logging.Format),
		})
	}

	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}
	for i := 1; i < len(cfg.Metrics.DurationBuckets); i++ {
		if cfg.Metrics.DurationBuckets[i] <= cfg.Metrics.DurationBuckets[i-1] {
			errs = append(errs, FieldError{Field: "telemetry.metrics.duration_buckets", Message: "must be strictly increasing"})
			break
		}
	}

	tr := cfg.Tracing
	switch tr.Sampler {
	case "always", "never":
	case "ratio":
		if tr.SampleRatio < 0 || tr.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0.0 and 1.0"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("must be one of always, never, ratio, got %q", tr.Sampler),
		})
	}
	if tr.Enabled && tr.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "required when tracing is enabled"})
	}

	for field, path := range map[string]string{
		"telemetry.health.liveness_path":  cfg.Health.LivenessPath,
		"telemetry.health.readiness_path": cfg.Health.ReadinessPath,
	} {
		if !strings.HasPrefix(path, "/") {
			errs = append(errs, FieldError{Field: field, Message: "must start with /"})
		}
	}
	errs = append(errs, positive("telemetry.health.check_timeout", cfg.Health.CheckTimeout)...)

	return errs
}

func positive(field string, d time.Duration) []FieldError {
	if d <= 0 {
		return []FieldError{{Field: field, Message: "must be positive"}}
	}
	return nil
}
