package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 120 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576  // 1MB
	DefaultMaxBodyBytes    = 10485760 // 10MB

	// CORS defaults
	DefaultCORSMaxAge = 3600 // 1 hour

	// Upstream defaults
	DefaultUpstreamBaseURL         = "https://api.openai.com"
	DefaultUpstreamChatPath        = "/v1/chat/completions"
	DefaultUpstreamCompletionsPath = "/v1/completions"
	DefaultUpstreamAuthHeader      = "Authorization"
	DefaultUpstreamTimeout         = 60 * time.Second
	DefaultUpstreamMaxIdleConns    = 100
	DefaultUpstreamMaxIdlePerHost  = 10
	DefaultUpstreamIdleConnTimeout = 90 * time.Second

	// Storage defaults
	DefaultStorageBackend           = "sqlite"
	DefaultSQLitePath               = "tollgate.db"
	DefaultSQLiteDriver             = "sqlite"
	DefaultSQLiteBusyTimeout        = 5 * time.Second
	DefaultSQLiteCheckpointInterval = 5 * time.Minute
	DefaultPostgresMaxConns         = int32(20)
	DefaultPostgresMinConns         = int32(2)
	DefaultPostgresMaxConnLifetime  = time.Hour
	DefaultPostgresMaxConnIdleTime  = 30 * time.Minute
	DefaultPostgresConnectTimeout   = 10 * time.Second
	DefaultPostgresAutoMigrate      = true

	// Session defaults
	DefaultSessionsBackend   = "storage"
	DefaultSessionTTL        = 12 * time.Hour
	DefaultSweepSchedule     = "*/5 * * * *"
	DefaultRedisURL          = "redis://localhost:6379/0"
	DefaultRedisKeyPrefix    = "tollgate:"
	DefaultRedisLinger       = time.Hour
	DefaultRedisHistoryLimit = int64(50)

	// Budget defaults
	DefaultBudgetTimezone       = "UTC"
	DefaultBudgetAlertThreshold = 0.8

	// Auth defaults
	DefaultAuthLeeway = 30 * time.Second

	// Directory defaults
	DefaultDirectoryPath     = "directory.yaml"
	DefaultDirectoryWatch    = true
	DefaultDirectoryDebounce = 250 * time.Millisecond

	// Telemetry defaults
	DefaultLoggingLevel         = "info"
	DefaultLoggingFormat        = "json"
	DefaultLoggingRedactSecrets = true
	DefaultMetricsEnabled       = true
	DefaultMetricsPath          = "/metrics"
	DefaultMetricsNamespace     = "tollgate"
	DefaultTracingSampler       = "ratio"
	DefaultTracingSampleRatio   = 0.1
	DefaultTracingEndpoint      = "localhost:4317"
	DefaultTracingInsecure      = true
	DefaultTracingTimeout       = 10 * time.Second
	DefaultTracingServiceName   = "tollgate"
	DefaultSecretsEnvPrefix     = "TOLLGATE_SECRET_"
	DefaultLivenessPath         = "/health"
	DefaultReadinessPath        = "/ready"
	DefaultHealthCheckTimeout   = 5 * time.Second
)

// DefaultDurationBuckets are the dispatch latency histogram buckets.
var DefaultDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyUpstreamDefaults(&cfg.Upstream)
	applyStorageDefaults(&cfg.Storage)
	applySessionDefaults(&cfg.Sessions)

	if cfg.Budget.Timezone == "" {
		cfg.Budget.Timezone = DefaultBudgetTimezone
	}
	// An explicit zero disables alerts.
	if cfg.Budget.AlertThreshold == nil {
		v := DefaultBudgetAlertThreshold
		cfg.Budget.AlertThreshold = &v
	}

	if cfg.Auth.Leeway == 0 {
		cfg.Auth.Leeway = DefaultAuthLeeway
	}

	if cfg.Directory.Path == "" {
		cfg.Directory.Path = DefaultDirectoryPath
	}
	if cfg.Directory.Watch == nil {
		cfg.Directory.Watch = boolPtr(DefaultDirectoryWatch)
	}
	if cfg.Directory.Debounce == 0 {
		cfg.Directory.Debounce = DefaultDirectoryDebounce
	}

	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = DefaultSecretsEnvPrefix
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	cors := &cfg.CORS
	if len(cors.AllowedOrigins) == 0 {
		cors.AllowedOrigins = []string{"*"}
	}
	if len(cors.AllowedMethods) == 0 {
		cors.AllowedMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if len(cors.AllowedHeaders) == 0 {
		cors.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Request-ID",
			"X-Organization-ID", "X-Workspace-ID", "X-Project-ID"}
	}
	if len(cors.ExposedHeaders) == 0 {
		cors.ExposedHeaders = []string{"X-Request-ID", "X-Trace-ID", "Retry-After", "X-Budget-Alert", "X-Usage-Record-ID"}
	}
	if cors.MaxAge == 0 {
		cors.MaxAge = DefaultCORSMaxAge
	}
}

func applyUpstreamDefaults(cfg *UpstreamConfig) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultUpstreamBaseURL
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = DefaultUpstreamChatPath
	}
	if cfg.CompletionsPath == "" {
		cfg.CompletionsPath = DefaultUpstreamCompletionsPath
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = DefaultUpstreamAuthHeader
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultUpstreamTimeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = DefaultUpstreamMaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = DefaultUpstreamMaxIdlePerHost
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = DefaultUpstreamIdleConnTimeout
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultStorageBackend
	}

	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = DefaultSQLitePath
	}
	if cfg.SQLite.Driver == "" {
		cfg.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.SQLite.BusyTimeout == 0 {
		cfg.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.SQLite.CheckpointInterval == 0 {
		cfg.SQLite.CheckpointInterval = DefaultSQLiteCheckpointInterval
	}

	pg := &cfg.Postgres
	if pg.MaxConns == 0 {
		pg.MaxConns = DefaultPostgresMaxConns
	}
	if pg.MinConns == 0 {
		pg.MinConns = DefaultPostgresMinConns
	}
	if pg.MaxConnLifetime == 0 {
		pg.MaxConnLifetime = DefaultPostgresMaxConnLifetime
	}
	if pg.MaxConnIdleTime == 0 {
		pg.MaxConnIdleTime = DefaultPostgresMaxConnIdleTime
	}
	if pg.ConnectTimeout == 0 {
		pg.ConnectTimeout = DefaultPostgresConnectTimeout
	}
	if pg.AutoMigrate == nil {
		pg.AutoMigrate = boolPtr(DefaultPostgresAutoMigrate)
	}
}

func applySessionDefaults(cfg *SessionsConfig) {
	if cfg.Backend == "" {
		cfg.Backend = DefaultSessionsBackend
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = DefaultRedisURL
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.Linger == 0 {
		cfg.Redis.Linger = DefaultRedisLinger
	}
	if cfg.Redis.HistoryLimit == 0 {
		cfg.Redis.HistoryLimit = DefaultRedisHistoryLimit
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Logging.RedactSecrets == nil {
		cfg.Logging.RedactSecrets = boolPtr(DefaultLoggingRedactSecrets)
	}

	if cfg.Metrics.Enabled == nil {
		cfg.Metrics.Enabled = boolPtr(DefaultMetricsEnabled)
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Metrics.DurationBuckets) == 0 {
		cfg.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}

	tr := &cfg.Tracing
	if tr.Sampler == "" {
		tr.Sampler = DefaultTracingSampler
	}
	if tr.SampleRatio == 0 {
		tr.SampleRatio = DefaultTracingSampleRatio
	}
	if tr.Endpoint == "" {
		tr.Endpoint = DefaultTracingEndpoint
	}
	if tr.Insecure == nil {
		tr.Insecure = boolPtr(DefaultTracingInsecure)
	}
	if tr.Timeout == 0 {
		tr.Timeout = DefaultTracingTimeout
	}
	if tr.ServiceName == "" {
		tr.ServiceName = DefaultTracingServiceName
	}

	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

func boolPtr(b bool) *bool {
	return &b
}
