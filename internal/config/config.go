// Package config defines the global configuration structure for the SoilWatch
// service. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast).
package config

import "time"

// Config is the top-level configuration struct for the SoilWatch service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"soilwatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	Ingestion IngestionConfig
	RateLimit RateLimitConfig
	Update    UpdateConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`

	// RequestTimeout is the soft deadline applied to every request context.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	// CORSAllowedOrigins lists origins accepted by the CORS layer; "*"
	// allows all.
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	// Path is the on-disk database file. The store opens exactly one
	// connection against it; all access is serialized behind the gateway lock.
	Path string `envconfig:"DATABASE_PATH" default:"soil_moisture.db" validate:"required"`
}

// IngestionConfig holds the SMAP source location and decode tuning.
type IngestionConfig struct {
	// SourceURL is the remote HDF5 composite to ingest. The default points at
	// the NSIDC SPL3SMP daily composite this service was built around.
	SourceURL string `envconfig:"SMAP_SOURCE_URL" default:"https://n5eil01u.ecs.nsidc.org/SMAP/SPL3SMP.007/2024.07.29/SMAP_L3_SM_P_20240729_R18290_001.h5" validate:"required,url"`

	// CompositeDate is the calendar date the source composite represents.
	// Every record from one file carries this single date.
	CompositeDate string `envconfig:"SMAP_COMPOSITE_DATE" default:"2024-07-29" validate:"required,datetime=2006-01-02"`

	// ChunkSize is the number of grid indices decoded per worker unit.
	ChunkSize int `envconfig:"SMAP_CHUNK_SIZE" default:"1000" validate:"gt=0"`

	// FetchTimeout bounds the whole download; a hung transfer fails the
	// ingestion tick instead of wedging the scheduler.
	FetchTimeout time.Duration `envconfig:"SMAP_FETCH_TIMEOUT" default:"10m"`

	// Interval between scheduled ingestion refreshes.
	Interval time.Duration `envconfig:"SMAP_REFRESH_INTERVAL" default:"24h"`
}

// RateLimitConfig holds the per-caller admission quota.
type RateLimitConfig struct {
	// Requests admitted per identity per Window, refilled continuously.
	Requests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"20" validate:"gt=0"`
	Window   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`

	// IdentityHeader is the request header the caller identity is derived
	// from; the first value wins. Falls back to the connection's remote
	// address when absent.
	IdentityHeader string `envconfig:"RATE_LIMIT_IDENTITY_HEADER" default:"X-Forwarded-For"`

	// BucketIdleTTL bounds memory growth: identity buckets untouched for this
	// long are evicted by the limiter's janitor. Eviction only resets an idle
	// caller's quota to full, which is indistinguishable from a full refill.
	BucketIdleTTL time.Duration `envconfig:"RATE_LIMIT_BUCKET_IDLE_TTL" default:"10m"`
}

// UpdateConfig holds the secure-update trust anchors and schedule.
type UpdateConfig struct {
	// RepositoryURL is the remote signed-metadata repository.
	RepositoryURL string `envconfig:"UPDATE_REPOSITORY_URL" default:"https://updates.soilwatch.io/" validate:"required,url"`

	// TrustedRootKeyIDs pins the root keys any fetched root metadata must be
	// signed by. Comma-separated in the environment.
	TrustedRootKeyIDs []string `envconfig:"UPDATE_TRUSTED_ROOT_KEY_IDS" default:"sw-root-key-1,sw-root-key-2,sw-root-key-3"`

	// Interval between scheduled update checks.
	Interval time.Duration `envconfig:"UPDATE_CHECK_INTERVAL" default:"24h"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
