// Package config defines the process configuration for the compliance engine.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value, invalid format, or a regulatory threshold other
// than exactly 0.25 inches causes LoadConfig to fail, and the process must not
// start serving checks.
package config

import (
	"time"

	"github.com/shopspring/decimal"

	"braveforms/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// RegulatoryThresholdInches is the EPA CGP rainfall trigger. The configured
// value must equal this exactly.
var RegulatoryThresholdInches = decimal.RequireFromString("0.25")

// Config is the top-level configuration struct. Sub-components receive only
// the sub-config they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"braveforms-compliance"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server     ServerConfig
	Database   DatabaseConfig
	Compliance ComplianceConfig
	Weather    WeatherConfig
	Cache      CacheConfig
	Realtime   RealtimeConfig
	AWS        AWSConfig
	Metrics    MetricsConfig
	Monitor    MonitorConfig
	Auth       AuthConfig

	// Build metadata (injected via ldflags, not env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	RunMigrations     bool          `envconfig:"DB_RUN_MIGRATIONS" default:"false"`
}

// ComplianceConfig holds the regulatory rule parameters.
type ComplianceConfig struct {
	// ThresholdInches must be exactly 0.25; see validateThreshold.
	ThresholdInches decimal.Decimal `envconfig:"COMPLIANCE_RAIN_THRESHOLD_INCHES" default:"0.25"`
	// Timezone is the IANA zone used for business-hours deadlines and the
	// working-hours check.
	Timezone string `envconfig:"COMPLIANCE_TIMEZONE" default:"UTC" validate:"required,timezone"`
	// CacheMaxAge bounds how old a cached reading may be in degraded mode.
	CacheMaxAge time.Duration `envconfig:"COMPLIANCE_CACHE_MAX_AGE" default:"4h"`
	// RecordTimeout bounds the WeatherEvent write once it has started.
	RecordTimeout time.Duration `envconfig:"COMPLIANCE_RECORD_TIMEOUT" default:"10s"`
}

// WeatherConfig holds precipitation provider settings.
type WeatherConfig struct {
	Timeout time.Duration `envconfig:"WEATHER_TIMEOUT" default:"15s"`

	NOAABaseURL     string `envconfig:"NOAA_BASE_URL" default:"https://api.weather.gov" validate:"required,url"`
	NOAAUserAgent   string `envconfig:"NOAA_USER_AGENT" default:"BrAveForms/1.0 (compliance@braveforms.io)"`
	NOAAMaxStations int    `envconfig:"NOAA_MAX_STATIONS" default:"3" validate:"min=1,max=10"`

	// OpenWeatherAPIKey enables the secondary adapter. Empty disables it.
	OpenWeatherAPIKey  SecretString `envconfig:"OPENWEATHER_API_KEY"`
	OpenWeatherBaseURL string       `envconfig:"OPENWEATHER_BASE_URL" default:"https://api.openweathermap.org" validate:"required,url"`
}

// SecondaryEnabled reports whether the commercial fallback is configured.
func (w WeatherConfig) SecondaryEnabled() bool {
	return w.OpenWeatherAPIKey.IsSet()
}

// CacheConfig selects the latest-reading cache backend.
type CacheConfig struct {
	// RedisURL enables the Redis cache (redis://host:6379/0). Empty selects the
	// in-memory LRU.
	RedisURL         SecretString `envconfig:"REDIS_URL"`
	MemoryMaxEntries int          `envconfig:"CACHE_MEMORY_MAX_ENTRIES" default:"10000" validate:"min=1"`
}

// RealtimeConfig holds cross-instance real-time settings.
type RealtimeConfig struct {
	NATSURL          string `envconfig:"NATS_URL"`
	SubjectPrefix    string `envconfig:"NATS_SUBJECT_PREFIX" default:"braveforms.alerts"`
	SubscriberBuffer int    `envconfig:"REALTIME_SUBSCRIBER_BUFFER" default:"32" validate:"min=1"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region            string `envconfig:"AWS_REGION" default:"us-east-1"`
	NotificationQueue string `envconfig:"NOTIFICATION_QUEUE_URL" validate:"omitempty,url"`
	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Backend   string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=none prometheus cloudwatch"`
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"BrAveForms/Compliance"`
}

// MonitorConfig controls the scheduled compliance monitor.
type MonitorConfig struct {
	Enabled     bool          `envconfig:"MONITOR_ENABLED" default:"true"`
	Interval    time.Duration `envconfig:"MONITOR_INTERVAL" default:"1h"`
	Concurrency int           `envconfig:"MONITOR_CONCURRENCY" default:"4" validate:"min=1,max=64"`
}

// AuthConfig holds the bearer token verification secret. The API process
// refuses to start without JWTSecret; the monitor does not need it.
type AuthConfig struct {
	JWTSecret SecretString `envconfig:"AUTH_JWT_SECRET" validate:"omitempty,min=32"`
	JWTIssuer string       `envconfig:"AUTH_JWT_ISSUER" default:"braveforms"`
}

// Location resolves the configured compliance timezone.
func (c ComplianceConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrParsing indicates a failure when parsing environment values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrThreshold indicates the regulatory threshold is not exactly 0.25.
	ErrThreshold ConfigErrorType = "THRESHOLD_MISCONFIGURED"
)
