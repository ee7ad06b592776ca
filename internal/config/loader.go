// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC process timezone; compliance rules use an explicit zone.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
//  6. Validate the regulatory threshold equals exactly 0.25 inches.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// ErrThresholdMismatch is wrapped by the ConfigError returned when the
// configured threshold is anything other than 0.25 inches.
var ErrThresholdMismatch = errors.New("regulatory rain threshold must be exactly 0.25 inches")

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// loaderDeps holds the injectable dependencies for the loader.
type loaderDeps struct {
	loadDotenv func() error
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		loadDotenv: func() error { return godotenv.Load() },
	}
}

// LoadConfig loads and validates the process configuration. A returned error
// means the process must exit without serving any check.
func LoadConfig() (*Config, error) {
	return loadConfigWithDeps(defaultDeps())
}

func loadConfigWithDeps(deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv does NOT override variables already present in the environment.
	_ = deps.loadDotenv()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if err := ValidateThreshold(cfg.Compliance.ThresholdInches); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ValidateThreshold returns a ConfigError wrapping ErrThresholdMismatch unless
// threshold is numerically equal to 0.25. "0.250" is accepted; "0.2500001"
// and "0.24" are not.
func ValidateThreshold(threshold decimal.Decimal) error {
	if !threshold.Equal(RegulatoryThresholdInches) {
		return &ConfigError{
			Type:    ErrThreshold,
			Message: fmt.Sprintf("COMPLIANCE_RAIN_THRESHOLD_INCHES is %s", threshold.String()),
			Err:     ErrThresholdMismatch,
		}
	}
	return nil
}
