// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Populate BuildInfo from linker-injected variables.
//  5. Validate the struct using go-playground/validator.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
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

// localEnv is the APP_ENV value under which admin auth may be left unset.
const localEnv = "local"

// LoadConfig loads and validates the worker configuration.
func LoadConfig() (*Config, error) {
	// Step 1: Enforce UTC timezone to prevent drift bugs.
	time.Local = time.UTC

	// Step 2: Load .env file (non-fatal if absent). godotenv does NOT override
	// existing environment variables.
	_ = godotenv.Load()

	// Step 3: Process envconfig tags. The empty prefix means envconfig uses the
	// exact tag values (envconfig:"APP_ENV" reads APP_ENV).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 4: Populate build metadata from linker-injected variables.
	cfg.Build = NewBuildInfo()

	// Step 5: Validate the populated struct.
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate runs struct tag validation and the cross-field rules tags cannot
// express.
func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	var missing []string
	if cfg.Broker.Driver == DriverAMQP && cfg.Broker.URL.IsEmpty() {
		missing = append(missing, "RABBITMQ_URL")
	}
	if cfg.Admin.Addr != "" && cfg.Admin.APIKeyHash.IsEmpty() && cfg.Environment != localEnv {
		missing = append(missing, "ADMIN_API_KEY_HASH")
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: fmt.Sprintf("required for the selected configuration: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// IsConfigError reports whether err is a ConfigError of the given type.
func IsConfigError(err error, typ ConfigErrorType) bool {
	var ce *ConfigError
	return errors.As(err, &ce) && ce.Type == typ
}
