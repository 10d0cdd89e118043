package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults; validation accepts
// both cases.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.NNFS.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	n := cfg.Adapters.NNFS
	if n.Workers < 1 {
		return fmt.Errorf("adapters.nnfs.workers: must be at least 1, got %d", n.Workers)
	}
	if n.ShutdownTimeout <= 0 {
		return fmt.Errorf("adapters.nnfs.shutdown_timeout: must be positive, got %v", n.ShutdownTimeout)
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == n.Port {
		return fmt.Errorf("server.metrics.port: %d collides with adapters.nnfs.port", n.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
