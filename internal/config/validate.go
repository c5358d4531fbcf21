package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.CrontabPath == "" {
		errs = append(errs, ValidationError{
			Field:   "CRONTAB_PATH",
			Message: "required",
		})
	}

	switch cfg.StateDriver {
	case "sqlite":
		if cfg.StatePath == "" {
			errs = append(errs, ValidationError{
				Field:   "STATE_PATH",
				Message: "required when STATE_DRIVER is 'sqlite'",
			})
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			errs = append(errs, ValidationError{
				Field:   "DATABASE_URL",
				Message: "required when STATE_DRIVER is 'postgres'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "STATE_DRIVER",
			Message: fmt.Sprintf("must be 'sqlite' or 'postgres', got %q", cfg.StateDriver),
		})
	}

	errs = appendDurationErrs(errs, "TICK_INTERVAL", cfg.TickIntervalStr)
	errs = appendDurationErrs(errs, "TASK_TIMEOUT", cfg.TaskTimeoutStr)
	errs = appendDurationErrs(errs, "RETRY_BACKOFF_BASE", cfg.RetryBackoffBaseStr)
	errs = appendDurationErrs(errs, "SHUTDOWN_GRACE", cfg.ShutdownGraceStr)
	errs = appendDurationErrs(errs, "RESOURCE_SAMPLE_INTERVAL", cfg.ResourceSampleIntervalStr)
	errs = appendDurationErrs(errs, "DB_OP_TIMEOUT", cfg.DBOpTimeoutStr)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func appendDurationErrs(errs ValidationErrors, field, value string) ValidationErrors {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		})
	}
	if d <= 0 {
		return append(errs, ValidationError{
			Field:   field,
			Message: "must be positive",
		})
	}
	return errs
}
