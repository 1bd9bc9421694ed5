package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "audit.timeout_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all validation
// errors found. Per spec, invalid combinations are reported as warnings and
// do not by themselves abort startup; the caller decides what to do with a
// non-empty result (the serve command prints each one as a warning and
// carries on; a missing reviewer binary under EnableSynchronousAudit is
// checked separately and aborts startup on its own).
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	errs = append(errs, c.validateAudit()...)
	errs = append(errs, c.validateSupervisor()...)
	errs = append(errs, c.validateReviewer()...)
	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validateSession()...)
	errs = append(errs, c.validateStagnation()...)
	errs = append(errs, c.validateCompletion()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateAudit() []ValidationError {
	var errs []ValidationError

	if c.Audit.TimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "audit.timeout_seconds",
			Value:   c.Audit.TimeoutSeconds,
			Message: "must be positive",
		})
	}
	if c.Audit.MaxConcurrentAudits < 1 {
		errs = append(errs, ValidationError{
			Field:   "audit.max_concurrent_audits",
			Value:   c.Audit.MaxConcurrentAudits,
			Message: "must be at least 1",
		})
	}
	if c.Audit.MaxConcurrentSessions < 1 {
		errs = append(errs, ValidationError{
			Field:   "audit.max_concurrent_sessions",
			Value:   c.Audit.MaxConcurrentSessions,
			Message: "must be at least 1",
		})
	}

	return errs
}

func (c *Config) validateSupervisor() []ValidationError {
	var errs []ValidationError

	if c.Supervisor.MaxConcurrentProcesses < 1 {
		errs = append(errs, ValidationError{
			Field:   "supervisor.max_concurrent_processes",
			Value:   c.Supervisor.MaxConcurrentProcesses,
			Message: "must be at least 1",
		})
	}
	if c.Supervisor.QueueTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "supervisor.queue_timeout_ms",
			Value:   c.Supervisor.QueueTimeoutMs,
			Message: "must be non-negative",
		})
	}
	if c.Supervisor.ProcessCleanupTimeoutMs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "supervisor.process_cleanup_timeout_ms",
			Value:   c.Supervisor.ProcessCleanupTimeoutMs,
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateReviewer() []ValidationError {
	var errs []ValidationError

	if c.Reviewer.Command == "" {
		errs = append(errs, ValidationError{
			Field:   "reviewer.command",
			Value:   c.Reviewer.Command,
			Message: "cannot be empty",
		})
	}
	if c.Reviewer.ContextTokenLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "reviewer.context_token_limit",
			Value:   c.Reviewer.ContextTokenLimit,
			Message: "must be non-negative (0 disables clamping)",
		})
	}

	return errs
}

func (c *Config) validateCache() []ValidationError {
	var errs []ValidationError

	if c.Cache.MaxEntries < 1 {
		errs = append(errs, ValidationError{
			Field:   "cache.max_entries",
			Value:   c.Cache.MaxEntries,
			Message: "must be at least 1",
		})
	}
	if c.Cache.TTLSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "cache.ttl_seconds",
			Value:   c.Cache.TTLSeconds,
			Message: "must be non-negative (0 disables expiry)",
		})
	}
	if c.Cache.MaxMemoryBytes < 1 {
		errs = append(errs, ValidationError{
			Field:   "cache.max_memory_bytes",
			Value:   c.Cache.MaxMemoryBytes,
			Message: "must be at least 1",
		})
	}

	return errs
}

func (c *Config) validateSession() []ValidationError {
	var errs []ValidationError

	if c.Session.StateDirectory == "" {
		errs = append(errs, ValidationError{
			Field:   "session.state_directory",
			Value:   c.Session.StateDirectory,
			Message: "cannot be empty",
		})
	}
	if c.Session.MaxSessionAgeSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "session.max_session_age_seconds",
			Value:   c.Session.MaxSessionAgeSeconds,
			Message: "must be positive",
		})
	}

	return errs
}

func (c *Config) validateStagnation() []ValidationError {
	var errs []ValidationError

	if c.Stagnation.StartLoop < 1 {
		errs = append(errs, ValidationError{
			Field:   "stagnation.start_loop",
			Value:   c.Stagnation.StartLoop,
			Message: "must be at least 1",
		})
	}
	if c.Stagnation.Threshold <= 0 || c.Stagnation.Threshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "stagnation.threshold",
			Value:   c.Stagnation.Threshold,
			Message: "must be in (0, 1]",
		})
	}
	if c.Stagnation.IdenticalThreshold <= 0 || c.Stagnation.IdenticalThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "stagnation.identical_threshold",
			Value:   c.Stagnation.IdenticalThreshold,
			Message: "must be in (0, 1]",
		})
	}
	if c.Stagnation.Threshold > c.Stagnation.IdenticalThreshold {
		errs = append(errs, ValidationError{
			Field:   "stagnation.threshold",
			Value:   c.Stagnation.Threshold,
			Message: fmt.Sprintf("should be less than or equal to identical_threshold (%v)", c.Stagnation.IdenticalThreshold),
		})
	}
	if c.Stagnation.WindowSize < 2 {
		errs = append(errs, ValidationError{
			Field:   "stagnation.window_size",
			Value:   c.Stagnation.WindowSize,
			Message: "must be at least 2 to compute pairwise similarity",
		})
	}

	return errs
}

func (c *Config) validateCompletion() []ValidationError {
	var errs []ValidationError

	if c.Completion.MaxLoops < 1 {
		errs = append(errs, ValidationError{
			Field:   "completion.max_loops",
			Value:   c.Completion.MaxLoops,
			Message: "must be at least 1",
		})
	}
	if len(c.Completion.Tiers) == 0 {
		errs = append(errs, ValidationError{
			Field:   "completion.tiers",
			Value:   c.Completion.Tiers,
			Message: "must declare at least one completion tier",
		})
	}
	for _, tier := range c.Completion.Tiers {
		if tier.Score < 0 || tier.Score > 100 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("completion.tiers[%s].score", tier.Reason),
				Value:   tier.Score,
				Message: "must be in [0, 100]",
			})
		}
		if tier.MinLoop < 1 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("completion.tiers[%s].min_loop", tier.Reason),
				Value:   tier.MinLoop,
				Message: "must be at least 1",
			})
		}
	}

	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError

	if !IsValidLogLevel(strings.ToUpper(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errs
}
