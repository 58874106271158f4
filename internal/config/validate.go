package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedParsers is the set of valid parser names for checks.
var recognizedParsers = map[string]bool{
	"generic": true,
	"gotest":  true,
	"pytest":  true,
}

var (
	validBackends  = map[string]bool{"sandbox": true, "docker": true}
	validProviders = map[string]bool{"": true, "mock": true, "openai": true, "groq": true}
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validFormats   = map[string]bool{"text": true, "json": true}
)

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !validBackends[cfg.Backend] {
		add("backend", "unknown backend %q (want sandbox or docker)", cfg.Backend)
	}
	if cfg.MaxRetries < 1 {
		add("max_retries", "must be at least 1")
	}
	if !validProviders[strings.ToLower(cfg.Provider.Name)] {
		add("provider.name", "unsupported provider %q", cfg.Provider.Name)
	}
	if cfg.Provider.RequestsPerMinute < 0 {
		add("provider.requests_per_minute", "must not be negative")
	}
	validateDuration("provider.timeout", cfg.Provider.Timeout, &errs)

	if cfg.Agent.MaxToolCalls < 1 {
		add("agent.max_tool_calls", "must be at least 1")
	}
	if cfg.Agent.MaxTurns < 0 {
		add("agent.max_turns", "must not be negative")
	}
	if cfg.Agent.PlannerToolCalls < 1 {
		add("agent.planner_tool_calls", "must be at least 1")
	}
	validateDuration("tools.command_timeout", cfg.Tools.CommandTimeout, &errs)
	if cfg.Tools.SearchLimit < 1 {
		add("tools.search_limit", "must be at least 1")
	}

	for name, check := range cfg.Checks {
		prefix := "checks." + name
		if strings.TrimSpace(check.Command) == "" {
			add(prefix+".command", "is required")
		}
		if check.Parser != "" && !recognizedParsers[check.Parser] {
			add(prefix+".parser", "unrecognized parser %q", check.Parser)
		}
		validateDuration(prefix+".timeout", check.Timeout, &errs)
		if check.AutoFix && check.FixCommand == "" {
			add(prefix+".fix_command", "is required when auto_fix is set")
		}
	}
	seen := map[string]bool{}
	for _, name := range cfg.ValidateChecks {
		if _, ok := cfg.Checks[name]; !ok {
			add("validate_checks", "references undefined check %q", name)
		}
		if seen[name] {
			add("validate_checks", "duplicate check %q", name)
		}
		seen[name] = true
	}

	if cfg.Jobs.Concurrency < 1 {
		add("jobs.concurrency", "must be at least 1")
	}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		add("logging.level", "unknown level %q", cfg.Logging.Level)
	}
	if !validFormats[cfg.Logging.Format] {
		add("logging.format", "unknown format %q (want text or json)", cfg.Logging.Format)
	}
	return errs
}

func validateDuration(field, value string, errs *[]ValidationError) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		return
	}
	if d < 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must not be negative"})
	}
}
