package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/harun/toolgate/pkg/toolregistry"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort validates a listen port. 0 picks a free port.
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 0 and 65535)", port)
	}
	return nil
}

// ValidateSchedule validates a cron spec. Empty is allowed.
func (v *Validator) ValidateSchedule(field, spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("%s: invalid schedule %q: %w", field, spec, err)
	}
	return nil
}

// ValidatePermissionLevel validates a role name.
func (v *Validator) ValidatePermissionLevel(field, level string) error {
	if _, err := toolregistry.ParsePermissionLevel(level); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// ValidateCredits validates the ledger driver and its connection settings.
func (v *Validator) ValidateCredits(c CreditsConfig) []error {
	var errs []error

	switch c.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DSN == "" {
			errs = append(errs, fmt.Errorf("credits.dsn is required for the postgres driver"))
		}
	case DriverHTTP:
		u, err := url.Parse(c.URL)
		if c.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("credits.url must be an http(s) URL for the http driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid credits driver: %s (must be one of: %s)", c.Driver,
			strings.Join([]string{DriverMemory, DriverSQLite, DriverPostgres, DriverHTTP}, ", ")))
	}

	seen := make(map[string]bool, len(c.InitialBalances))
	for _, b := range c.InitialBalances {
		switch {
		case b.Caller == "":
			errs = append(errs, fmt.Errorf("credits.initial_balances: caller is required"))
		case b.Amount < 0:
			errs = append(errs, fmt.Errorf("credits.initial_balances[%s]: amount must be >= 0", b.Caller))
		case seen[b.Caller]:
			errs = append(errs, fmt.Errorf("credits.initial_balances: duplicate caller %s", b.Caller))
		}
		seen[b.Caller] = true
	}

	return errs
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Registry.DefaultTimeoutMs < 0 {
		errors = append(errors, fmt.Errorf("registry.default_timeout_ms must be >= 0"))
	}
	if cfg.Registry.MaxDepth < 0 {
		errors = append(errors, fmt.Errorf("registry.max_depth must be >= 0"))
	}
	if cfg.Registry.SettleAttempts < 0 {
		errors = append(errors, fmt.Errorf("registry.settle_attempts must be >= 0"))
	}
	if cfg.Registry.ArgsSummaryMax < 0 {
		errors = append(errors, fmt.Errorf("registry.args_summary_max must be >= 0"))
	}

	if cfg.RateLimit.Shards < 0 {
		errors = append(errors, fmt.Errorf("rate_limit.shards must be >= 0"))
	}
	if err := v.ValidateSchedule("rate_limit.sweep_schedule", cfg.RateLimit.SweepSchedule); err != nil {
		errors = append(errors, err)
	}

	errors = append(errors, v.ValidateCredits(cfg.Credits)...)

	if cfg.Audit.Buffer < 0 {
		errors = append(errors, fmt.Errorf("audit.buffer must be >= 0"))
	}
	if cfg.Audit.MaxSizeMB < 0 || cfg.Audit.MaxBackups < 0 {
		errors = append(errors, fmt.Errorf("audit.max_size_mb and audit.max_backups must be >= 0"))
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxAgeDays < 0 || cfg.Logging.MaxBackups < 0 {
		errors = append(errors, fmt.Errorf("logging rotation limits must be >= 0"))
	}
	if err := v.ValidateSchedule("audit.prune_schedule", cfg.Audit.PruneSchedule); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidatePort(cfg.Gateway.Port); err != nil {
		errors = append(errors, err)
	}

	if cfg.Roles.Default != "" {
		if err := v.ValidatePermissionLevel("roles.default", cfg.Roles.Default); err != nil {
			errors = append(errors, err)
		}
	}
	for _, b := range cfg.Roles.Callers {
		if b.Caller == "" {
			errors = append(errors, fmt.Errorf("roles.callers: caller is required"))
			continue
		}
		if err := v.ValidatePermissionLevel("roles.callers["+b.Caller+"]", b.Level); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.MCP.Role != "" {
		if err := v.ValidatePermissionLevel("mcp.role", cfg.MCP.Role); err != nil {
			errors = append(errors, err)
		}
	}

	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errors = append(errors, fmt.Errorf("telemetry.sample_ratio must be between 0 and 1"))
	}

	if _, err := cfg.ToolOverrides(); err != nil {
		errors = append(errors, err)
	}

	return errors
}
