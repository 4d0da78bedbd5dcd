package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/toolgate/pkg/ratelimit"
	"github.com/harun/toolgate/pkg/toolregistry"
)

// Credit ledger drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverHTTP     = "http"
)

// Config represents the main toolgate configuration.
//
// Callers, tool names and balances are lists rather than maps because
// viper lowercases map keys.
type Config struct {
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Registry  RegistryConfig  `json:"registry" mapstructure:"registry"`
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`
	Credits   CreditsConfig   `json:"credits" mapstructure:"credits"`
	Audit     AuditConfig     `json:"audit" mapstructure:"audit"`
	Gateway   GatewayConfig   `json:"gateway" mapstructure:"gateway"`
	Roles     RolesConfig     `json:"roles" mapstructure:"roles"`
	MCP       MCPConfig       `json:"mcp" mapstructure:"mcp"`
	Tools     ToolsConfig     `json:"tools" mapstructure:"tools"`
	Telemetry TelemetryConfig `json:"telemetry" mapstructure:"telemetry"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file" mapstructure:"file"`
	Console    bool   `json:"console" mapstructure:"console"`
	Pretty     bool   `json:"pretty" mapstructure:"pretty"`
	Redaction  bool   `json:"redaction" mapstructure:"redaction"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// RegistryConfig tunes dispatch.
type RegistryConfig struct {
	DefaultTimeoutMs int `json:"default_timeout_ms" mapstructure:"default_timeout_ms"`
	MaxDepth         int `json:"max_depth" mapstructure:"max_depth"`
	SettleAttempts   int `json:"settle_attempts" mapstructure:"settle_attempts"`
	SettleBackoffMs  int `json:"settle_backoff_ms" mapstructure:"settle_backoff_ms"`
	ArgsSummaryMax   int `json:"args_summary_max" mapstructure:"args_summary_max"`
}

// DefaultTimeout returns the handler timeout for tools that set none.
func (r RegistryConfig) DefaultTimeout() time.Duration {
	return time.Duration(r.DefaultTimeoutMs) * time.Millisecond
}

// SettleBackoff returns the base delay between deduction attempts.
func (r RegistryConfig) SettleBackoff() time.Duration {
	return time.Duration(r.SettleBackoffMs) * time.Millisecond
}

// RateLimitConfig configures the shared limiter.
type RateLimitConfig struct {
	Shards      int `json:"shards" mapstructure:"shards"`
	IdleWindows int `json:"idle_windows" mapstructure:"idle_windows"`
	// Cron spec for evicting idle windows.
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// CreditsConfig selects the credit ledger.
type CreditsConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // memory, sqlite, postgres, http
	// DSN is the SQLite file or Postgres connection string.
	DSN   string `json:"dsn" mapstructure:"dsn"`
	URL   string `json:"url" mapstructure:"url"`
	Token string `json:"token" mapstructure:"token"`
	// InitialBalances seeds callers missing from the ledger.
	InitialBalances []CreditBalance `json:"initial_balances" mapstructure:"initial_balances"`
}

// CreditBalance is a caller's starting balance.
type CreditBalance struct {
	Caller string `json:"caller" mapstructure:"caller"`
	Amount int64  `json:"amount" mapstructure:"amount"`
}

// Balances returns InitialBalances keyed by caller.
func (c CreditsConfig) Balances() map[string]int64 {
	out := make(map[string]int64, len(c.InitialBalances))
	for _, b := range c.InitialBalances {
		out[b.Caller] = b.Amount
	}
	return out
}

// AuditConfig configures invocation record sinks. Both sinks may be on.
type AuditConfig struct {
	File          string `json:"file" mapstructure:"file"`
	SQLitePath    string `json:"sqlite_path" mapstructure:"sqlite_path"`
	Buffer        int    `json:"buffer" mapstructure:"buffer"`
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	PruneSchedule string `json:"prune_schedule" mapstructure:"prune_schedule"`
	// File rotation; 0 keeps a single growing file.
	MaxSizeMB  int `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int `json:"max_backups" mapstructure:"max_backups"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Enabled           bool   `json:"enabled" mapstructure:"enabled"`
	Host              string `json:"host" mapstructure:"host"`
	Port              int    `json:"port" mapstructure:"port"`
	SharedSecret      string `json:"shared_secret" mapstructure:"shared_secret"`
	ExposeLedger      bool   `json:"expose_ledger" mapstructure:"expose_ledger"`
	TickIntervalMs    int    `json:"tick_interval_ms" mapstructure:"tick_interval_ms"`
	RequestsPerMinute int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int    `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// RolesConfig maps callers to permission levels.
type RolesConfig struct {
	// Default applies to callers without a binding. Empty rejects them.
	Default string        `json:"default" mapstructure:"default"`
	Callers []RoleBinding `json:"callers" mapstructure:"callers"`
}

// RoleBinding grants a caller a permission level.
type RoleBinding struct {
	Caller string `json:"caller" mapstructure:"caller"`
	Level  string `json:"level" mapstructure:"level"`
}

// Resolver builds the registry's role table.
func (r RolesConfig) Resolver() (toolregistry.StaticRoles, error) {
	roles := toolregistry.StaticRoles{Roles: make(map[string]toolregistry.PermissionLevel, len(r.Callers))}
	if r.Default != "" {
		level, err := toolregistry.ParsePermissionLevel(r.Default)
		if err != nil {
			return roles, fmt.Errorf("roles.default: %w", err)
		}
		roles.Default = level
	}
	for _, b := range r.Callers {
		level, err := toolregistry.ParsePermissionLevel(b.Level)
		if err != nil {
			return roles, fmt.Errorf("roles.callers[%s]: %w", b.Caller, err)
		}
		roles.Roles[b.Caller] = level
	}
	return roles, nil
}

// MCPConfig configures the stdio MCP server.
type MCPConfig struct {
	CallerID string `json:"caller_id" mapstructure:"caller_id"`
	Role     string `json:"role" mapstructure:"role"`
}

// ToolsConfig holds built-in tool settings and per-tool overrides.
type ToolsConfig struct {
	WorkspaceRoot string         `json:"workspace_root" mapstructure:"workspace_root"`
	MaxBatch      int            `json:"max_batch" mapstructure:"max_batch"`
	Overrides     []ToolOverride `json:"overrides" mapstructure:"overrides"`
}

// ToolOverride adjusts a registered tool. Unset fields keep the
// registered value.
type ToolOverride struct {
	Name           string             `json:"name" mapstructure:"name"`
	Deprecated     *bool              `json:"deprecated,omitempty" mapstructure:"deprecated"`
	CreditCost     *int64             `json:"credit_cost,omitempty" mapstructure:"credit_cost"`
	RateLimit      *RateLimitOverride `json:"rate_limit,omitempty" mapstructure:"rate_limit"`
	ClearRateLimit bool               `json:"clear_rate_limit,omitempty" mapstructure:"clear_rate_limit"`
}

// RateLimitOverride is a per-tool limit.
type RateLimitOverride struct {
	MaxCalls int   `json:"max_calls" mapstructure:"max_calls"`
	WindowMs int64 `json:"window_ms" mapstructure:"window_ms"`
}

// ToolOverrides converts the configured overrides for
// toolregistry.Registry.ApplyOverrides.
func (c *Config) ToolOverrides() (map[string]toolregistry.Override, error) {
	out := make(map[string]toolregistry.Override, len(c.Tools.Overrides))
	for _, o := range c.Tools.Overrides {
		if o.Name == "" {
			return nil, fmt.Errorf("tools.overrides: name is required")
		}
		if _, dup := out[o.Name]; dup {
			return nil, fmt.Errorf("tools.overrides: duplicate entry for %s", o.Name)
		}
		ov := toolregistry.Override{
			Deprecated:     o.Deprecated,
			CreditCost:     o.CreditCost,
			ClearRateLimit: o.ClearRateLimit,
		}
		if o.CreditCost != nil && *o.CreditCost < 0 {
			return nil, fmt.Errorf("tools.overrides[%s]: credit_cost must be >= 0", o.Name)
		}
		if o.RateLimit != nil {
			limit := ratelimit.Limit{
				MaxCalls: o.RateLimit.MaxCalls,
				Window:   time.Duration(o.RateLimit.WindowMs) * time.Millisecond,
			}
			if err := limit.Validate(); err != nil {
				return nil, fmt.Errorf("tools.overrides[%s]: %w", o.Name, err)
			}
			ov.RateLimit = &limit
		}
		out[o.Name] = ov
	}
	return out, nil
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
	// SampleRatio is the fraction of root dispatches traced, 0 to 1.
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			Pretty:     true,
			Redaction:  true,
			MaxSizeMB:  100,
			MaxAgeDays: 7,
			MaxBackups: 10,
			Compress:   true,
		},
		Registry: RegistryConfig{
			DefaultTimeoutMs: int(toolregistry.DefaultTimeout / time.Millisecond),
			MaxDepth:         toolregistry.DefaultMaxDepth,
			SettleAttempts:   toolregistry.DefaultSettleAttempts,
			SettleBackoffMs:  int(toolregistry.DefaultSettleBackoff / time.Millisecond),
			ArgsSummaryMax:   toolregistry.DefaultArgsSummaryMax,
		},
		RateLimit: RateLimitConfig{
			Shards:        ratelimit.DefaultShards,
			IdleWindows:   ratelimit.DefaultIdleWindows,
			SweepSchedule: ratelimit.DefaultSweepSchedule,
		},
		Credits: CreditsConfig{
			Driver: DriverMemory,
		},
		Audit: AuditConfig{
			Buffer:        1024,
			RetentionDays: 30,
			PruneSchedule: "@daily",
		},
		Gateway: GatewayConfig{
			Enabled:           true,
			Host:              "127.0.0.1",
			Port:              18789,
			TickIntervalMs:    30000,
			RequestsPerMinute: 60,
			MaxConcurrent:     10,
		},
		Roles: RolesConfig{
			Default: string(toolregistry.PermissionRead),
		},
		MCP: MCPConfig{
			CallerID: "mcp",
		},
		Tools: ToolsConfig{
			MaxBatch: 10,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "toolgate",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
