package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolgate/pkg/toolregistry"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, DriverMemory, cfg.Credits.Driver)
	assert.Equal(t, 30*time.Second, cfg.Registry.DefaultTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.Registry.SettleBackoff())
	assert.Equal(t, toolregistry.DefaultMaxDepth, cfg.Registry.MaxDepth)
	assert.Equal(t, "@every 1m", cfg.RateLimit.SweepSchedule)
	assert.Equal(t, 18789, cfg.Gateway.Port)
	assert.Equal(t, "read", cfg.Roles.Default)
	assert.Equal(t, "mcp", cfg.MCP.CallerID)
	assert.Equal(t, "toolgate", cfg.Telemetry.ServiceName)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Credits.Driver = "redis" },
			wantErr: "invalid credits driver",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Credits.Driver = DriverPostgres },
			wantErr: "credits.dsn is required",
		},
		{
			name:    "http without url",
			mutate:  func(c *Config) { c.Credits.Driver = DriverHTTP },
			wantErr: "credits.url",
		},
		{
			name:    "bad schedule",
			mutate:  func(c *Config) { c.Audit.PruneSchedule = "every day" },
			wantErr: "audit.prune_schedule",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Gateway.Port = 70000 },
			wantErr: "invalid port",
		},
		{
			name: "bad role",
			mutate: func(c *Config) {
				c.Roles.Callers = []RoleBinding{{Caller: "bot", Level: "root"}}
			},
			wantErr: "roles.callers[bot]",
		},
		{
			name: "bad override limit",
			mutate: func(c *Config) {
				c.Tools.Overrides = []ToolOverride{{Name: "echo", RateLimit: &RateLimitOverride{MaxCalls: 0, WindowMs: 1000}}}
			},
			wantErr: "tools.overrides[echo]",
		},
		{
			name: "negative balance",
			mutate: func(c *Config) {
				c.Credits.InitialBalances = []CreditBalance{{Caller: "alice", Amount: -1}}
			},
			wantErr: "amount must be >= 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("postgres with dsn", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Credits.Driver = DriverPostgres
		cfg.Credits.DSN = "postgres://localhost/credits"
		assert.NoError(t, cfg.Validate())
	})
}

func TestToolOverrides(t *testing.T) {
	deprecated := true
	cost := int64(5)

	cfg := DefaultConfig()
	cfg.Tools.Overrides = []ToolOverride{
		{Name: "echo", Deprecated: &deprecated},
		{Name: "Search", CreditCost: &cost, RateLimit: &RateLimitOverride{MaxCalls: 3, WindowMs: 60000}},
		{Name: "calculate", ClearRateLimit: true},
	}

	overrides, err := cfg.ToolOverrides()
	require.NoError(t, err)
	require.Len(t, overrides, 3)

	assert.True(t, *overrides["echo"].Deprecated)
	assert.Nil(t, overrides["echo"].CreditCost)

	search := overrides["Search"]
	assert.Equal(t, int64(5), *search.CreditCost)
	require.NotNil(t, search.RateLimit)
	assert.Equal(t, 3, search.RateLimit.MaxCalls)
	assert.Equal(t, time.Minute, search.RateLimit.Window)

	assert.True(t, overrides["calculate"].ClearRateLimit)

	t.Run("duplicate names", func(t *testing.T) {
		cfg.Tools.Overrides = append(cfg.Tools.Overrides, ToolOverride{Name: "echo"})
		_, err := cfg.ToolOverrides()
		assert.ErrorContains(t, err, "duplicate")
	})
}

func TestRolesResolver(t *testing.T) {
	roles := RolesConfig{
		Default: "read",
		Callers: []RoleBinding{{Caller: "Ops-Bot", Level: "ADMIN"}},
	}

	resolver, err := roles.Resolver()
	require.NoError(t, err)

	level, err := resolver.ResolveRole(t.Context(), "Ops-Bot")
	require.NoError(t, err)
	assert.Equal(t, toolregistry.PermissionAdmin, level)

	level, err = resolver.ResolveRole(t.Context(), "someone")
	require.NoError(t, err)
	assert.Equal(t, toolregistry.PermissionRead, level)

	t.Run("no default rejects unknown callers", func(t *testing.T) {
		resolver, err := RolesConfig{}.Resolver()
		require.NoError(t, err)
		_, err = resolver.ResolveRole(t.Context(), "someone")
		assert.ErrorIs(t, err, toolregistry.ErrUnknownCaller)
	})
}

func TestCreditsBalances(t *testing.T) {
	c := CreditsConfig{InitialBalances: []CreditBalance{{Caller: "alice", Amount: 10}, {Caller: "Bob", Amount: 3}}}
	assert.Equal(t, map[string]int64{"alice": 10, "Bob": 3}, c.Balances())
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, `"rate_limit"`)
	assert.Contains(t, s, `"driver": "memory"`)
}
