package daemon

import (
	"context"
	"sync/atomic"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/pkg/toolregistry"
)

// reloadableRoles lets the role table be swapped while dispatches read it.
type reloadableRoles struct {
	current atomic.Pointer[toolregistry.StaticRoles]
}

func newReloadableRoles(roles toolregistry.StaticRoles) *reloadableRoles {
	r := &reloadableRoles{}
	r.Store(roles)
	return r
}

func (r *reloadableRoles) ResolveRole(ctx context.Context, callerID string) (toolregistry.PermissionLevel, error) {
	return r.current.Load().ResolveRole(ctx, callerID)
}

func (r *reloadableRoles) Store(roles toolregistry.StaticRoles) {
	r.current.Store(&roles)
}

// handleConfigReload applies the hot-reloadable parts of a changed config
// file: tool overrides and caller roles. Everything else needs a restart.
func (d *Daemon) handleConfigReload(cfg *config.Config) {
	logger := d.logger.GetZerolog()

	overrides, err := cfg.ToolOverrides()
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring config reload: invalid tool overrides")
		return
	}
	roles, err := cfg.Roles.Resolver()
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring config reload: invalid roles")
		return
	}

	if err := d.tools.ApplyOverrides(overrides); err != nil {
		logger.Warn().Err(err).Msg("Ignoring config reload: overrides rejected")
		return
	}
	d.roles.Store(roles)

	d.mu.Lock()
	current := *d.config
	current.Tools.Overrides = cfg.Tools.Overrides
	current.Roles = cfg.Roles
	d.config = &current
	d.mu.Unlock()

	if d.gatewayServer != nil {
		d.gatewayServer.NotifyToolsChanged()
	}

	logger.Info().
		Int("overrides", len(overrides)).
		Int("callers", len(roles.Roles)).
		Msg("Config reloaded")
}
