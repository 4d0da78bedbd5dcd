package daemon

import (
	"context"
	"fmt"
	"time"
)

const (
	pruneTimeout     = time.Minute
	statsLogSchedule = "@every 5m"
)

// scheduleMaintenance registers the periodic jobs: limiter sweeps, audit
// retention and a catalog stats line.
func (d *Daemon) scheduleMaintenance() error {
	cfg := d.config

	if _, err := d.limiter.Schedule(d.cron, cfg.RateLimit.SweepSchedule); err != nil {
		return fmt.Errorf("failed to schedule limiter sweep: %w", err)
	}

	if d.audit.store != nil && cfg.Audit.RetentionDays > 0 && cfg.Audit.PruneSchedule != "" {
		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		if _, err := d.cron.AddFunc(cfg.Audit.PruneSchedule, func() {
			d.pruneAudit(retention)
		}); err != nil {
			return fmt.Errorf("failed to schedule audit pruning: %w", err)
		}
	}

	if _, err := d.cron.AddFunc(statsLogSchedule, d.logStats); err != nil {
		return fmt.Errorf("failed to schedule stats logging: %w", err)
	}
	return nil
}

func (d *Daemon) pruneAudit(retention time.Duration) {
	logger := d.logger.GetZerolog()

	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	removed, err := d.audit.store.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Warn().Err(err).Msg("Audit pruning failed")
		return
	}
	logger.Info().Int64("removed", removed).Dur("retention", retention).Msg("Audit records pruned")
}

func (d *Daemon) logStats() {
	stats := d.tools.Stats()
	ev := d.logger.Debug().
		Int("tools", stats.Total).
		Int("deprecated", stats.Deprecated).
		Int("rate_limit_entries", stats.RateLimitEntries)
	if d.audit.recorder != nil {
		ev = ev.Int("audit_pending", d.audit.recorder.Pending())
	}
	if d.gatewayServer != nil {
		ev = ev.Int("gateway_clients", len(d.gatewayServer.GetConnectedClients()))
	}
	ev.Msg("Registry stats")
}
