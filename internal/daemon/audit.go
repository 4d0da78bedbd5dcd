package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/internal/logger"
	"github.com/harun/toolgate/internal/metrics"
	"github.com/harun/toolgate/pkg/auditlog"
	"github.com/harun/toolgate/pkg/toolregistry"
)

const auditDrainTimeout = 5 * time.Second

// auditTrail is the set of configured record sinks behind one Async
// queue. recorder is nil when no sink is configured.
type auditTrail struct {
	recorder *auditlog.Async
	jsonl    *auditlog.JSONLSink
	rotator  *logger.RotatingWriter
	store    *auditlog.SQLiteStore
}

func openAuditTrail(cfg config.AuditConfig, m *metrics.Metrics, log zerolog.Logger) (*auditTrail, error) {
	t := &auditTrail{}
	var sinks []auditlog.Sink

	if cfg.File != "" {
		if err := t.openJSONL(cfg); err != nil {
			return nil, err
		}
		sinks = append(sinks, t.jsonl)
	}
	if cfg.SQLitePath != "" {
		store, err := auditlog.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		t.store = store
		sinks = append(sinks, store)
	}
	if len(sinks) == 0 {
		return t, nil
	}

	t.recorder = auditlog.NewAsync(auditlog.AsyncConfig{
		Buffer: cfg.Buffer,
		OnError: func(rec toolregistry.InvocationRecord, err error) {
			m.IncSecondaryFailure(toolregistry.ChannelRecord, rec.ToolName)
			log.Warn().Err(err).
				Str("tool", rec.ToolName).
				Str("invocation_id", rec.InvocationID).
				Msg("Audit sink failed")
		},
		Logger: &log,
	}, sinks...)

	log.Info().
		Bool("jsonl", t.jsonl != nil).
		Bool("sqlite", t.store != nil).
		Msg("Audit log ready")
	return t, nil
}

// openJSONL opens the JSON-lines file, through a RotatingWriter when a
// size or backup limit is set.
func (t *auditTrail) openJSONL(cfg config.AuditConfig) error {
	if cfg.MaxSizeMB == 0 && cfg.MaxBackups == 0 {
		sink, err := auditlog.OpenJSONL(cfg.File)
		if err != nil {
			return err
		}
		t.jsonl = sink
		return nil
	}

	rw, err := logger.OpenRotating(cfg.File, logger.RotationPolicy{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	t.rotator = rw
	t.jsonl = auditlog.NewJSONLSink(rw)
	return nil
}

// Close drains queued records, then closes the sinks.
func (t *auditTrail) Close() error {
	var errs []error
	if t.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), auditDrainTimeout)
		errs = append(errs, t.recorder.Close(ctx))
		cancel()
	}
	if t.jsonl != nil {
		errs = append(errs, t.jsonl.Close())
	}
	if t.rotator != nil {
		errs = append(errs, t.rotator.Close())
	}
	if t.store != nil {
		errs = append(errs, t.store.Close())
	}
	return errors.Join(errs...)
}
