package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/internal/logger"
	"github.com/harun/toolgate/internal/metrics"
	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/auditlog"
	"github.com/harun/toolgate/pkg/coretools"
	"github.com/harun/toolgate/pkg/credits"
	"github.com/harun/toolgate/pkg/gateway"
	"github.com/harun/toolgate/pkg/ratelimit"
	"github.com/harun/toolgate/pkg/toolregistry"
)

// Daemon owns the tool registry and everything wired around it: the
// credit ledger, audit sinks, limiter, metrics and, once started, the
// gateway, cron jobs and config watcher.
type Daemon struct {
	config     *config.Config
	configPath string
	logger     *logger.Logger

	// Core modules
	tools   *toolregistry.Registry
	limiter *ratelimit.Limiter
	ledger  credits.Ledger
	roles   *reloadableRoles
	metrics *metrics.Metrics
	audit   *auditTrail

	// Services
	gatewayServer *gateway.Server
	cron          *cron.Cron
	watcher       *config.Watcher
	lifecycle     *LifecycleManager

	closers []func() error

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracer *tracing.Provider
}

// Status is a snapshot of the daemon's run state.
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// New builds the core modules. Services are created by Start, so commands
// that only dispatch tools never open a listener.
func New(ctx context.Context, cfg *config.Config, configPath string, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		config:     cfg,
		configPath: configPath,
		logger:     log,
	}

	if cfg.Telemetry.Enabled {
		tp, err := tracing.Setup(cfg.Telemetry.ServiceName, cfg.Telemetry.SampleRatio)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracer = tp
			log.Info().Float64("sample_ratio", cfg.Telemetry.SampleRatio).Msg("Tracing initialized")
		}
	}

	if err := d.initializeCoreModules(ctx); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	return d, nil
}

func (d *Daemon) initializeCoreModules(ctx context.Context) error {
	zl := d.logger.GetZerolog()
	cfg := d.config

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	d.metrics = metrics.NewMetrics()

	d.limiter = ratelimit.New(ratelimit.Config{
		Shards:      cfg.RateLimit.Shards,
		IdleWindows: cfg.RateLimit.IdleWindows,
		Logger:      &zl,
	})
	if err := d.metrics.RegisterRateLimitEntries(d.limiter.Len); err != nil {
		return fmt.Errorf("failed to register limiter metrics: %w", err)
	}

	ledger, closeLedger, err := openLedger(ctx, cfg.Credits)
	if err != nil {
		return fmt.Errorf("failed to open credit ledger: %w", err)
	}
	d.ledger = ledger
	d.closers = append(d.closers, closeLedger)
	if err := credits.Seed(ctx, ledger, cfg.Credits.Balances()); err != nil {
		return fmt.Errorf("failed to seed credit balances: %w", err)
	}
	zl.Info().Str("driver", cfg.Credits.Driver).Msg("Credit ledger ready")

	d.audit, err = openAuditTrail(cfg.Audit, d.metrics, zl)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	d.closers = append(d.closers, d.audit.Close)

	roles, err := cfg.Roles.Resolver()
	if err != nil {
		return err
	}
	d.roles = newReloadableRoles(roles)

	regCfg := toolregistry.Config{
		Limiter:        d.limiter,
		Ledger:         d.ledger,
		Roles:          d.roles,
		Metrics:        d.metrics,
		DefaultTimeout: cfg.Registry.DefaultTimeout(),
		MaxDepth:       cfg.Registry.MaxDepth,
		SettleAttempts: cfg.Registry.SettleAttempts,
		SettleBackoff:  cfg.Registry.SettleBackoff(),
		ArgsSummaryMax: cfg.Registry.ArgsSummaryMax,
		Logger:         &zl,
	}
	if d.audit.recorder != nil {
		regCfg.Recorder = d.audit.recorder
	}
	if r := d.logger.Redactor(); r != nil {
		regCfg.Redactor = r
	}
	d.tools = toolregistry.New(regCfg)

	if err := coretools.Register(d.tools, coretools.Options{
		WorkspaceRoot: cfg.Tools.WorkspaceRoot,
		MaxBatch:      cfg.Tools.MaxBatch,
	}); err != nil {
		return fmt.Errorf("failed to register core tools: %w", err)
	}

	overrides, err := cfg.ToolOverrides()
	if err != nil {
		return err
	}
	if err := d.tools.ApplyOverrides(overrides); err != nil {
		return fmt.Errorf("failed to apply tool overrides: %w", err)
	}

	zl.Info().Int("tools", d.tools.Len()).Msg("Tool registry ready")
	return nil
}

func (d *Daemon) initializeServices() error {
	zl := d.logger.GetZerolog()
	cfg := d.config

	if cfg.Gateway.Enabled {
		tick := time.Duration(cfg.Gateway.TickIntervalMs) * time.Millisecond
		if cfg.Gateway.TickIntervalMs < 0 {
			tick = -1
		}
		gwCfg := gateway.Config{
			Host:              cfg.Gateway.Host,
			Port:              cfg.Gateway.Port,
			SharedSecret:      cfg.Gateway.SharedSecret,
			TickInterval:      tick,
			RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
			MaxConcurrent:     cfg.Gateway.MaxConcurrent,
			Tools:             d.tools,
			MetricsHandler:    d.metrics.Handler(),
			Logger:            zl,
		}
		if cfg.Gateway.ExposeLedger {
			gwCfg.CreditsHandler = credits.Handler(d.ledger)
		}

		server, err := gateway.NewServer(gwCfg)
		if err != nil {
			return fmt.Errorf("failed to create gateway server: %w", err)
		}
		d.gatewayServer = server
		if err := d.metrics.RegisterGatewayClients(func() int {
			return len(server.GetConnectedClients())
		}); err != nil {
			return fmt.Errorf("failed to register gateway metrics: %w", err)
		}
	}

	d.cron = cron.New()
	if err := d.scheduleMaintenance(); err != nil {
		return err
	}

	if d.configPath != "" {
		watcher, err := config.NewWatcher(config.WatcherConfig{
			Path:     d.configPath,
			OnChange: d.handleConfigReload,
			Logger:   &zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		d.watcher = watcher
	}

	d.lifecycle = NewLifecycleManager(d)
	return nil
}

// Start starts the services in the background.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Starting toolgate daemon")

	if err := d.initializeServices(); err != nil {
		d.setStopped()
		return err
	}

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Start(); err != nil {
			d.setStopped()
			_ = d.lifecycle.Stop()
			return fmt.Errorf("failed to start gateway server: %w", err)
		}
		logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")
	}

	d.cron.Start()
	logger.Info().Int("jobs", len(d.cron.Entries())).Msg("Cron started")

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Config watcher not started, overrides will not hot reload")
			d.watcher = nil
		}
	}

	logger.Info().Msg("toolgate daemon started")
	return nil
}

// Stop stops the services and closes the core modules.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog()
	logger.Info().Msg("Stopping toolgate daemon")

	var g errgroup.Group

	if d.watcher != nil {
		g.Go(d.watcher.Stop)
	}
	if d.gatewayServer != nil {
		g.Go(func() error { return d.gatewayServer.Stop(ctx) })
	}
	if d.cron != nil {
		g.Go(func() error {
			select {
			case <-d.cron.Stop().Done():
				return nil
			case <-ctx.Done():
				return fmt.Errorf("cron jobs still running: %w", ctx.Err())
			}
		})
	}

	err := g.Wait()
	if err != nil {
		logger.Error().Err(err).Msg("Service shutdown incomplete")
	}

	if d.lifecycle != nil {
		if lerr := d.lifecycle.Stop(); lerr != nil {
			logger.Error().Err(lerr).Msg("Failed to stop lifecycle manager")
		}
	}

	if cerr := d.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}

	logger.Info().Msg("toolgate daemon stopped")
	return err
}

// Run starts the daemon and stops it when ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		_ = d.Close()
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), gateway.DefaultShutdownTimeout+5*time.Second)
	defer cancel()
	return d.Stop(stopCtx)
}

// Close releases the ledger, audit sinks and tracer provider. Stop calls
// it; commands that never Start call it directly.
func (d *Daemon) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil

	if d.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		d.tracer = nil
	}
	return errors.Join(errs...)
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Status returns the daemon's run state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// GetConfig returns the active configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

func (d *Daemon) GetLogger() *logger.Logger { return d.logger }

func (d *Daemon) GetRegistry() *toolregistry.Registry { return d.tools }

func (d *Daemon) GetLedger() credits.Ledger { return d.ledger }

func (d *Daemon) GetMetrics() *metrics.Metrics { return d.metrics }

func (d *Daemon) GetGatewayServer() *gateway.Server { return d.gatewayServer }

// GetAuditStore returns the SQLite audit store, or nil when it is off.
func (d *Daemon) GetAuditStore() *auditlog.SQLiteStore { return d.audit.store }
