package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/internal/daemon"
	"github.com/harun/toolgate/internal/logger"
)

// quietLevel is used by one-shot commands unless --log-level is given, so
// their stdout stays machine readable and stderr stays short.
const quietLevel = "warn"

func loadConfig() (*config.Config, string, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, loader.GetConfigPath(), nil
}

// newLogger builds the process logger. Console output always goes to the
// command's stderr; stdout belongs to command output and MCP traffic.
func newLogger(cmd *cobra.Command, cfg *config.Config, quiet bool) (*logger.Logger, error) {
	lc := logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Rotation: logger.RotationPolicy{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
		Output: cmd.ErrOrStderr(),
	}
	if quiet {
		lc.Level = quietLevel
		lc.File = ""
		lc.Console = true
		lc.Pretty = false
	}
	if logLevel != "" {
		lc.Level = logLevel
	}
	return logger.New(lc)
}

// runtime is a daemon built for a single command.
type runtime struct {
	cfg        *config.Config
	configPath string
	log        *logger.Logger
	daemon     *daemon.Daemon
}

func openRuntime(ctx context.Context, cmd *cobra.Command, quiet bool) (*runtime, error) {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cmd, cfg, quiet)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	d, err := daemon.New(ctx, cfg, configPath, log)
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, configPath: configPath, log: log, daemon: d}, nil
}

// Close releases the daemon's stores. It is only for runtimes that were
// never started; Stop closes started ones.
func (r *runtime) Close() error {
	err := r.daemon.Close()
	_ = r.log.Close()
	return err
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
