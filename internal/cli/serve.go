package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the toolgate daemon in the foreground",
	Long: `Run the toolgate daemon in the foreground.
The daemon serves the gateway, runs maintenance jobs and reloads tool
overrides and roles when the config file changes. SIGINT or SIGTERM stops it.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if daemon.IsRunning(pidFile) {
		return fmt.Errorf("daemon is already running (PID file: %s)", pidFile)
	}
	if cfg.Gateway.Enabled && cfg.Gateway.SharedSecret == "" {
		return fmt.Errorf("gateway.shared_secret is not set; run 'toolgate configure' or disable the gateway")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer rt.log.Close()

	return rt.daemon.Run(ctx)
}
