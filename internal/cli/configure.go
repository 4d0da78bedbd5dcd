package cli

import (
	"fmt"
	"os"
	"path/filepath"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/config"
)

const secretLength = 40

var (
	configureForce bool
	configurePort  int
	configureAudit bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a starter configuration file with default settings and a freshly
generated gateway shared secret. An existing file is kept unless --force is
given. With --audit, invocations are also recorded to audit.db next to the
config file.`,
	RunE: runConfigure,
}

func init() {
	flags := configureCmd.Flags()
	flags.BoolVar(&configureForce, "force", false, "overwrite an existing config file")
	flags.IntVar(&configurePort, "port", 0, "gateway port (default 18789)")
	flags.BoolVar(&configureAudit, "audit", false, "enable the SQLite audit store")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, _ []string) error {
	loader := config.NewLoader(cfgFile)
	configPath := loader.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("cannot determine config file path")
	}
	if _, err := os.Stat(configPath); err == nil && !configureForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", configPath)
	}

	secret, err := gonanoid.New(secretLength)
	if err != nil {
		return fmt.Errorf("failed to generate shared secret: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.Gateway.SharedSecret = secret
	if configurePort > 0 {
		cfg.Gateway.Port = configurePort
	}
	if configureAudit {
		cfg.Audit.SQLitePath = filepath.Join(filepath.Dir(configPath), "audit.db")
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration saved to: %s\n", configPath)
	fmt.Fprintln(out, "Start the daemon with: toolgate serve")
	return nil
}
