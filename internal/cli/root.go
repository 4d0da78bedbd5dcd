package cli

import (
	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/config"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "toolgate - tool registry and dispatch engine for LLM agents",
	Long: `toolgate registers tools with typed parameter schemas and dispatches
agent calls through validation, permission checks, rate limits and credit
metering. Tools are served over a JSON-RPC/WebSocket gateway or MCP.`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if logLevel == "" {
			return nil
		}
		return config.NewValidator().ValidateLogLevel(logLevel)
	},
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.toolgate/toolgate.json)")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	rootCmd.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
