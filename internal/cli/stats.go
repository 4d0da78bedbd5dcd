package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/pkg/toolregistry"
)

var statsRecent int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	Long: `Show tool counts by category and permission level. With --recent and a
SQLite audit store configured, the latest invocation records are included.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsRecent, "recent", 0, "number of recent invocation records to include")
	rootCmd.AddCommand(statsCmd)
}

type statsOutput struct {
	Tools  toolregistry.Stats              `json:"tools"`
	Recent []toolregistry.InvocationRecord `json:"recent,omitempty"`
}

func runStats(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context(), cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := statsOutput{Tools: rt.daemon.GetRegistry().Stats()}

	if statsRecent > 0 {
		store := rt.daemon.GetAuditStore()
		if store == nil {
			return fmt.Errorf("--recent needs audit.sqlite_path to be configured")
		}
		out.Recent, err = store.Recent(cmd.Context(), statsRecent)
		if err != nil {
			return fmt.Errorf("failed to read audit records: %w", err)
		}
	}

	return writeJSON(cmd.OutOrStdout(), out)
}
