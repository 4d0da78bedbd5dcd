package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/daemon"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show whether the toolgate daemon is running, its PID and uptime.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
	Gateway string `json:"gateway,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	report, err := readStatus(daemon.PIDFilePath(cfg.DataDir))
	if err != nil {
		return err
	}
	if report.Running && cfg.Gateway.Enabled {
		report.Gateway = fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		return writeJSON(out, report)
	}
	if !report.Running {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}
	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", report.PID)
	if report.Uptime != "" {
		fmt.Fprintf(out, "Uptime: %s\n", report.Uptime)
	}
	if report.Gateway != "" {
		fmt.Fprintf(out, "Gateway: %s\n", report.Gateway)
	}
	return nil
}

// readStatus inspects the PID file. Uptime comes from its mtime, which
// the daemon sets once at startup.
func readStatus(pidFile string) (statusReport, error) {
	if !daemon.IsRunning(pidFile) {
		return statusReport{}, nil
	}
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return statusReport{}, fmt.Errorf("failed to read PID file: %w", err)
	}

	report := statusReport{Running: true, PID: pid}
	if info, err := os.Stat(pidFile); err == nil {
		report.Uptime = formatDuration(time.Since(info.ModTime()))
	}
	return report, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d/time.Hour), int(d/time.Minute)%60, int(d/time.Second)%60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
