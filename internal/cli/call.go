package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/toolregistry"
)

var (
	callCaller string
	callThread string
)

var callCmd = &cobra.Command{
	Use:   "call <tool> [json-params]",
	Short: "Execute a tool once and print its result",
	Long: `Execute a tool through the full dispatch pipeline and print the result
envelope as JSON. The command fails when the call does not succeed.`,
	Example: `  toolgate call echo '{"message": "hello"}' --caller alice`,
	Args:    cobra.RangeArgs(1, 2),
	RunE:    runCall,
}

func init() {
	callCmd.Flags().StringVar(&callCaller, "caller", "cli", "caller id used for roles, rate limits and credits")
	callCmd.Flags().StringVar(&callThread, "thread", "", "thread id recorded with the call")
	rootCmd.AddCommand(callCmd)
}

func parseParams(raw string) (map[string]interface{}, error) {
	params := map[string]interface{}{}
	if raw == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return params, nil
}

func runCall(cmd *cobra.Command, args []string) error {
	var raw string
	if len(args) > 1 {
		raw = args[1]
	}
	params, err := parseParams(raw)
	if err != nil {
		return err
	}

	rt, err := openRuntime(cmd.Context(), cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	execCtx := toolregistry.NewExecutionContext(callCaller)
	execCtx.ThreadID = callThread

	ctx := tracing.WithRequestID(cmd.Context(), execCtx.RequestID)
	res := rt.daemon.GetRegistry().Execute(ctx, args[0], params, execCtx)

	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
	}
	return nil
}
