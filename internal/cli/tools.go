package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/pkg/llmexport"
	"github.com/harun/toolgate/pkg/toolregistry"
)

// Output formats for the tools command.
const (
	formatTable     = "table"
	formatRaw       = "raw"
	formatOpenAI    = "openai"
	formatAnthropic = "anthropic"
)

var (
	toolsPermission string
	toolsCategory   string
	toolsTag        string
	toolsFormat     string
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered tools",
	Long: `List the tools an agent can call. Deprecated tools are hidden.
--format raw prints the generic function definitions, openai and anthropic
print request-ready tool parameters for those APIs.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsPermission, "permission", "", "only tools requiring exactly this level (read, write, admin)")
	toolsCmd.Flags().StringVar(&toolsCategory, "category", "", "only tools in this category")
	toolsCmd.Flags().StringVar(&toolsTag, "tag", "", "only tools with this tag")
	toolsCmd.Flags().StringVar(&toolsFormat, "format", formatTable, "output format (table, raw, openai, anthropic)")
	rootCmd.AddCommand(toolsCmd)
}

func toolsFilter() (toolregistry.Filter, error) {
	filter := toolregistry.Filter{
		Category: toolsCategory,
		Tag:      toolsTag,
	}
	if toolsPermission != "" {
		level, err := toolregistry.ParsePermissionLevel(toolsPermission)
		if err != nil {
			return filter, err
		}
		filter.PermissionLevel = level
	}
	return filter, nil
}

func runTools(cmd *cobra.Command, args []string) error {
	filter, err := toolsFilter()
	if err != nil {
		return err
	}

	rt, err := openRuntime(cmd.Context(), cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	reg := rt.daemon.GetRegistry()
	out := cmd.OutOrStdout()

	switch strings.ToLower(toolsFormat) {
	case formatRaw:
		return writeJSON(out, reg.LLMFunctions(filter))
	case formatOpenAI:
		return writeJSON(out, llmexport.OpenAITools(reg, filter))
	case formatAnthropic:
		return writeJSON(out, llmexport.AnthropicTools(reg, filter))
	case formatTable:
	default:
		return fmt.Errorf("unknown format %q", toolsFormat)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tPERMISSION\tCOST\tRATE LIMIT")
	for _, def := range reg.List() {
		if !filter.Matches(def) {
			continue
		}
		limit := "-"
		if l, ok := def.RateLimit(); ok {
			limit = fmt.Sprintf("%d/%s", l.MaxCalls, l.Window)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", def.Name(), def.Category(), def.PermissionLevel(), def.CreditCost(), limit)
	}
	return w.Flush()
}
