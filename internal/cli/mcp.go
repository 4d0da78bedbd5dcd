package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/pkg/mcpserver"
	"github.com/harun/toolgate/pkg/toolregistry"
)

var (
	mcpListen   string
	mcpCategory string
	mcpTag      string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve tools to an MCP client",
	Long: `Serve every non-deprecated tool to a Model Context Protocol client over
stdio. Calls are dispatched as mcp.caller_id from the config. With --listen
the streamable HTTP transport is served instead.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpListen, "listen", "", "serve streamable HTTP on this address instead of stdio")
	mcpCmd.Flags().StringVar(&mcpCategory, "category", "", "only publish tools in this category")
	mcpCmd.Flags().StringVar(&mcpTag, "tag", "", "only publish tools with this tag")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cmd, mcpListen == "")
	if err != nil {
		return err
	}
	defer rt.Close()

	srvCfg := mcpserver.Config{
		Version:  version,
		CallerID: rt.cfg.MCP.CallerID,
		Filter:   toolregistry.Filter{Category: mcpCategory, Tag: mcpTag},
		Logger:   rt.log.GetZerolog(),
	}
	if rt.cfg.MCP.Role != "" {
		level, err := toolregistry.ParsePermissionLevel(rt.cfg.MCP.Role)
		if err != nil {
			return fmt.Errorf("mcp.role: %w", err)
		}
		srvCfg.Role = level
	}

	server, err := mcpserver.New(rt.daemon.GetRegistry(), srvCfg)
	if err != nil {
		return err
	}

	if mcpListen == "" {
		return server.Run(ctx)
	}
	return serveMCPHTTP(ctx, mcpListen, server.HTTPHandler())
}

func serveMCPHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
