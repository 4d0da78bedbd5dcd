// Package mcpserver publishes registry tools to Model Context Protocol
// clients over stdio or streamable HTTP. Every call goes through the
// registry's dispatch pipeline, so permissions, rate limits and credits
// apply exactly as they do for gateway callers.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/schema"
	"github.com/harun/toolgate/pkg/toolregistry"
)

// CallerHeader carries the caller id on streamable HTTP requests when
// TrustCallerHeader is set.
const CallerHeader = "X-Caller-Id"

// Config configures a Server.
type Config struct {
	Name    string
	Version string
	// CallerID is charged and authorized for every call. MCP sessions
	// carry no caller identity of their own.
	CallerID string
	// Role skips role resolution when set.
	Role toolregistry.PermissionLevel
	// Filter limits which tools are published.
	Filter       toolregistry.Filter
	Instructions string
	// TrustCallerHeader lets HTTP clients pick the caller with
	// X-Caller-Id. Only enable behind an authenticating proxy.
	TrustCallerHeader bool
	Logger            zerolog.Logger
}

// Server adapts a tool registry to an MCP server.
type Server struct {
	tools  *toolregistry.Registry
	server *mcp.Server
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	registered map[string]struct{}
}

// New creates a Server and publishes the registry's current tools.
func New(reg *toolregistry.Registry, cfg Config) (*Server, error) {
	if reg == nil {
		return nil, errors.New("tool registry is required")
	}
	if cfg.CallerID == "" {
		return nil, errors.New("caller id is required")
	}
	if cfg.Name == "" {
		cfg.Name = "toolgate"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		tools: reg,
		server: mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, &mcp.ServerOptions{
			Instructions: cfg.Instructions,
		}),
		cfg:        cfg,
		logger:     cfg.Logger.With().Str("component", "mcpserver").Logger(),
		registered: make(map[string]struct{}),
	}
	s.Sync()
	return s, nil
}

// Sync republishes the tool list, dropping tools that were removed or
// deprecated since the last call. It returns the number published.
func (s *Server) Sync() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]struct{})
	for _, def := range s.tools.List() {
		if !s.cfg.Filter.Matches(def) {
			continue
		}
		s.server.AddTool(toolFor(def), s.handler(def.Name()))
		next[def.Name()] = struct{}{}
	}

	var remove []string
	for name := range s.registered {
		if _, ok := next[name]; !ok {
			remove = append(remove, name)
		}
	}
	if len(remove) > 0 {
		s.server.RemoveTools(remove...)
	}
	s.registered = next

	s.logger.Debug().Int("tools", len(next)).Int("removed", len(remove)).Msg("MCP tools synced")
	return len(next)
}

func toolFor(def toolregistry.Definition) *mcp.Tool {
	return &mcp.Tool{
		Name:        def.Name(),
		Description: def.Description(),
		InputSchema: schema.JSONSchema(def.Parameters()),
		Annotations: &mcp.ToolAnnotations{
			ReadOnlyHint:   def.PermissionLevel() == toolregistry.PermissionRead,
			IdempotentHint: def.IsIdempotent(),
		},
	}
}

func (s *Server) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]interface{}
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult("invalid arguments: " + err.Error()), nil
			}
		}

		execCtx := toolregistry.ExecutionContext{
			CallerID:  s.callerFor(req),
			RequestID: tracing.NewRequestID(),
			Role:      s.cfg.Role,
		}
		if req.Session != nil {
			execCtx.ThreadID = req.Session.ID()
		}

		res := s.tools.Execute(ctx, name, args, execCtx)
		body, err := json.Marshal(res)
		if err != nil {
			return nil, err
		}

		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: string(body)}},
			StructuredContent: json.RawMessage(body),
			IsError:           !res.Success,
		}, nil
	}
}

func (s *Server) callerFor(req *mcp.CallToolRequest) string {
	if s.cfg.TrustCallerHeader && req.Extra != nil && req.Extra.Header != nil {
		if caller := req.Extra.Header.Get(CallerHeader); caller != "" {
			return caller
		}
	}
	return s.cfg.CallerID
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves one session over stdin and stdout until ctx is done or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	published := len(s.registered)
	s.mu.Unlock()

	s.logger.Info().Int("tools", published).Msg("Serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}
