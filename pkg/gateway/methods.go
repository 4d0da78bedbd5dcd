package gateway

import (
	"context"
	"fmt"

	"github.com/harun/toolgate/pkg/llmexport"
	"github.com/harun/toolgate/pkg/toolregistry"
)

// Tool list formats accepted by tools.list.
const (
	FormatRaw       = "raw"
	FormatOpenAI    = "openai"
	FormatAnthropic = "anthropic"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod("tools.list", s.handleToolsList)
	_ = s.RegisterMethod("tools.describe", s.handleToolsDescribe)
	_ = s.RegisterMethod("tools.execute", s.handleToolsExecute)
	_ = s.RegisterMethod("tools.stats", s.handleToolsStats)
	_ = s.RegisterMethod("gateway.clients", s.handleGatewayClients)
}

// handleToolsList handles tools.list
func (s *Server) handleToolsList(_ context.Context, params map[string]interface{}) (interface{}, error) {
	filter, err := filterFromParams(params)
	if err != nil {
		return nil, err
	}

	format, err := optionalString(params, "format")
	if err != nil {
		return nil, err
	}

	switch format {
	case "", FormatRaw:
		return map[string]interface{}{"tools": s.tools.LLMFunctions(filter)}, nil
	case FormatOpenAI:
		return map[string]interface{}{"tools": llmexport.OpenAITools(s.tools, filter)}, nil
	case FormatAnthropic:
		return map[string]interface{}{"tools": llmexport.AnthropicTools(s.tools, filter)}, nil
	default:
		return nil, invalidParams(fmt.Sprintf("unknown format %q", format))
	}
}

// handleToolsDescribe handles tools.describe
func (s *Server) handleToolsDescribe(_ context.Context, params map[string]interface{}) (interface{}, error) {
	name, err := requiredString(params, "name")
	if err != nil {
		return nil, err
	}

	def, ok := s.tools.Get(name)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("tool %q not found", name))
	}
	return def, nil
}

// handleToolsExecute dispatches one tool call. Tool failures are returned
// as a result envelope, not as an RPC error.
func (s *Server) handleToolsExecute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	caller, _ := CallerFromContext(ctx)
	if caller.ID == "" {
		return nil, rpcError(CallerRequired, "caller id is required")
	}

	name, err := requiredString(params, "name")
	if err != nil {
		return nil, err
	}

	var toolParams map[string]interface{}
	if raw, ok := params["params"]; ok && raw != nil {
		toolParams, ok = raw.(map[string]interface{})
		if !ok {
			return nil, invalidParams("params must be an object")
		}
	}

	threadID, err := optionalString(params, "threadId")
	if err != nil {
		return nil, err
	}
	if threadID == "" {
		threadID = caller.ThreadID
	}
	messageID, err := optionalString(params, "messageId")
	if err != nil {
		return nil, err
	}
	// Replay is handled by the router; only the type is checked here.
	if _, err := optionalString(params, idempotencyParam); err != nil {
		return nil, err
	}

	execCtx := toolregistry.ExecutionContext{
		CallerID:  caller.ID,
		ThreadID:  threadID,
		MessageID: messageID,
		RequestID: caller.RequestID,
	}

	result := s.tools.Execute(ctx, name, toolParams, execCtx)
	s.broadcaster.SendToCaller(caller.ID, clientIDFromContext(ctx), EventInvocationCompleted, map[string]interface{}{
		"tool":      name,
		"requestId": caller.RequestID,
		"success":   result.Success,
	})
	return result, nil
}

// handleToolsStats handles tools.stats
func (s *Server) handleToolsStats(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"tools":   s.tools.Stats(),
		"clients": s.clients.Count(),
		"methods": s.router.GetMethods(),
	}, nil
}

// handleGatewayClients handles gateway.clients
func (s *Server) handleGatewayClients(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"clients": s.clients.Describe()}, nil
}

func filterFromParams(params map[string]interface{}) (toolregistry.Filter, error) {
	var filter toolregistry.Filter

	level, err := optionalString(params, "permissionLevel")
	if err != nil {
		return filter, err
	}
	if level != "" {
		parsed, err := toolregistry.ParsePermissionLevel(level)
		if err != nil {
			return filter, invalidParams(err.Error())
		}
		filter.PermissionLevel = parsed
	}

	if filter.Category, err = optionalString(params, "category"); err != nil {
		return filter, err
	}
	if filter.Tag, err = optionalString(params, "tag"); err != nil {
		return filter, err
	}
	return filter, nil
}

func requiredString(params map[string]interface{}, key string) (string, error) {
	value, err := optionalString(params, key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", invalidParams(fmt.Sprintf("%s parameter is required", key))
	}
	return value, nil
}

func optionalString(params map[string]interface{}, key string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", invalidParams(fmt.Sprintf("%s parameter must be a string", key))
	}
	return value, nil
}

func invalidParams(message string) *RPCError {
	return rpcError(InvalidParams, message)
}
