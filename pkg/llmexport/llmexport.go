// Package llmexport converts registry functions into the tool parameter
// types of the OpenAI and Anthropic Go SDKs.
package llmexport

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/harun/toolgate/pkg/toolregistry"
)

// Lister is satisfied by *toolregistry.Registry.
type Lister interface {
	LLMFunctions(filter toolregistry.Filter) []toolregistry.LLMFunction
}

// OpenAITools returns the functions matching filter as chat completion tools.
func OpenAITools(l Lister, filter toolregistry.Filter) []openai.ChatCompletionToolParam {
	functions := l.LLMFunctions(filter)
	tools := make([]openai.ChatCompletionToolParam, 0, len(functions))
	for _, fn := range functions {
		tools = append(tools, OpenAITool(fn))
	}
	return tools
}

// OpenAITool converts one function.
func OpenAITool(fn toolregistry.LLMFunction) openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: openai.FunctionDefinitionParam{
			Name:        fn.Name,
			Description: openai.String(fn.Description),
			Parameters:  openai.FunctionParameters(fn.Parameters),
		},
	}
}

// AnthropicTools returns the functions matching filter as Messages API tools.
func AnthropicTools(l Lister, filter toolregistry.Filter) []anthropic.ToolUnionParam {
	functions := l.LLMFunctions(filter)
	tools := make([]anthropic.ToolUnionParam, 0, len(functions))
	for _, fn := range functions {
		tool := AnthropicTool(fn)
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return tools
}

// AnthropicTool converts one function. Keywords other than properties and
// required travel as extra input_schema fields.
func AnthropicTool(fn toolregistry.LLMFunction) anthropic.ToolParam {
	input := anthropic.ToolInputSchemaParam{
		Properties: fn.Parameters["properties"],
		Required:   requiredNames(fn.Parameters["required"]),
	}

	extra := map[string]any{}
	for k, v := range fn.Parameters {
		switch k {
		case "type", "properties", "required":
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		input.ExtraFields = extra
	}

	return anthropic.ToolParam{
		Name:        fn.Name,
		Description: anthropic.String(fn.Description),
		InputSchema: input,
	}
}

func requiredNames(v interface{}) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
