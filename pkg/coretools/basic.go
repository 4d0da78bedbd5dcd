package coretools

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/toolgate/pkg/schema"
	"github.com/harun/toolgate/pkg/toolregistry"
)

func echoTool() tool {
	params := schema.NewObject(
		schema.Property{Name: "message", Description: "Text to return", Field: schema.String{MinLength: 1}, Required: true},
		schema.Property{Name: "uppercase", Description: "Return the text in upper case", Field: schema.Boolean{}, Default: false},
	)

	return tool{
		def: toolregistry.MustDefinition("echo", CategoryUtility,
			"Return the given message unchanged. Useful to check that tool calling works.",
			toolregistry.PermissionRead, params,
			toolregistry.Idempotent(), toolregistry.Cacheable(), toolregistry.WithTags("diagnostics"),
		),
		handler: func(_ context.Context, params map[string]interface{}, execCtx toolregistry.ExecutionContext) (interface{}, error) {
			message, _ := params["message"].(string)
			if upper, _ := params["uppercase"].(bool); upper {
				message = strings.ToUpper(message)
			}
			return map[string]interface{}{
				"message":    message,
				"request_id": execCtx.RequestID,
			}, nil
		},
	}
}

func currentTimeTool(opts Options) tool {
	params := schema.NewObject(
		schema.Property{Name: "timezone", Description: "IANA time zone name, e.g. Europe/Berlin", Field: schema.String{}, Default: "UTC"},
	)

	return tool{
		def: toolregistry.MustDefinition("current_time", CategoryUtility,
			"Get the current date and time in a time zone.",
			toolregistry.PermissionRead, params,
			toolregistry.Idempotent(),
		),
		handler: func(_ context.Context, params map[string]interface{}, _ toolregistry.ExecutionContext) (interface{}, error) {
			name, _ := params["timezone"].(string)
			loc, err := time.LoadLocation(name)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", name)
			}
			now := opts.Clock().In(loc)
			return map[string]interface{}{
				"timezone": loc.String(),
				"iso":      now.Format(time.RFC3339),
				"unix":     now.Unix(),
				"weekday":  now.Weekday().String(),
			}, nil
		},
	}
}

func generateIDTool() tool {
	params := schema.NewObject(
		schema.Property{Name: "kind", Description: "Identifier format", Field: schema.Enum{Values: []string{"uuid", "nanoid"}}, Default: "uuid"},
		schema.Property{Name: "count", Description: "How many identifiers to generate", Field: schema.Number{Integer: true, Min: schema.Ptr(1.0), Max: schema.Ptr(100.0)}, Default: 1},
	)

	return tool{
		def: toolregistry.MustDefinition("generate_id", CategoryUtility,
			"Generate one or more unique identifiers.",
			toolregistry.PermissionRead, params,
		),
		handler: func(_ context.Context, params map[string]interface{}, _ toolregistry.ExecutionContext) (interface{}, error) {
			kind, _ := params["kind"].(string)
			count := intParam(params["count"], 1)

			ids := make([]string, 0, count)
			for i := int64(0); i < count; i++ {
				switch kind {
				case "nanoid":
					id, err := gonanoid.New()
					if err != nil {
						return nil, toolregistry.Retryable(fmt.Errorf("generate nanoid: %w", err))
					}
					ids = append(ids, id)
				default:
					ids = append(ids, uuid.New().String())
				}
			}
			return map[string]interface{}{"kind": kind, "ids": ids}, nil
		},
	}
}

func calculateTool() tool {
	params := schema.NewObject(
		schema.Property{Name: "operation", Field: schema.Enum{Values: []string{"add", "subtract", "multiply", "divide", "power"}}, Required: true},
		schema.Property{Name: "a", Description: "Left operand", Field: schema.Number{}, Required: true},
		schema.Property{Name: "b", Description: "Right operand", Field: schema.Number{}, Required: true},
	)

	return tool{
		def: toolregistry.MustDefinition("calculate", CategoryUtility,
			"Apply a basic arithmetic operation to two numbers.",
			toolregistry.PermissionRead, params,
			toolregistry.Idempotent(), toolregistry.Cacheable(),
		),
		handler: func(_ context.Context, params map[string]interface{}, _ toolregistry.ExecutionContext) (interface{}, error) {
			op, _ := params["operation"].(string)
			a, _ := params["a"].(float64)
			b, _ := params["b"].(float64)

			var result float64
			switch op {
			case "add":
				result = a + b
			case "subtract":
				result = a - b
			case "multiply":
				result = a * b
			case "divide":
				if b == 0 {
					return nil, fmt.Errorf("division by zero")
				}
				result = a / b
			case "power":
				result = math.Pow(a, b)
			}
			if math.IsInf(result, 0) || math.IsNaN(result) {
				return nil, fmt.Errorf("result of %s is not a finite number", op)
			}
			return map[string]interface{}{"operation": op, "result": result}, nil
		},
	}
}
