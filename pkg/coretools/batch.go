package coretools

import (
	"context"
	"errors"

	"github.com/harun/toolgate/pkg/schema"
	"github.com/harun/toolgate/pkg/toolregistry"
)

func batchTool(opts Options) tool {
	call := schema.NewObject(
		schema.Property{Name: "name", Description: "Tool to call", Field: schema.String{MinLength: 1}, Required: true},
		schema.Property{Name: "params", Description: "Parameters for the tool", Field: &schema.Object{AdditionalProperties: true}},
	)
	params := schema.NewObject(
		schema.Property{Name: "calls", Description: "Calls to run in order", Field: schema.Array{Items: call, MinItems: 1, MaxItems: opts.MaxBatch}, Required: true},
		schema.Property{Name: "stop_on_error", Description: "Skip the remaining calls after the first failure", Field: schema.Boolean{}, Default: false},
	)

	return tool{
		def: toolregistry.MustDefinition("tools_batch", CategoryMeta,
			"Run several tool calls in sequence and return every result. Each call is checked and metered on its own.",
			toolregistry.PermissionRead, params,
		),
		handler: func(ctx context.Context, params map[string]interface{}, execCtx toolregistry.ExecutionContext) (interface{}, error) {
			d, ok := toolregistry.DispatcherFromContext(ctx)
			if !ok {
				return nil, errors.New("tools_batch must run inside a dispatcher")
			}
			stopOnError, _ := params["stop_on_error"].(bool)
			calls, _ := params["calls"].([]interface{})

			results := make([]toolregistry.Result, 0, len(calls))
			failed := 0
			for _, raw := range calls {
				c, _ := raw.(map[string]interface{})
				name, _ := c["name"].(string)
				args, _ := c["params"].(map[string]interface{})

				res := d.Execute(ctx, name, args, execCtx)
				results = append(results, res)
				if !res.Success {
					failed++
					if stopOnError {
						break
					}
				}
			}

			return map[string]interface{}{
				"results":   results,
				"succeeded": len(results) - failed,
				"failed":    failed,
				"skipped":   len(calls) - len(results),
			}, nil
		},
	}
}
