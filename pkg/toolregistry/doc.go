// Package toolregistry registers typed tools and dispatches agent calls
// through a fixed pipeline: lookup, validate, authorize, rate limit,
// credit check, invoke, settle.
//
// Invariants:
// - Tool names are unique; re-registration needs AllowOverride.
// - The catalog is an immutable snapshot; writers swap in a fresh copy.
// - Execute always returns a Result and never panics.
// - Rate limit slots are reserved before invoke and never refunded.
// - Credit deduction and invocation records are best effort and never
//   change an already determined result.
//
// Usage:
//
//	reg := toolregistry.New(toolregistry.Config{Limiter: ratelimit.New(ratelimit.Config{})})
//	def, _ := toolregistry.NewDefinition("echo", "general", "Echo input", toolregistry.PermissionRead,
//		schema.NewObject(schema.Property{Name: "msg", Field: schema.String{}, Required: true}))
//	_ = reg.Register(def, func(ctx context.Context, params map[string]interface{}, ec toolregistry.ExecutionContext) (interface{}, error) {
//		return params, nil
//	})
//	res := reg.Execute(ctx, "echo", map[string]interface{}{"msg": "hi"}, toolregistry.NewExecutionContext("user-1"))
package toolregistry
