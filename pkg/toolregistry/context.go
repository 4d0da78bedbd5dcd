package toolregistry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExecutionContext describes who is calling and from where. It is passed
// by value and never modified by the registry.
type ExecutionContext struct {
	CallerID  string          `json:"callerId"`
	ThreadID  string          `json:"threadId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId"`
	Role      PermissionLevel `json:"role,omitempty"`
}

// NewExecutionContext stamps a fresh request id and timestamp.
func NewExecutionContext(callerID string) ExecutionContext {
	return ExecutionContext{
		CallerID:  callerID,
		Timestamp: time.Now().UTC(),
		RequestID: uuid.New().String(),
	}
}

func (e ExecutionContext) withDefaults(now time.Time) ExecutionContext {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.RequestID == "" {
		e.RequestID = uuid.New().String()
	}
	return e
}

// Dispatcher is the only way a handler can reach another tool.
type Dispatcher interface {
	Execute(ctx context.Context, name string, params map[string]interface{}, execCtx ExecutionContext) Result
}

type execContextKey struct{}
type dispatcherKey struct{}
type depthKey struct{}

// ContextWithExecutionContext attaches execCtx to ctx for handlers.
func ContextWithExecutionContext(ctx context.Context, execCtx ExecutionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecutionContextFromContext returns the execution context of the
// enclosing Execute call.
func ExecutionContextFromContext(ctx context.Context) (ExecutionContext, bool) {
	if ctx == nil {
		return ExecutionContext{}, false
	}
	execCtx, ok := ctx.Value(execContextKey{}).(ExecutionContext)
	return execCtx, ok
}

// DispatcherFromContext returns the dispatcher that invoked the current
// handler. Nested calls made through it share the call depth limit.
func DispatcherFromContext(ctx context.Context) (Dispatcher, bool) {
	if ctx == nil {
		return nil, false
	}
	d, ok := ctx.Value(dispatcherKey{}).(Dispatcher)
	return d, ok
}

// DepthFromContext is the nesting depth of the current handler, 0 outside
// any handler.
func DepthFromContext(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	depth, _ := ctx.Value(depthKey{}).(int)
	return depth
}

func handlerContext(ctx context.Context, d Dispatcher, depth int, execCtx ExecutionContext) context.Context {
	ctx = context.WithValue(ctx, dispatcherKey{}, d)
	ctx = context.WithValue(ctx, depthKey{}, depth)
	return ContextWithExecutionContext(ctx, execCtx)
}
