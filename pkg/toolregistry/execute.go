package toolregistry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/schema"
)

const tracerName = "github.com/harun/toolgate/pkg/toolregistry"

// metricsUnknownTool labels TOOL_NOT_FOUND outcomes so arbitrary names
// cannot create new series.
const metricsUnknownTool = "unknown"

type invocation struct {
	id      string
	name    string
	params  map[string]interface{}
	execCtx ExecutionContext
	depth   int
	start   time.Time

	def     *Definition
	latency *int64
}

type panicError struct {
	value interface{}
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// guarded runs fn and turns a panic into a *panicError. Collaborators on
// the secondary channel run through it so they cannot change the result.
func guarded(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p}
		}
	}()
	return fn()
}

// Execute dispatches one call through the pipeline and always returns an
// envelope. It is safe for concurrent use.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}, execCtx ExecutionContext) (res Result) {
	if ctx == nil {
		ctx = context.Background()
	}

	call := &invocation{
		id:      r.newID(),
		name:    name,
		params:  params,
		execCtx: execCtx.withDefaults(r.now().UTC()),
		depth:   DepthFromContext(ctx) + 1,
		start:   r.now(),
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "toolregistry.Execute",
		attribute.String("tool.name", name),
		attribute.String("invocation.id", call.id),
		attribute.String("request.id", call.execCtx.RequestID),
		attribute.Int("call.depth", call.depth),
	)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().
				Str("tool", name).
				Str("invocation_id", call.id).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("Dispatch pipeline panicked")
			res = failure(CodeExecutionError, "internal error", false, &panicError{value: p})
		}
		r.finish(ctx, call, res)
		if res.Success {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetAttributes(attribute.String("tool.error_code", string(res.Error.Code)))
			span.SetStatus(codes.Error, res.Error.Message)
		}
	}()

	return r.dispatch(ctx, call)
}

func (r *Registry) dispatch(ctx context.Context, call *invocation) Result {
	if call.depth > r.maxDepth {
		return failure(CodeExecutionError, fmt.Sprintf("call depth exceeded (max %d)", r.maxDepth), false, nil)
	}

	// Lookup
	e, ok := r.lookup(call.name)
	if !ok {
		return failure(CodeToolNotFound, fmt.Sprintf("tool %q not found", call.name), false, nil)
	}
	def := e.def
	call.def = &def

	// Validate
	params, errs := schema.Validate(def.params, call.params)
	if len(errs) > 0 {
		return failure(CodeValidationError, "invalid parameters: "+errs.Error(), false, errs)
	}

	// Authorize
	if res, ok := r.authorize(ctx, call, def); !ok {
		return res
	}

	// RateLimit
	if limit, ok := def.RateLimit(); ok {
		d := r.limiter.Reserve(def.name, call.execCtx.CallerID, limit)
		if !d.Allowed {
			return failure(CodeRateLimitExceeded, fmt.Sprintf(
				"rate limit of %d calls per %s exceeded, resets at %s",
				limit.MaxCalls, limit.Window, d.ResetAt.UTC().Format(time.RFC3339Nano),
			), true, nil)
		}
	}

	// CreditCheck
	if def.creditCost > 0 {
		balance, err := r.ledger.CheckBalance(ctx, call.execCtx.CallerID)
		if errors.Is(err, ErrUnknownCaller) {
			balance, err = 0, nil
		}
		if err != nil {
			r.logger.Warn().Err(err).Str("tool", def.name).Msg("Credit balance check failed")
			return failure(CodeExecutionError, "credit balance unavailable", true, err)
		}
		if balance < def.creditCost {
			return failure(CodeInsufficientCredits, fmt.Sprintf(
				"tool %q costs %d credits, available balance is %d", def.name, def.creditCost, balance,
			), false, nil)
		}
	}

	// Invoke
	invokeStart := r.now()
	res := r.invoke(ctx, call, e.handler, params)

	// Settle
	if res.Success && def.creditCost > 0 {
		r.settle(ctx, call, def.creditCost)
	}

	latency := r.now().Sub(invokeStart).Milliseconds()
	call.latency = &latency
	return res
}

func (r *Registry) authorize(ctx context.Context, call *invocation, def Definition) (Result, bool) {
	if call.execCtx.CallerID == "" {
		return failure(CodePermissionDenied, "caller id is required", false, nil), false
	}

	role := call.execCtx.Role
	if role == "" {
		resolved, err := r.roles.ResolveRole(ctx, call.execCtx.CallerID)
		if err != nil {
			return failure(CodePermissionDenied, "caller role could not be resolved", false, err), false
		}
		role = resolved
	}

	if !role.Allows(def.level) {
		return failure(CodePermissionDenied, fmt.Sprintf(
			"tool %q requires %s permission", def.name, def.level,
		), false, nil), false
	}
	return Result{}, true
}

type handlerOutcome struct {
	data interface{}
	err  error
}

// invoke runs the handler in its own goroutine under the registry deadline.
// A handler still running when the deadline passes is abandoned; its
// context is cancelled and its late result dropped.
func (r *Registry) invoke(ctx context.Context, call *invocation, h Handler, params map[string]interface{}) Result {
	runCtx, cancel := context.WithTimeout(ctx, r.defaultTimeout)
	defer cancel()

	if err := runCtx.Err(); err != nil {
		return r.contextFailure(call, err)
	}

	hctx := handlerContext(runCtx, r, call.depth, call.execCtx)
	done := make(chan handlerOutcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error().
					Str("tool", call.name).
					Str("invocation_id", call.id).
					Interface("panic", p).
					Bytes("stack", debug.Stack()).
					Msg("Tool handler panicked")
				done <- handlerOutcome{err: &panicError{value: p}}
			}
		}()
		data, err := h(hctx, params, call.execCtx)
		done <- handlerOutcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return success(out.data)
		}
		if ctxErr := runCtx.Err(); ctxErr != nil {
			return r.contextFailure(call, ctxErr)
		}
		return r.handlerFailure(call, out.err)
	case <-runCtx.Done():
		return r.contextFailure(call, runCtx.Err())
	}
}

func (r *Registry) contextFailure(call *invocation, err error) Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return failure(CodeTimeout, fmt.Sprintf("tool %q timed out", call.name), true, err)
	}
	return failure(CodeExecutionError, fmt.Sprintf("tool %q call cancelled", call.name), true, err)
}

func (r *Registry) handlerFailure(call *invocation, err error) Result {
	var p *panicError
	if errors.As(err, &p) {
		return failure(CodeExecutionError, fmt.Sprintf("tool %q failed unexpectedly", call.name), false, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failure(CodeTimeout, fmt.Sprintf("tool %q timed out", call.name), true, err)
	}

	msg := err.Error()
	if r.redactor != nil {
		msg = r.redactor.Redact(msg)
	}
	return failure(CodeExecutionError, msg, IsRetryable(err), err)
}

// settle deducts credits for a successful call. It runs detached from the
// caller's cancellation and retries with the same invocation id; a final
// failure only reaches the secondary channel.
func (r *Registry) settle(ctx context.Context, call *invocation, cost int64) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.settleTimeout)
	defer cancel()

	var err error
retry:
	for attempt := 1; ; attempt++ {
		err = guarded(func() error {
			return r.ledger.Deduct(sctx, call.execCtx.CallerID, cost, call.id)
		})
		if err == nil {
			return
		}
		r.logger.Debug().
			Err(err).
			Str("tool", call.name).
			Str("invocation_id", call.id).
			Int("attempt", attempt).
			Msg("Credit deduction attempt failed")

		if attempt >= r.settleAttempts {
			break
		}
		timer := time.NewTimer(r.settleBackoff * time.Duration(attempt))
		select {
		case <-timer.C:
		case <-sctx.Done():
			timer.Stop()
			break retry
		}
	}

	r.metrics.IncSecondaryFailure(ChannelDeduct, call.name)
	r.logger.Warn().
		Err(err).
		Str("tool", call.name).
		Str("invocation_id", call.id).
		Str("caller", MaskCallerID(call.execCtx.CallerID)).
		Int64("amount", cost).
		Msg("Credit deduction failed after retries")
}

func (r *Registry) finish(ctx context.Context, call *invocation, res Result) {
	rec := InvocationRecord{
		InvocationID:   call.id,
		ToolName:       call.name,
		MaskedCallerID: MaskCallerID(call.execCtx.CallerID),
		ArgsSummary:    r.summarizeArgs(call.params),
		Outcome:        res.Outcome(),
		LatencyMs:      call.latency,
		Timestamp:      call.start.UTC(),
		RequestID:      call.execCtx.RequestID,
		ThreadID:       call.execCtx.ThreadID,
		Depth:          call.depth,
	}
	if call.def != nil {
		rec.Version = call.def.version
	}
	if res.Error != nil {
		rec.ErrorMessage = res.Error.Message
	}

	metricTool := call.name
	if call.def == nil {
		metricTool = metricsUnknownTool
	}
	elapsed := r.now().Sub(call.start)
	if err := guarded(func() error {
		r.metrics.ObserveDispatch(metricTool, rec.Outcome, elapsed)
		return nil
	}); err != nil {
		r.logger.Warn().Err(err).Str("tool", call.name).Msg("Failed to observe dispatch")
	}

	if r.recorder != nil {
		if err := guarded(func() error {
			return r.recorder.Record(context.WithoutCancel(ctx), rec)
		}); err != nil {
			r.metrics.IncSecondaryFailure(ChannelRecord, metricTool)
			r.logger.Warn().
				Err(err).
				Str("tool", call.name).
				Str("invocation_id", call.id).
				Msg("Failed to record invocation")
		}
	}

	ev := r.logger.Debug()
	if res.Cause() != nil && res.Error != nil && res.Error.Code == CodeExecutionError {
		ev = r.logger.Warn().Err(res.Cause())
	}
	ev.Str("tool", call.name).
		Str("invocation_id", call.id).
		Str("request_id", call.execCtx.RequestID).
		Str("outcome", rec.Outcome).
		Int("depth", call.depth).
		Msg("Tool dispatched")
}
