package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/forge/internal/observability"
)

// ExecConfig bounds tool execution.
type ExecConfig struct {
	// Parallelism caps concurrent read-only tool calls. Default: 4.
	Parallelism int

	// PerToolTimeout bounds one call. Zero means no timeout; tools with
	// their own deadline semantics (Bash) manage it internally.
	PerToolTimeout time.Duration

	// Tracer records a span per tool dispatch. Nil disables tracing.
	Tracer *observability.Tracer
}

// Hooks receives tool lifecycle notifications. Callbacks run on the
// executing goroutine and must not block.
type Hooks struct {
	OnStart  func(call ToolCall)
	OnResult func(call ToolCall, result ToolResult, elapsed time.Duration)
}

// Executor runs a model response's tool calls. A batch runs in parallel
// only when every call is read-only; any mutating call serializes the
// whole batch in model order, so mutations never interleave.
type Executor struct {
	registry *Registry
	config   ExecConfig
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewExecutor creates an executor over the registry.
func NewExecutor(registry *Registry, config ExecConfig, metrics *observability.Metrics, logger *slog.Logger) *Executor {
	if config.Parallelism <= 0 {
		config.Parallelism = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, config: config, metrics: metrics, logger: logger}
}

// Execute runs all calls and returns results in call order, one per
// call, always. Cancellation yields synthetic failed results for calls
// that never ran.
func (e *Executor) Execute(ctx context.Context, calls []ToolCall, hooks Hooks) []ToolResult {
	results := make([]ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	if e.allReadOnly(calls) && len(calls) > 1 {
		// Execution is concurrent but event emission must follow the
		// model's declaration order: announce every start up front, run
		// the batch, then report results in call order.
		if hooks.OnStart != nil {
			for _, call := range calls {
				hooks.OnStart(call)
			}
		}
		elapsed := make([]time.Duration, len(calls))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.config.Parallelism)
		for i, call := range calls {
			g.Go(func() error {
				start := time.Now()
				results[i] = e.dispatch(gctx, call)
				elapsed[i] = time.Since(start)
				e.observe(call, results[i], elapsed[i])
				return nil
			})
		}
		g.Wait()
		if hooks.OnResult != nil {
			for i, call := range calls {
				hooks.OnResult(call, results[i], elapsed[i])
			}
		}
		return results
	}

	for i, call := range calls {
		if ctx.Err() != nil {
			results[i] = canceledResult(call)
			continue
		}
		results[i] = e.runOne(ctx, call, hooks)
	}
	return results
}

func (e *Executor) allReadOnly(calls []ToolCall) bool {
	for _, call := range calls {
		tool, ok := e.registry.Get(call.Name)
		if !ok || tool.Mutating() {
			return false
		}
	}
	return true
}

func (e *Executor) runOne(ctx context.Context, call ToolCall, hooks Hooks) ToolResult {
	if hooks.OnStart != nil {
		hooks.OnStart(call)
	}
	start := time.Now()
	result := e.dispatch(ctx, call)
	elapsed := time.Since(start)
	e.observe(call, result, elapsed)
	if hooks.OnResult != nil {
		hooks.OnResult(call, result, elapsed)
	}
	return result
}

func (e *Executor) observe(call ToolCall, result ToolResult, elapsed time.Duration) {
	status := "ok"
	if result.IsError {
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.ToolExecutions.WithLabelValues(call.Name, status).Inc()
		e.metrics.ToolDuration.WithLabelValues(call.Name).Observe(elapsed.Seconds())
	}
	e.logger.Debug("tool executed",
		"tool", call.Name, "status", status, "elapsed", elapsed)
}

func (e *Executor) dispatch(ctx context.Context, call ToolCall) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked",
				"tool", call.Name, "panic", r, "stack", string(debug.Stack()))
			result = *ErrorResult(call.ID, fmt.Sprintf("tool %s panicked: %v", call.Name, r))
		}
	}()

	if ctx.Err() != nil {
		return canceledResult(call)
	}
	if len(call.Input) > MaxToolParamsSize {
		return *ErrorResult(call.ID, fmt.Sprintf("tool parameters exceed %d bytes", MaxToolParamsSize))
	}
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return *ErrorResult(call.ID, "tool not found: "+call.Name)
	}
	if err := e.registry.Validate(call.Name, call.Input); err != nil {
		return *ErrorResult(call.ID, fmt.Sprintf("invalid parameters for %s: %v", call.Name, err))
	}

	execCtx := WithToolUseID(ctx, call.ID)
	if e.config.PerToolTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(execCtx, e.config.PerToolTimeout)
		defer cancel()
	}

	res, err := e.execTraced(execCtx, tool, call)
	if err != nil {
		if ctx.Err() != nil {
			return canceledResult(call)
		}
		return *ErrorResult(call.ID, err.Error())
	}
	if res == nil {
		return *TextResult(call.ID, "")
	}
	res.ToolUseID = call.ID
	return *res
}

// execTraced runs the tool under a span named after it.
func (e *Executor) execTraced(ctx context.Context, tool Tool, call ToolCall) (*ToolResult, error) {
	ctx, span := e.config.Tracer.StartTool(ctx, call.Name)
	res, err := tool.Execute(ctx, call.Input)
	switch {
	case err != nil:
		observability.EndSpan(span, err)
	case res != nil && res.IsError:
		observability.CloseSpan(span, res.Content)
	default:
		observability.CloseSpan(span, "")
	}
	return res, err
}

func canceledResult(call ToolCall) ToolResult {
	return *ErrorResult(call.ID, "tool execution canceled")
}
