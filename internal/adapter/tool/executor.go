package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"reagent/internal/domain"
	"reagent/internal/infra/tracer"
)

// DefaultMaxWorkers bounds concurrent tool executions when no limit is configured.
const DefaultMaxWorkers = 8

// Executor runs registered tools through the validation and dispatch pipeline
// on a bounded worker pool.
type Executor struct {
	registry *Registry
	workers  *semaphore.Weighted
	logger   *slog.Logger
}

// NewExecutor creates an executor over registry allowing maxWorkers concurrent
// executions.
func NewExecutor(registry *Registry, maxWorkers int, logger *slog.Logger) *Executor {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Executor{
		registry: registry,
		workers:  semaphore.NewWeighted(int64(maxWorkers)),
		logger:   logger,
	}
}

// AvailableTools returns the definitions of all registered tools sorted by name.
func (x *Executor) AvailableTools() []domain.ToolDefinition {
	return x.registry.AvailableTools()
}

// Schemas returns the function-calling schemas of all registered tools.
func (x *Executor) Schemas() []domain.ToolSchema {
	return x.registry.Schemas()
}

type outcome struct {
	value domain.Value
	err   error
}

// ExecuteTool runs a tool and always returns a normalized result. Failures
// carry an error_code of TOOL_NOT_FOUND, INVALID_PARAMETER, EXECUTION_ERROR
// or TIMEOUT in the result metadata.
func (x *Executor) ExecuteTool(ctx context.Context, name string, params map[string]domain.Value) domain.ToolResult {
	start := time.Now()
	ctx, span := tracer.StartSpan(ctx, "tool.execute",
		trace.WithAttributes(tracer.StringAttr("tool.name", name)),
	)
	defer span.End()

	result := x.execute(ctx, name, params)
	result.ToolName = name
	result.Duration = time.Since(start)

	span.SetAttributes(tracer.Int64Attr("tool.duration_ms", result.Duration.Milliseconds()))
	if result.Success {
		tracer.SetOK(span)
	} else {
		tracer.RecordError(span, errors.New(result.Error))
		x.logger.Warn("tool execution failed",
			"tool", name,
			"error_code", string(result.ErrorCode()),
			"error", result.Error,
			"duration", result.Duration,
		)
	}
	return result
}

func (x *Executor) execute(ctx context.Context, name string, params map[string]domain.Value) domain.ToolResult {
	e, err := x.registry.lookup(name)
	if err != nil {
		return failure(err)
	}

	validated, err := e.validateParams(params, x.logger)
	if err != nil {
		return failure(err)
	}
	if err := e.validateAgainstSchema(validated); err != nil {
		return failure(err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := x.workers.Acquire(runCtx, 1); err != nil {
		return failure(x.contextFailure(runCtx, e))
	}

	done := make(chan outcome, 1)
	go func() {
		defer x.workers.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: panic: %v", domain.ErrToolFailure, r)}
			}
		}()
		v, err := e.tool.Execute(runCtx, validated)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				return failure(x.contextFailure(runCtx, e))
			}
			return failure(o.err)
		}
		if err := e.validateResult(o.value); err != nil {
			return failure(err)
		}
		return domain.ToolResult{Success: true, Result: o.value}
	case <-runCtx.Done():
		// The tool keeps its worker slot until it observes cancellation.
		return failure(x.contextFailure(runCtx, e))
	}
}

func (x *Executor) contextFailure(runCtx context.Context, e *entry) error {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %q exceeded %s", domain.ErrToolTimeout, e.def.Name, e.timeout)
	}
	return fmt.Errorf("%w: %v", domain.ErrToolFailure, runCtx.Err())
}

// ExecuteToolAsync runs a tool in the background and delivers its result on
// the returned channel, which is closed after one send. The execution is
// detached from ctx cancellation so it can outlive the request that started
// it; the tool timeout still applies.
func (x *Executor) ExecuteToolAsync(ctx context.Context, name string, params map[string]domain.Value) <-chan domain.ToolResult {
	ch := make(chan domain.ToolResult, 1)
	detached := context.WithoutCancel(ctx)
	go func() {
		defer close(ch)
		ch <- x.ExecuteTool(detached, name, params)
	}()
	return ch
}

func failure(err error) domain.ToolResult {
	return domain.ToolResult{
		Success: false,
		Error:   err.Error(),
		Metadata: map[string]domain.Value{
			"error_code": domain.StringValue(string(toolErrorCode(err))),
			"retryable":  domain.BoolValue(classifyToolError(err)),
		},
	}
}
