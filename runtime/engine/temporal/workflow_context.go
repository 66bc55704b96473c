package temporal

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/agentexhq/agentex/runtime/engine"
)

// clientErrorType is the application error type Temporal derives from the
// runtime's ClientError. Listed as non-retryable so bad input fails fast
// instead of burning retry attempts.
const clientErrorType = "ClientError"

type (
	workflowContext struct {
		engine     *Engine
		ctx        workflow.Context
		workflowID string
		runID      string
	}

	temporalFuture struct {
		future workflow.Future
		ctx    workflow.Context
	}

	temporalReceiver struct {
		ctx workflow.Context
		ch  workflow.ReceiveChannel
	}
)

// NewWorkflowContext adapts a Temporal workflow.Context into the runtime's
// engine.Context. Useful when workflows hosted outside this engine call
// runtime helpers from the same worker.
func NewWorkflowContext(e *Engine, ctx workflow.Context) engine.Context {
	return newWorkflowContext(e, ctx)
}

func newWorkflowContext(e *Engine, ctx workflow.Context) *workflowContext {
	info := workflow.GetInfo(ctx)
	return &workflowContext{
		engine:     e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
	}
}

func (w *workflowContext) Context() context.Context { return context.Background() }
func (w *workflowContext) WorkflowID() string       { return w.workflowID }
func (w *workflowContext) RunID() string            { return w.runID }

// ExecuteActivity implements engine.Context.
func (w *workflowContext) ExecuteActivity(ctx context.Context, call engine.ActivityCall, result any) error {
	return w.ExecuteActivityAsync(ctx, call).Get(ctx, result)
}

// ExecuteActivityAsync implements engine.Context.
func (w *workflowContext) ExecuteActivityAsync(_ context.Context, call engine.ActivityCall) engine.Future {
	actx := workflow.WithActivityOptions(w.ctx, w.activityOptionsFor(call.Name, call.Options))
	return &temporalFuture{
		future: workflow.ExecuteActivity(actx, call.Name, call.Input),
		ctx:    actx,
	}
}

// SignalChannel implements engine.Context.
func (w *workflowContext) SignalChannel(name string) engine.Receiver {
	return &temporalReceiver{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

// SetQueryHandler implements engine.Context.
func (w *workflowContext) SetQueryHandler(name string, handler any) error {
	return workflow.SetQueryHandler(w.ctx, name, handler)
}

// Go implements engine.Context using a workflow coroutine.
func (w *workflowContext) Go(fn func(wctx engine.Context)) {
	workflow.Go(w.ctx, func(ctx workflow.Context) {
		child := *w
		child.ctx = ctx
		fn(&child)
	})
}

// Await implements engine.Context.
func (w *workflowContext) Await(ctx context.Context, condition func() bool) error {
	if condition == nil {
		return errors.New("await condition is required")
	}
	if err := ctx.Err(); err != nil {
		return translateCanceled(err)
	}
	return translateCanceled(workflow.Await(w.ctx, condition))
}

// Sleep implements engine.Context.
func (w *workflowContext) Sleep(_ context.Context, d time.Duration) error {
	return translateCanceled(workflow.Sleep(w.ctx, d))
}

// Now implements engine.Context with replay-safe workflow time.
func (w *workflowContext) Now() time.Time {
	return workflow.Now(w.ctx)
}

func (w *workflowContext) activityOptionsFor(name string, override engine.ActivityOptions) workflow.ActivityOptions {
	defaults := w.engine.activityDefaultsFor(name)

	queue := override.Queue
	if queue == "" {
		queue = defaults.Queue
	}
	if queue == "" {
		queue = w.engine.defaultQueue
	}

	timeout := override.StartToCloseTimeout
	if timeout == 0 {
		timeout = defaults.StartToCloseTimeout
	}
	if timeout == 0 {
		timeout = engine.DefaultStartToCloseTimeout
	}

	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		TaskQueue:           queue,
		RetryPolicy:         convertRetryPolicy(mergeRetryPolicies(defaults.RetryPolicy, override.RetryPolicy)),
	}
}

// Get implements engine.Future.
func (f *temporalFuture) Get(_ context.Context, result any) error {
	return translateCanceled(f.future.Get(f.ctx, result))
}

// IsReady implements engine.Future.
func (f *temporalFuture) IsReady() bool {
	return f.future.IsReady()
}

// Receive implements engine.Receiver.
func (r *temporalReceiver) Receive(ctx context.Context, result any) error {
	if err := ctx.Err(); err != nil {
		return translateCanceled(err)
	}
	r.ch.Receive(r.ctx, result)
	return nil
}

// ReceiveAsync implements engine.Receiver.
func (r *temporalReceiver) ReceiveAsync(result any) bool {
	return r.ch.ReceiveAsync(result)
}

func mergeRetryPolicies(base, override engine.RetryPolicy) engine.RetryPolicy {
	result := base
	if override.MaxAttempts != 0 {
		result.MaxAttempts = override.MaxAttempts
	}
	if override.InitialInterval != 0 {
		result.InitialInterval = override.InitialInterval
	}
	if override.BackoffCoefficient != 0 {
		result.BackoffCoefficient = override.BackoffCoefficient
	}
	return result
}

// convertRetryPolicy translates the generic policy. ClientError is always
// non-retryable; MaxAttempts zero keeps Temporal's unlimited default.
func convertRetryPolicy(r engine.RetryPolicy) *temporal.RetryPolicy {
	policy := &temporal.RetryPolicy{
		NonRetryableErrorTypes: []string{clientErrorType},
	}
	if r.MaxAttempts > 0 {
		policy.MaximumAttempts = int32(r.MaxAttempts) //nolint:gosec
	}
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	if r.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = r.BackoffCoefficient
	}
	return policy
}

// translateCanceled maps Temporal cancellation errors onto the generic
// sentinel so workflow code can use engine.IsCanceled.
func translateCanceled(err error) error {
	if err == nil {
		return nil
	}
	var canceled *temporal.CanceledError
	if errors.As(err, &canceled) || temporal.IsCanceledError(err) || errors.Is(err, context.Canceled) {
		return engine.ErrCanceled
	}
	return err
}
