// Package engine defines the durable workflow engine abstraction the task
// runtime is written against. Workflow handlers run on a deterministic plane
// and schedule activities, which run on a parallel plane where arbitrary I/O
// is allowed; the engine records activity inputs and outputs so workflows can
// be replayed after a crash.
//
// Two implementations ship with the runtime:
//
//   - temporal: production durable execution backed by Temporal.
//   - inmem: in-process execution for development and tests. No durability,
//     but the same scheduling semantics: parallel activities, signals,
//     queries, Await and cancellation.
//
// Workflow handlers must be deterministic: use Context.Now instead of
// time.Now, run all I/O through activities, and receive external events
// through signal channels.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Library-level activity defaults. Callers typically override with tighter
// bounds (the task workflow uses 60 seconds and 5 attempts).
const (
	// DefaultStartToCloseTimeout bounds one activity attempt.
	DefaultStartToCloseTimeout = 10 * time.Second
)

// ErrCanceled reports that the workflow execution was canceled. Engine
// implementations translate their native cancellation errors into it so
// workflow code can detect cancellation with errors.Is.
var ErrCanceled = errors.New("workflow canceled")

// ErrWorkflowNotFound reports that no execution exists for an identifier.
var ErrWorkflowNotFound = errors.New("workflow not found")

type (
	// Engine registers workflows and activities and starts executions.
	Engine interface {
		// RegisterWorkflow registers a workflow definition.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers a named activity. Handler must be a
		// function of the form func(context.Context, In) (Out, error) or
		// func(context.Context, In) error.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow launches an execution and returns a handle to it.
		// The ID in req must be unique among open executions.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)

		// Close releases engine resources. Blocks until in-flight work is
		// drained or abandoned, per the implementation.
		Close()
	}

	// WorkflowFunc is a workflow entry point. Input carries the decoded start
	// payload; handlers coerce it to their typed parameters with Coerce.
	WorkflowFunc func(wctx Context, input any) (any, error)

	// WorkflowDefinition binds a workflow handler to a logical name and its
	// default task queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// ActivityDefinition binds an activity handler to a stable name and its
	// default options.
	ActivityDefinition struct {
		Name    string
		Handler any
		Options ActivityOptions
	}

	// ActivityOptions configures scheduling for an activity. Zero values fall
	// back to the registered defaults, then to the library defaults.
	ActivityOptions struct {
		// Queue overrides the workflow's task queue for this activity.
		Queue string
		// StartToCloseTimeout bounds a single activity attempt.
		StartToCloseTimeout time.Duration
		// RetryPolicy controls retries across attempts.
		RetryPolicy RetryPolicy
	}

	// RetryPolicy defines retry semantics for activities. Zero-valued fields
	// use engine defaults; MaxAttempts zero means unlimited retries.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// ActivityCall is one activity invocation from workflow code.
	ActivityCall struct {
		// Name identifies the registered activity.
		Name string
		// Input is the payload passed to the handler.
		Input any
		// Options overrides the registered defaults for this invocation.
		Options ActivityOptions
	}

	// Context exposes deterministic engine operations to workflow handlers.
	// It is bound to a single execution and must not escape the handler.
	Context interface {
		// Context returns the workflow's Go context, used for cancellation
		// propagation into activity calls.
		Context() context.Context

		// WorkflowID returns the execution's workflow id (the task id).
		WorkflowID() string

		// RunID returns the engine-assigned run identifier.
		RunID() string

		// ExecuteActivity schedules an activity and blocks until it
		// completes, decoding its output into result when result is non-nil.
		ExecuteActivity(ctx context.Context, call ActivityCall, result any) error

		// ExecuteActivityAsync schedules an activity and returns a Future so
		// workflows can fan out in parallel and collect results later.
		ExecuteActivityAsync(ctx context.Context, call ActivityCall) Future

		// SignalChannel returns the receiver for the named signal.
		SignalChannel(name string) Receiver

		// SetQueryHandler registers a synchronous, side-effect-free read
		// handler invokable by external clients.
		SetQueryHandler(name string, handler any) error

		// Go runs fn on a workflow-managed coroutine. Used for signal pumps
		// that must live alongside the main handler.
		Go(fn func(wctx Context))

		// Await blocks until condition returns true or the workflow is
		// canceled. Condition must be deterministic and side-effect free.
		Await(ctx context.Context, condition func() bool) error

		// Sleep pauses the workflow for d of workflow time.
		Sleep(ctx context.Context, d time.Duration) error

		// Now returns the current workflow time, replay-safe.
		Now() time.Time
	}

	// Future is a pending activity result. Get may be called multiple times
	// and returns the same outcome each time.
	Future interface {
		// Get blocks until the activity completes and decodes the output into
		// result when result is non-nil.
		Get(ctx context.Context, result any) error

		// IsReady reports whether the activity has completed and Get will not
		// block.
		IsReady() bool
	}

	// Receiver delivers signal payloads to workflow code.
	Receiver interface {
		// Receive blocks until a signal arrives and decodes it into result.
		Receive(ctx context.Context, result any) error

		// ReceiveAsync decodes a pending signal into result without blocking.
		// It reports whether a signal was consumed.
		ReceiveAsync(result any) bool
	}

	// WorkflowStartRequest describes an execution to launch.
	WorkflowStartRequest struct {
		// ID is the workflow id; for task workflows this is the task id.
		ID string
		// Workflow names the registered definition to execute.
		Workflow string
		// TaskQueue overrides the definition's default queue.
		TaskQueue string
		// Input is the payload handed to the workflow handler.
		Input any
		// RunTimeout bounds the whole execution. Zero means engine default.
		RunTimeout time.Duration
		// Memo stores small diagnostic payloads with the execution.
		Memo map[string]any
	}

	// WorkflowHandle interacts with a running execution.
	WorkflowHandle interface {
		// ID returns the workflow id.
		ID() string

		// RunID returns the engine-assigned run identifier.
		RunID() string

		// Get blocks until the execution completes and decodes its result.
		Get(ctx context.Context, result any) error

		// Signal delivers an asynchronous payload to the workflow.
		Signal(ctx context.Context, name string, payload any) error

		// Query invokes a registered query handler and decodes its result.
		Query(ctx context.Context, name string, result any) error

		// Cancel requests cancellation of the execution.
		Cancel(ctx context.Context) error
	}
)

// IsCanceled reports whether err indicates workflow cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// Coerce re-shapes a decoded payload into a typed destination by JSON
// round-trip. Engines hand workflow inputs and activity outputs to generic
// code as maps and slices; Coerce validates them against the declared type.
func Coerce(from, to any) error {
	if from == nil {
		return nil
	}
	data, err := json.Marshal(from)
	if err != nil {
		return fmt.Errorf("coerce: encode: %w", err)
	}
	if err := json.Unmarshal(data, to); err != nil {
		return fmt.Errorf("coerce: decode into %T: %w", to, err)
	}
	return nil
}

// Execute runs an activity and returns its typed result.
func Execute[T any](ctx context.Context, wctx Context, call ActivityCall) (T, error) {
	var out T
	if err := wctx.ExecuteActivity(ctx, call, &out); err != nil {
		return out, err
	}
	return out, nil
}
