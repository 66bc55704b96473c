// Package worker hosts the task runtime on a Temporal worker: it registers
// workflow types and the activity library on a task queue, serves a readiness
// probe, and runs until its context is canceled.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	temporalworker "go.temporal.io/sdk/worker"

	"github.com/agentexhq/agentex/runtime/engine"
	"github.com/agentexhq/agentex/runtime/engine/temporal"
	"github.com/agentexhq/agentex/runtime/telemetry"
)

// Defaults applied when the corresponding option is zero.
const (
	DefaultMaxConcurrentActivities = 10
	DefaultReadyAddr               = ":80"
	readyShutdownTimeout           = 5 * time.Second
)

type (
	// Options configures a worker host.
	Options struct {
		// TaskQueue is the queue the worker polls. Required.
		TaskQueue string

		// TemporalAddress is the frontend address, typically from the
		// TEMPORAL_ADDRESS environment variable. Empty uses the client
		// default.
		TemporalAddress string

		// Namespace is the Temporal namespace. Empty uses the client default.
		Namespace string

		// Workflows are the workflow types to register.
		Workflows []engine.WorkflowDefinition

		// Activities are the activity registrations, typically
		// activities.Definitions().
		Activities []engine.ActivityDefinition

		// MaxConcurrentActivities bounds parallel activity execution.
		// Defaults to 10.
		MaxConcurrentActivities int

		// ReadyAddr is the listen address of the readiness probe. Defaults
		// to ":80".
		ReadyAddr string

		// BuildID identifies this worker build. Defaults to a random UUID.
		BuildID string

		// Instrumentation is forwarded to the Temporal engine.
		Instrumentation temporal.InstrumentationOptions

		// Logger defaults to the no-op logger.
		Logger telemetry.Logger
	}

	// Worker is a configured host. Run blocks until the context is canceled
	// or a fatal error occurs.
	Worker struct {
		opts    Options
		engine  *temporal.Engine
		logger  telemetry.Logger
		healthy atomic.Bool
	}
)

// New constructs a worker host. The Temporal client is lazy: no connection is
// made until Run.
func New(opts Options) (*Worker, error) {
	if opts.TaskQueue == "" {
		return nil, errors.New("worker: task queue is required")
	}
	if len(opts.Workflows) == 0 {
		return nil, errors.New("worker: at least one workflow is required")
	}
	if opts.MaxConcurrentActivities == 0 {
		opts.MaxConcurrentActivities = DefaultMaxConcurrentActivities
	}
	if opts.ReadyAddr == "" {
		opts.ReadyAddr = DefaultReadyAddr
	}
	if opts.BuildID == "" {
		opts.BuildID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	eng, err := temporal.New(temporal.Options{
		ClientOptions: &client.Options{
			HostPort:  opts.TemporalAddress,
			Namespace: opts.Namespace,
		},
		WorkerOptions: temporal.WorkerOptions{
			TaskQueue: opts.TaskQueue,
			Options: temporalworker.Options{
				MaxConcurrentActivityExecutionSize: opts.MaxConcurrentActivities,
				BuildID:                            opts.BuildID,
			},
		},
		Instrumentation:        opts.Instrumentation,
		DisableWorkerAutoStart: true,
		Logger:                 logger,
	})
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	return &Worker{opts: opts, engine: eng, logger: logger}, nil
}

// Engine exposes the underlying engine, for starting workflows from the same
// process.
func (w *Worker) Engine() *temporal.Engine { return w.engine }

// Run registers the workflows and activities, starts the readiness probe and
// the Temporal workers, and blocks until ctx is canceled. The probe reports
// true only while the worker is serving.
func (w *Worker) Run(ctx context.Context) error {
	for _, def := range w.opts.Workflows {
		if err := w.engine.RegisterWorkflow(ctx, def); err != nil {
			return fmt.Errorf("worker: register workflow %q: %w", def.Name, err)
		}
	}
	for _, def := range w.opts.Activities {
		if err := w.engine.RegisterActivity(ctx, def); err != nil {
			return fmt.Errorf("worker: register activity %q: %w", def.Name, err)
		}
	}

	srv := &http.Server{Addr: w.opts.ReadyAddr, Handler: w.readyMux()}
	probeErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			probeErr <- err
		}
	}()

	if err := w.engine.Worker().Start(); err != nil {
		w.healthy.Store(false)
		return fmt.Errorf("worker: start workers: %w", err)
	}
	w.healthy.Store(true)
	w.logger.Info(ctx, "worker running",
		"task_queue", w.opts.TaskQueue,
		"build_id", w.opts.BuildID,
		"max_concurrent_activities", w.opts.MaxConcurrentActivities)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-probeErr:
		w.logger.Error(ctx, "readiness probe failed", "addr", w.opts.ReadyAddr, "err", runErr)
	}

	w.healthy.Store(false)
	w.engine.Worker().Stop()
	w.engine.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), readyShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// readyMux serves GET /readyz with a JSON boolean: true while the worker is
// polling, false otherwise.
func (w *Worker) readyMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/readyz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(rw).Encode(w.healthy.Load()); err != nil {
			w.logger.Error(context.Background(), "write readiness response", "err", err)
		}
	})
	return mux
}
