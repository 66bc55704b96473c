// Package temporal implements the workflow engine abstraction on Temporal.
// It manages per-queue workers, wires OTEL instrumentation into the client
// and workers, and translates the runtime's generic workflow and activity
// definitions into Temporal registrations.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/agentexhq/agentex/runtime/engine"
	"github.com/agentexhq/agentex/runtime/telemetry"
)

type (
	// Options configures the Temporal engine adapter. Either a pre-configured
	// Client or ClientOptions must be provided.
	Options struct {
		// Client is an optional pre-configured Temporal client. When nil the
		// adapter creates a lazy client from ClientOptions with OTEL
		// interceptors installed.
		Client client.Client

		// ClientOptions describe how to construct the client when Client is
		// nil. Only connection fields need to be set.
		ClientOptions *client.Options

		// WorkerOptions configures worker defaults. TaskQueue is required and
		// is the default queue when definitions omit one; one worker is
		// created per unique queue.
		WorkerOptions WorkerOptions

		// Instrumentation toggles OTEL tracing and metrics. Both are enabled
		// by default.
		Instrumentation InstrumentationOptions

		// DisableWorkerAutoStart keeps workers stopped until Worker().Start()
		// is called. By default workers start on the first StartWorkflow.
		DisableWorkerAutoStart bool

		// Logger defaults to the no-op logger.
		Logger telemetry.Logger
	}

	// WorkerOptions is the shared worker configuration applied to every task
	// queue the engine manages.
	WorkerOptions struct {
		// TaskQueue is the default queue. Required.
		TaskQueue string

		// Options are forwarded to Temporal's worker.New.
		Options worker.Options
	}

	// InstrumentationOptions configures the OTEL wiring for the client and
	// workers.
	InstrumentationOptions struct {
		DisableTracing bool
		DisableMetrics bool
		TracerOptions  temporalotel.TracerOptions
		MetricsOptions temporalotel.MetricsHandlerOptions
	}

	// Engine implements engine.Engine on Temporal. Safe for concurrent use.
	Engine struct {
		client      client.Client
		closeClient bool

		defaultQueue      string
		workerOpts        worker.Options
		autoStartDisabled bool

		logger telemetry.Logger

		mu              sync.Mutex
		workers         map[string]*workerBundle
		workersStarted  bool
		workflows       map[string]engine.WorkflowDefinition
		activityOptions map[string]engine.ActivityOptions
	}

	workerBundle struct {
		queue  string
		worker worker.Worker
		logger telemetry.Logger

		startOnce sync.Once
	}

	// WorkerController manages worker lifecycle for all queues the engine
	// manages. Obtain one via Engine.Worker().
	WorkerController struct {
		engine *Engine
	}

	instrumentation struct {
		tracer  interceptor.Interceptor
		metrics client.MetricsHandler
	}

	workflowHandle struct {
		run    client.WorkflowRun
		client client.Client
	}
)

// NewDataConverter returns the data converter used for task payloads: the
// standard composite with JSON as the terminal encoding, so timestamps travel
// as RFC 3339 strings and typed messages round-trip through their JSON codecs.
func NewDataConverter() converter.DataConverter {
	return converter.NewCompositeDataConverter(
		converter.NewNilPayloadConverter(),
		converter.NewByteSlicePayloadConverter(),
		converter.NewProtoJSONPayloadConverter(),
		converter.NewProtoPayloadConverter(),
		converter.NewJSONPayloadConverter(),
	)
}

// New constructs a Temporal engine adapter.
func New(opts Options) (*Engine, error) {
	defaultQueue := opts.WorkerOptions.TaskQueue
	if defaultQueue == "" {
		return nil, fmt.Errorf("temporal engine: worker options must include a default task queue")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	inst, err := configureInstrumentation(opts.Instrumentation)
	if err != nil {
		return nil, err
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		if clientOpts.DataConverter == nil {
			clientOpts.DataConverter = NewDataConverter()
		}
		applyClientInstrumentation(&clientOpts, inst)
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}

	workerOpts := opts.WorkerOptions.Options
	applyWorkerInstrumentation(&workerOpts, inst)

	return &Engine{
		client:            cli,
		closeClient:       closeClient,
		defaultQueue:      defaultQueue,
		workerOpts:        workerOpts,
		autoStartDisabled: opts.DisableWorkerAutoStart,
		logger:            logger,
		workers:           make(map[string]*workerBundle),
		workflows:         make(map[string]engine.WorkflowDefinition),
		activityOptions:   make(map[string]engine.ActivityOptions),
	}, nil
}

// RegisterWorkflow implements engine.Engine. The handler is wrapped so it
// receives the engine-agnostic workflow context.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("temporal engine: workflow name cannot be empty")
	}
	queue := def.TaskQueue
	if queue == "" {
		queue = e.defaultQueue
	}
	bundle, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}

	bundle.registerWorkflow(def.Name, func(tctx workflow.Context, input any) (any, error) {
		return def.Handler(newWorkflowContext(e, tctx), input)
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[def.Name]; exists {
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

// RegisterActivity implements engine.Engine. Temporal decodes the input
// payload directly into the handler's declared parameter type.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("temporal engine: activity name cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("temporal engine: activity %q handler is required", def.Name)
	}
	queue := def.Options.Queue
	if queue == "" {
		queue = e.defaultQueue
	}
	bundle, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}

	bundle.registerActivity(def.Name, def.Handler)

	e.mu.Lock()
	e.activityOptions[def.Name] = def.Options
	e.mu.Unlock()
	return nil
}

// StartWorkflow implements engine.Engine.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("temporal engine: workflow name is required")
	}
	def, err := e.workflowDefinition(req.Workflow)
	if err != nil {
		return nil, err
	}

	if !e.autoStartDisabled {
		e.ensureWorkersStarted()
	}

	queue := req.TaskQueue
	if queue == "" {
		queue = def.TaskQueue
	}
	if queue == "" {
		queue = e.defaultQueue
	}

	opts := client.StartWorkflowOptions{
		ID:                 req.ID,
		TaskQueue:          queue,
		WorkflowRunTimeout: req.RunTimeout,
	}
	if len(req.Memo) > 0 {
		opts.Memo = req.Memo
	}

	run, err := e.client.ExecuteWorkflow(ctx, opts, def.Name, req.Input)
	if err != nil {
		return nil, fmt.Errorf("temporal engine: start workflow %q: %w", req.Workflow, err)
	}
	return &workflowHandle{run: run, client: e.client}, nil
}

// SignalByID delivers a signal to a workflow without an in-process handle.
func (e *Engine) SignalByID(ctx context.Context, workflowID, runID, name string, payload any) error {
	if workflowID == "" {
		return fmt.Errorf("workflow id is required")
	}
	return e.client.SignalWorkflow(ctx, workflowID, runID, name, payload)
}

// Worker returns the lifecycle controller for the engine's workers.
func (e *Engine) Worker() *WorkerController {
	return &WorkerController{engine: e}
}

// Close stops the Temporal client when the engine created it.
func (e *Engine) Close() {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
}

func (e *Engine) workerForQueue(queue string) (*workerBundle, error) {
	if queue == "" {
		queue = e.defaultQueue
	}
	if queue == "" {
		return nil, fmt.Errorf("temporal engine: no task queue configured")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if bundle, ok := e.workers[queue]; ok {
		return bundle, nil
	}

	bundle := &workerBundle{
		queue:  queue,
		worker: worker.New(e.client, queue, e.workerOpts),
		logger: e.logger,
	}
	e.workers[queue] = bundle
	if e.workersStarted {
		bundle.start()
	}
	return bundle, nil
}

func (e *Engine) workflowDefinition(name string) (engine.WorkflowDefinition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.workflows[name]
	if !ok {
		return engine.WorkflowDefinition{}, fmt.Errorf("temporal engine: workflow %q is not registered", name)
	}
	return def, nil
}

func (e *Engine) activityDefaultsFor(name string) engine.ActivityOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activityOptions[name]
}

func (e *Engine) ensureWorkersStarted() {
	e.mu.Lock()
	if e.workersStarted {
		e.mu.Unlock()
		return
	}
	e.workersStarted = true
	bundles := make([]*workerBundle, 0, len(e.workers))
	for _, b := range e.workers {
		bundles = append(bundles, b)
	}
	e.mu.Unlock()
	for _, b := range bundles {
		b.start()
	}
}

// Start launches all registered workers. Later registrations auto-start.
func (c *WorkerController) Start() error {
	c.engine.ensureWorkersStarted()
	return nil
}

// Stop gracefully stops all workers managed by the engine.
func (c *WorkerController) Stop() {
	c.engine.mu.Lock()
	bundles := make([]*workerBundle, 0, len(c.engine.workers))
	for _, b := range c.engine.workers {
		bundles = append(bundles, b)
	}
	c.engine.mu.Unlock()

	for _, b := range bundles {
		b.stop()
	}
}

func (b *workerBundle) start() {
	b.startOnce.Do(func() {
		go func() {
			if err := b.worker.Run(worker.InterruptCh()); err != nil {
				b.logger.Error(context.Background(), "temporal worker exited", "queue", b.queue, "err", err)
			}
		}()
	})
}

func (b *workerBundle) stop() {
	b.worker.Stop()
}

func (b *workerBundle) registerWorkflow(name string, fn any) {
	b.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
}

func (b *workerBundle) registerActivity(name string, fn any) {
	b.worker.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func configureInstrumentation(opts InstrumentationOptions) (*instrumentation, error) {
	inst := &instrumentation{}
	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(opts.TracerOptions)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: configure tracing interceptor: %w", err)
		}
		inst.tracer = tracer
	}
	if !opts.DisableMetrics {
		inst.metrics = temporalotel.NewMetricsHandler(opts.MetricsOptions)
	}
	if inst.tracer == nil && inst.metrics == nil {
		return nil, nil
	}
	return inst, nil
}

func applyClientInstrumentation(opts *client.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
	if inst.metrics != nil && opts.MetricsHandler == nil {
		opts.MetricsHandler = inst.metrics
	}
}

func applyWorkerInstrumentation(opts *worker.Options, inst *instrumentation) {
	if inst == nil {
		return
	}
	if inst.tracer != nil {
		opts.Interceptors = append(opts.Interceptors, inst.tracer)
	}
}

func (h *workflowHandle) ID() string    { return h.run.GetID() }
func (h *workflowHandle) RunID() string { return h.run.GetRunID() }

func (h *workflowHandle) Get(ctx context.Context, result any) error {
	return translateCanceled(h.run.Get(ctx, result))
}

func (h *workflowHandle) Signal(ctx context.Context, name string, payload any) error {
	return translateNotFound(h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload))
}

func (h *workflowHandle) Query(ctx context.Context, name string, result any) error {
	value, err := h.client.QueryWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name)
	if err != nil {
		return translateNotFound(err)
	}
	if result == nil {
		return nil
	}
	return value.Get(result)
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return translateNotFound(h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID()))
}

// translateNotFound maps the service's not-found error onto the generic
// sentinel so callers need not depend on Temporal error types.
func translateNotFound(err error) error {
	if err == nil {
		return nil
	}
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return engine.ErrWorkflowNotFound
	}
	return err
}
