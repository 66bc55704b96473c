// Package inmem provides an in-process implementation of the workflow engine
// for development and tests. Workflows run on plain goroutines with no
// durability, but the scheduling semantics match the durable engine: parallel
// activity fan-out, retry policies, signals, queries, Await and cancellation.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/agentexhq/agentex/runtime/engine"
	"github.com/agentexhq/agentex/runtime/errs"
)

// defaultRetryInterval is the delay before the first retry when the policy
// leaves InitialInterval zero. Kept short so tests run fast.
const defaultRetryInterval = 10 * time.Millisecond

var errorType = reflect.TypeOf((*error)(nil)).Elem()
var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

type (
	// Engine is the in-process engine.
	Engine struct {
		mu         sync.RWMutex
		workflows  map[string]engine.WorkflowDefinition
		activities map[string]activityDef
		handles    map[string]*handle
		wg         sync.WaitGroup
	}

	activityDef struct {
		handler reflect.Value
		opts    engine.ActivityOptions
	}

	handle struct {
		id     string
		done   chan struct{}
		cancel context.CancelFunc
		wctx   *wfCtx

		mu     sync.Mutex
		result any
		err    error
	}

	wfCtx struct {
		ctx context.Context
		id  string
		eng *Engine

		mu       sync.Mutex
		signals  map[string]chan any
		queries  map[string]reflect.Value
	}

	future struct {
		ready chan struct{}

		mu     sync.Mutex
		result any
		err    error
	}

	receiver struct {
		ch chan any
	}
)

// New returns an empty in-process engine.
func New() *Engine {
	return &Engine{
		workflows:  make(map[string]engine.WorkflowDefinition),
		activities: make(map[string]activityDef),
		handles:    make(map[string]*handle),
	}
}

// RegisterWorkflow implements engine.Engine.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("invalid workflow definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

// RegisterActivity implements engine.Engine. Handler must be a function of
// the form func(context.Context, In) (Out, error) or
// func(context.Context, In) error.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" {
		return errors.New("activity name is required")
	}
	if err := validateHandler(def.Handler); err != nil {
		return fmt.Errorf("activity %q: %w", def.Name, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("activity %q already registered", def.Name)
	}
	e.activities[def.Name] = activityDef{handler: reflect.ValueOf(def.Handler), opts: def.Options}
	return nil
}

// StartWorkflow implements engine.Engine. The workflow runs on its own
// goroutine with a context independent of the caller's.
func (e *Engine) StartWorkflow(_ context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.ID == "" {
		return nil, errors.New("workflow id is required")
	}
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %q not registered", req.Workflow)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if req.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), req.RunTimeout)
	}
	wctx := &wfCtx{
		ctx:     runCtx,
		id:      req.ID,
		eng:     e,
		signals: make(map[string]chan any),
		queries: make(map[string]reflect.Value),
	}
	h := &handle{id: req.ID, done: make(chan struct{}), cancel: cancel, wctx: wctx}

	e.mu.Lock()
	if _, dup := e.handles[req.ID]; dup {
		e.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("workflow id %q already started", req.ID)
	}
	e.handles[req.ID] = h
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(h.done)
		// Cancel the run context when the handler returns so signal pump
		// coroutines started with Go unblock and exit.
		defer cancel()
		res, err := def.Handler(wctx, req.Input)
		h.mu.Lock()
		h.result, h.err = res, translateCanceled(err)
		h.mu.Unlock()
	}()
	return h, nil
}

// Handle returns the handle for a started workflow id.
func (e *Engine) Handle(id string) (engine.WorkflowHandle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handles[id]
	if !ok {
		return nil, engine.ErrWorkflowNotFound
	}
	return h, nil
}

// Close waits for all started workflows to finish.
func (e *Engine) Close() {
	e.wg.Wait()
}

func (h *handle) ID() string    { return h.id }
func (h *handle) RunID() string { return h.id }

// Get implements engine.WorkflowHandle.
func (h *handle) Get(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	if result == nil {
		return nil
	}
	return engine.Coerce(h.result, result)
}

// Signal implements engine.WorkflowHandle. Delivery blocks until the
// workflow drains the channel or completes.
func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	ch := h.wctx.signalCh(name)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errors.New("workflow completed")
	case ch <- payload:
		return nil
	}
}

// Query implements engine.WorkflowHandle.
func (h *handle) Query(_ context.Context, name string, result any) error {
	h.wctx.mu.Lock()
	fn, ok := h.wctx.queries[name]
	h.wctx.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown query %q", name)
	}
	outs := fn.Call(nil)
	if len(outs) == 2 && !outs[1].IsNil() {
		return outs[1].Interface().(error)
	}
	if result == nil {
		return nil
	}
	return engine.Coerce(outs[0].Interface(), result)
}

// Cancel implements engine.WorkflowHandle.
func (h *handle) Cancel(context.Context) error {
	h.cancel()
	return nil
}

func (w *wfCtx) Context() context.Context { return w.ctx }
func (w *wfCtx) WorkflowID() string       { return w.id }
func (w *wfCtx) RunID() string            { return w.id }
func (w *wfCtx) Now() time.Time           { return time.Now() }

// ExecuteActivity implements engine.Context.
func (w *wfCtx) ExecuteActivity(ctx context.Context, call engine.ActivityCall, result any) error {
	return w.ExecuteActivityAsync(ctx, call).Get(ctx, result)
}

// ExecuteActivityAsync implements engine.Context. The activity runs on its
// own goroutine with the retry policy applied.
func (w *wfCtx) ExecuteActivityAsync(ctx context.Context, call engine.ActivityCall) engine.Future {
	fut := &future{ready: make(chan struct{})}
	w.eng.mu.RLock()
	def, ok := w.eng.activities[call.Name]
	w.eng.mu.RUnlock()
	if !ok {
		fut.err = fmt.Errorf("activity %q not registered", call.Name)
		close(fut.ready)
		return fut
	}

	opts := mergeOptions(def.opts, call.Options)
	w.eng.wg.Add(1)
	go func() {
		defer w.eng.wg.Done()
		defer close(fut.ready)
		res, err := runWithRetry(joinContexts(ctx, w.ctx), def.handler, call.Input, opts)
		fut.mu.Lock()
		fut.result, fut.err = res, err
		fut.mu.Unlock()
	}()
	return fut
}

// SignalChannel implements engine.Context.
func (w *wfCtx) SignalChannel(name string) engine.Receiver {
	return receiver{ch: w.signalCh(name)}
}

// SetQueryHandler implements engine.Context. Handler must be a function with
// no arguments returning (T) or (T, error).
func (w *wfCtx) SetQueryHandler(name string, handler any) error {
	fn := reflect.ValueOf(handler)
	if fn.Kind() != reflect.Func || fn.Type().NumIn() != 0 || fn.Type().NumOut() < 1 || fn.Type().NumOut() > 2 {
		return fmt.Errorf("query %q: handler must be func() (T[, error])", name)
	}
	if fn.Type().NumOut() == 2 && fn.Type().Out(1) != errorType {
		return fmt.Errorf("query %q: second return value must be error", name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queries[name] = fn
	return nil
}

// Go implements engine.Context.
func (w *wfCtx) Go(fn func(wctx engine.Context)) {
	w.eng.wg.Add(1)
	go func() {
		defer w.eng.wg.Done()
		fn(w)
	}()
}

// Await implements engine.Context by polling.
func (w *wfCtx) Await(ctx context.Context, condition func() bool) error {
	if condition == nil {
		return errors.New("await condition is required")
	}
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return translateCanceled(ctx.Err())
		case <-w.ctx.Done():
			return translateCanceled(w.ctx.Err())
		case <-ticker.C:
		}
	}
}

// Sleep implements engine.Context.
func (w *wfCtx) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return translateCanceled(ctx.Err())
	case <-w.ctx.Done():
		return translateCanceled(w.ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (w *wfCtx) signalCh(name string) chan any {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.signals[name]
	if !ok {
		ch = make(chan any, 16)
		w.signals[name] = ch
	}
	return ch
}

// Get implements engine.Future.
func (f *future) Get(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return translateCanceled(ctx.Err())
	case <-f.ready:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if result == nil {
		return nil
	}
	return engine.Coerce(f.result, result)
}

// IsReady implements engine.Future.
func (f *future) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

// Receive implements engine.Receiver.
func (r receiver) Receive(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return translateCanceled(ctx.Err())
	case val := <-r.ch:
		if result == nil {
			return nil
		}
		return engine.Coerce(val, result)
	}
}

// ReceiveAsync implements engine.Receiver.
func (r receiver) ReceiveAsync(result any) bool {
	select {
	case val := <-r.ch:
		if result != nil {
			if err := engine.Coerce(val, result); err != nil {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func validateHandler(handler any) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	t := reflect.TypeOf(handler)
	if t.Kind() != reflect.Func {
		return errors.New("handler must be a function")
	}
	if t.NumIn() != 2 || t.In(0) != contextType {
		return errors.New("handler must accept (context.Context, In)")
	}
	switch t.NumOut() {
	case 1:
		if t.Out(0) != errorType {
			return errors.New("handler must return error as its last value")
		}
	case 2:
		if t.Out(1) != errorType {
			return errors.New("handler must return error as its last value")
		}
	default:
		return errors.New("handler must return (Out, error) or error")
	}
	return nil
}

// runWithRetry invokes the handler, retrying per the policy. Client errors
// are terminal, matching the durable engine's non-retryable error types.
func runWithRetry(ctx context.Context, handler reflect.Value, input any, opts engine.ActivityOptions) (any, error) {
	policy := opts.RetryPolicy
	interval := policy.InitialInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	backoff := policy.BackoffCoefficient
	if backoff < 1 {
		backoff = 2
	}
	timeout := opts.StartToCloseTimeout
	if timeout <= 0 {
		timeout = engine.DefaultStartToCloseTimeout
	}

	attempt := 0
	for {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := invoke(attemptCtx, handler, input)
		cancel()
		if err == nil {
			return result, nil
		}
		if errs.IsClient(err) {
			return result, err
		}
		if ctx.Err() != nil {
			return result, translateCanceled(ctx.Err())
		}
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			return result, err
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, translateCanceled(ctx.Err())
		case <-timer.C:
		}
		interval = time.Duration(float64(interval) * backoff)
	}
}

// invoke calls the handler with the input coerced into its declared type.
func invoke(ctx context.Context, handler reflect.Value, input any) (any, error) {
	inType := handler.Type().In(1)
	var arg reflect.Value
	if inType.Kind() == reflect.Ptr {
		arg = reflect.New(inType.Elem())
		if input != nil {
			if err := engine.Coerce(input, arg.Interface()); err != nil {
				return nil, err
			}
		}
	} else {
		ptr := reflect.New(inType)
		if input != nil {
			if err := engine.Coerce(input, ptr.Interface()); err != nil {
				return nil, err
			}
		}
		arg = ptr.Elem()
	}

	outs := handler.Call([]reflect.Value{reflect.ValueOf(ctx), arg})
	errVal := outs[len(outs)-1]
	var err error
	if !errVal.IsNil() {
		err = errVal.Interface().(error)
	}
	if len(outs) == 2 {
		return outs[0].Interface(), err
	}
	return nil, err
}

func mergeOptions(registered, call engine.ActivityOptions) engine.ActivityOptions {
	out := registered
	if call.Queue != "" {
		out.Queue = call.Queue
	}
	if call.StartToCloseTimeout > 0 {
		out.StartToCloseTimeout = call.StartToCloseTimeout
	}
	if call.RetryPolicy != (engine.RetryPolicy{}) {
		out.RetryPolicy = call.RetryPolicy
	}
	return out
}

// joinContexts returns a context canceled when either parent is done.
func joinContexts(a, b context.Context) context.Context {
	if a == b || b == nil {
		return a
	}
	if a == nil {
		return b
	}
	ctx, cancel := context.WithCancel(a)
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

func translateCanceled(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return engine.ErrCanceled
	}
	return err
}
