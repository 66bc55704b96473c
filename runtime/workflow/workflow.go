// Package workflow implements the durable task workflow: the base state
// machine (signals, event log, approval waits, notifications) and the
// action/decision loop that drives a model through tool calls until it
// produces a final answer. All I/O runs through activities; the workflow
// plane only branches on activity results, which keeps replays deterministic.
package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentexhq/agentex/runtime/activities"
	"github.com/agentexhq/agentex/runtime/engine"
	"github.com/agentexhq/agentex/runtime/errs"
	"github.com/agentexhq/agentex/runtime/llm"
	"github.com/agentexhq/agentex/runtime/notify"
	"github.com/agentexhq/agentex/runtime/task"
	"github.com/agentexhq/agentex/runtime/telemetry"
)

// DefaultRootThreadName is the thread seeded with the agent instructions and
// the task prompt.
const DefaultRootThreadName = "root"

// Signal and query names. Stable: part of the external workflow API.
const (
	SignalInstruct   = "instruct"
	SignalApprove    = "approve"
	QueryGetEventLog = "get_event_log"
)

// Event names recorded in the workflow event log.
const (
	EventDecisionMade             = "decision_made"
	EventExecutingToolCalls       = "executing_tool_calls"
	EventExecutingToolCall        = "executing_tool_call"
	EventHumanInstructionReceived = "human_instruction_received"
	EventTaskApproved             = "task_approved"
	EventTaskCompleted            = "task_completed"
	EventTaskCanceled             = "task_canceled"
)

// StatusCompleted is the status a task workflow returns on normal completion.
const StatusCompleted = "completed"

// Activity invocation defaults used by the task workflow. Tighter than the
// library defaults: decisions and tool calls get one minute per attempt and
// five attempts.
var callerOptions = engine.ActivityOptions{
	StartToCloseTimeout: 60 * time.Second,
	RetryPolicy:         engine.RetryPolicy{MaxAttempts: 5},
}

type (
	// TaskParams is the workflow start payload.
	TaskParams struct {
		Task            task.Task  `json:"task"`
		Agent           task.Agent `json:"agent"`
		RequireApproval bool       `json:"require_approval"`
	}

	// HumanInstruction is the instruct signal payload. ThreadName defaults to
	// the root thread.
	HumanInstruction struct {
		TaskID     string `json:"task_id"`
		Prompt     string `json:"prompt"`
		ThreadName string `json:"thread_name,omitempty"`
	}

	// Event is one event log entry. The "event" key names the event; the
	// remaining keys are payload.
	Event map[string]any

	// Config describes one task workflow type: its registered name and queue,
	// plus the model and registry key its decision loop uses. Instructions
	// override the agent description as the system prompt when set.
	Config struct {
		Name         string
		TaskQueue    string
		Model        string
		RegistryKey  string
		Instructions string
		Logger       telemetry.Logger
	}

	// Base is the per-execution workflow state machine. A fresh Base is built
	// for every run; signal handlers and the main loop share it through the
	// engine's cooperative scheduling.
	Base struct {
		cfg Config

		mu                    sync.Mutex
		waitingForInstruction bool
		taskApproved          bool
		eventLog              []Event
		displayName           string
	}
)

// NewBase constructs the state machine for one execution.
func NewBase(cfg Config) *Base {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	return &Base{cfg: cfg}
}

// NewTaskWorkflow builds the engine registration for a task workflow type. A
// fresh Base backs every execution.
func NewTaskWorkflow(cfg Config) engine.WorkflowDefinition {
	return engine.WorkflowDefinition{
		Name:      cfg.Name,
		TaskQueue: cfg.TaskQueue,
		Handler: func(wctx engine.Context, input any) (any, error) {
			var params TaskParams
			if err := engine.Coerce(input, &params); err != nil {
				return nil, errs.ClientWrap(err, "invalid task params")
			}
			return NewBase(cfg).RunTask(wctx, params)
		},
	}
}

// Init registers the event log query and starts the signal pumps. Call once
// at the top of a run before any suspension point.
func (b *Base) Init(wctx engine.Context, params TaskParams) error {
	b.mu.Lock()
	b.displayName = params.Agent.Name
	b.mu.Unlock()

	if err := wctx.SetQueryHandler(QueryGetEventLog, func() ([]Event, error) {
		return b.EventLog(), nil
	}); err != nil {
		return fmt.Errorf("register %s query: %w", QueryGetEventLog, err)
	}

	wctx.Go(func(wctx engine.Context) { b.pumpInstruct(wctx, params) })
	wctx.Go(func(wctx engine.Context) { b.pumpApprove(wctx) })
	return nil
}

// pumpInstruct drains the instruct signal for the lifetime of the run. Each
// delivery appends a user turn to the target thread and releases a pending
// approval wait.
func (b *Base) pumpInstruct(wctx engine.Context, params TaskParams) {
	ch := wctx.SignalChannel(SignalInstruct)
	for {
		var instr HumanInstruction
		if err := ch.Receive(wctx.Context(), &instr); err != nil {
			return
		}
		threadName := instr.ThreadName
		if threadName == "" {
			threadName = DefaultRootThreadName
		}
		if err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityCall{
			Name: activities.NameAppendMessagesToThread,
			Input: &activities.AppendMessagesParams{
				TaskID:     params.Task.ID,
				ThreadName: threadName,
				Messages:   llm.Messages{&llm.UserMessage{Content: instr.Prompt}},
			},
			Options: callerOptions,
		}, nil); err != nil {
			b.cfg.Logger.Error(wctx.Context(), "append instruction failed",
				"task_id", params.Task.ID, "thread", threadName, "err", err)
			continue
		}
		b.LogEvent(EventHumanInstructionReceived, "thread_name", threadName)
		b.mu.Lock()
		b.waitingForInstruction = false
		b.mu.Unlock()
	}
}

// pumpApprove drains the approve signal. Each delivery logs one event;
// task_approved stays latched regardless of duplicates.
func (b *Base) pumpApprove(wctx engine.Context) {
	ch := wctx.SignalChannel(SignalApprove)
	for {
		if err := ch.Receive(wctx.Context(), nil); err != nil {
			return
		}
		b.LogEvent(EventTaskApproved)
		b.mu.Lock()
		b.taskApproved = true
		b.mu.Unlock()
	}
}

// LogEvent appends one entry to the event log. Keyvals are alternating
// key/value pairs merged into the entry payload.
func (b *Base) LogEvent(event string, keyvals ...any) {
	entry := Event{"event": event}
	for i := 0; i+1 < len(keyvals); i += 2 {
		if k, ok := keyvals[i].(string); ok {
			entry[k] = keyvals[i+1]
		}
	}
	b.mu.Lock()
	b.eventLog = append(b.eventLog, entry)
	b.mu.Unlock()
}

// EventLog returns a snapshot of the event log.
func (b *Base) EventLog() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.eventLog))
	copy(out, b.eventLog)
	return out
}

// DisplayName returns the name used as the notification title.
func (b *Base) DisplayName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.displayName
}

// WaitForApproval notifies the human that the agent paused and blocks until
// either an instruct signal arrives (returns false: keep looping) or the task
// is approved (returns true: done). The notification summarizes the agent's
// last content and the user's last request.
func (b *Base) WaitForApproval(wctx engine.Context, params TaskParams, content string) (bool, error) {
	b.mu.Lock()
	if b.taskApproved {
		b.mu.Unlock()
		return true, nil
	}
	b.waitingForInstruction = true
	b.mu.Unlock()

	var messages llm.Messages
	if err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityCall{
		Name: activities.NameGetMessagesFromThread,
		Input: &activities.GetMessagesParams{
			TaskID:     params.Task.ID,
			ThreadName: DefaultRootThreadName,
		},
		Options: callerOptions,
	}, &messages); err != nil {
		return false, err
	}
	body := content
	if last := messages.LastUserMessage(); last != nil {
		body = fmt.Sprintf("%s\n\nIn response to: %s", content, last.Content)
	}
	if err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityCall{
		Name: activities.NameSendNotification,
		Input: &notify.Request{
			Topic:   params.Agent.Name,
			Title:   b.DisplayName(),
			Message: body,
			Tags:    []string{"hourglass_flowing_sand"},
		},
		Options: callerOptions,
	}, nil); err != nil {
		return false, err
	}

	if err := wctx.Await(wctx.Context(), func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return !b.waitingForInstruction || b.taskApproved
	}); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.taskApproved, nil
}

// RunTask is the standard run shape: seed the root thread, loop the decision
// loop with approval waits, notify on completion. Cancellation is logged as
// task_canceled and re-raised so the engine records the execution as
// canceled.
func (b *Base) RunTask(wctx engine.Context, params TaskParams) (string, error) {
	status, err := b.runTask(wctx, params)
	if engine.IsCanceled(err) {
		b.LogEvent(EventTaskCanceled)
		b.cfg.Logger.Info(wctx.Context(), "task canceled", "task_id", params.Task.ID)
	}
	return status, err
}

func (b *Base) runTask(wctx engine.Context, params TaskParams) (string, error) {
	if err := b.Init(wctx, params); err != nil {
		return "", err
	}

	instructions := b.cfg.Instructions
	if instructions == "" {
		instructions = params.Agent.Description
	}
	if err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityCall{
		Name: activities.NameAppendMessagesToThread,
		Input: &activities.AppendMessagesParams{
			TaskID:     params.Task.ID,
			ThreadName: DefaultRootThreadName,
			Messages: llm.Messages{
				&llm.SystemMessage{Content: instructions},
				&llm.UserMessage{Content: params.Task.Prompt},
			},
		},
		Options: callerOptions,
	}, nil); err != nil {
		return "", err
	}

	var content string
	for {
		var err error
		content, err = b.RunActionLoop(wctx, params.Task.ID, DefaultRootThreadName)
		if err != nil {
			return "", err
		}
		if !params.RequireApproval {
			break
		}
		approved, err := b.WaitForApproval(wctx, params, content)
		if err != nil {
			return "", err
		}
		if approved {
			break
		}
	}

	if err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityCall{
		Name: activities.NameSendNotification,
		Input: &notify.Request{
			Topic:   params.Agent.Name,
			Title:   b.DisplayName(),
			Message: content,
			Tags:    []string{"tada"},
		},
		Options: callerOptions,
	}, nil); err != nil {
		return "", err
	}
	b.LogEvent(EventTaskCompleted)
	return StatusCompleted, nil
}
