// Package activities implements the activity library executed by the
// workflow engine on behalf of task workflows: thread reads and appends, the
// decide/take action pair, artifact persistence, notifications, and raw
// completions. Activity names are stable strings recorded in workflow
// histories; changing one breaks replay of open executions.
package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentexhq/agentex/runtime/engine"
	"github.com/agentexhq/agentex/runtime/errs"
	"github.com/agentexhq/agentex/runtime/llm"
	"github.com/agentexhq/agentex/runtime/notify"
	"github.com/agentexhq/agentex/runtime/registry"
	"github.com/agentexhq/agentex/runtime/state"
	"github.com/agentexhq/agentex/runtime/telemetry"
)

// Activity names. Stable: recorded in workflow histories.
const (
	NameAppendMessagesToThread = "append_messages_to_thread"
	NameGetMessagesFromThread  = "get_messages_from_thread"
	NameAddArtifactToContext   = "add_artifact_to_context"
	NameDecideAction           = "decide_action"
	NameTakeAction             = "take_action"
	NameSendNotification       = "send_notification"
	NameAskLLM                 = "ask_llm"
)

// Metric names emitted by the activity library.
const (
	metricDecisionCount    = "activity.decision.count"
	metricDecisionDuration = "activity.decision.duration"
	metricToolCallCount    = "activity.tool_call.count"
	metricToolCallDuration = "activity.tool_call.duration"
)

// Prompts used by the explanation backfill in decide_action. The model
// sometimes requests tool calls with no content; the loop persists an
// assistant turn with a human-readable explanation regardless.
const (
	backfillSystemPrompt = "You just decided to call one or more tools but did not explain what you are doing. The user can see the tool calls you requested; they owe an explanation."
	backfillUserPrompt   = "Briefly explain, in the style of a progress report, what you are about to do with the tool calls you just requested and why."
)

type (
	// Options configures the activity library.
	Options struct {
		// Gateway is the completion backend. Required.
		Gateway llm.Gateway
		// State is the agent state service. Required.
		State *state.Service
		// Registries maps registry keys to action registries. Required for
		// decide_action and take_action.
		Registries map[string]*registry.Registry
		// Notifier delivers notifications. Defaults to the nop sender.
		Notifier notify.Sender
		// Logger defaults to the no-op logger.
		Logger telemetry.Logger
		// Metrics defaults to the no-op recorder.
		Metrics telemetry.Metrics
		// Tracer defaults to the no-op tracer.
		Tracer telemetry.Tracer
	}

	// Activities hosts the activity handlers. Register them on an engine via
	// Definitions.
	Activities struct {
		gateway    llm.Gateway
		state      *state.Service
		registries map[string]*registry.Registry
		notifier   notify.Sender
		logger     telemetry.Logger
		metrics    telemetry.Metrics
		tracer     telemetry.Tracer
	}

	// AppendMessagesParams is the input of append_messages_to_thread.
	AppendMessagesParams struct {
		TaskID     string       `json:"task_id"`
		ThreadName string       `json:"thread_name"`
		Messages   llm.Messages `json:"messages"`
	}

	// GetMessagesParams is the input of get_messages_from_thread.
	GetMessagesParams struct {
		TaskID     string `json:"task_id"`
		ThreadName string `json:"thread_name"`
	}

	// AddArtifactParams is the input of add_artifact_to_context.
	AddArtifactParams struct {
		TaskID   string         `json:"task_id"`
		Artifact state.Artifact `json:"artifact"`
	}

	// DecideActionParams is the input of decide_action.
	DecideActionParams struct {
		TaskID            string `json:"task_id"`
		ThreadName        string `json:"thread_name"`
		ActionRegistryKey string `json:"action_registry_key"`
		Model             string `json:"model"`
	}

	// TakeActionParams is the input of take_action. ToolArgs is the raw JSON
	// argument text produced by the model.
	TakeActionParams struct {
		TaskID            string `json:"task_id"`
		ThreadName        string `json:"thread_name"`
		ActionRegistryKey string `json:"action_registry_key"`
		ToolCallID        string `json:"tool_call_id"`
		ToolName          string `json:"tool_name"`
		ToolArgs          string `json:"tool_args"`
	}
)

// New constructs the activity library.
func New(opts Options) (*Activities, error) {
	if opts.Gateway == nil {
		return nil, errors.New("llm gateway is required")
	}
	if opts.State == nil {
		return nil, errors.New("state service is required")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NopSender{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Activities{
		gateway:    opts.Gateway,
		state:      opts.State,
		registries: opts.Registries,
		notifier:   notifier,
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
	}, nil
}

// Definitions returns the activity registrations for this library. Library
// defaults apply: 10 second start-to-close, unlimited retries. Callers
// override per invocation.
func (a *Activities) Definitions() []engine.ActivityDefinition {
	opts := engine.ActivityOptions{StartToCloseTimeout: engine.DefaultStartToCloseTimeout}
	return []engine.ActivityDefinition{
		{Name: NameAppendMessagesToThread, Handler: a.AppendMessagesToThread, Options: opts},
		{Name: NameGetMessagesFromThread, Handler: a.GetMessagesFromThread, Options: opts},
		{Name: NameAddArtifactToContext, Handler: a.AddArtifactToContext, Options: opts},
		{Name: NameDecideAction, Handler: a.DecideAction, Options: opts},
		{Name: NameTakeAction, Handler: a.TakeAction, Options: opts},
		{Name: NameSendNotification, Handler: a.SendNotification, Options: opts},
		{Name: NameAskLLM, Handler: a.AskLLM, Options: opts},
	}
}

// AppendMessagesToThread appends messages to a thread and returns the
// thread's messages after the append.
func (a *Activities) AppendMessagesToThread(ctx context.Context, params *AppendMessagesParams) (llm.Messages, error) {
	return a.state.AppendMessages(ctx, params.TaskID, params.ThreadName, params.Messages...)
}

// GetMessagesFromThread returns the messages of a thread.
func (a *Activities) GetMessagesFromThread(ctx context.Context, params *GetMessagesParams) (llm.Messages, error) {
	return a.state.GetMessages(ctx, params.TaskID, params.ThreadName)
}

// AddArtifactToContext stores an artifact in the task's context, replacing
// any artifact with the same name.
func (a *Activities) AddArtifactToContext(ctx context.Context, params *AddArtifactParams) error {
	return a.state.SetArtifact(ctx, params.TaskID, params.Artifact, true)
}

// DecideAction runs one decision step: load the thread, ask the model with
// the registry's function-call schemas attached, backfill an explanation when
// the model returned tool calls with no content, persist the assistant turn,
// and return the full completion.
func (a *Activities) DecideAction(ctx context.Context, params *DecideActionParams) (*llm.Completion, error) {
	start := time.Now()
	reg, err := a.registry(params.ActionRegistryKey)
	if err != nil {
		return nil, err
	}
	messages, err := a.state.GetMessages(ctx, params.TaskID, params.ThreadName)
	if err != nil {
		return nil, err
	}

	completion, err := a.complete(ctx, "llm.decide", &llm.Config{
		Model:    params.Model,
		Messages: messages,
		Tools:    reg.FunctionCallSchemas(),
	})
	if err != nil {
		return nil, err
	}
	choice, ok := completion.FirstChoice()
	if !ok {
		return nil, errs.Servicef("completion has no choices")
	}

	assistant := choice.Message
	if assistant.Content == "" && len(assistant.ToolCalls) > 0 {
		content, err := a.backfillExplanation(ctx, params.Model, messages)
		if err != nil {
			return nil, err
		}
		assistant.Content = content
	}

	if _, err := a.state.AppendMessages(ctx, params.TaskID, params.ThreadName, assistant); err != nil {
		return nil, err
	}
	a.logger.Debug(ctx, "decision made",
		"task_id", params.TaskID,
		"thread", params.ThreadName,
		"finish_reason", string(choice.FinishReason),
		"tool_calls", len(assistant.ToolCalls))
	a.metrics.IncCounter(metricDecisionCount, 1,
		"registry", params.ActionRegistryKey,
		"finish_reason", string(choice.FinishReason))
	a.metrics.RecordTimer(metricDecisionDuration, time.Since(start),
		"model", params.Model)
	return completion, nil
}

// backfillExplanation runs a second completion asking the model to explain
// the tool calls it just requested.
func (a *Activities) backfillExplanation(ctx context.Context, model string, messages llm.Messages) (string, error) {
	prompt := make(llm.Messages, 0, len(messages)+2)
	prompt = append(prompt, messages...)
	prompt = append(prompt,
		&llm.SystemMessage{Content: backfillSystemPrompt},
		&llm.UserMessage{Content: backfillUserPrompt},
	)
	completion, err := a.complete(ctx, "llm.backfill_explanation", &llm.Config{Model: model, Messages: prompt})
	if err != nil {
		return "", fmt.Errorf("backfill explanation: %w", err)
	}
	choice, ok := completion.FirstChoice()
	if !ok {
		return "", errs.Servicef("backfill completion has no choices")
	}
	return choice.Message.Content, nil
}

// TakeAction parses the tool arguments, invokes the action through its
// registry, persists any returned artifacts, and appends the tool turn to
// the thread. On failure the tool turn carries the stringified error and the
// error is still returned so the engine applies its retry policy; the
// append-or-replace keyed by tool call id keeps one tool turn per call
// across retries.
func (a *Activities) TakeAction(ctx context.Context, params *TakeActionParams) (*registry.ActionResponse, error) {
	start := time.Now()
	ctx, span := a.tracer.Start(ctx, "action.call",
		trace.WithAttributes(
			attribute.String("agentex.task_id", params.TaskID),
			attribute.String("agentex.action", params.ToolName),
			attribute.String("agentex.registry", params.ActionRegistryKey),
		))
	defer span.End()

	resp, callErr := a.callAction(ctx, params)
	if resp == nil {
		resp = &registry.ActionResponse{Message: callErr.Error(), Success: false}
	}

	if callErr == nil && len(resp.Artifacts) > 0 {
		if err := a.state.BatchSetArtifacts(ctx, params.TaskID, resp.Artifacts, true); err != nil {
			return nil, err
		}
	}

	toolMsg := &llm.ToolMessage{
		Content:    llm.ToolContent{Text: stringifyMessage(resp.Message)},
		ToolCallID: params.ToolCallID,
		Name:       params.ToolName,
	}
	if err := a.state.AppendOrReplaceToolMessage(ctx, params.TaskID, params.ThreadName, toolMsg); err != nil {
		return nil, err
	}
	a.metrics.IncCounter(metricToolCallCount, 1,
		"action", params.ToolName,
		"outcome", toolCallOutcome(callErr, resp))
	a.metrics.RecordTimer(metricToolCallDuration, time.Since(start),
		"action", params.ToolName)
	if callErr != nil {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, "action failed")
		a.logger.Warn(ctx, "action failed",
			"task_id", params.TaskID,
			"action", params.ToolName,
			"tool_call_id", params.ToolCallID,
			"err", callErr)
		return resp, callErr
	}
	span.SetStatus(codes.Ok, "ok")
	return resp, nil
}

// toolCallOutcome labels a tool call for metrics: "error" when the handler
// failed the activity, "failure" when it reported an unsuccessful response,
// "success" otherwise.
func toolCallOutcome(callErr error, resp *registry.ActionResponse) string {
	switch {
	case callErr != nil:
		return "error"
	case !resp.Success:
		return "failure"
	default:
		return "success"
	}
}

func (a *Activities) callAction(ctx context.Context, params *TakeActionParams) (*registry.ActionResponse, error) {
	reg, err := a.registry(params.ActionRegistryKey)
	if err != nil {
		return nil, err
	}
	var args map[string]any
	if params.ToolArgs != "" {
		if err := json.Unmarshal([]byte(params.ToolArgs), &args); err != nil {
			return nil, errs.ClientWrap(err, "action %q: tool arguments are not valid JSON", params.ToolName)
		}
	}
	return reg.Call(ctx, params.ToolName, registry.Context{TaskID: params.TaskID}, args)
}

// complete runs one gateway completion inside a client span.
func (a *Activities) complete(ctx context.Context, spanName string, cfg *llm.Config) (*llm.Completion, error) {
	ctx, span := a.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("agentex.model", cfg.Model),
			attribute.Int("agentex.messages", len(cfg.Messages)),
			attribute.Int("agentex.tools", len(cfg.Tools)),
		))
	defer span.End()

	completion, err := a.gateway.Complete(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, err
	}
	if choice, ok := completion.FirstChoice(); ok && choice.FinishReason != "" {
		span.AddEvent("llm.finish", "reason", string(choice.FinishReason))
	}
	span.SetStatus(codes.Ok, "ok")
	return completion, nil
}

// SendNotification delivers one notification.
func (a *Activities) SendNotification(ctx context.Context, req *notify.Request) error {
	return a.notifier.Send(ctx, *req)
}

// AskLLM runs one raw completion.
func (a *Activities) AskLLM(ctx context.Context, cfg *llm.Config) (*llm.Completion, error) {
	return a.complete(ctx, "llm.ask", cfg)
}

func (a *Activities) registry(key string) (*registry.Registry, error) {
	reg, ok := a.registries[key]
	if !ok {
		return nil, errs.Clientf("unknown action registry %q", key)
	}
	return reg, nil
}

// stringifyMessage renders an action response message as tool turn text.
// Strings pass through; anything else is JSON-encoded.
func stringifyMessage(message any) string {
	switch m := message.(type) {
	case nil:
		return ""
	case string:
		return m
	default:
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Sprint(m)
		}
		return string(data)
	}
}
