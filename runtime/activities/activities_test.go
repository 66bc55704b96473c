package activities

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentexhq/agentex/runtime/errs"
	"github.com/agentexhq/agentex/runtime/kv/inmem"
	"github.com/agentexhq/agentex/runtime/llm"
	"github.com/agentexhq/agentex/runtime/notify"
	"github.com/agentexhq/agentex/runtime/registry"
	"github.com/agentexhq/agentex/runtime/state"
	"github.com/agentexhq/agentex/runtime/telemetry"
)

// fakeGateway returns queued completions in order and records the configs it
// was called with.
type fakeGateway struct {
	queued  []*llm.Completion
	errs    []error
	configs []*llm.Config
}

func (g *fakeGateway) Complete(_ context.Context, cfg *llm.Config) (*llm.Completion, error) {
	g.configs = append(g.configs, cfg)
	i := len(g.configs) - 1
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.queued) {
		return g.queued[i], nil
	}
	return completionOf("stop", &llm.AssistantMessage{Content: "done"}), nil
}

type recordingSender struct {
	sent []notify.Request
}

func (s *recordingSender) Send(_ context.Context, req notify.Request) error {
	s.sent = append(s.sent, req)
	return nil
}

// recordingMetrics counts counter increments and timer samples by name.
type recordingMetrics struct {
	counters map[string]float64
	timers   map[string]int
}

func (m *recordingMetrics) IncCounter(name string, value float64, _ ...string) {
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	m.counters[name] += value
}

func (m *recordingMetrics) RecordTimer(name string, _ time.Duration, _ ...string) {
	if m.timers == nil {
		m.timers = map[string]int{}
	}
	m.timers[name]++
}

func (m *recordingMetrics) RecordGauge(string, float64, ...string) {}

// recordingTracer records started span names.
type recordingTracer struct {
	spans []string
}

func (tr *recordingTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	tr.spans = append(tr.spans, name)
	return ctx, recordingSpan{}
}

func (tr *recordingTracer) Span(context.Context) telemetry.Span { return recordingSpan{} }

type recordingSpan struct{}

func (recordingSpan) End(...trace.SpanEndOption)              {}
func (recordingSpan) AddEvent(string, ...any)                 {}
func (recordingSpan) SetStatus(codes.Code, string)            {}
func (recordingSpan) RecordError(error, ...trace.EventOption) {}

func completionOf(finish llm.FinishReason, msg *llm.AssistantMessage) *llm.Completion {
	return &llm.Completion{Choices: []llm.Choice{{FinishReason: finish, Message: msg}}}
}

func newTestState(t *testing.T) *state.Service {
	t.Helper()
	repo, err := state.NewRepository(inmem.New())
	require.NoError(t, err)
	svc, err := state.New(state.Options{Repository: repo})
	require.NoError(t, err)
	return svc
}

func newTestActivities(t *testing.T, gw *fakeGateway, reg *registry.Registry) (*Activities, *state.Service) {
	t.Helper()
	svc := newTestState(t)
	registries := map[string]*registry.Registry{}
	if reg != nil {
		registries["default"] = reg
	}
	acts, err := New(Options{Gateway: gw, State: svc, Registries: registries})
	require.NoError(t, err)
	return acts, svc
}

func echoRegistry(t *testing.T, handler registry.HandlerFunc) *registry.Registry {
	t.Helper()
	if handler == nil {
		handler = func(context.Context, registry.Context, map[string]any) (*registry.ActionResponse, error) {
			return &registry.ActionResponse{Message: "ok", Success: true}, nil
		}
	}
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Action{
		Name:        "fetch_news",
		Description: "Fetch news for a keyword.",
		Params: []registry.Param{
			{Name: "keyword", Type: "string", Description: "Search keyword.", Required: true},
		},
		Handler: handler,
	}))
	return reg
}

func TestAppendAndGetMessages(t *testing.T) {
	ctx := context.Background()
	acts, _ := newTestActivities(t, &fakeGateway{}, nil)

	out, err := acts.AppendMessagesToThread(ctx, &AppendMessagesParams{
		TaskID:     "t1",
		ThreadName: "root",
		Messages:   llm.Messages{&llm.SystemMessage{Content: "sys"}, &llm.UserMessage{Content: "go"}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	msgs, err := acts.GetMessagesFromThread(ctx, &GetMessagesParams{TaskID: "t1", ThreadName: "root"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestAddArtifactToContextOverwrites(t *testing.T) {
	ctx := context.Background()
	acts, svc := newTestActivities(t, &fakeGateway{}, nil)

	require.NoError(t, acts.AddArtifactToContext(ctx, &AddArtifactParams{
		TaskID:   "t1",
		Artifact: state.Artifact{Name: "summary", Content: "v1"},
	}))
	require.NoError(t, acts.AddArtifactToContext(ctx, &AddArtifactParams{
		TaskID:   "t1",
		Artifact: state.Artifact{Name: "summary", Content: "v2"},
	}))

	a, err := svc.GetArtifact(ctx, "t1", "summary")
	require.NoError(t, err)
	require.Equal(t, "v2", a.Content)
}

func TestDecideActionAppendsAssistantTurn(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{queued: []*llm.Completion{
		completionOf(llm.FinishStop, &llm.AssistantMessage{Content: "all done"}),
	}}
	reg := echoRegistry(t, func(context.Context, registry.Context, map[string]any) (*registry.ActionResponse, error) {
		return &registry.ActionResponse{Message: "ok", Success: true}, nil
	})
	acts, svc := newTestActivities(t, gw, reg)

	_, err := svc.AppendMessages(ctx, "t1", "root", &llm.UserMessage{Content: "do it"})
	require.NoError(t, err)

	completion, err := acts.DecideAction(ctx, &DecideActionParams{
		TaskID: "t1", ThreadName: "root", ActionRegistryKey: "default", Model: "gpt-4o",
	})
	require.NoError(t, err)
	choice, ok := completion.FirstChoice()
	require.True(t, ok)
	require.Equal(t, llm.FinishStop, choice.FinishReason)

	// The model saw the registry's function-call schemas.
	require.Len(t, gw.configs, 1)
	require.Len(t, gw.configs[0].Tools, 1)
	require.Equal(t, "fetch_news", gw.configs[0].Tools[0].Function.Name)

	msgs, err := svc.GetMessages(ctx, "t1", "root")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "all done", msgs[1].(*llm.AssistantMessage).Content)
}

func TestDecideActionBackfillsExplanation(t *testing.T) {
	ctx := context.Background()
	toolCall := llm.ToolCallRequest{
		ID:       "call-1",
		Type:     llm.ToolTypeFunction,
		Function: llm.ToolCall{Name: "fetch_news", Arguments: `{"keyword":"AI"}`},
	}
	gw := &fakeGateway{queued: []*llm.Completion{
		completionOf(llm.FinishToolCalls, &llm.AssistantMessage{ToolCalls: []llm.ToolCallRequest{toolCall}}),
		completionOf(llm.FinishStop, &llm.AssistantMessage{Content: "I am fetching AI news now."}),
	}}
	reg := echoRegistry(t, nil)
	acts, svc := newTestActivities(t, gw, reg)

	_, err := svc.AppendMessages(ctx, "t1", "root", &llm.UserMessage{Content: "news please"})
	require.NoError(t, err)

	completion, err := acts.DecideAction(ctx, &DecideActionParams{
		TaskID: "t1", ThreadName: "root", ActionRegistryKey: "default", Model: "gpt-4o",
	})
	require.NoError(t, err)

	// Two completions: the decision plus the backfill.
	require.Len(t, gw.configs, 2)
	backfill := gw.configs[1].Messages
	require.Equal(t, llm.RoleSystem, backfill[len(backfill)-2].MessageRole())
	require.Equal(t, llm.RoleUser, backfill[len(backfill)-1].MessageRole())

	choice, _ := completion.FirstChoice()
	require.Equal(t, "I am fetching AI news now.", choice.Message.Content)

	msgs, err := svc.GetMessages(ctx, "t1", "root")
	require.NoError(t, err)
	persisted := msgs[1].(*llm.AssistantMessage)
	require.Equal(t, "I am fetching AI news now.", persisted.Content)
	require.Len(t, persisted.ToolCalls, 1)
}

func TestDecideActionUnknownRegistry(t *testing.T) {
	ctx := context.Background()
	acts, _ := newTestActivities(t, &fakeGateway{}, nil)
	_, err := acts.DecideAction(ctx, &DecideActionParams{
		TaskID: "t1", ThreadName: "root", ActionRegistryKey: "nope", Model: "m",
	})
	require.Error(t, err)
	require.True(t, errs.IsClient(err))
}

func TestTakeActionAppendsToolTurn(t *testing.T) {
	ctx := context.Background()
	reg := echoRegistry(t, func(_ context.Context, rc registry.Context, args map[string]any) (*registry.ActionResponse, error) {
		return &registry.ActionResponse{
			Message:   "3 articles found",
			Artifacts: []state.Artifact{{Name: "articles", Content: []any{"a", "b", "c"}}},
			Success:   true,
		}, nil
	})
	acts, svc := newTestActivities(t, &fakeGateway{}, reg)

	resp, err := acts.TakeAction(ctx, &TakeActionParams{
		TaskID: "t1", ThreadName: "root", ActionRegistryKey: "default",
		ToolCallID: "call-1", ToolName: "fetch_news", ToolArgs: `{"keyword":"AI"}`,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)

	msgs, err := svc.GetMessages(ctx, "t1", "root")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	tm := msgs[0].(*llm.ToolMessage)
	require.Equal(t, "call-1", tm.ToolCallID)
	require.Equal(t, "fetch_news", tm.Name)
	require.Equal(t, "3 articles found", tm.Content.String())

	// Returned artifacts were persisted.
	a, err := svc.GetArtifact(ctx, "t1", "articles")
	require.NoError(t, err)
	require.NotNil(t, a)
}

func TestTakeActionHandlerReportedFailurePassesThrough(t *testing.T) {
	ctx := context.Background()
	reg := echoRegistry(t, func(context.Context, registry.Context, map[string]any) (*registry.ActionResponse, error) {
		return &registry.ActionResponse{Message: `artifact "summary" already exists`, Success: false}, nil
	})
	acts, svc := newTestActivities(t, &fakeGateway{}, reg)

	resp, err := acts.TakeAction(ctx, &TakeActionParams{
		TaskID: "t1", ThreadName: "root", ActionRegistryKey: "default",
		ToolCallID: "call-1", ToolName: "fetch_news", ToolArgs: `{"keyword":"AI"}`,
	})
	require.NoError(t, err)
	require.False(t, resp.Success)

	// The failure is relayed to the model as the tool turn.
	msgs, err := svc.GetMessages(ctx, "t1", "root")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, `artifact "summary" already exists`, msgs[0].(*llm.ToolMessage).Content.String())
}

func TestActivitiesRecordMetricsAndSpans(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{queued: []*llm.Completion{
		completionOf(llm.FinishStop, &llm.AssistantMessage{Content: "done"}),
	}}
	reg := echoRegistry(t, nil)
	svc := newTestState(t)
	metrics := &recordingMetrics{}
	tracer := &recordingTracer{}
	acts, err := New(Options{
		Gateway:    gw,
		State:      svc,
		Registries: map[string]*registry.Registry{"default": reg},
		Metrics:    metrics,
		Tracer:     tracer,
	})
	require.NoError(t, err)

	_, err = svc.AppendMessages(ctx, "t1", "root", &llm.UserMessage{Content: "go"})
	require.NoError(t, err)
	_, err = acts.DecideAction(ctx, &DecideActionParams{
		TaskID: "t1", ThreadName: "root", ActionRegistryKey: "default", Model: "gpt-4o",
	})
	require.NoError(t, err)
	_, err = acts.TakeAction(ctx, &TakeActionParams{
		TaskID: "t1", ThreadName: "root", ActionRegistryKey: "default",
		ToolCallID: "call-1", ToolName: "fetch_news", ToolArgs: `{"keyword":"AI"}`,
	})
	require.NoError(t, err)

	require.Equal(t, float64(1), metrics.counters["activity.decision.count"])
	require.Equal(t, float64(1), metrics.counters["activity.tool_call.count"])
	require.Equal(t, 1, metrics.timers["activity.decision.duration"])
	require.Equal(t, 1, metrics.timers["activity.tool_call.duration"])
	require.Contains(t, tracer.spans, "llm.decide")
	require.Contains(t, tracer.spans, "action.call")
}

func TestTakeActionFailureStillAppendsToolTurnAndReturnsError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("upstream unavailable")
	reg := echoRegistry(t, func(context.Context, registry.Context, map[string]any) (*registry.ActionResponse, error) {
		return nil, boom
	})
	acts, svc := newTestActivities(t, &fakeGateway{}, reg)

	resp, err := acts.TakeAction(ctx, &TakeActionParams{
		TaskID: "t1", ThreadName: "root", ActionRegistryKey: "default",
		ToolCallID: "call-1", ToolName: "fetch_news", ToolArgs: `{"keyword":"AI"}`,
	})
	require.ErrorIs(t, err, boom)
	require.False(t, resp.Success)

	msgs, err := svc.GetMessages(ctx, "t1", "root")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "upstream unavailable", msgs[0].(*llm.ToolMessage).Content.String())
}

func TestTakeActionRetryReplacesToolTurn(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	reg := echoRegistry(t, func(context.Context, registry.Context, map[string]any) (*registry.ActionResponse, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("transient")
		}
		return &registry.ActionResponse{Message: "recovered", Success: true}, nil
	})
	acts, svc := newTestActivities(t, &fakeGateway{}, reg)

	params := &TakeActionParams{
		TaskID: "t1", ThreadName: "root", ActionRegistryKey: "default",
		ToolCallID: "call-1", ToolName: "fetch_news", ToolArgs: `{"keyword":"AI"}`,
	}
	_, err := acts.TakeAction(ctx, params)
	require.Error(t, err)
	_, err = acts.TakeAction(ctx, params)
	require.NoError(t, err)

	// Exactly one tool turn per tool call id across retries.
	msgs, err := svc.GetMessages(ctx, "t1", "root")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "recovered", msgs[0].(*llm.ToolMessage).Content.String())
}

func TestTakeActionMalformedArgsIsClientError(t *testing.T) {
	ctx := context.Background()
	reg := echoRegistry(t, nil)
	acts, svc := newTestActivities(t, &fakeGateway{}, reg)

	resp, err := acts.TakeAction(ctx, &TakeActionParams{
		TaskID: "t1", ThreadName: "root", ActionRegistryKey: "default",
		ToolCallID: "call-1", ToolName: "fetch_news", ToolArgs: `{not json`,
	})
	require.Error(t, err)
	require.True(t, errs.IsClient(err))
	require.False(t, resp.Success)

	// The thread still holds a tool turn for the failed call.
	msgs, err := svc.GetMessages(ctx, "t1", "root")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestSendNotification(t *testing.T) {
	ctx := context.Background()
	svc := newTestState(t)
	sender := &recordingSender{}
	acts, err := New(Options{Gateway: &fakeGateway{}, State: svc, Notifier: sender})
	require.NoError(t, err)

	require.NoError(t, acts.SendNotification(ctx, &notify.Request{Topic: "newsagent", Title: "done"}))
	require.Len(t, sender.sent, 1)
	require.Equal(t, "newsagent", sender.sent[0].Topic)
}

func TestAskLLM(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{queued: []*llm.Completion{
		completionOf(llm.FinishStop, &llm.AssistantMessage{Content: "42"}),
	}}
	acts, _ := newTestActivities(t, gw, nil)

	completion, err := acts.AskLLM(ctx, &llm.Config{
		Model:    "gpt-4o",
		Messages: llm.Messages{&llm.UserMessage{Content: "answer?"}},
	})
	require.NoError(t, err)
	choice, ok := completion.FirstChoice()
	require.True(t, ok)
	require.Equal(t, "42", choice.Message.Content)
}

func TestDefinitionsCoverStableNames(t *testing.T) {
	acts, _ := newTestActivities(t, &fakeGateway{}, nil)
	defs := acts.Definitions()
	names := make(map[string]bool, len(defs))
	for _, def := range defs {
		names[def.Name] = true
		require.NotNil(t, def.Handler)
	}
	for _, want := range []string{
		NameAppendMessagesToThread, NameGetMessagesFromThread, NameAddArtifactToContext,
		NameDecideAction, NameTakeAction, NameSendNotification, NameAskLLM,
	} {
		require.True(t, names[want], want)
	}
}
