package anthropic

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/agentexhq/agentex/runtime/llm"
)

type fakeMessages struct {
	params   sdk.MessageNewParams
	response *sdk.Message
	err      error
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.params = body
	return f.response, f.err
}

func textMessage(text string, stop sdk.StopReason) *sdk.Message {
	return &sdk.Message{
		Model:      "claude-sonnet-4-5",
		StopReason: stop,
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: text}},
		Usage:      sdk.Usage{InputTokens: 12, OutputTokens: 3},
	}
}

func TestCompleteTranslatesConversation(t *testing.T) {
	fake := &fakeMessages{response: textMessage("Hi!", sdk.StopReasonEndTurn)}
	g, err := New(fake, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	completion, err := g.Complete(context.Background(), &llm.Config{
		Messages: llm.Messages{
			&llm.SystemMessage{Content: "be brief"},
			&llm.UserMessage{Content: "say hi"},
			&llm.AssistantMessage{
				ToolCalls: []llm.ToolCallRequest{{
					ID:       "tc-1",
					Type:     llm.ToolTypeFunction,
					Function: llm.ToolCall{Name: "fetch_news", Arguments: `{"keyword":"go"}`},
				}},
			},
			&llm.ToolMessage{Content: llm.ToolContent{Text: "2 articles"}, ToolCallID: "tc-1", Name: "fetch_news"},
		},
	})
	require.NoError(t, err)

	require.Equal(t, sdk.Model("claude-sonnet-4-5"), fake.params.Model)
	require.EqualValues(t, DefaultMaxTokens, fake.params.MaxTokens)
	require.Len(t, fake.params.System, 1)
	require.Equal(t, "be brief", fake.params.System[0].Text)
	// user, assistant tool_use, tool result as user turn.
	require.Len(t, fake.params.Messages, 3)

	choice, ok := completion.FirstChoice()
	require.True(t, ok)
	require.Equal(t, llm.FinishStop, choice.FinishReason)
	require.Equal(t, "Hi!", choice.Message.Content)
	require.Equal(t, 15, completion.Usage.TotalTokens)
}

func TestCompleteTranslatesToolUse(t *testing.T) {
	fake := &fakeMessages{response: &sdk.Message{
		StopReason: sdk.StopReasonToolUse,
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Let me check."},
			{Type: "tool_use", ID: "tc-9", Name: "fetch_news", Input: json.RawMessage(`{"keyword":"ai"}`)},
		},
	}}
	g, err := New(fake, Options{DefaultModel: "claude-sonnet-4-5"})
	require.NoError(t, err)

	completion, err := g.Complete(context.Background(), &llm.Config{
		Messages: llm.Messages{&llm.UserMessage{Content: "news"}},
		Tools: []llm.ToolSchema{{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionSchema{
				Name:        "fetch_news",
				Description: "Fetch news.",
				Parameters:  map[string]any{"type": "object"},
			},
		}},
	})
	require.NoError(t, err)

	require.Len(t, fake.params.Tools, 1)

	choice, ok := completion.FirstChoice()
	require.True(t, ok)
	require.Equal(t, llm.FinishToolCalls, choice.FinishReason)
	require.Len(t, choice.Message.ToolCalls, 1)
	require.Equal(t, "tc-9", choice.Message.ToolCalls[0].ID)
	require.JSONEq(t, `{"keyword":"ai"}`, choice.Message.ToolCalls[0].Function.Arguments)
}

func TestCompleteRequiresModel(t *testing.T) {
	g, err := New(&fakeMessages{}, Options{})
	require.NoError(t, err)
	_, err = g.Complete(context.Background(), &llm.Config{
		Messages: llm.Messages{&llm.UserMessage{Content: "hi"}},
	})
	require.Error(t, err)
}
