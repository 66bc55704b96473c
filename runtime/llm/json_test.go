package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessagesRoundTripPreservesRoles(t *testing.T) {
	in := Messages{
		&SystemMessage{Content: "You are a helpful agent."},
		&UserMessage{Content: "Say hi"},
		&AssistantMessage{
			Content: "Fetching news now.",
			ToolCalls: []ToolCallRequest{{
				ID:       "call-a",
				Type:     ToolTypeFunction,
				Function: ToolCall{Name: "fetch_news", Arguments: `{"keyword":"AI"}`},
			}},
		},
		&ToolMessage{Content: ToolContent{Text: "3 articles"}, ToolCallID: "call-a", Name: "fetch_news"},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Messages
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestMessageWireCarriesRoleDiscriminator(t *testing.T) {
	data, err := json.Marshal(Message(&AssistantMessage{Content: "Hi!"}))
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	require.Equal(t, "assistant", wire["role"])
}

func TestUnmarshalMessageRejectsUnknownRole(t *testing.T) {
	_, err := UnmarshalMessage([]byte(`{"role":"moderator","content":"x"}`))
	require.Error(t, err)
}

func TestToolContentStringOrParts(t *testing.T) {
	var c ToolContent
	require.NoError(t, json.Unmarshal([]byte(`"plain result"`), &c))
	require.Equal(t, "plain result", c.String())

	require.NoError(t, json.Unmarshal([]byte(`[{"type":"text","text":"part one"},{"type":"image_url","image_url":{"url":"https://img"}}]`), &c))
	require.Equal(t, "part onehttps://img", c.String())

	data, err := json.Marshal(ToolContent{Text: "ok"})
	require.NoError(t, err)
	require.JSONEq(t, `"ok"`, string(data))
}

func TestFinishReasonTerminal(t *testing.T) {
	require.True(t, FinishStop.Terminal())
	require.True(t, FinishLength.Terminal())
	require.True(t, FinishContentFilter.Terminal())
	require.False(t, FinishToolCalls.Terminal())
}

func TestLastUserMessage(t *testing.T) {
	msgs := Messages{
		&UserMessage{Content: "first"},
		&AssistantMessage{Content: "a"},
		&UserMessage{Content: "second"},
		&ToolMessage{Content: ToolContent{Text: "r"}, ToolCallID: "1", Name: "t"},
	}
	require.Equal(t, "second", msgs.LastUserMessage().Content)
	require.Nil(t, Messages{}.LastUserMessage())
}
