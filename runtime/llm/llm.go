// Package llm defines the provider-agnostic chat completion types used by the
// agentex runtime: the role-discriminated message union, tool call requests,
// completions, and the Gateway port implemented by provider adapters
// (OpenAI, Anthropic). Adapters translate these normalized types into
// provider-specific formats.
package llm

import (
	"context"
	"encoding/json"
)

type (
	// Role discriminates the concrete message types within a thread.
	Role string

	// FinishReason is the model-reported reason a completion choice ended.
	FinishReason string

	// Message is the role-discriminated union of conversation turns. Concrete
	// types are *SystemMessage, *UserMessage, *AssistantMessage and
	// *ToolMessage. The JSON encoding carries the discriminator in the "role"
	// field.
	Message interface {
		MessageRole() Role
	}

	// SystemMessage carries agent instructions.
	SystemMessage struct {
		Content string `json:"content"`
	}

	// UserMessage carries a human prompt or instruction.
	UserMessage struct {
		Content string `json:"content"`
	}

	// ToolCall names a function and carries its arguments as JSON text. The
	// model does not always generate valid JSON; callers validate the
	// arguments before invoking the function.
	ToolCall struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}

	// ToolCallRequest is one function invocation requested by the model.
	ToolCallRequest struct {
		ID       string   `json:"id"`
		Type     string   `json:"type"`
		Function ToolCall `json:"function"`
	}

	// AssistantMessage is a model turn. Content may be empty on the wire when
	// the model only requests tool calls; the decide activity backfills an
	// explanation before the message is persisted. Parsed holds the typed
	// value decoded from Content when the request declared a response format.
	AssistantMessage struct {
		Content   string            `json:"content,omitempty"`
		ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
		Parsed    any               `json:"parsed,omitempty"`
	}

	// ImageURL points at image content, either a URL or base64-encoded data.
	ImageURL struct {
		URL    string `json:"url"`
		Detail string `json:"detail,omitempty"`
	}

	// ContentPart is one element of structured tool message content.
	ContentPart struct {
		Type     string    `json:"type"`
		Text     string    `json:"text,omitempty"`
		ImageURL *ImageURL `json:"image_url,omitempty"`
	}

	// ToolContent is tool message content that encodes as either a bare JSON
	// string or an array of content parts, matching the chat completion wire
	// format.
	ToolContent struct {
		Text  string
		Parts []ContentPart
	}

	// ToolMessage is the result of one tool call, keyed back to the request
	// by ToolCallID.
	ToolMessage struct {
		Content    ToolContent `json:"content"`
		ToolCallID string      `json:"tool_call_id"`
		Name       string      `json:"name"`
	}

	// Messages is an ordered message sequence with union-aware JSON decoding.
	Messages []Message

	// Choice is one completion alternative.
	Choice struct {
		FinishReason FinishReason      `json:"finish_reason"`
		Index        int               `json:"index"`
		Message      *AssistantMessage `json:"message"`
	}

	// Usage reports token accounting for a completion.
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	// Completion is the normalized chat completion response.
	Completion struct {
		Choices []Choice `json:"choices"`
		Created int64    `json:"created,omitempty"`
		Model   string   `json:"model,omitempty"`
		Usage   Usage    `json:"usage"`
	}

	// FunctionSchema describes one callable function for the model.
	FunctionSchema struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters"`
	}

	// ToolSchema is the function-call schema advertised to the model.
	ToolSchema struct {
		Type     string         `json:"type"`
		Function FunctionSchema `json:"function"`
	}

	// ResponseFormat requests structured output. When Schema is set the
	// gateway parses the first choice's content into AssistantMessage.Parsed.
	ResponseFormat struct {
		Type   string          `json:"type"`
		Schema json.RawMessage `json:"json_schema,omitempty"`
	}

	// Config is the normalized completion request. Fields map to common
	// provider parameters; adapters document unsupported fields and either
	// ignore them or return errors.
	Config struct {
		Model             string          `json:"model"`
		Messages          Messages        `json:"messages"`
		Temperature       *float32        `json:"temperature,omitempty"`
		TopP              *float32        `json:"top_p,omitempty"`
		N                 *int            `json:"n,omitempty"`
		Stream            bool            `json:"stream,omitempty"`
		Stop              []string        `json:"stop,omitempty"`
		MaxTokens         int             `json:"max_tokens,omitempty"`
		ResponseFormat    *ResponseFormat `json:"response_format,omitempty"`
		Seed              *int            `json:"seed,omitempty"`
		Tools             []ToolSchema    `json:"tools,omitempty"`
		ToolChoice        string          `json:"tool_choice,omitempty"`
		ParallelToolCalls *bool           `json:"parallel_tool_calls,omitempty"`
		Logprobs          *bool           `json:"logprobs,omitempty"`
		TopLogprobs       *int            `json:"top_logprobs,omitempty"`
	}

	// Gateway is the completion port implemented by provider adapters.
	// Backend failures surface as errors; adapters never return a silent
	// empty completion.
	Gateway interface {
		Complete(ctx context.Context, cfg *Config) (*Completion, error)
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
)

// ToolTypeFunction is the only tool call type currently defined.
const ToolTypeFunction = "function"

// Terminal reports whether the finish reason ends the action loop.
// A tool_calls finish continues the loop; stop, length and content_filter
// terminate it.
func (r FinishReason) Terminal() bool {
	switch r {
	case FinishStop, FinishLength, FinishContentFilter:
		return true
	default:
		return false
	}
}

// MessageRole implements Message.
func (*SystemMessage) MessageRole() Role { return RoleSystem }

// MessageRole implements Message.
func (*UserMessage) MessageRole() Role { return RoleUser }

// MessageRole implements Message.
func (*AssistantMessage) MessageRole() Role { return RoleAssistant }

// MessageRole implements Message.
func (*ToolMessage) MessageRole() Role { return RoleTool }

// String renders tool content as plain text. Structured parts are joined in
// order; image parts contribute their URL.
func (c ToolContent) String() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Text != "" {
			out += p.Text
			continue
		}
		if p.ImageURL != nil {
			out += p.ImageURL.URL
		}
	}
	return out
}

// FirstChoice returns the completion's first choice. It returns false when
// the completion has no choices or the choice carries no message.
func (c *Completion) FirstChoice() (*Choice, bool) {
	if c == nil || len(c.Choices) == 0 || c.Choices[0].Message == nil {
		return nil, false
	}
	return &c.Choices[0], true
}

// LastUserMessage returns the most recent user message, or nil.
func (m Messages) LastUserMessage() *UserMessage {
	for i := len(m) - 1; i >= 0; i-- {
		if u, ok := m[i].(*UserMessage); ok {
			return u
		}
	}
	return nil
}
