// Package anthropic implements the llm.Gateway port on the Anthropic Claude
// Messages API using github.com/anthropics/anthropic-sdk-go. It translates
// the runtime's normalized messages into Messages.New calls and maps content
// blocks, tool use and stop reasons back.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentexhq/agentex/runtime/llm"
)

// DefaultMaxTokens caps completions when neither the request nor the options
// specify a limit. The Messages API requires an explicit cap.
const DefaultMaxTokens = 4096

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// gateway. Satisfied by *sdk.MessageService.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	}

	// Options configures the Anthropic gateway.
	Options struct {
		// DefaultModel is used when the request does not name a model.
		DefaultModel string

		// MaxTokens is the default completion cap. Zero uses DefaultMaxTokens.
		MaxTokens int
	}

	// Gateway implements llm.Gateway on Claude Messages.
	Gateway struct {
		msg          MessagesClient
		defaultModel string
		maxTokens    int
	}
)

// New builds an Anthropic-backed gateway.
func New(msg MessagesClient, opts Options) (*Gateway, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Gateway{msg: msg, defaultModel: opts.DefaultModel, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a gateway using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Gateway, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete implements llm.Gateway.
func (g *Gateway) Complete(ctx context.Context, cfg *llm.Config) (*llm.Completion, error) {
	if len(cfg.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := cfg.Model
	if modelID == "" {
		modelID = g.defaultModel
	}
	if modelID == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}

	conversation, system, err := encodeMessages(cfg.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  conversation,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if tools, err := encodeTools(cfg.Tools); err != nil {
		return nil, err
	} else if len(tools) > 0 {
		params.Tools = tools
	}
	if cfg.Temperature != nil {
		params.Temperature = sdk.Float(float64(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		params.TopP = sdk.Float(float64(*cfg.TopP))
	}
	if len(cfg.Stop) > 0 {
		params.StopSequences = cfg.Stop
	}

	msg, err := g.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg)
}

func encodeMessages(messages llm.Messages) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(messages))
	system := make([]sdk.TextBlockParam, 0, 1)
	for _, m := range messages {
		switch msg := m.(type) {
		case *llm.SystemMessage:
			if msg.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: msg.Content})
			}
		case *llm.UserMessage:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		case *llm.AssistantMessage:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, decodeArguments(tc.Function.Arguments), tc.Function.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		case *llm.ToolMessage:
			conversation = append(conversation, sdk.NewUserMessage(
				sdk.NewToolResultBlock(msg.ToolCallID, msg.Content.String(), false)))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message type %T", m)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

// decodeArguments parses the model-produced JSON argument text. Invalid JSON
// is wrapped so the original text survives the round trip.
func decodeArguments(raw string) any {
	if raw == "" {
		return map[string]any{}
	}
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return map[string]any{"raw": raw}
	}
	return payload
}

func encodeTools(schemas []llm.ToolSchema) ([]sdk.ToolUnionParam, error) {
	if len(schemas) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		if s.Function.Name == "" {
			return nil, errors.New("anthropic: tool schema is missing a name")
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			ExtraFields: s.Function.Parameters,
		}, s.Function.Name)
		if u.OfTool != nil && s.Function.Description != "" {
			u.OfTool.Description = sdk.String(s.Function.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateResponse(msg *sdk.Message) (*llm.Completion, error) {
	if msg == nil {
		return nil, errors.New("anthropic: response message is nil")
	}
	assistant := &llm.AssistantMessage{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			assistant.Content += block.Text
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: encode tool input: %w", err)
			}
			assistant.ToolCalls = append(assistant.ToolCalls, llm.ToolCallRequest{
				ID:   block.ID,
				Type: llm.ToolTypeFunction,
				Function: llm.ToolCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}
	return &llm.Completion{
		Model: string(msg.Model),
		Choices: []llm.Choice{{
			FinishReason: translateStopReason(msg.StopReason),
			Message:      assistant,
		}},
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

func translateStopReason(reason sdk.StopReason) llm.FinishReason {
	switch reason {
	case sdk.StopReasonEndTurn, sdk.StopReasonStopSequence:
		return llm.FinishStop
	case sdk.StopReasonMaxTokens:
		return llm.FinishLength
	case sdk.StopReasonToolUse:
		return llm.FinishToolCalls
	case sdk.StopReasonRefusal:
		return llm.FinishContentFilter
	default:
		return llm.FinishReason(reason)
	}
}
