// Package openai implements the llm.Gateway port on the OpenAI Chat
// Completions API using github.com/sashabaranov/go-openai. It translates the
// runtime's normalized messages and tool schemas into ChatCompletion calls
// and maps responses back.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentexhq/agentex/runtime/llm"
)

// ChatClient captures the subset of the go-openai client used by the gateway.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

// Options configures the OpenAI gateway.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Gateway implements llm.Gateway via the OpenAI Chat Completions API.
type Gateway struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed gateway from the provided options.
func New(opts Options) (*Gateway, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	return &Gateway{chat: opts.Client, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a gateway using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Gateway, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey), DefaultModel: defaultModel})
}

// Complete implements llm.Gateway.
func (g *Gateway) Complete(ctx context.Context, cfg *llm.Config) (*llm.Completion, error) {
	if len(cfg.Messages) == 0 {
		return nil, errors.New("messages are required")
	}
	modelID := cfg.Model
	if modelID == "" {
		modelID = g.model
	}
	if modelID == "" {
		return nil, errors.New("model is required")
	}

	messages, err := encodeMessages(cfg.Messages)
	if err != nil {
		return nil, err
	}
	request := openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: messages,
		Stop:     cfg.Stop,
		Tools:    encodeTools(cfg.Tools),
	}
	if cfg.Temperature != nil {
		request.Temperature = *cfg.Temperature
	}
	if cfg.TopP != nil {
		request.TopP = *cfg.TopP
	}
	if cfg.N != nil {
		request.N = *cfg.N
	}
	if cfg.MaxTokens > 0 {
		request.MaxTokens = cfg.MaxTokens
	}
	if cfg.Seed != nil {
		request.Seed = cfg.Seed
	}
	if cfg.ToolChoice != "" {
		request.ToolChoice = cfg.ToolChoice
	}
	if cfg.Logprobs != nil {
		request.LogProbs = *cfg.Logprobs
	}
	if cfg.TopLogprobs != nil {
		request.TopLogProbs = *cfg.TopLogprobs
	}
	if cfg.ResponseFormat != nil {
		format, err := encodeResponseFormat(cfg.ResponseFormat)
		if err != nil {
			return nil, err
		}
		request.ResponseFormat = format
	}

	response, err := g.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	completion := translateResponse(response)
	if cfg.ResponseFormat != nil && len(cfg.ResponseFormat.Schema) > 0 {
		parseStructured(completion)
	}
	return completion, nil
}

func encodeMessages(messages llm.Messages) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		switch msg := m.(type) {
		case *llm.SystemMessage:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		case *llm.UserMessage:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case *llm.AssistantMessage:
			out = append(out, openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   msg.Content,
				ToolCalls: encodeToolCalls(msg.ToolCalls),
			})
		case *llm.ToolMessage:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content.String(),
				Name:       msg.Name,
				ToolCallID: msg.ToolCallID,
			})
		default:
			return nil, fmt.Errorf("openai: unsupported message type %T", m)
		}
	}
	return out, nil
}

func encodeToolCalls(calls []llm.ToolCallRequest) []openai.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]openai.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func encodeTools(schemas []llm.ToolSchema) []openai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Function.Name,
				Description: s.Function.Description,
				Parameters:  s.Function.Parameters,
			},
		})
	}
	return out
}

func encodeResponseFormat(rf *llm.ResponseFormat) (*openai.ChatCompletionResponseFormat, error) {
	if len(rf.Schema) == 0 {
		return &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}, nil
	}
	var schema struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rf.Schema, &schema); err != nil {
		return nil, fmt.Errorf("openai: decode response format schema: %w", err)
	}
	if schema.Name == "" {
		schema.Name = "response"
	}
	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   schema.Name,
			Schema: rf.Schema,
			Strict: true,
		},
	}, nil
}

func translateResponse(resp openai.ChatCompletionResponse) *llm.Completion {
	choices := make([]llm.Choice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		assistant := &llm.AssistantMessage{Content: c.Message.Content}
		for _, tc := range c.Message.ToolCalls {
			assistant.ToolCalls = append(assistant.ToolCalls, llm.ToolCallRequest{
				ID:   tc.ID,
				Type: llm.ToolTypeFunction,
				Function: llm.ToolCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		choices = append(choices, llm.Choice{
			FinishReason: llm.FinishReason(c.FinishReason),
			Index:        c.Index,
			Message:      assistant,
		})
	}
	return &llm.Completion{
		Choices: choices,
		Created: resp.Created,
		Model:   resp.Model,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

// parseStructured decodes the first choice's content into the Parsed field.
// Invalid JSON leaves Parsed nil; callers validate against their own types.
func parseStructured(completion *llm.Completion) {
	choice, ok := completion.FirstChoice()
	if !ok || choice.Message.Content == "" {
		return
	}
	var parsed any
	if err := json.Unmarshal([]byte(choice.Message.Content), &parsed); err == nil {
		choice.Message.Parsed = parsed
	}
}
