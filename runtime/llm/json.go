package llm

import (
	"encoding/json"
	"fmt"
)

// The wire format tags every message with a "role" discriminator. Encoding is
// implemented per concrete type so the discriminator is always emitted;
// decoding goes through UnmarshalMessage which dispatches on the role.

type (
	systemWire struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	}

	userWire struct {
		Role    Role   `json:"role"`
		Content string `json:"content"`
	}

	assistantWire struct {
		Role      Role              `json:"role"`
		Content   string            `json:"content,omitempty"`
		ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
		Parsed    any               `json:"parsed,omitempty"`
	}

	toolWire struct {
		Role       Role        `json:"role"`
		Content    ToolContent `json:"content"`
		ToolCallID string      `json:"tool_call_id"`
		Name       string      `json:"name"`
	}
)

// MarshalJSON emits the role discriminator alongside the content.
func (m *SystemMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(systemWire{Role: RoleSystem, Content: m.Content})
}

// MarshalJSON emits the role discriminator alongside the content.
func (m *UserMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(userWire{Role: RoleUser, Content: m.Content})
}

// MarshalJSON emits the role discriminator alongside content and tool calls.
func (m *AssistantMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(assistantWire{
		Role:      RoleAssistant,
		Content:   m.Content,
		ToolCalls: m.ToolCalls,
		Parsed:    m.Parsed,
	})
}

// MarshalJSON emits the role discriminator alongside the tool result fields.
func (m *ToolMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(toolWire{
		Role:       RoleTool,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	})
}

// MarshalJSON encodes bare text as a JSON string and structured content as an
// array of parts, matching the chat completion wire format.
func (c ToolContent) MarshalJSON() ([]byte, error) {
	if len(c.Parts) > 0 {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either a JSON string or an array of content parts.
func (c *ToolContent) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.Parts = nil
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("decode tool content: %w", err)
	}
	c.Text = ""
	c.Parts = parts
	return nil
}

// UnmarshalMessage decodes one message from its wire form, dispatching on the
// role discriminator.
func UnmarshalMessage(data []byte) (Message, error) {
	var probe struct {
		Role Role `json:"role"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode message role: %w", err)
	}
	switch probe.Role {
	case RoleSystem:
		var w systemWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode system message: %w", err)
		}
		return &SystemMessage{Content: w.Content}, nil
	case RoleUser:
		var w userWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode user message: %w", err)
		}
		return &UserMessage{Content: w.Content}, nil
	case RoleAssistant:
		var w assistantWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode assistant message: %w", err)
		}
		return &AssistantMessage{Content: w.Content, ToolCalls: w.ToolCalls, Parsed: w.Parsed}, nil
	case RoleTool:
		var w toolWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode tool message: %w", err)
		}
		return &ToolMessage{Content: w.Content, ToolCallID: w.ToolCallID, Name: w.Name}, nil
	default:
		return nil, fmt.Errorf("unknown message role %q", probe.Role)
	}
}

// UnmarshalJSON decodes a sequence of role-discriminated messages.
func (m *Messages) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	if raws == nil {
		*m = nil
		return nil
	}
	out := make(Messages, 0, len(raws))
	for i, raw := range raws {
		msg, err := UnmarshalMessage(raw)
		if err != nil {
			return fmt.Errorf("decode messages[%d]: %w", i, err)
		}
		out = append(out, msg)
	}
	*m = out
	return nil
}
