// Package notify defines the notification port used by workflows to reach
// humans: approval prompts and completion notices. The wire shape follows the
// ntfy publish document; the ntfy adapter lives in features/notify/ntfy.
package notify

import "context"

type (
	// Action is an interactive button attached to a notification.
	Action struct {
		Action  string            `json:"action"`
		Label   string            `json:"label"`
		URL     string            `json:"url,omitempty"`
		Method  string            `json:"method,omitempty"`
		Headers map[string]string `json:"headers,omitempty"`
		Body    string            `json:"body,omitempty"`
		Clear   bool              `json:"clear,omitempty"`
	}

	// Request is one notification. Topic is the only required field; for
	// task notifications the topic is the agent name.
	Request struct {
		Topic    string   `json:"topic"`
		Title    string   `json:"title,omitempty"`
		Message  string   `json:"message,omitempty"`
		Tags     []string `json:"tags,omitempty"`
		Priority int      `json:"priority,omitempty"`
		Click    string   `json:"click,omitempty"`
		Attach   string   `json:"attach,omitempty"`
		Filename string   `json:"filename,omitempty"`
		Icon     string   `json:"icon,omitempty"`
		Actions  []Action `json:"actions,omitempty"`
		Delay    string   `json:"delay,omitempty"`
		Email    string   `json:"email,omitempty"`
		Call     string   `json:"call,omitempty"`
		Markdown bool     `json:"markdown,omitempty"`
	}

	// Sender delivers notifications. Implementations must treat delivery as
	// best effort; callers decide whether a failure aborts the workflow.
	Sender interface {
		Send(ctx context.Context, req Request) error
	}

	// NopSender discards notifications. Used by tests and by deployments
	// without a notification backend.
	NopSender struct{}
)

// Send implements Sender.
func (NopSender) Send(context.Context, Request) error { return nil }
