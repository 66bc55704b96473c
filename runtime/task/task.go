// Package task defines the task and agent entities shared by the workflow
// runtime and the worker host. A task is one user-submitted unit of work bound
// to an agent; its id doubles as the workflow instance id on the durable
// engine.
package task

type (
	// Status is the lifecycle state of a task. A task starts RUNNING when its
	// workflow is accepted and ends in exactly one terminal state.
	Status string

	// AgentStatus reflects the hosting control plane's view of an agent
	// deployment.
	AgentStatus string

	// Task is a user-submitted unit of work. ID is the workflow instance id.
	Task struct {
		ID           string `json:"id"`
		AgentID      string `json:"agent_id"`
		Prompt       string `json:"prompt"`
		Status       Status `json:"status,omitempty"`
		StatusReason string `json:"status_reason,omitempty"`
	}

	// Agent is the identity and routing metadata a task executes under.
	// Name doubles as the notification topic. Immutable for the lifetime of
	// a task.
	Agent struct {
		ID                string      `json:"id"`
		Name              string      `json:"name"`
		Description       string      `json:"description"`
		Status            AgentStatus `json:"status,omitempty"`
		StatusReason      string      `json:"status_reason,omitempty"`
		WorkflowName      string      `json:"workflow_name"`
		WorkflowQueueName string      `json:"workflow_queue_name"`
	}
)

const (
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusCanceled   Status = "CANCELED"
	StatusFailed     Status = "FAILED"
	StatusTerminated Status = "TERMINATED"
	StatusTimedOut   Status = "TIMED_OUT"
)

const (
	AgentStatusPending  AgentStatus = "Pending"
	AgentStatusBuilding AgentStatus = "Building"
	AgentStatusReady    AgentStatus = "Ready"
	AgentStatusFailed   AgentStatus = "Failed"
	AgentStatusUnknown  AgentStatus = "Unknown"
)

// Terminal reports whether the status is a terminal lifecycle state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusFailed, StatusTerminated, StatusTimedOut:
		return true
	default:
		return false
	}
}
