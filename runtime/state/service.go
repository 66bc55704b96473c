package state

import (
	"context"
	"errors"
	"sync"

	"github.com/agentexhq/agentex/runtime/llm"
	"github.com/agentexhq/agentex/runtime/telemetry"
)

type (
	// Options configures the state service.
	Options struct {
		// Repository persists agent states. Required.
		Repository *Repository
		// Logger defaults to the no-op logger.
		Logger telemetry.Logger
	}

	// Service exposes thread and context operations over persisted agent
	// states. Each mutation is a load, mutate, save cycle; cycles for the
	// same task id are serialized with a per-task lock so parallel tool
	// activities in the same process do not lose writes. Cycles across
	// processes are not atomic; callers sequence conflicting mutations
	// through workflow activities.
	Service struct {
		repo   *Repository
		logger telemetry.Logger

		mu    sync.Mutex
		locks map[string]*sync.Mutex
	}

	// IndexedMessage pairs an insertion index with a message. Batch inserts
	// take an ordered slice so the caller controls resolution order against
	// the evolving list.
	IndexedMessage struct {
		Index   int         `json:"index"`
		Message llm.Message `json:"message"`
	}
)

// New constructs the state service.
func New(opts Options) (*Service, error) {
	if opts.Repository == nil {
		return nil, errors.New("repository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Service{
		repo:   opts.Repository,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// taskLock returns the mutex serializing mutations for taskID. Locks are
// never reclaimed; the per-task footprint is one mutex.
func (s *Service) taskLock(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[taskID] = lock
	}
	return lock
}

// update runs one serialized load-mutate-save cycle for taskID.
func (s *Service) update(ctx context.Context, taskID string, mutate func(*AgentState) error) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	st, err := s.repo.Load(ctx, taskID)
	if err != nil {
		return err
	}
	if err := mutate(st); err != nil {
		return err
	}
	return s.repo.Save(ctx, taskID, st)
}

// DeleteState removes the whole state document for a task.
func (s *Service) DeleteState(ctx context.Context, taskID string) error {
	lock := s.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()
	return s.repo.Delete(ctx, taskID)
}

// GetMessages returns the messages of the named thread. An untouched thread
// yields an empty list.
func (s *Service) GetMessages(ctx context.Context, taskID, threadName string) (llm.Messages, error) {
	st, err := s.repo.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	thread, ok := st.Threads[threadName]
	if !ok {
		return nil, nil
	}
	return thread.Messages, nil
}

// GetMessageByIndex returns the message at index i, or nil when i is out of
// range.
func (s *Service) GetMessageByIndex(ctx context.Context, taskID, threadName string, i int) (llm.Message, error) {
	msgs, err := s.GetMessages(ctx, taskID, threadName)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(msgs) {
		return nil, nil
	}
	return msgs[i], nil
}

// BatchGetMessagesByIndices returns one message per requested index, with nil
// entries for out-of-range indices.
func (s *Service) BatchGetMessagesByIndices(ctx context.Context, taskID, threadName string, indices []int) ([]llm.Message, error) {
	msgs, err := s.GetMessages(ctx, taskID, threadName)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, len(indices))
	for n, i := range indices {
		if i < 0 || i >= len(msgs) {
			continue
		}
		out[n] = msgs[i]
	}
	return out, nil
}

// AppendMessages appends messages to the named thread, creating the thread on
// first touch, and returns the thread's messages after the append.
func (s *Service) AppendMessages(ctx context.Context, taskID, threadName string, messages ...llm.Message) (llm.Messages, error) {
	var out llm.Messages
	err := s.update(ctx, taskID, func(st *AgentState) error {
		thread := st.Thread(threadName)
		thread.Messages = append(thread.Messages, messages...)
		out = thread.Messages
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OverrideMessage replaces the message at index i. Out-of-range indices are a
// silent no-op.
func (s *Service) OverrideMessage(ctx context.Context, taskID, threadName string, i int, m llm.Message) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		thread := st.Thread(threadName)
		if i < 0 || i >= len(thread.Messages) {
			return nil
		}
		thread.Messages[i] = m
		return nil
	})
}

// BatchOverrideMessages replaces messages at the given indices. Out-of-range
// indices are silent no-ops.
func (s *Service) BatchOverrideMessages(ctx context.Context, taskID, threadName string, overrides map[int]llm.Message) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		thread := st.Thread(threadName)
		for i, m := range overrides {
			if i < 0 || i >= len(thread.Messages) {
				continue
			}
			thread.Messages[i] = m
		}
		return nil
	})
}

// InsertMessage inserts m before index i. Indices past the end append;
// negative indices insert at the front.
func (s *Service) InsertMessage(ctx context.Context, taskID, threadName string, i int, m llm.Message) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		thread := st.Thread(threadName)
		thread.Messages = insertAt(thread.Messages, i, m)
		return nil
	})
}

// BatchInsertMessages applies inserts in slice order against the evolving
// list: each insert sees the effect of the previous ones.
func (s *Service) BatchInsertMessages(ctx context.Context, taskID, threadName string, inserts []IndexedMessage) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		thread := st.Thread(threadName)
		for _, in := range inserts {
			thread.Messages = insertAt(thread.Messages, in.Index, in.Message)
		}
		return nil
	})
}

// DeleteMessage removes the message at index i. Out-of-range indices are a
// silent no-op.
func (s *Service) DeleteMessage(ctx context.Context, taskID, threadName string, i int) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		thread := st.Thread(threadName)
		if i < 0 || i >= len(thread.Messages) {
			return nil
		}
		thread.Messages = append(thread.Messages[:i], thread.Messages[i+1:]...)
		return nil
	})
}

// DeleteAllMessages empties the named thread but keeps it.
func (s *Service) DeleteAllMessages(ctx context.Context, taskID, threadName string) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		st.Thread(threadName).Messages = nil
		return nil
	})
}

// DeleteThread removes the named thread entirely.
func (s *Service) DeleteThread(ctx context.Context, taskID, threadName string) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		delete(st.Threads, threadName)
		return nil
	})
}

// AppendOrReplaceToolMessage appends a tool message, or replaces the existing
// tool message with the same tool_call_id when the engine retried the
// activity. The thread ends up with exactly one tool turn per tool call.
func (s *Service) AppendOrReplaceToolMessage(ctx context.Context, taskID, threadName string, m *llm.ToolMessage) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		thread := st.Thread(threadName)
		for i := len(thread.Messages) - 1; i >= 0; i-- {
			if tm, ok := thread.Messages[i].(*llm.ToolMessage); ok && tm.ToolCallID == m.ToolCallID {
				thread.Messages[i] = m
				return nil
			}
		}
		thread.Messages = append(thread.Messages, m)
		return nil
	})
}

func insertAt(msgs llm.Messages, i int, m llm.Message) llm.Messages {
	if i < 0 {
		i = 0
	}
	if i > len(msgs) {
		i = len(msgs)
	}
	msgs = append(msgs, nil)
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	return msgs
}
