package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentexhq/agentex/runtime/errs"
	"github.com/agentexhq/agentex/runtime/kv"
)

// Repository persists whole AgentState documents through a kv.Store, one
// JSON document per task id. Load on an absent key returns an empty state;
// Save replaces the whole document.
type Repository struct {
	store kv.Store
}

// NewRepository returns a Repository over the given store.
func NewRepository(store kv.Store) (*Repository, error) {
	if store == nil {
		return nil, errors.New("kv store is required")
	}
	return &Repository{store: store}, nil
}

// Load returns the state for taskID, or a fresh empty state when none is
// stored. A document that fails to decode is a ServiceError.
func (r *Repository) Load(ctx context.Context, taskID string) (*AgentState, error) {
	data, err := r.store.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return NewAgentState(), nil
		}
		return nil, fmt.Errorf("load state for task %q: %w", taskID, err)
	}
	st := NewAgentState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, errs.ServiceWrap(err, "corrupt state document for task %q", taskID)
	}
	if st.Threads == nil {
		st.Threads = make(map[string]*Thread)
	}
	if st.Context == nil {
		st.Context = make(map[string]any)
	}
	return st, nil
}

// Save replaces the stored document for taskID.
func (r *Repository) Save(ctx context.Context, taskID string, st *AgentState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errs.ServiceWrap(err, "encode state for task %q", taskID)
	}
	if err := r.store.Set(ctx, taskID, data); err != nil {
		return fmt.Errorf("save state for task %q: %w", taskID, err)
	}
	return nil
}

// Delete removes the stored document for taskID.
func (r *Repository) Delete(ctx context.Context, taskID string) error {
	if err := r.store.Delete(ctx, taskID); err != nil {
		return fmt.Errorf("delete state for task %q: %w", taskID, err)
	}
	return nil
}
