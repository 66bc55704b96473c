package state

import (
	"context"

	"github.com/agentexhq/agentex/runtime/errs"
)

// GetAllContext returns the whole context map for a task.
func (s *Service) GetAllContext(ctx context.Context, taskID string) (map[string]any, error) {
	st, err := s.repo.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return st.Context, nil
}

// GetValue returns the context value under key, or nil when absent.
func (s *Service) GetValue(ctx context.Context, taskID, key string) (any, error) {
	st, err := s.repo.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return st.Context[key], nil
}

// BatchGetValues returns one value per key, in key order, with nil entries
// for absent keys.
func (s *Service) BatchGetValues(ctx context.Context, taskID string, keys []string) ([]any, error) {
	st, err := s.repo.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(keys))
	for i, key := range keys {
		out[i] = st.Context[key]
	}
	return out, nil
}

// SetValue stores value under key in the task's context.
func (s *Service) SetValue(ctx context.Context, taskID, key string, value any) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		st.Context[key] = value
		return nil
	})
}

// BatchSetValues stores every entry of values in the task's context.
func (s *Service) BatchSetValues(ctx context.Context, taskID string, values map[string]any) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		for key, value := range values {
			st.Context[key] = value
		}
		return nil
	})
}

// DeleteValue removes key from the task's context. Absent keys are a silent
// no-op.
func (s *Service) DeleteValue(ctx context.Context, taskID, key string) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		delete(st.Context, key)
		return nil
	})
}

// BatchDeleteValues removes every key from the task's context.
func (s *Service) BatchDeleteValues(ctx context.Context, taskID string, keys []string) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		for _, key := range keys {
			delete(st.Context, key)
		}
		return nil
	})
}

// DeleteAllContext empties the task's context map, artifacts included.
func (s *Service) DeleteAllContext(ctx context.Context, taskID string) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		st.Context = make(map[string]any)
		return nil
	})
}

// GetArtifact returns the named artifact, or nil when absent.
func (s *Service) GetArtifact(ctx context.Context, taskID, name string) (*Artifact, error) {
	st, err := s.repo.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	artifacts, err := st.Artifacts()
	if err != nil {
		return nil, err
	}
	a, ok := artifacts[name]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// GetArtifacts returns the task's artifact map keyed by name.
func (s *Service) GetArtifacts(ctx context.Context, taskID string) (map[string]Artifact, error) {
	st, err := s.repo.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return st.Artifacts()
}

// SetArtifact stores an artifact under its name. Setting a name that already
// exists without overwrite is a ClientError and leaves the state untouched.
func (s *Service) SetArtifact(ctx context.Context, taskID string, artifact Artifact, overwrite bool) error {
	if artifact.Name == "" {
		return errs.Clientf("artifact name is required")
	}
	return s.update(ctx, taskID, func(st *AgentState) error {
		artifacts, err := st.Artifacts()
		if err != nil {
			return err
		}
		if _, exists := artifacts[artifact.Name]; exists && !overwrite {
			return errs.Clientf("artifact %q already exists for task %q", artifact.Name, taskID)
		}
		artifacts[artifact.Name] = artifact
		return nil
	})
}

// BatchSetArtifacts stores several artifacts. Any duplicate without overwrite
// fails the whole batch with a ClientError before anything is stored.
func (s *Service) BatchSetArtifacts(ctx context.Context, taskID string, incoming []Artifact, overwrite bool) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		artifacts, err := st.Artifacts()
		if err != nil {
			return err
		}
		for _, a := range incoming {
			if a.Name == "" {
				return errs.Clientf("artifact name is required")
			}
			if _, exists := artifacts[a.Name]; exists && !overwrite {
				return errs.Clientf("artifact %q already exists for task %q", a.Name, taskID)
			}
		}
		for _, a := range incoming {
			artifacts[a.Name] = a
		}
		return nil
	})
}

// DeleteArtifact removes the named artifact. Absent names are a silent no-op.
func (s *Service) DeleteArtifact(ctx context.Context, taskID, name string) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		artifacts, err := st.Artifacts()
		if err != nil {
			return err
		}
		delete(artifacts, name)
		return nil
	})
}

// BatchDeleteArtifacts removes every named artifact.
func (s *Service) BatchDeleteArtifacts(ctx context.Context, taskID string, names []string) error {
	return s.update(ctx, taskID, func(st *AgentState) error {
		artifacts, err := st.Artifacts()
		if err != nil {
			return err
		}
		for _, name := range names {
			delete(artifacts, name)
		}
		return nil
	})
}
