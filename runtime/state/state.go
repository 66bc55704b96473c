// Package state implements the agent state service: durable, task-scoped
// conversation threads and a keyed context map with a dedicated artifact
// sub-map. State is persisted as one JSON document per task id through the
// kv.Store port; every mutation is a load, mutate, save cycle serialized per
// task id.
package state

import (
	"encoding/json"
	"fmt"

	"github.com/agentexhq/agentex/runtime/llm"
)

// ContextKeyArtifacts is the reserved context key holding the artifact map.
const ContextKeyArtifacts = "artifacts"

type (
	// Artifact is a named output produced by an action handler. Names are
	// unique within a task; Content is any JSON value.
	Artifact struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Content     any    `json:"content"`
	}

	// Thread is an ordered message sequence. Indices are stable references
	// for override, insert and delete.
	Thread struct {
		Messages llm.Messages `json:"messages"`
	}

	// AgentState is the whole per-task state document. Threads are created on
	// first touch; Context holds arbitrary keyed values plus the artifact map
	// under ContextKeyArtifacts.
	AgentState struct {
		Threads map[string]*Thread `json:"threads"`
		Context map[string]any     `json:"context"`
	}
)

// NewAgentState returns an empty state with allocated maps.
func NewAgentState() *AgentState {
	return &AgentState{
		Threads: make(map[string]*Thread),
		Context: make(map[string]any),
	}
}

// Thread returns the named thread, creating it on first touch.
func (s *AgentState) Thread(name string) *Thread {
	if s.Threads == nil {
		s.Threads = make(map[string]*Thread)
	}
	t, ok := s.Threads[name]
	if !ok {
		t = &Thread{}
		s.Threads[name] = t
	}
	return t
}

// Artifacts returns the artifact map from the context, creating it on first
// touch. A map decoded from JSON is coerced back into its typed form and
// written back so later mutations stick.
func (s *AgentState) Artifacts() (map[string]Artifact, error) {
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	raw, ok := s.Context[ContextKeyArtifacts]
	if !ok {
		artifacts := make(map[string]Artifact)
		s.Context[ContextKeyArtifacts] = artifacts
		return artifacts, nil
	}
	if artifacts, ok := raw.(map[string]Artifact); ok {
		return artifacts, nil
	}
	// The document came back from storage with artifacts decoded as plain
	// maps. Re-decode into the typed form.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode artifacts: %w", err)
	}
	artifacts := make(map[string]Artifact)
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	s.Context[ContextKeyArtifacts] = artifacts
	return artifacts, nil
}
