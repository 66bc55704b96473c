// Package registry implements the action registry: the catalog of typed,
// named actions an agent may invoke during its decision loop. Each action
// declares its parameters explicitly; registration builds a JSON Schema for
// argument validation and a function-call schema advertised to the model.
// Handlers receive a reserved context carrying runtime-provided values
// (currently the task id) separate from model-provided arguments.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentexhq/agentex/runtime/errs"
	"github.com/agentexhq/agentex/runtime/llm"
	"github.com/agentexhq/agentex/runtime/state"
)

// ReservedKeyTaskID is the reserved context key carrying the task id.
// Actions may not declare parameters with reserved names.
const ReservedKeyTaskID = "task_id"

type (
	// Context carries the runtime-provided values passed to every handler
	// alongside the validated model arguments. Handlers that do not consume
	// it still receive it.
	Context struct {
		TaskID string `json:"task_id"`
	}

	// HandlerFunc is the action entry point. Args hold the validated
	// model-provided arguments decoded from JSON.
	HandlerFunc func(ctx context.Context, rc Context, args map[string]any) (*ActionResponse, error)

	// ActionResponse is the result of one action invocation. Message is the
	// JSON value relayed back to the model as the tool turn; Artifacts are
	// durable outputs the caller persists into the task context. Success is
	// the handler's own verdict: a handler reports a soft failure (for
	// example a duplicate artifact) by returning Success=false with a nil
	// error, which relays the failure to the model without failing the
	// activity.
	ActionResponse struct {
		Message   any              `json:"message"`
		Artifacts []state.Artifact `json:"artifacts,omitempty"`
		Success   bool             `json:"success"`
	}

	// Param declares one action parameter. Type and Description are
	// mandatory; registration rejects incomplete declarations.
	Param struct {
		Name        string
		Type        string
		Description string
		Required    bool
		// Enum restricts string or number parameters to fixed values.
		Enum []any
		// Items types the elements of an array parameter.
		Items *Param
	}

	// Action is one registrable action.
	Action struct {
		Name        string
		Description string
		Params      []Param
		Handler     HandlerFunc
	}

	// entry is a registered action with its compiled schemas.
	entry struct {
		action       Action
		argsSchema   map[string]any
		compiled     *jsonschema.Schema
		functionCall llm.ToolSchema
	}

	// Registry maps action names to registered entries. Multiple named
	// registries may serve one agent (for example writer and critic); the
	// take-action activity selects one by its registry key.
	Registry struct {
		mu      sync.RWMutex
		entries map[string]*entry
	}
)

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register validates and registers an action. It rejects actions without a
// handler, parameters lacking a type or description, parameters shadowing
// reserved context keys, and duplicate action names.
func (r *Registry) Register(action Action) error {
	if action.Name == "" {
		return errs.Clientf("action name is required")
	}
	if action.Description == "" {
		return errs.Clientf("action %q: description is required", action.Name)
	}
	if action.Handler == nil {
		return errs.Clientf("action %q: handler is required", action.Name)
	}
	for _, p := range action.Params {
		if err := validateParam(action.Name, p); err != nil {
			return err
		}
	}

	argsSchema := buildArgsSchema(action.Params)
	compiled, err := compileSchema(argsSchema)
	if err != nil {
		return errs.ServiceWrap(err, "action %q: compile argument schema", action.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[action.Name]; exists {
		return errs.Clientf("action %q is already registered", action.Name)
	}
	r.entries[action.Name] = &entry{
		action:     action,
		argsSchema: argsSchema,
		compiled:   compiled,
		functionCall: llm.ToolSchema{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionSchema{
				Name:        action.Name,
				Description: action.Description,
				Parameters:  argsSchema,
			},
		},
	}
	return nil
}

// MustRegister registers an action and panics on error. Intended for
// process-start wiring where a bad declaration is a programming error.
func (r *Registry) MustRegister(action Action) {
	if err := r.Register(action); err != nil {
		panic(err)
	}
}

// Names returns the registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArgsSchema returns the JSON Schema for the named action's arguments.
func (r *Registry) ArgsSchema(name string) (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, errs.Clientf("unknown action %q", name)
	}
	return e.argsSchema, nil
}

// FunctionCallSchemas returns the function-call schemas of all registered
// actions, sorted by name, in the shape advertised to the model.
func (r *Registry) FunctionCallSchemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]llm.ToolSchema, 0, len(r.entries))
	for _, e := range r.entries {
		schemas = append(schemas, e.functionCall)
	}
	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].Function.Name < schemas[j].Function.Name
	})
	return schemas
}

// Call validates args against the named action's schema and invokes its
// handler. Unknown actions and invalid arguments are ClientErrors. A handler
// error is returned twice: as an ActionResponse with Success=false carrying
// the error text, and as the error itself so the engine can apply its retry
// policy. On the no-error path the handler's response passes through
// untouched, Success included; a nil response means plain success.
func (r *Registry) Call(ctx context.Context, name string, rc Context, args map[string]any) (*ActionResponse, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.Clientf("unknown action %q", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := e.compiled.Validate(normalize(args)); err != nil {
		return nil, errs.ClientWrap(err, "invalid arguments for action %q", name)
	}

	resp, err := e.action.Handler(ctx, rc, args)
	if err != nil {
		return &ActionResponse{Message: err.Error(), Success: false}, err
	}
	if resp == nil {
		resp = &ActionResponse{Success: true}
	}
	return resp, nil
}

func validateParam(actionName string, p Param) error {
	if p.Name == "" {
		return errs.Clientf("action %q: parameter name is required", actionName)
	}
	if p.Name == ReservedKeyTaskID {
		return errs.Clientf("action %q: parameter %q shadows a reserved context key", actionName, p.Name)
	}
	if p.Type == "" {
		return errs.Clientf("action %q: parameter %q has no type", actionName, p.Name)
	}
	if p.Description == "" {
		return errs.Clientf("action %q: parameter %q has no description", actionName, p.Name)
	}
	if p.Items != nil && p.Items.Type == "" {
		return errs.Clientf("action %q: parameter %q has untyped array items", actionName, p.Name)
	}
	return nil
}

// buildArgsSchema produces a flat JSON Schema object mirroring the declared
// parameters. No references are emitted so the schema is self-contained.
func buildArgsSchema(params []Param) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string
	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Items != nil {
			prop["items"] = map[string]any{"type": p.Items.Type}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	sort.Strings(required)
	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(doc map[string]any) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", normalize(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile("schema.json")
}

// normalize round-trips a value through JSON semantics so the validator sees
// the types it expects (float64 numbers, []any arrays, map[string]any
// objects) regardless of how the value was constructed in Go.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
