// Package newsagent is a complete example agent: it fetches headlines for a
// keyword, summarizes the companies involved, and writes a final summary
// artifact. It demonstrates action registration with JSON-schema parameters,
// artifact production, and the approval loop.
package newsagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentexhq/agentex/runtime/registry"
	"github.com/agentexhq/agentex/runtime/state"
	"github.com/agentexhq/agentex/runtime/workflow"
)

// Instructions is the system prompt seeded into the root thread.
const Instructions = "You are a news analyst. Use fetch_news to gather " +
	"headlines, summarize_companies to profile the companies mentioned, and " +
	"write_summary to record your final report. Always finish by writing a " +
	"summary."

// RegistryKey is the action registry key the workflow binds to.
const RegistryKey = "newsagent"

// Sample headlines keyed by keyword. A production agent would call a news
// API here; the example stays self-contained and deterministic.
var headlines = map[string][]string{
	"go": {
		"Go 1.25 released with faster linker",
		"Temporal adopts Go generics across its SDK",
	},
	"ai": {
		"Anthropic ships new developer tooling",
		"OpenAI updates function calling guidance",
	},
}

// NewRegistry builds the news agent's action registry.
func NewRegistry() (*registry.Registry, error) {
	reg := registry.New()
	if err := reg.Register(registry.Action{
		Name:        "fetch_news",
		Description: "Fetch recent headlines for a keyword and store them as an artifact.",
		Params: []registry.Param{
			{Name: "keyword", Type: "string", Description: "Topic to search headlines for.", Required: true},
		},
		Handler: fetchNews,
	}); err != nil {
		return nil, err
	}
	if err := reg.Register(registry.Action{
		Name:        "summarize_companies",
		Description: "Produce a short profile for each named company.",
		Params: []registry.Param{
			{
				Name:        "companies",
				Type:        "array",
				Description: "Company names mentioned in the headlines.",
				Items:       &registry.Param{Type: "string", Description: "Company name."},
				Required:    true,
			},
		},
		Handler: summarizeCompanies,
	}); err != nil {
		return nil, err
	}
	if err := reg.Register(registry.Action{
		Name:        "write_summary",
		Description: "Record the final report as the summary artifact.",
		Params: []registry.Param{
			{Name: "title", Type: "string", Description: "Report title.", Required: true},
			{Name: "body", Type: "string", Description: "Report body in Markdown.", Required: true},
		},
		Handler: writeSummary,
	}); err != nil {
		return nil, err
	}
	return reg, nil
}

// WorkflowConfig returns the workflow registration for the news agent.
func WorkflowConfig(model string) workflow.Config {
	return workflow.Config{
		Name:         "newsagent",
		TaskQueue:    "newsagent",
		Model:        model,
		RegistryKey:  RegistryKey,
		Instructions: Instructions,
	}
}

func fetchNews(_ context.Context, _ registry.Context, args map[string]any) (*registry.ActionResponse, error) {
	keyword := strings.ToLower(args["keyword"].(string))
	found, ok := headlines[keyword]
	if !ok {
		return &registry.ActionResponse{
			Message: fmt.Sprintf("no headlines found for %q", keyword),
			Success: false,
		}, nil
	}
	return &registry.ActionResponse{
		Message: fmt.Sprintf("found %d headlines for %q", len(found), keyword),
		Success: true,
		Artifacts: []state.Artifact{{
			Name:        "headlines_" + keyword,
			Description: fmt.Sprintf("Headlines for %q", keyword),
			Content:     found,
		}},
	}, nil
}

func summarizeCompanies(_ context.Context, _ registry.Context, args map[string]any) (*registry.ActionResponse, error) {
	raw := args["companies"].([]any)
	profiles := make(map[string]string, len(raw))
	for _, c := range raw {
		name := c.(string)
		profiles[name] = fmt.Sprintf("%s: mentioned in recent coverage.", name)
	}
	return &registry.ActionResponse{
		Message: fmt.Sprintf("profiled %d companies", len(profiles)),
		Success: true,
		Artifacts: []state.Artifact{{
			Name:        "company_profiles",
			Description: "Short profiles of the companies in the headlines",
			Content:     profiles,
		}},
	}, nil
}

func writeSummary(_ context.Context, _ registry.Context, args map[string]any) (*registry.ActionResponse, error) {
	title := args["title"].(string)
	body := args["body"].(string)
	return &registry.ActionResponse{
		Message: fmt.Sprintf("summary %q written", title),
		Success: true,
		Artifacts: []state.Artifact{{
			Name:        "summary",
			Description: title,
			Content:     body,
		}},
	}, nil
}
