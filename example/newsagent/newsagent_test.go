package newsagent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentexhq/agentex/runtime/registry"
)

func TestRegistryActions(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	require.Equal(t, []string{"fetch_news", "summarize_companies", "write_summary"}, reg.Names())
}

func TestFetchNewsProducesArtifact(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	resp, err := reg.Call(context.Background(), "fetch_news",
		registry.Context{TaskID: "t1"}, map[string]any{"keyword": "go"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Artifacts, 1)
	require.Equal(t, "headlines_go", resp.Artifacts[0].Name)
}

func TestFetchNewsUnknownKeyword(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	resp, err := reg.Call(context.Background(), "fetch_news",
		registry.Context{TaskID: "t1"}, map[string]any{"keyword": "quantum"})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Empty(t, resp.Artifacts)
}

func TestSummarizeCompaniesValidatesArray(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	_, err = reg.Call(context.Background(), "summarize_companies",
		registry.Context{TaskID: "t1"}, map[string]any{"companies": "not-an-array"})
	require.Error(t, err)

	resp, err := reg.Call(context.Background(), "summarize_companies",
		registry.Context{TaskID: "t1"}, map[string]any{"companies": []string{"Acme", "Globex"}})
	require.NoError(t, err)
	require.Len(t, resp.Artifacts, 1)
}

func TestWriteSummary(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	resp, err := reg.Call(context.Background(), "write_summary",
		registry.Context{TaskID: "t1"}, map[string]any{"title": "Weekly", "body": "All quiet."})
	require.NoError(t, err)
	require.Equal(t, "summary", resp.Artifacts[0].Name)
	require.Equal(t, "All quiet.", resp.Artifacts[0].Content)
}

func TestWorkflowConfig(t *testing.T) {
	cfg := WorkflowConfig("gpt-4o")
	require.Equal(t, "newsagent", cfg.Name)
	require.Equal(t, RegistryKey, cfg.RegistryKey)
	require.Equal(t, "gpt-4o", cfg.Model)
	require.NotEmpty(t, cfg.Instructions)
}
