package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentexhq/agentex/runtime/errs"
	"github.com/agentexhq/agentex/runtime/llm"
	"github.com/agentexhq/agentex/runtime/state"
)

func fetchNewsAction(handler HandlerFunc) Action {
	if handler == nil {
		handler = func(ctx context.Context, rc Context, args map[string]any) (*ActionResponse, error) {
			return &ActionResponse{Message: "ok", Success: true}, nil
		}
	}
	return Action{
		Name:        "fetch_news",
		Description: "Fetch recent news articles for a keyword.",
		Params: []Param{
			{Name: "keyword", Type: "string", Description: "Search keyword.", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum number of articles."},
		},
		Handler: handler,
	}
}

func TestRegisterRejectsIncompleteDeclarations(t *testing.T) {
	cases := []struct {
		name   string
		action Action
	}{
		{"missing name", Action{Description: "d", Handler: fetchNewsAction(nil).Handler}},
		{"missing description", Action{Name: "a", Handler: fetchNewsAction(nil).Handler}},
		{"missing handler", Action{Name: "a", Description: "d"}},
		{"param without type", Action{
			Name: "a", Description: "d", Handler: fetchNewsAction(nil).Handler,
			Params: []Param{{Name: "p", Description: "d"}},
		}},
		{"param without description", Action{
			Name: "a", Description: "d", Handler: fetchNewsAction(nil).Handler,
			Params: []Param{{Name: "p", Type: "string"}},
		}},
		{"param shadows reserved key", Action{
			Name: "a", Description: "d", Handler: fetchNewsAction(nil).Handler,
			Params: []Param{{Name: "task_id", Type: "string", Description: "d"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := New().Register(tc.action)
			require.Error(t, err)
			require.True(t, errs.IsClient(err))
		})
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fetchNewsAction(nil)))
	err := r.Register(fetchNewsAction(nil))
	require.Error(t, err)
	require.True(t, errs.IsClient(err))
}

func TestFunctionCallSchemas(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(fetchNewsAction(nil)))
	require.NoError(t, r.Register(Action{
		Name:        "write_summary",
		Description: "Write a summary artifact.",
		Params: []Param{
			{Name: "text", Type: "string", Description: "Summary body.", Required: true},
		},
		Handler: fetchNewsAction(nil).Handler,
	}))

	schemas := r.FunctionCallSchemas()
	require.Len(t, schemas, 2)
	require.Equal(t, "fetch_news", schemas[0].Function.Name)
	require.Equal(t, "write_summary", schemas[1].Function.Name)
	require.Equal(t, llm.ToolTypeFunction, schemas[0].Type)

	params := schemas[0].Function.Parameters
	require.Equal(t, "object", params["type"])
	props := params["properties"].(map[string]any)
	require.Contains(t, props, "keyword")
	require.Contains(t, props, "limit")
	require.Equal(t, []string{"keyword"}, params["required"])
}

func TestCallValidatesArguments(t *testing.T) {
	ctx := context.Background()
	r := New()
	require.NoError(t, r.Register(fetchNewsAction(nil)))

	_, err := r.Call(ctx, "fetch_news", Context{TaskID: "t1"}, map[string]any{})
	require.Error(t, err)
	require.True(t, errs.IsClient(err))

	_, err = r.Call(ctx, "fetch_news", Context{TaskID: "t1"}, map[string]any{"keyword": 42})
	require.Error(t, err)
	require.True(t, errs.IsClient(err))

	_, err = r.Call(ctx, "fetch_news", Context{TaskID: "t1"}, map[string]any{
		"keyword": "AI", "unknown": true,
	})
	require.Error(t, err)
	require.True(t, errs.IsClient(err))

	resp, err := r.Call(ctx, "fetch_news", Context{TaskID: "t1"}, map[string]any{
		"keyword": "AI", "limit": 3,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "ok", resp.Message)
}

func TestCallUnknownActionIsClientError(t *testing.T) {
	_, err := New().Call(context.Background(), "nope", Context{}, nil)
	require.Error(t, err)
	require.True(t, errs.IsClient(err))
}

func TestCallPassesReservedContextAndArgs(t *testing.T) {
	ctx := context.Background()
	r := New()
	var gotTaskID, gotKeyword string
	require.NoError(t, r.Register(fetchNewsAction(func(ctx context.Context, rc Context, args map[string]any) (*ActionResponse, error) {
		gotTaskID = rc.TaskID
		gotKeyword = args["keyword"].(string)
		return &ActionResponse{Message: "done", Artifacts: []state.Artifact{{Name: "news", Content: "x"}}, Success: true}, nil
	})))

	resp, err := r.Call(ctx, "fetch_news", Context{TaskID: "task-7"}, map[string]any{"keyword": "chips"})
	require.NoError(t, err)
	require.Equal(t, "task-7", gotTaskID)
	require.Equal(t, "chips", gotKeyword)
	require.Len(t, resp.Artifacts, 1)
}

func TestCallHandlerErrorReturnsFailureResponseAndError(t *testing.T) {
	ctx := context.Background()
	r := New()
	boom := errors.New("upstream unavailable")
	require.NoError(t, r.Register(fetchNewsAction(func(context.Context, Context, map[string]any) (*ActionResponse, error) {
		return nil, boom
	})))

	resp, err := r.Call(ctx, "fetch_news", Context{TaskID: "t1"}, map[string]any{"keyword": "AI"})
	require.ErrorIs(t, err, boom)
	require.NotNil(t, resp)
	require.False(t, resp.Success)
	require.Equal(t, "upstream unavailable", resp.Message)
}

func TestCallPreservesHandlerReportedFailure(t *testing.T) {
	ctx := context.Background()
	r := New()
	require.NoError(t, r.Register(Action{
		Name:        "save_artifacts",
		Description: "Persist artifacts into the task context.",
		Params: []Param{
			{Name: "name", Type: "string", Description: "Artifact name.", Required: true},
		},
		Handler: func(context.Context, Context, map[string]any) (*ActionResponse, error) {
			return &ActionResponse{Message: "artifact \"summary\" already exists", Success: false}, nil
		},
	}))

	resp, err := r.Call(ctx, "save_artifacts", Context{TaskID: "t1"}, map[string]any{"name": "summary"})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, "artifact \"summary\" already exists", resp.Message)
}

func TestCallNilHandlerResponseIsSuccess(t *testing.T) {
	ctx := context.Background()
	r := New()
	require.NoError(t, r.Register(fetchNewsAction(func(context.Context, Context, map[string]any) (*ActionResponse, error) {
		return nil, nil
	})))

	resp, err := r.Call(ctx, "fetch_news", Context{TaskID: "t1"}, map[string]any{"keyword": "AI"})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestEnumAndArrayParams(t *testing.T) {
	ctx := context.Background()
	r := New()
	require.NoError(t, r.Register(Action{
		Name:        "summarize_companies",
		Description: "Summarize news per company.",
		Params: []Param{
			{Name: "tone", Type: "string", Description: "Summary tone.", Enum: []any{"neutral", "upbeat"}},
			{Name: "companies", Type: "array", Description: "Company names.", Items: &Param{Type: "string"}, Required: true},
		},
		Handler: func(context.Context, Context, map[string]any) (*ActionResponse, error) {
			return &ActionResponse{Message: "ok", Success: true}, nil
		},
	}))

	_, err := r.Call(ctx, "summarize_companies", Context{}, map[string]any{
		"tone": "sarcastic", "companies": []any{"acme"},
	})
	require.Error(t, err)
	require.True(t, errs.IsClient(err))

	_, err = r.Call(ctx, "summarize_companies", Context{}, map[string]any{
		"tone": "neutral", "companies": []any{"acme", 3},
	})
	require.Error(t, err)

	resp, err := r.Call(ctx, "summarize_companies", Context{}, map[string]any{
		"tone": "upbeat", "companies": []any{"acme"},
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestNames(t *testing.T) {
	r := New()
	require.Empty(t, r.Names())
	require.NoError(t, r.Register(fetchNewsAction(nil)))
	require.Equal(t, []string{"fetch_news"}, r.Names())
}
