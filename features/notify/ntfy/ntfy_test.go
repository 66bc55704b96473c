package ntfy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentexhq/agentex/runtime/notify"
)

func TestSendPublishesJSON(t *testing.T) {
	var (
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := New(Options{ServerURL: srv.URL, Token: "tk_secret"})
	require.NoError(t, err)

	err = s.Send(context.Background(), notify.Request{
		Topic:    "newsagent",
		Title:    "Task complete",
		Message:  "All done.",
		Tags:     []string{"tada"},
		Priority: 4,
		Actions: []notify.Action{{
			Action: "view",
			Label:  "Open",
			URL:    "https://example.com/tasks/42",
		}},
	})
	require.NoError(t, err)

	require.Equal(t, "Bearer tk_secret", gotAuth)
	require.Equal(t, "newsagent", gotBody["topic"])
	require.Equal(t, "Task complete", gotBody["title"])
	require.Equal(t, float64(4), gotBody["priority"])
	actions := gotBody["actions"].([]any)
	require.Len(t, actions, 1)
	require.Equal(t, "view", actions[0].(map[string]any)["action"])
}

func TestSendRejectsMissingTopic(t *testing.T) {
	s, err := New(Options{})
	require.NoError(t, err)
	require.Error(t, s.Send(context.Background(), notify.Request{Message: "no topic"}))
}

func TestSendSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	s, err := New(Options{ServerURL: srv.URL})
	require.NoError(t, err)
	err = s.Send(context.Background(), notify.Request{Topic: "t"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}
