package middleware

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentexhq/agentex/runtime/llm"
)

type countingGateway struct {
	calls atomic.Int32
}

func (g *countingGateway) Complete(context.Context, *llm.Config) (*llm.Completion, error) {
	g.calls.Add(1)
	return &llm.Completion{Choices: []llm.Choice{{
		FinishReason: llm.FinishStop,
		Message:      &llm.AssistantMessage{Content: "ok"},
	}}}, nil
}

func TestRateLimitedDelaysBeyondBurst(t *testing.T) {
	next := &countingGateway{}
	g, err := NewRateLimited(next, 50, 1)
	require.NoError(t, err)

	ctx := context.Background()
	cfg := &llm.Config{Messages: llm.Messages{&llm.UserMessage{Content: "hi"}}}

	start := time.Now()
	for range 3 {
		_, err := g.Complete(ctx, cfg)
		require.NoError(t, err)
	}
	// Burst of one: the second and third calls each wait ~20ms.
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.EqualValues(t, 3, next.calls.Load())
}

func TestRateLimitedHonorsContext(t *testing.T) {
	g, err := NewRateLimited(&countingGateway{}, 0.001, 1)
	require.NoError(t, err)

	ctx := context.Background()
	cfg := &llm.Config{Messages: llm.Messages{&llm.UserMessage{Content: "hi"}}}
	_, err = g.Complete(ctx, cfg)
	require.NoError(t, err)

	timed, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = g.Complete(timed, cfg)
	require.Error(t, err)
}

func TestNewRateLimitedValidates(t *testing.T) {
	_, err := NewRateLimited(nil, 1, 1)
	require.Error(t, err)
	_, err = NewRateLimited(&countingGateway{}, 0, 1)
	require.Error(t, err)
}
