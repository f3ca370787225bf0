package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/controller"
)

func setupBus(t *testing.T) (*miniredis.Miniredis, *MessageBus) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	bus, err := DialMessageBus(context.Background(), "redis://"+mr.Addr(), "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return mr, bus
}

func TestPublishRunAndRecent(t *testing.T) {
	mr, bus := setupBus(t)
	ctx := context.Background()

	require.NoError(t, bus.PublishRun(ctx, controller.RunEvent{
		SessionID: "s1", AgentType: "ENGAGEMENT_ANALYST", Success: true, Confidence: 0.8, Steps: 4,
		CompletedAt: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, bus.PublishRun(ctx, controller.RunEvent{
		SessionID: "s2", AgentType: "CONTENT_MODERATOR", Error: "LLM unavailable",
	}))
	assert.True(t, mr.Exists(DefaultStream))

	events, err := bus.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "s2", events[0].SessionID)
	assert.False(t, events[0].Success)
	assert.Equal(t, "LLM unavailable", events[0].Error)
	assert.Equal(t, "s1", events[1].SessionID)
	assert.Equal(t, 0.8, events[1].Confidence)

	events, err = bus.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMessageBusCapsStream(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	bus := NewMessageBus(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "runs:test", 3, zap.NewNop())
	t.Cleanup(func() { bus.Close() })
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.PublishRun(ctx, controller.RunEvent{AgentType: "PLATFORM_HEALTH"}))
	}
	events, err := bus.Recent(ctx, 10)
	require.NoError(t, err)
	// MAXLEN ~ lets Redis keep a little more than the cap; miniredis trims exactly.
	assert.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), 3)
}

func TestDialMessageBusRejectsBadURL(t *testing.T) {
	_, err := DialMessageBus(context.Background(), "not-a-url", "", zap.NewNop())
	assert.Error(t, err)
}
