//go:build e2e

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/controller"
)

func TestSubscribeReceivesPublishedRuns(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	bus, err := DialMessageBus(ctx, "redis://"+endpoint, "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	subCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	events := bus.Subscribe(subCtx)
	// Give XREAD time to block on "$" before publishing.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, bus.PublishRun(ctx, controller.RunEvent{SessionID: "live", AgentType: "GROWTH_STRATEGIST", Success: true}))

	select {
	case ev := <-events:
		assert.Equal(t, "live", ev.SessionID)
		assert.True(t, ev.Success)
	case <-subCtx.Done():
		t.Fatal("no event received")
	}
}
