//go:build e2e

package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestQdrantRoundTrip(t *testing.T) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.13.2",
			ExposedPorts: []string{"6334/tcp"},
			WaitingFor:   wait.ForListeningPort("6334/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6334/tcp")
	require.NoError(t, err)

	c, err := NewClient(QdrantConfig{Host: host, Port: port.Int()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.EnsureCollection(ctx, "insights", 3, "agent_type"))
	require.NoError(t, c.EnsureCollection(ctx, "insights", 3, "agent_type"))

	require.NoError(t, c.Upsert(ctx, "insights",
		Point{ID: "5b0f6a3e-4a2b-4c1d-9e8f-0a1b2c3d4e5f", Vector: []float32{1, 0, 0}, Payload: map[string]string{"agent_type": "A", "title": "spam"}},
		Point{ID: "6c1f7b4f-5b3c-4d2e-8f90-1b2c3d4e5f60", Vector: []float32{0.9, 0.1, 0}, Payload: map[string]string{"agent_type": "B", "title": "spam too"}},
	))

	hits, err := c.Search(ctx, "insights", []float32{1, 0, 0}, 5, map[string]string{"agent_type": "A"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "spam", hits[0].Payload["title"])

	hits, err = c.Search(ctx, "insights", []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}
