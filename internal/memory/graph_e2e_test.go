//go:build e2e

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"
)

func startGraphStore(t *testing.T) *GraphStore {
	t.Helper()
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.BoltUrl(ctx)
	require.NoError(t, err)
	store, err := NewGraphStore(uri, "", "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(ctx) })

	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func TestGraphStoreLongTerm(t *testing.T) {
	ctx := context.Background()
	long := NewLongTerm(startGraphStore(t), nil, zap.NewNop())

	for _, sev := range []Severity{SeverityInfo, SeverityCritical, SeverityWarning} {
		_, err := long.SaveInsight(ctx, &Insight{
			AgentType: "PLATFORM_HEALTH", Category: "RISK", Severity: sev, Title: string(sev),
			Metrics: map[string]float64{"Active Users": 40},
		})
		require.NoError(t, err)
	}
	id, err := long.SaveInsight(ctx, &Insight{
		AgentType: "COORDINATOR", Category: "RECOMMENDATION", Severity: SeverityInfo, Title: "Weekly digest",
	})
	require.NoError(t, err)

	issue, err := long.CheckRecurringIssues(ctx, "RISK", 30)
	require.NoError(t, err)
	assert.True(t, issue.IsRecurring)
	assert.Equal(t, 3, issue.Occurrences)

	cross, err := long.CrossAgentInsights(ctx, "COORDINATOR", 10)
	require.NoError(t, err)
	require.Len(t, cross, 3)
	assert.Equal(t, SeverityCritical, cross[0].Severity)
	assert.Equal(t, SeverityInfo, cross[2].Severity)
	assert.Equal(t, 40.0, cross[0].Metrics["Active Users"])

	require.NoError(t, long.Resolve(ctx, id))
	open, err := long.QueryInsights(ctx, InsightFilter{AgentType: "COORDINATOR", UnresolvedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.ErrorIs(t, long.Resolve(ctx, "missing"), ErrInsightNotFound)
}
