package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/agent"
	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/provider"
)

type fixedLLM struct {
	content string
	fail    bool
}

func (f *fixedLLM) Chat(context.Context, string, *provider.ChatRequest) *provider.Response {
	if f.fail {
		return &provider.Response{FinishReason: provider.FinishError, Err: errors.New("timeout")}
	}
	return &provider.Response{Content: f.content, FinishReason: provider.FinishStop}
}

func draftJSON(t *testing.T, v interface{}) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return string(raw)
}

func input(status agent.Status, steps int, collected map[string]interface{}) Input {
	return Input{
		Config: agent.Config{Type: agent.EngagementAnalyst, Name: "Engagement Analyst"},
		Session: &agent.Session{
			ID:              "s-1",
			Goal:            agent.Goal{Description: "engagement health"},
			CurrentStep:     steps,
			Status:          status,
			FinalConclusion: "Engagement dipped 12% week over week.",
			Steps:           []memory.ThoughtStep{{Step: 1, Thought: "look"}},
		},
		CollectedData: collected,
		ToolsUsed:     []string{"get_engagement_metrics"},
		ExecutionTime: 1500 * time.Millisecond,
	}
}

func TestGenerateCoercesDraft(t *testing.T) {
	content := draftJSON(t, map[string]interface{}{
		"executiveSummary": "   ",
		"keyMetrics": []interface{}{
			map[string]interface{}{"name": "DAU", "value": "1,204", "trend": "sideways"},
			map[string]interface{}{"name": "Posts", "value": "lots"},
			map[string]interface{}{"name": "Rate", "value": "41%", "change": -3},
			map[string]interface{}{"name": "", "value": 9},
		},
		"trendAnalysis": []interface{}{
			map[string]interface{}{"metric": "DAU", "direction": "UP", "magnitude": "huge"},
		},
		"detectedRisks": []interface{}{
			map[string]interface{}{"title": "Churn", "severity": "CRITICAL", "description": ""},
			map[string]interface{}{"title": "Spam", "severity": "severe"},
		},
		"rootCauses": []interface{}{
			map[string]interface{}{"issue": "Churn", "cause": "onboarding", "confidence": 7},
		},
		"recommendations": []interface{}{
			map[string]interface{}{"title": "Fix onboarding", "priority": "urgent", "effort": "LOW"},
		},
	})
	g := NewGenerator(&fixedLLM{content: content}, zap.NewNop())
	r := g.Generate(context.Background(), input(agent.StatusCompleted, 4, nil))

	assert.Equal(t, "Engagement dipped 12% week over week.", r.ExecutiveSummary)

	require.Len(t, r.KeyMetrics, 3)
	assert.Equal(t, 1204.0, r.KeyMetrics[0].Value)
	assert.Equal(t, "stable", r.KeyMetrics[0].Trend)
	assert.Equal(t, 0.0, r.KeyMetrics[1].Value)
	assert.Equal(t, 41.0, r.KeyMetrics[2].Value)
	require.NotNil(t, r.KeyMetrics[2].Change)
	assert.Equal(t, -3.0, *r.KeyMetrics[2].Change)

	assert.Equal(t, "up", r.TrendAnalysis[0].Direction)
	assert.Equal(t, "moderate", r.TrendAnalysis[0].Magnitude)

	assert.Equal(t, "critical", r.DetectedRisks[0].Severity)
	assert.Empty(t, r.DetectedRisks[0].Description)
	assert.Equal(t, "medium", r.DetectedRisks[1].Severity)

	assert.Equal(t, 1.0, r.RootCauses[0].Confidence)
	assert.Equal(t, "medium", r.Recommendations[0].Priority)
	assert.Equal(t, "low", r.Recommendations[0].Effort)

	assert.Nil(t, r.ReasoningTrace)
	assert.Equal(t, int64(1500), r.ExecutionTimeMs)
	assert.Equal(t, 4, r.ReasoningSteps)
}

func TestGenerateBackfillsMetricsFromToolData(t *testing.T) {
	content := draftJSON(t, map[string]interface{}{
		"keyMetrics": []interface{}{map[string]interface{}{"name": "Total Users", "value": 120}},
	})
	collected := map[string]interface{}{
		"get_dashboard_stats": map[string]interface{}{
			"total_users":  120,
			"activeUsers":  45,
			"breakdown":    map[string]interface{}{"new_users": 10, "label": "x"},
			"generated_at": "2026-01-01",
		},
		"get_flagged_posts": []interface{}{1, 2, 3},
	}
	g := NewGenerator(&fixedLLM{content: content}, zap.NewNop())
	r := g.Generate(context.Background(), input(agent.StatusCompleted, 3, collected))

	names := make([]string, len(r.KeyMetrics))
	for i, m := range r.KeyMetrics {
		names[i] = m.Name
	}
	assert.Equal(t, []string{"Total Users", "Active Users", "Breakdown New Users"}, names)
	assert.Equal(t, "get_dashboard_stats", r.KeyMetrics[1].Source)
	assert.Equal(t, []string{"get_dashboard_stats", "get_flagged_posts"}, r.DataSourcesQueried)
}

func TestGenerateCapsSections(t *testing.T) {
	var metrics, risks []interface{}
	for i := 0; i < 12; i++ {
		metrics = append(metrics, map[string]interface{}{"name": fmt.Sprintf("m%d", i), "value": i})
		risks = append(risks, map[string]interface{}{"title": fmt.Sprintf("r%d", i), "severity": "high"})
	}
	content := draftJSON(t, map[string]interface{}{"keyMetrics": metrics, "detectedRisks": risks})
	g := NewGenerator(&fixedLLM{content: content}, zap.NewNop())
	r := g.Generate(context.Background(), input(agent.StatusCompleted, 3, nil))

	assert.Len(t, r.KeyMetrics, 10)
	assert.Len(t, r.DetectedRisks, 5)
	assert.Empty(t, r.Recommendations)
	assert.NotNil(t, r.Recommendations)
}

func TestGenerateWithoutDraft(t *testing.T) {
	in := input(agent.StatusFailed, 2, map[string]interface{}{
		"get_engagement_metrics": map[string]interface{}{"likes": 5},
	})
	in.IncludeTrace = true
	g := NewGenerator(&fixedLLM{fail: true}, zap.NewNop())
	r := g.Generate(context.Background(), in)

	assert.Equal(t, in.Session.FinalConclusion, r.ExecutiveSummary)
	require.Len(t, r.KeyMetrics, 1)
	assert.Equal(t, "Likes", r.KeyMetrics[0].Name)
	// 0.3*(1/3) + 0.25*(2/5) + 0 + 0
	assert.InDelta(t, 0.2, r.ConfidenceScore, 1e-9)
	assert.Len(t, r.ConfidenceFactors, 4)
	assert.Len(t, r.ReasoningTrace, 1)
}

func TestConfidence(t *testing.T) {
	score, factors := Confidence(3, 5, true, true)
	assert.InDelta(t, 1.0, score, 1e-9)
	assert.Len(t, factors, 4)

	score, _ = Confidence(6, 20, false, true)
	assert.InDelta(t, 0.75, score, 1e-9)

	score, _ = Confidence(0, 0, false, false)
	assert.Equal(t, 0.0, score)
}

func TestHumanize(t *testing.T) {
	tests := map[string]string{
		"active_users":       "Active Users",
		"engagementRate":     "Engagement Rate",
		"posts.per-day":      "Posts Per Day",
		"DAU":                "Dau",
		"breakdown_newUsers": "Breakdown New Users",
		"__":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, humanize(in), in)
	}
}

func TestBackfillSkipsUnnamedMetrics(t *testing.T) {
	got := backfillMetrics(nil, map[string]interface{}{
		"get_dashboard_stats": map[string]interface{}{"_": 3.0, "-": map[string]interface{}{"_": 1.0}, "users": 12.0},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "Users", got[0].Name)
	assert.Equal(t, 12.0, got[0].Value)
}

func TestCriticalRisks(t *testing.T) {
	r := &ExecutiveReport{DetectedRisks: []DetectedRisk{
		{Title: "a", Severity: "critical"}, {Title: "b", Severity: "high"},
	}}
	assert.Len(t, r.CriticalRisks(), 1)
}
