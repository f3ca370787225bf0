package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/provider"
	"github.com/neurokid/insight-agents/internal/tool"
)

// scriptedLLM answers the plan, step and conclusion calls from separate scripts.
type scriptedLLM struct {
	plan       func() *provider.Response
	steps      []*provider.Response
	conclusion *provider.Response
	stepCalls  int
	panicAt    int
}

func (s *scriptedLLM) Chat(_ context.Context, _ string, req *provider.ChatRequest) *provider.Response {
	switch {
	case req.ResponseFormat != nil:
		if s.plan == nil {
			return &provider.Response{FinishReason: provider.FinishError, Err: errors.New("down")}
		}
		return s.plan()
	case len(req.Tools) > 0:
		s.stepCalls++
		if s.panicAt > 0 && s.stepCalls == s.panicAt {
			panic("provider exploded")
		}
		if s.stepCalls <= len(s.steps) {
			return s.steps[s.stepCalls-1]
		}
		return &provider.Response{Content: "Still thinking.", FinishReason: provider.FinishStop}
	default:
		if s.conclusion == nil {
			return &provider.Response{FinishReason: provider.FinishError, Err: errors.New("down")}
		}
		return s.conclusion
	}
}

func call(name, args string) provider.ToolCall {
	return provider.ToolCall{ID: name, Type: "function", Function: provider.ToolCallFunction{Name: name, Arguments: args}}
}

func toolStep(calls ...provider.ToolCall) *provider.Response {
	return &provider.Response{ToolCalls: calls, FinishReason: provider.FinishToolCalls}
}

type harness struct {
	registry *tool.Registry
	mem      *memory.Manager
	calls    map[string]*int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		registry: tool.NewRegistry(nil, zap.NewNop()),
		calls:    map[string]*int32{},
	}
	for _, name := range []string{"get_dashboard_stats", "get_growth_metrics", "get_user_activity"} {
		n := name
		var counter int32
		h.calls[n] = &counter
		schema := tool.Schema{Name: n, Description: n}
		if n == "get_user_activity" {
			schema.Parameters = []tool.Parameter{{Name: "user_id", Type: tool.TypeString, Required: true}}
		}
		h.registry.Register(&tool.Tool{
			Schema: schema,
			Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
				atomic.AddInt32(&counter, 1)
				return map[string]interface{}{"total_users": 120, "source": n}, nil
			},
		})
	}
	h.registry.RegisterForAgent(string(GrowthStrategist),
		[]string{"get_dashboard_stats", "get_growth_metrics", "get_user_activity"})

	long := memory.NewLongTerm(memory.NewInMemoryStore(), nil, zap.NewNop())
	h.mem = memory.NewManager(string(GrowthStrategist), long)
	return h
}

func (h *harness) engine(llm LLM, maxSteps int) *Engine {
	cfg := Config{
		Type:         GrowthStrategist,
		SystemPrompt: "You analyse growth.",
		MaxSteps:     maxSteps,
		Temperature:  0.3,
		Enabled:      true,
	}
	return NewEngine(cfg, llm, h.registry, h.mem, zap.NewNop())
}

var goal = Goal{Description: "Assess user growth for the last month"}

func TestFallbackPlanOnLLMFailure(t *testing.T) {
	h := newHarness(t)
	e := h.engine(&scriptedLLM{}, 10)
	e.session = &Session{Memory: h.mem.Short}

	plan, err := e.PlanAnalysis(context.Background(), goal)
	require.NoError(t, err)
	assert.True(t, plan.Fallback)
	assert.Len(t, plan.SubGoals, 4)
	assert.Equal(t, 5, plan.EstimatedSteps)
	assert.Equal(t, []string{"get_dashboard_stats", "get_growth_metrics", "get_user_activity"}, plan.RequiredTools)
	assert.Equal(t, 1, h.mem.Short.Count(memory.EntryThought))
}

func TestPlanFromModelDropsUnknownToolsAndClamps(t *testing.T) {
	h := newHarness(t)
	llm := &scriptedLLM{plan: func() *provider.Response {
		return &provider.Response{
			Content:      `{"subGoals":["measure signups"],"estimatedSteps":40,"requiredTools":["get_growth_metrics","made_up"]}`,
			FinishReason: provider.FinishStop,
		}
	}}
	e := h.engine(llm, 6)
	e.session = &Session{Memory: h.mem.Short}

	plan, err := e.PlanAnalysis(context.Background(), goal)
	require.NoError(t, err)
	assert.False(t, plan.Fallback)
	assert.Equal(t, []string{"measure signups"}, plan.SubGoals)
	assert.Equal(t, 6, plan.EstimatedSteps)
	assert.Equal(t, []string{"get_growth_metrics"}, plan.RequiredTools)
}

func TestRunStopsWhenDataIsSufficient(t *testing.T) {
	h := newHarness(t)
	llm := &scriptedLLM{
		plan: func() *provider.Response {
			return &provider.Response{
				Content:      `{"subGoals":["a","b"],"estimatedSteps":2,"requiredTools":["get_dashboard_stats","get_growth_metrics"]}`,
				FinishReason: provider.FinishStop,
			}
		},
		steps: []*provider.Response{
			toolStep(call("get_dashboard_stats", `{}`)),
			toolStep(call("get_growth_metrics", `{}`)),
			toolStep(call("get_dashboard_stats", `{}`)),
		},
		conclusion: &provider.Response{Content: "FINAL_ANSWER: growth is steady.", FinishReason: provider.FinishStop},
	}
	out := h.engine(llm, 10).Run(context.Background(), goal)

	require.NoError(t, out.Err)
	s := out.Session
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, 2, s.CurrentStep)
	assert.Equal(t, 2, llm.stepCalls)
	assert.Equal(t, "growth is steady.", s.FinalConclusion)
	require.NotNil(t, s.FinalConfidence)
	// 0.3*2/5 + 0.25*2/5 + 0.25*1 + 0.2*(1-2/10)
	assert.InDelta(t, 0.63, *s.FinalConfidence, 1e-9)
	assert.Len(t, out.CollectedData, 2)
	assert.Equal(t, []string{"get_dashboard_stats", "get_growth_metrics"}, out.ToolsUsed)

	last := s.Steps[len(s.Steps)-1]
	assert.False(t, last.ShouldContinue)
	require.NotNil(t, s.CompletedAt)
	assert.False(t, s.CompletedAt.Before(s.StartedAt))
}

func TestRunningSessionOmitsCompletedAt(t *testing.T) {
	running, err := json.Marshal(&Session{ID: "s-1", Status: StatusExecuting, StartedAt: time.Now()})
	require.NoError(t, err)
	assert.NotContains(t, string(running), "completed_at")

	done := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	finished, err := json.Marshal(&Session{ID: "s-1", Status: StatusCompleted, CompletedAt: &done})
	require.NoError(t, err)
	assert.Contains(t, string(finished), `"completed_at":"2026-10-01T09:00:00Z"`)
}

func TestInvalidInputIsObservedNotExecuted(t *testing.T) {
	h := newHarness(t)
	llm := &scriptedLLM{
		steps: []*provider.Response{
			toolStep(call("get_user_activity", `{}`)),
			{Content: "In conclusion, not enough data.", FinishReason: provider.FinishStop},
		},
		conclusion: &provider.Response{Content: "Done.", FinishReason: provider.FinishStop},
	}
	out := h.engine(llm, 10).Run(context.Background(), goal)

	require.NoError(t, out.Err)
	assert.Equal(t, int32(0), atomic.LoadInt32(h.calls["get_user_activity"]))
	assert.Equal(t, 2, out.Session.CurrentStep)

	var observed string
	for _, e := range h.mem.Short.Entries() {
		if e.Type == memory.EntryObservation {
			observed = e.Content
		}
	}
	assert.Contains(t, observed, "Missing required parameter: user_id")
	assert.Empty(t, out.CollectedData)
}

func TestDisallowedAndMalformedCalls(t *testing.T) {
	h := newHarness(t)
	h.registry.Register(&tool.Tool{
		Schema:  tool.Schema{Name: "delete_everything"},
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil },
	})
	llm := &scriptedLLM{
		steps: []*provider.Response{
			toolStep(call("delete_everything", `{}`), call("get_dashboard_stats", `{not json`)),
			{Content: "FINAL_ANSWER", FinishReason: provider.FinishStop},
		},
	}
	out := h.engine(llm, 5).Run(context.Background(), goal)

	require.NoError(t, out.Err)
	assert.Equal(t, int32(1), atomic.LoadInt32(h.calls["get_dashboard_stats"]))
	assert.Contains(t, out.CollectedData, "get_dashboard_stats")
	assert.NotContains(t, out.CollectedData, "delete_everything")
}

func TestLLMOutageUsesWholeBudget(t *testing.T) {
	h := newHarness(t)
	llm := &scriptedLLM{steps: []*provider.Response{
		{FinishReason: provider.FinishError}, {FinishReason: provider.FinishError}, {FinishReason: provider.FinishError},
	}}
	// After the scripted errors the default reply is plain thinking text.
	out := h.engine(llm, 3).Run(context.Background(), goal)

	require.NoError(t, out.Err)
	s := out.Session
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, 3, s.CurrentStep)
	assert.Contains(t, s.FinalConclusion, "Analysis ended after 3 of 3 steps")
	assert.LessOrEqual(t, s.CurrentStep, s.MaxSteps)
}

func TestPanicMarksSessionFailed(t *testing.T) {
	h := newHarness(t)
	llm := &scriptedLLM{panicAt: 2, steps: []*provider.Response{toolStep(call("get_dashboard_stats", `{}`))}}
	out := h.engine(llm, 5).Run(context.Background(), goal)

	require.Error(t, out.Err)
	s := out.Session
	assert.Equal(t, StatusFailed, s.Status)
	require.NotNil(t, s.FinalConfidence)
	assert.Equal(t, 0.0, *s.FinalConfidence)
	assert.Contains(t, s.FinalConclusion, "provider exploded")
	assert.Contains(t, out.CollectedData, "get_dashboard_stats")
}

func TestCancelledContextFails(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := h.engine(&scriptedLLM{}, 5).Run(ctx, goal)

	assert.Error(t, out.Err)
	assert.Equal(t, StatusFailed, out.Session.Status)
}
