package memory

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortTermTrimsToMostRecent(t *testing.T) {
	m := NewShortTerm()
	for i := 0; i < MaxShortTermEntries+7; i++ {
		m.AddThought(fmt.Sprintf("thought %d", i), 0.5)
	}
	entries := m.Entries()
	require.Len(t, entries, MaxShortTermEntries)
	assert.Equal(t, "thought 7", entries[0].Content)
	assert.Equal(t, fmt.Sprintf("thought %d", MaxShortTermEntries+6), entries[len(entries)-1].Content)
}

func TestFormatForLLMIsIdempotentAndBounded(t *testing.T) {
	m := NewShortTerm()
	m.AddThought("look at engagement", 0.6)
	m.AddAction("get_engagement_metrics", map[string]interface{}{"period": "week"}, "need numbers")
	m.AddObservation("get_engagement_metrics", map[string]interface{}{"rate": 0.4}, `{"rate":0.4}`)

	first := m.FormatForLLM(10)
	assert.Equal(t, first, m.FormatForLLM(10))
	assert.Contains(t, first, "[ACTION] get_engagement_metrics(")
	assert.Contains(t, first, `"period":"week"`)

	last := m.FormatForLLM(1)
	assert.Equal(t, 1, strings.Count(last, "\n"))
	assert.True(t, strings.HasPrefix(last, "[OBSERVATION]"))
}

func TestToThoughtStepsFold(t *testing.T) {
	m := NewShortTerm()
	m.AddThought("check flagged posts", 0.6)
	m.AddAction("get_flagged_posts", map[string]interface{}{"limit": 5}, "")
	m.AddObservation("get_flagged_posts", nil, "3 pending")
	m.AddConclusion("moderation backlog is small", 0.8)

	steps := m.ToThoughtSteps()
	require.Len(t, steps, 2)

	assert.Equal(t, 1, steps[0].Step)
	assert.Equal(t, "check flagged posts", steps[0].Thought)
	require.NotNil(t, steps[0].Action)
	assert.Equal(t, "get_flagged_posts", steps[0].Action.Tool)
	assert.Equal(t, "3 pending", steps[0].Observation)
	assert.True(t, steps[0].ShouldContinue)

	assert.Equal(t, "moderation backlog is small", steps[1].Thought)
	assert.False(t, steps[1].ShouldContinue)
	assert.InDelta(t, 0.8, steps[1].Confidence, 1e-9)
}

func TestToThoughtStepsImplicitSteps(t *testing.T) {
	m := NewShortTerm()
	m.AddAction("a", nil, "")
	m.AddObservation("a", nil, "ok")
	m.AddAction("b", nil, "")
	m.AddObservation("b", nil, "ok")

	steps := m.ToThoughtSteps()
	require.Len(t, steps, 2)
	assert.Equal(t, "a", steps[0].Action.Tool)
	assert.Equal(t, "b", steps[1].Action.Tool)
	assert.Equal(t, "", steps[0].Thought)
}

func TestConfidenceClamped(t *testing.T) {
	m := NewShortTerm()
	e := m.AddConclusion("x", 1.7)
	assert.Equal(t, 1.0, *e.Confidence)
	e = m.AddThought("y", -2)
	assert.Equal(t, 0.0, *e.Confidence)
	assert.Equal(t, 1, m.Count(EntryConclusion))
}
