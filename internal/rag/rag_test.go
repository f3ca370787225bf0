package rag

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/vectorstore"
)

// keywordEmbedder maps text onto a fixed vocabulary so similarity is predictable.
type keywordEmbedder struct {
	vocab []string
	fail  bool
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail {
		return nil, errors.New("embedder down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, len(e.vocab))
		lower := strings.ToLower(text)
		for j, w := range e.vocab {
			if strings.Contains(lower, w) {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

func (e *keywordEmbedder) Dimension() int { return len(e.vocab) }

type memVectors struct {
	dim    uint64
	points map[string]vectorstore.Point
}

func (m *memVectors) EnsureCollection(_ context.Context, _ string, dim uint64, _ ...string) error {
	m.dim = dim
	if m.points == nil {
		m.points = make(map[string]vectorstore.Point)
	}
	return nil
}

func (m *memVectors) Upsert(_ context.Context, _ string, points ...vectorstore.Point) error {
	for _, p := range points {
		m.points[p.ID] = p
	}
	return nil
}

func (m *memVectors) Search(_ context.Context, _ string, vector []float32, topK uint64, match map[string]string) ([]vectorstore.SearchResult, error) {
	var out []vectorstore.SearchResult
	for _, p := range m.points {
		ok := true
		for k, v := range match {
			if p.Payload[k] != v {
				ok = false
			}
		}
		if ok {
			out = append(out, vectorstore.SearchResult{ID: p.ID, Score: cosine(vector, p.Vector), Payload: p.Payload})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if uint64(len(out)) > topK {
		out = out[:topK]
	}
	return out, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i] * b[i])
		na += float64(a[i] * a[i])
		nb += float64(b[i] * b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func newIndex(t *testing.T) (*InsightIndex, *memVectors) {
	t.Helper()
	vs := &memVectors{}
	idx := NewInsightIndex(&keywordEmbedder{vocab: []string{"spam", "retention", "latency", "signup"}}, vs, "", 0.1, zap.NewNop())
	require.NoError(t, idx.Init(context.Background()))
	return idx, vs
}

func TestIndexAndSimilar(t *testing.T) {
	idx, vs := newIndex(t)
	ctx := context.Background()
	assert.Equal(t, uint64(4), vs.dim)

	for _, in := range []*memory.Insight{
		{ID: "11111111-1111-1111-1111-111111111111", AgentType: "CONTENT_MODERATOR", Category: "RISK", Severity: memory.SeverityCritical, Title: "Spam wave in support forum", CreatedAt: time.Now()},
		{ID: "22222222-2222-2222-2222-222222222222", AgentType: "ENGAGEMENT_ANALYST", Category: "RISK", Severity: memory.SeverityWarning, Title: "Retention dipped", CreatedAt: time.Now()},
		{ID: "33333333-3333-3333-3333-333333333333", AgentType: "CONTENT_MODERATOR", Category: "RECOMMENDATION", Severity: memory.SeverityWarning, Title: "Add signup captcha against spam"},
		{ID: "44444444-4444-4444-4444-444444444444", AgentType: "CONTENT_MODERATOR", Category: "RISK", Severity: memory.SeverityInfo, Title: "Latency on reports page"},
	} {
		require.NoError(t, idx.Index(ctx, in))
	}
	assert.Len(t, vs.points, 4)
	assert.Equal(t, "CONTENT_MODERATOR", vs.points["11111111-1111-1111-1111-111111111111"].Payload["agent_type"])

	got, err := idx.Similar(ctx, "CONTENT_MODERATOR", "is spam still rising?", 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Spam wave in support forum", got[0].Title)
	assert.Equal(t, memory.SeverityCritical, got[0].Severity)
	assert.Equal(t, "Add signup captcha against spam", got[1].Title)

	got, err = idx.Similar(ctx, "GROWTH_STRATEGIST", "spam", 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = idx.Similar(ctx, "CONTENT_MODERATOR", "  ", 3)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIndexEmbedFailure(t *testing.T) {
	vs := &memVectors{}
	idx := NewInsightIndex(&keywordEmbedder{fail: true}, vs, "custom", 0, zap.NewNop())
	require.NoError(t, idx.Init(context.Background()))
	assert.Equal(t, uint64(1536), vs.dim)

	err := idx.Index(context.Background(), &memory.Insight{ID: "x", Title: "t"})
	assert.Error(t, err)
	_, err = idx.Similar(context.Background(), "A", "q", 2)
	assert.Error(t, err)
}

func TestLongTermRecallsThroughIndex(t *testing.T) {
	idx, _ := newIndex(t)
	long := memory.NewLongTerm(memory.NewInMemoryStore(), idx, zap.NewNop())
	ctx := context.Background()

	_, err := long.SaveInsight(ctx, &memory.Insight{
		AgentType: "PLATFORM_HEALTH", Category: "RISK", Severity: memory.SeverityWarning,
		Title: "API latency above 2s", CreatedAt: time.Now().Add(-90 * 24 * time.Hour),
	})
	require.NoError(t, err)

	got, err := idx.Similar(ctx, "PLATFORM_HEALTH", "check latency", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "API latency above 2s", got[0].Title)
}

func TestDocument(t *testing.T) {
	doc := Document(&memory.Insight{Category: "RISK", Severity: memory.SeverityCritical, Title: "Spam", Description: "many reports", Recommendation: "ban bots"})
	assert.Equal(t, "[RISK/critical] Spam\nmany reports\nRecommendation: ban bots", doc)
}
