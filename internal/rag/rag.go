// Package rag gives long-term memory semantic recall: insights are embedded
// and stored in a vector collection, and a new session's goal pulls back the
// closest past findings for the same agent type.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/embedding"
	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/vectorstore"
)

// DefaultCollection holds one point per insight.
const DefaultCollection = "agent_insights"

// VectorStore is the subset of the Qdrant client the index uses.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64, indexed ...string) error
	Upsert(ctx context.Context, collection string, points ...vectorstore.Point) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64, match map[string]string) ([]vectorstore.SearchResult, error)
}

// InsightIndex implements memory.Index over an embedder and a vector store.
type InsightIndex struct {
	embedder   embedding.Provider
	store      VectorStore
	collection string
	minScore   float32
	logger     *zap.Logger
}

var _ memory.Index = (*InsightIndex)(nil)

// NewInsightIndex creates an index writing to collection (DefaultCollection
// when empty). Hits scoring below minScore are dropped.
func NewInsightIndex(embedder embedding.Provider, store VectorStore, collection string, minScore float32, logger *zap.Logger) *InsightIndex {
	if collection == "" {
		collection = DefaultCollection
	}
	return &InsightIndex{
		embedder:   embedder,
		store:      store,
		collection: collection,
		minScore:   minScore,
		logger:     logger.With(zap.String("component", "insight_index")),
	}
}

// Init ensures the collection exists with a keyword index on agent_type.
func (x *InsightIndex) Init(ctx context.Context) error {
	dim := uint64(x.embedder.Dimension())
	if dim == 0 {
		dim = 1536
	}
	if err := x.store.EnsureCollection(ctx, x.collection, dim, "agent_type"); err != nil {
		return fmt.Errorf("init collection %s: %w", x.collection, err)
	}
	return nil
}

// Index embeds in and upserts it under its own id.
func (x *InsightIndex) Index(ctx context.Context, in *memory.Insight) error {
	vectors, err := x.embedder.Embed(ctx, []string{Document(in)})
	if err != nil {
		return fmt.Errorf("embed insight: %w", err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("embed insight: empty embedding result")
	}
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal insight: %w", err)
	}
	return x.store.Upsert(ctx, x.collection, vectorstore.Point{
		ID:     in.ID,
		Vector: vectors[0],
		Payload: map[string]string{
			"agent_type": in.AgentType,
			"category":   in.Category,
			"severity":   string(in.Severity),
			"insight":    string(data),
		},
	})
}

// Similar returns up to k insights of agentType closest to text, best first.
func (x *InsightIndex) Similar(ctx context.Context, agentType, text string, k int) ([]*memory.Insight, error) {
	if k <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vectors, err := x.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	hits, err := x.store.Search(ctx, x.collection, vectors[0], uint64(k), map[string]string{"agent_type": agentType})
	if err != nil {
		return nil, err
	}

	out := make([]*memory.Insight, 0, len(hits))
	for _, h := range hits {
		if h.Score < x.minScore {
			continue
		}
		var in memory.Insight
		if err := json.Unmarshal([]byte(h.Payload["insight"]), &in); err != nil {
			x.logger.Warn("skip undecodable point", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		out = append(out, &in)
	}
	return out, nil
}

// Document is the text embedded for an insight.
func Document(in *memory.Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s/%s] %s", in.Category, in.Severity, in.Title)
	if in.Description != "" {
		b.WriteString("\n" + in.Description)
	}
	if in.Recommendation != "" {
		b.WriteString("\nRecommendation: " + in.Recommendation)
	}
	return b.String()
}
