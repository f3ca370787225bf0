package memory

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a process-local InsightStore.
type InMemoryStore struct {
	mu       sync.RWMutex
	insights map[string]*Insight
	now      func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{insights: make(map[string]*Insight), now: time.Now}
}

// CreateInsight stores a copy of in.
func (s *InMemoryStore) CreateInsight(_ context.Context, in *Insight) (string, error) {
	cp := *in
	s.mu.Lock()
	s.insights[cp.ID] = &cp
	s.mu.Unlock()
	return cp.ID, nil
}

// QueryInsights filters, orders and limits the stored insights.
func (s *InMemoryStore) QueryInsights(_ context.Context, f InsightFilter) ([]*Insight, error) {
	s.mu.RLock()
	var out []*Insight
	for _, in := range s.insights {
		if f.Matches(in) {
			cp := *in
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	SortInsights(out, f.BySeverity)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ResolveInsight marks the insight resolved.
func (s *InMemoryStore) ResolveInsight(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.insights[id]
	if !ok {
		return ErrInsightNotFound
	}
	now := s.now().UTC()
	in.IsResolved = true
	in.ResolvedAt = &now
	return nil
}
