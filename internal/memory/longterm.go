package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInsightNotFound is returned when resolving an unknown insight.
var ErrInsightNotFound = errors.New("insight not found")

// Severity grades a persisted insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// Weight ranks severities: critical 3, warning 2, info 1.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	default:
		return 1
	}
}

// Insight is a persisted finding that outlives the session that produced it.
type Insight struct {
	ID             string             `json:"id"`
	AgentType      string             `json:"agent_type"`
	Category       string             `json:"category"`
	Severity       Severity           `json:"severity"`
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Recommendation string             `json:"recommendation,omitempty"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
	Confidence     float64            `json:"confidence"`
	CreatedAt      time.Time          `json:"created_at"`
	ResolvedAt     *time.Time         `json:"resolved_at,omitempty"`
	IsResolved     bool               `json:"is_resolved"`
}

// InsightFilter selects insights. Zero values mean "no constraint".
type InsightFilter struct {
	AgentType        string
	ExcludeAgentType string
	Category         string
	Severity         Severity
	Since            time.Time
	Until            time.Time
	UnresolvedOnly   bool
	Limit            int
	// BySeverity orders severity-desc then recency-desc instead of recency only.
	BySeverity bool
}

// Matches reports whether in satisfies the filter's predicates.
func (f InsightFilter) Matches(in *Insight) bool {
	if f.AgentType != "" && in.AgentType != f.AgentType {
		return false
	}
	if f.ExcludeAgentType != "" && in.AgentType == f.ExcludeAgentType {
		return false
	}
	if f.Category != "" && in.Category != f.Category {
		return false
	}
	if f.Severity != "" && in.Severity != f.Severity {
		return false
	}
	if !f.Since.IsZero() && in.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && in.CreatedAt.After(f.Until) {
		return false
	}
	if f.UnresolvedOnly && in.IsResolved {
		return false
	}
	return true
}

// SortInsights orders list in place per the filter's ordering.
func SortInsights(list []*Insight, bySeverity bool) {
	sort.SliceStable(list, func(i, j int) bool {
		if bySeverity {
			wi, wj := list[i].Severity.Weight(), list[j].Severity.Weight()
			if wi != wj {
				return wi > wj
			}
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// InsightStore is the persistence contract for long-term memory.
type InsightStore interface {
	CreateInsight(ctx context.Context, in *Insight) (string, error)
	QueryInsights(ctx context.Context, f InsightFilter) ([]*Insight, error)
	ResolveInsight(ctx context.Context, id string) error
}

// Index provides semantic recall over stored insights.
type Index interface {
	Index(ctx context.Context, in *Insight) error
	Similar(ctx context.Context, agentType, text string, k int) ([]*Insight, error)
}

// RecurringIssue summarizes repeated insights in one category.
type RecurringIssue struct {
	Category      string           `json:"category"`
	IsRecurring   bool             `json:"is_recurring"`
	Occurrences   int              `json:"occurrences"`
	WindowDays    int              `json:"window_days"`
	BySeverity    map[Severity]int `json:"by_severity"`
	WeightedScore int              `json:"weighted_score"`
	Pattern       string           `json:"pattern"`
	LatestTitles  []string         `json:"latest_titles,omitempty"`
}

// RecurringThreshold is the occurrence count at which an issue is recurring.
const RecurringThreshold = 3

const defaultQueryLimit = 50

// LongTerm is the cross-session memory shared by all executions.
type LongTerm struct {
	store  InsightStore
	index  Index
	logger *zap.Logger
	now    func() time.Time
}

// NewLongTerm wraps store. index may be nil.
func NewLongTerm(store InsightStore, index Index, logger *zap.Logger) *LongTerm {
	return &LongTerm{
		store:  store,
		index:  index,
		logger: logger.With(zap.String("component", "longterm")),
		now:    time.Now,
	}
}

// Now returns the clock reading used to timestamp insights.
func (l *LongTerm) Now() time.Time { return l.now().UTC() }

// SaveInsight persists in and returns its id.
func (l *LongTerm) SaveInsight(ctx context.Context, in *Insight) (string, error) {
	if in.AgentType == "" || in.Category == "" || in.Title == "" {
		return "", fmt.Errorf("save insight: agent type, category and title are required")
	}
	if !in.Severity.Valid() {
		return "", fmt.Errorf("save insight: invalid severity %q", in.Severity)
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = l.now().UTC()
	}
	in.Confidence = clamp01(in.Confidence)
	in.IsResolved = false
	in.ResolvedAt = nil

	id, err := l.store.CreateInsight(ctx, in)
	if err != nil {
		return "", fmt.Errorf("save insight: %w", err)
	}
	if l.index != nil {
		if err := l.index.Index(ctx, in); err != nil {
			l.logger.Warn("index insight failed", zap.String("id", id), zap.Error(err))
		}
	}
	l.logger.Debug("insight saved",
		zap.String("id", id),
		zap.String("agent", in.AgentType),
		zap.String("category", in.Category),
		zap.String("severity", string(in.Severity)))
	return id, nil
}

// QueryInsights returns matching insights, newest first unless f.BySeverity.
func (l *LongTerm) QueryInsights(ctx context.Context, f InsightFilter) ([]*Insight, error) {
	if f.Limit <= 0 {
		f.Limit = defaultQueryLimit
	}
	list, err := l.store.QueryInsights(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	return list, nil
}

// Resolve marks an insight resolved.
func (l *LongTerm) Resolve(ctx context.Context, id string) error {
	if err := l.store.ResolveInsight(ctx, id); err != nil {
		return fmt.Errorf("resolve insight %s: %w", id, err)
	}
	return nil
}

// CheckRecurringIssues counts insights of category within the last windowDays.
func (l *LongTerm) CheckRecurringIssues(ctx context.Context, category string, windowDays int) (*RecurringIssue, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	list, err := l.store.QueryInsights(ctx, InsightFilter{
		Category: category,
		Since:    l.now().Add(-time.Duration(windowDays) * 24 * time.Hour),
		Limit:    1000,
	})
	if err != nil {
		return nil, fmt.Errorf("check recurring %s: %w", category, err)
	}

	out := &RecurringIssue{
		Category:    category,
		Occurrences: len(list),
		WindowDays:  windowDays,
		BySeverity: map[Severity]int{
			SeverityCritical: 0, SeverityWarning: 0, SeverityInfo: 0,
		},
	}
	for i, in := range list {
		out.BySeverity[in.Severity]++
		out.WeightedScore += in.Severity.Weight()
		if i < 3 {
			out.LatestTitles = append(out.LatestTitles, in.Title)
		}
	}
	out.IsRecurring = out.Occurrences >= RecurringThreshold
	out.Pattern = fmt.Sprintf("%d occurrences of %s in the last %d days (critical: %d, warning: %d, info: %d; weighted score %d)",
		out.Occurrences, category, windowDays,
		out.BySeverity[SeverityCritical], out.BySeverity[SeverityWarning], out.BySeverity[SeverityInfo],
		out.WeightedScore)
	return out, nil
}

// CrossAgentInsights returns insights raised by agent types other than agentType,
// most severe first, then newest first.
func (l *LongTerm) CrossAgentInsights(ctx context.Context, agentType string, limit int) ([]*Insight, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.QueryInsights(ctx, InsightFilter{
		ExcludeAgentType: agentType,
		Limit:            limit,
		BySeverity:       true,
	})
}

// ContextFor gathers the insights a new session of agentType should plan with:
// the ten most recent, every unresolved one, and semantic matches for goal.
func (l *LongTerm) ContextFor(ctx context.Context, agentType, goal string) ([]*Insight, error) {
	recent, err := l.QueryInsights(ctx, InsightFilter{AgentType: agentType, Limit: 10})
	if err != nil {
		return nil, err
	}
	open, err := l.QueryInsights(ctx, InsightFilter{AgentType: agentType, UnresolvedOnly: true, Limit: 20})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []*Insight
	add := func(list []*Insight) {
		for _, in := range list {
			if !seen[in.ID] {
				seen[in.ID] = true
				out = append(out, in)
			}
		}
	}
	add(recent)
	add(open)

	if l.index != nil && goal != "" {
		similar, err := l.index.Similar(ctx, agentType, goal, 3)
		if err != nil {
			l.logger.Warn("semantic recall failed", zap.String("agent", agentType), zap.Error(err))
		} else {
			add(similar)
		}
	}
	return out, nil
}

// SummaryForLLM renders insights as a compact prompt section.
func SummaryForLLM(list []*Insight) string {
	if len(list) == 0 {
		return "No prior insights on record."
	}
	var b strings.Builder
	for _, in := range list {
		status := "open"
		if in.IsResolved {
			status = "resolved"
		}
		fmt.Fprintf(&b, "- [%s/%s, %s, %s] %s", in.Severity, in.Category, status,
			in.CreatedAt.Format("2006-01-02"), in.Title)
		if in.Description != "" {
			fmt.Fprintf(&b, ": %s", truncate(in.Description, 200))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Manager bundles a session's fresh short-term log with the shared long-term memory.
type Manager struct {
	AgentType string
	Short     *ShortTerm
	Long      *LongTerm
}

// NewManager creates the memory for one execution of agentType.
func NewManager(agentType string, long *LongTerm) *Manager {
	return &Manager{AgentType: agentType, Short: NewShortTerm(), Long: long}
}
