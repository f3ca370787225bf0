package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neurokid/insight-agents/internal/memory"
)

const insightColumns = `id, agent_type, category, severity, title, description, recommendation,
	metrics, confidence, created_at, resolved_at, is_resolved`

// CreateInsight inserts a long-term insight.
func (s *Store) CreateInsight(ctx context.Context, in *memory.Insight) (string, error) {
	metrics, err := json.Marshal(nonNilMetrics(in.Metrics))
	if err != nil {
		return "", fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_insights (id, agent_type, category, severity, title, description,
			recommendation, metrics, confidence, created_at, is_resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false)`,
		in.ID, in.AgentType, in.Category, string(in.Severity), in.Title, in.Description,
		in.Recommendation, metrics, in.Confidence, in.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert insight: %w", err)
	}
	return in.ID, nil
}

// QueryInsights returns insights matching f.
func (s *Store) QueryInsights(ctx context.Context, f memory.InsightFilter) ([]*memory.Insight, error) {
	query, args := insightQuery(f)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer rows.Close()

	var out []*memory.Insight
	for rows.Next() {
		var in memory.Insight
		var severity string
		var metrics []byte
		if err := rows.Scan(&in.ID, &in.AgentType, &in.Category, &severity, &in.Title,
			&in.Description, &in.Recommendation, &metrics, &in.Confidence, &in.CreatedAt,
			&in.ResolvedAt, &in.IsResolved); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		in.Severity = memory.Severity(severity)
		_ = json.Unmarshal(metrics, &in.Metrics)
		out = append(out, &in)
	}
	return out, rows.Err()
}

// ResolveInsight marks an insight resolved.
func (s *Store) ResolveInsight(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE agent_insights SET is_resolved = true, resolved_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("resolve insight: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrInsightNotFound
	}
	return nil
}

// insightQuery builds the SELECT for f with positional arguments.
func insightQuery(f memory.InsightFilter) (string, []interface{}) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.AgentType != "" {
		add("agent_type = $%d", f.AgentType)
	}
	if f.ExcludeAgentType != "" {
		add("agent_type <> $%d", f.ExcludeAgentType)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at <= $%d", f.Until)
	}
	if f.UnresolvedOnly {
		where = append(where, "is_resolved = false")
	}

	var b strings.Builder
	b.WriteString("SELECT " + insightColumns + " FROM agent_insights")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if f.BySeverity {
		b.WriteString(" ORDER BY CASE severity WHEN 'critical' THEN 3 WHEN 'warning' THEN 2 ELSE 1 END DESC, created_at DESC")
	} else {
		b.WriteString(" ORDER BY created_at DESC")
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func nonNilMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}
