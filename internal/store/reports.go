package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neurokid/insight-agents/internal/agent"
	"github.com/neurokid/insight-agents/internal/controller"
	"github.com/neurokid/insight-agents/internal/report"
)

// SaveReport archives a generated report.
func (s *Store) SaveReport(ctx context.Context, r *report.ExecutiveReport) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_reports (session_id, agent_type, generated_at, confidence, report)
		VALUES ($1, $2, $3, $4, $5)`,
		r.SessionID, r.AgentType, r.GeneratedAt, r.ConfidenceScore, body,
	)
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.SessionID, err)
	}
	return nil
}

// ListReports returns the newest reports, optionally for one agent type.
func (s *Store) ListReports(ctx context.Context, agentType string, limit int) ([]*report.ExecutiveReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT report FROM agent_reports
		WHERE ($1 = '' OR agent_type = $1)
		ORDER BY generated_at DESC
		LIMIT $2`, agentType, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []*report.ExecutiveReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		var r report.ExecutiveReport
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// PublishRun records a finished execution in the run history.
func (s *Store) PublishRun(ctx context.Context, ev controller.RunEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agent_runs (session_id, agent_type, success, error, confidence, steps,
			critical_risks, insights_saved, duration_ms, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO NOTHING`,
		ev.SessionID, string(ev.AgentType), ev.Success, ev.Error, ev.Confidence, ev.Steps,
		ev.CriticalRisks, ev.InsightsSaved, ev.DurationMs, ev.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", ev.SessionID, err)
	}
	return nil
}

// ListRuns returns the newest runs, optionally for one agent type.
func (s *Store) ListRuns(ctx context.Context, agentType string, limit int) ([]controller.RunEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT session_id, agent_type, success, error, confidence, steps,
		       critical_risks, insights_saved, duration_ms, completed_at
		FROM agent_runs
		WHERE ($1 = '' OR agent_type = $1)
		ORDER BY completed_at DESC
		LIMIT $2`, agentType, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []controller.RunEvent
	for rows.Next() {
		var ev controller.RunEvent
		var t string
		if err := rows.Scan(&ev.SessionID, &t, &ev.Success, &ev.Error, &ev.Confidence, &ev.Steps,
			&ev.CriticalRisks, &ev.InsightsSaved, &ev.DurationMs, &ev.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ev.AgentType = agent.Type(t)
		out = append(out, ev)
	}
	return out, rows.Err()
}
