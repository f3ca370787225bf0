package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// GraphStore keeps insights in Neo4j as (:Insight)-[:RAISED_BY]->(:AgentType).
type GraphStore struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewGraphStore connects to Neo4j.
func NewGraphStore(uri, user, password string, logger *zap.Logger) (*GraphStore, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &GraphStore{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *GraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *GraphStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraint and lookup index.
func (s *GraphStore) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT insight_id IF NOT EXISTS FOR (i:Insight) REQUIRE i.id IS UNIQUE`,
		`CREATE INDEX insight_category IF NOT EXISTS FOR (i:Insight) ON (i.category, i.created_at)`,
	} {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

// CreateInsight stores in and links it to its agent type.
func (s *GraphStore) CreateInsight(ctx context.Context, in *Insight) (string, error) {
	metrics, err := json.Marshal(in.Metrics)
	if err != nil {
		return "", fmt.Errorf("marshal metrics: %w", err)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err = session.Run(ctx,
		`MERGE (a:AgentType {name: $agentType})
		CREATE (i:Insight {
			id: $id, agent_type: $agentType, category: $category,
			severity: $severity, severity_weight: $weight,
			title: $title, description: $desc, recommendation: $rec,
			metrics: $metrics, confidence: $confidence,
			created_at: $createdAt, is_resolved: false
		})-[:RAISED_BY]->(a)`,
		map[string]interface{}{
			"id":         in.ID,
			"agentType":  in.AgentType,
			"category":   in.Category,
			"severity":   string(in.Severity),
			"weight":     in.Severity.Weight(),
			"title":      in.Title,
			"desc":       in.Description,
			"rec":        in.Recommendation,
			"metrics":    string(metrics),
			"confidence": in.Confidence,
			"createdAt":  in.CreatedAt.UnixMilli(),
		})
	if err != nil {
		return "", fmt.Errorf("create insight node: %w", err)
	}
	return in.ID, nil
}

// QueryInsights translates the filter into a Cypher query.
func (s *GraphStore) QueryInsights(ctx context.Context, f InsightFilter) ([]*Insight, error) {
	var where []string
	params := map[string]interface{}{}
	if f.AgentType != "" {
		where = append(where, "i.agent_type = $agentType")
		params["agentType"] = f.AgentType
	}
	if f.ExcludeAgentType != "" {
		where = append(where, "i.agent_type <> $excludeType")
		params["excludeType"] = f.ExcludeAgentType
	}
	if f.Category != "" {
		where = append(where, "i.category = $category")
		params["category"] = f.Category
	}
	if f.Severity != "" {
		where = append(where, "i.severity = $severity")
		params["severity"] = string(f.Severity)
	}
	if !f.Since.IsZero() {
		where = append(where, "i.created_at >= $since")
		params["since"] = f.Since.UnixMilli()
	}
	if !f.Until.IsZero() {
		where = append(where, "i.created_at <= $until")
		params["until"] = f.Until.UnixMilli()
	}
	if f.UnresolvedOnly {
		where = append(where, "i.is_resolved = false")
	}

	cypher := "MATCH (i:Insight)"
	if len(where) > 0 {
		cypher += " WHERE " + strings.Join(where, " AND ")
	}
	cypher += " RETURN i"
	if f.BySeverity {
		cypher += " ORDER BY i.severity_weight DESC, i.created_at DESC"
	} else {
		cypher += " ORDER BY i.created_at DESC"
	}
	if f.Limit > 0 {
		cypher += " LIMIT $limit"
		params["limit"] = f.Limit
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}

	var out []*Insight
	for result.Next(ctx) {
		raw, ok := result.Record().Get("i")
		if !ok {
			continue
		}
		node, ok := raw.(neo4j.Node)
		if !ok {
			continue
		}
		out = append(out, insightFromProps(node.Props))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read insights: %w", err)
	}
	return out, nil
}

// ResolveInsight marks the insight resolved.
func (s *GraphStore) ResolveInsight(ctx context.Context, id string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (i:Insight {id: $id})
		SET i.is_resolved = true, i.resolved_at = $now
		RETURN i.id`,
		map[string]interface{}{"id": id, "now": time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("resolve insight: %w", err)
	}
	if !result.Next(ctx) {
		return ErrInsightNotFound
	}
	return nil
}

func insightFromProps(p map[string]interface{}) *Insight {
	in := &Insight{
		ID:             propString(p, "id"),
		AgentType:      propString(p, "agent_type"),
		Category:       propString(p, "category"),
		Severity:       Severity(propString(p, "severity")),
		Title:          propString(p, "title"),
		Description:    propString(p, "description"),
		Recommendation: propString(p, "recommendation"),
	}
	if v, ok := p["confidence"].(float64); ok {
		in.Confidence = v
	}
	if v, ok := p["created_at"].(int64); ok {
		in.CreatedAt = time.UnixMilli(v).UTC()
	}
	if v, ok := p["is_resolved"].(bool); ok {
		in.IsResolved = v
	}
	if v, ok := p["resolved_at"].(int64); ok {
		t := time.UnixMilli(v).UTC()
		in.ResolvedAt = &t
	}
	if raw := propString(p, "metrics"); raw != "" && raw != "null" {
		_ = json.Unmarshal([]byte(raw), &in.Metrics)
	}
	return in
}

func propString(p map[string]interface{}, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}
