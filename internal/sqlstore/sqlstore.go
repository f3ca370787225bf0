// Package sqlstore keeps long-term insights in an embedded SQLite file
// for single-node deployments that run without PostgreSQL.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/neurokid/insight-agents/internal/memory"
)

// insightRow is the table model. Times are stored as unix nanoseconds so
// range filters and ordering compare integers.
type insightRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	AgentType      string `gorm:"index;size:64;not null"`
	Category       string `gorm:"index;size:64;not null"`
	Severity       string `gorm:"size:16;not null"`
	Title          string `gorm:"not null"`
	Description    string
	Recommendation string
	Metrics        map[string]float64 `gorm:"serializer:json"`
	Confidence     float64
	CreatedNs      int64 `gorm:"index;not null"`
	ResolvedNs     *int64
	IsResolved     bool `gorm:"index;not null"`
}

func (insightRow) TableName() string { return "agent_insights" }

// Store implements memory.InsightStore on gorm.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ memory.InsightStore = (*Store)(nil)

// Open opens (or creates) the SQLite database at path and migrates it.
// Use ":memory:" for a throwaway database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// One connection: SQLite serializes writers and ":memory:" is per connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&insightRow{}); err != nil {
		return nil, fmt.Errorf("migrate insights: %w", err)
	}
	logger.Info("sqlite insight store ready", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateInsight inserts in.
func (s *Store) CreateInsight(ctx context.Context, in *memory.Insight) (string, error) {
	row := toRow(in)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", fmt.Errorf("insert insight: %w", err)
	}
	return in.ID, nil
}

// QueryInsights returns insights matching f.
func (s *Store) QueryInsights(ctx context.Context, f memory.InsightFilter) ([]*memory.Insight, error) {
	q := s.db.WithContext(ctx).Model(&insightRow{})
	if f.AgentType != "" {
		q = q.Where("agent_type = ?", f.AgentType)
	}
	if f.ExcludeAgentType != "" {
		q = q.Where("agent_type <> ?", f.ExcludeAgentType)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", string(f.Severity))
	}
	if !f.Since.IsZero() {
		q = q.Where("created_ns >= ?", f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		q = q.Where("created_ns <= ?", f.Until.UnixNano())
	}
	if f.UnresolvedOnly {
		q = q.Where("is_resolved = ?", false)
	}
	if f.BySeverity {
		q = q.Order("CASE severity WHEN 'critical' THEN 3 WHEN 'warning' THEN 2 ELSE 1 END DESC")
	}
	q = q.Order("created_ns DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []insightRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	out := make([]*memory.Insight, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

// ResolveInsight marks an insight resolved.
func (s *Store) ResolveInsight(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&insightRow{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_resolved": true,
			"resolved_ns": time.Now().UTC().UnixNano(),
		})
	if res.Error != nil {
		return fmt.Errorf("resolve insight: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return memory.ErrInsightNotFound
	}
	return nil
}

func toRow(in *memory.Insight) *insightRow {
	row := &insightRow{
		ID:             in.ID,
		AgentType:      in.AgentType,
		Category:       in.Category,
		Severity:       string(in.Severity),
		Title:          in.Title,
		Description:    in.Description,
		Recommendation: in.Recommendation,
		Metrics:        in.Metrics,
		Confidence:     in.Confidence,
		CreatedNs:      in.CreatedAt.UnixNano(),
		IsResolved:     in.IsResolved,
	}
	if row.Metrics == nil {
		row.Metrics = map[string]float64{}
	}
	if in.ResolvedAt != nil {
		ns := in.ResolvedAt.UnixNano()
		row.ResolvedNs = &ns
	}
	return row
}

func fromRow(row *insightRow) *memory.Insight {
	in := &memory.Insight{
		ID:             row.ID,
		AgentType:      row.AgentType,
		Category:       row.Category,
		Severity:       memory.Severity(row.Severity),
		Title:          row.Title,
		Description:    row.Description,
		Recommendation: row.Recommendation,
		Metrics:        row.Metrics,
		Confidence:     row.Confidence,
		CreatedAt:      time.Unix(0, row.CreatedNs).UTC(),
		IsResolved:     row.IsResolved,
	}
	if row.ResolvedNs != nil {
		t := time.Unix(0, *row.ResolvedNs).UTC()
		in.ResolvedAt = &t
	}
	return in
}
