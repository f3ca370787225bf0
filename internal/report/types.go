// Package report turns a finished reasoning session into a validated
// executive report.
package report

import (
	"time"

	"github.com/neurokid/insight-agents/internal/memory"
)

// Closed vocabularies and their defaults.
var (
	Severities = []string{"low", "medium", "high", "critical"}
	Priorities = []string{"low", "medium", "high", "critical"}
	Efforts    = []string{"low", "medium", "high"}
	Directions = []string{"up", "down", "stable"}
	Magnitudes = []string{"minor", "moderate", "significant"}
)

const (
	defaultSeverity  = "medium"
	defaultPriority  = "medium"
	defaultEffort    = "medium"
	defaultDirection = "stable"
	defaultMagnitude = "moderate"

	maxMetrics = 10
	maxSection = 5
	minMetrics = 3
)

// KeyMetric is one headline number.
type KeyMetric struct {
	Name        string   `json:"name"`
	Value       float64  `json:"value"`
	Unit        string   `json:"unit,omitempty"`
	Change      *float64 `json:"change,omitempty"`
	Trend       string   `json:"trend,omitempty"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// TrendAnalysis describes how a metric is moving.
type TrendAnalysis struct {
	Metric      string `json:"metric"`
	Direction   string `json:"direction"`
	Magnitude   string `json:"magnitude"`
	Description string `json:"description,omitempty"`
	Period      string `json:"period,omitempty"`
}

// DetectedRisk is a problem the agent found.
type DetectedRisk struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Severity     string   `json:"severity"`
	AffectedArea string   `json:"affected_area,omitempty"`
	Evidence     []string `json:"evidence,omitempty"`
}

// RootCause explains a risk or trend.
type RootCause struct {
	Issue      string   `json:"issue"`
	Cause      string   `json:"cause,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Recommendation is a proposed action.
type Recommendation struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Priority       string `json:"priority"`
	Effort         string `json:"effort"`
	ExpectedImpact string `json:"expected_impact,omitempty"`
	Category       string `json:"category,omitempty"`
}

// ConfidenceFactor explains one weighted term of the confidence score.
type ConfidenceFactor struct {
	Factor      string  `json:"factor"`
	Weight      float64 `json:"weight"`
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

// ExecutiveReport is the structured output of one execution.
type ExecutiveReport struct {
	AgentType          string               `json:"agent_type"`
	GeneratedAt        time.Time            `json:"generated_at"`
	SessionID          string               `json:"session_id"`
	ExecutiveSummary   string               `json:"executive_summary"`
	KeyMetrics         []KeyMetric          `json:"key_metrics"`
	TrendAnalysis      []TrendAnalysis      `json:"trend_analysis"`
	DetectedRisks      []DetectedRisk       `json:"detected_risks"`
	RootCauses         []RootCause          `json:"root_causes"`
	Recommendations    []Recommendation     `json:"recommendations"`
	ConfidenceScore    float64              `json:"confidence_score"`
	ConfidenceFactors  []ConfidenceFactor   `json:"confidence_factors"`
	ReasoningSteps     int                  `json:"reasoning_steps"`
	ToolsUsed          []string             `json:"tools_used"`
	DataSourcesQueried []string             `json:"data_sources_queried"`
	ExecutionTimeMs    int64                `json:"execution_time_ms"`
	ReasoningTrace     []memory.ThoughtStep `json:"reasoning_trace,omitempty"`
}

// CriticalRisks returns the risks rated critical.
func (r *ExecutiveReport) CriticalRisks() []DetectedRisk {
	var out []DetectedRisk
	for _, risk := range r.DetectedRisks {
		if risk.Severity == "critical" {
			out = append(out, risk)
		}
	}
	return out
}
