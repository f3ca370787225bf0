package report

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/agent"
	"github.com/neurokid/insight-agents/internal/provider"
)

// LLM is the chat surface the generator needs.
type LLM interface {
	Chat(ctx context.Context, route string, req *provider.ChatRequest) *provider.Response
}

// Input is everything the generator reads from a finished execution.
type Input struct {
	Config        agent.Config
	Session       *agent.Session
	CollectedData map[string]interface{}
	ToolsUsed     []string
	ExecutionTime time.Duration
	IncludeTrace  bool
}

// Generator produces executive reports.
type Generator struct {
	llm    LLM
	logger *zap.Logger
	now    func() time.Time
}

// NewGenerator creates a report generator.
func NewGenerator(llm LLM, logger *zap.Logger) *Generator {
	return &Generator{
		llm:    llm,
		logger: logger.With(zap.String("component", "report")),
		now:    time.Now,
	}
}

// Generate asks the model for a draft and validates it into a report. A
// missing or malformed draft still yields a report built from session data.
func (g *Generator) Generate(ctx context.Context, in Input) *ExecutiveReport {
	s := in.Session
	draft := g.draft(ctx, in)

	metrics := coerceMetrics(field(draft, "keyMetrics", "key_metrics"))
	risks := coerceRisks(field(draft, "detectedRisks", "detected_risks", "risks"))
	recs := coerceRecommendations(field(draft, "recommendations"))
	coreSections := len(metrics) > 0 && len(risks) > 0 && len(recs) > 0

	if len(metrics) < minMetrics {
		metrics = backfillMetrics(metrics, in.CollectedData)
	}

	sources := make([]string, 0, len(in.CollectedData))
	for name := range in.CollectedData {
		sources = append(sources, name)
	}
	sort.Strings(sources)

	r := &ExecutiveReport{
		AgentType:          string(in.Config.Type),
		GeneratedAt:        g.now().UTC(),
		SessionID:          s.ID,
		ExecutiveSummary:   text(field(draft, "executiveSummary", "executive_summary", "summary")),
		KeyMetrics:         capMetrics(metrics),
		TrendAnalysis:      capSection(coerceTrends(field(draft, "trendAnalysis", "trend_analysis", "trends"))),
		DetectedRisks:      capSection(risks),
		RootCauses:         capSection(coerceRootCauses(field(draft, "rootCauses", "root_causes"))),
		Recommendations:    capSection(recs),
		ReasoningSteps:     s.CurrentStep,
		ToolsUsed:          nonNil(in.ToolsUsed),
		DataSourcesQueried: sources,
		ExecutionTimeMs:    in.ExecutionTime.Milliseconds(),
	}
	r.KeyMetrics = emptyIfNil(r.KeyMetrics)
	r.TrendAnalysis = emptyIfNil(r.TrendAnalysis)
	r.DetectedRisks = emptyIfNil(r.DetectedRisks)
	r.RootCauses = emptyIfNil(r.RootCauses)
	r.Recommendations = emptyIfNil(r.Recommendations)
	if r.ExecutiveSummary == "" {
		r.ExecutiveSummary = s.FinalConclusion
	}
	if r.ExecutiveSummary == "" {
		r.ExecutiveSummary = fmt.Sprintf("The %s analysis produced no conclusion.", in.Config.Name)
	}
	r.ConfidenceScore, r.ConfidenceFactors = Confidence(len(sources), s.CurrentStep, coreSections,
		s.Status == agent.StatusCompleted)
	if in.IncludeTrace {
		r.ReasoningTrace = s.Steps
	}

	g.logger.Info("report generated",
		zap.String("agent", r.AgentType),
		zap.String("session", r.SessionID),
		zap.Int("metrics", len(r.KeyMetrics)),
		zap.Int("risks", len(r.DetectedRisks)),
		zap.Float64("confidence", r.ConfidenceScore))
	return r
}

// Confidence scores a report independently of what the model claimed.
func Confidence(dataSources, steps int, coreSections, completed bool) (float64, []ConfidenceFactor) {
	factors := []ConfidenceFactor{
		{
			Factor:      "data_sources",
			Weight:      0.3,
			Score:       math.Min(float64(dataSources)/3, 1),
			Description: fmt.Sprintf("%d data sources returned data", dataSources),
		},
		{
			Factor:      "reasoning_depth",
			Weight:      0.25,
			Score:       math.Min(float64(steps)/5, 1),
			Description: fmt.Sprintf("%d reasoning steps taken", steps),
		},
		{
			Factor:      "report_completeness",
			Weight:      0.25,
			Score:       boolScore(coreSections),
			Description: "metrics, risks and recommendations all present",
		},
		{
			Factor:      "session_completion",
			Weight:      0.2,
			Score:       boolScore(completed),
			Description: "reasoning session completed without failure",
		},
	}
	total := 0.0
	for _, f := range factors {
		total += f.Weight * f.Score
	}
	return clamp01(total), factors
}

func (g *Generator) draft(ctx context.Context, in Input) map[string]interface{} {
	resp := g.llm.Chat(ctx, string(in.Config.Type), &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: in.Config.SystemPrompt},
			{Role: "user", Content: draftPrompt(in)},
		},
		Temperature:    in.Config.Temperature,
		ResponseFormat: provider.JSONObject,
	})
	if resp.Failed() {
		g.logger.Warn("report draft call failed", zap.Error(resp.Err))
		return map[string]interface{}{}
	}
	obj, err := provider.DecodeJSONObject(resp.Content)
	if err != nil {
		g.logger.Warn("report draft unparseable", zap.Error(err))
		return map[string]interface{}{}
	}
	return obj
}

func draftPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n\n", in.Session.Goal.Description)
	fmt.Fprintf(&b, "Conclusion of the analysis:\n%s\n\n", in.Session.FinalConclusion)
	b.WriteString("Collected data:\n")
	data, err := json.Marshal(in.CollectedData)
	if err != nil {
		data = []byte("{}")
	}
	b.WriteString(truncate(string(data), 8000))
	b.WriteString("\n\nWrite an executive report as a JSON object with these fields:\n")
	b.WriteString(`{"executiveSummary": string,
 "keyMetrics": [{"name": string, "value": number, "unit": string, "change": number, "trend": "up|down|stable"}],
 "trendAnalysis": [{"metric": string, "direction": "up|down|stable", "magnitude": "minor|moderate|significant", "description": string, "period": string}],
 "detectedRisks": [{"title": string, "description": string, "severity": "low|medium|high|critical", "affectedArea": string, "evidence": [string]}],
 "rootCauses": [{"issue": string, "cause": string, "evidence": [string], "confidence": number}],
 "recommendations": [{"title": string, "description": string, "priority": "low|medium|high|critical", "effort": "low|medium|high", "expectedImpact": string, "category": string}]}`)
	b.WriteString("\nUse only numbers that appear in the collected data.")
	return b.String()
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

func nonNil(list []string) []string {
	return emptyIfNil(list)
}

func emptyIfNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
