// Package controller owns the agent personas and runs executions end to end.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neurokid/insight-agents/internal/agent"
	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/metrics"
	"github.com/neurokid/insight-agents/internal/report"
)

var (
	ErrUnknownAgent  = errors.New("unknown agent type")
	ErrAgentDisabled = errors.New("agent disabled")
)

// Insight categories written back after a run.
const (
	CategoryRisk           = "RISK"
	CategoryRecommendation = "RECOMMENDATION"
)

// Tools is the registry surface the controller needs.
type Tools interface {
	agent.Tools
	RegisterForAgent(agentType string, names []string)
}

// Notifier receives reports of successful runs that contain critical risks.
type Notifier interface {
	Notify(ctx context.Context, r *report.ExecutiveReport) error
}

// RunPublisher receives an event after every execution.
type RunPublisher interface {
	PublishRun(ctx context.Context, ev RunEvent) error
}

// Publishers fans one event out to several publishers.
type Publishers []RunPublisher

func (ps Publishers) PublishRun(ctx context.Context, ev RunEvent) error {
	var errs []error
	for _, p := range ps {
		if err := p.PublishRun(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReportArchive stores generated reports.
type ReportArchive interface {
	SaveReport(ctx context.Context, r *report.ExecutiveReport) error
}

// RunEvent summarizes a finished execution.
type RunEvent struct {
	SessionID     string     `json:"session_id"`
	AgentType     agent.Type `json:"agent_type"`
	Success       bool       `json:"success"`
	Error         string     `json:"error,omitempty"`
	Confidence    float64    `json:"confidence"`
	Steps         int        `json:"steps"`
	CriticalRisks int        `json:"critical_risks"`
	InsightsSaved int        `json:"insights_saved"`
	DurationMs    int64      `json:"duration_ms"`
	CompletedAt   time.Time  `json:"completed_at"`
}

// Override adjusts a built-in persona. Zero values keep the default.
type Override struct {
	Enabled     *bool
	MaxSteps    int
	Temperature *float64
	Schedule    string
}

// Options configures a Controller.
type Options struct {
	Overrides      map[agent.Type]Override
	MaxConcurrency int
	Notifier       Notifier
	Publisher      RunPublisher
	Archive        ReportArchive
	Collector      *metrics.Collector
}

// Input requests one execution. A nil Goal uses the persona's default.
type Input struct {
	AgentType    agent.Type  `json:"agent_type"`
	Goal         *agent.Goal `json:"goal,omitempty"`
	IncludeTrace bool        `json:"include_trace,omitempty"`
}

// Result is the outcome of one execution. Callers branch on Success.
type Result struct {
	AgentType  agent.Type              `json:"agent_type"`
	Success    bool                    `json:"success"`
	Report     *report.ExecutiveReport `json:"report,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Session    *agent.Session          `json:"session,omitempty"`
	InsightIDs []string                `json:"insight_ids,omitempty"`
}

// Controller holds the persona tables and runs executions. The tables are
// written once in New and only read afterwards.
type Controller struct {
	configs map[agent.Type]agent.Config
	goals   map[agent.Type]agent.Goal
	order   []agent.Type

	llm       agent.LLM
	tools     Tools
	long      *memory.LongTerm
	reports   *report.Generator
	opts      Options
	collector *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a controller over the built-in personas with opts.Overrides applied
// and registers each persona's tool allowlist with tools.
func New(llm agent.LLM, tools Tools, long *memory.LongTerm, opts Options, logger *zap.Logger) *Controller {
	c := &Controller{
		configs:   make(map[agent.Type]agent.Config),
		goals:     DefaultGoals(),
		llm:       llm,
		tools:     tools,
		long:      long,
		reports:   report.NewGenerator(llm, logger),
		opts:      opts,
		collector: opts.Collector,
		logger:    logger.With(zap.String("component", "controller")),
		now:       time.Now,
	}
	for _, cfg := range DefaultAgents() {
		cfg = c.applyOverride(cfg, opts.Overrides[cfg.Type])
		c.configs[cfg.Type] = cfg
		c.order = append(c.order, cfg.Type)
		tools.RegisterForAgent(string(cfg.Type), cfg.AllowedTools)
	}
	return c
}

func (c *Controller) applyOverride(cfg agent.Config, o Override) agent.Config {
	if o.Enabled != nil {
		cfg.Enabled = *o.Enabled
	}
	if o.MaxSteps > 0 {
		cfg.MaxSteps = o.MaxSteps
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.Schedule != "" {
		if ValidSchedule(o.Schedule) {
			cfg.Schedule = o.Schedule
		} else {
			c.logger.Warn("ignoring invalid schedule override",
				zap.String("agent", string(cfg.Type)), zap.String("schedule", o.Schedule))
		}
	}
	return cfg
}

// ValidSchedule reports whether s is a named cadence or a standard cron expression.
func ValidSchedule(s string) bool {
	for _, c := range Cadences {
		if s == c {
			return true
		}
	}
	_, err := cron.ParseStandard(s)
	return err == nil
}

// Configs returns every persona in display order.
func (c *Controller) Configs() []agent.Config {
	out := make([]agent.Config, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.configs[t])
	}
	return out
}

// Config returns the persona for t.
func (c *Controller) Config(t agent.Type) (agent.Config, bool) {
	cfg, ok := c.configs[t]
	return cfg, ok
}

// DefaultGoal returns the goal t pursues when none is given.
func (c *Controller) DefaultGoal(t agent.Type) (agent.Goal, bool) {
	g, ok := c.goals[t]
	return g, ok
}

// Resolve checks that t exists and is enabled.
func (c *Controller) Resolve(t agent.Type) (agent.Config, error) {
	cfg, ok := c.configs[t]
	if !ok {
		return agent.Config{}, fmt.Errorf("%w: %s", ErrUnknownAgent, t)
	}
	if !cfg.Enabled {
		return cfg, fmt.Errorf("%w: %s", ErrAgentDisabled, t)
	}
	return cfg, nil
}

// Execute runs one agent to completion and generates its report. Unknown and
// disabled agent types fail immediately without touching the LLM or any tool.
func (c *Controller) Execute(ctx context.Context, in Input) *Result {
	cfg, err := c.Resolve(in.AgentType)
	switch {
	case errors.Is(err, ErrUnknownAgent):
		return &Result{AgentType: in.AgentType, Error: fmt.Sprintf("Unknown agent type: %s", in.AgentType)}
	case errors.Is(err, ErrAgentDisabled):
		return &Result{AgentType: in.AgentType, Error: fmt.Sprintf("Agent %s is disabled", in.AgentType)}
	}

	goal := c.goals[cfg.Type]
	if in.Goal != nil && in.Goal.Description != "" {
		goal = *in.Goal
	}

	start := c.now()
	log := c.logger.With(zap.String("agent", string(cfg.Type)))
	log.Info("execution started", zap.String("goal", goal.Description))

	mem := memory.NewManager(string(cfg.Type), c.long)
	eng := agent.NewEngine(cfg, c.llm, c.tools, mem, c.logger)
	out := eng.Run(ctx, goal)

	rep := c.reports.Generate(ctx, report.Input{
		Config:        cfg,
		Session:       out.Session,
		CollectedData: out.CollectedData,
		ToolsUsed:     out.ToolsUsed,
		ExecutionTime: c.now().Sub(start),
		IncludeTrace:  in.IncludeTrace,
	})

	res := &Result{AgentType: cfg.Type, Report: rep, Session: out.Session}
	if out.Err != nil {
		res.Error = out.Err.Error()
		log.Warn("execution failed", zap.Error(out.Err))
	} else {
		res.Success = true
		res.InsightIDs = c.persist(ctx, cfg, rep)
	}

	elapsed := c.now().Sub(start)
	c.collector.RecordAgentRun(string(cfg.Type), res.Success, elapsed, out.Session.CurrentStep, rep.ConfidenceScore)
	log.Info("execution finished",
		zap.Bool("success", res.Success),
		zap.Int("steps", out.Session.CurrentStep),
		zap.Float64("confidence", rep.ConfidenceScore),
		zap.Duration("elapsed", elapsed))

	c.afterRun(ctx, res, elapsed)
	return res
}

// persist writes high-severity risks and high-priority recommendations to
// long-term memory and returns the new insight ids.
func (c *Controller) persist(ctx context.Context, cfg agent.Config, rep *report.ExecutiveReport) []string {
	metricsMap := make(map[string]float64, len(rep.KeyMetrics))
	for _, m := range rep.KeyMetrics {
		metricsMap[m.Name] = m.Value
	}

	var insights []*memory.Insight
	for _, r := range rep.DetectedRisks {
		sev, ok := insightSeverity(r.Severity)
		if !ok {
			continue
		}
		insights = append(insights, &memory.Insight{
			AgentType:   string(cfg.Type),
			Category:    CategoryRisk,
			Severity:    sev,
			Title:       r.Title,
			Description: r.Description,
			Metrics:     metricsMap,
			Confidence:  rep.ConfidenceScore,
		})
	}
	for _, r := range rep.Recommendations {
		sev, ok := insightSeverity(r.Priority)
		if !ok {
			continue
		}
		insights = append(insights, &memory.Insight{
			AgentType:      string(cfg.Type),
			Category:       CategoryRecommendation,
			Severity:       sev,
			Title:          r.Title,
			Description:    r.ExpectedImpact,
			Recommendation: r.Description,
			Confidence:     rep.ConfidenceScore,
		})
	}

	var ids []string
	for _, in := range insights {
		id, err := c.long.SaveInsight(ctx, in)
		if err != nil {
			c.logger.Warn("persist insight failed",
				zap.String("agent", string(cfg.Type)), zap.String("title", in.Title), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// insightSeverity maps a report level onto an insight severity. Only high and
// critical levels are persisted.
func insightSeverity(level string) (memory.Severity, bool) {
	switch level {
	case "critical":
		return memory.SeverityCritical, true
	case "high":
		return memory.SeverityWarning, true
	default:
		return "", false
	}
}

func (c *Controller) afterRun(ctx context.Context, res *Result, elapsed time.Duration) {
	if c.opts.Archive != nil {
		if err := c.opts.Archive.SaveReport(ctx, res.Report); err != nil {
			c.logger.Warn("archive report failed", zap.String("agent", string(res.AgentType)), zap.Error(err))
		}
	}
	critical := res.Report.CriticalRisks()
	if c.opts.Notifier != nil && res.Success && len(critical) > 0 {
		if err := c.opts.Notifier.Notify(ctx, res.Report); err != nil {
			c.logger.Warn("notify failed", zap.String("agent", string(res.AgentType)), zap.Error(err))
		}
	}
	if c.opts.Publisher != nil {
		ev := RunEvent{
			SessionID:     res.Session.ID,
			AgentType:     res.AgentType,
			Success:       res.Success,
			Error:         res.Error,
			Confidence:    res.Report.ConfidenceScore,
			Steps:         res.Session.CurrentStep,
			CriticalRisks: len(critical),
			InsightsSaved: len(res.InsightIDs),
			DurationMs:    elapsed.Milliseconds(),
			CompletedAt:   c.now().UTC(),
		}
		if err := c.opts.Publisher.PublishRun(ctx, ev); err != nil {
			c.logger.Warn("publish run failed", zap.String("agent", string(res.AgentType)), zap.Error(err))
		}
	}
}

// ExecuteMany runs inputs concurrently. Results keep the order of inputs and
// one failure never affects the others.
func (c *Controller) ExecuteMany(ctx context.Context, inputs []Input) []*Result {
	results := make([]*Result, len(inputs))
	var g errgroup.Group
	if c.opts.MaxConcurrency > 0 {
		g.SetLimit(c.opts.MaxConcurrency)
	}
	for i, in := range inputs {
		g.Go(func() error {
			results[i] = c.Execute(ctx, in)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ExecuteAll runs every enabled agent with its default goal.
func (c *Controller) ExecuteAll(ctx context.Context) []*Result {
	return c.ExecuteMany(ctx, c.inputs(func(agent.Config) bool { return true }))
}

// ExecuteBySchedule runs every enabled agent whose schedule is cadence.
func (c *Controller) ExecuteBySchedule(ctx context.Context, cadence string) []*Result {
	return c.ExecuteMany(ctx, c.inputs(func(cfg agent.Config) bool { return cfg.Schedule == cadence }))
}

func (c *Controller) inputs(match func(agent.Config) bool) []Input {
	var out []Input
	for _, t := range c.order {
		cfg := c.configs[t]
		if cfg.Enabled && match(cfg) {
			out = append(out, Input{AgentType: t})
		}
	}
	return out
}

// ResultsByType indexes results by agent type; later results win.
func ResultsByType(results []*Result) map[agent.Type]*Result {
	out := make(map[agent.Type]*Result, len(results))
	for _, r := range results {
		out[r.AgentType] = r
	}
	return out
}

// Summary counts successes and failures in results, sorted by agent type.
func Summary(results []*Result) (succeeded, failed []agent.Type) {
	for _, r := range results {
		if r.Success {
			succeeded = append(succeeded, r.AgentType)
		} else {
			failed = append(failed, r.AgentType)
		}
	}
	sort.Slice(succeeded, func(i, j int) bool { return succeeded[i] < succeeded[j] })
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	return succeeded, failed
}
