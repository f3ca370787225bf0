package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/provider"
	"github.com/neurokid/insight-agents/internal/tool"
)

// LLM is the chat surface the engine needs. *provider.Client implements it.
type LLM interface {
	Chat(ctx context.Context, route string, req *provider.ChatRequest) *provider.Response
}

// Tools is the tool surface the engine needs. *tool.Registry implements it.
type Tools interface {
	ForAgent(agentType string) []tool.Schema
	ToLLMFormat(agentType string) []provider.Tool
	ValidateInput(name string, input map[string]interface{}) tool.Validation
	Execute(ctx context.Context, name string, input map[string]interface{}) *tool.Result
}

const (
	// promptHistoryEntries bounds the short-term memory rendered per step.
	promptHistoryEntries   = 20
	maxCollectedDataChars  = 8000
	fallbackEstimatedSteps = 5
)

var fallbackSubGoals = []string{
	"Collect baseline metrics relevant to the goal",
	"Identify notable changes, anomalies or risks in the data",
	"Investigate likely root causes using additional data sources",
	"Formulate prioritized, actionable recommendations",
}

// Engine runs one ReAct session. Create a new Engine per execution.
type Engine struct {
	cfg    Config
	llm    LLM
	tools  Tools
	mem    *memory.Manager
	logger *zap.Logger

	session   *Session
	progress  Progress
	collected map[string]interface{}
	toolsUsed []string
	now       func() time.Time
}

// NewEngine wires an engine for cfg.
func NewEngine(cfg Config, llm LLM, tools Tools, mem *memory.Manager, logger *zap.Logger) *Engine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	return &Engine{
		cfg:       cfg,
		llm:       llm,
		tools:     tools,
		mem:       mem,
		collected: make(map[string]interface{}),
		now:       time.Now,
		logger:    logger.With(zap.String("agent", string(cfg.Type))),
	}
}

// Run plans, loops and concludes. It never panics; failures are reported
// through Outcome.Err with the session in StatusFailed.
func (e *Engine) Run(ctx context.Context, goal Goal) (out *Outcome) {
	e.session = &Session{
		ID:        uuid.New().String(),
		AgentType: e.cfg.Type,
		StartedAt: e.now().UTC(),
		Goal:      goal,
		MaxSteps:  e.cfg.MaxSteps,
		Status:    StatusPlanning,
		Memory:    e.mem.Short,
	}
	e.logger = e.logger.With(zap.String("session", e.session.ID))
	e.progress.MaxSteps = e.cfg.MaxSteps

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("reasoning session panicked: %v", r)
			e.logger.Error("session panicked", zap.Any("panic", r))
			e.fail(err)
			out = e.outcome(err)
		}
	}()

	if _, err := e.PlanAnalysis(ctx, goal); err != nil {
		e.fail(err)
		return e.outcome(err)
	}
	if err := e.RunReasoningLoop(ctx); err != nil {
		e.fail(err)
		return e.outcome(err)
	}
	if err := e.GenerateConclusion(ctx); err != nil {
		e.fail(err)
		return e.outcome(err)
	}
	return e.outcome(nil)
}

// Session returns the live session.
func (e *Engine) Session() *Session { return e.session }

// PlanAnalysis decomposes goal with help from long-term memory. An unusable
// model answer yields the fixed fallback plan.
func (e *Engine) PlanAnalysis(ctx context.Context, goal Goal) (*Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agentType := string(e.cfg.Type)
	schemas := e.tools.ForAgent(agentType)
	allowed := make([]string, len(schemas))
	for i, s := range schemas {
		allowed[i] = s.Name
	}

	memories, err := e.mem.Long.ContextFor(ctx, agentType, goal.Description)
	if err != nil {
		e.logger.Warn("long-term recall failed, planning without memory", zap.Error(err))
		memories = nil
	}

	resp := e.llm.Chat(ctx, agentType, &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: e.cfg.SystemPrompt},
			{Role: "user", Content: planPrompt(goal, schemas, memories, e.cfg.MaxSteps)},
		},
		Temperature:    e.cfg.Temperature,
		ResponseFormat: provider.JSONObject,
	})

	plan, ok := parsePlan(resp, allowed, e.cfg.MaxSteps)
	if !ok {
		e.logger.Info("using fallback plan", zap.Bool("llm_failed", resp.Failed()))
		plan = &Plan{
			SubGoals:       append([]string(nil), fallbackSubGoals...),
			EstimatedSteps: fallbackEstimatedSteps,
			RequiredTools:  allowed,
			Fallback:       true,
		}
	}
	plan.Goal = goal.Description
	plan.RelevantMemories = memories
	e.session.Plan = plan

	e.mem.Short.AddThought(fmt.Sprintf("Plan: %s. Estimated steps: %d. Key tools: %s.",
		strings.Join(plan.SubGoals, "; "), plan.EstimatedSteps, strings.Join(plan.RequiredTools, ", ")), 0.5)
	e.logger.Info("plan ready",
		zap.Int("sub_goals", len(plan.SubGoals)),
		zap.Int("estimated_steps", plan.EstimatedSteps),
		zap.Int("memories", len(memories)))
	return plan, nil
}

// RunReasoningLoop iterates think/act/observe until the budget is spent, the
// model concludes, or enough data has been gathered.
func (e *Engine) RunReasoningLoop(ctx context.Context) error {
	if e.session.Plan == nil {
		return errors.New("reasoning loop started without a plan")
	}
	e.session.Status = StatusExecuting
	agentType := string(e.cfg.Type)
	llmTools := e.tools.ToLLMFormat(agentType)
	allowed := make(map[string]bool, len(llmTools))
	for _, t := range llmTools {
		allowed[t.Function.Name] = true
	}
	summary := memory.SummaryForLLM(e.session.Plan.RelevantMemories)

	for step := 1; step <= e.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}
		e.session.CurrentStep = step
		e.progress.Step = step

		req := &provider.ChatRequest{
			Messages: []provider.Message{
				{Role: "system", Content: e.cfg.SystemPrompt},
				{Role: "user", Content: e.stepPrompt(summary)},
			},
			Temperature: e.cfg.Temperature,
		}
		if len(llmTools) > 0 {
			req.Tools = llmTools
			req.ToolChoice = "auto"
		}
		resp := e.llm.Chat(ctx, agentType, req)
		if resp.Failed() {
			e.logger.Warn("step produced no output", zap.Int("step", step), zap.Error(resp.Err))
			continue
		}

		text := strings.TrimSpace(resp.Content)
		observed := e.runToolCalls(ctx, resp.ToolCalls, allowed, text)

		e.logger.Debug("step complete",
			zap.Int("step", step),
			zap.Int("tool_calls", len(resp.ToolCalls)),
			zap.Int("observations", e.progress.Observations))

		if text != "" && DetectsConclusion(text) {
			e.logger.Info("model signalled conclusion", zap.Int("step", step))
			break
		}
		if observed && HasEnoughData(e.progress, e.session.Plan) {
			e.logger.Info("sufficient data gathered", zap.Int("step", step))
			break
		}
	}
	return nil
}

// runToolCalls executes the calls of one step and records thought, action and
// observation entries. It reports whether any observation was recorded.
func (e *Engine) runToolCalls(ctx context.Context, calls []provider.ToolCall, allowed map[string]bool, text string) bool {
	type pair struct {
		name   string
		input  map[string]interface{}
		result *tool.Result
	}
	pairs := make([]pair, 0, len(calls))
	successes, failures := 0, 0

	for _, tc := range calls {
		name := tc.Function.Name
		input := parseArguments(tc.Function.Arguments)
		if input == nil {
			e.logger.Warn("invalid tool arguments, using empty input",
				zap.String("tool", name), zap.String("arguments", truncateStr(tc.Function.Arguments, 200)))
			input = map[string]interface{}{}
		}

		var res *tool.Result
		if !allowed[name] {
			res = &tool.Result{Error: "Tool not available to this agent: " + name}
		} else if v := e.tools.ValidateInput(name, input); !v.Valid {
			res = &tool.Result{Error: "Invalid input: " + strings.Join(v.Errors, "; ")}
		} else {
			res = e.tools.Execute(ctx, name, input)
		}

		if res.Success {
			successes++
			e.collected[name] = res.Data
		} else {
			failures++
		}
		pairs = append(pairs, pair{name: name, input: input, result: res})
	}

	if text == "" && len(pairs) > 0 {
		names := make([]string, len(pairs))
		for i, p := range pairs {
			names[i] = p.name
		}
		text = "Calling " + strings.Join(names, ", ")
	}
	if text != "" {
		e.mem.Short.AddThought(text, StepConfidence(text, successes, failures))
	}

	for _, p := range pairs {
		e.mem.Short.AddAction(p.name, p.input, "")
		content := observationText(p.result)
		e.mem.Short.AddObservation(p.name, p.result.Data, content)
		e.trackObservation(p.name, p.result.Success, content)
	}
	return len(pairs) > 0
}

func (e *Engine) trackObservation(name string, ok bool, content string) {
	e.progress.Observations++
	if ok {
		e.progress.Successes++
	} else {
		e.progress.Failures++
	}
	e.progress.DataPoints = len(e.collected)

	seen := false
	for _, t := range e.toolsUsed {
		if t == name {
			seen = true
			break
		}
	}
	if !seen {
		e.toolsUsed = append(e.toolsUsed, name)
	}
	e.progress.ToolsUsed = e.toolsUsed

	e.progress.LatestObservations = append(e.progress.LatestObservations, name+": "+truncateStr(content, 300))
	if n := len(e.progress.LatestObservations); n > 2 {
		e.progress.LatestObservations = e.progress.LatestObservations[n-2:]
	}
}

// GenerateConclusion scores the session and asks the model for the final
// narrative, falling back to a summary of the evidence.
func (e *Engine) GenerateConclusion(ctx context.Context) error {
	e.session.Status = StatusConcluding
	confidence := FinalConfidence(e.progress.DataPoints, e.progress.Observations,
		e.progress.SuccessRate(), e.session.CurrentStep, e.cfg.MaxSteps)

	resp := e.llm.Chat(ctx, string(e.cfg.Type), &provider.ChatRequest{
		Messages: []provider.Message{
			{Role: "system", Content: e.cfg.SystemPrompt},
			{Role: "user", Content: e.conclusionPrompt()},
		},
		Temperature: e.cfg.Temperature,
	})

	text := strings.TrimSpace(resp.Content)
	text = strings.TrimSpace(strings.TrimPrefix(text, FinalAnswerMarker+":"))
	if resp.Failed() || text == "" {
		e.logger.Warn("conclusion call failed, using evidence summary", zap.Error(resp.Err))
		text = e.fallbackConclusion()
	}

	e.mem.Short.AddConclusion(text, confidence)
	e.session.FinalConclusion = text
	e.session.FinalConfidence = &confidence
	e.session.Status = StatusCompleted
	e.session.CompletedAt = e.finishedAt()
	e.session.Steps = e.mem.Short.ToThoughtSteps()

	e.logger.Info("session completed",
		zap.Int("steps", e.session.CurrentStep),
		zap.Int("observations", e.progress.Observations),
		zap.Float64("confidence", confidence))
	return nil
}

func (e *Engine) finishedAt() *time.Time {
	t := e.now().UTC()
	return &t
}

func (e *Engine) fail(err error) {
	if e.session == nil {
		return
	}
	zero := 0.0
	msg := "Analysis failed: " + err.Error()
	e.mem.Short.AddConclusion(msg, 0)
	e.session.Status = StatusFailed
	e.session.Error = err.Error()
	e.session.FinalConclusion = msg
	e.session.FinalConfidence = &zero
	e.session.CompletedAt = e.finishedAt()
	e.session.Steps = e.mem.Short.ToThoughtSteps()
	e.logger.Error("session failed", zap.Error(err))
}

func (e *Engine) outcome(err error) *Outcome {
	return &Outcome{
		Session:       e.session,
		CollectedData: e.collected,
		ToolsUsed:     append([]string(nil), e.toolsUsed...),
		Err:           err,
	}
}

func (e *Engine) fallbackConclusion() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis ended after %d of %d steps with %d observations (%d successful).",
		e.session.CurrentStep, e.cfg.MaxSteps, e.progress.Observations, e.progress.Successes)
	if len(e.toolsUsed) > 0 {
		fmt.Fprintf(&b, " Data sources consulted: %s.", strings.Join(e.toolsUsed, ", "))
	}
	if n := len(e.progress.LatestObservations); n > 0 {
		fmt.Fprintf(&b, " Latest evidence: %s", e.progress.LatestObservations[n-1])
	}
	return b.String()
}

func parseArguments(raw string) map[string]interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out
}

func observationText(res *tool.Result) string {
	if !res.Success {
		return "Error: " + res.Error
	}
	data, err := json.Marshal(res.Data)
	if err != nil {
		return fmt.Sprintf("%v", res.Data)
	}
	return string(data)
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
