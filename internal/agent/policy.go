package agent

import (
	"fmt"
	"math"
	"strings"
)

// Progress is the running tally the loop policies read.
type Progress struct {
	Step         int
	MaxSteps     int
	Observations int
	Successes    int
	Failures     int
	// DataPoints counts distinct tools that returned data.
	DataPoints         int
	ToolsUsed          []string
	LatestObservations []string
}

// SuccessRate is the fraction of tool executions that succeeded, or 0 when none ran.
func (p Progress) SuccessRate() float64 {
	total := p.Successes + p.Failures
	if total == 0 {
		return 0
	}
	return float64(p.Successes) / float64(total)
}

// HasEnoughData reports whether the session gathered sufficient evidence to
// stop early. All three conditions must hold.
func HasEnoughData(p Progress, plan *Plan) bool {
	required, estimated := 0, 0
	if plan != nil {
		required, estimated = len(plan.RequiredTools), plan.EstimatedSteps
	}
	if p.DataPoints < min(2, required) {
		return false
	}
	if p.Observations < max(2, min(estimated, 5)) {
		return false
	}
	return p.SuccessRate() >= 0.5
}

// FinalConfidence scores a completed session from its evidence and the share
// of the step budget it consumed.
func FinalConfidence(dataPoints, observations int, successRate float64, step, maxSteps int) float64 {
	budget := 0.3
	if maxSteps > 0 {
		budget = math.Max(1-float64(step)/float64(maxSteps), 0.3)
	}
	c := 0.3*math.Min(float64(dataPoints)/5, 1) +
		0.25*math.Min(float64(observations)/5, 1) +
		0.25*successRate +
		0.2*budget
	return clamp01(c)
}

// FinalAnswerMarker lets the model signal explicitly that it is done.
const FinalAnswerMarker = "FINAL_ANSWER"

var conclusionPhrases = []string{
	strings.ToLower(FinalAnswerMarker),
	"final answer",
	"in conclusion",
	"to summarize",
	"to conclude",
	"in summary",
	"my conclusion",
	"overall assessment",
}

// DetectsConclusion reports whether the model's text reads as a final answer.
func DetectsConclusion(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range conclusionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var (
	assertive = []string{"clearly", "confirmed", "definitely", "strong evidence", "consistent with"}
	hedging   = []string{"might", "unclear", "uncertain", "possibly", "not sure", "insufficient", "unknown"}
)

// StepConfidence is a coarse per-step confidence from tool outcomes and phrasing.
func StepConfidence(text string, successes, failures int) float64 {
	c := 0.5 + 0.1*float64(successes) - 0.15*float64(failures)
	lower := strings.ToLower(text)
	for _, w := range assertive {
		if strings.Contains(lower, w) {
			c += 0.1
			break
		}
	}
	for _, w := range hedging {
		if strings.Contains(lower, w) {
			c -= 0.1
			break
		}
	}
	return clamp01(c)
}

// NextGoalPrompt tells the model where it stands. It never prescribes a tool.
func NextGoalPrompt(p Progress) string {
	switch {
	case p.Step <= 1:
		return "This is your first step. Decide which of the available tools give the most useful " +
			"starting evidence for the goal and call them."
	case p.Observations == 0:
		return "You have not gathered any data yet. Call at least one tool to collect evidence " +
			"before drawing conclusions."
	case float64(p.Step) > 0.7*float64(p.MaxSteps):
		return fmt.Sprintf("You are near the end of your step budget (step %d of %d). Finish any "+
			"critical check, then state your final conclusion starting with %s.",
			p.Step, p.MaxSteps, FinalAnswerMarker)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Step %d of %d. Tools used so far: %s.\n", p.Step, p.MaxSteps, strings.Join(p.ToolsUsed, ", "))
	if len(p.LatestObservations) > 0 {
		b.WriteString("Latest observations:\n")
		for _, o := range p.LatestObservations {
			fmt.Fprintf(&b, "- %s\n", o)
		}
	}
	fmt.Fprintf(&b, "Call any tool that would strengthen the analysis, or, if the evidence is "+
		"sufficient, state your final conclusion starting with %s.", FinalAnswerMarker)
	return b.String()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
