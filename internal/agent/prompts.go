package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/provider"
	"github.com/neurokid/insight-agents/internal/tool"
)

func writeGoal(b *strings.Builder, goal Goal) {
	fmt.Fprintf(b, "## Goal\n%s\n", goal.Description)
	if len(goal.Constraints) > 0 {
		b.WriteString("Constraints:\n")
		for _, c := range goal.Constraints {
			fmt.Fprintf(b, "- %s\n", c)
		}
	}
	if goal.Context != "" {
		fmt.Fprintf(b, "Context: %s\n", goal.Context)
	}
	if goal.ExpectedFormat != "" {
		fmt.Fprintf(b, "Expected output: %s\n", goal.ExpectedFormat)
	}
}

func planPrompt(goal Goal, schemas []tool.Schema, memories []*memory.Insight, maxSteps int) string {
	var b strings.Builder
	writeGoal(&b, goal)
	b.WriteString("\n## Available tools\n")
	for _, s := range schemas {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
	}
	b.WriteString("\n## Prior insights\n")
	b.WriteString(memory.SummaryForLLM(memories))
	fmt.Fprintf(&b, "\nPlan the analysis in at most %d steps. Reply with a JSON object: "+
		`{"subGoals": [string], "estimatedSteps": number, "requiredTools": [tool names]}`, maxSteps)
	return b.String()
}

// parsePlan accepts camelCase or snake_case keys. Unknown tools are dropped
// and the estimate is clamped to [1, maxSteps].
func parsePlan(resp *provider.Response, allowed []string, maxSteps int) (*Plan, bool) {
	if resp.Failed() {
		return nil, false
	}
	obj, err := provider.DecodeJSONObject(resp.Content)
	if err != nil {
		return nil, false
	}

	subGoals := stringList(pick(obj, "subGoals", "sub_goals"))
	if len(subGoals) == 0 {
		return nil, false
	}

	known := make(map[string]bool, len(allowed))
	for _, n := range allowed {
		known[n] = true
	}
	var required []string
	seen := make(map[string]bool)
	for _, n := range stringList(pick(obj, "requiredTools", "required_tools")) {
		if known[n] && !seen[n] {
			seen[n] = true
			required = append(required, n)
		}
	}

	est := maxSteps
	if f, ok := pick(obj, "estimatedSteps", "estimated_steps").(float64); ok && !math.IsNaN(f) {
		est = int(math.Round(f))
	}
	if est < 1 {
		est = 1
	}
	if est > maxSteps {
		est = maxSteps
	}

	return &Plan{SubGoals: subGoals, EstimatedSteps: est, RequiredTools: required}, true
}

func pick(obj map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v
		}
	}
	return nil
}

func stringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func (e *Engine) stepPrompt(memorySummary string) string {
	var b strings.Builder
	writeGoal(&b, e.session.Goal)
	if p := e.session.Plan; p != nil {
		b.WriteString("\n## Plan\n")
		for i, g := range p.SubGoals {
			fmt.Fprintf(&b, "%d. %s\n", i+1, g)
		}
	}
	b.WriteString("\n## Prior insights\n")
	b.WriteString(memorySummary)
	b.WriteString("\n## Reasoning so far\n")
	if history := e.mem.Short.FormatForLLM(promptHistoryEntries); history != "" {
		b.WriteString(history)
	} else {
		b.WriteString("(nothing yet)\n")
	}
	b.WriteString("\n## Next\n")
	b.WriteString(NextGoalPrompt(e.progress))
	return b.String()
}

func (e *Engine) conclusionPrompt() string {
	var b strings.Builder
	writeGoal(&b, e.session.Goal)
	b.WriteString("\n## Full reasoning trace\n")
	b.WriteString(e.mem.Short.FormatForLLM(memory.MaxShortTermEntries))
	b.WriteString("\n## Collected data\n")
	data, err := json.Marshal(e.collected)
	if err != nil {
		data = []byte("{}")
	}
	b.WriteString(truncateStr(string(data), maxCollectedDataChars))
	b.WriteString("\n\nWrite the final conclusion for this analysis: the key findings, the risks " +
		"they imply and what should be done next. Ground every statement in the collected data.")
	return b.String()
}
