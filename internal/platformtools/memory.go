package platformtools

import (
	"context"

	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/tool"
)

var severityEnum = []string{string(memory.SeverityInfo), string(memory.SeverityWarning), string(memory.SeverityCritical)}

// RegisterMemory adds the long-term memory tools to reg. They are never cached.
func RegisterMemory(reg *tool.Registry, long *memory.LongTerm) {
	for _, t := range MemoryTools(long) {
		reg.Register(t)
	}
}

// MemoryTools builds the tools that read long-term memory.
func MemoryTools(long *memory.LongTerm) []*tool.Tool {
	return []*tool.Tool{
		{
			Schema: tool.Schema{
				Name:        QueryInsights,
				Description: "Past findings from long-term memory, newest first",
				Category:    "memory",
				Parameters: []tool.Parameter{
					{Name: "agent_type", Type: tool.TypeString, Description: "Only findings raised by this agent type"},
					{Name: "category", Type: tool.TypeString, Description: "Finding category, e.g. RISK or RECOMMENDATION"},
					{Name: "severity", Type: tool.TypeString, Enum: severityEnum, Description: "Finding severity"},
					{Name: "unresolved_only", Type: tool.TypeBoolean, Default: false, Description: "Skip resolved findings"},
					{Name: "days", Type: tool.TypeInteger, Description: "Only findings from the last N days"},
					limitParam(10),
				},
				Returns: "array of insights",
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				f := memory.InsightFilter{
					AgentType:      tool.StringArg(input, "agent_type", ""),
					Category:       tool.StringArg(input, "category", ""),
					Severity:       memory.Severity(tool.StringArg(input, "severity", "")),
					UnresolvedOnly: tool.BoolArg(input, "unresolved_only", false),
					Limit:          bounded(tool.IntArg(input, "limit", 10), maxLimit),
				}
				if days := tool.IntArg(input, "days", 0); days > 0 {
					f.Since = long.Now().AddDate(0, 0, -days)
				}
				return long.QueryInsights(ctx, f)
			},
		},
		{
			Schema: tool.Schema{
				Name:        CrossAgentInsights,
				Description: "Findings raised by other agents, most severe first",
				Category:    "memory",
				Parameters: []tool.Parameter{
					{Name: "agent_type", Type: tool.TypeString, Required: true, Description: "Your own agent type, excluded from the results"},
					limitParam(20),
				},
				Returns: "array of insights",
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				return long.CrossAgentInsights(ctx, tool.StringArg(input, "agent_type", ""),
					bounded(tool.IntArg(input, "limit", 20), maxLimit))
			},
		},
		{
			Schema: tool.Schema{
				Name:        CheckRecurringIssues,
				Description: "Whether findings in a category keep coming back within a time window",
				Category:    "memory",
				Parameters: []tool.Parameter{
					{Name: "category", Type: tool.TypeString, Required: true, Description: "Finding category"},
					{Name: "window_days", Type: tool.TypeInteger, Default: 30, Description: "Window size in days"},
				},
				Returns: "recurring issue summary",
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				return long.CheckRecurringIssues(ctx, tool.StringArg(input, "category", ""),
					bounded(tool.IntArg(input, "window_days", 30), 365))
			},
		},
	}
}
