package controller

import (
	"github.com/neurokid/insight-agents/internal/agent"
	pt "github.com/neurokid/insight-agents/internal/platformtools"
)

// Schedule cadences understood by ExecuteBySchedule and the Scheduler.
const (
	Hourly = "hourly"
	Daily  = "daily"
	Weekly = "weekly"
)

// Cadences lists the named schedules in firing-frequency order.
var Cadences = []string{Hourly, Daily, Weekly}

const sharedRules = `Work step by step. Call tools to gather data before drawing conclusions and
cite the numbers you saw. Never invent figures. When you have enough evidence,
write your conclusion and finish with the line FINAL_ANSWER.`

// DefaultAgents returns the built-in agent personas.
func DefaultAgents() []agent.Config {
	return []agent.Config{
		{
			Type:        agent.EngagementAnalyst,
			Name:        "Engagement Analyst",
			Description: "Tracks how members interact with posts and comments and spots engagement shifts.",
			SystemPrompt: "You are the engagement analyst for NeuroKid, a community for families of " +
				"neurodivergent children. You study posting, commenting and activity patterns.\n" + sharedRules,
			AllowedTools: []string{
				pt.DashboardStats, pt.EngagementMetrics, pt.ActivityTimeline, pt.TrendingPosts,
				pt.CategoryStats, pt.TopContributors, pt.QueryInsights, pt.CheckRecurringIssues,
			},
			MaxSteps:    10,
			Temperature: 0.3,
			Schedule:    Daily,
			Enabled:     true,
		},
		{
			Type:        agent.ContentModerator,
			Name:        "Content Moderator",
			Description: "Watches the moderation queue and audit trail for abuse patterns and backlog.",
			SystemPrompt: "You are the content moderation analyst for NeuroKid. You review flagged " +
				"content, moderator actions and repeat offenders. Member safety comes first.\n" + sharedRules,
			AllowedTools: []string{
				pt.FlaggedPosts, pt.AuditLogs, pt.UserActivity, pt.DashboardStats,
				pt.QueryInsights, pt.CheckRecurringIssues,
			},
			MaxSteps:    8,
			Temperature: 0.2,
			Schedule:    Hourly,
			Enabled:     true,
		},
		{
			Type:        agent.GrowthStrategist,
			Name:        "Growth Strategist",
			Description: "Analyses sign-ups and retention and proposes growth experiments.",
			SystemPrompt: "You are the growth strategist for NeuroKid. You study acquisition, " +
				"retention and which categories bring members back.\n" + sharedRules,
			AllowedTools: []string{
				pt.GrowthMetrics, pt.RetentionStats, pt.DashboardStats, pt.CategoryStats,
				pt.TopContributors, pt.QueryInsights,
			},
			MaxSteps:    10,
			Temperature: 0.5,
			Schedule:    Weekly,
			Enabled:     true,
		},
		{
			Type:        agent.PlatformHealth,
			Name:        "Platform Health Monitor",
			Description: "Checks overall activity levels and administrative events for signs of trouble.",
			SystemPrompt: "You are the platform health monitor for NeuroKid. You look for sudden drops " +
				"in activity, spikes in reports and unusual administrative actions.\n" + sharedRules,
			AllowedTools: []string{
				pt.DashboardStats, pt.ActivityTimeline, pt.AuditLogs, pt.FlaggedPosts,
				pt.QueryInsights, pt.CheckRecurringIssues,
			},
			MaxSteps:    6,
			Temperature: 0.2,
			Schedule:    Hourly,
			Enabled:     true,
		},
		{
			Type:        agent.Coordinator,
			Name:        "Insight Coordinator",
			Description: "Synthesizes the findings of the other agents into one set of priorities.",
			SystemPrompt: "You are the coordinator of the NeuroKid insight agents. You read what the " +
				"other agents found, connect related issues and decide what matters most.\n" + sharedRules,
			AllowedTools: []string{
				pt.CrossAgentInsights, pt.QueryInsights, pt.CheckRecurringIssues, pt.DashboardStats,
			},
			MaxSteps:    8,
			Temperature: 0.4,
			Schedule:    Daily,
			Enabled:     true,
		},
	}
}

// DefaultGoals returns the goal each persona pursues when none is given.
func DefaultGoals() map[agent.Type]agent.Goal {
	return map[agent.Type]agent.Goal{
		agent.EngagementAnalyst: {
			Description: "Assess community engagement over the last week and identify what drives or suppresses it",
			Constraints: []string{"Compare against the previous period where data allows"},
		},
		agent.ContentModerator: {
			Description: "Review the moderation backlog and identify harmful content patterns or repeat offenders",
			Constraints: []string{"Do not include personal details beyond user ids"},
		},
		agent.GrowthStrategist: {
			Description: "Evaluate member growth and retention and recommend the most promising growth levers",
		},
		agent.PlatformHealth: {
			Description: "Check platform activity and administrative events for anomalies that need attention",
		},
		agent.Coordinator: {
			Description: "Combine the latest findings of all agents into a prioritized view of platform risks and actions",
			Context:     "Use get_cross_agent_insights with your own agent type to read the other agents' findings",
		},
	}
}
