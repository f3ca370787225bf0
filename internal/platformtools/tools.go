package platformtools

import (
	"context"
	"time"

	"github.com/neurokid/insight-agents/internal/cache"
	"github.com/neurokid/insight-agents/internal/tool"
)

// DefaultCacheTTL is how long data tool results are reused.
const DefaultCacheTTL = 5 * time.Minute

const (
	maxLimit           = 100
	maxDays            = 90
	categoryAnalytics  = "analytics"
	categoryContent    = "content"
	categoryModeration = "moderation"
	categoryUsers      = "users"
)

var (
	limitParam = func(def int) tool.Parameter {
		return tool.Parameter{Name: "limit", Type: tool.TypeInteger, Default: def,
			Description: "Maximum number of rows to return"}
	}
	periodParam = tool.Parameter{Name: "period", Type: tool.TypeString, Enum: Periods, Default: string(PeriodWeek),
		Description: "Reporting window"}
)

// Register adds the platform data tools to reg. When c is non-nil every data
// tool is wrapped with the result cache.
func Register(reg *tool.Registry, src DataSource, c cache.Cache, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	for _, t := range DataTools(src) {
		if c != nil {
			t = tool.WithCache(t, c, ttl)
		}
		reg.Register(t)
	}
}

// DataTools builds the platform data tools over src.
func DataTools(src DataSource) []*tool.Tool {
	return []*tool.Tool{
		{
			Schema: tool.Schema{
				Name:        DashboardStats,
				Description: "Platform totals: users, active users, new users, posts, comments and pending flags",
				Category:    categoryAnalytics,
				Returns:     "object",
			},
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				return src.DashboardStats(ctx)
			},
		},
		{
			Schema: tool.Schema{
				Name:        ActivityTimeline,
				Description: "Daily posts, comments and active users for the last N days",
				Category:    categoryAnalytics,
				Parameters: []tool.Parameter{
					{Name: "days", Type: tool.TypeInteger, Default: 7, Description: "Number of days, at most 90"},
				},
				Returns: "array of daily activity",
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				return src.ActivityTimeline(ctx, bounded(tool.IntArg(input, "days", 7), maxDays))
			},
		},
		{
			Schema: tool.Schema{
				Name:        EngagementMetrics,
				Description: "Posts, comments, likes, active users and engagement rate for a period",
				Category:    categoryAnalytics,
				Parameters:  []tool.Parameter{periodParam},
				Returns:     "object",
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				return src.EngagementMetrics(ctx, Period(tool.StringArg(input, "period", string(PeriodWeek))))
			},
		},
		{
			Schema: tool.Schema{
				Name:        GrowthMetrics,
				Description: "New sign-ups for a period compared with the previous one",
				Category:    categoryUsers,
				Parameters:  []tool.Parameter{periodParam},
				Returns:     "object",
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				return src.GrowthMetrics(ctx, Period(tool.StringArg(input, "period", string(PeriodWeek))))
			},
		},
		{
			Schema: tool.Schema{
				Name:        TopContributors,
				Description: "Most active members over the last 30 days",
				Category:    categoryUsers,
				Parameters:  []tool.Parameter{limitParam(10)},
				Returns:     "array of contributors",
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				return src.TopContributors(ctx, bounded(tool.IntArg(input, "limit", 10), maxLimit))
			},
		},
		{
			Schema: tool.Schema{
				Name:        CategoryStats,
				Description: "Posts and comments per forum category",
				Category:    categoryContent,
				Returns:     "array of category stats",
			},
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				return src.CategoryStats(ctx)
			},
		},
		{
			Schema: tool.Schema{
				Name:        TrendingPosts,
				Description: "Posts with the most interaction in the last 7 days",
				Category:    categoryContent,
				Parameters:  []tool.Parameter{limitParam(10)},
				Returns:     "array of posts",
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				return src.TrendingPosts(ctx, bounded(tool.IntArg(input, "limit", 10), maxLimit))
			},
		},
		{
			Schema: tool.Schema{
				Name:        FlaggedPosts,
				Description: "Moderation reports filtered by status",
				Category:    categoryModeration,
				Parameters: []tool.Parameter{
					{Name: "status", Type: tool.TypeString, Enum: []string{"pending", "resolved", "dismissed", "all"},
						Default: "pending", Description: "Report status"},
					limitParam(20),
				},
				Returns: "array of flagged posts",
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				status := tool.StringArg(input, "status", "pending")
				if status == "all" {
					status = ""
				}
				return src.FlaggedPosts(ctx, status, bounded(tool.IntArg(input, "limit", 20), maxLimit))
			},
		},
		{
			Schema: tool.Schema{
				Name:        RetentionStats,
				Description: "Day 1, day 7 and day 30 retention of last month's sign-ups",
				Category:    categoryUsers,
				Returns:     "object",
			},
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				return src.RetentionStats(ctx)
			},
		},
		{
			Schema: tool.Schema{
				Name:        AuditLogs,
				Description: "Recent administrative actions, optionally filtered by action",
				Category:    categoryModeration,
				Parameters: []tool.Parameter{
					{Name: "action", Type: tool.TypeString, Description: "Only return this action"},
					limitParam(50),
				},
				Returns: "array of audit entries",
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				return src.AuditLogs(ctx, tool.StringArg(input, "action", ""),
					bounded(tool.IntArg(input, "limit", 50), maxLimit))
			},
		},
		{
			Schema: tool.Schema{
				Name:        UserActivity,
				Description: "Posts, comments, flags and last activity of one member",
				Category:    categoryUsers,
				Parameters: []tool.Parameter{
					{Name: "user_id", Type: tool.TypeString, Required: true, Description: "Member id"},
				},
				Returns: "object",
			},
			Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
				return src.UserActivity(ctx, tool.StringArg(input, "user_id", ""))
			},
		},
	}
}

func bounded(n, max int) int {
	switch {
	case n < 1:
		return 1
	case n > max:
		return max
	default:
		return n
	}
}
