// Package platformtools exposes community platform data and long-term memory
// to the agents as registry tools.
package platformtools

import (
	"context"
	"errors"
	"time"
)

// Tool names registered by Register and RegisterMemory.
const (
	DashboardStats       = "get_dashboard_stats"
	ActivityTimeline     = "get_activity_timeline"
	EngagementMetrics    = "get_engagement_metrics"
	GrowthMetrics        = "get_growth_metrics"
	TopContributors      = "get_top_contributors"
	CategoryStats        = "get_category_stats"
	TrendingPosts        = "get_trending_posts"
	FlaggedPosts         = "get_flagged_posts"
	RetentionStats       = "get_retention_stats"
	AuditLogs            = "get_audit_logs"
	UserActivity         = "get_user_activity"
	QueryInsights        = "query_insights"
	CrossAgentInsights   = "get_cross_agent_insights"
	CheckRecurringIssues = "check_recurring_issues"
)

// Period is a reporting window.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// Periods lists the accepted period values.
var Periods = []string{string(PeriodDay), string(PeriodWeek), string(PeriodMonth)}

// Duration returns the length of the window. Unknown periods count as a week.
func (p Period) Duration() time.Duration {
	switch p {
	case PeriodDay:
		return 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// ErrUserNotFound is returned by DataSource.UserActivity for unknown users.
var ErrUserNotFound = errors.New("user not found")

// DataSource answers the platform queries behind the data tools.
type DataSource interface {
	DashboardStats(ctx context.Context) (*Dashboard, error)
	ActivityTimeline(ctx context.Context, days int) ([]DailyActivity, error)
	EngagementMetrics(ctx context.Context, period Period) (*Engagement, error)
	GrowthMetrics(ctx context.Context, period Period) (*Growth, error)
	TopContributors(ctx context.Context, limit int) ([]Contributor, error)
	CategoryStats(ctx context.Context) ([]CategoryStat, error)
	TrendingPosts(ctx context.Context, limit int) ([]PostSummary, error)
	FlaggedPosts(ctx context.Context, status string, limit int) ([]FlaggedPost, error)
	RetentionStats(ctx context.Context) (*Retention, error)
	AuditLogs(ctx context.Context, action string, limit int) ([]AuditEntry, error)
	UserActivity(ctx context.Context, userID string) (*UserSummary, error)
}

// Dashboard is the platform at a glance.
type Dashboard struct {
	TotalUsers     int `json:"total_users"`
	ActiveUsers24h int `json:"active_users_24h"`
	NewUsers7d     int `json:"new_users_7d"`
	TotalPosts     int `json:"total_posts"`
	PostsToday     int `json:"posts_today"`
	TotalComments  int `json:"total_comments"`
	PendingFlags   int `json:"pending_flags"`
}

// DailyActivity is one day of the activity timeline.
type DailyActivity struct {
	Date        string `json:"date"`
	Posts       int    `json:"posts"`
	Comments    int    `json:"comments"`
	ActiveUsers int    `json:"active_users"`
}

// Engagement summarizes interaction over a period.
type Engagement struct {
	Period             Period  `json:"period"`
	Posts              int     `json:"posts"`
	Comments           int     `json:"comments"`
	Likes              int     `json:"likes"`
	ActiveUsers        int     `json:"active_users"`
	AvgCommentsPerPost float64 `json:"avg_comments_per_post"`
	EngagementRate     float64 `json:"engagement_rate"`
}

// Growth compares sign-ups with the preceding period.
type Growth struct {
	Period           Period  `json:"period"`
	NewUsers         int     `json:"new_users"`
	PreviousNewUsers int     `json:"previous_new_users"`
	GrowthRate       float64 `json:"growth_rate"`
	TotalUsers       int     `json:"total_users"`
}

// Contributor is a highly active member.
type Contributor struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Posts    int    `json:"posts"`
	Comments int    `json:"comments"`
	Score    int    `json:"score"`
}

// CategoryStat is activity within one forum category.
type CategoryStat struct {
	Category   string    `json:"category"`
	Posts      int       `json:"posts"`
	Comments   int       `json:"comments"`
	LastPostAt time.Time `json:"last_post_at"`
}

// PostSummary is a post ranked by recent interaction.
type PostSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category"`
	Author    string    `json:"author"`
	Comments  int       `json:"comments"`
	Likes     int       `json:"likes"`
	CreatedAt time.Time `json:"created_at"`
}

// FlaggedPost is a moderation report against a post.
type FlaggedPost struct {
	ID         string    `json:"id"`
	PostID     string    `json:"post_id"`
	Title      string    `json:"title"`
	Reason     string    `json:"reason"`
	Status     string    `json:"status"`
	ReportedAt time.Time `json:"reported_at"`
}

// Retention is the share of a sign-up cohort still active after N days.
type Retention struct {
	CohortSize int     `json:"cohort_size"`
	Day1       float64 `json:"day_1"`
	Day7       float64 `json:"day_7"`
	Day30      float64 `json:"day_30"`
}

// AuditEntry is one administrative action.
type AuditEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSummary is one member's footprint.
type UserSummary struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	JoinedAt      time.Time `json:"joined_at"`
	Posts         int       `json:"posts"`
	Comments      int       `json:"comments"`
	FlagsReceived int       `json:"flags_received"`
	LastActiveAt  time.Time `json:"last_active_at"`
}
