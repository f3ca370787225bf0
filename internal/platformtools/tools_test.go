package platformtools

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/cache"
	"github.com/neurokid/insight-agents/internal/memory"
	"github.com/neurokid/insight-agents/internal/tool"
)

type fakeSource struct {
	mu    sync.Mutex
	calls map[string]int
	args  map[string][]interface{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: map[string]int{}, args: map[string][]interface{}{}}
}

func (f *fakeSource) record(name string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	f.args[name] = args
}

func (f *fakeSource) DashboardStats(context.Context) (*Dashboard, error) {
	f.record(DashboardStats)
	return &Dashboard{TotalUsers: 1200, ActiveUsers24h: 310, PendingFlags: 4}, nil
}

func (f *fakeSource) ActivityTimeline(_ context.Context, days int) ([]DailyActivity, error) {
	f.record(ActivityTimeline, days)
	return []DailyActivity{{Date: "2026-10-18", Posts: 12}}, nil
}

func (f *fakeSource) EngagementMetrics(_ context.Context, p Period) (*Engagement, error) {
	f.record(EngagementMetrics, p)
	return &Engagement{Period: p, Posts: 40, Comments: 120}, nil
}

func (f *fakeSource) GrowthMetrics(_ context.Context, p Period) (*Growth, error) {
	f.record(GrowthMetrics, p)
	return &Growth{Period: p, NewUsers: 30, PreviousNewUsers: 25}, nil
}

func (f *fakeSource) TopContributors(_ context.Context, limit int) ([]Contributor, error) {
	f.record(TopContributors, limit)
	return nil, nil
}

func (f *fakeSource) CategoryStats(context.Context) ([]CategoryStat, error) {
	f.record(CategoryStats)
	return nil, nil
}

func (f *fakeSource) TrendingPosts(_ context.Context, limit int) ([]PostSummary, error) {
	f.record(TrendingPosts, limit)
	return nil, nil
}

func (f *fakeSource) FlaggedPosts(_ context.Context, status string, limit int) ([]FlaggedPost, error) {
	f.record(FlaggedPosts, status, limit)
	return []FlaggedPost{}, nil
}

func (f *fakeSource) RetentionStats(context.Context) (*Retention, error) {
	f.record(RetentionStats)
	return &Retention{CohortSize: 50, Day1: 0.6}, nil
}

func (f *fakeSource) AuditLogs(_ context.Context, action string, limit int) ([]AuditEntry, error) {
	f.record(AuditLogs, action, limit)
	return nil, nil
}

func (f *fakeSource) UserActivity(_ context.Context, id string) (*UserSummary, error) {
	f.record(UserActivity, id)
	if id != "u1" {
		return nil, ErrUserNotFound
	}
	return &UserSummary{UserID: id, Posts: 3}, nil
}

func TestRegisterAllDataTools(t *testing.T) {
	reg := tool.NewRegistry(nil, zap.NewNop())
	Register(reg, newFakeSource(), nil, 0)

	var names []string
	for _, s := range reg.All() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		DashboardStats, ActivityTimeline, EngagementMetrics, GrowthMetrics, TopContributors,
		CategoryStats, TrendingPosts, FlaggedPosts, RetentionStats, AuditLogs, UserActivity,
	}, names)
}

func TestDataToolsBoundArguments(t *testing.T) {
	src := newFakeSource()
	reg := tool.NewRegistry(nil, zap.NewNop())
	Register(reg, src, nil, 0)
	ctx := context.Background()

	res := reg.Execute(ctx, ActivityTimeline, map[string]interface{}{"days": 365})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []interface{}{maxDays}, src.args[ActivityTimeline])

	res = reg.Execute(ctx, TopContributors, map[string]interface{}{"limit": 0})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []interface{}{1}, src.args[TopContributors])

	res = reg.Execute(ctx, FlaggedPosts, map[string]interface{}{"status": "all"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []interface{}{"", 20}, src.args[FlaggedPosts])

	res = reg.Execute(ctx, EngagementMetrics, nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []interface{}{PeriodWeek}, src.args[EngagementMetrics])
}

func TestDataToolValidationAndErrors(t *testing.T) {
	src := newFakeSource()
	reg := tool.NewRegistry(nil, zap.NewNop())
	Register(reg, src, nil, 0)
	ctx := context.Background()

	res := reg.Execute(ctx, UserActivity, map[string]interface{}{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Missing required parameter: user_id")
	assert.Zero(t, src.calls[UserActivity])

	res = reg.Execute(ctx, GrowthMetrics, map[string]interface{}{"period": "year"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "must be one of")

	res = reg.Execute(ctx, UserActivity, map[string]interface{}{"user_id": "ghost"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrUserNotFound.Error())
}

func TestDataToolsAreCached(t *testing.T) {
	src := newFakeSource()
	reg := tool.NewRegistry(nil, zap.NewNop())
	Register(reg, src, cache.NewMemoryCache(100, nil), time.Minute)
	ctx := context.Background()

	first := reg.Execute(ctx, DashboardStats, nil)
	second := reg.Execute(ctx, DashboardStats, nil)
	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, 1, src.calls[DashboardStats])
	assert.Equal(t, true, second.Metadata["cached"])
}

func TestPeriodDuration(t *testing.T) {
	assert.Equal(t, 24*time.Hour, PeriodDay.Duration())
	assert.Equal(t, 7*24*time.Hour, PeriodWeek.Duration())
	assert.Equal(t, 30*24*time.Hour, PeriodMonth.Duration())
	assert.Equal(t, 7*24*time.Hour, Period("year").Duration())
}

func TestMemoryTools(t *testing.T) {
	ctx := context.Background()
	long := memory.NewLongTerm(memory.NewInMemoryStore(), nil, zap.NewNop())
	for i := 0; i < 3; i++ {
		_, err := long.SaveInsight(ctx, &memory.Insight{
			AgentType: "CONTENT_MODERATOR", Category: "RISK", Severity: memory.SeverityWarning, Title: "Spam wave",
		})
		require.NoError(t, err)
	}
	_, err := long.SaveInsight(ctx, &memory.Insight{
		AgentType: "ENGAGEMENT_ANALYST", Category: "TREND", Severity: memory.SeverityInfo, Title: "Quiet weekend",
	})
	require.NoError(t, err)

	reg := tool.NewRegistry(nil, zap.NewNop())
	RegisterMemory(reg, long)

	res := reg.Execute(ctx, CheckRecurringIssues, map[string]interface{}{"category": "RISK"})
	require.True(t, res.Success, res.Error)
	issue := res.Data.(*memory.RecurringIssue)
	assert.True(t, issue.IsRecurring)
	assert.Equal(t, 3, issue.Occurrences)

	res = reg.Execute(ctx, CrossAgentInsights, map[string]interface{}{"agent_type": "CONTENT_MODERATOR"})
	require.True(t, res.Success, res.Error)
	others := res.Data.([]*memory.Insight)
	require.Len(t, others, 1)
	assert.Equal(t, "Quiet weekend", others[0].Title)

	res = reg.Execute(ctx, QueryInsights, map[string]interface{}{"category": "RISK", "limit": 2, "days": 7})
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.Data.([]*memory.Insight), 2)
}
