package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	pt "github.com/neurokid/insight-agents/internal/platformtools"
)

var _ pt.DataSource = (*Store)(nil)

// DashboardStats returns platform totals.
func (s *Store) DashboardStats(ctx context.Context) (*pt.Dashboard, error) {
	var d pt.Dashboard
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE last_active_at >= NOW() - INTERVAL '24 hours'),
			(SELECT COUNT(*) FROM users WHERE created_at >= NOW() - INTERVAL '7 days'),
			(SELECT COUNT(*) FROM posts),
			(SELECT COUNT(*) FROM posts WHERE created_at >= date_trunc('day', NOW())),
			(SELECT COUNT(*) FROM comments),
			(SELECT COUNT(*) FROM post_reports WHERE status = 'pending')`,
	).Scan(&d.TotalUsers, &d.ActiveUsers24h, &d.NewUsers7d, &d.TotalPosts, &d.PostsToday,
		&d.TotalComments, &d.PendingFlags)
	if err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	return &d, nil
}

// ActivityTimeline returns one row per day for the last days days, oldest first.
func (s *Store) ActivityTimeline(ctx context.Context, days int) ([]pt.DailyActivity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT to_char(d.day, 'YYYY-MM-DD'),
			(SELECT COUNT(*) FROM posts p
			 WHERE p.created_at >= d.day AND p.created_at < d.day + INTERVAL '1 day'),
			(SELECT COUNT(*) FROM comments c
			 WHERE c.created_at >= d.day AND c.created_at < d.day + INTERVAL '1 day'),
			(SELECT COUNT(DISTINCT a.author_id) FROM (
				SELECT author_id FROM posts
				WHERE created_at >= d.day AND created_at < d.day + INTERVAL '1 day'
				UNION ALL
				SELECT author_id FROM comments
				WHERE created_at >= d.day AND created_at < d.day + INTERVAL '1 day') a)
		FROM generate_series(
			date_trunc('day', NOW()) - ($1::int - 1) * INTERVAL '1 day',
			date_trunc('day', NOW()),
			INTERVAL '1 day') AS d(day)
		ORDER BY d.day`, days)
	if err != nil {
		return nil, fmt.Errorf("activity timeline: %w", err)
	}
	defer rows.Close()

	var out []pt.DailyActivity
	for rows.Next() {
		var a pt.DailyActivity
		if err := rows.Scan(&a.Date, &a.Posts, &a.Comments, &a.ActiveUsers); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// EngagementMetrics summarizes interaction since the start of period.
func (s *Store) EngagementMetrics(ctx context.Context, period pt.Period) (*pt.Engagement, error) {
	since := time.Now().UTC().Add(-period.Duration())
	e := pt.Engagement{Period: period}
	var totalUsers int
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM posts WHERE created_at >= $1),
			(SELECT COUNT(*) FROM comments WHERE created_at >= $1),
			(SELECT COUNT(*) FROM post_likes WHERE created_at >= $1),
			(SELECT COUNT(*) FROM users WHERE last_active_at >= $1),
			(SELECT COUNT(*) FROM users)`, since,
	).Scan(&e.Posts, &e.Comments, &e.Likes, &e.ActiveUsers, &totalUsers)
	if err != nil {
		return nil, fmt.Errorf("engagement metrics: %w", err)
	}
	e.AvgCommentsPerPost = ratio(e.Comments, e.Posts)
	e.EngagementRate = ratio(e.ActiveUsers, totalUsers)
	return &e, nil
}

// GrowthMetrics compares sign-ups in period with the period before it.
func (s *Store) GrowthMetrics(ctx context.Context, period pt.Period) (*pt.Growth, error) {
	now := time.Now().UTC()
	since := now.Add(-period.Duration())
	before := since.Add(-period.Duration())
	g := pt.Growth{Period: period}
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users WHERE created_at >= $1),
			(SELECT COUNT(*) FROM users WHERE created_at >= $2 AND created_at < $1),
			(SELECT COUNT(*) FROM users)`, since, before,
	).Scan(&g.NewUsers, &g.PreviousNewUsers, &g.TotalUsers)
	if err != nil {
		return nil, fmt.Errorf("growth metrics: %w", err)
	}
	g.GrowthRate = growthRate(g.NewUsers, g.PreviousNewUsers)
	return &g, nil
}

// TopContributors ranks members by posts and comments in the last 30 days.
func (s *Store) TopContributors(ctx context.Context, limit int) ([]pt.Contributor, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.id, u.username, COALESCE(p.cnt, 0), COALESCE(c.cnt, 0),
		       COALESCE(p.cnt, 0) * 3 + COALESCE(c.cnt, 0) AS score
		FROM users u
		LEFT JOIN (SELECT author_id, COUNT(*) AS cnt FROM posts
		           WHERE created_at >= NOW() - INTERVAL '30 days' GROUP BY author_id) p ON p.author_id = u.id
		LEFT JOIN (SELECT author_id, COUNT(*) AS cnt FROM comments
		           WHERE created_at >= NOW() - INTERVAL '30 days' GROUP BY author_id) c ON c.author_id = u.id
		WHERE p.cnt IS NOT NULL OR c.cnt IS NOT NULL
		ORDER BY score DESC, u.username
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("top contributors: %w", err)
	}
	defer rows.Close()

	var out []pt.Contributor
	for rows.Next() {
		var c pt.Contributor
		if err := rows.Scan(&c.UserID, &c.Username, &c.Posts, &c.Comments, &c.Score); err != nil {
			return nil, fmt.Errorf("scan contributor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CategoryStats returns post and comment counts per category.
func (s *Store) CategoryStats(ctx context.Context) ([]pt.CategoryStat, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.category, COUNT(DISTINCT p.id), COUNT(c.id), MAX(p.created_at)
		FROM posts p
		LEFT JOIN comments c ON c.post_id = p.id
		GROUP BY p.category
		ORDER BY COUNT(DISTINCT p.id) DESC, p.category`)
	if err != nil {
		return nil, fmt.Errorf("category stats: %w", err)
	}
	defer rows.Close()

	var out []pt.CategoryStat
	for rows.Next() {
		var c pt.CategoryStat
		if err := rows.Scan(&c.Category, &c.Posts, &c.Comments, &c.LastPostAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TrendingPosts ranks last week's posts by comments and likes.
func (s *Store) TrendingPosts(ctx context.Context, limit int) ([]pt.PostSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, title, category, username, comments, likes, created_at FROM (
			SELECT p.id, p.title, p.category, u.username, p.created_at,
				(SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id) AS comments,
				(SELECT COUNT(*) FROM post_likes l WHERE l.post_id = p.id) AS likes
			FROM posts p JOIN users u ON u.id = p.author_id
			WHERE p.created_at >= NOW() - INTERVAL '7 days') t
		ORDER BY comments * 2 + likes DESC, created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("trending posts: %w", err)
	}
	defer rows.Close()

	var out []pt.PostSummary
	for rows.Next() {
		var p pt.PostSummary
		if err := rows.Scan(&p.ID, &p.Title, &p.Category, &p.Author, &p.Comments, &p.Likes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FlaggedPosts returns moderation reports, newest first. An empty status
// matches every report.
func (s *Store) FlaggedPosts(ctx context.Context, status string, limit int) ([]pt.FlaggedPost, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.post_id, p.title, r.reason, r.status, r.created_at
		FROM post_reports r JOIN posts p ON p.id = r.post_id
		WHERE ($1 = '' OR r.status = $1)
		ORDER BY r.created_at DESC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("flagged posts: %w", err)
	}
	defer rows.Close()

	var out []pt.FlaggedPost
	for rows.Next() {
		var f pt.FlaggedPost
		if err := rows.Scan(&f.ID, &f.PostID, &f.Title, &f.Reason, &f.Status, &f.ReportedAt); err != nil {
			return nil, fmt.Errorf("scan flagged post: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RetentionStats measures the cohort that joined 30 to 60 days ago.
func (s *Store) RetentionStats(ctx context.Context) (*pt.Retention, error) {
	var cohort, d1, d7, d30 int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE last_active_at >= created_at + INTERVAL '1 day'),
			COUNT(*) FILTER (WHERE last_active_at >= created_at + INTERVAL '7 days'),
			COUNT(*) FILTER (WHERE last_active_at >= created_at + INTERVAL '30 days')
		FROM users
		WHERE created_at >= NOW() - INTERVAL '60 days' AND created_at < NOW() - INTERVAL '30 days'`,
	).Scan(&cohort, &d1, &d7, &d30)
	if err != nil {
		return nil, fmt.Errorf("retention stats: %w", err)
	}
	return &pt.Retention{
		CohortSize: cohort,
		Day1:       ratio(d1, cohort),
		Day7:       ratio(d7, cohort),
		Day30:      ratio(d30, cohort),
	}, nil
}

// AuditLogs returns administrative actions, newest first.
func (s *Store) AuditLogs(ctx context.Context, action string, limit int) ([]pt.AuditEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, action, actor_id, COALESCE(target, ''), created_at
		FROM audit_logs
		WHERE ($1 = '' OR action = $1)
		ORDER BY created_at DESC
		LIMIT $2`, action, limit)
	if err != nil {
		return nil, fmt.Errorf("audit logs: %w", err)
	}
	defer rows.Close()

	var out []pt.AuditEntry
	for rows.Next() {
		var a pt.AuditEntry
		if err := rows.Scan(&a.ID, &a.Action, &a.ActorID, &a.Target, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UserActivity returns one member's footprint.
func (s *Store) UserActivity(ctx context.Context, userID string) (*pt.UserSummary, error) {
	var u pt.UserSummary
	err := s.db.QueryRow(ctx, `
		SELECT u.id, u.username, u.created_at, u.last_active_at,
			(SELECT COUNT(*) FROM posts WHERE author_id = u.id),
			(SELECT COUNT(*) FROM comments WHERE author_id = u.id),
			(SELECT COUNT(*) FROM post_reports r JOIN posts p ON p.id = r.post_id WHERE p.author_id = u.id)
		FROM users u WHERE u.id = $1`, userID,
	).Scan(&u.UserID, &u.Username, &u.JoinedAt, &u.LastActiveAt, &u.Posts, &u.Comments, &u.FlagsReceived)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", pt.ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("user activity: %w", err)
	}
	return &u, nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// growthRate is the relative change from prev to cur. Growth from zero counts as 100%.
func growthRate(cur, prev int) float64 {
	if prev == 0 {
		if cur > 0 {
			return 1
		}
		return 0
	}
	return float64(cur-prev) / float64(prev)
}
