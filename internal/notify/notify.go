// Package notify pushes alerts for reports with critical risks to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/controller"
	"github.com/neurokid/insight-agents/internal/report"
)

// Channel delivers an alert to one platform.
type Channel interface {
	Platform() string
	Send(ctx context.Context, a *Alert) error
}

// Alert is the platform-neutral form of a critical-risk report.
type Alert struct {
	AgentType   string                `json:"agent_type"`
	SessionID   string                `json:"session_id"`
	Summary     string                `json:"summary"`
	Risks       []report.DetectedRisk `json:"risks"`
	TopAction   string                `json:"top_action,omitempty"`
	Confidence  float64               `json:"confidence"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// Title is the one-line headline used by every channel.
func (a *Alert) Title() string {
	n := len(a.Risks)
	noun := "risk"
	if n != 1 {
		noun = "risks"
	}
	return fmt.Sprintf("%s flagged %d critical %s", a.AgentType, n, noun)
}

// Text renders the alert as plain markdown-ish text.
func (a *Alert) Text() string {
	var b strings.Builder
	b.WriteString(a.Summary)
	for _, r := range a.Risks {
		fmt.Fprintf(&b, "\n• %s", r.Title)
		if r.AffectedArea != "" {
			fmt.Fprintf(&b, " (%s)", r.AffectedArea)
		}
		if r.Description != "" {
			fmt.Fprintf(&b, ": %s", r.Description)
		}
	}
	if a.TopAction != "" {
		fmt.Fprintf(&b, "\nSuggested action: %s", a.TopAction)
	}
	fmt.Fprintf(&b, "\nConfidence %.0f%%, session %s", a.Confidence*100, a.SessionID)
	return b.String()
}

// NewAlert builds an alert from rep. It returns nil when rep has no critical risks.
func NewAlert(rep *report.ExecutiveReport) *Alert {
	risks := rep.CriticalRisks()
	if len(risks) == 0 {
		return nil
	}
	a := &Alert{
		AgentType:   rep.AgentType,
		SessionID:   rep.SessionID,
		Summary:     rep.ExecutiveSummary,
		Risks:       risks,
		Confidence:  rep.ConfidenceScore,
		GeneratedAt: rep.GeneratedAt,
	}
	for _, rec := range rep.Recommendations {
		if rec.Priority == "critical" || rec.Priority == "high" {
			a.TopAction = rec.Title
			break
		}
	}
	return a
}

// Record is a sent alert kept for the history endpoint.
type Record struct {
	Alert   *Alert    `json:"alert"`
	SentAt  time.Time `json:"sent_at"`
	Targets []string  `json:"targets"`
	Errors  []string  `json:"errors,omitempty"`
}

const maxHistory = 100

// Broadcaster fans alerts out to every registered channel.
type Broadcaster struct {
	mu       sync.RWMutex
	channels []Channel
	history  []Record
	logger   *zap.Logger
}

var _ controller.Notifier = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster over channels.
func NewBroadcaster(logger *zap.Logger, channels ...Channel) *Broadcaster {
	return &Broadcaster{
		channels: channels,
		logger:   logger.With(zap.String("component", "notify")),
	}
}

// Add registers another channel.
func (b *Broadcaster) Add(ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, ch)
}

// Platforms lists the registered channel platforms.
func (b *Broadcaster) Platforms() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.channels))
	for i, ch := range b.channels {
		out[i] = ch.Platform()
	}
	return out
}

// Notify sends an alert for rep's critical risks to every channel. One
// channel failing does not stop the others; the joined error is returned.
func (b *Broadcaster) Notify(ctx context.Context, rep *report.ExecutiveReport) error {
	alert := NewAlert(rep)
	if alert == nil {
		return nil
	}

	b.mu.RLock()
	channels := append([]Channel(nil), b.channels...)
	b.mu.RUnlock()

	rec := Record{Alert: alert, SentAt: time.Now().UTC()}
	var errs []error
	for _, ch := range channels {
		if err := ch.Send(ctx, alert); err != nil {
			b.logger.Warn("alert delivery failed",
				zap.String("platform", ch.Platform()),
				zap.String("agent", alert.AgentType),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ch.Platform(), err))
			rec.Errors = append(rec.Errors, err.Error())
			continue
		}
		rec.Targets = append(rec.Targets, ch.Platform())
	}

	b.logger.Info("alert sent",
		zap.String("agent", alert.AgentType),
		zap.Int("risks", len(alert.Risks)),
		zap.Strings("targets", rec.Targets))

	b.mu.Lock()
	b.history = append(b.history, rec)
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
	b.mu.Unlock()
	return errors.Join(errs...)
}

// History returns up to limit of the most recent records, oldest first.
func (b *Broadcaster) History(limit int) []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	return append([]Record(nil), b.history[len(b.history)-limit:]...)
}
