package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Persona sets how alerts appear in chat.
type Persona struct {
	Name    string `json:"name" yaml:"name"`
	IconURL string `json:"icon_url" yaml:"icon_url"`
	Emoji   string `json:"emoji" yaml:"emoji"` // used when IconURL is empty, e.g. ":rotating_light:"
}

// SlackChannel posts alerts to one Slack channel with a bot token.
type SlackChannel struct {
	client    *slack.Client
	channelID string
	persona   Persona
	logger    *zap.Logger
}

// NewSlackChannel creates a Slack channel. Extra options go to slack.New,
// which tests use to point the client at a fake API.
func NewSlackChannel(botToken, channelID string, persona Persona, logger *zap.Logger, opts ...slack.Option) *SlackChannel {
	return &SlackChannel{
		client:    slack.New(botToken, opts...),
		channelID: channelID,
		persona:   persona,
		logger:    logger,
	}
}

func (s *SlackChannel) Platform() string { return "slack" }

// Send posts a as a header block followed by the alert text.
func (s *SlackChannel) Send(ctx context.Context, a *Alert) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(a.Title(), false),
		slack.MsgOptionBlocks(
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, a.Title(), false, false)),
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, a.Text(), false, false), nil, nil),
		),
	}
	opts = append(opts, s.personaOpts()...)

	_, ts, err := s.client.PostMessageContext(ctx, s.channelID, opts...)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	s.logger.Debug("slack alert posted", zap.String("channel", s.channelID), zap.String("ts", ts))
	return nil
}

func (s *SlackChannel) personaOpts() []slack.MsgOption {
	if s.persona.Name == "" {
		return nil
	}
	opts := []slack.MsgOption{slack.MsgOptionUsername(s.persona.Name)}
	if s.persona.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(s.persona.IconURL))
	} else if s.persona.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(s.persona.Emoji))
	}
	return opts
}
