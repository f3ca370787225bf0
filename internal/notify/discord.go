package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorCritical = 0xD83C3E
	maxEmbedField = 1024
)

// embedSender is the discordgo call the channel needs.
type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordChannel posts alerts as embeds through the Discord REST API. It
// never opens the gateway websocket.
type DiscordChannel struct {
	sender    embedSender
	channelID string
	logger    *zap.Logger
}

// NewDiscordChannel creates a Discord channel for a bot token.
func NewDiscordChannel(token, channelID string, logger *zap.Logger) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordChannel{sender: session, channelID: channelID, logger: logger}, nil
}

func (d *DiscordChannel) Platform() string { return "discord" }

// Send posts a as an embed with one field per risk.
func (d *DiscordChannel) Send(ctx context.Context, a *Alert) error {
	msg, err := d.sender.ChannelMessageSendEmbed(d.channelID, buildEmbed(a), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	d.logger.Debug("discord alert posted", zap.String("channel", d.channelID), zap.String("message", msg.ID))
	return nil
}

func buildEmbed(a *Alert) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       a.Title(),
		Description: a.Summary,
		Color:       colorCritical,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("confidence %.0f%% · session %s", a.Confidence*100, a.SessionID),
		},
	}
	if !a.GeneratedAt.IsZero() {
		embed.Timestamp = a.GeneratedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	for _, r := range a.Risks {
		value := r.Description
		if value == "" {
			value = "-"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  r.Title,
			Value: clip(value, maxEmbedField),
		})
	}
	if a.TopAction != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Suggested action",
			Value: clip(a.TopAction, maxEmbedField),
		})
	}
	return embed
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
