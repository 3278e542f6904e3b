// Package discord implements the chat gateway against the Discord API:
// private interview channels scoped to the applicant and the reviewer role,
// channel teardown and member welcome messages.
package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/corsairs-gg/quartermaster/internal/config"
	"github.com/corsairs-gg/quartermaster/pkg/logger"
)

// Gateway performs channel operations on a single guild.
type Gateway struct {
	session *discordgo.Session
	cfg     config.DiscordConfig
	log     *logger.Logger
}

// New opens a Discord session for the configured guild.
func New(cfg config.DiscordConfig, log *logger.Logger) (*Gateway, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	if cfg.GuildID == "" {
		return nil, fmt.Errorf("discord guild id is required")
	}
	if log == nil {
		log = logger.NewDefault("discord")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	return &Gateway{session: session, cfg: cfg, log: log}, nil
}

// Open connects the websocket session. Callers that only use REST endpoints
// may skip it, but the command listener requires an open session.
func (g *Gateway) Open() error {
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

// Close shuts down the session.
func (g *Gateway) Close() error {
	return g.session.Close()
}

// CreateInterviewChannel creates a private text channel visible to the
// applicant and the reviewer role and returns its ID.
func (g *Gateway) CreateInterviewChannel(ctx context.Context, applicantUserID, displayName string) (string, error) {
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   g.cfg.GuildID, // @everyone shares the guild ID
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
		{
			ID:    applicantUserID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages,
		},
	}
	if g.cfg.ReviewerRoleID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    g.cfg.ReviewerRoleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages,
		})
	}

	channel, err := g.session.GuildChannelCreateComplex(g.cfg.GuildID, discordgo.GuildChannelCreateData{
		Name:                 channelName(displayName),
		Type:                 discordgo.ChannelTypeGuildText,
		Topic:                fmt.Sprintf("Interview with %s", displayName),
		ParentID:             g.cfg.CategoryID,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create guild channel: %w", err)
	}

	if _, err := g.session.ChannelMessageSend(channel.ID,
		fmt.Sprintf("Welcome <@%s>! A reviewer will be with you shortly to talk through your application.", applicantUserID),
		discordgo.WithContext(ctx)); err != nil {
		g.log.WithError(err).WithField("channel_id", channel.ID).Warn("greeting message failed")
	}

	return channel.ID, nil
}

// DeleteChannel removes an interview channel. A channel that no longer
// exists counts as success.
func (g *Gateway) DeleteChannel(ctx context.Context, channelRef string) error {
	_, err := g.session.ChannelDelete(channelRef, discordgo.WithContext(ctx))
	if err == nil || isUnknownChannel(err) {
		return nil
	}
	return fmt.Errorf("delete channel %s: %w", channelRef, err)
}

// WelcomeMember DMs the approved applicant.
func (g *Gateway) WelcomeMember(ctx context.Context, applicantUserID, displayName string) error {
	dm, err := g.session.UserChannelCreate(applicantUserID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	if _, err := g.session.ChannelMessageSend(dm.ID,
		fmt.Sprintf("Congratulations %s, your application has been approved. Welcome aboard!", displayName),
		discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send welcome message: %w", err)
	}
	return nil
}

func isUnknownChannel(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code == discordgo.ErrCodeUnknownChannel
	}
	return false
}

// channelName derives a discord-safe channel name from the display name.
func channelName(displayName string) string {
	name := strings.ToLower(strings.TrimSpace(displayName))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	cleaned := strings.Trim(b.String(), "-")
	if cleaned == "" {
		cleaned = "applicant"
	}
	if len(cleaned) > 80 {
		cleaned = cleaned[:80]
	}
	return "interview-" + cleaned
}
