package discord

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/corsairs-gg/quartermaster/internal/app/domain/application"
	apperrors "github.com/corsairs-gg/quartermaster/internal/errors"
)

// Applications reads application records for command handling.
type Applications interface {
	Get(ctx context.Context, id string) (application.Application, error)
}

// Decisions is the command surface's entry into the decision engine.
type Decisions interface {
	RequestInterview(ctx context.Context, applicationID, actorID string, expectedVersion int64) (application.Application, error)
	Approve(ctx context.Context, applicationID, actorID, notes string, expectedVersion int64) (application.Application, error)
	Deny(ctx context.Context, applicationID, actorID, notes string, cooldownDays int, expectedVersion int64) (application.Application, error)
}

// CommandHandler lets reviewers drive decisions from guild chat:
//
//	!interview <application-id>
//	!approve <application-id> [notes]
//	!deny <application-id> [days] [notes]
type CommandHandler struct {
	gateway   *Gateway
	apps      Applications
	decisions Decisions
	timeout   time.Duration
}

// NewCommandHandler registers the message listener on the gateway session.
func NewCommandHandler(g *Gateway, apps Applications, decisions Decisions) *CommandHandler {
	h := &CommandHandler{gateway: g, apps: apps, decisions: decisions, timeout: 15 * time.Second}
	g.session.AddHandler(h.onMessage)
	return h
}

func (h *CommandHandler) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID != h.gateway.cfg.GuildID {
		return
	}
	prefix := h.gateway.cfg.CommandPrefix
	if prefix == "" {
		prefix = "!"
	}
	if !strings.HasPrefix(m.Content, prefix) {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, prefix))
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "interview", "approve", "deny":
	default:
		return
	}

	if !h.isReviewer(m.Member) {
		h.reply(s, m.ChannelID, "You need the reviewer role to run recruitment commands.")
		return
	}
	if len(args) == 0 {
		h.reply(s, m.ChannelID, fmt.Sprintf("Usage: %s%s <application-id>", prefix, command))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	appID := args[0]
	app, err := h.apps.Get(ctx, appID)
	if err != nil {
		h.reply(s, m.ChannelID, describeError(err))
		return
	}

	actorID := m.Author.ID
	switch command {
	case "interview":
		updated, err := h.decisions.RequestInterview(ctx, appID, actorID, app.Version)
		if err != nil {
			h.reply(s, m.ChannelID, describeError(err))
			return
		}
		h.reply(s, m.ChannelID, fmt.Sprintf("Application `%s` moved to interviewing; channel incoming for **%s**.", updated.ID, updated.Applicant.DisplayName))

	case "approve":
		notes := strings.Join(args[1:], " ")
		updated, err := h.decisions.Approve(ctx, appID, actorID, notes, app.Version)
		if err != nil {
			h.reply(s, m.ChannelID, describeError(err))
			return
		}
		h.reply(s, m.ChannelID, fmt.Sprintf("Application `%s` approved. Welcome **%s**!", updated.ID, updated.Applicant.DisplayName))

	case "deny":
		days := 0
		rest := args[1:]
		if len(rest) > 0 {
			if parsed, err := strconv.Atoi(rest[0]); err == nil {
				days = parsed
				rest = rest[1:]
			}
		}
		notes := strings.Join(rest, " ")
		updated, err := h.decisions.Deny(ctx, appID, actorID, notes, days, app.Version)
		if err != nil {
			h.reply(s, m.ChannelID, describeError(err))
			return
		}
		h.reply(s, m.ChannelID, fmt.Sprintf("Application `%s` denied; cooldown recorded for **%s**.", updated.ID, updated.Applicant.DisplayName))
	}
}

func (h *CommandHandler) isReviewer(member *discordgo.Member) bool {
	roleID := h.gateway.cfg.ReviewerRoleID
	if roleID == "" || member == nil {
		return false
	}
	for _, r := range member.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

func (h *CommandHandler) reply(s *discordgo.Session, channelID, msg string) {
	if _, err := s.ChannelMessageSend(channelID, msg); err != nil {
		h.gateway.log.WithError(err).WithField("channel_id", channelID).Warn("command reply failed")
	}
}

func describeError(err error) string {
	if se := apperrors.GetServiceError(err); se != nil {
		return se.Message
	}
	return "Something went wrong, try again shortly."
}
