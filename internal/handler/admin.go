package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"courtqueue/internal/service"
)

// AdminHandler handles admin-only commands. Every handler here runs behind
// the admin middleware.
type AdminHandler struct {
	queue *service.QueueService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(queue *service.QueueService) *AdminHandler {
	return &AdminHandler{queue: queue}
}

// logAdmin writes the audit line for an admin operation.
func logAdmin(sender *tele.User, operation, target string, id int64) {
	log.Info().
		Int64("admin_id", sender.ID).
		Int64(target, id).
		Str("operation", operation).
		Msg("Admin operation executed")
}

// HandleRevert handles the /revert command.
// Format: /revert <game>
func (h *AdminHandler) HandleRevert(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	gameID, _, err := parseGameArg(c, "/revert <game>")
	if err != nil {
		return c.Reply(err.Error())
	}
	if err := h.queue.RevertToQueue(ctx, gameID, true); err != nil {
		return replyOutcome(c, err)
	}

	logAdmin(sender, "revert", "game_id", gameID)
	return c.Reply(fmt.Sprintf("↩️ Game #%d is back in the queue.", gameID))
}

// HandleDelete handles the /delete command.
// Format: /delete <game>
func (h *AdminHandler) HandleDelete(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	gameID, _, err := parseGameArg(c, "/delete <game>")
	if err != nil {
		return c.Reply(err.Error())
	}
	if err := h.queue.DeleteGame(ctx, gameID, true); err != nil {
		return replyOutcome(c, err)
	}

	logAdmin(sender, "delete", "game_id", gameID)
	return c.Reply(fmt.Sprintf("🗑 Game #%d deleted.", gameID))
}

// HandleCourt handles the /court command.
// Format: /court <id> on|off
func (h *AdminHandler) HandleCourt(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) != 2 {
		return c.Reply("❌ Usage: /court <id> on|off")
	}
	ids, err := parseIDs(args[:1])
	if err != nil {
		return c.Reply(err.Error())
	}

	var active bool
	switch strings.ToLower(args[1]) {
	case "on":
		active = true
	case "off":
		active = false
	default:
		return c.Reply("❌ Usage: /court <id> on|off")
	}

	court, err := h.queue.SetCourtActive(ctx, ids[0], active, true)
	if err != nil {
		return replyOutcome(c, err)
	}

	logAdmin(sender, "court_"+strings.ToLower(args[1]), "court_id", court.ID)
	if court.IsActive {
		return c.Reply(fmt.Sprintf("✅ Court %d is open.", court.ID))
	}
	return c.Reply(fmt.Sprintf("⛔ Court %d is closed.", court.ID))
}

// HandleAddCourt handles the /addcourt command.
func (h *AdminHandler) HandleAddCourt(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	court, err := h.queue.AddCourt(ctx, true)
	if err != nil {
		return replyOutcome(c, err)
	}

	logAdmin(sender, "add_court", "court_id", court.ID)
	return c.Reply(fmt.Sprintf("✅ Court %d added.", court.ID))
}

// HandleTestCountdown handles the /testcountdown command.
// Format: /testcountdown <court>
func (h *AdminHandler) HandleTestCountdown(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) != 1 {
		return c.Reply("❌ Usage: /testcountdown <court>")
	}
	ids, err := parseIDs(args)
	if err != nil {
		return c.Reply(err.Error())
	}
	if err := h.queue.TestCountdown(ids[0], true); err != nil {
		return c.Reply(fmt.Sprintf("❌ Court %d already has a countdown running.", ids[0]))
	}
	return c.Reply(fmt.Sprintf("⏳ Test countdown started on court %d.", ids[0]))
}

// HandleThresholds handles the /thresholds command.
// Format: /thresholds <warning minutes> <danger minutes>
func (h *AdminHandler) HandleThresholds(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) != 2 {
		cfg, err := h.queue.Settings(ctx)
		if err != nil {
			return replyOutcome(c, err)
		}
		return c.Reply(fmt.Sprintf(
			"⏱ Warning after %d min, alert after %d min.\nUsage: /thresholds <warning> <danger>",
			cfg.WarningTimeMinutes, cfg.DangerTimeMinutes,
		))
	}

	warning, err1 := strconv.Atoi(args[0])
	danger, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		return c.Reply("❌ Minutes must be whole numbers")
	}

	cfg, err := h.queue.UpdateThresholds(ctx, warning, danger, true)
	if err != nil {
		if service.OutcomeOf(err).Action == service.ActionRefresh {
			return c.Reply("❌ Both values must be positive and warning must not exceed danger")
		}
		return replyOutcome(c, err)
	}

	logAdmin(sender, "thresholds", "config_id", cfg.ID)
	return c.Reply(fmt.Sprintf("✅ Warning after %d min, alert after %d min.",
		cfg.WarningTimeMinutes, cfg.DangerTimeMinutes))
}
