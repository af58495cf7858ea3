// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v3"

	"courtqueue/internal/service"
)

// AccountHandler handles account linking and attendance.
type AccountHandler struct {
	queue *service.QueueService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(queue *service.QueueService) *AccountHandler {
	return &AccountHandler{queue: queue}
}

// displayName picks the name a new player is created with.
func displayName(sender *tele.User) string {
	name := sender.FirstName
	if sender.LastName != "" {
		name += " " + sender.LastName
	}
	if name == "" {
		name = sender.Username
	}
	if name == "" {
		name = fmt.Sprintf("player-%d", sender.ID)
	}
	return name
}

// HandleStart handles the /start command.
// Links the Telegram account to a player, creating one on first use.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, created, err := h.queue.LinkAccount(ctx, sender.ID, displayName(sender))
	if err != nil {
		return replyOutcome(c, err)
	}

	if created {
		return c.Reply(fmt.Sprintf(
			"🎾 Welcome %s! You are player #%d.\n\n"+
				"Commands:\n"+
				"/attend - check in for today\n"+
				"/absent - check out\n"+
				"/board - courts and queue\n"+
				"/players - who is free to play\n"+
				"/submit <ids> - queue a group of 2-4\n"+
				"/finish <game> - finish a game\n"+
				"/delay <game> - let the next group go first\n"+
				"/edit <game> <ids> - change players",
			user.Name, user.ID,
		))
	}

	return c.Reply(fmt.Sprintf("👋 Welcome back %s (player #%d).", user.Name, user.ID))
}

// HandleAttend handles the /attend command.
func (h *AccountHandler) HandleAttend(c tele.Context) error {
	return h.setAttendance(c, true)
}

// HandleAbsent handles the /absent command.
func (h *AccountHandler) HandleAbsent(c tele.Context) error {
	return h.setAttendance(c, false)
}

func (h *AccountHandler) setAttendance(c tele.Context, attending bool) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, err := h.queue.SetAttendance(ctx, sender.ID, attending)
	if err != nil {
		return replyOutcome(c, err)
	}
	if attending {
		return c.Reply(fmt.Sprintf("✅ %s is checked in.", user.Name))
	}
	return c.Reply(fmt.Sprintf("👋 %s is checked out.", user.Name))
}
