package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"courtqueue/internal/model"
	"courtqueue/internal/service"
	"courtqueue/internal/timer"
)

// QueueHandler handles the commands every player can use.
type QueueHandler struct {
	queue *service.QueueService
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(queue *service.QueueService) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// replyOutcome maps a service error to a chat reply.
func replyOutcome(c tele.Context, err error) error {
	out := service.OutcomeOf(err)
	switch out.Action {
	case service.ActionNone:
		return nil
	case service.ActionSilent:
		return c.Reply("🔄 Already handled. Check /board.")
	case service.ActionRefresh:
		return c.Reply("🔄 The board changed. Check /board and try again.")
	case service.ActionBanner:
		return c.Reply("⚠️ " + out.Message)
	}
	return c.Reply("❌ " + out.Message)
}

// parseIDs parses every argument as a positive id.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(strings.TrimPrefix(a, "#"), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("❌ %q is not a valid id", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseGameArg parses the first argument as a game id.
func parseGameArg(c tele.Context, usage string) (int64, []string, error) {
	args := c.Args()
	if len(args) < 1 {
		return 0, nil, fmt.Errorf("❌ Usage: %s", usage)
	}
	ids, err := parseIDs(args[:1])
	if err != nil {
		return 0, nil, err
	}
	return ids[0], args[1:], nil
}

// HandleBoard handles the /board command.
func (h *QueueHandler) HandleBoard(c tele.Context) error {
	ctx := context.Background()
	b, err := h.queue.Refresh(ctx)
	if err != nil {
		return replyOutcome(c, err)
	}
	return c.Reply(RenderBoard(b), BuildBoardKeyboard(b))
}

// HandlePlayers handles the /players command.
func (h *QueueHandler) HandlePlayers(c tele.Context) error {
	ctx := context.Background()
	b, err := h.queue.Board(ctx)
	if err != nil {
		return replyOutcome(c, err)
	}
	if len(b.Ready) == 0 {
		return c.Reply("Nobody is free right now.")
	}
	var sb strings.Builder
	sb.WriteString("🙋 Free to play:\n")
	for _, u := range b.Ready {
		sb.WriteString(fmt.Sprintf("#%d %s%s\n", u.ID, u.Name, playerTags(u, b.Settings)))
	}
	return c.Reply(sb.String())
}

// HandleSubmit handles the /submit command.
// Format: /submit <id> <id> [id] [id]
func (h *QueueHandler) HandleSubmit(c tele.Context) error {
	ctx := context.Background()
	ids, err := parseIDs(c.Args())
	if err != nil {
		return c.Reply(err.Error())
	}
	if len(ids) == 0 {
		return c.Reply("❌ Usage: /submit <player ids>")
	}

	res, err := h.queue.SubmitGroup(ctx, ids)
	if err != nil {
		return replyOutcome(c, err)
	}

	log.Info().
		Int64("game_id", res.Game.ID).
		Bool("auto_claimed", res.AutoClaimed).
		Int64("court_id", res.CourtID).
		Msg("Group submitted from chat")

	if res.AutoClaimed {
		return c.Reply(fmt.Sprintf(
			"🎾 Game #%d goes to court %d!\n%s\nStarting in a few seconds...",
			res.Game.ID, res.CourtID, playerNames(res.Game),
		))
	}
	return c.Reply(fmt.Sprintf("🕒 Game #%d is queued.\n%s", res.Game.ID, playerNames(res.Game)))
}

// HandleFinish handles the /finish command.
// Format: /finish <game> [court]
func (h *QueueHandler) HandleFinish(c tele.Context) error {
	ctx := context.Background()
	gameID, rest, err := parseGameArg(c, "/finish <game> [court]")
	if err != nil {
		return c.Reply(err.Error())
	}
	var courtID int64
	if len(rest) > 0 {
		ids, err := parseIDs(rest[:1])
		if err != nil {
			return c.Reply(err.Error())
		}
		courtID = ids[0]
	}

	if err := h.queue.FinishGame(ctx, gameID, courtID); err != nil {
		return replyOutcome(c, err)
	}
	return c.Reply(fmt.Sprintf("🏁 Game #%d finished. The next group is called shortly.", gameID))
}

// HandleDelay handles the /delay command.
func (h *QueueHandler) HandleDelay(c tele.Context) error {
	ctx := context.Background()
	gameID, _, err := parseGameArg(c, "/delay <game>")
	if err != nil {
		return c.Reply(err.Error())
	}
	if err := h.queue.DelayGame(ctx, gameID); err != nil {
		return replyOutcome(c, err)
	}
	return c.Reply(fmt.Sprintf("⏬ Game #%d moved back one place.", gameID))
}

// HandleEdit handles the /edit command.
// Format: /edit <game> <id> <id> [id] [id]
func (h *QueueHandler) HandleEdit(c tele.Context) error {
	ctx := context.Background()
	gameID, rest, err := parseGameArg(c, "/edit <game> <player ids>")
	if err != nil {
		return c.Reply(err.Error())
	}
	ids, err := parseIDs(rest)
	if err != nil {
		return c.Reply(err.Error())
	}
	if err := h.queue.EditParticipants(ctx, gameID, ids); err != nil {
		return replyOutcome(c, err)
	}
	return c.Reply(fmt.Sprintf("✏️ Game #%d updated.", gameID))
}

func playerNames(g *model.Game) string {
	names := make([]string, 0, len(g.Users))
	for _, u := range g.Users {
		names = append(names, u.Name)
	}
	return strings.Join(names, ", ")
}

func playerTags(u *model.User, cfg *model.Config) string {
	if cfg == nil {
		return ""
	}
	var tags []string
	if cfg.ShowSex {
		tags = append(tags, string(u.Sex))
	}
	if cfg.ShowSkill {
		tags = append(tags, string(u.Skill))
	}
	if u.IsGuest {
		tags = append(tags, "guest")
	}
	if len(tags) == 0 {
		return ""
	}
	return " (" + strings.Join(tags, "/") + ")"
}

var colorMarks = map[timer.Color]string{
	timer.Normal:  "🟢",
	timer.Caution: "🟠",
	timer.Alert:   "🔴",
}

// RenderBoard formats the read model as a chat message.
func RenderBoard(b *service.Board) string {
	var sb strings.Builder

	sb.WriteString("🏟 Courts\n")
	for _, cv := range b.Courts {
		switch {
		case !cv.Court.IsActive:
			sb.WriteString(fmt.Sprintf("Court %d: closed\n", cv.Court.ID))
		case cv.Countdown != nil && cv.Countdown.Test:
			sb.WriteString(fmt.Sprintf("Court %d: test countdown %d\n", cv.Court.ID, cv.Countdown.Remaining))
		case cv.Countdown != nil:
			sb.WriteString(fmt.Sprintf("Court %d: ⏳ game #%d starts in %d\n",
				cv.Court.ID, cv.Countdown.GameID, cv.Countdown.Remaining))
		case cv.Game != nil && cv.Game.Status == model.GamePlaying:
			sb.WriteString(fmt.Sprintf("Court %d: %s %s game #%d %s\n",
				cv.Court.ID, colorMarks[cv.Color], cv.Clock, cv.Game.ID, playerNames(cv.Game)))
		case cv.Game != nil:
			sb.WriteString(fmt.Sprintf("Court %d: ⏳ game #%d %s\n", cv.Court.ID, cv.Game.ID, playerNames(cv.Game)))
		default:
			sb.WriteString(fmt.Sprintf("Court %d: free\n", cv.Court.ID))
		}
	}

	sb.WriteString("\n🕒 Queue\n")
	position := 0
	for _, g := range b.Waiting {
		if g.IsClaimed() {
			continue
		}
		position++
		sb.WriteString(fmt.Sprintf("%d. game #%d %s\n", position, g.ID, playerNames(g)))
	}
	if position == 0 {
		sb.WriteString("(empty)\n")
	}

	sb.WriteString(fmt.Sprintf("\n▶️ %d playing · 🕒 %d waiting · 🙋 %d free",
		b.Stats.Playing, b.Stats.Waiting, b.Stats.ReadyUsers))
	if b.Mode == "degraded" {
		sb.WriteString("\n⚠️ Live updates paused; refreshing every few seconds.")
	}
	return sb.String()
}
