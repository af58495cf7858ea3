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

// CallbackPrefix is the prefix of all board button callback data.
const CallbackPrefix = "court_"

// Board button actions.
const (
	actionRefresh = "refresh"
	actionFinish  = "finish"
	actionDelay   = "delay"
)

// maxQueueButtons caps the delay buttons so the keyboard stays readable.
const maxQueueButtons = 4

// EncodeCallback encodes an action and parameter into callback data.
func EncodeCallback(action string, param string) string {
	if param != "" {
		return fmt.Sprintf("%s%s_%s", CallbackPrefix, action, param)
	}
	return CallbackPrefix + action
}

// DecodeCallback decodes callback data into action and parameter. Telebot
// may prefix the data with \f.
func DecodeCallback(data string) (action string, param string) {
	data = strings.TrimPrefix(data, "\f")
	if !strings.HasPrefix(data, CallbackPrefix) {
		return "", ""
	}
	parts := strings.SplitN(strings.TrimPrefix(data, CallbackPrefix), "_", 2)
	action = parts[0]
	if len(parts) > 1 {
		param = parts[1]
	}
	return action, param
}

// BuildBoardKeyboard builds the inline keyboard under a rendered board.
// Layout:
//   - one Finish button per playing game, two per row
//   - one Delay button per unclaimed waiting game, capped
//   - a Refresh button
func BuildBoardKeyboard(b *service.Board) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	var rows [][]tele.InlineButton

	var finish []tele.InlineButton
	for _, g := range b.Playing {
		finish = append(finish, tele.InlineButton{
			Text: fmt.Sprintf("🏁 #%d", g.ID),
			Data: EncodeCallback(actionFinish, fmt.Sprintf("%d_%d", g.ID, g.Court())),
		})
	}
	rows = append(rows, chunk(finish, 2)...)

	var delay []tele.InlineButton
	for _, g := range b.Waiting {
		if g.IsClaimed() || len(delay) == maxQueueButtons {
			continue
		}
		delay = append(delay, tele.InlineButton{
			Text: fmt.Sprintf("⏭ #%d", g.ID),
			Data: EncodeCallback(actionDelay, strconv.FormatInt(g.ID, 10)),
		})
	}
	rows = append(rows, chunk(delay, 2)...)

	rows = append(rows, []tele.InlineButton{{Text: "🔄 Refresh", Data: EncodeCallback(actionRefresh, "")}})
	markup.InlineKeyboard = rows
	return markup
}

func chunk(buttons []tele.InlineButton, size int) [][]tele.InlineButton {
	var rows [][]tele.InlineButton
	for len(buttons) > 0 {
		n := size
		if len(buttons) < n {
			n = len(buttons)
		}
		rows = append(rows, buttons[:n])
		buttons = buttons[n:]
	}
	return rows
}

// HandleCallback handles board button presses.
func (h *QueueHandler) HandleCallback(c tele.Context) error {
	ctx := context.Background()
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	action, param := DecodeCallback(callback.Data)
	log.Debug().Str("action", action).Str("param", param).Msg("Board callback received")

	var err error
	switch action {
	case actionRefresh:
	case actionFinish:
		var gameID, courtID int64
		if _, scanErr := fmt.Sscanf(param, "%d_%d", &gameID, &courtID); scanErr != nil {
			return c.Respond(&tele.CallbackResponse{Text: "❌ Invalid action"})
		}
		err = h.queue.FinishGame(ctx, gameID, courtID)
	case actionDelay:
		gameID, parseErr := strconv.ParseInt(param, 10, 64)
		if parseErr != nil {
			return c.Respond(&tele.CallbackResponse{Text: "❌ Invalid action"})
		}
		err = h.queue.DelayGame(ctx, gameID)
	default:
		return c.Respond(&tele.CallbackResponse{Text: "❌ Invalid action"})
	}

	if out := service.OutcomeOf(err); out.Action == service.ActionToast || out.Action == service.ActionBanner {
		_ = c.Respond(&tele.CallbackResponse{Text: out.Message, ShowAlert: out.Action == service.ActionToast})
	} else {
		_ = c.Respond()
	}

	b, err := h.queue.Refresh(ctx)
	if err != nil {
		return nil
	}
	return c.Edit(RenderBoard(b), BuildBoardKeyboard(b))
}
