package bot

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"courtqueue/internal/config"
)

// chatGate decides which chats may drive the queue. Group chats must be
// whitelisted; a private chat opens up once its user has been seen in a
// whitelisted group.
type chatGate struct {
	cfg *config.Config

	mu   sync.RWMutex
	seen map[int64]struct{}
}

func newChatGate(cfg *config.Config) *chatGate {
	return &chatGate{cfg: cfg, seen: make(map[int64]struct{})}
}

func (g *chatGate) markSeen(userID int64) {
	g.mu.Lock()
	g.seen[userID] = struct{}{}
	g.mu.Unlock()
}

// Seen reports whether userID has used the bot in a whitelisted group.
func (g *chatGate) Seen(userID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.seen[userID]
	return ok
}

// admits reports whether an update from sender in chat should be handled.
func (g *chatGate) admits(chat *tele.Chat, sender *tele.User) bool {
	if chat.Type != tele.ChatPrivate {
		if !g.cfg.IsChatAllowed(chat.ID) {
			return false
		}
		g.markSeen(sender.ID)
		return true
	}
	return len(g.cfg.Whitelist.Chats) == 0 || g.Seen(sender.ID)
}

// Middleware drops updates the gate does not admit.
func (g *chatGate) Middleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat, sender := c.Chat(), c.Sender()
			if chat == nil || sender == nil {
				return nil
			}
			if !g.admits(chat, sender) {
				log.Debug().
					Int64("chat_id", chat.ID).
					Int64("user_id", sender.ID).
					Str("chat_type", string(chat.Type)).
					Msg("Dropping update from chat outside the whitelist")
				return nil
			}
			return next(c)
		}
	}
}

// notify answers a button press with a toast and anything else with a reply.
func notify(c tele.Context, text string) error {
	if c.Callback() != nil {
		return c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
	}
	return c.Reply(text)
}

// AdminMiddleware restricts a handler group to queue admins.
func AdminMiddleware(isAdmin func(telegramID int64) bool) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}
			if isAdmin(sender.ID) {
				return next(c)
			}
			log.Warn().
				Int64("user_id", sender.ID).
				Str("command", c.Text()).
				Msg("Non-admin attempted admin command")
			return notify(c, "❌ Only admins can do that.")
		}
	}
}

// LoggingMiddleware logs each update and how long its handler took.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			start := time.Now()
			err := next(c)

			ev := log.Debug()
			if err != nil {
				ev = log.Warn().Err(err)
			}
			if sender := c.Sender(); sender != nil {
				ev = ev.Int64("user_id", sender.ID).Str("username", sender.Username)
			}
			if chat := c.Chat(); chat != nil {
				ev = ev.Int64("chat_id", chat.ID)
			}
			if cb := c.Callback(); cb != nil {
				ev = ev.Str("callback", cb.Data)
			} else {
				ev = ev.Str("text", c.Text())
			}
			ev.Dur("took", time.Since(start)).Msg("Handled update")
			return err
		}
	}
}

// RecoveryMiddleware turns a handler panic into a logged error and a short
// apology to the user.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Recovered from panic in handler")
					err = notify(c, "❌ Internal error, please try again")
				}
			}()
			return next(c)
		}
	}
}
