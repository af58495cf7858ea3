// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"courtqueue/internal/config"
	"courtqueue/internal/handler"
	"courtqueue/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot     *tele.Bot
	cfg     *config.Config
	queue   *service.QueueService
	gate    *chatGate

	accountHandler *handler.AccountHandler
	queueHandler   *handler.QueueHandler
	adminHandler   *handler.AdminHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config *config.Config
	Queue  *service.QueueService
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:     teleBot,
		cfg:     deps.Config,
		queue:   deps.Queue,
		gate:    newChatGate(deps.Config),
	}

	b.accountHandler = handler.NewAccountHandler(deps.Queue)
	b.queueHandler = handler.NewQueueHandler(deps.Queue)
	b.adminHandler = handler.NewAdminHandler(deps.Queue)

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(b.gate.Middleware())
	b.bot.Use(LoggingMiddleware())
}

// isAdmin accepts configured admins and players with admin authority.
func (b *Bot) isAdmin(telegramID int64) bool {
	if b.cfg.IsAdmin(telegramID) {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.queue.IsAdmin(ctx, telegramID)
}

// registerHandlers registers all command handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/attend", b.accountHandler.HandleAttend)
	b.bot.Handle("/absent", b.accountHandler.HandleAbsent)

	b.bot.Handle("/board", b.queueHandler.HandleBoard)
	b.bot.Handle("/players", b.queueHandler.HandlePlayers)
	b.bot.Handle("/submit", b.queueHandler.HandleSubmit)
	b.bot.Handle("/finish", b.queueHandler.HandleFinish)
	b.bot.Handle("/delay", b.queueHandler.HandleDelay)
	b.bot.Handle("/edit", b.queueHandler.HandleEdit)

	// Board buttons
	b.bot.Handle(tele.OnCallback, b.queueHandler.HandleCallback)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.isAdmin))
	adminGroup.Handle("/revert", b.adminHandler.HandleRevert)
	adminGroup.Handle("/delete", b.adminHandler.HandleDelete)
	adminGroup.Handle("/court", b.adminHandler.HandleCourt)
	adminGroup.Handle("/addcourt", b.adminHandler.HandleAddCourt)
	adminGroup.Handle("/testcountdown", b.adminHandler.HandleTestCountdown)
	adminGroup.Handle("/thresholds", b.adminHandler.HandleThresholds)
}

// Run polls until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	b.Start()
	return nil
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
