package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"courtqueue/internal/board"
	"courtqueue/internal/engine"
	"courtqueue/internal/model"
	"courtqueue/internal/pkg/lock"
	"courtqueue/internal/repository"
	"courtqueue/internal/timer"
)

// gameLockTimeout bounds how long a local mutation waits for another one on
// the same game.
const gameLockTimeout = 5 * time.Second

// ErrNotAdmin is returned when a non-admin calls an admin operation.
var ErrNotAdmin = errors.New("admin only")

// SubmitResult describes where a submitted group ended up.
type SubmitResult struct {
	Queued      bool
	AutoClaimed bool
	CourtID     int64
	Game        *model.Game
}

// Options tune the service.
type Options struct {
	// CancelOnCourtDeactivate cancels a running countdown and releases the
	// claim when its court is deactivated.
	CancelOnCourtDeactivate bool
}

// QueueService is the operation surface of the court queue for one client.
type QueueService struct {
	stores repository.Stores
	engine *engine.Engine
	timers *timer.Coordinator
	recon  *board.Reconciler
	locks  *lock.KeyedLock
	opts   Options

	cache *boardCache
	mode  func() string
}

// NewQueueService wires the service. It registers itself on the engine so
// every local claim starts a countdown.
func NewQueueService(
	stores repository.Stores,
	eng *engine.Engine,
	timers *timer.Coordinator,
	opts Options,
) *QueueService {
	s := &QueueService{
		stores: stores,
		engine: eng,
		timers: timers,
		recon:  board.NewReconciler(),
		locks:  lock.NewKeyedLock(),
		opts:   opts,
		cache:  &boardCache{},
		mode:   func() string { return "" },
	}
	eng.OnClaim(func(c engine.Claim) {
		s.timers.StartCountdown(c.GameID, c.CourtID)
	})
	return s
}

// SetModeSource lets the read model report the notification mode.
func (s *QueueService) SetModeSource(fn func() string) {
	if fn != nil {
		s.mode = fn
	}
}

// withGame serializes local mutations of one game.
func (s *QueueService) withGame(ctx context.Context, gameID int64, fn func() error) error {
	return s.locks.WithLockContext(ctx, gameID, gameLockTimeout, fn)
}

// track runs a store mutation under the reconciler. projected is what the
// caller expects the game to look like; confirmed replaces it on success.
func (s *QueueService) track(gameID int64, projected *model.Game, fn func() (*model.Game, error)) (*model.Game, error) {
	id := s.recon.Begin(gameID, projected)
	game, err := fn()
	if err != nil {
		s.recon.Fail(id)
		return nil, err
	}
	s.recon.Ack(id, game)
	return game, nil
}

// confirm records a mutation whose result is only known after the write.
func (s *QueueService) confirm(gameID int64, game *model.Game) uuid.UUID {
	id := s.recon.Begin(gameID, game)
	s.recon.Ack(id, game)
	return id
}

// SubmitGroup enqueues a group. When a court is free and no older game is
// waiting for one, the game claims it immediately and its countdown starts.
func (s *QueueService) SubmitGroup(ctx context.Context, userIDs []int64) (*SubmitResult, error) {
	game, err := s.stores.Queue.CreateGame(ctx, userIDs, model.GameWaiting)
	if err != nil {
		return nil, report("submit group", 0, err)
	}
	s.confirm(game.ID, game)

	res := &SubmitResult{Queued: true, Game: game}
	if game.AutoClaimedCourtID != nil {
		res.Queued = false
		res.AutoClaimed = true
		res.CourtID = *game.AutoClaimedCourtID
		s.timers.StartCountdown(game.ID, res.CourtID)
		log.Info().Int64("game_id", game.ID).Int64("court_id", res.CourtID).Msg("Group auto-claimed a court")
	} else {
		log.Info().Int64("game_id", game.ID).Msg("Group queued")
		s.engine.Trigger()
	}
	s.cache.invalidate()
	return res, nil
}

// FinishGame ends a playing game. The court's elapsed timer is cleared at
// once and one re-check is scheduled for the freed court.
func (s *QueueService) FinishGame(ctx context.Context, gameID, courtID int64) error {
	err := s.withGame(ctx, gameID, func() error {
		projected := s.cache.game(gameID)
		if projected != nil {
			projected.Status = model.GameFinished
		}
		game, err := s.track(gameID, projected, func() (*model.Game, error) {
			return s.engine.Finish(ctx, gameID, courtID)
		})
		if err != nil {
			return err
		}
		s.timers.ClearCourt(game.Court())
		return nil
	})
	s.cache.invalidate()
	return report("finish game", gameID, err)
}

// DelayGame moves a waiting game behind the next one in line.
func (s *QueueService) DelayGame(ctx context.Context, gameID int64) error {
	err := s.withGame(ctx, gameID, func() error {
		game, err := s.stores.Queue.Delay(ctx, gameID)
		if err != nil {
			return err
		}
		s.confirm(gameID, game)
		return nil
	})
	s.cache.invalidate()
	return report("delay game", gameID, err)
}

// RevertToQueue sends a playing game back to the queue. Admin only.
func (s *QueueService) RevertToQueue(ctx context.Context, gameID int64, admin bool) error {
	if !admin {
		return ErrNotAdmin
	}
	err := s.withGame(ctx, gameID, func() error {
		projected := s.cache.game(gameID)
		if projected != nil {
			projected.Status = model.GameWaiting
			projected.CourtID = nil
			projected.StartTime = nil
		}
		var court int64
		game, err := s.track(gameID, projected, func() (*model.Game, error) {
			before, err := s.stores.Queue.GetGame(ctx, gameID)
			if err != nil {
				return nil, err
			}
			court = before.Court()
			return s.engine.Revert(ctx, gameID)
		})
		if err != nil {
			return err
		}
		if court != 0 {
			s.timers.CancelCountdown(court)
			s.timers.ClearCourt(court)
		}
		log.Info().Int64("game_id", game.ID).Msg("Game reverted by admin")
		return nil
	})
	s.cache.invalidate()
	return report("revert game", gameID, err)
}

// EditParticipants replaces the players of an unfinished game.
func (s *QueueService) EditParticipants(ctx context.Context, gameID int64, userIDs []int64) error {
	err := s.withGame(ctx, gameID, func() error {
		game, err := s.stores.Queue.ReplaceParticipants(ctx, gameID, userIDs)
		if err != nil {
			return err
		}
		s.confirm(gameID, game)
		return nil
	})
	s.cache.invalidate()
	return report("edit participants", gameID, err)
}

// DeleteGame removes a game. A running countdown for it stops and a freed
// court is offered to the queue. Admin only.
func (s *QueueService) DeleteGame(ctx context.Context, gameID int64, admin bool) error {
	if !admin {
		return ErrNotAdmin
	}
	err := s.withGame(ctx, gameID, func() error {
		s.timers.CancelGame(gameID)
		_, err := s.track(gameID, nil, func() (*model.Game, error) {
			g, err := s.stores.Queue.DeleteGame(ctx, gameID)
			if err != nil {
				return nil, err
			}
			if court := g.Court(); court != 0 && g.Status != model.GameFinished {
				s.timers.ClearCourt(court)
				s.engine.Trigger()
			}
			return nil, nil
		})
		return err
	})
	s.cache.invalidate()
	return report("delete game", gameID, err)
}

// SetCourtActive toggles a court. Deactivating stops the court's countdown
// and, when configured, gives the claim back to the queue. Activating
// offers the court to the queue. Admin only.
func (s *QueueService) SetCourtActive(ctx context.Context, courtID int64, active, admin bool) (*model.Court, error) {
	if !admin {
		return nil, ErrNotAdmin
	}
	court, err := s.stores.Queue.SetCourtActive(ctx, courtID, active)
	if err != nil {
		return nil, report("set court active", 0, err)
	}
	log.Info().Int64("court_id", courtID).Bool("active", active).Msg("Court toggled")

	if active {
		s.engine.Trigger()
	} else if s.opts.CancelOnCourtDeactivate {
		if cd, ok := s.timers.Countdowns()[courtID]; ok && !cd.Test {
			s.timers.CancelCountdown(courtID)
			if _, err := s.engine.CancelClaim(ctx, cd.GameID, courtID); err != nil {
				_ = report("release claim", cd.GameID, err)
			}
		}
	}
	s.cache.invalidate()
	return court, nil
}

// AddCourt creates a new court and offers it to the queue. Admin only.
func (s *QueueService) AddCourt(ctx context.Context, admin bool) (*model.Court, error) {
	if !admin {
		return nil, ErrNotAdmin
	}
	court, err := s.stores.Queue.AddCourt(ctx)
	if err != nil {
		return nil, report("add court", 0, err)
	}
	s.engine.Trigger()
	s.cache.invalidate()
	return court, nil
}

// TestCountdown runs a display-only countdown on a court. Admin only.
func (s *QueueService) TestCountdown(courtID int64, admin bool) error {
	if !admin {
		return ErrNotAdmin
	}
	if !s.timers.StartTestCountdown(courtID) {
		return fmt.Errorf("court %d has a live countdown: %w", courtID, repository.ErrConflict)
	}
	return nil
}

// OnCourtAssignment starts the local countdown for a claim seen on the
// change feed, unless one is already running for it.
func (s *QueueService) OnCourtAssignment(courtID, gameID int64) {
	if s.timers.EnsureCountdown(gameID, courtID) {
		log.Debug().Int64("game_id", gameID).Int64("court_id", courtID).Msg("Countdown started from change feed")
	}
	s.cache.invalidate()
}

// LinkAccount binds a Telegram account to a player, creating one if needed.
func (s *QueueService) LinkAccount(ctx context.Context, telegramID int64, name string) (*model.User, bool, error) {
	user, created, err := s.stores.Users.GetOrCreate(ctx, telegramID, name)
	if err != nil {
		return nil, false, report("link account", 0, err)
	}
	return user, created, nil
}

// SetAttendance marks the caller present or absent.
func (s *QueueService) SetAttendance(ctx context.Context, telegramID int64, attending bool) (*model.User, error) {
	user, err := s.stores.Users.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, report("set attendance", 0, err)
	}
	user, err = s.stores.Users.SetAttendance(ctx, user.ID, attending)
	if err != nil {
		return nil, report("set attendance", 0, err)
	}
	s.cache.invalidate()
	return user, nil
}

// Player returns the player linked to a Telegram account.
func (s *QueueService) Player(ctx context.Context, telegramID int64) (*model.User, error) {
	return s.stores.Users.GetByTelegramID(ctx, telegramID)
}

// Settings returns the settings row.
func (s *QueueService) Settings(ctx context.Context) (*model.Config, error) {
	return s.stores.Config.Get(ctx)
}

// UpdateThresholds changes the elapsed-time color thresholds. Admin only.
func (s *QueueService) UpdateThresholds(ctx context.Context, warning, danger int, admin bool) (*model.Config, error) {
	if !admin {
		return nil, ErrNotAdmin
	}
	cfg, err := s.stores.Config.Get(ctx)
	if err != nil {
		return nil, report("update thresholds", 0, err)
	}
	cfg.WarningTimeMinutes = warning
	cfg.DangerTimeMinutes = danger
	cfg, err = s.stores.Config.Update(ctx, cfg)
	if err != nil {
		return nil, report("update thresholds", 0, err)
	}
	s.cache.invalidate()
	return cfg, nil
}

// IsAdmin reports whether the player linked to a Telegram account has admin
// authority in the store.
func (s *QueueService) IsAdmin(ctx context.Context, telegramID int64) bool {
	user, err := s.stores.Users.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return false
	}
	return user.AdminAuthority
}
