// Package engine decides which waiting game gets the next free court.
//
// A pass reads a fresh free court and asks the store to claim it for the
// oldest unclaimed waiting game with a conditional write. Passes on one
// engine never overlap, and any number of engines (one per client) may run
// against the same store: the store arbitrates, and a lost race is a
// silent no-op.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"courtqueue/internal/model"
	"courtqueue/internal/repository"
)

// Store is the part of the queue store the engine drives.
type Store interface {
	FindAvailableCourt(ctx context.Context) (*model.Court, error)
	ClaimCourtForNextGame(ctx context.Context, courtID int64) (*model.Game, error)
	TransitionStatus(ctx context.Context, gameID int64, to model.GameStatus, courtID int64) (*model.Game, error)
	ReleaseClaim(ctx context.Context, gameID, courtID int64) (*model.Game, error)
}

// Claim is a court successfully stamped on a waiting game.
type Claim struct {
	GameID  int64
	CourtID int64
	Game    *model.Game
}

// Config holds engine pacing.
type Config struct {
	// RecheckBackoff paces the re-check after a claim and after a lost race.
	RecheckBackoff time.Duration
	// FinishSettleDelay is how long after a finish the engine re-checks.
	FinishSettleDelay time.Duration
}

// DefaultConfig returns the standard pacing.
func DefaultConfig() Config {
	return Config{
		RecheckBackoff:    500 * time.Millisecond,
		FinishSettleDelay: time.Second,
	}
}

// Outcome of a single pass.
type Outcome int

const (
	// Idle means there was no free court or no eligible game.
	Idle Outcome = iota
	// Claimed means this engine stamped a court.
	Claimed
	// Raced means a court looked free but the claim matched nothing.
	Raced
	// Busy means another pass was already in flight on this engine.
	Busy
)

// Engine is the per-client assignment engine. The zero value is not usable;
// call New.
type Engine struct {
	store Store
	cfg   Config

	inFlight atomic.Bool
	kick     chan struct{}

	mu      sync.Mutex
	onClaim []func(Claim)
	timers  map[*time.Timer]struct{}
	closed  bool
}

// New creates an engine over store.
func New(store Store, cfg Config) *Engine {
	if cfg.RecheckBackoff <= 0 {
		cfg.RecheckBackoff = DefaultConfig().RecheckBackoff
	}
	if cfg.FinishSettleDelay <= 0 {
		cfg.FinishSettleDelay = DefaultConfig().FinishSettleDelay
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		kick:   make(chan struct{}, 1),
		timers: make(map[*time.Timer]struct{}),
	}
}

// OnClaim registers a listener called after every claim this engine makes.
func (e *Engine) OnClaim(fn func(Claim)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClaim = append(e.onClaim, fn)
}

// Trigger requests a pass. Triggers that arrive while one is pending
// coalesce into it.
func (e *Engine) Trigger() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// after triggers a pass once d has elapsed, unless the engine is closed.
func (e *Engine) after(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		e.mu.Lock()
		delete(e.timers, t)
		e.mu.Unlock()
		e.Trigger()
	})
	e.timers[t] = struct{}{}
}

// ScheduleAfterFinish schedules exactly one re-check after the settle delay
// so the finished game's court is visible as free before the pass runs.
func (e *Engine) ScheduleAfterFinish(courtID int64) {
	log.Debug().Int64("court_id", courtID).Dur("delay", e.cfg.FinishSettleDelay).Msg("Re-check scheduled after finish")
	e.after(e.cfg.FinishSettleDelay)
}

// CheckAndClaim runs one pass. It returns nil when there is nothing to do,
// the race was lost, or a pass is already in flight on this engine.
func (e *Engine) CheckAndClaim(ctx context.Context) (*Claim, error) {
	claim, _, err := e.pass(ctx)
	return claim, err
}

func (e *Engine) pass(ctx context.Context) (*Claim, Outcome, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, Busy, nil
	}
	defer e.inFlight.Store(false)

	court, err := e.store.FindAvailableCourt(ctx)
	if err != nil {
		return nil, Idle, err
	}
	if court == nil {
		return nil, Idle, nil
	}

	game, err := e.store.ClaimCourtForNextGame(ctx, court.ID)
	if err != nil {
		return nil, Idle, err
	}
	if game == nil {
		log.Debug().Int64("court_id", court.ID).Msg("No game claimed for free court")
		return nil, Raced, nil
	}

	claim := &Claim{GameID: game.ID, CourtID: court.ID, Game: game}
	log.Info().
		Int64("game_id", claim.GameID).
		Int64("court_id", claim.CourtID).
		Msg("Court claimed for next game")

	e.mu.Lock()
	listeners := append([]func(Claim){}, e.onClaim...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(*claim)
	}
	return claim, Claimed, nil
}

// Run consumes triggers until ctx is done. After a claim it re-checks once
// the backoff has passed, so several free courts fill one by one. After a
// lost race it retries once, also after the backoff.
func (e *Engine) Run(ctx context.Context) error {
	defer e.stopTimers()

	retried := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.kick:
		}

		_, outcome, err := e.pass(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logPassError(err)
			continue
		}

		switch outcome {
		case Claimed:
			retried = false
			e.after(e.cfg.RecheckBackoff)
		case Raced:
			if !retried {
				retried = true
				e.after(e.cfg.RecheckBackoff)
			} else {
				retried = false
			}
		default:
			retried = false
		}
	}
}

func logPassError(err error) {
	switch {
	case errors.Is(err, repository.ErrStoreUnavailable):
		log.Warn().Err(err).Msg("Assignment pass skipped, store unavailable")
	case errors.Is(err, repository.ErrConflict):
		log.Debug().Err(err).Msg("Assignment pass lost a race")
	default:
		log.Error().Err(err).Msg("Assignment pass failed")
	}
}

func (e *Engine) stopTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for t := range e.timers {
		t.Stop()
	}
	e.timers = make(map[*time.Timer]struct{})
}

// StartClaimed moves a claimed game to playing. Only countdown expiry
// calls it.
func (e *Engine) StartClaimed(ctx context.Context, gameID, courtID int64) (*model.Game, error) {
	game, err := e.store.TransitionStatus(ctx, gameID, model.GamePlaying, courtID)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("game_id", gameID).Int64("court_id", courtID).Msg("Game started")
	return game, nil
}

// Finish ends a playing game and schedules the follow-up re-check.
func (e *Engine) Finish(ctx context.Context, gameID, courtID int64) (*model.Game, error) {
	game, err := e.store.TransitionStatus(ctx, gameID, model.GameFinished, courtID)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("game_id", gameID).Int64("court_id", game.Court()).Msg("Game finished")
	e.ScheduleAfterFinish(game.Court())
	return game, nil
}

// Revert sends a playing game back to the queue keeping its position. The
// freed court is picked up by the next pass.
func (e *Engine) Revert(ctx context.Context, gameID int64) (*model.Game, error) {
	game, err := e.store.TransitionStatus(ctx, gameID, model.GameWaiting, 0)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("game_id", gameID).Msg("Game reverted to queue")
	return game, nil
}

// CancelClaim releases a claim whose countdown was abandoned.
func (e *Engine) CancelClaim(ctx context.Context, gameID, courtID int64) (*model.Game, error) {
	game, err := e.store.ReleaseClaim(ctx, gameID, courtID)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("game_id", gameID).Int64("court_id", courtID).Msg("Claim released")
	e.Trigger()
	return game, nil
}
