// Package timer runs per-court start countdowns and tracks elapsed play
// time for each occupied court.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"courtqueue/internal/model"
	"courtqueue/internal/repository"
)

// Starter moves a claimed game to playing when its countdown expires.
type Starter interface {
	StartClaimed(ctx context.Context, gameID, courtID int64) (*model.Game, error)
}

// Releaser gives a claim back when its court goes inactive mid-countdown.
type Releaser interface {
	CancelClaim(ctx context.Context, gameID, courtID int64) (*model.Game, error)
}

// Config holds countdown settings.
type Config struct {
	// Ticks is the countdown length in ticks.
	Ticks int
	// Tick is the countdown and elapsed-time cadence.
	Tick time.Duration
	// ReleaseOnInactiveCourt releases the claim when the court of a running
	// countdown is deactivated.
	ReleaseOnInactiveCourt bool
}

// DefaultConfig returns a 5 x 1s countdown.
func DefaultConfig() Config {
	return Config{Ticks: 5, Tick: time.Second, ReleaseOnInactiveCourt: true}
}

// Countdown is the visible state of one court's countdown.
type Countdown struct {
	GameID    int64 `json:"game_id"`
	CourtID   int64 `json:"court_id"`
	Remaining int   `json:"remaining"`
	Test      bool  `json:"test,omitempty"`
}

type countdown struct {
	Countdown
	startedAt time.Time
	stop      chan struct{}
}

// Coordinator owns every countdown and elapsed timer of one client.
type Coordinator struct {
	cfg      Config
	starter  Starter
	releaser Releaser
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	countdowns map[int64]*countdown // by court
	playing    map[int64]time.Time  // court -> start time
	elapsed    map[int64]int        // court -> seconds
	started    []func(*model.Game)
	wg         sync.WaitGroup
}

// New creates a coordinator. releaser may be nil, in which case claims on
// deactivated courts are only cancelled locally.
func New(starter Starter, releaser Releaser, cfg Config) *Coordinator {
	if cfg.Ticks <= 0 {
		cfg.Ticks = DefaultConfig().Ticks
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:        cfg,
		starter:    starter,
		releaser:   releaser,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		countdowns: make(map[int64]*countdown),
		playing:    make(map[int64]time.Time),
		elapsed:    make(map[int64]int),
	}
}

// OnStarted registers a listener called after a countdown starts a game.
func (c *Coordinator) OnStarted(fn func(*model.Game)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, fn)
}

// StartCountdown starts or restarts the countdown for courtID. The court's
// elapsed timer is cleared at once.
func (c *Coordinator) StartCountdown(gameID, courtID int64) {
	c.start(gameID, courtID, false)
}

// EnsureCountdown starts a countdown for gameID on courtID unless one is
// already running for that game there. It reports whether it started one.
func (c *Coordinator) EnsureCountdown(gameID, courtID int64) bool {
	c.mu.Lock()
	if cd, ok := c.countdowns[courtID]; ok && cd.GameID == gameID && !cd.Test {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	c.start(gameID, courtID, false)
	return true
}

// StartTestCountdown runs a countdown that never starts a game. It is
// refused while a real countdown runs on the court.
func (c *Coordinator) StartTestCountdown(courtID int64) bool {
	c.mu.Lock()
	if cd, ok := c.countdowns[courtID]; ok && !cd.Test {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	c.start(0, courtID, true)
	return true
}

func (c *Coordinator) start(gameID, courtID int64, test bool) {
	cd := &countdown{
		Countdown: Countdown{GameID: gameID, CourtID: courtID, Remaining: c.cfg.Ticks, Test: test},
		startedAt: c.now(),
		stop:      make(chan struct{}),
	}

	c.mu.Lock()
	if prev, ok := c.countdowns[courtID]; ok {
		close(prev.stop)
	}
	c.countdowns[courtID] = cd
	if !test {
		delete(c.elapsed, courtID)
		delete(c.playing, courtID)
	}
	c.wg.Add(1)
	c.mu.Unlock()

	log.Debug().
		Int64("game_id", gameID).
		Int64("court_id", courtID).
		Bool("test", test).
		Msg("Countdown started")

	go c.runCountdown(cd)
}

func (c *Coordinator) runCountdown(cd *countdown) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-cd.stop:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.countdowns[cd.CourtID] != cd {
			c.mu.Unlock()
			return
		}
		cd.Remaining--
		if cd.Remaining > 0 {
			c.mu.Unlock()
			continue
		}
		delete(c.countdowns, cd.CourtID)
		c.mu.Unlock()

		if !cd.Test {
			c.expire(cd.GameID, cd.CourtID)
		}
		return
	}
}

func (c *Coordinator) expire(gameID, courtID int64) {
	game, err := c.starter.StartClaimed(c.ctx, gameID, courtID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrConflict):
		log.Debug().Err(err).Int64("game_id", gameID).Msg("Countdown expired on a game another client started")
		return
	case errors.Is(err, repository.ErrNotFound):
		log.Info().Err(err).Int64("game_id", gameID).Msg("Countdown expired on a deleted game")
		return
	case errors.Is(err, repository.ErrStoreUnavailable), errors.Is(err, context.Canceled):
		log.Warn().Err(err).Int64("game_id", gameID).Msg("Countdown start failed; reconcile will resume it")
		return
	default:
		log.Error().Err(err).Int64("game_id", gameID).Int64("court_id", courtID).Msg("Countdown start failed")
		return
	}

	c.mu.Lock()
	if game.StartTime != nil {
		c.playing[courtID] = *game.StartTime
		c.elapsed[courtID] = 0
	}
	listeners := append([]func(*model.Game){}, c.started...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(game)
	}
}

// CancelCountdown stops the countdown on courtID, if any.
func (c *Coordinator) CancelCountdown(courtID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cd, ok := c.countdowns[courtID]
	if !ok {
		return false
	}
	close(cd.stop)
	delete(c.countdowns, courtID)
	log.Debug().Int64("court_id", courtID).Int64("game_id", cd.GameID).Msg("Countdown cancelled")
	return true
}

// CancelGame stops the countdown running for gameID, if any.
func (c *Coordinator) CancelGame(gameID int64) bool {
	c.mu.Lock()
	var court int64
	for id, cd := range c.countdowns {
		if cd.GameID == gameID && !cd.Test {
			court = id
			break
		}
	}
	c.mu.Unlock()
	if court == 0 {
		return false
	}
	return c.CancelCountdown(court)
}

// Countdowns returns a snapshot of running countdowns keyed by court.
func (c *Coordinator) Countdowns() map[int64]Countdown {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]Countdown, len(c.countdowns))
	for id, cd := range c.countdowns {
		out[id] = cd.Countdown
	}
	return out
}

// Elapsed returns elapsed play seconds keyed by court.
func (c *Coordinator) Elapsed() map[int64]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]int, len(c.elapsed))
	for id, s := range c.elapsed {
		out[id] = s
	}
	return out
}

// SetPlaying replaces the set of playing games tracked for elapsed time.
// Courts with a running countdown are skipped.
func (c *Coordinator) SetPlaying(games []*model.Game) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = make(map[int64]time.Time, len(games))
	for _, g := range games {
		if g.Status != model.GamePlaying || g.CourtID == nil || g.StartTime == nil {
			continue
		}
		if cd, ok := c.countdowns[*g.CourtID]; ok && !cd.Test {
			continue
		}
		c.playing[*g.CourtID] = *g.StartTime
	}
	c.recomputeLocked()
}

// ClearCourt drops the elapsed timer of courtID immediately.
func (c *Coordinator) ClearCourt(courtID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.playing, courtID)
	delete(c.elapsed, courtID)
}

func (c *Coordinator) recomputeLocked() {
	now := c.now()
	c.elapsed = make(map[int64]int, len(c.playing))
	for court, start := range c.playing {
		secs := int(now.Sub(start) / time.Second)
		if secs < 0 {
			secs = 0
		}
		c.elapsed[court] = secs
	}
}

// Reconcile aligns local countdowns with the authoritative waiting list
// read at readAt. A countdown whose game is gone or claimed elsewhere is
// cancelled. A countdown on a deactivated court is cancelled and its claim
// released. A claimed game with no local countdown gets one, so a claim
// made by a client that went away still completes. Countdowns started
// after readAt are newer than the list and left alone.
func (c *Coordinator) Reconcile(waiting []*model.Game, courts []*model.Court, readAt time.Time) {
	active := make(map[int64]bool, len(courts))
	for _, ct := range courts {
		active[ct.ID] = ct.IsActive
	}
	claimed := make(map[int64]*model.Game)
	for _, g := range waiting {
		if g.IsClaimed() {
			claimed[g.ID] = g
		}
	}

	var release []claimRef
	var resume []claimRef

	c.mu.Lock()
	for courtID, cd := range c.countdowns {
		if cd.Test || cd.startedAt.After(readAt) {
			continue
		}
		g, ok := claimed[cd.GameID]
		if !ok || g.Court() != courtID {
			close(cd.stop)
			delete(c.countdowns, courtID)
			log.Debug().Int64("court_id", courtID).Int64("game_id", cd.GameID).Msg("Countdown dropped; claim no longer holds")
			continue
		}
		if !active[courtID] {
			close(cd.stop)
			delete(c.countdowns, courtID)
			release = append(release, claimRef{cd.GameID, courtID})
		}
	}
	for _, g := range claimed {
		courtID := g.Court()
		if cd, ok := c.countdowns[courtID]; ok && cd.GameID == g.ID {
			continue
		}
		if !active[courtID] {
			if !containsRef(release, g.ID) {
				release = append(release, claimRef{g.ID, courtID})
			}
			continue
		}
		resume = append(resume, claimRef{g.ID, courtID})
	}
	c.mu.Unlock()

	for _, r := range resume {
		log.Info().Int64("game_id", r.gameID).Int64("court_id", r.courtID).Msg("Resuming countdown for claimed game")
		c.EnsureCountdown(r.gameID, r.courtID)
	}

	if !c.cfg.ReleaseOnInactiveCourt || c.releaser == nil {
		return
	}
	for _, r := range release {
		if _, err := c.releaser.CancelClaim(c.ctx, r.gameID, r.courtID); err != nil {
			log.Debug().Err(err).Int64("game_id", r.gameID).Msg("Release on inactive court skipped")
			continue
		}
		log.Info().Int64("game_id", r.gameID).Int64("court_id", r.courtID).Msg("Claim released; court deactivated")
	}
}

type claimRef struct{ gameID, courtID int64 }

func containsRef(refs []claimRef, gameID int64) bool {
	for _, r := range refs {
		if r.gameID == gameID {
			return true
		}
	}
	return false
}

// Run refreshes elapsed times every tick until ctx is done, then stops all
// countdowns.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()
	defer c.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.mu.Lock()
			c.recomputeLocked()
			c.mu.Unlock()
		}
	}
}

// Stop cancels every countdown and waits for them to exit.
func (c *Coordinator) Stop() {
	c.cancel()
	c.mu.Lock()
	for id, cd := range c.countdowns {
		close(cd.stop)
		delete(c.countdowns, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Color is the display band of an elapsed time.
type Color string

// Elapsed-time bands.
const (
	Normal  Color = "normal"
	Caution Color = "caution"
	Alert   Color = "alert"
)

// ColorFor bands elapsed seconds against thresholds given in minutes.
func ColorFor(elapsedSeconds, warningMinutes, dangerMinutes int) Color {
	minutes := elapsedSeconds / 60
	switch {
	case minutes >= dangerMinutes:
		return Alert
	case minutes >= warningMinutes:
		return Caution
	}
	return Normal
}

// FormatClock renders seconds as MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
