package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"courtqueue/internal/model"
	"courtqueue/internal/timer"
)

// CourtView is one court as the board shows it.
type CourtView struct {
	Court     *model.Court     `json:"court"`
	Game      *model.Game      `json:"game,omitempty"`
	Elapsed   int              `json:"elapsed_seconds"`
	Clock     string           `json:"clock"`
	Color     timer.Color      `json:"color"`
	Countdown *timer.Countdown `json:"countdown,omitempty"`
}

// Stats summarizes the session.
type Stats struct {
	Playing        int `json:"playing"`
	Waiting        int `json:"waiting"`
	ActiveCourts   int `json:"active_courts"`
	OccupiedCourts int `json:"occupied_courts"`
	ReadyUsers     int `json:"ready_users"`
}

// Board is the read model rendered by every surface.
type Board struct {
	Waiting    []*model.Game             `json:"waiting_games"`
	Playing    []*model.Game             `json:"playing_games"`
	Courts     []CourtView               `json:"courts"`
	Ready      []*model.User             `json:"ready_users"`
	Elapsed    map[int64]int             `json:"per_court_elapsed_seconds"`
	Countdowns map[int64]timer.Countdown `json:"per_court_countdowns"`
	Settings   *model.Config             `json:"settings"`
	Mode       string                    `json:"mode"`
	Stats      Stats                     `json:"stats"`
	LoadedAt   time.Time                 `json:"loaded_at"`
}

// snapshot is the last merged load from the store.
type snapshot struct {
	waiting  []*model.Game
	playing  []*model.Game
	courts   []*model.Court
	ready    []*model.User
	settings *model.Config
	loadedAt time.Time
}

type boardCache struct {
	mu    sync.Mutex
	snap  *snapshot
	stale bool
}

func (c *boardCache) get() (*snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap, c.snap != nil && !c.stale
}

func (c *boardCache) set(s *snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = s
	c.stale = false
}

func (c *boardCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
}

// game returns a copy of a cached game, or nil.
func (c *boardCache) game(gameID int64) *model.Game {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return nil
	}
	for _, list := range [][]*model.Game{c.snap.waiting, c.snap.playing} {
		for _, g := range list {
			if g.ID == gameID {
				return g.Clone()
			}
		}
	}
	return nil
}

// Refresh reloads games, users, courts and settings in parallel, merges
// local pending mutations, and aligns countdowns and elapsed timers with
// the result.
func (s *QueueService) Refresh(ctx context.Context) (*Board, error) {
	var (
		waiting  []*model.Game
		playing  []*model.Game
		courts   []*model.Court
		ready    []*model.User
		settings *model.Config
	)

	readAt := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		waiting, err = s.stores.Queue.ListByStatus(gctx, model.GameWaiting)
		return err
	})
	g.Go(func() (err error) {
		playing, err = s.stores.Queue.ListByStatus(gctx, model.GamePlaying)
		return err
	})
	g.Go(func() (err error) {
		courts, err = s.stores.Queue.ListCourts(gctx)
		return err
	})
	g.Go(func() (err error) {
		ready, err = s.stores.Queue.ListReadyUsers(gctx)
		return err
	})
	g.Go(func() (err error) {
		settings, err = s.stores.Config.Get(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, report("refresh", 0, err)
	}

	merged := s.recon.Merge(append(append([]*model.Game{}, waiting...), playing...), readAt)
	waiting, playing = waiting[:0], playing[:0]
	for _, game := range merged {
		switch game.Status {
		case model.GameWaiting:
			waiting = append(waiting, game)
		case model.GamePlaying:
			playing = append(playing, game)
		}
	}

	s.timers.SetPlaying(playing)
	s.timers.Reconcile(waiting, courts, readAt)

	if needsClaim(waiting, courts, playing) {
		s.engine.Trigger()
	}

	snap := &snapshot{
		waiting:  waiting,
		playing:  playing,
		courts:   courts,
		ready:    ready,
		settings: settings,
		loadedAt: time.Now(),
	}
	s.cache.set(snap)

	log.Debug().
		Int("waiting", len(waiting)).
		Int("playing", len(playing)).
		Int("courts", len(courts)).
		Msg("Board refreshed")

	return s.compose(snap), nil
}

// Board returns the read model, reloading only when a change made the
// cached load stale.
func (s *QueueService) Board(ctx context.Context) (*Board, error) {
	if snap, fresh := s.cache.get(); fresh {
		return s.compose(snap), nil
	}
	return s.Refresh(ctx)
}

// Invalidate marks the cached board stale.
func (s *QueueService) Invalidate() {
	s.cache.invalidate()
}

// needsClaim reports whether an unclaimed game waits while an active court
// is free.
func needsClaim(waiting []*model.Game, courts []*model.Court, playing []*model.Game) bool {
	unclaimed := false
	occupied := make(map[int64]bool)
	for _, g := range waiting {
		if g.IsClaimed() {
			occupied[g.Court()] = true
		} else {
			unclaimed = true
		}
	}
	if !unclaimed {
		return false
	}
	for _, g := range playing {
		occupied[g.Court()] = true
	}
	for _, c := range courts {
		if c.IsActive && !occupied[c.ID] {
			return true
		}
	}
	return false
}

// compose builds the board from a snapshot and the live timers.
func (s *QueueService) compose(snap *snapshot) *Board {
	elapsed := s.timers.Elapsed()
	countdowns := s.timers.Countdowns()

	warning, danger := model.DefaultWarningMinutes, model.DefaultDangerMinutes
	if snap.settings != nil {
		warning, danger = snap.settings.WarningTimeMinutes, snap.settings.DangerTimeMinutes
	}

	onCourt := make(map[int64]*model.Game)
	for _, g := range snap.waiting {
		if g.IsClaimed() {
			onCourt[g.Court()] = g
		}
	}
	for _, g := range snap.playing {
		onCourt[g.Court()] = g
	}

	b := &Board{
		Waiting:    snap.waiting,
		Playing:    snap.playing,
		Ready:      snap.ready,
		Elapsed:    elapsed,
		Countdowns: countdowns,
		Settings:   snap.settings,
		Mode:       s.mode(),
		LoadedAt:   snap.loadedAt,
		Courts:     make([]CourtView, 0, len(snap.courts)),
	}

	for _, c := range snap.courts {
		view := CourtView{Court: c, Game: onCourt[c.ID]}
		if secs, ok := elapsed[c.ID]; ok {
			view.Elapsed = secs
		}
		view.Clock = timer.FormatClock(view.Elapsed)
		view.Color = timer.ColorFor(view.Elapsed, warning, danger)
		if cd, ok := countdowns[c.ID]; ok {
			cd := cd
			view.Countdown = &cd
		}
		b.Courts = append(b.Courts, view)

		if c.IsActive {
			b.Stats.ActiveCourts++
		}
		if view.Game != nil {
			b.Stats.OccupiedCourts++
		}
	}
	b.Stats.Playing = len(snap.playing)
	b.Stats.Waiting = len(snap.waiting)
	b.Stats.ReadyUsers = len(snap.ready)
	return b
}
