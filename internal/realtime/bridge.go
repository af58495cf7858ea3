package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Mode reports whether change notifications are flowing.
type Mode string

// Bridge modes.
const (
	ModeLive     Mode = "live"
	ModeDegraded Mode = "degraded"
)

// Config holds bridge pacing.
type Config struct {
	GamesDebounce   time.Duration
	UsersDebounce   time.Duration
	LivenessTimeout time.Duration
	PollInterval    time.Duration
}

// DefaultConfig returns the standard pacing.
func DefaultConfig() Config {
	return Config{
		GamesDebounce:   300 * time.Millisecond,
		UsersDebounce:   500 * time.Millisecond,
		LivenessTimeout: 10 * time.Second,
		PollInterval:    10 * time.Second,
	}
}

// Handlers receive refresh signals. Any of them may be nil. Debounced
// handlers run on their own goroutine.
type Handlers struct {
	// OnGames fires after games or participant changes settle.
	OnGames func()
	// OnUsers fires after user status, attendance or active changes settle.
	OnUsers func()
	// OnCourts fires on every court change without delay.
	OnCourts func()
	// OnCourtAssignment fires at once when a waiting game receives a court.
	OnCourtAssignment func(courtID, gameID int64)
}

// Bridge converts a change feed into refresh signals.
type Bridge struct {
	source   Source
	cfg      Config
	handlers Handlers

	games *debouncer
	users *debouncer

	mu        sync.Mutex
	mode      Mode
	forced    *Mode
	listeners []func(Mode)
	wake      chan struct{}
}

// NewBridge creates a bridge over source. It starts in ModeDegraded until
// the first subscription succeeds.
func NewBridge(source Source, cfg Config, h Handlers) *Bridge {
	def := DefaultConfig()
	if cfg.GamesDebounce <= 0 {
		cfg.GamesDebounce = def.GamesDebounce
	}
	if cfg.UsersDebounce <= 0 {
		cfg.UsersDebounce = def.UsersDebounce
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = def.LivenessTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Bridge{
		source:   source,
		cfg:      cfg,
		handlers: h,
		games:    newDebouncer(cfg.GamesDebounce, h.OnGames),
		users:    newDebouncer(cfg.UsersDebounce, h.OnUsers),
		mode:     ModeDegraded,
		wake:     make(chan struct{}, 1),
	}
}

// Mode returns the current mode.
func (b *Bridge) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.forced != nil {
		return *b.forced
	}
	return b.mode
}

// OnModeChange registers a listener for mode transitions.
func (b *Bridge) OnModeChange(fn func(Mode)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// ForceMode pins the mode regardless of traffic. A forced degraded bridge
// polls even while events arrive.
func (b *Bridge) ForceMode(m Mode) {
	b.mu.Lock()
	prev := b.effectiveLocked()
	b.forced = &m
	b.mu.Unlock()
	b.notify(prev, m)
	b.poke()
}

// ClearForcedMode returns the bridge to traffic-driven mode.
func (b *Bridge) ClearForcedMode() {
	b.mu.Lock()
	prev := b.effectiveLocked()
	b.forced = nil
	next := b.mode
	b.mu.Unlock()
	b.notify(prev, next)
	b.poke()
}

func (b *Bridge) effectiveLocked() Mode {
	if b.forced != nil {
		return *b.forced
	}
	return b.mode
}

func (b *Bridge) setMode(m Mode) {
	b.mu.Lock()
	prev := b.effectiveLocked()
	b.mode = m
	next := b.effectiveLocked()
	b.mu.Unlock()
	b.notify(prev, next)
}

func (b *Bridge) notify(prev, next Mode) {
	if prev == next {
		return
	}
	log.Info().Str("from", string(prev)).Str("to", string(next)).Msg("Realtime mode changed")
	b.mu.Lock()
	listeners := append([]func(Mode){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(next)
	}
}

func (b *Bridge) poke() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run consumes the feed until ctx is done. A failed or closed subscription
// puts the bridge in degraded mode and is retried every poll interval.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.games.stop()
	defer b.users.stop()

	var events <-chan Event
	subscribe := func() {
		ch, err := b.source.Subscribe(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("Change feed subscription failed")
			}
			events = nil
			b.setMode(ModeDegraded)
			return
		}
		events = ch
		b.setMode(ModeLive)
	}
	subscribe()

	liveness := time.NewTimer(b.cfg.LivenessTimeout)
	defer liveness.Stop()
	poll := time.NewTicker(b.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-b.wake:

		case ev, ok := <-events:
			if !ok {
				log.Warn().Msg("Change feed closed")
				events = nil
				b.setMode(ModeDegraded)
				continue
			}
			if !liveness.Stop() {
				select {
				case <-liveness.C:
				default:
				}
			}
			liveness.Reset(b.cfg.LivenessTimeout)
			b.setMode(ModeLive)
			b.dispatch(ev)

		case <-liveness.C:
			log.Warn().Dur("silence", b.cfg.LivenessTimeout).Msg("No change events; falling back to polling")
			b.setMode(ModeDegraded)

		case <-poll.C:
			if events == nil {
				subscribe()
			}
			if b.Mode() == ModeDegraded {
				log.Debug().Msg("Fallback poll")
				b.pollAll()
			}
		}
	}
}

func (b *Bridge) pollAll() {
	if b.handlers.OnGames != nil {
		go b.handlers.OnGames()
	}
	if b.handlers.OnUsers != nil {
		go b.handlers.OnUsers()
	}
	if b.handlers.OnCourts != nil {
		go b.handlers.OnCourts()
	}
}

func (b *Bridge) dispatch(ev Event) {
	switch ev.Table {
	case TableGames:
		b.detectAssignment(ev)
		b.games.trigger()
	case TableRelations:
		b.games.trigger()
	case TableUsers:
		if ev.Type == OpUpdate && userChanged(ev) {
			b.users.trigger()
		}
	case TableCourts:
		if b.handlers.OnCourts != nil {
			b.handlers.OnCourts()
		}
	default:
		log.Debug().Str("table", ev.Table).Msg("Ignoring change on unknown table")
	}
}

// detectAssignment reports a waiting game that just received a court,
// either by update or by being inserted with one.
func (b *Bridge) detectAssignment(ev Event) {
	if b.handlers.OnCourtAssignment == nil {
		return
	}
	newRow, err := DecodeRow(ev.New)
	if err != nil || newRow == nil {
		return
	}
	if newRow.Status == nil || *newRow.Status != "waiting" || newRow.CourtID == nil {
		return
	}
	switch ev.Type {
	case OpInsert:
	case OpUpdate:
		oldRow, err := DecodeRow(ev.Old)
		if err != nil || oldRow == nil || oldRow.CourtID != nil {
			return
		}
	default:
		return
	}
	log.Debug().Int64("game_id", newRow.ID).Int64("court_id", *newRow.CourtID).Msg("Court assignment detected")
	b.handlers.OnCourtAssignment(*newRow.CourtID, newRow.ID)
}

func userChanged(ev Event) bool {
	oldRow, err := DecodeRow(ev.Old)
	if err != nil || oldRow == nil {
		return false
	}
	newRow, err := DecodeRow(ev.New)
	if err != nil || newRow == nil {
		return false
	}
	return !sameString(oldRow.UserStatus, newRow.UserStatus) ||
		!sameBool(oldRow.IsAttendance, newRow.IsAttendance) ||
		!sameBool(oldRow.IsActive, newRow.IsActive)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameBool(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// debouncer runs fn once a burst of triggers has been quiet for delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) trigger() {
	if d.fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
