// Package memstore is an in-memory implementation of the queue, user and
// config stores. It keeps the same conditional-write semantics as the
// Postgres repository and publishes row changes like the notify triggers.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"courtqueue/internal/model"
	"courtqueue/internal/realtime"
	"courtqueue/internal/repository"
)

const feedBuffer = 256

type gameRow struct {
	game    model.Game
	userIDs []int64
}

// Store holds every table in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	users  map[int64]*model.User
	courts map[int64]*model.Court
	games  map[int64]*gameRow
	config *model.Config

	nextUserID  int64
	nextCourtID int64
	nextGameID  int64
	lastStamp   time.Time

	now         func() time.Time
	unavailable bool

	subMu sync.Mutex
	subs  map[chan realtime.Event]struct{}
}

var (
	_ repository.QueueStore  = (*Store)(nil)
	_ repository.UserStore   = (*Store)(nil)
	_ repository.ConfigStore = (*Store)(nil)
	_ realtime.Source        = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:  make(map[int64]*model.User),
		courts: make(map[int64]*model.Court),
		games:  make(map[int64]*gameRow),
		now:    time.Now,
		subs:   make(map[chan realtime.Event]struct{}),
	}
}

// Stores returns the store wired as all three contracts.
func (s *Store) Stores() repository.Stores {
	return repository.Stores{Queue: s, Users: s, Config: s}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetUnavailable makes every call fail with ErrStoreUnavailable.
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// stamp returns a strictly increasing microsecond timestamp.
func (s *Store) stamp() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

func (s *Store) check(op string) error {
	if s.unavailable {
		return fmt.Errorf("%s: %w", op, repository.ErrStoreUnavailable)
	}
	return nil
}

// ============================================================================
// Seeding
// ============================================================================

// AddUser creates an active, attending, ready player.
func (s *Store) AddUser(name string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	now := s.stamp()
	u := &model.User{
		ID:           s.nextUserID,
		Name:         name,
		Sex:          model.SexMale,
		Skill:        model.SkillC,
		IsActive:     true,
		IsAttendance: true,
		Status:       model.UserReady,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users[u.ID] = u
	s.publish(realtime.TableUsers, realtime.OpInsert, nil, u)
	cp := *u
	return &cp
}

// SeedCourts adds n active courts.
func (s *Store) SeedCourts(n int) {
	for i := 0; i < n; i++ {
		_, _ = s.AddCourt(context.Background())
	}
}

// ============================================================================
// Queue
// ============================================================================

func (s *Store) hydrate(row *gameRow) *model.Game {
	g := row.game.Clone()
	g.Users = make([]model.User, 0, len(row.userIDs))
	for _, id := range row.userIDs {
		if u := s.users[id]; u != nil {
			g.Users = append(g.Users, *u)
		}
	}
	return g
}

func (s *Store) sortedGames(status model.GameStatus) []*gameRow {
	rows := make([]*gameRow, 0)
	for _, r := range s.games {
		if r.game.Status == status {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].game, rows[j].game
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return rows
}

// ListByStatus returns games with the given status in queue order.
func (s *Store) ListByStatus(_ context.Context, status model.GameStatus) ([]*model.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("list games"); err != nil {
		return nil, err
	}
	rows := s.sortedGames(status)
	games := make([]*model.Game, 0, len(rows))
	for _, r := range rows {
		games = append(games, s.hydrate(r))
	}
	return games, nil
}

// GetGame retrieves a game with its participants.
func (s *Store) GetGame(_ context.Context, gameID int64) (*model.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get game"); err != nil {
		return nil, err
	}
	row, ok := s.games[gameID]
	if !ok {
		return nil, fmt.Errorf("get game %d: %w", gameID, repository.ErrNotFound)
	}
	return s.hydrate(row), nil
}

// ListCourts returns all courts ordered by id.
func (s *Store) ListCourts(_ context.Context) ([]*model.Court, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("list courts"); err != nil {
		return nil, err
	}
	courts := make([]*model.Court, 0, len(s.courts))
	for _, c := range s.courts {
		cp := *c
		courts = append(courts, &cp)
	}
	sort.Slice(courts, func(i, j int) bool { return courts[i].ID < courts[j].ID })
	return courts, nil
}

// AddCourt creates a new active court.
func (s *Store) AddCourt(_ context.Context) (*model.Court, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("add court"); err != nil {
		return nil, err
	}
	s.nextCourtID++
	now := s.stamp()
	c := &model.Court{ID: s.nextCourtID, IsActive: true, CreatedAt: now, UpdatedAt: now}
	s.courts[c.ID] = c
	s.publish(realtime.TableCourts, realtime.OpInsert, nil, c)
	cp := *c
	return &cp, nil
}

// SetCourtActive toggles a court without evicting its game.
func (s *Store) SetCourtActive(_ context.Context, courtID int64, active bool) (*model.Court, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set court active"); err != nil {
		return nil, err
	}
	c, ok := s.courts[courtID]
	if !ok {
		return nil, fmt.Errorf("set court active %d: %w", courtID, repository.ErrNotFound)
	}
	old := *c
	c.IsActive = active
	c.UpdatedAt = s.stamp()
	s.publish(realtime.TableCourts, realtime.OpUpdate, &old, c)
	cp := *c
	return &cp, nil
}

func (s *Store) courtFree(courtID int64) bool {
	c, ok := s.courts[courtID]
	if !ok || !c.IsActive {
		return false
	}
	for _, r := range s.games {
		if r.game.Status != model.GameFinished && r.game.CourtID != nil && *r.game.CourtID == courtID {
			return false
		}
	}
	return true
}

func (s *Store) firstFreeCourt() *model.Court {
	ids := make([]int64, 0, len(s.courts))
	for id := range s.courts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if s.courtFree(id) {
			return s.courts[id]
		}
	}
	return nil
}

// FindAvailableCourt returns the lowest-id free court, or nil.
func (s *Store) FindAvailableCourt(_ context.Context) (*model.Court, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("find available court"); err != nil {
		return nil, err
	}
	c := s.firstFreeCourt()
	if c == nil {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func validateGroup(userIDs []int64) error {
	if len(userIDs) < model.MinPlayers || len(userIDs) > model.MaxPlayers {
		return fmt.Errorf("%w: need %d-%d players, got %d",
			repository.ErrInvalidGroup, model.MinPlayers, model.MaxPlayers, len(userIDs))
	}
	seen := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			return fmt.Errorf("%w: user %d listed twice", repository.ErrInvalidGroup, id)
		}
		seen[id] = true
	}
	return nil
}

func (s *Store) checkParticipants(userIDs []int64, exceptGame int64) error {
	for _, id := range userIDs {
		if _, ok := s.users[id]; !ok {
			return repository.ErrUserNotFound
		}
	}
	for _, r := range s.games {
		if r.game.Status == model.GameFinished || r.game.ID == exceptGame {
			continue
		}
		for _, uid := range r.userIDs {
			for _, id := range userIDs {
				if uid == id {
					return fmt.Errorf("%w: user %d is already in a game", repository.ErrInvalidGroup, id)
				}
			}
		}
	}
	return nil
}

func (s *Store) hasUnclaimedWaiting(exceptGame int64) bool {
	for _, r := range s.games {
		if r.game.ID != exceptGame && r.game.Status == model.GameWaiting && r.game.CourtID == nil {
			return true
		}
	}
	return false
}

func (s *Store) setUserStatus(userIDs []int64, status model.UserStatus) {
	for _, id := range userIDs {
		u, ok := s.users[id]
		if !ok || u.Status == status {
			continue
		}
		old := *u
		u.Status = status
		u.UpdatedAt = s.stamp()
		s.publish(realtime.TableUsers, realtime.OpUpdate, &old, u)
	}
}

// CreateGame inserts a game, claiming a free court when it is first in line.
func (s *Store) CreateGame(_ context.Context, userIDs []int64, requested model.GameStatus) (*model.Game, error) {
	if err := validateGroup(userIDs); err != nil {
		return nil, err
	}
	if requested != model.GameWaiting && requested != model.GamePlaying {
		return nil, fmt.Errorf("create game as %s: %w", requested, repository.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("create game"); err != nil {
		return nil, err
	}
	if err := s.checkParticipants(userIDs, 0); err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}

	s.nextGameID++
	now := s.stamp()
	row := &gameRow{
		game: model.Game{
			ID:        s.nextGameID,
			Status:    model.GameWaiting,
			CreatedAt: now,
			UpdatedAt: now,
		},
		userIDs: append([]int64(nil), userIDs...),
	}

	var claimed int64
	court := s.firstFreeCourt()
	if court != nil && (requested == model.GamePlaying || !s.hasUnclaimedWaiting(0)) {
		claimed = court.ID
		row.game.CourtID = &claimed
	}

	status := model.UserWaiting
	if requested == model.GamePlaying && claimed != 0 {
		row.game.Status = model.GamePlaying
		row.game.StartTime = &now
		status = model.UserGaming
	}

	s.games[row.game.ID] = row
	s.publish(realtime.TableGames, realtime.OpInsert, nil, &row.game)
	for i, uid := range userIDs {
		s.publish(realtime.TableRelations, realtime.OpInsert, nil, map[string]int64{
			"game_id": row.game.ID, "user_id": uid, "position": int64(i),
		})
	}
	s.setUserStatus(userIDs, status)

	game := s.hydrate(row)
	if claimed != 0 && game.Status == model.GameWaiting {
		game.AutoClaimedCourtID = &claimed
	}
	return game, nil
}

// ClaimCourtForNextGame assigns courtID to the oldest unclaimed waiting
// game. It returns nil, nil when there is nothing to claim.
func (s *Store) ClaimCourtForNextGame(_ context.Context, courtID int64) (*model.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("claim court"); err != nil {
		return nil, err
	}
	if !s.courtFree(courtID) {
		log.Debug().Int64("court_id", courtID).Msg("Claim lost the race")
		return nil, nil
	}
	for _, r := range s.sortedGames(model.GameWaiting) {
		if r.game.CourtID != nil {
			continue
		}
		old := r.game.Clone()
		id := courtID
		r.game.CourtID = &id
		r.game.UpdatedAt = s.stamp()
		s.publish(realtime.TableGames, realtime.OpUpdate, old, &r.game)
		return s.hydrate(r), nil
	}
	return nil, nil
}

func nextPhase(g *model.Game, to model.GameStatus, courtID int64) (model.Phase, error) {
	from := g.Phase()
	if courtID != 0 && g.CourtID != nil && *g.CourtID != courtID {
		return "", fmt.Errorf("game %d is on court %d, not %d: %w", g.ID, *g.CourtID, courtID, repository.ErrConflict)
	}
	switch {
	case from == model.PhaseWaitingClaimed && to == model.GamePlaying:
		return model.PhasePlaying, nil
	case from == model.PhasePlaying && to == model.GameFinished:
		return model.PhaseFinished, nil
	case from == model.PhasePlaying && to == model.GameWaiting:
		return model.PhaseWaitingUnclaimed, nil
	case from == model.PhaseWaitingClaimed && to == model.GameWaiting:
		return model.PhaseWaitingUnclaimed, nil
	case from == model.PhasePlaying && to == model.GamePlaying:
		return "", fmt.Errorf("game %d already playing: %w", g.ID, repository.ErrConflict)
	case from == model.PhaseFinished && to == model.GameFinished:
		// Another client already finished it.
		return "", fmt.Errorf("game %d already finished: %w", g.ID, repository.ErrConflict)
	}
	return "", fmt.Errorf("game %d cannot go from %s to %s: %w", g.ID, from, to, repository.ErrInvalidState)
}

// TransitionStatus moves a game along the state machine.
func (s *Store) TransitionStatus(_ context.Context, gameID int64, to model.GameStatus, courtID int64) (*model.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("transition game"); err != nil {
		return nil, err
	}
	row, ok := s.games[gameID]
	if !ok {
		return nil, fmt.Errorf("transition game %d: %w", gameID, repository.ErrNotFound)
	}
	target, err := nextPhase(&row.game, to, courtID)
	if err != nil {
		return nil, err
	}

	old := row.game.Clone()
	now := s.stamp()
	switch target {
	case model.PhasePlaying:
		row.game.Status = model.GamePlaying
		row.game.StartTime = &now
	case model.PhaseFinished:
		row.game.Status = model.GameFinished
		row.game.EndTime = &now
	case model.PhaseWaitingUnclaimed:
		row.game.Status = model.GameWaiting
		row.game.CourtID = nil
		row.game.StartTime = nil
	}
	row.game.UpdatedAt = now
	s.publish(realtime.TableGames, realtime.OpUpdate, old, &row.game)
	s.setUserStatus(row.userIDs, model.ParticipantStatus(target))
	return s.hydrate(row), nil
}

// ReleaseClaim returns a claimed game to the unclaimed queue.
func (s *Store) ReleaseClaim(ctx context.Context, gameID, courtID int64) (*model.Game, error) {
	game, err := s.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !game.IsClaimed() {
		return nil, fmt.Errorf("release claim on game %d in phase %s: %w", gameID, game.Phase(), repository.ErrConflict)
	}
	return s.TransitionStatus(ctx, gameID, model.GameWaiting, courtID)
}

// Delay moves a waiting game just behind the next one in line.
func (s *Store) Delay(_ context.Context, gameID int64) (*model.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("delay game"); err != nil {
		return nil, err
	}
	queue := s.sortedGames(model.GameWaiting)
	idx := -1
	for i, r := range queue {
		if r.game.ID == gameID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("delay game %d: not waiting: %w", gameID, repository.ErrNotFound)
	}
	row := queue[idx]
	if row.game.CourtID != nil {
		return nil, fmt.Errorf("delay game %d: already holds court %d: %w", gameID, *row.game.CourtID, repository.ErrInvalidState)
	}

	var next *time.Time
	if idx+1 < len(queue) {
		t := queue[idx+1].game.CreatedAt
		next = &t
	}
	old := row.game.Clone()
	row.game.CreatedAt = repository.DelayedCreatedAt(row.game.CreatedAt, next, s.now().UTC().Truncate(time.Microsecond))
	row.game.UpdatedAt = s.stamp()
	s.publish(realtime.TableGames, realtime.OpUpdate, old, &row.game)
	return s.hydrate(row), nil
}

// DeleteGame removes a game; participants of an unfinished game become ready.
func (s *Store) DeleteGame(_ context.Context, gameID int64) (*model.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("delete game"); err != nil {
		return nil, err
	}
	row, ok := s.games[gameID]
	if !ok {
		return nil, fmt.Errorf("delete game %d: %w", gameID, repository.ErrNotFound)
	}
	game := s.hydrate(row)
	delete(s.games, gameID)
	s.publish(realtime.TableGames, realtime.OpDelete, &row.game, nil)
	if row.game.Status != model.GameFinished {
		s.setUserStatus(row.userIDs, model.UserReady)
	}
	return game, nil
}

// ReplaceParticipants swaps the participant list of an unfinished game.
func (s *Store) ReplaceParticipants(_ context.Context, gameID int64, userIDs []int64) (*model.Game, error) {
	if err := validateGroup(userIDs); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("replace participants"); err != nil {
		return nil, err
	}
	row, ok := s.games[gameID]
	if !ok {
		return nil, fmt.Errorf("replace participants %d: %w", gameID, repository.ErrNotFound)
	}
	if row.game.Status == model.GameFinished {
		return nil, fmt.Errorf("replace participants of finished game %d: %w", gameID, repository.ErrInvalidState)
	}
	if err := s.checkParticipants(userIDs, gameID); err != nil {
		return nil, fmt.Errorf("replace participants: %w", err)
	}

	removed, added := repository.DiffParticipants(row.userIDs, userIDs)
	row.userIDs = append([]int64(nil), userIDs...)
	old := row.game.Clone()
	row.game.UpdatedAt = s.stamp()
	s.publish(realtime.TableGames, realtime.OpUpdate, old, &row.game)
	s.setUserStatus(removed, model.UserReady)
	s.setUserStatus(added, model.ParticipantStatus(row.game.Phase()))
	return s.hydrate(row), nil
}

// ListUsers returns active users ordered by name.
func (s *Store) ListUsers(_ context.Context) ([]*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("list users"); err != nil {
		return nil, err
	}
	users := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		if u.IsActive {
			cp := *u
			users = append(users, &cp)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Name != users[j].Name {
			return users[i].Name < users[j].Name
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// ListReadyUsers returns users that may be picked for a new group.
func (s *Store) ListReadyUsers(ctx context.Context) ([]*model.User, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	ready := make([]*model.User, 0, len(users))
	for _, u := range users {
		if u.Selectable() {
			ready = append(ready, u)
		}
	}
	return ready, nil
}

// UpdateMultipleUserStatus sets the status of a set of users.
func (s *Store) UpdateMultipleUserStatus(_ context.Context, userIDs []int64, status model.UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("update user status"); err != nil {
		return err
	}
	s.setUserStatus(userIDs, status)
	return nil
}

// ============================================================================
// Users
// ============================================================================

// GetByTelegramID retrieves a player by Telegram ID.
func (s *Store) GetByTelegramID(_ context.Context, telegramID int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get user"); err != nil {
		return nil, err
	}
	if u := s.byTelegram(telegramID); u != nil {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrUserNotFound
}

func (s *Store) byTelegram(telegramID int64) *model.User {
	for _, u := range s.users {
		if u.TelegramID != nil && *u.TelegramID == telegramID {
			return u
		}
	}
	return nil
}

// GetOrCreate retrieves or creates the player linked to a Telegram account.
func (s *Store) GetOrCreate(_ context.Context, telegramID int64, name string) (*model.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get or create user"); err != nil {
		return nil, false, err
	}
	if u := s.byTelegram(telegramID); u != nil {
		cp := *u
		return &cp, false, nil
	}
	s.nextUserID++
	now := s.stamp()
	tid := telegramID
	u := &model.User{
		ID:         s.nextUserID,
		TelegramID: &tid,
		Name:       name,
		Sex:        model.SexMale,
		Skill:      model.SkillC,
		IsActive:   true,
		Status:     model.UserReady,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.users[u.ID] = u
	s.publish(realtime.TableUsers, realtime.OpInsert, nil, u)
	cp := *u
	return &cp, true, nil
}

// SetAttendance marks a player present or absent.
func (s *Store) SetAttendance(_ context.Context, userID int64, attending bool) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set attendance"); err != nil {
		return nil, err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	old := *u
	u.IsAttendance = attending
	u.UpdatedAt = s.stamp()
	s.publish(realtime.TableUsers, realtime.OpUpdate, &old, u)
	cp := *u
	return &cp, nil
}

// Exists reports whether a player is linked to the Telegram account.
func (s *Store) Exists(_ context.Context, telegramID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("user exists"); err != nil {
		return false, err
	}
	return s.byTelegram(telegramID) != nil, nil
}

// ============================================================================
// Config
// ============================================================================

// Get returns the settings, creating defaults when missing.
func (s *Store) Get(_ context.Context) (*model.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get config"); err != nil {
		return nil, err
	}
	if s.config == nil {
		s.config = model.DefaultConfig()
		s.config.ID = 1
		s.config.CreatedAt = s.stamp()
		s.config.UpdatedAt = s.config.CreatedAt
	}
	cp := *s.config
	return &cp, nil
}

// Update replaces the settings.
func (s *Store) Update(ctx context.Context, cfg *model.Config) (*model.Config, error) {
	if err := repository.ValidateThresholds(cfg); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *cfg
	next.ID = s.config.ID
	next.CreatedAt = s.config.CreatedAt
	next.UpdatedAt = s.stamp()
	s.config = &next
	cp := next
	return &cp, nil
}

// ============================================================================
// Change feed
// ============================================================================

// Subscribe returns a channel of row changes until ctx is done.
func (s *Store) Subscribe(ctx context.Context) (<-chan realtime.Event, error) {
	ch := make(chan realtime.Event, feedBuffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.subMu.Unlock()
	}()
	return ch, nil
}

// publish fans an event out to subscribers. Slow subscribers miss events;
// the bridge's polling fallback covers them.
func (s *Store) publish(table, op string, oldRow, newRow any) {
	ev, err := realtime.NewEvent(table, op, oldRow, newRow)
	if err != nil {
		log.Error().Err(err).Str("table", table).Msg("Failed to encode change event")
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
