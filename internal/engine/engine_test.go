package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtqueue/internal/model"
	"courtqueue/internal/repository"
	"courtqueue/internal/repository/memstore"
)

func fastConfig() Config {
	return Config{RecheckBackoff: 10 * time.Millisecond, FinishSettleDelay: 20 * time.Millisecond}
}

// queueGames creates n unclaimed waiting games of two players each. It must
// run before any court exists so nothing auto-claims.
func queueGames(t *testing.T, s *memstore.Store, n int) []*model.Game {
	t.Helper()
	games := make([]*model.Game, 0, n)
	for i := 0; i < n; i++ {
		a := s.AddUser(fmt.Sprintf("a%d", i))
		b := s.AddUser(fmt.Sprintf("b%d", i))
		g, err := s.CreateGame(context.Background(), []int64{a.ID, b.ID}, model.GameWaiting)
		require.NoError(t, err)
		require.Nil(t, g.CourtID)
		games = append(games, g)
	}
	return games
}

func TestCheckAndClaim_Idle(t *testing.T) {
	ctx := context.Background()

	t.Run("no courts", func(t *testing.T) {
		s := memstore.New()
		queueGames(t, s, 1)
		claim, err := New(s, fastConfig()).CheckAndClaim(ctx)
		require.NoError(t, err)
		assert.Nil(t, claim)
	})

	t.Run("no waiting games", func(t *testing.T) {
		s := memstore.New()
		s.SeedCourts(2)
		claim, err := New(s, fastConfig()).CheckAndClaim(ctx)
		require.NoError(t, err)
		assert.Nil(t, claim)
	})

	t.Run("only inactive courts", func(t *testing.T) {
		s := memstore.New()
		queueGames(t, s, 1)
		s.SeedCourts(1)
		_, err := s.SetCourtActive(ctx, 1, false)
		require.NoError(t, err)
		claim, err := New(s, fastConfig()).CheckAndClaim(ctx)
		require.NoError(t, err)
		assert.Nil(t, claim)
	})
}

func TestCheckAndClaim_OldestFirst(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	games := queueGames(t, s, 3)
	s.SeedCourts(1)

	e := New(s, fastConfig())
	var seen []Claim
	e.OnClaim(func(c Claim) { seen = append(seen, c) })

	claim, err := e.CheckAndClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, games[0].ID, claim.GameID)
	assert.Equal(t, int64(1), claim.CourtID)
	require.Len(t, seen, 1)
	assert.Equal(t, claim.GameID, seen[0].GameID)

	g, err := s.GetGame(ctx, games[0].ID)
	require.NoError(t, err)
	assert.True(t, g.IsClaimed())

	// The only court is now held by a claim.
	claim, err = e.CheckAndClaim(ctx)
	require.NoError(t, err)
	assert.Nil(t, claim)
}

func TestCheckAndClaim_StoreUnavailable(t *testing.T) {
	s := memstore.New()
	s.SetUnavailable(true)
	_, err := New(s, fastConfig()).CheckAndClaim(context.Background())
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
}

// blockingStore parks FindAvailableCourt until released.
type blockingStore struct {
	Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) FindAvailableCourt(ctx context.Context) (*model.Court, error) {
	b.entered <- struct{}{}
	<-b.release
	return nil, nil
}

func TestPass_BusyWhileInFlight(t *testing.T) {
	bs := &blockingStore{entered: make(chan struct{}), release: make(chan struct{})}
	e := New(bs, fastConfig())

	done := make(chan Outcome)
	go func() {
		_, out, _ := e.pass(context.Background())
		done <- out
	}()
	<-bs.entered

	_, out, err := e.pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Busy, out)

	close(bs.release)
	assert.Equal(t, Idle, <-done)
}

// racingStore reports a free court that is gone by the time of the claim.
type racingStore struct {
	Store
	mu     sync.Mutex
	claims int
}

func (r *racingStore) FindAvailableCourt(context.Context) (*model.Court, error) {
	return &model.Court{ID: 1, IsActive: true}, nil
}

func (r *racingStore) ClaimCourtForNextGame(context.Context, int64) (*model.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims++
	return nil, nil
}

func (r *racingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.claims
}

func TestRun_LostRaceRetriesOnce(t *testing.T) {
	rs := &racingStore{}
	e := New(rs, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	e.Trigger()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, rs.count(), "one pass plus a single retry")
}

func TestRun_FillsEveryFreeCourt(t *testing.T) {
	s := memstore.New()
	queueGames(t, s, 4)
	s.SeedCourts(3)

	e := New(s, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()
	e.Trigger()

	require.Eventually(t, func() bool {
		waiting, err := s.ListByStatus(context.Background(), model.GameWaiting)
		if err != nil {
			return false
		}
		claimed := 0
		for _, g := range waiting {
			if g.IsClaimed() {
				claimed++
			}
		}
		return claimed == 3
	}, 2*time.Second, 10*time.Millisecond)

	waiting, err := s.ListByStatus(context.Background(), model.GameWaiting)
	require.NoError(t, err)
	assert.Nil(t, waiting[3].CourtID, "the newest game keeps waiting")
}

func TestFinish_SchedulesRecheck(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	games := queueGames(t, s, 2)
	s.SeedCourts(1)

	e := New(s, fastConfig())
	claim, err := e.CheckAndClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claim)

	_, err = e.StartClaimed(ctx, claim.GameID, claim.CourtID)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = e.Run(runCtx) }()

	finished, err := e.Finish(ctx, claim.GameID, claim.CourtID)
	require.NoError(t, err)
	assert.Equal(t, model.GameFinished, finished.Status)

	require.Eventually(t, func() bool {
		g, err := s.GetGame(ctx, games[1].ID)
		return err == nil && g.IsClaimed() && g.Court() == claim.CourtID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartClaimed_Transitions(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	games := queueGames(t, s, 1)
	s.SeedCourts(2)

	e := New(s, fastConfig())

	_, err := e.StartClaimed(ctx, games[0].ID, 1)
	assert.ErrorIs(t, err, repository.ErrInvalidState, "unclaimed games cannot start")

	claim, err := e.CheckAndClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claim)

	_, err = e.StartClaimed(ctx, claim.GameID, 2)
	assert.ErrorIs(t, err, repository.ErrConflict, "wrong court")

	g, err := e.StartClaimed(ctx, claim.GameID, claim.CourtID)
	require.NoError(t, err)
	assert.Equal(t, model.GamePlaying, g.Status)
	require.NotNil(t, g.StartTime)
	for _, u := range g.Users {
		assert.Equal(t, model.UserGaming, u.Status)
	}

	_, err = e.StartClaimed(ctx, claim.GameID, claim.CourtID)
	assert.ErrorIs(t, err, repository.ErrConflict, "a second expiry loses")
}

func TestRevert_KeepsQueuePosition(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	games := queueGames(t, s, 2)
	s.SeedCourts(1)

	e := New(s, fastConfig())
	claim, err := e.CheckAndClaim(ctx)
	require.NoError(t, err)
	_, err = e.StartClaimed(ctx, claim.GameID, claim.CourtID)
	require.NoError(t, err)

	g, err := e.Revert(ctx, claim.GameID)
	require.NoError(t, err)
	assert.Equal(t, model.GameWaiting, g.Status)
	assert.Nil(t, g.CourtID)
	assert.Nil(t, g.StartTime)
	for _, u := range g.Users {
		assert.Equal(t, model.UserWaiting, u.Status)
	}

	waiting, err := s.ListByStatus(ctx, model.GameWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, games[0].ID, waiting[0].ID)

	// The freed court goes to the reverted game again, since it is oldest.
	claim, err = e.CheckAndClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, games[0].ID, claim.GameID)
}

func TestCancelClaim(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	games := queueGames(t, s, 1)
	s.SeedCourts(1)

	e := New(s, fastConfig())
	claim, err := e.CheckAndClaim(ctx)
	require.NoError(t, err)

	g, err := e.CancelClaim(ctx, claim.GameID, claim.CourtID)
	require.NoError(t, err)
	assert.False(t, g.IsClaimed())
	assert.Equal(t, games[0].ID, g.ID)

	_, err = e.CancelClaim(ctx, claim.GameID, claim.CourtID)
	assert.ErrorIs(t, err, repository.ErrConflict)

	select {
	case <-e.kick:
	default:
		t.Fatal("cancel must request a pass")
	}
}

func TestTrigger_Coalesces(t *testing.T) {
	e := New(&racingStore{}, fastConfig())
	for i := 0; i < 10; i++ {
		e.Trigger()
	}
	assert.Len(t, e.kick, 1)
}

func TestRun_StopsTimersOnExit(t *testing.T) {
	e := New(&racingStore{}, Config{RecheckBackoff: time.Hour, FinishSettleDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- e.Run(ctx) }()

	e.ScheduleAfterFinish(1)
	cancel()
	require.NoError(t, <-done)

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.True(t, e.closed)
	assert.Empty(t, e.timers)
}

func TestLogPassError_AcceptsEveryClass(t *testing.T) {
	for _, err := range []error{
		repository.ErrStoreUnavailable,
		repository.ErrConflict,
		errors.New("boom"),
	} {
		assert.NotPanics(t, func() { logPassError(err) })
	}
}
