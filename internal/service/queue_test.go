package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtqueue/internal/engine"
	"courtqueue/internal/model"
	"courtqueue/internal/pkg/lock"
	"courtqueue/internal/repository"
	"courtqueue/internal/repository/memstore"
	"courtqueue/internal/timer"
)

type fixture struct {
	store  *memstore.Store
	engine *engine.Engine
	timers *timer.Coordinator
	svc    *QueueService
}

// newFixture wires a service over an in-memory store. Countdowns never
// expire on their own.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memstore.New()
	eng := engine.New(s, engine.Config{RecheckBackoff: 10 * time.Millisecond, FinishSettleDelay: 10 * time.Millisecond})
	timers := timer.New(eng, eng, timer.Config{Ticks: 100, Tick: time.Hour, ReleaseOnInactiveCourt: true})
	t.Cleanup(timers.Stop)
	svc := NewQueueService(s.Stores(), eng, timers, Options{CancelOnCourtDeactivate: true})
	return &fixture{store: s, engine: eng, timers: timers, svc: svc}
}

func (f *fixture) players(n int) []int64 {
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, f.store.AddUser(fmt.Sprintf("p%02d", i)).ID)
	}
	return ids
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		action Action
	}{
		{"success", nil, ActionNone},
		{"unavailable", fmt.Errorf("list: %w", repository.ErrStoreUnavailable), ActionBanner},
		{"invalid group", repository.ErrInvalidGroup, ActionToast},
		{"user missing", repository.ErrUserNotFound, ActionToast},
		{"game missing", repository.ErrNotFound, ActionToast},
		{"lost race", repository.ErrConflict, ActionSilent},
		{"invalid state", repository.ErrInvalidState, ActionRefresh},
		{"not admin", ErrNotAdmin, ActionToast},
		{"lock timeout", lock.ErrLockTimeout, ActionToast},
		{"unknown", errors.New("boom"), ActionBanner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.action, OutcomeOf(tt.err).Action)
		})
	}

	assert.Contains(t, OutcomeOf(repository.ErrUserNotFound).Message, "/start",
		"a missing player is told how to register, not that a game vanished")
	assert.True(t, OutcomeOf(repository.ErrConflict).Refresh)
}

func TestSubmitGroup_AutoClaimStartsCountdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.players(2)
	f.store.SeedCourts(1)

	res, err := f.svc.SubmitGroup(ctx, p)
	require.NoError(t, err)
	assert.True(t, res.AutoClaimed)
	assert.False(t, res.Queued)
	assert.Equal(t, int64(1), res.CourtID)

	cd, ok := f.timers.Countdowns()[1]
	require.True(t, ok)
	assert.Equal(t, res.Game.ID, cd.GameID)
	assert.False(t, cd.Test)
}

func TestRefresh_DropsClaimDeletedByAnotherClient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.players(2)
	f.store.SeedCourts(1)

	res, err := f.svc.SubmitGroup(ctx, p)
	require.NoError(t, err)
	require.True(t, res.AutoClaimed)

	// Another client removes the game straight from the store.
	_, err = f.store.DeleteGame(ctx, res.Game.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		b, err := f.svc.Refresh(ctx)
		require.NoError(t, err)
		assert.Empty(t, b.Waiting)
		assert.Empty(t, b.Countdowns)
		assert.Equal(t, 0, b.Stats.OccupiedCourts)
	}
	assert.Equal(t, 0, f.svc.recon.Live())
}

func TestSubmitGroup_QueuesBehindOlderGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.players(4)

	first, err := f.svc.SubmitGroup(ctx, p[:2])
	require.NoError(t, err)
	assert.True(t, first.Queued)

	f.store.SeedCourts(1)
	second, err := f.svc.SubmitGroup(ctx, p[2:])
	require.NoError(t, err)
	assert.True(t, second.Queued, "the court belongs to the older game")
	assert.Empty(t, f.timers.Countdowns())

	_, err = f.svc.SubmitGroup(ctx, p[:2])
	assert.ErrorIs(t, err, repository.ErrInvalidGroup)
}

func TestFinishGame_ClearsElapsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.players(2)
	f.store.SeedCourts(1)

	g, err := f.store.CreateGame(ctx, p, model.GamePlaying)
	require.NoError(t, err)
	require.Equal(t, model.GamePlaying, g.Status)

	_, err = f.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Contains(t, f.timers.Elapsed(), int64(1))

	require.NoError(t, f.svc.FinishGame(ctx, g.ID, 1))
	assert.NotContains(t, f.timers.Elapsed(), int64(1))

	board, err := f.svc.Board(ctx)
	require.NoError(t, err)
	assert.Empty(t, board.Playing)

	err = f.svc.FinishGame(ctx, g.ID, 1)
	assert.ErrorIs(t, err, repository.ErrConflict, "a second finish is a lost race")
	assert.Equal(t, ActionSilent, OutcomeOf(err).Action)
}

func TestRevertToQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.players(2)
	f.store.SeedCourts(1)

	g, err := f.store.CreateGame(ctx, p, model.GamePlaying)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.RevertToQueue(ctx, g.ID, false), ErrNotAdmin)

	require.NoError(t, f.svc.RevertToQueue(ctx, g.ID, true))
	reverted, err := f.store.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GameWaiting, reverted.Status)
	assert.Nil(t, reverted.CourtID)
	assert.Equal(t, g.CreatedAt, reverted.CreatedAt)
	assert.Empty(t, f.timers.Countdowns(), "revert does not claim the court again by itself")
}

func TestDeleteGame_StopsCountdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.players(2)
	f.store.SeedCourts(1)

	res, err := f.svc.SubmitGroup(ctx, p)
	require.NoError(t, err)
	require.True(t, res.AutoClaimed)

	assert.ErrorIs(t, f.svc.DeleteGame(ctx, res.Game.ID, false), ErrNotAdmin)

	require.NoError(t, f.svc.DeleteGame(ctx, res.Game.ID, true))
	assert.Empty(t, f.timers.Countdowns())

	_, err = f.store.GetGame(ctx, res.Game.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.ErrorIs(t, f.svc.DeleteGame(ctx, res.Game.ID, true), repository.ErrNotFound)
}

func TestDelayAndEdit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.players(5)

	a, err := f.svc.SubmitGroup(ctx, p[:2])
	require.NoError(t, err)
	b, err := f.svc.SubmitGroup(ctx, p[2:4])
	require.NoError(t, err)

	require.NoError(t, f.svc.DelayGame(ctx, a.Game.ID))
	board, err := f.svc.Board(ctx)
	require.NoError(t, err)
	require.Len(t, board.Waiting, 2)
	assert.Equal(t, b.Game.ID, board.Waiting[0].ID)
	assert.Equal(t, a.Game.ID, board.Waiting[1].ID)

	require.NoError(t, f.svc.EditParticipants(ctx, a.Game.ID, []int64{p[0], p[4]}))
	edited, err := f.store.GetGame(ctx, a.Game.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{p[0], p[4]}, edited.UserIDs())

	assert.ErrorIs(t, f.svc.EditParticipants(ctx, a.Game.ID, []int64{p[0], p[2]}), repository.ErrInvalidGroup)
}

func TestSetCourtActive_ReleasesClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.players(2)
	f.store.SeedCourts(1)

	res, err := f.svc.SubmitGroup(ctx, p)
	require.NoError(t, err)
	require.True(t, res.AutoClaimed)

	_, err = f.svc.SetCourtActive(ctx, 1, false, false)
	assert.ErrorIs(t, err, ErrNotAdmin)

	court, err := f.svc.SetCourtActive(ctx, 1, false, true)
	require.NoError(t, err)
	assert.False(t, court.IsActive)
	assert.Empty(t, f.timers.Countdowns())

	g, err := f.store.GetGame(ctx, res.Game.ID)
	require.NoError(t, err)
	assert.False(t, g.IsClaimed(), "the claim goes back to the queue")

	_, err = f.svc.SetCourtActive(ctx, 1, true, true)
	require.NoError(t, err)
	claim, err := f.engine.CheckAndClaim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, res.Game.ID, claim.GameID)
}

func TestAddCourtAndTestCountdown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.AddCourt(ctx, false)
	assert.ErrorIs(t, err, ErrNotAdmin)

	court, err := f.svc.AddCourt(ctx, true)
	require.NoError(t, err)
	assert.True(t, court.IsActive)

	assert.ErrorIs(t, f.svc.TestCountdown(court.ID, false), ErrNotAdmin)
	require.NoError(t, f.svc.TestCountdown(court.ID, true))
	assert.ErrorIs(t, f.svc.TestCountdown(court.ID, true), repository.ErrConflict)
}

func TestOnCourtAssignment(t *testing.T) {
	f := newFixture(t)
	f.svc.OnCourtAssignment(2, 9)
	f.svc.OnCourtAssignment(2, 9)

	cds := f.timers.Countdowns()
	require.Len(t, cds, 1)
	assert.Equal(t, int64(9), cds[2].GameID)
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.SetAttendance(ctx, 77, true)
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	u, created, err := f.svc.LinkAccount(ctx, 77, "kim")
	require.NoError(t, err)
	assert.True(t, created)

	u, err = f.svc.SetAttendance(ctx, 77, true)
	require.NoError(t, err)
	assert.True(t, u.IsAttendance)

	board, err := f.svc.Board(ctx)
	require.NoError(t, err)
	require.Len(t, board.Ready, 1)
	assert.Equal(t, "kim", board.Ready[0].Name)

	assert.False(t, f.svc.IsAdmin(ctx, 77))
	assert.False(t, f.svc.IsAdmin(ctx, 78))
}

func TestUpdateThresholds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.UpdateThresholds(ctx, 10, 20, false)
	assert.ErrorIs(t, err, ErrNotAdmin)

	cfg, err := f.svc.UpdateThresholds(ctx, 10, 20, true)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.WarningTimeMinutes)

	_, err = f.svc.UpdateThresholds(ctx, 30, 20, true)
	assert.Equal(t, ActionRefresh, OutcomeOf(err).Action)

	settings, err := f.svc.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, settings.DangerTimeMinutes)
}

func TestBoard_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.SeedCourts(2)
	f.svc.SetModeSource(func() string { return "live" })

	board, err := f.svc.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "live", board.Mode)
	assert.Equal(t, 2, board.Stats.ActiveCourts)
	require.Len(t, board.Courts, 2)
	assert.Equal(t, timer.Normal, board.Courts[0].Color)
	assert.Equal(t, "00:00", board.Courts[0].Clock)

	f.store.SetUnavailable(true)
	_, err = f.svc.Board(ctx)
	assert.NoError(t, err, "a fresh cache is served without the store")

	f.svc.Invalidate()
	_, err = f.svc.Board(ctx)
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
	assert.Equal(t, ActionBanner, OutcomeOf(err).Action)
}

func TestRefresh_ResumesCountdownForClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.players(2)
	f.store.SeedCourts(1)

	// A claim made by another client, seen only through a reload.
	g, err := f.store.CreateGame(ctx, p, model.GameWaiting)
	require.NoError(t, err)
	require.NotNil(t, g.AutoClaimedCourtID)

	board, err := f.svc.Refresh(ctx)
	require.NoError(t, err)
	require.Len(t, board.Courts, 1)
	assert.Equal(t, g.ID, board.Courts[0].Game.ID)
	assert.Equal(t, 1, board.Stats.OccupiedCourts)

	cd, ok := f.timers.Countdowns()[1]
	require.True(t, ok)
	assert.Equal(t, g.ID, cd.GameID)
}

func TestNeedsClaim(t *testing.T) {
	court := func(id int64, active bool) *model.Court { return &model.Court{ID: id, IsActive: active} }
	on := func(id int64) *int64 { return &id }

	tests := []struct {
		name    string
		waiting []*model.Game
		courts  []*model.Court
		playing []*model.Game
		want    bool
	}{
		{"empty", nil, []*model.Court{court(1, true)}, nil, false},
		{"free court", []*model.Game{{ID: 1, Status: model.GameWaiting}}, []*model.Court{court(1, true)}, nil, true},
		{"inactive court", []*model.Game{{ID: 1, Status: model.GameWaiting}}, []*model.Court{court(1, false)}, nil, false},
		{
			"court playing",
			[]*model.Game{{ID: 1, Status: model.GameWaiting}},
			[]*model.Court{court(1, true)},
			[]*model.Game{{ID: 2, Status: model.GamePlaying, CourtID: on(1)}},
			false,
		},
		{
			"court claimed",
			[]*model.Game{{ID: 1, Status: model.GameWaiting, CourtID: on(1)}, {ID: 2, Status: model.GameWaiting}},
			[]*model.Court{court(1, true)},
			nil,
			false,
		},
		{
			"only claimed games waiting",
			[]*model.Game{{ID: 1, Status: model.GameWaiting, CourtID: on(1)}},
			[]*model.Court{court(1, true), court(2, true)},
			nil,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsClaim(tt.waiting, tt.courts, tt.playing))
		})
	}
}
