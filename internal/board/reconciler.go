// Package board merges locally applied mutations with authoritative
// snapshots so a refresh never rolls back a write the user just made.
package board

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"courtqueue/internal/model"
)

// State of a pending mutation.
type State string

// Mutation states. Pending moves to Acknowledged when the store confirms
// the write, then to Settled once a snapshot reflects it. Superseded and
// Failed entries are dropped.
const (
	Pending      State = "pending"
	Acknowledged State = "acknowledged"
	Settled      State = "settled"
	Superseded   State = "superseded"
	Failed       State = "failed"
)

// Mutation is one locally applied change to a game. A nil Projected means
// the game was deleted.
type Mutation struct {
	ID        uuid.UUID
	GameID    int64
	Projected *model.Game
	Confirmed *model.Game
	State     State
	BegunAt   time.Time
	AckedAt   time.Time
}

// historySize bounds how many finished mutations State can still report.
const historySize = 1024

// Reconciler holds at most one live mutation per game.
type Reconciler struct {
	mu      sync.Mutex
	byGame  map[int64]*Mutation
	byID    map[uuid.UUID]*Mutation
	history map[uuid.UUID]State
	order   []uuid.UUID // history ids, oldest first
	maxHist int
	now     func() time.Time
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{
		byGame:  make(map[int64]*Mutation),
		byID:    make(map[uuid.UUID]*Mutation),
		history: make(map[uuid.UUID]State),
		maxHist: historySize,
		now:     time.Now,
	}
}

// Begin records a local mutation of gameID and returns its id. A previous
// live mutation of the same game is superseded.
func (r *Reconciler) Begin(gameID int64, projected *model.Game) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byGame[gameID]; ok {
		r.finishLocked(prev, Superseded)
	}
	m := &Mutation{
		ID:      uuid.New(),
		GameID:  gameID,
		State:   Pending,
		BegunAt: r.now(),
	}
	if projected != nil {
		m.Projected = projected.Clone()
	}
	r.byGame[gameID] = m
	r.byID[m.ID] = m
	return m.ID
}

// Ack marks a mutation confirmed by the store. confirmed is the row the
// store returned, or nil when the game was deleted.
func (r *Reconciler) Ack(id uuid.UUID, confirmed *model.Game) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok || m.State != Pending {
		return
	}
	m.State = Acknowledged
	m.AckedAt = r.now()
	if confirmed != nil {
		m.Confirmed = confirmed.Clone()
	} else {
		m.Confirmed = nil
	}
}

// Fail drops a mutation the store rejected.
func (r *Reconciler) Fail(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byID[id]; ok {
		r.finishLocked(m, Failed)
	}
}

// State returns the state of a mutation, live or finished.
func (r *Reconciler) State(id uuid.UUID) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byID[id]; ok {
		return m.State, true
	}
	s, ok := r.history[id]
	return s, ok
}

// Live returns the number of mutations still overlaying snapshots.
func (r *Reconciler) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byGame)
}

func (r *Reconciler) finishLocked(m *Mutation, s State) {
	m.State = s
	delete(r.byID, m.ID)
	if cur, ok := r.byGame[m.GameID]; ok && cur == m {
		delete(r.byGame, m.GameID)
	}
	if _, ok := r.history[m.ID]; !ok {
		r.order = append(r.order, m.ID)
	}
	r.history[m.ID] = s
	for len(r.order) > r.maxHist {
		delete(r.history, r.order[0])
		r.order = r.order[1:]
	}
}

// Merge overlays live mutations on an authoritative snapshot of unfinished
// games whose reads began at readAt, and returns the merged games in queue
// order. A pending mutation wins unless the snapshot row changed after the
// mutation began. An acknowledged mutation wins until the snapshot catches
// up with the confirmed row. A snapshot read after the acknowledgement
// that lacks the game means the game was deleted or finished elsewhere.
func (r *Reconciler) Merge(snapshot []*model.Game, readAt time.Time) []*model.Game {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := make(map[int64]*model.Game, len(snapshot))
	for _, g := range snapshot {
		merged[g.ID] = g
	}

	for gameID, m := range r.byGame {
		row, inSnapshot := merged[gameID]

		switch m.State {
		case Pending:
			if inSnapshot && row.UpdatedAt.After(m.BegunAt) {
				log.Debug().Int64("game_id", gameID).Msg("Pending mutation superseded by newer row")
				r.finishLocked(m, Superseded)
				continue
			}
			overlay(merged, gameID, m.Projected)

		case Acknowledged:
			if m.Confirmed == nil {
				if !inSnapshot {
					r.finishLocked(m, Settled)
					continue
				}
				delete(merged, gameID)
				continue
			}
			if !inSnapshot && m.Confirmed.Status == model.GameFinished {
				r.finishLocked(m, Settled)
				continue
			}
			if !inSnapshot && !readAt.Before(m.AckedAt) {
				log.Debug().Int64("game_id", gameID).Msg("Acknowledged game left the store")
				r.finishLocked(m, Superseded)
				continue
			}
			if inSnapshot && !row.UpdatedAt.Before(m.Confirmed.UpdatedAt) {
				r.finishLocked(m, Settled)
				continue
			}
			overlay(merged, gameID, m.Confirmed)
		}
	}

	out := make([]*model.Game, 0, len(merged))
	for _, g := range merged {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func overlay(merged map[int64]*model.Game, gameID int64, g *model.Game) {
	if g == nil {
		delete(merged, gameID)
		return
	}
	merged[gameID] = g.Clone()
}
