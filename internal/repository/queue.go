// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"courtqueue/internal/model"
)

// delayEpsilon is the smallest created_at step the store can represent.
const delayEpsilon = time.Microsecond

const gameColumns = `g.id, g.status, g.court_id, g.start_time, g.end_time, g.created_at, g.updated_at`

const userColumns = `u.id, u.telegram_id, u.name, u.sex, u.skill, u.is_guest, u.is_active,
	u.is_attendance, u.admin_authority, u.user_status, u.created_at, u.updated_at`

// queuedGame is the slice of a waiting game Delay needs.
type queuedGame struct {
	id        int64
	courtID   *int64
	createdAt time.Time
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QueueRepository implements the scheduling operations over PostgreSQL.
// Every write that touches shared scheduling state is a conditional write
// keyed on the expected prior state.
type QueueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository creates a new QueueRepository instance.
func NewQueueRepository(pool *pgxpool.Pool) *QueueRepository {
	return &QueueRepository{pool: pool}
}

func scanGame(row pgx.Row) (*model.Game, error) {
	var g model.Game
	err := row.Scan(
		&g.ID,
		&g.Status,
		&g.CourtID,
		&g.StartTime,
		&g.EndTime,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanUser(row pgx.Row, extra ...any) (*model.User, error) {
	var u model.User
	dest := append(extra,
		&u.ID,
		&u.TelegramID,
		&u.Name,
		&u.Sex,
		&u.Skill,
		&u.IsGuest,
		&u.IsActive,
		&u.IsAttendance,
		&u.AdminAuthority,
		&u.Status,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanCourt(row pgx.Row) (*model.Court, error) {
	var c model.Court
	if err := row.Scan(&c.ID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// attachUsers resolves the participants of every game in one query.
func attachUsers(ctx context.Context, q querier, games []*model.Game) error {
	if len(games) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(games))
	byID := make(map[int64]*model.Game, len(games))
	for _, g := range games {
		ids = append(ids, g.ID)
		byID[g.ID] = g
		g.Users = []model.User{}
	}

	rows, err := q.Query(ctx, `
		SELECT r.game_id, `+userColumns+`
		FROM user_game_relations r
		JOIN users u ON u.id = r.user_id
		WHERE r.game_id = ANY($1)
		ORDER BY r.game_id, r.position
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var gameID int64
		u, err := scanUser(rows, &gameID)
		if err != nil {
			return err
		}
		if g := byID[gameID]; g != nil {
			g.Users = append(g.Users, *u)
		}
	}
	return rows.Err()
}

func queryGames(ctx context.Context, q querier, sql string, args ...any) ([]*model.Game, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	games := []*model.Game{}
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachUsers(ctx, q, games); err != nil {
		return nil, err
	}
	return games, nil
}

func getGame(ctx context.Context, q querier, gameID int64, forUpdate bool) (*model.Game, error) {
	sql := `SELECT ` + gameColumns + ` FROM games g WHERE g.id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	g, err := scanGame(q.QueryRow(ctx, sql, gameID))
	if err != nil {
		return nil, err
	}
	if err := attachUsers(ctx, q, []*model.Game{g}); err != nil {
		return nil, err
	}
	return g, nil
}

// ListByStatus returns games with the given status in queue order
// (created_at, then id), with participants resolved.
func (r *QueueRepository) ListByStatus(ctx context.Context, status model.GameStatus) ([]*model.Game, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, classify("list games", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	games, err := queryGames(ctx, tx, `
		SELECT `+gameColumns+`
		FROM games g
		WHERE g.status = $1
		ORDER BY g.created_at, g.id
	`, status)
	if err != nil {
		return nil, classify("list games", err)
	}
	return games, nil
}

// GetGame retrieves a game with its participants.
func (r *QueueRepository) GetGame(ctx context.Context, gameID int64) (*model.Game, error) {
	g, err := getGame(ctx, r.pool, gameID, false)
	if err != nil {
		return nil, classify("get game", err)
	}
	return g, nil
}

// ListCourts returns all courts ordered by id.
func (r *QueueRepository) ListCourts(ctx context.Context) ([]*model.Court, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, is_active, created_at, updated_at FROM courts ORDER BY id`)
	if err != nil {
		return nil, classify("list courts", err)
	}
	defer rows.Close()

	courts := []*model.Court{}
	for rows.Next() {
		c, err := scanCourt(rows)
		if err != nil {
			return nil, classify("list courts", err)
		}
		courts = append(courts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list courts", err)
	}
	return courts, nil
}

// AddCourt creates a new active court.
func (r *QueueRepository) AddCourt(ctx context.Context) (*model.Court, error) {
	c, err := scanCourt(r.pool.QueryRow(ctx, `
		INSERT INTO courts (is_active) VALUES (TRUE)
		RETURNING id, is_active, created_at, updated_at
	`))
	if err != nil {
		return nil, classify("add court", err)
	}
	return c, nil
}

// SetCourtActive toggles a court. Deactivating never evicts a game; it only
// removes the court from future assignment.
func (r *QueueRepository) SetCourtActive(ctx context.Context, courtID int64, active bool) (*model.Court, error) {
	c, err := scanCourt(r.pool.QueryRow(ctx, `
		UPDATE courts SET is_active = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, is_active, created_at, updated_at
	`, courtID, active))
	if err != nil {
		return nil, classify("set court active", err)
	}
	return c, nil
}

// availableCourtSQL selects the lowest-id active court that no claimed or
// playing game references.
const availableCourtSQL = `
	SELECT c.id, c.is_active, c.created_at, c.updated_at
	FROM courts c
	WHERE c.is_active
	  AND NOT EXISTS (
		SELECT 1 FROM games g WHERE g.court_id = c.id AND g.status <> 'finished'
	  )
	ORDER BY c.id
	LIMIT 1
`

// FindAvailableCourt returns the lowest-id free court, or nil when every
// active court is occupied. Occupancy is always read fresh.
func (r *QueueRepository) FindAvailableCourt(ctx context.Context) (*model.Court, error) {
	c, err := scanCourt(r.pool.QueryRow(ctx, availableCourtSQL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("find available court", err)
	}
	return c, nil
}

// validateGroup checks size and uniqueness of a participant list.
func validateGroup(userIDs []int64) error {
	if len(userIDs) < model.MinPlayers || len(userIDs) > model.MaxPlayers {
		return fmt.Errorf("%w: need %d-%d players, got %d",
			ErrInvalidGroup, model.MinPlayers, model.MaxPlayers, len(userIDs))
	}
	seen := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		if seen[id] {
			return fmt.Errorf("%w: user %d listed twice", ErrInvalidGroup, id)
		}
		seen[id] = true
	}
	return nil
}

// lockParticipants locks the users rows and checks that none of them is in
// another unfinished game.
func lockParticipants(ctx context.Context, tx pgx.Tx, userIDs []int64, exceptGame int64) error {
	var found int
	err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM (SELECT id FROM users WHERE id = ANY($1) FOR UPDATE) locked
	`, userIDs).Scan(&found)
	if err != nil {
		return err
	}
	if found != len(userIDs) {
		return ErrUserNotFound
	}

	var busy int64
	err = tx.QueryRow(ctx, `
		SELECT r.user_id
		FROM user_game_relations r
		JOIN games g ON g.id = r.game_id
		WHERE r.user_id = ANY($1) AND g.status <> 'finished' AND g.id <> $2
		LIMIT 1
	`, userIDs, exceptGame).Scan(&busy)
	if err == nil {
		return fmt.Errorf("%w: user %d is already in a game", ErrInvalidGroup, busy)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	return nil
}

func insertRelations(ctx context.Context, tx pgx.Tx, gameID int64, userIDs []int64) error {
	for i, uid := range userIDs {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_game_relations (game_id, user_id, position) VALUES ($1, $2, $3)
		`, gameID, uid, i)
		if err != nil {
			return err
		}
	}
	return nil
}

func setUserStatus(ctx context.Context, q querier, userIDs []int64, status model.UserStatus) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		UPDATE users SET user_status = $2, updated_at = NOW() WHERE id = ANY($1)
	`, userIDs, status)
	return err
}

// CreateGame inserts a game with its participants. When requested is
// waiting, no older game is still unclaimed and a court is free, the game
// claims that court in the same transaction and the result carries
// AutoClaimedCourtID; the game stays waiting so the caller can run the
// countdown. Requested playing starts the game immediately on a free court
// and falls back to the queue when none is free.
func (r *QueueRepository) CreateGame(ctx context.Context, userIDs []int64, requested model.GameStatus) (*model.Game, error) {
	if err := validateGroup(userIDs); err != nil {
		return nil, err
	}
	if requested != model.GameWaiting && requested != model.GamePlaying {
		return nil, fmt.Errorf("create game as %s: %w", requested, ErrInvalidState)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classify("create game", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockParticipants(ctx, tx, userIDs, 0); err != nil {
		return nil, classify("create game", err)
	}

	var gameID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO games (status, created_at, updated_at)
		VALUES ('waiting', clock_timestamp(), clock_timestamp())
		RETURNING id
	`).Scan(&gameID)
	if err != nil {
		return nil, classify("create game", err)
	}

	if err := insertRelations(ctx, tx, gameID, userIDs); err != nil {
		return nil, classify("create game", err)
	}

	courtID, err := autoClaim(ctx, tx, gameID, requested)
	if err != nil {
		return nil, classify("create game", err)
	}

	status := model.UserWaiting
	if requested == model.GamePlaying && courtID != 0 {
		_, err = tx.Exec(ctx, `
			UPDATE games SET status = 'playing', start_time = NOW(), updated_at = NOW()
			WHERE id = $1 AND status = 'waiting' AND court_id = $2
		`, gameID, courtID)
		if err != nil {
			return nil, classify("create game", err)
		}
		status = model.UserGaming
	}
	if err := setUserStatus(ctx, tx, userIDs, status); err != nil {
		return nil, classify("create game", err)
	}

	game, err := getGame(ctx, tx, gameID, false)
	if err != nil {
		return nil, classify("create game", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify("create game", err)
	}

	if courtID != 0 && game.Status == model.GameWaiting {
		game.AutoClaimedCourtID = &courtID
	}

	log.Debug().
		Int64("game_id", game.ID).
		Int64("court_id", courtID).
		Str("status", string(game.Status)).
		Msg("Game created")

	return game, nil
}

// autoClaim stamps a free court on a freshly inserted game. It runs in a
// savepoint so that losing the court to a concurrent submitter leaves the
// game queued instead of aborting the whole create.
func autoClaim(ctx context.Context, tx pgx.Tx, gameID int64, requested model.GameStatus) (int64, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return 0, err
	}

	fifo := ``
	if requested == model.GameWaiting {
		fifo = `AND NOT EXISTS (
			SELECT 1 FROM games w WHERE w.status = 'waiting' AND w.court_id IS NULL AND w.id <> $1
		)`
	}

	var courtID int64
	err = sp.QueryRow(ctx, `
		WITH court AS (
			SELECT c.id FROM courts c
			WHERE c.is_active
			  AND NOT EXISTS (
				SELECT 1 FROM games g WHERE g.court_id = c.id AND g.status <> 'finished'
			  )
			ORDER BY c.id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE games SET court_id = court.id, updated_at = NOW()
		FROM court
		WHERE games.id = $1 AND games.status = 'waiting' AND games.court_id IS NULL `+fifo+`
		RETURNING games.court_id
	`, gameID).Scan(&courtID)
	switch {
	case err == nil:
		return courtID, sp.Commit(ctx)
	case errors.Is(err, pgx.ErrNoRows):
		return 0, sp.Commit(ctx)
	case isUniqueViolation(err):
		log.Debug().Int64("game_id", gameID).Msg("Auto-claim lost the court to a concurrent claim")
		return 0, sp.Rollback(ctx)
	default:
		_ = sp.Rollback(ctx)
		return 0, err
	}
}

// ClaimCourtForNextGame assigns courtID to the oldest waiting game without
// a court. It returns nil, nil when the court is not free, no game is
// eligible, or a concurrent claim won the race. A head game locked by
// another transaction is waited for, never skipped; if that transaction
// changes it so it no longer qualifies, the claim is a no-op.
func (r *QueueRepository) ClaimCourtForNextGame(ctx context.Context, courtID int64) (*model.Game, error) {
	var gameID int64
	err := r.pool.QueryRow(ctx, `
		WITH court AS (
			SELECT c.id FROM courts c
			WHERE c.id = $1 AND c.is_active
			  AND NOT EXISTS (
				SELECT 1 FROM games g WHERE g.court_id = c.id AND g.status <> 'finished'
			  )
			FOR UPDATE SKIP LOCKED
		), next AS (
			SELECT w.id FROM games w
			WHERE w.status = 'waiting' AND w.court_id IS NULL
			ORDER BY w.created_at, w.id
			LIMIT 1
			FOR UPDATE
		)
		UPDATE games SET court_id = court.id, updated_at = NOW()
		FROM court, next
		WHERE games.id = next.id AND games.status = 'waiting' AND games.court_id IS NULL
		RETURNING games.id
	`, courtID).Scan(&gameID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case isUniqueViolation(err):
		log.Debug().Int64("court_id", courtID).Msg("Claim lost the race")
		return nil, nil
	case err != nil:
		return nil, classify("claim court", err)
	}

	game, err := r.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return game, nil
}

// nextState validates a transition and returns the target phase.
func nextState(g *model.Game, to model.GameStatus, courtID int64) (model.Phase, error) {
	from := g.Phase()
	if courtID != 0 && g.CourtID != nil && *g.CourtID != courtID {
		return "", fmt.Errorf("game %d is on court %d, not %d: %w", g.ID, *g.CourtID, courtID, ErrConflict)
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
		// Another client's countdown already started it.
		return "", fmt.Errorf("game %d already playing: %w", g.ID, ErrConflict)
	case from == model.PhaseFinished && to == model.GameFinished:
		// Another client already finished it.
		return "", fmt.Errorf("game %d already finished: %w", g.ID, ErrConflict)
	}
	return "", fmt.Errorf("game %d cannot go from %s to %s: %w", g.ID, from, to, ErrInvalidState)
}

// TransitionStatus moves a game along the state machine and updates its
// participants' statuses in the same transaction:
//
//	waiting-claimed -> playing     start_time = now, users gaming
//	playing -> finished            end_time = now, users ready
//	playing -> waiting             court and start_time cleared, users waiting
//	waiting-claimed -> waiting     claim released, users stay waiting
//
// courtID, when non-zero, must match the game's court.
func (r *QueueRepository) TransitionStatus(ctx context.Context, gameID int64, to model.GameStatus, courtID int64) (*model.Game, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classify("transition game", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	game, err := getGame(ctx, tx, gameID, true)
	if err != nil {
		return nil, classify("transition game", err)
	}

	target, err := nextState(game, to, courtID)
	if err != nil {
		return nil, err
	}

	var sql string
	switch target {
	case model.PhasePlaying:
		sql = `UPDATE games SET status = 'playing', start_time = NOW(), updated_at = NOW()`
	case model.PhaseFinished:
		sql = `UPDATE games SET status = 'finished', end_time = NOW(), updated_at = NOW()`
	case model.PhaseWaitingUnclaimed:
		sql = `UPDATE games SET status = 'waiting', court_id = NULL, start_time = NULL, updated_at = NOW()`
	}
	tag, err := tx.Exec(ctx, sql+`
		WHERE id = $1 AND status = $2 AND court_id IS NOT DISTINCT FROM $3
	`, gameID, game.Status, game.CourtID)
	if err != nil {
		return nil, classify("transition game", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("transition game %d: %w", gameID, ErrConflict)
	}

	if err := setUserStatus(ctx, tx, game.UserIDs(), model.ParticipantStatus(target)); err != nil {
		return nil, classify("transition game", err)
	}

	updated, err := getGame(ctx, tx, gameID, false)
	if err != nil {
		return nil, classify("transition game", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify("transition game", err)
	}
	return updated, nil
}

// ReleaseClaim returns a claimed game to the unclaimed queue without
// touching its position.
func (r *QueueRepository) ReleaseClaim(ctx context.Context, gameID, courtID int64) (*model.Game, error) {
	game, err := r.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !game.IsClaimed() {
		return nil, fmt.Errorf("release claim on game %d in phase %s: %w", gameID, game.Phase(), ErrConflict)
	}
	return r.TransitionStatus(ctx, gameID, model.GameWaiting, courtID)
}

// Delay moves a waiting game to just after the next game in line, or to
// the back of the queue when it is already last. The relative order of all
// other games is untouched. A game already holding a court cannot be
// delayed.
func (r *QueueRepository) Delay(ctx context.Context, gameID int64) (*model.Game, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classify("delay game", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT g.id, g.court_id, g.created_at
		FROM games g
		WHERE g.status = 'waiting'
		ORDER BY g.created_at, g.id
	`)
	if err != nil {
		return nil, classify("delay game", err)
	}
	var queue []queuedGame
	for rows.Next() {
		var e queuedGame
		if err := rows.Scan(&e.id, &e.courtID, &e.createdAt); err != nil {
			rows.Close()
			return nil, classify("delay game", err)
		}
		queue = append(queue, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify("delay game", err)
	}

	idx := -1
	for i, e := range queue {
		if e.id == gameID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("delay game %d: not waiting: %w", gameID, ErrNotFound)
	}
	if queue[idx].courtID != nil {
		return nil, fmt.Errorf("delay game %d: already holds court %d: %w", gameID, *queue[idx].courtID, ErrInvalidState)
	}

	newCreatedAt := DelayedCreatedAt(queue[idx].createdAt, nextCreatedAt(queue, idx), time.Now().UTC().Truncate(delayEpsilon))

	tag, err := tx.Exec(ctx, `
		UPDATE games SET created_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'waiting' AND court_id IS NULL AND created_at = $3
	`, gameID, newCreatedAt, queue[idx].createdAt)
	if err != nil {
		return nil, classify("delay game", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("delay game %d: %w", gameID, ErrConflict)
	}

	game, err := getGame(ctx, tx, gameID, false)
	if err != nil {
		return nil, classify("delay game", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify("delay game", err)
	}
	return game, nil
}

func nextCreatedAt(queue []queuedGame, idx int) *time.Time {
	if idx+1 >= len(queue) {
		return nil
	}
	t := queue[idx+1].createdAt
	return &t
}

// DelayedCreatedAt computes the new queue key for a delayed game: just
// after its successor, or just after max(now, own key) when it is last.
func DelayedCreatedAt(own time.Time, next *time.Time, now time.Time) time.Time {
	if next != nil {
		return next.Add(delayEpsilon)
	}
	if own.After(now) {
		return own.Add(delayEpsilon)
	}
	return now.Add(delayEpsilon)
}

// DeleteGame removes a game and its participant associations. Participants
// of an unfinished game go back to ready. The deleted game is returned so
// the caller can react to a freed court.
func (r *QueueRepository) DeleteGame(ctx context.Context, gameID int64) (*model.Game, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classify("delete game", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	game, err := getGame(ctx, tx, gameID, true)
	if err != nil {
		return nil, classify("delete game", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM games WHERE id = $1`, gameID); err != nil {
		return nil, classify("delete game", err)
	}
	if game.Status != model.GameFinished {
		if err := setUserStatus(ctx, tx, game.UserIDs(), model.UserReady); err != nil {
			return nil, classify("delete game", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify("delete game", err)
	}
	return game, nil
}

// ReplaceParticipants swaps the participant list of an unfinished game.
// Removed users go back to ready; added users take the game's phase status.
// Queue position is unchanged.
func (r *QueueRepository) ReplaceParticipants(ctx context.Context, gameID int64, userIDs []int64) (*model.Game, error) {
	if err := validateGroup(userIDs); err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, classify("replace participants", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	game, err := getGame(ctx, tx, gameID, true)
	if err != nil {
		return nil, classify("replace participants", err)
	}
	if game.Status == model.GameFinished {
		return nil, fmt.Errorf("replace participants of finished game %d: %w", gameID, ErrInvalidState)
	}
	if err := lockParticipants(ctx, tx, userIDs, gameID); err != nil {
		return nil, classify("replace participants", err)
	}

	removed, added := DiffParticipants(game.UserIDs(), userIDs)

	if _, err := tx.Exec(ctx, `DELETE FROM user_game_relations WHERE game_id = $1`, gameID); err != nil {
		return nil, classify("replace participants", err)
	}
	if err := insertRelations(ctx, tx, gameID, userIDs); err != nil {
		return nil, classify("replace participants", err)
	}
	if err := setUserStatus(ctx, tx, removed, model.UserReady); err != nil {
		return nil, classify("replace participants", err)
	}
	if err := setUserStatus(ctx, tx, added, model.ParticipantStatus(game.Phase())); err != nil {
		return nil, classify("replace participants", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE games SET updated_at = NOW() WHERE id = $1`, gameID); err != nil {
		return nil, classify("replace participants", err)
	}

	updated, err := getGame(ctx, tx, gameID, false)
	if err != nil {
		return nil, classify("replace participants", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify("replace participants", err)
	}
	return updated, nil
}

// DiffParticipants returns ids only in before (removed) and only in after
// (added).
func DiffParticipants(before, after []int64) (removed, added []int64) {
	inBefore := make(map[int64]bool, len(before))
	for _, id := range before {
		inBefore[id] = true
	}
	inAfter := make(map[int64]bool, len(after))
	for _, id := range after {
		inAfter[id] = true
		if !inBefore[id] {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if !inAfter[id] {
			removed = append(removed, id)
		}
	}
	return removed, added
}

// ListUsers returns active users ordered by name.
func (r *QueueRepository) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users u WHERE u.is_active ORDER BY u.name, u.id
	`)
	if err != nil {
		return nil, classify("list users", err)
	}
	defer rows.Close()

	users := []*model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classify("list users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list users", err)
	}
	return users, nil
}

// ListReadyUsers returns users that may be picked for a new group.
func (r *QueueRepository) ListReadyUsers(ctx context.Context) ([]*model.User, error) {
	users, err := r.ListUsers(ctx)
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
func (r *QueueRepository) UpdateMultipleUserStatus(ctx context.Context, userIDs []int64, status model.UserStatus) error {
	if err := setUserStatus(ctx, r.pool, userIDs, status); err != nil {
		return classify("update user status", err)
	}
	return nil
}
