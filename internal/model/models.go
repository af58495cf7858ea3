// Package model defines the data models for the court queue.
package model

import "time"

// UserStatus is a user's participation state for the current session.
type UserStatus string

// User statuses.
const (
	UserReady   UserStatus = "ready"   // Free to join a new group
	UserWaiting UserStatus = "waiting" // Enqueued in a waiting game
	UserGaming  UserStatus = "gaming"  // On a court, past the countdown
)

// GameStatus is the stored status of a game.
type GameStatus string

// Game statuses.
const (
	GameWaiting  GameStatus = "waiting"
	GamePlaying  GameStatus = "playing"
	GameFinished GameStatus = "finished"
)

// Valid reports whether s is a known game status.
func (s GameStatus) Valid() bool {
	switch s {
	case GameWaiting, GamePlaying, GameFinished:
		return true
	}
	return false
}

// Phase is the scheduling state of a game. It refines GameWaiting into
// claimed and unclaimed sub-states.
type Phase string

// Game phases.
const (
	PhaseWaitingUnclaimed Phase = "waiting-unclaimed"
	PhaseWaitingClaimed   Phase = "waiting-claimed"
	PhasePlaying          Phase = "playing"
	PhaseFinished         Phase = "finished"
)

// Sex of a player, used only for display.
type Sex string

const (
	SexMale   Sex = "M"
	SexFemale Sex = "F"
)

// Skill is a coarse skill tier, used only for display.
type Skill string

const (
	SkillA Skill = "A"
	SkillB Skill = "B"
	SkillC Skill = "C"
)

// Group size limits for a game.
const (
	MinPlayers = 2
	MaxPlayers = 4
)

// User represents a player account.
type User struct {
	ID             int64      `db:"id" json:"id"`
	TelegramID     *int64     `db:"telegram_id" json:"telegram_id,omitempty"`
	Name           string     `db:"name" json:"name"`
	Sex            Sex        `db:"sex" json:"sex"`
	Skill          Skill      `db:"skill" json:"skill"`
	IsGuest        bool       `db:"is_guest" json:"is_guest"`
	IsActive       bool       `db:"is_active" json:"is_active"`
	IsAttendance   bool       `db:"is_attendance" json:"is_attendance"`
	AdminAuthority bool       `db:"admin_authority" json:"admin_authority"`
	Status         UserStatus `db:"user_status" json:"user_status"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Selectable reports whether the user may be picked for a new group.
func (u *User) Selectable() bool {
	return u.IsActive && u.IsAttendance && u.Status == UserReady
}

// Court represents a physical court.
type Court struct {
	ID        int64     `db:"id" json:"id"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Game is the unit of scheduling. CreatedAt is the queue-ordering key.
type Game struct {
	ID        int64      `db:"id" json:"id"`
	Status    GameStatus `db:"status" json:"status"`
	CourtID   *int64     `db:"court_id" json:"court_id"`
	StartTime *time.Time `db:"start_time" json:"start_time"`
	EndTime   *time.Time `db:"end_time" json:"end_time"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	Users     []User     `json:"users"`

	// AutoClaimedCourtID is set only on the result of a create that found
	// a free court. It is never persisted.
	AutoClaimedCourtID *int64 `json:"auto_claimed_court_id,omitempty"`
}

// IsClaimed reports whether the game holds a court but has not started.
func (g *Game) IsClaimed() bool {
	return g.Status == GameWaiting && g.CourtID != nil
}

// Phase returns the scheduling phase of the game.
func (g *Game) Phase() Phase {
	switch g.Status {
	case GamePlaying:
		return PhasePlaying
	case GameFinished:
		return PhaseFinished
	}
	if g.CourtID != nil {
		return PhaseWaitingClaimed
	}
	return PhaseWaitingUnclaimed
}

// UserIDs returns the ids of the participants in order.
func (g *Game) UserIDs() []int64 {
	ids := make([]int64, 0, len(g.Users))
	for _, u := range g.Users {
		ids = append(ids, u.ID)
	}
	return ids
}

// Court returns the court id or 0 when the game holds none.
func (g *Game) Court() int64 {
	if g.CourtID == nil {
		return 0
	}
	return *g.CourtID
}

// Clone returns a deep copy of the game.
func (g *Game) Clone() *Game {
	c := *g
	if g.CourtID != nil {
		v := *g.CourtID
		c.CourtID = &v
	}
	if g.StartTime != nil {
		v := *g.StartTime
		c.StartTime = &v
	}
	if g.EndTime != nil {
		v := *g.EndTime
		c.EndTime = &v
	}
	if g.AutoClaimedCourtID != nil {
		v := *g.AutoClaimedCourtID
		c.AutoClaimedCourtID = &v
	}
	c.Users = append([]User(nil), g.Users...)
	return &c
}

// ParticipantStatus returns the user status implied by a game phase.
func ParticipantStatus(p Phase) UserStatus {
	switch p {
	case PhasePlaying:
		return UserGaming
	case PhaseWaitingClaimed, PhaseWaitingUnclaimed:
		return UserWaiting
	}
	return UserReady
}

// Config is the process-wide settings row.
type Config struct {
	ID                     int64     `db:"id" json:"id"`
	ShowSex                bool      `db:"show_sex" json:"show_sex"`
	ShowSkill              bool      `db:"show_skill" json:"show_skill"`
	EnableVS               bool      `db:"enable_vs" json:"enable_vs"`
	EnableUndoGameByUser   bool      `db:"enable_undo_game_by_user" json:"enable_undo_game_by_user"`
	EnableChangeGameByUser bool      `db:"enable_change_game_by_user" json:"enable_change_game_by_user"`
	EnableAddUserAuto      bool      `db:"enable_add_user_auto" json:"enable_add_user_auto"`
	WarningTimeMinutes     int       `db:"warning_time_minutes" json:"warning_time_minutes"`
	DangerTimeMinutes      int       `db:"danger_time_minutes" json:"danger_time_minutes"`
	CreatedAt              time.Time `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time `db:"updated_at" json:"updated_at"`
}

// Default elapsed-time thresholds in minutes.
const (
	DefaultWarningMinutes = 20
	DefaultDangerMinutes  = 30
)

// DefaultConfig returns the settings used when no row exists yet.
func DefaultConfig() *Config {
	return &Config{
		ShowSex:            true,
		ShowSkill:          true,
		EnableVS:           true,
		WarningTimeMinutes: DefaultWarningMinutes,
		DangerTimeMinutes:  DefaultDangerMinutes,
	}
}
