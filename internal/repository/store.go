package repository

import (
	"context"

	"courtqueue/internal/model"
)

// QueueStore is the scheduling contract shared by the Postgres repository
// and the in-memory store.
type QueueStore interface {
	ListByStatus(ctx context.Context, status model.GameStatus) ([]*model.Game, error)
	GetGame(ctx context.Context, gameID int64) (*model.Game, error)
	ListCourts(ctx context.Context) ([]*model.Court, error)
	AddCourt(ctx context.Context) (*model.Court, error)
	SetCourtActive(ctx context.Context, courtID int64, active bool) (*model.Court, error)
	FindAvailableCourt(ctx context.Context) (*model.Court, error)
	CreateGame(ctx context.Context, userIDs []int64, requested model.GameStatus) (*model.Game, error)
	ClaimCourtForNextGame(ctx context.Context, courtID int64) (*model.Game, error)
	TransitionStatus(ctx context.Context, gameID int64, to model.GameStatus, courtID int64) (*model.Game, error)
	ReleaseClaim(ctx context.Context, gameID, courtID int64) (*model.Game, error)
	Delay(ctx context.Context, gameID int64) (*model.Game, error)
	DeleteGame(ctx context.Context, gameID int64) (*model.Game, error)
	ReplaceParticipants(ctx context.Context, gameID int64, userIDs []int64) (*model.Game, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	ListReadyUsers(ctx context.Context) ([]*model.User, error)
	UpdateMultipleUserStatus(ctx context.Context, userIDs []int64, status model.UserStatus) error
}

// UserStore links chat accounts to players.
type UserStore interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	GetOrCreate(ctx context.Context, telegramID int64, name string) (*model.User, bool, error)
	SetAttendance(ctx context.Context, userID int64, attending bool) (*model.User, error)
	Exists(ctx context.Context, telegramID int64) (bool, error)
}

// ConfigStore reads and writes the settings row.
type ConfigStore interface {
	Get(ctx context.Context) (*model.Config, error)
	Update(ctx context.Context, cfg *model.Config) (*model.Config, error)
}

// Stores bundles the three contracts for wiring.
type Stores struct {
	Queue  QueueStore
	Users  UserStore
	Config ConfigStore
}

var (
	_ QueueStore  = (*QueueRepository)(nil)
	_ UserStore   = (*UserRepository)(nil)
	_ ConfigStore = (*ConfigRepository)(nil)
)
