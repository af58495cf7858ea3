package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courtqueue/internal/model"
)

// UserRepository links Telegram accounts to players.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create creates a new active player bound to a Telegram account.
func (r *UserRepository) Create(ctx context.Context, telegramID int64, name string) (*model.User, error) {
	const query = `
		INSERT INTO users AS u (telegram_id, name, is_active, created_at, updated_at)
		VALUES ($1, $2, TRUE, NOW(), NOW())
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, telegramID, name))
	if err != nil {
		return nil, classify("create user", err)
	}
	return user, nil
}

// GetByTelegramID retrieves a player by their Telegram ID.
// Returns ErrUserNotFound if no player is linked to it.
func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users u WHERE u.telegram_id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, classify("get user", err)
	}
	return user, nil
}

// GetOrCreate retrieves a player by Telegram ID, creating one if it doesn't
// exist. The bool reports whether a player was created.
func (r *UserRepository) GetOrCreate(ctx context.Context, telegramID int64, name string) (*model.User, bool, error) {
	user, err := r.GetByTelegramID(ctx, telegramID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	user, err = r.Create(ctx, telegramID, name)
	if err != nil {
		// Another request might have created the player.
		user, err = r.GetByTelegramID(ctx, telegramID)
		if err != nil {
			return nil, false, err
		}
		return user, false, nil
	}

	return user, true, nil
}

// SetAttendance marks a player present or absent for the session.
func (r *UserRepository) SetAttendance(ctx context.Context, userID int64, attending bool) (*model.User, error) {
	const query = `
		UPDATE users AS u
		SET is_attendance = $2, updated_at = NOW()
		WHERE u.id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, userID, attending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, classify("set attendance", err)
	}
	return user, nil
}

// Exists checks if a player with the given Telegram ID exists.
func (r *UserRepository) Exists(ctx context.Context, telegramID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM users WHERE telegram_id = $1)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, telegramID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", classify("user exists", err))
	}

	return exists, nil
}
