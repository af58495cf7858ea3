package repository

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store error taxonomy. Callers classify with errors.Is.
var (
	// ErrStoreUnavailable means the backing store could not be reached.
	// It is retryable.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound means the game, court or user no longer exists, or is
	// not in a state the operation applies to.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a conditional write matched zero rows because a
	// concurrent writer got there first.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState means the requested transition is not allowed from
	// the game's current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidGroup means the participant list is unusable.
	ErrInvalidGroup = errors.New("invalid group")

	// ErrUserNotFound is kept for the account-linking paths.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
)

const uniqueViolation = "23505"

// classify wraps err with the taxonomy sentinel it belongs to. The message
// keeps the original error for logs.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrInvalidGroup):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	case isUnavailable(err):
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
