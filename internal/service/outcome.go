// Package service provides the operations the chat bot and HTTP surfaces
// call, and the read model they render.
package service

import (
	"errors"

	"github.com/rs/zerolog/log"

	"courtqueue/internal/pkg/lock"
	"courtqueue/internal/repository"
)

// Action tells a UI surface what to do with a failed operation.
type Action string

// UI actions.
const (
	// ActionNone means the operation succeeded.
	ActionNone Action = ""
	// ActionBanner shows a retryable connectivity banner.
	ActionBanner Action = "banner"
	// ActionToast shows a one-time message and refreshes.
	ActionToast Action = "toast"
	// ActionSilent absorbs the failure; a refresh shows the winner's result.
	ActionSilent Action = "silent"
	// ActionRefresh reloads the board and ignores the request.
	ActionRefresh Action = "refresh"
)

// Outcome is the UI mapping of an operation error.
type Outcome struct {
	Action  Action
	Message string
	Refresh bool
}

// OutcomeOf maps an error to what the UI should do about it.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Action: ActionNone}
	case errors.Is(err, repository.ErrStoreUnavailable):
		return Outcome{Action: ActionBanner, Message: "Connection problem. Retrying..."}
	case errors.Is(err, repository.ErrInvalidGroup):
		return Outcome{Action: ActionToast, Message: "Pick 2 to 4 different players who are not already in a game."}
	case errors.Is(err, repository.ErrUserNotFound):
		return Outcome{Action: ActionToast, Message: "Player not found. Use /start first.", Refresh: true}
	case errors.Is(err, repository.ErrNotFound):
		return Outcome{Action: ActionToast, Message: "That game no longer exists.", Refresh: true}
	case errors.Is(err, repository.ErrConflict):
		return Outcome{Action: ActionSilent, Refresh: true}
	case errors.Is(err, repository.ErrInvalidState):
		return Outcome{Action: ActionRefresh, Refresh: true}
	case errors.Is(err, ErrNotAdmin):
		return Outcome{Action: ActionToast, Message: "Only admins can do that."}
	case errors.Is(err, lock.ErrLockTimeout):
		return Outcome{Action: ActionToast, Message: "Someone else is changing this game. Try again."}
	}
	return Outcome{Action: ActionBanner, Message: "Something went wrong. Retrying..."}
}

// report logs err at the level its class calls for and returns it.
func report(op string, gameID int64, err error) error {
	if err == nil {
		return nil
	}
	var ev = log.Error()
	switch {
	case errors.Is(err, repository.ErrConflict):
		ev = log.Debug()
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrInvalidGroup),
		errors.Is(err, lock.ErrLockTimeout):
		ev = log.Info()
	case errors.Is(err, repository.ErrStoreUnavailable):
		ev = log.Warn()
	}
	ev.Err(err).Str("op", op).Int64("game_id", gameID).Msg("Queue operation failed")
	return err
}
