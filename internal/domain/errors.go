package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuizNotFound indicates the quiz id is unknown.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrTeamNotFound indicates the team id is unknown.
	ErrTeamNotFound = errors.New("team not found")
	// ErrRoundNotFound indicates the round id is unknown or belongs to another quiz.
	ErrRoundNotFound = errors.New("round not found")
	// ErrTeamNotInQuiz is returned when scoring a team that is not linked to the quiz.
	ErrTeamNotInQuiz = errors.New("team not linked to quiz")
	// ErrConflict is returned when linking a team that is already part of the quiz.
	ErrConflict = errors.New("team already linked to quiz")
	// ErrInvalidTransition is returned for quiz status changes that skip a stage.
	ErrInvalidTransition = errors.New("invalid quiz status transition")

	// ErrInvalidName rejects empty or whitespace-only names.
	ErrInvalidName = errors.New("name must not be empty")
	// ErrInvalidEmail rejects malformed contact addresses.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrNegativePoints rejects negative score entries.
	ErrNegativePoints = errors.New("points must not be negative")
	// ErrInvalidMaxPoints rejects negative round caps.
	ErrInvalidMaxPoints = errors.New("max points must not be negative")

	// ErrPersist wraps durable write failures. The in-memory change has
	// already been applied when this is returned.
	ErrPersist = errors.New("durable write failed")
	// ErrSyncInFlight is returned when a sync trigger overlaps a running one.
	ErrSyncInFlight = errors.New("sync already in progress")
	// ErrRemoteUnavailable indicates the remote replica cannot be reached.
	ErrRemoteUnavailable = errors.New("remote replica unavailable")
	// ErrNoStore is returned when every storage tier failed to open.
	ErrNoStore = errors.New("no storage tier available")
	// ErrClosed is returned by components used after shutdown.
	ErrClosed = errors.New("closed")
)

// ValidationError names the rejected field. It unwraps to one of the
// validation sentinels above.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err was rejected before any state changed.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
