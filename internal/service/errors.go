package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/immxrtalbeast/jamroom/internal/repository"
	"github.com/immxrtalbeast/jamroom/internal/validation"
)

// Error kinds. Every error returned by this package matches exactly one of
// them with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

var (
	ErrInvalidSpec = kindOf(ErrInvalidInput, "invalid room settings")

	ErrNotHost        = kindOf(ErrUnauthorized, "only the host can do this")
	ErrNotParticipant = kindOf(ErrUnauthorized, "not a participant of this room")
	ErrChatDisabled   = kindOf(ErrUnauthorized, "chat is disabled in this room")
	ErrMuted          = kindOf(ErrUnauthorized, "participant is muted")

	ErrRoomNotFound      = kindOf(ErrNotFound, "room not found")
	ErrNotPending        = kindOf(ErrNotFound, "no pending join request")
	ErrMessageNotFound   = kindOf(ErrNotFound, "message not found")
	ErrUserNotFound      = kindOf(ErrNotFound, "user not found")
	ErrRecipientNotFound = kindOf(ErrNotFound, "recipient is not in this room")

	ErrRoomFull    = kindOf(ErrConflict, "room is full")
	ErrInvalidCode = kindOf(ErrConflict, "join code does not match")
	ErrEmailTaken  = kindOf(ErrConflict, "email already registered")
)

type kindError struct {
	kind error
	msg  string
}

func kindOf(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// ValidationError carries the human-readable reasons an input was rejected.
type ValidationError struct {
	kind    error
	Reasons []string
}

func (e *ValidationError) Error() string {
	return e.kind.Error() + ": " + strings.Join(e.Reasons, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.kind
}

func invalid(kind error, res validation.Result) error {
	if res.OK() {
		return nil
	}
	return &ValidationError{kind: kind, Reasons: res.Reasons}
}

func invalidf(format string, args ...any) error {
	return &ValidationError{kind: ErrInvalidInput, Reasons: []string{fmt.Sprintf(format, args...)}}
}

// storeErr translates repository failures into the service taxonomy.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrRoomNotFound):
		return ErrRoomNotFound
	case errors.Is(err, repository.ErrMessageNotFound):
		return ErrMessageNotFound
	case errors.Is(err, repository.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrUserEmailExists):
		return ErrEmailTaken
	case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrRoomExists):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
