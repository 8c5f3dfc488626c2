package game

import (
	"errors"
	"fmt"

	"github.com/slopgame/slop/models"
)

// Code is the stable, client-visible reason a command was rejected.
type Code string

const (
	CodeInvalidTransition       Code = "invalid_transition"
	CodeNotFound                Code = "not_found"
	CodeDuplicate               Code = "duplicate"
	CodeInvalidInput            Code = "invalid_input"
	CodeTeamFull                Code = "team_full"
	CodeNotActingTeam           Code = "not_acting_team"
	CodeActingTeamCannotGuess   Code = "acting_team_cannot_guess"
	CodeAlreadyWon              Code = "already_won"
	CodeAlreadySubmitted        Code = "already_submitted"
	CodeAlreadyAssigned         Code = "already_assigned"
	CodeRoleCountMismatch       Code = "role_count_mismatch"
	CodeScriptGenerationFailed  Code = "script_generation_failed"
	CodeScriptGenerationTimeout Code = "script_generation_timeout"
	CodeStorageUnavailable      Code = "storage_unavailable"
	CodeUnauthorized            Code = "unauthorized"
	CodeInternal                Code = "internal"
)

// Error is a command failure. Two errors match under errors.Is when their
// codes are equal, so callers can test against the sentinels below.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable reports whether the same command may succeed if sent again
// unchanged.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeStorageUnavailable, CodeScriptGenerationFailed, CodeScriptGenerationTimeout:
		return true
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrInvalidTransition       = &Error{Code: CodeInvalidTransition}
	ErrNotFound                = &Error{Code: CodeNotFound}
	ErrDuplicate               = &Error{Code: CodeDuplicate}
	ErrInvalidInput            = &Error{Code: CodeInvalidInput}
	ErrTeamFull                = &Error{Code: CodeTeamFull}
	ErrNotActingTeam           = &Error{Code: CodeNotActingTeam}
	ErrActingTeamCannotGuess   = &Error{Code: CodeActingTeamCannotGuess}
	ErrAlreadyWon              = &Error{Code: CodeAlreadyWon}
	ErrAlreadySubmitted        = &Error{Code: CodeAlreadySubmitted}
	ErrAlreadyAssigned         = &Error{Code: CodeAlreadyAssigned}
	ErrRoleCountMismatch       = &Error{Code: CodeRoleCountMismatch}
	ErrScriptGenerationFailed  = &Error{Code: CodeScriptGenerationFailed}
	ErrScriptGenerationTimeout = &Error{Code: CodeScriptGenerationTimeout}
	ErrStorageUnavailable      = &Error{Code: CodeStorageUnavailable}
	ErrUnauthorized            = &Error{Code: CodeUnauthorized}
	ErrInternal                = &Error{Code: CodeInternal}
)

// Reject builds a command error with a formatted message.
func Reject(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a command error around a cause.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeInternal
}

// fromModel translates an entity error into a command error.
func fromModel(err error) *Error {
	switch {
	case errors.Is(err, models.ErrPlayerNotFound),
		errors.Is(err, models.ErrTeamNotFound),
		errors.Is(err, models.ErrRoundNotFound),
		errors.Is(err, models.ErrGuessNotFound):
		return &Error{Code: CodeNotFound, Err: err}
	case errors.Is(err, models.ErrTeamFull):
		return &Error{Code: CodeTeamFull, Err: err}
	case errors.Is(err, models.ErrDuplicatePlayer), errors.Is(err, models.ErrDuplicateTeam):
		return &Error{Code: CodeDuplicate, Err: err}
	case errors.Is(err, models.ErrInvalidRoomCode),
		errors.Is(err, models.ErrInvalidContentTone),
		errors.Is(err, models.ErrNoRoles):
		return &Error{Code: CodeInvalidInput, Err: err}
	}
	return &Error{Code: CodeInternal, Err: err}
}
