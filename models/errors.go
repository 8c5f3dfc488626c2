package models

import "errors"

// Validation and lookup errors raised by the domain entities.
var (
	ErrInvalidRoomCode     = errors.New("room code must be 4-6 characters")
	ErrNoRoles             = errors.New("script must have at least one role")
	ErrTeamFull            = errors.New("team is full")
	ErrPlayerNotOnTeam     = errors.New("player not on team")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrTeamNotFound        = errors.New("team not found")
	ErrRoundNotFound       = errors.New("round not found")
	ErrNoTeams             = errors.New("no teams in game")
	ErrDuplicatePlayer     = errors.New("player already in game")
	ErrDuplicateTeam       = errors.New("team already in game")
	ErrRoleNotAssigned     = errors.New("player not assigned a role in this round")
	ErrRoleIndexOutOfRange = errors.New("role index out of range")
	ErrNoScript            = errors.New("round has no script")
	ErrGuessNotFound       = errors.New("team has not guessed this round")
	ErrEmptyPersonalityID  = errors.New("personality id cannot be empty")
	ErrEmptyName           = errors.New("name cannot be empty")
	ErrEmptySystemPrompt   = errors.New("system prompt cannot be empty")
	ErrInvalidContentTone  = errors.New("content tone must be family or adult")
)
