// Package events is the closed catalog of domain events that make up a
// game's append-only log.
//
// Events are values: every variant is a struct passed and stored by value,
// and nothing in the catalog mutates an event after construction. Stores keep
// the encoded form, so a fact can never be rewritten once appended.
package events

import (
	"errors"
	"maps"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownEventType is returned when a record carries a discriminant
	// that is not part of the catalog.
	ErrUnknownEventType = errors.New("unknown event type")
	// ErrImmutableEvent is returned when an append tries to replace an
	// existing event with different content.
	ErrImmutableEvent = errors.New("event is immutable")
	// ErrMissingMeta is returned when an event lacks its id, game id or timestamp.
	ErrMissingMeta = errors.New("event id, game id and timestamp are required")
)

// Type is the discriminant carried by every event.
type Type string

const (
	TypeGameCreated               Type = "GameCreated"
	TypeGameStarted               Type = "GameStarted"
	TypePlayerJoined              Type = "PlayerJoined"
	TypePlayerReconnected         Type = "PlayerReconnected"
	TypePlayerLeft                Type = "PlayerLeft"
	TypeTeamFormed                Type = "TeamFormed"
	TypeTeamDisbanded             Type = "TeamDisbanded"
	TypePlayerJoinedTeam          Type = "PlayerJoinedTeam"
	TypePersonalityAssigned       Type = "PersonalityAssigned"
	TypeRoundStarted              Type = "RoundStarted"
	TypePromptSubmitted           Type = "PromptSubmitted"
	TypeScriptGenerated           Type = "ScriptGenerated"
	TypeRoleAssigned              Type = "RoleAssigned"
	TypeGuessSubmitted            Type = "GuessSubmitted"
	TypeGuessAccepted             Type = "GuessAccepted"
	TypePersonalityGuessSubmitted Type = "PersonalityGuessSubmitted"
	TypeScoresUpdated             Type = "ScoresUpdated"
	TypeRoundCompleted            Type = "RoundCompleted"
	TypeGameCompleted             Type = "GameCompleted"
)

// Types lists every event type in the catalog.
func Types() []Type {
	return []Type{
		TypeGameCreated, TypeGameStarted, TypePlayerJoined, TypePlayerReconnected,
		TypePlayerLeft, TypeTeamFormed, TypeTeamDisbanded, TypePlayerJoinedTeam,
		TypePersonalityAssigned, TypeRoundStarted, TypePromptSubmitted,
		TypeScriptGenerated, TypeRoleAssigned, TypeGuessSubmitted, TypeGuessAccepted,
		TypePersonalityGuessSubmitted, TypeScoresUpdated, TypeRoundCompleted,
		TypeGameCompleted,
	}
}

// Event is implemented only by the variants in this package.
type Event interface {
	EventType() Type
	Header() Meta
	isEvent()
}

// Meta is the header shared by every event.
type Meta struct {
	EventID   string    `json:"event_id"`
	GameID    string    `json:"game_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMeta returns a header with a fresh id and the current UTC time.
func NewMeta(gameID string) Meta {
	return Meta{EventID: uuid.NewString(), GameID: gameID, Timestamp: time.Now().UTC()}
}

// MetaAt returns a header with a fresh id and the given time.
func MetaAt(gameID string, at time.Time) Meta {
	return Meta{EventID: uuid.NewString(), GameID: gameID, Timestamp: at.UTC()}
}

// Header returns the event header.
func (m Meta) Header() Meta { return m }

func (m Meta) isEvent() {}

func (m Meta) validate() error {
	if m.EventID == "" || m.GameID == "" || m.Timestamp.IsZero() {
		return ErrMissingMeta
	}
	return nil
}

// GameCreated starts a game's log.
type GameCreated struct {
	Meta
	RoomCode          string `json:"room_code"`
	ContentTone       string `json:"content_tone"`
	MaxPlayers        int    `json:"max_players"`
	RoundsPerTeam     int    `json:"rounds_per_team"`
	GuessTimerSeconds int    `json:"guess_timer_seconds,omitempty"`
}

// GameStarted closes the lobby and opens personality selection.
type GameStarted struct {
	Meta
}

// PlayerJoined adds a player to the game.
type PlayerJoined struct {
	Meta
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	SocketID   string `json:"socket_id"`
	IsCreator  bool   `json:"is_creator,omitempty"`
}

// PlayerReconnected moves a player to a new transport connection.
type PlayerReconnected struct {
	Meta
	PlayerID string `json:"player_id"`
	SocketID string `json:"socket_id"`
}

// PlayerLeft removes a player from the game.
type PlayerLeft struct {
	Meta
	PlayerID string `json:"player_id"`
}

// TeamFormed adds a team.
type TeamFormed struct {
	Meta
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
	Color    string `json:"color"`
}

// TeamDisbanded removes a team; its players become unassigned.
type TeamDisbanded struct {
	Meta
	TeamID string `json:"team_id"`
}

// PlayerJoinedTeam moves a player onto a team's roster.
type PlayerJoinedTeam struct {
	Meta
	PlayerID string `json:"player_id"`
	TeamID   string `json:"team_id"`
}

// PersonalityAssigned records the personality one team chose for another.
type PersonalityAssigned struct {
	Meta
	TeamID           string `json:"team_id"`
	PersonalityID    string `json:"personality_id"`
	AssignedByTeamID string `json:"assigned_by_team_id"`
}

// RoundStarted opens a round for the acting team.
type RoundStarted struct {
	Meta
	RoundNumber  int    `json:"round_number"`
	ActingTeamID string `json:"acting_team_id"`
}

// PromptSubmitted records the acting team's secret prompt.
type PromptSubmitted struct {
	Meta
	RoundNumber int    `json:"round_number"`
	Prompt      string `json:"prompt"`
	SubmittedBy string `json:"submitted_by"`
}

// RolePayload is the flattened form of a script role.
type RolePayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Lines       []string `json:"lines"`
}

// ScriptGenerated attaches the generated script to a round.
type ScriptGenerated struct {
	Meta
	RoundNumber       int           `json:"round_number"`
	ScriptContent     string        `json:"script_content"`
	PersonalityID     string        `json:"personality_id"`
	Roles             []RolePayload `json:"roles"`
	WordCount         int           `json:"word_count"`
	EstimatedDuration int           `json:"estimated_duration"`
}

// RoleAssigned maps a player to a role in the round's script. RoleIndex
// points into the script's roles, whose names need not be unique; logs
// written without it resolve the first unassigned role with RoleName.
type RoleAssigned struct {
	Meta
	RoundNumber          int    `json:"round_number"`
	PlayerID             string `json:"player_id"`
	RoleIndex            *int   `json:"role_index,omitempty"`
	RoleName             string `json:"role_name"`
	CharacterDescription string `json:"character_description"`
}

// GuessSubmitted records a team's prompt guess.
type GuessSubmitted struct {
	Meta
	RoundNumber int    `json:"round_number"`
	TeamID      string `json:"team_id"`
	Guess       string `json:"guess"`
}

// GuessAccepted marks a team's guess as correct.
type GuessAccepted struct {
	Meta
	RoundNumber int    `json:"round_number"`
	TeamID      string `json:"team_id"`
}

// PersonalityGuessSubmitted records the acting team's personality guess.
type PersonalityGuessSubmitted struct {
	Meta
	RoundNumber      int    `json:"round_number"`
	PersonalityGuess string `json:"personality_guess"`
}

// ScoresUpdated carries per-team point deltas for a round.
type ScoresUpdated struct {
	Meta
	RoundNumber  int            `json:"round_number"`
	ScoreChanges map[string]int `json:"score_changes"`
}

// RoundCompleted is the checkpoint written after a round is scored.
// FinalScores are the cumulative team scores at that point.
type RoundCompleted struct {
	Meta
	RoundNumber int            `json:"round_number"`
	FinalScores map[string]int `json:"final_scores"`
}

// GameCompleted ends the game. WinnerTeamID is empty on a tie.
type GameCompleted struct {
	Meta
	FinalScores  map[string]int `json:"final_scores"`
	WinnerTeamID *string        `json:"winner_team_id"`
}

func (GameCreated) EventType() Type               { return TypeGameCreated }
func (GameStarted) EventType() Type               { return TypeGameStarted }
func (PlayerJoined) EventType() Type              { return TypePlayerJoined }
func (PlayerReconnected) EventType() Type         { return TypePlayerReconnected }
func (PlayerLeft) EventType() Type                { return TypePlayerLeft }
func (TeamFormed) EventType() Type                { return TypeTeamFormed }
func (TeamDisbanded) EventType() Type             { return TypeTeamDisbanded }
func (PlayerJoinedTeam) EventType() Type          { return TypePlayerJoinedTeam }
func (PersonalityAssigned) EventType() Type       { return TypePersonalityAssigned }
func (RoundStarted) EventType() Type              { return TypeRoundStarted }
func (PromptSubmitted) EventType() Type           { return TypePromptSubmitted }
func (ScriptGenerated) EventType() Type           { return TypeScriptGenerated }
func (RoleAssigned) EventType() Type              { return TypeRoleAssigned }
func (GuessSubmitted) EventType() Type            { return TypeGuessSubmitted }
func (GuessAccepted) EventType() Type             { return TypeGuessAccepted }
func (PersonalityGuessSubmitted) EventType() Type { return TypePersonalityGuessSubmitted }
func (ScoresUpdated) EventType() Type             { return TypeScoresUpdated }
func (RoundCompleted) EventType() Type            { return TypeRoundCompleted }
func (GameCompleted) EventType() Type             { return TypeGameCompleted }

// NewScoresUpdated copies changes so the event never aliases the caller's map.
func NewScoresUpdated(meta Meta, round int, changes map[string]int) ScoresUpdated {
	return ScoresUpdated{Meta: meta, RoundNumber: round, ScoreChanges: cloneScores(changes)}
}

// NewRoundCompleted copies scores so the event never aliases the caller's map.
func NewRoundCompleted(meta Meta, round int, scores map[string]int) RoundCompleted {
	return RoundCompleted{Meta: meta, RoundNumber: round, FinalScores: cloneScores(scores)}
}

// NewGameCompleted copies scores and records the winner, if any.
func NewGameCompleted(meta Meta, scores map[string]int, winner string, hasWinner bool) GameCompleted {
	evt := GameCompleted{Meta: meta, FinalScores: cloneScores(scores)}
	if hasWinner {
		w := winner
		evt.WinnerTeamID = &w
	}
	return evt
}

// Winner returns the winning team id and whether there was one.
func (e GameCompleted) Winner() (string, bool) {
	if e.WinnerTeamID == nil {
		return "", false
	}
	return *e.WinnerTeamID, true
}

func cloneScores(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return maps.Clone(m)
}
