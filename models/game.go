package models

import (
	"fmt"
	"slices"
	"time"
)

// GameStatus is the lifecycle phase of a game.
type GameStatus string

const (
	StatusLobby                GameStatus = "lobby"
	StatusPersonalitySelection GameStatus = "personality_selection"
	StatusPlaying              GameStatus = "playing"
	StatusFinished             GameStatus = "finished"
)

// ContentTone selects how edgy generated scripts may be.
type ContentTone string

const (
	ToneFamily ContentTone = "family"
	ToneAdult  ContentTone = "adult"
)

// ParseContentTone validates a tone string.
func ParseContentTone(s string) (ContentTone, error) {
	switch ContentTone(s) {
	case ToneFamily, ToneAdult:
		return ContentTone(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidContentTone, s)
}

// Defaults for GameSettings.
const (
	DefaultRoundsPerTeam     = 3
	DefaultGuessTimerSeconds = 60
)

// GameSettings configures a game session.
type GameSettings struct {
	RoundsPerTeam     int         `json:"rounds_per_team"`
	GuessTimerSeconds int         `json:"guess_timer_seconds"`
	MaxPlayersPerTeam int         `json:"max_players_per_team"`
	ContentTone       ContentTone `json:"content_tone"`
}

// DefaultSettings returns the settings used when none are supplied.
func DefaultSettings() GameSettings {
	return GameSettings{
		RoundsPerTeam:     DefaultRoundsPerTeam,
		GuessTimerSeconds: DefaultGuessTimerSeconds,
		MaxPlayersPerTeam: DefaultTeamCapacity,
		ContentTone:       ToneFamily,
	}
}

// Game is the materialized state of one session. It owns its teams,
// players and rounds. Version counts the events folded into it.
type Game struct {
	ID           string       `json:"id"`
	RoomCode     string       `json:"room_code"`
	Status       GameStatus   `json:"status"`
	Settings     GameSettings `json:"settings"`
	Teams        []*Team      `json:"teams"`
	Players      []*Player    `json:"players"`
	Rounds       []*Round     `json:"rounds"`
	CurrentRound int          `json:"current_round"`
	WinnerTeamID string       `json:"winner_team_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Version      int          `json:"version"`
}

// NewGame validates the room code and returns a game in the lobby.
func NewGame(id, roomCode string, settings GameSettings, createdAt time.Time) (*Game, error) {
	if n := len(roomCode); n < 4 || n > 6 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoomCode, roomCode)
	}
	return &Game{
		ID:        id,
		RoomCode:  roomCode,
		Status:    StatusLobby,
		Settings:  settings,
		Teams:     []*Team{},
		Players:   []*Player{},
		Rounds:    []*Round{},
		CreatedAt: createdAt.UTC(),
	}, nil
}

// AddPlayer adds a player. Player ids are unique within a game.
func (g *Game) AddPlayer(p *Player) error {
	if _, err := g.Player(p.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicatePlayer, p.ID)
	}
	g.Players = append(g.Players, p)
	return nil
}

// RemovePlayer removes a player from the game and from their team's roster.
// Historical round data that references the player is kept.
func (g *Game) RemovePlayer(playerID string) error {
	i := slices.IndexFunc(g.Players, func(p *Player) bool { return p.ID == playerID })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
	}
	if teamID := g.Players[i].TeamID; teamID != "" {
		if t, err := g.Team(teamID); err == nil {
			_ = t.RemovePlayer(playerID)
		}
	}
	g.Players = slices.Delete(g.Players, i, i+1)
	return nil
}

// Player looks up a player by id.
func (g *Game) Player(playerID string) (*Player, error) {
	for _, p := range g.Players {
		if p.ID == playerID {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
}

// AddTeam adds a team. Team ids are unique within a game.
func (g *Game) AddTeam(t *Team) error {
	if _, err := g.Team(t.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateTeam, t.ID)
	}
	g.Teams = append(g.Teams, t)
	return nil
}

// RemoveTeam removes a team and clears the assignment of its players.
func (g *Game) RemoveTeam(teamID string) error {
	i := slices.IndexFunc(g.Teams, func(t *Team) bool { return t.ID == teamID })
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
	}
	for _, p := range g.Players {
		if p.TeamID == teamID {
			p.RemoveFromTeam()
		}
	}
	g.Teams = slices.Delete(g.Teams, i, i+1)
	return nil
}

// Team looks up a team by id.
func (g *Game) Team(teamID string) (*Team, error) {
	for _, t := range g.Teams {
		if t.ID == teamID {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
}

// MovePlayerToTeam puts a player on a team's roster, taking them off their
// previous team. A full target team leaves both rosters untouched.
func (g *Game) MovePlayerToTeam(playerID, teamID string) error {
	p, err := g.Player(playerID)
	if err != nil {
		return err
	}
	target, err := g.Team(teamID)
	if err != nil {
		return err
	}
	if p.TeamID == teamID {
		return nil
	}
	if err := target.AddPlayer(playerID); err != nil {
		return err
	}
	if p.TeamID != "" {
		if prev, err := g.Team(p.TeamID); err == nil {
			_ = prev.RemovePlayer(playerID)
		}
	}
	p.AssignToTeam(teamID)
	return nil
}

// TotalRounds is the number of rounds the game will play.
func (g *Game) TotalRounds() int {
	return len(g.Teams) * g.Settings.RoundsPerTeam
}

// IsComplete reports whether every round has been played.
func (g *Game) IsComplete() bool {
	return g.CurrentRound >= g.TotalRounds()
}

// ActingTeamFor returns the team that acts in the given round (round-robin).
func (g *Game) ActingTeamFor(roundNumber int) (*Team, error) {
	if len(g.Teams) == 0 {
		return nil, ErrNoTeams
	}
	return g.Teams[roundNumber%len(g.Teams)], nil
}

// ActingTeam returns the team acting in the current round.
func (g *Game) ActingTeam() (*Team, error) {
	return g.ActingTeamFor(g.CurrentRound)
}

// Round looks up a round by number.
func (g *Game) Round(number int) (*Round, error) {
	for _, r := range g.Rounds {
		if r.Number == number {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrRoundNotFound, number)
}

// ActiveRound returns the current round if it has started and not completed.
func (g *Game) ActiveRound() (*Round, bool) {
	r, err := g.Round(g.CurrentRound)
	if err != nil || r.Completed {
		return nil, false
	}
	return r, true
}

// Scores returns every team's cumulative score keyed by team id.
func (g *Game) Scores() map[string]int {
	out := make(map[string]int, len(g.Teams))
	for _, t := range g.Teams {
		out[t.ID] = t.Score
	}
	return out
}

// Leader returns the team with strictly the highest score. It reports false
// when there are no teams or the top score is shared.
func (g *Game) Leader() (string, bool) {
	leader, best, tied := "", 0, false
	for i, t := range g.Teams {
		switch {
		case i == 0 || t.Score > best:
			leader, best, tied = t.ID, t.Score, false
		case t.Score == best:
			tied = true
		}
	}
	if leader == "" || tied {
		return "", false
	}
	return leader, true
}

// Clone returns a deep copy that shares no mutable state with g.
func (g *Game) Clone() *Game {
	c := *g
	c.Teams = make([]*Team, len(g.Teams))
	for i, t := range g.Teams {
		c.Teams[i] = t.clone()
	}
	c.Players = make([]*Player, len(g.Players))
	for i, p := range g.Players {
		cp := *p
		c.Players[i] = &cp
	}
	c.Rounds = make([]*Round, len(g.Rounds))
	for i, r := range g.Rounds {
		c.Rounds[i] = r.clone()
	}
	return &c
}
