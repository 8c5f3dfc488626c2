package models

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Guess is a team's attempt at the acting team's prompt.
type Guess struct {
	TeamID    string `json:"team_id"`
	Text      string `json:"guess"`
	Timestamp int64  `json:"timestamp"`
	Accepted  bool   `json:"accepted"`
}

// Round is one performance: the acting team submits a prompt, performs the
// generated script and the other teams guess the prompt.
type Round struct {
	ID                 string         `json:"id"`
	Number             int            `json:"round_number"`
	ActingTeamID       string         `json:"acting_team_id"`
	Prompt             string         `json:"prompt,omitempty"`
	SubmittedBy        string         `json:"submitted_by,omitempty"`
	Script             *Script        `json:"script,omitempty"`
	RoleAssignments    map[string]int `json:"role_assignments"`
	Guesses            []Guess        `json:"prompt_guesses"`
	PromptWinnerTeamID string         `json:"prompt_winner_team_id,omitempty"`
	PersonalityGuess   string         `json:"personality_guess,omitempty"`
	PersonalityCorrect bool           `json:"personality_correct"`
	Scores             map[string]int `json:"round_score"`
	Completed          bool           `json:"completed"`
	CreatedAt          time.Time      `json:"created_at"`
}

// NewRound returns the shell of a round that has just started.
func NewRound(id string, number int, actingTeamID string, createdAt time.Time) *Round {
	return &Round{
		ID:              id,
		Number:          number,
		ActingTeamID:    actingTeamID,
		RoleAssignments: map[string]int{},
		Guesses:         []Guess{},
		Scores:          map[string]int{},
		CreatedAt:       createdAt.UTC(),
	}
}

// HasPrompt reports whether the acting team has submitted its prompt.
func (r *Round) HasPrompt() bool {
	return r.Prompt != ""
}

// HasScript reports whether a script has been attached.
func (r *Round) HasScript() bool {
	return r.Script != nil
}

// HasWinner reports whether a guess has been accepted.
func (r *Round) HasWinner() bool {
	return r.PromptWinnerTeamID != ""
}

// SubmitPrompt records the acting team's secret prompt.
func (r *Round) SubmitPrompt(prompt, playerID string) {
	r.Prompt = prompt
	r.SubmittedBy = playerID
}

// AttachScript attaches the generated script.
func (r *Round) AttachScript(s *Script) {
	r.Script = s
}

// AssignRole maps a player to an index into the script's roles.
func (r *Round) AssignRole(playerID string, roleIndex int) error {
	if r.Script == nil {
		return ErrNoScript
	}
	if roleIndex < 0 || roleIndex >= len(r.Script.Roles) {
		return fmt.Errorf("%w: %d of %d", ErrRoleIndexOutOfRange, roleIndex, len(r.Script.Roles))
	}
	r.RoleAssignments[playerID] = roleIndex
	return nil
}

// RoleFor returns the role assigned to a player.
func (r *Round) RoleFor(playerID string) (Role, error) {
	idx, ok := r.RoleAssignments[playerID]
	if !ok || r.Script == nil {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotAssigned, playerID)
	}
	return r.Script.Roles[idx], nil
}

// AddGuess appends a prompt guess.
func (r *Round) AddGuess(g Guess) {
	r.Guesses = append(r.Guesses, g)
}

// HasGuessFrom reports whether the team has guessed this round.
func (r *Round) HasGuessFrom(teamID string) bool {
	return slices.ContainsFunc(r.Guesses, func(g Guess) bool { return g.TeamID == teamID })
}

// AcceptGuess marks the team's most recent guess accepted and makes the team
// the prompt winner.
func (r *Round) AcceptGuess(teamID string) error {
	for i := len(r.Guesses) - 1; i >= 0; i-- {
		if r.Guesses[i].TeamID == teamID {
			r.Guesses[i].Accepted = true
			r.PromptWinnerTeamID = teamID
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrGuessNotFound, teamID)
}

// SetPersonalityGuess records the acting team's personality guess and
// evaluates it against the script's personality.
func (r *Round) SetPersonalityGuess(personalityID string) {
	r.PersonalityGuess = personalityID
	r.PersonalityCorrect = r.Script != nil && r.Script.PersonalityID == personalityID
}

// AddScore adds points to a team's tally for this round.
func (r *Round) AddScore(teamID string, points int) {
	r.Scores[teamID] += points
}

func (r *Round) clone() *Round {
	c := *r
	c.Script = r.Script.clone()
	c.RoleAssignments = maps.Clone(r.RoleAssignments)
	if c.RoleAssignments == nil {
		c.RoleAssignments = map[string]int{}
	}
	c.Guesses = slices.Clone(r.Guesses)
	if c.Guesses == nil {
		c.Guesses = []Guess{}
	}
	c.Scores = maps.Clone(r.Scores)
	if c.Scores == nil {
		c.Scores = map[string]int{}
	}
	return &c
}
