package models

import (
	"fmt"
	"slices"
)

// DefaultTeamCapacity is the roster size used when a team is created without one.
const DefaultTeamCapacity = 3

// Team is a group of players that acts and guesses together.
// Each team's AI personality is chosen by a different team.
type Team struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Color                 string   `json:"color"`
	PlayerIDs             []string `json:"player_ids"`
	Score                 int      `json:"score"`
	AssignedPersonality   string   `json:"assigned_personality,omitempty"`
	PersonalityAssignedBy string   `json:"personality_assigned_by,omitempty"`
	MaxPlayers            int      `json:"max_players"`
}

// NewTeam creates an empty team. A non-positive capacity falls back to
// DefaultTeamCapacity.
func NewTeam(id, name, color string, maxPlayers int) *Team {
	if maxPlayers <= 0 {
		maxPlayers = DefaultTeamCapacity
	}
	return &Team{
		ID:         id,
		Name:       name,
		Color:      color,
		PlayerIDs:  []string{},
		MaxPlayers: maxPlayers,
	}
}

// AddPlayer appends a player to the roster. The roster is left untouched when
// the team is full.
func (t *Team) AddPlayer(playerID string) error {
	if t.IsFull() {
		return fmt.Errorf("%w (max %d players)", ErrTeamFull, t.MaxPlayers)
	}
	t.PlayerIDs = append(t.PlayerIDs, playerID)
	return nil
}

// RemovePlayer drops a player from the roster, keeping the order of the rest.
func (t *Team) RemovePlayer(playerID string) error {
	i := slices.Index(t.PlayerIDs, playerID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrPlayerNotOnTeam, playerID)
	}
	t.PlayerIDs = slices.Delete(t.PlayerIDs, i, i+1)
	return nil
}

// HasPlayer reports whether the player is on the roster.
func (t *Team) HasPlayer(playerID string) bool {
	return slices.Contains(t.PlayerIDs, playerID)
}

// AddScore adds points to the cumulative score.
func (t *Team) AddScore(points int) {
	t.Score += points
}

// AssignPersonality records the personality chosen for this team and who chose it.
func (t *Team) AssignPersonality(personalityID, assignedBy string) {
	t.AssignedPersonality = personalityID
	t.PersonalityAssignedBy = assignedBy
}

// HasPersonality reports whether a personality has been assigned.
func (t *Team) HasPersonality() bool {
	return t.AssignedPersonality != ""
}

// IsFull reports whether the roster is at capacity.
func (t *Team) IsFull() bool {
	return len(t.PlayerIDs) >= t.MaxPlayers
}

// Size returns the number of players on the roster.
func (t *Team) Size() int {
	return len(t.PlayerIDs)
}

func (t *Team) clone() *Team {
	c := *t
	c.PlayerIDs = slices.Clone(t.PlayerIDs)
	if c.PlayerIDs == nil {
		c.PlayerIDs = []string{}
	}
	return &c
}
