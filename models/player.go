package models

import "time"

// Player is a participant in a game. SocketID changes on reconnection.
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SocketID  string    `json:"socket_id"`
	TeamID    string    `json:"team_id,omitempty"`
	IsCreator bool      `json:"is_creator"`
	JoinedAt  time.Time `json:"joined_at"`
}

// AssignToTeam records the player's team.
func (p *Player) AssignToTeam(teamID string) {
	p.TeamID = teamID
}

// RemoveFromTeam clears the player's team.
func (p *Player) RemoveFromTeam() {
	p.TeamID = ""
}

// UpdateSocketID points the player at a new transport connection.
func (p *Player) UpdateSocketID(socketID string) {
	p.SocketID = socketID
}

// HasTeam reports whether the player is assigned to a team.
func (p *Player) HasTeam() bool {
	return p.TeamID != ""
}
