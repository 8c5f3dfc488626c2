package game

import "github.com/slopgame/slop/models"

// ScoringPolicy sets the points awarded when a round is scored.
type ScoringPolicy struct {
	// PromptGuessPoints go to the team whose prompt guess was accepted.
	PromptGuessPoints int `mapstructure:"prompt_guess_points"`
	// ActingTeamPoints go to the acting team when any guess was accepted.
	ActingTeamPoints int `mapstructure:"acting_team_points"`
	// PersonalityPoints go to the acting team for a correct personality guess.
	PersonalityPoints int `mapstructure:"personality_points"`
}

// DefaultScoring awards one point for each achievement.
func DefaultScoring() ScoringPolicy {
	return ScoringPolicy{PromptGuessPoints: 1, ActingTeamPoints: 1, PersonalityPoints: 1}
}

// Deltas returns the per-team point changes for a round. Zero deltas are
// left out.
func (p ScoringPolicy) Deltas(r *models.Round) map[string]int {
	out := map[string]int{}
	if r.HasWinner() {
		out[r.PromptWinnerTeamID] += p.PromptGuessPoints
		out[r.ActingTeamID] += p.ActingTeamPoints
	}
	if r.PersonalityCorrect {
		out[r.ActingTeamID] += p.PersonalityPoints
	}
	for team, delta := range out {
		if delta == 0 {
			delete(out, team)
		}
	}
	return out
}
