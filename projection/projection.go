// Package projection folds a game's event log into a materialized Game.
//
// Projection is a pure function of its input: the same snapshot and event
// sequence always produce the same Game. Inconsistent history is a fatal
// error for that game's recovery and is never skipped.
package projection

import (
	"errors"
	"fmt"
	"maps"

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/models"
	"github.com/slopgame/slop/state"
)

var (
	// ErrInvalidEventOrder is returned when GameCreated is not the first
	// event, appears twice, or an event targets another game.
	ErrInvalidEventOrder = errors.New("invalid event order")
	// ErrReplayInvariant is returned when an event would break an aggregate
	// invariant, which means the stored history is corrupt.
	ErrReplayInvariant = errors.New("replay invariant violated")
)

// ReplayError locates the event that failed to apply.
type ReplayError struct {
	Index     int
	EventID   string
	EventType events.Type
	Err       error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay event %d (%s %s): %v", e.Index, e.EventType, e.EventID, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }

// Result is the outcome of a replay.
type Result struct {
	Game *models.Game
	// Checkpoint is a copy of the game as of the last RoundCompleted event
	// in the replayed sequence, or nil when there was none.
	Checkpoint *models.Game
	Applied    int
}

// Project folds evts onto a copy of snapshot (nil to start from nothing)
// and returns the resulting game. The snapshot is never modified.
func Project(snapshot *models.Game, evts []events.Event) (*models.Game, error) {
	res, err := Replay(snapshot, evts)
	if err != nil {
		return nil, err
	}
	return res.Game, nil
}

// Replay is Project plus checkpoint capture.
func Replay(snapshot *models.Game, evts []events.Event) (Result, error) {
	var g *models.Game
	if snapshot != nil {
		g = snapshot.Clone()
	}
	res := Result{}
	for i, evt := range evts {
		next, err := apply(g, evt)
		if err != nil {
			return Result{}, &ReplayError{Index: i, EventID: evt.Header().EventID, EventType: evt.EventType(), Err: err}
		}
		g = next
		res.Applied++
		if _, ok := evt.(events.RoundCompleted); ok {
			res.Checkpoint = g.Clone()
		}
	}
	if g == nil {
		return Result{}, fmt.Errorf("%w: no GameCreated event", ErrInvalidEventOrder)
	}
	res.Game = g
	return res, nil
}

// Apply folds a single event into g in place. g is nil only for GameCreated,
// which returns the new game. Callers that need atomicity apply to a clone.
func Apply(g *models.Game, evt events.Event) (*models.Game, error) {
	return apply(g, evt)
}

func apply(g *models.Game, evt events.Event) (*models.Game, error) {
	if created, ok := evt.(events.GameCreated); ok {
		if g != nil {
			return nil, fmt.Errorf("%w: game %s already created", ErrInvalidEventOrder, g.ID)
		}
		return applyGameCreated(created)
	}
	if g == nil {
		return nil, fmt.Errorf("%w: %s before GameCreated", ErrInvalidEventOrder, evt.EventType())
	}
	if gid := evt.Header().GameID; gid != g.ID {
		return nil, fmt.Errorf("%w: event for game %s applied to %s", ErrInvalidEventOrder, gid, g.ID)
	}

	var err error
	switch e := evt.(type) {
	case events.GameStarted:
		err = transition(g, models.StatusPersonalitySelection)
	case events.PlayerJoined:
		err = g.AddPlayer(&models.Player{
			ID:        e.PlayerID,
			Name:      e.PlayerName,
			SocketID:  e.SocketID,
			IsCreator: e.IsCreator,
			JoinedAt:  e.Timestamp.UTC(),
		})
		err = invariant(err)
	case events.PlayerReconnected:
		var p *models.Player
		if p, err = g.Player(e.PlayerID); err == nil {
			p.UpdateSocketID(e.SocketID)
		}
	case events.PlayerLeft:
		err = g.RemovePlayer(e.PlayerID)
	case events.TeamFormed:
		err = invariant(g.AddTeam(models.NewTeam(e.TeamID, e.TeamName, e.Color, g.Settings.MaxPlayersPerTeam)))
	case events.TeamDisbanded:
		err = g.RemoveTeam(e.TeamID)
	case events.PlayerJoinedTeam:
		err = g.MovePlayerToTeam(e.PlayerID, e.TeamID)
		if errors.Is(err, models.ErrTeamFull) {
			err = invariant(err)
		}
	case events.PersonalityAssigned:
		err = applyPersonalityAssigned(g, e)
	case events.RoundStarted:
		err = applyRoundStarted(g, e)
	case events.PromptSubmitted:
		err = withRound(g, e.RoundNumber, func(r *models.Round) error {
			r.SubmitPrompt(e.Prompt, e.SubmittedBy)
			return nil
		})
	case events.ScriptGenerated:
		err = withRound(g, e.RoundNumber, func(r *models.Round) error {
			return applyScriptGenerated(r, e)
		})
	case events.RoleAssigned:
		err = withRound(g, e.RoundNumber, func(r *models.Round) error {
			return applyRoleAssigned(r, e)
		})
	case events.GuessSubmitted:
		err = withRound(g, e.RoundNumber, func(r *models.Round) error {
			if _, err := g.Team(e.TeamID); err != nil {
				return err
			}
			r.AddGuess(models.Guess{TeamID: e.TeamID, Text: e.Guess, Timestamp: e.Timestamp.Unix()})
			return nil
		})
	case events.GuessAccepted:
		err = withRound(g, e.RoundNumber, func(r *models.Round) error {
			if r.HasWinner() {
				return invariant(fmt.Errorf("round %d already won by %s", r.Number, r.PromptWinnerTeamID))
			}
			return r.AcceptGuess(e.TeamID)
		})
	case events.PersonalityGuessSubmitted:
		err = withRound(g, e.RoundNumber, func(r *models.Round) error {
			r.SetPersonalityGuess(e.PersonalityGuess)
			return nil
		})
	case events.ScoresUpdated:
		err = applyScoresUpdated(g, e)
	case events.RoundCompleted:
		err = applyRoundCompleted(g, e)
	case events.GameCompleted:
		err = applyGameCompleted(g, e)
	default:
		err = fmt.Errorf("%w: %q", events.ErrUnknownEventType, evt.EventType())
	}
	if err != nil {
		return nil, err
	}
	g.Version++
	return g, nil
}

func applyGameCreated(e events.GameCreated) (*models.Game, error) {
	tone, err := models.ParseContentTone(e.ContentTone)
	if err != nil {
		return nil, invariant(err)
	}
	settings := models.GameSettings{
		RoundsPerTeam:     e.RoundsPerTeam,
		GuessTimerSeconds: e.GuessTimerSeconds,
		MaxPlayersPerTeam: e.MaxPlayers,
		ContentTone:       tone,
	}
	if settings.GuessTimerSeconds == 0 {
		settings.GuessTimerSeconds = models.DefaultGuessTimerSeconds
	}
	if settings.MaxPlayersPerTeam <= 0 {
		settings.MaxPlayersPerTeam = models.DefaultTeamCapacity
	}
	g, err := models.NewGame(e.GameID, e.RoomCode, settings, e.Timestamp)
	if err != nil {
		return nil, invariant(err)
	}
	g.Version = 1
	return g, nil
}

func applyPersonalityAssigned(g *models.Game, e events.PersonalityAssigned) error {
	team, err := g.Team(e.TeamID)
	if err != nil {
		return err
	}
	if _, err := g.Team(e.AssignedByTeamID); err != nil {
		return err
	}
	if e.TeamID == e.AssignedByTeamID {
		return invariant(fmt.Errorf("team %s assigned its own personality", e.TeamID))
	}
	team.AssignPersonality(e.PersonalityID, e.AssignedByTeamID)
	return nil
}

func applyRoundStarted(g *models.Game, e events.RoundStarted) error {
	if err := transition(g, models.StatusPlaying); err != nil {
		return err
	}
	if _, err := g.Team(e.ActingTeamID); err != nil {
		return err
	}
	if e.RoundNumber < 0 || e.RoundNumber >= g.TotalRounds() {
		return invariant(fmt.Errorf("round %d outside 0..%d", e.RoundNumber, g.TotalRounds()-1))
	}
	if _, err := g.Round(e.RoundNumber); err == nil {
		return invariant(fmt.Errorf("round %d started twice", e.RoundNumber))
	}
	g.Rounds = append(g.Rounds, models.NewRound(e.EventID, e.RoundNumber, e.ActingTeamID, e.Timestamp))
	g.CurrentRound = e.RoundNumber
	return nil
}

func applyScriptGenerated(r *models.Round, e events.ScriptGenerated) error {
	roles := make([]models.Role, len(e.Roles))
	for i, rp := range e.Roles {
		roles[i] = models.Role{Name: rp.Name, Description: rp.Description, Lines: rp.Lines}
	}
	script, err := models.NewScript(e.ScriptContent, roles, e.PersonalityID, e.WordCount, e.EstimatedDuration, e.Timestamp)
	if err != nil {
		return invariant(err)
	}
	r.AttachScript(script)
	return nil
}

func applyRoleAssigned(r *models.Round, e events.RoleAssigned) error {
	if r.Script == nil {
		return invariant(models.ErrNoScript)
	}
	if _, taken := r.RoleAssignments[e.PlayerID]; taken {
		return invariant(fmt.Errorf("player %s already has a role in round %d", e.PlayerID, r.Number))
	}
	index := -1
	if e.RoleIndex != nil {
		index = *e.RoleIndex
		if index < 0 || index >= len(r.Script.Roles) || r.Script.Roles[index].Name != e.RoleName {
			return invariant(fmt.Errorf("role %d of round %d script is not %q", index, r.Number, e.RoleName))
		}
	} else {
		for i, role := range r.Script.Roles {
			if role.Name == e.RoleName && roleHolder(r, i) == "" {
				index = i
				break
			}
		}
		if index < 0 {
			return invariant(fmt.Errorf("no unassigned role %q in round %d script", e.RoleName, r.Number))
		}
	}
	if holder := roleHolder(r, index); holder != "" {
		return invariant(fmt.Errorf("role %d of round %d is already played by %s", index, r.Number, holder))
	}
	return invariant(r.AssignRole(e.PlayerID, index))
}

func roleHolder(r *models.Round, index int) string {
	for playerID, i := range r.RoleAssignments {
		if i == index {
			return playerID
		}
	}
	return ""
}

func applyScoresUpdated(g *models.Game, e events.ScoresUpdated) error {
	r, err := g.Round(e.RoundNumber)
	if err != nil {
		return err
	}
	if r.Completed {
		return invariant(fmt.Errorf("round %d already completed", r.Number))
	}
	// Resolve every team before touching any score so a dangling id leaves
	// the game unchanged.
	teams := make(map[string]*models.Team, len(e.ScoreChanges))
	for teamID := range e.ScoreChanges {
		t, err := g.Team(teamID)
		if err != nil {
			return err
		}
		teams[teamID] = t
	}
	for teamID, delta := range e.ScoreChanges {
		teams[teamID].AddScore(delta)
		r.AddScore(teamID, delta)
	}
	return nil
}

func applyRoundCompleted(g *models.Game, e events.RoundCompleted) error {
	r, err := g.Round(e.RoundNumber)
	if err != nil {
		return err
	}
	if live := g.Scores(); !maps.Equal(live, e.FinalScores) {
		return invariant(fmt.Errorf("round %d checkpoint scores %v differ from live scores %v", e.RoundNumber, e.FinalScores, live))
	}
	r.Completed = true
	return nil
}

func applyGameCompleted(g *models.Game, e events.GameCompleted) error {
	if err := transition(g, models.StatusFinished); err != nil {
		return err
	}
	winner, ok := e.Winner()
	if ok {
		if _, err := g.Team(winner); err != nil {
			return err
		}
	}
	g.WinnerTeamID = winner
	return nil
}

func withRound(g *models.Game, number int, fn func(*models.Round) error) error {
	r, err := g.Round(number)
	if err != nil {
		return err
	}
	if r.Completed {
		return invariant(fmt.Errorf("round %d already completed", number))
	}
	return fn(r)
}

func transition(g *models.Game, to models.GameStatus) error {
	if !state.Allowed(g.Status, to) {
		return invariant(fmt.Errorf("%w: %s -> %s", state.ErrTransitionNotAllowed, g.Status, to))
	}
	g.Status = to
	return nil
}

func invariant(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrReplayInvariant, err)
}
