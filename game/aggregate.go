// Package game is the command side of a game: it validates intents against
// the current projection and decides which events to emit.
//
// Commands are atomic. A successful command returns the events it produced,
// already folded into the aggregate. A rejected command returns an *Error and
// leaves the aggregate untouched.
package game

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/models"
	"github.com/slopgame/slop/projection"
	"github.com/slopgame/slop/state"
)

// Aggregate owns one game's projected state. It is not safe for concurrent
// use; callers serialize commands per game.
type Aggregate struct {
	game    *models.Game
	catalog *models.PersonalityCatalog
	scoring ScoringPolicy
	now     func() time.Time
	newID   func() string
}

// Option configures an Aggregate.
type Option func(*Aggregate)

// WithClock sets the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregate) { a.now = now }
}

// WithIDGenerator sets the generator used for event ids.
func WithIDGenerator(newID func() string) Option {
	return func(a *Aggregate) { a.newID = newID }
}

// WithCatalog sets the personalities that may be assigned and guessed.
func WithCatalog(c *models.PersonalityCatalog) Option {
	return func(a *Aggregate) { a.catalog = c }
}

// WithScoring sets the scoring policy.
func WithScoring(p ScoringPolicy) Option {
	return func(a *Aggregate) { a.scoring = p }
}

func newAggregate(opts []Option) *Aggregate {
	a := &Aggregate{
		scoring: DefaultScoring(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.catalog == nil {
		a.catalog, _ = models.NewPersonalityCatalog(models.DefaultPersonalities()...)
	}
	return a
}

// Load wraps an already projected game. The aggregate takes ownership of g.
func Load(g *models.Game, opts ...Option) *Aggregate {
	a := newAggregate(opts)
	a.game = g
	return a
}

// Create validates the settings and opens a new game's log.
func Create(gameID, roomCode string, settings models.GameSettings, opts ...Option) (*Aggregate, []events.Event, error) {
	a := newAggregate(opts)
	if gameID == "" {
		return nil, nil, Reject(CodeInvalidInput, "game id is required")
	}
	if settings.RoundsPerTeam <= 0 {
		return nil, nil, Reject(CodeInvalidInput, "rounds per team must be positive, got %d", settings.RoundsPerTeam)
	}
	if settings.MaxPlayersPerTeam <= 0 {
		return nil, nil, Reject(CodeInvalidInput, "max players per team must be positive, got %d", settings.MaxPlayersPerTeam)
	}
	if settings.GuessTimerSeconds < 0 {
		return nil, nil, Reject(CodeInvalidInput, "guess timer must not be negative")
	}
	if _, err := models.ParseContentTone(string(settings.ContentTone)); err != nil {
		return nil, nil, fromModel(err)
	}
	if _, err := models.NewGame(gameID, roomCode, settings, a.now()); err != nil {
		return nil, nil, fromModel(err)
	}
	evt := events.GameCreated{
		Meta:              events.Meta{EventID: a.newID(), GameID: gameID, Timestamp: a.now().UTC()},
		RoomCode:          roomCode,
		ContentTone:       string(settings.ContentTone),
		MaxPlayers:        settings.MaxPlayersPerTeam,
		RoundsPerTeam:     settings.RoundsPerTeam,
		GuessTimerSeconds: settings.GuessTimerSeconds,
	}
	g, err := projection.Apply(nil, evt)
	if err != nil {
		return nil, nil, Wrap(CodeInternal, err, "apply GameCreated")
	}
	a.game = g
	return a, []events.Event{evt}, nil
}

// Game returns a copy of the current projection.
func (a *Aggregate) Game() *models.Game {
	return a.game.Clone()
}

// ID returns the game id.
func (a *Aggregate) ID() string { return a.game.ID }

// RoomCode returns the game's room code.
func (a *Aggregate) RoomCode() string { return a.game.RoomCode }

// Status returns the lifecycle status.
func (a *Aggregate) Status() models.GameStatus { return a.game.Status }

// Version returns the number of events folded into the aggregate.
func (a *Aggregate) Version() int { return a.game.Version }

// Catalog returns the personality catalog used by this aggregate.
func (a *Aggregate) Catalog() *models.PersonalityCatalog { return a.catalog }

// Settings returns the game's settings.
func (a *Aggregate) Settings() models.GameSettings { return a.game.Settings }

// Player returns a copy of one player.
func (a *Aggregate) Player(playerID string) (models.Player, error) {
	p, err := a.game.Player(playerID)
	if err != nil {
		return models.Player{}, fromModel(err)
	}
	return *p, nil
}

// ActiveRound returns a copy of the round in progress.
func (a *Aggregate) ActiveRound() (*models.Round, bool) {
	r, ok := a.game.ActiveRound()
	if !ok {
		return nil, false
	}
	c := a.game.Clone()
	cr, _ := c.Round(r.Number)
	return cr, true
}

func (a *Aggregate) meta() events.Meta {
	return events.Meta{EventID: a.newID(), GameID: a.game.ID, Timestamp: a.now().UTC()}
}

// commit folds evts into a copy of the game and swaps it in only when every
// event applied.
func (a *Aggregate) commit(evts ...events.Event) ([]events.Event, error) {
	next := a.game.Clone()
	for _, evt := range evts {
		if _, err := projection.Apply(next, evt); err != nil {
			return nil, Wrap(CodeInternal, err, fmt.Sprintf("apply %s", evt.EventType()))
		}
	}
	a.game = next
	return evts, nil
}

func (a *Aggregate) requireNotFinished() error {
	if a.game.Status == models.StatusFinished {
		return Reject(CodeInvalidTransition, "game %s is finished", a.game.ID)
	}
	return nil
}

func (a *Aggregate) requireBeforePlay(action string) error {
	switch a.game.Status {
	case models.StatusLobby, models.StatusPersonalitySelection:
		return nil
	}
	return Reject(CodeInvalidTransition, "cannot %s once play has started, status is %s", action, a.game.Status)
}

func (a *Aggregate) transition(to models.GameStatus) error {
	if err := state.ForGame(a.game).Check(to); err != nil {
		return Wrap(CodeInvalidTransition, err, fmt.Sprintf("cannot move to %s", to))
	}
	return nil
}

// AddPlayer admits a player to the game.
func (a *Aggregate) AddPlayer(playerID, name, socketID string, isCreator bool) ([]events.Event, error) {
	if err := a.requireNotFinished(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if playerID == "" || name == "" {
		return nil, Reject(CodeInvalidInput, "player id and name are required")
	}
	if _, err := a.game.Player(playerID); err == nil {
		return nil, Reject(CodeDuplicate, "player %s already in game", playerID)
	}
	return a.commit(events.PlayerJoined{
		Meta:       a.meta(),
		PlayerID:   playerID,
		PlayerName: name,
		SocketID:   socketID,
		IsCreator:  isCreator,
	})
}

// Reconnect binds an existing player to a new socket.
func (a *Aggregate) Reconnect(playerID, socketID string) ([]events.Event, error) {
	p, err := a.game.Player(playerID)
	if err != nil {
		return nil, fromModel(err)
	}
	if socketID == "" {
		return nil, Reject(CodeInvalidInput, "socket id is required")
	}
	if p.SocketID == socketID {
		return nil, nil
	}
	return a.commit(events.PlayerReconnected{Meta: a.meta(), PlayerID: playerID, SocketID: socketID})
}

// RemovePlayer removes a player. Their past round data is kept.
func (a *Aggregate) RemovePlayer(playerID string) ([]events.Event, error) {
	if err := a.requireNotFinished(); err != nil {
		return nil, err
	}
	if _, err := a.game.Player(playerID); err != nil {
		return nil, fromModel(err)
	}
	return a.commit(events.PlayerLeft{Meta: a.meta(), PlayerID: playerID})
}

// AddTeam forms a new team. Teams are fixed once play starts: every team
// needs a personality and a place in the rotation.
func (a *Aggregate) AddTeam(teamID, name, color string) ([]events.Event, error) {
	if err := a.requireBeforePlay("form a team"); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if teamID == "" || name == "" {
		return nil, Reject(CodeInvalidInput, "team id and name are required")
	}
	if _, err := a.game.Team(teamID); err == nil {
		return nil, Reject(CodeDuplicate, "team %s already exists", teamID)
	}
	return a.commit(events.TeamFormed{Meta: a.meta(), TeamID: teamID, TeamName: name, Color: color})
}

// RemoveTeam disbands a team. Like AddTeam it is refused once play starts,
// since rounds reference teams by id and the rotation indexes the team list.
func (a *Aggregate) RemoveTeam(teamID string) ([]events.Event, error) {
	if err := a.requireBeforePlay("remove a team"); err != nil {
		return nil, err
	}
	if _, err := a.game.Team(teamID); err != nil {
		return nil, fromModel(err)
	}
	return a.commit(events.TeamDisbanded{Meta: a.meta(), TeamID: teamID})
}

// JoinTeam moves a player onto a team. Joining the player's current team is
// a no-op.
func (a *Aggregate) JoinTeam(playerID, teamID string) ([]events.Event, error) {
	if err := a.requireNotFinished(); err != nil {
		return nil, err
	}
	p, err := a.game.Player(playerID)
	if err != nil {
		return nil, fromModel(err)
	}
	team, err := a.game.Team(teamID)
	if err != nil {
		return nil, fromModel(err)
	}
	if p.TeamID == teamID {
		return nil, nil
	}
	if team.IsFull() {
		return nil, Reject(CodeTeamFull, "team %s is full (max %d players)", teamID, team.MaxPlayers)
	}
	if r, ok := a.game.ActiveRound(); ok && r.ActingTeamID == p.TeamID && r.HasScript() {
		return nil, Reject(CodeInvalidTransition, "player %s is performing in round %d", playerID, r.Number)
	}
	return a.commit(events.PlayerJoinedTeam{Meta: a.meta(), PlayerID: playerID, TeamID: teamID})
}

// StartGame closes the lobby and opens personality selection.
func (a *Aggregate) StartGame() ([]events.Event, error) {
	if a.game.Status != models.StatusLobby {
		return nil, Reject(CodeInvalidTransition, "game can only be started from the lobby, status is %s", a.game.Status)
	}
	if err := a.transition(models.StatusPersonalitySelection); err != nil {
		return nil, err
	}
	return a.commit(events.GameStarted{Meta: a.meta()})
}

// AssignPersonality records the personality one team picks for another.
func (a *Aggregate) AssignPersonality(teamID, personalityID, assignedByTeamID string) ([]events.Event, error) {
	if a.game.Status != models.StatusPersonalitySelection {
		return nil, Reject(CodeInvalidTransition, "personalities are assigned during personality selection, status is %s", a.game.Status)
	}
	target, err := a.game.Team(teamID)
	if err != nil {
		return nil, fromModel(err)
	}
	if _, err := a.game.Team(assignedByTeamID); err != nil {
		return nil, fromModel(err)
	}
	if teamID == assignedByTeamID {
		return nil, Reject(CodeInvalidInput, "team %s cannot choose its own personality", teamID)
	}
	if target.HasPersonality() {
		return nil, Reject(CodeAlreadyAssigned, "team %s already has personality %s", teamID, target.AssignedPersonality)
	}
	if _, ok := a.catalog.Get(personalityID); !ok {
		return nil, Reject(CodeNotFound, "unknown personality %q", personalityID)
	}
	return a.commit(events.PersonalityAssigned{
		Meta:             a.meta(),
		TeamID:           teamID,
		PersonalityID:    personalityID,
		AssignedByTeamID: assignedByTeamID,
	})
}

// StartRound opens the current round once every team has a personality.
func (a *Aggregate) StartRound() ([]events.Event, error) {
	g := a.game
	switch g.Status {
	case models.StatusPersonalitySelection:
		if err := a.transition(models.StatusPlaying); err != nil {
			return nil, err
		}
		for _, t := range g.Teams {
			if !t.HasPersonality() {
				return nil, Reject(CodeInvalidTransition, "team %s has no personality yet", t.ID)
			}
		}
	case models.StatusPlaying:
	default:
		return nil, Reject(CodeInvalidTransition, "cannot start a round while %s", g.Status)
	}
	if g.IsComplete() {
		return nil, Reject(CodeInvalidTransition, "all %d rounds have been played", g.TotalRounds())
	}
	if _, err := g.Round(g.CurrentRound); err == nil {
		return nil, Reject(CodeInvalidTransition, "round %d already started", g.CurrentRound)
	}
	acting, err := g.ActingTeamFor(g.CurrentRound)
	if err != nil {
		return nil, fromModel(err)
	}
	return a.commit(events.RoundStarted{Meta: a.meta(), RoundNumber: g.CurrentRound, ActingTeamID: acting.ID})
}

func (a *Aggregate) activeRound() (*models.Round, error) {
	if a.game.Status != models.StatusPlaying {
		return nil, Reject(CodeInvalidTransition, "no round in progress, status is %s", a.game.Status)
	}
	r, ok := a.game.ActiveRound()
	if !ok {
		return nil, Reject(CodeInvalidTransition, "no round in progress")
	}
	return r, nil
}

// SubmitPrompt records the acting team's secret prompt.
func (a *Aggregate) SubmitPrompt(playerID, prompt string) ([]events.Event, error) {
	r, err := a.activeRound()
	if err != nil {
		return nil, err
	}
	if r.HasPrompt() {
		return nil, Reject(CodeAlreadySubmitted, "round %d already has a prompt", r.Number)
	}
	p, err := a.game.Player(playerID)
	if err != nil {
		return nil, fromModel(err)
	}
	if p.TeamID != r.ActingTeamID {
		return nil, Reject(CodeNotActingTeam, "player %s is not on acting team %s", playerID, r.ActingTeamID)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, Reject(CodeInvalidInput, "prompt is required")
	}
	return a.commit(events.PromptSubmitted{Meta: a.meta(), RoundNumber: r.Number, Prompt: prompt, SubmittedBy: playerID})
}

// AssignRoles maps the acting team's roster, in order, onto the script's
// roles, index for index.
func (a *Aggregate) AssignRoles() ([]events.Event, error) {
	r, err := a.activeRound()
	if err != nil {
		return nil, err
	}
	if !r.HasScript() {
		return nil, Reject(CodeInvalidTransition, "round %d has no script yet", r.Number)
	}
	if len(r.RoleAssignments) > 0 {
		return nil, Reject(CodeAlreadyAssigned, "roles for round %d are already assigned", r.Number)
	}
	team, err := a.game.Team(r.ActingTeamID)
	if err != nil {
		return nil, fromModel(err)
	}
	if team.Size() != r.Script.RoleCount() {
		return nil, Reject(CodeRoleCountMismatch, "team %s has %d players for %d roles", team.ID, team.Size(), r.Script.RoleCount())
	}
	evts := make([]events.Event, 0, team.Size())
	for i, playerID := range team.PlayerIDs {
		index := i
		role := r.Script.Roles[i]
		evts = append(evts, events.RoleAssigned{
			Meta:                 a.meta(),
			RoundNumber:          r.Number,
			PlayerID:             playerID,
			RoleIndex:            &index,
			RoleName:             role.Name,
			CharacterDescription: role.Description,
		})
	}
	return a.commit(evts...)
}

// SubmitGuess records a guessing team's attempt at the prompt.
func (a *Aggregate) SubmitGuess(teamID, guess string) ([]events.Event, error) {
	r, err := a.activeRound()
	if err != nil {
		return nil, err
	}
	if _, err := a.game.Team(teamID); err != nil {
		return nil, fromModel(err)
	}
	if teamID == r.ActingTeamID {
		return nil, Reject(CodeActingTeamCannotGuess, "team %s is acting in round %d", teamID, r.Number)
	}
	if !r.HasScript() {
		return nil, Reject(CodeInvalidTransition, "round %d has no script yet", r.Number)
	}
	if r.HasWinner() {
		return nil, Reject(CodeAlreadyWon, "round %d was already won by %s", r.Number, r.PromptWinnerTeamID)
	}
	guess = strings.TrimSpace(guess)
	if guess == "" {
		return nil, Reject(CodeInvalidInput, "guess is required")
	}
	return a.commit(events.GuessSubmitted{Meta: a.meta(), RoundNumber: r.Number, TeamID: teamID, Guess: guess})
}

// AcceptGuess marks a team's latest guess as correct. Only the first
// acceptance in a round counts.
func (a *Aggregate) AcceptGuess(teamID string) ([]events.Event, error) {
	r, err := a.activeRound()
	if err != nil {
		return nil, err
	}
	if r.HasWinner() {
		return nil, Reject(CodeAlreadyWon, "round %d was already won by %s", r.Number, r.PromptWinnerTeamID)
	}
	if _, err := a.game.Team(teamID); err != nil {
		return nil, fromModel(err)
	}
	if !r.HasGuessFrom(teamID) {
		return nil, Reject(CodeNotFound, "team %s has not guessed in round %d", teamID, r.Number)
	}
	return a.commit(events.GuessAccepted{Meta: a.meta(), RoundNumber: r.Number, TeamID: teamID})
}

// SubmitPersonalityGuess records the acting team's guess at its own
// personality. One guess per round.
func (a *Aggregate) SubmitPersonalityGuess(playerID, personalityID string) ([]events.Event, error) {
	r, err := a.activeRound()
	if err != nil {
		return nil, err
	}
	p, err := a.game.Player(playerID)
	if err != nil {
		return nil, fromModel(err)
	}
	if p.TeamID != r.ActingTeamID {
		return nil, Reject(CodeNotActingTeam, "player %s is not on acting team %s", playerID, r.ActingTeamID)
	}
	if !r.HasScript() {
		return nil, Reject(CodeInvalidTransition, "round %d has no script yet", r.Number)
	}
	if r.PersonalityGuess != "" {
		return nil, Reject(CodeAlreadySubmitted, "round %d already has a personality guess", r.Number)
	}
	if _, ok := a.catalog.Get(personalityID); !ok {
		return nil, Reject(CodeNotFound, "unknown personality %q", personalityID)
	}
	return a.commit(events.PersonalityGuessSubmitted{Meta: a.meta(), RoundNumber: r.Number, PersonalityGuess: personalityID})
}

// ScoreRound closes the active round: one ScoresUpdated with the policy's
// deltas, then the RoundCompleted checkpoint with the resulting totals.
func (a *Aggregate) ScoreRound() ([]events.Event, error) {
	r, err := a.activeRound()
	if err != nil {
		return nil, err
	}
	if !r.HasScript() {
		return nil, Reject(CodeInvalidTransition, "round %d has no script yet", r.Number)
	}
	deltas := a.scoring.Deltas(r)
	totals := a.game.Scores()
	for teamID, delta := range deltas {
		if _, ok := totals[teamID]; !ok {
			return nil, Reject(CodeNotFound, "scored team %s is no longer in the game", teamID)
		}
		totals[teamID] += delta
	}
	return a.commit(
		events.NewScoresUpdated(a.meta(), r.Number, deltas),
		events.NewRoundCompleted(a.meta(), r.Number, totals),
	)
}

// AdvanceOrFinish starts the next round, or completes the game after the
// last one. The winner is the team with strictly the highest score.
func (a *Aggregate) AdvanceOrFinish() ([]events.Event, error) {
	g := a.game
	if g.Status != models.StatusPlaying {
		return nil, Reject(CodeInvalidTransition, "cannot advance while %s", g.Status)
	}
	r, err := g.Round(g.CurrentRound)
	if err != nil || !r.Completed {
		return nil, Reject(CodeInvalidTransition, "round %d is not completed", g.CurrentRound)
	}
	if g.CurrentRound+1 >= g.TotalRounds() {
		if err := a.transition(models.StatusFinished); err != nil {
			return nil, err
		}
		winner, ok := g.Leader()
		return a.commit(events.NewGameCompleted(a.meta(), g.Scores(), winner, ok))
	}
	next := g.CurrentRound + 1
	acting, err := g.ActingTeamFor(next)
	if err != nil {
		return nil, fromModel(err)
	}
	return a.commit(events.RoundStarted{Meta: a.meta(), RoundNumber: next, ActingTeamID: acting.ID})
}

// CanDelete reports whether the game may be deleted. Unfinished games need
// force.
func (a *Aggregate) CanDelete(force bool) error {
	if force || a.game.Status == models.StatusFinished {
		return nil
	}
	return Reject(CodeInvalidTransition, "game %s is %s; deleting an unfinished game needs force", a.game.ID, a.game.Status)
}

// IsReplayFailure reports whether err came from folding an inconsistent
// history.
func IsReplayFailure(err error) bool {
	var re *projection.ReplayError
	return errors.As(err, &re) || errors.Is(err, projection.ErrReplayInvariant)
}
