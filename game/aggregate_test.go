package game

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/models"
	"github.com/slopgame/slop/projection"
)

var clock = time.Date(2026, 7, 8, 9, 10, 11, 0, time.UTC)

func testOptions() []Option {
	n := 0
	return []Option{
		WithClock(func() time.Time { return clock }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("evt-%03d", n)
		}),
	}
}

type stubGenerator struct {
	script *models.Script
	err    error
	calls  int
	roles  int
}

func (s *stubGenerator) GenerateScript(ctx context.Context, prompt string, p models.Personality, numRoles int, tone models.ContentTone) (*models.Script, error) {
	s.calls++
	s.roles = numRoles
	if s.err != nil {
		return nil, s.err
	}
	if s.script != nil {
		return s.script, nil
	}
	roles := make([]models.Role, numRoles)
	for i := range roles {
		roles[i] = models.Role{Name: fmt.Sprintf("Role %d", i+1), Description: "someone", Lines: []string{"line"}}
	}
	return models.NewScript("it was a dark and stormy night", roles, p.ID, 0, 0, clock)
}

// recorder keeps every event emitted so tests can replay the log.
type recorder struct {
	t   *testing.T
	log []events.Event
}

func (r *recorder) ok(evts []events.Event, err error) []events.Event {
	r.t.Helper()
	require.NoError(r.t, err)
	r.log = append(r.log, evts...)
	return evts
}

func settings(roundsPerTeam int) models.GameSettings {
	s := models.DefaultSettings()
	s.RoundsPerTeam = roundsPerTeam
	return s
}

// lobby creates a game with two teams of two players each.
func lobby(t *testing.T, roundsPerTeam int) (*Aggregate, *recorder) {
	t.Helper()
	agg, evts, err := Create("game-1", "ABCD", settings(roundsPerTeam), testOptions()...)
	require.NoError(t, err)
	rec := &recorder{t: t, log: evts}

	rec.ok(agg.AddPlayer("p1", "Ada", "s1", true))
	rec.ok(agg.AddPlayer("p2", "Bo", "s2", false))
	rec.ok(agg.AddPlayer("p3", "Cy", "s3", false))
	rec.ok(agg.AddPlayer("p4", "Di", "s4", false))
	rec.ok(agg.AddTeam("t1", "Red", "#f00"))
	rec.ok(agg.AddTeam("t2", "Blue", "#00f"))
	rec.ok(agg.JoinTeam("p1", "t1"))
	rec.ok(agg.JoinTeam("p2", "t1"))
	rec.ok(agg.JoinTeam("p3", "t2"))
	rec.ok(agg.JoinTeam("p4", "t2"))
	return agg, rec
}

// playing advances a lobby to the first round with personalities assigned.
func playing(t *testing.T, roundsPerTeam int) (*Aggregate, *recorder) {
	t.Helper()
	agg, rec := lobby(t, roundsPerTeam)
	rec.ok(agg.StartGame())
	rec.ok(agg.AssignPersonality("t1", "noir", "t2"))
	rec.ok(agg.AssignPersonality("t2", "shakespeare", "t1"))
	rec.ok(agg.StartRound())
	return agg, rec
}

// performed runs the acting team through prompt, script and roles.
func performed(t *testing.T, agg *Aggregate, rec *recorder, submitter string) {
	t.Helper()
	rec.ok(agg.SubmitPrompt(submitter, "a cat runs for mayor"))
	rec.ok(agg.RequestScript(context.Background(), &stubGenerator{}))
	rec.ok(agg.AssignRoles())
}

func TestCreate_ValidatesSettings(t *testing.T) {
	bad := settings(0)
	_, _, err := Create("g", "ABCD", bad)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = Create("g", "AB", settings(1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	tone := settings(1)
	tone.ContentTone = "spicy"
	_, _, err = Create("g", "ABCD", tone)
	assert.ErrorIs(t, err, ErrInvalidInput)

	agg, evts, err := Create("g", "ABCD", settings(2), testOptions()...)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	created := evts[0].(events.GameCreated)
	assert.Equal(t, "ABCD", created.RoomCode)
	assert.Equal(t, 2, created.RoundsPerTeam)
	assert.Equal(t, clock, created.Timestamp)
	assert.Equal(t, models.StatusLobby, agg.Status())
	assert.Equal(t, 1, agg.Version())
}

func TestStartGame_RequiresTwoTeams(t *testing.T) {
	agg, _, err := Create("g", "ABCD", settings(1), testOptions()...)
	require.NoError(t, err)
	_, err = agg.AddTeam("t1", "Red", "")
	require.NoError(t, err)

	before := agg.Game()
	evts, err := agg.StartGame()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, evts)
	assert.Equal(t, before, agg.Game(), "rejected command changes nothing")
}

func TestStartGame_OnlyFromLobby(t *testing.T) {
	agg, rec := lobby(t, 1)
	rec.ok(agg.StartGame())
	_, err := agg.StartGame()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJoinTeam_Capacity(t *testing.T) {
	agg, rec := lobby(t, 1)
	rec.ok(agg.AddPlayer("p5", "Ed", "s5", false))
	rec.ok(agg.JoinTeam("p5", "t1"))
	rec.ok(agg.AddPlayer("p6", "Fi", "s6", false))

	_, err := agg.JoinTeam("p6", "t1")
	assert.ErrorIs(t, err, ErrTeamFull)
	team, _ := agg.Game().Team("t1")
	assert.Len(t, team.PlayerIDs, 3)
}

func TestJoinTeam_SameTeamIsNoop(t *testing.T) {
	agg, _ := lobby(t, 1)
	evts, err := agg.JoinTeam("p1", "t1")
	require.NoError(t, err)
	assert.Empty(t, evts)
}

func TestRemove_NotFound(t *testing.T) {
	agg, _ := lobby(t, 1)
	_, err := agg.RemovePlayer("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = agg.RemoveTeam("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddPlayer_Duplicate(t *testing.T) {
	agg, _ := lobby(t, 1)
	_, err := agg.AddPlayer("p1", "Again", "s9", false)
	assert.ErrorIs(t, err, ErrDuplicate)
	_, err = agg.AddTeam("t1", "Again", "")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRemoveTeam_ClearsPlayers(t *testing.T) {
	agg, rec := lobby(t, 1)
	rec.ok(agg.RemoveTeam("t2"))
	p3, err := agg.Game().Player("p3")
	require.NoError(t, err)
	assert.False(t, p3.HasTeam())
}

func TestAssignPersonality_Rules(t *testing.T) {
	agg, rec := lobby(t, 1)
	_, err := agg.AssignPersonality("t1", "noir", "t2")
	assert.ErrorIs(t, err, ErrInvalidTransition, "not during the lobby")

	rec.ok(agg.StartGame())
	_, err = agg.AssignPersonality("t1", "noir", "t1")
	assert.ErrorIs(t, err, ErrInvalidInput, "self assignment")
	_, err = agg.AssignPersonality("t1", "mystery", "t2")
	assert.ErrorIs(t, err, ErrNotFound)

	rec.ok(agg.AssignPersonality("t1", "noir", "t2"))
	_, err = agg.AssignPersonality("t1", "shakespeare", "t2")
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
}

func TestStartRound_NeedsEveryPersonality(t *testing.T) {
	agg, rec := lobby(t, 1)
	rec.ok(agg.StartGame())
	rec.ok(agg.AssignPersonality("t1", "noir", "t2"))

	_, err := agg.StartRound()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	rec.ok(agg.AssignPersonality("t2", "noir", "t1"))
	evts := rec.ok(agg.StartRound())
	started := evts[0].(events.RoundStarted)
	assert.Equal(t, 0, started.RoundNumber)
	assert.Equal(t, "t1", started.ActingTeamID)
	assert.Equal(t, models.StatusPlaying, agg.Status())

	_, err = agg.StartRound()
	assert.ErrorIs(t, err, ErrInvalidTransition, "round already started")
}

func TestSubmitPrompt_Rules(t *testing.T) {
	agg, rec := playing(t, 1)

	_, err := agg.SubmitPrompt("p3", "not my turn")
	assert.ErrorIs(t, err, ErrNotActingTeam)
	_, err = agg.SubmitPrompt("p1", "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	rec.ok(agg.SubmitPrompt("p1", "a cat runs for mayor"))
	_, err = agg.SubmitPrompt("p2", "another")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestRequestScript_FailureEmitsNothing(t *testing.T) {
	agg, rec := playing(t, 1)
	rec.ok(agg.SubmitPrompt("p1", "a cat runs for mayor"))
	before := agg.Game()

	gen := &stubGenerator{err: errors.New("provider down")}
	evts, err := agg.RequestScript(context.Background(), gen)

	assert.ErrorIs(t, err, ErrScriptGenerationFailed)
	assert.Empty(t, evts)
	assert.Equal(t, before, agg.Game())
	var ge *Error
	require.ErrorAs(t, err, &ge)
	assert.True(t, ge.Retryable())
}

func TestRequestScript_Timeout(t *testing.T) {
	agg, rec := playing(t, 1)
	rec.ok(agg.SubmitPrompt("p1", "a cat runs for mayor"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	_, err := agg.RequestScript(ctx, &stubGenerator{err: ctx.Err()})

	assert.ErrorIs(t, err, ErrScriptGenerationTimeout)
	r, _ := agg.Game().Round(0)
	assert.False(t, r.HasScript())
}

func TestRequestScript_UsesActingTeam(t *testing.T) {
	agg, rec := playing(t, 1)
	rec.ok(agg.SubmitPrompt("p1", "a cat runs for mayor"))
	gen := &stubGenerator{}
	evts := rec.ok(agg.RequestScript(context.Background(), gen))

	assert.Equal(t, 2, gen.roles)
	script := evts[0].(events.ScriptGenerated)
	assert.Equal(t, "noir", script.PersonalityID)
	assert.Len(t, script.Roles, 2)

	_, err := agg.RequestScript(context.Background(), gen)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestRecordScript_StaleRequest(t *testing.T) {
	agg, rec := playing(t, 1)
	rec.ok(agg.SubmitPrompt("p1", "a cat runs for mayor"))
	req, err := agg.PrepareScript()
	require.NoError(t, err)

	script, err := Generate(context.Background(), &stubGenerator{}, req)
	require.NoError(t, err)
	req.RoundID = "some-other-round"
	_, err = agg.RecordScript(req, script)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAssignRoles_IndexForIndex(t *testing.T) {
	agg, rec := playing(t, 1)
	rec.ok(agg.SubmitPrompt("p1", "a cat runs for mayor"))
	rec.ok(agg.RequestScript(context.Background(), &stubGenerator{}))

	evts := rec.ok(agg.AssignRoles())
	require.Len(t, evts, 2)
	assert.Equal(t, "p1", evts[0].(events.RoleAssigned).PlayerID)
	assert.Equal(t, "Role 1", evts[0].(events.RoleAssigned).RoleName)
	assert.Equal(t, "p2", evts[1].(events.RoleAssigned).PlayerID)
	assert.Equal(t, "Role 2", evts[1].(events.RoleAssigned).RoleName)

	_, err := agg.AssignRoles()
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
}

func TestAssignRoles_CountMismatch(t *testing.T) {
	agg, rec := playing(t, 1)
	rec.ok(agg.SubmitPrompt("p1", "a cat runs for mayor"))
	three, err := models.NewScript("x y z", []models.Role{{Name: "A"}, {Name: "B"}, {Name: "C"}}, "noir", 0, 0, clock)
	require.NoError(t, err)
	rec.ok(agg.RequestScript(context.Background(), &stubGenerator{script: three}))

	before := agg.Game()
	_, err = agg.AssignRoles()
	assert.ErrorIs(t, err, ErrRoleCountMismatch)
	assert.Equal(t, before, agg.Game())
}

func TestGuesses(t *testing.T) {
	agg, rec := playing(t, 1)
	performed(t, agg, rec, "p1")

	_, err := agg.SubmitGuess("t1", "my own prompt")
	assert.ErrorIs(t, err, ErrActingTeamCannotGuess)
	_, err = agg.AcceptGuess("t2")
	assert.ErrorIs(t, err, ErrNotFound, "no guess yet")

	rec.ok(agg.SubmitGuess("t2", "cat election"))
	rec.ok(agg.AcceptGuess("t2"))

	_, err = agg.AcceptGuess("t2")
	assert.ErrorIs(t, err, ErrAlreadyWon)
	_, err = agg.SubmitGuess("t2", "again")
	assert.ErrorIs(t, err, ErrAlreadyWon)
}

func TestSubmitPersonalityGuess(t *testing.T) {
	agg, rec := playing(t, 1)
	performed(t, agg, rec, "p1")

	_, err := agg.SubmitPersonalityGuess("p3", "noir")
	assert.ErrorIs(t, err, ErrNotActingTeam)
	_, err = agg.SubmitPersonalityGuess("p1", "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	rec.ok(agg.SubmitPersonalityGuess("p2", "noir"))
	r, _ := agg.Game().Round(0)
	assert.True(t, r.PersonalityCorrect)

	_, err = agg.SubmitPersonalityGuess("p1", "shakespeare")
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestScoreRound_EmitsDeltasThenCheckpoint(t *testing.T) {
	agg, rec := playing(t, 1)
	performed(t, agg, rec, "p1")
	rec.ok(agg.SubmitGuess("t2", "cat election"))
	rec.ok(agg.AcceptGuess("t2"))
	rec.ok(agg.SubmitPersonalityGuess("p1", "noir"))

	evts := rec.ok(agg.ScoreRound())
	require.Len(t, evts, 2)
	scores := evts[0].(events.ScoresUpdated)
	assert.Equal(t, map[string]int{"t1": 2, "t2": 1}, scores.ScoreChanges)
	completed := evts[1].(events.RoundCompleted)
	assert.Equal(t, map[string]int{"t1": 2, "t2": 1}, completed.FinalScores)

	_, err := agg.ScoreRound()
	assert.ErrorIs(t, err, ErrInvalidTransition, "round already closed")
}

func TestScoreRound_ZeroDeltasOmitted(t *testing.T) {
	agg, rec := playing(t, 1)
	performed(t, agg, rec, "p1")

	evts := rec.ok(agg.ScoreRound())
	assert.Empty(t, evts[0].(events.ScoresUpdated).ScoreChanges)
}

func TestFullGame_ReplayMatchesAggregate(t *testing.T) {
	agg, rec := playing(t, 1)

	// Round 0: t1 acts, t2 guesses right.
	performed(t, agg, rec, "p1")
	rec.ok(agg.SubmitGuess("t2", "cat election"))
	rec.ok(agg.AcceptGuess("t2"))
	rec.ok(agg.ScoreRound())
	next := rec.ok(agg.AdvanceOrFinish())
	assert.Equal(t, "t2", next[0].(events.RoundStarted).ActingTeamID)

	_, err := agg.AdvanceOrFinish()
	assert.ErrorIs(t, err, ErrInvalidTransition, "round 1 not completed")

	// Round 1: t2 acts, guesses personality right, nobody guesses the prompt.
	performed(t, agg, rec, "p3")
	rec.ok(agg.SubmitPersonalityGuess("p4", "shakespeare"))
	rec.ok(agg.ScoreRound())
	done := rec.ok(agg.AdvanceOrFinish())

	completed := done[0].(events.GameCompleted)
	winner, ok := completed.Winner()
	assert.True(t, ok)
	assert.Equal(t, "t2", winner)
	assert.Equal(t, map[string]int{"t1": 1, "t2": 2}, completed.FinalScores)
	assert.Equal(t, models.StatusFinished, agg.Status())

	replayed, err := projection.Project(nil, rec.log)
	require.NoError(t, err)
	assert.Equal(t, agg.Game(), replayed)
	assert.Equal(t, len(rec.log), agg.Version())

	_, err = agg.AddPlayer("late", "Late", "s", false)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.NoError(t, agg.CanDelete(false))
}

func TestAdvanceOrFinish_TieHasNoWinner(t *testing.T) {
	agg, rec := playing(t, 1)
	performed(t, agg, rec, "p1")
	rec.ok(agg.ScoreRound())
	rec.ok(agg.AdvanceOrFinish())
	performed(t, agg, rec, "p3")
	rec.ok(agg.ScoreRound())

	done := rec.ok(agg.AdvanceOrFinish())
	_, ok := done[0].(events.GameCompleted).Winner()
	assert.False(t, ok)
}

// threeTeams starts a game with teams t1 (p1, p2), t2 (p3, p4) and t3 (p5).
func threeTeams(t *testing.T) (*Aggregate, *recorder) {
	t.Helper()
	agg, rec := lobby(t, 1)
	rec.ok(agg.AddPlayer("p5", "Ed", "s5", false))
	rec.ok(agg.AddTeam("t3", "Green", "#0f0"))
	rec.ok(agg.JoinTeam("p5", "t3"))
	rec.ok(agg.StartGame())
	rec.ok(agg.AssignPersonality("t1", "noir", "t2"))
	rec.ok(agg.AssignPersonality("t2", "shakespeare", "t3"))
	rec.ok(agg.AssignPersonality("t3", "infomercial", "t1"))
	rec.ok(agg.StartRound())
	return agg, rec
}

func TestTeams_FixedOncePlaying(t *testing.T) {
	agg, rec := threeTeams(t)
	performed(t, agg, rec, "p1")
	rec.ok(agg.SubmitGuess("t2", "cat politics"))
	rec.ok(agg.AcceptGuess("t2"))

	_, err := agg.AddTeam("t4", "Gold", "#ff0")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	for _, teamID := range []string{"t1", "t2", "t3"} {
		_, err = agg.RemoveTeam(teamID)
		assert.ErrorIs(t, err, ErrInvalidTransition, teamID)
	}
	assert.Len(t, agg.Game().Teams, 3)

	// The round the accepted guesser belongs to can still be scored.
	scored := rec.ok(agg.ScoreRound())
	assert.Equal(t, map[string]int{"t1": 1, "t2": 1}, scored[0].(events.ScoresUpdated).ScoreChanges)
	rec.ok(agg.AdvanceOrFinish())
}

func TestTeams_EveryTeamActsItsRounds(t *testing.T) {
	agg, rec := threeTeams(t)
	submitters := map[string]string{"t1": "p1", "t2": "p3", "t3": "p5"}

	var acting []string
	for agg.Game().Status == models.StatusPlaying {
		r, ok := agg.ActiveRound()
		require.True(t, ok)
		acting = append(acting, r.ActingTeamID)
		performed(t, agg, rec, submitters[r.ActingTeamID])
		rec.ok(agg.ScoreRound())
		rec.ok(agg.AdvanceOrFinish())
	}
	assert.Equal(t, []string{"t1", "t2", "t3"}, acting)
	assert.Equal(t, models.StatusFinished, agg.Game().Status)
}

func TestRemoveTeam_BeforePlay(t *testing.T) {
	agg, rec := lobby(t, 1)
	rec.ok(agg.AddTeam("t3", "Green", "#0f0"))
	rec.ok(agg.StartGame())
	rec.ok(agg.RemoveTeam("t3"))
	rec.ok(agg.AddTeam("t4", "Gold", "#ff0"))
	assert.Len(t, agg.Game().Teams, 3)
}

func TestAssignRoles_DuplicateRoleNames(t *testing.T) {
	agg, rec := playing(t, 1)
	guard := func() models.Role {
		return models.Role{Name: "Guard", Description: "bored", Lines: []string{"halt"}}
	}
	script, err := models.NewScript("two guards argue about lunch", []models.Role{guard(), guard()}, "noir", 0, 0, clock)
	require.NoError(t, err)

	rec.ok(agg.SubmitPrompt("p1", "guards at lunch"))
	rec.ok(agg.RequestScript(context.Background(), &stubGenerator{script: script}))
	assigned := rec.ok(agg.AssignRoles())
	require.Len(t, assigned, 2)
	assert.Equal(t, 1, *assigned[1].(events.RoleAssigned).RoleIndex)

	want := map[string]int{"p1": 0, "p2": 1}
	r, ok := agg.ActiveRound()
	require.True(t, ok)
	assert.Equal(t, want, r.RoleAssignments)

	g, err := projection.Project(nil, rec.log)
	require.NoError(t, err)
	assert.Equal(t, want, g.Rounds[0].RoleAssignments)

	// Events without an index fall back to the first free role of that name.
	legacy := append([]events.Event(nil), rec.log...)
	for i, evt := range legacy {
		if ra, ok := evt.(events.RoleAssigned); ok {
			ra.RoleIndex = nil
			legacy[i] = ra
		}
	}
	g, err = projection.Project(nil, legacy)
	require.NoError(t, err)
	assert.Equal(t, want, g.Rounds[0].RoleAssignments)

	// An index naming the wrong role, or one already played, is corrupt history.
	for _, index := range []int{0, 5} {
		bad := append([]events.Event(nil), rec.log...)
		last := bad[len(bad)-1].(events.RoleAssigned)
		last.RoleIndex = &index
		bad[len(bad)-1] = last
		_, err = projection.Project(nil, bad)
		assert.ErrorIs(t, err, projection.ErrReplayInvariant, "index %d", index)
	}
}

func TestLoad_ContinuesFromProjection(t *testing.T) {
	_, rec := playing(t, 1)
	g, err := projection.Project(nil, rec.log)
	require.NoError(t, err)

	agg := Load(g, testOptions()...)
	evts, err := agg.SubmitPrompt("p2", "loaded prompt")
	require.NoError(t, err)
	assert.Equal(t, len(rec.log)+1, agg.Version())
	assert.Equal(t, "game-1", evts[0].Header().GameID)
	assert.Error(t, agg.CanDelete(false))
	assert.NoError(t, agg.CanDelete(true))
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Reject(CodeTeamFull, "team %s", "t1"))
	assert.ErrorIs(t, err, ErrTeamFull)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, CodeTeamFull, CodeOf(err))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "team_full: team t1")
}

func TestScoringPolicy_Custom(t *testing.T) {
	r := models.NewRound("r", 0, "t1", clock)
	r.AddGuess(models.Guess{TeamID: "t2"})
	require.NoError(t, r.AcceptGuess("t2"))

	deltas := ScoringPolicy{PromptGuessPoints: 3, ActingTeamPoints: 0, PersonalityPoints: 5}.Deltas(r)
	assert.Equal(t, map[string]int{"t2": 3}, deltas)
}
