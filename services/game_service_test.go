package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slopgame/slop/auth"
	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/game"
	"github.com/slopgame/slop/llm"
	"github.com/slopgame/slop/models"
	"github.com/slopgame/slop/monitor"
	"github.com/slopgame/slop/network"
	"github.com/slopgame/slop/persistence"
	"github.com/slopgame/slop/projection"
	"github.com/slopgame/slop/timer"
)

// recordingRealtime keeps every frame per room and per socket.
type recordingRealtime struct {
	mu      sync.Mutex
	members map[string]map[string]bool
	rooms   map[string][]network.Frame
	sockets map[string][]network.Frame
}

func newRecordingRealtime() *recordingRealtime {
	return &recordingRealtime{
		members: map[string]map[string]bool{},
		rooms:   map[string][]network.Frame{},
		sockets: map[string][]network.Frame{},
	}
}

func (r *recordingRealtime) BroadcastToRoom(roomCode string, f network.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[roomCode] = append(r.rooms[roomCode], f)
	return nil
}

func (r *recordingRealtime) SendToSocket(socketID string, f network.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sockets[socketID] = append(r.sockets[socketID], f)
	return nil
}

func (r *recordingRealtime) JoinRoom(socketID, roomCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[roomCode] == nil {
		r.members[roomCode] = map[string]bool{}
	}
	r.members[roomCode][socketID] = true
}

func (r *recordingRealtime) LeaveRoom(socketID, roomCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[roomCode], socketID)
}

func (r *recordingRealtime) SocketsInRoom(roomCode string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id := range r.members[roomCode] {
		out = append(out, id)
	}
	return out
}

func (r *recordingRealtime) eventTypes(roomCode string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, f := range r.rooms[roomCode] {
		var rec struct {
			Type string `json:"event_type"`
		}
		_ = json.Unmarshal(f.Data, &rec)
		out = append(out, rec.Type)
	}
	return out
}

// flakyStore fails appends while failing is set.
type flakyStore struct {
	*persistence.MemoryStore
	mu      sync.Mutex
	failing bool
}

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakyStore) SaveEvents(ctx context.Context, evts []events.Event) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return &persistence.Error{Op: "save events", Err: errors.New("connection reset")}
	}
	return f.MemoryStore.SaveEvents(ctx, evts)
}

type blockingGenerator struct{}

func (blockingGenerator) GenerateScript(ctx context.Context, prompt string, p models.Personality, numRoles int, tone models.ContentTone) (*models.Script, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failingGenerator struct{}

func (failingGenerator) GenerateScript(ctx context.Context, prompt string, p models.Personality, numRoles int, tone models.ContentTone) (*models.Script, error) {
	return nil, &llm.GenerationError{Attempts: 3, Err: errors.New("502 bad gateway")}
}

type fixture struct {
	svc      *GameService
	store    *flakyStore
	realtime *recordingRealtime
	metrics  *monitor.Metrics
	timers   *timer.TimerManager
}

func newFixture(t *testing.T, gen game.ScriptGenerator) *fixture {
	t.Helper()
	store := &flakyStore{MemoryStore: persistence.NewMemoryStore()}
	issuer, err := auth.NewIssuer("test-secret-0123456789", time.Hour)
	require.NoError(t, err)
	if gen == nil {
		gen = llm.Canned{}
	}
	f := &fixture{
		store:    store,
		realtime: newRecordingRealtime(),
		metrics:  monitor.NewMetrics("test", prometheus.NewRegistry()),
		timers:   timer.NewTimerManager(10 * time.Millisecond),
	}
	t.Cleanup(f.timers.Stop)
	n := 0
	f.svc = NewGameService(Deps{
		DB:        store,
		Realtime:  f.realtime,
		Generator: gen,
		Tokens:    issuer,
		Timers:    f.timers,
		Metrics:   f.metrics,
	}, Options{
		Defaults:      models.GameSettings{RoundsPerTeam: 1, GuessTimerSeconds: 60, MaxPlayersPerTeam: 3, ContentTone: models.ToneFamily},
		ScriptTimeout: 50 * time.Millisecond,
	})
	f.svc.newID = func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	return f
}

// table is a started game: two teams of one player each, personalities
// assigned, round 0 open with team A acting.
type table struct {
	gameID, code  string
	alice, bob    network.Welcome
	teamA, teamB  string
}

func (f *fixture) seat(t *testing.T) table {
	t.Helper()
	ctx := context.Background()
	alice, err := f.svc.CreateGame(ctx, models.GameSettings{}, "Alice", "sock-a")
	require.NoError(t, err)
	bob, err := f.svc.JoinGame(ctx, strings.ToLower(alice.RoomCode), "Bob", "sock-b")
	require.NoError(t, err)

	teamA, err := f.svc.FormTeam(ctx, alice.GameID, alice.PlayerID, "Red", "#f00")
	require.NoError(t, err)
	teamB, err := f.svc.FormTeam(ctx, alice.GameID, bob.PlayerID, "Blue", "#00f")
	require.NoError(t, err)
	require.NoError(t, f.svc.JoinTeam(ctx, alice.GameID, alice.PlayerID, teamA))
	require.NoError(t, f.svc.JoinTeam(ctx, alice.GameID, bob.PlayerID, teamB))
	return table{gameID: alice.GameID, code: alice.RoomCode, alice: alice, bob: bob, teamA: teamA, teamB: teamB}
}

func (f *fixture) start(t *testing.T, tb table) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, tb.gameID, tb.alice.PlayerID))
	require.NoError(t, f.svc.AssignPersonality(ctx, tb.gameID, tb.bob.PlayerID, tb.teamA, "noir"))
	require.NoError(t, f.svc.AssignPersonality(ctx, tb.gameID, tb.alice.PlayerID, tb.teamB, "shakespeare"))
	require.NoError(t, f.svc.StartRound(ctx, tb.gameID, tb.alice.PlayerID))
}

func TestGameService_FullGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tb := f.seat(t)
	f.start(t, tb)
	gid, alice, bob := tb.gameID, tb.alice.PlayerID, tb.bob.PlayerID

	// Round 0: Red acts, Blue guesses the prompt, Red guesses its personality.
	require.NoError(t, f.svc.SubmitPrompt(ctx, gid, alice, "a cat runs for mayor"))
	require.NoError(t, f.svc.RequestScript(ctx, gid, alice))
	require.NoError(t, f.svc.AssignRoles(ctx, gid, alice))
	require.NoError(t, f.svc.SubmitGuess(ctx, gid, bob, "cat mayor"))
	assert.ErrorIs(t, f.svc.AcceptGuess(ctx, gid, bob, tb.teamB), game.ErrNotActingTeam)
	require.NoError(t, f.svc.AcceptGuess(ctx, gid, alice, tb.teamB))
	require.NoError(t, f.svc.SubmitPersonalityGuess(ctx, gid, alice, "noir"))
	require.NoError(t, f.svc.ScoreRound(ctx, gid, alice))
	require.NoError(t, f.svc.AdvanceOrFinish(ctx, gid, alice))

	// Round 1: Blue acts and nobody guesses.
	require.NoError(t, f.svc.SubmitPrompt(ctx, gid, bob, "the moon is cheese"))
	require.NoError(t, f.svc.RequestScript(ctx, gid, bob))
	require.NoError(t, f.svc.AssignRoles(ctx, gid, bob))
	require.NoError(t, f.svc.ScoreRound(ctx, gid, bob))
	require.NoError(t, f.svc.AdvanceOrFinish(ctx, gid, bob))

	g, err := f.svc.GetGame(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, g.Status)
	assert.Equal(t, map[string]int{tb.teamA: 2, tb.teamB: 1}, g.Scores())
	assert.Equal(t, tb.teamA, g.WinnerTeamID)

	// The durable log alone rebuilds the same game.
	log, err := f.store.GetEvents(ctx, gid)
	require.NoError(t, err)
	replayed, err := projection.Project(nil, log)
	require.NoError(t, err)
	assert.Equal(t, g, replayed)

	// Clients saw every event, in log order.
	want := make([]string, len(log))
	for i, evt := range log {
		want[i] = string(evt.EventType())
	}
	assert.Equal(t, want, f.realtime.eventTypes(tb.code))

	// The snapshot is current.
	snap, err := f.store.GetSnapshot(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, len(log), snap.Version)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Commands.WithLabelValues("accept_guess", "not_acting_team")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.EventsAppended.WithLabelValues("ScriptGenerated")))

	require.NoError(t, f.svc.DeleteGame(ctx, gid, false))
	_, err = f.svc.GetGame(ctx, gid)
	assert.ErrorIs(t, err, game.ErrNotFound)
}

func TestGameService_CreateAndJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tb := f.seat(t)

	assert.Len(t, tb.code, 4)
	assert.NotEmpty(t, tb.alice.Token)
	assert.ElementsMatch(t, []string{"sock-a", "sock-b"}, f.realtime.SocketsInRoom(tb.code))
	require.NotEmpty(t, f.realtime.sockets["sock-b"], "a joining socket gets the current state")
	assert.Equal(t, network.MsgSnapshot, f.realtime.sockets["sock-b"][0].Type)

	g, err := f.svc.GetGameByRoomCode(ctx, tb.code)
	require.NoError(t, err)
	assert.Len(t, g.Players, 2)
	assert.Equal(t, models.DefaultSettings().MaxPlayersPerTeam, g.Settings.MaxPlayersPerTeam)

	_, err = f.svc.JoinGame(ctx, "ZZZZ", "Eve", "sock-e")
	assert.ErrorIs(t, err, game.ErrNotFound)
	assert.NotContains(t, f.realtime.SocketsInRoom("ZZZZ"), "sock-e")

	_, err = f.svc.CreateGame(ctx, models.GameSettings{ContentTone: "spicy"}, "Mallory", "sock-m")
	assert.ErrorIs(t, err, game.ErrInvalidInput)
}

func TestGameService_Authorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tb := f.seat(t)

	assert.ErrorIs(t, f.svc.StartGame(ctx, tb.gameID, tb.bob.PlayerID), game.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.StartRound(ctx, tb.gameID, "stranger"), game.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.RemoveTeam(ctx, tb.gameID, tb.bob.PlayerID, tb.teamA), game.ErrUnauthorized)

	loner, err := f.svc.JoinGame(ctx, tb.code, "Carol", "sock-c")
	require.NoError(t, err)
	require.NoError(t, f.svc.StartGame(ctx, tb.gameID, tb.alice.PlayerID))
	err = f.svc.AssignPersonality(ctx, tb.gameID, loner.PlayerID, tb.teamA, "noir")
	assert.ErrorIs(t, err, game.ErrInvalidInput)
}

func TestGameService_Reconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tb := f.seat(t)

	w, err := f.svc.Reconnect(ctx, tb.bob.Token, "sock-b2")
	require.NoError(t, err)
	assert.Equal(t, tb.bob.PlayerID, w.PlayerID)
	assert.Equal(t, tb.code, w.RoomCode)
	assert.Contains(t, f.realtime.SocketsInRoom(tb.code), "sock-b2")

	g, err := f.svc.GetGame(ctx, tb.gameID)
	require.NoError(t, err)
	p, err := g.Player(tb.bob.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, "sock-b2", p.SocketID)

	_, err = f.svc.Reconnect(ctx, "forged", "sock-x")
	assert.ErrorIs(t, err, game.ErrUnauthorized)
}

func TestGameService_TeamsFixedOncePlaying(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tb := f.seat(t)
	f.start(t, tb)

	_, err := f.svc.FormTeam(ctx, tb.gameID, tb.alice.PlayerID, "Green", "#0f0")
	assert.ErrorIs(t, err, game.ErrInvalidTransition)
	assert.ErrorIs(t, f.svc.RemoveTeam(ctx, tb.gameID, tb.alice.PlayerID, tb.teamB), game.ErrInvalidTransition)

	g, err := f.svc.GetGame(ctx, tb.gameID)
	require.NoError(t, err)
	assert.Len(t, g.Teams, 2)
}

func TestGameService_StorageFailureEvictsAndRecovers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tb := f.seat(t)
	before, err := f.svc.GetGame(ctx, tb.gameID)
	require.NoError(t, err)
	frames := len(f.realtime.eventTypes(tb.code))

	f.store.setFailing(true)
	_, err = f.svc.FormTeam(ctx, tb.gameID, tb.alice.PlayerID, "Green", "#0f0")
	require.Error(t, err)
	assert.ErrorIs(t, err, game.ErrStorageUnavailable)
	var ge *game.Error
	require.ErrorAs(t, err, &ge)
	assert.True(t, ge.Retryable())
	assert.Len(t, f.realtime.eventTypes(tb.code), frames, "nothing is broadcast before it is durable")
	_, loaded := f.svc.Rooms().GetRoom(tb.gameID)
	assert.False(t, loaded)

	f.store.setFailing(false)
	after, err := f.svc.GetGame(ctx, tb.gameID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "the failed command left no trace")

	_, err = f.svc.FormTeam(ctx, tb.gameID, tb.alice.PlayerID, "Green", "#0f0")
	assert.NoError(t, err)
}

func TestGameService_RecoversFromSnapshotAndTail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tb := f.seat(t)
	want, err := f.svc.GetGame(ctx, tb.gameID)
	require.NoError(t, err)

	// An older snapshot forces a replay of the tail.
	log, err := f.store.GetEvents(ctx, tb.gameID)
	require.NoError(t, err)
	old, err := projection.Project(nil, log[:3])
	require.NoError(t, err)
	fresh := persistence.NewMemoryStore()
	require.NoError(t, fresh.SaveEvents(ctx, log))
	require.NoError(t, fresh.SaveSnapshot(ctx, old))

	other := NewGameService(Deps{DB: fresh, Metrics: f.metrics}, Options{})
	got, err := other.GetGameByRoomCode(ctx, tb.code)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, float64(len(log)-3), testutil.ToFloat64(f.metrics.ReplayedEvents))

	_, err = other.GetGame(ctx, "nope")
	assert.ErrorIs(t, err, game.ErrNotFound)
}

func TestGameService_ScriptFailures(t *testing.T) {
	ctx := context.Background()

	for name, tc := range map[string]struct {
		gen  game.ScriptGenerator
		want error
	}{
		"provider error": {gen: failingGenerator{}, want: game.ErrScriptGenerationFailed},
		"timeout":        {gen: blockingGenerator{}, want: game.ErrScriptGenerationTimeout},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, tc.gen)
			tb := f.seat(t)
			f.start(t, tb)
			require.NoError(t, f.svc.SubmitPrompt(ctx, tb.gameID, tb.alice.PlayerID, "a cat runs for mayor"))
			before, err := f.svc.GetGame(ctx, tb.gameID)
			require.NoError(t, err)

			err = f.svc.RequestScript(ctx, tb.gameID, tb.alice.PlayerID)
			assert.ErrorIs(t, err, tc.want)

			after, err := f.svc.GetGame(ctx, tb.gameID)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestGameService_GuessTimerScoresOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tb := f.seat(t)
	f.start(t, tb)
	gid, alice := tb.gameID, tb.alice.PlayerID
	require.NoError(t, f.svc.SubmitPrompt(ctx, gid, alice, "a cat runs for mayor"))
	require.NoError(t, f.svc.RequestScript(ctx, gid, alice))
	require.NoError(t, f.svc.AssignRoles(ctx, gid, alice))

	f.svc.timerMutex.Lock()
	_, scheduled := f.svc.guessTimers[gid]
	f.svc.timerMutex.Unlock()
	require.True(t, scheduled)

	g, err := f.svc.GetGame(ctx, gid)
	require.NoError(t, err)
	roundID := g.Rounds[0].ID

	f.svc.expireRound(gid, roundID)
	f.svc.expireRound(gid, roundID)

	g, err = f.svc.GetGame(ctx, gid)
	require.NoError(t, err)
	assert.True(t, g.Rounds[0].Completed)
	completed := 0
	for _, typ := range f.realtime.eventTypes(tb.code) {
		if typ == string(events.TypeRoundCompleted) {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.ErrorIs(t, f.svc.ScoreRound(ctx, gid, alice), game.ErrInvalidTransition)
}

func TestGameService_DeleteNeedsForceUntilFinished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tb := f.seat(t)

	assert.ErrorIs(t, f.svc.DeleteGame(ctx, tb.gameID, false), game.ErrInvalidTransition)
	require.NoError(t, f.svc.DeleteGame(ctx, tb.gameID, true))

	log, err := f.store.GetEvents(ctx, tb.gameID)
	require.NoError(t, err)
	assert.Empty(t, log)
	assert.ErrorIs(t, f.svc.DeleteGame(ctx, tb.gameID, true), game.ErrNotFound)
}

func TestGameService_LeaveGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	tb := f.seat(t)

	require.NoError(t, f.svc.LeaveGame(ctx, tb.gameID, tb.bob.PlayerID, "sock-b"))
	assert.NotContains(t, f.realtime.SocketsInRoom(tb.code), "sock-b")
	g, err := f.svc.GetGame(ctx, tb.gameID)
	require.NoError(t, err)
	assert.Len(t, g.Players, 1)

	assert.ErrorIs(t, f.svc.LeaveGame(ctx, tb.gameID, tb.bob.PlayerID, "sock-b"), game.ErrUnauthorized)
}

func TestRoomCodes(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := randomRoomCode()
		require.Len(t, code, roomCodeLength)
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "O")
	}
	assert.Equal(t, "ABCD", normalizeRoomCode(" abcd "))
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))
	assert.Equal(t, game.CodeStorageUnavailable, game.CodeOf(mapError(&persistence.Error{Op: "x", Err: errors.New("down")})))
	assert.Equal(t, game.CodeNotFound, game.CodeOf(mapError(persistence.ErrRecordNotFound)))
	assert.Equal(t, game.CodeUnauthorized, game.CodeOf(mapError(auth.ErrInvalidToken)))
	assert.Equal(t, game.CodeInternal, game.CodeOf(mapError(events.ErrImmutableEvent)))
	assert.Equal(t, game.CodeTeamFull, game.CodeOf(mapError(game.Reject(game.CodeTeamFull, "full"))))
	assert.Equal(t, game.CodeInternal, game.CodeOf(mapError(errors.New("boom"))))
}
