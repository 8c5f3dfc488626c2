package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)

func meta() Meta {
	return Meta{EventID: "evt-1", GameID: "game-1", Timestamp: at}
}

func sampleEvents() []Event {
	return []Event{
		GameCreated{Meta: meta(), RoomCode: "ABCD", ContentTone: "family", MaxPlayers: 3, RoundsPerTeam: 2, GuessTimerSeconds: 45},
		GameStarted{Meta: meta()},
		PlayerJoined{Meta: meta(), PlayerID: "p1", PlayerName: "Ada", SocketID: "s1", IsCreator: true},
		PlayerReconnected{Meta: meta(), PlayerID: "p1", SocketID: "s2"},
		PlayerLeft{Meta: meta(), PlayerID: "p1"},
		TeamFormed{Meta: meta(), TeamID: "t1", TeamName: "Red", Color: "#f00"},
		TeamDisbanded{Meta: meta(), TeamID: "t1"},
		PlayerJoinedTeam{Meta: meta(), PlayerID: "p1", TeamID: "t1"},
		PersonalityAssigned{Meta: meta(), TeamID: "t1", PersonalityID: "noir", AssignedByTeamID: "t2"},
		RoundStarted{Meta: meta(), RoundNumber: 1, ActingTeamID: "t1"},
		PromptSubmitted{Meta: meta(), RoundNumber: 1, Prompt: "a cat runs for mayor", SubmittedBy: "p1"},
		ScriptGenerated{Meta: meta(), RoundNumber: 1, ScriptContent: "hello world", PersonalityID: "noir",
			Roles: []RolePayload{{Name: "Cat", Description: "a cat", Lines: []string{"meow"}}}, WordCount: 2, EstimatedDuration: 1},
		RoleAssigned{Meta: meta(), RoundNumber: 1, PlayerID: "p1", RoleIndex: new(int), RoleName: "Cat", CharacterDescription: "a cat"},
		GuessSubmitted{Meta: meta(), RoundNumber: 1, TeamID: "t2", Guess: "cat politics"},
		GuessAccepted{Meta: meta(), RoundNumber: 1, TeamID: "t2"},
		PersonalityGuessSubmitted{Meta: meta(), RoundNumber: 1, PersonalityGuess: "noir"},
		NewScoresUpdated(meta(), 1, map[string]int{"t2": 1}),
		NewRoundCompleted(meta(), 1, map[string]int{"t1": 0, "t2": 1}),
		NewGameCompleted(meta(), map[string]int{"t1": 0, "t2": 1}, "t2", true),
	}
}

func TestRoundTrip_AllTypes(t *testing.T) {
	samples := sampleEvents()
	require.Len(t, samples, len(Types()), "every catalog type needs a sample")

	for _, evt := range samples {
		t.Run(string(evt.EventType()), func(t *testing.T) {
			data, err := Marshal(evt)
			require.NoError(t, err)

			decoded, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, evt, decoded)
		})
	}
}

func TestMarshal_CarriesDiscriminantAndHeader(t *testing.T) {
	data, err := Marshal(PlayerLeft{Meta: meta(), PlayerID: "p1"})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "PlayerLeft", doc["event_type"])
	assert.Equal(t, "evt-1", doc["event_id"])
	assert.Equal(t, "game-1", doc["game_id"])
	assert.Equal(t, "p1", doc["player_id"])
	assert.Contains(t, doc, "timestamp")
}

func TestUnmarshal_IgnoresUnknownFields(t *testing.T) {
	data := []byte(`{"event_type":"TeamFormed","event_id":"e","game_id":"g","timestamp":"2026-03-04T05:06:07Z",
		"team_id":"t1","team_name":"Red","color":"#f00","mascot":"owl"}`)

	evt, err := Unmarshal(data)
	require.NoError(t, err)
	team, ok := evt.(TeamFormed)
	require.True(t, ok)
	assert.Equal(t, "Red", team.TeamName)
}

func TestUnmarshal_UnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"event_type":"TeamRenamed","event_id":"e","game_id":"g","timestamp":"2026-03-04T05:06:07Z"}`))
	assert.ErrorIs(t, err, ErrUnknownEventType)
}

func TestUnmarshal_MissingMeta(t *testing.T) {
	_, err := Unmarshal([]byte(`{"event_type":"GameStarted","game_id":"g"}`))
	assert.ErrorIs(t, err, ErrMissingMeta)
}

func TestGameCompleted_TieHasNoWinner(t *testing.T) {
	evt := NewGameCompleted(meta(), map[string]int{"t1": 2, "t2": 2}, "", false)
	data, err := Marshal(evt)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"winner_team_id":null`)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	_, ok := decoded.(GameCompleted).Winner()
	assert.False(t, ok)
}

func TestConstructors_DoNotAliasMaps(t *testing.T) {
	scores := map[string]int{"t1": 1}
	evt := NewScoresUpdated(meta(), 0, scores)
	scores["t1"] = 99

	assert.Equal(t, 1, evt.ScoreChanges["t1"])
}

func TestNewMeta(t *testing.T) {
	a, b := NewMeta("g"), NewMeta("g")
	assert.NotEmpty(t, a.EventID)
	assert.NotEqual(t, a.EventID, b.EventID)
	assert.Equal(t, time.UTC, a.Timestamp.Location())
}

func TestToRecord(t *testing.T) {
	rec, err := ToRecord(TeamDisbanded{Meta: meta(), TeamID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, TypeTeamDisbanded, rec.Type)
	assert.Equal(t, "evt-1", rec.EventID)

	evt, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, TeamDisbanded{Meta: meta(), TeamID: "t1"}, evt)

	_, err = ToRecord(TeamDisbanded{TeamID: "t1"})
	assert.ErrorIs(t, err, ErrMissingMeta)
}
