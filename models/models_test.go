package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestNewGame_RoomCodeLength(t *testing.T) {
	tests := []struct {
		code string
		ok   bool
	}{
		{"ABC", false},
		{"ABCD", true},
		{"ABCDE", true},
		{"ABCDEF", true},
		{"ABCDEFG", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			g, err := NewGame("g1", tt.code, DefaultSettings(), epoch)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, StatusLobby, g.Status)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRoomCode)
			}
		})
	}
}

func TestTeam_CapacityRejectsFourthPlayer(t *testing.T) {
	team := NewTeam("t1", "Red", "#f00", 3)
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, team.AddPlayer(id))
	}

	err := team.AddPlayer("p4")

	assert.ErrorIs(t, err, ErrTeamFull)
	assert.Equal(t, []string{"p1", "p2", "p3"}, team.PlayerIDs)
}

func TestTeam_DefaultCapacity(t *testing.T) {
	team := NewTeam("t1", "Red", "#f00", 0)
	assert.Equal(t, DefaultTeamCapacity, team.MaxPlayers)
}

func TestTeam_RemovePlayer(t *testing.T) {
	team := NewTeam("t1", "Red", "#f00", 3)
	require.NoError(t, team.AddPlayer("p1"))
	require.NoError(t, team.AddPlayer("p2"))

	require.NoError(t, team.RemovePlayer("p1"))
	assert.Equal(t, []string{"p2"}, team.PlayerIDs)
	assert.ErrorIs(t, team.RemovePlayer("p1"), ErrPlayerNotOnTeam)
}

func TestNewScript_DerivedFields(t *testing.T) {
	content := "one two three four five six seven eight nine ten"
	s, err := NewScript(content, []Role{{Name: "A"}}, "noir", 0, 0, epoch)
	require.NoError(t, err)

	assert.Equal(t, 10, s.WordCount)
	assert.Equal(t, 4, s.EstimatedDuration)
	assert.Equal(t, []string{}, s.Roles[0].Lines)
}

func TestNewScript_ExplicitValuesWin(t *testing.T) {
	s, err := NewScript("a b c", []Role{{Name: "A"}}, "noir", 150, 90, epoch)
	require.NoError(t, err)
	assert.Equal(t, 150, s.WordCount)
	assert.Equal(t, 90, s.EstimatedDuration)
}

func TestNewScript_RequiresRoles(t *testing.T) {
	_, err := NewScript("content", nil, "noir", 0, 0, epoch)
	assert.ErrorIs(t, err, ErrNoRoles)
}

func TestRound_AssignRoleValidatesIndex(t *testing.T) {
	r := NewRound("r0", 0, "t1", epoch)
	assert.ErrorIs(t, r.AssignRole("p1", 0), ErrNoScript)

	s, err := NewScript("x", []Role{{Name: "A"}, {Name: "B"}}, "noir", 0, 0, epoch)
	require.NoError(t, err)
	r.AttachScript(s)

	require.NoError(t, r.AssignRole("p1", 1))
	assert.ErrorIs(t, r.AssignRole("p2", 2), ErrRoleIndexOutOfRange)

	role, err := r.RoleFor("p1")
	require.NoError(t, err)
	assert.Equal(t, "B", role.Name)

	_, err = r.RoleFor("p2")
	assert.ErrorIs(t, err, ErrRoleNotAssigned)
}

func TestRound_PersonalityGuess(t *testing.T) {
	r := NewRound("r0", 0, "t1", epoch)
	s, err := NewScript("x", []Role{{Name: "A"}}, "noir", 0, 0, epoch)
	require.NoError(t, err)
	r.AttachScript(s)

	r.SetPersonalityGuess("bard")
	assert.False(t, r.PersonalityCorrect)

	r.SetPersonalityGuess("noir")
	assert.True(t, r.PersonalityCorrect)
}

func TestRound_AcceptGuessMarksLatest(t *testing.T) {
	r := NewRound("r0", 0, "t1", epoch)
	r.AddGuess(Guess{TeamID: "t2", Text: "first"})
	r.AddGuess(Guess{TeamID: "t2", Text: "second"})

	require.NoError(t, r.AcceptGuess("t2"))

	assert.False(t, r.Guesses[0].Accepted)
	assert.True(t, r.Guesses[1].Accepted)
	assert.Equal(t, "t2", r.PromptWinnerTeamID)
	assert.ErrorIs(t, r.AcceptGuess("t3"), ErrGuessNotFound)
}

func TestGame_RoundRobinVisitsEachTeamTwice(t *testing.T) {
	g, err := NewGame("g1", "ABCD", DefaultSettings(), epoch)
	require.NoError(t, err)
	ids := []string{"t1", "t2", "t3"}
	for _, id := range ids {
		require.NoError(t, g.AddTeam(NewTeam(id, id, "", 3)))
	}

	visits := map[string]int{}
	var order []string
	for round := 0; round < 2*len(ids); round++ {
		g.CurrentRound = round
		team, err := g.ActingTeam()
		require.NoError(t, err)
		visits[team.ID]++
		order = append(order, team.ID)
	}

	assert.Equal(t, map[string]int{"t1": 2, "t2": 2, "t3": 2}, visits)
	assert.Equal(t, []string{"t1", "t2", "t3", "t1", "t2", "t3"}, order)
}

func TestGame_ActingTeamWithoutTeams(t *testing.T) {
	g, err := NewGame("g1", "ABCD", DefaultSettings(), epoch)
	require.NoError(t, err)
	_, err = g.ActingTeam()
	assert.ErrorIs(t, err, ErrNoTeams)
}

func TestGame_UniqueIDs(t *testing.T) {
	g, err := NewGame("g1", "ABCD", DefaultSettings(), epoch)
	require.NoError(t, err)

	require.NoError(t, g.AddPlayer(&Player{ID: "p1"}))
	assert.ErrorIs(t, g.AddPlayer(&Player{ID: "p1"}), ErrDuplicatePlayer)

	require.NoError(t, g.AddTeam(NewTeam("t1", "Red", "", 3)))
	assert.ErrorIs(t, g.AddTeam(NewTeam("t1", "Blue", "", 3)), ErrDuplicateTeam)
}

func TestGame_MovePlayerToTeam(t *testing.T) {
	g, err := NewGame("g1", "ABCD", DefaultSettings(), epoch)
	require.NoError(t, err)
	require.NoError(t, g.AddPlayer(&Player{ID: "p1"}))
	require.NoError(t, g.AddTeam(NewTeam("t1", "Red", "", 3)))
	require.NoError(t, g.AddTeam(NewTeam("t2", "Blue", "", 1)))

	require.NoError(t, g.MovePlayerToTeam("p1", "t1"))
	require.NoError(t, g.MovePlayerToTeam("p1", "t2"))

	t1, _ := g.Team("t1")
	t2, _ := g.Team("t2")
	p1, _ := g.Player("p1")
	assert.Empty(t, t1.PlayerIDs)
	assert.Equal(t, []string{"p1"}, t2.PlayerIDs)
	assert.Equal(t, "t2", p1.TeamID)
}

func TestGame_MoveToFullTeamKeepsRosters(t *testing.T) {
	g, err := NewGame("g1", "ABCD", DefaultSettings(), epoch)
	require.NoError(t, err)
	require.NoError(t, g.AddPlayer(&Player{ID: "p1"}))
	require.NoError(t, g.AddPlayer(&Player{ID: "p2"}))
	require.NoError(t, g.AddTeam(NewTeam("t1", "Red", "", 1)))
	require.NoError(t, g.AddTeam(NewTeam("t2", "Blue", "", 1)))
	require.NoError(t, g.MovePlayerToTeam("p1", "t1"))
	require.NoError(t, g.MovePlayerToTeam("p2", "t2"))

	assert.ErrorIs(t, g.MovePlayerToTeam("p2", "t1"), ErrTeamFull)

	t2, _ := g.Team("t2")
	p2, _ := g.Player("p2")
	assert.Equal(t, []string{"p2"}, t2.PlayerIDs)
	assert.Equal(t, "t2", p2.TeamID)
}

func TestGame_RemovePlayerLeavesTeam(t *testing.T) {
	g, err := NewGame("g1", "ABCD", DefaultSettings(), epoch)
	require.NoError(t, err)
	require.NoError(t, g.AddPlayer(&Player{ID: "p1"}))
	require.NoError(t, g.AddTeam(NewTeam("t1", "Red", "", 3)))
	require.NoError(t, g.MovePlayerToTeam("p1", "t1"))

	require.NoError(t, g.RemovePlayer("p1"))

	t1, _ := g.Team("t1")
	assert.Empty(t, t1.PlayerIDs)
	assert.ErrorIs(t, g.RemovePlayer("p1"), ErrPlayerNotFound)
}

func TestGame_Leader(t *testing.T) {
	g, err := NewGame("g1", "ABCD", DefaultSettings(), epoch)
	require.NoError(t, err)
	_, ok := g.Leader()
	assert.False(t, ok)

	require.NoError(t, g.AddTeam(&Team{ID: "t1", Score: 2}))
	require.NoError(t, g.AddTeam(&Team{ID: "t2", Score: 5}))
	leader, ok := g.Leader()
	assert.True(t, ok)
	assert.Equal(t, "t2", leader)

	require.NoError(t, g.AddTeam(&Team{ID: "t3", Score: 5}))
	_, ok = g.Leader()
	assert.False(t, ok, "a shared top score has no winner")
}

func TestGame_CloneIsIndependent(t *testing.T) {
	g, err := NewGame("g1", "ABCD", DefaultSettings(), epoch)
	require.NoError(t, err)
	require.NoError(t, g.AddTeam(NewTeam("t1", "Red", "", 3)))
	g.Rounds = append(g.Rounds, NewRound("r0", 0, "t1", epoch))

	c := g.Clone()
	c.Teams[0].AddScore(3)
	c.Rounds[0].AddScore("t1", 3)
	require.NoError(t, c.Teams[0].AddPlayer("p9"))

	assert.Equal(t, 0, g.Teams[0].Score)
	assert.Empty(t, g.Rounds[0].Scores)
	assert.Empty(t, g.Teams[0].PlayerIDs)
	assert.Equal(t, g.Teams[0].ID, c.Teams[0].ID)
}

func TestPersonality_Validation(t *testing.T) {
	_, err := NewPersonality("", "n", "d", "s", "")
	assert.ErrorIs(t, err, ErrEmptyPersonalityID)
	_, err = NewPersonality("id", "", "d", "s", "")
	assert.ErrorIs(t, err, ErrEmptyName)
	_, err = NewPersonality("id", "n", "d", " ", "")
	assert.ErrorIs(t, err, ErrEmptySystemPrompt)
	p, err := NewPersonality("id", "n", "", "s", "")
	require.NoError(t, err)
	assert.Equal(t, "id", p.ID)
}

func TestPersonalityCatalog(t *testing.T) {
	c, err := NewPersonalityCatalog(DefaultPersonalities()...)
	require.NoError(t, err)
	p, ok := c.Get("noir")
	assert.True(t, ok)
	assert.Equal(t, "Hard-Boiled Detective", p.Name)
	_, ok = c.Get("missing")
	assert.False(t, ok)

	dup := DefaultPersonalities()[0]
	_, err = NewPersonalityCatalog(dup, dup)
	assert.Error(t, err)
}

func TestParseContentTone(t *testing.T) {
	tone, err := ParseContentTone("adult")
	require.NoError(t, err)
	assert.Equal(t, ToneAdult, tone)
	_, err = ParseContentTone("spicy")
	assert.ErrorIs(t, err, ErrInvalidContentTone)
}
