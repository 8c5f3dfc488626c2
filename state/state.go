package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/slopgame/slop/models"
)

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// forward lists the lifecycle edges. The game only ever moves forward.
var forward = map[models.GameStatus][]models.GameStatus{
	models.StatusLobby:                {models.StatusPersonalitySelection, models.StatusPlaying},
	models.StatusPersonalitySelection: {models.StatusPlaying},
	models.StatusPlaying:              {models.StatusFinished},
}

// Allowed reports whether the lifecycle permits moving from one status to
// another. Staying in the same status is always allowed.
func Allowed(from, to models.GameStatus) bool {
	if from == to {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine is a lifecycle state machine with optional guards per edge.
type Machine struct {
	current     models.GameStatus
	transitions map[models.GameStatus]map[models.GameStatus]func() bool // from -> to -> condition
	mutex       sync.RWMutex
}

// NewMachine returns a machine positioned at the given status.
func NewMachine(initial models.GameStatus) *Machine {
	return &Machine{
		current:     initial,
		transitions: make(map[models.GameStatus]map[models.GameStatus]func() bool),
	}
}

// AddTransition guards an edge with a condition. The edge itself must be
// part of the forward lifecycle.
func (sm *Machine) AddTransition(from, to models.GameStatus, condition func() bool) error {
	if !Allowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, from, to)
	}
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.transitions[from]; !exists {
		sm.transitions[from] = make(map[models.GameStatus]func() bool)
	}
	sm.transitions[from][to] = condition
	return nil
}

// Check reports whether the machine could move to the given status now.
func (sm *Machine) Check(to models.GameStatus) error {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.check(to)
}

func (sm *Machine) check(to models.GameStatus) error {
	if sm.current == to || !Allowed(sm.current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, sm.current, to)
	}
	if conditions, exists := sm.transitions[sm.current]; exists {
		if condition, exists := conditions[to]; exists && condition != nil && !condition() {
			return fmt.Errorf("%w: %s -> %s: guard failed", ErrTransitionNotAllowed, sm.current, to)
		}
	}
	return nil
}

// ChangeState moves to the given status if the edge and its guard allow it.
func (sm *Machine) ChangeState(to models.GameStatus) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if err := sm.check(to); err != nil {
		return err
	}
	sm.current = to
	return nil
}

// Current returns the current status.
func (sm *Machine) Current() models.GameStatus {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.current
}

// MinTeamsToStart is the number of teams required to leave the lobby.
const MinTeamsToStart = 2

// ForGame builds the lifecycle machine for a game with the command-side
// guards wired to its live state.
func ForGame(g *models.Game) *Machine {
	sm := NewMachine(g.Status)
	_ = sm.AddTransition(models.StatusLobby, models.StatusPersonalitySelection, func() bool {
		return len(g.Teams) >= MinTeamsToStart
	})
	_ = sm.AddTransition(models.StatusPersonalitySelection, models.StatusPlaying, func() bool {
		return len(g.Teams) >= MinTeamsToStart
	})
	_ = sm.AddTransition(models.StatusPlaying, models.StatusFinished, func() bool {
		r, err := g.Round(g.CurrentRound)
		return err == nil && r.Completed && g.CurrentRound+1 >= g.TotalRounds()
	})
	return sm
}
