// room/room.go
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/game"
)

// ErrRoomClosed is returned by a room that was evicted. Callers fetch the
// room again, which reloads the game from storage.
var ErrRoomClosed = errors.New("room closed")

// Room is the single authority over one game while it is loaded. Commands
// run one at a time; their events reach clients in commit order.
type Room struct {
	ID       string
	RoomCode string

	agg        *game.Aggregate
	manager    *Manager
	mutex      sync.Mutex
	closed     bool
	lastActive time.Time

	outbox     []events.Event
	outboxMu   sync.Mutex
	deliveryMu sync.Mutex
}

func newRoom(agg *game.Aggregate, manager *Manager) *Room {
	return &Room{
		ID:         agg.ID(),
		RoomCode:   agg.RoomCode(),
		agg:        agg,
		manager:    manager,
		lastActive: time.Now(),
	}
}

// Execute runs cmd against the aggregate under the room lock. Events the
// command emits are committed before the lock is released; if the commit
// fails the room is evicted, because the aggregate already holds the
// uncommitted state. Committed events are then delivered.
func (r *Room) Execute(ctx context.Context, cmd func(agg *game.Aggregate) ([]events.Event, error)) ([]events.Event, error) {
	evts, err := r.execute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	r.flush()
	return evts, nil
}

func (r *Room) execute(ctx context.Context, cmd func(agg *game.Aggregate) ([]events.Event, error)) ([]events.Event, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return nil, ErrRoomClosed
	}
	r.lastActive = time.Now()

	evts, err := cmd(r.agg)
	if err != nil {
		if game.IsReplayFailure(err) {
			r.closeLocked()
		}
		return nil, err
	}
	if len(evts) == 0 {
		return nil, nil
	}
	if err := r.manager.commit(ctx, r.agg, evts); err != nil {
		r.closeLocked()
		return nil, err
	}

	r.outboxMu.Lock()
	r.outbox = append(r.outbox, evts...)
	r.outboxMu.Unlock()
	return evts, nil
}

// View runs fn with the aggregate under the room lock. fn must not emit
// events.
func (r *Room) View(fn func(agg *game.Aggregate) error) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	return fn(r.agg)
}

// Retire runs fn under the room lock and evicts the room when fn succeeds.
// No command can run between fn and the eviction.
func (r *Room) Retire(fn func(agg *game.Aggregate) error) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if err := fn(r.agg); err != nil {
		return err
	}
	r.closeLocked()
	return nil
}

// flush drains the outbox. deliveryMu keeps batches in order when several
// commands finish back to back.
func (r *Room) flush() {
	r.deliveryMu.Lock()
	defer r.deliveryMu.Unlock()

	r.outboxMu.Lock()
	pending := r.outbox
	r.outbox = nil
	r.outboxMu.Unlock()

	if len(pending) > 0 && r.manager.deliver != nil {
		r.manager.deliver(r.RoomCode, pending)
	}
}

func (r *Room) closeLocked() {
	if r.closed {
		return
	}
	r.closed = true
	r.manager.forget(r)
}

// Close evicts the room.
func (r *Room) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.closeLocked()
}

func (r *Room) idleSince() time.Time {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.lastActive
}

// --- room manager ---

// Manager holds the loaded games.
type Manager struct {
	rooms   map[string]*Room
	byCode  map[string]string
	mutex   sync.RWMutex
	group   singleflight.Group
	load    Loader
	commit  Committer
	deliver Deliverer
	onCount func(int)
}

// NewRoomManager creates a manager. deliver may be nil.
func NewRoomManager(load Loader, commit Committer, deliver Deliverer) *Manager {
	return &Manager{
		rooms:   make(map[string]*Room),
		byCode:  make(map[string]string),
		load:    load,
		commit:  commit,
		deliver: deliver,
	}
}

// OnCountChange registers a callback that receives the number of loaded
// rooms whenever it changes.
func (m *Manager) OnCountChange(fn func(int)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onCount = fn
}

// CreateRoom commits the events that opened agg's game and registers its
// room. The events are delivered like any command's.
func (m *Manager) CreateRoom(ctx context.Context, agg *game.Aggregate, evts []events.Event) (*Room, error) {
	if err := m.commit(ctx, agg, evts); err != nil {
		return nil, err
	}
	room := newRoom(agg, m)
	room.outbox = append(room.outbox, evts...)

	m.mutex.Lock()
	m.rooms[room.ID] = room
	m.byCode[room.RoomCode] = room.ID
	m.countLocked()
	m.mutex.Unlock()

	room.flush()
	return room, nil
}

// GetRoom returns a loaded room.
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	room, exists := m.rooms[id]
	return room, exists
}

// GameIDForCode resolves a room code among the loaded rooms.
func (m *Manager) GameIDForCode(roomCode string) (string, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	id, ok := m.byCode[roomCode]
	return id, ok
}

// GetOrLoad returns the loaded room or recovers it from storage. Concurrent
// recoveries of one game share a single load, and the room is registered
// before any caller can run a command on it.
func (m *Manager) GetOrLoad(ctx context.Context, id string) (*Room, error) {
	if room, ok := m.GetRoom(id); ok {
		return room, nil
	}
	v, err, _ := m.group.Do(id, func() (interface{}, error) {
		if room, ok := m.GetRoom(id); ok {
			return room, nil
		}
		agg, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		room := newRoom(agg, m)
		m.mutex.Lock()
		m.rooms[id] = room
		m.byCode[room.RoomCode] = id
		m.countLocked()
		m.mutex.Unlock()
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Room), nil
}

// RemoveRoom evicts a room. The game stays in storage.
func (m *Manager) RemoveRoom(id string) {
	if room, ok := m.GetRoom(id); ok {
		room.Close()
	}
}

// EvictIdle evicts rooms without commands for longer than idle and returns
// how many were evicted.
func (m *Manager) EvictIdle(idle time.Duration) int {
	m.mutex.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mutex.RUnlock()

	cutoff := time.Now().Add(-idle)
	evicted := 0
	for _, room := range rooms {
		if room.idleSince().Before(cutoff) {
			room.Close()
			evicted++
		}
	}
	return evicted
}

// Count returns the number of loaded rooms.
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}

func (m *Manager) forget(room *Room) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.rooms[room.ID] == room {
		delete(m.rooms, room.ID)
		if m.byCode[room.RoomCode] == room.ID {
			delete(m.byCode, room.RoomCode)
		}
		m.countLocked()
	}
}

func (m *Manager) countLocked() {
	if m.onCount != nil {
		m.onCount(len(m.rooms))
	}
}
