package persistence

import (
	"context"
	"sync"

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/models"
)

type memoryEvent struct {
	gameID string
	data   []byte
}

type memorySnapshot struct {
	roomCode string
	version  int
	data     []byte
}

// MemoryStore keeps everything in process memory. Events and snapshots are
// held in encoded form, so nothing handed back to a caller aliases the store.
type MemoryStore struct {
	mu        sync.RWMutex
	logs      map[string][][]byte // game id -> ordered event documents
	byEventID map[string]memoryEvent
	snapshots map[string]memorySnapshot
	rooms     map[string]string // room code -> game id
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs:      make(map[string][][]byte),
		byEventID: make(map[string]memoryEvent),
		snapshots: make(map[string]memorySnapshot),
		rooms:     make(map[string]string),
	}
}

// SaveEvent appends one event.
func (m *MemoryStore) SaveEvent(ctx context.Context, evt events.Event) error {
	return m.SaveEvents(ctx, []events.Event{evt})
}

// SaveEvents appends evts in order. Nothing is stored when any of them is
// rejected.
func (m *MemoryStore) SaveEvents(ctx context.Context, evts []events.Event) error {
	records := make([]events.Record, 0, len(evts))
	for _, evt := range evts {
		rec, err := events.ToRecord(evt)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := make([]events.Record, 0, len(records))
	seen := make(map[string][]byte, len(records))
	for _, rec := range records {
		if existing, ok := m.byEventID[rec.EventID]; ok {
			if existing.gameID != rec.GameID || !sameDocument(existing.data, rec.Data) {
				return events.ErrImmutableEvent
			}
			continue
		}
		if prev, ok := seen[rec.EventID]; ok {
			if !sameDocument(prev, rec.Data) {
				return events.ErrImmutableEvent
			}
			continue
		}
		seen[rec.EventID] = rec.Data
		fresh = append(fresh, rec)
	}
	for _, rec := range fresh {
		m.logs[rec.GameID] = append(m.logs[rec.GameID], rec.Data)
		m.byEventID[rec.EventID] = memoryEvent{gameID: rec.GameID, data: rec.Data}
	}
	return nil
}

// GetEvents returns a game's full log.
func (m *MemoryStore) GetEvents(ctx context.Context, gameID string) ([]events.Event, error) {
	return m.GetEventsSince(ctx, gameID, 0)
}

// GetEventsSince returns the events after the first version.
func (m *MemoryStore) GetEventsSince(ctx context.Context, gameID string, version int) ([]events.Event, error) {
	m.mu.RLock()
	docs := m.logs[gameID]
	if version < 0 {
		version = 0
	}
	if version > len(docs) {
		version = len(docs)
	}
	tail := append([][]byte(nil), docs[version:]...)
	m.mu.RUnlock()

	return decodeEvents(gameID, tail)
}

// SaveSnapshot stores g unless a newer snapshot is already there.
func (m *MemoryStore) SaveSnapshot(ctx context.Context, g *models.Game) error {
	data, err := encodeSnapshot(g)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.snapshots[g.ID]; ok && cur.version > g.Version {
		return nil
	}
	m.snapshots[g.ID] = memorySnapshot{roomCode: g.RoomCode, version: g.Version, data: data}
	m.rooms[g.RoomCode] = g.ID
	return nil
}

// GetSnapshot returns the latest snapshot of a game.
func (m *MemoryStore) GetSnapshot(ctx context.Context, gameID string) (*models.Game, error) {
	m.mu.RLock()
	snap, ok := m.snapshots[gameID]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrRecordNotFound
	}
	return decodeSnapshot(snap.data)
}

// GetByRoomCode returns the snapshot of the game most recently saved under
// roomCode.
func (m *MemoryStore) GetByRoomCode(ctx context.Context, roomCode string) (*models.Game, error) {
	m.mu.RLock()
	gameID, ok := m.rooms[roomCode]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrRecordNotFound
	}
	return m.GetSnapshot(ctx, gameID)
}

// DeleteGame removes a game's log and snapshot.
func (m *MemoryStore) DeleteGame(ctx context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, hasSnap := m.snapshots[gameID]
	_, hasLog := m.logs[gameID]
	if !hasSnap && !hasLog {
		return ErrRecordNotFound
	}
	for id, evt := range m.byEventID {
		if evt.gameID == gameID {
			delete(m.byEventID, id)
		}
	}
	delete(m.logs, gameID)
	delete(m.snapshots, gameID)
	if hasSnap && m.rooms[snap.roomCode] == gameID {
		delete(m.rooms, snap.roomCode)
	}
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
