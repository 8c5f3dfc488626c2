// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/slopgame/slop/network"
)

// Session is one websocket connection. Its ID is the socket id recorded on
// players; it is bound to a player once the player joins or reconnects.
type Session struct {
	ID         string
	Conn       network.Connection
	CreatedAt  time.Time
	lastActive time.Time
	gameID     string
	roomCode   string
	playerID   string
	mutex      sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		lastActive: now,
	}
}

// Bind records which player of which game this socket speaks for.
func (s *Session) Bind(gameID, roomCode, playerID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.gameID, s.roomCode, s.playerID = gameID, roomCode, playerID
}

// Unbind forgets the player binding.
func (s *Session) Unbind() {
	s.Bind("", "", "")
}

// Binding returns the bound game, room code and player. ok is false for an
// unbound socket.
func (s *Session) Binding() (gameID, roomCode, playerID string, ok bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.gameID, s.roomCode, s.playerID, s.playerID != ""
}

func (s *Session) Touch() {
	s.mutex.Lock()
	s.lastActive = time.Now()
	s.mutex.Unlock()
}

func (s *Session) LastActive() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastActive
}

func (s *Session) Send(f network.Frame) error {
	return s.Conn.Send(f)
}

func (s *Session) GetID() string {
	return s.ID
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Manager indexes live sessions by socket id.
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

// GetByPlayer returns the sessions bound to a player of a game.
func (m *Manager) GetByPlayer(gameID, playerID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		g, _, p, ok := session.Binding()
		if ok && g == gameID && p == playerID {
			result = append(result, session)
		}
	}
	return result
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot of the registered sessions.
func (m *Manager) All() []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		out = append(out, session)
	}
	return out
}
