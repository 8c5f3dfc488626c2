// broadcast/broadcast.go
package broadcast

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/slopgame/slop/logger"
	"github.com/slopgame/slop/monitor"
	"github.com/slopgame/slop/network"
	"github.com/slopgame/slop/session"
)

var (
	ErrSocketNotFound = errors.New("socket not found")
)

// Realtime delivers frames to connected sockets. Delivery is best effort:
// a failed send is reported but never undoes anything.
type Realtime interface {
	BroadcastToRoom(roomCode string, f network.Frame) error
	SendToSocket(socketID string, f network.Frame) error
	JoinRoom(socketID, roomCode string)
	LeaveRoom(socketID, roomCode string)
	SocketsInRoom(roomCode string) []string
}

// Hub is the in-process Realtime over live websocket sessions. Rooms are
// keyed by room code.
type Hub struct {
	sessionManager *session.Manager
	metrics        *monitor.Metrics
	rooms          map[string]map[string]struct{} // room code -> socket ids
	mutex          sync.RWMutex
}

func NewHub(sessionManager *session.Manager, metrics *monitor.Metrics) *Hub {
	return &Hub{
		sessionManager: sessionManager,
		metrics:        metrics,
		rooms:          make(map[string]map[string]struct{}),
	}
}

func (h *Hub) JoinRoom(socketID, roomCode string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	members, ok := h.rooms[roomCode]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[roomCode] = members
	}
	members[socketID] = struct{}{}
}

func (h *Hub) LeaveRoom(socketID, roomCode string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.leave(socketID, roomCode)
}

// LeaveAll removes a socket from every room, as on disconnect.
func (h *Hub) LeaveAll(socketID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for roomCode := range h.rooms {
		h.leave(socketID, roomCode)
	}
}

func (h *Hub) leave(socketID, roomCode string) {
	members, ok := h.rooms[roomCode]
	if !ok {
		return
	}
	delete(members, socketID)
	if len(members) == 0 {
		delete(h.rooms, roomCode)
	}
}

// SocketsInRoom returns the member socket ids in sorted order.
func (h *Hub) SocketsInRoom(roomCode string) []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	out := make([]string, 0, len(h.rooms[roomCode]))
	for id := range h.rooms[roomCode] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BroadcastToRoom sends f to every member. Every member is attempted; the
// failures are returned joined.
func (h *Hub) BroadcastToRoom(roomCode string, f network.Frame) error {
	var errs []error
	for _, socketID := range h.SocketsInRoom(roomCode) {
		if err := h.SendToSocket(socketID, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) SendToSocket(socketID string, f network.Frame) error {
	s, ok := h.sessionManager.Get(socketID)
	if !ok {
		h.metrics.IncBroadcastFailures()
		return fmt.Errorf("send %s to %s: %w", f.Type, socketID, ErrSocketNotFound)
	}
	if err := s.Send(f); err != nil {
		h.metrics.IncBroadcastFailures()
		logger.Log.Warnw("realtime delivery failed", "socket_id", socketID, "frame", f.Type, "error", err)
		return fmt.Errorf("send %s to %s: %w", f.Type, socketID, err)
	}
	return nil
}
