// persistence/interface.go
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/models"
)

// EventStore is the append-only log. Events for one game come back in the
// order they were appended. Appending an event id that is already stored is
// a no-op when the content is identical and fails with
// events.ErrImmutableEvent otherwise.
type EventStore interface {
	SaveEvent(ctx context.Context, evt events.Event) error
	// SaveEvents appends evts atomically and in order.
	SaveEvents(ctx context.Context, evts []events.Event) error
	GetEvents(ctx context.Context, gameID string) ([]events.Event, error)
	// GetEventsSince returns the events after the first version events.
	GetEventsSince(ctx context.Context, gameID string, version int) ([]events.Event, error)
}

// SnapshotStore keeps the latest projection of each game. A snapshot never
// replaces a newer one.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, g *models.Game) error
	GetSnapshot(ctx context.Context, gameID string) (*models.Game, error)
	GetByRoomCode(ctx context.Context, roomCode string) (*models.Game, error)
}

// Database is the event-sourced storage contract the game service is
// written against.
type Database interface {
	EventStore
	SnapshotStore
	// DeleteGame removes a game's log and snapshot.
	DeleteGame(ctx context.Context, gameID string) error
	Close() error
}

// ErrRecordNotFound is returned when a game has no snapshot or no log.
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)

// Error is an infrastructure failure. It is always retryable from the
// caller's point of view.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("persistence %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Retryable marks storage failures as transient.
func (e *Error) Retryable() bool { return true }

// wrap leaves nil and the package's domain errors as they are and turns
// everything else into an *Error.
func wrap(op string, err error) error {
	if err == nil ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, events.ErrImmutableEvent) ||
		errors.Is(err, events.ErrMissingMeta) {
		return err
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsUnavailable reports whether err is an infrastructure failure rather than
// a missing record or a rejected append.
func IsUnavailable(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// sameDocument compares two JSON documents by value, so key order and
// whitespace introduced by a database (jsonb) do not matter.
func sameDocument(a, b []byte) bool {
	var x, y any
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return false
	}
	return reflect.DeepEqual(x, y)
}

func encodeSnapshot(g *models.Game) ([]byte, error) {
	if g == nil || g.ID == "" {
		return nil, fmt.Errorf("snapshot: game id is required")
	}
	return json.Marshal(g)
}

func decodeSnapshot(data []byte) (*models.Game, error) {
	var g models.Game
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &g, nil
}

func decodeEvents(gameID string, docs [][]byte) ([]events.Event, error) {
	out := make([]events.Event, 0, len(docs))
	for i, doc := range docs {
		evt, err := events.Unmarshal(doc)
		if err != nil {
			return nil, fmt.Errorf("game %s event %d: %w", gameID, i, err)
		}
		out = append(out, evt)
	}
	return out, nil
}
