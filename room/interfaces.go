package room

import (
	"context"

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/game"
)

// Loader rebuilds a game's aggregate from storage. It returns an error
// matching game.ErrNotFound for an unknown game.
type Loader func(ctx context.Context, gameID string) (*game.Aggregate, error)

// Committer makes a command's events durable. It runs under the room lock,
// before anything is delivered.
type Committer func(ctx context.Context, agg *game.Aggregate, evts []events.Event) error

// Deliverer hands committed events to connected clients. It runs outside
// the room lock, in commit order.
type Deliverer func(roomCode string, evts []events.Event)
