// services/game_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/slopgame/slop/auth"
	"github.com/slopgame/slop/broadcast"
	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/game"
	"github.com/slopgame/slop/logger"
	"github.com/slopgame/slop/models"
	"github.com/slopgame/slop/monitor"
	"github.com/slopgame/slop/network"
	"github.com/slopgame/slop/persistence"
	"github.com/slopgame/slop/projection"
	"github.com/slopgame/slop/room"
	"github.com/slopgame/slop/timer"
)

const tracerName = "github.com/slopgame/slop/services"

// Options tune the game service.
type Options struct {
	Defaults      models.GameSettings
	Catalog       *models.PersonalityCatalog
	Scoring       game.ScoringPolicy
	ScriptTimeout time.Duration
	// IdleTimeout evicts games without commands for this long. Zero keeps
	// games loaded until they are deleted.
	IdleTimeout time.Duration
}

// Deps are the ports the service drives. Timers and Metrics may be nil.
type Deps struct {
	DB        persistence.Database
	Realtime  broadcast.Realtime
	Generator game.ScriptGenerator
	Tokens    *auth.Issuer
	Timers    *timer.TimerManager
	Metrics   *monitor.Metrics
}

// GameService runs commands against games: validate against the loaded
// projection, append the resulting events, save a snapshot, then deliver
// the events to the game's room once the game lock is released.
type GameService struct {
	db        persistence.Database
	realtime  broadcast.Realtime
	generator game.ScriptGenerator
	tokens    *auth.Issuer
	timers    *timer.TimerManager
	metrics   *monitor.Metrics
	rooms     *room.Manager
	tracer    trace.Tracer
	opts      Options
	aggOpts   []game.Option
	newID     func() string

	guessTimers map[string]int64 // game id -> timer id
	timerMutex  sync.Mutex
}

func NewGameService(deps Deps, opts Options) *GameService {
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = 30 * time.Second
	}
	if opts.Defaults == (models.GameSettings{}) {
		opts.Defaults = models.DefaultSettings()
	}
	if opts.Scoring == (game.ScoringPolicy{}) {
		opts.Scoring = game.DefaultScoring()
	}
	s := &GameService{
		db:          deps.DB,
		realtime:    deps.Realtime,
		generator:   deps.Generator,
		tokens:      deps.Tokens,
		timers:      deps.Timers,
		metrics:     deps.Metrics,
		tracer:      otel.Tracer(tracerName),
		opts:        opts,
		newID:       uuid.NewString,
		guessTimers: make(map[string]int64),
	}
	s.aggOpts = []game.Option{game.WithScoring(opts.Scoring)}
	if opts.Catalog != nil {
		s.aggOpts = append(s.aggOpts, game.WithCatalog(opts.Catalog))
	}
	s.rooms = room.NewRoomManager(s.recover, s.commit, s.deliver)
	s.rooms.OnCountChange(s.metrics.SetActiveGames)

	if s.timers != nil && opts.IdleTimeout > 0 {
		sweep := opts.IdleTimeout / 2
		s.timers.AddTimer(sweep, sweep, func() {
			if n := s.rooms.EvictIdle(opts.IdleTimeout); n > 0 {
				logger.Log.Infow("evicted idle games", "count", n)
			}
		})
	}
	return s
}

// Rooms exposes the loaded games.
func (s *GameService) Rooms() *room.Manager { return s.rooms }

// --- ports ---

// recover rebuilds a game from its latest snapshot and the events after it.
func (s *GameService) recover(ctx context.Context, gameID string) (*game.Aggregate, error) {
	snapshot, err := s.db.GetSnapshot(ctx, gameID)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		snapshot, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	version := 0
	if snapshot != nil {
		version = snapshot.Version
	}
	tail, err := s.db.GetEventsSince(ctx, gameID, version)
	if err != nil {
		return nil, err
	}
	if snapshot == nil && len(tail) == 0 {
		return nil, game.Reject(game.CodeNotFound, "game %s not found", gameID)
	}

	res, err := projection.Replay(snapshot, tail)
	if err != nil {
		logger.Log.Errorw("game replay failed", "game_id", gameID, "snapshot_version", version, "error", err)
		return nil, game.Wrap(game.CodeInternal, err, "game history is inconsistent")
	}
	s.metrics.AddReplayed(res.Applied)
	logger.Log.Infow("game recovered", "game_id", gameID, "snapshot_version", version, "replayed", res.Applied)
	return game.Load(res.Game, s.aggOpts...), nil
}

// commit appends evts and saves a snapshot. The append is what makes a
// command durable; a failed snapshot only costs a longer replay.
func (s *GameService) commit(ctx context.Context, agg *game.Aggregate, evts []events.Event) error {
	if err := s.db.SaveEvents(ctx, evts); err != nil {
		logger.Log.Errorw("event append failed", "game_id", agg.ID(), "events", len(evts), "error", err)
		return err
	}
	s.metrics.AddEvents(evts)
	if err := s.db.SaveSnapshot(ctx, agg.Game()); err != nil {
		logger.Log.Warnw("snapshot save failed", "game_id", agg.ID(), "version", agg.Version(), "error", err)
	}
	return nil
}

// deliver broadcasts committed events to the room, one frame per event.
func (s *GameService) deliver(roomCode string, evts []events.Event) {
	if s.realtime == nil {
		return
	}
	for _, evt := range evts {
		data, err := events.Marshal(evt)
		if err != nil {
			logger.Log.Errorw("encode event for delivery", "event_type", evt.EventType(), "error", err)
			continue
		}
		f, _ := network.NewFrame(network.MsgEvent, json.RawMessage(data))
		if err := s.realtime.BroadcastToRoom(roomCode, f); err != nil {
			logger.Log.Warnw("event delivery incomplete", "room_code", roomCode, "event_type", evt.EventType(), "error", err)
		}
	}
}

func (s *GameService) sendSnapshot(socketID string, g *models.Game) {
	if s.realtime == nil || socketID == "" {
		return
	}
	f, err := network.NewFrame(network.MsgSnapshot, g)
	if err != nil {
		logger.Log.Errorw("encode snapshot", "game_id", g.ID, "error", err)
		return
	}
	if err := s.realtime.SendToSocket(socketID, f); err != nil {
		logger.Log.Warnw("snapshot delivery failed", "game_id", g.ID, "socket_id", socketID, "error", err)
	}
}

// --- command plumbing ---

type commandFunc func(agg *game.Aggregate) ([]events.Event, error)

// run executes fn on the game's room, reloading once if the room was
// evicted underneath the caller.
func (s *GameService) run(ctx context.Context, gameID string, fn commandFunc) ([]events.Event, error) {
	for attempt := 0; ; attempt++ {
		r, err := s.rooms.GetOrLoad(ctx, gameID)
		if err != nil {
			return nil, err
		}
		evts, err := r.Execute(ctx, fn)
		if errors.Is(err, room.ErrRoomClosed) && attempt == 0 {
			continue
		}
		return evts, err
	}
}

func (s *GameService) view(ctx context.Context, gameID string, fn func(agg *game.Aggregate) error) error {
	for attempt := 0; ; attempt++ {
		r, err := s.rooms.GetOrLoad(ctx, gameID)
		if err != nil {
			return err
		}
		err = r.View(fn)
		if errors.Is(err, room.ErrRoomClosed) && attempt == 0 {
			continue
		}
		return err
	}
}

// command wraps run with a span, the outcome metric and error mapping.
func (s *GameService) command(ctx context.Context, name, gameID string, fn commandFunc) ([]events.Event, error) {
	ctx, span := s.tracer.Start(ctx, "game."+name, trace.WithAttributes(attribute.String("game.id", gameID)))
	defer span.End()

	evts, err := s.run(ctx, gameID, fn)
	err = s.finish(span, name, err)
	if err == nil {
		span.SetAttributes(attribute.Int("game.events", len(evts)))
	}
	return evts, err
}

func (s *GameService) finish(span trace.Span, name string, err error) error {
	err = mapError(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(game.CodeOf(err)))
		s.metrics.ObserveCommand(name, string(game.CodeOf(err)))
		return err
	}
	s.metrics.ObserveCommand(name, "ok")
	return nil
}

// mapError turns every failure into a *game.Error with a stable code.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var ge *game.Error
	switch {
	case persistence.IsUnavailable(err):
		return game.Wrap(game.CodeStorageUnavailable, err, "storage unavailable, retry")
	case errors.Is(err, persistence.ErrRecordNotFound):
		return game.Wrap(game.CodeNotFound, err, "game not found")
	case errors.Is(err, auth.ErrInvalidToken):
		return game.Wrap(game.CodeUnauthorized, err, "invalid player token")
	case errors.As(err, &ge):
		return err
	case errors.Is(err, events.ErrImmutableEvent), game.IsReplayFailure(err):
		return game.Wrap(game.CodeInternal, err, "event log conflict")
	}
	return game.Wrap(game.CodeInternal, err, "internal error")
}

// member returns the acting player, rejecting sockets that speak for no
// player of this game.
func member(agg *game.Aggregate, playerID string) (models.Player, error) {
	p, err := agg.Player(playerID)
	if err != nil {
		return models.Player{}, game.Reject(game.CodeUnauthorized, "player %s is not in game %s", playerID, agg.ID())
	}
	return p, nil
}

// --- queries and lifecycle ---

// GetGame returns a copy of the current state of a game.
func (s *GameService) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	var g *models.Game
	err := s.view(ctx, gameID, func(agg *game.Aggregate) error {
		g = agg.Game()
		return nil
	})
	return g, mapError(err)
}

// GetGameByRoomCode resolves a room code and returns the game.
func (s *GameService) GetGameByRoomCode(ctx context.Context, roomCode string) (*models.Game, error) {
	gameID, err := s.resolveRoomCode(ctx, roomCode)
	if err != nil {
		return nil, mapError(err)
	}
	return s.GetGame(ctx, gameID)
}

func (s *GameService) resolveRoomCode(ctx context.Context, roomCode string) (string, error) {
	roomCode = normalizeRoomCode(roomCode)
	if id, ok := s.rooms.GameIDForCode(roomCode); ok {
		return id, nil
	}
	g, err := s.db.GetByRoomCode(ctx, roomCode)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return "", game.Reject(game.CodeNotFound, "no game with room code %s", roomCode)
	}
	if err != nil {
		return "", err
	}
	return g.ID, nil
}

// DeleteGame removes a finished game, or any game when force is set.
func (s *GameService) DeleteGame(ctx context.Context, gameID string, force bool) error {
	ctx, span := s.tracer.Start(ctx, "game.delete", trace.WithAttributes(attribute.String("game.id", gameID), attribute.Bool("force", force)))
	defer span.End()

	r, err := s.rooms.GetOrLoad(ctx, gameID)
	if err != nil {
		return s.finish(span, "delete_game", err)
	}
	err = r.Retire(func(agg *game.Aggregate) error {
		if err := agg.CanDelete(force); err != nil {
			return err
		}
		return s.db.DeleteGame(ctx, gameID)
	})
	if err == nil {
		s.cancelGuessTimer(gameID)
		logger.Log.Infow("game deleted", "game_id", gameID, "room_code", r.RoomCode, "force", force)
	}
	return s.finish(span, "delete_game", err)
}

// Close stops background work.
func (s *GameService) Close() {
	if s.timers != nil {
		s.timers.Stop()
	}
}
