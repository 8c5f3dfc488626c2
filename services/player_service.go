// services/player_service.go
package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/game"
	"github.com/slopgame/slop/logger"
	"github.com/slopgame/slop/models"
	"github.com/slopgame/slop/network"
	"github.com/slopgame/slop/persistence"
)

// roomCodeAlphabet leaves out I and O, which read as 1 and 0.
const (
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	roomCodeLength   = 4
	roomCodeAttempts = 16
)

func normalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func randomRoomCode() string {
	b := make([]byte, roomCodeLength)
	for i := range b {
		b[i] = roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))]
	}
	return string(b)
}

// newRoomCode draws codes until one is free among loaded and stored games.
func (s *GameService) newRoomCode(ctx context.Context) (string, error) {
	for i := 0; i < roomCodeAttempts; i++ {
		code := randomRoomCode()
		if _, taken := s.rooms.GameIDForCode(code); taken {
			continue
		}
		_, err := s.db.GetByRoomCode(ctx, code)
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", game.Reject(game.CodeInternal, "no free room code after %d attempts", roomCodeAttempts)
}

// withDefaults fills unset settings from the configured defaults.
func (s *GameService) withDefaults(settings models.GameSettings) models.GameSettings {
	d := s.opts.Defaults
	if settings.RoundsPerTeam == 0 {
		settings.RoundsPerTeam = d.RoundsPerTeam
	}
	if settings.GuessTimerSeconds == 0 {
		settings.GuessTimerSeconds = d.GuessTimerSeconds
	}
	if settings.MaxPlayersPerTeam == 0 {
		settings.MaxPlayersPerTeam = d.MaxPlayersPerTeam
	}
	if settings.ContentTone == "" {
		settings.ContentTone = d.ContentTone
	}
	return settings
}

func (s *GameService) welcome(gameID, roomCode, playerID string) (network.Welcome, error) {
	w := network.Welcome{GameID: gameID, PlayerID: playerID, RoomCode: roomCode}
	if s.tokens == nil {
		return w, nil
	}
	token, err := s.tokens.Issue(gameID, playerID)
	if err != nil {
		return network.Welcome{}, game.Wrap(game.CodeInternal, err, "issue player token")
	}
	w.Token = token
	return w, nil
}

// CreateGame opens a game with a fresh room code and seats its creator.
func (s *GameService) CreateGame(ctx context.Context, settings models.GameSettings, creatorName, socketID string) (network.Welcome, error) {
	ctx, span := s.tracer.Start(ctx, "game.create")
	defer span.End()

	code, err := s.newRoomCode(ctx)
	if err != nil {
		return network.Welcome{}, s.finish(span, "create_game", err)
	}
	gameID, playerID := s.newID(), s.newID()
	span.SetAttributes(attribute.String("game.id", gameID), attribute.String("game.room_code", code))

	agg, evts, err := game.Create(gameID, code, s.withDefaults(settings), s.aggOpts...)
	if err != nil {
		return network.Welcome{}, s.finish(span, "create_game", err)
	}
	joined, err := agg.AddPlayer(playerID, creatorName, socketID, true)
	if err != nil {
		return network.Welcome{}, s.finish(span, "create_game", err)
	}
	evts = append(evts, joined...)

	if s.realtime != nil && socketID != "" {
		s.realtime.JoinRoom(socketID, code)
	}
	if _, err := s.rooms.CreateRoom(ctx, agg, evts); err != nil {
		if s.realtime != nil && socketID != "" {
			s.realtime.LeaveRoom(socketID, code)
		}
		return network.Welcome{}, s.finish(span, "create_game", err)
	}
	logger.Log.Infow("game created", "game_id", gameID, "room_code", code, "player_id", playerID)
	w, err := s.welcome(gameID, code, playerID)
	return w, s.finish(span, "create_game", err)
}

// JoinGame seats a new player in the game with the given room code.
func (s *GameService) JoinGame(ctx context.Context, roomCode, name, socketID string) (network.Welcome, error) {
	ctx, span := s.tracer.Start(ctx, "game.join", trace.WithAttributes(attribute.String("game.room_code", roomCode)))
	defer span.End()

	gameID, err := s.resolveRoomCode(ctx, roomCode)
	if err != nil {
		return network.Welcome{}, s.finish(span, "join_game", err)
	}
	code := normalizeRoomCode(roomCode)
	playerID := s.newID()

	if s.realtime != nil && socketID != "" {
		s.realtime.JoinRoom(socketID, code)
	}
	var snapshot *models.Game
	_, err = s.run(ctx, gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		evts, err := agg.AddPlayer(playerID, name, socketID, false)
		if err == nil {
			snapshot = agg.Game()
		}
		return evts, err
	})
	if err != nil {
		if s.realtime != nil && socketID != "" {
			s.realtime.LeaveRoom(socketID, code)
		}
		return network.Welcome{}, s.finish(span, "join_game", err)
	}
	s.sendSnapshot(socketID, snapshot)
	w, err := s.welcome(gameID, code, playerID)
	return w, s.finish(span, "join_game", err)
}

// Reconnect binds the player named by token to a new socket.
func (s *GameService) Reconnect(ctx context.Context, token, socketID string) (network.Welcome, error) {
	ctx, span := s.tracer.Start(ctx, "game.reconnect")
	defer span.End()

	if s.tokens == nil {
		return network.Welcome{}, s.finish(span, "reconnect", game.Reject(game.CodeUnauthorized, "reconnection is disabled"))
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return network.Welcome{}, s.finish(span, "reconnect", err)
	}
	var snapshot *models.Game
	_, err = s.run(ctx, claims.GameID, func(agg *game.Aggregate) ([]events.Event, error) {
		evts, err := agg.Reconnect(claims.PlayerID, socketID)
		if err == nil {
			snapshot = agg.Game()
		}
		return evts, err
	})
	if err != nil {
		return network.Welcome{}, s.finish(span, "reconnect", err)
	}
	if s.realtime != nil {
		s.realtime.JoinRoom(socketID, snapshot.RoomCode)
	}
	s.sendSnapshot(socketID, snapshot)
	return network.Welcome{GameID: claims.GameID, PlayerID: claims.PlayerID, RoomCode: snapshot.RoomCode, Token: token}, s.finish(span, "reconnect", nil)
}

// LeaveGame removes the player and detaches the socket from the room.
func (s *GameService) LeaveGame(ctx context.Context, gameID, playerID, socketID string) error {
	var code string
	_, err := s.command(ctx, "leave_game", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if _, err := member(agg, playerID); err != nil {
			return nil, err
		}
		code = agg.RoomCode()
		return agg.RemovePlayer(playerID)
	})
	if err == nil && s.realtime != nil && socketID != "" {
		s.realtime.LeaveRoom(socketID, code)
	}
	return err
}
