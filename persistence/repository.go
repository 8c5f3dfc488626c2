package persistence

import (
	"context"
	"errors"

	"github.com/slopgame/slop/models"
)

// Deleter removes a game.
type Deleter interface {
	DeleteGame(ctx context.Context, gameID string) error
}

// GameRepository is the snapshot-only storage contract for deployments that
// do not need the full log. It adapts any SnapshotStore.
type GameRepository struct {
	snapshots SnapshotStore
	deleter   Deleter
}

// NewGameRepository adapts snapshots. deleter may be nil when games are
// never deleted.
func NewGameRepository(snapshots SnapshotStore, deleter Deleter) *GameRepository {
	return &GameRepository{snapshots: snapshots, deleter: deleter}
}

// SaveGame stores the game's current state.
func (r *GameRepository) SaveGame(ctx context.Context, g *models.Game) error {
	return r.snapshots.SaveSnapshot(ctx, g)
}

// GetGame loads a game by id.
func (r *GameRepository) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	return r.snapshots.GetSnapshot(ctx, gameID)
}

// GetGameByRoomCode loads a game by room code.
func (r *GameRepository) GetGameByRoomCode(ctx context.Context, roomCode string) (*models.Game, error) {
	return r.snapshots.GetByRoomCode(ctx, roomCode)
}

// DeleteGame removes a game.
func (r *GameRepository) DeleteGame(ctx context.Context, gameID string) error {
	if r.deleter == nil {
		return errors.New("game repository: delete not supported")
	}
	return r.deleter.DeleteGame(ctx, gameID)
}

// GetPlayer loads one player of a game.
func (r *GameRepository) GetPlayer(ctx context.Context, gameID, playerID string) (*models.Player, error) {
	g, err := r.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	p, err := g.Player(playerID)
	if err != nil {
		return nil, errors.Join(ErrRecordNotFound, err)
	}
	return p, nil
}

// GetTeam loads one team of a game.
func (r *GameRepository) GetTeam(ctx context.Context, gameID, teamID string) (*models.Team, error) {
	g, err := r.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	t, err := g.Team(teamID)
	if err != nil {
		return nil, errors.Join(ErrRecordNotFound, err)
	}
	return t, nil
}
