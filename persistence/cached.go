package persistence

import (
	"context"
	"errors"

	"github.com/slopgame/slop/logger"
	"github.com/slopgame/slop/models"
)

// SnapshotCache is a snapshot store that can forget a game.
type SnapshotCache interface {
	SnapshotStore
	Invalidate(ctx context.Context, gameID string) error
}

// CachedStore puts a snapshot cache in front of a durable Database. Writes
// go to the database first; cache failures are logged and never fail the
// caller.
type CachedStore struct {
	Database
	cache SnapshotCache
}

// NewCachedStore layers cache over db.
func NewCachedStore(db Database, cache SnapshotCache) *CachedStore {
	return &CachedStore{Database: db, cache: cache}
}

// SaveSnapshot writes through to the database, then the cache.
func (c *CachedStore) SaveSnapshot(ctx context.Context, g *models.Game) error {
	if err := c.Database.SaveSnapshot(ctx, g); err != nil {
		return err
	}
	if err := c.cache.SaveSnapshot(ctx, g); err != nil {
		logger.Log.Warnw("snapshot cache write failed", "game_id", g.ID, "error", err)
	}
	return nil
}

// GetSnapshot reads the cache, falling back to the database.
func (c *CachedStore) GetSnapshot(ctx context.Context, gameID string) (*models.Game, error) {
	if g, err := c.cache.GetSnapshot(ctx, gameID); err == nil {
		return g, nil
	} else if !errors.Is(err, ErrRecordNotFound) {
		logger.Log.Warnw("snapshot cache read failed", "game_id", gameID, "error", err)
	}
	g, err := c.Database.GetSnapshot(ctx, gameID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, g)
	return g, nil
}

// GetByRoomCode reads the cache, falling back to the database.
func (c *CachedStore) GetByRoomCode(ctx context.Context, roomCode string) (*models.Game, error) {
	if g, err := c.cache.GetByRoomCode(ctx, roomCode); err == nil {
		return g, nil
	} else if !errors.Is(err, ErrRecordNotFound) {
		logger.Log.Warnw("snapshot cache read failed", "room_code", roomCode, "error", err)
	}
	g, err := c.Database.GetByRoomCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, g)
	return g, nil
}

// DeleteGame deletes from the database and drops the cached copy.
func (c *CachedStore) DeleteGame(ctx context.Context, gameID string) error {
	if err := c.Database.DeleteGame(ctx, gameID); err != nil {
		return err
	}
	if err := c.cache.Invalidate(ctx, gameID); err != nil {
		logger.Log.Warnw("snapshot cache invalidate failed", "game_id", gameID, "error", err)
	}
	return nil
}

func (c *CachedStore) fill(ctx context.Context, g *models.Game) {
	if err := c.cache.SaveSnapshot(ctx, g); err != nil {
		logger.Log.Warnw("snapshot cache fill failed", "game_id", g.ID, "error", err)
	}
}
