package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slopgame/slop/models"
)

// saveSnapshotScript writes a snapshot hash and its room-code index unless a
// newer version is already cached.
var saveSnapshotScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'room_code', ARGV[2], 'data', ARGV[3])
redis.call('SET', KEYS[2], ARGV[4])
if tonumber(ARGV[5]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
  redis.call('PEXPIRE', KEYS[2], ARGV[5])
end
return 1
`)

// RedisSnapshotStore caches snapshots in Redis. It holds no event log and is
// meant to sit in front of a durable store.
type RedisSnapshotStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSnapshotStore wraps a client. A zero ttl keeps entries forever.
func NewRedisSnapshotStore(rdb *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{rdb: rdb, ttl: ttl}
}

func snapshotKey(gameID string) string { return fmt.Sprintf("slop:snapshot:%s", gameID) }

func roomKey(roomCode string) string { return fmt.Sprintf("slop:room:%s", roomCode) }

// SaveSnapshot caches g unless a newer version is cached.
func (r *RedisSnapshotStore) SaveSnapshot(ctx context.Context, g *models.Game) error {
	data, err := encodeSnapshot(g)
	if err != nil {
		return err
	}
	keys := []string{snapshotKey(g.ID), roomKey(g.RoomCode)}
	err = saveSnapshotScript.Run(ctx, r.rdb, keys, g.Version, g.RoomCode, data, g.ID, r.ttl.Milliseconds()).Err()
	return wrap("cache snapshot", err)
}

// GetSnapshot returns the cached snapshot of a game.
func (r *RedisSnapshotStore) GetSnapshot(ctx context.Context, gameID string) (*models.Game, error) {
	data, err := r.rdb.HGet(ctx, snapshotKey(gameID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, wrap("get cached snapshot", err)
	}
	return decodeSnapshot(data)
}

// GetByRoomCode resolves the room code index and returns that snapshot.
func (r *RedisSnapshotStore) GetByRoomCode(ctx context.Context, roomCode string) (*models.Game, error) {
	gameID, err := r.rdb.Get(ctx, roomKey(roomCode)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}
		return nil, wrap("get cached room", err)
	}
	return r.GetSnapshot(ctx, gameID)
}

// Invalidate drops a game's snapshot and its room code entry.
func (r *RedisSnapshotStore) Invalidate(ctx context.Context, gameID string) error {
	key := snapshotKey(gameID)
	roomCode, err := r.rdb.HGet(ctx, key, "room_code").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return wrap("invalidate snapshot", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if roomCode != "" {
		pipe.Del(ctx, roomKey(roomCode))
	}
	_, err = pipe.Exec(ctx)
	return wrap("invalidate snapshot", err)
}

// Ping checks the connection.
func (r *RedisSnapshotStore) Ping(ctx context.Context) error {
	return wrap("ping", r.rdb.Ping(ctx).Err())
}
