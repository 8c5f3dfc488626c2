package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/slopgame/slop/game"
	"github.com/slopgame/slop/models"
)

type fakeGames struct {
	games map[string]*models.Game
	err   error
}

func (f *fakeGames) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	if f.err != nil {
		return nil, f.err
	}
	g, ok := f.games[gameID]
	if !ok {
		return nil, game.Reject(game.CodeNotFound, "no game %s", gameID)
	}
	return g, nil
}

func (f *fakeGames) GetGameByRoomCode(ctx context.Context, roomCode string) (*models.Game, error) {
	for _, g := range f.games {
		if g.RoomCode == roomCode {
			return f.GetGame(ctx, g.ID)
		}
	}
	return nil, game.Reject(game.CodeNotFound, "no game with room code %s", roomCode)
}

func startServer(t *testing.T, games GameReader) *grpc.ClientConn {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", games)
	require.NoError(t, err)
	go func() { _ = srv.Start() }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHealth(t *testing.T) {
	conn := startServer(t, &fakeGames{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := grpc_health_v1.NewHealthClient(conn)
	for _, service := range []string{"", serviceName} {
		resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus(), service)
	}
}

func TestGetGame(t *testing.T) {
	g, err := models.NewGame("g1", "ABCD", models.DefaultSettings(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	conn := startServer(t, &fakeGames{games: map[string]*models.Game{"g1": g}})
	client := NewGameQueryClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	byID, err := client.GetGame(ctx, &GetGameRequest{GameID: "g1"})
	require.NoError(t, err)
	assert.Equal(t, "ABCD", byID.Game.RoomCode)

	byCode, err := client.GetGame(ctx, &GetGameRequest{RoomCode: "ABCD"})
	require.NoError(t, err)
	assert.Equal(t, "g1", byCode.Game.ID)

	_, err = client.GetGame(ctx, &GetGameRequest{GameID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetGame(ctx, &GetGameRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetGame_StorageDown(t *testing.T) {
	conn := startServer(t, &fakeGames{err: game.Reject(game.CodeStorageUnavailable, "db down")})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewGameQueryClient(conn).GetGame(ctx, &GetGameRequest{GameID: "g1"})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
