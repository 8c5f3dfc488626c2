package rpc

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/slopgame/slop/game"
	"github.com/slopgame/slop/logger"
	"github.com/slopgame/slop/models"
)

const (
	serviceName   = "slop.v1.GameQuery"
	getGameMethod = "/" + serviceName + "/GetGame"
)

// Server manages the gRPC listener.
type Server struct {
	listener   net.Listener
	address    string
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer listens on addr and registers the health and game query
// services.
func NewServer(addr string, games GameReader) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	RegisterGameQueryServer(grpcServer, &GameQuery{games: games})
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		address:    listener.Addr().String(),
		grpcServer: grpcServer,
		health:     healthServer,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.address }

// Start serves until Stop is called.
func (s *Server) Start() error {
	logger.Log.Infof("gRPC server listening on %s", s.address)
	if err := s.grpcServer.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks the server as not serving and drains in-flight calls.
func (s *Server) Stop() {
	logger.Log.Info("Stopping gRPC server.")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// GameReader is the read side of the game service.
type GameReader interface {
	GetGame(ctx context.Context, gameID string) (*models.Game, error)
	GetGameByRoomCode(ctx context.Context, roomCode string) (*models.Game, error)
}

// GetGameRequest selects a game by id or, when GameID is empty, by room
// code.
type GetGameRequest struct {
	GameID   string `json:"game_id,omitempty"`
	RoomCode string `json:"room_code,omitempty"`
}

type GetGameReply struct {
	Game *models.Game `json:"game"`
}

// GameQueryServer is the server API of slop.v1.GameQuery.
type GameQueryServer interface {
	GetGame(ctx context.Context, req *GetGameRequest) (*GetGameReply, error)
}

// GameQuery serves game state read-only.
type GameQuery struct {
	games GameReader
}

func (q *GameQuery) GetGame(ctx context.Context, req *GetGameRequest) (*GetGameReply, error) {
	var (
		g   *models.Game
		err error
	)
	switch {
	case req.GameID != "":
		g, err = q.games.GetGame(ctx, req.GameID)
	case req.RoomCode != "":
		g, err = q.games.GetGameByRoomCode(ctx, req.RoomCode)
	default:
		return nil, status.Error(codes.InvalidArgument, "game_id or room_code is required")
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetGameReply{Game: g}, nil
}

func toStatus(err error) error {
	code := codes.Internal
	switch game.CodeOf(err) {
	case game.CodeNotFound:
		code = codes.NotFound
	case game.CodeInvalidInput:
		code = codes.InvalidArgument
	case game.CodeStorageUnavailable:
		code = codes.Unavailable
	case game.CodeUnauthorized:
		code = codes.PermissionDenied
	}
	return status.Error(code, err.Error())
}

// RegisterGameQueryServer registers srv on s.
func RegisterGameQueryServer(s grpc.ServiceRegistrar, srv GameQueryServer) {
	s.RegisterService(&gameQueryServiceDesc, srv)
}

var gameQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*GameQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetGame", Handler: getGameHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "slop/v1/game_query",
}

func getGameHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetGameRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GameQueryServer).GetGame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getGameMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GameQueryServer).GetGame(ctx, req.(*GetGameRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// GameQueryClient calls slop.v1.GameQuery.
type GameQueryClient struct {
	cc grpc.ClientConnInterface
}

func NewGameQueryClient(cc grpc.ClientConnInterface) *GameQueryClient {
	return &GameQueryClient{cc: cc}
}

func (c *GameQueryClient) GetGame(ctx context.Context, req *GetGameRequest, opts ...grpc.CallOption) (*GetGameReply, error) {
	out := new(GetGameReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, getGameMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
