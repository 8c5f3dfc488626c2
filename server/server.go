package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/slopgame/slop/broadcast"
	"github.com/slopgame/slop/game"
	"github.com/slopgame/slop/logger"
	"github.com/slopgame/slop/models"
	"github.com/slopgame/slop/monitor"
	"github.com/slopgame/slop/services"
	"github.com/slopgame/slop/session"
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Games    *services.GameService
	Sessions *session.Manager
	Hub      *broadcast.Hub
	Metrics  *monitor.Metrics
	Gatherer prometheus.Gatherer
}

type Options struct {
	Addr string
	// AllowedOrigins limits websocket upgrades. Empty allows every origin.
	AllowedOrigins []string
	Heartbeat      time.Duration
}

type GameServer struct {
	httpServer *http.Server
	engine     *gin.Engine
	upgrader   websocket.Upgrader
	games      *services.GameService
	sessions   *session.Manager
	hub        *broadcast.Hub
	metrics    *monitor.Metrics
	heartbeat  time.Duration
}

func NewGameServer(opts Options, deps Deps) *GameServer {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = time.Minute
	}
	s := &GameServer{
		games:     deps.Games,
		sessions:  deps.Sessions,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		heartbeat: opts.Heartbeat,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(opts.AllowedOrigins),
		},
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	engine.GET("/healthz", s.handleHealth)
	if deps.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(monitor.Handler(deps.Gatherer)))
	}
	api := engine.Group("/api")
	api.POST("/games", s.handleCreateGame)
	api.GET("/games/:code", s.handleGetGame)
	api.DELETE("/games/:id", s.handleDeleteGame)
	engine.GET("/ws", s.handleWebSocket)

	s.engine = engine
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *GameServer) Handler() http.Handler { return s.engine }

// Start serves HTTP until Shutdown.
func (s *GameServer) Start() error {
	logger.Log.Infof("Game server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every open websocket.
func (s *GameServer) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	for _, sess := range s.sessions.All() {
		_ = sess.Close()
	}
	return err
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := set[r.Header.Get("Origin")]
		return ok
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log.Debugw("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *GameServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"games":   s.games.Rooms().Count(),
		"sockets": s.sessions.Count(),
	})
}

type createGameRequest struct {
	CreatorName string               `json:"creator_name" binding:"required"`
	Settings    *models.GameSettings `json:"settings"`
}

// handleCreateGame opens a game without a socket. The returned token is used
// to attach a websocket with a reconnect message.
func (s *GameServer) handleCreateGame(c *gin.Context) {
	var req createGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, game.Wrap(game.CodeInvalidInput, err, "invalid request body"))
		return
	}
	var settings models.GameSettings
	if req.Settings != nil {
		settings = *req.Settings
	}
	w, err := s.games.CreateGame(c.Request.Context(), settings, req.CreatorName, "")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (s *GameServer) handleGetGame(c *gin.Context) {
	g, err := s.games.GetGameByRoomCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *GameServer) handleDeleteGame(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force"))
	if err := s.games.DeleteGame(c.Request.Context(), c.Param("id"), force); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error) {
	code := game.CodeOf(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		logger.Log.Errorw("request failed", "path", c.FullPath(), "code", code, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": err.Error()})
}

func httpStatus(code game.Code) int {
	switch code {
	case game.CodeNotFound:
		return http.StatusNotFound
	case game.CodeInvalidInput, game.CodeRoleCountMismatch:
		return http.StatusBadRequest
	case game.CodeUnauthorized:
		return http.StatusUnauthorized
	case game.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case game.CodeScriptGenerationTimeout:
		return http.StatusGatewayTimeout
	case game.CodeScriptGenerationFailed:
		return http.StatusBadGateway
	case game.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}
