package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/slopgame/slop/auth"
	"github.com/slopgame/slop/broadcast"
	"github.com/slopgame/slop/config"
	"github.com/slopgame/slop/game"
	"github.com/slopgame/slop/llm"
	"github.com/slopgame/slop/logger"
	"github.com/slopgame/slop/monitor"
	"github.com/slopgame/slop/persistence"
	"github.com/slopgame/slop/rpc"
	"github.com/slopgame/slop/server"
	"github.com/slopgame/slop/services"
	"github.com/slopgame/slop/session"
	"github.com/slopgame/slop/telemetry"
	"github.com/slopgame/slop/timer"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "slop: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Log.Warnw("telemetry shutdown", "error", err)
		}
	}()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Log.Infow("Database connection successful.", "driver", cfg.Database.Driver, "redis", cfg.Redis.Enabled)

	generator, err := newGenerator(cfg)
	if err != nil {
		return err
	}
	tokens, err := newIssuer(cfg.Auth)
	if err != nil {
		return err
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics("slop", reg)

	timers := timer.NewTimerManager(timer.DefaultTick)
	sessions := session.NewManager()
	hub := broadcast.NewHub(sessions, metrics)

	games := services.NewGameService(services.Deps{
		DB:        db,
		Realtime:  hub,
		Generator: generator,
		Tokens:    tokens,
		Timers:    timers,
		Metrics:   metrics,
	}, services.Options{
		Defaults:      cfg.Settings(),
		Catalog:       catalog,
		Scoring:       cfg.Scoring,
		ScriptTimeout: cfg.LLM.Timeout,
		IdleTimeout:   cfg.Game.IdleTimeout,
	})
	defer games.Close()

	gameServer := server.NewGameServer(server.Options{
		Addr:           cfg.Server.HTTPAddress,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Heartbeat:      cfg.Server.Heartbeat,
	}, server.Deps{
		Games:    games,
		Sessions: sessions,
		Hub:      hub,
		Metrics:  metrics,
		Gatherer: reg,
	})
	rpcServer, err := rpc.NewServer(cfg.Server.GRPCAddress, games)
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(gameServer.Start)
	g.Go(rpcServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutting down.")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rpcServer.Stop()
		return gameServer.Shutdown(sctx)
	})
	return g.Wait()
}

func openDatabase(ctx context.Context, cfg *config.Config) (persistence.Database, error) {
	var (
		db  persistence.Database
		err error
	)
	pg := cfg.Database.Postgres
	switch cfg.Database.Driver {
	case "memory":
		db = persistence.NewMemoryStore()
	case "postgres":
		db, err = persistence.NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "gorm":
		db, err = persistence.NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "sqlite":
		db, err = persistence.NewSQLite(cfg.Database.SQLite.Path)
	default:
		err = fmt.Errorf("unknown driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, err
	}
	if !cfg.Redis.Enabled {
		return db, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cache := persistence.NewRedisSnapshotStore(rdb, cfg.Redis.SnapshotTTL)
	if err := cache.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return persistence.NewCachedStore(db, cache), nil
}

func newGenerator(cfg *config.Config) (game.ScriptGenerator, error) {
	if cfg.LLM.Provider == "openai" {
		return llm.NewOpenAIGenerator(cfg.LLM.Config)
	}
	logger.Log.Warn("Using canned scripts; set llm.provider=openai for generated ones.")
	return llm.Canned{}, nil
}

func newIssuer(cfg config.AuthConfig) (*auth.Issuer, error) {
	secret := cfg.TokenSecret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		secret = hex.EncodeToString(buf)
		logger.Log.Warn("auth.token_secret is not set; reconnect tokens will not survive a restart.")
	}
	return auth.NewIssuer(secret, cfg.TokenTTL)
}
