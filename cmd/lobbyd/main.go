// Package main provides the lobbyd matchmaking server: a websocket
// gateway in front of the in-process matchmaker, with account routes
// backed by PostgreSQL.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/lobbyd/lobbyd/internal/config"
	"github.com/lobbyd/lobbyd/internal/gateway"
	"github.com/lobbyd/lobbyd/internal/identity"
	"github.com/lobbyd/lobbyd/internal/match"
	"github.com/lobbyd/lobbyd/internal/observability"
	"github.com/lobbyd/lobbyd/internal/server"
	"github.com/lobbyd/lobbyd/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting lobbyd",
		zap.String("addr", cfg.Server.Addr()),
		zap.Int("token_length", cfg.Matchmaker.TokenLength),
		zap.Duration("confirm_timeout", cfg.Matchmaker.ConfirmTimeout),
	)

	// Connect to PostgreSQL
	ctx := context.Background()
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	// Build services
	accounts := postgres.NewAccountRepository(pool.DB())
	identities := identity.NewService(accounts, logger)
	sessions := identity.NewSessionStore()
	authHandler := gateway.NewAuthHandler(identities, sessions, logger)

	hub := gateway.NewHub(logger)
	matchmaker := match.NewMatchmaker(cfg.Matchmaker, match.NewCryptoSource(), hub, logger)
	hub.Bind(matchmaker)

	httpServer := gateway.NewServer(cfg.Server, cfg.WebSocket, hub, authHandler, logger)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				if err := pool.Health(ctx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		},
		StopFn: func() {
			pool.Close()
		},
	})

	lifecycle.Add("matchmaker", matchmaker)
	lifecycle.Add("http", httpServer)

	logger.Info("lobbyd initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Server.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
