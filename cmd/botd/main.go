package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/finsight-bot/finsight/internal/api"
	"github.com/finsight-bot/finsight/internal/config"
	"github.com/finsight-bot/finsight/internal/database"
	"github.com/finsight-bot/finsight/internal/middleware"
	"github.com/finsight-bot/finsight/internal/ratelimit"
	iredis "github.com/finsight-bot/finsight/internal/redis"
	"github.com/finsight-bot/finsight/internal/scheduler"
	"github.com/finsight-bot/finsight/internal/server"
	"github.com/finsight-bot/finsight/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("validating config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), "migrations"); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Redis (HTTP flood guard)
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Services
	userRepo := users.NewRepository(pool)
	userSvc := users.NewService(userRepo, cfg.Limiter.DailyLimit)
	limiter := ratelimit.NewLimiter(cfg.Limiter, userSvc)

	// Background sweeps
	sched := scheduler.New(userSvc, limiter, cfg.Jobs.CleanupInterval, cfg.Jobs.SweepInterval)
	go sched.Run(ctx)

	// Router
	guard := middleware.NewIPGuard(redisClient, cfg.Guard.MaxReqs, cfg.Guard.WindowSec)
	handler := api.NewHandler(limiter, userSvc)
	router := api.NewRouter(pool, redisClient, api.RouterConfig{
		CORSAllowedOrigins: []string{"*"},
		Guard:              guard.Middleware,
		Admin:              middleware.RequireAPIKey(cfg.Admin.APIKey),
	}, handler)

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
