// Personas - multi-persona chat fan-out server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/lloydchang/personas/internal/chat"
	"github.com/lloydchang/personas/internal/config"
	"github.com/lloydchang/personas/internal/middleware"
	"github.com/lloydchang/personas/internal/pagefetch"
	"github.com/lloydchang/personas/internal/provider"
	"github.com/lloydchang/personas/internal/ratelimit"
	"github.com/lloydchang/personas/internal/session"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "history_store", cfg.HistoryStore)

	// Initialize the history store.
	var storeOpts []session.StoreOption
	if cfg.HistoryStore == "redis" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			slog.Error("Redis health check failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		slog.Info("Redis connected", "addr", cfg.RedisAddr)
		storeOpts = append(storeOpts,
			session.WithRedisClient(redisClient),
			session.WithRedisTTL(cfg.SessionTimeout*2),
		)
	}

	store, err := session.NewStore(session.StoreKind(cfg.HistoryStore), storeOpts...)
	if err != nil {
		slog.Error("Failed to initialize history store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close history store", "error", closeErr)
		}
	}()

	// Build the active bot set from configured providers.
	bots := provider.BuildBots(cfg.Provider, provider.WithTimeout(cfg.ProviderTimeout))
	if len(bots) == 0 {
		slog.Warn("No providers configured; chat responses will be empty")
	}
	for _, bot := range bots {
		slog.Info("Provider active", "persona", bot.Persona)
	}

	// Initialize services.
	tracker := session.NewTracker(store, cfg.SessionTimeout)
	limiter := ratelimit.New(cfg.RateLimit, cfg.RateWindow)
	orch := chat.New(bots, tracker, limiter, chat.Options{
		SystemPrompt:       cfg.SystemPrompt,
		MaxContextMessages: cfg.MaxContextMessages,
		MaxPromptChars:     cfg.MaxPromptChars,
	})

	// Initialize handlers.
	chatHandler := chat.NewHandler(orch)
	fetchHandler := pagefetch.NewHandler(pagefetch.New(30 * time.Second))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	chatHandler.RegisterRoutes(r)
	fetchHandler.RegisterRoutes(r)

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second,
	}

	// Start the session sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker.StartSweeper(ctx, cfg.SweepInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
