// SHSH Relay - chat completion relay server
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

	"github.com/ashureev/shsh-relay/internal/api"
	"github.com/ashureev/shsh-relay/internal/completion"
	"github.com/ashureev/shsh-relay/internal/config"
	"github.com/ashureev/shsh-relay/internal/conversation"
	"github.com/ashureev/shsh-relay/internal/cooldown"
	"github.com/ashureev/shsh-relay/internal/middleware"
	"github.com/ashureev/shsh-relay/internal/relay"
	"github.com/ashureev/shsh-relay/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting relay",
		"port", cfg.Port,
		"store_backend", cfg.Store.Backend,
		"cooldown_window", cfg.CooldownWindow,
		"reset_threshold", cfg.ResetThreshold,
		"auth_enabled", cfg.AuthEnabled(),
	)

	// Initialize stores.
	stores, err := store.Open(cfg.Store.Backend, cfg.Store.DBPath, cfg.Store.DataDir)
	if err != nil {
		slog.Error("Failed to initialize stores", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := stores.Close(); closeErr != nil {
			slog.Error("Failed to close stores", "error", closeErr)
		}
	}()

	if err := stores.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}

	// Sessions and cooldowns do not survive a restart.
	if err := stores.ResetAll(context.Background()); err != nil {
		slog.Error("Failed to reset stores", "error", err)
		os.Exit(1)
	}
	slog.Info("Stores ready")

	// Initialize services.
	tracker := cooldown.NewTracker(stores.Cooldowns, cfg.CooldownWindow)
	buffer := conversation.NewBuffer(stores.Sessions, cfg.ResetThreshold)

	client, err := completion.NewClient(completion.Config{
		BaseURL: cfg.Completion.BaseURL,
		Timeout: cfg.Completion.Timeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize completion client", "error", err)
		os.Exit(1)
	}

	orchestrator := relay.New(tracker, buffer, client, logger)
	handler := api.NewHandler(orchestrator, stores)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	// Ingress routes require the bot token when one is configured.
	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerToken(cfg.Platform.BotToken))
		handler.RegisterRoutes(r)
	})

	// Create server.
	// Note: WebSocket chats are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	slog.Info("Server stopped successfully", "stats", orchestrator.GetStats())
}
