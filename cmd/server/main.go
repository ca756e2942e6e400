// Amumu - persona chat server
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

	"github.com/amumu-chat/amumu/internal/api"
	"github.com/amumu-chat/amumu/internal/chat"
	"github.com/amumu-chat/amumu/internal/config"
	"github.com/amumu-chat/amumu/internal/convlog"
	"github.com/amumu-chat/amumu/internal/identity"
	"github.com/amumu-chat/amumu/internal/live"
	"github.com/amumu-chat/amumu/internal/llm/gemini"
	"github.com/amumu-chat/amumu/internal/middleware"
	"github.com/amumu-chat/amumu/internal/retention"
	"github.com/amumu-chat/amumu/internal/store"
	"github.com/amumu-chat/amumu/web"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "model", cfg.Generation.Model)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	gen, err := gemini.New(context.Background(), cfg.GeminiAPIKey, cfg.Generation)
	if err != nil {
		slog.Error("Failed to initialize Gemini client", "error", err)
		os.Exit(1)
	}

	conversationLogger, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	hub := live.NewHub()
	controller := chat.NewController(repo, gen, chat.Options{
		HistoryLimit: cfg.HistoryLimit,
		Identity:     cfg.Identity,
		Notifier:     hub,
		ConvLog:      conversationLogger,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize handlers.
	wsHandler := live.NewWebSocketHandler(controller, hub, cfg.FrontendURL, cfg.IsDevelopment())
	var throttles []func(http.Handler) http.Handler
	if cfg.RateLimit > 0 {
		// Keyed by device only so rotating tab IDs does not bypass it.
		limiter := middleware.NewRateLimiter(ctx, cfg.RateLimit, cfg.RateWindow)
		throttles = append(throttles, middleware.RateLimit(limiter, func(r *http.Request) string {
			return identity.DeviceIDFromContext(r.Context())
		}))
		wsHandler.SetLimiter(limiter)
	}

	healthHandler := api.NewHealthHandler(repo)
	chatHandler := api.NewChatHandler(controller, api.Limits{
		MaxBodyBytes:   cfg.MaxRequestBodyBytes,
		MaxAvatarBytes: cfg.MaxAvatarBytes,
	}, throttles...)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(allowedOrigins, identity.SessionHeaderName))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Device-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Replies can take a while; no WriteTimeout so they are never cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	retention.StartWorker(ctx, repo, cfg.DeviceRetention, cfg.RetentionInterval, hub.CloseDevice)

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
	}

	slog.Info("Server stopped successfully")
}
