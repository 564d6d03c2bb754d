// Gemini Image Chat - marketing image generation chat server
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

	"github.com/alex-trdst/gemini-image-chat/internal/api"
	"github.com/alex-trdst/gemini-image-chat/internal/chat"
	"github.com/alex-trdst/gemini-image-chat/internal/config"
	"github.com/alex-trdst/gemini-image-chat/internal/gemini"
	"github.com/alex-trdst/gemini-image-chat/internal/middleware"
	"github.com/alex-trdst/gemini-image-chat/internal/store"
	"github.com/alex-trdst/gemini-image-chat/internal/ws"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	// Generation gateway (optional: without a key the protocol stays up
	// and answers generation requests with a typed error frame).
	var generator gemini.Generator
	if cfg.GeminiAPIKey != "" {
		client, err := gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GenerationTimeout)
		if err != nil {
			slog.Error("Failed to initialize Gemini client", "error", err)
			os.Exit(1)
		}
		generator = client
		slog.Info("Gemini gateway configured", "model", cfg.GeminiModel)
	} else {
		slog.Warn("GEMINI_API_KEY not set - image generation will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize the protocol core. Session workers run on the server
	// lifetime context so a client disconnect never cancels a generation.
	engine := chat.NewEngine(repo, generator, chat.NewIntentDetector())
	registry := chat.NewRegistry(ctx, repo, engine)
	defer registry.Close()

	cm := ws.NewConnManager()

	// Initialize handlers.
	wsHandler := ws.NewHandler(registry, cm, cfg.FrontendURL, cfg.IsDevelopment())
	sessionHandler := api.NewSessionHandler(repo, registry, cm)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() && cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(allowedOrigins))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/image-chat/{sessionID}", wsHandler.ServeHTTP)

	// WriteTimeout stays 0: generation turns hold the connection open far
	// longer than any sane response timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

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
