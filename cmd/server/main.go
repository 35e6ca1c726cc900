// Agent Gateway Server
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

	"github.com/docker/docker/client"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/agentgateway/internal/audit"
	"github.com/ashureev/agentgateway/internal/config"
	"github.com/ashureev/agentgateway/internal/login"
	"github.com/ashureev/agentgateway/internal/middleware"
	"github.com/ashureev/agentgateway/internal/rollout"
	"github.com/ashureev/agentgateway/internal/session"
	"github.com/ashureev/agentgateway/internal/wsapi"
	"github.com/ashureev/agentgateway/web"
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

	slog.Info("Starting server", "port", cfg.Port, "sandbox", cfg.UsesSandboxBackend())

	// Rollout index.
	rolloutStore, err := rollout.Open(cfg.RolloutDBPath)
	if err != nil {
		slog.Error("Failed to open rollout index", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := rolloutStore.Close(); closeErr != nil {
			slog.Error("Failed to close rollout index", "error", closeErr)
		}
	}()
	if err := rolloutStore.Ping(context.Background()); err != nil {
		slog.Error("Rollout index health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Rollout index ready", "path", cfg.RolloutDBPath)

	// Conversation audit trail.
	auditLogger, err := audit.New(audit.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize audit logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := auditLogger.Close(); closeErr != nil {
			slog.Error("Failed to close audit logger", "error", closeErr)
		}
	}()

	// Optional Docker client, only dialed when a sandbox container is configured.
	var dockerClient *client.Client
	if cfg.UsesSandboxBackend() {
		dockerClient, err = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			slog.Error("Failed to initialize docker client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := dockerClient.Close(); closeErr != nil {
				slog.Error("Failed to close docker client", "error", closeErr)
			}
		}()
		slog.Info("PTY bridge using docker exec backend", "container_id", cfg.Sandbox.ContainerID)
	} else {
		slog.Info("PTY bridge using local PTY backend")
	}

	// Session registry.
	registry := session.NewRegistry()
	defer registry.CloseAll()

	// Login coordinator. No real OAuth callback server is wired into this
	// gateway's scope (see DESIGN.md); Start always reports that no login
	// flow is available, so no login is ever pending and /api/login/status
	// reports only what the credential file says (not_authenticated when it
	// is absent) until a concrete Starter is supplied by deployment-specific
	// code.
	loginCoordinator := login.New(unavailableLoginStarter, login.FileCredentialReader{Path: cfg.LoginCredentialPath})

	// Handlers.
	eventsHandler := wsapi.NewEventsHandler(registry, auditLogger, "*", false, logger)
	ptyHandler := wsapi.NewPTYHandler(cfg, dockerClient, logger)
	httpAPI := wsapi.NewAPI(registry, rolloutStore, cfg.RolloutListN, loginCoordinator, auditLogger, logger)

	// Router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	r.Get("/healthz", httpAPI.Healthz)
	r.Post("/api/sessions", httpAPI.CreateSession)
	r.Post("/api/sessions/resume", httpAPI.ResumeSession)
	r.Get("/api/sessions/{id}/events", eventsHandler.ServeHTTP)
	r.Get("/api/pty", ptyHandler.ServeHTTP)
	r.Get("/api/rollout/conversations", httpAPI.ListRollouts)
	r.Post("/api/login/start", httpAPI.LoginStart)
	r.Get("/api/login/status", httpAPI.LoginStatus)
	r.Post("/api/login/cancel", httpAPI.LoginCancel)

	r.Handle("/*", web.SPAHandler(cfg.StaticDir))

	srv := &http.Server{
		Addr:         cfg.Host + ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout, required for long-lived event/PTY WebSocket connections
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// unavailableLoginStarter is the default login.Starter: this gateway does
// not embed an OAuth callback server, so Start always fails until a real
// one is wired in by a deployment that needs it.
func unavailableLoginStarter(ctx context.Context) (login.Server, error) {
	return login.Server{}, errors.New("main: no login starter configured")
}
