// DarkHound server — serves the HTTP API and websocket channel, manages
// SSH sessions against enrolled assets, and runs hunt modules with AI
// analysis of their observations.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/darkhound-project/darkhound/pkg/ai"
	"github.com/darkhound-project/darkhound/pkg/api"
	"github.com/darkhound-project/darkhound/pkg/config"
	"github.com/darkhound-project/darkhound/pkg/database"
	"github.com/darkhound-project/darkhound/pkg/enrich"
	"github.com/darkhound-project/darkhound/pkg/events"
	"github.com/darkhound-project/darkhound/pkg/hunt"
	"github.com/darkhound-project/darkhound/pkg/security"
	"github.com/darkhound-project/darkhound/pkg/services"
	"github.com/darkhound-project/darkhound/pkg/session"
	"github.com/darkhound-project/darkhound/pkg/sshx"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	settings := config.Load()
	if err := settings.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting DarkHound",
		"env", settings.AppEnv,
		"http_port", settings.HTTPPort,
		"ai_provider", settings.AIProvider)

	ctx := context.Background()

	// Database (runs embedded migrations on connect)
	dbClient, err := database.NewClient(ctx, database.DefaultConfig(settings.DatabaseURL))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// Security primitives
	cipher, err := security.NewCipher(settings.SecretKey)
	if err != nil {
		slog.Error("Failed to initialize cipher", "error", err)
		os.Exit(1)
	}
	issuer := security.NewTokenIssuer(settings.SecretKey, settings.AccessTokenTTL(), settings.RefreshTokenTTL())
	resolver := security.NewCredentialResolver(settings, cipher)

	// Domain services
	db := dbClient.DB()
	users := services.NewUserService(db)
	assets := services.NewAssetService(db, cipher)
	sessions := services.NewSessionService(db)
	hunts := services.NewHuntService(db)
	findings := services.NewFindingService(db)
	timeline := services.NewTimelineService(db)

	// Event plumbing: bounded bus fans out to the websocket hub
	bus := events.NewBus(settings.EventQueueMax)
	hub := events.NewHub(5 * time.Second)
	bus.Register(hub.Broadcast)
	bus.Start()
	defer bus.Stop()
	emitter := events.NewEmitter(bus)

	// Hunt module registry with change polling
	if err := os.MkdirAll(settings.HuntModulesPath, 0o755); err != nil {
		slog.Error("Failed to create hunt modules directory", "path", settings.HuntModulesPath, "error", err)
		os.Exit(1)
	}
	registry, err := hunt.NewRegistry(settings.HuntModulesPath)
	if err != nil {
		slog.Error("Failed to load hunt modules", "error", err)
		os.Exit(1)
	}
	registry.StartWatcher()
	defer registry.Stop()
	slog.Info("Hunt modules loaded", "count", len(registry.List()))

	// Session runtime
	manager := session.NewManager(sessions, emitter, session.Config{
		MaxSessions: settings.MaxSessions,
	})
	manager.StartReaper()
	defer manager.Stop()

	// AI pipeline: optional, hunts still run raw without it
	var analyzer hunt.Analyzer
	enricher := enrich.NewOrchestrator(settings, emitter)
	if provider, err := ai.NewProvider(settings); err != nil {
		slog.Warn("AI provider unavailable, hunts will run without analysis", "error", err)
	} else {
		var hook ai.Enricher
		if enricher.ProviderCount() > 0 {
			hook = enricher
		}
		analyzer = ai.NewEngine(provider, emitter, hunts, findings, timeline, hook)
		slog.Info("AI engine initialized",
			"provider", provider.Name(),
			"enrichment_providers", enricher.ProviderCount())
	}

	executor := sshx.NewExecutor(security.NewClassifier(), emitter)
	orchestrator := hunt.NewOrchestrator(registry, manager, hunts, timeline, executor, emitter, analyzer)

	server := api.NewServer(api.Deps{
		Settings:     settings,
		DB:           dbClient,
		Issuer:       issuer,
		Resolver:     resolver,
		Users:        users,
		Assets:       assets,
		Sessions:     sessions,
		Hunts:        hunts,
		Findings:     findings,
		Timeline:     timeline,
		Manager:      manager,
		Orchestrator: orchestrator,
		Registry:     registry,
		Emitter:      emitter,
		Hub:          hub,
	})

	httpServer := &http.Server{
		Addr:              ":" + settings.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
