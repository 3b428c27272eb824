// Package main is the entry point for the Elisa build orchestrator.
// A single binary runs the session API, the orchestrator, and the event bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/elisa-dev/elisa/internal/agent"
	"github.com/elisa-dev/elisa/internal/archive"
	"github.com/elisa-dev/elisa/internal/common/config"
	"github.com/elisa-dev/elisa/internal/common/logger"
	"github.com/elisa-dev/elisa/internal/events/bus"
	"github.com/elisa-dev/elisa/internal/gate"
	"github.com/elisa-dev/elisa/internal/gitlog"
	"github.com/elisa-dev/elisa/internal/hardware"
	"github.com/elisa-dev/elisa/internal/orchestrator"
	"github.com/elisa-dev/elisa/internal/planner"
	"github.com/elisa-dev/elisa/internal/server"
	"github.com/elisa-dev/elisa/internal/session"
	"github.com/elisa-dev/elisa/internal/testrunner"
	"github.com/elisa-dev/elisa/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Elisa...")

	// Event bus: in-memory by default, NATS when configured.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsEventBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsEventBus
		defer natsEventBus.Close()
	} else {
		log.Info("Using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}

	// Session archive.
	var archiveStore *archive.Store
	switch cfg.Database.Driver {
	case "postgres":
		archiveStore, err = archive.OpenPostgres(cfg.Database.DSN)
	default:
		archiveStore, err = archive.OpenSQLite(cfg.Database.Path)
	}
	if err != nil {
		log.Fatal("Failed to open session archive", zap.Error(err))
	}
	defer archiveStore.Close()

	// Device registry for hardware deploys.
	devices, err := hardware.LoadRegistry("devices.yaml")
	if err != nil {
		log.Warn("Failed to load device registry", zap.Error(err))
		devices = &hardware.Registry{}
	}

	gates := gate.NewStore()
	deps := orchestrator.Deps{
		Planner:  planner.NewHTTPClient(cfg.Planner.URL, cfg.Planner.TimeoutDuration(), log),
		Runner:   agent.NewHTTPRunner(cfg.AgentRuntime.URL, log),
		Git:      gitlog.NewCLIService(log),
		Tests:    testrunner.NewCLIRunner(log),
		Hardware: hardware.NewCLIService(log),
		Devices:  devices,
		Gates:    gates,
		Bus:      eventBus,
		Logger:   log,
	}

	sessions := session.NewStore(cfg, deps, gates, archiveStore, log)
	srv := server.New(cfg, sessions, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		log.Warn("Some sessions did not stop cleanly", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Warn("Tracing shutdown failed", zap.Error(err))
	}
	log.Info("Elisa stopped")
}
