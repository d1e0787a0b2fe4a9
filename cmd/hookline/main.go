package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
	"github.com/hookline-lab/project-hookline/internal/contract"
	contractapi "github.com/hookline-lab/project-hookline/internal/contract/api"
	corecfg "github.com/hookline-lab/project-hookline/internal/core/config"
	"github.com/hookline-lab/project-hookline/internal/core/storage/postgres"
	"github.com/hookline-lab/project-hookline/internal/dispatch"
	"github.com/hookline-lab/project-hookline/internal/handlers"
	"github.com/hookline-lab/project-hookline/internal/inbound"
	"github.com/hookline-lab/project-hookline/internal/migrations"
	"github.com/hookline-lab/project-hookline/internal/outbox"
	"github.com/hookline-lab/project-hookline/internal/server"
)

func main() {
	configPath := flag.String("config", "hookline.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	outboxStore := postgres.NewOutboxAdapter(dbAdapter.DB())

	// 3. Initialize the routing core
	registry := contract.NewRegistry(dbAdapter)

	handlerRegistry := handlers.NewRegistry()
	// Built-in debugging sink; adapters register their own keys on top.
	if err := handlerRegistry.Register("log", logEventHandler); err != nil {
		slog.Error("Failed to register built-in handler", "error", err)
		os.Exit(1)
	}

	dispatcher := dispatch.NewDispatcher(registry, handlerRegistry, outboxStore)

	framework := inbound.New(dispatcher, cfg.Server.MaxBodySizeMB)
	if err := framework.RegisterNormalizer(inbound.CanonicalNormalizerKey, inbound.CanonicalNormalizer); err != nil {
		slog.Error("Failed to register built-in normalizer", "error", err)
		os.Exit(1)
	}

	// 4. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)

	// Admin API is always mounted; it only needs the registry and store.
	contractapi.NewService(registry, outboxStore).RegisterRoutes(srv.Engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Non-nil only when the delivery worker runs; joined during shutdown so
	// the worker's final drain completes before the process exits.
	var workerDone chan error

	// 5. Bootstrap routing: cache warm-up, declared contracts, inbound
	// endpoints. A failure here degrades to "webhooks disabled" instead of
	// taking the host down.
	if err := bootstrapRouting(ctx, cfg, registry, framework); err != nil {
		slog.Error("Routing bootstrap failed, webhooks disabled", "error", err)
		srv.DisableWebhooks()
	} else {
		framework.RegisterRoutes(srv.Engine)

		if cfg.Delivery.Enabled {
			worker := outbox.NewWorker(outboxStore, workerOptions(cfg.Delivery))
			workerDone = make(chan error, 1)
			go func() {
				workerDone <- worker.Start(ctx)
			}()
		} else {
			slog.Info("Delivery worker disabled by config")
		}
	}

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	// Let in-flight handler invocations finish before exiting.
	dispatcher.Wait()

	// Wait for the delivery worker to finish its final drain.
	if workerDone != nil {
		if err := <-workerDone; err != nil {
			slog.Error("Delivery worker stopped with error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}

// bootstrapRouting warms the contract cache, applies declarative contracts
// and installs configured inbound endpoints.
func bootstrapRouting(ctx context.Context, cfg *corecfg.Config, registry *contract.Registry, framework *inbound.Framework) error {
	declared, err := contract.LoadDirectory(cfg.Contracts.ConfigDir)
	if err != nil {
		return fmt.Errorf("loading declared contracts: %w", err)
	}
	if err := registry.ApplyDeclared(ctx, declared); err != nil {
		return err
	}

	for _, ep := range cfg.Inbound.Endpoints {
		err := framework.Register(ep.Path, ep.Normalizer, inbound.VerifyConfig{
			Secret:          ep.Secret,
			SignatureHeader: ep.SignatureHeader,
			ChallengeParam:  ep.ChallengeParam,
		})
		if err != nil {
			return fmt.Errorf("registering inbound endpoint: %w", err)
		}
	}

	return nil
}

// logEventHandler is the built-in "log" handler target.
func logEventHandler(_ context.Context, evt *v1.Event) error {
	slog.Info("Event received by log handler",
		"source", evt.Source,
		"type", evt.Type,
		"properties", evt.Properties)
	return nil
}

func workerOptions(cfg corecfg.DeliveryConfig) outbox.WorkerOptions {
	// Durations were validated at config load.
	poll, _ := cfg.PollIntervalDuration()
	httpTimeout, _ := cfg.HTTPTimeoutDuration()
	lockTimeout, _ := cfg.LockTimeoutDuration()

	return outbox.WorkerOptions{
		PollInterval:  poll,
		BatchSize:     cfg.BatchSize,
		MaxAttempts:   cfg.MaxAttempts,
		HTTPTimeout:   httpTimeout,
		LockTimeout:   lockTimeout,
		MaxConcurrent: cfg.MaxConcurrent,
	}
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
