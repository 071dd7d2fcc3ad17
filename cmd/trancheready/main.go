// TrancheReady - AML risk scoring and typology detection for reporting entities.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/trancheready/internal/api"
	"github.com/opensource-finance/trancheready/internal/bus"
	"github.com/opensource-finance/trancheready/internal/cache"
	"github.com/opensource-finance/trancheready/internal/config"
	"github.com/opensource-finance/trancheready/internal/evidence"
	"github.com/opensource-finance/trancheready/internal/logging"
	"github.com/opensource-finance/trancheready/internal/rules"
	"github.com/opensource-finance/trancheready/internal/tadp"
	"github.com/opensource-finance/trancheready/internal/tracing"
	"github.com/opensource-finance/trancheready/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("starting trancheready",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"async_worker", cfg.Worker.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, logger)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Rule Engine
	ruleset, err := config.LoadRuleset(cfg.Scoring.RulesetPath)
	if err != nil {
		slog.Error("failed to load ruleset", "path", cfg.Scoring.RulesetPath, "error", err)
		os.Exit(1)
	}
	engine, err := rules.NewEngine(ruleset)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized",
		"ruleset_id", ruleset.ID,
		"rules_count", engine.RulesCount(),
	)

	processor := tadp.NewProcessor(engine, tadp.Options{
		Workers:        cfg.Scoring.Workers,
		LookbackMonths: cfg.Scoring.LookbackMonths,
	})

	store := evidence.NewStore(cacheImpl, cfg.Packs.TTL)
	packs := evidence.NewBuilder(processor, store, cfg.Packs.PublicURL)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, cacheImpl, processor)
		if err := asyncWorker.Start(worker.Config{
			TenantIDs: cfg.Worker.TenantIDs,
			ResultTTL: cfg.Worker.ResultTTL,
		}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			os.Exit(1)
		}
		slog.Info("async worker started", "tenant_count", len(cfg.Worker.TenantIDs))
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Cache:     cacheImpl,
		Bus:       busImpl,
		Processor: processor,
		Packs:     packs,
		PackStore: store,
		Async:     cfg.Worker.Enabled,
		ResultTTL: cfg.Worker.ResultTTL,
		RateLimit: cfg.RateLimit.RequestsPerMinute,
		Version:   Version,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	slog.Info("trancheready is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg.Server.Host, cfg.Server.Port, string(cfg.Tier), ruleset.ID)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the worker after the API so no new batches arrive mid-drain.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	slog.Info("trancheready shutdown complete")
}

func printBanner(host string, port int, tier, rulesetID string) {
	fmt.Println()
	fmt.Println("  TrancheReady - AML risk scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  Tier:     %s\n", tier)
	fmt.Printf("  Ruleset:  %s\n", rulesetID)
	fmt.Printf("  Server:   http://%s:%d\n", host, port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /evaluate                    - Score a batch synchronously")
	fmt.Println("    POST /batches                     - Submit a batch for async scoring")
	fmt.Println("    GET  /batches/{id}                - Async batch status and result")
	fmt.Println("    POST /packs                       - Build an evidence pack")
	fmt.Println("    POST /packs/sample                - Build a pack from the sample data")
	fmt.Println("    GET  /packs/{token}               - Verify a pack against its manifest")
	fmt.Println("    GET  /packs/{token}/files/{name}  - Download one pack file")
	fmt.Println("    GET  /ruleset                     - Active ruleset")
	fmt.Println("    GET  /health, /ready, /metrics")
	fmt.Println()
}
