package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wardenhq/warden/internal/approval"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/budget"
	"github.com/wardenhq/warden/internal/bus"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/httpapi"
	"github.com/wardenhq/warden/internal/orchestrator"
	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/prompt"
	"github.com/wardenhq/warden/internal/provider"
	"github.com/wardenhq/warden/internal/route"
	"github.com/wardenhq/warden/internal/sanitize"
	"github.com/wardenhq/warden/internal/telemetry"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}
	cfg := loader.Config()

	dbPool, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (warden will start but auth and persistence will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (caches and spend mirror disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	eventBus := bus.New()

	metrics := telemetry.NewMetrics()
	metrics.Observe(eventBus)

	recorder := audit.NewRecorder(dbPool)
	recorder.Observe(eventBus)

	ledger := budget.NewLedger(func() config.BudgetConfig { return loader.Config().Budget }, eventBus)
	ledger.AddMirror(budget.NewStore(dbPool))
	if rdb != nil {
		ledger.AddMirror(budget.NewRedisMirror(rdb))
	}

	approvals := approval.NewQueue(eventBus)
	approvals.SetPersister(approval.NewStore(dbPool))

	evaluator, err := policy.NewEvaluator(func() config.PolicyConfig { return loader.Config().Policy })
	if err != nil {
		logger.Error("failed to compile escalation policy", "error", err)
		os.Exit(1)
	}
	if cfg.Policy.BundlePath != "" {
		if err := evaluator.Load(); err != nil {
			logger.Warn("policy bundle load failed, using built-in policy", "error", err)
		}
	}

	providerRegistry := provider.BuildFromConfig(loader.Providers())
	loader.OnReload(func() {
		providerRegistry.Reload(provider.BuildFromConfig(loader.Providers()))
		logger.Info("provider registry reloaded")
	})

	modelsFn := func() config.ModelsConfig { return *loader.Models() }
	planner := route.NewPlanner(modelsFn, route.NewHealth(
		cfg.Routing.CircuitBreaker.FailureThreshold,
		cfg.Routing.CircuitBreaker.RecoveryProbeInterval,
	))

	orch := orchestrator.New(orchestrator.Deps{
		Sanitizer: sanitize.New(func() config.SanitizerConfig { return loader.Config().Sanitizer }, eventBus),
		Assembler: prompt.NewAssembler(func() config.PromptConfig { return loader.Config().Prompt }),
		Ledger:    ledger,
		Approvals: approvals,
		Policy:    evaluator,
		Planner:   planner,
		Providers: providerRegistry,
		Models:    modelsFn,
		Routing:   func() config.RoutingConfig { return loader.Config().Routing },
		Bus:       eventBus,
		Logger:    logger,
	})

	handler := &httpapi.Handler{
		Orchestrator: orch,
		Ledger:       ledger,
		Approvals:    approvals,
		Audit:        recorder,
		Models:       modelsFn,
		Metrics:      metrics,
	}

	httpapi.Version = version
	router := httpapi.NewRouter(handler, auth.NewCachedKeyStore(dbPool, rdb))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("warden starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("warden stopped")
}
