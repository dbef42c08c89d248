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

	"fieldsync/internal/audit"
	auditmemory "fieldsync/internal/audit/store/memory"
	"fieldsync/internal/platform/config"
	"fieldsync/internal/platform/httpserver"
	"fieldsync/internal/platform/logger"
	"fieldsync/internal/syncer"
	syncsqlite "fieldsync/internal/syncer/store/sqlite"
	httptransport "fieldsync/internal/transport/http"
)

// main runs the field-agent sync daemon: a SQLite-backed mutation queue, the
// drain coordinator, and a local operator API for conflict resolution.
func main() {
	cfg := config.AgentFromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := syncsqlite.Open(cfg.QueuePath)
	if err != nil {
		log.Error("open mutation queue", slog.Any("error", err))
		os.Exit(1)
	}
	defer queue.Close()
	if err := queue.Migrate(ctx); err != nil {
		log.Error("migrate mutation queue", slog.Any("error", err))
		os.Exit(1)
	}

	policy := syncer.DefaultPolicy()
	if cfg.ConflictPolicyJSON != "" {
		policy, err = syncer.ParsePolicy([]byte(cfg.ConflictPolicyJSON))
		if err != nil {
			log.Error("parse conflict policy", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// The agent keeps its own local audit trail; sync anomalies must be
	// reviewable in the field without a server round-trip.
	publisher := audit.NewStorePublisher(auditmemory.NewInMemoryStore(), audit.SlogFallback(log))

	backend := syncer.NewHTTPBackend(cfg.ServerURL, cfg.APIToken)
	coordinator := syncer.NewCoordinator(queue, backend, policy,
		syncer.WithLogger(log),
		syncer.WithPublisher(publisher),
		syncer.WithMetrics(syncer.NewMetrics()),
		syncer.WithDrainInterval(cfg.DrainInterval),
		syncer.WithCommitTimeout(cfg.CommitTimeout),
		syncer.WithMaxAttempts(cfg.MaxAttempts),
		syncer.WithBaseBackoff(cfg.BaseBackoff),
	)

	operator := httpserver.New(cfg.OperatorAddr,
		httptransport.NewAgentRouter(coordinator, cfg.AdminToken, log))
	go func() {
		log.Info("operator API listening", slog.String("addr", cfg.OperatorAddr))
		if err := operator.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("operator API error", slog.Any("error", err))
			stop()
		}
	}()

	log.Info("sync agent started",
		slog.String("queue", cfg.QueuePath),
		slog.String("server", cfg.ServerURL))
	coordinator.NotifyConnectivity()

	if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("coordinator stopped", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := operator.Shutdown(shutdownCtx); err != nil {
		log.Error("operator API shutdown failed", slog.Any("error", err))
	}
}
