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
	auditpostgres "fieldsync/internal/audit/store/postgres"
	"fieldsync/internal/auth"
	authmemory "fieldsync/internal/auth/store/memory"
	authpostgres "fieldsync/internal/auth/store/postgres"
	"fieldsync/internal/device"
	"fieldsync/internal/entity"
	entitymemory "fieldsync/internal/entity/store/memory"
	entitypostgres "fieldsync/internal/entity/store/postgres"
	"fieldsync/internal/otp"
	"fieldsync/internal/otp/gateway"
	otpmemory "fieldsync/internal/otp/store/memory"
	otpredis "fieldsync/internal/otp/store/redis"
	"fieldsync/internal/platform/config"
	"fieldsync/internal/platform/httpserver"
	"fieldsync/internal/platform/logger"
	"fieldsync/internal/platform/postgres"
	"fieldsync/internal/platform/redis"
	"fieldsync/internal/token"
	httptransport "fieldsync/internal/transport/http"
	"fieldsync/internal/trust"
	trustmemory "fieldsync/internal/trust/store/memory"
	trustpostgres "fieldsync/internal/trust/store/postgres"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres unavailable", slog.Any("error", err))
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", slog.Any("error", err))
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Stores: Postgres/Redis when configured, in-memory for development.
	var (
		challenges otp.ChallengeStore = otpmemory.NewInMemoryChallengeStore()
		decisions  trust.DecisionStore
		risks      trust.RiskStore
		history    trust.HistoryStore
		questions  trust.QuestionStore
		subjects   auth.SubjectStore
		entities   entity.Store
		auditStore audit.Store
	)
	if redisClient != nil {
		challenges = otpredis.NewChallengeStore(redisClient.Client)
	}
	if db != nil {
		if err := trustpostgres.Migrate(ctx, db); err != nil {
			log.Error("migrate trust tables", slog.Any("error", err))
			os.Exit(1)
		}
		if err := authpostgres.Migrate(ctx, db); err != nil {
			log.Error("migrate subjects table", slog.Any("error", err))
			os.Exit(1)
		}
		entityStore := entitypostgres.New(db)
		if err := entityStore.Migrate(ctx); err != nil {
			log.Error("migrate entity table", slog.Any("error", err))
			os.Exit(1)
		}
		auditPG := auditpostgres.New(db)
		if err := auditPG.Migrate(ctx); err != nil {
			log.Error("migrate audit table", slog.Any("error", err))
			os.Exit(1)
		}
		decisions = trustpostgres.NewDecisionStore(db)
		risks = trustpostgres.NewRiskStore(db)
		history = trustpostgres.NewHistoryStore(db)
		questions = trustpostgres.NewQuestionStore(db)
		subjects = authpostgres.NewSubjectStore(db)
		entities = entityStore
		auditStore = auditPG
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
		decisions = trustmemory.NewInMemoryDecisionStore()
		risks = trustmemory.NewInMemoryRiskStore()
		history = trustmemory.NewInMemoryHistoryStore()
		questions = trustmemory.NewInMemoryQuestionStore()
		subjects = authmemory.NewInMemorySubjectStore()
		entities = entitymemory.NewInMemoryStore()
		auditStore = auditmemory.NewInMemoryStore()
	}

	// Audit trail: async writer, optionally fanning out to Kafka.
	asyncOpts := []audit.AsyncOption{
		audit.WithFallback(audit.SlogFallback(log)),
		audit.WithMetrics(audit.NewMetrics()),
	}
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		if err != nil {
			log.Error("kafka sink", slog.Any("error", err))
			os.Exit(1)
		}
		defer sink.Close()
		asyncOpts = append(asyncOpts, audit.WithSink(sink))
	}
	publisher := audit.NewAsyncPublisher(auditStore, asyncOpts...)
	go publisher.Run(ctx)

	var smsGateway otp.Gateway
	if cfg.SMSGatewayURL != "" {
		smsGateway = gateway.NewSMSClient(cfg.SMSGatewayAPIKey, cfg.SMSGatewayURL, cfg.SMSSender)
	}
	if smsGateway == nil && !cfg.OTPTestMode {
		log.Warn("no SMS gateway configured, forcing OTP test mode")
		cfg.OTPTestMode = true
	}

	otpSvc := otp.NewService(challenges, smsGateway,
		otp.WithLogger(log),
		otp.WithTestMode(cfg.OTPTestMode),
		otp.WithMetrics(otp.NewMetrics()),
	)
	trustSvc := trust.NewService(decisions, risks, history, questions,
		trust.WithLogger(log),
		trust.WithPublisher(publisher),
		trust.WithMetrics(trust.NewMetrics()),
	)
	tokens := token.NewService(cfg.JWTSigningKey, "fieldsync")
	authSvc := auth.NewService(otpSvc, trustSvc, tokens, subjects,
		auth.WithLogger(log),
		auth.WithPublisher(publisher),
	)
	entitySvc := entity.NewService(entities, entity.WithLogger(log))

	router := httptransport.NewRouter(httptransport.Config{
		Auth:          authSvc,
		Trust:         trustSvc,
		Entities:      entitySvc,
		Audit:         auditStore,
		Tokens:        tokens,
		Fingerprinter: device.NewService(true),
		AdminToken:    cfg.AdminToken,
		Logger:        log,
	})

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("fieldsync server listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
