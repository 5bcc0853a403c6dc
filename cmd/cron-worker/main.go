package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tradelane/backend/internal/audit"
	"github.com/tradelane/backend/internal/companies"
	"github.com/tradelane/backend/internal/contracts"
	"github.com/tradelane/backend/internal/cron"
	"github.com/tradelane/backend/internal/dispatch"
	"github.com/tradelane/backend/internal/engine"
	"github.com/tradelane/backend/internal/escrow"
	"github.com/tradelane/backend/internal/trades"
	"github.com/tradelane/backend/pkg/config"
	"github.com/tradelane/backend/pkg/db"
	"github.com/tradelane/backend/pkg/logger"
	"github.com/tradelane/backend/pkg/metrics"
	"github.com/tradelane/backend/pkg/migrate"
	"github.com/tradelane/backend/pkg/outbox"
	"github.com/tradelane/backend/pkg/payout"
	"github.com/tradelane/backend/pkg/redis"
	"github.com/tradelane/backend/pkg/square"
)

const lockKeyFormat = "tl:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap square client", err)
		os.Exit(1)
	}

	payoutClient, err := payout.NewClient(context.Background(), cfg.Payout, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap payout client", err)
		os.Exit(1)
	}

	escrowSvc, dispatchSvc, err := buildSweepServices(cfg, logg, dbClient, squareClient, payoutClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire sweep services", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Sweep.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	if err := registerJobs(registry, cfg, logg, escrowSvc, dispatchSvc, outbox.NewRepository(dbClient.DB())); err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Sweep.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildSweepServices wires the subset of the domain graph the sweeps need:
// escrow reconciliation and dispatch re-notification, both able to drive the
// settlement engine.
func buildSweepServices(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	squareClient *square.Client,
	payoutClient *payout.Client,
) (escrow.Service, dispatch.Service, error) {
	gdb := dbClient.DB()

	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), logg)
	engMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)

	auditSvc, err := audit.NewService(audit.NewRepository(gdb))
	if err != nil {
		return nil, nil, err
	}

	tradeRepo := trades.NewRepository(gdb)

	contractSvc, err := contracts.NewService(contracts.NewRepository(gdb), dbClient, outboxSvc, auditSvc)
	if err != nil {
		return nil, nil, err
	}

	escrowSvc, err := escrow.NewService(
		escrow.NewRepository(gdb),
		escrow.NewEventRepository(gdb),
		tradeRepo,
		companies.NewRepository(gdb),
		auditSvc,
		dbClient,
		outboxSvc,
		squareClient,
		payoutClient,
		cfg.Fees,
		cfg.Sweep,
		engMetrics,
		logg,
	)
	if err != nil {
		return nil, nil, err
	}

	eng, err := engine.NewService(tradeRepo, auditSvc, dbClient, outboxSvc, contractSvc, escrowSvc, engMetrics, logg)
	if err != nil {
		return nil, nil, err
	}
	escrowSvc.BindEngine(eng)

	dispatchSvc, err := dispatch.NewService(
		dispatch.NewProviderRepository(gdb),
		dispatch.NewEventRepository(gdb),
		tradeRepo,
		auditSvc,
		dbClient,
		outboxSvc,
		cfg.Dispatch,
		logg,
	)
	if err != nil {
		return nil, nil, err
	}
	dispatchSvc.BindEngine(eng)

	return escrowSvc, dispatchSvc, nil
}

func registerJobs(
	registry *cron.Registry,
	cfg *config.Config,
	logg *logger.Logger,
	escrowSvc escrow.Service,
	dispatchSvc dispatch.Service,
	outboxRepo *outbox.Repository,
) error {
	releaseRetry, err := cron.NewReleaseRetryJob(cron.ReleaseRetryJobParams{
		Logger: logg,
		Escrow: escrowSvc,
	})
	if err != nil {
		return err
	}
	registry.Register(releaseRetry)

	parkedRelease, err := cron.NewParkedReleaseJob(cron.ParkedReleaseJobParams{
		Logger: logg,
		Escrow: escrowSvc,
	})
	if err != nil {
		return err
	}
	registry.Register(parkedRelease)

	dispatchRetry, err := cron.NewDispatchRetryJob(cron.DispatchRetryJobParams{
		Logger:   logg,
		Dispatch: dispatchSvc,
	})
	if err != nil {
		return err
	}
	registry.Register(dispatchRetry)

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return err
	}
	registry.Register(outboxRetention)

	return nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
