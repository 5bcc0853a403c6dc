package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tradelane/backend/api/routes"
	"github.com/tradelane/backend/internal/audit"
	"github.com/tradelane/backend/internal/companies"
	"github.com/tradelane/backend/internal/contracts"
	"github.com/tradelane/backend/internal/dispatch"
	"github.com/tradelane/backend/internal/engine"
	"github.com/tradelane/backend/internal/escrow"
	"github.com/tradelane/backend/internal/notifications"
	"github.com/tradelane/backend/internal/payments"
	"github.com/tradelane/backend/internal/quotes"
	"github.com/tradelane/backend/internal/trades"
	"github.com/tradelane/backend/pkg/config"
	"github.com/tradelane/backend/pkg/db"
	"github.com/tradelane/backend/pkg/db/models"
	"github.com/tradelane/backend/pkg/enums"
	"github.com/tradelane/backend/pkg/logger"
	"github.com/tradelane/backend/pkg/metrics"
	"github.com/tradelane/backend/pkg/migrate"
	"github.com/tradelane/backend/pkg/outbox"
	"github.com/tradelane/backend/pkg/payout"
	"github.com/tradelane/backend/pkg/pubsub"
	"github.com/tradelane/backend/pkg/redis"
	"github.com/tradelane/backend/pkg/square"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
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

	svcs, err := buildServices(cfg, logg, dbClient, redisClient, squareClient, payoutClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, svcs, routes.Pingers{
			DB:     dbClient,
			Redis:  redisClient,
			PubSub: pubsubClient,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// buildServices wires the domain graph. The engine is constructed with the
// contract and escrow guards, then bound back into escrow and dispatch so
// their effects can drive transitions.
func buildServices(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	squareClient *square.Client,
	payoutClient *payout.Client,
) (routes.Services, error) {
	gdb := dbClient.DB()

	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), logg)
	engMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)

	auditSvc, err := audit.NewService(audit.NewRepository(gdb))
	if err != nil {
		return routes.Services{}, err
	}

	tradeRepo := trades.NewRepository(gdb)
	companyRepo := companies.NewRepository(gdb)
	contractRepo := contracts.NewRepository(gdb)

	tradeSvc, err := trades.NewService(tradeRepo, dbClient, outboxSvc)
	if err != nil {
		return routes.Services{}, err
	}

	contractSvc, err := contracts.NewService(contractRepo, dbClient, outboxSvc, auditSvc)
	if err != nil {
		return routes.Services{}, err
	}

	companySvc, err := companies.NewService(companyRepo)
	if err != nil {
		return routes.Services{}, err
	}

	notificationSvc, err := notifications.NewService(notifications.NewRepository(gdb))
	if err != nil {
		return routes.Services{}, err
	}

	escrowSvc, err := escrow.NewService(
		escrow.NewRepository(gdb),
		escrow.NewEventRepository(gdb),
		tradeRepo,
		companyRepo,
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
		return routes.Services{}, err
	}

	eng, err := engine.NewService(tradeRepo, auditSvc, dbClient, outboxSvc, contractSvc, escrowSvc, engMetrics, logg)
	if err != nil {
		return routes.Services{}, err
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
		return routes.Services{}, err
	}
	dispatchSvc.BindEngine(eng)

	registerEffects(eng, escrowSvc, dispatchSvc)

	quoteSvc, err := quotes.NewService(quotes.NewRepository(gdb), tradeRepo, contractRepo, eng, auditSvc, dbClient, outboxSvc)
	if err != nil {
		return routes.Services{}, err
	}

	paymentSvc, err := payments.NewService(
		payments.NewRepository(gdb),
		escrowSvc,
		redisClient,
		squareClient.SigningSecret(),
		payoutClient.SigningSecret(),
		logg,
	)
	if err != nil {
		return routes.Services{}, err
	}

	return routes.Services{
		Trades:        tradeSvc,
		Quotes:        quoteSvc,
		Contracts:     contractSvc,
		Escrow:        escrowSvc,
		Dispatch:      dispatchSvc,
		Companies:     companySvc,
		Notifications: notificationSvc,
		Payments:      paymentSvc,
		Engine:        eng,
	}, nil
}

// registerEffects binds the idempotent side effects that run before specific
// state commits.
func registerEffects(eng engine.Service, escrowSvc escrow.Service, dispatchSvc dispatch.Service) {
	eng.RegisterEffect(enums.TradeStateContracted, enums.TradeStateEscrowRequired, func(ctx context.Context, trade *models.Trade) error {
		return escrowSvc.PrepareEscrow(ctx, trade)
	})
	eng.RegisterEffect(enums.TradeStateProduction, enums.TradeStateReadyForPickup, func(ctx context.Context, trade *models.Trade) error {
		_, err := dispatchSvc.RequestDispatch(ctx, dispatch.RequestInput{
			TradeID:   trade.ID,
			ActorRole: string(enums.ActorRoleSystem),
		})
		return err
	})
}
