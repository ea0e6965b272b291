package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelcommerce/fulfillment-backend/api/routes"
	"github.com/kestrelcommerce/fulfillment-backend/internal/inventory"
	"github.com/kestrelcommerce/fulfillment-backend/internal/ledger"
	"github.com/kestrelcommerce/fulfillment-backend/internal/orders"
	"github.com/kestrelcommerce/fulfillment-backend/internal/refunds"
	"github.com/kestrelcommerce/fulfillment-backend/internal/reservations"
	"github.com/kestrelcommerce/fulfillment-backend/internal/returns"
	paymentwebhook "github.com/kestrelcommerce/fulfillment-backend/internal/webhooks/payments"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/config"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/db"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/logger"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/metrics"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/migrate"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/outbox"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/redis"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/square"
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mets := metrics.NewFulfillmentMetrics(registry)
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	inventorySvc, err := inventory.NewService(inventory.NewRepository(dbClient.DB()), dbClient, outboxSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	reservationsRepo := reservations.NewRepository(dbClient.DB())
	reservationsSvc, err := reservations.NewService(reservationsRepo, dbClient, outboxSvc, inventorySvc, mets, cfg.Fulfillment.ReservationTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create reservations service", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersSvc, err := orders.NewService(ordersRepo, dbClient, outboxSvc, reservationsSvc, inventorySvc, ledgerSvc, mets)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create square client", err)
		os.Exit(1)
	}

	returnsRepo := returns.NewRepository(dbClient.DB())
	refundProcessor, err := refunds.NewProcessor(
		refunds.NewRepository(dbClient.DB()),
		returnsRepo,
		ordersRepo,
		dbClient,
		outboxSvc,
		inventorySvc,
		ledgerSvc,
		squareClient,
		mets,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create refund processor", err)
		os.Exit(1)
	}

	labelGen, err := returns.NewURLLabelGenerator(cfg.Fulfillment.ReturnLabelBaseURL)
	if err != nil {
		logg.Error(context.Background(), "failed to create label generator", err)
		os.Exit(1)
	}

	returnsSvc, err := returns.NewService(returnsRepo, dbClient, outboxSvc, ordersRepo, labelGen, refundProcessor, logg, cfg.Fulfillment.ReturnWindowDays)
	if err != nil {
		logg.Error(context.Background(), "failed to create returns service", err)
		os.Exit(1)
	}

	webhookGuard, err := paymentwebhook.NewIdempotencyGuard(redisClient, cfg.Webhooks.EventTTL, "webhooks:payments")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
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
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			metricsHandler,
			inventorySvc,
			reservationsSvc,
			reservationsRepo,
			ordersSvc,
			returnsSvc,
			webhookGuard,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
