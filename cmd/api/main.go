package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cim-backend/api/routes"
	"github.com/angelmondragon/cim-backend/internal/catalog"
	"github.com/angelmondragon/cim-backend/internal/inventory"
	"github.com/angelmondragon/cim-backend/internal/sales"
	"github.com/angelmondragon/cim-backend/pkg/config"
	"github.com/angelmondragon/cim-backend/pkg/db"
	"github.com/angelmondragon/cim-backend/pkg/logger"
	"github.com/angelmondragon/cim-backend/pkg/metrics"
	"github.com/angelmondragon/cim-backend/pkg/migrate"
	"github.com/angelmondragon/cim-backend/pkg/outbox"
	"github.com/angelmondragon/cim-backend/pkg/redis"
	"github.com/angelmondragon/cim-backend/pkg/tracing"
)

const shutdownTimeout = 20 * time.Second

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

	logg = logger.FromConfig("api", cfg.App)

	_, shutdownTracing, err := tracing.Setup(context.Background(), cfg.Tracing, "cim-api")
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap tracing", err)
		os.Exit(1)
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	ledger := inventory.NewLedger()

	salesService, err := sales.NewService(sales.ServiceParams{
		Tx:      dbClient,
		Catalog: catalog.NewRepository(dbClient.DB()),
		Sales:   sales.NewRepository(dbClient.DB()),
		Ledger:  ledger,
		Outbox:  outboxService,
		Metrics: metrics.NewSettlementMetrics(promRegistry),
		Logger:  logg,
		Timeout: cfg.Settlement.Timeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sales service", err)
		os.Exit(1)
	}

	inventoryService, err := inventory.NewService(dbClient, ledger, outboxService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
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

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, promRegistry, salesService, inventoryService),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		serveErr <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "api server shutting down")
	}

	// in-flight settlements finish before the pools close
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var closeErr error
	closeErr = multierr.Append(closeErr, server.Shutdown(shutdownCtx))
	closeErr = multierr.Append(closeErr, redisClient.Close())
	closeErr = multierr.Append(closeErr, dbClient.Close())
	closeErr = multierr.Append(closeErr, shutdownTracing(shutdownCtx))
	if closeErr != nil {
		logg.Error(ctx, "error during shutdown", closeErr)
		exitCode = 1
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	logg.Info(ctx, "api server stopped gracefully")
}
