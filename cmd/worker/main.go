package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/macroferro/macroferro-backend/internal/invoices"
	"github.com/macroferro/macroferro-backend/internal/orders"
	"github.com/macroferro/macroferro-backend/pkg/config"
	"github.com/macroferro/macroferro-backend/pkg/db"
	"github.com/macroferro/macroferro-backend/pkg/logger"
	"github.com/macroferro/macroferro-backend/pkg/mail"
	"github.com/macroferro/macroferro-backend/pkg/metrics"
	"github.com/macroferro/macroferro-backend/pkg/outbox"
	"github.com/macroferro/macroferro-backend/pkg/outbox/idempotency"
	"github.com/macroferro/macroferro-backend/pkg/redis"
	"github.com/macroferro/macroferro-backend/pkg/storage/gcs"
)

// Standalone invoice dispatcher. Runs the same pipeline the api binary hosts
// in-process, for deployments that want outbox draining isolated from the
// webhook path.
func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	guard, err := idempotency.NewManager(redisClient, cfg.Bot.UpdateDedupTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency guard", err)
		os.Exit(1)
	}

	var store invoices.Uploader
	if cfg.GCS.Enabled() {
		gcsClient, err := gcs.NewClient(ctx, cfg.GCS, logg)
		if err != nil {
			logg.Error(ctx, "failed to create gcs client", err)
			os.Exit(1)
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing gcs client", err)
			}
		}()
		store = gcsClient
	}

	var sender mail.Sender
	if cfg.SMTP.Enabled() {
		mailer, err := mail.NewMailer(cfg.SMTP, logg)
		if err != nil {
			logg.Error(ctx, "failed to create mailer", err)
			os.Exit(1)
		}
		sender = mailer
	}

	botMetrics := metrics.NewBotMetrics(prometheus.NewRegistry())

	dispatcher, err := invoices.NewDispatcher(
		outbox.NewRepository(dbClient.DB()),
		outbox.NewDLQRepository(dbClient.DB()),
		dbClient,
		orders.NewRepository(dbClient.DB()),
		store,
		sender,
		guard,
		cfg.Dispatcher,
		cfg.GCS,
		logg,
		botMetrics,
	)
	if err != nil {
		logg.Error(ctx, "failed to create invoice dispatcher", err)
		os.Exit(1)
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	logg.Info(ctx, "starting invoice dispatcher")

	if err := dispatcher.Run(ctx); err != nil && err != context.Canceled {
		logg.Error(ctx, "invoice dispatcher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shut down cleanly")
}
