package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/macroferro/macroferro-backend/api/controllers"
	"github.com/macroferro/macroferro-backend/api/routes"
	"github.com/macroferro/macroferro-backend/internal/analyzer"
	"github.com/macroferro/macroferro-backend/internal/bot"
	"github.com/macroferro/macroferro-backend/internal/catalog"
	"github.com/macroferro/macroferro-backend/internal/checkout"
	"github.com/macroferro/macroferro-backend/internal/clients"
	"github.com/macroferro/macroferro-backend/internal/embeddings"
	"github.com/macroferro/macroferro-backend/internal/invoices"
	"github.com/macroferro/macroferro-backend/internal/llm"
	"github.com/macroferro/macroferro-backend/internal/orders"
	"github.com/macroferro/macroferro-backend/internal/session"
	"github.com/macroferro/macroferro-backend/internal/telegram"
	"github.com/macroferro/macroferro-backend/internal/vectorindex"
	"github.com/macroferro/macroferro-backend/pkg/config"
	"github.com/macroferro/macroferro-backend/pkg/db"
	"github.com/macroferro/macroferro-backend/pkg/logger"
	"github.com/macroferro/macroferro-backend/pkg/mail"
	"github.com/macroferro/macroferro-backend/pkg/metrics"
	"github.com/macroferro/macroferro-backend/pkg/migrate"
	"github.com/macroferro/macroferro-backend/pkg/outbox"
	"github.com/macroferro/macroferro-backend/pkg/outbox/idempotency"
	"github.com/macroferro/macroferro-backend/pkg/redis"
	"github.com/macroferro/macroferro-backend/pkg/storage/gcs"
)

// wakingPublisher nudges the in-process invoice dispatcher right after an
// invoice request is queued so it does not wait for the next poll tick.
type wakingPublisher struct {
	inner      *outbox.Service
	dispatcher *invoices.Dispatcher
}

func (p *wakingPublisher) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if err := p.inner.EmitIfNotExists(ctx, tx, event); err != nil {
		return err
	}
	p.dispatcher.Wake()
	return nil
}

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

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

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

	index, err := vectorindex.New(cfg.Qdrant)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap qdrant", err)
		os.Exit(1)
	}
	if err := index.EnsureCollection(ctx); err != nil {
		logg.Error(ctx, "failed to ensure qdrant collection", err)
		os.Exit(1)
	}

	llmClient, err := llm.NewClient(cfg.OpenAI)
	if err != nil {
		logg.Error(ctx, "failed to create model client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	botMetrics := metrics.NewBotMetrics(registry)

	sessionStore, err := session.NewStore(redisClient, cfg.Bot.UpdateDedupTTL)
	if err != nil {
		logg.Error(ctx, "failed to create session store", err)
		os.Exit(1)
	}

	embedCache, err := embeddings.NewCache(llmClient, redisClient, cfg.Bot.EmbeddingCacheTTL, logg)
	if err != nil {
		logg.Error(ctx, "failed to create embedding cache", err)
		os.Exit(1)
	}

	intents, err := analyzer.New(llmClient, logg, botMetrics)
	if err != nil {
		logg.Error(ctx, "failed to create analyzer", err)
		os.Exit(1)
	}

	catalogRepo := catalog.NewRepository(dbClient.DB())
	clientRepo := clients.NewRepository(dbClient.DB())
	orderRepo := orders.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

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

	guard, err := idempotency.NewManager(redisClient, cfg.Bot.UpdateDedupTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency guard", err)
		os.Exit(1)
	}

	dispatcher, err := invoices.NewDispatcher(
		outbox.NewRepository(dbClient.DB()),
		outbox.NewDLQRepository(dbClient.DB()),
		dbClient,
		orderRepo,
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

	checkoutService, err := checkout.NewService(
		sessionStore,
		clientRepo,
		orderRepo,
		catalogRepo,
		dbClient,
		&wakingPublisher{inner: outboxService, dispatcher: dispatcher},
		logg,
		botMetrics,
	)
	if err != nil {
		logg.Error(ctx, "failed to create checkout service", err)
		os.Exit(1)
	}

	transport, err := telegram.NewTransport(cfg.Telegram, logg)
	if err != nil {
		logg.Error(ctx, "failed to create telegram transport", err)
		os.Exit(1)
	}

	productHandler, err := bot.NewProductHandler(catalogRepo, index, embedCache, sessionStore, llmClient, cfg.Bot, logg)
	if err != nil {
		logg.Error(ctx, "failed to create product handler", err)
		os.Exit(1)
	}
	cartHandler, err := bot.NewCartHandler(catalogRepo, sessionStore, cfg.Bot)
	if err != nil {
		logg.Error(ctx, "failed to create cart handler", err)
		os.Exit(1)
	}
	orchestrator, err := bot.NewOrchestrator(
		sessionStore,
		intents,
		productHandler,
		cartHandler,
		checkoutService,
		transport,
		cfg.Bot,
		logg,
		botMetrics,
	)
	if err != nil {
		logg.Error(ctx, "failed to create orchestrator", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(orderRepo)
	if err != nil {
		logg.Error(ctx, "failed to create orders service", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.Deps{
		Config:       cfg,
		Logger:       logg,
		Catalog:      catalogRepo,
		Orders:       ordersService,
		Orchestrator: orchestrator,
		Acker:        transport,
		Gatherer:     registry,
		HealthChecks: []controllers.HealthCheck{
			{Name: "database", Ping: dbClient.Ping},
			{Name: "redis", Ping: redisClient.Ping},
			{Name: "qdrant", Ping: index.Ping},
		},
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logg.Info(groupCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logg.Info(groupCtx, "starting invoice dispatcher")
		if err := dispatcher.Run(groupCtx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logg.Error(ctx, "api stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api shut down cleanly")
}
