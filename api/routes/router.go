package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/macroferro/macroferro-backend/api/controllers"
	"github.com/macroferro/macroferro-backend/api/middleware"
	"github.com/macroferro/macroferro-backend/internal/bot"
	"github.com/macroferro/macroferro-backend/internal/catalog"
	"github.com/macroferro/macroferro-backend/internal/orders"
	"github.com/macroferro/macroferro-backend/pkg/config"
	"github.com/macroferro/macroferro-backend/pkg/logger"
)

type updateHandler interface {
	HandleUpdate(ctx context.Context, update bot.Update) error
}

type callbackAcker interface {
	AnswerCallback(ctx context.Context, callbackID string)
}

// Deps carries everything the router needs. Gatherer may be nil when the
// process does not expose metrics.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	Catalog      catalog.Repository
	Orders       orders.Service
	Orchestrator updateHandler
	Acker        callbackAcker
	Gatherer     prometheus.Gatherer
	HealthChecks []controllers.HealthCheck
}

func NewRouter(deps Deps) http.Handler {
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(middleware.RequestID(logg))
	r.Use(middleware.Logging(logg))
	r.Use(middleware.Recoverer(logg))

	health := controllers.NewHealthController(logg, deps.HealthChecks...)
	r.Get("/health/live", health.Live)
	r.Get("/health/ready", health.Ready)

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Orchestrator != nil {
			webhook := controllers.NewWebhookController(deps.Orchestrator, deps.Acker, logg)
			r.With(middleware.WebhookSecret(deps.Config.Telegram.WebhookSecret, logg)).
				Post("/webhook/telegram", webhook.Handle)
		}
		if deps.Catalog != nil {
			products := controllers.NewProductsController(deps.Catalog, logg)
			r.Get("/products", products.List)
			r.Get("/products/{sku}", products.GetBySKU)
			r.Get("/categories", products.ListCategories)
		}
		if deps.Orders != nil {
			ordersCtrl := controllers.NewOrdersController(deps.Orders, logg)
			r.Get("/orders", ordersCtrl.ListByChat)
			r.Get("/orders/{orderID}", ordersCtrl.Get)
			r.Post("/orders/{orderID}/status", ordersCtrl.UpdateStatus)
		}
	})

	return r
}
