package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/cim-backend/api/controllers"
	"github.com/angelmondragon/cim-backend/api/middleware"
	"github.com/angelmondragon/cim-backend/internal/inventory"
	"github.com/angelmondragon/cim-backend/internal/sales"
	"github.com/angelmondragon/cim-backend/pkg/auth"
	"github.com/angelmondragon/cim-backend/pkg/config"
	"github.com/angelmondragon/cim-backend/pkg/db"
	"github.com/angelmondragon/cim-backend/pkg/enums"
	"github.com/angelmondragon/cim-backend/pkg/logger"
	"github.com/angelmondragon/cim-backend/pkg/metrics"
	pkgredis "github.com/angelmondragon/cim-backend/pkg/redis"
)

// Cache is the redis surface used by the HTTP layer.
type Cache interface {
	pkgredis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	cache Cache,
	gatherer prometheus.Gatherer,
	salesService sales.Service,
	inventoryService inventory.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{}
	if dbP != nil {
		readiness["db"] = dbP
	}
	if cache != nil {
		readiness["redis"] = cache
	}

	// idempotency runs per route so the matched pattern is complete
	idempotency := middleware.Idempotency(cache, logg)

	authenticate := middleware.Auth(auth.NewVerifier(cfg.JWT), logg)
	settlePolicy := middleware.NewRateLimitPolicy("sales", time.Minute, cfg.Settlement.RateLimitPerMinute)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authenticate)

		r.With(middleware.RateLimit(settlePolicy, cache, logg), idempotency).Post("/sales", controllers.SettleSale(salesService, logg))
		r.Get("/sales", controllers.ListSales(salesService, logg))
		r.Get("/sales/{saleId}", controllers.GetSale(salesService, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireRole(logg, enums.OperatorRoleAdmin))

		r.With(idempotency).Post("/products/{productId}/restock", controllers.RestockProduct(inventoryService, logg))
	})

	return r
}
