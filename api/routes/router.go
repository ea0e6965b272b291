package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelcommerce/fulfillment-backend/api/controllers"
	webhookcontrollers "github.com/kestrelcommerce/fulfillment-backend/api/controllers/webhooks"
	"github.com/kestrelcommerce/fulfillment-backend/api/middleware"
	"github.com/kestrelcommerce/fulfillment-backend/internal/inventory"
	"github.com/kestrelcommerce/fulfillment-backend/internal/orders"
	"github.com/kestrelcommerce/fulfillment-backend/internal/reservations"
	"github.com/kestrelcommerce/fulfillment-backend/internal/returns"
	paymentwebhook "github.com/kestrelcommerce/fulfillment-backend/internal/webhooks/payments"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/config"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/db/models"
	"github.com/kestrelcommerce/fulfillment-backend/pkg/logger"
	pkgredis "github.com/kestrelcommerce/fulfillment-backend/pkg/redis"
)

// dbConn is the slice of the database client the router wires into handlers.
type dbConn interface {
	Ping(ctx context.Context) error
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type redisConn interface {
	pkgredis.IdempotencyStore
	Ping(ctx context.Context) error
}

// reservationFinder matches the repository surface reservation transitions
// need to resolve a path id.
type reservationFinder interface {
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*models.InventoryReservation, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient dbConn,
	redisClient redisConn,
	metricsHandler http.Handler,
	inventorySvc inventory.Service,
	reservationsSvc reservations.Service,
	reservationsRepo reservationFinder,
	ordersSvc orders.Service,
	returnsSvc returns.Service,
	webhookGuard *paymentwebhook.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbClient, redisClient))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Post("/api/v1/webhooks/payments",
		webhookcontrollers.PaymentsWebhook(ordersSvc, webhookGuard, cfg.Webhooks.PaymentSigningSecret, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.TenantContext(logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Post("/inventory/adjust", controllers.AdjustStock(inventorySvc, logg))
		r.Get("/inventory/{productId}/level", controllers.StockLevel(inventorySvc, logg))

		r.Post("/reservations", controllers.CreateReservation(dbClient, reservationsSvc, logg))
		r.Post("/reservations/{reservationId}/confirm",
			controllers.ConfirmReservation(dbClient, reservationsSvc, reservationsRepo, logg))
		r.Post("/reservations/{reservationId}/release",
			controllers.ReleaseReservation(dbClient, reservationsSvc, reservationsRepo, logg))

		r.Post("/orders", controllers.PlaceOrder(ordersSvc, logg))
		r.Get("/orders", controllers.ListOrders(ordersSvc, logg))
		r.Get("/orders/{orderId}", controllers.OrderDetail(ordersSvc, logg))
		r.Post("/orders/{orderId}/cancel", controllers.CancelOrder(ordersSvc, logg))
		r.Post("/orders/{orderId}/advance", controllers.AdvanceOrder(ordersSvc, logg))

		r.Post("/returns", controllers.OpenReturn(returnsSvc, logg))
		r.Get("/returns", controllers.ListReturns(returnsSvc, logg))
		r.Get("/returns/{returnId}", controllers.ReturnDetail(returnsSvc, logg))
		r.Post("/returns/{returnId}/approve", controllers.ApproveReturn(returnsSvc, logg))
		r.Post("/returns/{returnId}/receive", controllers.ReceiveReturn(returnsSvc, logg))
		r.Post("/returns/{returnId}/inspect", controllers.InspectReturn(returnsSvc, logg))
		r.Post("/returns/{returnId}/refund", controllers.RefundReturn(returnsSvc, logg))
	})

	return r
}
