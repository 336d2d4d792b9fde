package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/shopcore/api/controllers"
	ordercontrollers "github.com/angelmondragon/shopcore/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/shopcore/api/controllers/payments"
	returncontrollers "github.com/angelmondragon/shopcore/api/controllers/returns"
	webhookcontrollers "github.com/angelmondragon/shopcore/api/controllers/webhooks"
	"github.com/angelmondragon/shopcore/api/middleware"
	"github.com/angelmondragon/shopcore/internal/address"
	"github.com/angelmondragon/shopcore/internal/cart"
	"github.com/angelmondragon/shopcore/internal/checkout"
	"github.com/angelmondragon/shopcore/internal/orders"
	"github.com/angelmondragon/shopcore/internal/payments"
	"github.com/angelmondragon/shopcore/internal/returns"
	"github.com/angelmondragon/shopcore/pkg/config"
	"github.com/angelmondragon/shopcore/pkg/enums"
	"github.com/angelmondragon/shopcore/pkg/logger"
)

// Deps carries everything the HTTP surface is wired to.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency middleware.ReplayStore
	Gatherer    prometheus.Gatherer

	Addresses address.Service
	Carts     cart.Service
	Checkout  checkout.Service
	Orders    orders.Service
	Payments  payments.Service
	Returns   returns.Service
	Webhooks  webhookcontrollers.Receiver
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(map[string]controllers.Pinger{
			"database": deps.DB,
			"redis":    deps.Redis,
		}, logg))
	})

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Gateways sign their deliveries; bearer auth does not apply.
		r.Post("/webhooks/{gateway}", webhookcontrollers.Gateway(deps.Webhooks, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWT, logg))
			r.Get("/", controllers.CartGet(deps.Carts, logg))
			r.Put("/items", controllers.CartSetItem(deps.Carts, logg))
			r.Delete("/items/{itemId}", controllers.CartRemoveItem(deps.Carts, logg))
			r.Put("/coupon", controllers.CartApplyCoupon(deps.Carts, logg))
			r.Delete("/coupon", controllers.CartRemoveCoupon(deps.Carts, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Use(middleware.Idempotency(deps.Idempotency, logg))

			r.Get("/addresses", controllers.AddressList(deps.Addresses, logg))
			r.Post("/addresses", controllers.AddressCreate(deps.Addresses, logg))

			r.Post("/orders", ordercontrollers.Place(deps.Checkout, logg))
			r.Get("/orders/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
			r.Post("/orders/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
			r.Post("/orders/{orderId}/payments", paymentcontrollers.Initiate(deps.Payments, logg))
			r.Post("/orders/{orderId}/returns", returncontrollers.Request(deps.Returns, logg))
			r.Post("/payments/{paymentId}/confirm", paymentcontrollers.Confirm(deps.Payments, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))
		r.Post("/returns/{returnId}/decision", returncontrollers.Decide(deps.Returns, logg))
		r.Post("/returns/{returnId}/complete", returncontrollers.Complete(deps.Returns, logg))
	})

	return r
}
