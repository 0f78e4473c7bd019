package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Handlers struct {
	Products *ProductHandler
	Cart     *CartHandler
	Orders   *OrdersHandler
	Payments *PaymentsHandler
	Admin    *AdminHandler
}

// NewRouter mounts the public API. Every route except /health, the product
// listing and the gateway webhook needs an X-User-ID.
func NewRouter(h Handlers, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(MockAuthMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", h.Products.List)
		r.Get("/products/{product_id}", h.Products.Get)

		// signed by the gateway, not by a user
		r.Post("/payments/webhook", h.Payments.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.Cart.GetCart)
				r.Delete("/", h.Cart.ClearCart)
				r.Post("/items", h.Cart.AddItem)
				r.Put("/items/{product_id}", h.Cart.UpdateQuantity)
				r.Delete("/items/{product_id}", h.Cart.RemoveItem)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.Orders.PlaceOrder)
				r.Get("/mine", h.Orders.ListMine)
				r.Get("/{order_id}", h.Orders.GetOrder)
				r.Post("/{order_id}/payment-intent", h.Orders.RetryPaymentIntent)
			})

			r.Post("/payments/verify", h.Payments.Verify)

			r.Route("/admin/orders", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/", h.Admin.ListOrders)
				r.Get("/{order_id}", h.Admin.GetOrder)
				r.Put("/{order_id}/status", h.Admin.UpdateStatus)
				r.Delete("/{order_id}", h.Admin.DeleteOrder)
			})
		})
	})

	return otelhttp.NewHandler(r, "shop-api")
}
