package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/storefront/internal/pkg/reqctx"
	"github.com/jcmexdev/storefront/internal/storefront/infra/httpx/middlewares"
)

type RouterConfig struct {
	JWTSecret     []byte
	SessionTTL    time.Duration
	SecureCookies bool
}

func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachRequestMetadata)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handler.Health)

	r.Group(func(r chi.Router) {
		r.Use(middlewares.Session(cfg.SessionTTL, cfg.SecureCookies))
		r.Use(middlewares.Authenticate(cfg.JWTSecret))

		r.Get("/products", handler.ListProducts)
		r.Get("/products/{id}", handler.GetProduct)

		r.Get("/cart", handler.GetCart)
		r.Post("/cart/items", handler.AddCartItem)
		r.Put("/cart/items/{productID}", handler.UpdateCartItem)
		r.Delete("/cart/items/{productID}", handler.RemoveCartItem)

		r.Group(func(r chi.Router) {
			r.Use(middlewares.RequireUser)

			r.Post("/checkout", handler.Checkout)
			r.Post("/orders/{id}/payment", handler.PayOrder)
			r.Get("/orders", handler.ListOrders)
			r.Get("/orders/{id}", handler.GetOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middlewares.RequireRole(reqctx.RoleAdmin))

			r.Get("/orders", handler.AdminListOrders)
			r.Patch("/orders/{id}/status", handler.AdminUpdateStatus)
			r.Get("/orders/{id}/history", handler.AdminOrderHistory)
			r.Get("/sales", handler.AdminSales)

			r.Get("/products", handler.AdminListProducts)
			r.Post("/products", handler.AdminCreateProduct)
			r.Patch("/products/{id}", handler.AdminUpdateProduct)
			r.Delete("/products/{id}", handler.AdminDeactivateProduct)
		})
	})
	return r
}
