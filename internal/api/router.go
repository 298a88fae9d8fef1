package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	// Opens a server span per request; the log handler reads its IDs back
	// out of the context.
	r.Use(otelhttp.NewMiddleware("promptpay-shop"))

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/items", h.AddCartItem)
		r.Patch("/items/{productID}", h.UpdateCartItem)
		r.Delete("/items/{productID}", h.RemoveCartItem)
	})

	r.Post("/checkout", h.Checkout)

	r.Get("/orders", h.ListOrders)
	r.Get("/orders/{id}", h.GetOrder)

	r.Post("/products", h.CreateProduct)
	r.Get("/products", h.ListProducts)
	r.Get("/products/{id}", h.GetProduct)
	r.Delete("/products/{id}", h.DeactivateProduct)

	r.Post("/users", h.CreateUser)
	r.Get("/users/{id}", h.GetUser)

	return r
}
