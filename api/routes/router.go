package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cartsync/api/handlers"
	"github.com/angelmondragon/cartsync/api/middleware"
	"github.com/angelmondragon/cartsync/internal/app"
)

// NewRouter serves the operational endpoints of a running cart process.
func NewRouter(a *app.App) http.Handler {
	logg := a.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", handlers.Healthz(a.Config.App.Env))
		r.Get("/ready", handlers.Ready(logg, a.Pingers))
	})
	r.Get("/healthz", handlers.Healthz(a.Config.App.Env))
	r.Get("/cart", handlers.Cart(a.Engine))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	return r
}
