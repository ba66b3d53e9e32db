package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nexus-verify/internal/config"
	"github.com/nexus-verify/internal/domain"
	"github.com/nexus-verify/internal/transport/http/handler"
	appmiddleware "github.com/nexus-verify/internal/transport/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = appmiddleware.Unavailable("admin api disabled")
	}

	// 5 requests/second, burst of 10, per client IP.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	healthH := handler.NewHealthHandler()
	callbackH := handler.NewCallbackHandler(deps.Verification, cfg.ResultBaseURL)
	erasureH := handler.NewErasureHandler(deps.Erasure)
	adminH := handler.NewAdminHandler(deps.Verification)

	// Browser-facing flow
	r.Get("/verify", callbackH.Start)
	r.With(sensitiveRL.Limit).Get("/callback", callbackH.Callback)
	r.With(sensitiveRL.Limit).Get("/delete-request", erasureH.Request)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)

		r.Route("/admin", func(r chi.Router) {
			r.Use(authMw)
			r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

			r.Post("/verifications", adminH.ManualVerify)
			r.Delete("/verifications/{identity}", adminH.RemoveVerification)
			r.Post("/correlations", adminH.IssueCorrelation)
			r.Post("/erasures/sweep", erasureH.Sweep)
		})
	})

	return r
}
