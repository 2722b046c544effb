package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/mazuri-stores/mazuri-api/internal/auth"
	"github.com/mazuri-stores/mazuri-api/internal/payment"
	"github.com/mazuri-stores/mazuri-api/internal/telemetry"
	"github.com/mazuri-stores/mazuri-api/internal/transport"
	"github.com/mazuri-stores/mazuri-api/internal/transport/middleware"
	"github.com/mazuri-stores/mazuri-api/internal/transport/swagger"
)

// Dependencies are the handlers and collaborators the router mounts.
// Nil handlers leave their routes unregistered.
type Dependencies struct {
	Tokens         auth.TokenGenerator
	PaymentHandler *payment.Handler
	WebhookHandler *payment.WebhookHandler
	HealthChecks   map[string]CheckFunc
	MetricsHandler http.Handler
	MetricsPath    string
	OpenAPISpec    []byte
	AllowedOrigins []string
	Tracing        bool
	Logger         *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, deps Dependencies) {
	healthHandler := NewHealthHandler(deps.HealthChecks)
	base := transport.NewBaseHandler(deps.Logger)

	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RecoveryMiddleware(base.Logger))
	if deps.Tracing {
		router.Use(telemetry.HTTPMiddleware)
	}

	if deps.MetricsHandler != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.Handle(path, deps.MetricsHandler)
	}

	if deps.OpenAPISpec != nil {
		router.Handle(swagger.SpecPath, swagger.SpecHandler(deps.OpenAPISpec))
		router.Handle("/swagger/*", swagger.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Route("/payments/mpesa", func(pr chi.Router) {
			pr.Use(middleware.LoggingMiddleware(base.Logger))

			// Daraja calls these without credentials.
			if deps.WebhookHandler != nil {
				pr.Post("/callback", deps.WebhookHandler.Callback)
				pr.Post("/timeout", deps.WebhookHandler.Timeout)
			}

			if deps.PaymentHandler != nil && deps.Tokens != nil {
				pr.Group(func(ar chi.Router) {
					ar.Use(middleware.RequireAuth(base, deps.Tokens))
					ar.Post("/initiate", deps.PaymentHandler.Initiate)
					ar.Get("/status/{checkoutRequestId}", deps.PaymentHandler.Status)
				})
			}
		})
	})
}
