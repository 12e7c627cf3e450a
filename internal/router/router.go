package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/josh-kwaku/roomlink-settlements/internal/domain"
	"github.com/josh-kwaku/roomlink-settlements/internal/handler"
	"github.com/josh-kwaku/roomlink-settlements/internal/middleware"
	"github.com/josh-kwaku/roomlink-settlements/internal/repository"
)

type Handlers struct {
	Auth            *handler.AuthHandler
	Health          *handler.HealthHandler
	Settlements     *handler.SettlementHandler
	Reconciliations *handler.ReconciliationHandler
	Earnings        *handler.EarningsHandler
	Charges         *handler.ChargeHandler
	Webhooks        *handler.WebhookHandler
}

type Options struct {
	JWTSecret      string
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

func New(h Handlers, idem *repository.IdempotencyRepository, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Tracing)
	r.Use(middleware.Logging(opts.Logger))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		handler.RespondAppError(w, handler.ErrResourceNotFound, nil)
	})

	r.Get("/health", h.Health.Liveness)
	r.Get("/health/ready", h.Health.Readiness)

	idempotent := middleware.Idempotency(idem, opts.IdempotencyTTL)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health.Liveness)
		r.Get("/health/ready", h.Health.Readiness)

		r.Post("/auth/login", h.Auth.Login)

		r.Route("/webhooks/gateway", func(r chi.Router) {
			r.Post("/charge", h.Webhooks.ReceiveChargeResult)
			r.Post("/transfer", h.Webhooks.ReceiveTransferResult)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(opts.JWTSecret))

			r.Post("/bookings/{id}/charge", h.Charges.Request)
			r.With(middleware.RequireRole(domain.RoleHost, domain.RoleAdmin, domain.RoleSuperAdmin)).
				Get("/earnings", h.Earnings.Get)

			// Owning hosts may read their own settlement; the handler checks ownership.
			r.Get("/settlements/{id}", h.Settlements.Get)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)

				r.With(idempotent).Post("/settlements", h.Settlements.Create)
				r.Get("/settlements", h.Settlements.List)
				r.Get("/settlements/stats", h.Settlements.Stats)
				r.Put("/settlements/{id}/approve", h.Settlements.Approve)
				r.Put("/settlements/{id}/hold", h.Settlements.Hold)
				r.Put("/settlements/{id}/release", h.Settlements.Release)
				r.Put("/settlements/{id}/cancel", h.Settlements.Cancel)
				r.Put("/settlements/{id}/reopen", h.Settlements.Reopen)
				r.Put("/settlements/{id}/dispute", h.Settlements.Dispute)
				r.Put("/settlements/{id}/resolve-dispute", h.Settlements.ResolveDispute)
				r.With(idempotent).Post("/settlements/{id}/payout", h.Settlements.Payout)

				r.Get("/reconciliations", h.Reconciliations.List)
				r.Get("/reconciliations/{id}", h.Reconciliations.Get)
				r.Put("/reconciliations/{id}/verify", h.Reconciliations.Verify)
				r.Put("/reconciliations/{id}/fail", h.Reconciliations.Fail)
				r.Put("/reconciliations/{id}/reverse", h.Reconciliations.Reverse)
				r.Put("/reconciliations/{id}/dispute", h.Reconciliations.Dispute)
				r.Put("/reconciliations/{id}/resolve-dispute", h.Reconciliations.ResolveDispute)
			})
		})
	})

	return r
}
