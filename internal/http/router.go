package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/parking-bookings/internal/auth"
	"github.com/robertarktes/parking-bookings/internal/idempotency"
	"github.com/robertarktes/parking-bookings/internal/observability"
	"github.com/robertarktes/parking-bookings/internal/rateLimit"
)

// RouterDeps carries the middleware dependencies. RateLimiter and Idempotency
// are optional; without Redis those middlewares are left out.
type RouterDeps struct {
	Logger      observability.Logger
	Verifier    *auth.Verifier
	RateLimiter *rateLimit.RateLimiter
	RatePerMin  int
	Idempotency *idempotency.Idempotency
}

func SetupRouter(h *Handlers, deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(deps.Verifier))
		if deps.RateLimiter != nil {
			r.Use(RateLimitMiddleware(deps.RateLimiter, deps.RatePerMin))
		}
		if deps.Idempotency != nil {
			r.Use(IdempotencyMiddleware(deps.Idempotency))
		}

		r.Post("/v1/lots", h.CreateLot)
		r.Get("/v1/lots/{lotID}", h.GetLot)
		r.Post("/v1/lots/{lotID}/slots", h.RegisterSlot)
		r.Get("/v1/lots/{lotID}/slots", h.ListSlots)
		r.Post("/v1/slots/{slotID}/maintenance", h.SetSlotMaintenance)

		r.Post("/v1/bookings", h.CreateBooking)
		r.Get("/v1/bookings", h.ListBookings)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Post("/v1/bookings/{id}/accept", h.AcceptBooking)
		r.Post("/v1/bookings/{id}/reject", h.RejectBooking)
		r.Post("/v1/bookings/{id}/cancel", h.CancelBooking)
		r.Post("/v1/bookings/{id}/arrival", h.ConfirmArrival)
		r.Post("/v1/bookings/{id}/departure", h.ConfirmDeparture)

		r.Get("/v1/notifications", h.ListNotifications)
		r.Post("/v1/notifications/{id}/read", h.MarkNotificationRead)

		r.Get("/v1/realtime", h.Realtime)
	})

	return r
}
