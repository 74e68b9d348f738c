package http

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/parking-bookings/internal/auth"
	"github.com/robertarktes/parking-bookings/internal/idempotency"
	"github.com/robertarktes/parking-bookings/internal/observability"
	"github.com/robertarktes/parking-bookings/internal/rateLimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

type loggerKey struct{}

var fallbackLogger = observability.NewNopLogger()

func loggerFrom(r *http.Request) observability.Logger {
	if l, ok := r.Context().Value(loggerKey{}).(observability.Logger); ok {
		return l
	}
	return fallbackLogger
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey{}, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MetricsMiddleware counts requests by route pattern, not raw path, to keep
// label cardinality bounded.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := routePattern(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

// routePattern is the matched chi pattern, known only once routing is done.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

func JWTMiddleware(v *auth.Verifier) func(next http.Handler) http.Handler {
	return v.Middleware
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a POST carrying an
// Idempotency-Key the same user already sent to the same route. Server
// errors are not stored so the client can retry them.
func IdempotencyMiddleware(idemp *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) < 16 || len(key) > 128 {
				http.Error(w, "invalid Idempotency-Key", http.StatusBadRequest)
				return
			}
			user, _ := auth.UserFrom(r.Context())
			route := r.URL.Path

			existing, err := idemp.Get(r.Context(), user, route, key)
			if err != nil {
				loggerFrom(r).WithError(err).Warn("idempotency lookup failed")
			}
			if existing != nil {
				if existing.ContentType != "" {
					w.Header().Set("Content-Type", existing.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(existing.Status)
				_, _ = w.Write(existing.Result)
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 || rec.status >= http.StatusInternalServerError {
				return
			}
			resp := idempotency.Response{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Result:      rec.body.Bytes(),
			}
			if err := idemp.Set(r.Context(), user, route, key, resp); err != nil {
				loggerFrom(r).WithError(err).Warn("idempotency store failed")
			}
		})
	}
}

// RateLimitMiddleware limits per authenticated user, or per client address
// before authentication. A limiter outage lets traffic through.
func RateLimitMiddleware(rl *rateLimit.RateLimiter, perMinute int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if user, ok := auth.UserFrom(r.Context()); ok {
				key = "user:" + user.String()
			}
			ok, err := rl.Allow(r.Context(), key, perMinute, time.Minute)
			if err != nil {
				loggerFrom(r).WithError(err).Warn("rate limiter unavailable")
				ok = true
			}
			if !ok {
				observability.RateLimitExceeded.Inc()
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
			attribute.String("http.request_id", middleware.GetReqID(r.Context())),
		)

		next.ServeHTTP(w, r.WithContext(ctx))

		route := routePattern(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(attribute.String("http.route", route))
	})
}
