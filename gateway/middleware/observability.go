package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"zkusd/observability"
)

// Observability records per-route metrics and request logs.
type Observability struct {
	logger      *slog.Logger
	metrics     *observability.HTTPMetrics
	logRequests bool
}

func NewObservability(logger *slog.Logger, logRequests bool) *Observability {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observability{logger: logger, metrics: observability.HTTP(), logRequests: logRequests}
}

func (o *Observability) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		duration := time.Since(start)
		o.metrics.Observe(route, r.Method, recorder.status, duration)
		trace.SpanFromContext(r.Context()).SetAttributes(
			attribute.String("http.route", route),
			attribute.String("request.id", RequestIDFrom(r.Context())),
		)
		if o.logRequests {
			o.logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", recorder.status),
				slog.Duration("duration", duration),
				slog.String("request_id", RequestIDFrom(r.Context())))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
