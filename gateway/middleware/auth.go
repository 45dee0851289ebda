package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"zkusd/gateway/auth"
	"zkusd/observability"
)

// Authentication requires a signed request for every state-changing method.
// Reads pass through anonymously.
type Authentication struct {
	auth    *auth.Authenticator
	logger  *slog.Logger
	metrics *observability.HTTPMetrics
}

func NewAuthentication(authenticator *auth.Authenticator, logger *slog.Logger) *Authentication {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authentication{auth: authenticator, logger: logger, metrics: observability.HTTP()}
}

func (a *Authentication) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(auth.MaxBodyForSignature)+1))
		if err != nil {
			writeUnauthenticated(w, r, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		principal, err := a.auth.Authenticate(r, body)
		if err != nil {
			a.metrics.RecordAuthFailure(failureReason(err))
			a.logger.Warn("request rejected",
				slog.String("route", r.URL.Path),
				slog.String("api_key", r.Header.Get(auth.HeaderAPIKey)),
				slog.Any("error", err))
			writeUnauthenticated(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func failureReason(err error) string {
	if errors.Is(err, auth.ErrReplay) {
		return "replay"
	}
	return "signature"
}

func writeUnauthenticated(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":      "Unauthenticated",
		"message":    err.Error(),
		"request_id": RequestIDFrom(r.Context()),
	})
}
