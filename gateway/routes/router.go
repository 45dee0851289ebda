// Package routes exposes the node over HTTP/JSON.
package routes

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zkusd/core"
	"zkusd/gateway/auth"
	"zkusd/gateway/middleware"
)

type Config struct {
	Node *core.Node
	// Auth signs every state-changing request; identity fields in the body
	// must match the signing key's account.
	Auth        *auth.Authenticator
	Logger      *slog.Logger
	RateLimit   middleware.RateLimit
	LogRequests bool
	CORS        middleware.CORSConfig
}

type api struct {
	node   *core.Node
	logger *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Node == nil {
		return nil, fmt.Errorf("routes: node required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("routes: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{node: cfg.Node, logger: logger}
	obs := middleware.NewObservability(logger, cfg.LogRequests)
	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	authn := middleware.NewAuthentication(cfg.Auth, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(obs.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(sr chi.Router) {
		sr.Use(limiter.Middleware)
		sr.Use(authn.Middleware)
		a.mountVaults(sr)
		a.mountOracle(sr)
		a.mountRegistry(sr)
		a.mountAccounts(sr)
		sr.Get("/events", a.listEvents)
		sr.Get("/blocks/head", a.blockHead)
	})
	return r, nil
}
