package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"zkusd/config"
	"zkusd/core"
	"zkusd/crypto"
	"zkusd/gateway/auth"
	"zkusd/gateway/middleware"
	"zkusd/gateway/routes"
	"zkusd/observability/logging"
	telemetry "zkusd/observability/otel"
	"zkusd/services/keeper"
)

const serviceName = "zkusd"

func main() {
	var cfgPath, genesisPath, listenAddr string
	var logRequests bool
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to node configuration")
	flag.StringVar(&genesisPath, "genesis", "", "override the configured genesis file")
	flag.StringVar(&listenAddr, "listen", "", "override the configured listen address")
	flag.BoolVar(&logRequests, "log-requests", false, "log every HTTP request")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if genesisPath != "" {
		cfg.GenesisFile = genesisPath
	}
	if listenAddr != "" {
		cfg.ListenAddress = listenAddr
	}
	if env := strings.TrimSpace(os.Getenv("ZKUSD_ENV")); env != "" {
		cfg.Environment = env
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("log level: %v", err)
	}
	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), serviceName, cfg.Environment, cfg.Telemetry)
	if err != nil {
		logger.Error("init telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	node, err := core.NewNode(cfg, logger)
	if err != nil {
		logger.Error("start node", slog.Any("error", err))
		os.Exit(1)
	}
	defer node.Close()

	authenticator, closeNonces, err := buildAuthenticator(cfg, logger)
	if err != nil {
		logger.Error("build authenticator", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeNonces()

	handler, err := routes.New(routes.Config{
		Node:   node,
		Logger: logger,
		Auth:   authenticator,
		RateLimit: middleware.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		LogRequests: logRequests,
	})
	if err != nil {
		logger.Error("build router", slog.Any("error", err))
		os.Exit(1)
	}
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(handler, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	clock, err := keeper.New(node, node.Oracle(), node.Vaults(), cfg.BlockInterval(),
		keeper.WithLogger(logger),
		keeper.WithAutoSettle(cfg.Keeper.AutoSettle),
	)
	if err != nil {
		logger.Error("build keeper", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keeperDone := make(chan struct{})
	go func() {
		defer close(keeperDone)
		if err := clock.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("keeper stopped", slog.Any("error", err))
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("zkusd listening", slog.String("address", cfg.ListenAddress), slog.String("database", cfg.Database))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve http", slog.Any("error", err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing server stop", slog.Any("error", err))
		_ = server.Close()
	}
	<-keeperDone
}

// buildAuthenticator loads the configured API keys. Disk-backed nodes keep
// nonces in LevelDB so replays are rejected across restarts.
func buildAuthenticator(cfg *config.Config, logger *slog.Logger) (*auth.Authenticator, func(), error) {
	clients := make([]auth.Client, 0, len(cfg.Auth.Keys))
	for _, key := range cfg.Auth.Keys {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(key.Address))
		if err != nil {
			return nil, nil, fmt.Errorf("auth key %s: %w", key.ID, err)
		}
		clients = append(clients, auth.Client{ID: key.ID, Secret: key.Secret, Address: addr})
	}
	if len(clients) == 0 {
		logger.Warn("no gateway api keys configured; write endpoints will reject every request")
	}
	ttl := time.Duration(cfg.Auth.NonceTTLSeconds) * time.Second
	opts := auth.Options{
		TimestampSkew: time.Duration(cfg.Auth.TimestampSkewSeconds) * time.Second,
		NonceTTL:      ttl,
		NonceCapacity: cfg.Auth.NonceCapacity,
	}
	closer := func() {}
	if cfg.Database != config.DatabaseMemory {
		store, err := auth.OpenLevelDBNonces(cfg.NoncePath())
		if err != nil {
			return nil, nil, err
		}
		opts.Persistence = store
		closer = func() {
			if err := store.Close(); err != nil {
				logger.Warn("close nonce store", slog.Any("error", err))
			}
		}
	}
	authenticator, err := auth.NewAuthenticator(clients, opts)
	if err != nil {
		closer()
		return nil, nil, err
	}
	if err := authenticator.HydrateNonces(context.Background(), time.Now().Add(-ttl)); err != nil {
		closer()
		return nil, nil, err
	}
	return authenticator, closer, nil
}
