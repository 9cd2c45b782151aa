package main

import (
	"context"
	"flag"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/flowdeck/flowdeck/pkg/api"
	"github.com/flowdeck/flowdeck/pkg/authorization"
	"github.com/flowdeck/flowdeck/pkg/config"
	"github.com/flowdeck/flowdeck/pkg/folders"
	"github.com/flowdeck/flowdeck/pkg/iam"
	"github.com/flowdeck/flowdeck/pkg/observability"
	"github.com/flowdeck/flowdeck/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	logger := logrus.WithField("service", "flowdeck")

	backend, err := openBackend(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	logger.WithField("type", cfg.Storage.Type).Info("Storage initialized")

	folderStore := folders.NewStore(backend)
	if err := folderStore.Load(); err != nil {
		logger.Fatalf("Failed to load folders: %v", err)
	}
	stores := iam.NewStores(backend)
	if err := stores.Load(); err != nil {
		logger.Fatalf("Failed to load identity stores: %v", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	cache, err := authorization.NewRuleCache(cfg.Authorization.CacheSize, registry)
	if err != nil {
		logger.Fatalf("Failed to build rule cache: %v", err)
	}
	authz := authorization.NewService(stores, folderStore, cache, authorization.Options{
		Logger: logger,
	})

	server := api.NewServer(stores, folderStore, authz, metrics, logger)

	mux := http.NewServeMux()
	mux.Handle("/", server)
	health := observability.NewHealthChecker(map[string]observability.Pinger{
		"storage": backend,
	})
	mux.HandleFunc("/healthz", health.Liveness)
	mux.HandleFunc("/readyz", health.Readiness)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	obsLogger := observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout)
	shutdown := observability.NewShutdownManager(obsLogger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return backend.Close()
	})

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		os.Exit(1)
	}
}

func openBackend(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite":
		return storage.OpenSQLStore("sqlite3", cfg.DSN)
	case "postgres":
		return storage.OpenSQLStore("postgres", cfg.DSN)
	default:
		return storage.NewFileSystemStore(cfg.FilesystemRoot)
	}
}
