package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/atm-dispatch/internal/config"
	"github.com/ukydev/atm-dispatch/internal/db"
	"github.com/ukydev/atm-dispatch/internal/dispatch"
	"github.com/ukydev/atm-dispatch/internal/handlers"
	"github.com/ukydev/atm-dispatch/internal/ingest"
	"github.com/ukydev/atm-dispatch/internal/logging"
	"github.com/ukydev/atm-dispatch/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.Setup(cfg.Log, nil)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Service stopped")
	}
}

// run wires the service and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	store, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		closeStore(closeCtx, store, logger)
	}()
	logger.WithField("backend", cfg.Store.Backend).Info("Store ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := dispatch.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	matcher := dispatch.NewMatcher(store, store, logger)
	coordinator := dispatch.NewCoordinator(store, matcher, metrics, logger, dispatch.Options{
		Dedup:          cfg.Dispatch.DedupPolicy,
		ClaimEngineers: cfg.Dispatch.ClaimEngineers,
	})
	ingestor := ingest.NewIngestor(store, coordinator, logger)

	if cfg.MQTT.Broker != "" {
		sub := ingest.NewSubscriber(ingest.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,
		}, ingestor, logger)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()
	} else {
		logger.Warn("MQTT_BROKER not set, telemetry subscription disabled")
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:           newRouter(store, reg, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger log.FieldLogger) (db.Store, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		return db.OpenBadger(cfg.BadgerPath)
	case config.BackendMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		store := db.NewMongoStore(client, cfg.MongoDB)
		if err := store.EnsureIndexes(ctx); err != nil {
			closeStore(ctx, store, logger)
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

type storeCloser interface {
	Close(ctx context.Context) error
}

func closeStore(ctx context.Context, store storeCloser, logger log.FieldLogger) {
	if err := store.Close(ctx); err != nil {
		logger.WithError(err).Error("Failed to close store")
	}
}

func newRouter(store handlers.Pinger, gatherer prometheus.Gatherer, logger log.FieldLogger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.NewHealthHandler(store, logger).Health)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	var h http.Handler = mux
	h = middleware.RequestLogger(logger, "/health", "/metrics")(h)
	h = middleware.Recover(logger)(h)
	return h
}
