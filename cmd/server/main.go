// main wires high-level dependencies, exposes the HTTP router, and keeps
// the server lifecycle small. Business logic lives in internal services.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"storescout/internal/candidate/store"
	"storescout/internal/classify"
	"storescout/internal/discovery"
	"storescout/internal/health"
	"storescout/internal/pipeline"
	"storescout/internal/platform/config"
	"storescout/internal/platform/httpserver"
	"storescout/internal/platform/logger"
	"storescout/internal/platform/metrics"
	"storescout/internal/platform/probe"
	platformredis "storescout/internal/platform/redis"
	"storescout/internal/source"
	httptransport "storescout/internal/transport/http"
	"storescout/internal/verify"
	"storescout/internal/verify/strict"
	"storescout/pkg/platform/circuit"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	meter := metrics.New()

	st, closeStore, err := buildStore(cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeStore()

	lease, closeLease, err := buildLease(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	defer closeLease()

	probeOpts := []probe.Option{
		probe.WithTimeout(cfg.Probe.Timeout),
		probe.WithUserAgent(cfg.Probe.UserAgent),
	}
	if cfg.Probe.FallbackURL != "" {
		probeOpts = append(probeOpts,
			probe.WithFallback(probe.NewProxyFetcher(cfg.Probe.FallbackURL, cfg.Probe.Timeout)),
			probe.WithBreaker(circuit.New("probe-direct")),
		)
	}
	fetcher := probe.New(probeOpts...)

	discoverySvc := discovery.New(st,
		discovery.WithLogger(log),
		discovery.WithMetrics(meter),
	)
	runner := pipeline.New(st,
		verify.New(fetcher, verify.WithLogger(log), verify.WithMetrics(meter)),
		strict.New(fetcher, strict.WithLogger(log), strict.WithMetrics(meter)),
		health.New(fetcher, health.WithLogger(log), health.WithMetrics(meter)),
		classify.New(fetcher, classify.WithLogger(log), classify.WithMetrics(meter)),
		lease,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(meter),
		pipeline.WithConcurrency(cfg.Pipeline.Concurrency),
		pipeline.WithBackoff(cfg.Pipeline.RetryBase, cfg.Pipeline.RetryCap),
	)

	if cfg.Kafka.Enabled() {
		consumer, err := source.NewKafka(source.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Group:   cfg.Kafka.Group,
		}, log)
		if err != nil {
			return err
		}
		go func() {
			if err := consumer.Run(ctx, discoverySvc); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("kafka consumer stopped", "error", err)
			}
		}()
	}

	handler := httptransport.New(discoverySvc, runner, st, log,
		httptransport.WithBatchLimit(cfg.Pipeline.BatchLimit))
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler, log))

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting storescout", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildStore selects Postgres when a DSN is configured and the in-memory
// store otherwise.
func buildStore(cfg config.DatabaseConfig, log *slog.Logger) (store.Store, func(), error) {
	if cfg.DSN == "" {
		log.Warn("no database configured, using in-memory store")
		return store.NewInMemory(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store.NewPostgres(db), func() { db.Close() }, nil
}

// buildLease selects the Redis lease when Redis is configured so concurrent
// replicas share one batch slot; otherwise the lease is process-local.
func buildLease(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (pipeline.Lease, func(), error) {
	client, err := platformredis.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		log.Warn("no redis configured, batch lease is process-local")
		return pipeline.NewMemoryLease(), func() {}, nil
	}
	return pipeline.NewRedisLease(client, cfg.LeaseKey, cfg.LeaseTTL), func() { client.Close() }, nil
}
