// Command server boots the task core as a standalone HTTP process: load
// config, wire the store and domain engines, launch the Stale Sweeper in
// the background, and serve the Tool Dispatcher over /rpc until a signal
// asks it to stop — the same init/serve/signal-wait/drain shape as the
// teacher's apps/rest-api entrypoint.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskmesh/taskcore/internal/cache"
	"github.com/taskmesh/taskcore/internal/clock"
	tcconfig "github.com/taskmesh/taskcore/internal/config"
	"github.com/taskmesh/taskcore/internal/dispatch"
	"github.com/taskmesh/taskcore/internal/events"
	"github.com/taskmesh/taskcore/internal/httpapi"
	"github.com/taskmesh/taskcore/internal/lifecycle"
	"github.com/taskmesh/taskcore/internal/observability"
	"github.com/taskmesh/taskcore/internal/query"
	"github.com/taskmesh/taskcore/internal/store"
	"github.com/taskmesh/taskcore/internal/store/memstore"
	"github.com/taskmesh/taskcore/internal/store/pgstore"
	"github.com/taskmesh/taskcore/internal/sweeper"
	"github.com/taskmesh/taskcore/internal/versionlog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("taskcore: %v", err)
	}
}

func run() error {
	cfg, err := tcconfig.Load()
	if err != nil {
		return err
	}

	logger := observability.NewStandardLogger("taskcore")
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := newStore(ctx, cfg, logger, registry)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Error("taskcore: closing store failed", observability.Fields{"error": cerr})
		}
	}()

	sink, err := newEventSink(ctx, cfg)
	if err != nil {
		return err
	}
	publisher := events.NewPublisher(sink, cfg.EventQueueDepth, logger, metrics)
	defer publisher.Close()

	clk := clock.Real{}
	lifeEngine := lifecycle.New(st, clk, publisher, logger)
	queryEngine := query.New(st, clk, metrics, cfg.QuerySlowLogThreshold)
	if qc, err := newQueryCache(cfg, metrics); err != nil {
		logger.Error("taskcore: cache disabled", observability.Fields{"error": err})
	} else if qc != nil {
		queryEngine = queryEngine.WithCache(qc, cfg.CacheTTL)
		defer qc.Close()
	}
	versions := versionlog.New(st)

	sw := sweeper.New(queryEngine, lifeEngine, logger, metrics, cfg.SweepInterval, cfg.StaleTimeout)
	go sw.Run(ctx)

	templates := dispatch.NewInMemoryTemplateProvider()
	recurring := dispatch.NewInMemoryRecurringTaskProvider()
	dispatcher := dispatch.New(lifeEngine, queryEngine, versions, templates, recurring, logger, cfg.StaleTimeout)

	srv := httpapi.New(cfg.ListenAddress, dispatcher, logger, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("taskcore: listening", observability.Fields{"addr": cfg.ListenAddress})
		serveErr <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case sig := <-sigCh:
		logger.Info("taskcore: received signal, shutting down", observability.Fields{"signal": sig.String()})
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// newStore selects the Postgres backend when a DSN is configured and
// falls back to the in-memory single-writer store otherwise.
func newStore(ctx context.Context, cfg *tcconfig.Config, logger observability.Logger, registry *prometheus.Registry) (store.Store, error) {
	if cfg.DatabaseDSN == "" {
		return memstore.New(clock.Real{}), nil
	}
	return pgstore.New(ctx, pgstore.Config{
		DSN:      cfg.DatabaseDSN,
		MaxRetry: cfg.WriterRetryBudget,
		Logger:   logger,
		Registry: registry,
	})
}

// newQueryCache attaches an L1 LRU in front of an L2 Redis tier when
// RedisAddr is configured; with no address configured it returns a nil
// cache and the Query Engine runs uncached.
func newQueryCache(cfg *tcconfig.Config, metrics *observability.Metrics) (*cache.MultiLevelCache, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	l2, err := cache.NewRedisCache(cache.RedisConfig{Address: cfg.RedisAddr})
	if err != nil {
		return nil, err
	}
	return cache.NewMultiLevelCache(l2, cache.MultiLevelConfig{L1MaxSize: cfg.CacheL1Size, DefaultTTL: cfg.CacheTTL}, metrics)
}

// newEventSink routes published events to SQS when a queue URL is
// configured, otherwise discards them.
func newEventSink(ctx context.Context, cfg *tcconfig.Config) (events.Sink, error) {
	if cfg.SQSQueueURL == "" {
		return events.NoopSink{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := sqs.NewFromConfig(awsCfg)
	return events.NewSQSSink(client, cfg.SQSQueueURL), nil
}
