package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.temporal.io/sdk/worker"
	"golang.org/x/sync/errgroup"

	"temporal-fulfillment/activities"
	"temporal-fulfillment/api"
	"temporal-fulfillment/audit"
	"temporal-fulfillment/cache"
	"temporal-fulfillment/config"
	"temporal-fulfillment/health"
	"temporal-fulfillment/orchestrator"
	"temporal-fulfillment/resource"
	"temporal-fulfillment/workflows"
)

// Version information - update this when deploying new versions
const (
	WorkerVersion = "2.0.0"
	BuildID       = "2.0.0"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("FULFILLMENT_CONFIG"), "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	c, err := orchestrator.Dial(cfg.Temporal, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	responses, closeCache := newCache(ctx, cfg.Cache, logger)
	defer closeCache()

	clients := make([]*resource.Client, 0, len(cfg.Services))
	for name, baseURL := range cfg.Services {
		clients = append(clients, resource.NewClient(name, baseURL, &http.Client{}, cfg.Timeouts()))
	}

	// The monitor probes through the gateway and the gateway reads are gated
	// on the monitor.
	var gateway *resource.Gateway
	collector := health.NewMetricsCollector()
	registry.MustRegister(collector)
	monitor := health.New(cfg.HealthPolicy(), health.ProberFunc(func(ctx context.Context, service string) (health.ProbeResult, error) {
		return gateway.Probe(ctx, service)
	}), serviceNames(cfg.Services),
		health.WithLogger(logger),
		health.WithCollector(collector),
	)
	gateway = resource.NewGateway(clients, responses,
		resource.WithAvailability(monitor),
		resource.WithCacheTTL(cfg.Cache.TTL),
		resource.WithGatewayLogger(logger),
	)

	store, err := audit.OpenStore(cfg.Audit.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open audit store %s: %w", cfg.Audit.DBPath, err)
	}
	defer store.Close()
	sink := audit.NewSink(audit.NewRing(cfg.Audit.RingSize), store, clock.WallClock, logger)

	buildID := cfg.Temporal.BuildID
	if buildID == "" {
		buildID = BuildID
	}

	// Note: Worker versioning requires server-side setup of the task queue
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		BuildID:                                buildID,
		MaxConcurrentActivityExecutionSize:     100,
		MaxConcurrentWorkflowTaskExecutionSize: 50,
	})
	w.RegisterWorkflow(workflows.PaymentDecisionWorkflow)
	w.RegisterWorkflow(workflows.OrderStatusWorkflow)
	w.RegisterActivity(activities.NewActivities(gateway, sink))

	srv := api.New(
		orchestrator.New(c, cfg.Temporal.TaskQueue, cfg.HTTP.SagaTimeout, logger),
		gateway, monitor, sink,
		api.Options{
			JWTSecret:  []byte(cfg.HTTP.JWTSecret),
			RateLimit:  cfg.HTTP.RateLimit,
			RateBurst:  cfg.HTTP.RateBurst,
			TrustProxy: cfg.HTTP.TrustProxy,
			Version:    WorkerVersion,
			ReleaseID:  buildID,
			Gatherer:   registry,
			Logger:     logger,
		},
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := w.Start(); err != nil {
		return fmt.Errorf("unable to start worker: %w", err)
	}
	defer w.Stop()

	logger.Info("worker started",
		"version", WorkerVersion,
		"build_id", buildID,
		"temporal_address", cfg.Temporal.Address,
		"task_queue", cfg.Temporal.TaskQueue,
		"http_addr", cfg.HTTP.Addr,
		"shared_cache", cfg.Cache.RedisURL != "",
		"audit_db", cfg.Audit.DBPath,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(ctx)
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newCache builds the two tier response cache. An unreachable Redis leaves
// the local tier serving alone.
func newCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (*cache.Cache, func()) {
	opts := []cache.Option{cache.WithTTL(cfg.TTL), cache.WithLogger(logger)}
	closeFn := func() {}

	if cfg.RedisURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		shared, err := cache.DialRedis(dialCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.Warn("shared cache unavailable, using local tier only", "error", err)
		} else {
			opts = append(opts, cache.WithShared(shared))
			closeFn = func() { _ = shared.Close() }
		}
	}
	return cache.New(cache.NewLocal(cfg.Capacity, cfg.TTL, clock.WallClock), opts...), closeFn
}

func serviceNames(services map[string]string) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	return names
}
