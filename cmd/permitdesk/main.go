package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/permitdesk/pkg/api"
	"github.com/platinummonkey/permitdesk/pkg/assignment"
	"github.com/platinummonkey/permitdesk/pkg/config"
	"github.com/platinummonkey/permitdesk/pkg/notify"
	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/platinummonkey/permitdesk/pkg/storage/postgres"
)

// Version is set at build time
var Version = "dev"

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.Fatalf("permitdesk exited: %v", err)
	}
	logrus.Info("permitdesk stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "permitdesk")

	otel, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		observability.ShutdownOTel(shutdownCtx, otel, logger)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	logrus.Info("Connecting to PostgreSQL")
	db, err := postgres.Connect(ctx, cfg.Database, logger, api.Migrations()...)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := postgres.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		logrus.Info("Redis connected")
		defer rdb.Close()
	}

	dispatcher := notify.NewFromConfig(cfg.Notifications, rdb, logger, metrics)
	logrus.Infof("Notification sinks: %v", dispatcher.Sinks())

	graph := assignment.DefaultGraph()
	if cfg.Authz.HierarchyFile != "" {
		graph, err = assignment.LoadGraph(cfg.Authz.HierarchyFile)
		if err != nil {
			return err
		}
	}
	logrus.Infof("Assignment hierarchy version %s", graph.Version())

	services, err := api.NewServices(db, api.Options{
		Authz:    cfg.Authz,
		Graph:    graph,
		Notifier: dispatcher,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}
	if err := services.RBAC.Initialize(ctx); err != nil {
		return err
	}

	if cfg.Authz.HierarchyFile != "" && cfg.Authz.WatchHierarchy {
		if err := assignment.Watch(ctx, cfg.Authz.HierarchyFile, services.Hierarchy, logger); err != nil {
			return err
		}
		logrus.Infof("Watching %s for hierarchy changes", cfg.Authz.HierarchyFile)
	}

	serverOpts := []api.ServerOption{
		api.WithServerLogger(logger),
		api.WithServerMetrics(metrics),
	}
	if limits := newRateLimit(ctx, cfg.RateLimit, rdb); limits != nil {
		serverOpts = append(serverOpts, api.WithRateLimit(limits))
	}
	server := api.NewServer(services, serverOpts...)

	scheduler, err := newScheduler(cfg.Scheduler, services, logger)
	if err != nil {
		return err
	}
	if scheduler != nil {
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.TracedHandler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, rdb, Version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.Infof("API listening on %s", apiServer.Addr)
		return serve(apiServer)
	})
	g.Go(func() error {
		logrus.Infof("Health and metrics listening on %s", healthServer.Addr)
		return serve(healthServer)
	})
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.RecordDBStats(postgres.Stats(db))
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := errors.Join(
			apiServer.Shutdown(shutdownCtx),
			healthServer.Shutdown(shutdownCtx),
		)
		if closeErr := dispatcher.Close(shutdownCtx); closeErr != nil {
			logrus.Warnf("Pending notifications dropped: %v", closeErr)
		}
		return err
	})

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
