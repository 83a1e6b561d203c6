package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nauu/lightingbi/pkg/api"
	"github.com/nauu/lightingbi/pkg/config"
	"github.com/nauu/lightingbi/pkg/engine"
	"github.com/nauu/lightingbi/pkg/jobs"
	"github.com/nauu/lightingbi/pkg/loader"
	"github.com/nauu/lightingbi/pkg/observability"
	"github.com/nauu/lightingbi/pkg/storage/archive"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lightingbi: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	b, err := openBackend(ctx, cfg.Storage, metrics, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	engineOpts := []engine.Option{engine.WithMetrics(metrics), engine.WithLogger(logger)}
	var arch *archive.Archive
	if cfg.Storage.S3Bucket != "" {
		arch, err = archive.NewS3Archive(ctx, cfg.Storage)
		if err != nil {
			b.Close()
			return fmt.Errorf("failed to initialize source archive: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithArchive(arch))
		logger.Infof("Source archive enabled: s3://%s", cfg.Storage.S3Bucket)
	}
	eng := engine.New(b.store, engineOpts...)

	apiOpts := []api.Option{
		api.WithLogger(logger),
		api.WithMetrics(metrics),
		api.WithRequestTimeout(cfg.Server.RequestTimeout),
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		apiOpts = append(apiOpts, api.WithCORS(cfg.Server.CORSOrigins...))
	}
	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(eng, apiOpts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(cfg.Observability.OTelServiceVersion)
	health.AddCheck("store", true, b.store.HealthCheck)
	if b.sql != nil {
		health.AddDatabase("database", b.sql.Conn().Primary())
	}
	if b.redis != nil {
		health.AddRedis("redis", b.redis.Client())
	}
	if arch != nil {
		health.AddCheck("archive", false, arch.HealthCheck)
	}
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		return b.Close()
	})
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	if cfg.Jobs.AuditEnabled {
		audit := jobs.NewCycleAudit(b.store, jobs.WithMetrics(metrics), jobs.WithLogger(logger))
		scheduler, err := jobs.NewScheduler(audit, cfg.Jobs.AuditSchedule, logger)
		if err != nil {
			b.Close()
			return err
		}
		scheduler.Start()
		shutdown.RegisterShutdownFunc(scheduler.Stop)
		logger.Infof("Cycle audit scheduled: %s", cfg.Jobs.AuditSchedule)
	}

	if cfg.Loader.Dir != "" {
		ld := loader.NewLoader(cfg.Loader.Dir, eng, newLoaderLogger(cfg.Observability.LogLevel))
		n, err := ld.LoadAll(ctx)
		if err != nil {
			logger.WithError(err).Warn("Some formula files failed to load")
		}
		logger.Infof("Loaded %d formula sets from %s", n, cfg.Loader.Dir)
		if cfg.Loader.Watch {
			if err := ld.Start(ctx); err != nil {
				b.Close()
				return fmt.Errorf("failed to watch formula directory: %w", err)
			}
			shutdown.RegisterShutdownFunc(func(context.Context) error {
				return ld.Close()
			})
		}
	}

	if b.sql != nil {
		b.sql.Conn().StartHealthCheckRoutine(ctx, 30*time.Second)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Formula API listening on %s", apiServer.Addr)
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		return serve(healthServer)
	})
	g.Go(func() error {
		b.collectPoolStats(gctx, metrics, 15*time.Second)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return shutdown.WaitForShutdown(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s failed: %w", srv.Addr, err)
	}
	return nil
}

// newLoaderLogger builds the logrus logger used by the formula file loader
func newLoaderLogger(level observability.LogLevel) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level.String()); err == nil {
		log.SetLevel(lvl)
	}
	return log
}
