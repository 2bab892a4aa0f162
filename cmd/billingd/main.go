package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nimbushost/billing/pkg/api"
	"github.com/nimbushost/billing/pkg/audit"
	"github.com/nimbushost/billing/pkg/config"
	"github.com/nimbushost/billing/pkg/events"
	"github.com/nimbushost/billing/pkg/gateway"
	"github.com/nimbushost/billing/pkg/gateway/stripe"
	"github.com/nimbushost/billing/pkg/middleware"
	"github.com/nimbushost/billing/pkg/observability"
	"github.com/nimbushost/billing/pkg/payments"
	"github.com/nimbushost/billing/pkg/storage/postgres"
	"github.com/nimbushost/billing/pkg/storage/redisstore"
	"github.com/nimbushost/billing/pkg/storage/s3archive"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	// OpenTelemetry
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	// PostgreSQL
	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: splitReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		return err
	}
	if err := postgres.Migrate(ctx, conns.Primary()); err != nil {
		return err
	}
	store := postgres.NewStore(conns)
	configStore := postgres.NewConfigStore(conns)
	logger.Info("Database ready")

	// Webhook dedup ledger: Redis when enabled, PostgreSQL otherwise.
	var dedup payments.DedupStore = postgres.NewLedgerDedup(conns.Primary())
	var redisClient *redisstore.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisstore.NewClient(redisstore.Config{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
			DedupTTL:   cfg.Redis.DedupTTL,
		})
		if err != nil {
			return err
		}
		dedup = redisClient
		logger.Info("Redis dedup ledger ready")
	}

	// Webhook payload archive
	var archiver payments.Archiver
	if cfg.Archive.Enabled {
		s3Archiver, err := s3archive.NewArchiver(ctx, s3archive.Config{
			Bucket:       cfg.Archive.Bucket,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			UsePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			return err
		}
		archiver = s3Archiver
		logger.WithField("bucket", cfg.Archive.Bucket).Info("Webhook archive ready")
	}

	// Event bus
	var bus events.Bus = events.NewInMemoryBus()
	if cfg.Kafka.Enabled {
		bus = events.NewKafkaBus(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.WithField("topic", cfg.Kafka.Topic).Info("Kafka event bus ready")
	}

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Gateway manager and providers
	manager, err := gateway.NewManager(configStore, logger)
	if err != nil {
		return err
	}
	if err := manager.Register(stripe.NewFactory()); err != nil {
		return err
	}

	// Payment pipeline
	reconciler := payments.NewReconciler(store, bus, logger, metrics)
	orchestrator := payments.NewOrchestrator(store, manager, reconciler, logger, metrics)
	dispatcher := payments.NewDispatcher(manager, store, dedup, reconciler, archiver, logger, metrics)

	// Renewal scanner
	var scanner *payments.RenewalScanner
	if cfg.Renewal.Enabled {
		scanner = payments.NewRenewalScanner(store, orchestrator, cfg.Renewal.Schedule, logger)
		scanner.SetBatchSize(cfg.Renewal.BatchSize)
		if err := scanner.Start(); err != nil {
			return err
		}
	}

	// Gateway bootstrap seed file
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if cfg.GatewayBootstrapPath != "" {
		bootstrap, err := config.LoadGatewayBootstrap(cfg.GatewayBootstrapPath)
		if err != nil {
			return err
		}
		if err := config.ApplyGatewayBootstrap(ctx, bootstrap, manager, logger); err != nil {
			logger.WithError(err).Warn("Gateway bootstrap applied with errors")
		}
	}

	// Audit trail: database sink always, NDJSON file sink when configured.
	dbAudit, err := audit.NewDBLogger(conns.Primary())
	if err != nil {
		return err
	}
	var auditLog audit.Logger = dbAudit
	if cfg.AuditLogFile != "" {
		fileAudit, err := audit.NewFileLogger(cfg.AuditLogFile)
		if err != nil {
			return err
		}
		auditLog = audit.NewMultiLogger(dbAudit, fileAudit)
		logger.WithField("path", cfg.AuditLogFile).Info("Audit file sink ready")
	}

	// HTTP servers
	apiServer := api.NewServer(orchestrator, dispatcher, manager, logger, metrics)
	apiServer.EnableAudit(auditLog, dbAudit)
	if redisClient != nil {
		apiServer.UseRateLimiter(middleware.NewDistributedRateLimitMiddleware(redisClient.Redis()).Handler)
	} else {
		rl := middleware.NewRateLimitMiddleware()
		apiServer.UseRateLimiter(rl.Handler)
	}
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	checker := newHealthChecker(conns, redisClient)
	observability.RegisterHealthRoutes(healthMux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	// Shutdown ordering: stop accepting requests, then stop background
	// work, then close connections.
	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(sctx context.Context) error {
		cancelWatch()
		return healthServer.Shutdown(sctx)
	})
	if scanner != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			scanner.Stop()
			return nil
		})
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error { return bus.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc(func(context.Context) error { return auditLog.Close() })
	shutdown.RegisterShutdownFunc(func(context.Context) error { return conns.Close() })
	if providers != nil {
		shutdown.RegisterShutdownFunc(func(sctx context.Context) error {
			return observability.ShutdownOTel(sctx, providers, logger)
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", server.Addr).Info("API server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GatewayBootstrapPath != "" {
		g.Go(func() error {
			err := config.WatchGatewayBootstrap(watchCtx, cfg.GatewayBootstrapPath, manager, logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if metrics != nil {
		g.Go(func() error {
			pollDBStats(gctx, conns, redisClient, metrics)
			return nil
		})
	}

	g.Go(func() error {
		return shutdown.WaitForShutdown()
	})

	return g.Wait()
}

// newHealthChecker wires the readiness checks. The nil guards keep the
// endpoint meaningful when Redis is not configured.
func newHealthChecker(conns *postgres.ConnectionManager, redisClient *redisstore.Client) *observability.HealthChecker {
	if redisClient != nil {
		return observability.NewHealthChecker(conns.Primary(), redisClient.Redis())
	}
	return observability.NewHealthChecker(conns.Primary(), nil)
}

// pollDBStats exports connection pool gauges until the context ends.
func pollDBStats(ctx context.Context, conns *postgres.ConnectionManager, redisClient *redisstore.Client, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBStats(conns.Stats())
			if redisClient != nil {
				metrics.RedisConnectionsActive.Set(float64(redisClient.PoolStats().TotalConns))
			}
		}
	}
}

func splitReplicaURLs(raw string) []string {
	if raw == "" {
		return nil
	}
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(u); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}
