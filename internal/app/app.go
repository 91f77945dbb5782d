package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/orderflow/internal/health"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
	"github.com/vladislavdragonenkov/orderflow/internal/seed"
	"github.com/vladislavdragonenkov/orderflow/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orderflow/internal/service/outbox"
	"github.com/vladislavdragonenkov/orderflow/internal/service/placement"
	"github.com/vladislavdragonenkov/orderflow/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/orderflow/internal/version"
)

const readinessProbeInterval = 5 * time.Second

// Run поднимает хранилища, HTTP API, ops-сервер и gRPC health, запускает фоновые
// воркеры и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	if cfg.SeedFile != "" {
		if err := applySeed(ctx, cfg.SeedFile, deps); err != nil {
			return err
		}
	}

	workflowOpts := []placement.Option{
		placement.WithLogger(log.WithField("component", "placement")),
		placement.WithMetrics(metrics.NewPlacementMetrics()),
		placement.WithOutbox(deps.outbox),
	}
	if deps.uow != nil {
		workflowOpts = append(workflowOpts, placement.WithUnitOfWork(deps.uow))
	} else {
		logger.Warn("atomic placement is disabled: order and stock are written separately")
	}
	workflow := placement.NewWorkflow(deps.customers, deps.products, deps.orders, workflowOpts...)

	publishers := initOutboxPublishers(cfg, logger)
	defer publishers.close(logger)

	healthRegistry := healthcheck.NewRegistry(version.Current())
	for name, checker := range deps.checkers {
		healthRegistry.Add(name, checker)
	}
	healthRegistry.Add("outbox", outboxLagProbe(deps.outbox, outboxMaxLag, time.Now))

	idempotencyMetrics := metrics.NewIdempotencyMetrics()
	apiHandler := httpapi.NewHandler(workflow, deps.orders,
		httpapi.WithLogger(log.WithField("component", "http-api")),
		httpapi.WithIdempotency(deps.idempotency, cfg.IdempotencyTTL),
		httpapi.WithIdempotencyMetrics(idempotencyMetrics),
	)
	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(apiHandler, log.WithField("component", "http"), metrics.NewHTTPMetricsWithRegisterer(nil))

	apiListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiListener.Close()
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	grpcServer, healthServer := newGRPCServer(logger)

	// Фоновые воркеры живут дольше серверов: их останавливаем после того,
	// как входящие запросы перестали приниматься.
	workersCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	var workers sync.WaitGroup
	startWorkers(workersCtx, &workers, cfg, deps, publishers, idempotencyMetrics)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthRegistry)
	apiSrv := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", apiListener.Addr())
		if err := apiSrv.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcListener.Addr())
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go watchReadiness(workersCtx, healthServer, healthRegistry, readinessProbeInterval)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервисы")
		runErr = ctx.Err()
	case err := <-errCh:
		logger.WithError(err).Error("сервер завершился с ошибкой")
		runErr = err
	}

	healthRegistry.Drain()
	healthServer.Shutdown()

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http api shutdown with error")
	}
	stopGRPC(shutdownCtx, grpcServer, logger)

	stopWorkers()
	workers.Wait()

	shutdownHTTP(metricsSrv, logger)
	return runErr
}

func applySeed(ctx context.Context, path string, deps *runtimeDependencies) error {
	catalog, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	if _, err := seed.Apply(ctx, catalog, deps.customers, deps.products, log.WithField("component", "seed")); err != nil {
		return err
	}
	return nil
}

func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// reflection нужен grpcurl и grpc_health_probe
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

// watchReadiness переводит gRPC health в NOT_SERVING, пока readiness-проверки не проходят.
func watchReadiness(ctx context.Context, healthServer *health.Server, checks *healthcheck.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_SERVING
			if !checks.Ready(ctx) {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			healthServer.SetServingStatus("", status)
		}
	}
}

func stopGRPC(ctx context.Context, grpcServer *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

func startWorkers(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg Config,
	deps *runtimeDependencies,
	publishers outboxPublishers,
	idempotencyMetrics *metrics.IdempotencyMetrics,
) {
	if publishers.publisher != nil {
		opts := []outbox.Option{
			outbox.WithLogger(log.WithField("component", "outbox-worker")),
			outbox.WithMetrics(metrics.NewOutboxMetrics()),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		}
		if publishers.dlq != nil {
			opts = append(opts, outbox.WithDLQPublisher(publishers.dlq))
		}
		worker := outbox.NewWorker(deps.outbox, publishers.publisher, opts...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	if deps.idempotencyNeedsCleanup {
		cleanup := idempotency.NewCleanupWorker(deps.idempotency,
			idempotency.WithLogger(log.WithField("component", "idempotency-cleanup")),
			idempotency.WithMetrics(idempotencyMetrics),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			cleanup.Run(ctx)
		}()
	}
}

// startMetricsServer запускает ops HTTP-сервер: /metrics, /healthz, /readyz, /livez.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, checks *healthcheck.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	checks.Mount(mux)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
