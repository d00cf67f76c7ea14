package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/campusmart/internal/health"
	"github.com/vladislavdragonenkov/campusmart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/campusmart/internal/metrics"
	"github.com/vladislavdragonenkov/campusmart/internal/service/checkout"
	"github.com/vladislavdragonenkov/campusmart/internal/service/escrow"
	grpcsvc "github.com/vladislavdragonenkov/campusmart/internal/service/grpc"
	"github.com/vladislavdragonenkov/campusmart/internal/service/idempotency"
	"github.com/vladislavdragonenkov/campusmart/internal/service/inventory"
	"github.com/vladislavdragonenkov/campusmart/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/campusmart/internal/service/outbox"
	"github.com/vladislavdragonenkov/campusmart/internal/service/payment"
	"github.com/vladislavdragonenkov/campusmart/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/campusmart/internal/version"
)

const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// Run собирает сервис и блокируется до отмены ctx или падения одного из серверов.
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

	catalog, err := loadCatalog(cfg, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Без Kafka сервис работает: события пишутся только в outbox и журнал.
	producer, _ := initKafkaProducer(cfg, logger)
	defer closeKafkaProducer(producer, logger)

	breaker := lifecycle.NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout, logger.WithField("layer", "payment-breaker"))
	gateway := lifecycle.NewResilientGateway(payment.NewMockGateway(), lifecycle.DefaultRetryConfig(), breaker, logger.WithField("layer", "payment-gateway"))

	lifecycleDeps := lifecycle.Dependencies{
		Orders:    deps.orders,
		Refunds:   deps.refunds,
		Outbox:    deps.outboxRepo,
		Timeline:  deps.timelineRepo,
		Catalog:   catalog,
		Inventory: catalog,
		Payments:  gateway,
		Metrics:   metrics.NewLifecycleMetricsWithRegisterer(registry),
		Logger:    logger.WithField("layer", "lifecycle"),
	}
	if producer != nil {
		lifecycleDeps.Events = producer
	}
	orders, err := lifecycle.NewService(lifecycleDeps, lifecycle.Config{Pricing: cfg.Pricing()})
	if err != nil {
		return fmt.Errorf("init lifecycle: %w", err)
	}

	payer := lifecycle.NewAsyncPayer(orders, logger.WithField("layer", "async-payer"))
	payer.Start(ctx)
	defer payer.Stop()

	storefront, err := checkout.NewService(checkout.Dependencies{
		Carts:    deps.carts,
		Catalog:  catalog,
		Placer:   orders,
		Payments: payer,
		Pricing:  cfg.Pricing(),
		Logger:   logger.WithField("layer", "checkout"),
	})
	if err != nil {
		return fmt.Errorf("init checkout: %w", err)
	}

	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("layer", "idempotency"))

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	shutdownWorkers := func() {
		stopWorkers()
		workers.Wait()
	}
	defer shutdownWorkers()

	startWorkers(workersCtx, &workers, cfg, deps, orders, producer, registry, logger)

	stopCallbacks, err := startPaymentCallbacks(ctx, cfg, orders, producer, logger)
	if err != nil {
		logger.WithError(err).Warn("payment callback consumer is disabled")
		stopCallbacks = func() {}
	}
	defer stopCallbacks()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	healthHandler.RegisterChecker("payment_gateway", healthcheck.NewOptionalChecker("payment_gateway", func(context.Context) error {
		if breaker.State() == lifecycle.CircuitOpen {
			return lifecycle.ErrCircuitOpen
		}
		return nil
	}))

	api, err := httpapi.NewHandler(httpapi.Config{
		Storefront: storefront,
		Orders:     orders,
		Guard:      guard,
		Metrics:    metrics.NewHTTPMetrics(registry),
		Logger:     logger.WithField("layer", "http"),
		LoginPath:  cfg.LoginPath,
	})
	if err != nil {
		return err
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpListener.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	httpSrv := &http.Server{Handler: api.Router(), ReadHeaderTimeout: 10 * time.Second}
	grpcSrv := grpcsvc.NewServer(grpcsvc.NewOrderService(orders, guard, logger.WithField("layer", "grpc")), registry, logger.WithField("layer", "grpc"))
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, registry, healthHandler)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("HTTP API слушает %s", httpListener.Addr())
		if err := httpSrv.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcListener.Addr())
		if err := grpcSrv.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("server failed, shutting down")
	}

	shutdownHTTP(httpSrv, cfg.ShutdownTimeout, logger)
	shutdownGRPC(grpcSrv, cfg.ShutdownTimeout, logger)
	shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
	return runErr
}

// loadCatalog заполняет каталог из файла, если он задан.
func loadCatalog(cfg Config, logger *log.Entry) (*inventory.Catalog, error) {
	catalog := inventory.NewCatalog()
	if cfg.CatalogFile == "" {
		logger.Warn("catalog file is not configured, starting with an empty catalog")
		return catalog, nil
	}
	n, err := catalog.LoadFile(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logger.WithField("products", n).Info("catalog loaded")
	return catalog, nil
}

// startWorkers запускает outbox, очистку ключей идемпотентности и выплату эскроу.
func startWorkers(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg Config,
	deps *runtimeDependencies,
	orders *lifecycle.Service,
	producer *kafka.Producer,
	registry prometheus.Registerer,
	logger *log.Entry,
) {
	var publisher, dlq domain.OutboxPublisher = logOutboxPublisher{logger: logger.WithField("layer", "outbox-log")}, nil
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaOutboxTopic)
		dlqTopic := cfg.KafkaDLQTopic
		if dlqTopic == "" {
			dlqTopic = kafka.TopicDeadLetterQueue
		}
		dlq = kafka.NewOutboxPublisher(producer, dlqTopic)
	}

	outboxOptions := []outbox.Option{
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithRegisterer(registry),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}
	if dlq != nil {
		outboxOptions = append(outboxOptions, outbox.WithDLQPublisher(dlq))
	}
	outboxWorker := outbox.NewWorker(deps.outboxRepo, publisher, outboxOptions...)

	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithRegisterer(registry),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)

	escrowWorker := escrow.NewWorker(orders,
		escrow.WithLogger(logger.WithField("layer", "escrow-release")),
		escrow.WithRegisterer(registry),
		escrow.WithInterval(cfg.EscrowReleaseInterval),
		escrow.WithBatchSize(cfg.EscrowReleaseBatchSize),
	)

	for _, run := range []func(context.Context){outboxWorker.Run, cleanupWorker.Run, escrowWorker.Run} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}
}

// logOutboxPublisher заменяет брокер, когда Kafka не настроена.
type logOutboxPublisher struct {
	logger *log.Entry
}

func (p logOutboxPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"aggregate_id": event.AggregateID,
		"event_type":   event.EventType,
	}).Debug("outbox event")
	return nil
}

// startMetricsServer запускает /metrics и health-пробы.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, gatherer prometheus.Gatherer, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

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
		shutdownHTTP(srv, 0, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// shutdownGRPC ждёт завершения активных вызовов не дольше timeout.
func shutdownGRPC(srv *grpcsvc.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	stopped := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}
