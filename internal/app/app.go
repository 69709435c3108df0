package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает HTTP API, gRPC health, метрики и фоновые воркеры и блокируется до
// отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to release dependencies")
		}
	}()

	// Kafka необязательна: без неё события outbox только логируются.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokerList(), logger)
	defer closeKafka(kafkaProducer, logger)

	outboxWorker := newOutboxWorker(cfg, deps.Store.Outbox(), kafkaProducer, logger)

	var consumer *kafka.Consumer
	if kafkaProducer != nil {
		consumer, err = initGatewayConsumer(cfg, deps.Webhooks, kafkaProducer, logger)
		if err != nil {
			logger.WithError(err).Warn("failed to create gateway event consumer, continuing without it")
			consumer = nil
		}
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var workers sync.WaitGroup
	runWorker := func(name string, run func(ctx context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			logger.WithField("worker", name).Info("worker started")
			run(workersCtx)
			logger.WithField("worker", name).Info("worker stopped")
		}()
	}
	runWorker("outbox", outboxWorker.Run)
	runWorker("upstream-cancel", deps.CancelWorker.Run)
	runWorker("expiry-sweeper", deps.Sweeper.Run)
	runWorker("event-retention", deps.Retention.Run)

	if consumer != nil {
		if err := consumer.Start(workersCtx); err != nil {
			logger.WithError(err).Warn("failed to start gateway event consumer")
			consumer = nil
		}
	}

	api := httpapi.NewHandler(httpapi.Deps{
		Orders:          deps.Orders,
		Carts:           deps.Carts,
		Canceller:       deps.Cancellation,
		Inventory:       deps.Inventory,
		Webhooks:        deps.Webhooks,
		SignatureHeader: cfg.SignatureHeader,
		AdminToken:      cfg.AdminToken,
		Logger:          logger.WithField("layer", "http"),
	})
	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer, healthServer := newGRPCServer(logger)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, newHealthHandler(deps))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopWorkers()
		workers.Wait()
		shutdownHTTP(metricsSrv, logger)
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("сервер завершился с ошибкой")
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)

	stopWorkers()
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop gateway event consumer")
		}
	}
	workers.Wait()
	shutdownHTTP(metricsSrv, logger)

	return runErr
}

// newOutboxWorker выбирает публикатор: Kafka, если есть producer, иначе лог.
func newOutboxWorker(cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, logger *log.Entry) *outbox.Worker {
	options := []outbox.Option{
		outbox.WithLogger(logger.WithField("worker", "outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}

	var publisher domain.OutboxPublisher = logPublisher{logger: logger.WithField("publisher", "log")}
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaOrderTopic)
		options = append(options, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic)))
	}
	return outbox.NewWorker(repo, publisher, options...)
}

// logPublisher пишет события outbox в лог, когда брокер не настроен.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"aggregate_id": event.AggregateID,
		"event_type":   event.EventType,
	}).Info("order event")
	return nil
}

// newHealthHandler собирает /healthz: хранилище обязательно, Redis нет.
func newHealthHandler(deps *Dependencies) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	handler.RegisterChecker("storage", healthcheck.PingChecker("storage", deps.Store))
	if deps.EventCache != nil {
		handler.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", deps.EventCache.Ping))
	}
	return handler
}

// newGRPCServer создаёт gRPC сервер с health, reflection и метриками.
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

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// reflection нужен grpcurl и grpc_health_probe
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

// stopGRPC пытается остановить сервер мягко, но не дольше shutdownTimeout.
func stopGRPC(grpcServer *grpc.Server, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		grpcServer.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
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
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}
