package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/vladislavdragonenkov/donation-reconciler/internal/domain"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/gateway/razorpay"
	healthcheck "github.com/vladislavdragonenkov/donation-reconciler/internal/health"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/metrics"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/service/expiry"
	grpcsvc "github.com/vladislavdragonenkov/donation-reconciler/internal/service/grpc"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/service/httpapi"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/service/outbox"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/service/reconcile"
	"github.com/vladislavdragonenkov/donation-reconciler/internal/version"
)

// Run поднимает сервис сверки и блокируется до отмены ctx или падения gRPC-сервера.
// При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var (
		producer     *kafka.Producer
		consumer     *kafka.Consumer
		workers      []*backgroundWorker
		metricsSrv   *http.Server
		apiSrv       *http.Server
		grpcServer   *grpc.Server
		healthServer *health.Server
	)
	defer func() {
		timeout := cfg.ShutdownTimeout
		stopGRPC(grpcServer, healthServer, timeout, logger)
		shutdownHTTP(apiSrv, timeout, logger)
		stopKafkaConsumer(consumer, logger)
		stopWorkers(workers, timeout, logger)
		shutdownHTTP(metricsSrv, timeout, logger)
		closeKafkaProducer(producer, logger)
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close dependencies")
		}
	}()

	reconcileMetrics := metrics.NewReconcileMetrics()
	retry := reconcile.DefaultRetryConfig()
	if cfg.TxMaxAttempts > 0 {
		retry.MaxAttempts = cfg.TxMaxAttempts
	}
	engine := reconcile.NewEngine(deps.store,
		reconcile.WithLogger(logger.WithField("layer", "reconcile")),
		reconcile.WithMetrics(reconcileMetrics),
		reconcile.WithRetryConfig(retry),
		reconcile.WithStatusCache(deps.statusCache),
		reconcile.WithDefaultTTL(cfg.RegistrationTTL),
		reconcile.WithLinkWindow(cfg.LinkWindow),
		reconcile.WithTxTimeout(cfg.TxTimeout),
	)

	verifier := razorpay.NewVerifier(cfg.WebhookSecret)
	if !verifier.Configured() {
		logger.Warn("webhook secret is not configured, every webhook delivery will be rejected")
	}

	// Kafka необязательна: без неё outbox пишется в лог, а привязка идёт через API.
	producer, _ = initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)

	workers = append(workers,
		startWorker(ctx, "outbox", newOutboxWorker(cfg, deps.outboxRepo, producer, logger).Run),
		startWorker(ctx, "expiry", expiry.NewWorker(engine,
			expiry.WithLogger(logger.WithField("layer", "expiry-worker")),
			expiry.WithInterval(cfg.ExpiryInterval),
			expiry.WithBatchSize(cfg.ExpiryBatchSize),
		).Run),
	)

	consumer, _ = initRegistrationConsumer(cfg, engine, producer, logger)
	if consumer != nil {
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start registration consumer: %w", err)
		}
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if deps.cacheChecker != nil {
		healthHandler.RegisterOptional("status-cache", deps.cacheChecker)
	}

	metricsSrv, _, err = startHTTPServer("metrics", cfg.MetricsAddr, newMetricsMux(healthHandler), logger)
	if err != nil {
		return fmt.Errorf("listen metrics addr %s: %w", cfg.MetricsAddr, err)
	}

	apiHandler := httpapi.NewHandler(engine, verifier,
		httpapi.WithLogger(logger.WithField("layer", "http")),
		httpapi.WithMetrics(reconcileMetrics),
	)
	apiSrv, _, err = startHTTPServer("api", cfg.HTTPAddr, httpapi.NewRouter(apiHandler), logger)
	if err != nil {
		return fmt.Errorf("listen http addr %s: %w", cfg.HTTPAddr, err)
	}

	grpcServer, healthServer = newGRPCServer(
		grpcsvc.NewRegistrationService(engine, logger.WithField("layer", "grpc")),
		logger,
	)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc addr %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", lis.Addr().String()).Info("grpc server listening")
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping servers")
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newOutboxWorker выбирает publisher: Kafka, если есть producer, иначе лог.
func newOutboxWorker(cfg Config, repo domain.OutboxRepository, producer *kafka.Producer, logger *log.Entry) *outbox.Worker {
	workerLogger := logger.WithField("layer", "outbox-worker")
	options := []outbox.Option{
		outbox.WithLogger(workerLogger),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}

	var publisher domain.OutboxPublisher = outbox.NewLogPublisher(workerLogger)
	if producer != nil {
		publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaEventsTopic)
		options = append(options, outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)))
	}
	return outbox.NewWorker(repo, publisher, options...)
}
