package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.uber.org/zap"

	"github.com/Gabriel171203/flowershop-project/internal/cache"
	"github.com/Gabriel171203/flowershop-project/internal/catalog"
	"github.com/Gabriel171203/flowershop-project/internal/config"
	"github.com/Gabriel171203/flowershop-project/internal/inventory"
	"github.com/Gabriel171203/flowershop-project/internal/logging"
	"github.com/Gabriel171203/flowershop-project/internal/messaging"
	"github.com/Gabriel171203/flowershop-project/internal/orders"
	"github.com/Gabriel171203/flowershop-project/internal/payment"
	"github.com/Gabriel171203/flowershop-project/internal/postgres"
	"github.com/Gabriel171203/flowershop-project/internal/telemetry"
	"github.com/Gabriel171203/flowershop-project/internal/worker"
)

const serviceVersion = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}
	serviceName := cfg.ServiceName + "-worker"

	logger, err := logging.New(serviceName, cfg.Environment)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	// run owns every deferred cleanup, so exiting here cannot skip them.
	if err := run(cfg, serviceName, logger); err != nil {
		logger.Error("worker failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config.Config, serviceName string, logger *zap.Logger) error {
	if !cfg.KafkaEnabled() {
		return errors.New("KAFKA_BROKERS environment variable is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, serviceVersion)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		return fmt.Errorf("initialize meter provider: %w", err)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	if err := runtime.Start(); err != nil {
		return fmt.Errorf("start runtime metrics: %w", err)
	}

	workflowMetrics, err := telemetry.NewWorkflowMetrics()
	if err != nil {
		return fmt.Errorf("create workflow metrics: %w", err)
	}

	db, err := postgres.Open(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() { _ = db.Close() }()

	opts := []orders.Option{
		orders.WithMetrics(workflowMetrics),
		orders.WithTimeouts(cfg.DBTimeout, cfg.PaymentTimeout),
	}

	if cfg.RedisAddr != "" {
		statusCache, err := cache.NewRedisCache(ctx, cfg.RedisAddr, "flowershop:", cfg.StatusCacheTTL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer func() { _ = statusCache.Close() }()
		opts = append(opts, orders.WithStatusCache(statusCache))
	}

	events := messaging.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic)
	defer func() { _ = events.Close() }()
	opts = append(opts, orders.WithEventPublisher(events))

	gateway := payment.NewMidtransClient(payment.MidtransConfig{
		ServerKey:  cfg.MidtransServerKey,
		Production: cfg.MidtransProduction,
		FinishURL:  cfg.ClientURL + "/order/success",
	}, nil)

	service := orders.NewService(
		db,
		catalog.NewProductRepository(db),
		inventory.NewReserver(),
		orders.NewOrderRepository(db),
		gateway,
		logger,
		opts...,
	)
	handler := worker.NewNotificationHandler(service, logger)

	consumer := messaging.NewConsumer(cfg.KafkaBrokers, cfg.NotificationTopic, cfg.WorkerGroupID,
		messaging.WithRetry(5, 500*time.Millisecond),
	)
	defer func() { _ = consumer.Close() }()

	metricsServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           metricsHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("starting payment notification worker",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.NotificationTopic),
		zap.String("group_id", cfg.WorkerGroupID),
	)

	if err := consumer.Consume(ctx, handler.Handle); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("consumer stopped")
			return nil
		}
		return fmt.Errorf("consume notifications: %w", err)
	}
	return nil
}
