package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
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
)

const serviceVersion = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.ServiceName, cfg.Environment)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("api failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, cfg.ServiceName, serviceVersion)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(cfg.ServiceName, serviceVersion)
	if err != nil {
		return fmt.Errorf("initialize meter provider: %w", err)
	}
	defer func() { _ = shutdownMeter(ctx) }()

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

	var notificationQueue orders.NotificationQueue
	if cfg.KafkaEnabled() {
		events := messaging.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic)
		defer func() { _ = events.Close() }()
		opts = append(opts, orders.WithEventPublisher(events))

		queue := messaging.NewProducer(cfg.KafkaBrokers, cfg.NotificationTopic)
		defer func() { _ = queue.Close() }()
		notificationQueue = queue
	}

	gateway := payment.NewMidtransClient(payment.MidtransConfig{
		ServerKey:  cfg.MidtransServerKey,
		Production: cfg.MidtransProduction,
		FinishURL:  cfg.ClientURL + "/order/success",
	}, nil)

	products := catalog.NewProductRepository(db)
	service := orders.NewService(
		db,
		products,
		inventory.NewReserver(),
		orders.NewOrderRepository(db),
		gateway,
		logger,
		opts...,
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(telemetry.HTTPRoute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := db.PingContext(pingCtx); err != nil {
			logging.FromContext(r.Context(), logger).Error("health check failed", zap.Error(err))
			status, code = "database unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	r.Handle("/metrics", metricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.DBTimeout + cfg.PaymentTimeout + 5*time.Second))
		catalog.NewHandler(products, logger).Register(r)
		orders.NewHandler(service, notificationQueue, logger).Register(r)
	})

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: otelhttp.NewHandler(r, cfg.ServiceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.DBTimeout + cfg.PaymentTimeout + 10*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting api server",
			zap.String("addr", cfg.HTTPAddr),
			zap.Bool("kafka", cfg.KafkaEnabled()),
			zap.Bool("redis", cfg.RedisAddr != ""),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	case <-stop:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}
