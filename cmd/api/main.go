package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"storefront-checkout/internal/cache"
	"storefront-checkout/internal/client"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/events"
	"storefront-checkout/internal/logging"
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/notify"
	"storefront-checkout/internal/repository"
	"storefront-checkout/internal/server"
	"storefront-checkout/internal/service"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := client.InitDBClient(&cfg.Database)
	if err != nil {
		return err
	}

	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	cartRepo := repository.NewCartRepository(db)
	addressRepo := repository.NewAddressRepository(db)
	userRepo := repository.NewUserRepository(db)

	if cfg.Database.Seed {
		if err := productRepo.Seed(ctx); err != nil {
			return fmt.Errorf("seed products: %w", err)
		}
		logger.Info("seeded demo products")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = client.InitRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	var invalidator cache.Invalidator = cache.NoopInvalidator{}
	if redisClient != nil {
		invalidator = cache.NewRedisInvalidator(redisClient, cfg.Redis.KeyPrefix, logger)
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka, logger)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("close event publisher", slog.String("error", err.Error()))
		}
	}()

	var mailer notify.Mailer = notify.NewLogMailer(logger)
	if cfg.Notify.MailAPIURL != "" {
		mailer = notify.NewHTTPMailer(cfg.Notify.MailAPIURL, cfg.Notify.MailAPIKey, logger)
	}
	dispatcher := notify.NewDispatcher(orderRepo, paymentRepo, userRepo, addressRepo,
		mailer, cfg.Notify.FromAddress, cfg.Chapa.Currency, logger)

	queue := newQueue(cfg, redisClient, dispatcher, m, logger)
	go func() {
		if err := queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("notification queue stopped", slog.String("error", err.Error()))
		}
	}()

	hooks := service.Hooks{
		Notifier:    notify.NewNotifier(queue, cfg.Notify.MaxRetries, cfg.Notify.Backoff, logger),
		Publisher:   publisher,
		Invalidator: invalidator,
		Metrics:     m,
		Logger:      logger,
	}

	orderService := service.NewOrderService(db, service.StockPolicy(cfg.Checkout.StockPolicy),
		productRepo, orderRepo, cartRepo, couponRepo, addressRepo, paymentRepo, hooks)
	paymentService := service.NewPaymentService(db, client.NewChapaClient(&cfg.Chapa, logger), cfg.Chapa,
		productRepo, orderRepo, paymentRepo, userRepo, hooks)
	couponService := service.NewCouponService(couponRepo)

	srv := server.NewServer(db, orderService, paymentService, couponService, server.Options{
		JWTSecret:        cfg.Auth.JWTSecret,
		PaymentRateLimit: cfg.HTTP.PaymentRateLimit,
		Gatherer:         reg,
		Logger:           logger,
	})

	warnDefaults(cfg, logger)

	serverAddr := cfg.Address()
	errCh := make(chan error, 1)

	logger.Info("starting HTTP server",
		slog.String("address", serverAddr),
		slog.String("environment", cfg.Environment.Name),
		slog.String("stock_policy", cfg.Checkout.StockPolicy),
		slog.String("notify_backend", cfg.Notify.Backend))
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		logger.Info("signal received, starting graceful shutdown", slog.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	cancel()

	logger.Info("server stopped")
	return nil
}

// warnDefaults logs settings that fell back to a default an operator should
// choose deliberately.
func warnDefaults(cfg *config.Config, logger *slog.Logger) {
	if cfg.Checkout.StockPolicyDefaulted {
		logger.Warn("CHECKOUT_STOCK_POLICY not set, using default",
			slog.String("stock_policy", cfg.Checkout.StockPolicy))
	}
}

// newQueue picks the notification backend. The redis queue moves tasks a
// crashed process left in flight back to ready when it starts running.
func newQueue(
	cfg *config.Config,
	redisClient *redis.Client,
	handler notify.Handler,
	m *metrics.Metrics,
	logger *slog.Logger,
) notify.Queue {
	if cfg.Notify.Backend != "redis" {
		return notify.NewMemoryQueue(handler, notify.MemoryOptions{
			Workers:        cfg.Notify.Workers,
			BufferSize:     cfg.Notify.BufferSize,
			EnqueueTimeout: cfg.Notify.EnqueueTimeout,
			Logger:         logger,
			Recorder:       m,
		})
	}

	return notify.NewRedisQueue(redisClient, handler, notify.RedisOptions{
		KeyPrefix:    cfg.Redis.KeyPrefix + ":notify",
		PollInterval: cfg.Notify.PollInterval,
		Logger:       logger,
		Recorder:     m,
	})
}
