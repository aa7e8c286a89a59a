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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"finitefield.org/fashion-storefront/internal/checkout"
	"finitefield.org/fashion-storefront/internal/clientstate"
	"finitefield.org/fashion-storefront/internal/events"
	"finitefield.org/fashion-storefront/internal/handlers"
	"finitefield.org/fashion-storefront/internal/orders"
	"finitefield.org/fashion-storefront/internal/payments"
	"finitefield.org/fashion-storefront/internal/platform/auth"
	"finitefield.org/fashion-storefront/internal/platform/config"
	"finitefield.org/fashion-storefront/internal/platform/observability"
	"finitefield.org/fashion-storefront/internal/storefront"
)

const (
	shutdownTimeout    = 10 * time.Second
	sessionPruneTick   = time.Minute
	redisPingTimeout   = 3 * time.Second
	publisherCloseWait = 5 * time.Second
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")

	cfg, err := config.Load(ctx, config.WithEnvFile(".env"))
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			logger.Fatal("invalid configuration", zap.Strings("fields", verr.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	metrics, err := observability.NewCheckoutMetrics()
	if err != nil {
		logger.Warn("checkout metrics disabled", zap.Error(err))
	}

	api := storefront.NewClient(cfg.API.BaseURL,
		storefront.WithTimeout(cfg.API.Timeout),
		storefront.WithLogger(logger.Named("storefront-api")),
	)
	if api.Demo() {
		logger.Warn("no storefront API configured; serving the demo catalogue")
	}

	registry := payments.DefaultRegistry()
	if path := cfg.Checkout.PaymentMethodsFile; path != "" {
		registry, err = payments.LoadRegistry(path)
		if err != nil {
			logger.Fatal("failed to load payment methods", zap.String("path", path), zap.Error(err))
		}
	}

	health := handlers.NewHealthHandlers()
	var store clientstate.Store = clientstate.NewMemoryStore()
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis not reachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		cancel()
		store = clientstate.NewRedisStore(redisClient, 0)
		health.WithCheck("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	} else if cfg.IsProduction() {
		logger.Warn("redis not configured; checkout forms and order numbers are kept in memory")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("events"))
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		publisher = kafkaPublisher
	}
	defer func() {
		done := make(chan error, 1)
		go func() { done <- publisher.Close() }()
		select {
		case err := <-done:
			if err != nil {
				logger.Warn("event publisher close error", zap.Error(err))
			}
		case <-time.After(publisherCloseWait):
			logger.Warn("event publisher close timed out")
		}
	}()

	builder, err := orders.NewBuilder(orders.BuilderDeps{
		Products: api,
		Logger:   logger.Named("orders"),
		Metrics:  metrics,
	})
	if err != nil {
		logger.Fatal("failed to initialise order builder", zap.Error(err))
	}

	profiles := auth.NewClaimsProfile()
	settings := checkout.Settings{
		CartClearPaths:   cfg.API.CartClearPaths,
		MockOrders:       cfg.Checkout.MockOrders,
		Production:       cfg.IsProduction(),
		StrictProductIDs: cfg.Checkout.StrictProductIDs,
		TaxRate:          cfg.Checkout.TaxRate,
		DefaultCountry:   cfg.Checkout.DefaultCountry,
	}
	checkoutLogger := logger.Named("checkout")
	newMachine := func(sessionID string) (*checkout.Machine, error) {
		return checkout.NewMachine(checkout.MachineDeps{
			SessionID: sessionID,
			API:       api,
			Builder:   builder,
			Payments:  registry,
			Forms:     store.Form(sessionID),
			Profiles:  profiles,
			Numbers:   store.OrderNumbers(),
			Events:    publisher,
			Metrics:   metrics,
			Logger:    checkoutLogger,
			Settings:  settings,
		})
	}

	sessions := handlers.NewSessionRegistry(cfg.Session.TTL)
	checkoutHandlers, err := handlers.NewCheckoutHandlers(handlers.CheckoutDeps{
		Sessions:   sessions,
		NewMachine: newMachine,
		Logger:     checkoutLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout handlers", zap.Error(err))
	}
	orderHandlers, err := handlers.NewOrderHandlers(handlers.OrderDeps{
		Orders:         api,
		Store:          store,
		Profiles:       profiles,
		TaxRate:        cfg.Checkout.TaxRate,
		DefaultCountry: cfg.Checkout.DefaultCountry,
		Logger:         logger.Named("orders"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order handlers", zap.Error(err))
	}

	cookies := handlers.NewSessionCookies(cfg.Session.SigningKey, cfg.Session.TTL, cfg.IsProduction(), logger.Named("session"))
	router := handlers.NewRouter(
		handlers.WithAllowedOrigins(cfg.CORS.AllowedOrigins...),
		handlers.WithMiddlewares(
			observability.RecoveryMiddleware,
			observability.TraceMiddleware,
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware,
			observability.BearerTokenMiddleware,
			cookies.Middleware,
		),
		handlers.WithHealthHandlers(health),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentMethodRoutes(handlers.NewPaymentMethodHandlers(registry).Routes),
	)

	pruneCtx, stopPrune := context.WithCancel(context.Background())
	defer stopPrune()
	go sessions.Run(pruneCtx, sessionPruneTick)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("server listening", zap.String("environment", cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	sig := <-shutdown
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	stopPrune()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
