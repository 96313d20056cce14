package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/subscription-sync/internal/api"
	"github.com/example/subscription-sync/internal/config"
	"github.com/example/subscription-sync/internal/core"
	"github.com/example/subscription-sync/internal/db"
	"github.com/example/subscription-sync/internal/firebase"
	"github.com/example/subscription-sync/internal/metrics"
	"github.com/example/subscription-sync/internal/middleware"
	"github.com/example/subscription-sync/pkg/cache"
	"github.com/example/subscription-sync/pkg/messagequeue"
)

const stripeMaxNetworkRetries = 2

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsRelease() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func main() {
	// --- 1. Configuration ---
	// A local .env file is a convenience for development only.
	if os.Getenv("GIN_MODE") != "release" {
		_ = godotenv.Load()
	}
	appConfig, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to load application configuration: %v", err)
	}

	// --- 2. Logger ---
	zapLogger, err := newLogger(appConfig)
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to initialize Zap logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	zapLogger.Info("Application configuration loaded", zap.String("ginMode", appConfig.GinMode))

	// --- 3. Firebase Admin SDK ---
	initCtx, cancelInit := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelInit()

	fb, err := firebase.NewClients(initCtx, appConfig, zapLogger)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize Firebase Admin SDK", zap.Error(err))
	}
	defer func() { _ = fb.Close() }()

	// --- 4. Repositories ---
	subscriptionRepo, err := db.NewFirestoreSubscriptionRepository(fb.Firestore)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to create subscription repository", zap.Error(err))
	}
	webhookEventRepo, err := db.NewFirestoreWebhookEventRepository(fb.Firestore)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to create webhook event repository", zap.Error(err))
	}

	// --- 5. Optional infrastructure ---
	appMetrics := metrics.New(prometheus.DefaultRegisterer)

	var processed core.ProcessedEventCache
	if appConfig.RedisAddress != "" {
		redisCache, err := cache.NewRedisCache(initCtx, cache.NewRedisCacheConfig{
			Address:  appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		}, zapLogger)
		if err != nil {
			zapLogger.Fatal("CRITICAL_ERROR: Failed to connect to Redis", zap.Error(err))
		}
		defer func() { _ = redisCache.Close() }()
		processed = core.NewProcessedEventCache(redisCache, appConfig.ProcessedEventTTL)
	} else {
		zapLogger.Warn("REDIS_ADDRESS not set; duplicate deliveries are detected by the store only")
	}

	var publisher core.ChangePublisher
	if appConfig.RabbitMQURL != "" {
		mq, err := messagequeue.NewRabbitMQService(messagequeue.NewRabbitMQServiceConfig{URL: appConfig.RabbitMQURL}, zapLogger)
		if err != nil {
			zapLogger.Fatal("CRITICAL_ERROR: Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer func() { _ = mq.Close() }()
		publisher = core.NewQueueChangePublisher(mq, appConfig.RabbitMQQueue, appConfig.PublishTimeout)
	} else {
		zapLogger.Warn("RABBITMQ_URL not set; subscription changes are not published")
	}

	// --- 6. Services ---
	billingService, err := core.NewBillingService(core.BillingServiceConfig{
		Verifier: core.NewStripeVerifier(appConfig.StripeWebhookSecret, appConfig.WebhookTolerance),
		LineItems: core.NewStripeLineItemLister(core.StripeClientConfig{
			SecretKey:         appConfig.StripeSecretKey,
			Timeout:           appConfig.StripeTimeout,
			MaxNetworkRetries: stripeMaxNetworkRetries,
		}, zapLogger),
		Subscriptions: subscriptionRepo,
		EventLog:      core.NewEventLogService(webhookEventRepo),
		Processed:     processed,
		Publisher:     publisher,
		Metrics:       appMetrics,
		Logger:        zapLogger,
		StoreTimeout:  appConfig.StoreTimeout,
	})
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize BillingService", zap.Error(err))
	}
	subscriptionService := core.NewSubscriptionService(subscriptionRepo, appConfig.StoreTimeout)

	// --- 7. Gin engine and global middleware ---
	if appConfig.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID(zapLogger))
	router.Use(middleware.RequestLogger(zapLogger))
	router.Use(middleware.RecoveryMiddleware(zapLogger))
	if appConfig.ClientURL != "" {
		router.Use(middleware.CORSMiddleware(appConfig.ClientURL))
		zapLogger.Info("CORS Middleware enabled", zap.String("clientURL", appConfig.ClientURL))
	}

	// --- 8. Routes ---
	if err := api.SetupRoutes(router, api.RouteDeps{
		Config:              appConfig,
		Logger:              zapLogger,
		BillingService:      billingService,
		SubscriptionService: subscriptionService,
		TokenVerifier:       fb.Auth,
		MetricsHandler:      promhttp.Handler(),
	}); err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to set up routes", zap.Error(err))
	}

	// --- 9. HTTP server ---
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", appConfig.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zapLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// --- 10. Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zapLogger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}
	zapLogger.Info("Server exiting gracefully")
}
