package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/subscription-sync/internal/config"
	"github.com/example/subscription-sync/internal/firebase"
	"github.com/example/subscription-sync/internal/metrics"
	"github.com/example/subscription-sync/internal/notifier"
	"github.com/example/subscription-sync/pkg/mailer"
	"github.com/example/subscription-sync/pkg/messagequeue"
)

func main() {
	if os.Getenv("GIN_MODE") != "release" {
		_ = godotenv.Load()
	}
	appConfig, err := config.LoadNotifierConfig()
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to load application configuration: %v", err)
	}

	var zapLogger *zap.Logger
	if appConfig.IsRelease() {
		zapLogger, err = zap.NewProduction()
	} else {
		zapLogger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("CRITICAL_ERROR: Failed to initialize Zap logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	zapLogger = zapLogger.Named("notifier")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancelInit := context.WithTimeout(ctx, 15*time.Second)
	defer cancelInit()

	fb, err := firebase.NewClients(initCtx, appConfig, zapLogger)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize Firebase Admin SDK", zap.Error(err))
	}
	defer func() { _ = fb.Close() }()

	sesMailer, err := mailer.NewSES(initCtx, appConfig.AWSRegion, appConfig.MailSender)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to initialize SES mailer", zap.Error(err))
	}

	mq, err := messagequeue.NewRabbitMQService(messagequeue.NewRabbitMQServiceConfig{URL: appConfig.RabbitMQURL}, zapLogger)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer func() { _ = mq.Close() }()

	n, err := notifier.New(fb.Auth, sesMailer, metrics.New(prometheus.DefaultRegisterer), zapLogger)
	if err != nil {
		zapLogger.Fatal("CRITICAL_ERROR: Failed to create notifier", zap.Error(err))
	}

	// Metrics only; the notifier has no other HTTP surface.
	metricsServer := &http.Server{
		Addr:              ":" + appConfig.Port,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	zapLogger.Info("Notifier started", zap.String("queue", appConfig.RabbitMQQueue))
	if err := mq.Consume(ctx, appConfig.RabbitMQQueue, n.Handle); err != nil {
		zapLogger.Error("Consumer stopped", zap.Error(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = metricsServer.Shutdown(shutdownCtx)
	zapLogger.Info("Notifier exiting")
}
