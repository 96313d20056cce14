package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/subscription-sync/internal/config"
	"github.com/example/subscription-sync/internal/core"
	"github.com/example/subscription-sync/internal/middleware"
)

// WebhookPath is the endpoint registered with Stripe.
const WebhookPath = "/stripeWebhook"

// RouteDeps holds what SetupRoutes wires into handlers.
type RouteDeps struct {
	Config              *config.Config
	Logger              *zap.Logger
	BillingService      core.BillingService
	SubscriptionService core.SubscriptionService
	TokenVerifier       middleware.TokenVerifier
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

// SetupRoutes configures all the application routes with their handlers and middleware.
// Global middleware (request id, logging, recovery, CORS) is applied in main.
func SetupRoutes(router *gin.Engine, deps RouteDeps) error {
	authMW, err := middleware.NewAuthMiddleware(deps.TokenVerifier, deps.Logger)
	if err != nil {
		return err
	}

	billingHandler := NewBillingHandler(deps.BillingService, deps.Logger)
	subscriptionHandler := NewSubscriptionHandler(deps.SubscriptionService, deps.Logger)

	// Stripe authenticates webhooks by signature, so no auth middleware here.
	router.POST(WebhookPath, billingHandler.HandleStripeWebhook)

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/billing/webhooks/stripe", billingHandler.HandleStripeWebhook)

		subscriptionGroup := apiV1.Group("/subscription",
			middleware.RateLimit(deps.Config.ReadRateLimit, deps.Config.ReadRateBurst),
			authMW.VerifyToken(),
		)
		{
			subscriptionGroup.GET("", subscriptionHandler.GetMySubscription)
			subscriptionGroup.GET("/active", subscriptionHandler.GetActive)
			subscriptionGroup.GET("/status/:userId", subscriptionHandler.GetSubscriptionStatus)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	deps.Logger.Info("API routes configured", zap.String("webhook_path", WebhookPath))
	return nil
}
