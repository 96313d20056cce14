package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	WebhookEvents        *prometheus.CounterVec
	WebhookDuration      *prometheus.HistogramVec
	DownstreamFailures   *prometheus.CounterVec
	SubscriptionWrites   *prometheus.CounterVec
	NotificationsHandled *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer in main and a
// fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_webhook_events_total",
				Help: "Webhook events handled, by event type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subscription_webhook_duration_seconds",
				Help:    "Time spent handling a webhook delivery",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		DownstreamFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_downstream_failures_total",
				Help: "Failed calls to dependencies, by dependency",
			},
			[]string{"dependency"},
		),
		SubscriptionWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_record_writes_total",
				Help: "Subscription records written, by resulting status and plan",
			},
			[]string{"status", "plan"},
		),
		NotificationsHandled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_notifications_total",
				Help: "Change notifications processed by the notifier, by result",
			},
			[]string{"result"},
		),
	}
}

// Dependency labels for DownstreamFailures.
const (
	DependencyStripe       = "stripe"
	DependencyFirestore    = "firestore"
	DependencyFirebaseAuth = "firebase_auth"
	DependencyRedis        = "redis"
	DependencyRabbitMQ     = "rabbitmq"
	DependencySES          = "ses"
)
