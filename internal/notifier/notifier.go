package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/example/subscription-sync/internal/metrics"
	"github.com/example/subscription-sync/internal/models"
	"github.com/example/subscription-sync/pkg/mailer"
)

// Result labels for metrics.NotificationsHandled.
const (
	ResultSent      = "sent"
	ResultSkipped   = "skipped"
	ResultMalformed = "malformed"
	ResultFailed    = "failed"
)

// UserDirectory resolves a Firebase user; *auth.Client satisfies it.
type UserDirectory interface {
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
}

// Sender delivers one email; *mailer.Mailer satisfies it.
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) (string, error)
}

// Notifier handles messages from the subscription change queue.
type Notifier struct {
	users   UserDirectory
	sender  Sender
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a Notifier.
func New(users UserDirectory, sender Sender, m *metrics.Metrics, logger *zap.Logger) (*Notifier, error) {
	if users == nil || sender == nil || m == nil {
		return nil, errors.New("notifier: user directory, sender and metrics are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{users: users, sender: sender, metrics: m, logger: logger}, nil
}

// Handle is a messagequeue.Handler. Messages that can never succeed are acknowledged;
// only transient failures are returned so the queue redelivers them.
func (n *Notifier) Handle(ctx context.Context, body []byte) error {
	var change models.SubscriptionChange
	if err := json.Unmarshal(body, &change); err != nil || change.UserID == "" {
		n.logger.Error("Dropping malformed subscription change", zap.Error(err), zap.ByteString("body", body))
		n.count(ResultMalformed)
		return nil
	}
	logger := n.logger.With(zap.String("event_id", change.EventID), zap.String("user_id", change.UserID))

	user, err := n.users.GetUser(ctx, change.UserID)
	if err != nil {
		if auth.IsUserNotFound(err) {
			logger.Warn("Skipping notification for unknown user")
			n.count(ResultSkipped)
			return nil
		}
		n.count(ResultFailed)
		n.metrics.DownstreamFailures.WithLabelValues(metrics.DependencyFirebaseAuth).Inc()
		return fmt.Errorf("failed to look up user %s: %w", change.UserID, err)
	}
	if user.Email == "" {
		logger.Info("Skipping notification for user without email")
		n.count(ResultSkipped)
		return nil
	}

	msg, ok, err := Render(change, user.Email, user.DisplayName)
	if err != nil {
		n.count(ResultFailed)
		return err
	}
	if !ok {
		logger.Debug("No email for change", zap.String("status", string(change.Status)))
		n.count(ResultSkipped)
		return nil
	}

	messageID, err := n.sender.Send(ctx, msg)
	if err != nil {
		n.count(ResultFailed)
		n.metrics.DownstreamFailures.WithLabelValues(metrics.DependencySES).Inc()
		return err
	}
	logger.Info("Subscription email sent", zap.String("message_id", messageID), zap.String("status", string(change.Status)))
	n.count(ResultSent)
	return nil
}

func (n *Notifier) count(result string) {
	n.metrics.NotificationsHandled.WithLabelValues(result).Inc()
}
