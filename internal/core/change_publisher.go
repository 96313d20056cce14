package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/subscription-sync/internal/models"
	"github.com/example/subscription-sync/pkg/messagequeue"
)

// DefaultPublishTimeout bounds a single change publish.
const DefaultPublishTimeout = 2 * time.Second

type queueChangePublisher struct {
	queue     messagequeue.MessageQueue
	queueName string
	timeout   time.Duration
}

// NewQueueChangePublisher publishes changes as JSON to queueName. A publish that takes
// longer than timeout is abandoned with an error.
func NewQueueChangePublisher(queue messagequeue.MessageQueue, queueName string, timeout time.Duration) ChangePublisher {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	return &queueChangePublisher{queue: queue, queueName: queueName, timeout: timeout}
}

func (p *queueChangePublisher) PublishChange(ctx context.Context, change models.SubscriptionChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to encode subscription change: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.queue.Publish(ctx, p.queueName, body)
}
