package messagequeue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RabbitMQService implements the MessageQueue interface using RabbitMQ.
type RabbitMQService struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger

	// sem is held while the amqp channel is in use; amqp channels are not safe for
	// concurrent publishing. Waiters select on it together with their ctx.
	sem      chan struct{}
	declared map[string]bool

	// blocked is set while the broker has throttled the connection (e.g. memory alarm).
	blocked atomic.Bool
}

// ErrConnectionBlocked is returned by Publish while the broker applies flow control.
var ErrConnectionBlocked = errors.New("rabbitmq connection is blocked by the broker")

// NewRabbitMQServiceConfig contains options for creating a new RabbitMQService.
type NewRabbitMQServiceConfig struct {
	URL string
}

// NewRabbitMQService creates a new instance of RabbitMQService.
func NewRabbitMQService(cfg NewRabbitMQServiceConfig, logger *zap.Logger) (*RabbitMQService, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq URL is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	s := newRabbitMQService(ch, logger)
	s.conn = conn
	go s.watchBlocked(conn.NotifyBlocked(make(chan amqp.Blocking, 1)))

	logger.Info("Connected to RabbitMQ")
	return s, nil
}

func newRabbitMQService(ch *amqp.Channel, logger *zap.Logger) *RabbitMQService {
	return &RabbitMQService{
		channel:  ch,
		logger:   logger,
		sem:      make(chan struct{}, 1),
		declared: map[string]bool{},
	}
}

// watchBlocked tracks connection.blocked/unblocked notifications until the connection closes.
func (s *RabbitMQService) watchBlocked(notifications <-chan amqp.Blocking) {
	for b := range notifications {
		s.blocked.Store(b.Active)
		if b.Active {
			s.logger.Warn("RabbitMQ connection blocked by broker", zap.String("reason", b.Reason))
		} else {
			s.logger.Info("RabbitMQ connection unblocked")
		}
	}
}

func (s *RabbitMQService) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for rabbitmq channel: %w", ctx.Err())
	}
}

func (s *RabbitMQService) unlock() { <-s.sem }

// declare must be called with the channel lock held.
func (s *RabbitMQService) declare(queueName string) error {
	if s.declared[queueName] {
		return nil
	}
	_, err := s.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	s.declared[queueName] = true
	return nil
}

// Publish sends a persistent JSON message to a RabbitMQ queue. It returns when ctx ends
// even if the broker has not accepted the write; the write itself finishes in the background.
func (s *RabbitMQService) Publish(ctx context.Context, queueName string, body []byte) error {
	if s.blocked.Load() {
		return ErrConnectionBlocked
	}
	if err := s.lock(ctx); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer s.unlock()
		if err := s.declare(queueName); err != nil {
			done <- err
			return
		}
		done <- s.channel.Publish(
			"",        // exchange
			queueName, // routing key
			false,     // mandatory
			false,     // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
			})
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to publish to queue %s: %w", queueName, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("publish to queue %s: %w", queueName, ctx.Err())
	}
	s.logger.Debug("Published message", zap.String("queue", queueName), zap.Int("bytes", len(body)))
	return nil
}

// Consume delivers messages with manual acknowledgement. A message whose handler fails is
// requeued once; a redelivered message that fails again is dropped.
func (s *RabbitMQService) Consume(ctx context.Context, queueName string, handler Handler) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	err := s.declare(queueName)
	s.unlock()
	if err != nil {
		return err
	}

	msgs, err := s.channel.Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer for queue %s: %w", queueName, err)
	}

	s.logger.Info("Waiting for messages", zap.String("queue", queueName))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			if err := handler(ctx, d.Body); err != nil {
				s.logger.Warn("Message handler failed",
					zap.String("queue", queueName),
					zap.Bool("redelivered", d.Redelivered),
					zap.Error(err))
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close closes the RabbitMQ channel and connection.
func (s *RabbitMQService) Close() error {
	var lastErr error
	if s.channel != nil {
		if err := s.channel.Close(); err != nil {
			lastErr = err
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		s.logger.Warn("Error closing RabbitMQ", zap.Error(lastErr))
	}
	return lastErr
}
