package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/koios/device-bridge/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventHandler defines the interface for handling events
type EventHandler interface {
	Handle(ctx context.Context, event *models.BridgeRequest) (*models.BridgeResult, error)
}

// Consumer handles consuming bridge requests from AMQP
type Consumer struct {
	conn    *Connection
	handler EventHandler
	logger  *zap.Logger
}

// NewConsumer creates a new consumer
func NewConsumer(conn *Connection, handler EventHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		conn:    conn,
		handler: handler,
		logger:  logger,
	}
}

// Start consumes from queueName until ctx is cancelled, reconnecting with
// exponential backoff
func (c *Consumer) Start(ctx context.Context, queueName string) error {
	retryDelay := time.Second
	maxRetryDelay := 30 * time.Second
	retryCount := 0

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled, stopping")
			return ctx.Err()
		default:
		}

		err := c.startConsuming(ctx, queueName)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			retryDelay = time.Second
			retryCount = 0
			continue
		}

		retryCount++
		c.logger.Error("Consumer failed, will retry after delay",
			zap.Error(err),
			zap.String("queue", queueName),
			zap.Int("retry_count", retryCount),
			zap.Duration("retry_delay", retryDelay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
			retryDelay = nextDelay(retryDelay, maxRetryDelay)
		}
	}
}

func nextDelay(current, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * 1.5)
	if next > max {
		return max
	}
	return next
}

// startConsuming handles a single consumption session
func (c *Consumer) startConsuming(ctx context.Context, queueName string) error {
	if err := c.conn.EnsureConnection(); err != nil {
		return fmt.Errorf("failed to ensure connection: %w", err)
	}

	hostname, _ := os.Hostname()
	consumerTag := fmt.Sprintf("device-bridge-%s-%d", hostname, time.Now().Unix())

	msgs, err := c.conn.consume(queueName, consumerTag)
	if err != nil {
		c.logger.Warn("Failed to register consumer, forcing reconnection",
			zap.Error(err),
			zap.String("queue", queueName))
		c.conn.forceClose()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Started consuming messages",
		zap.String("queue", queueName),
		zap.String("consumer_tag", consumerTag))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled, stopping")
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("Message channel closed, will reconnect")
				return fmt.Errorf("message channel closed")
			}

			go c.handleMessage(ctx, msg)
		}
	}
}

// acknowledger is the part of amqp.Delivery handleMessage needs
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type resultPublisher interface {
	PublishResult(ctx context.Context, result *models.BridgeResult) error
}

// handleMessage processes a single message
func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	c.logger.Debug("Received message",
		zap.String("routing_key", msg.RoutingKey),
		zap.String("correlation_id", msg.CorrelationId))

	c.process(ctx, msg.Body, &msg, c.conn)
}

func (c *Consumer) process(ctx context.Context, body []byte, msg acknowledger, publisher resultPublisher) {
	var request models.BridgeRequest
	if err := json.Unmarshal(body, &request); err != nil {
		c.logger.Error("Failed to unmarshal message", zap.Error(err))
		msg.Nack(false, false)
		return
	}

	result, err := c.handler.Handle(ctx, &request)
	if err != nil {
		c.logger.Error("Failed to handle event",
			zap.Error(err),
			zap.String("method", request.Method),
			zap.String("client_id", request.ClientID))
	}
	if result == nil {
		result = &models.BridgeResult{
			Type:        models.TypeBridgeResult,
			UUID:        request.UUID,
			ClientID:    request.ClientID,
			Method:      request.Method,
			ProcessedAt: time.Now(),
		}
		if err != nil {
			result.Error = err.Error()
		}
	}

	// Results are published whether or not the call succeeded
	if publishErr := publisher.PublishResult(ctx, result); publishErr != nil {
		c.logger.Error("Failed to publish result",
			zap.Error(publishErr),
			zap.String("method", request.Method),
			zap.String("client_id", request.ClientID))

		// The call has already run; redelivery would repeat its side effects
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Error("Failed to acknowledge message after publish error",
				zap.Error(ackErr),
				zap.String("client_id", request.ClientID))
		}
		return
	}

	if ackErr := msg.Ack(false); ackErr != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.Error(ackErr),
			zap.String("method", request.Method),
			zap.String("client_id", request.ClientID))
	}
}
