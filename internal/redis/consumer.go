package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koios/device-bridge/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventHandler handles a decoded bridge request
type EventHandler interface {
	Handle(ctx context.Context, event *models.BridgeRequest) (*models.BridgeResult, error)
}

// streamClient is the subset of *Client the consumer drives
type streamClient interface {
	ReadFromStream(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error)
	AcknowledgeMessage(ctx context.Context, messageID string) error
	PublishResult(ctx context.Context, result *models.BridgeResult) error
	IsHealthy() bool
}

// Consumer handles Redis stream consumption for bridge requests
type Consumer struct {
	client  streamClient
	handler EventHandler
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewConsumer creates a new Redis consumer
func NewConsumer(client *Client, handler EventHandler, logger *zap.Logger) *Consumer {
	return newConsumer(client, handler, logger)
}

func newConsumer(client streamClient, handler EventHandler, logger *zap.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		client:  client,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start consumes bridge requests until Stop is called
func (c *Consumer) Start() error {
	c.logger.Info("Starting Redis consumer for bridge requests")

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info("Redis consumer stopped")
			return nil
		default:
			if err := c.consumeMessages(); err != nil {
				c.logger.Error("Error consuming messages, will retry",
					zap.Error(err),
					zap.Duration("retry_delay", 5*time.Second))
				select {
				case <-c.ctx.Done():
				case <-time.After(5 * time.Second):
				}
			}
		}
	}
}

// Stop stops the consumer
func (c *Consumer) Stop() {
	c.logger.Info("Stopping Redis consumer")
	c.cancel()
}

// consumeMessages reads the stream until the connection turns unhealthy
func (c *Consumer) consumeMessages() error {
	c.logger.Info("Started consuming Redis stream messages")

	for {
		select {
		case <-c.ctx.Done():
			return nil
		default:
			streams, err := c.client.ReadFromStream(c.ctx, 10, 5*time.Second)
			if err != nil {
				if c.ctx.Err() != nil {
					return nil
				}
				if !c.client.IsHealthy() {
					return fmt.Errorf("Redis connection unhealthy, will reconnect")
				}
				c.logger.Error("Error reading from stream", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					c.handleStreamMessage(message)
				}
			}
		}
	}
}

// handleStreamMessage processes a single Redis Stream message
func (c *Consumer) handleStreamMessage(msg redis.XMessage) {
	c.logger.Debug("Received bridge request from stream",
		zap.String("message_id", msg.ID),
		zap.Int("fields_count", len(msg.Values)))

	payload, ok := msg.Values[PayloadField].(string)
	if !ok {
		c.logger.Error("Failed to extract payload from stream message",
			zap.String("message_id", msg.ID))
		// Ack so the entry is not redelivered
		_ = c.client.AcknowledgeMessage(c.ctx, msg.ID)
		return
	}

	var request models.BridgeRequest
	if err := json.Unmarshal([]byte(payload), &request); err != nil {
		c.logger.Error("Failed to unmarshal bridge request",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("payload", payload))
		_ = c.client.AcknowledgeMessage(c.ctx, msg.ID)
		return
	}

	result, err := c.handler.Handle(c.ctx, &request)
	if err != nil {
		c.logger.Error("Failed to handle bridge request",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("method", request.Method),
			zap.String("client_id", request.ClientID))

		if result == nil {
			result = &models.BridgeResult{
				Type:        models.TypeBridgeResult,
				UUID:        request.UUID,
				ClientID:    request.ClientID,
				Method:      request.Method,
				Error:       err.Error(),
				ProcessedAt: time.Now(),
			}
		}
	}

	if err := c.client.PublishResult(c.ctx, result); err != nil {
		c.logger.Error("Failed to publish bridge result",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("client_id", request.ClientID))
		// Left pending so it can be claimed again
		return
	}

	if err := c.client.AcknowledgeMessage(c.ctx, msg.ID); err != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.Error(err),
			zap.String("message_id", msg.ID))
	} else {
		c.logger.Debug("Message processed and acknowledged",
			zap.String("message_id", msg.ID),
			zap.String("client_id", request.ClientID),
			zap.String("method", request.Method))
	}
}
