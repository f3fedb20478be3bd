package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/koios/device-bridge/internal/config"
	"github.com/koios/device-bridge/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// RequestStream is the stream bridge requests are read from
	RequestStream = "device:bridge_requests"
	// PayloadField holds the JSON-encoded request in each stream entry
	PayloadField = "payload"

	resultChannelPrefix = "device:results:"
)

// ResultChannel returns the pub/sub channel results for clientID go to
func ResultChannel(clientID string) string {
	return resultChannelPrefix + clientID
}

// Client wraps the Redis client for stream and pub/sub operations
type Client struct {
	client *redis.Client
	config config.RedisConfig
	logger *zap.Logger
	ctx    context.Context
}

// NewClient creates a new Redis client
func NewClient(cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	if cfg.ConsumerName == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "unknown"
		}
		cfg.ConsumerName = fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	ctx := context.Background()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client := &Client{
		client: rdb,
		config: cfg,
		logger: logger,
		ctx:    ctx,
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("consumer_name", cfg.ConsumerName))

	if err := client.initializeConsumerGroup(); err != nil {
		logger.Warn("Failed to initialize consumer group (may already exist)", zap.Error(err))
	}

	return client, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// PublishResult publishes a bridge result to the client-specific channel
func (c *Client) PublishResult(ctx context.Context, result *models.BridgeResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge result: %w", err)
	}

	channel := ResultChannel(result.ClientID)

	if err := c.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}

	c.logger.Debug("Published bridge result",
		zap.String("channel", channel),
		zap.String("client_id", result.ClientID),
		zap.String("method", result.Method),
		zap.String("uuid", result.UUID))

	return nil
}

// initializeConsumerGroup creates the consumer group for the request stream.
// "0" starts the group at the beginning of the stream.
func (c *Client) initializeConsumerGroup() error {
	err := c.client.XGroupCreateMkStream(c.ctx, RequestStream, c.config.ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Consumer group initialized",
		zap.String("stream", RequestStream),
		zap.String("group", c.config.ConsumerGroup))

	return nil
}

// ReadFromStream reads entries not yet delivered to any consumer of the group
func (c *Client) ReadFromStream(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.ConsumerGroup,
		Consumer: c.config.ConsumerName,
		Streams:  []string{RequestStream, ">"},
		Count:    count,
		Block:    block,
		NoAck:    false,
	}).Result()

	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	return streams, nil
}

// AcknowledgeMessage acknowledges a message from the stream
func (c *Client) AcknowledgeMessage(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, RequestStream, c.config.ConsumerGroup, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", messageID, err)
	}

	return nil
}

// IsHealthy checks if Redis connection is healthy
func (c *Client) IsHealthy() bool {
	return c.client.Ping(c.ctx).Err() == nil
}
