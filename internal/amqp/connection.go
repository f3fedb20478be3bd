package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/koios/device-bridge/internal/config"
	"github.com/koios/device-bridge/pkg/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const clientIDPlaceholder = "{CLIENT_ID}"

// Connection wraps the AMQP connection and channel
type Connection struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	config  config.AMQPConfig
	logger  *zap.Logger
}

// NewConnection creates a new AMQP connection
func NewConnection(cfg config.AMQPConfig, logger *zap.Logger) (*Connection, error) {
	c := &Connection{
		config: cfg,
		logger: logger,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect dials the broker and declares the request topology. Callers hold
// c.mu or own c exclusively.
func (c *Connection) connect() error {
	cfg := c.config

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Each consumer only holds PrefetchCount unacknowledged calls
	err = ch.Qos(
		cfg.PrefetchCount, // prefetch count
		0,                 // prefetch size
		false,             // global
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		cfg.QueueName, // name
		true,          // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Result queues are declared per client in PublishResult
	err = ch.QueueBind(
		cfg.QueueName,  // queue name
		cfg.RoutingKey, // routing key
		cfg.Exchange,   // exchange
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.conn = conn
	c.channel = ch

	c.logger.Info("Connected to AMQP",
		zap.String("exchange", cfg.Exchange),
		zap.String("queue", cfg.QueueName))
	return nil
}

// EnsureConnection reconnects when the connection or channel has gone away
func (c *Connection) EnsureConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return nil
	}

	c.logger.Info("AMQP connection lost, reconnecting")
	c.closeLocked()
	return c.connect()
}

// forceClose drops the current connection so the next EnsureConnection
// dials again
func (c *Connection) forceClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Connection) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close closes the AMQP connection and channel
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// consume registers a consumer on queueName
func (c *Connection) consume(queueName, consumerTag string) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return nil, fmt.Errorf("channel is not open")
	}

	return c.channel.Consume(
		queueName,   // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
}

// ResultQueue returns the result queue name for clientID
func ResultQueue(template, clientID string) string {
	if !strings.Contains(template, clientIDPlaceholder) {
		return template + "." + clientID
	}
	return strings.ReplaceAll(template, clientIDPlaceholder, clientID)
}

// PublishResult publishes a result message to the client-specific queue
func (c *Connection) PublishResult(ctx context.Context, result *models.BridgeResult) error {
	clientQueue := ResultQueue(c.config.ResultQueue, result.ClientID)

	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return fmt.Errorf("channel is not open")
	}

	// Idempotent
	_, err = c.channel.QueueDeclare(
		clientQueue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare client queue %s: %w", clientQueue, err)
	}

	err = c.channel.QueueBind(
		clientQueue,       // queue name
		result.ClientID,   // routing key
		c.config.Exchange, // exchange
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind client queue %s: %w", clientQueue, err)
	}

	err = c.channel.PublishWithContext(
		ctx,
		c.config.Exchange, // exchange
		result.ClientID,   // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: result.UUID,
			Body:          body,
			DeliveryMode:  amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	c.logger.Debug("Published result to client queue",
		zap.String("client_id", result.ClientID),
		zap.String("method", result.Method),
		zap.String("queue", clientQueue))
	return nil
}
