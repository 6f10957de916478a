package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"mmair/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// amqpChannel is the part of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

type amqpConnection interface {
	Channel() (amqpChannel, error)
	IsClosed() bool
	Close() error
}

type amqpDialer func(url string) (amqpConnection, error)

type amqpConn struct {
	*amqp.Connection
}

func (c amqpConn) Channel() (amqpChannel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConn{conn}, nil
}

// linearBackoff waits one second more on every attempt.
func linearBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * time.Second
}

// RabbitMQPublisher publishes alert events to a durable topic exchange.
type RabbitMQPublisher struct {
	url        string
	exchange   string
	routingKey string
	dial       amqpDialer
	retryDelay func(attempt int) time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	conn    amqpConnection
	channel amqpChannel
}

// NewRabbitMQPublisher connects and declares the exchange.
func NewRabbitMQPublisher(url, exchange, routingKey string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	return newRabbitMQPublisher(url, exchange, routingKey, dialAMQP, linearBackoff, logger)
}

func newRabbitMQPublisher(url, exchange, routingKey string, dial amqpDialer, retryDelay func(int) time.Duration, logger *zap.Logger) (*RabbitMQPublisher, error) {
	r := &RabbitMQPublisher{
		url:        url,
		exchange:   exchange,
		routingKey: routingKey,
		dial:       dial,
		retryDelay: retryDelay,
		logger:     logger.With(zap.String("component", "rabbitmq")),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.connect(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQPublisher) Name() string { return "rabbitmq" }

// connect establishes connection to RabbitMQ and declares the exchange. Callers hold r.mu.
func (r *RabbitMQPublisher) connect() error {
	var err error

	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.exchange))

	maxRetries := 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		r.conn, err = r.dial(r.url)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(r.retryDelay(attempt))
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	r.channel, err = r.conn.Channel()
	if err != nil {
		r.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = r.channel.ExchangeDeclare(
		r.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		r.channel.Close()
		r.conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	r.logger.Info("Exchange declared", zap.String("exchange", r.exchange))
	return nil
}

// Publish sends one persistent JSON message, reconnecting first if the
// connection was lost since the previous publish.
func (r *RabbitMQPublisher) Publish(ctx context.Context, event models.AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn.IsClosed() || r.channel == nil || r.channel.IsClosed() {
		r.logger.Warn("RabbitMQ connection lost, reconnecting")
		if err := r.connect(); err != nil {
			return err
		}
	}

	err = r.channel.PublishWithContext(ctx,
		r.exchange,   // exchange
		r.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.SentAt,
			MessageId:    event.MessageID,
			Headers: amqp.Table{
				"user_id":   event.UserID.String(),
				"device_id": event.DeviceID.String(),
				"severity":  string(event.Severity),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("Published alert event to RabbitMQ",
		zap.String("device_id", event.DeviceID.String()))
	return nil
}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("Closing RabbitMQ connection")

	if r.channel != nil && !r.channel.IsClosed() {
		if err := r.channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}
