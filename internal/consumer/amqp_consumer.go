package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Holds the config params for the consumer
type AMQPConfig struct {
	AMQPUri  string
	Exchange string

	DerivativeQueueName string
	DeleteQueueName     string
}

type AMQPConsumer struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	config   AMQPConfig
	handlers *Handlers
}

// messageHandler processes the body of one delivery.
type messageHandler func(ctx context.Context, body []byte) error

// Creates a new AMQPConsumer instance ready to connect to broker
func NewAMQPConsumer(config AMQPConfig, handlers *Handlers) (*AMQPConsumer, error) {
	if config.AMQPUri == "" {
		return nil, fmt.Errorf("AMQP URI cannot be empty in config")
	}
	if config.Exchange == "" {
		return nil, fmt.Errorf("AMQP exchange cannot be empty in config")
	}
	if config.DerivativeQueueName == "" {
		return nil, fmt.Errorf("AMQP derivative requests queue name cannot be empty in config")
	}
	if config.DeleteQueueName == "" {
		return nil, fmt.Errorf("AMQP delete requests queue name cannot be empty in config")
	}
	if handlers == nil {
		return nil, fmt.Errorf("AMQP consumer needs message handlers")
	}

	return &AMQPConsumer{
		config:   config,
		handlers: handlers,
	}, nil
}

// Connects to AMQP broker, declares exchange and queues and
// starts consuming messages
func (c *AMQPConsumer) Start(ctx context.Context) error {
	slog.Debug("AMQP - Initializing AMQP Consumer")

	var err error
	c.conn, err = amqp.Dial(c.config.AMQPUri)
	if err != nil {
		return fmt.Errorf("AMQP - Connection to broker failed: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("AMQP - Failed to open channel: %w", err)
	}

	if err := c.declare(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	go c.consume(ctx, c.config.DerivativeQueueName, "imagecache-gen", c.handlers.HandleDerivativeRequest)
	go c.consume(ctx, c.config.DeleteQueueName, "imagecache-del", c.handlers.HandleDeleteRequest)
	return nil
}

func (c *AMQPConsumer) declare() error {
	err := c.channel.ExchangeDeclare(
		c.config.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("AMQP - Failed to declare exchange: %w", err)
	}

	for _, queueName := range []string{
		c.config.DerivativeQueueName,
		c.config.DeleteQueueName,
	} {
		_, err := c.channel.QueueDeclare(
			queueName,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("AMQP - Failed to declare queue %s: %w", queueName, err)
		}

		err = c.channel.QueueBind(
			queueName,         // Queue
			queueName,         // Routing key
			c.config.Exchange, // Exchange
			false,             // No-wait
			nil,               // Arguments
		)
		if err != nil {
			return fmt.Errorf("AMQP - Failed to bind queue %s: %w", queueName, err)
		}
	}

	return nil
}

// Gracefully stops the AMQP consumer
func (c *AMQPConsumer) Stop() {
	slog.Info("AMQP - Stopping AMQP Consumer...")

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			slog.Error("AMQP - Failed to close channel", "error", err)
		} else {
			slog.Debug("AMQP - Channel closed")
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			slog.Error("AMQP - Failed to close connection", "error", err)
		} else {
			slog.Debug("AMQP - Connection closed")
		}
	}

	slog.Info("AMQP - AMQP Consumer stopped")
}

func (c *AMQPConsumer) consume(
	ctx context.Context,
	queueName string,
	consumerTag string,
	handle messageHandler,
) {
	msgs, err := c.channel.Consume(
		queueName,
		consumerTag,
		false, // Auto-acknowledge
		false, // Exclusive
		false, // No-local
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		slog.Error(
			"AMQP - Failed to create queue consumer",
			"queue", queueName,
			"error", err,
		)
		return
	}

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				slog.Info("AMQP - Message channel closed. goroutine exiting", "queue", queueName)
				return
			}
			settle(queueName, msg, handle(ctx, msg.Body))

		case <-ctx.Done():
			slog.Info(
				"AMQP - Context done signal received, stopping consumption goroutine...",
				"queue", queueName,
			)
			return
		}
	}
}

// settle acks processed messages. Failed ones are nacked, and requeued
// only when a retry could succeed.
func settle(queueName string, msg amqp.Delivery, err error) {
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			slog.Error("AMQP - Failed to acknowledge message", "queue", queueName, "error", ackErr)
		}
		return
	}

	requeue := shouldRequeue(err)
	slog.Error(
		"AMQP - Failed to process message",
		"queue", queueName,
		"requeue", requeue,
		"error", err,
		"message", string(msg.Body),
	)

	if nackErr := msg.Nack(false, requeue); nackErr != nil {
		slog.Error("AMQP - Failed to nack message", "queue", queueName, "error", nackErr)
	}
}

func shouldRequeue(err error) bool {
	return !errors.Is(err, errPermanent)
}
