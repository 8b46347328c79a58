package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"github.com/grigta/webportal/pkg/logger"
)

const (
	EventsExchange     = "events"
	DeadLetterExchange = "dead-letter"
)

type RabbitMQ struct {
	mu        sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	url       string
	consumers []ConsumerRegistration
	stopCh    chan struct{}
	closeOnce sync.Once
}

type ConsumerRegistration struct {
	QueueName    string
	ConsumerName string
	Handler      func([]byte) error
	Context      context.Context
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	logger.Info("Connected to RabbitMQ")

	rabbitmq := &RabbitMQ{
		conn:      conn,
		channel:   ch,
		url:       url,
		consumers: make([]ConsumerRegistration, 0),
		stopCh:    make(chan struct{}),
	}

	go rabbitmq.monitorConnection()

	return rabbitmq, nil
}

func (r *RabbitMQ) Close() error {
	r.closeOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.channel.Close(); err != nil {
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

func (r *RabbitMQ) DeclareExchange(name, kind string, durable, autoDelete bool) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel.ExchangeDeclare(name, kind, durable, autoDelete, false, false, nil)
}

func (r *RabbitMQ) DeclareQueue(name string, durable, autoDelete, exclusive bool) (amqp.Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel.QueueDeclare(name, durable, autoDelete, exclusive, false, nil)
}

func (r *RabbitMQ) BindQueue(queueName, routingKey, exchangeName string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel.QueueBind(queueName, routingKey, exchangeName, false, nil)
}

func (r *RabbitMQ) Publish(exchange, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// PublishEvent wraps data in a Message and routes it by its type on the events exchange.
func (r *RabbitMQ) PublishEvent(eventType string, data interface{}) error {
	return r.Publish(EventsExchange, eventType, NewMessage(eventType, data))
}

func (r *RabbitMQ) Consume(queueName, consumerName string, autoAck bool) (<-chan amqp.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel.Consume(queueName, consumerName, autoAck, false, false, false, nil)
}

func (r *RabbitMQ) ConsumeWithHandler(ctx context.Context, queueName, consumerName string, handler func([]byte) error) error {
	r.mu.Lock()
	r.consumers = append(r.consumers, ConsumerRegistration{
		QueueName:    queueName,
		ConsumerName: consumerName,
		Handler:      handler,
		Context:      ctx,
	})
	r.mu.Unlock()

	return r.startConsumer(ctx, queueName, consumerName, handler)
}

func (r *RabbitMQ) startConsumer(ctx context.Context, queueName, consumerName string, handler func([]byte) error) error {
	msgs, err := r.Consume(queueName, consumerName, false)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping consumer", logger.Field{Key: "queue", Value: queueName})
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Warn("Consumer channel closed", logger.Field{Key: "queue", Value: queueName})
					return
				}
				handleDelivery(queueName, msg, handler)
			}
		}
	}()

	logger.Info("Started consuming messages", logger.Field{Key: "queue", Value: queueName})
	return nil
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func handleDelivery(queueName string, msg amqp.Delivery, handler func([]byte) error) {
	settle(queueName, msg.Body, msg, handler)
}

func settle(queueName string, body []byte, ack acknowledger, handler func([]byte) error) {
	if err := handler(body); err != nil {
		logger.Error("Failed to process message",
			logger.Field{Key: "queue", Value: queueName},
			logger.Err(err),
		)
		_ = ack.Nack(false, false)
		return
	}
	_ = ack.Ack(false)
}

func (r *RabbitMQ) SetupTopology() error {
	if err := r.DeclareExchange(EventsExchange, "topic", true, false); err != nil {
		return fmt.Errorf("failed to declare events exchange: %w", err)
	}
	if err := r.DeclareExchange(DeadLetterExchange, "topic", true, false); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}
	return nil
}

func (r *RabbitMQ) Reconnect() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("failed to reconnect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to reopen channel: %w", err)
	}

	r.mu.Lock()
	if r.conn != nil && !r.conn.IsClosed() {
		r.conn.Close()
	}
	r.conn = conn
	r.channel = ch
	consumers := append([]ConsumerRegistration(nil), r.consumers...)
	r.mu.Unlock()

	logger.Info("Reconnected to RabbitMQ")

	if err := r.SetupTopology(); err != nil {
		logger.Error("Failed to setup topology after reconnect", logger.Err(err))
	}

	for _, consumer := range consumers {
		if consumer.Context.Err() != nil {
			continue
		}
		if err := r.startConsumer(consumer.Context, consumer.QueueName, consumer.ConsumerName, consumer.Handler); err != nil {
			logger.Error("Failed to restart consumer after reconnect",
				logger.Field{Key: "queue", Value: consumer.QueueName},
				logger.Err(err),
			)
		}
	}

	return nil
}

func (r *RabbitMQ) monitorConnection() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.mu.RLock()
			lost := r.conn != nil && r.conn.IsClosed()
			r.mu.RUnlock()
			if !lost {
				continue
			}

			logger.Warn("RabbitMQ connection lost, attempting to reconnect...")
			for i := 0; i < 5; i++ {
				if err := r.Reconnect(); err != nil {
					logger.Error("Failed to reconnect to RabbitMQ",
						logger.Field{Key: "attempt", Value: i + 1},
						logger.Err(err),
					)
					time.Sleep(reconnectBackoff(i))
					continue
				}
				break
			}
		}
	}
}

func reconnectBackoff(attempt int) time.Duration {
	return time.Duration(attempt+1) * time.Second
}

type Message struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      interface{}            `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func NewMessage(msgType string, data interface{}) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Metadata:  make(map[string]interface{}),
	}
}
