package messaging

import (
	"context"

	"github.com/streadway/amqp"
)

// EventPublisher is what producers of change events depend on.
type EventPublisher interface {
	PublishEvent(eventType string, data interface{}) error
}

type Consumer interface {
	Consume(queueName, consumerName string, autoAck bool) (<-chan amqp.Delivery, error)
	ConsumeWithHandler(ctx context.Context, queueName, consumerName string, handler func([]byte) error) error
}

type MessageBroker interface {
	EventPublisher
	Consumer
	Publish(exchange, routingKey string, message interface{}) error
	DeclareQueue(name string, durable, autoDelete, exclusive bool) (amqp.Queue, error)
	BindQueue(queueName, routingKey, exchangeName string) error
	SetupTopology() error
	Close() error
}

var _ MessageBroker = (*RabbitMQ)(nil)
