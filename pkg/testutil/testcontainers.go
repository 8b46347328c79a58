package testutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type ContainerConfig struct {
	MongoDBVersion  string
	RedisVersion    string
	RabbitMQVersion string
}

func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		MongoDBVersion:  "6.0",
		RedisVersion:    "7.0",
		RabbitMQVersion: "3.12-management",
	}
}

type MongoDBContainer struct {
	Container testcontainers.Container
	URI       string
	Host      string
	Port      int
}

// StartMongoContainer runs a standalone server. Multi-document transactions need
// a replica set, so suites against it keep transactions disabled.
func StartMongoContainer(ctx context.Context, cfg ContainerConfig) (*MongoDBContainer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        fmt.Sprintf("mongo:%s", cfg.MongoDBVersion),
			ExposedPorts: []string{"27017/tcp"},
			Env: map[string]string{
				"MONGO_INITDB_ROOT_USERNAME": "test",
				"MONGO_INITDB_ROOT_PASSWORD": "test",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Waiting for connections"),
				wait.ForListeningPort("27017/tcp"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start MongoDB container: %w", err)
	}

	host, port, err := endpoint(ctx, container, "27017")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("MongoDB container: %w", err)
	}

	return &MongoDBContainer{
		Container: container,
		URI:       fmt.Sprintf("mongodb://test:test@%s:%d/?authSource=admin", host, port),
		Host:      host,
		Port:      port,
	}, nil
}

func (m *MongoDBContainer) Close(ctx context.Context) error {
	return terminate(ctx, m.Container)
}

type RedisContainer struct {
	Container testcontainers.Container
	Host      string
	Port      int
}

func StartRedisContainer(ctx context.Context, cfg ContainerConfig) (*RedisContainer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        fmt.Sprintf("redis:%s", cfg.RedisVersion),
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections"),
				wait.ForListeningPort("6379/tcp"),
			).WithDeadline(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	host, port, err := endpoint(ctx, container, "6379")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("Redis container: %w", err)
	}

	return &RedisContainer{Container: container, Host: host, Port: port}, nil
}

func (r *RedisContainer) Close(ctx context.Context) error {
	return terminate(ctx, r.Container)
}

type RabbitMQContainer struct {
	Container testcontainers.Container
	URI       string
}

func StartRabbitMQContainer(ctx context.Context, cfg ContainerConfig) (*RabbitMQContainer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        fmt.Sprintf("rabbitmq:%s", cfg.RabbitMQVersion),
			ExposedPorts: []string{"5672/tcp"},
			Env: map[string]string{
				"RABBITMQ_DEFAULT_USER": "test",
				"RABBITMQ_DEFAULT_PASS": "test",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Server startup complete"),
				wait.ForListeningPort("5672/tcp"),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start RabbitMQ container: %w", err)
	}

	host, port, err := endpoint(ctx, container, "5672")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("RabbitMQ container: %w", err)
	}

	return &RabbitMQContainer{
		Container: container,
		URI:       fmt.Sprintf("amqp://test:test@%s:%d/", host, port),
	}, nil
}

func (r *RabbitMQContainer) Close(ctx context.Context) error {
	return terminate(ctx, r.Container)
}

// Infrastructure is the full backing stack of the web app.
type Infrastructure struct {
	MongoDB  *MongoDBContainer
	Redis    *RedisContainer
	RabbitMQ *RabbitMQContainer
}

func StartInfrastructure(ctx context.Context, cfg ContainerConfig) (*Infrastructure, error) {
	infra := &Infrastructure{}

	var err error
	if infra.MongoDB, err = StartMongoContainer(ctx, cfg); err != nil {
		return nil, err
	}
	if infra.Redis, err = StartRedisContainer(ctx, cfg); err != nil {
		_ = infra.Close(ctx)
		return nil, err
	}
	if infra.RabbitMQ, err = StartRabbitMQContainer(ctx, cfg); err != nil {
		_ = infra.Close(ctx)
		return nil, err
	}
	return infra, nil
}

func (i *Infrastructure) Close(ctx context.Context) error {
	var errs []error
	if i.MongoDB != nil {
		errs = append(errs, i.MongoDB.Close(ctx))
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close(ctx))
	}
	if i.RabbitMQ != nil {
		errs = append(errs, i.RabbitMQ.Close(ctx))
	}
	return errors.Join(errs...)
}

func endpoint(ctx context.Context, c testcontainers.Container, port string) (string, int, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get host: %w", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", 0, fmt.Errorf("failed to get port %s: %w", port, err)
	}
	return host, mapped.Int(), nil
}

func terminate(ctx context.Context, c testcontainers.Container) error {
	if c == nil {
		return nil
	}
	return c.Terminate(ctx)
}
