package bootstrap

import (
	"context"
	"fmt"

	"github.com/grigta/webportal/pkg/config"
	"github.com/grigta/webportal/pkg/database"
	"github.com/grigta/webportal/pkg/logger"
	"github.com/grigta/webportal/pkg/messaging"
	"github.com/grigta/webportal/pkg/models"
	"github.com/grigta/webportal/pkg/schema"
)

// Storage is the database side shared by the server and dbctl.
type Storage struct {
	Provider *database.Provider
	DB       *database.MongoDB
	Registry *schema.Registry
}

func OpenStorage(ctx context.Context, cfg *config.Config, ensureIndexes bool) (*Storage, error) {
	registry, err := models.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build schema registry: %w", err)
	}

	provider := database.NewProvider(cfg.Database.DBName, cfg.Database.Timeout, cfg.Database.Transactional)
	db, err := provider.Connection(ctx, cfg.Database.URI, cfg.Database.Port)
	if err != nil {
		return nil, err
	}

	if ensureIndexes {
		if err := registry.EnsureIndexes(ctx, db); err != nil {
			_ = provider.Close(context.Background())
			return nil, err
		}
	}

	return &Storage{Provider: provider, DB: db, Registry: registry}, nil
}

func (s *Storage) Close(ctx context.Context) {
	if err := s.Provider.Close(ctx); err != nil {
		logger.Error("Failed to close MongoDB connection", logger.Err(err))
	}
}

// OpenEvents connects to RabbitMQ when enabled. A nil broker means events are off.
func OpenEvents(cfg *config.Config) (*messaging.RabbitMQ, error) {
	if !cfg.RabbitMQ.Enabled {
		return nil, nil
	}

	mq, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}
	if err := mq.SetupTopology(); err != nil {
		_ = mq.Close()
		return nil, fmt.Errorf("failed to set up RabbitMQ topology: %w", err)
	}
	return mq, nil
}
