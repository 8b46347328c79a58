package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grigta/webportal/pkg/cache"
	"github.com/grigta/webportal/pkg/config"
	"github.com/grigta/webportal/pkg/crypto"
	"github.com/grigta/webportal/pkg/logger"
	"github.com/grigta/webportal/pkg/middleware"
	"github.com/grigta/webportal/services/webapp/internal/app"
	"github.com/grigta/webportal/services/webapp/internal/bootstrap"
	"github.com/grigta/webportal/services/webapp/internal/repository"
	"github.com/grigta/webportal/services/webapp/internal/service"
)

func main() {
	cfg, err := config.LoadConfig("./config")
	if err != nil {
		logger.Fatal("Failed to load config", logger.Err(err))
	}

	log := logger.New(cfg.App.LogLevel, cfg.App.LogFormat)
	logger.SetDefault(log)

	if err := run(cfg, log); err != nil {
		logger.Fatal("Webportal stopped", logger.Err(err))
	}
	logger.Info("Server exited")
}

// run owns every connection it opens, so they are all closed before main
// decides how to exit.
func run(cfg *config.Config, log logger.Logger) error {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.JWT.Secret == "" {
		secret, err := crypto.GenerateSecureToken(32)
		if err != nil {
			return fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JWT.Secret = secret
		logger.Warn("JWT_SECRET is not set, using a random secret; tokens will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := bootstrap.OpenStorage(ctx, cfg, true)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer storage.Close(context.Background())

	repoOpts := []repository.Option{
		repository.WithMetrics(repository.NewMetrics(prometheus.DefaultRegisterer)),
		repository.WithLogger(log),
	}

	mq, err := bootstrap.OpenEvents(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	if mq != nil {
		defer mq.Close()
		repoOpts = append(repoOpts, repository.WithPublisher(mq))
	}

	repo := repository.New(storage.DB, storage.Registry, repoOpts...)

	deps := app.Deps{
		Config: cfg,
		Log:    log,
		Store:  storage.DB,
	}

	var userCache service.UserCache
	redisCache, err := cache.NewRedisCache(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, user cache and shared rate limits disabled", logger.Err(err))
	} else {
		defer redisCache.Close()
		userCache = redisCache
		deps.Counter = middleware.WindowCounter(redisCache)
	}

	deps.Users = service.NewUserService(repo, userCache, cfg.Redis.UserTTL, log)
	router, err := app.New(deps)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting webportal", logger.Field{Key: "port", Value: cfg.App.Port})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", logger.Err(err))
	}
	return nil
}
