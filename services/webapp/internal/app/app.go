package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grigta/webportal/pkg/config"
	"github.com/grigta/webportal/pkg/logger"
	"github.com/grigta/webportal/pkg/middleware"
	"github.com/grigta/webportal/pkg/models"
	"github.com/grigta/webportal/services/webapp/internal/handlers"
)

// UserService is the user group's backend plus the login manager's user loader.
type UserService interface {
	handlers.UserService
	LoadUser(ctx context.Context, id string) (*models.User, error)
}

// Deps is everything the route groups need. Counter and Gatherer are optional:
// without a counter the rate limiter keeps its windows in memory, and without a
// gatherer /metrics serves the default registry.
type Deps struct {
	Config   *config.Config
	Log      logger.Logger
	Store    handlers.Pinger
	Users    UserService
	Counter  middleware.WindowCounter
	Gatherer prometheus.Gatherer
}

// New builds the engine: extensions first, then the home and user groups.
func New(deps Deps) (*gin.Engine, error) {
	cfg := deps.Config
	log := deps.Log
	if log == nil {
		log = logger.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinMiddleware(cfg.App.Name, log, "/health", "/metrics", cfg.Monitoring.MetricsPath))

	cors := middleware.DefaultCORSConfig()
	if len(cfg.CORS.AllowOrigins) > 0 {
		cors.AllowOrigins = cfg.CORS.AllowOrigins
	}
	router.Use(middleware.CORS(cors))

	if cfg.Database.Timeout > 0 {
		router.Use(requestTimeout(cfg.Database.Timeout))
	}

	loginManager := middleware.NewLoginManager(middleware.LoginManagerConfig{
		Secret:     cfg.JWT.Secret,
		ExpiresIn:  cfg.JWT.ExpiresIn,
		LoginView:  cfg.LoginManager.LoginView,
		CookieName: cfg.LoginManager.CookieName,
	})
	loginManager.SetUserLoader(deps.Users.LoadUser)

	metricsPath := cfg.Monitoring.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	router.GET(metricsPath, gin.WrapH(metricsHandler(deps.Gatherer)))

	home := router.Group("/")
	handlers.NewHomeHandler(cfg.App.Name, deps.Store).Register(home)

	user := router.Group("/user")
	user.Use(loginManager.Authenticate())
	if cfg.RateLimit.Enabled {
		limiter, err := middleware.NewRateLimiter(deps.Counter, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if err != nil {
			return nil, err
		}
		user.Use(limiter.Middleware())
	}
	handlers.NewUserHandler(deps.Users, loginManager).Register(user)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Route not found",
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	})

	return router, nil
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// requestTimeout bounds the request context, and with it every store call the
// handlers make.
func requestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusGatewayTimeout, gin.H{"error": "Request timeout"})
		}
	}
}
