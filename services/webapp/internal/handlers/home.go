package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/grigta/webportal/pkg/logger"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HomeHandler struct {
	service string
	store   Pinger
}

func NewHomeHandler(service string, store Pinger) *HomeHandler {
	return &HomeHandler{service: service, store: store}
}

func (h *HomeHandler) Register(rg gin.IRoutes) {
	rg.GET("/", h.Index)
	rg.GET("/health", h.HealthCheck)
}

func (h *HomeHandler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": h.service,
		"message": "Hello World!",
	})
}

func (h *HomeHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		logger.WithContext(c.Request.Context()).Warn("Health check failed", logger.Err(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"timestamp": time.Now().Unix(),
			"service":   h.service,
			"database":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   h.service,
	})
}
