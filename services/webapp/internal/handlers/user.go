package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/grigta/webportal/pkg/database"
	"github.com/grigta/webportal/pkg/middleware"
	"github.com/grigta/webportal/pkg/models"
	"github.com/grigta/webportal/pkg/schema"
	"github.com/grigta/webportal/services/webapp/internal/repository"
	"github.com/grigta/webportal/services/webapp/internal/service"
)

type UserService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.User, error)
	UpdateProfile(ctx context.Context, user *models.User, req models.UpdateProfileRequest) (*models.User, error)
	Logout(ctx context.Context, user *models.User)
}

type UserHandler struct {
	users UserService
	login *middleware.LoginManager
}

func NewUserHandler(users UserService, login *middleware.LoginManager) *UserHandler {
	return &UserHandler{users: users, login: login}
}

// Register mounts the user routes and names the login view so the login
// manager can redirect to it.
func (h *UserHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/login", h.LoginView)
	rg.POST("/login", h.Login)
	rg.POST("/register", h.SignUp)
	rg.POST("/logout", h.Logout)

	me := rg.Group("/me")
	me.Use(h.login.RequireLogin())
	{
		me.GET("", h.Me)
		me.PUT("", h.UpdateMe)
	}

	h.login.RegisterView("user.login", strings.TrimSuffix(rg.BasePath(), "/")+"/login")
}

func (h *UserHandler) LoginView(c *gin.Context) {
	if user, ok := middleware.CurrentUser(c); ok {
		c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": user})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": false,
		"view":          h.login.LoginView(),
		"next":          safeNext(c.Query("next")),
		"fields":        []string{"email", "password"},
	})
}

func (h *UserHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Login(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInactiveUser):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			h.internalError(c, "Login failed", err)
		}
		return
	}

	token, expiresAt, err := h.login.IssueToken(user)
	if err != nil {
		h.internalError(c, "Failed to issue token", err)
		return
	}
	h.login.SetCookie(c, token, expiresAt)

	if next := safeNext(c.Query("next")); next != "" && c.ContentType() != gin.MIMEJSON {
		c.Redirect(http.StatusSeeOther, next)
		return
	}

	c.JSON(http.StatusOK, models.TokenResponse{
		AccessToken: token,
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
		TokenType:   "Bearer",
		User:        user,
	})
}

func (h *UserHandler) SignUp(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateKey):
			c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
		case errors.Is(err, schema.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.internalError(c, "Registration failed", err)
		}
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (h *UserHandler) Logout(c *gin.Context) {
	if user, ok := middleware.CurrentUser(c); ok {
		h.users.Logout(c.Request.Context(), user)
	}
	h.login.ClearCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *UserHandler) Me(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)
	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) UpdateMe(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.users.UpdateProfile(c.Request.Context(), user, req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUserNotFound), errors.Is(err, database.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, schema.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.internalError(c, "Profile update failed", err)
		}
		return
	}

	c.JSON(http.StatusOK, updated)
}

// internalError hides the cause from the client; the request logger reports it.
func (h *UserHandler) internalError(c *gin.Context, msg string, err error) {
	_ = c.Error(fmt.Errorf("%s: %w", msg, err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// safeNext only allows local redirect targets.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	return next
}
