package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/grigta/webportal/pkg/logger"
	"github.com/grigta/webportal/pkg/models"
)

const currentUserKey = "current_user"

var (
	ErrNoToken      = errors.New("no token provided")
	ErrInvalidToken = errors.New("invalid token")
)

// UserLoader resolves the subject of a verified token to a user.
type UserLoader func(ctx context.Context, userID string) (*models.User, error)

type Claims struct {
	Email string          `json:"email"`
	Role  models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

type LoginManagerConfig struct {
	Secret     string
	ExpiresIn  time.Duration
	LoginView  string
	CookieName string
}

// LoginManager issues signed tokens and guards routes that need a signed-in user.
// Unauthenticated browser navigation is redirected to the login view; everything
// else gets a 401.
type LoginManager struct {
	secret     []byte
	expiresIn  time.Duration
	loginView  string
	cookieName string
	views      map[string]string
	loader     UserLoader
}

func NewLoginManager(cfg LoginManagerConfig) *LoginManager {
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = 24 * time.Hour
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "token"
	}
	return &LoginManager{
		secret:     []byte(cfg.Secret),
		expiresIn:  cfg.ExpiresIn,
		loginView:  cfg.LoginView,
		cookieName: cfg.CookieName,
		views:      make(map[string]string),
	}
}

func (lm *LoginManager) SetUserLoader(loader UserLoader) {
	lm.loader = loader
}

// RegisterView maps an endpoint name such as "user.login" to its path.
func (lm *LoginManager) RegisterView(name, path string) {
	lm.views[name] = path
}

func (lm *LoginManager) LoginView() string {
	return lm.loginView
}

func (lm *LoginManager) LoginURL() (string, bool) {
	path, ok := lm.views[lm.loginView]
	return path, ok
}

func (lm *LoginManager) CookieName() string {
	return lm.cookieName
}

func (lm *LoginManager) IssueToken(user *models.User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(lm.expiresIn)

	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(lm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (lm *LoginManager) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return lm.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate loads the current user when a valid token is present and lets
// every request through.
func (lm *LoginManager) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, err := lm.load(c); err == nil {
			c.Set(currentUserKey, user)
		}
		c.Next()
	}
}

func (lm *LoginManager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); ok {
			c.Next()
			return
		}

		user, err := lm.load(c)
		if err != nil {
			lm.unauthorized(c, err)
			return
		}

		c.Set(currentUserKey, user)
		c.Next()
	}
}

func (lm *LoginManager) RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			lm.unauthorized(c, ErrNoToken)
			return
		}
		if !user.HasRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

func (lm *LoginManager) SetCookie(c *gin.Context, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(lm.cookieName, token, maxAge, "/", "", c.Request.TLS != nil, true)
}

func (lm *LoginManager) ClearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(lm.cookieName, "", -1, "/", "", c.Request.TLS != nil, true)
}

func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(currentUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

func (lm *LoginManager) load(c *gin.Context) (*models.User, error) {
	token := lm.extractToken(c)
	if token == "" {
		return nil, ErrNoToken
	}

	claims, err := lm.ParseToken(token)
	if err != nil {
		return nil, err
	}
	if lm.loader == nil {
		return nil, errors.New("no user loader configured")
	}

	user, err := lm.loader(c.Request.Context(), claims.Subject)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, models.ErrAccessDenied
	}
	return user, nil
}

func (lm *LoginManager) unauthorized(c *gin.Context, err error) {
	logger.WithContext(c.Request.Context()).Debug("Login required",
		logger.Field{Key: "path", Value: c.Request.URL.Path},
		logger.Err(err),
	)

	if loginURL, ok := lm.LoginURL(); ok && wantsHTML(c) {
		target := loginURL + "?next=" + url.QueryEscape(c.Request.URL.RequestURI())
		c.Redirect(http.StatusFound, target)
		c.Abort()
		return
	}

	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
}

func (lm *LoginManager) extractToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}

	if cookie, err := c.Cookie(lm.cookieName); err == nil {
		return cookie
	}

	return ""
}

func wantsHTML(c *gin.Context) bool {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		return false
	}
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}
