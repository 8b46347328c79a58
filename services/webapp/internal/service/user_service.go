package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/grigta/webportal/pkg/cache"
	"github.com/grigta/webportal/pkg/crypto"
	"github.com/grigta/webportal/pkg/database"
	"github.com/grigta/webportal/pkg/logger"
	"github.com/grigta/webportal/pkg/models"
	"github.com/grigta/webportal/pkg/schema"
	"github.com/grigta/webportal/services/webapp/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInactiveUser       = errors.New("user is inactive")
)

type UserRepository interface {
	Create(ctx context.Context, collection string, fields bson.M) (*repository.Result, error)
	ReadUser(ctx context.Context, condition bson.M) (*models.User, error)
	Update(ctx context.Context, collection string, items []repository.UpdateItem, opts repository.UpdateOptions) (*repository.Result, error)
	UpdateSet(ctx context.Context, collection string, condition, toSet bson.M) (*repository.Result, error)
}

type UserCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type UserService struct {
	repo  UserRepository
	cache UserCache
	ttl   time.Duration
	log   logger.Logger
	now   func() time.Time
}

// NewUserService builds the service. userCache may be nil, in which case every
// load goes to the database.
func NewUserService(repo UserRepository, userCache UserCache, ttl time.Duration, log logger.Logger) *UserService {
	if log == nil {
		log = logger.Default()
	}
	return &UserService{
		repo:  repo,
		cache: userCache,
		ttl:   ttl,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func cacheKey(id string) string {
	return fmt.Sprintf("user:%s", id)
}

// LoadUser resolves a token subject to a user. It is the login manager's user loader.
func (s *UserService) LoadUser(ctx context.Context, id string) (*models.User, error) {
	if s.cache != nil {
		var cached models.User
		err := s.cache.GetJSON(ctx, cacheKey(id), &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WithContext(ctx).Warn("User cache read failed", logger.Err(err))
		}
	}

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", database.ErrInvalidID, id)
	}

	user, err := s.repo.ReadUser(ctx, bson.M{"_id": objectID})
	if errors.Is(err, database.ErrNotFound) {
		return nil, models.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	s.remember(ctx, user)
	return user, nil
}

func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrValidation, err)
	}

	res, err := s.repo.Create(ctx, models.UserCollection, bson.M{
		"email":       strings.ToLower(strings.TrimSpace(req.Email)),
		"username":    strings.TrimSpace(req.Username),
		"password":    hash,
		"first_name":  req.FirstName,
		"last_name":   req.LastName,
		"role":        string(models.RoleUser),
		"is_active":   true,
		"is_verified": false,
	})
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("%w: %s", schema.ErrValidation, res.Errors[0].Msg)
	}

	user := res.Docs[0].(*models.User)
	s.log.WithContext(ctx).Info("User registered", logger.Field{Key: "user_id", Value: user.ID.Hex()})
	return user, nil
}

func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.User, error) {
	user, err := s.repo.ReadUser(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(req.Email))})
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !crypto.CheckPassword(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	now := s.now()
	res, err := s.repo.UpdateSet(ctx, models.UserCollection, bson.M{"_id": user.ID}, bson.M{"last_login_at": now})
	if err != nil || !res.OK() {
		s.log.WithContext(ctx).Warn("Failed to record login time", logger.Field{Key: "user_id", Value: user.ID.Hex()}, logger.Err(err))
	} else {
		user.LastLoginAt = &now
	}

	s.forget(ctx, user.ID.Hex())
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, user *models.User, req models.UpdateProfileRequest) (*models.User, error) {
	fields := bson.M{}
	if req.FirstName != nil {
		fields["first_name"] = *req.FirstName
	}
	if req.LastName != nil {
		fields["last_name"] = *req.LastName
	}
	if req.Metadata != nil {
		fields["metadata"] = req.Metadata
	}
	if len(fields) == 0 {
		return user, nil
	}

	res, err := s.repo.Update(ctx, models.UserCollection, []repository.UpdateItem{
		{Condition: bson.M{"_id": user.ID}, Doc: fields},
	}, repository.UpdateOptions{})
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		if res.Errors[0].Msg == "not found" {
			return nil, models.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %s", schema.ErrValidation, res.Errors[0].Msg)
	}

	s.forget(ctx, user.ID.Hex())
	return res.Docs[0].(*models.User), nil
}

func (s *UserService) Logout(ctx context.Context, user *models.User) {
	s.forget(ctx, user.ID.Hex())
}

func (s *UserService) remember(ctx context.Context, user *models.User) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(user.ID.Hex()), user, s.ttl); err != nil {
		s.log.WithContext(ctx).Warn("User cache write failed", logger.Err(err))
	}
}

func (s *UserService) forget(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(id)); err != nil {
		s.log.WithContext(ctx).Warn("User cache delete failed", logger.Err(err))
	}
}
