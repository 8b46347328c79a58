package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const UserCollection = "user"

type User struct {
	ID          primitive.ObjectID     `bson:"_id,omitempty" json:"id"`
	Email       string                 `bson:"email" json:"email" validate:"required,email"`
	Username    string                 `bson:"username" json:"username" validate:"required,min=3,max=50"`
	Password    string                 `bson:"password" json:"-"`
	FirstName   string                 `bson:"first_name" json:"first_name" validate:"max=100"`
	LastName    string                 `bson:"last_name" json:"last_name" validate:"max=100"`
	Role        UserRole               `bson:"role" json:"role" validate:"omitempty,oneof=admin user moderator viewer"`
	IsActive    bool                   `bson:"is_active" json:"is_active"`
	IsVerified  bool                   `bson:"is_verified" json:"is_verified"`
	Metadata    map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
	CreatedAt   time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time              `bson:"updated_at" json:"updated_at"`
	LastLoginAt *time.Time             `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
}

func (u *User) GetID() primitive.ObjectID {
	return u.ID
}

func (u *User) SetID(id primitive.ObjectID) {
	u.ID = id
}

func (u *User) Touch(now time.Time) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
}

func (u *User) HasRole(roles ...UserRole) bool {
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleUser      UserRole = "user"
	RoleModerator UserRole = "moderator"
	RoleViewer    UserRole = "viewer"
)

type LoginRequest struct {
	Email    string `json:"email" form:"email" binding:"required,email"`
	Password string `json:"password" form:"password" binding:"required,min=6"`
}

type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Username  string `json:"username" binding:"required,min=3,max=50"`
	Password  string `json:"password" binding:"required,min=6"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type UpdateProfileRequest struct {
	FirstName *string                `json:"first_name"`
	LastName  *string                `json:"last_name"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	User        *User  `json:"user"`
}
