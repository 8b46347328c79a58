package models

import "errors"

var (
	ErrInvalidRole  = errors.New("invalid role")
	ErrUserNotFound = errors.New("user not found")
	ErrAccessDenied = errors.New("access denied")
	ErrMissingURL   = errors.New("missing url")
)
