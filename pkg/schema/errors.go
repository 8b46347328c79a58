package schema

import "errors"

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrValidation        = errors.New("validation failed")
	ErrAlreadyRegistered = errors.New("collection already registered")
	ErrInvalidSchema     = errors.New("invalid schema")
)
