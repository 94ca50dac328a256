package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrInvalidURL      = errors.New("invalid webhook url")
	ErrInvalidAmount   = errors.New("amount must be greater than zero")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrSecretImmutable = errors.New("webhook secret cannot be changed")
	ErrInvalidEvent    = errors.New("invalid event payload")
)
