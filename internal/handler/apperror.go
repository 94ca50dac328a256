package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidSignature = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Payload signature is invalid"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidEmail    = &AppError{http.StatusBadRequest, "INVALID_EMAIL", "Email address is malformed"}
	ErrInvalidURL      = &AppError{http.StatusBadRequest, "INVALID_WEBHOOK_URL", "Webhook URL is malformed"}
	ErrInvalidEvent    = &AppError{http.StatusBadRequest, "INVALID_EVENT", "Event payload is malformed"}
	ErrInvalidAmount   = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrSecretImmutable = &AppError{http.StatusUnprocessableEntity, "SECRET_IMMUTABLE", "Webhook secret cannot be changed"}
)
