package service

import (
	"fmt"
	"net/http"

	"ratekeeper/internal/models"
)

// ServiceError represents errors from the limiter service with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Error constructors for common service errors

func NewValidationError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewUnavailableError reports a durable store failure. Nothing was recorded,
// so the caller may retry.
func NewUnavailableError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeServiceUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  true,
		Err:        err,
	}
}

// NewCanceledError reports that the caller gave up before the operation ran.
func NewCanceledError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeRequestTimeout,
		Message:    message,
		StatusCode: http.StatusRequestTimeout,
		Retryable:  true,
		Err:        err,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
