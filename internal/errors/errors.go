package appErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a business error with an HTTP status for the API layer.
// Configuration and validation failures surface through it and are never
// retried by the worker.
type AppError struct {
	Message string
	Status  int
}

func (e *AppError) Error() string { return e.Message }

// New creates an AppError with an explicit status.
func New(message string, status int) error {
	return &AppError{Message: message, Status: status}
}

// NotFound builds a 404 for a named entity.
func NotFound(entity, id string) error {
	return &AppError{Message: fmt.Sprintf("%s %s not found", entity, id), Status: http.StatusNotFound}
}

// Invalid builds a 422 validation error.
func Invalid(message string) error {
	return &AppError{Message: message, Status: http.StatusUnprocessableEntity}
}

// Conflict builds a 400 state-conflict error, e.g. pausing a campaign that
// is not running.
func Conflict(message string) error {
	return &AppError{Message: message, Status: http.StatusBadRequest}
}

// StatusOf extracts the HTTP status from err, defaulting to 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
