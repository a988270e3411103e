// Package apperrors defines the error taxonomy surfaced by the fleet controller.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeMismatch     = "MISMATCH"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInternal     = "INTERNAL_ERROR"
)

// AppError is an error with a stable code and the HTTP status it maps to.
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
	Err        error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Validation reports malformed input.
func Validation(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

// ValidationFields reports malformed input with per-field reasons.
func ValidationFields(message string, fields map[string]string) *AppError {
	e := Validation(message)
	e.Details = fields
	return e
}

// NotFound reports an unknown resource id.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %s not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Conflict reports an operation that is invalid for the current state.
func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

// Mismatch reports a task that does not belong to the claimed agent.
func Mismatch(message string) *AppError {
	return &AppError{Code: CodeMismatch, Message: message, HTTPStatus: http.StatusForbidden}
}

// Unauthorized reports a missing or invalid agent token.
func Unauthorized(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// Wrap adds context to err. An AppError keeps its code, status and cause; anything else becomes internal.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Details:    appErr.Details,
			Err:        appErr.Err,
		}
	}
	return Internal(message, err)
}

// CodeOf returns the code of err, or CodeInternal when err is not an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

func IsValidation(err error) bool { return err != nil && CodeOf(err) == CodeValidation }
func IsNotFound(err error) bool   { return err != nil && CodeOf(err) == CodeNotFound }
func IsConflict(err error) bool   { return err != nil && CodeOf(err) == CodeConflict }
func IsMismatch(err error) bool   { return err != nil && CodeOf(err) == CodeMismatch }

// HTTPStatus returns the status code err maps to; 500 for anything that is not an AppError.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
