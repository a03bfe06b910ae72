package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	// Decline outcomes. Reported to the caller, never retried.
	ErrInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrVelocityExceeded  ErrorCode = "VELOCITY_EXCEEDED"
	ErrLimitExceeded     ErrorCode = "LIMIT_EXCEEDED"

	// ErrSystemUnavailable fails authorization closed; settlement retries it
	// with backoff.
	ErrSystemUnavailable ErrorCode = "SYSTEM_UNAVAILABLE"

	// Rail outcomes. RAIL_REJECTED is permanent for the request;
	// RAIL_TIMEOUT is transient and triggers failover to the next rail.
	ErrRailRejected ErrorCode = "RAIL_REJECTED"
	ErrRailTimeout  ErrorCode = "RAIL_TIMEOUT"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf extracts the error code, defaulting to INTERNAL_SERVER_ERROR for
// errors raised outside the taxonomy.
func CodeOf(err error) ErrorCode {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrInternalServer
}

// IsTransient reports whether a settlement error should trigger failover or a
// retry cycle rather than a terminal failure.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case ErrRailTimeout, ErrSystemUnavailable:
		return true
	}
	return false
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest:
			return http.StatusBadRequest
		case ErrInsufficientFunds, ErrVelocityExceeded, ErrLimitExceeded:
			return http.StatusUnprocessableEntity
		case ErrSystemUnavailable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
