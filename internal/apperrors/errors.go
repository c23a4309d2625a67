// Package apperrors defines the errors handlers return and their JSON shape.
package apperrors

import (
	"errors"
	"net/http"
)

type ErrorCode string

const (
	ErrorCodeInternalError     ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError   ErrorCode = "VALIDATION_ERROR"
	ErrorCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrorCodeConflict          ErrorCode = "CONFLICT"
	ErrorCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrorCodeAuthTokenExpired  ErrorCode = "AUTH_TOKEN_EXPIRED"
	ErrorCodeAuthTokenInvalid  ErrorCode = "AUTH_TOKEN_INVALID"
	ErrorCodeInvalidSchedule   ErrorCode = "INVALID_SCHEDULE"
	ErrorCodeScheduleNotFound  ErrorCode = "SCHEDULE_NOT_FOUND"
	ErrorCodeTriggerInProgress ErrorCode = "TRIGGER_IN_PROGRESS"
	ErrorCodeDeviceOffline     ErrorCode = "DEVICE_OFFLINE"
	ErrorCodePlaybackFailed    ErrorCode = "PLAYBACK_FAILED"
	ErrorCodePlaybackAuth      ErrorCode = "PLAYBACK_AUTH_EXPIRED"
	ErrorCodePlaybackDisabled  ErrorCode = "PLAYBACK_NOT_CONFIGURED"
	ErrorCodeEventNotFound     ErrorCode = "EVENT_NOT_FOUND"
)

// ErrorType is the coarse class of an error, derived from its status.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAPIError       ErrorType = "api_error"
	ErrorTypeAuthError      ErrorType = "authentication_error"
)

// Remediation tells the client what to do about an error.
type Remediation struct {
	Action     string `json:"action"`
	Endpoint   string `json:"endpoint,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

// Body is the value under the "error" key of an error response.
type Body struct {
	Type        ErrorType      `json:"type"`
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Remediation *Remediation   `json:"remediation,omitempty"`
}

// AppError is an error with an HTTP status and a stable code.
type AppError struct {
	Code        ErrorCode
	Message     string
	StatusCode  int
	Details     map[string]any
	Remediation *Remediation
}

func (err *AppError) Error() string {
	return err.Message
}

// Body renders err for the wire.
func (err *AppError) Body() Body {
	var errType ErrorType
	switch {
	case err.StatusCode == http.StatusUnauthorized, err.StatusCode == http.StatusForbidden:
		errType = ErrorTypeAuthError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	default:
		errType = ErrorTypeAPIError
	}
	return Body{
		Type:        errType,
		Code:        string(err.Code),
		Message:     err.Message,
		Details:     err.Details,
		Remediation: err.Remediation,
	}
}

// WithRemediation attaches r and returns err.
func (err *AppError) WithRemediation(r *Remediation) *AppError {
	err.Remediation = r
	return err
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any, remediation *Remediation) *AppError {
	return &AppError{
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		Details:     details,
		Remediation: remediation,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, http.StatusBadRequest, details, nil)
}

// NewUnauthorizedError defaults to UNAUTHORIZED unless a code is given.
func NewUnauthorizedError(message string, code ...ErrorCode) *AppError {
	c := ErrorCodeUnauthorized
	if len(code) > 0 {
		c = code[0]
	}
	return NewAppError(c, message, http.StatusUnauthorized, nil, nil)
}

func NewConflictError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeConflict, message, http.StatusConflict, details, nil)
}

func NewRateLimitError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeRateLimited, message, http.StatusTooManyRequests, details, nil)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, http.StatusInternalServerError, nil, nil)
}

// NewUnavailableError is for a dependency that is down or not configured.
func NewUnavailableError(code ErrorCode, message string, details map[string]any) *AppError {
	return NewAppError(code, message, http.StatusServiceUnavailable, details, nil)
}

// NewBadGatewayError is for an upstream that answered with a failure.
func NewBadGatewayError(code ErrorCode, message string, details map[string]any) *AppError {
	return NewAppError(code, message, http.StatusBadGateway, details, nil)
}

// EnsureAppError returns the AppError in err's chain, or a generic 500.
func EnsureAppError(err error) *AppError {
	var appErr *AppError
	if err != nil && errors.As(err, &appErr) {
		return appErr
	}
	if err == nil {
		return NewInternalError("Unknown error")
	}
	return NewInternalError("Internal server error")
}
