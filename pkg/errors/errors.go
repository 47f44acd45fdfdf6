package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents an error code
type ErrorCode string

const (
	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"

	// Session errors
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionClosed   ErrorCode = "SESSION_CLOSED"
	ErrCodeNotAccepting    ErrorCode = "NOT_ACCEPTING_SESSIONS"

	// Signaling errors
	ErrCodeSignaling          ErrorCode = "SIGNALING_ERROR"
	ErrCodeNegotiationTimeout ErrorCode = "NEGOTIATION_TIMEOUT"
	ErrCodeReconnectExpired   ErrorCode = "RECONNECT_EXPIRED"
	ErrCodeTransport          ErrorCode = "TRANSPORT_ERROR"

	// Frame / inference errors
	ErrCodeFrameRejected      ErrorCode = "FRAME_REJECTED"
	ErrCodeDispatchTimeout    ErrorCode = "DISPATCH_TIMEOUT"
	ErrCodeWorkerUnresponsive ErrorCode = "WORKER_UNRESPONSIVE"
	ErrCodeWorkerNotFound     ErrorCode = "WORKER_NOT_FOUND"
	ErrCodeDraining           ErrorCode = "DRAINING"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// AppError represents an application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails returns a copy carrying the extra detail, so shared
// sentinel values are never mutated.
func (e *AppError) WithDetails(key string, value interface{}) *AppError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// WithCause returns a copy with the underlying cause set.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: getHTTPStatus(code),
	}
}

// NewAppErrorf creates a new application error with formatting
func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: getHTTPStatus(code),
	}
}

// getHTTPStatus returns the HTTP status code for an error code
func getHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound, ErrCodeSessionNotFound, ErrCodeWorkerNotFound:
		return http.StatusNotFound
	case ErrCodeSessionClosed, ErrCodeReconnectExpired:
		return http.StatusGone
	case ErrCodeSignaling, ErrCodeFrameRejected:
		return http.StatusConflict
	case ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeNegotiationTimeout, ErrCodeDispatchTimeout, ErrCodeWorkerUnresponsive:
		return http.StatusGatewayTimeout
	case ErrCodeUnavailable, ErrCodeNotAccepting, ErrCodeDraining:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsAppError checks if an error is an AppError anywhere in its chain
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to AppError
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := stderrors.As(err, &appErr)
	return appErr, ok
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// WrapError wraps a standard error as an AppError
func WrapError(code ErrorCode, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    err.Error(),
		HTTPStatus: getHTTPStatus(code),
		Cause:      err,
	}
}
