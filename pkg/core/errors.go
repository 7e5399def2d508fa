package core

import (
	"errors"
	"fmt"
)

// Error represents a canonical SDK error.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrAlreadyActive  ErrorType = "already_active_error"
	ErrNotConnected   ErrorType = "not_connected_error"
	ErrConnection     ErrorType = "connection_error"
	ErrAPI            ErrorType = "api_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{
		Type:    ErrNotFound,
		Message: message,
	}
}

// NewAlreadyActiveError creates an error for starting a call while one is active.
func NewAlreadyActiveError(sessionID string) *Error {
	return &Error{
		Type:    ErrAlreadyActive,
		Message: fmt.Sprintf("a call is already active (session %s)", sessionID),
	}
}

// NewNotConnectedError creates an error for sending while disconnected.
func NewNotConnectedError(message string) *Error {
	return &Error{
		Type:    ErrNotConnected,
		Message: message,
	}
}

// NewConnectionError creates a channel-establishment or channel-loss error.
func NewConnectionError(message string) *Error {
	return &Error{
		Type:    ErrConnection,
		Message: message,
	}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{
		Type:    ErrAPI,
		Message: message,
	}
}

// IsAlreadyActive reports whether err is an already-active call error.
func IsAlreadyActive(err error) bool {
	return hasType(err, ErrAlreadyActive)
}

// IsNotConnected reports whether err is a send-while-disconnected error.
func IsNotConnected(err error) bool {
	return hasType(err, ErrNotConnected)
}

// IsConnection reports whether err is a channel-establishment failure.
func IsConnection(err error) bool {
	return hasType(err, ErrConnection)
}

func hasType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}
