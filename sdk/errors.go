package callkit

import (
	"fmt"
	"net/url"

	"github.com/meetscribe/callkit/pkg/core"
)

// SDK-level error type that wraps core errors
type Error = core.Error

// Error types
const (
	ErrInvalidRequest = core.ErrInvalidRequest
	ErrAuthentication = core.ErrAuthentication
	ErrNotFound       = core.ErrNotFound
	ErrAlreadyActive  = core.ErrAlreadyActive
	ErrNotConnected   = core.ErrNotConnected
	ErrConnection     = core.ErrConnection
	ErrAPI            = core.ErrAPI
)

// Error constructors and classification helpers
var (
	NewInvalidRequestError = core.NewInvalidRequestError
	NewNotConnectedError   = core.NewNotConnectedError
	NewConnectionError     = core.NewConnectionError
	NewAPIError            = core.NewAPIError

	IsAlreadyActive = core.IsAlreadyActive
	IsNotConnected  = core.IsNotConnected
	IsConnection    = core.IsConnection
)

// TransportError represents transport-level failures (DNS, timeouts,
// connection reset, TLS handshake, websocket dial) while talking to the
// backend.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from canonical API errors (*core.Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
