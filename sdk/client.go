// Package callkit provides the Meetscribe call SDK for Go.
//
// The SDK orchestrates live call sessions against the Meetscribe backend: it
// allocates conversations over REST, supervises the websocket channel pair
// that carries call audio and events, and exposes ordered event and
// connection-status streams to the caller.
package callkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/meetscribe/callkit/pkg/core"
	"github.com/meetscribe/callkit/pkg/protocol"
)

const (
	defaultConnectTimeout    = 15 * time.Second
	defaultKeepaliveInterval = 30 * time.Second
	defaultBotName           = "Meetscribe Notetaker"
	defaultAudioFormat       = "pcm_s16le"
)

// Client is the main entry point for the SDK. Construct one at application
// start and inject it wherever call control is needed; it owns at most one
// live call session at a time.
type Client struct {
	Conversations *ConversationsService
	Calls         *CallsService
	Automation    *AutomationService

	// Internal
	baseURL     string
	apiKey      string
	userID      string
	botName     string
	audio       protocol.AudioConfig
	audioFormat string

	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger
	tracer     trace.Tracer

	keepaliveInterval time.Duration
	connectTimeout    time.Duration
	reconnectPolicy   ReconnectPolicy
	statusBackoffBase time.Duration
	statusMaxAttempts int
	debugEvents       bool
}

// NewClient creates a new client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		botName:           defaultBotName,
		audio:             defaultAudioConfig(),
		audioFormat:       defaultAudioFormat,
		logger:            slog.Default(),
		keepaliveInterval: defaultKeepaliveInterval,
		connectTimeout:    defaultConnectTimeout,
		reconnectPolicy:   DefaultReconnectPolicy(),
		statusBackoffBase: time.Second,
		statusMaxAttempts: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newDefaultHTTPClient()
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("callkit")
	}

	c.Conversations = &ConversationsService{client: c}
	c.Calls = newCallsService(c)
	c.Automation = &AutomationService{client: c}
	return c
}

func (c *Client) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name)
}

func (c *Client) afterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, fn)
}

// endpoint resolves a REST path against the configured base URL.
func (c *Client) endpoint(path string) (string, error) {
	rawBaseURL := strings.TrimSpace(c.baseURL)
	if rawBaseURL == "" {
		return "", core.NewInvalidRequestError("base URL is not configured (set WithBaseURL)")
	}

	base, err := url.Parse(rawBaseURL)
	if err != nil || strings.TrimSpace(base.Scheme) == "" || strings.TrimSpace(base.Host) == "" {
		return "", core.NewInvalidRequestError("invalid base URL")
	}
	if base.User != nil {
		return "", core.NewInvalidRequestError("base URL must not include credentials")
	}

	// websocket base URLs are accepted; REST calls go over http(s).
	switch strings.ToLower(strings.TrimSpace(base.Scheme)) {
	case "ws":
		base.Scheme = "http"
	case "wss":
		base.Scheme = "https"
	}

	base.RawQuery = ""
	base.Fragment = ""

	cleanPath := "/" + strings.TrimLeft(path, "/")
	basePath := strings.TrimSuffix(base.Path, "/")
	if basePath == "" || basePath == "/" {
		base.Path = cleanPath
	} else {
		base.Path = basePath + cleanPath
	}
	base.RawPath = ""

	return base.String(), nil
}

// websocketEndpoint resolves a websocket path against the base URL.
func (c *Client) websocketEndpoint(path string) (string, error) {
	endpoint, err := c.endpoint(path)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", core.NewInvalidRequestError("invalid base URL")
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already websocket scheme.
	default:
		return "", core.NewInvalidRequestError("base URL must use http(s) or ws(s)")
	}
	return u.String(), nil
}

// doJSON issues one JSON request against the backend. A nil payload sends
// an empty body.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any) (*http.Response, string, error) {
	endpoint, err := c.endpoint(path)
	if err != nil {
		return nil, "", err
	}

	var body io.Reader
	if payload != nil {
		reqBody, err := json.Marshal(payload)
		if err != nil {
			return nil, endpoint, core.NewInvalidRequestError("failed to marshal request body")
		}
		body = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, endpoint, &TransportError{Op: method, URL: endpoint, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, endpoint, &TransportError{Op: method, URL: endpoint, Err: err}
	}

	return resp, endpoint, nil
}

func decodeErrorResponse(resp *http.Response, endpoint, method string) error {
	defer resp.Body.Close()

	requestID := requestIDFromHeader(resp.Header)
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransportError{Op: method, URL: endpoint, Err: err}
	}

	var env struct {
		Error *core.Error `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		if env.Error.RequestID == "" {
			env.Error.RequestID = requestID
		}
		if env.Error.Type == "" {
			env.Error.Type = inferErrorType(resp.StatusCode)
		}
		if env.Error.Message == "" {
			env.Error.Message = http.StatusText(resp.StatusCode)
		}
		return env.Error
	}

	msg := "request failed"
	if resp.StatusCode > 0 {
		msg = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}
	return &core.Error{
		Type:      inferErrorType(resp.StatusCode),
		Message:   msg,
		RequestID: requestID,
	}
}

func inferErrorType(statusCode int) core.ErrorType {
	switch statusCode {
	case http.StatusBadRequest:
		return core.ErrInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.ErrAuthentication
	case http.StatusNotFound:
		return core.ErrNotFound
	case http.StatusConflict:
		return core.ErrAlreadyActive
	default:
		return core.ErrAPI
	}
}

func requestIDFromHeader(h http.Header) string {
	if h == nil {
		return ""
	}
	if reqID := strings.TrimSpace(h.Get("X-Request-Id")); reqID != "" {
		return reqID
	}
	return strings.TrimSpace(h.Get("X-Request-ID"))
}
