package callkit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/meetscribe/callkit/pkg/protocol"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the backend base URL (http(s) or ws(s) scheme).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithAPIKey sets the backend API key used as a bearer token.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithUserID sets the user identity sent on conversation REST calls.
func WithUserID(id string) ClientOption {
	return func(c *Client) {
		c.userID = id
	}
}

// WithBotName sets the display name announced in bot_registration.
func WithBotName(name string) ClientOption {
	return func(c *Client) {
		c.botName = name
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTracer sets the OpenTelemetry tracer for the client.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithAudioConfig sets the PCM shape announced in bot_registration and the
// format tag applied to received synthesized audio.
func WithAudioConfig(sampleRate, channels int, format string) ClientOption {
	return func(c *Client) {
		if sampleRate > 0 {
			c.audio.SampleRate = sampleRate
		}
		if channels > 0 {
			c.audio.Channels = channels
		}
		if format != "" {
			c.audioFormat = format
		}
	}
}

// WithReconnectPolicy sets the channel-pair reconnection policy.
func WithReconnectPolicy(p ReconnectPolicy) ClientOption {
	return func(c *Client) {
		c.reconnectPolicy = p
	}
}

// WithKeepaliveInterval sets the heartbeat interval for open channels.
func WithKeepaliveInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.keepaliveInterval = d
		}
	}
}

// WithConnectTimeout sets the per-channel websocket dial timeout applied
// when the caller's context carries no deadline.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithAutomationBackoff sets the automation status stream's reconnect
// policy: a fixed multiplicative backoff starting at base, bounded to
// maxAttempts before the stream stops retrying on its own.
func WithAutomationBackoff(base time.Duration, maxAttempts int) ClientOption {
	return func(c *Client) {
		if base > 0 {
			c.statusBackoffBase = base
		}
		if maxAttempts > 0 {
			c.statusMaxAttempts = maxAttempts
		}
	}
}

// WithDebugEvents enables diagnostic audio_data event emission on
// SendAudioChunk.
func WithDebugEvents() ClientOption {
	return func(c *Client) {
		c.debugEvents = true
	}
}

// defaultAudioConfig is the negotiated shape announced when the caller does
// not override it.
func defaultAudioConfig() protocol.AudioConfig {
	return protocol.AudioConfig{SampleRate: 16000, Channels: 1}
}
