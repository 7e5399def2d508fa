package callkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type channelRole string

const (
	roleControl channelRole = "control"
	roleData    channelRole = "data"
	roleStatus  channelRole = "status"
)

// channelHandlers receives the channel's inbound traffic. onClose fires once
// per channel, after the read loop stops, with the websocket close code (or
// -1 when the peer vanished without a close frame).
type channelHandlers struct {
	onText   func(data []byte)
	onBinary func(data []byte)
	onClose  func(code int)
}

// wsChannel wraps one websocket connection. Writes are serialized through
// writeMu; closing is idempotent and safe to call from inside handlers.
type wsChannel struct {
	role channelRole
	conn *websocket.Conn

	handlers channelHandlers

	done chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// dialChannel opens one websocket channel and starts its read loop. When the
// caller's context carries no deadline, connectTimeout bounds the dial.
func (c *Client) dialChannel(ctx context.Context, role channelRole, path string, handlers channelHandlers) (*wsChannel, error) {
	wsURL, err := c.websocketEndpoint(path)
	if err != nil {
		return nil, err
	}

	headers := make(http.Header)
	if c.apiKey != "" {
		headers.Set("Authorization", "Bearer "+c.apiKey)
	}

	dialer := c.dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, c.connectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, &TransportError{Op: "GET", URL: wsURL, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &TransportError{Op: "GET", URL: wsURL, Err: err}
	}

	ch := &wsChannel{
		role:     role,
		conn:     conn,
		handlers: handlers,
		done:     make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

func (ch *wsChannel) readLoop() {
	closeCode := -1
	defer func() {
		close(ch.done)
		if ch.handlers.onClose != nil {
			ch.handlers.onClose(closeCode)
		}
	}()

	for {
		messageType, data, err := ch.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				closeCode = closeErr.Code
			}
			if ch.closed.Load() {
				// Locally initiated close; report it as clean.
				closeCode = websocket.CloseNormalClosure
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if ch.handlers.onText != nil {
				ch.handlers.onText(data)
			}
		case websocket.BinaryMessage:
			if ch.handlers.onBinary != nil {
				ch.handlers.onBinary(append([]byte(nil), data...))
			}
		default:
			continue
		}
	}
}

func (ch *wsChannel) sendJSON(v any) error {
	if ch == nil {
		return NewNotConnectedError("channel is not open")
	}
	if ch.closed.Load() {
		return NewNotConnectedError(string(ch.role) + " channel is closed")
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.conn.WriteJSON(v)
}

func (ch *wsChannel) sendText(data []byte) error {
	if ch == nil {
		return NewNotConnectedError("channel is not open")
	}
	if ch.closed.Load() {
		return NewNotConnectedError(string(ch.role) + " channel is closed")
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

func (ch *wsChannel) sendBinary(data []byte) error {
	if ch == nil {
		return NewNotConnectedError("channel is not open")
	}
	if ch.closed.Load() {
		return NewNotConnectedError(string(ch.role) + " channel is closed")
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.conn.WriteMessage(websocket.BinaryMessage, data)
}

// close tears the channel down. It does not wait for the read loop, so it is
// safe to call from onClose and other handler callbacks.
func (ch *wsChannel) close() {
	if ch == nil {
		return
	}
	ch.closeOnce.Do(func() {
		ch.closed.Store(true)
		ch.writeMu.Lock()
		_ = ch.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		ch.writeMu.Unlock()
		_ = ch.conn.Close()
	})
}

func (ch *wsChannel) isClosed() bool {
	return ch == nil || ch.closed.Load()
}
