package callkit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meetscribe/callkit/pkg/core"
	"github.com/meetscribe/callkit/pkg/protocol"
)

// AutomationService exposes the read-only meeting automation status stream,
// keyed by session id and independent of the call's channel pair.
type AutomationService struct {
	client *Client
}

// Listen opens the automation status stream for a session. The stream keeps
// itself alive with bounded multiplicative backoff; once the attempt budget
// is spent it stops retrying and the caller may invoke Reconnect.
func (s *AutomationService) Listen(ctx context.Context, sessionID string) (*AutomationStatusStream, error) {
	if s == nil || s.client == nil {
		return nil, core.NewInvalidRequestError("automation service is not initialized")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, core.NewInvalidRequestError("session id must not be empty")
	}

	stream := &AutomationStatusStream{
		client:      s.client,
		sessionID:   sessionID,
		maxAttempts: s.client.statusMaxAttempts,
		backoff:     newStatusBackoff(s.client.statusBackoffBase),
		events:      make(chan protocol.StatusMessage, 64),
		done:        make(chan struct{}),
	}
	if err := stream.dial(ctx); err != nil {
		return nil, err
	}
	return stream, nil
}

// newStatusBackoff builds the stream's retry ladder: base, 1.5·base,
// 2.25·base, and so on. Zero randomization keeps the delays deterministic.
func newStatusBackoff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 1.5
	b.RandomizationFactor = 0
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// AutomationStatusStream is a supervised read-only websocket stream of
// automation progress. Messages accumulate append-only in arrival order.
type AutomationStatusStream struct {
	client      *Client
	sessionID   string
	maxAttempts int

	events    chan protocol.StatusMessage
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	ch         *wsChannel
	backoff    *backoff.ExponentialBackOff
	retryTimer *time.Timer
	generation int
	messages   []protocol.StatusMessage
	connected  bool
	lastErr    error
	stage      string
	attempt    int
}

// dial opens a fresh channel under a new generation. An explicit Reconnect
// can race a redial already in flight; the generation re-check lets the
// later dial win and the earlier one close its own channel, so exactly one
// stays open.
func (s *AutomationStatusStream) dial(ctx context.Context) error {
	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return NewNotConnectedError("status stream is closed")
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	ch, err := s.client.dialChannel(ctx, roleStatus, protocol.AutomationStatusPath(s.sessionID), channelHandlers{
		onText:  func(data []byte) { s.handleText(gen, data) },
		onClose: func(code int) { s.handleClose(gen, code) },
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		ch.close()
		return NewNotConnectedError("status stream is closed")
	}
	if gen != s.generation {
		s.mu.Unlock()
		ch.close()
		return nil
	}
	prev := s.ch
	s.ch = ch
	s.connected = true
	s.lastErr = nil
	s.attempt = 0
	s.backoff.Reset()
	s.mu.Unlock()

	prev.close()
	return nil
}

func (s *AutomationStatusStream) handleText(gen int, data []byte) {
	s.mu.Lock()
	stale := gen != s.generation
	ch := s.ch
	s.mu.Unlock()
	if stale {
		return
	}

	var msg protocol.StatusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.client.logger.Debug("malformed automation status frame", "error", err)
		return
	}

	switch msg.Type {
	case protocol.StatusTypePing:
		// Echoed, never surfaced.
		if err := ch.sendJSON(protocol.NewStatusPong(s.sessionID)); err != nil {
			s.client.logger.Debug("status pong send failed", "error", err)
		}
		return
	case protocol.StatusTypePong:
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	if msg.Stage != "" {
		s.stage = msg.Stage
	}
	s.mu.Unlock()

	select {
	case s.events <- msg:
	default:
		// Slow consumers lose channel delivery; Messages() keeps everything.
	}
}

func (s *AutomationStatusStream) handleClose(gen int, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		// A superseded channel closing must not disturb its replacement.
		return
	}
	s.connected = false
	s.ch = nil
	if s.closedLocked() {
		return
	}
	s.client.logger.Debug("automation status channel lost",
		"session_id", s.sessionID,
		"close_code", code)
	s.scheduleRetryLocked()
}

// scheduleRetryLocked arms the next redial on the backoff ladder, bounded by
// the attempt budget. Caller holds mu.
func (s *AutomationStatusStream) scheduleRetryLocked() {
	if s.attempt >= s.maxAttempts {
		s.lastErr = NewConnectionError("automation status reconnection attempts exhausted")
		return
	}
	s.attempt++
	s.retryTimer = s.client.afterFunc(s.backoff.NextBackOff(), s.redial)
}

func (s *AutomationStatusStream) redial() {
	if err := s.dial(context.Background()); err == nil {
		return
	}

	s.mu.Lock()
	if !s.closedLocked() && !s.connected {
		s.scheduleRetryLocked()
	}
	s.mu.Unlock()
}

// Reconnect resets the attempt budget and dials immediately. It is the
// caller's recovery path once automatic retries are exhausted.
func (s *AutomationStatusStream) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return NewNotConnectedError("status stream is closed")
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.attempt = 0
	s.lastErr = nil
	s.backoff.Reset()
	s.mu.Unlock()

	return s.dial(ctx)
}

// Messages returns a snapshot of every status message received so far, in
// arrival order.
func (s *AutomationStatusStream) Messages() []protocol.StatusMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.StatusMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Events yields status messages as they arrive. The channel is never closed;
// select against Done.
func (s *AutomationStatusStream) Events() <-chan protocol.StatusMessage {
	return s.events
}

// Done is closed when the stream is closed.
func (s *AutomationStatusStream) Done() <-chan struct{} {
	return s.done
}

// IsConnected reports whether the underlying channel is currently open.
func (s *AutomationStatusStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastError returns the terminal error after retries are exhausted.
func (s *AutomationStatusStream) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// CurrentStage returns the most recent non-empty stage value.
func (s *AutomationStatusStream) CurrentStage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Close stops the stream and any pending retry. Idempotent.
func (s *AutomationStatusStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.retryTimer != nil {
			s.retryTimer.Stop()
			s.retryTimer = nil
		}
		ch := s.ch
		s.ch = nil
		s.connected = false
		s.mu.Unlock()
		ch.close()
	})
	return nil
}

func (s *AutomationStatusStream) closedLocked() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
