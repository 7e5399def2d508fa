package callkit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/callkit/pkg/core"
	"github.com/meetscribe/callkit/pkg/protocol"
)

// CallsService supervises at most one live call session at a time. It
// allocates the conversation over REST, establishes the control/data channel
// pair, classifies inbound frames into CallEvents, and rebuilds the pair on
// transient loss.
type CallsService struct {
	client *Client

	events   *observerRegistry[CallEvent]
	statuses *observerRegistry[ConnectionState]

	mu         sync.Mutex
	state      CallState
	sessionID  string
	meetingID  string
	platform   string
	local      bool
	generation int
	pair       *channelPair
	supervisor *reconnectSupervisor
	retryTimer *time.Timer
	lastStatus ConnectionState
	lastErr    error
}

func newCallsService(c *Client) *CallsService {
	return &CallsService{
		client:     c,
		events:     newObserverRegistry[CallEvent](),
		statuses:   newObserverRegistry[ConnectionState](),
		supervisor: newReconnectSupervisor(c.reconnectPolicy),
	}
}

// StartCallRequest configures a new call.
type StartCallRequest struct {
	RoomID    string
	ContextID string
	Platform  string
}

// CallInfo describes an established call.
type CallInfo struct {
	SessionID    string
	MeetingID    string
	MeetingURL   string
	MeetingUIURL string

	// Local is true when backend allocation failed and the session runs
	// under a locally generated identifier.
	Local bool
}

// StartCall allocates a conversation and opens the channel pair. If backend
// allocation fails the call proceeds under a locally generated session id;
// if channel establishment fails the allocated session is torn down and the
// error is returned, so the caller never sees partial success.
func (s *CallsService) StartCall(ctx context.Context, req *StartCallRequest) (*CallInfo, error) {
	if s == nil || s.client == nil {
		return nil, core.NewInvalidRequestError("calls service is not initialized")
	}
	if req == nil {
		req = &StartCallRequest{}
	}

	ctx, span := s.client.startSpan(ctx, "calls.start")
	defer span.End()

	s.mu.Lock()
	if s.state != StateIdle {
		active := s.sessionID
		s.mu.Unlock()
		return nil, core.NewAlreadyActiveError(active)
	}
	s.state = StateConnecting
	s.lastErr = nil
	s.mu.Unlock()

	s.emitStatus(ConnConnecting)

	info := &CallInfo{}
	started, err := s.client.Conversations.Start(ctx, &StartConversationRequest{
		RoomID:          req.RoomID,
		UserID:          s.client.userID,
		ContextID:       req.ContextID,
		MeetingPlatform: req.Platform,
	})
	if err != nil {
		// Allocation failure is survivable for StartCall only: fall back
		// to a local session id and keep going.
		info.SessionID = "local-" + uuid.NewString()
		info.Local = true
		s.client.logger.Warn("conversation allocation failed, using local session id",
			"session_id", info.SessionID,
			"error", err)
	} else {
		info.SessionID = started.ConversationID
		info.MeetingID = started.MeetingID
		info.MeetingURL = started.MeetingURL
		info.MeetingUIURL = started.MeetingUIURL
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return nil, NewNotConnectedError("call ended during start")
	}
	s.sessionID = info.SessionID
	s.meetingID = info.MeetingID
	s.platform = req.Platform
	s.local = info.Local
	s.mu.Unlock()

	if err := s.establishPair(ctx); err != nil {
		s.abortStart(ctx, info.SessionID, !info.Local)
		return nil, err
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return nil, NewNotConnectedError("call ended during start")
	}
	s.state = StateActive
	s.supervisor.reset()
	s.mu.Unlock()

	s.emitStatus(ConnConnected)
	return info, nil
}

// JoinCall attaches to an existing conversation and opens the channel pair.
// Unlike StartCall there is no local fallback; a failed join fails outright.
func (s *CallsService) JoinCall(ctx context.Context, sessionID string) error {
	if s == nil || s.client == nil {
		return core.NewInvalidRequestError("calls service is not initialized")
	}
	if strings.TrimSpace(sessionID) == "" {
		return core.NewInvalidRequestError("session id must not be empty")
	}

	ctx, span := s.client.startSpan(ctx, "calls.join")
	defer span.End()

	s.mu.Lock()
	if s.state != StateIdle {
		active := s.sessionID
		s.mu.Unlock()
		return core.NewAlreadyActiveError(active)
	}
	s.state = StateConnecting
	s.lastErr = nil
	s.mu.Unlock()

	s.emitStatus(ConnConnecting)

	joined, err := s.client.Conversations.Join(ctx, sessionID, s.client.userID)
	if err != nil {
		s.resetToIdle()
		s.emitStatus(ConnError)
		return err
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return NewNotConnectedError("call ended during join")
	}
	s.sessionID = joined.ConversationID
	s.meetingID = ""
	s.platform = ""
	s.local = false
	s.mu.Unlock()

	if err := s.establishPair(ctx); err != nil {
		// The conversation pre-existed; do not end it on a failed join.
		s.abortStart(ctx, joined.ConversationID, false)
		return err
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return NewNotConnectedError("call ended during join")
	}
	s.state = StateActive
	s.supervisor.reset()
	s.mu.Unlock()

	s.emitStatus(ConnConnected)
	return nil
}

// abortStart tears down a session whose channel pair never came up. When a
// concurrent EndCall already ran teardown, the state has left Connecting and
// the remote notice plus error status were handled there; a second pass
// would duplicate both.
func (s *CallsService) abortStart(ctx context.Context, sessionID string, notifyRemote bool) {
	s.mu.Lock()
	stillConnecting := s.state == StateConnecting
	s.mu.Unlock()
	if !stillConnecting {
		return
	}
	if notifyRemote && sessionID != "" {
		if err := s.client.Conversations.End(ctx, sessionID); err != nil {
			s.client.logger.Warn("failed to end conversation after channel establishment failure",
				"session_id", sessionID,
				"error", err)
		}
	}
	s.resetToIdle()
	s.emitStatus(ConnError)
}

func (s *CallsService) resetToIdle() {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateFailed {
		s.state = StateIdle
		s.sessionID = ""
		s.meetingID = ""
		s.platform = ""
		s.local = false
	}
	s.mu.Unlock()
}

// EndCall notifies the backend best-effort and unconditionally tears down
// local state. Safe to call in any state; calling it twice is a no-op.
func (s *CallsService) EndCall(ctx context.Context) error {
	return s.teardown(ctx, false)
}

// DeleteCall is EndCall with a backend delete instead of an end notice.
func (s *CallsService) DeleteCall(ctx context.Context) error {
	return s.teardown(ctx, true)
}

func (s *CallsService) teardown(ctx context.Context, del bool) error {
	if s == nil || s.client == nil {
		return nil
	}

	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateEnding
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	// Invalidate in-flight establishment and stale close callbacks.
	s.generation++
	pair := s.pair
	s.pair = nil
	sessionID := s.sessionID
	local := s.local
	s.mu.Unlock()

	// Remote notification is best effort; local cleanup happens regardless.
	if sessionID != "" && !local {
		var err error
		if del {
			err = s.client.Conversations.Delete(ctx, sessionID)
		} else {
			err = s.client.Conversations.End(ctx, sessionID)
		}
		if err != nil {
			s.client.logger.Warn("remote call teardown failed",
				"session_id", sessionID,
				"delete", del,
				"error", err)
		}
	}

	if pair != nil {
		pair.closeAll()
	}

	s.mu.Lock()
	s.state = StateIdle
	s.sessionID = ""
	s.meetingID = ""
	s.platform = ""
	s.local = false
	s.lastErr = nil
	s.supervisor.reset()
	s.mu.Unlock()

	s.emitStatus(ConnDisconnected)
	return nil
}

// SendMessage sends user text over the data channel and synchronously emits
// the local user_speech echo before returning.
func (s *CallsService) SendMessage(text string) error {
	s.mu.Lock()
	if s.state != StateActive || s.pair == nil || s.pair.data.isClosed() {
		s.mu.Unlock()
		return NewNotConnectedError("call is not connected")
	}
	pair := s.pair
	sessionID := s.sessionID
	s.mu.Unlock()

	if err := pair.data.sendJSON(protocol.NewTextFrame(text)); err != nil {
		return err
	}

	ev := newTextEvent(EventUserSpeech, text)
	ev.SessionID = sessionID
	ev.IsFinal = true
	s.events.notify(ev)
	return nil
}

// SendAudioChunk sends one audio frame over the data channel. An empty
// format falls back to the client's negotiated audio format.
func (s *CallsService) SendAudioChunk(audio []byte, format string) error {
	s.mu.Lock()
	if s.state != StateActive || s.pair == nil || s.pair.data.isClosed() {
		s.mu.Unlock()
		return NewNotConnectedError("call is not connected")
	}
	pair := s.pair
	sessionID := s.sessionID
	s.mu.Unlock()

	if err := pair.data.sendBinary(audio); err != nil {
		return err
	}

	if s.client.debugEvents {
		if format == "" {
			format = s.client.audioFormat
		}
		ev := newCallEvent(EventAudioData)
		ev.SessionID = sessionID
		ev.Audio = audio
		ev.Format = format
		s.events.notify(ev)
	}
	return nil
}

// OnMessage subscribes to the call event stream. Handlers run synchronously
// on emission; the returned function unsubscribes.
func (s *CallsService) OnMessage(h func(CallEvent)) func() {
	return s.events.subscribe(h)
}

// OnStatusChange subscribes to connection state transitions. Consecutive
// duplicate states are suppressed.
func (s *CallsService) OnStatusChange(h func(ConnectionState)) func() {
	return s.statuses.subscribe(h)
}

// State reports the current call lifecycle phase.
func (s *CallsService) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the active session id, or empty when idle.
func (s *CallsService) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// IsActive reports whether a call is logically in progress, including
// reconnection windows.
func (s *CallsService) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnecting, StateActive, StateReconnecting:
		return true
	default:
		return false
	}
}

// LastError returns the terminal error after the session enters Failed.
func (s *CallsService) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *CallsService) emitStatus(state ConnectionState) {
	s.mu.Lock()
	if s.lastStatus == state {
		s.mu.Unlock()
		return
	}
	s.lastStatus = state
	s.mu.Unlock()
	s.statuses.notify(state)
}
