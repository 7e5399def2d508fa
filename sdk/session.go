package callkit

import (
	"context"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/meetscribe/callkit/pkg/protocol"
)

// channelPair holds one generation of control and data channels plus their
// keepalive monitors. At most one pair is live per session.
type channelPair struct {
	generation int
	control    *wsChannel
	data       *wsChannel
	keepalives []*keepaliveMonitor
}

func (p *channelPair) closeAll() {
	if p == nil {
		return
	}
	for _, k := range p.keepalives {
		k.Stop()
	}
	p.control.close()
	p.data.close()
}

// establishPair opens the control channel, registers the bot, then opens the
// data channel. The control channel must be open and registered before any
// data flows; a failure on either side tears down whatever opened, so no
// half-open pair survives.
func (s *CallsService) establishPair(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	sessionID := s.sessionID
	meetingID := s.meetingID
	platform := s.platform
	s.mu.Unlock()

	ctx, span := s.client.startSpan(ctx, "calls.establish_pair")
	defer span.End()

	control, err := s.client.dialChannel(ctx, roleControl, protocol.ControlChannelPath(sessionID), channelHandlers{
		onText:   func(data []byte) { s.handleControlText(gen, data) },
		onBinary: func(data []byte) { s.handleControlBinary(gen, data) },
		onClose:  func(code int) { s.handleChannelClose(gen, roleControl, code) },
	})
	if err != nil {
		return err
	}

	reg := protocol.NewBotRegistration(sessionID, meetingID, s.client.botName, platform, s.client.audio)
	if err := control.sendJSON(reg); err != nil {
		control.close()
		return err
	}

	ev := newTextEvent(EventSystemMessage, "connected")
	ev.SessionID = sessionID
	s.events.notify(ev)

	data, err := s.client.dialChannel(ctx, roleData, protocol.DataChannelPath(sessionID), channelHandlers{
		onText:  func(data []byte) { s.handleDataText(gen, data) },
		onClose: func(code int) { s.handleChannelClose(gen, roleData, code) },
	})
	if err != nil {
		control.close()
		return err
	}

	pair := &channelPair{generation: gen, control: control, data: data}
	pair.keepalives = []*keepaliveMonitor{
		startKeepalive(control, s.client.keepaliveInterval, s.client.logger),
		startKeepalive(data, s.client.keepaliveInterval, s.client.logger),
	}

	s.mu.Lock()
	// Teardown may have raced with dialing; the generation bump in teardown
	// makes that visible here.
	if gen != s.generation || (s.state != StateConnecting && s.state != StateReconnecting) {
		s.mu.Unlock()
		pair.closeAll()
		return NewNotConnectedError("call ended during channel establishment")
	}
	s.pair = pair
	s.mu.Unlock()

	s.client.logger.Debug("channel pair established",
		"session_id", sessionID,
		"generation", gen)
	return nil
}

func (s *CallsService) handleControlText(gen int, data []byte) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	text := strings.TrimSpace(string(data))
	if text == protocol.KeepaliveToken || text == protocol.KeepaliveAck {
		return
	}

	frame := protocol.DecodeControlFrame(data)
	ev := eventFromFrame(frame)
	if ev == nil {
		return
	}
	ev.SessionID = sessionID
	s.events.notify(*ev)
}

// handleControlBinary treats every binary frame as synthesized speech.
func (s *CallsService) handleControlBinary(gen int, data []byte) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	ev := newCallEvent(EventTTSAudio)
	ev.SessionID = sessionID
	ev.Audio = data
	ev.Format = s.client.audioFormat
	s.events.notify(ev)
}

// handleDataText swallows acks; the data channel carries no events.
func (s *CallsService) handleDataText(gen int, data []byte) {
	s.mu.Lock()
	stale := gen != s.generation
	s.mu.Unlock()
	if stale {
		return
	}

	text := strings.TrimSpace(string(data))
	if text == protocol.KeepaliveToken || text == protocol.KeepaliveAck {
		return
	}
	s.client.logger.Debug("ignoring data channel frame", "payload_len", len(data))
}

// handleChannelClose reacts to one channel's read loop exiting. Stale
// generations and every state except Active are ignored: teardown closes
// channels itself, and a close racing an in-flight establishment must not
// schedule a rebuild for a pair that never fully existed.
func (s *CallsService) handleChannelClose(gen int, role channelRole, code int) {
	s.mu.Lock()
	if gen != s.generation || s.state != StateActive {
		s.mu.Unlock()
		return
	}

	pair := s.pair
	s.pair = nil
	sessionID := s.sessionID

	if code == websocket.CloseNormalClosure {
		// Remote ended the call cleanly.
		s.state = StateIdle
		s.sessionID = ""
		s.meetingID = ""
		s.platform = ""
		s.local = false
		s.supervisor.reset()
		s.mu.Unlock()

		if pair != nil {
			pair.closeAll()
		}
		s.client.logger.Info("call ended by remote", "session_id", sessionID, "channel", string(role))
		s.emitStatus(ConnDisconnected)
		return
	}

	// Abnormal loss: always rebuild the full pair so registration happens
	// before data on the fresh channels.
	s.state = StateReconnecting
	attempt, delay, ok := s.supervisor.next()
	if !ok {
		s.state = StateFailed
		s.lastErr = NewConnectionError("reconnection attempts exhausted")
		s.mu.Unlock()

		if pair != nil {
			pair.closeAll()
		}
		s.client.logger.Error("reconnection attempts exhausted",
			"session_id", sessionID,
			"channel", string(role),
			"close_code", code)
		s.emitStatus(ConnError)
		return
	}
	s.retryTimer = s.client.afterFunc(delay, s.attemptReconnect)
	s.mu.Unlock()

	if pair != nil {
		pair.closeAll()
	}
	s.client.logger.Warn("channel lost, reconnect scheduled",
		"session_id", sessionID,
		"channel", string(role),
		"close_code", code,
		"attempt", attempt,
		"delay", delay)
	s.emitStatus(ConnDisconnected)
}

// attemptReconnect runs off the retry timer and rebuilds the full pair.
func (s *CallsService) attemptReconnect() {
	s.mu.Lock()
	if s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	sessionID := s.sessionID
	s.mu.Unlock()

	s.emitStatus(ConnConnecting)

	err := s.establishPair(context.Background())
	if err == nil {
		s.mu.Lock()
		if s.state != StateReconnecting {
			s.mu.Unlock()
			return
		}
		s.state = StateActive
		s.supervisor.reset()
		s.mu.Unlock()

		s.client.logger.Info("call reconnected", "session_id", sessionID)
		s.emitStatus(ConnConnected)
		return
	}

	s.mu.Lock()
	if s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	attempt, delay, ok := s.supervisor.next()
	if !ok {
		s.state = StateFailed
		s.lastErr = NewConnectionError("reconnection attempts exhausted")
		s.mu.Unlock()

		s.client.logger.Error("reconnection attempts exhausted",
			"session_id", sessionID,
			"error", err)
		s.emitStatus(ConnError)
		return
	}
	s.retryTimer = s.client.afterFunc(delay, s.attemptReconnect)
	s.mu.Unlock()

	s.client.logger.Warn("reconnect attempt failed, retrying",
		"session_id", sessionID,
		"attempt", attempt,
		"delay", delay,
		"error", err)
	s.emitStatus(ConnDisconnected)
}
