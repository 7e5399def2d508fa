package callkit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/callkit/pkg/protocol"
)

// CallEventType identifies the kind of event emitted during a live call.
// Participant presence frames pass through with their wire type
// (participant_joined, participant_left, participant_updated) unchanged.
type CallEventType string

const (
	// EventUserSpeech is emitted for locally sent text and for remote
	// transcriptions of the user's speech.
	EventUserSpeech CallEventType = "user_speech"
	// EventAIResponse carries assistant text. Unrecognized textual frames
	// degrade to this kind rather than being dropped.
	EventAIResponse CallEventType = "ai_response"
	// EventSystemMessage carries session lifecycle and completion notices.
	EventSystemMessage CallEventType = "system_message"
	// EventTTSAudio carries a chunk of synthesized speech audio.
	EventTTSAudio CallEventType = "tts_audio"
	// EventAudioData mirrors outgoing microphone chunks; only emitted when
	// WithDebugEvents is set.
	EventAudioData CallEventType = "audio_data"
)

// CallEvent is a single item on the ordered call event stream. Events are
// immutable after emission; ordering matches frame arrival order.
type CallEvent struct {
	ID        string
	Type      CallEventType
	Content   string
	SessionID string
	Audio     []byte
	Format    string
	IsFinal   bool
	Detail    json.RawMessage
	Timestamp time.Time
}

func newCallEvent(t CallEventType) CallEvent {
	return CallEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

func newTextEvent(t CallEventType, content string) CallEvent {
	ev := newCallEvent(t)
	ev.Content = content
	return ev
}

// eventFromFrame maps a decoded control frame to its call event. A nil
// return means the frame produces no event.
func eventFromFrame(frame protocol.ServerFrame) *CallEvent {
	switch f := frame.(type) {
	case protocol.AIResponseFrame:
		ev := newTextEvent(EventAIResponse, f.Content)
		return &ev
	case protocol.TranscriptionFrame:
		// Remote transcription of the local speaker surfaces as user speech.
		ev := newTextEvent(EventUserSpeech, f.Content)
		ev.IsFinal = f.IsFinal
		return &ev
	case protocol.TTSCompleteFrame:
		ev := newTextEvent(EventSystemMessage, f.Content)
		return &ev
	case protocol.ParticipantFrame:
		ev := newCallEvent(CallEventType(f.Kind))
		ev.Detail = f.Raw
		return &ev
	case protocol.OpaqueTextFrame:
		ev := newTextEvent(EventAIResponse, f.Text)
		return &ev
	default:
		return nil
	}
}

// ConnectionState describes the transport status of the active channel pair.
type ConnectionState string

const (
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnDisconnected ConnectionState = "disconnected"
	ConnError        ConnectionState = "error"
)

// CallState is the lifecycle phase of the call session.
type CallState int

const (
	StateIdle CallState = iota
	StateConnecting
	StateActive
	StateReconnecting
	StateEnding
	StateFailed
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateEnding:
		return "ending"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
