// Package protocol defines the wire frames exchanged over the call channel
// pair and the automation status channel, and the decoder that classifies
// inbound control-channel frames.
package protocol

import (
	"encoding/json"
	"strings"
)

const (
	// KeepaliveToken is the literal heartbeat frame sent by the client.
	KeepaliveToken = "ping"
	// KeepaliveAck is the literal heartbeat echo recognized as a no-op.
	KeepaliveAck = "pong"
)

// AudioConfig describes the negotiated PCM audio shape for a call.
type AudioConfig struct {
	SampleRate int `json:"sampleRate"`
	Channels   int `json:"channels"`
}

// BotRegistration is sent exactly once on the control channel, immediately
// after it opens and before any data flows.
type BotRegistration struct {
	Type        string      `json:"type"`
	SessionID   string      `json:"sessionId"`
	MeetingID   string      `json:"meetingId,omitempty"`
	BotName     string      `json:"botName"`
	Platform    string      `json:"platform"`
	AudioConfig AudioConfig `json:"audioConfig"`
}

// NewBotRegistration builds a registration frame with the fixed type tag.
func NewBotRegistration(sessionID, meetingID, botName, platform string, audio AudioConfig) BotRegistration {
	return BotRegistration{
		Type:        "bot_registration",
		SessionID:   sessionID,
		MeetingID:   meetingID,
		BotName:     botName,
		Platform:    platform,
		AudioConfig: audio,
	}
}

// TextFrame carries user text over the data channel.
type TextFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// NewTextFrame builds an outbound text frame.
func NewTextFrame(content string) TextFrame {
	return TextFrame{Type: "text", Content: content}
}

// ServerFrame is a classified inbound control-channel frame.
type ServerFrame interface {
	frameType() string
}

// AIResponseFrame carries agent text.
type AIResponseFrame struct {
	Content string
}

func (f AIResponseFrame) frameType() string { return "ai_response" }

// TranscriptionFrame carries a transcript of the local user's speech.
type TranscriptionFrame struct {
	Content string
	IsFinal bool
}

func (f TranscriptionFrame) frameType() string { return "transcription" }

// TTSCompleteFrame marks the end of a synthesized-speech segment.
type TTSCompleteFrame struct {
	Content string
}

func (f TTSCompleteFrame) frameType() string { return "tts_complete" }

// ParticipantFrame is a participant-presence notice. The raw payload is
// preserved unmodified for consumption by the UI layer.
type ParticipantFrame struct {
	Kind string // participant_joined, participant_left, participant_updated
	Raw  json.RawMessage
}

func (f ParticipantFrame) frameType() string { return f.Kind }

// OpaqueTextFrame is the fallback arm: anything that fails to parse as JSON
// or carries an unrecognized type is treated as agent text.
type OpaqueTextFrame struct {
	Text string
}

func (f OpaqueTextFrame) frameType() string { return "opaque_text" }

type controlEnvelope struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data"`
	Text    string          `json:"text"`
	IsFinal bool            `json:"is_final"`
}

// DecodeControlFrame classifies one textual control-channel frame. Keepalive
// tokens must be filtered by the caller before decoding. Malformed payloads
// never produce an error; they fall through to OpaqueTextFrame.
func DecodeControlFrame(data []byte) ServerFrame {
	var env controlEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return OpaqueTextFrame{Text: string(data)}
	}

	switch strings.TrimSpace(env.Type) {
	case "ai_response":
		return AIResponseFrame{Content: envelopeContent(env)}
	case "transcription":
		return TranscriptionFrame{Content: envelopeContent(env), IsFinal: env.IsFinal}
	case "tts_complete":
		return TTSCompleteFrame{Content: envelopeContent(env)}
	case "participant_joined", "participant_left", "participant_updated":
		return ParticipantFrame{
			Kind: env.Type,
			Raw:  append(json.RawMessage(nil), data...),
		}
	default:
		return OpaqueTextFrame{Text: string(data)}
	}
}

func envelopeContent(env controlEnvelope) string {
	if env.Content != "" {
		return env.Content
	}
	if env.Text != "" {
		return env.Text
	}
	if len(env.Data) > 0 {
		var s string
		if err := json.Unmarshal(env.Data, &s); err == nil {
			return s
		}
		return string(env.Data)
	}
	return ""
}
