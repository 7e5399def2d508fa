package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeControlFrame_Recognized(t *testing.T) {
	t.Parallel()

	frame := DecodeControlFrame([]byte(`{"type":"ai_response","content":"hello"}`))
	ai, ok := frame.(AIResponseFrame)
	if !ok || ai.Content != "hello" {
		t.Fatalf("frame=%#v", frame)
	}

	frame = DecodeControlFrame([]byte(`{"type":"transcription","content":"hi there","is_final":true}`))
	tr, ok := frame.(TranscriptionFrame)
	if !ok || tr.Content != "hi there" || !tr.IsFinal {
		t.Fatalf("frame=%#v", frame)
	}

	frame = DecodeControlFrame([]byte(`{"type":"tts_complete","content":"done"}`))
	if c, ok := frame.(TTSCompleteFrame); !ok || c.Content != "done" {
		t.Fatalf("frame=%#v", frame)
	}
}

func TestDecodeControlFrame_ParticipantPassthrough(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"participant_joined","data":{"name":"Ada","role":"host"}}`)
	frame := DecodeControlFrame(raw)
	p, ok := frame.(ParticipantFrame)
	if !ok || p.Kind != "participant_joined" {
		t.Fatalf("frame=%#v", frame)
	}

	// The raw payload survives byte-for-byte for the UI layer.
	var original, preserved map[string]any
	if err := json.Unmarshal(raw, &original); err != nil {
		t.Fatalf("unmarshal original: %v", err)
	}
	if err := json.Unmarshal(p.Raw, &preserved); err != nil {
		t.Fatalf("unmarshal preserved: %v", err)
	}
	if len(preserved) != len(original) {
		t.Fatalf("preserved=%v, want %v", preserved, original)
	}
}

func TestDecodeControlFrame_FallbackArm(t *testing.T) {
	t.Parallel()

	// Not JSON at all.
	frame := DecodeControlFrame([]byte("plain agent text"))
	if o, ok := frame.(OpaqueTextFrame); !ok || o.Text != "plain agent text" {
		t.Fatalf("frame=%#v", frame)
	}

	// Valid JSON, unrecognized type.
	frame = DecodeControlFrame([]byte(`{"type":"telemetry","content":"x"}`))
	if _, ok := frame.(OpaqueTextFrame); !ok {
		t.Fatalf("frame=%#v, want opaque fallback", frame)
	}

	// Valid JSON, no type.
	frame = DecodeControlFrame([]byte(`{"content":"x"}`))
	if _, ok := frame.(OpaqueTextFrame); !ok {
		t.Fatalf("frame=%#v, want opaque fallback", frame)
	}
}

func TestDecodeControlFrame_ContentFallbacks(t *testing.T) {
	t.Parallel()

	frame := DecodeControlFrame([]byte(`{"type":"ai_response","text":"from text field"}`))
	if ai := frame.(AIResponseFrame); ai.Content != "from text field" {
		t.Fatalf("content=%q", ai.Content)
	}

	frame = DecodeControlFrame([]byte(`{"type":"ai_response","data":"from data field"}`))
	if ai := frame.(AIResponseFrame); ai.Content != "from data field" {
		t.Fatalf("content=%q", ai.Content)
	}
}

func TestBotRegistration_WireShape(t *testing.T) {
	t.Parallel()

	reg := NewBotRegistration("sess_1", "meet_1", "Notetaker", "meet", AudioConfig{SampleRate: 16000, Channels: 1})
	data, err := json.Marshal(reg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != "bot_registration" || decoded["sessionId"] != "sess_1" {
		t.Fatalf("payload=%v", decoded)
	}
	audio, ok := decoded["audioConfig"].(map[string]any)
	if !ok || audio["sampleRate"] != float64(16000) || audio["channels"] != float64(1) {
		t.Fatalf("audioConfig=%v", decoded["audioConfig"])
	}
}

func TestChannelPaths(t *testing.T) {
	t.Parallel()

	if got := AutomationStatusPath("s1"); got != "/ws/meeting-automation/s1" {
		t.Fatalf("status path=%q", got)
	}
	if got := ControlChannelPath("s1"); got != "/ws/conversations/s1/control" {
		t.Fatalf("control path=%q", got)
	}
	if got := DataChannelPath("s1"); got != "/ws/conversations/s1/data" {
		t.Fatalf("data path=%q", got)
	}
}
