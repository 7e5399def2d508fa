package protocol

// Automation status message types.
const (
	StatusTypeAutomation = "automation_status"
	StatusTypeConnected  = "connected"
	StatusTypePing       = "ping"
	StatusTypePong       = "pong"
)

// StatusMessage is one frame on the read-only automation status channel.
type StatusMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Stage     string         `json:"stage,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewStatusPong builds the echo reply for an inbound ping.
func NewStatusPong(sessionID string) StatusMessage {
	return StatusMessage{Type: StatusTypePong, SessionID: sessionID}
}

// AutomationStatusPath returns the websocket path for a session's
// automation status stream.
func AutomationStatusPath(sessionID string) string {
	return "/ws/meeting-automation/" + sessionID
}

// ControlChannelPath returns the websocket path for a session's control
// channel (registration, text, received audio, structured events).
func ControlChannelPath(sessionID string) string {
	return "/ws/conversations/" + sessionID + "/control"
}

// DataChannelPath returns the websocket path for a session's data channel
// (outbound audio and text only).
func DataChannelPath(sessionID string) string {
	return "/ws/conversations/" + sessionID + "/data"
}
