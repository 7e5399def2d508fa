package callkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meetscribe/callkit/pkg/protocol"
)

// testBackend hosts the REST conversation endpoints and the control/data
// websocket paths the SDK dials, recording everything the client sends.
type testBackend struct {
	t      *testing.T
	server *httptest.Server

	registrations chan protocol.BotRegistration
	pings         chan struct{}
	dataText      chan []byte
	dataBinary    chan []byte
	joinCalls     chan string
	endCalls      chan string
	deleteCalls   chan string

	failStart     atomic.Bool
	failJoin      atomic.Bool
	refuseControl atomic.Bool
	refuseData    atomic.Bool

	mu           sync.Mutex
	controlConns []*websocket.Conn
	dataConns    []*websocket.Conn
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()

	b := &testBackend{
		t:             t,
		registrations: make(chan protocol.BotRegistration, 16),
		pings:         make(chan struct{}, 64),
		dataText:      make(chan []byte, 64),
		dataBinary:    make(chan []byte, 64),
		joinCalls:     make(chan string, 16),
		endCalls:      make(chan string, 16),
		deleteCalls:   make(chan string, 16),
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/conversations/start", func(w http.ResponseWriter, r *http.Request) {
		if b.failStart.Load() {
			writeTestError(w, http.StatusInternalServerError, "api_error", "allocation unavailable")
			return
		}
		writeTestJSON(w, map[string]any{
			"conversation_id": "conv_123",
			"meeting_id":      "meet_1",
			"meeting_url":     "https://meet.example/m/1",
		})
	})
	mux.HandleFunc("/conversations/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/conversations/")
		switch {
		case strings.HasSuffix(rest, "/join"):
			if b.failJoin.Load() {
				writeTestError(w, http.StatusNotFound, "not_found_error", "no such conversation")
				return
			}
			id := strings.TrimSuffix(rest, "/join")
			b.joinCalls <- id
			writeTestJSON(w, map[string]any{"conversation_id": id})
		case strings.HasSuffix(rest, "/end"):
			b.endCalls <- strings.TrimSuffix(rest, "/end")
			writeTestJSON(w, map[string]any{})
		case r.Method == http.MethodDelete:
			b.deleteCalls <- rest
			writeTestJSON(w, map[string]any{})
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/ws/conversations/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/ws/conversations/")
		switch {
		case strings.HasSuffix(rest, "/control"):
			if b.refuseControl.Load() {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			b.mu.Lock()
			b.controlConns = append(b.controlConns, conn)
			b.mu.Unlock()
			b.serveControl(conn)
		case strings.HasSuffix(rest, "/data"):
			if b.refuseData.Load() {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			b.mu.Lock()
			b.dataConns = append(b.dataConns, conn)
			b.mu.Unlock()
			b.serveData(conn)
		default:
			http.NotFound(w, r)
		}
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

// serveControl expects the registration frame first, then drains whatever
// else the client sends (keepalive tokens included).
func (b *testBackend) serveControl(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if strings.TrimSpace(string(data)) == protocol.KeepaliveToken {
			select {
			case b.pings <- struct{}{}:
			default:
			}
			continue
		}
		var reg protocol.BotRegistration
		if err := json.Unmarshal(data, &reg); err == nil && reg.Type == "bot_registration" {
			b.registrations <- reg
		}
	}
}

func (b *testBackend) serveData(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.TextMessage:
			if strings.TrimSpace(string(data)) == protocol.KeepaliveToken {
				continue
			}
			b.dataText <- data
		case websocket.BinaryMessage:
			b.dataBinary <- data
		}
	}
}

func (b *testBackend) newClient(opts ...ClientOption) *Client {
	all := append([]ClientOption{WithBaseURL(b.server.URL)}, opts...)
	return NewClient(all...)
}

func (b *testBackend) latestControl() *websocket.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.controlConns) == 0 {
		return nil
	}
	return b.controlConns[len(b.controlConns)-1]
}

func (b *testBackend) controlOpens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.controlConns)
}

func (b *testBackend) dataOpens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dataConns)
}

func (b *testBackend) pushControlJSON(v any) {
	b.t.Helper()
	conn := b.latestControl()
	if conn == nil {
		b.t.Fatalf("no control connection")
	}
	if err := conn.WriteJSON(v); err != nil {
		b.t.Fatalf("push control frame: %v", err)
	}
}

func (b *testBackend) pushControlText(text string) {
	b.t.Helper()
	conn := b.latestControl()
	if conn == nil {
		b.t.Fatalf("no control connection")
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		b.t.Fatalf("push control text: %v", err)
	}
}

func (b *testBackend) pushControlBinary(data []byte) {
	b.t.Helper()
	conn := b.latestControl()
	if conn == nil {
		b.t.Fatalf("no control connection")
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		b.t.Fatalf("push control binary: %v", err)
	}
}

// dropControl kills the latest control connection without a close frame, so
// the client observes an abnormal loss.
func (b *testBackend) dropControl() {
	if conn := b.latestControl(); conn != nil {
		_ = conn.Close()
	}
}

// closeControlNormal performs a clean close handshake.
func (b *testBackend) closeControlNormal() {
	if conn := b.latestControl(); conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeTestError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"type": errType, "message": message},
	})
}

// statusRecorder captures connection state transitions in order.
type statusRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func recordStatuses(calls *CallsService) (*statusRecorder, func()) {
	rec := &statusRecorder{}
	unsub := calls.OnStatusChange(func(state ConnectionState) {
		rec.mu.Lock()
		rec.states = append(rec.states, state)
		rec.mu.Unlock()
	})
	return rec, unsub
}

func (r *statusRecorder) snapshot() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionState, len(r.states))
	copy(out, r.states)
	return out
}

func (r *statusRecorder) count(state ConnectionState) int {
	n := 0
	for _, s := range r.snapshot() {
		if s == state {
			n++
		}
	}
	return n
}

func collectEvents(calls *CallsService) (<-chan CallEvent, func()) {
	ch := make(chan CallEvent, 64)
	unsub := calls.OnMessage(func(ev CallEvent) { ch <- ev })
	return ch, unsub
}

func waitForState(t *testing.T, calls *CallsService, want CallState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if calls.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state=%s, want %s", calls.State(), want)
}

func nextEvent(t *testing.T, events <-chan CallEvent) CallEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for call event")
		return CallEvent{}
	}
}

func nextRegistration(t *testing.T, b *testBackend) protocol.BotRegistration {
	t.Helper()
	select {
	case reg := <-b.registrations:
		return reg
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for bot registration")
		return protocol.BotRegistration{}
	}
}
