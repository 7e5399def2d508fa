package callkit

import (
	"context"
	"testing"
	"time"
)

func TestReconnectSupervisor_BackoffLadder(t *testing.T) {
	t.Parallel()

	base := time.Second
	s := newReconnectSupervisor(ReconnectPolicy{BaseDelay: base, MaxDelay: 30 * time.Second, MaxAttempts: 5})

	want := []time.Duration{base, 2 * base, 4 * base, 8 * base, 16 * base}
	for i, expected := range want {
		attempt, delay, ok := s.next()
		if !ok {
			t.Fatalf("attempt %d: supervisor gave up early", i+1)
		}
		if attempt != i+1 {
			t.Fatalf("attempt=%d, want %d", attempt, i+1)
		}
		if delay != expected {
			t.Fatalf("attempt %d delay=%v, want %v", attempt, delay, expected)
		}
	}

	if _, _, ok := s.next(); ok {
		t.Fatalf("expected exhaustion after %d attempts", len(want))
	}
	if !s.exhausted() {
		t.Fatalf("supervisor not marked exhausted")
	}

	s.reset()
	attempt, delay, ok := s.next()
	if !ok || attempt != 1 || delay != base {
		t.Fatalf("after reset: attempt=%d delay=%v ok=%v, want 1 %v true", attempt, delay, ok, base)
	}
}

func TestReconnectSupervisor_MaxDelayCap(t *testing.T) {
	t.Parallel()

	s := newReconnectSupervisor(ReconnectPolicy{BaseDelay: time.Second, MaxDelay: 3 * time.Second, MaxAttempts: 4})

	var last time.Duration
	for i := 0; i < 4; i++ {
		_, delay, ok := s.next()
		if !ok {
			t.Fatalf("attempt %d: gave up early", i+1)
		}
		last = delay
	}
	if last > 3*time.Second {
		t.Fatalf("delay=%v exceeds cap", last)
	}
}

func TestReconnect_RebuildsFullPairOnAbnormalClose(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	client := b.newClient(WithReconnectPolicy(ReconnectPolicy{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, MaxAttempts: 5}))
	rec, _ := recordStatuses(client.Calls)

	if _, err := client.Calls.StartCall(context.Background(), &StartCallRequest{RoomID: "room_1"}); err != nil {
		t.Fatalf("StartCall error: %v", err)
	}
	defer client.Calls.EndCall(context.Background())
	nextRegistration(t, b)

	b.dropControl()

	// The full pair is rebuilt: a second registration proves the control
	// channel was re-established and re-registered before data flows.
	reg := nextRegistration(t, b)
	if reg.SessionID != "conv_123" {
		t.Fatalf("re-registration=%+v", reg)
	}
	waitForState(t, client.Calls, StateActive)

	if n := b.controlOpens(); n != 2 {
		t.Fatalf("control dialed %d times, want 2", n)
	}
	if n := b.dataOpens(); n != 2 {
		t.Fatalf("data dialed %d times, want 2", n)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rec.count(ConnConnected) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	states := rec.snapshot()
	if rec.count(ConnConnected) != 2 {
		t.Fatalf("status transitions=%v, want two connected", states)
	}
	if rec.count(ConnDisconnected) == 0 {
		t.Fatalf("status transitions=%v, want a disconnected between", states)
	}
}

func TestReconnect_ExhaustionFailsSession(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	client := b.newClient(WithReconnectPolicy(ReconnectPolicy{BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, MaxAttempts: 2}))
	rec, _ := recordStatuses(client.Calls)

	if _, err := client.Calls.StartCall(context.Background(), &StartCallRequest{RoomID: "room_1"}); err != nil {
		t.Fatalf("StartCall error: %v", err)
	}

	b.refuseControl.Store(true)
	b.dropControl()

	waitForState(t, client.Calls, StateFailed)

	err := client.Calls.LastError()
	if err == nil || !IsConnection(err) {
		t.Fatalf("last error=%v, want connection_error", err)
	}
	if rec.count(ConnError) != 1 {
		t.Fatalf("status transitions=%v, want one terminal error", rec.snapshot())
	}

	// Exhaustion does not auto-end the call; an explicit end recovers.
	if err := client.Calls.EndCall(context.Background()); err != nil {
		t.Fatalf("EndCall error: %v", err)
	}
	if got := client.Calls.State(); got != StateIdle {
		t.Fatalf("state=%s, want idle", got)
	}
}

func TestEndCall_SuppressesReconnect(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t)
	client := b.newClient(WithReconnectPolicy(ReconnectPolicy{BaseDelay: 5 * time.Millisecond, MaxAttempts: 5}))

	if _, err := client.Calls.StartCall(context.Background(), &StartCallRequest{RoomID: "room_1"}); err != nil {
		t.Fatalf("StartCall error: %v", err)
	}
	if err := client.Calls.EndCall(context.Background()); err != nil {
		t.Fatalf("EndCall error: %v", err)
	}

	// Teardown closes both channels; the resulting close callbacks must
	// not resurrect the session.
	time.Sleep(100 * time.Millisecond)
	if n := b.controlOpens(); n != 1 {
		t.Fatalf("control dialed %d times after EndCall, want 1", n)
	}
	if got := client.Calls.State(); got != StateIdle {
		t.Fatalf("state=%s, want idle", got)
	}
}
