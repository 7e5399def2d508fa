package callkit

import "testing"

func TestObserverRegistry_DispatchesInRegistrationOrder(t *testing.T) {
	t.Parallel()

	r := newObserverRegistry[int]()
	var order []string
	r.subscribe(func(int) { order = append(order, "a") })
	r.subscribe(func(int) { order = append(order, "b") })
	r.subscribe(func(int) { order = append(order, "c") })

	r.notify(1)
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order=%v, want [a b c]", order)
	}
}

func TestObserverRegistry_UnsubscribePreservesSurvivorOrder(t *testing.T) {
	t.Parallel()

	r := newObserverRegistry[int]()
	var order []string
	r.subscribe(func(int) { order = append(order, "a") })
	unsubB := r.subscribe(func(int) { order = append(order, "b") })
	r.subscribe(func(int) { order = append(order, "c") })

	unsubB()
	r.notify(1)
	if len(order) != 2 || order[0] != "a" || order[1] != "c" {
		t.Fatalf("order=%v, want [a c]", order)
	}
	if r.len() != 2 {
		t.Fatalf("len=%d, want 2", r.len())
	}

	// Double unsubscribe is harmless.
	unsubB()
	if r.len() != 2 {
		t.Fatalf("len=%d after double unsubscribe, want 2", r.len())
	}
}

func TestObserverRegistry_UnsubscribeSelfDuringDispatch(t *testing.T) {
	t.Parallel()

	r := newObserverRegistry[int]()
	var calls []string
	var unsubA func()
	unsubA = r.subscribe(func(int) {
		calls = append(calls, "a")
		unsubA()
	})
	r.subscribe(func(int) { calls = append(calls, "b") })

	r.notify(1)
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Fatalf("calls=%v, want [a b] on first dispatch", calls)
	}

	r.notify(2)
	if len(calls) != 3 || calls[2] != "b" {
		t.Fatalf("calls=%v, want only b on second dispatch", calls)
	}
}

func TestObserverRegistry_NilHandlerIsNoop(t *testing.T) {
	t.Parallel()

	r := newObserverRegistry[int]()
	unsub := r.subscribe(nil)
	if r.len() != 0 {
		t.Fatalf("len=%d, want 0", r.len())
	}
	unsub()
	r.notify(1)
}
