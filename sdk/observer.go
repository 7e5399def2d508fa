package callkit

import "sync"

type observerEntry[T any] struct {
	id int
	fn func(T)
}

// observerRegistry fans values out to subscribed callbacks in registration
// order. Unsubscribe is a closure over a stable token, so removing one
// observer never disturbs the relative order of the survivors, and dispatch
// runs over a snapshot so a callback may unsubscribe (itself included)
// mid-notification.
type observerRegistry[T any] struct {
	mu      sync.Mutex
	nextID  int
	entries []observerEntry[T]
}

func newObserverRegistry[T any]() *observerRegistry[T] {
	return &observerRegistry[T]{}
}

// subscribe registers fn and returns its unsubscribe function. Unsubscribing
// twice is harmless.
func (r *observerRegistry[T]) subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.entries = append(r.entries, observerEntry[T]{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, e := range r.entries {
			if e.id == id {
				r.entries = append(r.entries[:i], r.entries[i+1:]...)
				return
			}
		}
	}
}

// notify invokes every observer registered at the time of the call, in
// registration order. Callbacks run outside the lock.
func (r *observerRegistry[T]) notify(v T) {
	r.mu.Lock()
	snapshot := make([]func(T), 0, len(r.entries))
	for _, e := range r.entries {
		snapshot = append(snapshot, e.fn)
	}
	r.mu.Unlock()

	for _, fn := range snapshot {
		fn(v)
	}
}

func (r *observerRegistry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
