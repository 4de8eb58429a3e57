package caresync

import "testing"

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := newListenerRegistry()

	calls := 0
	id := r.register(func() { calls++ })

	if r.count() != 1 {
		t.Fatalf("count = %d, want 1", r.count())
	}

	r.unregister(id)
	if calls != 1 {
		t.Errorf("teardown called %d times, want 1", calls)
	}
	if r.count() != 0 {
		t.Errorf("count = %d after unregister, want 0", r.count())
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	r := newListenerRegistry()

	calls := 0
	id := r.register(func() { calls++ })

	r.unregister(id)
	r.unregister(id)
	r.unregister("no-such-listener")

	if calls != 1 {
		t.Errorf("teardown called %d times after repeated unregister, want 1", calls)
	}
}

func TestRegistry_DistinctIDs(t *testing.T) {
	r := newListenerRegistry()

	a := r.register(func() {})
	b := r.register(func() {})

	if a == b {
		t.Fatalf("two registrations produced the same id %q", a)
	}
	if r.count() != 2 {
		t.Errorf("count = %d, want 2", r.count())
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newListenerRegistry()

	calls := 0
	for i := 0; i < 3; i++ {
		r.register(func() { calls++ })
	}

	r.closeAll()

	if calls != 3 {
		t.Errorf("closeAll ran %d teardowns, want 3", calls)
	}
	if r.count() != 0 {
		t.Errorf("count = %d after closeAll, want 0", r.count())
	}
}
