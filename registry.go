package caresync

import (
	"sync"

	"github.com/google/uuid"
)

// listenerRegistry tracks active live-query subscriptions keyed by a
// generated listener id. The registry exclusively owns each teardown
// callback: no two handles share one, and a teardown runs at most once.
type listenerRegistry struct {
	mu        sync.Mutex
	teardowns map[string]func()
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{
		teardowns: make(map[string]func()),
	}
}

// register stores a teardown callback and returns its opaque handle.
func (r *listenerRegistry) register(teardown func()) string {
	id := uuid.NewString()

	r.mu.Lock()
	r.teardowns[id] = teardown
	r.mu.Unlock()

	return id
}

// unregister invokes and removes the teardown for id. Unknown ids and
// repeated calls are no-ops; safe to call from a component teardown path
// racing subscribe against immediate unmount.
func (r *listenerRegistry) unregister(id string) {
	r.mu.Lock()
	teardown, ok := r.teardowns[id]
	if ok {
		delete(r.teardowns, id)
	}
	r.mu.Unlock()

	if ok && teardown != nil {
		teardown()
	}
}

// count returns the number of active listeners.
func (r *listenerRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.teardowns)
}

// closeAll tears down every active listener.
func (r *listenerRegistry) closeAll() {
	r.mu.Lock()
	teardowns := make([]func(), 0, len(r.teardowns))
	for id, td := range r.teardowns {
		teardowns = append(teardowns, td)
		delete(r.teardowns, id)
	}
	r.mu.Unlock()

	for _, teardown := range teardowns {
		if teardown != nil {
			teardown()
		}
	}
}
