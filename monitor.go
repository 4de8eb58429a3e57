package caresync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/telecare/caresync/logging"
)

// NetworkMonitor is the single authoritative source for online/offline state
// and document visibility. Platform adapters feed it transitions via
// SetOnline and SetVisible; registered reconnect callbacks fire when a
// transition means queued work should be attempted.
type NetworkMonitor struct {
	mu         sync.Mutex
	online     bool
	visible    bool
	lastChange time.Time

	nextToken int
	callbacks map[int]func()

	logger *logging.Logger
}

// NewNetworkMonitor returns a monitor that starts online and visible.
func NewNetworkMonitor() *NetworkMonitor {
	return &NetworkMonitor{
		online:    true,
		visible:   true,
		callbacks: make(map[int]func()),
		logger:    logging.Default().WithComponent(logging.Component("monitor")),
	}
}

// Online reports the current connectivity state. Side-effect free.
func (m *NetworkMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Visible reports the current document visibility. Side-effect free.
func (m *NetworkMonitor) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// LastChange returns the timestamp of the most recent state transition.
func (m *NetworkMonitor) LastChange() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChange
}

// OnReconnect registers a callback invoked on every transition that should
// trigger a queue flush attempt. The returned function unregisters it.
func (m *NetworkMonitor) OnReconnect(cb func()) func() {
	m.mu.Lock()
	token := m.nextToken
	m.nextToken++
	m.callbacks[token] = cb
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.callbacks, token)
		m.mu.Unlock()
	}
}

// SetOnline records a connectivity transition. Going from offline to online
// fires the reconnect callbacks. Repeated calls with the same state are
// no-ops.
func (m *NetworkMonitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.lastChange = time.Now()
	fire := online
	callbacks := m.snapshotCallbacksLocked()
	m.mu.Unlock()

	m.logger.Info("connectivity changed", slog.Bool("online", online))

	if fire {
		runAll(callbacks)
	}
}

// SetVisible records a visibility transition. Becoming visible while online
// fires the reconnect callbacks: connectivity may have changed while the
// document was backgrounded and the native event missed.
func (m *NetworkMonitor) SetVisible(visible bool) {
	m.mu.Lock()
	if m.visible == visible {
		m.mu.Unlock()
		return
	}
	m.visible = visible
	m.lastChange = time.Now()
	fire := visible && m.online
	callbacks := m.snapshotCallbacksLocked()
	m.mu.Unlock()

	if fire {
		runAll(callbacks)
	}
}

func (m *NetworkMonitor) snapshotCallbacksLocked() []func() {
	callbacks := make([]func(), 0, len(m.callbacks))
	for _, cb := range m.callbacks {
		callbacks = append(callbacks, cb)
	}
	return callbacks
}

func runAll(callbacks []func()) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("reconnect callback panicked", slog.Any("panic", r))
				}
			}()
			cb()
		}()
	}
}
