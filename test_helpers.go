package caresync

import (
	"context"
	"sync"
	"time"
)

// Helpers shared across the package tests.

// immediateWait is a WaitFunc that never sleeps, so retry paths run
// instantly in tests.
func immediateWait(_ context.Context, _ time.Duration) error { return nil }

// zeroBackoff always returns a zero delay.
type zeroBackoff struct{}

func (zeroBackoff) NextDelay(int) time.Duration { return 0 }
func (zeroBackoff) Reset()                      {}

// recordingCollector captures metrics calls for assertions.
type recordingCollector struct {
	mu sync.Mutex

	flushDurations []time.Duration
	flushOutcomes  [][3]int
	queueDepths    []int
	listenerCounts []int
	conflicts      int
	errorReasons   []string
}

func (c *recordingCollector) RecordFlushDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushDurations = append(c.flushDurations, d)
}

func (c *recordingCollector) RecordFlushOutcome(synced, retained, discarded int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushOutcomes = append(c.flushOutcomes, [3]int{synced, retained, discarded})
}

func (c *recordingCollector) RecordQueueDepth(depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDepths = append(c.queueDepths, depth)
}

func (c *recordingCollector) RecordListenerCount(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listenerCounts = append(c.listenerCounts, count)
}

func (c *recordingCollector) RecordConflicts(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts += count
}

func (c *recordingCollector) RecordErrors(op, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorReasons = append(c.errorReasons, op+"/"+reason)
}

func (c *recordingCollector) conflictCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conflicts
}

// newTestQueue builds a queue over the given store pair with periodic
// flushing left unstarted.
func newTestQueue(t interface {
	Helper()
	Fatalf(format string, args ...interface{})
}, store *TestDocumentStore, actions *MemoryActionStore, monitor *NetworkMonitor) *OfflineQueue {
	t.Helper()
	queue, err := NewOfflineQueue(context.Background(), store, actions, monitor, nil)
	if err != nil {
		t.Fatalf("NewOfflineQueue failed: %v", err)
	}
	return queue
}

// newTestService wires a service over test doubles with instant retries.
func newTestService(t interface {
	Helper()
	Fatalf(format string, args ...interface{})
}, store *TestDocumentStore, actions *MemoryActionStore, monitor *NetworkMonitor) *SyncService {
	t.Helper()
	queue := newTestQueue(t, store, actions, monitor)
	service, err := NewSyncService(store, queue, monitor, &ServiceOptions{
		RetryBackoff: zeroBackoff{},
		Wait:         immediateWait,
	})
	if err != nil {
		t.Fatalf("NewSyncService failed: %v", err)
	}
	return service
}
