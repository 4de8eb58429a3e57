package caresync

import (
	"context"
	"errors"
	"time"

	syncErrors "github.com/telecare/caresync/errors"
)

var (
	errBuilderNoStore   = errors.New("document store is required")
	errBuilderNoActions = errors.New("action store is required")
)

// ServiceBuilder provides a fluent interface for composing a SyncService at
// the application's composition root. No hidden global state: the built
// service instance is passed to consumer views explicitly.
type ServiceBuilder struct {
	store       DocumentStore
	actionStore ActionStore
	monitor     *NetworkMonitor
	queueConfig QueueConfig
	options     ServiceOptions
	startQueue  bool
}

// NewServiceBuilder creates a new builder with default options.
func NewServiceBuilder() *ServiceBuilder {
	return &ServiceBuilder{
		queueConfig: QueueConfig{
			MaxRetries:    DefaultMaxRetries,
			FlushInterval: DefaultFlushInterval,
		},
		startQueue: true,
	}
}

// WithStore sets the backing document store.
func (b *ServiceBuilder) WithStore(store DocumentStore) *ServiceBuilder {
	b.store = store
	return b
}

// WithActionStore sets the durable persistence for the offline queue.
func (b *ServiceBuilder) WithActionStore(store ActionStore) *ServiceBuilder {
	b.actionStore = store
	return b
}

// WithMonitor sets the network monitor; defaults to one that starts online.
func (b *ServiceBuilder) WithMonitor(monitor *NetworkMonitor) *ServiceBuilder {
	b.monitor = monitor
	return b
}

// WithMaxRetries sets the per-action retry budget.
func (b *ServiceBuilder) WithMaxRetries(n int) *ServiceBuilder {
	b.queueConfig.MaxRetries = n
	return b
}

// WithFlushInterval sets the periodic flush cadence.
func (b *ServiceBuilder) WithFlushInterval(d time.Duration) *ServiceBuilder {
	b.queueConfig.FlushInterval = d
	return b
}

// WithMetricsCollector sets the observability hooks for service and queue.
func (b *ServiceBuilder) WithMetricsCollector(mc MetricsCollector) *ServiceBuilder {
	b.options.MetricsCollector = mc
	b.queueConfig.MetricsCollector = mc
	return b
}

// WithRetryAttempts sets the subscription setup retry budget.
func (b *ServiceBuilder) WithRetryAttempts(n int) *ServiceBuilder {
	b.options.RetryAttempts = n
	return b
}

// WithRetryBackoff sets the subscription retry backoff strategy.
func (b *ServiceBuilder) WithRetryBackoff(strategy BackoffStrategy) *ServiceBuilder {
	b.options.RetryBackoff = strategy
	return b
}

// WithoutPeriodicFlush disables the 30s flush loop; flushes then run only on
// reconnect, visibility, and post-enqueue triggers. Intended for tests.
func (b *ServiceBuilder) WithoutPeriodicFlush() *ServiceBuilder {
	b.startQueue = false
	return b
}

// Build wires the queue and service. The periodic flush loop is started
// unless disabled; it stops when ctx is cancelled or the service closes.
func (b *ServiceBuilder) Build(ctx context.Context) (*SyncService, error) {
	if b.store == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpSubscribe, errBuilderNoStore)
	}
	if b.actionStore == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpSubscribe, errBuilderNoActions)
	}

	monitor := b.monitor
	if monitor == nil {
		monitor = NewNetworkMonitor()
	}

	queue, err := NewOfflineQueue(ctx, b.store, b.actionStore, monitor, &b.queueConfig)
	if err != nil {
		return nil, err
	}
	if b.startQueue {
		queue.Start(ctx)
	}

	return NewSyncService(b.store, queue, monitor, &b.options)
}
