package caresync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	syncErrors "github.com/telecare/caresync/errors"
	"github.com/telecare/caresync/logging"
)

var (
	errServiceClosed = errors.New("sync service is closed")
	errNilHandler    = errors.New("update handler is required")
)

// entire-collection subscriptions are allowed only for admin-scale entities
// scoped to a single tenant's own data, never cross-tenant collections.
var emptyFilterAllowed = map[EntityKind]bool{
	KindPharmacyStock: true,
	KindCHWLogs:       true,
}

// ServiceOptions configures a SyncService.
type ServiceOptions struct {
	// RetryAttempts bounds how many times a failed subscription setup is
	// retried before giving up and leaving the caller to show a
	// disconnected state. Default 3.
	RetryAttempts int

	// RetryBackoff spaces out subscription retries. Defaults to exponential
	// backoff 1s..30s x2.
	RetryBackoff BackoffStrategy

	// Wait suspends between retries; injectable for deterministic tests.
	Wait WaitFunc

	// MetricsCollector for observability hooks (optional)
	MetricsCollector MetricsCollector
}

func (o *ServiceOptions) setDefaults() {
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBackoff == nil {
		o.RetryBackoff = defaultBackoff()
	}
	if o.Wait == nil {
		o.Wait = timerWait
	}
	if o.MetricsCollector == nil {
		o.MetricsCollector = &NoOpMetricsCollector{}
	}
}

// SyncService is the single point of truth for opening and closing live
// queries and funneling update envelopes to subscribers. Writes issued
// through it fall back to the offline queue when the network is unavailable
// or a direct write fails.
type SyncService struct {
	store    DocumentStore
	queue    *OfflineQueue
	monitor  *NetworkMonitor
	checker  *ConsistencyChecker
	registry *listenerRegistry
	options  ServiceOptions
	logger   *logging.Logger

	mu     sync.RWMutex
	closed bool
}

// NewSyncService wires the sync coordinator. Store and queue are required;
// a nil monitor gets a default that starts online.
func NewSyncService(store DocumentStore, queue *OfflineQueue, monitor *NetworkMonitor, opts *ServiceOptions) (*SyncService, error) {
	if store == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpSubscribe, errors.New("document store is required"))
	}
	if queue == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpSubscribe, errors.New("offline queue is required"))
	}
	if monitor == nil {
		monitor = NewNetworkMonitor()
	}

	options := ServiceOptions{}
	if opts != nil {
		options = *opts
	}
	options.setDefaults()

	s := &SyncService{
		store:    store,
		queue:    queue,
		monitor:  monitor,
		registry: newListenerRegistry(),
		options:  options,
		logger:   logging.Default().WithComponent(logging.Component("service")),
	}
	s.checker = NewConsistencyChecker(s.Write, options.MetricsCollector)

	return s, nil
}

// validateFilters rejects wildcard or nil filter values at subscribe time so
// a malformed query fails fast instead of silently matching nothing.
func validateFilters(kind EntityKind, filters Filters) error {
	if len(filters) == 0 {
		if emptyFilterAllowed[kind] {
			return nil
		}
		return syncErrors.NewValidationError(syncErrors.OpSubscribe,
			fmt.Errorf("entity kind %q requires at least one filter", kind))
	}

	for key, value := range filters {
		if key == "" {
			return syncErrors.NewValidationError(syncErrors.OpSubscribe, errors.New("filter key must not be empty"))
		}
		switch v := value.(type) {
		case nil:
			return syncErrors.NewValidationError(syncErrors.OpSubscribe,
				fmt.Errorf("filter %q has nil value; filters must be concrete", key))
		case string:
			if v == "" || strings.Contains(v, "*") {
				return syncErrors.NewValidationError(syncErrors.OpSubscribe,
					fmt.Errorf("filter %q must be a concrete value, got %q", key, v))
			}
		case []string:
			if len(v) == 0 {
				return syncErrors.NewValidationError(syncErrors.OpSubscribe,
					fmt.Errorf("filter %q has an empty set", key))
			}
			for _, member := range v {
				if member == "" || strings.Contains(member, "*") {
					return syncErrors.NewValidationError(syncErrors.OpSubscribe,
						fmt.Errorf("filter %q contains a non-concrete member %q", key, member))
				}
			}
		}
	}
	return nil
}

// Subscribe opens a live query for kind scoped by filters and returns the
// listener id. onUpdate receives a batch of envelopes per delivered
// snapshot; the first batch is always the full initial matching set as
// added envelopes. On an underlying connection error the subscription stays
// registered and the error is surfaced to onError — the backing store
// resumes the listener on reconnect.
func (s *SyncService) Subscribe(ctx context.Context, kind EntityKind, filters Filters, onUpdate UpdateHandler, onError ErrorHandler) (string, error) {
	if onUpdate == nil {
		return "", syncErrors.NewValidationError(syncErrors.OpSubscribe, errNilHandler)
	}
	if err := validateFilters(kind, filters); err != nil {
		return "", err
	}
	if err := s.checkOpen(syncErrors.OpSubscribe); err != nil {
		return "", err
	}

	wrapped := func(batch []UpdateEnvelope) {
		for _, env := range batch {
			s.checker.Observe(string(kind), env)
		}
		onUpdate(batch)
	}

	var teardown func()
	err := retryWithBackoff(ctx, s.options.RetryAttempts, s.options.RetryBackoff, s.options.Wait, func() error {
		td, err := s.store.Subscribe(ctx, string(kind), filters, wrapped, s.wrapErrorHandler(kind, onError))
		if err != nil {
			return err
		}
		teardown = td
		return nil
	})
	if err != nil {
		s.options.MetricsCollector.RecordErrors("subscribe", "setup_failed")
		return "", syncErrors.NewNetworkError(syncErrors.OpSubscribe, err)
	}

	id := s.registry.register(teardown)
	s.options.MetricsCollector.RecordListenerCount(s.registry.count())
	s.logger.Debug("listener opened",
		slog.String("listener_id", id),
		slog.String("kind", string(kind)),
		slog.Int("filters", len(filters)),
	)
	return id, nil
}

// SubscribeToDocument opens a live query over exactly one document. A "not
// found" result is delivered as an envelope with nil Data.
func (s *SyncService) SubscribeToDocument(ctx context.Context, kind EntityKind, id string, onUpdate DocumentHandler, onError ErrorHandler) (string, error) {
	if onUpdate == nil {
		return "", syncErrors.NewValidationError(syncErrors.OpSubscribe, errNilHandler)
	}
	if id == "" {
		return "", syncErrors.NewValidationError(syncErrors.OpSubscribe, errors.New("document id is required"))
	}
	if err := s.checkOpen(syncErrors.OpSubscribe); err != nil {
		return "", err
	}

	wrapped := func(env UpdateEnvelope) {
		s.checker.Observe(string(kind), env)
		onUpdate(env)
	}

	var teardown func()
	err := retryWithBackoff(ctx, s.options.RetryAttempts, s.options.RetryBackoff, s.options.Wait, func() error {
		td, err := s.store.SubscribeDocument(ctx, string(kind), id, wrapped, s.wrapErrorHandler(kind, onError))
		if err != nil {
			return err
		}
		teardown = td
		return nil
	})
	if err != nil {
		s.options.MetricsCollector.RecordErrors("subscribe", "setup_failed")
		return "", syncErrors.NewNetworkError(syncErrors.OpSubscribe, err)
	}

	listenerID := s.registry.register(teardown)
	s.options.MetricsCollector.RecordListenerCount(s.registry.count())
	return listenerID, nil
}

// Unsubscribe tears down the listener for id. Idempotent: a second call or
// an unknown id is a no-op, not an error.
func (s *SyncService) Unsubscribe(id string) {
	s.registry.unregister(id)
	s.options.MetricsCollector.RecordListenerCount(s.registry.count())
}

// Write is the normal write path for every mutation, including conflict
// resolutions. Online, it writes directly and tracks the optimistic value;
// offline, or when the direct write fails, the write is queued for the next
// flush pass.
func (s *SyncService) Write(ctx context.Context, req WriteRequest) error {
	if err := s.checkOpen(syncErrors.OpWrite); err != nil {
		return err
	}
	if req.Collection == "" {
		return syncErrors.NewValidationError(syncErrors.OpWrite, errors.New("collection is required"))
	}

	if req.Kind != WriteDelete && req.DocumentID != "" {
		s.checker.TrackLocalWrite(req.Collection, req.DocumentID, req.Data)
	}

	if !s.monitor.Online() {
		_, err := s.queue.QueueAction(ctx, ActionType(req.Kind), req.Collection, req.DocumentID, req.Data)
		return err
	}

	if err := s.store.Write(ctx, req); err != nil {
		s.logger.LogError(ctx, syncErrors.NewNetworkError(syncErrors.OpWrite, err), "direct write failed, queueing",
			slog.String("collection", req.Collection),
			slog.String("document_id", req.DocumentID),
		)
		_, qerr := s.queue.QueueAction(ctx, ActionType(req.Kind), req.Collection, req.DocumentID, req.Data)
		return qerr
	}

	return nil
}

// ResolveConflict settles a detected divergence through the consistency
// checker; client_wins and merge route back through Write.
func (s *SyncService) ResolveConflict(ctx context.Context, kind EntityKind, documentID string, resolution Resolution, mergeData Document) error {
	return s.checker.ResolveConflict(ctx, string(kind), documentID, resolution, mergeData)
}

// Consistency exposes the checker for conflict listeners and inspection.
func (s *SyncService) Consistency() *ConsistencyChecker {
	return s.checker
}

// Queue exposes the offline action queue for badges and discard alerts.
func (s *SyncService) Queue() *OfflineQueue {
	return s.queue
}

// Monitor exposes the network monitor for online/offline indicators.
func (s *SyncService) Monitor() *NetworkMonitor {
	return s.monitor
}

// ForceSyncAll triggers a flush of the offline action queue. Reads are
// always live, so there is nothing to force-refresh on the read side.
func (s *SyncService) ForceSyncAll(ctx context.Context) *FlushResult {
	return s.queue.SyncPendingActions(ctx)
}

// Metrics returns a read-only snapshot of the subsystem counters.
func (s *SyncService) Metrics() Metrics {
	return Metrics{
		ActiveListeners: s.registry.count(),
		PendingActions:  s.queue.Pending(),
		LastSyncTime:    s.queue.LastSyncTime(),
	}
}

// Close tears down every listener, stops the queue loops, and closes the
// backing store.
func (s *SyncService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.registry.closeAll()
	s.queue.Stop()

	if err := s.store.Close(); err != nil {
		return syncErrors.NewWithComponent(syncErrors.OpClose, "store", err)
	}
	return nil
}

func (s *SyncService) checkOpen(op syncErrors.Operation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncErrors.E(op, syncErrors.Component("service"), syncErrors.KindClosed, errServiceClosed)
	}
	return nil
}

// wrapErrorHandler scopes read-path errors to the caller's handler; they are
// never thrown into unrelated call sites. The subscription stays registered
// so the backing store's reconnect resumes it.
func (s *SyncService) wrapErrorHandler(kind EntityKind, onError ErrorHandler) ErrorHandler {
	return func(err error) {
		s.options.MetricsCollector.RecordErrors("listener", "connection_error")
		s.logger.LogError(context.Background(), syncErrors.NewNetworkError(syncErrors.OpSubscribe, err), "listener error",
			slog.String("kind", string(kind)),
		)
		if onError != nil {
			onError(err)
		}
	}
}
