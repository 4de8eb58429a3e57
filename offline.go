package caresync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/telecare/caresync/errors"
	"github.com/telecare/caresync/logging"
)

// ActionType is the kind of write an offline action carries.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Validation errors surfaced as non-retryable SyncErrors.
var (
	errQueueNoWriter     = errors.New("document writer is required")
	errQueueNoStore      = errors.New("action store is required")
	errQueueBadType      = errors.New("action type must be create, update, or delete")
	errQueueNoCollection = errors.New("collection is required")
	errQueueNoDocumentID = errors.New("document id is required for update and delete")
)

// DefaultMaxRetries bounds how many flush passes attempt an action before it
// is discarded.
const DefaultMaxRetries = 3

// DefaultFlushInterval is the periodic flush cadence while online with a
// non-empty pending set.
const DefaultFlushInterval = 30 * time.Second

// Action is a pending write queued while the network was unavailable or a
// direct write failed. Its lifecycle is pending -> synced (removed) or
// pending -> discarded (removed, failure logged); no action re-enters
// pending after a terminal state.
type Action struct {
	ID         string     `json:"id"`
	Type       ActionType `json:"type"`
	Collection string     `json:"collection"`
	DocumentID string     `json:"document_id,omitempty"` // optional for create
	Data       Document   `json:"data,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
}

// writeRequest converts the action back into its point write.
func (a Action) writeRequest() WriteRequest {
	return WriteRequest{
		Kind:       WriteKind(a.Type),
		Collection: a.Collection,
		DocumentID: a.DocumentID,
		Data:       a.Data,
	}
}

// FlushResult reports a completed flush pass.
type FlushResult struct {
	// Skipped is true when the pass was a no-op because another pass was
	// already in flight.
	Skipped bool

	// Attempted is the number of actions tried this pass
	Attempted int

	// Synced is the number of actions written successfully and removed
	Synced int

	// Retained is the number of actions kept for a later pass
	Retained int

	// Discarded is the number of actions dropped after exhausting retries
	Discarded int

	// Errors contains the per-action failures encountered this pass
	Errors []error

	// StartTime is when the pass began
	StartTime time.Time

	// Duration is how long the pass took
	Duration time.Duration
}

// QueueConfig configures the offline action queue.
type QueueConfig struct {
	// MaxRetries per action before discard. Defaults to DefaultMaxRetries.
	MaxRetries int

	// FlushInterval for the periodic flush loop. Defaults to
	// DefaultFlushInterval.
	FlushInterval time.Duration

	// MetricsCollector for observability hooks (optional)
	MetricsCollector MetricsCollector
}

func (c *QueueConfig) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MetricsCollector == nil {
		c.MetricsCollector = &NoOpMetricsCollector{}
	}
}

// OfflineQueue guarantees at-least-once delivery of writes issued while
// disconnected, without blocking the caller beyond a single synchronous
// flush attempt when online.
type OfflineQueue struct {
	writer  DocumentWriter
	store   ActionStore
	monitor *NetworkMonitor
	config  QueueConfig
	logger  *logging.Logger

	mu             sync.Mutex
	pending        []Action
	syncInProgress bool
	lastSyncTime   time.Time
	subscribers    []func(*FlushResult)
	discardHooks   []func(Action, error)

	stopOnce sync.Once
	stopCh   chan struct{}
	started  bool

	unregisterReconnect func()
}

// NewOfflineQueue builds a queue over writer with durable persistence in
// store. Previously persisted actions are loaded once at startup; the queue
// registers itself with monitor so reconnect and visibility transitions
// trigger flush passes.
func NewOfflineQueue(ctx context.Context, writer DocumentWriter, store ActionStore, monitor *NetworkMonitor, config *QueueConfig) (*OfflineQueue, error) {
	if writer == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpQueue, errQueueNoWriter)
	}
	if store == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpQueue, errQueueNoStore)
	}
	if monitor == nil {
		monitor = NewNetworkMonitor()
	}
	cfg := QueueConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.setDefaults()

	q := &OfflineQueue{
		writer:  writer,
		store:   store,
		monitor: monitor,
		config:  cfg,
		logger:  logging.Default().WithComponent(logging.Component("queue")),
		stopCh:  make(chan struct{}),
	}

	persisted, err := store.LoadActions(ctx)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpQueue, err)
	}
	q.pending = persisted

	q.unregisterReconnect = monitor.OnReconnect(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		q.SyncPendingActions(ctx)
	})

	q.logger.Info("offline queue initialized",
		slog.Int("restored_actions", len(persisted)),
		slog.Int("max_retries", cfg.MaxRetries),
	)

	return q, nil
}

// QueueAction appends a new pending action, persists it, and, if currently
// online, immediately attempts a flush pass without waiting for the periodic
// timer.
func (q *OfflineQueue) QueueAction(ctx context.Context, actionType ActionType, collection, documentID string, data Document) (Action, error) {
	switch actionType {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return Action{}, syncErrors.NewValidationError(syncErrors.OpQueue, errQueueBadType)
	}
	if collection == "" {
		return Action{}, syncErrors.NewValidationError(syncErrors.OpQueue, errQueueNoCollection)
	}
	if actionType != ActionCreate && documentID == "" {
		return Action{}, syncErrors.NewValidationError(syncErrors.OpQueue, errQueueNoDocumentID)
	}

	action := Action{
		ID:         uuid.NewString(),
		Type:       actionType,
		Collection: collection,
		DocumentID: documentID,
		Data:       data,
		Timestamp:  time.Now(),
		RetryCount: 0,
		MaxRetries: q.config.MaxRetries,
	}

	q.mu.Lock()
	q.pending = append(q.pending, action)
	depth := len(q.pending)
	q.mu.Unlock()

	if err := q.store.SaveAction(ctx, action); err != nil {
		q.logger.LogError(ctx, syncErrors.NewStorageError(syncErrors.OpPersist, err), "failed to persist queued action",
			slog.String("action_id", action.ID),
		)
	}

	q.config.MetricsCollector.RecordQueueDepth(depth)
	q.logger.Info("action queued",
		slog.String("action_id", action.ID),
		slog.String("type", string(actionType)),
		slog.String("collection", collection),
		slog.Int("pending", depth),
	)

	if q.monitor.Online() {
		q.SyncPendingActions(ctx)
	}

	return action, nil
}

// SyncPendingActions runs one flush pass over the pending set in FIFO order,
// attempting each action's write exactly once. At most one pass runs at a
// time; a call while one is in flight returns a skipped result. Actions
// enqueued during a pass are attempted in a later pass.
func (q *OfflineQueue) SyncPendingActions(ctx context.Context) *FlushResult {
	q.mu.Lock()
	if q.syncInProgress {
		q.mu.Unlock()
		return &FlushResult{Skipped: true}
	}
	q.syncInProgress = true
	snapshot := make([]Action, len(q.pending))
	copy(snapshot, q.pending)
	q.mu.Unlock()

	result := &FlushResult{
		StartTime: time.Now(),
		Attempted: len(snapshot),
	}

	synced := make(map[string]bool, len(snapshot))
	discarded := make(map[string]bool)
	bumped := make(map[string]int)

	for _, action := range snapshot {
		err := q.writer.Write(ctx, action.writeRequest())
		if err == nil {
			synced[action.ID] = true
			result.Synced++
			continue
		}

		result.Errors = append(result.Errors, syncErrors.NewWithComponent(syncErrors.OpFlush, "queue", err))

		action.RetryCount++
		if action.RetryCount >= action.MaxRetries {
			discarded[action.ID] = true
			result.Discarded++
			q.reportDiscard(ctx, action, err)
		} else {
			bumped[action.ID] = action.RetryCount
			result.Retained++
		}
	}

	q.mu.Lock()
	retained := q.pending[:0]
	for _, action := range q.pending {
		if synced[action.ID] || discarded[action.ID] {
			continue
		}
		if count, ok := bumped[action.ID]; ok {
			action.RetryCount = count
		}
		retained = append(retained, action)
	}
	q.pending = retained
	q.lastSyncTime = time.Now()
	depth := len(q.pending)
	q.syncInProgress = false
	q.mu.Unlock()

	// Write-through: the persisted list tracks every state change.
	for id := range synced {
		if err := q.store.DeleteAction(ctx, id); err != nil {
			q.logger.LogError(ctx, syncErrors.NewStorageError(syncErrors.OpPersist, err), "failed to remove synced action", slog.String("action_id", id))
		}
	}
	for id := range discarded {
		if err := q.store.DeleteAction(ctx, id); err != nil {
			q.logger.LogError(ctx, syncErrors.NewStorageError(syncErrors.OpPersist, err), "failed to remove discarded action", slog.String("action_id", id))
		}
	}
	for _, action := range retained {
		if _, ok := bumped[action.ID]; ok {
			if err := q.store.SaveAction(ctx, action); err != nil {
				q.logger.LogError(ctx, syncErrors.NewStorageError(syncErrors.OpPersist, err), "failed to persist retry count", slog.String("action_id", action.ID))
			}
		}
	}

	result.Duration = time.Since(result.StartTime)

	q.config.MetricsCollector.RecordFlushDuration(result.Duration)
	q.config.MetricsCollector.RecordFlushOutcome(result.Synced, result.Retained, result.Discarded)
	q.config.MetricsCollector.RecordQueueDepth(depth)

	if result.Attempted > 0 {
		q.logger.Info("flush pass complete",
			slog.Int("attempted", result.Attempted),
			slog.Int("synced", result.Synced),
			slog.Int("retained", result.Retained),
			slog.Int("discarded", result.Discarded),
			slog.Duration("duration", result.Duration),
		)
	}

	q.notifySubscribers(result)
	return result
}

// reportDiscard logs the permanent failure and fires the discard hooks. This
// is a deliberate data-loss boundary; it must reach the user, not vanish.
func (q *OfflineQueue) reportDiscard(ctx context.Context, action Action, cause error) {
	err := syncErrors.NewDiscardError(syncErrors.OpFlush, cause)
	q.logger.LogError(ctx, err, "action discarded after exhausting retries",
		slog.String("action_id", action.ID),
		slog.String("type", string(action.Type)),
		slog.String("collection", action.Collection),
		slog.String("document_id", action.DocumentID),
		slog.Int("retry_count", action.RetryCount),
	)
	q.config.MetricsCollector.RecordErrors("flush", "action_discarded")

	q.mu.Lock()
	hooks := make([]func(Action, error), len(q.discardHooks))
	copy(hooks, q.discardHooks)
	q.mu.Unlock()

	for _, hook := range hooks {
		hook(action, err)
	}
}

// Start launches the periodic flush loop: every FlushInterval, while online
// and with a non-empty pending set, one pass runs. Stop or ctx cancellation
// ends the loop.
func (q *OfflineQueue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go func() {
		ticker := time.NewTicker(q.config.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-ticker.C:
				if q.monitor.Online() && q.Pending() > 0 {
					flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					q.SyncPendingActions(flushCtx)
					cancel()
				}
			}
		}
	}()
}

// Stop ends the periodic flush loop and detaches from the monitor.
func (q *OfflineQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		if q.unregisterReconnect != nil {
			q.unregisterReconnect()
		}
	})
}

// ClearOfflineData empties the pending set and resets the last sync time.
// Explicit operator recovery only; never called automatically.
func (q *OfflineQueue) ClearOfflineData(ctx context.Context) error {
	q.mu.Lock()
	q.pending = nil
	q.lastSyncTime = time.Time{}
	q.mu.Unlock()

	if err := q.store.Clear(ctx); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpPersist, err)
	}

	q.config.MetricsCollector.RecordQueueDepth(0)
	q.logger.Warn("offline data cleared")
	return nil
}

// Pending returns the number of queued actions.
func (q *OfflineQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// PendingActions returns a snapshot of the queued actions in FIFO order.
func (q *OfflineQueue) PendingActions() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Action, len(q.pending))
	copy(out, q.pending)
	return out
}

// LastSyncTime returns when the last flush pass finished.
func (q *OfflineQueue) LastSyncTime() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSyncTime
}

// Subscribe registers a handler invoked after every flush pass.
func (q *OfflineQueue) Subscribe(handler func(*FlushResult)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subscribers = append(q.subscribers, handler)
}

// OnDiscard registers a hook invoked when an action is dropped after
// exhausting its retries, so the UI layer can surface the data loss.
func (q *OfflineQueue) OnDiscard(hook func(Action, error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.discardHooks = append(q.discardHooks, hook)
}

func (q *OfflineQueue) notifySubscribers(result *FlushResult) {
	q.mu.Lock()
	subscribers := make([]func(*FlushResult), len(q.subscribers))
	copy(subscribers, q.subscribers)
	q.mu.Unlock()

	for _, handler := range subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.logger.Error("flush subscriber panicked", slog.Any("panic", r))
				}
			}()
			handler(result)
		}()
	}
}
