// Package caresync provides client-side real-time data synchronization for a
// telehealth portal. It keeps denormalized local collections live against a
// backing document store, queues writes while offline with at-least-once
// delivery, and surfaces local/server divergence for explicit resolution.
package caresync

import (
	"context"
	"time"
)

// UpdateType describes what happened to a document in a snapshot.
type UpdateType string

const (
	UpdateAdded    UpdateType = "added"
	UpdateModified UpdateType = "modified"
	UpdateRemoved  UpdateType = "removed"
)

// Document is the schemaless payload of a single document.
type Document map[string]interface{}

// UpdateEnvelope describes a single change to a document, tagged with its id.
// Data carries the full current payload for added/modified; it is nil for
// removed, and nil with a "not found" meaning on single-document listeners.
type UpdateEnvelope struct {
	Type UpdateType `json:"type"`
	ID   string     `json:"id"`
	Data Document   `json:"data,omitempty"`
}

// EntityKind identifies one of the portal's synchronized collections.
type EntityKind string

const (
	KindAppointments  EntityKind = "appointments"
	KindPrescriptions EntityKind = "prescriptions"
	KindPharmacyStock EntityKind = "pharmacy_stock"
	KindCHWLogs       EntityKind = "chw_logs"
	KindPatients      EntityKind = "patients"
)

// Filters scopes a live query. Values must be concrete: a scalar for equality
// or a []string for set membership. Wildcards are rejected at subscribe time.
type Filters map[string]interface{}

// WriteKind is the type of a point write.
type WriteKind string

const (
	WriteCreate WriteKind = "create"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
)

// WriteRequest describes a single point write against the backing store.
type WriteRequest struct {
	Kind       WriteKind `json:"kind"`
	Collection string    `json:"collection"`
	DocumentID string    `json:"document_id,omitempty"` // optional for create
	Data       Document  `json:"data,omitempty"`
}

// UpdateHandler receives a batch of envelopes each time the backing store
// delivers a snapshot. The first invocation after subscribe always carries
// the full initial matching set as "added" envelopes.
type UpdateHandler func(batch []UpdateEnvelope)

// DocumentHandler receives single-document envelopes. A "not found" result
// is delivered as a modified envelope with nil Data.
type DocumentHandler func(env UpdateEnvelope)

// ErrorHandler receives asynchronous subscription errors. The subscription
// stays registered; the backing store resumes it on reconnect.
type ErrorHandler func(err error)

// DocumentStore is the capability set the sync subsystem requires from the
// backing document store. Implementations must deliver per-document-ordered
// snapshots and surface disconnection as a subscription error rather than a
// silent stall.
type DocumentStore interface {
	// Subscribe opens a live query over collection scoped by filters.
	// It returns a teardown function owning the subscription's lifetime.
	Subscribe(ctx context.Context, collection string, filters Filters, onUpdate UpdateHandler, onError ErrorHandler) (func(), error)

	// SubscribeDocument opens a live query over exactly one document.
	SubscribeDocument(ctx context.Context, collection, id string, onUpdate DocumentHandler, onError ErrorHandler) (func(), error)

	// Write performs a point write.
	Write(ctx context.Context, req WriteRequest) error

	// Read performs a point read.
	Read(ctx context.Context, collection, id string) (Document, error)

	// Close releases the store's resources.
	Close() error
}

// DocumentWriter is the write-only slice of DocumentStore used by the
// offline queue and the consistency checker's resolution path.
type DocumentWriter interface {
	Write(ctx context.Context, req WriteRequest) error
}

// KeyValueStore is the durable local persistence capability used to survive
// restarts (preferences, sync bookkeeping). Scoped to the device.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// ActionStore persists the offline action queue. It is the single source of
// truth for pending writes across restarts: read once at startup, then kept
// write-through on every mutation.
type ActionStore interface {
	SaveAction(ctx context.Context, action Action) error
	DeleteAction(ctx context.Context, id string) error
	LoadActions(ctx context.Context) ([]Action, error)
	Clear(ctx context.Context) error
	Close() error
}

// Metrics is a read-only snapshot of the sync subsystem's counters.
type Metrics struct {
	ActiveListeners int       `json:"active_listeners"`
	PendingActions  int       `json:"pending_actions"`
	LastSyncTime    time.Time `json:"last_sync_time"`
}

// MetricsCollector provides hooks for observability.
type MetricsCollector interface {
	// RecordFlushDuration records how long a queue flush pass took
	RecordFlushDuration(d time.Duration)

	// RecordFlushOutcome records the per-pass action dispositions
	RecordFlushOutcome(synced, retained, discarded int)

	// RecordQueueDepth records the pending action count after a mutation
	RecordQueueDepth(depth int)

	// RecordListenerCount records the active listener count after a change
	RecordListenerCount(count int)

	// RecordConflicts records detected consistency divergences
	RecordConflicts(count int)

	// RecordErrors records subsystem errors
	RecordErrors(op, reason string)
}

// NoOpMetricsCollector is a stub implementation that discards metrics.
type NoOpMetricsCollector struct{}

func (*NoOpMetricsCollector) RecordFlushDuration(d time.Duration)            {}
func (*NoOpMetricsCollector) RecordFlushOutcome(synced, retained, disc int)  {}
func (*NoOpMetricsCollector) RecordQueueDepth(depth int)                     {}
func (*NoOpMetricsCollector) RecordListenerCount(count int)                  {}
func (*NoOpMetricsCollector) RecordConflicts(count int)                      {}
func (*NoOpMetricsCollector) RecordErrors(op, reason string)                 {}
