package caresync

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/telecare/caresync/errors"
	"github.com/telecare/caresync/logging"
)

// Resolution selects how a detected divergence is settled.
type Resolution string

const (
	ServerWins Resolution = "server_wins"
	ClientWins Resolution = "client_wins"
	MergeData  Resolution = "merge"
)

var (
	errNoSuchConflict = errors.New("no consistency record for document")
	errNoMergeData    = errors.New("merge resolution requires merged payload")
	errBadResolution  = errors.New("resolution must be server_wins, client_wins, or merge")
)

// ConsistencyRecord captures a divergence between an unacknowledged local
// optimistic write and the server-confirmed value for the same document.
type ConsistencyRecord struct {
	ID          string    `json:"id"`
	Collection  string    `json:"collection"`
	DocumentID  string    `json:"document_id"`
	LocalValue  Document  `json:"local_value"`
	ServerValue Document  `json:"server_value"`
	DetectedAt  time.Time `json:"detected_at"`
}

// ConsistencyChecker detects local/server divergence and exposes explicit
// resolution. It never auto-resolves: a clinical data edit is only discarded
// by a deliberate choice.
type ConsistencyChecker struct {
	writer func(ctx context.Context, req WriteRequest) error

	mu            sync.Mutex
	pendingWrites map[string]Document          // collection/id -> optimistic payload
	records       map[string]ConsistencyRecord // collection/id -> divergence
	nextToken     int
	listeners     map[int]func(ConsistencyRecord)

	logger  *logging.Logger
	metrics MetricsCollector
}

// NewConsistencyChecker builds a checker whose resolutions are routed
// through writer — the service's normal write path, so a resolution can
// itself become an offline action when the network is unavailable.
func NewConsistencyChecker(writer func(ctx context.Context, req WriteRequest) error, metrics MetricsCollector) *ConsistencyChecker {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &ConsistencyChecker{
		writer:        writer,
		pendingWrites: make(map[string]Document),
		records:       make(map[string]ConsistencyRecord),
		listeners:     make(map[int]func(ConsistencyRecord)),
		logger:        logging.Default().WithComponent(logging.Component("consistency")),
		metrics:       metrics,
	}
}

func conflictKey(collection, documentID string) string {
	return collection + "/" + documentID
}

// TrackLocalWrite registers an optimistic write awaiting server confirmation.
func (c *ConsistencyChecker) TrackLocalWrite(collection, documentID string, data Document) {
	if documentID == "" {
		return
	}
	c.mu.Lock()
	c.pendingWrites[conflictKey(collection, documentID)] = data
	c.mu.Unlock()
}

// Observe inspects an incoming server envelope. If the document has an
// outstanding local write whose payload differs field for field from the
// server payload, a ConsistencyRecord is emitted to registered listeners.
// A matching payload acknowledges the local write.
func (c *ConsistencyChecker) Observe(collection string, env UpdateEnvelope) {
	if env.ID == "" {
		return
	}
	key := conflictKey(collection, env.ID)

	c.mu.Lock()
	local, ok := c.pendingWrites[key]
	if !ok {
		c.mu.Unlock()
		return
	}

	if env.Type == UpdateRemoved || reflect.DeepEqual(local, env.Data) {
		// Server confirmed the write (or the document is gone); nothing to flag.
		delete(c.pendingWrites, key)
		c.mu.Unlock()
		return
	}

	record := ConsistencyRecord{
		ID:          uuid.NewString(),
		Collection:  collection,
		DocumentID:  env.ID,
		LocalValue:  local,
		ServerValue: env.Data,
		DetectedAt:  time.Now(),
	}
	c.records[key] = record
	listeners := make([]func(ConsistencyRecord), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	c.metrics.RecordConflicts(1)
	c.logger.Warn("local/server divergence detected",
		slog.String("collection", collection),
		slog.String("document_id", env.ID),
	)

	for _, listener := range listeners {
		listener(record)
	}
}

// OnConflict registers a listener for newly detected divergences. The
// returned function unregisters it.
func (c *ConsistencyChecker) OnConflict(listener func(ConsistencyRecord)) func() {
	c.mu.Lock()
	token := c.nextToken
	c.nextToken++
	c.listeners[token] = listener
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, token)
		c.mu.Unlock()
	}
}

// Records returns a snapshot of the open consistency records.
func (c *ConsistencyChecker) Records() []ConsistencyRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConsistencyRecord, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	return out
}

// ResolveConflict settles the divergence for (collection, documentID):
//
//   - server_wins: drop the divergence marker; local state already adopted
//     the server payload through the merge path
//   - client_wins: re-issue the local payload through the normal write path
//   - merge: write the caller-supplied merged payload through the normal
//     write path
//
// In every case the record for the pair is removed once the write (if any)
// completes or is queued.
func (c *ConsistencyChecker) ResolveConflict(ctx context.Context, collection, documentID string, resolution Resolution, mergeData Document) error {
	key := conflictKey(collection, documentID)

	c.mu.Lock()
	record, ok := c.records[key]
	c.mu.Unlock()
	if !ok {
		return syncErrors.E(syncErrors.OpResolve, syncErrors.Component("consistency"), syncErrors.KindNotFound, errNoSuchConflict)
	}

	var payload Document
	switch resolution {
	case ServerWins:
		payload = nil
	case ClientWins:
		payload = record.LocalValue
	case MergeData:
		if mergeData == nil {
			return syncErrors.NewValidationError(syncErrors.OpResolve, errNoMergeData)
		}
		payload = mergeData
	default:
		return syncErrors.NewValidationError(syncErrors.OpResolve, errBadResolution)
	}

	if payload != nil {
		req := WriteRequest{
			Kind:       WriteUpdate,
			Collection: collection,
			DocumentID: documentID,
			Data:       payload,
		}
		if err := c.writer(ctx, req); err != nil {
			return syncErrors.NewConflictError(syncErrors.OpResolve, err)
		}
	}

	c.mu.Lock()
	delete(c.records, key)
	delete(c.pendingWrites, key)
	c.mu.Unlock()

	c.logger.Info("divergence resolved",
		slog.String("collection", collection),
		slog.String("document_id", documentID),
		slog.String("resolution", string(resolution)),
	)

	return nil
}
