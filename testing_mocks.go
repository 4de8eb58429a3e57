package caresync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	syncErrors "github.com/telecare/caresync/errors"
)

// Test doubles for the storage interfaces. Kept in the package so adapter
// packages and examples can exercise the service without a real backend.

// TestDocumentStore is an in-memory DocumentStore. Tests deliver snapshots
// by calling Deliver / DeliverDocument, and can script write or subscribe
// failures.
type TestDocumentStore struct {
	mu sync.Mutex

	writes        []WriteRequest
	failWrites    int
	failSubscribe int
	closed        bool

	collectionSubs map[int]*collectionSub
	documentSubs   map[int]*documentSub
	nextSubID      int
}

type collectionSub struct {
	collection string
	filters    Filters
	onUpdate   UpdateHandler
	onError    ErrorHandler
}

type documentSub struct {
	collection string
	id         string
	onUpdate   DocumentHandler
	onError    ErrorHandler
}

func NewTestDocumentStore() *TestDocumentStore {
	return &TestDocumentStore{
		collectionSubs: make(map[int]*collectionSub),
		documentSubs:   make(map[int]*documentSub),
	}
}

// FailNextWrites makes the next n Write calls return an error.
func (s *TestDocumentStore) FailNextWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

// FailNextSubscribes makes the next n Subscribe calls return an error.
func (s *TestDocumentStore) FailNextSubscribes(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubscribe = n
}

func (s *TestDocumentStore) Subscribe(_ context.Context, collection string, filters Filters, onUpdate UpdateHandler, onError ErrorHandler) (func(), error) {
	s.mu.Lock()
	if s.failSubscribe > 0 {
		s.failSubscribe--
		s.mu.Unlock()
		return nil, errors.New("subscribe failed")
	}
	id := s.nextSubID
	s.nextSubID++
	s.collectionSubs[id] = &collectionSub{
		collection: collection,
		filters:    filters,
		onUpdate:   onUpdate,
		onError:    onError,
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.collectionSubs, id)
		s.mu.Unlock()
	}, nil
}

func (s *TestDocumentStore) SubscribeDocument(_ context.Context, collection, id string, onUpdate DocumentHandler, onError ErrorHandler) (func(), error) {
	s.mu.Lock()
	if s.failSubscribe > 0 {
		s.failSubscribe--
		s.mu.Unlock()
		return nil, errors.New("subscribe failed")
	}
	subID := s.nextSubID
	s.nextSubID++
	s.documentSubs[subID] = &documentSub{
		collection: collection,
		id:         id,
		onUpdate:   onUpdate,
		onError:    onError,
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.documentSubs, subID)
		s.mu.Unlock()
	}, nil
}

func (s *TestDocumentStore) Write(_ context.Context, req WriteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites > 0 {
		s.failWrites--
		return errors.New("write failed")
	}
	s.writes = append(s.writes, req)
	return nil
}

func (s *TestDocumentStore) Read(_ context.Context, collection, id string) (Document, error) {
	return nil, fmt.Errorf("document %s/%s not found", collection, id)
}

func (s *TestDocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Writes returns the successful writes in order.
func (s *TestDocumentStore) Writes() []WriteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WriteRequest, len(s.writes))
	copy(out, s.writes)
	return out
}

// Closed reports whether Close was called.
func (s *TestDocumentStore) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SubscriberCount returns the number of open collection subscriptions.
func (s *TestDocumentStore) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collectionSubs) + len(s.documentSubs)
}

// Deliver pushes a snapshot batch to every open subscription on collection.
func (s *TestDocumentStore) Deliver(collection string, batch []UpdateEnvelope) {
	s.mu.Lock()
	var handlers []UpdateHandler
	for _, sub := range s.collectionSubs {
		if sub.collection == collection {
			handlers = append(handlers, sub.onUpdate)
		}
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(batch)
	}
}

// DeliverDocument pushes a single-document envelope to matching listeners.
func (s *TestDocumentStore) DeliverDocument(collection, id string, env UpdateEnvelope) {
	s.mu.Lock()
	var handlers []DocumentHandler
	for _, sub := range s.documentSubs {
		if sub.collection == collection && sub.id == id {
			handlers = append(handlers, sub.onUpdate)
		}
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

// DeliverError pushes a subscription error to every listener on collection.
func (s *TestDocumentStore) DeliverError(collection string, err error) {
	s.mu.Lock()
	var handlers []ErrorHandler
	for _, sub := range s.collectionSubs {
		if sub.collection == collection {
			handlers = append(handlers, sub.onError)
		}
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(err)
	}
}

// MemoryActionStore is an in-memory ActionStore. It preserves insertion
// order across Save/Delete so LoadActions restores FIFO semantics.
type MemoryActionStore struct {
	mu      sync.Mutex
	actions []Action

	failSave int
	failLoad bool
}

func NewMemoryActionStore() *MemoryActionStore {
	return &MemoryActionStore{}
}

// FailNextSaves makes the next n SaveAction calls return an error.
func (s *MemoryActionStore) FailNextSaves(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = n
}

// FailLoad makes LoadActions return an error.
func (s *MemoryActionStore) FailLoad(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLoad = fail
}

func (s *MemoryActionStore) SaveAction(_ context.Context, action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave > 0 {
		s.failSave--
		return errors.New("save failed")
	}
	for i, existing := range s.actions {
		if existing.ID == action.ID {
			s.actions[i] = action
			return nil
		}
	}
	s.actions = append(s.actions, action)
	return nil
}

func (s *MemoryActionStore) DeleteAction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.actions {
		if existing.ID == id {
			s.actions = append(s.actions[:i], s.actions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryActionStore) LoadActions(_ context.Context) ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLoad {
		return nil, errors.New("load failed")
	}
	out := make([]Action, len(s.actions))
	copy(out, s.actions)
	return out, nil
}

func (s *MemoryActionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = nil
	return nil
}

func (s *MemoryActionStore) Close() error { return nil }

// Len returns the number of persisted actions.
func (s *MemoryActionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}

// MemoryKeyValueStore is an in-memory KeyValueStore.
type MemoryKeyValueStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewMemoryKeyValueStore() *MemoryKeyValueStore {
	return &MemoryKeyValueStore{values: make(map[string][]byte)}
}

func (s *MemoryKeyValueStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return nil, syncErrors.E(syncErrors.Op("memory.Get"), syncErrors.KindNotFound,
			fmt.Errorf("key %q not found", key))
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *MemoryKeyValueStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.values[key] = stored
	return nil
}

func (s *MemoryKeyValueStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

var (
	_ DocumentStore = (*TestDocumentStore)(nil)
	_ ActionStore   = (*MemoryActionStore)(nil)
	_ KeyValueStore = (*MemoryKeyValueStore)(nil)
)
