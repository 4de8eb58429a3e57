package caresync

import (
	"context"
	"sync"
	"time"
)

// View is a reactive local collection bound to one entity kind. It owns the
// merge of incoming envelope batches and presents `{data, isLoading, err,
// lastUpdate, refresh}` to the UI layer, which must treat Data snapshots as
// read-only: all mutation happens by applying envelopes.
type View struct {
	service *SyncService
	kind    EntityKind
	filters Filters
	less    LessFunc

	mu         sync.RWMutex
	listenerID string
	data       []Record
	loading    bool
	err        error
	lastUpdate time.Time

	nextToken int
	observers map[int]func()
}

// NewView subscribes to kind scoped by filters and keeps the collection
// merged and sorted by the kind's canonical key. Close releases the
// listener.
func NewView(ctx context.Context, service *SyncService, kind EntityKind, filters Filters) (*View, error) {
	return NewViewSortedBy(ctx, service, kind, filters, canonicalLess(kind))
}

// NewViewSortedBy is NewView with a caller-supplied sort key. The comparator
// must be a deterministic total order.
func NewViewSortedBy(ctx context.Context, service *SyncService, kind EntityKind, filters Filters, less LessFunc) (*View, error) {
	v := &View{
		service:   service,
		kind:      kind,
		filters:   filters,
		less:      less,
		loading:   true,
		observers: make(map[int]func()),
	}

	if err := v.open(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *View) open(ctx context.Context) error {
	id, err := v.service.Subscribe(ctx, v.kind, v.filters, v.onBatch, v.onError)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.listenerID = id
	v.mu.Unlock()
	return nil
}

func (v *View) onBatch(batch []UpdateEnvelope) {
	v.mu.Lock()
	v.data = ApplyEnvelopes(v.data, batch, v.less)
	v.loading = false
	v.err = nil
	v.lastUpdate = time.Now()
	observers := v.snapshotObserversLocked()
	v.mu.Unlock()

	notifyAll(observers)
}

func (v *View) onError(err error) {
	v.mu.Lock()
	v.err = err
	observers := v.snapshotObserversLocked()
	v.mu.Unlock()

	notifyAll(observers)
}

// Data returns a snapshot of the ordered collection.
func (v *View) Data() []Record {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Record, len(v.data))
	copy(out, v.data)
	return out
}

// IsLoading is true until the first snapshot arrives.
func (v *View) IsLoading() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loading
}

// Err returns the most recent listener error, cleared by the next snapshot.
func (v *View) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// LastUpdate returns when the collection last changed.
func (v *View) LastUpdate() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastUpdate
}

// Refresh tears the listener down and resubscribes, forcing a fresh full
// snapshot as the next batch.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	id := v.listenerID
	v.listenerID = ""
	v.data = nil
	v.loading = true
	v.mu.Unlock()

	v.service.Unsubscribe(id)
	return v.open(ctx)
}

// OnChange registers an observer invoked after every state change. The
// returned function unregisters it; any UI layer can adapt this to its own
// reactivity model.
func (v *View) OnChange(observer func()) func() {
	v.mu.Lock()
	token := v.nextToken
	v.nextToken++
	v.observers[token] = observer
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.observers, token)
		v.mu.Unlock()
	}
}

// Close releases the view's listener. Safe to call more than once.
func (v *View) Close() {
	v.mu.Lock()
	id := v.listenerID
	v.listenerID = ""
	v.mu.Unlock()

	if id != "" {
		v.service.Unsubscribe(id)
	}
}

func (v *View) snapshotObserversLocked() []func() {
	observers := make([]func(), 0, len(v.observers))
	for _, o := range v.observers {
		observers = append(observers, o)
	}
	return observers
}

func notifyAll(observers []func()) {
	for _, observer := range observers {
		observer()
	}
}

// DocumentView is the single-document counterpart of View, used for the
// per-patient record.
type DocumentView struct {
	service *SyncService
	kind    EntityKind
	id      string

	mu         sync.RWMutex
	listenerID string
	data       Document
	found      bool
	loading    bool
	err        error
	lastUpdate time.Time

	nextToken int
	observers map[int]func()
}

// NewDocumentView subscribes to exactly one document of kind.
func NewDocumentView(ctx context.Context, service *SyncService, kind EntityKind, id string) (*DocumentView, error) {
	v := &DocumentView{
		service:   service,
		kind:      kind,
		id:        id,
		loading:   true,
		observers: make(map[int]func()),
	}

	listenerID, err := service.SubscribeToDocument(ctx, kind, id, v.onEnvelope, v.onError)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.listenerID = listenerID
	v.mu.Unlock()
	return v, nil
}

func (v *DocumentView) onEnvelope(env UpdateEnvelope) {
	v.mu.Lock()
	switch env.Type {
	case UpdateRemoved:
		v.data = nil
		v.found = false
	default:
		v.data = env.Data
		v.found = env.Data != nil
	}
	v.loading = false
	v.err = nil
	v.lastUpdate = time.Now()
	observers := v.snapshotObserversLocked()
	v.mu.Unlock()

	notifyAll(observers)
}

func (v *DocumentView) onError(err error) {
	v.mu.Lock()
	v.err = err
	observers := v.snapshotObserversLocked()
	v.mu.Unlock()

	notifyAll(observers)
}

// Data returns the current document payload and whether it exists.
func (v *DocumentView) Data() (Document, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.data, v.found
}

// IsLoading is true until the first envelope arrives.
func (v *DocumentView) IsLoading() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loading
}

// Err returns the most recent listener error.
func (v *DocumentView) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// LastUpdate returns when the document last changed.
func (v *DocumentView) LastUpdate() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastUpdate
}

// OnChange registers an observer; the returned function unregisters it.
func (v *DocumentView) OnChange(observer func()) func() {
	v.mu.Lock()
	token := v.nextToken
	v.nextToken++
	v.observers[token] = observer
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.observers, token)
		v.mu.Unlock()
	}
}

// Close releases the view's listener.
func (v *DocumentView) Close() {
	v.mu.Lock()
	id := v.listenerID
	v.listenerID = ""
	v.mu.Unlock()

	if id != "" {
		v.service.Unsubscribe(id)
	}
}

func (v *DocumentView) snapshotObserversLocked() []func() {
	observers := make([]func(), 0, len(v.observers))
	for _, o := range v.observers {
		observers = append(observers, o)
	}
	return observers
}

// Per-entity bindings for the portal's dashboards.

// NewAppointmentsView binds appointments scoped by filters such as
// {"doctor_id": ...} or {"patient_id": ...}.
func NewAppointmentsView(ctx context.Context, service *SyncService, filters Filters) (*View, error) {
	return NewView(ctx, service, KindAppointments, filters)
}

// NewPrescriptionsView binds prescriptions scoped by filters.
func NewPrescriptionsView(ctx context.Context, service *SyncService, filters Filters) (*View, error) {
	return NewView(ctx, service, KindPrescriptions, filters)
}

// NewStockView binds a pharmacy's own inventory. An empty filter set is
// allowed here: the collection is admin-scale and tenant-scoped.
func NewStockView(ctx context.Context, service *SyncService, filters Filters) (*View, error) {
	return NewView(ctx, service, KindPharmacyStock, filters)
}

// NewCHWLogView binds community health worker visit logs.
func NewCHWLogView(ctx context.Context, service *SyncService, filters Filters) (*View, error) {
	return NewView(ctx, service, KindCHWLogs, filters)
}

// NewPatientRecordView binds the single clinical record for one patient.
func NewPatientRecordView(ctx context.Context, service *SyncService, patientID string) (*DocumentView, error) {
	return NewDocumentView(ctx, service, KindPatients, patientID)
}
