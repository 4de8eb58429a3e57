package caresync

import (
	"context"
	"errors"
	"testing"
)

func TestView_InitialSnapshotClearsLoading(t *testing.T) {
	store := NewTestDocumentStore()
	service := newTestService(t, store, NewMemoryActionStore(), NewNetworkMonitor())
	defer service.Close()

	view, err := NewAppointmentsView(context.Background(), service, Filters{"patient_id": "p-1"})
	if err != nil {
		t.Fatalf("NewAppointmentsView failed: %v", err)
	}
	defer view.Close()

	if !view.IsLoading() {
		t.Fatal("view should be loading before the first snapshot")
	}

	store.Deliver("appointments", []UpdateEnvelope{
		{Type: UpdateAdded, ID: "apt-1", Data: Document{"scheduled_time": "2026-03-01T09:00:00Z"}},
		{Type: UpdateAdded, ID: "apt-2", Data: Document{"scheduled_time": "2026-03-02T09:00:00Z"}},
	})

	if view.IsLoading() {
		t.Error("view still loading after first snapshot")
	}
	data := view.Data()
	if len(data) != 2 {
		t.Fatalf("view holds %d records, want 2", len(data))
	}
	// Canonical appointment order is newest first.
	if data[0].ID != "apt-2" || data[1].ID != "apt-1" {
		t.Errorf("view order = %v", ids(data))
	}
	if view.LastUpdate().IsZero() {
		t.Error("LastUpdate not set")
	}
}

func TestView_IncrementalMerge(t *testing.T) {
	store := NewTestDocumentStore()
	service := newTestService(t, store, NewMemoryActionStore(), NewNetworkMonitor())
	defer service.Close()

	view, err := NewAppointmentsView(context.Background(), service, Filters{"patient_id": "p-1"})
	if err != nil {
		t.Fatalf("NewAppointmentsView failed: %v", err)
	}
	defer view.Close()

	store.Deliver("appointments", []UpdateEnvelope{
		{Type: UpdateAdded, ID: "apt-1", Data: Document{"status": "scheduled", "scheduled_time": "2026-03-01T09:00:00Z"}},
	})
	store.Deliver("appointments", []UpdateEnvelope{
		{Type: UpdateModified, ID: "apt-1", Data: Document{"status": "cancelled", "scheduled_time": "2026-03-01T09:00:00Z"}},
	})

	data := view.Data()
	if len(data) != 1 || data[0].Data["status"] != "cancelled" {
		t.Fatalf("view = %v", data)
	}

	store.Deliver("appointments", []UpdateEnvelope{{Type: UpdateRemoved, ID: "apt-1"}})
	if len(view.Data()) != 0 {
		t.Errorf("removed record still present: %v", view.Data())
	}
}

func TestView_OnChange(t *testing.T) {
	store := NewTestDocumentStore()
	service := newTestService(t, store, NewMemoryActionStore(), NewNetworkMonitor())
	defer service.Close()

	view, err := NewStockView(context.Background(), service, nil)
	if err != nil {
		t.Fatalf("NewStockView failed: %v", err)
	}
	defer view.Close()

	changes := 0
	unregister := view.OnChange(func() { changes++ })

	store.Deliver("pharmacy_stock", []UpdateEnvelope{
		{Type: UpdateAdded, ID: "item-1", Data: Document{"name": "paracetamol"}},
	})
	if changes != 1 {
		t.Fatalf("observer fired %d times, want 1", changes)
	}

	unregister()
	store.Deliver("pharmacy_stock", []UpdateEnvelope{
		{Type: UpdateAdded, ID: "item-2", Data: Document{"name": "amoxicillin"}},
	})
	if changes != 1 {
		t.Errorf("unregistered observer fired, changes = %d", changes)
	}
}

func TestView_ErrorSurfacedAndCleared(t *testing.T) {
	store := NewTestDocumentStore()
	service := newTestService(t, store, NewMemoryActionStore(), NewNetworkMonitor())
	defer service.Close()

	view, err := NewCHWLogView(context.Background(), service, nil)
	if err != nil {
		t.Fatalf("NewCHWLogView failed: %v", err)
	}
	defer view.Close()

	store.DeliverError("chw_logs", errors.New("connection lost"))
	if view.Err() == nil {
		t.Fatal("listener error not surfaced")
	}

	// The next snapshot clears the error.
	store.Deliver("chw_logs", []UpdateEnvelope{
		{Type: UpdateAdded, ID: "log-1", Data: Document{"logged_at": "2026-03-01T10:00:00Z"}},
	})
	if view.Err() != nil {
		t.Errorf("error not cleared by snapshot: %v", view.Err())
	}
}

func TestView_Refresh(t *testing.T) {
	store := NewTestDocumentStore()
	service := newTestService(t, store, NewMemoryActionStore(), NewNetworkMonitor())
	defer service.Close()

	view, err := NewAppointmentsView(context.Background(), service, Filters{"patient_id": "p-1"})
	if err != nil {
		t.Fatalf("NewAppointmentsView failed: %v", err)
	}
	defer view.Close()

	store.Deliver("appointments", []UpdateEnvelope{
		{Type: UpdateAdded, ID: "apt-1", Data: Document{"scheduled_time": "2026-03-01T09:00:00Z"}},
	})

	if err := view.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if !view.IsLoading() {
		t.Error("view should be loading again after refresh")
	}
	if len(view.Data()) != 0 {
		t.Errorf("stale data kept across refresh: %v", view.Data())
	}
	if store.SubscriberCount() != 1 {
		t.Errorf("store subscriptions = %d after refresh, want 1", store.SubscriberCount())
	}

	store.Deliver("appointments", []UpdateEnvelope{
		{Type: UpdateAdded, ID: "apt-1", Data: Document{"scheduled_time": "2026-03-01T09:00:00Z"}},
	})
	if len(view.Data()) != 1 {
		t.Errorf("refreshed view = %v", view.Data())
	}
}

func TestView_CloseReleasesListener(t *testing.T) {
	store := NewTestDocumentStore()
	service := newTestService(t, store, NewMemoryActionStore(), NewNetworkMonitor())
	defer service.Close()

	view, err := NewAppointmentsView(context.Background(), service, Filters{"patient_id": "p-1"})
	if err != nil {
		t.Fatalf("NewAppointmentsView failed: %v", err)
	}

	view.Close()
	view.Close()

	if store.SubscriberCount() != 0 {
		t.Errorf("store subscriptions = %d after close, want 0", store.SubscriberCount())
	}
}

func TestDocumentView_Lifecycle(t *testing.T) {
	store := NewTestDocumentStore()
	service := newTestService(t, store, NewMemoryActionStore(), NewNetworkMonitor())
	defer service.Close()

	view, err := NewPatientRecordView(context.Background(), service, "p-1")
	if err != nil {
		t.Fatalf("NewPatientRecordView failed: %v", err)
	}
	defer view.Close()

	if !view.IsLoading() {
		t.Fatal("document view should start loading")
	}

	store.DeliverDocument("patients", "p-1", UpdateEnvelope{
		Type: UpdateModified, ID: "p-1", Data: Document{"name": "Amina"},
	})

	doc, found := view.Data()
	if !found || doc["name"] != "Amina" {
		t.Fatalf("view data = %v, found = %v", doc, found)
	}

	// A nil-data envelope means the document does not exist.
	store.DeliverDocument("patients", "p-1", UpdateEnvelope{Type: UpdateModified, ID: "p-1"})
	if _, found := view.Data(); found {
		t.Error("not-found envelope left the document present")
	}

	store.DeliverDocument("patients", "p-1", UpdateEnvelope{Type: UpdateRemoved, ID: "p-1"})
	if _, found := view.Data(); found {
		t.Error("removed envelope left the document present")
	}
}

func TestDocumentView_OnChange(t *testing.T) {
	store := NewTestDocumentStore()
	service := newTestService(t, store, NewMemoryActionStore(), NewNetworkMonitor())
	defer service.Close()

	view, err := NewPatientRecordView(context.Background(), service, "p-1")
	if err != nil {
		t.Fatalf("NewPatientRecordView failed: %v", err)
	}
	defer view.Close()

	changes := 0
	view.OnChange(func() { changes++ })

	store.DeliverDocument("patients", "p-1", UpdateEnvelope{
		Type: UpdateModified, ID: "p-1", Data: Document{"name": "Amina"},
	})
	if changes != 1 {
		t.Errorf("observer fired %d times, want 1", changes)
	}
}
