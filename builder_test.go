package caresync

import (
	"context"
	"testing"
)

func TestBuilder_RequiresStores(t *testing.T) {
	ctx := context.Background()

	if _, err := NewServiceBuilder().Build(ctx); err == nil {
		t.Error("builder without stores succeeded")
	}
	if _, err := NewServiceBuilder().WithStore(NewTestDocumentStore()).Build(ctx); err == nil {
		t.Error("builder without action store succeeded")
	}
	if _, err := NewServiceBuilder().WithActionStore(NewMemoryActionStore()).Build(ctx); err == nil {
		t.Error("builder without document store succeeded")
	}
}

func TestBuilder_BuildsWorkingService(t *testing.T) {
	store := NewTestDocumentStore()
	monitor := NewNetworkMonitor()

	service, err := NewServiceBuilder().
		WithStore(store).
		WithActionStore(NewMemoryActionStore()).
		WithMonitor(monitor).
		WithMaxRetries(5).
		WithRetryAttempts(2).
		WithRetryBackoff(zeroBackoff{}).
		WithoutPeriodicFlush().
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer service.Close()

	if service.Monitor() != monitor {
		t.Error("service not wired to the provided monitor")
	}

	// The built service round-trips a write.
	if err := service.Write(context.Background(), WriteRequest{
		Kind:       WriteCreate,
		Collection: "chw_logs",
		Data:       Document{"notes": "home visit"},
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(store.Writes()) != 1 {
		t.Errorf("store saw %d writes, want 1", len(store.Writes()))
	}
}

func TestBuilder_MaxRetriesPropagates(t *testing.T) {
	monitor := NewNetworkMonitor()
	monitor.SetOnline(false)

	service, err := NewServiceBuilder().
		WithStore(NewTestDocumentStore()).
		WithActionStore(NewMemoryActionStore()).
		WithMonitor(monitor).
		WithMaxRetries(7).
		WithoutPeriodicFlush().
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer service.Close()

	action, err := service.Queue().QueueAction(context.Background(), ActionUpdate, "appointments", "apt-1", nil)
	if err != nil {
		t.Fatalf("QueueAction failed: %v", err)
	}
	if action.MaxRetries != 7 {
		t.Errorf("action MaxRetries = %d, want 7", action.MaxRetries)
	}
}

func TestBuilder_MetricsCollectorShared(t *testing.T) {
	collector := &recordingCollector{}
	monitor := NewNetworkMonitor()
	monitor.SetOnline(false)

	service, err := NewServiceBuilder().
		WithStore(NewTestDocumentStore()).
		WithActionStore(NewMemoryActionStore()).
		WithMonitor(monitor).
		WithMetricsCollector(collector).
		WithoutPeriodicFlush().
		Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer service.Close()

	ctx := context.Background()
	service.Write(ctx, WriteRequest{Kind: WriteUpdate, Collection: "appointments", DocumentID: "apt-1", Data: Document{"v": 1}})
	service.ForceSyncAll(ctx)

	collector.mu.Lock()
	defer collector.mu.Unlock()
	if len(collector.queueDepths) == 0 {
		t.Error("queue metrics not routed to the shared collector")
	}
	if len(collector.flushOutcomes) == 0 {
		t.Error("flush metrics not routed to the shared collector")
	}
}
