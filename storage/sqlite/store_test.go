package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/telecare/caresync"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "caresync.db")
	store, err := NewWithDataSource("file:" + path)
	if err != nil {
		t.Fatalf("NewWithDataSource failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleAction(id string) caresync.Action {
	return caresync.Action{
		ID:         id,
		Type:       caresync.ActionUpdate,
		Collection: "appointments",
		DocumentID: "apt-1",
		Data:       caresync.Document{"status": "cancelled"},
		Timestamp:  time.Now().UTC().Truncate(time.Second),
		MaxRetries: 3,
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := New(&Config{}); err == nil {
		t.Error("empty data source accepted")
	}
}

func TestActionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := sampleAction("a-1")
	if err := store.SaveAction(ctx, want); err != nil {
		t.Fatalf("SaveAction failed: %v", err)
	}

	actions, err := store.LoadActions(ctx)
	if err != nil {
		t.Fatalf("LoadActions failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("loaded %d actions, want 1", len(actions))
	}
	got := actions[0]
	if got.ID != want.ID || got.Type != want.Type || got.Collection != want.Collection {
		t.Errorf("loaded action = %+v", got)
	}
	if got.Data["status"] != "cancelled" {
		t.Errorf("payload lost: %v", got.Data)
	}
}

func TestLoadActions_FIFOAcrossUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a-1", "a-2", "a-3"} {
		if err := store.SaveAction(ctx, sampleAction(id)); err != nil {
			t.Fatalf("SaveAction(%s) failed: %v", id, err)
		}
	}

	// Re-saving the first action (a retry-count bump) must not move it to
	// the back of the queue.
	bumped := sampleAction("a-1")
	bumped.RetryCount = 2
	if err := store.SaveAction(ctx, bumped); err != nil {
		t.Fatalf("SaveAction update failed: %v", err)
	}

	actions, err := store.LoadActions(ctx)
	if err != nil {
		t.Fatalf("LoadActions failed: %v", err)
	}
	if len(actions) != 3 {
		t.Fatalf("loaded %d actions, want 3", len(actions))
	}
	if actions[0].ID != "a-1" || actions[0].RetryCount != 2 {
		t.Errorf("first action = %+v, want a-1 with retry count 2", actions[0])
	}
	if actions[1].ID != "a-2" || actions[2].ID != "a-3" {
		t.Errorf("order = %s, %s", actions[1].ID, actions[2].ID)
	}
}

func TestDeleteAction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.SaveAction(ctx, sampleAction("a-1"))
	store.SaveAction(ctx, sampleAction("a-2"))

	if err := store.DeleteAction(ctx, "a-1"); err != nil {
		t.Fatalf("DeleteAction failed: %v", err)
	}
	// Absent id is a no-op.
	if err := store.DeleteAction(ctx, "no-such-action"); err != nil {
		t.Fatalf("DeleteAction on absent id failed: %v", err)
	}

	actions, _ := store.LoadActions(ctx)
	if len(actions) != 1 || actions[0].ID != "a-2" {
		t.Errorf("remaining actions = %v", actions)
	}
}

func TestClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.SaveAction(ctx, sampleAction("a-1"))
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	actions, err := store.LoadActions(ctx)
	if err != nil {
		t.Fatalf("LoadActions failed: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("actions after clear = %v", actions)
	}
}

func TestKeyValueRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "last_sync", []byte("2026-03-01T10:00:00Z")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := store.Get(ctx, "last_sync")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "2026-03-01T10:00:00Z" {
		t.Errorf("Get = %q", got)
	}

	// Overwrite.
	store.Set(ctx, "last_sync", []byte("updated"))
	got, _ = store.Get(ctx, "last_sync")
	if string(got) != "updated" {
		t.Errorf("Get after overwrite = %q", got)
	}

	if err := store.Remove(ctx, "last_sync"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Get(ctx, "last_sync"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get after remove = %v, want ErrKeyNotFound", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caresync.db")
	ctx := context.Background()

	store, err := NewWithDataSource("file:" + path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	store.SaveAction(ctx, sampleAction("a-1"))
	store.Set(ctx, "device_id", []byte("device-7"))
	store.Close()

	reopened, err := NewWithDataSource("file:" + path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	actions, err := reopened.LoadActions(ctx)
	if err != nil {
		t.Fatalf("LoadActions failed: %v", err)
	}
	if len(actions) != 1 || actions[0].ID != "a-1" {
		t.Errorf("restored actions = %v", actions)
	}
	value, err := reopened.Get(ctx, "device_id")
	if err != nil || string(value) != "device-7" {
		t.Errorf("restored kv = %q, %v", value, err)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store := newTestStore(t)
	store.Close()

	ctx := context.Background()
	if err := store.SaveAction(ctx, sampleAction("a-1")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("SaveAction on closed store = %v", err)
	}
	if _, err := store.LoadActions(ctx); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("LoadActions on closed store = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
