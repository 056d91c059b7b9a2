package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	store := New(Config{Addr: mr.Addr()})
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveAndGet_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state := RunState{
		ExecutionID:   "exec-1",
		CorrelationID: "corr-1",
		BatchID:       "batch-1",
		Mode:          model.ModeWeekly,
		Stage:         model.StageClassify,
		StartedAtMs:   time.Now().UnixMilli(),
		UpdatedAtMs:   time.Now().UnixMilli(),
		EmailsFound:   10,
	}
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "exec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Stage != model.StageClassify || got.EmailsFound != 10 {
		t.Errorf("unexpected state: %+v", got)
	}
}

func TestStore_Get_UnknownExecutionIDReturnsNil(t *testing.T) {
	store := newTestStore(t)
	got, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown execution id, got %+v", got)
	}
}

func TestStore_Delete_RemovesEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, RunState{ExecutionID: "exec-2"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, "exec-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := store.Get(ctx, "exec-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("expected entry to be gone after delete")
	}
}
