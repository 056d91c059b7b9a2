package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/planetaryescape/ai-digest-sub001/internal/breaker"
	"github.com/planetaryescape/ai-digest-sub001/internal/checkpoint"
	"github.com/planetaryescape/ai-digest-sub001/internal/model"
	"github.com/planetaryescape/ai-digest-sub001/internal/store"
)

type fakeOrchestrator struct {
	lastMode   model.RunMode
	lastWindow *model.DateWindow
	called     chan struct{}
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{called: make(chan struct{}, 1)}
}

func (f *fakeOrchestrator) RunDigestWithID(ctx context.Context, executionID string, mode model.RunMode, window *model.DateWindow) (model.RunResult, error) {
	f.lastMode = mode
	f.lastWindow = window
	f.called <- struct{}{}
	return model.RunResult{Success: true, EmailsFound: 3, EmailsProcessed: 3, Message: "ok"}, nil
}

func newTestServer(t *testing.T, orch Orchestrator) (*Server, *store.DB) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	checkpoints := checkpoint.New(checkpoint.Config{Addr: mr.Addr()})
	t.Cleanup(func() { checkpoints.Close() })

	return NewServer(orch, checkpoints, db.Runs, breaker.NewRegistry(breaker.DefaultOptions()), db), db
}

func TestHandleRunNow_DefaultsToWeeklyAndAccepts(t *testing.T) {
	orch := newFakeOrchestrator()
	s, _ := newTestServer(t, orch)

	req := httptest.NewRequest(http.MethodPost, "/run-now", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	select {
	case <-orch.called:
	case <-time.After(time.Second):
		t.Fatal("expected RunDigestWithID to be dispatched")
	}
	if orch.lastMode != model.ModeWeekly {
		t.Errorf("expected weekly default mode, got %s", orch.lastMode)
	}

	var resp runAcceptedResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ExecutionID == "" {
		t.Error("expected a non-empty executionId")
	}
}

func TestHandleRunNow_CleanupBooleanAliasNormalizesToCleanupMode(t *testing.T) {
	orch := newFakeOrchestrator()
	s, _ := newTestServer(t, orch)

	req := httptest.NewRequest(http.MethodPost, "/run-now", bytes.NewBufferString(`{"cleanup": true}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	<-orch.called
	if orch.lastMode != model.ModeCleanup {
		t.Errorf("expected cleanup mode from the boolean alias, got %s", orch.lastMode)
	}
}

func TestHandleRunNow_HistoricalWithoutDatesIsRejected(t *testing.T) {
	orch := newFakeOrchestrator()
	s, _ := newTestServer(t, orch)

	req := httptest.NewRequest(http.MethodPost, "/run-now", bytes.NewBufferString(`{"mode": "historical"}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing historical dates, got %d", w.Code)
	}
}

func TestHandleHistorical_WindowWiderThan90DaysIsRejected(t *testing.T) {
	orch := newFakeOrchestrator()
	s, _ := newTestServer(t, orch)

	body := `{"startDate": "2025-01-01", "endDate": "2025-06-01"}`
	req := httptest.NewRequest(http.MethodPost, "/historical", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an over-wide window, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleHistorical_ValidWindowIsAccepted(t *testing.T) {
	orch := newFakeOrchestrator()
	s, _ := newTestServer(t, orch)

	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	lastWeek := time.Now().AddDate(0, 0, -7).Format("2006-01-02")
	body := `{"startDate": "` + lastWeek + `", "endDate": "` + yesterday + `"}`
	req := httptest.NewRequest(http.MethodPost, "/historical", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	<-orch.called
	if orch.lastMode != model.ModeHistorical {
		t.Errorf("expected historical mode, got %s", orch.lastMode)
	}
	if orch.lastWindow == nil || orch.lastWindow.Start != lastWeek {
		t.Errorf("expected window start %s, got %+v", lastWeek, orch.lastWindow)
	}
}

func TestHandleExecution_UnknownIDReturns404(t *testing.T) {
	s, _ := newTestServer(t, newFakeOrchestrator())

	req := httptest.NewRequest(http.MethodGet, "/execution/does-not-exist", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandleExecution_InFlightRunReportsRunning(t *testing.T) {
	s, _ := newTestServer(t, newFakeOrchestrator())

	if err := s.checkpoints.Save(context.Background(), checkpoint.RunState{
		ExecutionID: "exec-running",
		Mode:        model.ModeWeekly,
		Stage:       model.StageClassify,
		StartedAtMs: time.Now().UnixMilli(),
		UpdatedAtMs: time.Now().UnixMilli(),
	}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/execution/exec-running", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp executionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != statusRunning {
		t.Errorf("expected RUNNING status, got %s", resp.Status)
	}
}

func TestHandleExecution_FinishedRunReportsSucceededOrFailed(t *testing.T) {
	s, db := newTestServer(t, newFakeOrchestrator())

	if _, err := db.Runs.Record(store.DigestRun{
		ExecutionID: "exec-done",
		Mode:        model.ModeWeekly,
		Success:     true,
		EmailsFound: 5,
		StartedAt:   time.Now().Add(-time.Minute),
		FinishedAt:  time.Now(),
	}); err != nil {
		t.Fatalf("record run: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/execution/exec-done", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp executionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != statusSucceeded {
		t.Errorf("expected SUCCEEDED status, got %s", resp.Status)
	}
}

func TestHandleHistory_ReturnsRecentRunsNewestFirst(t *testing.T) {
	s, db := newTestServer(t, newFakeOrchestrator())

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	if _, err := db.Runs.Record(store.DigestRun{ExecutionID: "a", Mode: model.ModeWeekly, Success: true, StartedAt: older, FinishedAt: older}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := db.Runs.Record(store.DigestRun{ExecutionID: "b", Mode: model.ModeWeekly, Success: true, StartedAt: newer, FinishedAt: newer}); err != nil {
		t.Fatalf("record: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/history?limit=1", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var runs []store.DigestRun
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].ExecutionID != "b" {
		t.Errorf("expected the single newest run 'b', got %+v", runs)
	}
}

func TestHandleHealthz_ReportsHealthyWhenDependenciesAreUp(t *testing.T) {
	s, _ := newTestServer(t, newFakeOrchestrator())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy status, got %s", resp.Status)
	}
}
