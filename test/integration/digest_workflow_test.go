// Package integration exercises the HTTP surface of cmd/digest-api
// end-to-end over a real net/http listener.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/planetaryescape/ai-digest-sub001/internal/api"
	"github.com/planetaryescape/ai-digest-sub001/internal/breaker"
	"github.com/planetaryescape/ai-digest-sub001/internal/checkpoint"
	"github.com/planetaryescape/ai-digest-sub001/internal/model"
	"github.com/planetaryescape/ai-digest-sub001/internal/store"
)

// fakeOrchestrator stands in for the real Orchestrator, but honors the same
// contract this test cares about: record a digest_runs row on completion,
// the way Orchestrator.recordRun does, so GET /execution/{id} has something
// to find once the dispatched goroutine finishes.
type fakeOrchestrator struct {
	runs *store.DigestRunStore
	done chan struct{}
}

func (f *fakeOrchestrator) RunDigestWithID(ctx context.Context, executionID string, mode model.RunMode, window *model.DateWindow) (model.RunResult, error) {
	defer close(f.done)
	now := time.Now()
	result := model.RunResult{Success: true, EmailsFound: 5, EmailsProcessed: 5, Batches: 1, Message: "digest sent"}
	_, err := f.runs.Record(store.DigestRun{
		ExecutionID:     executionID,
		Mode:            mode,
		Success:         result.Success,
		EmailsFound:     result.EmailsFound,
		EmailsProcessed: result.EmailsProcessed,
		Message:         result.Message,
		StartedAt:       now,
		FinishedAt:      now,
	})
	if err != nil {
		return model.RunResult{}, err
	}
	return result, nil
}

func TestDigestWorkflow_RunNowThenPollExecution(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	checkpoints := checkpoint.New(checkpoint.Config{Addr: mr.Addr()})
	t.Cleanup(func() { checkpoints.Close() })

	orch := &fakeOrchestrator{runs: db.Runs, done: make(chan struct{})}
	srv := api.NewServer(orch, checkpoints, db.Runs, breaker.NewRegistry(breaker.DefaultOptions()), db)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/run-now", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		ExecutionID string `json:"executionId"`
		Mode        string `json:"mode"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.NotEmpty(t, accepted.ExecutionID)
	require.Equal(t, "weekly", accepted.Mode)

	select {
	case <-orch.done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the dispatched run to complete")
	}

	// The run finishes and records its row asynchronously relative to the
	// 202 response; poll briefly for the digest_runs row to land.
	var execResp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		execResp, err = http.Get(ts.URL + "/execution/" + accepted.ExecutionID)
		require.NoError(t, err)
		if execResp.StatusCode == http.StatusOK {
			break
		}
		execResp.Body.Close()
		time.Sleep(25 * time.Millisecond)
	}
	require.Equal(t, http.StatusOK, execResp.StatusCode)
	defer execResp.Body.Close()

	var execution struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(execResp.Body).Decode(&execution))
	require.Equal(t, "SUCCEEDED", execution.Status)
}

func TestDigestWorkflow_HealthzReportsOK(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	checkpoints := checkpoint.New(checkpoint.Config{Addr: mr.Addr()})
	t.Cleanup(func() { checkpoints.Close() })

	orch := &fakeOrchestrator{runs: db.Runs, done: make(chan struct{})}
	srv := api.NewServer(orch, checkpoints, db.Runs, breaker.NewRegistry(breaker.DefaultOptions()), db)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
