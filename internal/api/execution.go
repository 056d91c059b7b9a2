package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/planetaryescape/ai-digest-sub001/internal/checkpoint"
	"github.com/planetaryescape/ai-digest-sub001/internal/model"
	"github.com/planetaryescape/ai-digest-sub001/internal/store"
)

// executionResponse mirrors §6 item 4's shape, which follows an AWS Step
// Functions DescribeExecution response: executionArn/name/status/
// startDate/stopDate/input/output/error/cause. There is no real state
// machine behind executionArn here; it's a stable synthetic identifier
// built from the executionId so existing dashboard tooling written
// against that shape keeps working unmodified.
type executionResponse struct {
	ExecutionArn string          `json:"executionArn"`
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	StartDate    string          `json:"startDate"`
	StopDate     string          `json:"stopDate,omitempty"`
	Input        json.RawMessage `json:"input"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	Cause        string          `json:"cause,omitempty"`
}

const (
	statusRunning   = "RUNNING"
	statusSucceeded = "SUCCEEDED"
	statusFailed    = "FAILED"
)

func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing execution id")
		return
	}

	if s.checkpoints != nil {
		state, err := s.checkpoints.Get(r.Context(), id)
		if err != nil {
			s.logger.Error("api: checkpoint lookup failed", "execution_id", id, "error", err)
		} else if state != nil {
			writeJSON(w, http.StatusOK, inFlightExecution(id, state))
			return
		}
	}

	if s.runs != nil {
		run, err := s.runs.ByExecutionID(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to look up execution")
			return
		}
		if run != nil {
			writeJSON(w, http.StatusOK, finishedExecution(run))
			return
		}
	}

	writeError(w, http.StatusNotFound, "unknown execution id")
}

func inFlightExecution(id string, state *checkpoint.RunState) executionResponse {
	input, _ := json.Marshal(map[string]interface{}{"mode": state.Mode})
	return executionResponse{
		ExecutionArn: "arn:aws:states:local:digest:execution:" + id,
		Name:         id,
		Status:       statusRunning,
		StartDate:    time.UnixMilli(state.StartedAtMs).UTC().Format(time.RFC3339),
		Input:        input,
	}
}

func finishedExecution(run *store.DigestRun) executionResponse {
	status := statusSucceeded
	if !run.Success {
		status = statusFailed
	}
	input, _ := json.Marshal(map[string]interface{}{"mode": run.Mode})
	output, _ := json.Marshal(model.RunResult{
		Success:         run.Success,
		EmailsFound:     run.EmailsFound,
		EmailsProcessed: run.EmailsProcessed,
		Message:         run.Message,
		Error:           run.Error,
	})
	resp := executionResponse{
		ExecutionArn: "arn:aws:states:local:digest:execution:" + run.ExecutionID,
		Name:         run.ExecutionID,
		Status:       status,
		StartDate:    run.StartedAt.UTC().Format(time.RFC3339),
		StopDate:     run.FinishedAt.UTC().Format(time.RFC3339),
		Input:        input,
		Output:       output,
	}
	if !run.Success {
		resp.Error = "DigestRunFailed"
		resp.Cause = run.Error
	}
	return resp
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))

	if s.runs == nil {
		writeJSON(w, http.StatusOK, []store.DigestRun{})
		return
	}
	runs, err := s.runs.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func parseLimit(raw string) int {
	const defaultLimit = 10
	const maxLimit = 20
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}
