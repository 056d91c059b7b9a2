package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

// runNowRequest is §6 item 2's body. The source interchangeably used
// `mode: "cleanup"` and `cleanup: true`; both are accepted here and
// normalized to model.RunMode before anything downstream sees them.
type runNowRequest struct {
	Cleanup     *bool      `json:"cleanup,omitempty"`
	Mode        string     `json:"mode,omitempty"`
	StartDate   string     `json:"startDate,omitempty"`
	EndDate     string     `json:"endDate,omitempty"`
	DateRange   *dateRange `json:"dateRange,omitempty"`
	TriggeredBy string     `json:"triggeredBy,omitempty"`
}

type dateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// historicalRequest is §6 item 3's body. batchSize is accepted for
// compatibility with the source's request shape but does not override
// the Orchestrator's fixed sub-batch size: CLEANUP_BATCH_SIZE is an
// internal pipeline invariant, not a per-request tunable.
type historicalRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	BatchSize int    `json:"batchSize,omitempty"`
}

type runAcceptedResponse struct {
	Success     bool          `json:"success"`
	Message     string        `json:"message"`
	Mode        model.RunMode `json:"mode"`
	ExecutionID string        `json:"executionId"`
	Timestamp   string        `json:"timestamp"`
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	var req runNowRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	mode := normalizeMode(req.Mode, req.Cleanup)

	var window *model.DateWindow
	if mode == model.ModeHistorical {
		start, end := req.StartDate, req.EndDate
		if req.DateRange != nil {
			start, end = req.DateRange.Start, req.DateRange.End
		}
		w2, err := validateWindow(start, end)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		window = w2
	}

	s.dispatch(w, mode, window, req.TriggeredBy)
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	var req historicalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	window, err := validateWindow(req.StartDate, req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.dispatch(w, model.ModeHistorical, window, "")
}

// dispatch launches RunDigest on a context detached from the request (the
// run outlives the HTTP round-trip; it's bounded by the Orchestrator's own
// cumulative budget, not by this handler's lifetime) and responds 202
// immediately with the executionId the caller polls via GET /execution/{id}.
func (s *Server) dispatch(w http.ResponseWriter, mode model.RunMode, window *model.DateWindow, triggeredBy string) {
	executionID := uuid.NewString()

	go func() {
		ctx := context.Background()
		if _, err := s.orchestrator.RunDigestWithID(ctx, executionID, mode, window); err != nil {
			s.logger.Error("api: run dispatch failed", "execution_id", executionID, "mode", mode, "error", err)
		}
	}()

	s.logger.Info("api: run dispatched", "mode", mode, "triggered_by", triggeredBy)
	writeJSON(w, http.StatusAccepted, runAcceptedResponse{
		Success:     true,
		Message:     fmt.Sprintf("%s run accepted", mode),
		Mode:        mode,
		ExecutionID: executionID,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

func normalizeMode(mode string, cleanup *bool) model.RunMode {
	switch model.RunMode(mode) {
	case model.ModeWeekly, model.ModeCleanup, model.ModeHistorical:
		return model.RunMode(mode)
	}
	if cleanup != nil && *cleanup {
		return model.ModeCleanup
	}
	return model.ModeWeekly
}

func validateWindow(start, end string) (*model.DateWindow, error) {
	if start == "" || end == "" {
		return nil, fmt.Errorf("startDate and endDate are both required")
	}
	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, fmt.Errorf("startDate is not a valid date: %w", err)
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, fmt.Errorf("endDate is not a valid date: %w", err)
	}
	if startDate.After(endDate) {
		return nil, fmt.Errorf("startDate must not be after endDate")
	}
	if endDate.After(time.Now()) {
		return nil, fmt.Errorf("endDate must not be in the future")
	}
	if endDate.Sub(startDate) > time.Duration(model.MaxHistoricalWindowDays)*24*time.Hour {
		return nil, fmt.Errorf("date range must not exceed %d days", model.MaxHistoricalWindowDays)
	}
	return &model.DateWindow{Start: start, End: end}, nil
}
