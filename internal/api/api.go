// Package api implements C15's HTTP entry points: the chi router that
// fronts the Orchestrator for manual and externally-triggered runs, plus
// the supplemented history/health endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/planetaryescape/ai-digest-sub001/internal/breaker"
	"github.com/planetaryescape/ai-digest-sub001/internal/checkpoint"
	"github.com/planetaryescape/ai-digest-sub001/internal/model"
	"github.com/planetaryescape/ai-digest-sub001/internal/orchestrator"
	"github.com/planetaryescape/ai-digest-sub001/internal/store"
)

// Orchestrator is the subset of orchestrator.Orchestrator the API layer
// depends on, so handlers can be tested against a fake without spinning
// up a real pipeline.
type Orchestrator interface {
	RunDigestWithID(ctx context.Context, executionID string, mode model.RunMode, window *model.DateWindow) (model.RunResult, error)
}

var _ Orchestrator = (*orchestrator.Orchestrator)(nil)

// Server holds the dependencies wired into every HTTP handler.
type Server struct {
	orchestrator Orchestrator
	checkpoints  *checkpoint.Store
	runs         *store.DigestRunStore
	breakers     *breaker.Registry
	db           *store.DB
	logger       *slog.Logger
}

// NewServer constructs a Server. checkpoints may be nil (GET /execution/{id}
// then only ever answers from the completed-runs table).
func NewServer(orch Orchestrator, checkpoints *checkpoint.Store, runs *store.DigestRunStore, breakers *breaker.Registry, db *store.DB) *Server {
	return &Server{orchestrator: orch, checkpoints: checkpoints, runs: runs, breakers: breakers, db: db, logger: slog.Default()}
}

// Router builds the chi router wiring every §6 entry point plus the
// supplemented /healthz, with middleware chained
// Logging -> CORS -> Security -> Recovery.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(corsMiddleware)
	r.Use(securityMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Post("/run-now", s.handleRunNow)
	r.Post("/historical", s.handleHistorical)
	r.Get("/execution/{id}", s.handleExecution)
	r.Get("/history", s.handleHistory)
	r.Get("/healthz", s.handleHealthz)

	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
