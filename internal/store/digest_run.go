package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

// DigestRun is one completed (or failed) RunDigest invocation, recorded
// for the supplemented GET /history and GET /execution/{id} endpoints.
type DigestRun struct {
	ID              int64
	ExecutionID     string
	CorrelationID   string
	Mode            model.RunMode
	Success         bool
	EmailsFound     int
	EmailsProcessed int
	TotalCost       float64
	Message         string
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// DigestRunStore is an audit trail of completed runs, one row per
// RunDigest invocation.
type DigestRunStore struct {
	db *sql.DB
}

func NewDigestRunStore(db *sql.DB) *DigestRunStore {
	return &DigestRunStore{db: db}
}

// Record inserts a finished run. Orchestrator.recordRun calls it once per
// run, whether the run succeeded, stopped early or failed.
func (s *DigestRunStore) Record(run DigestRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO digest_runs (correlation_id, mode, success, emails_found, emails_processed,
		                          total_cost, message, error, started_at, finished_at, execution_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.CorrelationID, run.Mode, run.Success, run.EmailsFound, run.EmailsProcessed,
		run.TotalCost, run.Message, run.Error, run.StartedAt, run.FinishedAt, run.ExecutionID)
	if err != nil {
		return 0, fmt.Errorf("record digest run %s: %w", run.CorrelationID, err)
	}
	return result.LastInsertId()
}

// Recent returns up to limit most-recent runs, newest first, for
// GET /history?limit=N. N is capped at 20 by the API layer before this is
// called.
func (s *DigestRunStore) Recent(limit int) ([]DigestRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, execution_id, correlation_id, mode, success, emails_found, emails_processed,
		       total_cost, message, error, started_at, finished_at
		FROM digest_runs
		ORDER BY finished_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent digest runs: %w", err)
	}
	defer rows.Close()

	var runs []DigestRun
	for rows.Next() {
		var run DigestRun
		var executionID, message, errMsg sql.NullString
		if err := rows.Scan(&run.ID, &executionID, &run.CorrelationID, &run.Mode, &run.Success,
			&run.EmailsFound, &run.EmailsProcessed, &run.TotalCost, &message, &errMsg,
			&run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan digest run row: %w", err)
		}
		run.ExecutionID = executionID.String
		run.Message = message.String
		run.Error = errMsg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ByExecutionID looks up a single run for GET /execution/{id}.
func (s *DigestRunStore) ByExecutionID(executionID string) (*DigestRun, error) {
	row := s.db.QueryRow(`
		SELECT id, execution_id, correlation_id, mode, success, emails_found, emails_processed,
		       total_cost, message, error, started_at, finished_at
		FROM digest_runs WHERE execution_id = ?
	`, executionID)

	var run DigestRun
	var execID, message, errMsg sql.NullString
	err := row.Scan(&run.ID, &execID, &run.CorrelationID, &run.Mode, &run.Success,
		&run.EmailsFound, &run.EmailsProcessed, &run.TotalCost, &message, &errMsg,
		&run.StartedAt, &run.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get digest run %s: %w", executionID, err)
	}
	run.ExecutionID = execID.String
	run.Message = message.String
	run.Error = errMsg.String
	return &run, nil
}
