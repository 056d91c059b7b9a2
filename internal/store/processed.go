package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ProcessedStore is C1: the durable record of which emails have been
// fully processed. A ProcessedRecord's presence is what makes a second
// run against the same mail idempotent.
type ProcessedStore struct {
	db *sql.DB
}

func NewProcessedStore(db *sql.DB) *ProcessedStore {
	return &ProcessedStore{db: db}
}

// DefaultTTL is the 90-day retention window from spec §3.
const DefaultTTL = 90 * 24 * time.Hour

// IsProcessed reports whether emailID already has a live (non-expired)
// ProcessedRecord.
func (s *ProcessedStore) IsProcessed(emailID string) (bool, error) {
	var expiresAtMs int64
	err := s.db.QueryRow(`SELECT expires_at_ms FROM processed_emails WHERE email_id = ?`, emailID).Scan(&expiresAtMs)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed record for %s: %w", emailID, err)
	}
	return time.Now().UnixMilli() < expiresAtMs, nil
}

// MarkProcessedBatch writes ProcessedRecords for emailIDs, subject-keyed
// by the same index, in batches of at most maxBatchSize writes per
// transaction (the §4.8 "batch write of ≤ 25" rule). Callers must only
// reach this after a successful digest delivery — this store doesn't
// enforce that invariant itself, the Send stage handler does.
func (s *ProcessedStore) MarkProcessedBatch(emailIDs, subjects []string, maxBatchSize int) error {
	if len(emailIDs) != len(subjects) {
		return fmt.Errorf("emailIDs and subjects length mismatch: %d vs %d", len(emailIDs), len(subjects))
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 25
	}

	now := time.Now()
	nowMs := now.UnixMilli()
	expiresAtMs := now.Add(DefaultTTL).UnixMilli()

	for start := 0; start < len(emailIDs); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(emailIDs) {
			end = len(emailIDs)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin processed-record batch: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO processed_emails (email_id, subject, processed_at, timestamp_ms, expires_at_ms)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(email_id) DO UPDATE SET
				subject = excluded.subject,
				processed_at = excluded.processed_at,
				timestamp_ms = excluded.timestamp_ms,
				expires_at_ms = excluded.expires_at_ms
		`)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("prepare processed-record insert: %w", err)
		}

		for i := start; i < end; i++ {
			if _, err := stmt.Exec(emailIDs[i], subjects[i], now, nowMs, expiresAtMs); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("insert processed record %s: %w", emailIDs[i], err)
			}
		}

		stmt.Close()
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit processed-record batch: %w", err)
		}
	}

	return nil
}

// CleanupExpired deletes ProcessedRecords past their TTL. Best-effort per
// §4.8 step 5 — callers should log failures but not fail the run on them.
func (s *ProcessedStore) CleanupExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM processed_emails WHERE expires_at_ms < ?`, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired processed records: %w", err)
	}
	return result.RowsAffected()
}
