package store

import (
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProcessedStore_IsProcessed_UnknownEmail(t *testing.T) {
	db := newTestDB(t)

	processed, err := db.Processed.IsProcessed("missing-id")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if processed {
		t.Error("expected unknown email to report not processed")
	}
}

func TestProcessedStore_MarkProcessedBatch_Idempotent(t *testing.T) {
	db := newTestDB(t)

	ids := []string{"email-1", "email-2", "email-3"}
	subjects := []string{"Subject 1", "Subject 2", "Subject 3"}

	if err := db.Processed.MarkProcessedBatch(ids, subjects, 25); err != nil {
		t.Fatalf("expected no error marking processed, got: %v", err)
	}

	// Running the same batch again must not error (idempotent write).
	if err := db.Processed.MarkProcessedBatch(ids, subjects, 25); err != nil {
		t.Fatalf("expected no error on re-mark, got: %v", err)
	}

	for _, id := range ids {
		processed, err := db.Processed.IsProcessed(id)
		if err != nil {
			t.Fatalf("expected no error checking %s, got: %v", id, err)
		}
		if !processed {
			t.Errorf("expected %s to be marked processed", id)
		}
	}
}

func TestProcessedStore_MarkProcessedBatch_SplitsAcrossBatchSize(t *testing.T) {
	db := newTestDB(t)

	ids := make([]string, 60)
	subjects := make([]string, 60)
	for i := range ids {
		ids[i] = "email-" + string(rune('a'+i%26))
		subjects[i] = "subject"
	}

	if err := db.Processed.MarkProcessedBatch(ids, subjects, 25); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestProcessedStore_CleanupExpired(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Exec(`
		INSERT INTO processed_emails (email_id, subject, processed_at, timestamp_ms, expires_at_ms)
		VALUES (?, ?, ?, ?, ?)
	`, "stale-email", "old subject", time.Now(), time.Now().UnixMilli(), time.Now().Add(-time.Hour).UnixMilli())
	if err != nil {
		t.Fatalf("failed to seed expired record: %v", err)
	}

	deleted, err := db.Processed.CleanupExpired()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 row deleted, got %d", deleted)
	}

	processed, err := db.Processed.IsProcessed("stale-email")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if processed {
		t.Error("expected expired record to be gone")
	}
}
