package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

// SenderStore is C2: two populations (AI, NON_AI) of sender reputations.
// A sender_email exists in at most one population at a time; Upsert
// enforces this by deleting any stale row for the same address before
// writing the new classification.
type SenderStore struct {
	db              *sql.DB
	decayRatePerDay float64
}

// NewSenderStore constructs a SenderStore. decayRatePerDay feeds
// model.SenderRecord.EffectiveConfidence on every read.
func NewSenderStore(db *sql.DB) *SenderStore {
	return &SenderStore{db: db, decayRatePerDay: 1.0}
}

// WithDecayRate overrides the default decay rate (tests and callers that
// want a faster/slower decay curve than the 1 point/day default).
func (s *SenderStore) WithDecayRate(rate float64) *SenderStore {
	s.decayRatePerDay = rate
	return s
}

// Get returns the SenderRecord for a lowercased email address, or
// (nil, nil) if no record exists in either population.
func (s *SenderStore) Get(senderEmail string) (*model.SenderRecord, error) {
	senderEmail = strings.ToLower(senderEmail)

	row := s.db.QueryRow(`
		SELECT sender_email, domain, classification, confidence, last_classified_at_ms,
		       classification_count, display_name, newsletter_name
		FROM senders WHERE sender_email = ?
	`, senderEmail)

	var rec model.SenderRecord
	var displayName, newsletterName sql.NullString
	err := row.Scan(&rec.SenderEmail, &rec.Domain, &rec.Classification, &rec.StoredConfidence,
		&rec.LastClassifiedAtMs, &rec.ClassificationCount, &displayName, &newsletterName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sender record for %s: %w", senderEmail, err)
	}
	rec.DisplayName = displayName.String
	rec.NewsletterName = newsletterName.String
	return &rec, nil
}

// EffectiveConfidence returns the decayed confidence for a sender as of
// now, or 0 with no record found, without ever writing anything back —
// decay is computed at read time per the design note in spec §9.
func (s *SenderStore) EffectiveConfidence(senderEmail string) (float64, *model.SenderRecord, error) {
	rec, err := s.Get(senderEmail)
	if err != nil || rec == nil {
		return 0, rec, err
	}
	return rec.EffectiveConfidence(s.decayRatePerDay, time.Now().UnixMilli()), rec, nil
}

// Upsert writes rec into its classification's population, first removing
// any existing row for the same address (which enforces the
// at-most-one-population invariant even across a reclassification). If a
// record already existed for this AI sender, the new confidence is the
// caller's responsibility to have already computed (e.g. Classify's "+5
// clamped 100" rule) — Upsert just persists whatever it's given.
func (s *SenderStore) Upsert(rec model.SenderRecord) error {
	rec.SenderEmail = strings.ToLower(rec.SenderEmail)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin sender upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM senders WHERE sender_email = ?`, rec.SenderEmail); err != nil {
		return fmt.Errorf("clear existing sender record for %s: %w", rec.SenderEmail, err)
	}

	_, err = tx.Exec(`
		INSERT INTO senders (sender_email, domain, classification, confidence, last_classified_at_ms,
		                      classification_count, display_name, newsletter_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.SenderEmail, rec.Domain, rec.Classification, rec.StoredConfidence, rec.LastClassifiedAtMs,
		rec.ClassificationCount, nullableString(rec.DisplayName), nullableString(rec.NewsletterName))
	if err != nil {
		return fmt.Errorf("insert sender record for %s: %w", rec.SenderEmail, err)
	}

	return tx.Commit()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CheckClassificationExclusivity verifies the disjointness invariant
// (testable property §8.4): no sender_email appears under both
// classifications. With Upsert's delete-before-insert this can only be
// violated by a bug, so this exists for tests and a startup self-check.
func (s *SenderStore) CheckClassificationExclusivity() (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT sender_email FROM senders GROUP BY sender_email HAVING COUNT(DISTINCT classification) > 1
		)
	`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check classification exclusivity: %w", err)
	}
	return count == 0, nil
}
