package store

import (
	"testing"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

func TestSenderStore_UpsertAndGet(t *testing.T) {
	db := newTestDB(t)

	rec := model.SenderRecord{
		SenderEmail:        "Newsletter@Example.com",
		Domain:             "example.com",
		Classification:     model.ClassificationAI,
		StoredConfidence:    85,
		LastClassifiedAtMs: time.Now().UnixMilli(),
	}

	if err := db.Senders.Upsert(rec); err != nil {
		t.Fatalf("expected no error upserting, got: %v", err)
	}

	got, err := db.Senders.Get("newsletter@example.com")
	if err != nil {
		t.Fatalf("expected no error getting, got: %v", err)
	}
	if got == nil {
		t.Fatal("expected record to be found")
	}
	if got.Classification != model.ClassificationAI {
		t.Errorf("expected AI classification, got %v", got.Classification)
	}
}

func TestSenderStore_Upsert_ReclassificationRemovesOldPopulation(t *testing.T) {
	db := newTestDB(t)

	email := "flip@example.com"
	if err := db.Senders.Upsert(model.SenderRecord{
		SenderEmail: email, Classification: model.ClassificationAI, StoredConfidence: 90,
	}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if err := db.Senders.Upsert(model.SenderRecord{
		SenderEmail: email, Classification: model.ClassificationNonAI, StoredConfidence: 90,
	}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	got, err := db.Senders.Get(email)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got.Classification != model.ClassificationNonAI {
		t.Errorf("expected reclassification to NON_AI, got %v", got.Classification)
	}

	exclusive, err := db.Senders.CheckClassificationExclusivity()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !exclusive {
		t.Error("expected classification populations to remain disjoint after reclassification")
	}
}

func TestSenderStore_EffectiveConfidence_Decays(t *testing.T) {
	db := newTestDB(t).Senders.WithDecayRate(2.0)

	tenDaysAgo := time.Now().Add(-10 * 24 * time.Hour).UnixMilli()
	if err := db.Upsert(model.SenderRecord{
		SenderEmail:        "old@example.com",
		Classification:     model.ClassificationAI,
		StoredConfidence:    90,
		LastClassifiedAtMs: tenDaysAgo,
	}); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	effective, rec, err := db.EffectiveConfidence("old@example.com")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record to be found")
	}
	if effective >= 90 {
		t.Errorf("expected decayed confidence below stored 90, got %v", effective)
	}
}

func TestSenderStore_Get_MissingSenderReturnsNil(t *testing.T) {
	db := newTestDB(t)

	rec, err := db.Senders.Get("nobody@example.com")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if rec != nil {
		t.Error("expected nil for unknown sender")
	}
}
