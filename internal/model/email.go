// Package model holds the data types shared across every digest pipeline
// component: the email envelope produced by Fetch, the sender-reputation
// record, the pipeline message envelope passed between stage handlers, and
// the digest content handed to the Mailer.
package model

// Sender is the display name and address pair attached to an EmailItem.
type Sender struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// EmailItem is the read-only envelope the Fetch stage produces for one
// mailbox message. Every downstream stage refers to emails only by ID —
// nothing after Fetch mutates an EmailItem in place; stages that want to
// attach data (extracted URLs, article text, a Summary) carry it alongside
// the ID in their own output rather than writing back into this struct.
type EmailItem struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"thread_id"`
	Sender   Sender   `json:"sender"`
	Subject  string   `json:"subject"`
	Date     string   `json:"date"` // RFC3339
	Snippet  string   `json:"snippet"`
	Body     string   `json:"body"`
	Labels   []string `json:"labels"`
}

// Classification is a SenderRecord's population membership.
type Classification string

const (
	ClassificationAI    Classification = "AI"
	ClassificationNonAI Classification = "NON_AI"
)

// SenderRecord tracks one sender's AI-relevance classification. A sender
// belongs to at most one population (AI or NON_AI) at a time; callers that
// reclassify a sender into the other population must remove the old record
// first. StoredConfidence is never mutated by a read — decay is computed at
// read time by EffectiveConfidence so writes stay cheap and TTL-less.
type SenderRecord struct {
	SenderEmail         string         `json:"sender_email"` // lowercased
	Domain              string         `json:"domain"`
	Classification      Classification `json:"classification"`
	StoredConfidence    float64        `json:"confidence"`
	LastClassifiedAtMs  int64          `json:"last_classified_at"`
	ClassificationCount int            `json:"classification_count"`
	DisplayName         string         `json:"display_name,omitempty"`
	NewsletterName      string         `json:"newsletter_name,omitempty"`
}

// KnownConfidenceThreshold is the effective-confidence floor above which a
// sender is treated as "known" rather than re-classified.
const KnownConfidenceThreshold = 50.0

// EffectiveConfidence applies the sender-reputation decay function:
// stored confidence minus decay-rate-per-day times elapsed days, clamped to
// a floor of zero. decayRatePerDay and nowMs are supplied by the caller
// (SenderStore) so this stays a pure, side-effect-free function.
func (r SenderRecord) EffectiveConfidence(decayRatePerDay float64, nowMs int64) float64 {
	elapsedMs := nowMs - r.LastClassifiedAtMs
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	days := float64(elapsedMs) / float64(86400000)
	effective := r.StoredConfidence - decayRatePerDay*days
	if effective < 0 {
		return 0
	}
	return effective
}

// IsKnown reports whether a sender's effective confidence clears the
// "known" threshold, per the glossary definition.
func (r SenderRecord) IsKnown(decayRatePerDay float64, nowMs int64) bool {
	return r.EffectiveConfidence(decayRatePerDay, nowMs) >= KnownConfidenceThreshold
}

// ProcessedRecord marks an email as fully processed by a completed run.
// A ProcessedRecord write must always be preceded by a successful digest
// delivery for that email — partial delivery leaves emails unmarked so the
// next run retries them.
type ProcessedRecord struct {
	EmailID     string `json:"email_id"`
	Subject     string `json:"subject"`
	ProcessedAt string `json:"processed_at"` // RFC3339
	TimestampMs int64  `json:"timestamp_ms"`
	TTLSeconds  int64  `json:"ttl"` // seconds-since-epoch the record expires at
}
