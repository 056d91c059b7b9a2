package model

// Summary is one AI email's analyzed content. Critique is populated only
// by the Critique stage; every earlier stage leaves it empty.
type Summary struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	KeyInsights  []string `json:"key_insights,omitempty"`
	WhyItMatters string   `json:"why_it_matters,omitempty"`
	ActionItems  []string `json:"action_items,omitempty"`
	Category     string   `json:"category,omitempty"`
	Sender       Sender   `json:"sender"`
	Date         string   `json:"date"`
	Critique     string   `json:"critique,omitempty"`

	// EmailID threads the summary back to the EmailItem it was produced
	// from, so Send can mark the right ProcessedRecords and archive the
	// right messages.
	EmailID string `json:"email_id"`
}

// DigestStats accompanies a DigestOutput's top-level numbers.
type DigestStats struct {
	TotalEmails     int     `json:"total_emails"`
	AIEmails        int     `json:"ai_emails"`
	ProcessedEmails int     `json:"processed_emails"`
	TotalCost       float64 `json:"total_cost"`
}

// DigestOutput is the Send stage's input: everything needed to render and
// deliver one digest email.
type DigestOutput struct {
	Summaries     []Summary   `json:"summaries"`
	Headline      string      `json:"headline,omitempty"`
	ShortMessage  string      `json:"short_message,omitempty"`
	WhatHappened  string      `json:"what_happened,omitempty"`
	KeyThemes     []string    `json:"key_themes,omitempty"`
	Takeaways     []string    `json:"takeaways,omitempty"`
	ProductPlays  []string    `json:"product_plays,omitempty"`
	Tools         []string    `json:"tools,omitempty"`
	RolePlays     []string    `json:"role_plays,omitempty"`
	Stats         DigestStats `json:"stats"`
	Mode          RunMode     `json:"mode"`
	Timestamp     string      `json:"timestamp"`
}

// RunMode selects which window of mail a run operates over. Callers have
// historically used `mode: "cleanup"` and `cleanup: true` interchangeably;
// this type is the canonical enum — request decoding accepts either on
// input but every internal representation and every response body uses
// only this enum.
type RunMode string

const (
	ModeWeekly     RunMode = "weekly"
	ModeCleanup    RunMode = "cleanup"
	ModeHistorical RunMode = "historical"
)

// DateWindow bounds a historical-mode run. Both fields are inclusive
// calendar dates in "2006-01-02" form.
type DateWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MaxHistoricalWindowDays is the widest span a historical run may cover.
const MaxHistoricalWindowDays = 90

// RunResult is RunDigest's return value.
type RunResult struct {
	Success         bool    `json:"success"`
	EmailsFound     int     `json:"emails_found"`
	EmailsProcessed int     `json:"emails_processed"`
	Batches         int     `json:"batches"`
	Message         string  `json:"message"`
	Error           string  `json:"error,omitempty"`
}
