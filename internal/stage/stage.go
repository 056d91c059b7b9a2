// Package stage implements C13: the seven pipeline stage handlers (plus
// the error handler) as pure PipelineMessage → PipelineMessage
// transformations, per SPEC_FULL.md §4.2–4.8.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/breaker"
	"github.com/planetaryescape/ai-digest-sub001/internal/costtracker"
	"github.com/planetaryescape/ai-digest-sub001/internal/llm"
	"github.com/planetaryescape/ai-digest-sub001/internal/mailbox"
	"github.com/planetaryescape/ai-digest-sub001/internal/mailer"
	"github.com/planetaryescape/ai-digest-sub001/internal/model"
	"github.com/planetaryescape/ai-digest-sub001/internal/payload"
	"github.com/planetaryescape/ai-digest-sub001/internal/store"
	"github.com/planetaryescape/ai-digest-sub001/internal/webextract"
	"github.com/planetaryescape/ai-digest-sub001/internal/websearch"
)

// Deps bundles every collaborator a stage handler may call into. Every
// handler takes the whole struct; the Orchestrator wires one per run, and
// tests fill in only the collaborators the handler under test touches.
type Deps struct {
	Mailbox     *mailbox.Mailbox
	Senders     *store.SenderStore
	Processed   *store.ProcessedStore
	Payloads    *payload.Manager
	LLM         *llm.Client
	WebExtract  *webextract.Extractor
	WebSearch   *websearch.Client
	Mailer      *mailer.Mailer
	Cost        *costtracker.CostTracker
	Breakers    *breaker.Registry
	Recipient   string
	OwnAddress  string // self-reference guard, per §4.3
}

// EnrichedEmail carries per-stage augmentations over model.EmailItem,
// accumulated through Extract and Research before Analyze consumes it.
type EnrichedEmail struct {
	model.EmailItem
	ExtractedURLs  []string           `json:"extracted_urls,omitempty"`
	ArticleContent string             `json:"article_content,omitempty"`
	SearchResults  []websearch.Result `json:"search_results,omitempty"`
}

// FetchOutput is Fetch's payload.
type FetchOutput struct {
	Emails     []model.EmailItem `json:"emails"`
	KnownAIIDs []string          `json:"known_ai_ids"`
	UnknownIDs []string          `json:"unknown_ids"`
}

// ClassifyOutput is Classify's payload.
type ClassifyOutput struct {
	Emails     []model.EmailItem `json:"emails"`
	AIEmailIDs []string          `json:"ai_email_ids"`
}

// ExtractOutput is Extract's and Research's payload (Research augments
// the same shape in place).
type ExtractOutput struct {
	Emails []EnrichedEmail `json:"emails"`
}

// AnalyzeOutput is Analyze's payload.
type AnalyzeOutput struct {
	Summaries []model.Summary `json:"summaries"`
}

// CritiqueOutput is Critique's payload — identical shape to Analyze's,
// with Summary.Critique populated.
type CritiqueOutput struct {
	Summaries []model.Summary `json:"summaries"`
}

// Decode is decode exported for the Orchestrator, which needs to inspect
// a stage's output (e.g. Classify's AI email count) to decide how to
// split a run into sub-batches.
func Decode(ctx context.Context, payloads *payload.Manager, msg model.PipelineMessage, dst interface{}) error {
	return decode(ctx, payloads, msg, dst)
}

// decode reads msg's payload (inline or offloaded) and unmarshals it into
// dst.
func decode(ctx context.Context, payloads *payload.Manager, msg model.PipelineMessage, dst interface{}) error {
	data, err := payloads.Retrieve(ctx, msg.Payload)
	if err != nil {
		return fmt.Errorf("retrieve payload: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// advance marshals out, stores it via PayloadManager (inline or
// offloaded per threshold), and builds the next PipelineMessage via
// FromPrevious, recording the stage's own duration and success flag.
func advance(ctx context.Context, payloads *payload.Manager, prev model.PipelineMessage, nextStage model.Stage, out interface{}, stageDuration time.Duration, success bool) (model.PipelineMessage, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return model.PipelineMessage{}, fmt.Errorf("marshal payload: %w", err)
	}
	ref, err := payloads.Store(ctx, data, prev.CorrelationID, prev.Stage)
	if err != nil {
		return model.PipelineMessage{}, fmt.Errorf("store payload: %w", err)
	}
	return model.FromPrevious(prev, nextStage, ref, stageDuration, success), nil
}

func llmCompleteFast(systemPrompt, userPrompt string) llm.ChatRequest {
	return llm.ChatRequest{Tier: llm.TierFast, SystemPrompt: systemPrompt, UserPrompt: userPrompt, MaxTokens: 1500, Temperature: 0.1}
}

func llmCompleteQuality(systemPrompt, userPrompt string) llm.ChatRequest {
	return llm.ChatRequest{Tier: llm.TierQuality, SystemPrompt: systemPrompt, UserPrompt: userPrompt, MaxTokens: 1500, Temperature: 0.3}
}

// guardCall checks CostTracker and the named dependency's CircuitBreaker
// before an external call, per §4.9's invariant that all outbound calls
// in §4.2–4.7 pass through CostTracker first.
func guardCall(cost *costtracker.CostTracker, breakers *breaker.Registry, dependency string, estimatedCost float64) error {
	if !cost.CanAfford(estimatedCost) {
		return model.NewPipelineError(model.ErrBudgetExceeded, "", "cost ceiling would be exceeded")
	}
	if err := breakers.Get(dependency).Allow(); err != nil {
		return model.NewPipelineError(model.ErrCircuitOpen, "", err.Error())
	}
	return nil
}
