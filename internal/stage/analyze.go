package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

type analyzeResult struct {
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	KeyInsights  []string `json:"key_insights"`
	WhyItMatters string   `json:"why_it_matters"`
	ActionItems  []string `json:"action_items"`
}

// Analyze implements §4.6: produce a Summary per AI email via the
// quality-tier LLM. Individual failures drop the email rather than
// aborting the stage.
func Analyze(ctx context.Context, deps *Deps, msg model.PipelineMessage) (model.PipelineMessage, error) {
	start := time.Now()

	var in ExtractOutput
	if err := decode(ctx, deps.Payloads, msg, &in); err != nil {
		return model.PipelineMessage{}, err
	}

	summaries := make([]model.Summary, 0, len(in.Emails))
	for _, email := range in.Emails {
		summary, err := analyzeOne(ctx, deps, email)
		if err != nil {
			slog.Warn("analyze: dropping email after analysis failure", "email_id", email.ID, "error", err)
			continue
		}
		summaries = append(summaries, *summary)
	}

	out := AnalyzeOutput{Summaries: summaries}
	return advance(ctx, deps.Payloads, msg, model.StageCritique, out, time.Since(start), true)
}

func analyzeOne(ctx context.Context, deps *Deps, email EnrichedEmail) (*model.Summary, error) {
	if err := guardCall(deps.Cost, deps.Breakers, "openai", 0.02); err != nil {
		return nil, err
	}

	userPrompt := buildAnalyzePrompt(email)
	systemPrompt := "You analyze AI-related emails for a digest. Produce a concise, insightful analysis as JSON with keys: title, summary, key_insights (2-3 items), why_it_matters, action_items."

	text, err := deps.LLM.Complete(ctx, llmCompleteQuality(systemPrompt, userPrompt))
	if err != nil {
		return nil, err
	}
	deps.Cost.RecordApiCall("openai", "analyze", nil)

	var parsed analyzeResult
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, model.NewPipelineError(model.ErrLLMResponseInvalid, model.StageAnalyze, err.Error())
	}

	return &model.Summary{
		Title:        parsed.Title,
		Summary:      parsed.Summary,
		KeyInsights:  parsed.KeyInsights,
		WhyItMatters: parsed.WhyItMatters,
		ActionItems:  parsed.ActionItems,
		Sender:       email.Sender,
		Date:         email.Date,
		EmailID:      email.ID,
	}, nil
}

func buildAnalyzePrompt(email EnrichedEmail) string {
	prompt := fmt.Sprintf("Subject: %s\nFrom: %s\nBody: %s", email.Subject, email.Sender.Address, email.Body)
	if email.ArticleContent != "" {
		prompt += fmt.Sprintf("\n\nLinked article content: %s", email.ArticleContent)
	}
	for _, r := range email.SearchResults {
		prompt += fmt.Sprintf("\n\nRelated: %s - %s", r.Title, r.Snippet)
	}
	return prompt
}
