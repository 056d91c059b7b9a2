package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

type critiqueResult struct {
	Critique string `json:"critique"`
}

// Critique implements §4.7: append a contrarian 2-3 sentence critique to
// each Summary via the fast-tier LLM. Failures fall through with the
// original Summary unchanged.
func Critique(ctx context.Context, deps *Deps, msg model.PipelineMessage) (model.PipelineMessage, error) {
	start := time.Now()

	var in AnalyzeOutput
	if err := decode(ctx, deps.Payloads, msg, &in); err != nil {
		return model.PipelineMessage{}, err
	}

	for i := range in.Summaries {
		critique, err := critiqueOne(ctx, deps, in.Summaries[i])
		if err != nil {
			slog.Warn("critique: falling through with original summary", "email_id", in.Summaries[i].EmailID, "error", err)
			continue
		}
		in.Summaries[i].Critique = critique
	}

	out := CritiqueOutput{Summaries: in.Summaries}
	return advance(ctx, deps.Payloads, msg, model.StageSend, out, time.Since(start), true)
}

func critiqueOne(ctx context.Context, deps *Deps, summary model.Summary) (string, error) {
	if err := guardCall(deps.Cost, deps.Breakers, "openai", 0.02); err != nil {
		return "", err
	}

	systemPrompt := "You write a brief, contrarian 2-3 sentence critique of an AI-related analysis, pointing out caveats, overstatement, or missing context."
	userPrompt := fmt.Sprintf("Title: %s\nSummary: %s", summary.Title, summary.Summary)

	text, err := deps.LLM.Complete(ctx, llmCompleteFast(systemPrompt, userPrompt))
	if err != nil {
		return "", err
	}
	deps.Cost.RecordApiCall("openai", "critique", nil)

	var parsed critiqueResult
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return "", model.NewPipelineError(model.ErrLLMResponseInvalid, model.StageCritique, err.Error())
	}

	return parsed.Critique, nil
}
