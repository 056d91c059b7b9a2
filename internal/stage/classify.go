package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

// OpenAIBatchSize is the configurable base batch size; sub-groups are
// sized min(50, OpenAIBatchSize*2), per §4.3.
var OpenAIBatchSize = 25

// MaxConcurrentSubgroups bounds Classify's internal fan-out.
const MaxConcurrentSubgroups = 3

// SubgroupStagger is the per-index start delay for concurrent sub-groups.
const SubgroupStagger = 200 * time.Millisecond

// ClassificationConfidenceThreshold is the persistence/promotion bar, per §4.3.
const ClassificationConfidenceThreshold = 70.0

type classifyCandidate struct {
	ID      string `json:"id"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Snippet string `json:"snippet"`
}

type classifyResult struct {
	Classification string  `json:"classification"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// Classify implements §4.3.
func Classify(ctx context.Context, deps *Deps, msg model.PipelineMessage, mode model.RunMode) (model.PipelineMessage, error) {
	start := time.Now()

	var in FetchOutput
	if err := decode(ctx, deps.Payloads, msg, &in); err != nil {
		return model.PipelineMessage{}, err
	}

	byID := make(map[string]model.EmailItem, len(in.Emails))
	for _, e := range in.Emails {
		byID[e.ID] = e
	}

	unknown := make([]model.EmailItem, 0, len(in.UnknownIDs))
	for _, id := range in.UnknownIDs {
		if e, ok := byID[id]; ok {
			unknown = append(unknown, e)
		}
	}

	results := classifyAll(ctx, deps, unknown, mode)

	aiIDs := append([]string{}, in.KnownAIIDs...)
	for id, res := range results {
		email := byID[id]
		if strings.EqualFold(email.Sender.Address, deps.OwnAddress) {
			continue
		}
		if res.Confidence < ClassificationConfidenceThreshold {
			continue
		}

		classification := model.ClassificationNonAI
		if strings.EqualFold(res.Classification, "AI") {
			classification = model.ClassificationAI
			aiIDs = append(aiIDs, id)
		}

		if err := persistClassification(deps, email, classification, res.Confidence); err != nil {
			continue
		}
	}

	out := ClassifyOutput{Emails: in.Emails, AIEmailIDs: aiIDs}
	return advance(ctx, deps.Payloads, msg, model.StageExtract, out, time.Since(start), true)
}

func persistClassification(deps *Deps, email model.EmailItem, classification model.Classification, confidence float64) error {
	addr := strings.ToLower(email.Sender.Address)
	rec, err := deps.Senders.Get(addr)
	if err != nil {
		return err
	}

	newConfidence := confidence
	if rec != nil && classification == model.ClassificationAI && rec.Classification == model.ClassificationAI {
		newConfidence = rec.StoredConfidence + 5
		if newConfidence > 100 {
			newConfidence = 100
		}
	}

	domain := ""
	if idx := strings.LastIndex(addr, "@"); idx >= 0 {
		domain = addr[idx+1:]
	}

	count := 1
	if rec != nil {
		count = rec.ClassificationCount + 1
	}

	return deps.Senders.Upsert(model.SenderRecord{
		SenderEmail:         addr,
		Domain:              domain,
		Classification:      classification,
		StoredConfidence:    newConfidence,
		LastClassifiedAtMs:  time.Now().UnixMilli(),
		ClassificationCount: count,
		DisplayName:         email.Sender.Name,
	})
}

func classifyAll(ctx context.Context, deps *Deps, emails []model.EmailItem, mode model.RunMode) map[string]classifyResult {
	results := make(map[string]classifyResult)
	if len(emails) == 0 {
		return results
	}

	groupSize := OpenAIBatchSize * 2
	if groupSize > 50 {
		groupSize = 50
	}
	if groupSize <= 0 {
		groupSize = 50
	}

	var groups [][]model.EmailItem
	for start := 0; start < len(emails); start += groupSize {
		end := start + groupSize
		if end > len(emails) {
			end = len(emails)
		}
		groups = append(groups, emails[start:end])
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, MaxConcurrentSubgroups)

	for idx, group := range groups {
		idx, group := idx, group
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-time.After(time.Duration(idx) * SubgroupStagger):
			case <-ctx.Done():
				return
			}

			groupResults, err := classifyGroup(ctx, deps, group, mode)
			if err != nil {
				return
			}
			mu.Lock()
			for id, r := range groupResults {
				results[id] = r
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results
}

func classifyGroup(ctx context.Context, deps *Deps, group []model.EmailItem, mode model.RunMode) (map[string]classifyResult, error) {
	if err := guardCall(deps.Cost, deps.Breakers, "openai", 0.02); err != nil {
		return nil, err
	}

	candidates := make([]classifyCandidate, 0, len(group))
	for _, e := range group {
		snippet := e.Snippet
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		candidates = append(candidates, classifyCandidate{ID: e.ID, Sender: e.Sender.Address, Subject: e.Subject, Snippet: snippet})
	}

	payload, err := json.Marshal(candidates)
	if err != nil {
		return nil, err
	}

	systemPrompt := classifySystemPrompt(mode)
	userPrompt := fmt.Sprintf("Classify each of these emails. Return a JSON object keyed by email id with {classification, confidence, reasoning}.\n\n%s", string(payload))

	text, err := deps.LLM.Complete(ctx, llmCompleteFast(systemPrompt, userPrompt))
	if err != nil {
		return nil, err
	}
	deps.Cost.RecordApiCall("openai", "classify", nil)

	var parsed map[string]classifyResult
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, model.NewPipelineError(model.ErrLLMResponseInvalid, model.StageClassify, err.Error())
	}

	return parsed, nil
}

func classifySystemPrompt(mode model.RunMode) string {
	base := "You are a strict classifier. Only classify an email as AI if it is specifically about artificial intelligence, machine learning, AI tools/companies, or directly AI-adjacent research. General tech news, programming tutorials, and non-AI hardware are NON_AI."
	if mode == model.ModeCleanup {
		return base + " In cleanup mode, interpret more inclusively."
	}
	return base
}
