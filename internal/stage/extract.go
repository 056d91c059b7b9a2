package stage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
	"github.com/planetaryescape/ai-digest-sub001/internal/webextract"
)

// Extract implements §4.4: pull up to MaxURLsPerEmail links from each AI
// email's body and fetch their article text, bounded by cost and
// concurrency.
func Extract(ctx context.Context, deps *Deps, msg model.PipelineMessage) (model.PipelineMessage, error) {
	start := time.Now()

	var in ClassifyOutput
	if err := decode(ctx, deps.Payloads, msg, &in); err != nil {
		return model.PipelineMessage{}, err
	}

	byID := make(map[string]model.EmailItem, len(in.Emails))
	for _, e := range in.Emails {
		byID[e.ID] = e
	}

	enriched := make([]EnrichedEmail, 0, len(in.AIEmailIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, webextract.ConcurrencyLimit)

	for _, id := range in.AIEmailIDs {
		email, ok := byID[id]
		if !ok {
			continue
		}
		urls := webextract.ExtractURLs(email.Body)

		wg.Add(1)
		sem <- struct{}{}
		go func(email model.EmailItem, urls []string) {
			defer wg.Done()
			defer func() { <-sem }()

			ee := EnrichedEmail{EmailItem: email, ExtractedURLs: urls}

			if len(urls) > 0 && guardCall(deps.Cost, deps.Breakers, "firecrawl", float64(len(urls))*0.01) == nil {
				results := deps.WebExtract.ExtractAll(ctx, urls)
				for _, text := range results {
					deps.Cost.RecordApiCall("firecrawl", "extract", nil)
					if ee.ArticleContent == "" {
						ee.ArticleContent = text
					}
				}
			}

			mu.Lock()
			enriched = append(enriched, ee)
			mu.Unlock()
		}(email, urls)
	}
	wg.Wait()

	if len(enriched) != len(in.AIEmailIDs) {
		slog.Warn("extract: some AI emails were dropped from the enriched set", "expected", len(in.AIEmailIDs), "got", len(enriched))
	}

	out := ExtractOutput{Emails: enriched}
	return advance(ctx, deps.Payloads, msg, model.StageResearch, out, time.Since(start), true)
}
