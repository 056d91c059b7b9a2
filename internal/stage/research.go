package stage

import (
	"context"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
	"github.com/planetaryescape/ai-digest-sub001/internal/websearch"
)

// Research implements §4.5: one to few WebSearch queries per AI email,
// best-effort — a search outage leaves emails unchanged rather than
// failing the stage.
func Research(ctx context.Context, deps *Deps, msg model.PipelineMessage) (model.PipelineMessage, error) {
	start := time.Now()

	var in ExtractOutput
	if err := decode(ctx, deps.Payloads, msg, &in); err != nil {
		return model.PipelineMessage{}, err
	}

	for i := range in.Emails {
		if guardCall(deps.Cost, deps.Breakers, "brave", 0.003) != nil {
			continue
		}

		query := websearch.BuildQuery(in.Emails[i].Subject)
		results, err := deps.WebSearch.Search(ctx, query)
		if err != nil {
			continue
		}
		deps.Cost.RecordApiCall("brave", "search", nil)
		in.Emails[i].SearchResults = results
	}

	return advance(ctx, deps.Payloads, msg, model.StageAnalyze, in, time.Since(start), true)
}
