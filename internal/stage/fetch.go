package stage

import (
	"context"
	"log/slog"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
	"github.com/planetaryescape/ai-digest-sub001/internal/store"
)

// Fetch implements §4.2: search the mailbox for candidate emails and
// categorize each by sender reputation.
func Fetch(ctx context.Context, deps *Deps, msg model.PipelineMessage, mode model.RunMode, window *model.DateWindow) (model.PipelineMessage, error) {
	start := time.Now()

	var out FetchOutput
	if deps.Mailbox == nil {
		slog.Warn("fetch: no mailbox configured, returning an empty candidate set")
	} else {
		result, err := deps.Mailbox.Fetch(ctx, mode, window)
		if err != nil {
			return model.PipelineMessage{}, err
		}
		out = FetchOutput{
			Emails:     result.Emails,
			KnownAIIDs: result.KnownAIIDs,
			UnknownIDs: result.UnknownIDs,
		}
		if deps.Processed != nil {
			out = dropProcessed(deps.Processed, out)
		}
	}

	return advance(ctx, deps.Payloads, msg, model.StageClassify, out, time.Since(start), true)
}

// dropProcessed filters out any email already carrying a live
// ProcessedStore record, so a second run over the same mailbox window
// reports emails_processed=0 for mail it already delivered instead of
// sending duplicate summaries.
func dropProcessed(processed *store.ProcessedStore, out FetchOutput) FetchOutput {
	filtered := FetchOutput{
		Emails:     make([]model.EmailItem, 0, len(out.Emails)),
		KnownAIIDs: make([]string, 0, len(out.KnownAIIDs)),
		UnknownIDs: make([]string, 0, len(out.UnknownIDs)),
	}
	seenDone := make(map[string]bool, len(out.Emails))

	for _, e := range out.Emails {
		done, err := processed.IsProcessed(e.ID)
		if err != nil {
			slog.Warn("fetch: processed-record lookup failed, treating email as unprocessed", "id", e.ID, "error", err)
			done = false
		}
		seenDone[e.ID] = done
		if !done {
			filtered.Emails = append(filtered.Emails, e)
		}
	}
	for _, id := range out.KnownAIIDs {
		if !seenDone[id] {
			filtered.KnownAIIDs = append(filtered.KnownAIIDs, id)
		}
	}
	for _, id := range out.UnknownIDs {
		if !seenDone[id] {
			filtered.UnknownIDs = append(filtered.UnknownIDs, id)
		}
	}
	return filtered
}
