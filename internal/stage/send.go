package stage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

// MarkBatchSize bounds ProcessedStore batch writes, per §4.8/§6.
const MarkBatchSize = 25

// Send implements the §4.8 five-step contract. It returns the terminal
// PipelineMessage (stage=send) alongside a model.RunResult describing
// the outcome for the Orchestrator/API layer.
func Send(ctx context.Context, deps *Deps, msg model.PipelineMessage, mode model.RunMode, stats model.DigestStats) (model.PipelineMessage, model.RunResult, error) {
	start := time.Now()

	var in CritiqueOutput
	if err := decode(ctx, deps.Payloads, msg, &in); err != nil {
		return model.PipelineMessage{}, model.RunResult{}, err
	}

	if len(in.Summaries) == 0 {
		out, err := advance(ctx, deps.Payloads, msg, model.StageSend, in, time.Since(start), true)
		return out, model.RunResult{Success: true, Message: "No AI-related emails found to process"}, err
	}

	output := model.DigestOutput{
		Summaries: in.Summaries,
		Stats:     stats,
		Mode:      mode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Headline:  fmt.Sprintf("%s AI Digest", strings.Title(string(mode))),
	}

	// Step 1+2: render and deliver.
	if err := deps.Mailer.SendDigest(output); err != nil {
		pipelineErr := model.NewPipelineError(model.ErrDeliveryFailed, model.StageSend, err.Error())
		_ = deps.Mailer.SendErrorNotification("digest delivery", pipelineErr)

		out, advErr := advance(ctx, deps.Payloads, msg, model.StageSend, in, time.Since(start), false)
		if advErr != nil {
			return model.PipelineMessage{}, model.RunResult{}, advErr
		}
		out.Error = pipelineErr
		return out, model.RunResult{Success: false, Message: "digest delivery failed", Error: err.Error()}, nil
	}

	// Step 3: only on successful delivery, persist senders and mark processed.
	emailIDs := make([]string, 0, len(in.Summaries))
	subjects := make([]string, 0, len(in.Summaries))
	for _, s := range in.Summaries {
		emailIDs = append(emailIDs, s.EmailID)
		subjects = append(subjects, s.Title)

		addr := strings.ToLower(s.Sender.Address)
		rec, err := deps.Senders.Get(addr)
		confidence := 100.0
		count := 1
		if err == nil && rec != nil {
			confidence = rec.StoredConfidence
			count = rec.ClassificationCount + 1
		}
		domain := ""
		if idx := strings.LastIndex(addr, "@"); idx >= 0 {
			domain = addr[idx+1:]
		}
		if upsertErr := deps.Senders.Upsert(model.SenderRecord{
			SenderEmail:         addr,
			Domain:              domain,
			Classification:      model.ClassificationAI,
			StoredConfidence:    confidence,
			LastClassifiedAtMs:  time.Now().UnixMilli(),
			ClassificationCount: count,
			DisplayName:         s.Sender.Name,
		}); upsertErr != nil {
			slog.Warn("send: failed to enrich sender record", "sender", addr, "error", upsertErr)
		}
	}

	if err := deps.Processed.MarkProcessedBatch(emailIDs, subjects, MarkBatchSize); err != nil {
		slog.Error("send: failed to mark emails processed after successful delivery", "error", err)
	}

	// Step 4: archive, non-critical.
	if deps.Mailbox != nil {
		if err := deps.Mailbox.Archive(ctx, emailIDs); err != nil {
			slog.Warn("send: archive failed, non-critical", "error", err)
		}
	}

	// Step 5: best-effort TTL cleanup.
	if _, err := deps.Processed.CleanupExpired(); err != nil {
		slog.Warn("send: expired-record cleanup failed, non-critical", "error", err)
	}

	out, err := advance(ctx, deps.Payloads, msg, model.StageSend, in, time.Since(start), true)
	if err != nil {
		return model.PipelineMessage{}, model.RunResult{}, err
	}

	return out, model.RunResult{
		Success:         true,
		EmailsFound:     stats.TotalEmails,
		EmailsProcessed: len(emailIDs),
		Message:         "Digest sent successfully",
	}, nil
}
