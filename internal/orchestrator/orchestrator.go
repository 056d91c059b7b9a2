// Package orchestrator implements C14: the state machine that drives a
// run of the pipeline described in internal/stage end to end — dispatch,
// retry with backoff, stage and cumulative timeouts, sub-batching, and
// checkpointing.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/planetaryescape/ai-digest-sub001/internal/checkpoint"
	"github.com/planetaryescape/ai-digest-sub001/internal/model"
	"github.com/planetaryescape/ai-digest-sub001/internal/stage"
	"github.com/planetaryescape/ai-digest-sub001/internal/store"
)

// CleanupBatchSize is CLEANUP_BATCH_SIZE from §4.1/§7: cleanup and
// historical runs split their classified AI email set into sub-batches
// of this size, each delivered as its own digest.
const CleanupBatchSize = 50

// InterBatchDelay is the pause between successive sub-batches' initial
// dispatches.
const InterBatchDelay = 5 * time.Second

// StageHardTimeout bounds each attempt of a stage handler; every retry
// gets a fresh timeout of its own.
const StageHardTimeout = 15 * time.Minute

// CumulativeBudget is the whole-run time budget from start_time.
const CumulativeBudget = 15 * time.Minute

// CumulativeWarnFraction is the point in the cumulative budget past
// which the Orchestrator stops launching new sub-batches.
const CumulativeWarnFraction = 0.8

// MaxRetries is attempts beyond the initial one (3 total).
const MaxRetries = 2

// RetryBaseDelay and RetryFactor parameterize the exponential backoff.
const (
	RetryBaseDelay      = time.Second
	RetryFactor         = 2.0
	RetryJitterFraction = 0.10
)

// CancellationGrace is how long an in-flight handler has to return after
// the Orchestrator's context is canceled before its output is discarded.
const CancellationGrace = 5 * time.Second

// Orchestrator is C14.
type Orchestrator struct {
	deps        *stage.Deps
	checkpoints *checkpoint.Store
	runs        *store.DigestRunStore
	logger      *slog.Logger
}

// New constructs an Orchestrator. checkpoints may be nil, in which case
// run-state snapshots are skipped (useful for tests that don't need a
// Redis dependency).
func New(deps *stage.Deps, checkpoints *checkpoint.Store, runs *store.DigestRunStore) *Orchestrator {
	return &Orchestrator{deps: deps, checkpoints: checkpoints, runs: runs, logger: slog.Default()}
}

// RunDigest implements §4.1's public operation: `RunDigest(mode, window?)`.
func (o *Orchestrator) RunDigest(ctx context.Context, mode model.RunMode, window *model.DateWindow) (model.RunResult, error) {
	return o.RunDigestWithID(ctx, uuid.NewString(), mode, window)
}

// RunDigestWithID runs the same state machine as RunDigest but under a
// caller-supplied executionID, so the API layer can hand back an
// executionId in its 202 response that GET /execution/{id} will later
// find in the checkpoint store or digest_runs table.
func (o *Orchestrator) RunDigestWithID(ctx context.Context, executionID string, mode model.RunMode, window *model.DateWindow) (model.RunResult, error) {
	runStart := time.Now()
	batchID := uuid.NewString()

	o.save(ctx, checkpoint.RunState{
		ExecutionID: executionID,
		BatchID:     batchID,
		Mode:        mode,
		Stage:       model.StageFetch,
		StartedAtMs: runStart.UnixMilli(),
		UpdatedAtMs: time.Now().UnixMilli(),
	})

	fetchMsg := model.NewRunMessage(uuid.NewString(), batchID)
	afterFetch, err := o.runStage(ctx, fmt.Sprintf("fetch run %s", executionID), func(ctx context.Context) (model.PipelineMessage, error) {
		return stage.Fetch(ctx, o.deps, fetchMsg, mode, window)
	})
	if err != nil {
		return o.terminal(ctx, executionID, fetchMsg, mode, runStart, err)
	}

	var fetched stage.FetchOutput
	if err := stage.Decode(ctx, o.deps.Payloads, afterFetch, &fetched); err != nil {
		return o.terminal(ctx, executionID, afterFetch, mode, runStart, err)
	}
	emailsFound := len(fetched.Emails)

	o.save(ctx, checkpoint.RunState{
		ExecutionID: executionID, BatchID: batchID, Mode: mode, Stage: model.StageClassify,
		StartedAtMs: runStart.UnixMilli(), UpdatedAtMs: time.Now().UnixMilli(), EmailsFound: emailsFound,
	})

	afterClassify, err := o.runStage(ctx, fmt.Sprintf("classify run %s", executionID), func(ctx context.Context) (model.PipelineMessage, error) {
		return stage.Classify(ctx, o.deps, afterFetch, mode)
	})
	if err != nil {
		return o.terminal(ctx, executionID, afterFetch, mode, runStart, err)
	}

	var classified stage.ClassifyOutput
	if err := stage.Decode(ctx, o.deps.Payloads, afterClassify, &classified); err != nil {
		return o.terminal(ctx, executionID, afterClassify, mode, runStart, err)
	}

	emailByID := make(map[string]model.EmailItem, len(classified.Emails))
	for _, e := range classified.Emails {
		emailByID[e.ID] = e
	}

	idBatches := splitIntoBatches(classified.AIEmailIDs, mode)

	var results []model.RunResult
	partial := false
	for i, idBatch := range idBatches {
		if time.Since(runStart) > time.Duration(float64(CumulativeBudget)*CumulativeWarnFraction) {
			o.logger.Warn("orchestrator: cumulative budget threshold reached, not launching further sub-batches",
				"execution_id", executionID, "launched", i, "total", len(idBatches))
			partial = true
			break
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				partial = true
			case <-time.After(InterBatchDelay):
			}
			if partial {
				break
			}
		}

		subEmails := make([]model.EmailItem, 0, len(idBatch))
		for _, id := range idBatch {
			if e, ok := emailByID[id]; ok {
				subEmails = append(subEmails, e)
			}
		}

		subCorrelationID := uuid.NewString()
		subMsg, err := o.seedSubBatch(ctx, subCorrelationID, batchID, subEmails, idBatch)
		if err != nil {
			results = append(results, model.RunResult{Success: false, Message: "failed to seed sub-batch", Error: err.Error()})
			continue
		}

		result := o.runSubBatch(ctx, subMsg, mode, emailsFound, executionID)
		results = append(results, result)
	}

	return o.summarize(ctx, executionID, mode, runStart, emailsFound, len(idBatches), results, partial)
}

// seedSubBatch builds a fresh PipelineMessage at stage=classify carrying
// only this sub-batch's emails, so Extract onward only ever sees its own
// slice of the AI-classified set.
func (o *Orchestrator) seedSubBatch(ctx context.Context, correlationID, batchID string, emails []model.EmailItem, aiIDs []string) (model.PipelineMessage, error) {
	out := stage.ClassifyOutput{Emails: emails, AIEmailIDs: aiIDs}
	data, err := json.Marshal(out)
	if err != nil {
		return model.PipelineMessage{}, fmt.Errorf("marshal sub-batch seed: %w", err)
	}
	ref, err := o.deps.Payloads.Store(ctx, data, correlationID, model.StageClassify)
	if err != nil {
		return model.PipelineMessage{}, fmt.Errorf("store sub-batch seed: %w", err)
	}
	now := time.Now().UnixMilli()
	return model.PipelineMessage{
		CorrelationID: correlationID,
		BatchID:       batchID,
		Stage:         model.StageClassify,
		TimestampMs:   now,
		Payload:       ref,
		Metadata:      model.PipelineMetadata{StartTimeMs: now, CurrentStageStartTimeMs: now},
	}, nil
}

// runSubBatch drives one sub-batch through extract→research→analyze→
// critique→send.
func (o *Orchestrator) runSubBatch(ctx context.Context, msg model.PipelineMessage, mode model.RunMode, emailsFound int, executionID string) model.RunResult {
	afterExtract, err := o.runStage(ctx, fmt.Sprintf("extract %s", msg.CorrelationID), func(ctx context.Context) (model.PipelineMessage, error) {
		return stage.Extract(ctx, o.deps, msg)
	})
	if err != nil {
		return o.routeToErrorHandler(ctx, msg, err, fmt.Sprintf("%s run %s", mode, executionID))
	}

	afterResearch, err := o.runStage(ctx, fmt.Sprintf("research %s", msg.CorrelationID), func(ctx context.Context) (model.PipelineMessage, error) {
		return stage.Research(ctx, o.deps, afterExtract)
	})
	if err != nil {
		return o.routeToErrorHandler(ctx, afterExtract, err, fmt.Sprintf("%s run %s", mode, executionID))
	}

	afterAnalyze, err := o.runStage(ctx, fmt.Sprintf("analyze %s", msg.CorrelationID), func(ctx context.Context) (model.PipelineMessage, error) {
		return stage.Analyze(ctx, o.deps, afterResearch)
	})
	if err != nil {
		return o.routeToErrorHandler(ctx, afterResearch, err, fmt.Sprintf("%s run %s", mode, executionID))
	}

	afterCritique, err := o.runStage(ctx, fmt.Sprintf("critique %s", msg.CorrelationID), func(ctx context.Context) (model.PipelineMessage, error) {
		return stage.Critique(ctx, o.deps, afterAnalyze)
	})
	if err != nil {
		return o.routeToErrorHandler(ctx, afterAnalyze, err, fmt.Sprintf("%s run %s", mode, executionID))
	}

	var critiqued stage.CritiqueOutput
	if err := stage.Decode(ctx, o.deps.Payloads, afterCritique, &critiqued); err != nil {
		return o.routeToErrorHandler(ctx, afterCritique, err, fmt.Sprintf("%s run %s", mode, executionID))
	}

	stats := model.DigestStats{
		TotalEmails:     emailsFound,
		AIEmails:        len(critiqued.Summaries),
		ProcessedEmails: len(critiqued.Summaries),
	}
	if o.deps.Cost != nil {
		stats.TotalCost = o.deps.Cost.TotalCost()
	}

	_, result, err := stage.Send(ctx, o.deps, afterCritique, mode, stats)
	if err != nil {
		return o.routeToErrorHandler(ctx, afterCritique, err, fmt.Sprintf("%s run %s", mode, executionID))
	}
	return result
}

// runStage executes fn with a per-invocation hard timeout, retrying
// retryable failures with exponential backoff and jitter, up to
// MaxRetries attempts beyond the first.
func (o *Orchestrator) runStage(ctx context.Context, label string, fn func(context.Context) (model.PipelineMessage, error)) (model.PipelineMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return model.PipelineMessage{}, ctx.Err()
		}

		stageCtx, cancel := context.WithTimeout(ctx, StageHardTimeout)
		msg, err := fn(stageCtx)
		cancel()
		if err == nil {
			return msg, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return model.PipelineMessage{}, err
		}
		if attempt == MaxRetries {
			o.logger.Error("orchestrator: stage exhausted retries", "label", label, "attempts", attempt+1, "error", err)
			return model.PipelineMessage{}, err
		}

		backoff := backoffFor(attempt)
		o.logger.Warn("orchestrator: retryable stage failure, backing off", "label", label, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return model.PipelineMessage{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return model.PipelineMessage{}, lastErr
}

func backoffFor(attempt int) time.Duration {
	base := float64(RetryBaseDelay) * pow(RetryFactor, attempt)
	jitter := base * RetryJitterFraction * (rand.Float64()*2 - 1)
	return time.Duration(base + jitter)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func isRetryable(err error) bool {
	var pipelineErr *model.PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// splitIntoBatches implements §4.1's batching rule: cleanup and
// historical modes split the AI-classified set into sub-batches of
// CleanupBatchSize; weekly mode never splits.
func splitIntoBatches(ids []string, mode model.RunMode) [][]string {
	if mode != model.ModeCleanup && mode != model.ModeHistorical || len(ids) <= CleanupBatchSize {
		return [][]string{ids}
	}

	var batches [][]string
	for start := 0; start < len(ids); start += CleanupBatchSize {
		end := start + CleanupBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

// routeToErrorHandler wraps a stage failure as a PipelineError (if it
// isn't already one), hands the message to the terminal error branch,
// and returns its RunResult.
func (o *Orchestrator) routeToErrorHandler(ctx context.Context, msg model.PipelineMessage, stageErr error, runContext string) model.RunResult {
	var pipelineErr *model.PipelineError
	if !errors.As(stageErr, &pipelineErr) {
		pipelineErr = model.NewPipelineError(model.ErrFatal, msg.Stage, stageErr.Error())
	}
	msg.Error = pipelineErr

	handlerCtx, cancel := context.WithTimeout(context.Background(), CancellationGrace)
	defer cancel()
	result, err := stage.ErrorHandler(handlerCtx, o.deps, msg, runContext)
	if err != nil {
		o.logger.Error("orchestrator: error handler failed to send notification", "error", err)
	}
	return result
}

// terminal handles a Fetch/Classify-stage failure (before any sub-batch
// exists): route to the error handler and record the run as failed.
func (o *Orchestrator) terminal(ctx context.Context, executionID string, msg model.PipelineMessage, mode model.RunMode, runStart time.Time, stageErr error) (model.RunResult, error) {
	result := o.routeToErrorHandler(ctx, msg, stageErr, fmt.Sprintf("%s run %s", mode, executionID))
	o.recordRun(executionID, msg.CorrelationID, mode, result, runStart)
	o.clear(ctx, executionID)
	return result, nil
}

// summarize aggregates every sub-batch's RunResult into the overall
// RunDigest return value.
func (o *Orchestrator) summarize(ctx context.Context, executionID string, mode model.RunMode, runStart time.Time, emailsFound, batchCount int, results []model.RunResult, partial bool) (model.RunResult, error) {
	success := true
	processed := 0
	var firstFailure string
	for _, r := range results {
		processed += r.EmailsProcessed
		if !r.Success {
			success = false
			if firstFailure == "" {
				firstFailure = r.Error
				if firstFailure == "" {
					firstFailure = r.Message
				}
			}
		}
	}

	message := fmt.Sprintf("Processed %d sub-batch(es)", len(results))
	if partial {
		success = false
		message = "Run stopped early: cumulative time budget exceeded; remaining emails will be picked up by the next run"
	} else if !success {
		message = fmt.Sprintf("%d of %d sub-batch(es) failed: %s", countFailures(results), len(results), firstFailure)
	}

	final := model.RunResult{
		Success:         success,
		EmailsFound:     emailsFound,
		EmailsProcessed: processed,
		Batches:         len(results),
		Message:         message,
	}
	if !success && firstFailure != "" {
		final.Error = firstFailure
	}

	o.recordRun(executionID, "", mode, final, runStart)
	o.clear(ctx, executionID)
	return final, nil
}

func countFailures(results []model.RunResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}

func (o *Orchestrator) recordRun(executionID, correlationID string, mode model.RunMode, result model.RunResult, runStart time.Time) {
	if o.runs == nil {
		return
	}
	totalCost := 0.0
	if o.deps.Cost != nil {
		totalCost = o.deps.Cost.TotalCost()
	}
	if _, err := o.runs.Record(store.DigestRun{
		ExecutionID:     executionID,
		CorrelationID:   correlationID,
		Mode:            mode,
		Success:         result.Success,
		EmailsFound:     result.EmailsFound,
		EmailsProcessed: result.EmailsProcessed,
		TotalCost:       totalCost,
		Message:         result.Message,
		Error:           result.Error,
		StartedAt:       runStart,
		FinishedAt:      time.Now(),
	}); err != nil {
		o.logger.Error("orchestrator: failed to record digest run", "execution_id", executionID, "error", err)
	}
}

func (o *Orchestrator) save(ctx context.Context, state checkpoint.RunState) {
	if o.checkpoints == nil {
		return
	}
	if err := o.checkpoints.Save(ctx, state); err != nil {
		o.logger.Warn("orchestrator: failed to save checkpoint", "execution_id", state.ExecutionID, "error", err)
	}
}

func (o *Orchestrator) clear(ctx context.Context, executionID string) {
	if o.checkpoints == nil {
		return
	}
	if err := o.checkpoints.Delete(ctx, executionID); err != nil {
		o.logger.Warn("orchestrator: failed to clear checkpoint", "execution_id", executionID, "error", err)
	}
}
