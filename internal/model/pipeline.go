package model

import "time"

// Stage identifies one step of the seven-stage processing graph. The fixed
// order below is the only valid sequence a PipelineMessage's
// PreviousStages history may ever be a prefix of.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageClassify Stage = "classify"
	StageExtract  Stage = "extract"
	StageResearch Stage = "research"
	StageAnalyze  Stage = "analyze"
	StageCritique Stage = "critique"
	StageSend     Stage = "send"

	// StageErrorHandler is not part of the fixed forward sequence; it is
	// the terminal branch fatal/exhausted-retryable errors route to.
	StageErrorHandler Stage = "error_handler"
)

// StageOrder is the fixed forward sequence stages execute in.
var StageOrder = []Stage{StageFetch, StageClassify, StageExtract, StageResearch, StageAnalyze, StageCritique, StageSend}

// PayloadLocation distinguishes an inline envelope payload from one
// offloaded to BlobStore.
type PayloadLocation string

const (
	PayloadInline PayloadLocation = "inline"
	PayloadS3     PayloadLocation = "s3"
)

// InlineThresholdBytes is the size above which a stage's output MUST be
// offloaded rather than carried inline in the envelope. PayloadManager is
// the component that actually enforces this; it lives here too since it is
// part of the PayloadReference contract itself.
const InlineThresholdBytes = 200 * 1024

// PayloadReference is either an inline blob or a pointer into BlobStore.
// Producers decide per-message which form to use; correctness of a stage
// that receives a PayloadReference never depends on which form it took.
type PayloadReference struct {
	Location  PayloadLocation `json:"location"`
	Data      []byte          `json:"data,omitempty"`
	Key       string          `json:"key,omitempty"`
	SizeBytes int             `json:"size_bytes"`
}

// IsInline reports whether the payload's bytes travel inside the envelope.
func (p PayloadReference) IsInline() bool {
	return p.Location == PayloadInline
}

// StageTransition records one completed stage's runtime and outcome, as
// appended to PipelineMetadata.PreviousStages by FromPrevious.
type StageTransition struct {
	Stage      Stage         `json:"stage"`
	DurationMs int64         `json:"duration_ms"`
	Success    bool          `json:"success"`
}

// PipelineMetadata carries the running counters and stage-transition
// history for a correlation_id's worth of work.
type PipelineMetadata struct {
	EmailCount            int               `json:"email_count"`
	ProcessedCount         int               `json:"processed_count"`
	SkippedCount           int               `json:"skipped_count"`
	ErrorCount             int               `json:"error_count"`
	CostSoFar              float64           `json:"cost_so_far"`
	StartTimeMs            int64             `json:"start_time"`
	CurrentStageStartTimeMs int64            `json:"current_stage_start_time"`
	PreviousStages         []StageTransition `json:"previous_stages"`
}

// PipelineError describes a failure raised by a stage handler. Retryable
// drives whether the Orchestrator reruns the stage from its inputs or
// routes the message to the Error Handler stage.
type PipelineError struct {
	Code      ErrorCode `json:"code"`
	Stage     Stage     `json:"stage"`
	Timestamp string    `json:"timestamp"` // RFC3339
	Retryable bool      `json:"retryable"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// ErrorCode is the §7 error taxonomy.
type ErrorCode string

const (
	ErrAuthInvalid      ErrorCode = "auth_invalid"
	ErrValidation       ErrorCode = "validation"
	ErrBudgetExceeded   ErrorCode = "budget_exceeded"
	ErrCircuitOpen      ErrorCode = "circuit_open"
	ErrRateLimited      ErrorCode = "rate_limited"
	ErrTransientNetwork ErrorCode = "transient_network"
	ErrLLMResponseInvalid ErrorCode = "llm_response_invalid"
	ErrDeliveryFailed   ErrorCode = "delivery_failed"
	ErrFatal            ErrorCode = "fatal"
)

// retryableCodes lists which taxonomy entries are retryable by definition.
// llm_response_invalid is "retryable once" — callers that have already
// retried once should treat a repeat as non-retryable and fall back.
var retryableCodes = map[ErrorCode]bool{
	ErrCircuitOpen:        true,
	ErrRateLimited:        true,
	ErrTransientNetwork:   true,
	ErrLLMResponseInvalid: true,
}

// NewPipelineError builds a PipelineError, deriving Retryable from the
// error-taxonomy table in §7 unless the caller overrides it.
func NewPipelineError(code ErrorCode, stage Stage, message string) *PipelineError {
	return &PipelineError{
		Code:      code,
		Stage:     stage,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Retryable: retryableCodes[code],
		Message:   message,
	}
}

// PipelineMessage is the envelope that flows between stage handlers.
type PipelineMessage struct {
	CorrelationID string            `json:"correlation_id"`
	BatchID       string            `json:"batch_id"`
	Stage         Stage             `json:"stage"`
	TimestampMs   int64             `json:"timestamp_ms"`
	Payload       PayloadReference  `json:"payload"`
	Metadata      PipelineMetadata  `json:"metadata"`
	Error         *PipelineError    `json:"error,omitempty"`
}

// FromPrevious builds the next stage's envelope from the previous one:
// carries correlation_id/batch_id forward, appends the completed stage's
// runtime and outcome to previous_stages, and sets the new stage and
// payload. The caller (a stage handler or the Orchestrator) supplies the
// already-decided payload for the new stage — FromPrevious never inspects
// payload size itself, that's PayloadManager's job.
func FromPrevious(prev PipelineMessage, nextStage Stage, payload PayloadReference, stageDuration time.Duration, stageSucceeded bool) PipelineMessage {
	metadata := prev.Metadata
	metadata.PreviousStages = append(append([]StageTransition{}, metadata.PreviousStages...), StageTransition{
		Stage:      prev.Stage,
		DurationMs: stageDuration.Milliseconds(),
		Success:    stageSucceeded,
	})
	metadata.CurrentStageStartTimeMs = time.Now().UnixMilli()

	return PipelineMessage{
		CorrelationID: prev.CorrelationID,
		BatchID:       prev.BatchID,
		Stage:         nextStage,
		TimestampMs:   time.Now().UnixMilli(),
		Payload:       payload,
		Metadata:      metadata,
	}
}

// NewRunMessage starts a fresh envelope for a new correlation_id (one per
// run or sub-batch), with metadata zeroed and start_time stamped now.
func NewRunMessage(correlationID, batchID string) PipelineMessage {
	now := time.Now().UnixMilli()
	return PipelineMessage{
		CorrelationID: correlationID,
		BatchID:       batchID,
		Stage:         StageFetch,
		TimestampMs:   now,
		Metadata: PipelineMetadata{
			StartTimeMs:             now,
			CurrentStageStartTimeMs: now,
		},
	}
}
