// Package checkpoint persists in-flight run progress to Redis so the API
// layer's GET /execution/{id} can answer for a run that hasn't finished
// (and therefore has no DigestRunStore row yet), and so the Orchestrator
// has a record to inspect after an ungraceful restart.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

// TTL is how long a pipeline_state entry survives past its last update.
// A run's entire cumulative budget (15 min) fits comfortably inside it;
// the margin covers a slow Send plus whatever time the API layer takes
// to read the final state before the DigestRunStore row lands.
const TTL = 2 * time.Hour

func keyFor(executionID string) string {
	return "pipeline_state:" + executionID
}

// RunState is the snapshot the Orchestrator writes when a run starts and
// again when it enters Classify; later stages do not update it.
type RunState struct {
	CorrelationID   string      `json:"correlation_id"`
	BatchID         string      `json:"batch_id"`
	ExecutionID     string      `json:"execution_id"`
	Mode            model.RunMode `json:"mode"`
	Stage           model.Stage `json:"stage"`
	StartedAtMs     int64       `json:"started_at_ms"`
	UpdatedAtMs     int64       `json:"updated_at_ms"`
	Done            bool        `json:"done"`
	Success         bool        `json:"success"`
	EmailsFound     int         `json:"emails_found"`
	EmailsProcessed int         `json:"emails_processed"`
	Message         string      `json:"message"`
	Error           string      `json:"error,omitempty"`
}

// Config configures a Store.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store is C14's checkpoint backing store, over go-redis.
type Store struct {
	client *redis.Client
}

// New constructs a Store. It does not ping eagerly — callers that want a
// fail-fast startup should call Ping themselves before serving.
func New(cfg Config) *Store {
	return &Store{client: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// Ping verifies connectivity, for use at process startup.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Save upserts a run's latest state with a refreshed TTL, keyed by
// state.ExecutionID (the stable ID the API layer's GET /execution/{id}
// looks runs up by — distinct from the per-sub-batch correlation_id).
func (s *Store) Save(ctx context.Context, state RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	if err := s.client.Set(ctx, keyFor(state.ExecutionID), data, TTL).Err(); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", state.ExecutionID, err)
	}
	return nil
}

// Get returns the run state for executionID, or nil if it has expired or
// never existed.
func (s *Store) Get(ctx context.Context, executionID string) (*RunState, error) {
	data, err := s.client.Get(ctx, keyFor(executionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", executionID, err)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", executionID, err)
	}
	return &state, nil
}

// Delete removes a run's checkpoint, called once its DigestRunStore row
// is durably recorded.
func (s *Store) Delete(ctx context.Context, executionID string) error {
	return s.client.Del(ctx, keyFor(executionID)).Err()
}
