// Package payload implements C7: the inline-vs-offloaded decision for a
// stage's output, storing and retrieving offloaded payloads via BlobStore.
package payload

import (
	"context"
	"fmt"
	"time"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

// Blob is the subset of store.BlobStore that Manager depends on, kept as
// an interface so tests can fake it without a real S3 bucket.
type Blob interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Manager is C7.
type Manager struct {
	blob             Blob
	inlineThreshold  int
	now              func() time.Time
}

// New constructs a Manager. inlineThresholdBytes is the size above which
// Store offloads to BlobStore (200 KiB per spec §4.11).
func New(blob Blob, inlineThresholdBytes int) *Manager {
	return &Manager{blob: blob, inlineThreshold: inlineThresholdBytes, now: time.Now}
}

// Store decides inline-vs-offload for data and returns the resulting
// PayloadReference. Key format for offloaded payloads:
// payloads/YYYY-MM-DD/{correlation_id}/{stage}-{unix_ms}.json
func (m *Manager) Store(ctx context.Context, data []byte, correlationID string, stage model.Stage) (model.PayloadReference, error) {
	size := len(data)
	if size <= m.inlineThreshold {
		return model.PayloadReference{
			Location:  model.PayloadInline,
			Data:      data,
			SizeBytes: size,
		}, nil
	}

	now := m.now()
	key := fmt.Sprintf("payloads/%s/%s/%s-%d.json", now.Format("2006-01-02"), correlationID, stage, now.UnixMilli())

	if err := m.blob.Put(ctx, key, data); err != nil {
		return model.PayloadReference{}, fmt.Errorf("offload payload for %s/%s: %w", correlationID, stage, err)
	}

	return model.PayloadReference{
		Location:  model.PayloadS3,
		Key:       key,
		SizeBytes: size,
	}, nil
}

// Retrieve reads a PayloadReference's bytes back, from the envelope
// itself if inline or from BlobStore if offloaded.
func (m *Manager) Retrieve(ctx context.Context, ref model.PayloadReference) ([]byte, error) {
	if ref.IsInline() {
		return ref.Data, nil
	}
	data, err := m.blob.Get(ctx, ref.Key)
	if err != nil {
		return nil, fmt.Errorf("retrieve offloaded payload %s: %w", ref.Key, err)
	}
	return data, nil
}

// Delete removes an offloaded payload. Best-effort: callers should log
// rather than fail on error, per §4.11's "Delete is best-effort" note.
// Inline references have nothing to delete.
func (m *Manager) Delete(ctx context.Context, ref model.PayloadReference) error {
	if ref.IsInline() {
		return nil
	}
	return m.blob.Delete(ctx, ref.Key)
}
