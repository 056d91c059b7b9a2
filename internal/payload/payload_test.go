package payload

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

type fakeBlob struct {
	objects map[string][]byte
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{objects: make(map[string][]byte)}
}

func (f *fakeBlob) Put(_ context.Context, key string, data []byte) error {
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlob) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *fakeBlob) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func TestManager_Store_SmallPayloadStaysInline(t *testing.T) {
	blob := newFakeBlob()
	mgr := New(blob, model.InlineThresholdBytes)

	data := []byte("small payload")
	ref, err := mgr.Store(context.Background(), data, "corr-1", model.StageClassify)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Location != model.PayloadInline {
		t.Errorf("expected inline reference, got %v", ref.Location)
	}
	if len(blob.objects) != 0 {
		t.Error("expected no objects written to blob store for inline payload")
	}
}

func TestManager_Store_LargePayloadOffloads(t *testing.T) {
	blob := newFakeBlob()
	mgr := New(blob, 10)

	data := bytes.Repeat([]byte("x"), 100)
	ref, err := mgr.Store(context.Background(), data, "corr-2", model.StageExtract)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Location != model.PayloadS3 {
		t.Errorf("expected s3 reference, got %v", ref.Location)
	}
	if ref.Key == "" {
		t.Error("expected a non-empty key for an offloaded payload")
	}
	if _, ok := blob.objects[ref.Key]; !ok {
		t.Error("expected payload to be written to blob store at ref.Key")
	}
}

func TestManager_RoundTrip_InlineAndOffloaded(t *testing.T) {
	blob := newFakeBlob()
	mgr := New(blob, 10)

	cases := [][]byte{
		[]byte("tiny"),
		bytes.Repeat([]byte("y"), 500),
	}

	for _, original := range cases {
		ref, err := mgr.Store(context.Background(), original, "corr-3", model.StageAnalyze)
		if err != nil {
			t.Fatalf("Store failed: %v", err)
		}
		got, err := mgr.Retrieve(context.Background(), ref)
		if err != nil {
			t.Fatalf("Retrieve failed: %v", err)
		}
		if !bytes.Equal(got, original) {
			t.Errorf("round trip mismatch: got %q, want %q", got, original)
		}
	}
}

func TestManager_Delete_InlineIsNoop(t *testing.T) {
	blob := newFakeBlob()
	mgr := New(blob, model.InlineThresholdBytes)

	ref := model.PayloadReference{Location: model.PayloadInline, Data: []byte("x")}
	if err := mgr.Delete(context.Background(), ref); err != nil {
		t.Errorf("expected no error deleting an inline reference, got %v", err)
	}
}

func TestManager_Delete_OffloadedRemovesFromBlobStore(t *testing.T) {
	blob := newFakeBlob()
	mgr := New(blob, 1)

	ref, err := mgr.Store(context.Background(), []byte("big enough"), "corr-4", model.StageSend)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := mgr.Delete(context.Background(), ref); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := blob.objects[ref.Key]; ok {
		t.Error("expected object removed from blob store after Delete")
	}
}
