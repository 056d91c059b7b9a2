package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Complete_ReturnsMessageContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openAIChatResponse{}
		resp.Choices = []struct {
			Message openAIMessage `json:"message"`
		}{{Message: openAIMessage{Role: "assistant", Content: `{"classification":"AI","confidence":90}`}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := New(Config{Provider: "openai", APIKey: "key", Endpoint: server.URL, QualityModel: "gpt-4o", FastModel: "gpt-4o-mini", Timeout: 5 * time.Second, RateLimitRPM: 1000})

	text, err := client.Complete(context.Background(), ChatRequest{Tier: TierFast, SystemPrompt: "sys", UserPrompt: "user"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != `{"classification":"AI","confidence":90}` {
		t.Errorf("unexpected content: %q", text)
	}
}

func TestClient_Complete_RetriesOnServerError(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := openAIChatResponse{}
		resp.Choices = []struct {
			Message openAIMessage `json:"message"`
		}{{Message: openAIMessage{Content: "ok"}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := New(Config{Provider: "openai", Endpoint: server.URL, FastModel: "gpt-4o-mini", Timeout: 5 * time.Second, MaxRetries: 2, RateLimitRPM: 1000})

	text, err := client.Complete(context.Background(), ChatRequest{Tier: TierFast, SystemPrompt: "s", UserPrompt: "u"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" {
		t.Errorf("expected successful retry, got %q", text)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestClient_Complete_FailsAfterExhaustingRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(Config{Provider: "openai", Endpoint: server.URL, FastModel: "gpt-4o-mini", Timeout: 5 * time.Second, MaxRetries: 1, RateLimitRPM: 1000})

	if _, err := client.Complete(context.Background(), ChatRequest{Tier: TierFast, SystemPrompt: "s", UserPrompt: "u"}); err == nil {
		t.Error("expected error after exhausting retries")
	}
}

func TestClient_ModelFor_SelectsTierByProvider(t *testing.T) {
	c := New(Config{Provider: "openai", QualityModel: "gpt-4o", FastModel: "gpt-4o-mini"})
	if got := c.modelFor(TierQuality); got != "gpt-4o" {
		t.Errorf("expected quality model, got %q", got)
	}
	if got := c.modelFor(TierFast); got != "gpt-4o-mini" {
		t.Errorf("expected fast model, got %q", got)
	}

	local := New(Config{Provider: "local", FastModel: "llama3"})
	if got := local.modelFor(TierQuality); got != "llama3" {
		t.Errorf("expected local provider to always use its single model, got %q", got)
	}
}

func TestRateLimiter_EnforcesMinInterval(t *testing.T) {
	rl := NewRateLimiter(100, time.Minute, 20*time.Millisecond)

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected second call to wait for min interval, elapsed %v", elapsed)
	}
}

func TestRateLimiter_RespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour, 0)
	_ = rl.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("expected context deadline to cancel a blocked Wait")
	}
}
