// Package llm implements C9: a JSON-mode chat-completion client used by
// the Classify, Analyze, and Critique stages, with a tiered model
// selection (quality vs. cost) and a hand-rolled request rate limiter.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Tier selects which configured model a call should use.
type Tier string

const (
	// TierQuality is GPT-4o-class, used by Analyze (§4.6).
	TierQuality Tier = "quality"
	// TierFast is GPT-4o-mini-class, used by Classify and Critique (§4.3, §4.7).
	TierFast Tier = "fast"
)

// Config configures the Client.
type Config struct {
	Provider      string // "openai" or "local"
	APIKey        string
	Endpoint      string // overrides the provider default, used for local/Ollama
	QualityModel  string
	FastModel     string
	Timeout       time.Duration
	MaxRetries    int
	RateLimitRPM  int
}

// Client is C9.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// New constructs a Client.
func New(cfg Config) *Client {
	if cfg.RateLimitRPM <= 0 {
		cfg.RateLimitRPM = 60
	}
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: NewRateLimiter(cfg.RateLimitRPM, time.Minute, time.Second),
	}
}

// ChatRequest is a JSON-mode chat-completion request.
type ChatRequest struct {
	Tier         Tier
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float64
}

// Complete issues a chat-completion call and returns the raw JSON-mode
// response text. Callers are responsible for unmarshaling it into the
// shape they expect (classify's per-id map, analyze's Summary, etc.)
// since each stage's response schema differs.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limiter: %w", err)
	}

	model := c.modelFor(req.Tier)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := c.doRequest(ctx, model, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("llm completion failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) modelFor(tier Tier) string {
	switch c.cfg.Provider {
	case "local":
		return c.cfg.FastModel
	default:
		if tier == TierQuality {
			return c.cfg.QualityModel
		}
		return c.cfg.FastModel
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) doRequest(ctx context.Context, model string, req ChatRequest) (string, error) {
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}

	body := openAIChatRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserPrompt},
		},
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal llm request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build llm request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read llm response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("llm API returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal llm response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm response contained no choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

// RateLimiter bounds outbound calls to maxRequests per window, additionally
// enforcing minInterval between any two consecutive calls for burst
// protection.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	minInterval time.Duration
	requests    []time.Time
	lastRequest time.Time
}

// NewRateLimiter constructs a RateLimiter.
func NewRateLimiter(maxRequests int, window, minInterval time.Duration) *RateLimiter {
	return &RateLimiter{maxRequests: maxRequests, window: window, minInterval: minInterval}
}

func (rl *RateLimiter) allow() (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	if !rl.lastRequest.IsZero() {
		since := now.Sub(rl.lastRequest)
		if since < rl.minInterval {
			return false, rl.minInterval - since
		}
	}

	cutoff := now.Add(-rl.window)
	start := 0
	for i, t := range rl.requests {
		if t.After(cutoff) {
			start = i
			break
		}
		start = i + 1
	}
	rl.requests = rl.requests[start:]

	if len(rl.requests) >= rl.maxRequests {
		wait := rl.window - now.Sub(rl.requests[0])
		if wait > 0 {
			return false, wait
		}
	}

	rl.requests = append(rl.requests, now)
	rl.lastRequest = now
	return true, 0
}

// Wait blocks until a call is permitted or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		ok, wait := rl.allow()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
