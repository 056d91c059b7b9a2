package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Search_ParsesResultsAndCapsCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "test-key" {
			t.Errorf("expected api key header to be set")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[
			{"title":"A","description":"a desc","url":"https://a.example"},
			{"title":"B","description":"b desc","url":"https://b.example"},
			{"title":"C","description":"c desc","url":"https://c.example"},
			{"title":"D","description":"d desc","url":"https://d.example"}
		]}}`))
	}))
	defer server.Close()

	client := New(Config{APIKey: "test-key", Endpoint: server.URL, Timeout: 5 * time.Second})
	results, err := client.Search(context.Background(), "AI news")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != MaxResultsPerQuery {
		t.Fatalf("expected results capped at %d, got %d", MaxResultsPerQuery, len(results))
	}
	if results[0].Title != "A" || results[0].URL != "https://a.example" {
		t.Errorf("unexpected first result: %+v", results[0])
	}
}

func TestClient_Search_FailsOnHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(Config{APIKey: "k", Endpoint: server.URL, Timeout: 5 * time.Second})
	if _, err := client.Search(context.Background(), "q"); err == nil {
		t.Error("expected an error for a non-2xx response")
	}
}

func TestBuildQuery_UsesSubjectVerbatim(t *testing.T) {
	if got := BuildQuery("New GPT model released"); got != "New GPT model released" {
		t.Errorf("unexpected query: %q", got)
	}
}
