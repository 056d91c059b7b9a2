package webextract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestExtractURLs_DedupesAndCaps(t *testing.T) {
	body := strings.Repeat("see https://example.com/a and https://example.com/a again. ", 1) +
		"https://example.com/b https://example.com/c https://example.com/d https://example.com/e https://example.com/f"

	urls := ExtractURLs(body)
	if len(urls) != MaxURLsPerEmail {
		t.Fatalf("expected %d urls, got %d: %v", MaxURLsPerEmail, len(urls), urls)
	}
	if urls[0] != "https://example.com/a" {
		t.Errorf("expected first url to be the first distinct match, got %q", urls[0])
	}
}

func TestExtractURLs_TrimsTrailingPunctuation(t *testing.T) {
	urls := ExtractURLs("Check this out: https://example.com/page.")
	if len(urls) != 1 || urls[0] != "https://example.com/page" {
		t.Errorf("expected trailing period trimmed, got %v", urls)
	}
}

func TestExtractor_Extract_ReturnsArticleText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><nav>skip</nav><article><p>Hello world.</p></article></body></html>`))
	}))
	defer server.Close()

	e := New(5 * time.Second)
	text, err := e.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello world." {
		t.Errorf("unexpected extracted text: %q", text)
	}
}

func TestExtractor_Extract_TruncatesLongArticles(t *testing.T) {
	long := strings.Repeat("a", MaxArticleLength+500)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><article>" + long + "</article></body></html>"))
	}))
	defer server.Close()

	e := New(5 * time.Second)
	text, err := e.Extract(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(text) != MaxArticleLength {
		t.Errorf("expected truncation to %d chars, got %d", MaxArticleLength, len(text))
	}
}

func TestExtractor_Extract_FailsOnHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := New(5 * time.Second)
	if _, err := e.Extract(context.Background(), server.URL); err == nil {
		t.Error("expected an error for a 404 response")
	}
}

func TestExtractor_ExtractAll_DropsFailuresKeepsSuccesses(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><article>content</article></body></html>"))
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	e := New(5 * time.Second)
	results := e.ExtractAll(context.Background(), []string{ok.URL, bad.URL})

	if _, ok := results[ok.URL]; !ok {
		t.Error("expected successful URL present in results")
	}
	if _, ok := results[bad.URL]; ok {
		t.Error("expected failed URL omitted from results")
	}
}
