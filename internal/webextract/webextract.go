// Package webextract implements C10: fetching a URL and extracting its
// readable article text, used by the Extract stage (§4.4) to augment an
// AI email with the content of any links it references.
package webextract

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// MaxArticleLength truncates extracted text to 5000 chars, per §4.4.
const MaxArticleLength = 5000

// MaxURLsPerEmail bounds how many links the Extract stage will pull from
// one email's body, per §4.4.
const MaxURLsPerEmail = 5

// ConcurrencyLimit bounds simultaneous in-flight URL fetches, per §4.4.
const ConcurrencyLimit = 5

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')]+`)

// ExtractURLs returns up to MaxURLsPerEmail unique URLs found in body.
func ExtractURLs(body string) []string {
	matches := urlPattern.FindAllString(body, -1)
	seen := make(map[string]bool, len(matches))
	urls := make([]string, 0, MaxURLsPerEmail)
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:!?")
		if seen[m] {
			continue
		}
		seen[m] = true
		urls = append(urls, m)
		if len(urls) == MaxURLsPerEmail {
			break
		}
	}
	return urls
}

// Extractor is C10.
type Extractor struct {
	httpClient *http.Client
}

// New constructs an Extractor with the given per-request timeout.
func New(timeout time.Duration) *Extractor {
	return &Extractor{httpClient: &http.Client{Timeout: timeout}}
}

// Extract fetches url and returns its article text, truncated to
// MaxArticleLength. Failures are the caller's to log-and-drop per §4.4's
// failure policy — this function returns the error rather than
// swallowing it so the caller can decide.
func (e *Extractor) Extract(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ai-digest/1.0)")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", url, err)
	}

	doc.Find("script, style, nav, header, footer, aside").Remove()

	text := articleText(doc)
	if len(text) > MaxArticleLength {
		text = text[:MaxArticleLength]
	}
	return text, nil
}

func articleText(doc *goquery.Document) string {
	selection := doc.Find("article")
	if selection.Length() == 0 {
		selection = doc.Find("main")
	}
	if selection.Length() == 0 {
		selection = doc.Find("body")
	}

	text := selection.Text()
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// ExtractAll extracts all URLs concurrently, bounded by ConcurrencyLimit.
// Failures for individual URLs are omitted from the result map rather
// than aborting the batch, per §4.4.
func (e *Extractor) ExtractAll(ctx context.Context, urls []string) map[string]string {
	results := make(map[string]string, len(urls))
	var mu sync.Mutex
	sem := make(chan struct{}, ConcurrencyLimit)
	var wg sync.WaitGroup

	for _, u := range urls {
		u := u
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			text, err := e.Extract(ctx, u)
			if err != nil {
				return
			}
			mu.Lock()
			results[u] = text
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}
