// Package websearch implements C11: a query-to-ranked-results client used
// by the Research stage (§4.5) to surface a handful of related links for
// each AI email.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// MaxResultsPerQuery bounds how many results Research attaches per email.
const MaxResultsPerQuery = 3

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Client is C11, backed by the Brave Search API.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	APIKey   string
	Endpoint string // defaults to Brave's search endpoint
	Timeout  time.Duration
}

// New constructs a Client.
func New(cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.search.brave.com/res/v1/web/search"
	}
	return &Client{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
		} `json:"results"`
	} `json:"web"`
}

// Search issues a query and returns up to MaxResultsPerQuery results.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	reqURL := c.endpoint + "?q=" + url.QueryEscape(query) + fmt.Sprintf("&count=%d", MaxResultsPerQuery)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("X-Subscription-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Web.Results))
	for i, r := range parsed.Web.Results {
		if i >= MaxResultsPerQuery {
			break
		}
		results = append(results, Result{Title: r.Title, Snippet: r.Description, URL: r.URL})
	}
	return results, nil
}

// BuildQuery derives a search query from an email subject, per §4.5's
// "issue one to few WebSearch queries derived from the subject/title".
func BuildQuery(subject string) string {
	return subject
}
