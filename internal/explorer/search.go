package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DuckDuckGoSearcher queries the DuckDuckGo instant answer API. It needs no
// API key, which keeps self-directed exploration usable out of the box.
type DuckDuckGoSearcher struct {
	client  *http.Client
	baseURL string
}

// NewDuckDuckGoSearcher builds a searcher with a bounded HTTP client.
func NewDuckDuckGoSearcher(timeout time.Duration) *DuckDuckGoSearcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DuckDuckGoSearcher{
		client:  &http.Client{Timeout: timeout},
		baseURL: "https://api.duckduckgo.com/",
	}
}

type ddgResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search implements Searcher.
func (s *DuckDuckGoSearcher) Search(ctx context.Context, query string, max int) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	var parsed ddgResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	var results []Result
	if strings.TrimSpace(parsed.AbstractText) != "" {
		results = append(results, Result{
			Title:   parsed.Heading,
			Content: parsed.AbstractText,
			URL:     parsed.AbstractURL,
		})
	}
	for _, rt := range parsed.RelatedTopics {
		if len(results) >= max {
			break
		}
		if strings.TrimSpace(rt.Text) == "" {
			continue
		}
		results = append(results, Result{
			Title:   rt.Text,
			Content: rt.Text,
			URL:     rt.FirstURL,
		})
	}
	if len(results) > max {
		results = results[:max]
	}
	return results, nil
}
