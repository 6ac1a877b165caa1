package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SearchResult is one hit returned by the search backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchTool queries a JSON web-search API (Tavily-style: POST with api_key,
// query and max_results). The research agent uses it to gather sources
// during task execution.
//
// Input:
//   - query (string, required)
//   - max_results (number, optional, default 5, capped at 20)
//
// Output: results ([]SearchResult as maps), count.
type SearchTool struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewSearchTool creates a SearchTool against the given endpoint.
func NewSearchTool(endpoint, apiKey string) *SearchTool {
	return &SearchTool{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

// Name returns the tool identifier.
func (s *SearchTool) Name() string { return "web_search" }

// Call executes the search.
func (s *SearchTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	query, ok := input["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("query parameter required (string)")
	}

	maxResults := 5
	if n, ok := input["max_results"].(float64); ok && n > 0 {
		maxResults = int(n)
	}
	if maxResults > 20 {
		maxResults = 20
	}

	payload, err := json.Marshal(map[string]interface{}{
		"api_key":     s.apiKey,
		"query":       query,
		"max_results": maxResults,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned %d", resp.StatusCode)
	}

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]interface{}, 0, len(body.Results))
	for _, r := range body.Results {
		snippet := r.Snippet
		if snippet == "" {
			snippet = r.Content
		}
		results = append(results, map[string]interface{}{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": snippet,
		})
	}

	return map[string]interface{}{
		"results": results,
		"count":   len(results),
	}, nil
}
