package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// FetchTool retrieves a web page and returns its text content with markup
// stripped, sized for inclusion in an agent prompt.
//
// Input:
//   - url (string, required)
//   - max_bytes (number, optional, default 256 KiB)
//
// Output: url, content_type, text, truncated.
type FetchTool struct {
	client *http.Client
}

// NewFetchTool creates a FetchTool.
func NewFetchTool() *FetchTool {
	return &FetchTool{client: &http.Client{Timeout: 30 * time.Second}}
}

// Name returns the tool identifier.
func (f *FetchTool) Name() string { return "fetch_url" }

const defaultFetchBytes = 256 << 10

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]+>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// Call fetches the URL.
func (f *FetchTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	maxBytes := defaultFetchBytes
	if n, ok := input["max_bytes"].(float64); ok && n > 0 {
		maxBytes = int(n)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", urlStr, resp.StatusCode)
	}

	// read one byte past the cap to detect truncation
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	truncated := len(body) > maxBytes
	if truncated {
		body = body[:maxBytes]
	}

	contentType := resp.Header.Get("Content-Type")
	text := string(body)
	if strings.Contains(contentType, "text/html") {
		text = stripHTML(text)
	}

	return map[string]interface{}{
		"url":          urlStr,
		"content_type": contentType,
		"text":         text,
		"truncated":    truncated,
	}, nil
}

// stripHTML reduces an HTML document to readable text.
func stripHTML(html string) string {
	text := scriptRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, "\n")
	text = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(text)
	text = spaceRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	text = strings.Join(kept, "\n")
	return blankRe.ReplaceAllString(text, "\n\n")
}
