package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

// WebSearch queries a SearxNG-compatible endpoint and returns the top results
// as a JSON payload for the model.
type WebSearch struct {
	endpoint   string
	maxResults int
	httpClient *http.Client
}

func NewWebSearch(endpoint string, maxResults int) *WebSearch {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearch{
		endpoint:   strings.TrimRight(endpoint, "/"),
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *WebSearch) Name() string { return "web_search" }

func (t *WebSearch) Description() string {
	return "Search the web for current information. Input: {\"query\": string}."
}

func (t *WebSearch) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query."}
		},
		"required": ["query"]
	}`)
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

func (t *WebSearch) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "web search", fmt.Errorf("query is required"))
	}
	if t.endpoint == "" {
		return "", domain.WrapError(domain.ErrTemporary, "web search", fmt.Errorf("no search endpoint configured"))
	}

	searchURL := fmt.Sprintf("%s/search?format=json&q=%s", t.endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return "", fmt.Errorf("create search request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", domain.WrapError(domain.ErrTemporary, "web search",
			fmt.Errorf("search status %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	results := make([]searchResult, 0, t.maxResults)
	for _, r := range payload.Results {
		if len(results) == t.maxResults {
			break
		}
		results = append(results, searchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}

	out, err := json.Marshal(map[string]any{"query": query, "results": results})
	if err != nil {
		return "", fmt.Errorf("marshal search results: %w", err)
	}
	return string(out), nil
}
