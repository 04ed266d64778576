package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/models"
)

const googleSearchURL = "https://www.googleapis.com/customsearch/v1"

// dateRestrict maps the tool-facing date range names onto the Google
// Custom Search dateRestrict parameter.
var dateRestrict = map[string]string{
	"past_hour":  "d1",
	"past_day":   "d1",
	"past_week":  "w1",
	"past_month": "m1",
	"past_year":  "y1",
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// SearchTool queries the Google Custom Search API. It is only registered
// when an API key and engine ID are configured.
type SearchTool struct {
	apiKey     string
	cx         string
	baseURL    string
	httpClient *http.Client
}

// NewSearchTool creates the search tool.
func NewSearchTool(apiKey, cx string) *SearchTool {
	return &SearchTool{
		apiKey:     apiKey,
		cx:         cx,
		baseURL:    googleSearchURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns "search".
func (t *SearchTool) Name() string { return "search" }

// Functions lists the search functions.
func (t *SearchTool) Functions() []Function {
	return []Function{
		{
			Name:        "info_search_web",
			Description: "Search web pages using a search engine. Use for obtaining the latest information or finding references.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "Search query in Google search style, using 3-5 keywords"},
					"date_range": {
						"type": "string",
						"enum": ["all", "past_hour", "past_day", "past_week", "past_month", "past_year"],
						"description": "(Optional) Time range filter for search results"
					}
				},
				"required": ["query"]
			}`),
			Handler: func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
				return t.search(ctx, stringArg(args, "query"), stringArg(args, "date_range"))
			},
		},
	}
}

func (t *SearchTool) search(ctx context.Context, query, dateRange string) (*models.ToolResult, error) {
	params := url.Values{}
	params.Set("key", t.apiKey)
	params.Set("cx", t.cx)
	params.Set("q", query)
	if restrict, ok := dateRestrict[dateRange]; ok && dateRange != "all" {
		params.Set("dateRestrict", restrict)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling search API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var body struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
		SearchInformation struct {
			TotalResults string `json:"totalResults"`
		} `json:"searchInformation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]SearchResult, 0, len(body.Items))
	for _, item := range body.Items {
		results = append(results, SearchResult{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
	}
	return models.OkData("", map[string]any{
		"query":         query,
		"date_range":    dateRange,
		"results":       results,
		"total_results": body.SearchInformation.TotalResults,
	}), nil
}
