// Package websearch provides the web_search tool. Without a configured
// backend it answers with a placeholder and an empty result list.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rhuss/codeact/pkg/tools"
)

// Name is the catalog key of the tool.
const Name = "web_search"

// Parameters is the JSON Schema for web_search arguments.
var Parameters = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "The search query"},
    "num_results": {"type": "number", "description": "The number of results to return (default: 5)"}
  },
  "required": ["query"]
}`)

// DefaultResults is used when the caller does not pass num_results.
const DefaultResults = 5

// SearchResult holds a single search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Adapter is a pluggable search backend.
type Adapter interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// Config selects the search backend.
type Config struct {
	// Backend is "" for placeholder answers or "searxng".
	Backend string

	// URL is the SearXNG base URL.
	URL string

	// MaxResults caps num_results. Zero means no cap.
	MaxResults int
}

// Tool implements web_search.
type Tool struct {
	adapter    Adapter
	maxResults int
}

// New creates the tool from configuration.
func New(cfg Config) (*Tool, error) {
	t := &Tool{maxResults: cfg.MaxResults}

	switch cfg.Backend {
	case "":
	case "searxng":
		if cfg.URL == "" {
			return nil, fmt.Errorf("web_search: url is required for searxng backend")
		}
		t.adapter = NewSearXNG(cfg.URL)
	default:
		return nil, fmt.Errorf("web_search: unknown backend %q", cfg.Backend)
	}
	return t, nil
}

// NewWithAdapter creates the tool on top of an arbitrary backend.
func NewWithAdapter(a Adapter, maxResults int) *Tool {
	return &Tool{adapter: a, maxResults: maxResults}
}

// Descriptor returns the catalog entry for the tool.
func (t *Tool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        Name,
		Description: "Search the web for information on a given topic.",
		Parameters:  Parameters,
		Execute:     t.execute,
	}
}

func (t *Tool) execute(ctx context.Context, args map[string]any) (any, error) {
	query, err := tools.StringArg(args, "query")
	if err != nil {
		return nil, err
	}
	n, err := tools.IntArg(args, "num_results", DefaultResults)
	if err != nil {
		return nil, err
	}

	slog.Debug("web search", "query", query)

	if t.adapter == nil {
		return tools.Placeholder("Web search", map[string]any{"results": []SearchResult{}}), nil
	}

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if n <= 0 {
		n = DefaultResults
	}
	if t.maxResults > 0 && n > t.maxResults {
		n = t.maxResults
	}

	results, err := t.adapter.Search(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if results == nil {
		results = []SearchResult{}
	}
	return map[string]any{
		"success": true,
		"query":   query,
		"results": results,
	}, nil
}
