package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/draftsmith/researchcache/pkg/types"
)

// HTTPFetcher is the fresh-fetch callback at the serving boundary: a POST
// to a configured research endpoint. The engine itself stays agnostic to
// where fresh research comes from.
type HTTPFetcher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPFetcher creates a fetcher for the given endpoint. A nil client
// gets a default with a generous timeout; the retriever applies its own
// fresh-tier deadline via context.
func NewHTTPFetcher(endpoint string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &HTTPFetcher{endpoint: endpoint, client: client}
}

// Fetch performs one research request. Errors are plain; the retriever
// wraps them in types.ErrUpstream.
func (f *HTTPFetcher) Fetch(ctx context.Context, query string) (*types.ResearchResult, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("marshal research request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create research request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("research request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("research endpoint returned %d: %s", resp.StatusCode, payload)
	}

	var result types.ResearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode research response: %w", err)
	}
	if result.Query == "" {
		result.Query = query
	}
	if result.RetrievedAt.IsZero() {
		result.RetrievedAt = time.Now().UTC()
	}
	return &result, nil
}

// cacheOnlyFetch stands in when no research endpoint is configured.
func cacheOnlyFetch(ctx context.Context, query string) (*types.ResearchResult, error) {
	return nil, fmt.Errorf("no research endpoint configured (%s)", EnvResearchEndpoint)
}
