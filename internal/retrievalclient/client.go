// Package retrievalclient is the HTTP client for the remote knowledge
// retrieval service. The retrieval computation itself is an opaque remote
// capability; only the wire contract lives here.
package retrievalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Resolver is the subset of the dispatcher the client needs.
type Resolver interface {
	Resolve(ctx context.Context, service string) (string, error)
}

type Client struct {
	resolver Resolver
	service  string
	client   *http.Client
}

// New creates a retrieval client resolving the given logical service name.
func New(resolver Resolver, service string, timeout time.Duration) *Client {
	return &Client{
		resolver: resolver,
		service:  service,
		client:   &http.Client{Timeout: timeout},
	}
}

// Result is one ranked content snippet with its provenance metadata.
type Result struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Source returns the provenance label for the result, "unknown" when the
// indexer recorded none.
func (r Result) Source() string {
	if s, ok := r.Metadata["source"]; ok && s != "" {
		return s
	}
	return "unknown"
}

type searchRequest struct {
	QueryText string  `json:"query_text"`
	TopK      int     `json:"top_k"`
	MinScore  float64 `json:"min_score"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search runs a similarity search for query and returns the ranked snippets.
func (c *Client) Search(ctx context.Context, query string, topK int, minScore float64) ([]Result, error) {
	addr, err := c.resolver.Resolve(ctx, c.service)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", c.service, err)
	}

	body, err := json.Marshal(searchRequest{QueryText: query, TopK: topK, MinScore: minScore})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", addr, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("retrieval returned status %d: %s", res.StatusCode, snippet)
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return out.Results, nil
}
