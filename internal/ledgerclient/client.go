// Package ledgerclient is the HTTP client for the ledger service, resolving
// a live instance through the dispatcher on every call.
package ledgerclient

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

// New creates a ledger client that resolves the given logical service name.
// timeout bounds each individual RPC, on top of any caller context deadline.
func New(resolver Resolver, service string, timeout time.Duration) *Client {
	return &Client{
		resolver: resolver,
		service:  service,
		client:   &http.Client{Timeout: timeout},
	}
}

type balanceResponse struct {
	HasSufficientFunds bool    `json:"has_sufficient_funds"`
	CurrentBalance     float64 `json:"current_balance"`
}

// MutationResult mirrors the ledger's debit/credit response.
type MutationResult struct {
	Success          bool    `json:"success"`
	RemainingBalance float64 `json:"remaining_balance"`
	Message          string  `json:"message"`
}

type mutationRequest struct {
	UserID        string `json:"user_id"`
	TokenCount    int    `json:"token_count"`
	ModelName     string `json:"model_name"`
	TransactionID string `json:"transaction_id"`
}

// CheckBalance asks the ledger whether the user has any spendable balance.
func (c *Client) CheckBalance(ctx context.Context, userID string) (bool, float64, error) {
	var resp balanceResponse
	err := c.post(ctx, "/api/v1/balance/check", map[string]string{"user_id": userID}, &resp)
	if err != nil {
		return false, 0, err
	}
	return resp.HasSufficientFunds, resp.CurrentBalance, nil
}

// Debit reserves token_count worth of credits against the user's wallet.
func (c *Client) Debit(ctx context.Context, userID string, tokenCount int, modelName, transactionID string) (*MutationResult, error) {
	return c.mutate(ctx, "/api/v1/debit", userID, tokenCount, modelName, transactionID)
}

// Credit returns previously debited credits; the transaction ID lets the
// ledger deduplicate a retried compensation.
func (c *Client) Credit(ctx context.Context, userID string, tokenCount int, modelName, transactionID string) (*MutationResult, error) {
	return c.mutate(ctx, "/api/v1/credit", userID, tokenCount, modelName, transactionID)
}

func (c *Client) mutate(ctx context.Context, path, userID string, tokenCount int, modelName, transactionID string) (*MutationResult, error) {
	var resp MutationResult
	err := c.post(ctx, path, mutationRequest{
		UserID:        userID,
		TokenCount:    tokenCount,
		ModelName:     modelName,
		TransactionID: transactionID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	addr, err := c.resolver.Resolve(ctx, c.service)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", c.service, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s%s: %w", addr, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("ledger returned status %d: %s", res.StatusCode, snippet)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
