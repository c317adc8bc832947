// Package pinetwork talks to the external Pi Network payment rail. The core
// treats it as an opaque funds-transfer capability: fallible, retryable, and
// idempotent by caller-supplied reference.
package pinetwork

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNetwork wraps any transport or non-2xx failure so callers can surface
// the operation as retryable.
var ErrNetwork = errors.New("pi network request failed")

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type transferRequest struct {
	Address   string          `json:"address"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type transferResponse struct {
	TxRef string `json:"tx_ref"`
}

// Deposit pulls amount from the given Pi address onto the platform and
// returns the network transaction reference.
func (c *Client) Deposit(ctx context.Context, address string, amount decimal.Decimal, reference string) (string, error) {
	return c.transfer(ctx, "/v2/payments/deposits", address, amount, reference)
}

// Withdraw pushes amount from the platform to the given Pi address.
func (c *Client) Withdraw(ctx context.Context, address string, amount decimal.Decimal, reference string) (string, error) {
	return c.transfer(ctx, "/v2/payments/withdrawals", address, amount, reference)
}

func (c *Client) transfer(ctx context.Context, path, address string, amount decimal.Decimal, reference string) (string, error) {
	body, err := json.Marshal(transferRequest{Address: address, Amount: amount, Reference: reference})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}

	var out transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: invalid response: %v", ErrNetwork, err)
	}
	return out.TxRef, nil
}
