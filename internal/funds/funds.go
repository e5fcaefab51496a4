package funds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway moves prize money out of the platform treasury. Transfer is keyed
// by an idempotency key so a retried claim cannot pay twice even if the first
// attempt's response was lost.
type Gateway interface {
	Available(ctx context.Context) (decimal.Decimal, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

type TransferRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Memo           string          `json:"memo"`
}

type TransferResult struct {
	Ref         string    `json:"ref"`
	CompletedAt time.Time `json:"completed_at"`
}

type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("funds API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) Available(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/v1/treasury/available", nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	var payload struct {
		Available decimal.Decimal `json:"available"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode balance: %w", err)
	}
	return payload.Available, nil
}

func (c *Client) Transfer(ctx context.Context, transfer TransferRequest) (*TransferResult, error) {
	if strings.TrimSpace(transfer.IdempotencyKey) == "" {
		return nil, fmt.Errorf("idempotency_key is required")
	}
	payload, err := json.Marshal(transfer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/treasury/transfers", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	var result TransferResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode transfer result: %w", err)
	}
	return &result, nil
}

var _ Gateway = (*Client)(nil)
