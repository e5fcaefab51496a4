package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FactSource confirms engine-observed fills and positions against the venue.
type FactSource interface {
	// FillFact fetches the venue record for a fill. Returns nil when the
	// venue has not surfaced the fill yet.
	FillFact(ctx context.Context, sourceFillID int64) (*FillFact, error)
	// Positions returns the user's exchange-wide open positions.
	Positions(ctx context.Context, userID string) ([]Position, error)
}

// OrderPlacer forwards authorized orders to the venue.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
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
	return fmt.Sprintf("exchange API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	host = strings.TrimRight(host, "/")
	return &Client{
		host:       host,
		httpClient: httpClient,
	}
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
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
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) FillFact(ctx context.Context, sourceFillID int64) (*FillFact, error) {
	query := url.Values{}
	query.Set("fill_id", strconv.FormatInt(sourceFillID, 10))
	body, err := c.doRequest(ctx, "/v1/fills", query)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	var fact FillFact
	if err := json.Unmarshal(body, &fact); err != nil {
		return nil, fmt.Errorf("failed to decode fill fact: %w", err)
	}
	return &fact, nil
}

func (c *Client) Positions(ctx context.Context, userID string) ([]Position, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	query := url.Values{}
	query.Set("user_id", strings.TrimSpace(userID))
	body, err := c.doRequest(ctx, "/v1/positions", query)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	var positions []Position
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}
	return positions, nil
}

func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (*OrderAck, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/v1/orders", bytes.NewReader(payload))
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
	var ack OrderAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fmt.Errorf("failed to decode order ack: %w", err)
	}
	return &ack, nil
}

// FetchFillFactWithRetry polls the venue for a fill fact with exponential
// backoff. Venue trade facts can lag the execution report by a few hundred
// milliseconds; a nil result after all retries means the caller should record
// the fill fact-pending and let reconciliation finish the job.
func FetchFillFactWithRetry(ctx context.Context, src FactSource, sourceFillID int64, retries int, base, max time.Duration) (*FillFact, error) {
	if src == nil {
		return nil, nil
	}
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		fact, err := src.FillFact(ctx, sourceFillID)
		if err == nil && fact != nil {
			return fact, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(Backoff(attempt, base, max)):
		}
	}
	return nil, lastErr
}

var _ FactSource = (*Client)(nil)
