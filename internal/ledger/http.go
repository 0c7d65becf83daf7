package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds each request when no http.Client is supplied.
const DefaultHTTPTimeout = 10 * time.Second

// HTTPClient is the REST transport to the ledger service.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPOpts holds HTTPClient configuration.
type HTTPOpts struct {
	Token      string
	HTTPClient *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPOpts)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) HTTPOption {
	return func(o *HTTPOpts) { o.Token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(o *HTTPOpts) { o.HTTPClient = c }
}

// NewHTTPClient creates a client for the ledger at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	var cfg HTTPOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid ledger URL %q", baseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.Token,
		client:  hc,
	}, nil
}

type coinsRequest struct {
	Amount int `json:"amount"`
}

type timeSpentRequest struct {
	Seconds int `json:"seconds"`
}

// GrantCoins posts {"amount": n} to /coins.
func (c *HTTPClient) GrantCoins(ctx context.Context, amount int, key string) error {
	return c.post(ctx, "/coins", coinsRequest{Amount: amount}, key)
}

// AddTimeSpent posts {"seconds": n} to /time-spent.
func (c *HTTPClient) AddTimeSpent(ctx context.Context, seconds int, key string) error {
	return c.post(ctx, "/time-spent", timeSpentRequest{Seconds: seconds}, key)
}

// CompleteTaskPomodoro posts to /tasks/{id}/pomodoros.
func (c *HTTPClient) CompleteTaskPomodoro(ctx context.Context, taskID string, key string) error {
	if taskID == "" {
		return fmt.Errorf("task id is required")
	}
	return c.post(ctx, "/tasks/"+url.PathEscape(taskID)+"/pomodoros", struct{}{}, key)
}

func (c *HTTPClient) post(ctx context.Context, path string, payload interface{}, key string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ledger %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	io.Copy(io.Discard, resp.Body)
	slog.Debug("HTTPClient.post: ledger call succeeded", "path", path, "key", key)
	return nil
}
