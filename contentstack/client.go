// Package contentstack exposes a Contentstack stack to MCP clients as two
// tools: searchEntries reads published entries through the Content Delivery
// API and createEntry writes through the Content Management API.
package contentstack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/ggoodman/contentstack-mcp/internal/logctx"
)

const (
	DefaultDeliveryURL   = "https://cdn.contentstack.io"
	DefaultManagementURL = "https://api.contentstack.io"

	maxResponseBytes = 8 << 20
)

// ErrManagementTokenMissing is returned by CreateEntry when no management
// token is configured. No request is issued.
var ErrManagementTokenMissing = errors.New("contentstack: MANAGEMENT_TOKEN is not configured")

// Config holds stack credentials and API hosts. It can be populated with
// envdecode.
type Config struct {
	APIKey          string `env:"STACK_API_KEY"`
	DeliveryToken   string `env:"DELIVERY_TOKEN"`
	Environment     string `env:"ENVIRONMENT"`
	ManagementToken string `env:"MANAGEMENT_TOKEN"`
	DeliveryURL     string `env:"CONTENTSTACK_DELIVERY_URL,default=https://cdn.contentstack.io"`
	ManagementURL   string `env:"CONTENTSTACK_MANAGEMENT_URL,default=https://api.contentstack.io"`
}

// Validate reports the credentials the delivery side cannot work without.
func (c Config) Validate() error {
	var missing []string
	if c.APIKey == "" {
		missing = append(missing, "STACK_API_KEY")
	}
	if c.DeliveryToken == "" {
		missing = append(missing, "DELIVERY_TOKEN")
	}
	if c.Environment == "" {
		missing = append(missing, "ENVIRONMENT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing one of %s", strings.Join(missing, ", "))
	}
	return nil
}

// APIError is a non-2xx answer from Contentstack.
type APIError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("contentstack: %s %s: %d %s: %s", e.Method, e.URL, e.Status, http.StatusText(e.Status), e.Body)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// WithRetry sets how many times a delivery read is attempted and the base
// delay between attempts. Writes are never retried.
func WithRetry(attempts uint, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.attempts = max(attempts, 1)
		c.retryDelay = delay
	}
}

// Client talks to the Contentstack REST APIs.
type Client struct {
	cfg        Config
	http       *http.Client
	log        *slog.Logger
	attempts   uint
	retryDelay time.Duration
}

func NewClient(cfg Config, opts ...ClientOption) *Client {
	if cfg.DeliveryURL == "" {
		cfg.DeliveryURL = DefaultDeliveryURL
	}
	if cfg.ManagementURL == "" {
		cfg.ManagementURL = DefaultManagementURL
	}
	c := &Client{
		cfg:        cfg,
		http:       &http.Client{Timeout: 30 * time.Second},
		attempts:   3,
		retryDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logctx.Wrap(c.log)
	return c
}

// HasManagementToken reports whether CreateEntry can be used.
func (c *Client) HasManagementToken() bool { return c.cfg.ManagementToken != "" }

func entriesURL(base, contentType string) string {
	return strings.TrimRight(base, "/") + "/v3/content_types/" + url.PathEscape(contentType) + "/entries"
}

// SearchEntries lists published entries of contentType in the configured
// environment. query, when non-empty, is passed as the JSON query parameter.
func (c *Client) SearchEntries(ctx context.Context, contentType string, query map[string]any) (json.RawMessage, error) {
	params := url.Values{"environment": {c.cfg.Environment}}
	if len(query) > 0 {
		q, err := json.Marshal(query)
		if err != nil {
			return nil, fmt.Errorf("encode query: %w", err)
		}
		params.Set("query", string(q))
	}
	target := entriesURL(c.cfg.DeliveryURL, contentType) + "?" + params.Encode()

	var body json.RawMessage
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("api_key", c.cfg.APIKey)
			req.Header.Set("access_token", c.cfg.DeliveryToken)
			body, err = c.do(req)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			c.log.WarnContext(ctx, "contentstack.search.retry", slog.Uint64("attempt", uint64(n+1)), slog.String("err", err.Error()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// CreateEntry creates an entry of contentType through the management API.
func (c *Client) CreateEntry(ctx context.Context, contentType string, entry map[string]any) (json.RawMessage, error) {
	if c.cfg.ManagementToken == "" {
		return nil, ErrManagementTokenMissing
	}
	payload, err := json.Marshal(map[string]any{"entry": entry})
	if err != nil {
		return nil, fmt.Errorf("encode entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, entriesURL(c.cfg.ManagementURL, contentType), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api_key", c.cfg.APIKey)
	req.Header.Set("authorization", c.cfg.ManagementToken)
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contentstack: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("contentstack: read response: %w", err)
	}

	c.log.DebugContext(req.Context(), "contentstack.request",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("dur", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Method: req.Method, URL: req.URL.Path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("contentstack: %s %s: response is not JSON", req.Method, req.URL.Path)
	}
	return body, nil
}

// retryable accepts transport failures and 5xx/429 answers.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
	}
	return true
}
