package cow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// DefaultHTTPTimeout bounds a single orderbook request.
const DefaultHTTPTimeout = 15 * time.Second

// networkPaths maps chain ids to orderbook API path segments.
var networkPaths = map[int64]string{
	1:        "mainnet",
	100:      "xdai",
	8453:     "base",
	42161:    "arbitrum_one",
	11155111: "sepolia",
}

// BaseURLForChain returns the production orderbook URL for chainID.
func BaseURLForChain(chainID int64) (string, error) {
	network, ok := networkPaths[chainID]
	if !ok {
		return "", fmt.Errorf("no orderbook for chain %d", chainID)
	}
	return "https://api.cow.fi/" + network, nil
}

// APIError is a non-2xx orderbook response.
type APIError struct {
	StatusCode  int
	ErrorType   string
	Description string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.ErrorType != "" {
		return fmt.Sprintf("orderbook error (%d): %s - %s", e.StatusCode, e.ErrorType, e.Description)
	}
	return fmt.Sprintf("orderbook error (%d): %s", e.StatusCode, e.Description)
}

// Temporary reports whether retrying the request later may succeed.
func (e *APIError) Temporary() bool {
	return e != nil && (e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500)
}

// Client talks to the CoW Protocol orderbook REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient builds a client for the orderbook at rawURL, for example
// https://api.cow.fi/sepolia.
func NewClient(rawURL string, opts ...ClientOption) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(rawURL), "/"))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid orderbook url %q", rawURL)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Quote requests a price quote.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	var out QuoteResponse
	if err := c.post(ctx, "/api/v1/quote", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostOrder submits an order and returns its UID.
func (c *Client) PostOrder(ctx context.Context, order OrderCreation) (string, error) {
	var uid string
	if err := c.post(ctx, "/api/v1/orders", order, &uid); err != nil {
		return "", err
	}
	if _, err := DecodeOrderUID(uid); err != nil {
		return "", fmt.Errorf("orderbook returned malformed uid: %w", err)
	}
	return uid, nil
}

// GetOrder fetches an order by UID.
func (c *Client) GetOrder(ctx context.Context, uid string) (*Order, error) {
	if _, err := DecodeOrderUID(uid); err != nil {
		return nil, err
	}
	var out Order
	if err := c.get(ctx, "/api/v1/orders/"+uid, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if gjson.ValidBytes(data) {
			apiErr.ErrorType = gjson.GetBytes(data, "errorType").String()
			apiErr.Description = gjson.GetBytes(data, "description").String()
		}
		if apiErr.Description == "" {
			apiErr.Description = string(bytes.TrimSpace(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
