// Package safeswap is a Go client for the SafeSwap wallet API.
package safeswap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom
// http.Client. Synchronous swaps wait for a confirmation, so it is generous.
const DefaultHTTPTimeout = 5 * time.Minute

// WalletHeader carries the caller address when the server runs without
// authentication.
const WalletHeader = "X-Wallet-Address"

// Client wraps the HTTP interactions with the SafeSwap REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu      sync.RWMutex
	token   string
	address string
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Retryable  bool              `json:"retryable"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("safeswap api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("safeswap api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetToken sets the DID token sent as a bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = strings.TrimSpace(token)
}

// SetWalletAddress sets the caller address for servers running without
// authentication.
func (c *Client) SetWalletAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.address = strings.TrimSpace(address)
}

// Login opens the server-side session.
func (c *Client) Login(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.call(ctx, http.MethodPost, "/api/v1/session", nil, nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Logout closes the server-side session.
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/session", nil, nil, nil)
}

// RunOptions controls how a sequence is run.
type RunOptions struct {
	// Sync runs the sequence within the request instead of queueing it.
	Sync bool
	// IdempotencyKey deduplicates queued submissions.
	IdempotencyKey string
}

func (o RunOptions) query() url.Values {
	if !o.Sync {
		return nil
	}
	return url.Values{"sync": []string{"true"}}
}

func (o RunOptions) headers() http.Header {
	if o.IdempotencyKey == "" {
		return nil
	}
	return http.Header{"Idempotency-Key": []string{o.IdempotencyKey}}
}

// CreateSafe predicts the caller's Safe and deploys it.
func (c *Client) CreateSafe(ctx context.Context, opts RunOptions) (*SafeResponse, error) {
	var resp SafeResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/safe", opts.query(), opts.headers(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckSafe reads the caller's Safe from chain. Status is nil when no Safe
// is recorded.
func (c *Client) CheckSafe(ctx context.Context) (*SafeStatus, error) {
	var resp SafeResponse
	if err := c.call(ctx, http.MethodGet, "/api/v1/safe", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Status, nil
}

// InitSwap places the configured swap through the caller's Safe.
func (c *Client) InitSwap(ctx context.Context, opts RunOptions) (*SwapResponse, error) {
	var resp SwapResponse
	if err := c.call(ctx, http.MethodPost, "/api/v1/swaps", opts.query(), opts.headers(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Wallet returns addresses and balances.
func (c *Client) Wallet(ctx context.Context) (*Wallet, error) {
	var wallet Wallet
	if err := c.call(ctx, http.MethodGet, "/api/v1/wallet", nil, nil, &wallet); err != nil {
		return nil, err
	}
	return &wallet, nil
}

// ListTasksOptions filters ListTasks.
type ListTasksOptions struct {
	Statuses []string
	Kinds    []string
	Limit    int
	Offset   int
}

// ListTasks returns the caller's queued sequences.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) (*TaskList, error) {
	q := url.Values{}
	if len(opts.Statuses) > 0 {
		q.Set("status", strings.Join(opts.Statuses, ","))
	}
	if len(opts.Kinds) > 0 {
		q.Set("kind", strings.Join(opts.Kinds, ","))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	var list TaskList
	if err := c.call(ctx, http.MethodGet, "/api/v1/tasks", q, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("safeswap: task id is required")
	}
	var t Task
	if err := c.call(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// WaitForTask polls a task until it reaches a terminal status.
func (c *Client) WaitForTask(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Done() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, headers http.Header, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, query)
	if err != nil {
		return err
	}
	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if strings.HasSuffix(endpoint, "/") {
		rel.Path += "/"
	}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.mu.RLock()
	token, address := c.token, c.address
	c.mu.RUnlock()
	switch {
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	case address != "":
		req.Header.Set(WalletHeader, address)
	default:
		return nil, errors.New("safeswap: neither a token nor a wallet address is set")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
