// Package client provides a Go client for the contraverify run history API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the server has no such run.
var ErrNotFound = errors.New("not found")

// Client is a run history API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new client for the server at baseURL
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run is one recorded verification run
type Run struct {
	ID              string    `json:"id"`
	Network         string    `json:"network"`
	ChainID         int64     `json:"chainId"`
	APIURL          string    `json:"apiUrl,omitempty"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	AlreadyVerified int       `json:"alreadyVerified"`
	Succeeded       int       `json:"succeeded"`
	Failed          int       `json:"failed"`
	Skipped         int       `json:"skipped"`
	Error           string    `json:"error,omitempty"`
	Results         []Result  `json:"results,omitempty"`
}

// Result is the outcome recorded for one artifact
type Result struct {
	RunID        string    `json:"runId"`
	ArtifactKey  string    `json:"artifact"`
	ContractName string    `json:"contractName"`
	Address      string    `json:"address,omitempty"`
	Outcome      string    `json:"outcome"`
	GUID         string    `json:"guid,omitempty"`
	Message      string    `json:"message,omitempty"`
	RecordedAt   time.Time `json:"recordedAt"`
}

// ListRunsOptions filters and pages the run listing
type ListRunsOptions struct {
	Network string
	Limit   int
	Cursor  string
}

// ListRunsResponse is the response for listing runs
type ListRunsResponse struct {
	Data       []Run      `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// APIError represents an API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is match ErrNotFound against 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil, nil)
}

// ListRuns lists recorded runs, newest first
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOptions) (*ListRunsResponse, error) {
	q := url.Values{}
	if opts.Network != "" {
		q.Set("network", opts.Network)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	var resp ListRunsResponse
	if err := c.get(ctx, "/api/v1/runs", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun gets a run with its results
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var resp Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ContractHistory lists the recorded outcomes for a contract address
func (c *Client) ContractHistory(ctx context.Context, network, address string, limit int) ([]Result, error) {
	q := url.Values{}
	if network != "" {
		q.Set("network", network)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Address string   `json:"address"`
		Data    []Result `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/contracts/"+url.PathEscape(address), q, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, result any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: resp.Status}
	}
	errResp.Error.Status = resp.StatusCode
	return &errResp.Error
}
