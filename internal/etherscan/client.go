// Package etherscan provides a client for the Etherscan contract
// verification API.
package etherscan

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

	"golang.org/x/time/rate"

	"github.com/pendergraft/contraverify/internal/chains"
)

// Client is an Etherscan API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ chains.TransactionFetcher = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRateLimit paces outgoing requests. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(client *Client) {
		if rps <= 0 {
			client.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// New creates a new Etherscan client. baseURL is the full API endpoint,
// e.g. https://api.etherscan.io/api.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(5, 5),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// IsVerified reports whether the explorer already has source for address.
// Only status "1" counts as verified.
func (c *Client) IsVerified(ctx context.Context, address string) (bool, error) {
	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "getabi")
	q.Set("address", address)

	var resp response
	if err := c.get(ctx, q, &resp); err != nil {
		return false, err
	}
	return resp.Status == "1", nil
}

// TransactionInput fetches a transaction through the explorer's JSON-RPC
// proxy and returns its input data.
func (c *Client) TransactionInput(ctx context.Context, hash string) (string, error) {
	q := url.Values{}
	q.Set("module", "proxy")
	q.Set("action", "eth_getTransactionByHash")
	q.Set("txhash", hash)

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := c.get(ctx, q, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("etherscan proxy: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}

	raw := bytes.TrimSpace(resp.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: %s", chains.ErrTransactionNotFound, hash)
	}

	// Rate limit and key errors come back as a plain string result.
	var msg string
	if json.Unmarshal(raw, &msg) == nil {
		return "", fmt.Errorf("etherscan proxy: %s", msg)
	}

	var tx struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal(raw, &tx); err != nil {
		return "", fmt.Errorf("decoding transaction %s: %w", hash, err)
	}
	return tx.Input, nil
}

// SubmitVerification posts source code for verification and returns the
// GUID of the queued request.
func (c *Client) SubmitVerification(ctx context.Context, req VerifyRequest) (string, error) {
	form := c.verifyForm(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp response
	if err := c.do(ctx, httpReq, &resp); err != nil {
		return "", err
	}

	if resp.Status == "1" {
		return resp.Result, nil
	}

	switch {
	case isInvalidKey(resp.Result):
		return "", fmt.Errorf("%w: %s", ErrInvalidAPIKey, resp.Result)
	case isAlreadyVerified(resp.Result):
		return "", fmt.Errorf("%w: %s", ErrAlreadyVerified, resp.Result)
	}
	return "", &APIError{Status: resp.Status, Message: resp.Message, Result: resp.Result}
}

// ValidateAPIKey makes a cheap authenticated call and reports
// ErrInvalidAPIKey when the explorer rejects the key.
func (c *Client) ValidateAPIKey(ctx context.Context) error {
	q := url.Values{}
	q.Set("module", "stats")
	q.Set("action", "ethsupply")

	var resp response
	if err := c.get(ctx, q, &resp); err != nil {
		return err
	}
	if resp.Status == "1" {
		return nil
	}
	if isInvalidKey(resp.Result) {
		return fmt.Errorf("%w: %s", ErrInvalidAPIKey, resp.Result)
	}
	return &APIError{Status: resp.Status, Message: resp.Message, Result: resp.Result}
}

// CheckStatus asks for the state of a queued verification.
func (c *Client) CheckStatus(ctx context.Context, guid string) (*VerifyStatus, error) {
	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "checkverifystatus")
	q.Set("guid", guid)

	var resp response
	if err := c.get(ctx, q, &resp); err != nil {
		return nil, err
	}
	return &VerifyStatus{Status: resp.Status, Result: resp.Result}, nil
}

// CheckStatusURL is the GET URL a user can open to follow a submission.
func (c *Client) CheckStatusURL(guid string) string {
	q := url.Values{}
	q.Set("module", "contract")
	q.Set("action", "checkverifystatus")
	q.Set("guid", guid)
	return c.baseURL + "?" + q.Encode()
}

func (c *Client) verifyForm(req VerifyRequest) url.Values {
	form := url.Values{}
	set := func(key, value string) {
		if value != "" {
			form.Set(key, value)
		}
	}

	set("apikey", c.apiKey)
	form.Set("module", "contract")
	form.Set("action", "verifysourcecode")
	set("contractaddress", req.Address)
	set("contractname", req.ContractName)
	set("compilerversion", req.CompilerVersion)
	if req.OptimizationUsed {
		form.Set("optimizationUsed", "1")
	} else {
		form.Set("optimizationUsed", "0")
	}
	form.Set("runs", strconv.Itoa(req.Runs))
	set("sourceCode", req.SourceCode)
	// The field name is misspelled in the explorer API.
	set("constructorArguements", strings.TrimPrefix(req.ConstructorArguments, "0x"))

	for i, lib := range req.Libraries {
		n := strconv.Itoa(i + 1)
		set("libraryname"+n, lib.Name)
		set("libraryaddress"+n, lib.Address)
	}
	return form
}

func (c *Client) get(ctx context.Context, q url.Values, result any) error {
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	return c.do(ctx, req, result)
}

func (c *Client) do(ctx context.Context, req *http.Request, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func isInvalidKey(result string) bool {
	for _, marker := range invalidKeyMarkers {
		if strings.Contains(result, marker) {
			return true
		}
	}
	return false
}
