package promethean

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
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Mint calls wait for chain confirmation, so it is longer
// than a typical REST timeout.
const DefaultHTTPTimeout = 90 * time.Second

// APIKeyHeader is the header carrying the caller's API key.
const APIKeyHeader = "X-API-Key"

// Client wraps the HTTP interactions with the minting service REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// MintRequest represents the payload required to mint a token.
type MintRequest struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Tags             []string `json:"tags,omitempty"`
	Author           string   `json:"author,omitempty"`
	RecipientAddress string   `json:"recipient_address,omitempty"`
	Chain            string   `json:"chain,omitempty"`
}

// MintResult contains the outcome of a successful mint.
type MintResult struct {
	RequestID       string `json:"request_id"`
	TokenID         uint64 `json:"token_id"`
	MetadataURI     string `json:"metadata_uri"`
	TransactionHash string `json:"transaction_hash"`
	BlockNumber     uint64 `json:"block_number"`
	GasUsed         uint64 `json:"gas_used"`
	Status          string `json:"status"`
	CreatedAt       int64  `json:"created_at"`
}

// MintOutcome carries the on-chain artifacts recorded for a finished mint.
type MintOutcome struct {
	TokenID     uint64 `json:"token_id"`
	MetadataURI string `json:"metadata_uri"`
	TxHash      string `json:"transaction_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

// MintRecord is a ledger entry for a mint attempt.
type MintRecord struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Author     string       `json:"author"`
	Recipient  string       `json:"recipient,omitempty"`
	Chain      string       `json:"chain,omitempty"`
	Status     string       `json:"status"`
	LastError  string       `json:"last_error,omitempty"`
	ErrorCode  string       `json:"error_code,omitempty"`
	ErrorStage string       `json:"error_stage,omitempty"`
	Outcome    *MintOutcome `json:"outcome,omitempty"`
	CreatedAt  int64        `json:"created_at"`
	UpdatedAt  int64        `json:"updated_at"`
}

// MintStats aggregates ledger counters by status.
type MintStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// Health reports service and chain availability.
type Health struct {
	Status     string            `json:"status"`
	Chain      map[string]string `json:"chain,omitempty"`
	ChainError string            `json:"chain_error,omitempty"`
}

// ListMintsOptions narrows the ledger listing.
type ListMintsOptions struct {
	Limit  int
	Offset int
	Status string
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	Stage      string `json:"stage,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Stage != "" {
		return fmt.Sprintf("promethean api error (%d): %s - %s (stage %s)", e.StatusCode, e.Code, e.Message, e.Stage)
	}
	if e.Code != "" {
		return fmt.Sprintf("promethean api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("promethean api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the minting API. When httpClient is nil,
// a default client with a mint-friendly timeout is used.
func NewClient(rawURL, apiKey string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, apiKey: apiKey}, nil
}

// SetAPIKey overrides the stored API key.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// APIKey returns the currently stored API key.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// Mint submits a mint request and blocks until the service reports the
// on-chain outcome.
func (c *Client) Mint(ctx context.Context, req MintRequest) (MintResult, error) {
	var result MintResult
	if err := c.post(ctx, "/mint", req, &result); err != nil {
		return MintResult{}, err
	}
	return result, nil
}

// GetMint fetches a ledger record by request identifier.
func (c *Client) GetMint(ctx context.Context, requestID string) (MintRecord, error) {
	var record MintRecord
	endpoint := "/api/v1/mints/" + url.PathEscape(requestID)
	if err := c.get(ctx, endpoint, &record, true); err != nil {
		return MintRecord{}, err
	}
	return record, nil
}

// ListMints returns recent ledger records, newest first.
func (c *Client) ListMints(ctx context.Context, opts ListMintsOptions) ([]MintRecord, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	endpoint := "/api/v1/mints"
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var records []MintRecord
	if err := c.get(ctx, endpoint, &records, true); err != nil {
		return nil, err
	}
	return records, nil
}

// Stats returns the aggregate ledger counters.
func (c *Client) Stats(ctx context.Context) (MintStats, error) {
	var stats MintStats
	if err := c.get(ctx, "/api/v1/stats", &stats, true); err != nil {
		return MintStats{}, err
	}
	return stats, nil
}

// Health probes the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var health Health
	if err := c.get(ctx, "/health", &health, false); err != nil {
		return Health{}, err
	}
	return health, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), true)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		key := c.APIKey()
		if key == "" {
			return nil, errors.New("promethean: api key is not set")
		}
		req.Header.Set(APIKeyHeader, key)
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
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
