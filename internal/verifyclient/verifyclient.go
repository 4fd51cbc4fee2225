// Package verifyclient is the HTTP client for the external Cloud Verify
// PII-detection service (spec section 4.5, section 6). It adapts the
// teacher's custom http.Transport construction (pooled idle conns, dial and
// handshake timeouts) from internal/proxy/proxy.go and the synchronous
// request/response idiom from internal/anonymizer.go's queryOllamaHTTP,
// repurposed from forwarding arbitrary proxied requests to calling one
// fixed external API with a typed error taxonomy.
package verifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Client calls the Cloud Verify API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New constructs a Client. timeout bounds each individual HTTP round trip
// (spec section 4.5.4: "total timeout per request ~60s").
func New(endpoint, apiKey string, timeout time.Duration) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
	}
}

// --- wire types (spec section 6) ---

// ShardRequest is one shard entry in a /verify request body. Context carries
// only the aggregate descriptor (spec section 4.5.4: "never the tag
// values"), duplicated onto every shard in the batch per the wire contract.
type ShardRequest struct {
	ID      string          `json:"id"`
	Text    string          `json:"text"`
	Context ContextDescriptor `json:"context"`
}

// ContextDescriptor is the aggregate-only descriptor sent alongside shards:
// entity counts and doc-type, never tag values (spec section 4.5.4).
type ContextDescriptor struct {
	DocType      string         `json:"doc_type"`
	EntityCounts map[string]int `json:"entity_counts"`
}

// VerifyOptions is the request-level options object.
type VerifyOptions struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// VerifyRequest is the full /verify request body.
type VerifyRequest struct {
	Shards  []ShardRequest `json:"shards"`
	Options VerifyOptions  `json:"options"`
}

// FindingWire is one finding as the API returns it.
type FindingWire struct {
	Text        string  `json:"text"`
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	StartOffset *int    `json:"start_offset,omitempty"`
	EndOffset   *int    `json:"end_offset,omitempty"`
}

// ShardResult groups findings under the shard they came from.
type ShardResult struct {
	ShardID  string        `json:"shard_id"`
	Findings []FindingWire `json:"findings"`
}

// Usage reports the API's accounting for one call.
type Usage struct {
	ShardsProcessed  int  `json:"shards_processed"`
	TokensUsed       int  `json:"tokens_used"`
	CostCents        int  `json:"cost_cents"`
	CreditsRemaining *int `json:"credits_remaining,omitempty"`
}

// VerifyResponse is the full /verify response body.
type VerifyResponse struct {
	Results []ShardResult `json:"results"`
	Usage   Usage         `json:"usage"`
}

// UsageResponse is the GET /usage response body.
type UsageResponse struct {
	CreditsRemaining int    `json:"credits_remaining"`
	CreditsUsed      int    `json:"credits_used"`
	Plan             string `json:"plan"`
}

// --- error taxonomy (spec section 4.5.4, section 7) ---

// InvalidAPIKeyError corresponds to HTTP 401.
type InvalidAPIKeyError struct{}

func (InvalidAPIKeyError) Error() string { return "verify: invalid API key" }

// InsufficientCreditsError corresponds to HTTP 402.
type InsufficientCreditsError struct {
	CreditsRemaining int
	PurchaseURL      string
}

func (e InsufficientCreditsError) Error() string {
	return fmt.Sprintf("verify: insufficient credits (remaining=%d, purchase=%s)", e.CreditsRemaining, e.PurchaseURL)
}

// RateLimitError corresponds to HTTP 429.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("verify: rate limited, retry after %ds", e.RetryAfterSeconds)
}

// OtherError is the generic category for any other 4xx or an exhausted 5xx.
type OtherError struct {
	StatusCode int
	Body       string
}

func (e OtherError) Error() string {
	return fmt.Sprintf("verify: request failed with status %d: %s", e.StatusCode, e.Body)
}

type errorBody struct {
	CreditsRemaining int    `json:"credits_remaining"`
	PurchaseURL      string `json:"purchase_url"`
	RetryAfter       int    `json:"retry_after"`
}

// RetryPolicy bounds the backoff-and-retry behavior for transient failures
// (spec section 4.5.4: "retry with backoff * (attempt + 1) up to 2
// retries; on 4xx, raise immediately").
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Verify calls POST {endpoint}/verify with the given shards, retrying on
// 5xx or transient network errors per policy and raising immediately on any
// 4xx.
func (c *Client) Verify(ctx context.Context, req VerifyRequest, policy RetryPolicy) (VerifyResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return VerifyResponse{}, fmt.Errorf("marshal verify request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := policy.Backoff * time.Duration(attempt)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return VerifyResponse{}, ctx.Err()
			}
		}

		resp, retry, err := c.doVerify(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retry {
			return VerifyResponse{}, err
		}
	}
	return VerifyResponse{}, lastErr
}

// doVerify issues one HTTP attempt. The bool return reports whether the
// caller should retry (transient network error or 5xx); categorized 4xx
// errors are always non-retryable.
func (c *Client) doVerify(ctx context.Context, body []byte) (VerifyResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/verify", bytes.NewReader(body))
	if err != nil {
		return VerifyResponse{}, false, fmt.Errorf("create verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return VerifyResponse{}, true, fmt.Errorf("verify request: %w", err) // network error: retryable
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return VerifyResponse{}, true, fmt.Errorf("read verify response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out VerifyResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return VerifyResponse{}, false, fmt.Errorf("parse verify response: %w", err)
		}
		return out, false, nil
	}

	categorized := classifyError(resp.StatusCode, respBody)
	if resp.StatusCode >= 500 {
		return VerifyResponse{}, true, categorized
	}
	return VerifyResponse{}, false, categorized
}

func classifyError(statusCode int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb) // best-effort; absent fields stay zero

	switch statusCode {
	case http.StatusUnauthorized:
		return InvalidAPIKeyError{}
	case http.StatusPaymentRequired:
		return InsufficientCreditsError{CreditsRemaining: eb.CreditsRemaining, PurchaseURL: eb.PurchaseURL}
	case http.StatusTooManyRequests:
		return RateLimitError{RetryAfterSeconds: eb.RetryAfter}
	default:
		return OtherError{StatusCode: statusCode, Body: string(body)}
	}
}

// Usage calls GET {endpoint}/usage.
func (c *Client) Usage(ctx context.Context) (UsageResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/usage", nil)
	if err != nil {
		return UsageResponse{}, fmt.Errorf("create usage request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return UsageResponse{}, fmt.Errorf("usage request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return UsageResponse{}, fmt.Errorf("read usage response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return UsageResponse{}, classifyError(resp.StatusCode, respBody)
	}

	var out UsageResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return UsageResponse{}, fmt.Errorf("parse usage response: %w", err)
	}
	return out, nil
}
