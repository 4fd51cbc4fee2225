package verifyclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestVerify_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req VerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Shards) != 1 || req.Shards[0].ID != "shard-1" {
			t.Fatalf("unexpected request body: %+v", req)
		}
		resp := VerifyResponse{
			Results: []ShardResult{
				{ShardID: "shard-1", Findings: []FindingWire{{Text: "John Smith", Type: "PERSON", Confidence: 0.9}}},
			},
			Usage: Usage{ShardsProcessed: 1},
		}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	client := New(srv.URL, "key", 5*time.Second)
	resp, err := client.Verify(context.Background(), VerifyRequest{
		Shards: []ShardRequest{{ID: "shard-1", Text: "..."}},
	}, RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Findings[0].Text != "John Smith" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestVerify_401_InvalidAPIKey_NoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(srv.URL, "bad-key", 5*time.Second)
	_, err := client.Verify(context.Background(), VerifyRequest{}, RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond})
	if _, ok := err.(InvalidAPIKeyError); !ok {
		t.Fatalf("expected InvalidAPIKeyError, got %T: %v", err, err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call (no retry on 4xx), got %d", calls)
	}
}

func TestVerify_402_InsufficientCredits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"credits_remaining": 0,
			"purchase_url":      "https://example.com/buy",
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "key", 5*time.Second)
	_, err := client.Verify(context.Background(), VerifyRequest{}, RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond})
	ic, ok := err.(InsufficientCreditsError)
	if !ok {
		t.Fatalf("expected InsufficientCreditsError, got %T: %v", err, err)
	}
	if ic.PurchaseURL != "https://example.com/buy" {
		t.Errorf("expected purchase_url to round-trip, got %q", ic.PurchaseURL)
	}
}

func TestVerify_429_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"retry_after": 30}) //nolint:errcheck
	}))
	defer srv.Close()

	client := New(srv.URL, "key", 5*time.Second)
	_, err := client.Verify(context.Background(), VerifyRequest{}, RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond})
	rl, ok := err.(RateLimitError)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T: %v", err, err)
	}
	if rl.RetryAfterSeconds != 30 {
		t.Errorf("expected retry_after=30, got %d", rl.RetryAfterSeconds)
	}
}

func TestVerify_5xx_RetriesThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(srv.URL, "key", 5*time.Second)
	_, err := client.Verify(context.Background(), VerifyRequest{}, RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond})
	if _, ok := err.(OtherError); !ok {
		t.Fatalf("expected OtherError after retries exhausted, got %T: %v", err, err)
	}
	if calls != 3 { // initial attempt + 2 retries
		t.Errorf("expected 3 total attempts, got %d", calls)
	}
}

func TestVerify_5xx_SucceedsOnRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(VerifyResponse{}) //nolint:errcheck
	}))
	defer srv.Close()

	client := New(srv.URL, "key", 5*time.Second)
	_, err := client.Verify(context.Background(), VerifyRequest{}, RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("expected success on retry, got error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestUsage_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/usage" {
			t.Errorf("expected GET /usage, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(UsageResponse{CreditsRemaining: 100, CreditsUsed: 5, Plan: "pro"}) //nolint:errcheck
	}))
	defer srv.Close()

	client := New(srv.URL, "key", 5*time.Second)
	usage, err := client.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if usage.CreditsRemaining != 100 || usage.Plan != "pro" {
		t.Errorf("unexpected usage: %+v", usage)
	}
}
