package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pii-redact/internal/blocklist"
	"pii-redact/internal/cache"
	"pii-redact/internal/config"
	"pii-redact/internal/metrics"
	"pii-redact/internal/model"
	"pii-redact/internal/verifyclient"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		MinPersonConfidence:     0.5,
		EnableAuditor:           true,
		EnableVerifier:          false,
		VerifyBatchSize:         5,
		VerifyMaxConcurrent:     2,
		VerifyRetryBackoffMs:    1,
		VerifyMaxRetries:        1,
		VerifyTimeoutSeconds:    5,
		EnableCanaries:          false,
		CanaryCount:             1,
		GlobalNamePassMinLength: 4,
		VerifyConfidenceThresh:  0.5,
	}
	return cfg
}

func TestRun_DetectsAndRedactsPerson(t *testing.T) {
	blocked := blocklist.NewRegistry("", "", "")
	p := New(testConfig(), blocked, metrics.New(), nil, nil, nil)

	text := "Steve Johnson met with the team on Monday to discuss the roadmap for next quarter."
	result, err := p.Run(context.Background(), text, model.Metadata{Source: "stdin"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Text == text {
		t.Error("expected some redaction to occur")
	}
	if len(result.Mapping.Tags) == 0 {
		t.Error("expected at least one mapping entry")
	}
}

func TestRun_RespectsCancelledContext(t *testing.T) {
	blocked := blocklist.NewRegistry("", "", "")
	p := New(testConfig(), blocked, metrics.New(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, "Steve Johnson met with the team.", model.Metadata{})
	if err == nil {
		t.Error("expected cancellation error")
	}
}

func TestRun_VerifierDegradesGracefullyOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.EnableVerifier = true
	client := verifyclient.New(srv.URL, "key", 2*time.Second)
	resultCache := cache.NewResultCache(cache.New("", 10))
	blocked := blocklist.NewRegistry("", "", "")

	p := New(cfg, blocked, metrics.New(), nil, client, resultCache)

	text := "Steve Johnson is the lead on this account and handles billing for the team."
	result, err := p.Run(context.Background(), text, model.Metadata{})
	if err != nil {
		t.Fatalf("Run() should degrade gracefully, got error = %v", err)
	}
	if len(result.Mapping.Tags) == 0 {
		t.Error("expected redaction to still have happened before verifier degraded")
	}
}

func TestRun_VerifierSuccessReturnsCanaryResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req verifyclient.VerifyRequest
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		resp := verifyclient.VerifyResponse{}
		for _, s := range req.Shards {
			resp.Results = append(resp.Results, verifyclient.ShardResult{ShardID: s.ID})
		}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.EnableVerifier = true
	client := verifyclient.New(srv.URL, "key", 2*time.Second)
	resultCache := cache.NewResultCache(cache.New("", 10))
	blocked := blocklist.NewRegistry("", "", "")

	p := New(cfg, blocked, metrics.New(), nil, client, resultCache)

	text := "Steve Johnson is the lead on this account and handles billing for the team."
	result, err := p.Run(context.Background(), text, model.Metadata{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Canary == nil {
		t.Error("expected a canary result when verifier ran")
	}
}
