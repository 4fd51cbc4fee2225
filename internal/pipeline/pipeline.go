// Package pipeline composes the redaction stages in strict order —
// Detector -> Validator -> Redactor -> Auditor -> Verifier -> Patch (spec
// section 2's stage table, section 5's ordering guarantee) — and honors
// cancellation between stages via context.Context.
package pipeline

import (
	"context"
	"time"

	"pii-redact/internal/auditor"
	"pii-redact/internal/blocklist"
	"pii-redact/internal/cache"
	"pii-redact/internal/config"
	"pii-redact/internal/detector"
	"pii-redact/internal/logger"
	"pii-redact/internal/metrics"
	"pii-redact/internal/model"
	"pii-redact/internal/ner"
	"pii-redact/internal/redactor"
	"pii-redact/internal/validator"
	"pii-redact/internal/verifier"
	"pii-redact/internal/verifyclient"
)

// Pipeline holds the shared, process-wide resources every run consults:
// config, the blocklist registry, metrics, a logger, and (if verification
// is enabled) a cloud verify client and its result cache.
type Pipeline struct {
	cfg          *config.Config
	blocked      *blocklist.Registry
	metrics      *metrics.Metrics
	log          *logger.Logger
	verifyClient *verifyclient.Client
	resultCache  *cache.ResultCache
}

// New constructs a Pipeline. verifyClient and resultCache may be nil if
// cfg.EnableVerifier is false.
func New(cfg *config.Config, blocked *blocklist.Registry, m *metrics.Metrics, log *logger.Logger, verifyClient *verifyclient.Client, resultCache *cache.ResultCache) *Pipeline {
	return &Pipeline{
		cfg:          cfg,
		blocked:      blocked,
		metrics:      m,
		log:          log,
		verifyClient: verifyClient,
		resultCache:  resultCache,
	}
}

// Result bundles the final redacted text, mapping, and (if the Verifier
// ran) its canary detection-rate summary.
type Result struct {
	Text    string
	Mapping model.Mapping
	Canary  *verifier.CanaryResult
}

// Run executes the full pipeline over text, honoring ctx cancellation
// between stages (spec section 5).
func (p *Pipeline) Run(ctx context.Context, text string, meta model.Metadata) (Result, error) {
	start := time.Now()

	docType := detector.DetectDocType(text)

	candidates := detector.Detect(text, docType)
	if p.metrics != nil {
		p.metrics.EntitiesDetected.Add(int64(len(candidates)))
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	doc := ner.Tag(text)
	validated := validator.Validate(candidates, text, doc, docType, p.blocked, p.cfg.MinPersonConfidence)
	if p.metrics != nil {
		p.metrics.EntitiesValidated.Add(int64(len(validated)))
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	redactedText, mapping := redactor.Redact(text, validated, p.cfg.GlobalNamePassMinLength)
	mapping.Metadata = meta
	mapping.Metadata.EntitiesFound = len(mapping.Tags)
	if p.metrics != nil {
		p.metrics.EntitiesRedacted.Add(int64(len(validated)))
		p.metrics.RecordDetectLatency(time.Since(start))
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if p.cfg.EnableAuditor {
		tagsBefore := len(mapping.Tags)
		redactedText, mapping = auditor.Audit(redactedText, mapping, p.blocked)
		if p.metrics != nil {
			if patched := len(mapping.Tags) - tagsBefore; patched > 0 {
				p.metrics.AuditorPatches.Add(int64(patched))
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	result := Result{Text: redactedText, Mapping: mapping}

	if p.cfg.EnableVerifier && p.verifyClient != nil {
		opts := verifier.Options{
			BatchSize:           p.cfg.VerifyBatchSize,
			MaxConcurrent:       p.cfg.VerifyMaxConcurrent,
			EnableCanaries:      p.cfg.EnableCanaries,
			CanaryCount:         p.cfg.CanaryCount,
			ConfidenceThreshold: p.cfg.VerifyConfidenceThresh,
			Retry: verifyclient.RetryPolicy{
				MaxRetries: p.cfg.VerifyMaxRetries,
				Backoff:    time.Duration(p.cfg.VerifyRetryBackoffMs) * time.Millisecond,
			},
			DocType:           docType,
			EntityCounts:      countByLabel(validated),
			RequestsPerSecond: p.cfg.VerifyRequestsPerSec,
		}
		verifyCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.VerifyTimeoutSeconds)*time.Second)
		patchedText, patchedMapping, canaryResult, err := verifier.Run(verifyCtx, p.log, p.verifyClient, p.resultCache, p.metrics, redactedText, mapping, opts)
		cancel()
		if err != nil {
			if p.metrics != nil {
				p.metrics.ErrorsVerify.Add(1)
			}
			// Graceful degradation: keep the pre-verifier text/mapping.
			result = Result{Text: redactedText, Mapping: mapping}
		} else {
			result = Result{Text: patchedText, Mapping: patchedMapping, Canary: &canaryResult}
		}
	}

	return result, nil
}

func countByLabel(entities []model.Entity) map[string]int {
	counts := make(map[string]int)
	for _, e := range entities {
		counts[string(e.Label)]++
	}
	return counts
}
