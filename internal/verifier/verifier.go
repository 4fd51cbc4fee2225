// Package verifier implements stage P3c: batch orchestration of the cloud
// verify call, canary evaluation, and the patch step that integrates
// external Findings into the redacted text and mapping (spec section
// 4.5.4-4.5.6). Concurrent dispatch is bounded by a channel-based
// semaphore in the teacher's internal/anonymizer.go ollamaSem idiom and
// fanned out with golang.org/x/sync/errgroup, the same package codenerd
// and nox use for controlled-concurrency fan-out.
//
// Per spec section 5, the Redactor/Auditor's tag counters are captured
// once before any batch is dispatched, so concurrent batches never race on
// a shared counter; the patch step that actually advances the counters
// runs serially after every batch has returned.
package verifier

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pii-redact/internal/cache"
	"pii-redact/internal/detector"
	"pii-redact/internal/logger"
	"pii-redact/internal/metrics"
	"pii-redact/internal/model"
	"pii-redact/internal/sharder"
	"pii-redact/internal/verifyclient"
)

// Options configures one verification run.
type Options struct {
	BatchSize           int
	MaxConcurrent       int
	EnableCanaries      bool
	CanaryCount         int
	ConfidenceThreshold float64
	Retry               verifyclient.RetryPolicy
	DocType             detector.DocType
	EntityCounts        map[string]int

	// RequestsPerSecond paces batch dispatch with a token-bucket limiter, on
	// top of the MaxConcurrent in-flight cap, so a burst of small batches
	// doesn't hammer the cloud verify API faster than it advertises it can
	// take (spec §4.5.4's "respect any rate limit the service advertises").
	// Zero means unpaced (only MaxConcurrent bounds concurrency).
	RequestsPerSecond float64
}

// CanaryResult summarizes the recall of the external service against
// synthetic canary shards (spec section 4.5.5).
type CanaryResult struct {
	Injected      int     `json:"injected"`
	Detected      int     `json:"detected"`
	DetectionRate float64 `json:"detection_rate"`
}

// Run neutralizes, shards, optionally injects canaries, shuffles, batches,
// and dispatches redactedText against the cloud verify API, then patches
// any real findings back into redactedText/mapping. On any hard failure
// (categorized verifyclient error or exhausted retries) it returns the
// input text and mapping unchanged, per spec section 4.5.6's graceful
// degradation contract; the returned error is non-nil in that case and
// should be logged by the caller at ERROR level naming the category.
func Run(ctx context.Context, log *logger.Logger, client *verifyclient.Client, resultCache *cache.ResultCache, m *metrics.Metrics, redactedText string, mapping model.Mapping, opts Options) (string, model.Mapping, CanaryResult, error) {
	neutralText, _ := sharder.Neutralize(redactedText)
	shards := sharder.Shard(neutralText)

	var canaryExpectations []sharder.CanaryExpectation
	if opts.EnableCanaries {
		shards, canaryExpectations = sharder.InjectCanaries(shards, opts.CanaryCount)
	}
	sharder.Shuffle(shards)

	isCanary := make(map[string]bool, len(canaryExpectations))
	for _, c := range canaryExpectations {
		isCanary[c.ShardID] = true
	}

	cs := model.NewCounterState(mapping) // captured before dispatch, spec section 5

	findings, err := dispatchBatches(ctx, client, resultCache, m, shards, opts)
	if err != nil {
		if log != nil {
			log.Errorf("verify_degrade", "cloud verify failed, returning pre-stage text unchanged: %v", err)
		}
		return redactedText, mapping, CanaryResult{}, err
	}

	canaryResult, realFindings := evaluateCanaries(findings, canaryExpectations, isCanary)

	patchedText, patchedMapping := patch(redactedText, mapping, realFindings, &cs)
	if m != nil {
		m.FindingsApplied.Add(int64(len(realFindings)))
	}
	return patchedText, patchedMapping, canaryResult, nil
}

// dispatchBatches partitions shards into batches of opts.BatchSize and
// issues each batch concurrently, bounded by opts.MaxConcurrent. A
// resultCache hit short-circuits the network call for that shard. Any
// single batch's hard failure cancels the remaining batches and is
// returned to the caller (spec section 4.5.6: a hard failure degrades the
// whole call, not just the failing batch).
func dispatchBatches(ctx context.Context, client *verifyclient.Client, resultCache *cache.ResultCache, m *metrics.Metrics, shards []model.Shard, opts Options) ([]verifyclient.ShardResult, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}

	var batches [][]model.Shard
	for i := 0; i < len(shards); i += batchSize {
		end := i + batchSize
		if end > len(shards) {
			end = len(shards)
		}
		batches = append(batches, shards[i:end])
	}

	sem := make(chan struct{}, maxConcurrent)
	eg, egCtx := errgroup.WithContext(ctx)

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), maxConcurrent)
	}

	var mu sync.Mutex
	var results []verifyclient.ShardResult

	for _, batch := range batches {
		batch := batch
		eg.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-egCtx.Done():
				return egCtx.Err()
			}

			if limiter != nil {
				if err := limiter.Wait(egCtx); err != nil {
					return err
				}
			}

			batchResults, err := verifyBatch(egCtx, client, resultCache, m, batch, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, batchResults...)
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// verifyBatch serves cached shards from resultCache and dispatches the
// remainder in a single /verify call.
func verifyBatch(ctx context.Context, client *verifyclient.Client, resultCache *cache.ResultCache, m *metrics.Metrics, batch []model.Shard, opts Options) ([]verifyclient.ShardResult, error) {
	var results []verifyclient.ShardResult
	var uncached []model.Shard

	for _, s := range batch {
		if resultCache != nil {
			if findings, ok := resultCache.Get(s.Text); ok {
				if m != nil {
					m.RecordCacheHit()
				}
				results = append(results, verifyclient.ShardResult{ShardID: s.ID, Findings: toWire(findings)})
				continue
			}
			if m != nil {
				m.RecordCacheMiss()
			}
		}
		uncached = append(uncached, s)
	}

	if len(uncached) == 0 {
		return results, nil
	}

	ctxDescriptor := verifyclient.ContextDescriptor{
		DocType:      string(opts.DocType),
		EntityCounts: opts.EntityCounts,
	}

	req := verifyclient.VerifyRequest{
		Options: verifyclient.VerifyOptions{ConfidenceThreshold: opts.ConfidenceThreshold},
	}
	for _, s := range uncached {
		req.Shards = append(req.Shards, verifyclient.ShardRequest{ID: s.ID, Text: s.Text, Context: ctxDescriptor})
	}

	if m != nil {
		m.ShardsSent.Add(int64(len(uncached)))
	}

	resp, err := client.Verify(ctx, req, opts.Retry)
	if err != nil {
		if m != nil {
			m.ErrorsVerify.Add(1)
		}
		return nil, err
	}

	textByID := make(map[string]string, len(uncached))
	for _, s := range uncached {
		textByID[s.ID] = s.Text
	}
	for _, r := range resp.Results {
		results = append(results, r)
		if resultCache != nil {
			if text, ok := textByID[r.ShardID]; ok {
				resultCache.Set(text, fromWire(r.Findings, r.ShardID))
			}
		}
	}
	return results, nil
}

func toWire(findings []model.Finding) []verifyclient.FindingWire {
	out := make([]verifyclient.FindingWire, 0, len(findings))
	for _, f := range findings {
		out = append(out, verifyclient.FindingWire{
			Text: f.Text, Type: f.EntityType, Confidence: f.Confidence,
			StartOffset: f.StartOffset, EndOffset: f.EndOffset,
		})
	}
	return out
}

func fromWire(findings []verifyclient.FindingWire, shardID string) []model.Finding {
	out := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		out = append(out, model.Finding{
			ShardID: shardID, Text: f.Text, EntityType: f.Type, Confidence: f.Confidence,
			StartOffset: f.StartOffset, EndOffset: f.EndOffset,
		})
	}
	return out
}

// evaluateCanaries compares findings against each canary's expected entity
// type (spec section 4.5.5) and strips canary findings from the set used
// for patching.
func evaluateCanaries(results []verifyclient.ShardResult, expectations []sharder.CanaryExpectation, isCanary map[string]bool) (CanaryResult, []model.Finding) {
	byShardType := make(map[string]map[string]bool)
	var real []model.Finding

	for _, r := range results {
		for _, f := range r.Findings {
			if isCanary[r.ShardID] {
				if byShardType[r.ShardID] == nil {
					byShardType[r.ShardID] = make(map[string]bool)
				}
				byShardType[r.ShardID][f.Type] = true
				continue
			}
			real = append(real, model.Finding{
				ShardID: r.ShardID, Text: f.Text, EntityType: f.Type, Confidence: f.Confidence,
				StartOffset: f.StartOffset, EndOffset: f.EndOffset,
			})
		}
	}

	detected := 0
	for _, exp := range expectations {
		if byShardType[exp.ShardID][exp.ExpectedType] {
			detected++
		}
	}
	injected := len(expectations)
	rate := 0.0
	if injected > 0 {
		rate = float64(detected) / float64(injected)
	}
	return CanaryResult{Injected: injected, Detected: detected, DetectionRate: rate}, real
}

// patch implements spec section 4.5.6: for each real finding, working
// against the original (non-neutralized) redacted text and mapping, skip
// tag-marker or already-known text, skip text absent from redactedText,
// otherwise assign or reuse a tag and replace every case-insensitive
// occurrence.
func patch(redactedText string, mapping model.Mapping, findings []model.Finding, cs *model.CounterState) (string, model.Mapping) {
	out := mapping.Clone()
	text := redactedText

	typeCounters := make(map[string]map[string]string) // prefix -> literal -> tag, mirrors redactor's de-dup

	for _, f := range findings {
		if f.Text == "" || model.ContainsTagMarkers(f.Text) {
			continue
		}
		if isKnownTagValue(out, f.Text) {
			continue
		}
		if !strings.Contains(strings.ToLower(text), strings.ToLower(f.Text)) {
			continue
		}

		var tag string
		if strings.EqualFold(f.EntityType, "PERSON") {
			tag = resolvePersonTag(f.Text, out, cs)
		} else {
			prefix := typedTagPrefix(f.EntityType)
			if typeCounters[prefix] == nil {
				typeCounters[prefix] = make(map[string]string)
			}
			existing, seen := typeCounters[prefix][f.Text]
			if seen {
				tag = existing
			} else {
				tag = cs.NextTypedTag(prefix)
				typeCounters[prefix][f.Text] = tag
			}
			out.Tags[tag] = f.Text
		}

		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(f.Text))
		text = re.ReplaceAllString(text, tag)
	}

	return text, out
}

func isKnownTagValue(mapping model.Mapping, text string) bool {
	for _, v := range mapping.Tags {
		if strings.EqualFold(v, text) {
			return true
		}
	}
	return false
}

func resolvePersonTag(surface string, mapping model.Mapping, cs *model.CounterState) string {
	for known, tag := range mapping.Persons {
		if strings.EqualFold(known, surface) {
			return tag
		}
	}
	initials := model.Initials(surface)
	tag := cs.NextPersonTag(initials)
	mapping.Tags[tag] = surface
	mapping.Persons[surface] = tag
	return tag
}

// typedTagPrefix maps a finding's free-form entity_type string onto the
// closed set of typed-tag grammar prefixes, defaulting to the upper-cased
// type itself for a type the local label set doesn't recognize.
func typedTagPrefix(entityType string) string {
	switch strings.ToUpper(entityType) {
	case "EMAIL":
		return "EMAIL"
	case "PHONE":
		return "PHONE"
	case "SSN":
		return "SSN"
	case "URL":
		return "URL"
	case "DOB", "DATE_OF_BIRTH":
		return "DOB"
	case "ID_NUMBER", "ID":
		return "ID"
	case "ADDRESS", "ADDR":
		return "ADDR"
	default:
		return strings.ToUpper(entityType)
	}
}
