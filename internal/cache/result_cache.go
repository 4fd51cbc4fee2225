package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"pii-redact/internal/model"
)

// ResultCache is a typed view over PersistentCache that stores cloud-verifier
// findings keyed by the normalized shard text they were produced from, so
// identical shard text (within one run or across runs) never needs a second
// network round trip.
type ResultCache struct {
	backing PersistentCache
}

// NewResultCache wraps backing in a ResultCache.
func NewResultCache(backing PersistentCache) *ResultCache {
	return &ResultCache{backing: backing}
}

// Key returns the normalized cache key for shard text: lower-cased,
// whitespace-collapsed, then SHA-256 hex encoded so keys are fixed-length
// and never leak shard content into cache storage metadata.
func Key(shardText string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(shardText)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached findings for shardText, if present.
func (r *ResultCache) Get(shardText string) ([]model.Finding, bool) {
	raw, ok := r.backing.Get(Key(shardText))
	if !ok {
		return nil, false
	}
	var findings []model.Finding
	if err := json.Unmarshal([]byte(raw), &findings); err != nil {
		return nil, false
	}
	return findings, true
}

// Set stores findings for shardText, overwriting any existing entry.
func (r *ResultCache) Set(shardText string, findings []model.Finding) {
	raw, err := json.Marshal(findings)
	if err != nil {
		return
	}
	r.backing.Set(Key(shardText), string(raw))
}

// Close closes the backing store.
func (r *ResultCache) Close() error {
	return r.backing.Close()
}
