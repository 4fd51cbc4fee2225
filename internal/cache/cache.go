// Package cache provides the cross-run verify-result cache.
//
// It stores normalized-shard-text-hash -> cloud-verifier findings, so a
// shard that was already verified in a previous run (or earlier in the same
// run, if two shards happen to carry identical text) gets a cache hit
// instead of a redundant network round trip (spec section 9, "process-wide
// lazy-init cache... keyed by normalized input text hash").
//
// Two PersistentCache implementations are provided:
//   - memoryCache — in-memory only, used in tests and when no path is configured.
//   - bboltCache  — embedded key-value store (bbolt), used in production.
//
// New always wraps the chosen store in an S3-FIFO eviction layer
// (s3fifo_cache.go), which bounds the in-memory hot set and also deletes
// evicted keys from the backing store.
package cache

import (
	"fmt"
	"log"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// PersistentCache is the cross-run verify-result cache interface. All
// implementations must be safe for concurrent use.
type PersistentCache interface {
	// Get returns the cached value for key, if present.
	Get(key string) (value string, ok bool)

	// Set stores key -> value. Overwrites any existing entry silently.
	Set(key, value string)

	// Delete removes key, if present. A no-op if key is absent.
	Delete(key string)

	// Close releases any resources held by the cache (e.g. file handles).
	Close() error
}

// New opens a bbolt-backed cache at path wrapped in an S3-FIFO eviction
// layer bounded to capacity. If path is empty, or the bbolt file cannot be
// opened, it falls back to an in-memory-only cache rather than failing the
// whole pipeline over a cache that is, by construction, optional.
func New(path string, capacity int) PersistentCache {
	if path == "" {
		return newS3FIFOCache(newMemoryCache(), capacity)
	}
	backing, err := newBboltCache(path)
	if err != nil {
		log.Printf("[CACHE] falling back to in-memory cache: %v", err)
		backing = newMemoryCache()
	}
	return newS3FIFOCache(backing, capacity)
}

// --- memoryCache ---------------------------------------------------------

// memoryCache is a thread-safe in-memory PersistentCache.
// Used in tests and as a fallback when no bbolt path is configured.
type memoryCache struct {
	mu    sync.RWMutex
	store map[string]string
}

func newMemoryCache() PersistentCache {
	return &memoryCache{store: make(map[string]string)}
}

func (c *memoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	v, ok := c.store[key]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(key, value string) {
	c.mu.Lock()
	c.store[key] = value
	c.mu.Unlock()
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- bboltCache ----------------------------------------------------------

const bboltBucket = "verify_cache"

// bboltCache is a PersistentCache backed by an embedded bbolt database.
// Entries survive process restarts. The database file is created at the
// given path if it does not exist.
type bboltCache struct {
	db *bolt.DB
}

// newBboltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists. Returns an error if the file cannot be opened.
func newBboltCache(path string) (PersistentCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt cache %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	log.Printf("[CACHE] verify-result cache opened at %s", path)
	return &bboltCache{db: db}, nil
}

func (c *bboltCache) Get(key string) (string, bool) {
	var value string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			value = string(v)
		}
		return nil
	})
	if err != nil {
		log.Printf("[CACHE] bbolt Get error: %v", err)
		return "", false
	}
	return value, value != ""
}

func (c *bboltCache) Set(key, value string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(key), []byte(value))
	}); err != nil {
		log.Printf("[CACHE] bbolt Set error: %v", err)
	}
}

func (c *bboltCache) Delete(key string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	}); err != nil {
		log.Printf("[CACHE] bbolt Delete error: %v", err)
	}
}

func (c *bboltCache) Close() error {
	return c.db.Close()
}
