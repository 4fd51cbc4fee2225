// Package config loads and holds all redaction pipeline configuration.
// Settings are layered: defaults → redact-config.json → environment variables
// (env vars win). The Cloud Verify endpoint and credentials are configured
// here; actual dispatch happens in internal/verifyclient.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
)

// Config holds the full pipeline configuration.
type Config struct {
	// Validator thresholds.
	MinPersonConfidence float64 `json:"minPersonConfidence"`

	// Stage toggles (spec section 2: P2 and P3 are independently toggleable).
	EnableAuditor  bool `json:"enableAuditor"`
	EnableVerifier bool `json:"enableVerifier"`

	LogLevel string `json:"logLevel"`

	// Blocklist file paths (spec section 4.2: canonical, custom, user-owned).
	BlocklistCanonicalFile string `json:"blocklistCanonicalFile"`
	BlocklistCustomFile    string `json:"blocklistCustomFile"`
	BlocklistUserFile      string `json:"blocklistUserFile"`

	// Cloud Verify API (spec section 4.5, section 6).
	VerifyEndpoint         string  `json:"verifyEndpoint"`
	VerifyAPIKey           string  `json:"verifyAPIKey"`
	VerifyConfidenceThresh float64 `json:"verifyConfidenceThreshold"`
	VerifyBatchSize        int     `json:"verifyBatchSize"`
	VerifyMaxConcurrent    int     `json:"verifyMaxConcurrent"`
	VerifyRequestsPerSec   float64 `json:"verifyRequestsPerSecond"` // 0 = unpaced, bounded only by VerifyMaxConcurrent
	VerifyRetryBackoffMs   int     `json:"verifyRetryBackoffMs"`
	VerifyMaxRetries       int     `json:"verifyMaxRetries"`
	VerifyTimeoutSeconds   int     `json:"verifyTimeoutSeconds"`
	EnableCanaries         bool    `json:"enableCanaries"`
	CanaryCount            int     `json:"canaryCount"`
	MaxShardChars          int     `json:"maxShardChars"`
	MinSentenceTokens      int     `json:"minSentenceTokens"`

	// Verify-result cache (spec section 9: process-wide lazy-init cache).
	VerifyCacheFile     string `json:"verifyCacheFile"` // path to bbolt cache file; empty = in-memory only
	VerifyCacheCapacity int    `json:"verifyCacheCapacity"`

	// Management HTTP API (blocklist registry; adapted from the teacher's
	// AI-domain registry).
	ManagementPort  int    `json:"managementPort"`
	ManagementToken string `json:"managementToken"`
	BindAddress     string `json:"bindAddress"`

	// GlobalNamePassMinLength bounds the Redactor's case-insensitive global
	// name substitution pass (spec section 9, open question) to surface
	// forms of at least this many characters.
	GlobalNamePassMinLength int `json:"globalNamePassMinLength"`
}

// Load returns config with defaults overridden by redact-config.json and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "redact-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		MinPersonConfidence:     0.6,
		EnableAuditor:           true,
		EnableVerifier:          false,
		LogLevel:                "info",
		BlocklistCanonicalFile:  "blocklist-canonical.txt",
		BlocklistCustomFile:     "blocklist-custom.txt",
		BlocklistUserFile:       "blocklist-user.txt",
		VerifyEndpoint:          "https://verify.example.com",
		VerifyConfidenceThresh:  0.7,
		VerifyBatchSize:         5,
		VerifyMaxConcurrent:     3,
		VerifyRequestsPerSec:    5,
		VerifyRetryBackoffMs:    500,
		VerifyMaxRetries:        2,
		VerifyTimeoutSeconds:    60,
		EnableCanaries:          true,
		CanaryCount:             3,
		MaxShardChars:           800,
		MinSentenceTokens:       5,
		VerifyCacheFile:         "verify-cache.db",
		VerifyCacheCapacity:     50_000,
		ManagementPort:          8091,
		BindAddress:             "127.0.0.1",
		GlobalNamePassMinLength: 4,
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // G703: path is a controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
	} else {
		log.Printf("[CONFIG] Loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("MIN_PERSON_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MinPersonConfidence = f
		}
	}
	if v := os.Getenv("ENABLE_AUDITOR"); v == "false" {
		cfg.EnableAuditor = false
	}
	if v := os.Getenv("ENABLE_VERIFIER"); v == "true" {
		cfg.EnableVerifier = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BLOCKLIST_CANONICAL_FILE"); v != "" {
		cfg.BlocklistCanonicalFile = v
	}
	if v := os.Getenv("BLOCKLIST_CUSTOM_FILE"); v != "" {
		cfg.BlocklistCustomFile = v
	}
	if v := os.Getenv("BLOCKLIST_USER_FILE"); v != "" {
		cfg.BlocklistUserFile = v
	}
	if v := os.Getenv("VERIFY_ENDPOINT"); v != "" {
		cfg.VerifyEndpoint = v
	}
	if v := os.Getenv("VERIFY_API_KEY"); v != "" {
		cfg.VerifyAPIKey = v
	}
	if v := os.Getenv("VERIFY_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.VerifyConfidenceThresh = f
		}
	}
	if v := os.Getenv("VERIFY_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.VerifyBatchSize = n
		}
	}
	if v := os.Getenv("VERIFY_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.VerifyMaxConcurrent = n
		}
	}
	if v := os.Getenv("VERIFY_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.VerifyRequestsPerSec = f
		}
	}
	if v := os.Getenv("VERIFY_CACHE_FILE"); v != "" {
		cfg.VerifyCacheFile = v
	}
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
}
