package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"pii-redact/internal/config"
	"pii-redact/internal/logger"
	"pii-redact/internal/model"
)

func testCfg(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		MinPersonConfidence:     0.6,
		EnableAuditor:           true,
		EnableVerifier:          false,
		LogLevel:                "error",
		GlobalNamePassMinLength: 4,
	}
	return cfg
}

func TestCmdRedact_WritesRedactedFileAndMapping(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(path, []byte("Steve Johnson leads the account team and handles renewals."), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	log := logger.New("CLI", "error")
	if err := cmdRedact(testCfg(t), log, []string{path}); err != nil {
		t.Fatalf("cmdRedact() error = %v", err)
	}

	redacted, err := os.ReadFile(path + ".redacted")
	if err != nil {
		t.Fatalf("read redacted output: %v", err)
	}
	if len(redacted) == 0 {
		t.Error("expected non-empty redacted output")
	}

	mappingData, err := os.ReadFile(path + ".mapping.json")
	if err != nil {
		t.Fatalf("read mapping output: %v", err)
	}
	var mapping model.Mapping
	if err := json.Unmarshal(mappingData, &mapping); err != nil {
		t.Fatalf("unmarshal mapping: %v", err)
	}
	if len(mapping.Tags) == 0 {
		t.Error("expected at least one mapping tag")
	}
}

func TestCmdRedactThenRestore_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	original := "Steve Johnson leads the account team and handles renewals."
	if err := os.WriteFile(path, []byte(original), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	log := logger.New("CLI", "error")
	if err := cmdRedact(testCfg(t), log, []string{path}); err != nil {
		t.Fatalf("cmdRedact() error = %v", err)
	}

	redactedPath := path + ".redacted"
	mappingPath := path + ".mapping.json"
	if err := cmdRestore(log, []string{redactedPath, mappingPath}); err != nil {
		t.Fatalf("cmdRestore() error = %v", err)
	}

	restoredPath := filepath.Join(dir, "RESTORED_doc.txt.redacted")
	restored, err := os.ReadFile(restoredPath)
	if err != nil {
		t.Fatalf("read restored output: %v", err)
	}
	if string(restored) != original {
		t.Errorf("Restore() = %q, want %q", string(restored), original)
	}
}

func TestAtomicWriteFile_CreatesAndOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	if err := atomicWriteFile(path, []byte("first")); err != nil {
		t.Fatalf("atomicWriteFile() error = %v", err)
	}
	if err := atomicWriteFile(path, []byte("second")); err != nil {
		t.Fatalf("atomicWriteFile() overwrite error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("atomicWriteFile() result = %q, want %q", string(data), "second")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("expected no leftover temp files, found %s", e.Name())
		}
	}
}

func TestCmdVerifyStatus_ErrorsWithoutAPIKey(t *testing.T) {
	cfg := testCfg(t)
	if err := cmdVerifyStatus(cfg, nil); err == nil {
		t.Error("expected an error when VERIFY_API_KEY is unset")
	}
}
