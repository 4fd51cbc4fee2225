// Command redact is the PII redaction pipeline's CLI.
//
// It replaces the teacher's long-running proxy server with a one-shot
// command that runs the Detector->Validator->Redactor->Auditor->Verifier
// pipeline over a single document. Four subcommands are supported:
//
//	redact redact <file>              run the full pipeline, writing
//	                                   <file>.redacted and <file>.mapping.json
//	redact restore <redacted> <map>   invert a redaction, writing
//	                                   RESTORED_<redacted>
//	redact audit <redacted> <map>     re-run the leak-scan stage alone over
//	                                   an already-redacted file and patch it
//	                                   in place
//	redact verify-status              print cloud verify API usage/quota
//
// redact also accepts "-" in place of a file path to read from stdin; in
// that case the redacted text is written to stdout instead of a file and
// no mapping file is written unless -mapping is given.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"pii-redact/internal/auditor"
	"pii-redact/internal/blocklist"
	"pii-redact/internal/cache"
	"pii-redact/internal/config"
	"pii-redact/internal/logger"
	"pii-redact/internal/metrics"
	"pii-redact/internal/model"
	"pii-redact/internal/pipeline"
	"pii-redact/internal/restorer"
	"pii-redact/internal/verifyclient"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.New("CLI", cfg.LogLevel)

	var err error
	switch os.Args[1] {
	case "redact":
		err = cmdRedact(cfg, log, os.Args[2:])
	case "restore":
		err = cmdRestore(log, os.Args[2:])
	case "audit":
		err = cmdAudit(cfg, log, os.Args[2:])
	case "verify-status":
		err = cmdVerifyStatus(cfg, os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Errorf("CLI", "%v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  redact redact <file|->        run full pipeline
  redact restore <redacted> <mapping.json>
  redact audit <redacted> <mapping.json>
  redact verify-status`)
}

func cmdRedact(cfg *config.Config, log *logger.Logger, args []string) error {
	fs := flag.NewFlagSet("redact", flag.ExitOnError)
	mappingOut := fs.String("mapping", "", "mapping output path (stdin mode only)")
	fs.Parse(args) //nolint:errcheck

	if fs.NArg() != 1 {
		return fmt.Errorf("redact: expected exactly one file argument, got %d", fs.NArg())
	}
	path := fs.Arg(0)

	text, source, err := readInput(path)
	if err != nil {
		return err
	}

	p, closeFn, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	meta := model.Metadata{OriginalFile: path, ProcessedAt: nowISO8601(), Source: source}
	result, err := p.Run(context.Background(), text, meta)
	if err != nil {
		return fmt.Errorf("redact: pipeline error: %w", err)
	}

	mappingJSON, err := json.MarshalIndent(result.Mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("redact: marshal mapping: %w", err)
	}

	if path == "-" {
		if _, err := fmt.Println(result.Text); err != nil {
			return err
		}
		if *mappingOut != "" {
			return atomicWriteFile(*mappingOut, append(mappingJSON, '\n'))
		}
		return nil
	}

	if err := atomicWriteFile(path+".redacted", []byte(result.Text)); err != nil {
		return err
	}
	if err := atomicWriteFile(path+".mapping.json", append(mappingJSON, '\n')); err != nil {
		return err
	}
	log.Infof("CLI", "redacted %s -> %s.redacted (%d tags)", path, path, len(result.Mapping.Tags))
	return nil
}

func cmdRestore(log *logger.Logger, args []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	fs.Parse(args) //nolint:errcheck

	if fs.NArg() != 2 {
		return fmt.Errorf("restore: expected <redacted file> <mapping.json>, got %d args", fs.NArg())
	}
	redactedPath, mappingPath := fs.Arg(0), fs.Arg(1)

	redactedText, _, err := readInput(redactedPath)
	if err != nil {
		return err
	}
	mapping, err := readMapping(mappingPath)
	if err != nil {
		return err
	}

	restored, err := restorer.Restore(redactedText, mapping)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	outPath := filepath.Join(filepath.Dir(redactedPath), "RESTORED_"+filepath.Base(redactedPath))
	if err := atomicWriteFile(outPath, []byte(restored)); err != nil {
		return err
	}
	log.Infof("CLI", "restored %s -> %s", redactedPath, outPath)
	return nil
}

func cmdAudit(cfg *config.Config, log *logger.Logger, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	fs.Parse(args) //nolint:errcheck

	if fs.NArg() != 2 {
		return fmt.Errorf("audit: expected <redacted file> <mapping.json>, got %d args", fs.NArg())
	}
	redactedPath, mappingPath := fs.Arg(0), fs.Arg(1)

	redactedText, _, err := readInput(redactedPath)
	if err != nil {
		return err
	}
	mapping, err := readMapping(mappingPath)
	if err != nil {
		return err
	}

	blocked := blocklist.NewRegistry(cfg.BlocklistCanonicalFile, cfg.BlocklistCustomFile, cfg.BlocklistUserFile)
	patchedText, patchedMapping := auditor.Audit(redactedText, mapping, blocked)

	if err := atomicWriteFile(redactedPath, []byte(patchedText)); err != nil {
		return err
	}
	mappingJSON, err := json.MarshalIndent(patchedMapping, "", "  ")
	if err != nil {
		return fmt.Errorf("audit: marshal mapping: %w", err)
	}
	if err := atomicWriteFile(mappingPath, append(mappingJSON, '\n')); err != nil {
		return err
	}
	log.Infof("CLI", "audited %s in place (%d total tags)", redactedPath, len(patchedMapping.Tags))
	return nil
}

func cmdVerifyStatus(cfg *config.Config, args []string) error {
	if cfg.VerifyAPIKey == "" {
		return fmt.Errorf("verify-status: VERIFY_API_KEY is not configured")
	}
	client := verifyclient.New(cfg.VerifyEndpoint, cfg.VerifyAPIKey, time.Duration(cfg.VerifyTimeoutSeconds)*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.VerifyTimeoutSeconds)*time.Second)
	defer cancel()

	usage, err := client.Usage(ctx)
	if err != nil {
		return fmt.Errorf("verify-status: %w", err)
	}
	out, err := json.MarshalIndent(usage, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// buildPipeline wires the shared process-wide resources (blocklist
// registry, metrics, verify client, result cache) into one Pipeline.
// closeFn must be called to flush the on-disk result cache.
func buildPipeline(cfg *config.Config, log *logger.Logger) (*pipeline.Pipeline, func(), error) {
	blocked := blocklist.NewRegistry(cfg.BlocklistCanonicalFile, cfg.BlocklistCustomFile, cfg.BlocklistUserFile)
	m := metrics.New()

	var client *verifyclient.Client
	var resultCache *cache.ResultCache
	closeFn := func() {}

	if cfg.EnableVerifier {
		client = verifyclient.New(cfg.VerifyEndpoint, cfg.VerifyAPIKey, time.Duration(cfg.VerifyTimeoutSeconds)*time.Second)
		backing := cache.New(cfg.VerifyCacheFile, cfg.VerifyCacheCapacity)
		resultCache = cache.NewResultCache(backing)
		closeFn = func() {
			if err := backing.Close(); err != nil {
				log.Errorf("CLI", "cache close error: %v", err)
			}
		}
	}

	return pipeline.New(cfg, blocked, m, log, client, resultCache), closeFn, nil
}

func readInput(path string) (text string, source string, err error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), "stdin", nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is an operator-supplied CLI argument
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), "file", nil
}

func readMapping(path string) (model.Mapping, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is an operator-supplied CLI argument
	if err != nil {
		return model.Mapping{}, fmt.Errorf("read mapping %s: %w", path, err)
	}
	mapping := model.NewMapping()
	if err := json.Unmarshal(data, &mapping); err != nil {
		return model.Mapping{}, fmt.Errorf("parse mapping %s: %w", path, err)
	}
	return mapping, nil
}

// atomicWriteFile mirrors the teacher's temp-file-then-rename persistence
// idiom so a crash mid-write never leaves a truncated output file.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".redact-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

func nowISO8601() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}
