// Package auditor implements stage P2: a structural self-audit that scans
// already-redacted text for untagged PII the first pass missed — orphaned
// conjunctions, title-prefixed names, unclassified capitalized phrases, and
// possessive references — and patches them in place, reusing existing
// cluster tags where possible (spec section 4.4). Running the auditor
// twice must produce no further changes (idempotence).
package auditor

import (
	"regexp"
	"sort"
	"strings"

	"pii-redact/internal/blocklist"
	"pii-redact/internal/model"
)

// personTagScanRe finds any person tag (either grammar) in text, used to
// locate "existing tag regions" findings must fall outside of.
var personTagScanRe = regexp.MustCompile(`<<[A-Z]+[0-9]*>>|<NAME [A-Z]+[0-9]*>`)

// conjunctionForwardRe matches "<tag> and CapWord[ CapWord]?";
// conjunctionBackwardRe matches its mirror.
var conjunctionForwardRe = regexp.MustCompile(`(<<[A-Z]+[0-9]*>>|<NAME [A-Z]+[0-9]*>)\s+and\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
var conjunctionBackwardRe = regexp.MustCompile(`([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\s+and\s+(<<[A-Z]+[0-9]*>>|<NAME [A-Z]+[0-9]*>)`)

// titlePrefixedRe matches a title followed by a capitalized name.
var titlePrefixedRe = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr|Prof|Professor|Rev|Judge|Hon)\.?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)

// capitalizedPhraseRe matches two or three consecutive capitalized words,
// each at least 3 characters.
var capitalizedPhraseRe = regexp.MustCompile(`\b([A-Z][a-z]{2,}(?:\s+[A-Z][a-z]{2,}){1,2})\b`)

// possessiveRe matches CapWord's.
var possessiveRe = regexp.MustCompile(`\b([A-Z][a-z]+)'s\b`)

// finding is one leak the audit detectors surfaced, with the text to
// replace and its [start, end) span in the current text.
type finding struct {
	text  string
	start int
	end   int
}

// Audit scans redactedText against mapping and patches any leaks found,
// returning the patched text and updated mapping. Calling Audit again on
// its own output must return the same text and mapping unchanged.
func Audit(redactedText string, mapping model.Mapping, blocked *blocklist.Registry) (string, model.Mapping) {
	out := mapping.Clone()
	cs := model.NewCounterState(out)
	text := redactedText

	for {
		findings := collectFindings(text, out, blocked)
		if len(findings) == 0 {
			break
		}
		text = applyFindings(text, findings, out, &cs)
	}

	return text, out
}

func collectFindings(text string, mapping model.Mapping, blocked *blocklist.Registry) []finding {
	seen := make(map[string]bool)
	var out []finding

	add := func(matchText string, start, end int) {
		if mapping.Persons != nil {
			if _, isOriginal := findOriginalAt(mapping, matchText); isOriginal {
				return
			}
		}
		if model.ContainsTagMarkers(matchText) {
			return
		}
		if insideTagRegion(text, start, end) {
			return
		}
		key := matchText
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, finding{text: matchText, start: start, end: end})
	}

	for _, loc := range conjunctionForwardRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[4]:loc[5]]
		add(name, runeOffset(text, loc[4]), runeOffset(text, loc[5]))
	}
	for _, loc := range conjunctionBackwardRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		add(name, runeOffset(text, loc[2]), runeOffset(text, loc[3]))
	}
	for _, loc := range titlePrefixedRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[loc[2]:loc[3]]
		add(name, runeOffset(text, loc[2]), runeOffset(text, loc[3]))
	}
	for _, loc := range capitalizedPhraseRe.FindAllStringSubmatchIndex(text, -1) {
		phrase := text[loc[2]:loc[3]]
		if blocked != nil && blocked.Has(phrase) {
			continue
		}
		if blocklist.IsSectionHeader(phrase) {
			continue
		}
		add(phrase, runeOffset(text, loc[2]), runeOffset(text, loc[3]))
	}
	for _, loc := range possessiveRe.FindAllStringSubmatchIndex(text, -1) {
		word := text[loc[2]:loc[3]]
		if !isKnownPersonToken(word, mapping) {
			continue
		}
		add(word, runeOffset(text, loc[2]), runeOffset(text, loc[3]))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// findOriginalAt reports whether matchText is already a value present in
// mapping.Tags (the "identical to an existing original value" skip rule).
func findOriginalAt(mapping model.Mapping, matchText string) (string, bool) {
	for _, v := range mapping.Tags {
		if strings.EqualFold(v, matchText) {
			return v, true
		}
	}
	return "", false
}

func insideTagRegion(text string, start, end int) bool {
	for _, loc := range personTagScanRe.FindAllStringIndex(text, -1) {
		tagStart := runeOffset(text, loc[0])
		tagEnd := runeOffset(text, loc[1])
		if start >= tagStart && end <= tagEnd {
			return true
		}
	}
	return false
}

func isKnownPersonToken(word string, mapping model.Mapping) bool {
	for surface := range mapping.Persons {
		for _, tok := range strings.Fields(surface) {
			if strings.EqualFold(tok, word) {
				return true
			}
		}
	}
	return false
}

func runeOffset(s string, byteOffset int) int {
	return len([]rune(s[:byteOffset]))
}

// applyFindings reuses the owning cluster's tag for each finding if its
// text is a substring token of some known surface form; otherwise it
// creates a new cluster continuing the Redactor's counters. Replacement
// is case-insensitive and global.
func applyFindings(text string, findings []finding, mapping model.Mapping, cs *model.CounterState) string {
	for _, f := range findings {
		tag := resolveTag(f.text, mapping, cs)
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(f.text) + `\b`)
		text = re.ReplaceAllString(text, tag)
	}
	return text
}

func resolveTag(surface string, mapping model.Mapping, cs *model.CounterState) string {
	for known, tag := range mapping.Persons {
		for _, tok := range strings.Fields(known) {
			if strings.EqualFold(tok, surface) {
				mapping.Persons[surface] = tag
				return tag
			}
		}
	}

	initials := model.Initials(surface)
	tag := cs.NextPersonTag(initials)
	mapping.Tags[tag] = surface
	mapping.Persons[surface] = tag
	return tag
}
