// Package validator implements stage P1v: scoring and filtering candidate
// PERSON entities using a blocklist, capitalization rules, job-title and
// section-header patterns, and POS tags (spec section 4.2). Non-PERSON
// candidates pass through unchanged at confidence 1.0.
package validator

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"pii-redact/internal/blocklist"
	"pii-redact/internal/detector"
	"pii-redact/internal/model"
	"pii-redact/internal/ner"
)

// foldCase is the Unicode-aware case folder used for the particle exemption
// check below, in place of strings.ToLower's ASCII-only folding.
var foldCase = cases.Fold()

// MinPersonConfidence is the survival threshold for PERSON candidates
// (spec section 4.2). Callers normally take this from config.Config, but
// the constant documents the spec default for tests and as a fallback.
const MinPersonConfidence = 0.6

// particles are lower-case name particles exempt from the capitalization
// check (spec section 4.2: "known particles like de, van, bin, al").
var particles = map[string]bool{
	"de": true, "van": true, "bin": true, "al": true, "von": true,
	"der": true, "den": true, "la": true, "le": true, "di": true,
}

// Validate scores and filters candidates, returning a new slice and leaving
// the input slice unchanged.
// Non-PERSON entities pass through unchanged at confidence 1.0. PERSON
// entities are scored starting from 0.5 and kept only if the final score
// is >= minConfidence.
func Validate(candidates []model.Entity, text string, doc ner.Doc, docType detector.DocType, blocked *blocklist.Registry, minConfidence float64) []model.Entity {
	runes := []rune(text)
	var out []model.Entity
	for _, c := range candidates {
		if c.Label != model.LabelPerson {
			c.Confidence = 1.0
			out = append(out, c)
			continue
		}
		score, ok := scorePerson(c, runes, doc, docType, blocked)
		if !ok || score < minConfidence {
			continue
		}
		c.Confidence = score
		out = append(out, c)
	}
	return out
}

// scorePerson returns the PERSON candidate's final confidence and whether
// it survives at all (false means a hard reject regardless of the
// returned score).
func scorePerson(e model.Entity, runes []rune, doc ner.Doc, docType detector.DocType, blocked *blocklist.Registry) (float64, bool) {
	text := e.Text

	if strings.ContainsAny(text, "@\n") || containsDigit(text) {
		return 0, false
	}
	if blocked != nil && blocked.Has(text) {
		return 0, false
	}
	if doc.HasLabelText(text, ner.LabelOrg, ner.LabelGPE, ner.LabelLoc, ner.LabelNorp, ner.LabelFac, ner.LabelProduct, ner.LabelWorkOfArt) {
		return 0, false
	}
	if blocklist.IsSectionHeader(text) {
		return 0, false
	}
	if blocklist.MatchesCertificationPattern(text) {
		return 0, false
	}

	tokens := strings.Fields(text)
	score := 0.5

	switch {
	case len(tokens) == 0 || len(tokens) > 5:
		return 0, false
	case len(tokens) >= 2 && len(tokens) <= 3:
		score += 0.25
	case len(tokens) == 1:
		score -= 0.15
		if len([]rune(tokens[0])) <= 3 {
			score -= 0.20
		}
	}

	if blocklist.MatchesJobTitlePattern(text) {
		score -= 0.40
	}

	if !passesCapitalization(tokens) {
		score -= 0.25
	}

	ratio := doc.POSRatio(e.Start, e.End)
	if ratio > 0.8 {
		score += 0.20
	} else if ratio < 0.3 {
		score -= 0.20
	}

	_ = docType // reserved for future doc-type-specific tuning hooks

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, true
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// passesCapitalization implements spec section 4.2's capitalization check:
// each token >= 3 chars must start uppercase, except known particles and
// O'/Mc/Mac-prefixed or hyphenated names whose parts each start uppercase.
func passesCapitalization(tokens []string) bool {
	for _, tok := range tokens {
		clean := strings.Trim(tok, ".,;:!?")
		r := []rune(clean)
		if len(r) < 3 {
			continue
		}
		if particles[foldCase.String(clean)] {
			continue
		}
		if hasValidPrefix(clean) {
			continue
		}
		if strings.Contains(clean, "-") {
			parts := strings.Split(clean, "-")
			ok := true
			for _, p := range parts {
				if p == "" || !startsUpper(p) {
					ok = false
					break
				}
			}
			if ok {
				continue
			}
			return false
		}
		if !startsUpper(clean) {
			return false
		}
	}
	return true
}

func hasValidPrefix(tok string) bool {
	if strings.HasPrefix(tok, "O'") || strings.HasPrefix(tok, "Mc") || strings.HasPrefix(tok, "Mac") {
		rest := strings.TrimPrefix(strings.TrimPrefix(strings.TrimPrefix(tok, "O'"), "Mc"), "Mac")
		return rest == "" || startsUpper(rest)
	}
	return false
}

func startsUpper(s string) bool {
	r := []rune(s)
	return len(r) > 0 && unicode.IsUpper(r[0])
}
