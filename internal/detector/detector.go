// Package detector implements stage P1: scanning plaintext for candidate
// PII entities from three sources (regex, statistical NER, all-caps header
// heuristic), then merging them into a non-overlapping sequence ordered by
// start offset. Grounded on the teacher's anonymizer.compilePatterns table
// idiom: an ordered slice of (regex, label, confidence) triples applied in
// sequence, then merged with the statistical pass.
package detector

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pii-redact/internal/model"
	"pii-redact/internal/ner"
)

// titleCaser normalizes ALL-CAPS header matches to Title Case using
// Unicode-aware casing rules rather than a byte-wise upper/lower flip.
var titleCaser = cases.Title(language.English)

// DocType is the coarse document classification used only to tune
// validation (transcripts tolerate more speaker-name false positives;
// resumes tolerate job titles adjacent to names).
type DocType string

// Supported document types.
const (
	DocTranscript DocType = "transcript"
	DocResume     DocType = "resume"
	DocGeneral    DocType = "general"
)

// pattern pairs a compiled regex with its label and base confidence, in the
// same shape as the teacher's anonymizer.pattern.
type pattern struct {
	re         *regexp.Regexp
	label      model.Label
	confidence float64
}

// patterns holds the seven ordered regex phases from spec section 4.1.
// DOB carries 0.8 (not 1.0) so validation can demote it; every other
// pattern is unambiguous at match time and carries full confidence.
var patterns = compilePatterns()

func compilePatterns() []pattern {
	specs := []struct {
		expr  string
		label model.Label
		conf  float64
	}{
		{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, model.LabelEmail, 1.0},
		{`(\+?1?[\-.\s]?)?\(?([0-9]{3})\)?[\-.\s]?([0-9]{3})[\-.\s]?([0-9]{4})\b`, model.LabelPhone, 1.0},
		{`\b(?:\d{3}-\d{2}-\d{4}|\d{9})\b`, model.LabelSSN, 1.0},
		{`\bhttps?://[^\s<>"']+`, model.LabelURL, 1.0},
		{`\b(?:[0-1]?[0-9][/-][0-3]?[0-9][/-](?:[0-9]{4}|[0-9]{2}))\b`, model.LabelDOB, 0.8},
		{`\b[A-Z]{1,3}[-\s]?[0-9]{5,10}\b`, model.LabelIDNumber, 1.0},
		{`(?i)\b\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct)\b(?:,?\s+[A-Za-z\s]+,?\s+[A-Z]{2}\s+\d{5})?`, model.LabelAddress, 1.0},
	}
	out := make([]pattern, 0, len(specs))
	for _, s := range specs {
		out = append(out, pattern{re: regexp.MustCompile(s.expr), label: s.label, confidence: s.conf})
	}
	return out
}

// headerLineRe matches a full line of two-or-more ALL-CAPS tokens (letters
// only), the header heuristic from spec section 4.1 phase 3.
var headerLineRe = regexp.MustCompile(`^([A-Z]{2,}(\s+[A-Z]{2,}){0,3})\s*$`)

// Detect scans text and returns a non-overlapping sequence of candidate
// entities ordered by start offset. docType is advisory only at this stage
// (it is consumed by the Validator); callers that do not know it yet may
// pass DocGeneral.
func Detect(text string, _ DocType) []model.Entity {
	runes := []rune(text)
	regexEntities := regexPass(runes)
	doc := ner.Tag(text)
	nerEntities := nerPass(runes, doc, regexEntities)
	headerEntities := headerPass(runes)

	return mergeAndDedupe(regexEntities, append(nerEntities, headerEntities...))
}

// DetectDocType scores the first 1,500 characters for transcript and
// resume signals (spec section 4.1, "Doc-type auto-detection").
func DetectDocType(text string) DocType {
	runes := []rune(text)
	if len(runes) > 1500 {
		runes = runes[:1500]
	}
	head := string(runes)

	transcriptScore := 0
	lines := strings.Split(head, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if speakerPrefixRe.MatchString(trimmed) {
			transcriptScore++
		}
		if strings.HasPrefix(trimmed, "Q:") || strings.HasPrefix(trimmed, "A:") {
			transcriptScore++
		}
	}

	resumeScore := 0
	lowerHead := strings.ToLower(head)
	for _, kw := range resumeKeywords {
		if strings.Contains(lowerHead, kw) {
			resumeScore++
		}
	}

	if transcriptScore >= 2 && transcriptScore >= resumeScore {
		return DocTranscript
	}
	if resumeScore >= 2 {
		return DocResume
	}
	return DocGeneral
}

var speakerPrefixRe = regexp.MustCompile(`^[A-Z][A-Za-z.\s]{0,30}:\s`)

var resumeKeywords = []string{
	"work experience", "education", "skills", "certifications",
	"professional summary", "references available", "objective",
	"employment history", "qualifications",
}

// regexPass runs every compiled pattern over text and returns one Entity
// per match, offsets in code points.
func regexPass(runes []rune) []model.Entity {
	text := string(runes)
	var out []model.Entity
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			start := runeOffset(text, loc[0])
			end := runeOffset(text, loc[1])
			out = append(out, model.Entity{
				Text:       string(runes[start:end]),
				Label:      p.label,
				Start:      start,
				End:        end,
				Confidence: p.confidence,
			})
		}
	}
	return out
}

func runeOffset(s string, byteOffset int) int {
	return len([]rune(s[:byteOffset]))
}

// nerPass converts the statistical NER doc's PERSON and DATE spans into
// candidates, applying the pre-filters from spec section 4.1 phase 2.
// PERSON and DATE spans overlapping an already-found regex match are
// dropped here as well as in mergeAndDedupe, since the NER-derived DATE
// suppression (scenario S3) depends on this pass not emitting a DOB
// candidate over a span the regex phase already tagged.
func nerPass(runes []rune, doc ner.Doc, regexEntities []model.Entity) []model.Entity {
	var out []model.Entity
	for _, span := range doc.Spans {
		switch span.Label {
		case ner.LabelPerson:
			if !personPreFilter(span.Text) {
				continue
			}
			if overlapsAny(span.Start, span.End, regexEntities) {
				continue
			}
			out = append(out, model.Entity{
				Text:       span.Text,
				Label:      model.LabelPerson,
				Start:      span.Start,
				End:        span.End,
				Confidence: 0.5,
			})
		case ner.LabelDate:
			if !ner.IsSpecificDate(span.Text) {
				continue
			}
			if overlapsAny(span.Start, span.End, regexEntities) {
				continue // regex DOB match already covers this span (scenario S3)
			}
			out = append(out, model.Entity{
				Text:       span.Text,
				Label:      model.LabelDOB,
				Start:      span.Start,
				End:        span.End,
				Confidence: 0.8,
			})
		}
	}
	return out
}

// personPreFilter implements the "no @, no digits, no newlines, <= 5
// tokens" cheap pre-filter from spec section 4.1 phase 2.
func personPreFilter(text string) bool {
	if strings.ContainsAny(text, "@\n") {
		return false
	}
	if strings.ContainsAny(text, "0123456789") {
		return false
	}
	tokens := strings.Fields(text)
	return len(tokens) >= 1 && len(tokens) <= 5
}

func overlapsAny(start, end int, entities []model.Entity) bool {
	for _, e := range entities {
		if e.Start < end && start < e.End {
			return true
		}
	}
	return false
}

// headerPass scans the first 500 characters for ALL-CAPS header lines and
// normalizes matches to Title Case (spec section 4.1 phase 3).
func headerPass(runes []rune) []model.Entity {
	limit := len(runes)
	if limit > 500 {
		limit = 500
	}
	head := string(runes[:limit])

	var out []model.Entity
	offset := 0
	for _, line := range strings.SplitAfter(head, "\n") {
		trimmed := strings.TrimRight(line, "\n")
		if headerLineRe.MatchString(trimmed) {
			start := offset + leadingSpace(trimmed)
			text := strings.TrimSpace(trimmed)
			out = append(out, model.Entity{
				Text:       titleCase(text),
				Label:      model.LabelPerson,
				Start:      start,
				End:        start + len([]rune(text)),
				Confidence: 0.9,
			})
		}
		offset += len([]rune(line))
	}
	return out
}

func leadingSpace(s string) int {
	trimmed := strings.TrimLeft(s, " \t")
	return len([]rune(s)) - len([]rune(trimmed))
}

func titleCase(s string) string {
	return titleCaser.String(strings.ToLower(s))
}

// mergeAndDedupe implements spec section 4.1 phase 4: non-regex candidates
// overlapping a regex match are discarded (regex entities always win),
// then the remainder is sorted by (start, -confidence, -(end-start)) and
// swept greedily, keeping the non-overlapping prefix.
func mergeAndDedupe(regexEntities, other []model.Entity) []model.Entity {
	var filteredOther []model.Entity
	for _, c := range other {
		if !overlapsAny(c.Start, c.End, regexEntities) {
			filteredOther = append(filteredOther, c)
		}
	}

	all := append(append([]model.Entity{}, regexEntities...), filteredOther...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		if all[i].Confidence != all[j].Confidence {
			return all[i].Confidence > all[j].Confidence
		}
		return all[i].Len() > all[j].Len()
	})

	var result []model.Entity
	lastEnd := -1
	for _, e := range all {
		if e.Start >= lastEnd {
			result = append(result, e)
			lastEnd = e.End
		}
	}
	return result
}
