// Package ner is the statistical-NER "external collaborator" referenced by
// the detection pipeline: ner(text) -> (label, text, start, end), plus
// sentences(text) -> (text, start, end) and pos_tags(text) -> (start, end, tag).
// Any implementation satisfying that contract is acceptable to the Detector
// and Validator; this package provides one.
//
// A production deployment would load a pretrained sequence-tagging model
// (spaCy-style) behind this contract. That dependency is not available in
// this module's vendored stack, so this package implements the documented
// fallback instead: a lexicon- and punctuation-driven heuristic tagger. It
// is deliberately conservative — it trades recall for the zero-dependency,
// always-available property the Detector's failure semantics require ("on
// NER model load failure, the implementer MAY fall back to a smaller
// model; document the choice").
package ner

import (
	"regexp"
	"strings"
	"unicode"
)

// Label mirrors the closed label set a statistical NER model would emit.
// Only PERSON and DATE are consumed downstream; the others exist so the
// contract is satisfied in full and the Validator's ORG/GPE/LOC/NORP/FAC/
// PRODUCT/WORK_OF_ART exclusion check has something to check against.
type Label string

// Supported NER labels.
const (
	LabelPerson      Label = "PERSON"
	LabelOrg         Label = "ORG"
	LabelGPE         Label = "GPE"
	LabelLoc         Label = "LOC"
	LabelNorp        Label = "NORP"
	LabelFac         Label = "FAC"
	LabelProduct     Label = "PRODUCT"
	LabelWorkOfArt   Label = "WORK_OF_ART"
	LabelDate        Label = "DATE"
)

// Span is one labeled span produced by Tag.
type Span struct {
	Label Label
	Text  string
	Start int
	End   int
}

// Sentence is one sentence produced by Sentences.
type Sentence struct {
	Text  string
	Start int
	End   int
}

// POSTag is one part-of-speech tag produced by POSTags.
type POSTag struct {
	Start int
	End   int
	Tag   string // "PROPN", "NOUN", "VERB", "OTHER"
}

// Doc bundles the three collaborator outputs for one text so downstream
// stages can query it without re-running tagging.
type Doc struct {
	Spans     []Span
	Sentences []Sentence
	POS       []POSTag
	text      []rune
}

// Tag runs the heuristic tagger over text and returns a populated Doc.
// A tagger failure is not representable here — the heuristic has no load
// step and cannot fail — matching the spec's "a detector returning no
// entities is not an error" posture.
func Tag(text string) Doc {
	runes := []rune(text)
	return Doc{
		Spans:     tagEntities(runes),
		Sentences: segmentSentences(runes),
		POS:       tagPOS(runes),
		text:      runes,
	}
}

// HasLabelAt reports whether any span of one of the given labels overlaps
// [start, end) in d.
func (d Doc) HasLabelAt(start, end int, labels ...Label) bool {
	want := make(map[Label]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	for _, s := range d.Spans {
		if !want[s.Label] {
			continue
		}
		if s.Start < end && start < s.End {
			return true
		}
	}
	return false
}

// HasLabelText reports whether any span of one of the given labels anywhere
// in the document has Text exactly equal to text. Used by the Validator's
// ORG/GPE/LOC/NORP/FAC/PRODUCT/WORK_OF_ART exclusion, which is a
// document-wide set-membership test, not a positional overlap check: a name
// tagged ORG once suppresses every same-text PERSON candidate in the
// document, not just one overlapping that exact span.
func (d Doc) HasLabelText(text string, labels ...Label) bool {
	want := make(map[Label]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	for _, s := range d.Spans {
		if want[s.Label] && s.Text == text {
			return true
		}
	}
	return false
}

// POSRatio returns the fraction of whitespace-separated tokens within
// [start, end) tagged PROPN, used by the Validator's capitalization scoring.
func (d Doc) POSRatio(start, end int) float64 {
	total := 0
	propn := 0
	for _, p := range d.POS {
		if p.Start < end && start < p.End {
			total++
			if p.Tag == "PROPN" {
				propn++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(propn) / float64(total)
}

// --- entity tagging -------------------------------------------------------

// titleWords precede a capitalized name with high confidence.
var titleWords = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sir": true, "madam": true, "capt": true, "sen": true, "rep": true,
}

// orgSuffixes mark a capitalized phrase as an organization rather than a person.
var orgSuffixes = []string{
	"Inc", "Inc.", "LLC", "LLC.", "Corp", "Corp.", "Ltd", "Ltd.", "Co",
	"Company", "Corporation", "Group", "Partners", "Associates",
	"University", "College", "Hospital", "Department", "Agency",
	"Foundation", "Institute",
}

// nameTokenRe matches a single capitalized word token eligible to be part of
// a person name: starts upper-case, rest lower-case or apostrophe/hyphen.
var nameTokenRe = regexp.MustCompile(`^[A-Z][a-z]+(?:['\-][A-Za-z]+)?$`)

// vagueTemporal marks a DATE candidate as not "specific" per spec section 4.1.
var vagueTemporal = []string{
	"recently", "soon", "later", "someday", "eventually", "ago",
	"last week", "next month", "a while", "sometime",
}

var rangeConnectors = []string{" to ", " through ", " until ", "-", "–", "—"}

// digitRe reports whether a string contains at least one ASCII digit.
var digitRe = regexp.MustCompile(`[0-9]`)

func tagEntities(runes []rune) []Span {
	var spans []Span
	spans = append(spans, personCandidates(runes)...)
	spans = append(spans, dateCandidates(runes)...)
	spans = append(spans, orgCandidates(runes)...)
	return spans
}

// personCandidates finds runs of 1-5 capitalized tokens not preceded by a
// sentence-initial position alone (that would over-trigger on every
// sentence's first word), and not overlapping an organization suffix.
func personCandidates(runes []rune) []Span {
	var out []Span
	n := len(runes)
	i := 0
	for i < n {
		if !unicode.IsUpper(runes[i]) {
			i++
			continue
		}
		start := i
		tokenCount := 0
		j := i
		for j < n {
			// consume one token
			tokStart := j
			for j < n && !unicode.IsSpace(runes[j]) {
				j++
			}
			token := string(runes[tokStart:j])
			clean := strings.TrimRight(token, ".,;:!?")
			if !nameTokenRe.MatchString(clean) {
				break
			}
			tokenCount++
			if tokenCount >= 5 {
				break
			}
			// skip one run of whitespace before checking the next token
			wsStart := j
			for j < n && unicode.IsSpace(runes[j]) {
				j++
			}
			if j == wsStart {
				break
			}
			if j >= n || !unicode.IsUpper(runes[j]) {
				break
			}
		}
		end := j
		// trim trailing whitespace consumed speculatively
		for end > start && unicode.IsSpace(runes[end-1]) {
			end--
		}
		if tokenCount == 0 {
			i++
			continue
		}
		if tokenCount == 1 {
			k := start - 1
			for k >= 0 && unicode.IsSpace(runes[k]) && runes[k] != '\n' {
				k--
			}
			if k < 0 || strings.ContainsRune(".!?\n", runes[k]) {
				i = end
				continue
			}
		}
		text := string(runes[start:end])
		if !isOrgPhrase(text) && !containsDigitOrAt(text) {
			out = append(out, Span{Label: LabelPerson, Text: text, Start: start, End: end})
		}
		i = end
		if i == start {
			i++
		}
	}
	return out
}

func isOrgPhrase(text string) bool {
	for _, suf := range orgSuffixes {
		if strings.HasSuffix(text, suf) {
			return true
		}
	}
	return false
}

func containsDigitOrAt(text string) bool {
	return digitRe.MatchString(text) || strings.Contains(text, "@")
}

// dateSpanRe matches common absolute-date surface forms: MM/DD/YYYY,
// Month DD, YYYY and similar. Narrow on purpose — the Detector's own regex
// pass already covers the structurally unambiguous cases; this exists so
// the Doc's DATE label is populated for the Detector's "suppress duplicate
// NER-derived DATE" rule (spec section 4.1, scenario S3).
var dateSpanRe = regexp.MustCompile(
	`\b(?:[0-1]?[0-9][/-][0-3]?[0-9][/-](?:[0-9]{4}|[0-9]{2})` +
		`|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+[0-3]?[0-9],?\s+[0-9]{4})\b`)

func dateCandidates(runes []rune) []Span {
	text := string(runes)
	var out []Span
	for _, loc := range dateSpanRe.FindAllStringIndex(text, -1) {
		out = append(out, Span{
			Label: LabelDate,
			Text:  text[loc[0]:loc[1]],
			Start: byteToRuneOffset(text, loc[0]),
			End:   byteToRuneOffset(text, loc[1]),
		})
	}
	return out
}

// orgCandidates finds capitalized phrases ending in a known organizational
// suffix, labeled ORG so the Validator's exclusion check can see them.
func orgCandidates(runes []rune) []Span {
	text := string(runes)
	var out []Span
	words := strings.Fields(text)
	_ = words
	re := regexp.MustCompile(`\b(?:[A-Z][A-Za-z&]*\s+){0,4}(?:` + strings.Join(escapeAll(orgSuffixes), "|") + `)\b`)
	for _, loc := range re.FindAllStringIndex(text, -1) {
		out = append(out, Span{
			Label: LabelOrg,
			Text:  text[loc[0]:loc[1]],
			Start: byteToRuneOffset(text, loc[0]),
			End:   byteToRuneOffset(text, loc[1]),
		})
	}
	return out
}

func escapeAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = regexp.QuoteMeta(w)
	}
	return out
}

// byteToRuneOffset converts a byte offset in s to a rune offset. Used only
// for the small number of regexp-index based spans in this file; the hot
// token-scan path above works in rune offsets natively.
func byteToRuneOffset(s string, byteOffset int) int {
	return len([]rune(s[:byteOffset]))
}

// IsSpecificDate reports whether a DATE span's surface text passes the
// spec's "specific-date" test: contains a digit, no vague temporal word, no
// range connector, at most 25 characters, no newline.
func IsSpecificDate(text string) bool {
	if len(text) > 25 {
		return false
	}
	if strings.Contains(text, "\n") {
		return false
	}
	if !digitRe.MatchString(text) {
		return false
	}
	lower := strings.ToLower(text)
	for _, v := range vagueTemporal {
		if strings.Contains(lower, v) {
			return false
		}
	}
	for _, c := range rangeConnectors {
		if strings.Contains(text, c) {
			return false
		}
	}
	return true
}

// --- sentence segmentation ------------------------------------------------

// sentenceEndRe matches a run of sentence terminators, an optional closing
// quote or bracket, and then whitespace or end of text (the following letter
// is not inspected), the same boundary condition the
// Sharder's segmenter must agree on with the NER collaborator (spec section
// 9: "the sentence-segmenter and the text buffer must agree" on offsets).
var sentenceEndRe = regexp.MustCompile(`[.!?]+["')\]]?(\s+|$)`)

func segmentSentences(runes []rune) []Sentence {
	text := string(runes)
	var out []Sentence
	start := 0
	matches := sentenceEndRe.FindAllStringIndex(text, -1)
	for _, m := range matches {
		end := m[1]
		if end > start {
			rStart := byteToRuneOffset(text, start)
			seg := strings.TrimRight(text[start:end], " \t\n\r")
			trimmedEnd := rStart + len([]rune(seg))
			if trimmedEnd > rStart {
				out = append(out, Sentence{Text: seg, Start: rStart, End: trimmedEnd})
			}
			start = end
		}
	}
	if start < len(text) {
		rStart := byteToRuneOffset(text, start)
		seg := strings.TrimRight(text[start:], " \t\n\r")
		if seg != "" {
			out = append(out, Sentence{Text: seg, Start: rStart, End: rStart + len([]rune(seg))})
		}
	}
	return out
}

// --- POS tagging -----------------------------------------------------------

// A small closed-class word list plus an "-ing"/"-ed" suffix check (in
// classifyToken) let the heuristic
// distinguish PROPN (capitalized, non-closed-class, non-sentence-initial or
// matching known-name shape) from NOUN/VERB/OTHER without a trained tagger.
var closedClass = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "is": true, "was": true, "were": true, "are": true,
	"he": true, "she": true, "it": true, "they": true, "we": true, "i": true,
	"this": true, "that": true, "these": true, "those": true,
}

func tagPOS(runes []rune) []POSTag {
	text := string(runes)
	var out []POSTag
	i := 0
	n := len(runes)
	sentenceInitial := true
	for i < n {
		for i < n && unicode.IsSpace(runes[i]) {
			if runes[i] == '\n' || runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
				sentenceInitial = true
			}
			i++
		}
		if i >= n {
			break
		}
		start := i
		for i < n && !unicode.IsSpace(runes[i]) {
			i++
		}
		end := i
		word := strings.TrimRight(string(runes[start:end]), ".,;:!?\"')")
		tag := classifyToken(word, sentenceInitial)
		out = append(out, POSTag{Start: start, End: end, Tag: tag})
		sentenceInitial = false
		_ = text
	}
	return out
}

func classifyToken(word string, sentenceInitial bool) string {
	if word == "" {
		return "OTHER"
	}
	lower := strings.ToLower(word)
	if closedClass[lower] {
		return "OTHER"
	}
	r := []rune(word)
	if unicode.IsUpper(r[0]) {
		if sentenceInitial && len(r) > 1 && allLower(r[1:]) {
			// Could be a sentence-initial common noun; still often a proper
			// noun in practice, so treat capitalized sentence-initial tokens
			// whose remaining letters are lower-case as NOUN to avoid inflating every sentence's POS ratio.
			return "NOUN"
		}
		return "PROPN"
	}
	if strings.HasSuffix(lower, "ing") || strings.HasSuffix(lower, "ed") {
		return "VERB"
	}
	return "NOUN"
}

func allLower(r []rune) bool {
	for _, c := range r {
		if unicode.IsUpper(c) {
			return false
		}
	}
	return true
}

// IsTitleWord reports whether word (case-insensitive, punctuation-stripped)
// is a name-preceding title such as "Mr" or "Dr".
func IsTitleWord(word string) bool {
	clean := strings.ToLower(strings.TrimRight(word, "."))
	return titleWords[clean]
}
