// Package model holds the value types shared by every pipeline stage:
// Entity, Mapping, Shard, Finding, and ReverseTagMap. Every stage accepts
// and returns these types unchanged in shape, so stages compose in any
// subset (Detector -> Validator -> Redactor -> Auditor -> Verifier).
package model

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Label classifies a detected PII span. The set is closed and stable.
type Label string

// Supported PII labels.
const (
	LabelPerson   Label = "PERSON"
	LabelEmail    Label = "EMAIL"
	LabelPhone    Label = "PHONE"
	LabelSSN      Label = "SSN"
	LabelURL      Label = "URL"
	LabelDOB      Label = "DOB"
	LabelIDNumber Label = "ID_NUMBER"
	LabelAddress  Label = "ADDRESS"
)

// typedTagPrefix maps a non-person label to the grammar prefix used inside
// a typed tag, e.g. LabelIDNumber -> "ID" so the tag reads "<<ID_1>>".
var typedTagPrefix = map[Label]string{
	LabelEmail:    "EMAIL",
	LabelPhone:    "PHONE",
	LabelSSN:      "SSN",
	LabelURL:      "URL",
	LabelDOB:      "DOB",
	LabelIDNumber: "ID",
	LabelAddress:  "ADDR",
}

// TagPrefix returns the typed-tag prefix for a non-person label, and false
// if the label is PERSON or unrecognized.
func TagPrefix(l Label) (string, bool) {
	p, ok := typedTagPrefix[l]
	return p, ok
}

// Entity is a detected PII candidate: a literal substring, its label, its
// half-open code-point offsets in the source text, and a confidence score.
type Entity struct {
	Text       string
	Label      Label
	Start      int
	End        int
	Confidence float64
}

// Len returns the code-point length of the entity span.
func (e Entity) Len() int { return e.End - e.Start }

// Metadata is the free-form descriptor attached to a Mapping.
type Metadata struct {
	OriginalFile  string `json:"original_file,omitempty"`
	ProcessedAt   string `json:"processed_at,omitempty"` // ISO8601
	EntitiesFound int    `json:"entities_found"`
	Source        string `json:"source,omitempty"` // file|clipboard|stdin
}

// Mapping is the authoritative reversible record for one redaction run.
//
// Tags maps a tag literal to the original literal it stands for (the
// canonical/longest surface form, for person clusters). Persons maps any
// person surface form ever observed to its cluster's tag, so "Steve",
// "Steve J.", and "Steve Johnson" can all resolve to the same tag.
//
// Mapping is treated as an immutable value: every stage returns a fresh
// Mapping derived from the one it received rather than mutating in place.
type Mapping struct {
	Tags     map[string]string
	Persons  map[string]string
	Metadata Metadata
}

// NewMapping returns an empty, ready-to-use Mapping.
func NewMapping() Mapping {
	return Mapping{
		Tags:    make(map[string]string),
		Persons: make(map[string]string),
	}
}

// Clone returns a deep copy so callers can derive a new Mapping without
// mutating the one they were given.
func (m Mapping) Clone() Mapping {
	out := Mapping{
		Tags:     make(map[string]string, len(m.Tags)),
		Persons:  make(map[string]string, len(m.Persons)),
		Metadata: m.Metadata,
	}
	for k, v := range m.Tags {
		out.Tags[k] = v
	}
	for k, v := range m.Persons {
		out.Persons[k] = v
	}
	return out
}

// --- Tag grammar (spec section 6, bit-exact) ---

var (
	// personTagRe matches <<INITIALS>> or <<INITIALS N>> (no space: <<SJ2>>).
	personTagRe = regexp.MustCompile(`^<<[A-Z]+[0-9]*>>$`)
	// typedTagRe matches <<(EMAIL|PHONE|SSN|URL|DOB|ID|ADDR)_N>>.
	typedTagRe = regexp.MustCompile(`^<<(EMAIL|PHONE|SSN|URL|DOB|ID|ADDR)_[0-9]+>>$`)
	// altPersonTagRe matches the backward-compatible "<NAME INITIALS[N]>" form:
	// single angle brackets, literal "NAME", a space, then initials and an
	// optional collision number.
	altPersonTagRe = regexp.MustCompile(`^<NAME [A-Z]+[0-9]*>$`)
)

// IsPersonTag reports whether s matches the person tag grammar <<INITIALS>>
// or <<INITIALSN>>.
func IsPersonTag(s string) bool { return personTagRe.MatchString(s) }

// IsTypedTag reports whether s matches the typed tag grammar <<TYPE_N>>.
func IsTypedTag(s string) bool { return typedTagRe.MatchString(s) }

// IsAlternatePersonTag reports whether s matches the backward-compatible
// "<NAME INITIALS[N]>" form accepted on input by the Auditor and Verifier.
func IsAlternatePersonTag(s string) bool { return altPersonTagRe.MatchString(s) }

// IsAnyTag reports whether s matches any recognized tag grammar.
func IsAnyTag(s string) bool {
	return IsPersonTag(s) || IsTypedTag(s) || IsAlternatePersonTag(s)
}

// ContainsTagMarkers reports whether s contains the literal "<<" or "<NAME "
// substrings that mark the start of a tag, used by stages that must skip
// text already inside a tag.
func ContainsTagMarkers(s string) bool {
	return strings.Contains(s, "<<") || strings.Contains(s, "<NAME ")
}

// PersonTag formats a person tag from an initials string and a 1-based
// collision counter. n == 1 yields the bare form "<<SJ>>"; n >= 2 yields
// "<<SJ2>>", "<<SJ3>>", etc.
func PersonTag(initials string, n int) string {
	if n <= 1 {
		return "<<" + initials + ">>"
	}
	return "<<" + initials + strconv.Itoa(n) + ">>"
}

// TypedTag formats a typed tag from its grammar prefix and a 1-based counter.
func TypedTag(prefix string, n int) string {
	return fmt.Sprintf("<<%s_%d>>", prefix, n)
}

// Initials concatenates the upper-cased first rune of each whitespace-
// separated token in name.
func Initials(name string) string {
	fields := strings.Fields(name)
	var b strings.Builder
	for _, f := range fields {
		r := []rune(f)
		if len(r) == 0 {
			continue
		}
		b.WriteRune([]rune(strings.ToUpper(string(r[0])))[0])
	}
	return b.String()
}

// personTagParseRe extracts the initials and optional collision number from
// a person tag, e.g. "<<SJ2>>" -> ("SJ", 2).
var personTagParseRe = regexp.MustCompile(`^<<([A-Z]+?)([0-9]*)>>$`)

// typedTagParseRe extracts the type prefix and counter from a typed tag.
var typedTagParseRe = regexp.MustCompile(`^<<([A-Z]+)_([0-9]+)>>$`)

// CounterState is the reconstructed state of the Redactor/Auditor/Verifier's
// per-initials and per-type tag counters, derived from an existing Mapping
// so later stages can extend a run's counters without colliding with tags
// already assigned (spec section 9, "Counters across stages").
type CounterState struct {
	// PersonCounts holds, per initials string, the highest collision number
	// already used (0 if the initials has not been used at all).
	PersonCounts map[string]int
	// TypeCounts holds, per typed-tag prefix, the highest N already used.
	TypeCounts map[string]int
}

// NewCounterState reconstructs counter state by scanning every key in the
// Mapping's Tags map and classifying it against the tag grammar.
func NewCounterState(m Mapping) CounterState {
	cs := CounterState{
		PersonCounts: make(map[string]int),
		TypeCounts:   make(map[string]int),
	}
	keys := make([]string, 0, len(m.Tags))
	for k := range m.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic iteration, though counts don't depend on order
	for _, k := range keys {
		if groups := personTagParseRe.FindStringSubmatch(k); groups != nil {
			initials := groups[1]
			n := 1
			if groups[2] != "" {
				if parsed, err := strconv.Atoi(groups[2]); err == nil {
					n = parsed
				}
			}
			if n > cs.PersonCounts[initials] {
				cs.PersonCounts[initials] = n
			}
			continue
		}
		if groups := typedTagParseRe.FindStringSubmatch(k); groups != nil {
			prefix := groups[1]
			n, err := strconv.Atoi(groups[2])
			if err == nil && n > cs.TypeCounts[prefix] {
				cs.TypeCounts[prefix] = n
			}
		}
	}
	return cs
}

// NextPersonTag returns the tag to use for a cluster with the given
// initials, advancing (and returning) the counter for that initials string.
// The first cluster with a given initials gets collision number 1 (rendered
// as the bare "<<INITIALS>>"); subsequent ones get 2, 3, ...
func (cs *CounterState) NextPersonTag(initials string) string {
	n := cs.PersonCounts[initials] + 1
	cs.PersonCounts[initials] = n
	return PersonTag(initials, n)
}

// NextTypedTag returns the tag to use for the next occurrence of a new
// literal value under the given typed-tag prefix, advancing the counter.
func (cs *CounterState) NextTypedTag(prefix string) string {
	n := cs.TypeCounts[prefix] + 1
	cs.TypeCounts[prefix] = n
	return TypedTag(prefix, n)
}

// Shard is a sentence-level fragment of neutralized redacted text.
type Shard struct {
	ID       string
	Text     string
	Start    int
	End      int
	IsCanary bool
}

// Finding is the cloud verifier's output for one shard.
type Finding struct {
	ShardID      string
	Text         string
	EntityType   string
	Confidence   float64
	StartOffset  *int
	EndOffset    *int
}

// ReverseTagMap maps a neutralized tag back to the original tag it replaced.
// Built at shard time and used only for the lifetime of one verification call.
type ReverseTagMap map[string]string
