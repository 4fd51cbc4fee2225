// Package sharder implements stage P3a: turning already-redacted text into
// a shuffled set of sentence-level shards suitable for dispatch to an
// external verification service, without leaking tag shape (spec section
// 4.5.1-4.5.3). Tags are first neutralized to a letter-suffixed category
// tag, then the text is segmented into sentences, short sentences are
// merged into their predecessor, long sentences are split at the 800-char
// cap, and the surviving shards are shuffled with a CSPRNG.
package sharder

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"pii-redact/internal/model"
	"pii-redact/internal/ner"
)

// MaxShardLength is the hard cap on shard length in characters (spec
// section 4.5.2).
const MaxShardLength = 800

// MinSentenceTokens is the floor below which a sentence is merged into its
// predecessor rather than shipped as its own shard (spec section 4.5.2).
const MinSentenceTokens = 5

// anyTagRe matches person tags (both forms) and typed tags, used to find
// every tag occurrence in the redacted text during neutralization.
var anyTagRe = regexp.MustCompile(`<<[A-Z]+[0-9]*>>|<<[A-Z]+_[0-9]+>>|<NAME [A-Z]+[0-9]*>`)

// personTagParseRe extracts the initials from a person tag so neutralization
// can group every tag belonging to the same cluster.
var personTagParseRe = regexp.MustCompile(`^<<([A-Z]+?)([0-9]*)>>$|^<NAME ([A-Z]+)([0-9]*)>$`)

// typedTagParseRe extracts the type prefix from a typed tag.
var typedTagParseRe = regexp.MustCompile(`^<<([A-Z]+)_([0-9]+)>>$`)

// Neutralize rewrites every tag in redactedText to a category-only form
// (<<PERSON_A>>, <<PERSON_B>>, ... and <<TYPE_A>>, <<TYPE_B>>, ... per
// TYPE), assigned in sorted order so assignment is deterministic within a
// run but carries no residual initials information. It returns the
// neutralized text and a ReverseTagMap from neutralized tag back to the
// original tag, valid only for the lifetime of this verification call.
func Neutralize(redactedText string) (string, model.ReverseTagMap) {
	originalTags := dedupeOrderedTags(anyTagRe.FindAllString(redactedText, -1))

	var personTags []string
	typedByPrefix := make(map[string][]string)
	for _, tag := range originalTags {
		if personTagParseRe.MatchString(tag) {
			personTags = append(personTags, tag)
			continue
		}
		if groups := typedTagParseRe.FindStringSubmatch(tag); groups != nil {
			prefix := groups[1]
			typedByPrefix[prefix] = append(typedByPrefix[prefix], tag)
		}
	}

	sort.Strings(personTags)

	reverse := make(model.ReverseTagMap)
	replacements := make(map[string]string)

	for i, tag := range personTags {
		neutral := "<<PERSON_" + letterSuffix(i) + ">>"
		replacements[tag] = neutral
		reverse[neutral] = tag
	}

	var prefixes []string
	for p := range typedByPrefix {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		tags := typedByPrefix[prefix]
		sort.Strings(tags)
		for i, tag := range tags {
			neutral := "<<" + prefix + "_" + letterSuffix(i) + ">>"
			replacements[tag] = neutral
			reverse[neutral] = tag
		}
	}

	out := redactedText
	for _, tag := range originalTags {
		neutral, ok := replacements[tag]
		if !ok {
			continue
		}
		out = strings.ReplaceAll(out, tag, neutral)
	}

	return out, reverse
}

func dedupeOrderedTags(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// letterSuffix renders n (0-based) as the spec's letter suffix: 0->A,
// 1->B, ..., 25->Z, 26->AA, 27->AB, ...
func letterSuffix(n int) string {
	var b strings.Builder
	n++ // work in 1-based base-26 with no zero digit
	var digits []byte
	for n > 0 {
		n--
		digits = append(digits, byte('A'+n%26))
		n /= 26
	}
	for i := len(digits) - 1; i >= 0; i-- {
		b.WriteByte(digits[i])
	}
	return b.String()
}

// Shard segments neutralized text into sentence-level shards: short
// sentences merge into their predecessor, long sentences split at the
// 800-char cap, and empty/whitespace-only shards are dropped. Offsets are
// measured against neutralizedText.
func Shard(neutralizedText string) []model.Shard {
	doc := ner.Tag(neutralizedText)
	runes := []rune(neutralizedText)

	var merged []ner.Sentence
	for _, s := range doc.Sentences {
		if len(merged) > 0 && len(strings.Fields(s.Text)) < MinSentenceTokens {
			prev := &merged[len(merged)-1]
			prev.Text = string(runes[prev.Start:s.End])
			prev.End = s.End
			continue
		}
		merged = append(merged, s)
	}

	var shards []model.Shard
	for _, s := range merged {
		shards = append(shards, splitToCap(s, runes)...)
	}

	var out []model.Shard
	for _, sh := range shards {
		if strings.TrimSpace(sh.Text) == "" {
			continue
		}
		sh.ID = uuid.NewString()
		out = append(out, sh)
	}
	return out
}

// splitToCap splits a sentence longer than MaxShardLength at the rightmost
// whitespace before the cap, falling back to a hard split if none exists;
// the tail is re-queued (recursively split again if still over the cap).
func splitToCap(s ner.Sentence, runes []rune) []model.Shard {
	length := s.End - s.Start
	if length <= MaxShardLength {
		return []model.Shard{{Text: s.Text, Start: s.Start, End: s.End}}
	}

	segment := runes[s.Start : s.Start+MaxShardLength]
	splitAt := -1
	for i := len(segment) - 1; i >= 0; i-- {
		if segment[i] == ' ' || segment[i] == '\t' || segment[i] == '\n' {
			splitAt = i
			break
		}
	}
	if splitAt <= 0 {
		splitAt = MaxShardLength
	}

	head := ner.Sentence{
		Text:  string(runes[s.Start : s.Start+splitAt]),
		Start: s.Start,
		End:   s.Start + splitAt,
	}
	tail := ner.Sentence{
		Text:  string(runes[s.Start+splitAt : s.End]),
		Start: s.Start + splitAt,
		End:   s.End,
	}

	out := []model.Shard{{Text: head.Text, Start: head.Start, End: head.End}}
	return append(out, splitToCap(tail, runes)...)
}

// Shuffle reorders shards in place using a cryptographically secure RNG
// (spec section 4.5.4's "shuffle all shards with a cryptographically
// secure RNG"), via a Fisher-Yates walk backed by crypto/rand.
func Shuffle(shards []model.Shard) {
	for i := len(shards) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			continue // entropy source failure; leave remaining order as-is
		}
		j := int(jBig.Int64())
		shards[i], shards[j] = shards[j], shards[i]
	}
}
