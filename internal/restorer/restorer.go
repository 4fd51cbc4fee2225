// Package restorer implements the pipeline's inverse: given redacted text
// and its Mapping, reconstruct the original text (spec section 4.6).
package restorer

import (
	"fmt"
	"sort"
	"strings"

	"pii-redact/internal/model"
)

// ErrMappingCorrupt is returned when a Mapping's tag key does not match
// either tag grammar (spec section 7: MappingCorrupt aborts the restore).
type ErrMappingCorrupt struct {
	Tag string
}

func (e ErrMappingCorrupt) Error() string {
	return fmt.Sprintf("restorer: mapping contains a key that matches no known tag grammar: %q", e.Tag)
}

// Restore substitutes each (tag, original) pair from mapping.Tags into
// redactedText, iterating tags from longest to shortest so no tag is ever
// a literal substring of one already replaced (spec section 4.6). It is a
// pure literal replacement; no regex is used, matching the spec's
// "no regex" restoration contract.
func Restore(redactedText string, mapping model.Mapping) (string, error) {
	for tag := range mapping.Tags {
		if !model.IsAnyTag(tag) {
			return "", ErrMappingCorrupt{Tag: tag}
		}
	}

	tags := make([]string, 0, len(mapping.Tags))
	for tag := range mapping.Tags {
		tags = append(tags, tag)
	}
	sort.SliceStable(tags, func(i, j int) bool {
		return len([]rune(tags[i])) > len([]rune(tags[j]))
	})

	out := redactedText
	for _, tag := range tags {
		out = strings.ReplaceAll(out, tag, mapping.Tags[tag])
	}
	return out, nil
}
