// Package redactor implements stage P1r: grouping PERSON surface forms into
// coreference clusters, assigning reversible tags, substituting them into
// the text, and emitting the Mapping (spec section 4.3).
package redactor

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"pii-redact/internal/model"
)

// foldCase is the Unicode-aware case folder used for surface-form
// comparisons, in place of the ASCII-only strings.ToLower/EqualFold.
var foldCase = cases.Fold()

// cluster groups every observed surface form for one person under a single
// canonical (longest) form and tag.
type cluster struct {
	canonical string
	surfaces  []string
	tag       string
}

// Redact groups entities, assigns tags, substitutes them into text in
// descending-start order, then performs the global case-insensitive name
// pass, and returns the redacted text plus the resulting Mapping.
//
// globalNamePassMinLength bounds the global pass (spec section 9 open
// question: an unrestricted global replace risks clobbering unrelated
// substrings) to surface forms of at least that many characters.
func Redact(text string, entities []model.Entity, globalNamePassMinLength int) (string, model.Mapping) {
	mapping := model.NewMapping()
	cs := model.NewCounterState(mapping)

	clusters := clusterPersons(entities)
	assignPersonTags(clusters, &cs, mapping)

	sorted := make([]model.Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start > sorted[j].Start })

	surfaceToTag := make(map[string]string)
	for _, c := range clusters {
		for _, s := range c.surfaces {
			surfaceToTag[foldCase.String(s)] = c.tag
		}
	}

	typeCounters := make(map[string]map[string]string) // label -> literal -> tag

	runes := []rune(text)
	for _, e := range sorted {
		var tag string
		if e.Label == model.LabelPerson {
			tag = surfaceToTag[foldCase.String(e.Text)]
		} else {
			prefix, ok := model.TagPrefix(e.Label)
			if !ok {
				continue
			}
			if typeCounters[prefix] == nil {
				typeCounters[prefix] = make(map[string]string)
			}
			existing, seen := typeCounters[prefix][e.Text]
			if seen {
				tag = existing
			} else {
				tag = cs.NextTypedTag(prefix)
				typeCounters[prefix][e.Text] = tag
			}
			mapping.Tags[tag] = e.Text
		}
		if tag == "" {
			continue
		}
		runes = append(runes[:e.Start], append([]rune(tag), runes[e.End:]...)...)
	}
	redacted := string(runes)

	redacted = globalNamePass(redacted, clusters, globalNamePassMinLength)

	for _, c := range clusters {
		for _, s := range c.surfaces {
			mapping.Persons[s] = c.tag
		}
	}

	return redacted, mapping
}

// clusterPersons implements spec section 4.3's coreference clustering:
// unique surface forms sorted by descending length, greedily assigned to
// an existing cluster if every whitespace-separated token appears
// (case-insensitively) in that cluster's canonical form, else a new
// cluster is started with itself as canonical.
func clusterPersons(entities []model.Entity) []*cluster {
	seen := make(map[string]bool)
	var surfaces []string
	for _, e := range entities {
		if e.Label != model.LabelPerson {
			continue
		}
		if !seen[e.Text] {
			seen[e.Text] = true
			surfaces = append(surfaces, e.Text)
		}
	}
	sort.SliceStable(surfaces, func(i, j int) bool {
		return len([]rune(surfaces[i])) > len([]rune(surfaces[j]))
	})

	var clusters []*cluster
	for _, s := range surfaces {
		tokens := strings.Fields(foldCase.String(s))
		var match *cluster
		for _, c := range clusters {
			canonLower := foldCase.String(c.canonical)
			allPresent := true
			for _, t := range tokens {
				if !strings.Contains(canonLower, t) {
					allPresent = false
					break
				}
			}
			if allPresent {
				match = c
				break
			}
		}
		if match != nil {
			match.surfaces = append(match.surfaces, s)
			if len([]rune(s)) > len([]rune(match.canonical)) {
				match.canonical = s
			}
		} else {
			clusters = append(clusters, &cluster{canonical: s, surfaces: []string{s}})
		}
	}
	return clusters
}

// assignPersonTags computes initials for each cluster's canonical form and
// assigns tags using the shared counter state, in ascending lexicographic
// order of canonical name (spec section 8 scenario S2: "order determined by
// sorted canonical names"), so an initials collision is broken by which
// name sorts first, not by which is longer. This sort is for tag-assignment
// order only; clusterPersons' own greedy-merge pass above sorts by
// descending length for a different, separately-specified reason.
func assignPersonTags(clusters []*cluster, cs *model.CounterState, mapping model.Mapping) {
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].canonical < clusters[j].canonical
	})
	for _, c := range clusters {
		initials := model.Initials(c.canonical)
		c.tag = cs.NextPersonTag(initials)
		mapping.Tags[c.tag] = c.canonical
	}
}

// globalNamePass performs the case-insensitive literal replace across the
// entire text for every person surface form, longest first, catching
// untagged occurrences such as a bare "Steve" later in the document (spec
// section 4.3). Restricted to word-boundary matches of at least minLength
// characters so short surface forms (e.g. a single initial) cannot
// clobber unrelated text.
func globalNamePass(text string, clusters []*cluster, minLength int) string {
	type namedTag struct {
		surface string
		tag     string
	}
	var all []namedTag
	for _, c := range clusters {
		for _, s := range c.surfaces {
			if len([]rune(s)) >= minLength {
				all = append(all, namedTag{surface: s, tag: c.tag})
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return len([]rune(all[i].surface)) > len([]rune(all[j].surface))
	})

	for _, nt := range all {
		if model.ContainsTagMarkers(nt.surface) {
			continue
		}
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(nt.surface) + `\b`)
		text = re.ReplaceAllString(text, nt.tag)
	}
	return text
}
