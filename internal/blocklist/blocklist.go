// Package blocklist loads and serves the three-layer PERSON blocklist used
// by the Validator's hard-reject check (spec section 4.2): a canonical
// file shipped with the system, a custom file an operator maintains, and a
// user-owned file that update/reload never overwrites. The union of all
// three is the effective blocklist; lookup is lowercase exact match.
//
// The blocklist is loaded lazily and cached process-wide (spec section 5,
// "the NER model and the blocklist are loaded lazily and cached
// process-wide; both are read-only after initialization... reinitialization
// (blocklist reload after update) requires exclusive access"), mirroring
// the teacher's management.DomainRegistry: an RWMutex-guarded set with an
// explicit reload hook instead of a background watcher.
package blocklist

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// sectionHeaders is the closed set (~30 entries) of resume/document section
// headers the Validator treats as a hard reject for PERSON candidates
// (spec section 4.2).
var sectionHeaders = buildSet([]string{
	"work experience", "professional experience", "employment history",
	"education", "skills", "certifications", "references",
	"professional summary", "summary", "objective", "career objective",
	"qualifications", "awards", "honors", "publications", "projects",
	"volunteer experience", "languages", "interests", "hobbies",
	"technical skills", "core competencies", "achievements",
	"additional information", "contact information", "personal information",
	"references available upon request", "licenses", "training",
	"professional development", "activities", "memberships",
})

// jobTitlePatterns are substrings (lower-cased) that mark a phrase as a job
// title rather than a person's name (spec section 4.2: a soft -0.40 score
// adjustment, not a hard reject).
var jobTitlePatterns = []string{
	"manager", "director", "engineer", "analyst", "specialist",
	"coordinator", "supervisor", "administrator", "consultant",
	"president", "vice president", "ceo", "cfo", "cto", "coo",
	"representative", "technician", "associate", "executive",
}

// certificationPatterns are substrings (lower-cased) that mark a phrase as a
// professional certification or academic credential rather than a person's
// name (spec section 4.2: a hard reject, unlike job titles).
var certificationPatterns = []string{
	"certified", "certificate", "certification",
	"pmp", "cpa", "mba", "cissp", "cism", "crisc", "ceh", "oscp", "itil",
	"six sigma", "bachelor of", "master of", "phd", "doctorate",
}

func buildSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// IsSectionHeader reports whether text (case-insensitive, trimmed) matches
// one of the closed set of section headers.
func IsSectionHeader(text string) bool {
	_, ok := sectionHeaders[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// MatchesJobTitlePattern reports whether text contains a job-title keyword.
// This is a soft signal: callers apply a score penalty, not a hard reject.
func MatchesJobTitlePattern(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range jobTitlePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// MatchesCertificationPattern reports whether text contains a professional
// certification or academic credential keyword. Unlike a job title, this is
// a hard reject.
func MatchesCertificationPattern(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range certificationPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Registry is the process-wide cached union of the three blocklist files.
// Safe for concurrent use; Reload acquires the write lock so readers never
// observe a partially-loaded set.
type Registry struct {
	mu    sync.RWMutex
	terms map[string]struct{}

	canonicalPath string
	customPath    string
	userPath      string
}

// NewRegistry constructs a Registry and performs an initial load. Missing
// files are not an error — an operator may not have created the custom or
// user files yet.
func NewRegistry(canonicalPath, customPath, userPath string) *Registry {
	r := &Registry{
		terms:         make(map[string]struct{}),
		canonicalPath: canonicalPath,
		customPath:    customPath,
		userPath:      userPath,
	}
	r.Reload()
	return r
}

// Has reports whether name (case-insensitive) is on the blocklist.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.terms[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// All returns a snapshot of every blocked term (lower-cased, in no
// particular order), primarily for the management API's status endpoint.
func (r *Registry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.terms))
	for t := range r.terms {
		out = append(out, t)
	}
	return out
}

// Reload re-reads all three files and atomically swaps in the new union.
// Requires exclusive access per spec section 5; callers invoke this after
// an operator updates the canonical or custom file.
func (r *Registry) Reload() {
	next := make(map[string]struct{})
	for _, path := range []string{r.canonicalPath, r.customPath, r.userPath} {
		loadInto(next, path)
	}
	r.mu.Lock()
	r.terms = next
	r.mu.Unlock()
}

// AddUserTerm appends term to the user-owned file and the in-memory set,
// without touching the canonical or custom files.
func (r *Registry) AddUserTerm(term string) error {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	f, err := os.OpenFile(r.userPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // best-effort close after a successful write
	if _, err := f.WriteString(term + "\n"); err != nil {
		return err
	}
	r.mu.Lock()
	r.terms[term] = struct{}{}
	r.mu.Unlock()
	return nil
}

// RemoveUserTerm removes term from the user-owned file and the in-memory
// set. It rewrites the user file without term; the canonical and custom
// files are never touched, so a removed user term can resurface only if it
// also appears in one of those two files.
func (r *Registry) RemoveUserTerm(term string) error {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" || r.userPath == "" {
		return nil
	}

	existing := make(map[string]struct{})
	loadInto(existing, r.userPath)
	delete(existing, term)

	remaining := make([]string, 0, len(existing))
	for t := range existing {
		remaining = append(remaining, t)
	}
	sort.Strings(remaining)

	dir := filepath.Dir(r.userPath)
	tmp, err := os.CreateTemp(dir, ".blocklist-user-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	for _, t := range remaining {
		if _, err := tmp.WriteString(t + "\n"); err != nil {
			tmp.Close()        //nolint:errcheck
			os.Remove(tmpName) //nolint:errcheck
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return err
	}
	if err := os.Rename(tmpName, r.userPath); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return err
	}

	r.mu.Lock()
	delete(r.terms, term)
	r.mu.Unlock()
	return nil
}

func loadInto(set map[string]struct{}, path string) {
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return // file is optional
	}
	defer f.Close() //nolint:errcheck // read-only scan

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[strings.ToLower(line)] = struct{}{}
	}
}
