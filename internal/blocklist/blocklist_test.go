package blocklist

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsSectionHeader(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Work Experience", true},
		{"  EDUCATION  ", true},
		{"Steve Johnson", false},
	}
	for _, c := range cases {
		if got := IsSectionHeader(c.text); got != c.want {
			t.Errorf("IsSectionHeader(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestMatchesJobTitlePattern(t *testing.T) {
	if !MatchesJobTitlePattern("Senior Engineering Manager") {
		t.Error("expected job title match for 'Senior Engineering Manager'")
	}
	if MatchesJobTitlePattern("Steve Johnson") {
		t.Error("did not expect job title match for a plain name")
	}
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRegistry_UnionOfThreeFiles(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "canonical.txt")
	custom := filepath.Join(dir, "custom.txt")
	user := filepath.Join(dir, "user.txt")

	writeLines(t, canonical, []string{"Acme Corp", "# a comment"})
	writeLines(t, custom, []string{"Test User"})
	writeLines(t, user, []string{"Operator Name"})

	r := NewRegistry(canonical, custom, user)

	if !r.Has("acme corp") {
		t.Error("expected canonical entry to be blocked (case-insensitive)")
	}
	if !r.Has("Test User") {
		t.Error("expected custom entry to be blocked")
	}
	if !r.Has("operator name") {
		t.Error("expected user entry to be blocked")
	}
	if r.Has("nobody") {
		t.Error("did not expect unrelated name to be blocked")
	}
}

func TestRegistry_MissingFilesAreNoOp(t *testing.T) {
	r := NewRegistry("/nonexistent/a.txt", "/nonexistent/b.txt", "/nonexistent/c.txt")
	if r.Has("anything") {
		t.Error("expected empty registry when all files are missing")
	}
}

func TestRegistry_ReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "canonical.txt")
	writeLines(t, canonical, []string{"Alice"})

	r := NewRegistry(canonical, "", "")
	if !r.Has("Alice") {
		t.Fatal("expected initial load to include Alice")
	}

	writeLines(t, canonical, []string{"Alice", "Bob"})
	r.Reload()
	if !r.Has("Bob") {
		t.Error("expected Reload to pick up newly added term")
	}
}

func TestRegistry_AddUserTerm(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, "user.txt")
	r := NewRegistry("", "", user)

	if err := r.AddUserTerm("New Name"); err != nil {
		t.Fatalf("AddUserTerm: %v", err)
	}
	if !r.Has("new name") {
		t.Error("expected AddUserTerm to be visible immediately")
	}

	// Persisted to disk: a fresh registry reading the same file sees it too.
	r2 := NewRegistry("", "", user)
	if !r2.Has("new name") {
		t.Error("expected AddUserTerm to persist to the user file")
	}
}

func TestRegistry_RemoveUserTerm(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, "user.txt")
	r := NewRegistry("", "", user)

	if err := r.AddUserTerm("New Name"); err != nil {
		t.Fatalf("AddUserTerm: %v", err)
	}
	if err := r.RemoveUserTerm("New Name"); err != nil {
		t.Fatalf("RemoveUserTerm: %v", err)
	}
	if r.Has("new name") {
		t.Error("expected RemoveUserTerm to take effect immediately")
	}

	r2 := NewRegistry("", "", user)
	if r2.Has("new name") {
		t.Error("expected removal to persist to the user file")
	}
}

func TestRegistry_RemoveUserTerm_LeavesOtherTermsAndCanonicalIntact(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "canonical.txt")
	writeLines(t, canonical, []string{"Alice"})
	user := filepath.Join(dir, "user.txt")
	r := NewRegistry(canonical, "", user)

	if err := r.AddUserTerm("Bob"); err != nil {
		t.Fatalf("AddUserTerm: %v", err)
	}
	if err := r.AddUserTerm("Carol"); err != nil {
		t.Fatalf("AddUserTerm: %v", err)
	}
	if err := r.RemoveUserTerm("Bob"); err != nil {
		t.Fatalf("RemoveUserTerm: %v", err)
	}

	if r.Has("bob") {
		t.Error("expected bob to be removed")
	}
	if !r.Has("carol") {
		t.Error("expected carol to remain")
	}
	if !r.Has("alice") {
		t.Error("expected canonical term to be untouched by user-file removal")
	}
}

func TestRegistry_All(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "canonical.txt")
	writeLines(t, canonical, []string{"Alice", "Bob"})
	r := NewRegistry(canonical, "", "")

	all := r.All()
	if len(all) != 2 {
		t.Errorf("expected 2 entries, got %d: %v", len(all), all)
	}
}
