package ner

import "testing"

func TestTag_PersonCandidate(t *testing.T) {
	doc := Tag("Steve Johnson called the office yesterday.")
	found := false
	for _, s := range doc.Spans {
		if s.Label == LabelPerson && s.Text == "Steve Johnson" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected PERSON span for 'Steve Johnson', got %+v", doc.Spans)
	}
}

func TestTag_OrgSuppressesPerson(t *testing.T) {
	doc := Tag("Acme Corporation announced layoffs.")
	for _, s := range doc.Spans {
		if s.Label == LabelPerson && s.Text == "Acme Corporation" {
			t.Error("expected org-suffixed phrase not to be tagged PERSON")
		}
	}
	if !doc.HasLabelAt(0, len("Acme Corporation"), LabelOrg) {
		t.Error("expected ORG span covering 'Acme Corporation'")
	}
}

func TestTag_DateCandidate(t *testing.T) {
	doc := Tag("Born on 03/15/1990 in Ohio.")
	found := false
	for _, s := range doc.Spans {
		if s.Label == LabelDate && s.Text == "03/15/1990" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected DATE span for '03/15/1990', got %+v", doc.Spans)
	}
}

func TestIsSpecificDate(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"03/15/1990", true},
		{"recently", false},
		{"next month", false},
		{"2020-2021", false},
		{"a really really really long date string with digits 2020", false},
		{"no digits here", false},
	}
	for _, c := range cases {
		got := IsSpecificDate(c.text)
		if got != c.want {
			t.Errorf("IsSpecificDate(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestSegmentSentences(t *testing.T) {
	doc := Tag("Hello there. How are you? I am fine!")
	if len(doc.Sentences) != 3 {
		t.Fatalf("expected 3 sentences, got %d: %+v", len(doc.Sentences), doc.Sentences)
	}
	for _, s := range doc.Sentences {
		if s.Text != string([]rune("Hello there. How are you? I am fine!")[s.Start:s.End]) {
			t.Errorf("sentence offsets do not round-trip: %+v", s)
		}
	}
}

func TestPOSRatio_HighForProperNounSpan(t *testing.T) {
	text := "The report was written by Steve Johnson yesterday."
	doc := Tag(text)
	runes := []rune(text)
	start := len(runes) - len([]rune("Steve Johnson yesterday."))
	end := start + len([]rune("Steve Johnson"))
	ratio := doc.POSRatio(start, end)
	if ratio < 0.5 {
		t.Errorf("expected high PROPN ratio over 'Steve Johnson', got %f", ratio)
	}
}

func TestIsTitleWord(t *testing.T) {
	if !IsTitleWord("Dr.") {
		t.Error("expected 'Dr.' to be a title word")
	}
	if IsTitleWord("Report") {
		t.Error("did not expect 'Report' to be a title word")
	}
}
