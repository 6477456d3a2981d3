package ranker

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/starford/notebridge/internal/models"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestRankProjectScenario(t *testing.T) {
	matches := []models.SearchMatch{
		{NoteID: "c", Title: "X", Tags: []string{"project"}, Fields: models.MatchedFields{Tag: true}},
		{NoteID: "b", Title: "Notes", Body: "notes from the project kickoff"},
		{NoteID: "a", Title: "Project Plan", Body: ""},
	}

	got := Rank("project", matches, 10)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	wantOrder := []string{"a", "b", "c"}
	wantScore := []float64{0.8, 0.5, 0.3}
	wantType := []models.MatchType{models.MatchTitle, models.MatchBody, models.MatchTags}
	for i := range wantOrder {
		if got[i].NoteID != wantOrder[i] {
			t.Errorf("[%d] id = %s, want %s", i, got[i].NoteID, wantOrder[i])
		}
		if got[i].Score != wantScore[i] {
			t.Errorf("[%d] score = %v, want %v", i, got[i].Score, wantScore[i])
		}
		if got[i].MatchType != wantType[i] {
			t.Errorf("[%d] type = %s, want %s", i, got[i].MatchType, wantType[i])
		}
	}
	if !strings.Contains(got[1].Snippet, "project") {
		t.Errorf("snippet %q missing term", got[1].Snippet)
	}
}

func TestRankIsDeterministic(t *testing.T) {
	matches := []models.SearchMatch{
		{NoteID: "n3", Title: "alpha", UpdatedTime: t0},
		{NoteID: "n1", Title: "alpha", UpdatedTime: t0},
		{NoteID: "n2", Title: "alpha", UpdatedTime: t0.Add(time.Hour)},
		{NoteID: "n4", Title: "beta", Body: "alpha", UpdatedTime: t0.Add(2 * time.Hour)},
	}
	first := Rank("alpha", matches, 0)
	for i := 0; i < 20; i++ {
		again := Rank("alpha", matches, 0)
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("run %d differs at %d: %+v vs %+v", i, j, first[j], again[j])
			}
		}
	}
	var ids []string
	for _, r := range first {
		ids = append(ids, r.NoteID)
	}
	if got := strings.Join(ids, ","); got != "n2,n1,n3,n4" {
		t.Errorf("order = %s, want n2,n1,n3,n4", got)
	}
}

func TestScoreComponents(t *testing.T) {
	rel := 0.9
	tests := []struct {
		name  string
		m     models.SearchMatch
		score float64
		kind  models.MatchType
	}{
		{"exact title", models.SearchMatch{Title: "Project"}, 1.0, models.MatchTitle},
		{"exact title ignores case", models.SearchMatch{Title: "  PROJECT "}, 1.0, models.MatchTitle},
		{"title substring", models.SearchMatch{Title: "My project list"}, 0.8, models.MatchTitle},
		{"body only", models.SearchMatch{Title: "x", Body: "a Project here"}, 0.5, models.MatchBody},
		{"tag only", models.SearchMatch{Title: "x", Tags: []string{"Project"}}, 0.3, models.MatchTags},
		{"title and body", models.SearchMatch{Title: "project", Body: "project"}, 1.0, models.MatchMixed},
		{"substring title and body", models.SearchMatch{Title: "project x", Body: "project"}, 0.9, models.MatchMixed},
		{"body and tag", models.SearchMatch{Title: "x", Body: "project", Tags: []string{"project"}}, 0.6, models.MatchMixed},
		{"undetected", models.SearchMatch{Title: "x", Body: "proj planning"}, 0.1, models.MatchBody},
		{"undetected with relevance", models.SearchMatch{Title: "x", Relevance: &rel}, 0.25, models.MatchBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, kind := Score("project", tt.m)
			if diff := score - tt.score; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("score = %v, want %v", score, tt.score)
			}
			if kind != tt.kind {
				t.Errorf("kind = %s, want %s", kind, tt.kind)
			}
			if score < 0 || score > 1 {
				t.Errorf("score %v out of range", score)
			}
		})
	}
}

func TestRankMergesDuplicates(t *testing.T) {
	matches := []models.SearchMatch{
		{NoteID: "a", Title: "x", Body: "the project"},
		{NoteID: "a", Title: "x", Fields: models.MatchedFields{Tag: true}},
	}
	got := Rank("project", matches, 10)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].MatchType != models.MatchMixed {
		t.Errorf("type = %s, want mixed", got[0].MatchType)
	}
}

func TestRankCapsAtLimit(t *testing.T) {
	var matches []models.SearchMatch
	for _, id := range []string{"a", "b", "c", "d"} {
		matches = append(matches, models.SearchMatch{NoteID: id, Title: "project"})
	}
	if got := Rank("project", matches, 2); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestSnippetBound(t *testing.T) {
	body := strings.Repeat("lorem ipsum dolor sit amet ", 30) + "Kickoff meeting" + strings.Repeat(" consectetur adipiscing elit", 30)
	s := Snippet(body, "kickoff")
	if n := utf8.RuneCountInString(s); n > SnippetLen {
		t.Errorf("snippet is %d runes", n)
	}
	if !strings.Contains(s, "Kickoff") {
		t.Errorf("snippet %q missing match", s)
	}
	if strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		t.Errorf("snippet %q not trimmed", s)
	}
	// Word boundaries: the snippet starts and ends on whole words.
	words := strings.Fields(body)
	first := strings.Fields(s)[0]
	found := false
	for _, w := range words {
		if w == first {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("snippet starts mid-word: %q", first)
	}
}

func TestSnippetMatchNearEdges(t *testing.T) {
	tail := strings.Repeat("x", 300) + " needle"
	if s := Snippet(tail, "needle"); !strings.HasSuffix(s, "needle") || utf8.RuneCountInString(s) > SnippetLen {
		t.Errorf("tail snippet = %q", s)
	}
	headBody := "needle " + strings.Repeat("y ", 300)
	if s := Snippet(headBody, "NEEDLE"); !strings.HasPrefix(s, "needle") {
		t.Errorf("head snippet = %q", s)
	}
}

func TestSnippetWithoutMatch(t *testing.T) {
	if s := Snippet("", "x"); s != "" {
		t.Errorf("empty body snippet = %q", s)
	}
	if s := Snippet("short body", "zzz"); s != "short body" {
		t.Errorf("short snippet = %q", s)
	}
	long := strings.Repeat("word ", 100)
	s := Snippet(long, "zzz")
	if utf8.RuneCountInString(s) > SnippetLen || strings.HasSuffix(s, "wor") {
		t.Errorf("head snippet = %q", s)
	}
}

func TestSnippetMultibyte(t *testing.T) {
	body := strings.Repeat("ü", 250) + " Straße " + strings.Repeat("é", 250)
	s := Snippet(body, "STRASSE")
	if utf8.RuneCountInString(s) > SnippetLen {
		t.Errorf("snippet too long")
	}
	s = Snippet(body, "straße")
	if !strings.Contains(s, "Straße") {
		t.Errorf("snippet %q missing match", s)
	}
	if !utf8.ValidString(s) {
		t.Error("snippet is not valid UTF-8")
	}
}
