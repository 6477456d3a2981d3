package models

import (
	"errors"
	"testing"
	"time"

	"github.com/starford/notebridge/internal/apperr"
)

func TestBuildTreeNestsChildren(t *testing.T) {
	flat := []Notebook{
		{ID: "c", Title: "Child", ParentID: "a"},
		{ID: "a", Title: "Work"},
		{ID: "b", Title: ""},
		{ID: "d", Title: "Grandchild", ParentID: "c"},
		{ID: "e", Title: "Orphan", ParentID: "missing"},
	}

	roots, err := BuildTree(flat)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}

	var titles []string
	for _, r := range roots {
		titles = append(titles, r.Title)
	}
	want := []string{"Orphan", "Untitled", "Work"}
	if len(titles) != len(want) {
		t.Fatalf("roots = %v, want %v", titles, want)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Errorf("roots[%d] = %q, want %q", i, titles[i], want[i])
		}
	}

	work := FindNotebook(roots, "a")
	if work == nil || len(work.Children) != 1 || work.Children[0].ID != "c" {
		t.Fatalf("work children = %+v", work)
	}
	if len(work.Children[0].Children) != 1 || work.Children[0].Children[0].ID != "d" {
		t.Errorf("grandchild missing")
	}
	if got := len(Flatten(roots)); got != len(flat) {
		t.Errorf("Flatten len = %d, want %d", got, len(flat))
	}
}

func TestBuildTreeRejectsCycle(t *testing.T) {
	flat := []Notebook{
		{ID: "a", Title: "A", ParentID: "c"},
		{ID: "b", Title: "B", ParentID: "a"},
		{ID: "c", Title: "C", ParentID: "b"},
		{ID: "d", Title: "D"},
	}
	_, err := BuildTree(flat)
	if !errors.Is(err, apperr.Internal) {
		t.Fatalf("err = %v, want internal failure", err)
	}
}

func TestBuildTreeRejectsSelfParent(t *testing.T) {
	_, err := BuildTree([]Notebook{{ID: "a", Title: "A", ParentID: "a"}})
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestNoteNormalize(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n := Note{CreatedTime: created, UpdatedTime: created.Add(-time.Hour)}
	n.Normalize()

	if !n.UpdatedTime.Equal(created) {
		t.Errorf("updated = %v, want %v", n.UpdatedTime, created)
	}
	if n.Tags == nil {
		t.Error("tags should be non-nil")
	}
	if n.Markup != MarkupMarkdown {
		t.Errorf("markup = %q", n.Markup)
	}
}
