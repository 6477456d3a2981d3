package upstream_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/starford/notebridge/internal/apperr"
	"github.com/starford/notebridge/internal/testutil"
	"github.com/starford/notebridge/internal/upstream"
)

func TestListFoldersFollowsPagination(t *testing.T) {
	e := newEnv(t, nil)
	for i := 0; i < 230; i++ {
		e.fake.AddFolder(fmt.Sprintf("nb-%03d", i), "")
	}

	folders, err := e.client.ListFolders(context.Background())
	if err != nil {
		t.Fatalf("ListFolders: %v", err)
	}
	if len(folders) != 230 {
		t.Errorf("folders = %d, want 230", len(folders))
	}
	if got := e.fake.RequestsTo("/folders"); got != 3 {
		t.Errorf("folder requests = %d, want 3 pages", got)
	}
}

func TestNotesInFolderWindow(t *testing.T) {
	e := newEnv(t, nil)
	folder := e.fake.AddFolder("Work", "")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 150; i++ {
		e.fake.AddNote(testutil.Note{
			Title:    fmt.Sprintf("n%03d", i),
			ParentID: folder,
			Created:  base,
			Updated:  base.Add(time.Duration(i) * time.Minute),
		})
	}

	tests := []struct {
		limit, offset int
		wantLen       int
		wantFirst     string
		wantMore      bool
	}{
		{20, 0, 20, "n149", true},
		{20, 95, 20, "n054", true},
		{100, 100, 50, "n049", false},
		{10, 145, 5, "n004", false},
		{10, 200, 0, "", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit=%d,offset=%d", tt.limit, tt.offset), func(t *testing.T) {
			pg, err := e.client.NotesInFolder(context.Background(), folder, tt.limit, tt.offset)
			if err != nil {
				t.Fatal(err)
			}
			if len(pg.Notes) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(pg.Notes), tt.wantLen)
			}
			if tt.wantLen > 0 && pg.Notes[0].Title != tt.wantFirst {
				t.Errorf("first = %q, want %q", pg.Notes[0].Title, tt.wantFirst)
			}
			if pg.HasMore != tt.wantMore {
				t.Errorf("has_more = %v, want %v", pg.HasMore, tt.wantMore)
			}
		})
	}
}

func TestNotesInUnknownFolder(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.client.NotesInFolder(context.Background(), testutil.NewID(), 10, 0)
	if !errors.Is(err, apperr.NotFound) {
		t.Errorf("err = %v, want not_found", err)
	}
}

func TestSearchAndTagQuery(t *testing.T) {
	e := newEnv(t, nil)
	e.fake.AddNote(testutil.Note{Title: "Project Plan"})
	e.fake.AddNote(testutil.Note{Title: "Other", Tags: []string{"project"}})

	hits, err := e.client.Search(context.Background(), "project", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Title != "Project Plan" {
		t.Errorf("text hits = %+v", hits)
	}

	hits, err = e.client.Search(context.Background(), upstream.TagQuery("project"), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Title != "Other" {
		t.Errorf("tag hits = %+v", hits)
	}
}

func TestTagQueryQuotesSpaces(t *testing.T) {
	if got := upstream.TagQuery("road map"); got != `tag:"road map"` {
		t.Errorf("TagQuery = %s", got)
	}
	if got := upstream.TagQuery("work"); got != "tag:work" {
		t.Errorf("TagQuery = %s", got)
	}
}

func TestInNotebookQuotesTitle(t *testing.T) {
	if got := upstream.InNotebook(`Q"3 plans`, "tag:work"); got != `notebook:"Q3 plans" tag:work` {
		t.Errorf("InNotebook = %s", got)
	}
}

func TestNoteTags(t *testing.T) {
	e := newEnv(t, nil)
	id := e.fake.AddNote(testutil.Note{Title: "x", Tags: []string{"a", "b"}})
	tags, err := e.client.NoteTags(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if len(tags) != 2 {
		t.Errorf("tags = %v", tags)
	}
}

func TestCreateAndUpdateNote(t *testing.T) {
	e := newEnv(t, nil)
	folder := e.fake.AddFolder("Inbox", "")
	title, body := "Draft", "first"

	n, err := e.client.CreateNote(context.Background(), upstream.NoteInput{Title: &title, Body: &body, ParentID: &folder})
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	if n.ID == "" || n.Title != "Draft" || n.ParentID != folder {
		t.Fatalf("created = %+v", n)
	}

	newBody := "second"
	n, err = e.client.UpdateNote(context.Background(), n.ID, upstream.NoteInput{Body: &newBody})
	if err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	if n.Body != "second" || n.Title != "Draft" {
		t.Errorf("updated = %+v", n)
	}

	_, err = e.client.UpdateNote(context.Background(), testutil.NewID(), upstream.NoteInput{Body: &newBody})
	if !errors.Is(err, apperr.NotFound) {
		t.Errorf("update missing: err = %v", err)
	}
}
