package noteservice

import (
	"context"
	"log/slog"

	"github.com/starford/notebridge/internal/apperr"
	"github.com/starford/notebridge/internal/checksum"
	"github.com/starford/notebridge/internal/models"
	"github.com/starford/notebridge/internal/ranker"
	"github.com/starford/notebridge/internal/upstream"
)

// Note event types published after successful writes.
const (
	EventNoteCreated = "note.created"
	EventNoteUpdated = "note.updated"
)

// SearchResult is the ranked answer to a search.
type SearchResult struct {
	Results []models.RankedResult `json:"results"`
	// TotalCount is the number of distinct candidates before the limit.
	TotalCount int `json:"total_count"`
}

// SearchNotes runs a text query and a tag query against the upstream
// and ranks the union. A failing tag query degrades to text results.
func (s *Service) SearchNotes(ctx context.Context, p SearchParams) (SearchResult, error) {
	p.normalize()
	c := &call{op: "search_notes", target: p.NotebookID}
	return dispatch(ctx, s, c, p.Validate, func(ctx context.Context) (SearchResult, error) {
		text, tag := p.Query, upstream.TagQuery(p.Query)
		if p.NotebookID != "" {
			title, err := s.notebookTitle(ctx, p.NotebookID)
			if err != nil {
				return SearchResult{}, err
			}
			text, tag = upstream.InNotebook(title, text), upstream.InNotebook(title, tag)
		}

		matches, err := s.up.Search(ctx, text, upstream.MaxPageSize)
		if err != nil {
			return SearchResult{}, err
		}

		tagged, err := s.up.Search(ctx, tag, upstream.MaxPageSize)
		if err != nil {
			s.logger.Warn("tag search failed, using text results only",
				slog.String("query", p.Query),
				slog.String("kind", apperr.KindOf(err).String()),
				slog.String("error", err.Error()))
		}
		for _, m := range tagged {
			m.Fields.Tag = true
			matches = append(matches, m)
		}

		// The upstream filter also admits sub-notebooks and same-titled
		// notebooks.
		if p.NotebookID != "" {
			kept := matches[:0]
			for _, m := range matches {
				if m.ParentID == p.NotebookID {
					kept = append(kept, m)
				}
			}
			matches = kept
		}

		all := ranker.Rank(p.Query, matches, 0)
		res := SearchResult{TotalCount: len(all), Results: all}
		if len(all) > p.Limit {
			res.Results = all[:p.Limit]
		}
		return res, nil
	})
}

func (s *Service) notebookTitle(ctx context.Context, id string) (string, error) {
	folders, err := s.up.ListFolders(ctx)
	if err != nil {
		return "", err
	}
	for _, f := range folders {
		if f.ID == id {
			return f.Title, nil
		}
	}
	return "", apperr.Errorf(apperr.NotFound, "notebook %s not found", id)
}

// GetNote fetches one note with its tags. A tag lookup failure is
// logged and yields an empty tag list.
func (s *Service) GetNote(ctx context.Context, p GetNoteParams) (models.Note, error) {
	p.normalize()
	c := &call{op: "get_note", target: p.ID}
	return dispatch(ctx, s, c, p.Validate, func(ctx context.Context) (models.Note, error) {
		note, err := s.up.GetNote(ctx, p.ID, !p.SkipBody)
		if err != nil {
			return models.Note{}, err
		}
		tags, err := s.up.NoteTags(ctx, p.ID)
		if err != nil {
			s.logger.Warn("note tags unavailable",
				slog.String("note_id", p.ID),
				slog.String("error", err.Error()))
		}
		note.Tags = nonNilSlice(tags)
		return note, nil
	})
}

// NotebookList is the answer to ListNotebooks.
type NotebookList struct {
	Notebooks []*models.Notebook `json:"notebooks"`
}

// ListNotebooks returns the notebook forest, or a subtree of it when
// ParentID is set. Without Recursive the same notebooks come back as a
// flat depth-first list with Children left empty.
func (s *Service) ListNotebooks(ctx context.Context, p ListNotebooksParams) (NotebookList, error) {
	p.normalize()
	c := &call{op: "list_notebooks", target: p.ParentID}
	return dispatch(ctx, s, c, p.Validate, func(ctx context.Context) (NotebookList, error) {
		flat, err := s.up.ListFolders(ctx)
		if err != nil {
			return NotebookList{}, err
		}
		forest, err := models.BuildTree(flat)
		if err != nil {
			return NotebookList{}, err
		}

		level := forest
		if p.ParentID != "" {
			parent := models.FindNotebook(forest, p.ParentID)
			if parent == nil {
				return NotebookList{}, apperr.Errorf(apperr.NotFound, "notebook %s not found", p.ParentID)
			}
			level = parent.Children
		}
		if !p.Recursive {
			level = models.Flatten(level)
		}
		return NotebookList{Notebooks: nonNilSlice(level)}, nil
	})
}

// NotebookNotes is one page of a notebook's notes, newest first.
type NotebookNotes struct {
	Notes []models.NoteSummary `json:"notes"`
	// TotalCount is the number of notes on this page.
	TotalCount int  `json:"total_count"`
	HasMore    bool `json:"has_more"`
}

// GetNotesInNotebook lists a page of the notes directly inside a
// notebook.
func (s *Service) GetNotesInNotebook(ctx context.Context, p NotebookNotesParams) (NotebookNotes, error) {
	p.normalize()
	c := &call{op: "get_notes_in_notebook", target: p.NotebookID}
	return dispatch(ctx, s, c, p.Validate, func(ctx context.Context) (NotebookNotes, error) {
		pg, err := s.up.NotesInFolder(ctx, p.NotebookID, p.Limit, p.Offset)
		if err != nil {
			return NotebookNotes{}, err
		}
		notes := nonNilSlice(pg.Notes)
		return NotebookNotes{Notes: notes, TotalCount: len(notes), HasMore: pg.HasMore}, nil
	})
}

// CreateNote creates a note. Requires write mode.
func (s *Service) CreateNote(ctx context.Context, p CreateNoteParams) (models.Note, error) {
	p.normalize()
	c := &call{
		op:     "create_note",
		write:  true,
		digest: checksum.Fields(p.Title, p.Body, p.NotebookID),
	}
	validate := func() error {
		if err := s.requireWrites(); err != nil {
			return err
		}
		return p.Validate()
	}
	note, err := dispatch(ctx, s, c, validate, func(ctx context.Context) (models.Note, error) {
		in := upstream.NoteInput{Title: &p.Title, Body: &p.Body}
		if p.NotebookID != "" {
			in.ParentID = &p.NotebookID
		}
		note, err := s.up.CreateNote(ctx, in)
		if err != nil {
			return models.Note{}, err
		}
		// Stored before finish runs so the journal names the new note.
		c.target = note.ID
		return note, nil
	})
	if err == nil && s.events != nil {
		s.events.PublishNote(EventNoteCreated, note.ID, note.Title)
	}
	return note, err
}

// UpdateNote changes the given fields of a note and returns it as
// stored. Requires write mode.
func (s *Service) UpdateNote(ctx context.Context, p UpdateNoteParams) (models.Note, error) {
	p.normalize()
	c := &call{
		op:     "update_note",
		target: p.ID,
		write:  true,
		digest: checksum.Fields(deref(p.Title), deref(p.Body), deref(p.NotebookID)),
	}
	validate := func() error {
		if err := s.requireWrites(); err != nil {
			return err
		}
		return p.Validate()
	}
	note, err := dispatch(ctx, s, c, validate, func(ctx context.Context) (models.Note, error) {
		note, err := s.up.UpdateNote(ctx, p.ID, upstream.NoteInput{
			Title:    p.Title,
			Body:     p.Body,
			ParentID: p.NotebookID,
		})
		if err != nil {
			return models.Note{}, err
		}
		tags, err := s.up.NoteTags(ctx, p.ID)
		if err == nil {
			note.Tags = nonNilSlice(tags)
		}
		return note, nil
	})
	if err == nil && s.events != nil {
		s.events.PublishNote(EventNoteUpdated, note.ID, note.Title)
	}
	return note, err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
