package api

import (
	"github.com/starford/notebridge/internal/journal"
	"github.com/starford/notebridge/internal/models"
	"github.com/starford/notebridge/internal/noteservice"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Title      string `json:"title" example:"Meeting notes" validate:"required"`
	Body       string `json:"body" example:"# Agenda"`
	NotebookID string `json:"notebook_id,omitempty" example:"0123456789abcdef0123456789abcdef"`
}

// UpdateNoteRequest is the request body for updating a note. Omitted
// fields are left unchanged.
type UpdateNoteRequest struct {
	Title      *string `json:"title,omitempty" example:"Renamed"`
	Body       *string `json:"body,omitempty" example:"# New body"`
	NotebookID *string `json:"notebook_id,omitempty"`
}

// SearchResponse wraps ranked search results.
type SearchResponse = noteservice.SearchResult

// NoteDetail is a single note.
type NoteDetail = models.Note

// NotebookListResponse wraps a notebook listing.
type NotebookListResponse = noteservice.NotebookList

// NotebookNotesResponse is one page of a notebook's notes.
type NotebookNotesResponse = noteservice.NotebookNotes

// StatusResponse reports connection, breaker and rate budget state.
type StatusResponse = noteservice.StatusReport

// JournalResponse lists recent journal entries, newest first.
type JournalResponse struct {
	Entries []journal.Entry `json:"entries" validate:"required"`
}
