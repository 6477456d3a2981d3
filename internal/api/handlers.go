package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notebridge/internal/apperr"
	"github.com/starford/notebridge/internal/journal"
	"github.com/starford/notebridge/internal/noteservice"
)

const (
	maxRequestBody      = 2 << 20
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

// JournalReader lists recent journal entries.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	ForTarget(ctx context.Context, target string, limit int) ([]journal.Entry, error)
}

// Handler holds API route handlers.
type Handler struct {
	svc     *noteservice.Service
	history JournalReader
}

// NewHandler creates a new Handler. history may be nil.
func NewHandler(svc *noteservice.Service, history JournalReader) *Handler {
	return &Handler{svc: svc, history: history}
}

func intParam(q url.Values, key string, def int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Errorf(apperr.Validation, "%s must be an integer", key)
	}
	return v, nil
}

func boolParam(q url.Values, key string, def bool) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Errorf(apperr.Validation, "%s must be a boolean", key)
	}
	return v, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Wrap(apperr.Validation, err, "invalid JSON body")
	}
	return nil
}

// Search handles GET /api/search.
//
//	@Summary		Ranked search across note titles, bodies and tags
//	@Tags			search
//	@Produce		json
//	@Param			q			query		string	true	"Search query"
//	@Param			limit		query		int		false	"Max results (1-50)"
//	@Param			notebook_id	query		string	false	"Restrict to one notebook"
//	@Success		200			{object}	SearchResponse
//	@Failure		400			{object}	errResponse
//	@Failure		503			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", noteservice.DefaultSearchLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.SearchNotes(r.Context(), noteservice.SearchParams{
		Query:      q.Get("q"),
		Limit:      limit,
		NotebookID: q.Get("notebook_id"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a single note with its tags
//	@Tags			notes
//	@Produce		json
//	@Param			id				path		string	true	"Note id"
//	@Param			include_body	query		bool	false	"Include the body (default true)"
//	@Success		200				{object}	NoteDetail
//	@Failure		404				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	include, err := boolParam(r.URL.Query(), "include_body", true)
	if err != nil {
		writeError(w, err)
		return
	}
	note, err := h.svc.GetNote(r.Context(), noteservice.GetNoteParams{
		ID:       chi.URLParam(r, "id"),
		SkipBody: !include,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	note, err := h.svc.CreateNote(r.Context(), noteservice.CreateNoteParams{
		Title:      req.Title,
		Body:       req.Body,
		NotebookID: req.NotebookID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Update a note's title, body or notebook
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Note id"
//	@Param			body	body		UpdateNoteRequest	true	"Fields to change"
//	@Success		200		{object}	NoteDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	var req UpdateNoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	note, err := h.svc.UpdateNote(r.Context(), noteservice.UpdateNoteParams{
		ID:         chi.URLParam(r, "id"),
		Title:      req.Title,
		Body:       req.Body,
		NotebookID: req.NotebookID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// ListNotebooks handles GET /api/notebooks.
//
//	@Summary		List notebooks
//	@Tags			notebooks
//	@Produce		json
//	@Param			recursive	query		bool	false	"Return the nested tree (default true); false returns a flat list"
//	@Param			parent_id	query		string	false	"Only list notebooks below this one"
//	@Success		200			{object}	NotebookListResponse
//	@Security		BearerAuth
//	@Router			/notebooks [get]
func (h *Handler) ListNotebooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recursive, err := boolParam(q, "recursive", true)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.ListNotebooks(r.Context(), noteservice.ListNotebooksParams{
		ParentID:  q.Get("parent_id"),
		Recursive: recursive,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// NotebookNotes handles GET /api/notebooks/{id}/notes.
//
//	@Summary		List the notes in a notebook, newest first
//	@Tags			notebooks
//	@Produce		json
//	@Param			id		path		string	true	"Notebook id"
//	@Param			limit	query		int		false	"Page size (1-100)"
//	@Param			offset	query		int		false	"Notes to skip"
//	@Success		200		{object}	NotebookNotesResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notebooks/{id}/notes [get]
func (h *Handler) NotebookNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", noteservice.DefaultNotebookLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.GetNotesInNotebook(r.Context(), noteservice.NotebookNotesParams{
		NotebookID: chi.URLParam(r, "id"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Status handles GET /api/status.
//
//	@Summary		Connection, circuit breaker and rate budget state
//	@Tags			status
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// Journal handles GET /api/journal.
//
//	@Summary		Recent writes and failed operations
//	@Tags			status
//	@Produce		json
//	@Param			limit	query		int		false	"Max entries (1-500)"
//	@Param			target	query		string	false	"Only entries about this note or notebook id"
//	@Success		200		{object}	JournalResponse
//	@Security		BearerAuth
//	@Router			/journal [get]
func (h *Handler) Journal(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit", defaultJournalLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	if limit < 1 || limit > maxJournalLimit {
		writeError(w, apperr.Errorf(apperr.Validation, "limit must be between 1 and %d", maxJournalLimit))
		return
	}
	var entries []journal.Entry
	if target := strings.TrimSpace(r.URL.Query().Get("target")); target != "" {
		entries, err = h.history.ForTarget(r.Context(), target, limit)
	} else {
		entries, err = h.history.Recent(r.Context(), limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, JournalResponse{Entries: entries})
}
