package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/notebridge/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// history, if non-nil, backs GET /journal.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, history JournalReader, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, history)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/search", h.Search)

	r.Get("/notes/{id}", h.GetNote)
	r.Post("/notes", h.CreateNote)
	r.Put("/notes/{id}", h.UpdateNote)

	r.Get("/notebooks", h.ListNotebooks)
	r.Get("/notebooks/{id}/notes", h.NotebookNotes)

	r.Get("/status", h.Status)
	if history != nil {
		r.Get("/journal", h.Journal)
	}

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
