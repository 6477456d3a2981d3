package noteservice

import (
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/notebridge/internal/apperr"
)

const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50

	DefaultNotebookLimit = 20
	MaxNotebookLimit     = 100

	MaxQueryLen = 200
	MaxTitleLen = 200
	MaxBodyLen  = 1_000_000
)

var idPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

var idRule = validation.Match(idPattern).Error("must be a 32 character hex id")

// SearchParams are the inputs of SearchNotes.
type SearchParams struct {
	Query      string `json:"query"`
	Limit      int    `json:"limit"`
	NotebookID string `json:"notebook_id"`
}

func (p *SearchParams) normalize() {
	p.Query = strings.TrimSpace(p.Query)
	if p.Limit == 0 {
		p.Limit = DefaultSearchLimit
	}
	p.NotebookID = strings.ToLower(strings.TrimSpace(p.NotebookID))
}

// Validate checks the normalized parameters.
func (p *SearchParams) Validate() error {
	return invalid(validation.ValidateStruct(p,
		validation.Field(&p.Query, validation.Required, validation.RuneLength(1, MaxQueryLen)),
		validation.Field(&p.Limit, validation.Min(1), validation.Max(MaxSearchLimit)),
		validation.Field(&p.NotebookID, idRule),
	))
}

// GetNoteParams are the inputs of GetNote. The body is included unless
// SkipBody is set.
type GetNoteParams struct {
	ID       string `json:"note_id"`
	SkipBody bool   `json:"-"`
}

func (p *GetNoteParams) normalize() { p.ID = strings.ToLower(strings.TrimSpace(p.ID)) }

// Validate checks the normalized parameters.
func (p *GetNoteParams) Validate() error {
	return invalid(validation.ValidateStruct(p,
		validation.Field(&p.ID, validation.Required, idRule),
	))
}

// ListNotebooksParams are the inputs of ListNotebooks. With Recursive
// unset the notebooks under ParentID (or all of them) come back flat.
type ListNotebooksParams struct {
	ParentID  string `json:"parent_id"`
	Recursive bool   `json:"recursive"`
}

func (p *ListNotebooksParams) normalize() {
	p.ParentID = strings.ToLower(strings.TrimSpace(p.ParentID))
}

// Validate checks the normalized parameters.
func (p *ListNotebooksParams) Validate() error {
	return invalid(validation.ValidateStruct(p,
		validation.Field(&p.ParentID, idRule),
	))
}

// NotebookNotesParams are the inputs of GetNotesInNotebook.
type NotebookNotesParams struct {
	NotebookID string `json:"notebook_id"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

func (p *NotebookNotesParams) normalize() {
	p.NotebookID = strings.ToLower(strings.TrimSpace(p.NotebookID))
	if p.Limit == 0 {
		p.Limit = DefaultNotebookLimit
	}
}

// Validate checks the normalized parameters.
func (p *NotebookNotesParams) Validate() error {
	return invalid(validation.ValidateStruct(p,
		validation.Field(&p.NotebookID, validation.Required, idRule),
		validation.Field(&p.Limit, validation.Min(1), validation.Max(MaxNotebookLimit)),
		validation.Field(&p.Offset, validation.Min(0)),
	))
}

// CreateNoteParams are the inputs of CreateNote.
type CreateNoteParams struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	NotebookID string `json:"notebook_id"`
}

func (p *CreateNoteParams) normalize() {
	p.Title = strings.TrimSpace(p.Title)
	p.NotebookID = strings.ToLower(strings.TrimSpace(p.NotebookID))
}

// Validate checks the normalized parameters.
func (p *CreateNoteParams) Validate() error {
	return invalid(validation.ValidateStruct(p,
		validation.Field(&p.Title, validation.Required, validation.RuneLength(1, MaxTitleLen)),
		validation.Field(&p.Body, validation.Length(0, MaxBodyLen)),
		validation.Field(&p.NotebookID, idRule),
	))
}

// UpdateNoteParams are the inputs of UpdateNote. Nil fields are left
// unchanged; at least one must be set.
type UpdateNoteParams struct {
	ID         string  `json:"note_id"`
	Title      *string `json:"title"`
	Body       *string `json:"body"`
	NotebookID *string `json:"notebook_id"`
}

func (p *UpdateNoteParams) normalize() {
	p.ID = strings.ToLower(strings.TrimSpace(p.ID))
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		p.Title = &t
	}
	if p.NotebookID != nil {
		nb := strings.ToLower(strings.TrimSpace(*p.NotebookID))
		p.NotebookID = &nb
	}
}

// Validate checks the normalized parameters.
func (p *UpdateNoteParams) Validate() error {
	if err := validation.ValidateStruct(p,
		validation.Field(&p.ID, validation.Required, idRule),
		validation.Field(&p.Title, validation.NilOrNotEmpty, validation.RuneLength(1, MaxTitleLen)),
		validation.Field(&p.Body, validation.Length(0, MaxBodyLen)),
		validation.Field(&p.NotebookID, validation.NilOrNotEmpty, idRule),
	); err != nil {
		return invalid(err)
	}
	if p.Title == nil && p.Body == nil && p.NotebookID == nil {
		return apperr.New(apperr.Validation, "at least one of title, body or notebook_id is required")
	}
	return nil
}

// invalid classifies an ozzo error as a validation failure.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	return apperr.Wrap(apperr.Validation, err, err.Error())
}
