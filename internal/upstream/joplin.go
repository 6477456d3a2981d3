package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/notebridge/internal/apperr"
	"github.com/starford/notebridge/internal/models"
)

const (
	// PingResponse is the body Joplin's data API answers /ping with.
	PingResponse = "JoplinClipperServer"

	// MaxPageSize is the largest page the data API will return.
	MaxPageSize = 100

	noteFields    = "id,title,body,parent_id,created_time,updated_time,is_conflict,markup_language"
	summaryFields = "id,title,parent_id,created_time,updated_time"
	searchFields  = "id,title,body,parent_id,updated_time"
	folderFields  = "id,title,parent_id,created_time,updated_time"

	// maxPages stops a runaway has_more loop.
	maxPages = 1000
)

type page[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

type noteJSON struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	ParentID       string `json:"parent_id"`
	CreatedTime    int64  `json:"created_time"`
	UpdatedTime    int64  `json:"updated_time"`
	IsConflict     int    `json:"is_conflict"`
	MarkupLanguage int    `json:"markup_language"`
}

func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (n noteJSON) toModel() models.Note {
	markup := models.MarkupMarkdown
	if n.MarkupLanguage == 2 {
		markup = models.MarkupHTML
	}
	note := models.Note{
		ID:          n.ID,
		Title:       n.Title,
		Body:        n.Body,
		Markup:      markup,
		ParentID:    n.ParentID,
		CreatedTime: millis(n.CreatedTime),
		UpdatedTime: millis(n.UpdatedTime),
		IsConflict:  n.IsConflict != 0,
	}
	note.Normalize()
	return note
}

func (n noteJSON) toSummary() models.NoteSummary {
	full := n.toModel()
	return models.NoteSummary{
		ID:          full.ID,
		Title:       full.Title,
		ParentID:    full.ParentID,
		CreatedTime: full.CreatedTime,
		UpdatedTime: full.UpdatedTime,
	}
}

type folderJSON struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ParentID    string `json:"parent_id"`
	CreatedTime int64  `json:"created_time"`
	UpdatedTime int64  `json:"updated_time"`
}

type tagJSON struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func pageQuery(fields string, pageNum, limit int) url.Values {
	q := url.Values{}
	if fields != "" {
		q.Set("fields", fields)
	}
	q.Set("page", strconv.Itoa(pageNum))
	q.Set("limit", strconv.Itoa(limit))
	return q
}

// collect follows has_more until the listing is exhausted.
func collect[T any](ctx context.Context, c *Client, endpoint, path string, q url.Values) ([]T, error) {
	var all []T
	for p := 1; p <= maxPages; p++ {
		q.Set("page", strconv.Itoa(p))
		var pg page[T]
		if err := c.call(ctx, Request{Path: path, Query: q, Endpoint: endpoint}, &pg); err != nil {
			return nil, err
		}
		all = append(all, pg.Items...)
		if !pg.HasMore {
			return all, nil
		}
	}
	return nil, apperr.Errorf(apperr.Internal, "%s: pagination did not terminate", endpoint)
}

// Ping checks that the data API is listening. It does not prove the
// token is valid.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Execute(ctx, Request{Path: "/ping", Endpoint: "ping"})
	if err != nil {
		return err
	}
	if !strings.Contains(string(resp.Body), PingResponse) {
		return apperr.New(apperr.Unavailable, "unexpected /ping response; is the Joplin data API running?")
	}
	return nil
}

// CheckAuth makes the cheapest authenticated request available.
func (c *Client) CheckAuth(ctx context.Context) error {
	var pg page[folderJSON]
	return c.call(ctx, Request{
		Path:     "/folders",
		Query:    pageQuery("id", 1, 1),
		Endpoint: "check_auth",
	}, &pg)
}

// GetNote fetches one note without its tags.
func (c *Client) GetNote(ctx context.Context, id string, includeBody bool) (models.Note, error) {
	fields := noteFields
	if !includeBody {
		fields = strings.Replace(fields, "body,", "", 1)
	}
	var raw noteJSON
	err := c.call(ctx, Request{
		Path:     "/notes/" + url.PathEscape(id),
		Query:    url.Values{"fields": {fields}},
		Endpoint: "get_note",
	}, &raw)
	if err != nil {
		return models.Note{}, notFoundAs(err, "note %s not found", id)
	}
	if raw.ID == "" {
		return models.Note{}, apperr.Errorf(apperr.NotFound, "note %s not found", id)
	}
	return raw.toModel(), nil
}

// NoteTags returns the titles of the tags attached to a note.
func (c *Client) NoteTags(ctx context.Context, id string) ([]string, error) {
	tags, err := collect[tagJSON](ctx, c, "note_tags", "/notes/"+url.PathEscape(id)+"/tags",
		pageQuery("id,title", 1, MaxPageSize))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, t.Title)
	}
	return out, nil
}

// ListFolders returns every notebook as a flat list.
func (c *Client) ListFolders(ctx context.Context) ([]models.Notebook, error) {
	folders, err := collect[folderJSON](ctx, c, "list_folders", "/folders",
		pageQuery(folderFields, 1, MaxPageSize))
	if err != nil {
		return nil, err
	}
	out := make([]models.Notebook, 0, len(folders))
	for _, f := range folders {
		out = append(out, models.Notebook{
			ID:          f.ID,
			Title:       f.Title,
			ParentID:    f.ParentID,
			CreatedTime: millis(f.CreatedTime),
			UpdatedTime: millis(f.UpdatedTime),
		})
	}
	return out, nil
}

// NotePage is a window of a notebook's notes.
type NotePage struct {
	Notes   []models.NoteSummary
	HasMore bool
}

// NotesInFolder returns up to limit notes of a notebook starting at
// offset, most recently updated first.
func (c *Client) NotesInFolder(ctx context.Context, folderID string, limit, offset int) (NotePage, error) {
	path := "/folders/" + url.PathEscape(folderID) + "/notes"
	q := pageQuery(summaryFields, 1, MaxPageSize)
	q.Set("order_by", "updated_time")
	q.Set("order_dir", "DESC")

	var (
		out  NotePage
		skip = offset % MaxPageSize
	)
	for p := offset/MaxPageSize + 1; p <= maxPages; p++ {
		q.Set("page", strconv.Itoa(p))
		var pg page[noteJSON]
		if err := c.call(ctx, Request{Path: path, Query: q, Endpoint: "notes_in_folder"}, &pg); err != nil {
			return NotePage{}, notFoundAs(err, "notebook %s not found", folderID)
		}
		items := pg.Items
		if skip > 0 {
			if skip >= len(items) {
				items = nil
			} else {
				items = items[skip:]
			}
			skip = 0
		}
		for _, n := range items {
			if len(out.Notes) == limit {
				out.HasMore = true
				return out, nil
			}
			out.Notes = append(out.Notes, n.toSummary())
		}
		if !pg.HasMore {
			return out, nil
		}
		if len(out.Notes) == limit {
			out.HasMore = true
			return out, nil
		}
	}
	return out, nil
}

// Search runs a Joplin search query and returns one page of raw hits.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.SearchMatch, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	q := pageQuery(searchFields, 1, limit)
	q.Set("query", query)

	var pg page[noteJSON]
	if err := c.call(ctx, Request{Path: "/search", Query: q, Endpoint: "search"}, &pg); err != nil {
		return nil, err
	}
	out := make([]models.SearchMatch, 0, len(pg.Items))
	for _, n := range pg.Items {
		note := n.toModel()
		out = append(out, models.SearchMatch{
			NoteID:      note.ID,
			Title:       note.Title,
			Body:        note.Body,
			UpdatedTime: note.UpdatedTime,
			ParentID:    note.ParentID,
		})
	}
	return out, nil
}

// TagQuery builds a search query matching notes tagged with term.
func TagQuery(term string) string {
	if strings.ContainsAny(term, " \t\"") {
		return `tag:"` + strings.ReplaceAll(term, `"`, "") + `"`
	}
	return "tag:" + term
}

// InNotebook restricts query to the notebook titled title. Joplin
// matches notebooks by title and includes their sub-notebooks.
func InNotebook(title, query string) string {
	return `notebook:"` + strings.ReplaceAll(title, `"`, "") + `" ` + query
}

// NoteInput is the writable subset of a note. Nil fields are left
// unchanged on update.
type NoteInput struct {
	Title    *string `json:"title,omitempty"`
	Body     *string `json:"body,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

// CreateNote creates a note and returns it as stored.
func (c *Client) CreateNote(ctx context.Context, in NoteInput) (models.Note, error) {
	var raw noteJSON
	err := c.call(ctx, Request{
		Method:   http.MethodPost,
		Path:     "/notes",
		Body:     in,
		Endpoint: "create_note",
	}, &raw)
	if err != nil {
		return models.Note{}, err
	}
	if raw.ID == "" {
		return models.Note{}, apperr.New(apperr.Internal, "create_note: upstream returned no id")
	}
	note := raw.toModel()
	if in.Body != nil && note.Body == "" {
		note.Body = *in.Body
	}
	return note, nil
}

// UpdateNote applies in to the note and returns the stored result.
func (c *Client) UpdateNote(ctx context.Context, id string, in NoteInput) (models.Note, error) {
	err := c.call(ctx, Request{
		Method:   http.MethodPut,
		Path:     "/notes/" + url.PathEscape(id),
		Body:     in,
		Endpoint: "update_note",
	}, nil)
	if err != nil {
		return models.Note{}, notFoundAs(err, "note %s not found", id)
	}
	return c.GetNote(ctx, id, true)
}

// notFoundAs rewrites a NotFound failure's message to name the entity.
func notFoundAs(err error, format string, id string) error {
	if apperr.KindOf(err) != apperr.NotFound {
		return err
	}
	f := apperr.Errorf(apperr.NotFound, format, id)
	f.Err = err
	return f
}
