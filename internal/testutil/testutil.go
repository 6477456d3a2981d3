// Package testutil provides an in-memory stand-in for the Joplin data
// API and other shared test helpers.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Note is a note as the fake stores it.
type Note struct {
	ID             string
	Title          string
	Body           string
	ParentID       string
	Created        time.Time
	Updated        time.Time
	IsConflict     bool
	MarkupLanguage int
	Tags           []string
}

// Folder is a notebook as the fake stores it.
type Folder struct {
	ID       string
	Title    string
	ParentID string
	Created  time.Time
	Updated  time.Time
}

// FakeJoplin serves the subset of the Joplin data API the client uses.
type FakeJoplin struct {
	Server *httptest.Server
	Token  string

	mu      sync.Mutex
	notes   map[string]*Note
	folders map[string]*Folder
	// failures holds statuses returned, in order, before normal handling.
	failures []int
	down     int32
	delay    time.Duration
	requests atomic.Int64
	byPath   map[string]int
}

// NewFakeJoplin starts a fake server that requires token. It is closed
// when the test ends.
func NewFakeJoplin(t *testing.T, token string) *FakeJoplin {
	t.Helper()
	f := &FakeJoplin{
		Token:   token,
		notes:   map[string]*Note{},
		folders: map[string]*Folder{},
		byPath:  map[string]int{},
	}

	r := chi.NewRouter()
	r.Use(f.middleware)
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("JoplinClipperServer"))
	})
	r.Get("/notes/{id}", f.getNote)
	r.Put("/notes/{id}", f.updateNote)
	r.Post("/notes", f.createNote)
	r.Get("/notes/{id}/tags", f.noteTags)
	r.Get("/folders", f.listFolders)
	r.Get("/folders/{id}/notes", f.folderNotes)
	r.Get("/search", f.search)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the server's base URL.
func (f *FakeJoplin) URL() string { return f.Server.URL }

// NewID returns a Joplin-style 32 character hex id.
func NewID() string { return strings.ReplaceAll(uuid.NewString(), "-", "") }

// AddFolder stores a notebook and returns its id.
func (f *FakeJoplin) AddFolder(title, parentID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	id := NewID()
	f.folders[id] = &Folder{ID: id, Title: title, ParentID: parentID, Created: now, Updated: now}
	return id
}

// AddNote stores n, assigning an id and timestamps when missing.
func (f *FakeJoplin) AddNote(n Note) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n.ID == "" {
		n.ID = NewID()
	}
	if n.Created.IsZero() {
		n.Created = time.Now().UTC()
	}
	if n.Updated.IsZero() {
		n.Updated = n.Created
	}
	if n.MarkupLanguage == 0 {
		n.MarkupLanguage = 1
	}
	f.notes[n.ID] = &n
	return n.ID
}

// Note returns a copy of a stored note.
func (f *FakeJoplin) Note(id string) (Note, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[id]
	if !ok {
		return Note{}, false
	}
	return *n, true
}

// FailNext makes the next len(statuses) requests fail with the given
// statuses. A zero status lets that request through.
func (f *FakeJoplin) FailNext(statuses ...int) {
	f.mu.Lock()
	f.failures = append(f.failures, statuses...)
	f.mu.Unlock()
}

// SetDown makes every request fail with 503 until cleared.
func (f *FakeJoplin) SetDown(down bool) {
	v := int32(0)
	if down {
		v = 1
	}
	atomic.StoreInt32(&f.down, v)
}

// SetDelay delays every response.
func (f *FakeJoplin) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

// SetToken changes the accepted token.
func (f *FakeJoplin) SetToken(token string) {
	f.mu.Lock()
	f.Token = token
	f.mu.Unlock()
}

// Requests is the total number of requests received.
func (f *FakeJoplin) Requests() int { return int(f.requests.Load()) }

// RequestsTo counts requests whose path starts with prefix.
func (f *FakeJoplin) RequestsTo(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for p, c := range f.byPath {
		if strings.HasPrefix(p, prefix) {
			n += c
		}
	}
	return n
}

func (f *FakeJoplin) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)

		f.mu.Lock()
		f.byPath[r.URL.Path]++
		delay := f.delay
		var status int
		if len(f.failures) > 0 {
			status = f.failures[0]
			f.failures = f.failures[1:]
		}
		token := f.Token
		f.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if atomic.LoadInt32(&f.down) == 1 && status == 0 {
			status = http.StatusServiceUnavailable
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
			return
		}
		if r.URL.Path != "/ping" && r.URL.Query().Get("token") != token {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": `Invalid "token" parameter`})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (n *Note) json(fields string) map[string]any {
	all := map[string]any{
		"id":              n.ID,
		"title":           n.Title,
		"body":            n.Body,
		"parent_id":       n.ParentID,
		"created_time":    ms(n.Created),
		"updated_time":    ms(n.Updated),
		"is_conflict":     boolInt(n.IsConflict),
		"markup_language": n.MarkupLanguage,
	}
	return pick(all, fields, "id,title")
}

func (fo *Folder) json(fields string) map[string]any {
	all := map[string]any{
		"id":           fo.ID,
		"title":        fo.Title,
		"parent_id":    fo.ParentID,
		"created_time": ms(fo.Created),
		"updated_time": ms(fo.Updated),
	}
	return pick(all, fields, "id,title,parent_id")
}

func pick(all map[string]any, fields, defaults string) map[string]any {
	if fields == "" {
		fields = defaults
	}
	out := map[string]any{}
	for _, f := range strings.Split(fields, ",") {
		if v, ok := all[f]; ok {
			out[f] = v
		}
	}
	return out
}

// paginate applies Joplin's 1-based page/limit parameters.
func paginate[T any](r *http.Request, items []T) ([]T, bool) {
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if pageNum < 1 {
		pageNum = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 100
	}
	start := (pageNum - 1) * limit
	if start >= len(items) {
		return []T{}, false
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], end < len(items)
}

func (f *FakeJoplin) getNote(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, n.json(r.URL.Query().Get("fields")))
}

type noteBody struct {
	Title    *string `json:"title"`
	Body     *string `json:"body"`
	ParentID *string `json:"parent_id"`
}

func (f *FakeJoplin) createNote(w http.ResponseWriter, r *http.Request) {
	var in noteBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	n := Note{}
	if in.Title != nil {
		n.Title = *in.Title
	}
	if in.Body != nil {
		n.Body = *in.Body
	}
	if in.ParentID != nil {
		n.ParentID = *in.ParentID
	}
	id := f.AddNote(n)

	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, f.notes[id].json("id,title,body,parent_id,created_time,updated_time,markup_language"))
}

func (f *FakeJoplin) updateNote(w http.ResponseWriter, r *http.Request) {
	var in noteBody
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not Found"})
		return
	}
	if in.Title != nil {
		n.Title = *in.Title
	}
	if in.Body != nil {
		n.Body = *in.Body
	}
	if in.ParentID != nil {
		n.ParentID = *in.ParentID
	}
	n.Updated = time.Now().UTC()
	writeJSON(w, http.StatusOK, n.json("id,title,updated_time"))
}

func (f *FakeJoplin) noteTags(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[chi.URLParam(r, "id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not Found"})
		return
	}
	var items []map[string]any
	for _, t := range n.Tags {
		items = append(items, map[string]any{"id": NewID(), "title": t})
	}
	page, more := paginate(r, items)
	writeJSON(w, http.StatusOK, map[string]any{"items": page, "has_more": more})
}

func (f *FakeJoplin) listFolders(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.folders))
	for id := range f.folders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, f.folders[id].json(r.URL.Query().Get("fields")))
	}
	page, more := paginate(r, items)
	writeJSON(w, http.StatusOK, map[string]any{"items": page, "has_more": more})
}

func (f *FakeJoplin) folderNotes(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	folderID := chi.URLParam(r, "id")
	if _, ok := f.folders[folderID]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not Found"})
		return
	}
	var notes []*Note
	for _, n := range f.notes {
		if n.ParentID == folderID {
			notes = append(notes, n)
		}
	}
	sort.Slice(notes, func(i, j int) bool {
		if !notes[i].Updated.Equal(notes[j].Updated) {
			return notes[i].Updated.After(notes[j].Updated)
		}
		return notes[i].ID < notes[j].ID
	})
	items := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		items = append(items, n.json(r.URL.Query().Get("fields")))
	}
	page, more := paginate(r, items)
	writeJSON(w, http.StatusOK, map[string]any{"items": page, "has_more": more})
}

// search understands plain terms (title/body substring) and tag:term,
// optionally preceded by a notebook:"title" filter.
func (f *FakeJoplin) search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	f.mu.Lock()
	defer f.mu.Unlock()

	candidates := f.notes
	if title, rest, ok := cutNotebookFilter(query); ok {
		query = rest
		in := f.notebooksTitled(title)
		candidates = map[string]*Note{}
		for id, n := range f.notes {
			if in[n.ParentID] {
				candidates[id] = n
			}
		}
	}

	var notes []*Note
	if tag, ok := strings.CutPrefix(query, "tag:"); ok {
		tag = strings.ToLower(strings.Trim(tag, `"`))
		for _, n := range candidates {
			for _, t := range n.Tags {
				if strings.ToLower(t) == tag {
					notes = append(notes, n)
					break
				}
			}
		}
	} else {
		q := strings.ToLower(query)
		for _, n := range candidates {
			if strings.Contains(strings.ToLower(n.Title), q) || strings.Contains(strings.ToLower(n.Body), q) {
				notes = append(notes, n)
			}
		}
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].ID < notes[j].ID })

	items := make([]map[string]any, 0, len(notes))
	for _, n := range notes {
		items = append(items, n.json(r.URL.Query().Get("fields")))
	}
	page, more := paginate(r, items)
	writeJSON(w, http.StatusOK, map[string]any{"items": page, "has_more": more})
}

func cutNotebookFilter(query string) (title, rest string, ok bool) {
	rest, ok = strings.CutPrefix(query, "notebook:")
	if !ok {
		return "", query, false
	}
	if quoted, found := strings.CutPrefix(rest, `"`); found {
		title, rest, _ = strings.Cut(quoted, `"`)
	} else {
		title, rest, _ = strings.Cut(rest, " ")
	}
	return title, strings.TrimSpace(rest), true
}

// notebooksTitled returns the ids of notebooks titled title and of all
// their descendants. Caller holds f.mu.
func (f *FakeJoplin) notebooksTitled(title string) map[string]bool {
	in := map[string]bool{}
	for id, fo := range f.folders {
		if strings.EqualFold(fo.Title, title) {
			in[id] = true
		}
	}
	for grew := true; grew; {
		grew = false
		for id, fo := range f.folders {
			if !in[id] && in[fo.ParentID] {
				in[id] = true
				grew = true
			}
		}
	}
	return in
}
