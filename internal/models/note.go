// Package models defines the note store entities as seen by callers.
// Entities are transient copies of upstream state; nothing here is
// persisted.
package models

import "time"

// Markup is the body's markup flavor.
type Markup string

const (
	MarkupMarkdown Markup = "markdown"
	MarkupHTML     Markup = "html"
)

// Note is a single note. UpdatedTime is never before CreatedTime.
type Note struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	Markup      Markup    `json:"markup"`
	ParentID    string    `json:"parent_id"`
	CreatedTime time.Time `json:"created_time"`
	UpdatedTime time.Time `json:"updated_time"`
	IsConflict  bool      `json:"is_conflict"`
	Tags        []string  `json:"tags"`
}

// Normalize enforces the timestamp ordering and a non-nil tag list.
func (n *Note) Normalize() {
	if n.UpdatedTime.Before(n.CreatedTime) {
		n.UpdatedTime = n.CreatedTime
	}
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if n.Markup == "" {
		n.Markup = MarkupMarkdown
	}
}

// NoteSummary is the body-less form returned by notebook listings.
type NoteSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ParentID    string    `json:"parent_id"`
	CreatedTime time.Time `json:"created_time"`
	UpdatedTime time.Time `json:"updated_time"`
}
