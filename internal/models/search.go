package models

import "time"

// MatchType classifies which fields of a note matched a query.
type MatchType string

const (
	MatchTitle MatchType = "title"
	MatchBody  MatchType = "body"
	MatchTags  MatchType = "tags"
	MatchMixed MatchType = "mixed"
)

// MatchedFields records the fields an upstream query reported a hit on.
type MatchedFields struct {
	Title bool
	Body  bool
	Tag   bool
}

// SearchMatch is a raw, unranked upstream hit.
type SearchMatch struct {
	NoteID      string
	Title       string
	Body        string
	Tags        []string
	ParentID    string
	UpdatedTime time.Time
	// Relevance is the upstream's own score, if it supplied one.
	Relevance *float64
	Fields    MatchedFields
}

// RankedResult is a scored search hit.
type RankedResult struct {
	NoteID      string    `json:"note_id"`
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	Score       float64   `json:"score"`
	MatchType   MatchType `json:"match_type"`
	UpdatedTime time.Time `json:"updated_time"`
}
