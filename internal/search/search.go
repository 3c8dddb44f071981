package search

import (
	"context"
	"time"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultHearing ResultType = "hearing"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	HearingID string     `json:"hearing_id"`
	SectionID string     `json:"section_id,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	HearingID  string
	// Lang picks the language of translated result titles where the backend
	// stores them translated.
	Lang   string
	Limit  int
	Offset int
	// IncludeHidden lifts the published/open filter for staff callers.
	IncludeHidden bool
	Now           time.Time
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// HearingRecord is the data indexed for a hearing.
type HearingRecord struct {
	ID           string `json:"id"`
	Slug         string `json:"slug"`
	Title        string `json:"title"`
	Abstract     string `json:"abstract"`
	Organization string `json:"organization"`
	Published    bool   `json:"published"`
	OpenAt       int64  `json:"openAt"`
}

// CommentRecord is the data indexed for a comment. Visibility fields mirror
// the owning hearing.
type CommentRecord struct {
	ID               string `json:"id"`
	Content          string `json:"content"`
	HearingID        string `json:"hearingId"`
	SectionID        string `json:"sectionId"`
	HearingTitle     string `json:"hearingTitle"`
	HearingPublished bool   `json:"published"`
	HearingOpenAt    int64  `json:"openAt"`
}
