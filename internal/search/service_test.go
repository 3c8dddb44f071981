package search

import (
	"context"
	"errors"
	"testing"

	"kerrokantasi/api/internal/logging"
	"kerrokantasi/api/internal/translation"
)

type fakeIndex struct {
	healthy  bool
	results  []Result
	err      error
	hearings []HearingRecord
	comments []CommentRecord
}

func (f *fakeIndex) Search(context.Context, Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}
func (f *fakeIndex) Healthy() bool { return f.healthy }
func (f *fakeIndex) IndexHearings(records []HearingRecord) error {
	f.hearings = append(f.hearings, records...)
	return nil
}
func (f *fakeIndex) IndexComments(records []CommentRecord) error {
	f.comments = append(f.comments, records...)
	return nil
}
func (f *fakeIndex) DeleteHearing(string) error { return nil }
func (f *fakeIndex) DeleteComment(string) error { return nil }

func TestSearchFallsBackWhenPrimaryFails(t *testing.T) {
	primary := &fakeIndex{healthy: true, err: errors.New("boom")}
	fallback := &fakeIndex{healthy: true, results: []Result{{Type: ResultHearing, ID: "h1"}}}
	s := &Service{meili: primary, fallback: fallback, logger: logging.Discard()}

	resp := s.Search(context.Background(), Query{Text: "park"})
	if resp.Total != 1 || resp.Results[0].ID != "h1" {
		t.Fatalf("expected fallback result, got %+v", resp)
	}
}

func TestSearchSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeIndex{healthy: false, results: []Result{{ID: "meili"}}}
	fallback := &fakeIndex{healthy: true}
	s := &Service{meili: primary, fallback: fallback, logger: logging.Discard()}

	resp := s.Search(context.Background(), Query{Text: "park"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp.Results)
	}
}

func TestReindexPushesLoadedRecords(t *testing.T) {
	primary := &fakeIndex{healthy: true}
	s := &Service{
		meili:  primary,
		logger: logging.Discard(),
		loader: func(context.Context) ([]HearingRecord, []CommentRecord, error) {
			return []HearingRecord{{ID: "h1"}}, []CommentRecord{{ID: "1"}, {ID: "2"}}, nil
		},
	}
	n, err := s.Reindex(context.Background())
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if n != 3 || len(primary.hearings) != 1 || len(primary.comments) != 2 {
		t.Fatalf("expected 3 records pushed, got n=%d hearings=%d comments=%d", n, len(primary.hearings), len(primary.comments))
	}
}

func TestFlattenTitle(t *testing.T) {
	if got := flattenTitle(`{"fi":"Puisto","en":"Park"}`); got != "Park / Puisto" {
		t.Fatalf("expected joined title, got %q", got)
	}
	if got := flattenTitle("plain"); got != "plain" {
		t.Fatalf("expected raw fallback, got %q", got)
	}
}

func TestPgFTSTitleResolvesLanguage(t *testing.T) {
	p := NewPgFTS(nil, translation.MustLanguages("fi", "sv", "en"))
	raw := `{"fi":"Puisto","en":"Park"}`
	if got := p.title(raw, "en"); got != "Park" {
		t.Fatalf("expected en title, got %q", got)
	}
	if got := p.title(raw, "sv"); got != "Puisto" {
		t.Fatalf("expected fallback to fi, got %q", got)
	}
	if got := NewPgFTS(nil, nil).title(raw, "en"); got != "Park / Puisto" {
		t.Fatalf("expected joined title without languages, got %q", got)
	}
}
