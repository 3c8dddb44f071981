package search

import (
	"context"
	"log/slog"
)

// index is the write side of Meili, narrowed for tests.
type index interface {
	Searcher
	IndexHearings([]HearingRecord) error
	IndexComments([]CommentRecord) error
	DeleteHearing(string) error
	DeleteComment(string) error
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili    index
	fallback Searcher
	loader   func(context.Context) ([]HearingRecord, []CommentRecord, error)
	logger   *slog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *slog.Logger) *Service {
	s := &Service{logger: logger}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	return s
}

func (s *Service) primary() index {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	return s.meili
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if primary := s.primary(); primary != nil {
		results, total, err := primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch failed, falling back to postgres", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("postgres search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexHearing pushes one hearing in the background.
func (s *Service) IndexHearing(record HearingRecord) {
	primary := s.primary()
	if primary == nil {
		return
	}
	go func() {
		if err := primary.IndexHearings([]HearingRecord{record}); err != nil {
			s.logger.Warn("index hearing", "hearing_id", record.ID, "error", err)
		}
	}()
}

// IndexComment pushes one comment in the background.
func (s *Service) IndexComment(record CommentRecord) {
	primary := s.primary()
	if primary == nil {
		return
	}
	go func() {
		if err := primary.IndexComments([]CommentRecord{record}); err != nil {
			s.logger.Warn("index comment", "comment_id", record.ID, "error", err)
		}
	}()
}

func (s *Service) DeleteHearing(id string) {
	primary := s.primary()
	if primary == nil {
		return
	}
	go func() {
		if err := primary.DeleteHearing(id); err != nil {
			s.logger.Warn("unindex hearing", "hearing_id", id, "error", err)
		}
	}()
}

func (s *Service) DeleteComment(id string) {
	primary := s.primary()
	if primary == nil {
		return
	}
	go func() {
		if err := primary.DeleteComment(id); err != nil {
			s.logger.Warn("unindex comment", "comment_id", id, "error", err)
		}
	}()
}

// Reindex reads every live hearing and comment from Postgres and pushes
// them synchronously. It returns the number of records sent.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	primary := s.primary()
	if primary == nil || s.loader == nil {
		return 0, nil
	}
	hearings, comments, err := s.loader(ctx)
	if err != nil {
		return 0, err
	}
	if err := primary.IndexHearings(hearings); err != nil {
		return 0, err
	}
	if err := primary.IndexComments(comments); err != nil {
		return len(hearings), err
	}
	return len(hearings) + len(comments), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
