package app

import (
	"context"
	"strings"

	"kerrokantasi/api/internal/search"
)

// Search runs a full-text query over hearings and comments. Staff also see
// unpublished and future hearings. lang selects the title language.
func (s *Service) Search(ctx context.Context, actor Actor, text, kind, hearingID, lang string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, errValidation("A search query is required", map[string]any{"field": "q"})
	}
	filter := search.ResultType(kind)
	if filter != "" && filter != search.ResultHearing && filter != search.ResultComment {
		return search.Response{}, errValidation("Unknown result type", map[string]any{"field": "type"})
	}
	if lang != "" && !s.languages.Known(lang) {
		return search.Response{}, errUnsupportedLanguage("lang", lang)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.search.Search(ctx, search.Query{
		Text:          text,
		FilterType:    filter,
		HearingID:     hearingID,
		Lang:          lang,
		Limit:         limit,
		Offset:        max(offset, 0),
		IncludeHidden: actor.Staff(),
		Now:           s.now(),
	}), nil
}

// Reindex pushes every hearing and comment to the search index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	return s.search.Reindex(ctx)
}
