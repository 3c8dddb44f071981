package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"kerrokantasi/api/internal/translation"
)

// PgFTS implements Searcher over the generated tsvector columns of hearings
// and comments.
type PgFTS struct {
	db        *sql.DB
	languages *translation.Languages
}

// NewPgFTS searches db. With languages set, hearing titles in results are
// resolved to one language instead of joined.
func NewPgFTS(db *sql.DB, languages *translation.Languages) *PgFTS {
	return &PgFTS{db: db, languages: languages}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	visibility := ""
	if !q.IncludeHidden {
		visibility = " AND h.published AND h.open_at <= " + arg(q.Now)
	}
	hearingFilter := ""
	if q.HearingID != "" {
		hearingFilter = " AND h.id = " + arg(q.HearingID)
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultHearing {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'hearing'::text AS type, h.id, h.title::text AS title,
				ts_headline('simple', h.abstract::text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				h.id AS hearing_id, ''::text AS section_id,
				ts_rank(h.search_vector, %s) AS rank
			FROM hearings h
			WHERE h.search_vector @@ %s AND NOT h.deleted%s%s`, tsQuery, tsQuery, tsQuery, visibility, hearingFilter))
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.id::text, h.title::text AS title,
				ts_headline('simple', c.content, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				h.id AS hearing_id, c.section_id,
				ts_rank(c.search_vector, %s) AS rank
			FROM section_comments c
			JOIN sections sec ON sec.id = c.section_id
			JOIN hearings h ON h.id = sec.hearing_id
			WHERE c.search_vector @@ %s AND NOT c.deleted AND NOT sec.deleted AND NOT h.deleted%s%s`,
			tsQuery, tsQuery, tsQuery, visibility, hearingFilter))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, hearing_id, section_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)
	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var kind, title string
		if err := rows.Scan(&kind, &r.ID, &title, &r.Snippet, &r.HearingID, &r.SectionID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(kind)
		r.Title = p.title(title, q.Lang)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// flattenTitle turns the JSONB text of a translated title into plain text.
func flattenTitle(raw string) string {
	var text translation.Text
	if err := text.Scan([]byte(raw)); err != nil {
		return raw
	}
	return text.Join(" / ")
}

// title resolves a stored translated title for lang.
func (p *PgFTS) title(raw, lang string) string {
	if p.languages == nil {
		return flattenTitle(raw)
	}
	var text translation.Text
	if err := text.Scan([]byte(raw)); err != nil {
		return raw
	}
	value, _ := p.languages.Resolve(text, lang)
	return value
}

// LoadAllRecords returns every live hearing and comment for reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]HearingRecord, []CommentRecord, error) {
	hearingRows, err := p.db.QueryContext(ctx, `
		SELECT h.id, h.slug, h.title, h.abstract, COALESCE(o.name, ''), h.published, h.open_at
		FROM hearings h
		LEFT JOIN organizations o ON o.id = h.organization_id
		WHERE NOT h.deleted
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load hearings: %w", err)
	}
	defer hearingRows.Close()

	hearings := make([]HearingRecord, 0)
	for hearingRows.Next() {
		var record HearingRecord
		var title, abstract translation.Text
		var openAt sql.NullTime
		if err := hearingRows.Scan(&record.ID, &record.Slug, &title, &abstract, &record.Organization, &record.Published, &openAt); err != nil {
			return nil, nil, fmt.Errorf("scan hearing: %w", err)
		}
		record.Title = title.Join(" / ")
		record.Abstract = abstract.Join(" / ")
		record.OpenAt = openAt.Time.Unix()
		hearings = append(hearings, record)
	}
	if err := hearingRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate hearings: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id::text, c.content, h.id, c.section_id, h.title::text, c.language_code, h.published, h.open_at
		FROM section_comments c
		JOIN sections sec ON sec.id = c.section_id
		JOIN hearings h ON h.id = sec.hearing_id
		WHERE NOT c.deleted AND NOT sec.deleted AND NOT h.deleted
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var record CommentRecord
		var title, languageCode string
		var openAt sql.NullTime
		if err := commentRows.Scan(&record.ID, &record.Content, &record.HearingID, &record.SectionID, &title, &languageCode, &record.HearingPublished, &openAt); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		record.HearingTitle = p.title(title, languageCode)
		record.HearingOpenAt = openAt.Time.Unix()
		comments = append(comments, record)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}
	return hearings, comments, nil
}
