package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// HearingFilter narrows hearing listings. Visibility fields decide which
// unpublished or future hearings the caller may see.
type HearingFilter struct {
	Now         time.Time
	Staff       bool
	AdminOrgIDs []int64

	IDs          []string
	Open         *bool
	Published    *bool
	Title        string
	LabelIDs     []int64
	FollowedBy   string
	Organization string
	BBox         *BBox
	Ordering     string
	Limit        int
	Offset       int
}

var hearingOrderings = map[string]string{
	"created_at":  "h.created_at ASC",
	"-created_at": "h.created_at DESC",
	"open_at":     "h.open_at ASC",
	"-open_at":    "h.open_at DESC",
	"close_at":    "h.close_at ASC",
	"-close_at":   "h.close_at DESC",
	"n_comments":  "h.n_comments ASC",
	"-n_comments": "h.n_comments DESC",
}

const hearingColumns = `h.id, h.title, h.abstract, h.borough, h.slug, h.open_at, h.close_at, h.force_closed, h.servicemap_url,
	h.geojson, h.geometry, h.bbox_min_lon, h.bbox_min_lat, h.bbox_max_lon, h.bbox_max_lat,
	h.organization_id, COALESCE(o.name, ''), h.project_phase_id, h.n_comments`

func scanHearing(row interface{ Scan(...any) error }) (Hearing, error) {
	var item Hearing
	var minLon, minLat, maxLon, maxLat sql.NullFloat64
	targets := []any{
		&item.ID, &item.Title, &item.Abstract, &item.Borough, &item.Slug, &item.OpenAt, &item.CloseAt, &item.ForceClosed, &item.ServicemapURL,
		(*[]byte)(&item.GeoJSON), (*[]byte)(&item.Geometry), &minLon, &minLat, &maxLon, &maxLat,
		&item.OrganizationID, &item.OrganizationName, &item.ProjectPhaseID, &item.NComments,
	}
	if err := row.Scan(append(targets, item.Meta.targets()...)...); err != nil {
		return Hearing{}, err
	}
	if minLon.Valid && minLat.Valid && maxLon.Valid && maxLat.Valid {
		item.BBox = &BBox{MinLon: minLon.Float64, MinLat: minLat.Float64, MaxLon: maxLon.Float64, MaxLat: maxLat.Float64}
	}
	return item, nil
}

func hearingVisibility(w *where, f HearingFilter) {
	w.add("NOT h.deleted")
	if f.Staff {
		return
	}
	now := w.arg(f.Now)
	orgs := w.arg(pq.Array(f.AdminOrgIDs))
	w.add("((h.published AND h.open_at <= " + now + ") OR h.organization_id = ANY(" + orgs + "))")
}

func (s *PostgresStore) ListHearings(ctx context.Context, f HearingFilter) ([]Hearing, error) {
	w := &where{}
	hearingVisibility(w, f)
	if len(f.IDs) > 0 {
		w.add("h.id = ANY(" + w.arg(pq.Array(f.IDs)) + ")")
	}
	if f.Open != nil {
		now := w.arg(f.Now)
		cond := "(NOT h.force_closed AND h.open_at <= " + now + " AND h.close_at > " + now + ")"
		if !*f.Open {
			cond = "NOT " + cond
		}
		w.add(cond)
	}
	if f.Published != nil {
		w.add("h.published = " + w.arg(*f.Published))
	}
	if f.Title != "" {
		w.add("h.title::text ILIKE " + w.arg("%"+f.Title+"%"))
	}
	if len(f.LabelIDs) > 0 {
		w.add("EXISTS (SELECT 1 FROM hearing_labels hl WHERE hl.hearing_id = h.id AND hl.label_id = ANY(" + w.arg(pq.Array(f.LabelIDs)) + "))")
	}
	if f.FollowedBy != "" {
		w.add("EXISTS (SELECT 1 FROM hearing_followers hf WHERE hf.hearing_id = h.id AND hf.user_id = " + w.arg(f.FollowedBy) + ")")
	}
	if f.Organization != "" {
		w.add("o.name = " + w.arg(f.Organization))
	}
	if f.BBox != nil {
		w.add("h.bbox_min_lon IS NOT NULL")
		w.add("h.bbox_max_lon >= " + w.arg(f.BBox.MinLon))
		w.add("h.bbox_min_lon <= " + w.arg(f.BBox.MaxLon))
		w.add("h.bbox_max_lat >= " + w.arg(f.BBox.MinLat))
		w.add("h.bbox_min_lat <= " + w.arg(f.BBox.MaxLat))
	}
	order, ok := hearingOrderings[f.Ordering]
	if !ok {
		order = hearingOrderings["-created_at"]
	}

	query := `
		SELECT ` + hearingColumns + `, ` + metaColumns("h") + `
		FROM hearings h
		LEFT JOIN organizations o ON o.id = h.organization_id` +
		w.String() + ` ORDER BY ` + order + `, h.id ASC`
	query += limitOffset(w, f.Limit, f.Offset)

	rows, err := s.conn(ctx).QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list hearings: %w", err)
	}
	defer rows.Close()

	items := make([]Hearing, 0)
	for rows.Next() {
		item, err := scanHearing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hearing: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hearings: %w", err)
	}
	return items, nil
}

// GetHearing loads a live hearing by id or slug regardless of visibility;
// callers apply visibility rules.
func (s *PostgresStore) GetHearing(ctx context.Context, idOrSlug string) (Hearing, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+hearingColumns+`, `+metaColumns("h")+`
		FROM hearings h
		LEFT JOIN organizations o ON o.id = h.organization_id
		WHERE (h.id=$1 OR h.slug=$1) AND NOT h.deleted
		ORDER BY (h.id=$1) DESC
		LIMIT 1
	`, idOrSlug)
	item, err := scanHearing(row)
	if err != nil {
		return Hearing{}, err
	}
	return item, nil
}

// HearingExists reports whether id names a hearing in any scope.
func (s *PostgresStore) HearingExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM hearings WHERE id=$1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check hearing %s: %w", id, err)
	}
	return exists, nil
}

func (s *PostgresStore) SlugTaken(ctx context.Context, slug, exceptID string) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM hearings WHERE slug=$1 AND id<>$2 AND NOT deleted)
	`, slug, exceptID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug %s: %w", slug, err)
	}
	return exists, nil
}

func bboxArgs(b *BBox) (any, any, any, any) {
	if b == nil {
		return nil, nil, nil, nil
	}
	return b.MinLon, b.MinLat, b.MaxLon, b.MaxLat
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (s *PostgresStore) InsertHearing(ctx context.Context, item Hearing) error {
	minLon, minLat, maxLon, maxLat := bboxArgs(item.BBox)
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO hearings(
			id, title, abstract, borough, slug, open_at, close_at, force_closed, servicemap_url,
			geojson, geometry, bbox_min_lon, bbox_min_lat, bbox_max_lon, bbox_max_lat,
			organization_id, project_phase_id, published, created_by_id, modified_by_id
		) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19)
	`, item.ID, item.Title, item.Abstract, item.Borough, item.Slug, item.OpenAt, item.CloseAt, item.ForceClosed, item.ServicemapURL,
		nullJSON(item.GeoJSON), nullJSON(item.Geometry), minLon, minLat, maxLon, maxLat,
		item.OrganizationID, item.ProjectPhaseID, item.Published, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert hearing %s: %w", item.ID, conflict(err))
	}
	return nil
}

func (s *PostgresStore) UpdateHearing(ctx context.Context, item Hearing) error {
	minLon, minLat, maxLon, maxLat := bboxArgs(item.BBox)
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE hearings SET
			title=$2, abstract=$3, borough=$4, slug=$5, open_at=$6, close_at=$7, force_closed=$8, servicemap_url=$9,
			geojson=$10, geometry=$11, bbox_min_lon=$12, bbox_min_lat=$13, bbox_max_lon=$14, bbox_max_lat=$15,
			organization_id=$16, project_phase_id=$17, published=$18, modified_by_id=$19, modified_at=NOW()
		WHERE id=$1 AND NOT deleted
	`, item.ID, item.Title, item.Abstract, item.Borough, item.Slug, item.OpenAt, item.CloseAt, item.ForceClosed, item.ServicemapURL,
		nullJSON(item.GeoJSON), nullJSON(item.Geometry), minLon, minLat, maxLon, maxLat,
		item.OrganizationID, item.ProjectPhaseID, item.Published, item.ModifiedBy)
	if err != nil {
		return fmt.Errorf("update hearing %s: %w", item.ID, conflict(err))
	}
	return nil
}

func (s *PostgresStore) SoftDeleteHearing(ctx context.Context, id string, actor *string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE hearings SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2
		WHERE id=$1 AND NOT deleted
	`, id, actor)
	if err != nil {
		return false, fmt.Errorf("delete hearing %s: %w", id, err)
	}
	return affected(result)
}

// HearingLabels maps hearing id to its live labels.
func (s *PostgresStore) HearingLabels(ctx context.Context, hearingIDs []string) (map[string][]Label, error) {
	out := map[string][]Label{}
	if len(hearingIDs) == 0 {
		return out, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT hl.hearing_id, l.id, l.label, `+metaColumns("l")+`
		FROM hearing_labels hl
		JOIN labels l ON l.id = hl.label_id
		WHERE hl.hearing_id = ANY($1) AND NOT l.deleted
		ORDER BY l.id ASC
	`, pq.Array(hearingIDs))
	if err != nil {
		return nil, fmt.Errorf("list hearing labels: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hearingID string
		var item Label
		if err := rows.Scan(append([]any{&hearingID, &item.ID, &item.Label}, item.Meta.targets()...)...); err != nil {
			return nil, fmt.Errorf("scan hearing label: %w", err)
		}
		out[hearingID] = append(out[hearingID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hearing labels: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetHearingLabels(ctx context.Context, hearingID string, labelIDs []int64) error {
	q := s.conn(ctx)
	if _, err := q.ExecContext(ctx, `DELETE FROM hearing_labels WHERE hearing_id=$1`, hearingID); err != nil {
		return fmt.Errorf("clear hearing labels: %w", err)
	}
	for _, labelID := range labelIDs {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO hearing_labels(hearing_id, label_id) VALUES($1, $2) ON CONFLICT DO NOTHING
		`, hearingID, labelID); err != nil {
			return fmt.Errorf("add hearing label: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) HearingContactPersons(ctx context.Context, hearingID string) ([]ContactPerson, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+contactColumns+`, `+metaColumns("c")+`
		FROM hearing_contact_persons hc
		JOIN contact_persons c ON c.id = hc.contact_person_id
		LEFT JOIN organizations o ON o.id = c.organization_id
		WHERE hc.hearing_id=$1 AND NOT c.deleted
		ORDER BY hc.ordering ASC
	`, hearingID)
	if err != nil {
		return nil, fmt.Errorf("list hearing contact persons: %w", err)
	}
	defer rows.Close()
	return collectContacts(rows)
}

// SetHearingContactPersons replaces the ordered contact list.
func (s *PostgresStore) SetHearingContactPersons(ctx context.Context, hearingID string, contactIDs []int64) error {
	q := s.conn(ctx)
	if _, err := q.ExecContext(ctx, `DELETE FROM hearing_contact_persons WHERE hearing_id=$1`, hearingID); err != nil {
		return fmt.Errorf("clear hearing contact persons: %w", err)
	}
	for i, contactID := range contactIDs {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO hearing_contact_persons(hearing_id, contact_person_id, ordering) VALUES($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, hearingID, contactID, i); err != nil {
			return fmt.Errorf("add hearing contact person: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) FollowHearing(ctx context.Context, hearingID, userID string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO hearing_followers(hearing_id, user_id) VALUES($1, $2) ON CONFLICT DO NOTHING
	`, hearingID, userID)
	if err != nil {
		return false, fmt.Errorf("follow hearing %s: %w", hearingID, err)
	}
	return affected(result)
}

func (s *PostgresStore) UnfollowHearing(ctx context.Context, hearingID, userID string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM hearing_followers WHERE hearing_id=$1 AND user_id=$2`, hearingID, userID)
	if err != nil {
		return false, fmt.Errorf("unfollow hearing %s: %w", hearingID, err)
	}
	return affected(result)
}

func (s *PostgresStore) FollowedHearingIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT hearing_id FROM hearing_followers WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list followed hearings: %w", err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan followed hearing: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate followed hearings: %w", err)
	}
	return out, nil
}

// RecacheHearingComments recounts live comments across the hearing's live
// sections.
func (s *PostgresStore) RecacheHearingComments(ctx context.Context, hearingID string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE hearings SET n_comments = (
			SELECT COUNT(*) FROM section_comments c
			JOIN sections sec ON sec.id = c.section_id
			WHERE sec.hearing_id = $1 AND NOT sec.deleted AND NOT c.deleted
		)
		WHERE id=$1
	`, hearingID)
	if err != nil {
		return fmt.Errorf("recache hearing comments %s: %w", hearingID, err)
	}
	return nil
}
