package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

const sectionColumns = `sec.id, sec.hearing_id, sec.ordering, sec.type, sec.title, sec.abstract, sec.content,
	sec.voting, sec.commenting, sec.commenting_map_tools, sec.plugin_identifier, sec.plugin_data,
	sec.plugin_iframe_url, sec.plugin_fullscreen, sec.n_comments`

func scanSection(row interface{ Scan(...any) error }) (Section, error) {
	var item Section
	targets := []any{
		&item.ID, &item.HearingID, &item.Ordering, &item.Type, &item.Title, &item.Abstract, &item.Content,
		&item.Voting, &item.Commenting, &item.CommentingMapTools, &item.PluginIdentifier, &item.PluginData,
		&item.PluginIframeURL, &item.PluginFullscreen, &item.NComments,
	}
	err := row.Scan(append(targets, item.Meta.targets()...)...)
	return item, err
}

func (s *PostgresStore) ListSections(ctx context.Context, hearingID string, scope Scope) ([]Section, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+sectionColumns+`, `+metaColumns("sec")+`
		FROM sections sec
		WHERE sec.hearing_id=$1 AND `+scope.condition("sec")+`
		ORDER BY sec.ordering ASC, sec.created_at ASC
	`, hearingID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	items := make([]Section, 0)
	for rows.Next() {
		item, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return items, nil
}

// GetSection loads a live section.
func (s *PostgresStore) GetSection(ctx context.Context, sectionID string) (Section, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+sectionColumns+`, `+metaColumns("sec")+`
		FROM sections sec
		WHERE sec.id=$1 AND NOT sec.deleted
	`, sectionID)
	item, err := scanSection(row)
	if err != nil {
		return Section{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertSection(ctx context.Context, item Section) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO sections(
			id, hearing_id, ordering, type, title, abstract, content, voting, commenting, commenting_map_tools,
			plugin_identifier, plugin_data, plugin_iframe_url, plugin_fullscreen, published, created_by_id, modified_by_id
		) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)
	`, item.ID, item.HearingID, item.Ordering, item.Type, item.Title, item.Abstract, item.Content, item.Voting, item.Commenting,
		item.CommentingMapTools, item.PluginIdentifier, item.PluginData, item.PluginIframeURL, item.PluginFullscreen, item.Published, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert section %s: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateSection(ctx context.Context, item Section) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE sections SET
			ordering=$2, type=$3, title=$4, abstract=$5, content=$6, voting=$7, commenting=$8, commenting_map_tools=$9,
			plugin_identifier=$10, plugin_data=$11, plugin_iframe_url=$12, plugin_fullscreen=$13, published=$14,
			modified_by_id=$15, modified_at=NOW()
		WHERE id=$1 AND NOT deleted
	`, item.ID, item.Ordering, item.Type, item.Title, item.Abstract, item.Content, item.Voting, item.Commenting,
		item.CommentingMapTools, item.PluginIdentifier, item.PluginData, item.PluginIframeURL, item.PluginFullscreen,
		item.Published, item.ModifiedBy)
	if err != nil {
		return fmt.Errorf("update section %s: %w", item.ID, err)
	}
	return nil
}

// SoftDeleteSection deletes the section together with its images, files,
// polls and poll options.
func (s *PostgresStore) SoftDeleteSection(ctx context.Context, sectionID string, actor *string) error {
	q := s.conn(ctx)
	statements := []string{
		`UPDATE section_poll_options SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2
		 WHERE NOT deleted AND poll_id IN (SELECT id FROM section_polls WHERE section_id=$1)`,
		`UPDATE section_polls SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2 WHERE section_id=$1 AND NOT deleted`,
		`UPDATE section_images SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2 WHERE section_id=$1 AND NOT deleted`,
		`UPDATE section_files SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2 WHERE section_id=$1 AND NOT deleted`,
		`UPDATE sections SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2 WHERE id=$1 AND NOT deleted`,
	}
	for _, statement := range statements {
		if _, err := q.ExecContext(ctx, statement, sectionID, actor); err != nil {
			return fmt.Errorf("delete section %s: %w", sectionID, err)
		}
	}
	return nil
}

// CompactSectionOrdering renumbers live non-closure sections 1..N keeping
// their relative order.
func (s *PostgresStore) CompactSectionOrdering(ctx context.Context, hearingID string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE sections sec SET ordering = ranked.position
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY ordering ASC, created_at ASC) AS position
			FROM sections
			WHERE hearing_id=$1 AND NOT deleted AND type <> 'closure-info'
		) ranked
		WHERE sec.id = ranked.id
	`, hearingID)
	if err != nil {
		return fmt.Errorf("compact sections %s: %w", hearingID, err)
	}
	return nil
}

// RecacheSectionComments recounts live comments on the section.
func (s *PostgresStore) RecacheSectionComments(ctx context.Context, sectionID string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE sections SET n_comments = (
			SELECT COUNT(*) FROM section_comments WHERE section_id=$1 AND NOT deleted
		)
		WHERE id=$1
	`, sectionID)
	if err != nil {
		return fmt.Errorf("recache section comments %s: %w", sectionID, err)
	}
	return nil
}

const imageColumns = `i.id, i.section_id, i.ordering, i.title, i.caption, i.alt_text, i.photographer_name, i.content_type, i.object_key, i.width, i.height`

func scanSectionImage(row interface{ Scan(...any) error }) (SectionImage, error) {
	var item SectionImage
	targets := []any{&item.ID, &item.SectionID, &item.Ordering, &item.Title, &item.Caption, &item.AltText, &item.PhotographerName, &item.ContentType, &item.ObjectKey, &item.Width, &item.Height}
	err := row.Scan(append(targets, item.Meta.targets()...)...)
	return item, err
}

// ListSectionImages returns images of the given sections in display order.
func (s *PostgresStore) ListSectionImages(ctx context.Context, sectionIDs []string, scope Scope) ([]SectionImage, error) {
	if len(sectionIDs) == 0 {
		return []SectionImage{}, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+imageColumns+`, `+metaColumns("i")+`
		FROM section_images i
		WHERE i.section_id = ANY($1) AND `+scope.condition("i")+`
		ORDER BY i.section_id, i.ordering ASC, i.id ASC
	`, pq.Array(sectionIDs))
	if err != nil {
		return nil, fmt.Errorf("list section images: %w", err)
	}
	defer rows.Close()

	items := make([]SectionImage, 0)
	for rows.Next() {
		item, err := scanSectionImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section image: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate section images: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSectionImage(ctx context.Context, id int64) (SectionImage, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+imageColumns+`, `+metaColumns("i")+`
		FROM section_images i WHERE i.id=$1 AND NOT i.deleted
	`, id)
	item, err := scanSectionImage(row)
	if err != nil {
		return SectionImage{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertSectionImage(ctx context.Context, item SectionImage) (SectionImage, error) {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO section_images(section_id, ordering, title, caption, alt_text, photographer_name, content_type, object_key, width, height, published, created_by_id, modified_by_id)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id, created_at, modified_at
	`, item.SectionID, item.Ordering, item.Title, item.Caption, item.AltText, item.PhotographerName, item.ContentType, item.ObjectKey,
		item.Width, item.Height, item.Published, item.CreatedBy).Scan(&item.ID, &item.CreatedAt, &item.ModifiedAt)
	if err != nil {
		return SectionImage{}, fmt.Errorf("insert section image: %w", err)
	}
	return item, nil
}

// UpdateSectionImage rewrites metadata and ordering; the payload is kept
// unless a new object key is supplied.
func (s *PostgresStore) UpdateSectionImage(ctx context.Context, item SectionImage) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_images SET
			ordering=$2, title=$3, caption=$4, alt_text=$5, photographer_name=$6,
			content_type=CASE WHEN $7 <> '' THEN $7 ELSE content_type END,
			object_key=CASE WHEN $8 <> '' THEN $8 ELSE object_key END,
			width=CASE WHEN $8 <> '' THEN $9 ELSE width END,
			height=CASE WHEN $8 <> '' THEN $10 ELSE height END,
			published=$11, modified_by_id=$12, modified_at=NOW()
		WHERE id=$1 AND NOT deleted
	`, item.ID, item.Ordering, item.Title, item.Caption, item.AltText, item.PhotographerName, item.ContentType, item.ObjectKey,
		item.Width, item.Height, item.Published, item.ModifiedBy)
	if err != nil {
		return fmt.Errorf("update section image %d: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteSectionImage(ctx context.Context, id int64, actor *string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_images SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2 WHERE id=$1 AND NOT deleted
	`, id, actor)
	if err != nil {
		return fmt.Errorf("delete section image %d: %w", id, err)
	}
	return nil
}

const fileColumns = `f.id, f.section_id, f.ordering, f.title, f.caption, f.content_type, f.object_key, f.size`

func scanSectionFile(row interface{ Scan(...any) error }) (SectionFile, error) {
	var item SectionFile
	targets := []any{&item.ID, &item.SectionID, &item.Ordering, &item.Title, &item.Caption, &item.ContentType, &item.ObjectKey, &item.Size}
	err := row.Scan(append(targets, item.Meta.targets()...)...)
	return item, err
}

func (s *PostgresStore) ListSectionFiles(ctx context.Context, sectionIDs []string, scope Scope) ([]SectionFile, error) {
	if len(sectionIDs) == 0 {
		return []SectionFile{}, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+fileColumns+`, `+metaColumns("f")+`
		FROM section_files f
		WHERE f.section_id = ANY($1) AND `+scope.condition("f")+`
		ORDER BY f.section_id, f.ordering ASC, f.id ASC
	`, pq.Array(sectionIDs))
	if err != nil {
		return nil, fmt.Errorf("list section files: %w", err)
	}
	defer rows.Close()

	items := make([]SectionFile, 0)
	for rows.Next() {
		item, err := scanSectionFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan section file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate section files: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSectionFile(ctx context.Context, id int64) (SectionFile, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+fileColumns+`, `+metaColumns("f")+`
		FROM section_files f WHERE f.id=$1 AND NOT f.deleted
	`, id)
	item, err := scanSectionFile(row)
	if err != nil {
		return SectionFile{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertSectionFile(ctx context.Context, item SectionFile) (SectionFile, error) {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO section_files(section_id, ordering, title, caption, content_type, object_key, size, published, created_by_id, modified_by_id)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id, created_at, modified_at
	`, item.SectionID, item.Ordering, item.Title, item.Caption, item.ContentType, item.ObjectKey, item.Size, item.Published, item.CreatedBy).
		Scan(&item.ID, &item.CreatedAt, &item.ModifiedAt)
	if err != nil {
		return SectionFile{}, fmt.Errorf("insert section file: %w", err)
	}
	return item, nil
}

// UpdateSectionFile rewrites metadata and ordering and attaches the file to
// sectionID, which claims orphan uploads.
func (s *PostgresStore) UpdateSectionFile(ctx context.Context, item SectionFile) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_files SET
			section_id=$2, ordering=$3, title=$4, caption=$5,
			content_type=CASE WHEN $6 <> '' THEN $6 ELSE content_type END,
			object_key=CASE WHEN $7 <> '' THEN $7 ELSE object_key END,
			size=CASE WHEN $7 <> '' THEN $8 ELSE size END,
			published=$9, modified_by_id=$10, modified_at=NOW()
		WHERE id=$1 AND NOT deleted
	`, item.ID, item.SectionID, item.Ordering, item.Title, item.Caption, item.ContentType, item.ObjectKey, item.Size, item.Published, item.ModifiedBy)
	if err != nil {
		return fmt.Errorf("update section file %d: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteSectionFile(ctx context.Context, id int64, actor *string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_files SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2 WHERE id=$1 AND NOT deleted
	`, id, actor)
	if err != nil {
		return fmt.Errorf("delete section file %d: %w", id, err)
	}
	return nil
}

// ClaimOrphanFiles attaches unowned uploads among fileIDs to sectionID.
func (s *PostgresStore) ClaimOrphanFiles(ctx context.Context, sectionID string, fileIDs []int64) (int64, error) {
	if len(fileIDs) == 0 {
		return 0, nil
	}
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_files SET section_id=$1, modified_at=NOW()
		WHERE id = ANY($2) AND section_id IS NULL AND NOT deleted
	`, sectionID, pq.Array(fileIDs))
	if err != nil {
		return 0, fmt.Errorf("claim orphan files %s: %w", sectionID, err)
	}
	return result.RowsAffected()
}
