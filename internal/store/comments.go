package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// CommentFilter narrows comment listings. Comments of hearings the caller
// cannot see are always excluded.
type CommentFilter struct {
	Now         time.Time
	Staff       bool
	AdminOrgIDs []int64

	IDs            []int64
	SectionID      string
	HearingID      string
	ParentID       *int64
	TopLevel       bool
	CreatedBy      string
	LabelID        *int64
	Pinned         *bool
	Flagged        *bool
	IncludeDeleted bool
	Since          *time.Time
	Ordering       string
	Limit          int
	Offset         int
}

var commentOrderings = map[string]string{
	"created_at":  "c.pinned DESC, c.created_at ASC",
	"-created_at": "c.pinned DESC, c.created_at DESC",
	"n_votes":     "c.pinned DESC, c.n_votes ASC",
	"-n_votes":    "c.pinned DESC, c.n_votes DESC",
	"popularity":  "c.pinned DESC, (c.n_votes + c.n_comments) DESC, c.created_at DESC",
	"-popularity": "c.pinned DESC, (c.n_votes + c.n_comments) DESC, c.created_at DESC",
}

const commentColumns = `c.id, c.section_id, sec.hearing_id, c.comment_id, c.content, c.author_name, c.plugin_identifier, c.plugin_data,
	c.label_id, c.geojson, c.map_comment_text, c.language_code, c.reply_to, c.pinned, c.edited, c.moderated, c.delete_reason,
	c.flagged_at, c.flagged_by_id, c.organization_id, COALESCE(o.name, ''), c.n_comments, c.n_votes, c.n_unregistered_votes,
	COALESCE(TRIM(u.first_name || ' ' || u.last_name), ''), COALESCE(u.email, '')`

const commentJoins = `
		FROM section_comments c
		JOIN sections sec ON sec.id = c.section_id
		JOIN hearings h ON h.id = sec.hearing_id
		LEFT JOIN organizations o ON o.id = c.organization_id
		LEFT JOIN users u ON u.id = c.created_by_id`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var item Comment
	targets := []any{
		&item.ID, &item.SectionID, &item.HearingID, &item.ParentID, &item.Content, &item.AuthorName, &item.PluginIdentifier, &item.PluginData,
		&item.LabelID, (*[]byte)(&item.GeoJSON), &item.MapCommentText, &item.LanguageCode, &item.ReplyTo, &item.Pinned, &item.Edited, &item.Moderated, &item.DeleteReason,
		&item.FlaggedAt, &item.FlaggedBy, &item.OrganizationID, &item.OrganizationName, &item.NComments, &item.NVotes, &item.NUnregisteredVotes,
		&item.CreatorName, &item.CreatorEmail,
	}
	err := row.Scan(append(targets, item.Meta.targets()...)...)
	return item, err
}

func (s *PostgresStore) ListComments(ctx context.Context, f CommentFilter) ([]Comment, error) {
	w := &where{}
	w.add("NOT sec.deleted")
	w.add("NOT h.deleted")
	if !f.Staff {
		now := w.arg(f.Now)
		orgs := w.arg(pq.Array(f.AdminOrgIDs))
		w.add("((h.published AND h.open_at <= " + now + " AND sec.published) OR h.organization_id = ANY(" + orgs + "))")
	}
	if !f.IncludeDeleted {
		w.add("NOT c.deleted")
	}
	if len(f.IDs) > 0 {
		w.add("c.id = ANY(" + w.arg(pq.Array(f.IDs)) + ")")
	}
	if f.SectionID != "" {
		w.add("c.section_id = " + w.arg(f.SectionID))
	}
	if f.HearingID != "" {
		w.add("sec.hearing_id = " + w.arg(f.HearingID))
	}
	if f.ParentID != nil {
		w.add("c.comment_id = " + w.arg(*f.ParentID))
	} else if f.TopLevel {
		w.add("c.comment_id IS NULL")
	}
	if f.CreatedBy != "" {
		w.add("c.created_by_id = " + w.arg(f.CreatedBy))
	}
	if f.LabelID != nil {
		w.add("c.label_id = " + w.arg(*f.LabelID))
	}
	if f.Pinned != nil {
		w.add("c.pinned = " + w.arg(*f.Pinned))
	}
	if f.Flagged != nil {
		if *f.Flagged {
			w.add("c.flagged_at IS NOT NULL")
		} else {
			w.add("c.flagged_at IS NULL")
		}
	}
	if f.Since != nil {
		w.add("c.created_at >= " + w.arg(*f.Since))
	}
	order, ok := commentOrderings[f.Ordering]
	if !ok {
		order = commentOrderings["-created_at"]
	}

	query := `SELECT ` + commentColumns + `, ` + metaColumns("c") + commentJoins + w.String() + ` ORDER BY ` + order + `, c.id ASC`
	query += limitOffset(w, f.Limit, f.Offset)

	rows, err := s.conn(ctx).QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		item, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// GetComment loads a comment in any deletion state.
func (s *PostgresStore) GetComment(ctx context.Context, id int64) (Comment, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+commentColumns+`, `+metaColumns("c")+commentJoins+` WHERE c.id=$1`, id)
	item, err := scanComment(row)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

// LockComment takes a row lock on the comment for the surrounding
// transaction and returns its current state.
func (s *PostgresStore) LockComment(ctx context.Context, id int64) (Comment, error) {
	if _, err := s.conn(ctx).ExecContext(ctx, `SELECT id FROM section_comments WHERE id=$1 FOR UPDATE`, id); err != nil {
		return Comment{}, fmt.Errorf("lock comment %d: %w", id, err)
	}
	return s.GetComment(ctx, id)
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) (Comment, error) {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO section_comments(
			section_id, comment_id, content, author_name, plugin_identifier, plugin_data, label_id, geojson,
			map_comment_text, language_code, reply_to, pinned, organization_id, created_by_id, modified_by_id
		) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING id, created_at, modified_at, published
	`, item.SectionID, item.ParentID, item.Content, item.AuthorName, item.PluginIdentifier, item.PluginData, item.LabelID, nullJSON(item.GeoJSON),
		item.MapCommentText, item.LanguageCode, item.ReplyTo, item.Pinned, item.OrganizationID, item.CreatedBy).
		Scan(&item.ID, &item.CreatedAt, &item.ModifiedAt, &item.Published)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateComment(ctx context.Context, item Comment) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_comments SET
			content=$2, author_name=$3, plugin_data=$4, label_id=$5, geojson=$6, map_comment_text=$7, language_code=$8,
			reply_to=$9, pinned=$10, edited=$11, moderated=$12, organization_id=$13, modified_by_id=$14, modified_at=NOW()
		WHERE id=$1 AND NOT deleted
	`, item.ID, item.Content, item.AuthorName, item.PluginData, item.LabelID, nullJSON(item.GeoJSON), item.MapCommentText, item.LanguageCode,
		item.ReplyTo, item.Pinned, item.Edited, item.Moderated, item.OrganizationID, item.ModifiedBy)
	if err != nil {
		return fmt.Errorf("update comment %d: %w", item.ID, err)
	}
	return nil
}

// SoftDeleteComment marks the comment deleted. User content stays in the
// row so an undelete brings it back; reads redact it.
func (s *PostgresStore) SoftDeleteComment(ctx context.Context, id int64, moderated bool, reason string, actor *string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_comments SET
			deleted=TRUE, deleted_at=NOW(), deleted_by_id=$4,
			moderated=$2, delete_reason=$3
		WHERE id=$1 AND NOT deleted
	`, id, moderated, reason, actor)
	if err != nil {
		return false, fmt.Errorf("delete comment %d: %w", id, err)
	}
	return affected(result)
}

// RecacheCommentReplies recounts live replies to parentID.
func (s *PostgresStore) RecacheCommentReplies(ctx context.Context, parentID int64) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_comments SET n_comments = (
			SELECT COUNT(*) FROM section_comments r WHERE r.comment_id=$1 AND NOT r.deleted
		)
		WHERE id=$1
	`, parentID)
	if err != nil {
		return fmt.Errorf("recache replies %d: %w", parentID, err)
	}
	return nil
}

func (s *PostgresStore) AddVoter(ctx context.Context, commentID int64, userID string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO section_comment_voters(comment_id, user_id) VALUES($1, $2) ON CONFLICT DO NOTHING
	`, commentID, userID)
	if err != nil {
		return false, fmt.Errorf("add voter %d: %w", commentID, err)
	}
	return affected(result)
}

func (s *PostgresStore) RemoveVoter(ctx context.Context, commentID int64, userID string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM section_comment_voters WHERE comment_id=$1 AND user_id=$2`, commentID, userID)
	if err != nil {
		return false, fmt.Errorf("remove voter %d: %w", commentID, err)
	}
	return affected(result)
}

func (s *PostgresStore) IncrementUnregisteredVotes(ctx context.Context, commentID int64) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_comments SET n_unregistered_votes = n_unregistered_votes + 1 WHERE id=$1
	`, commentID)
	if err != nil {
		return fmt.Errorf("count anonymous vote %d: %w", commentID, err)
	}
	return nil
}

// RecacheCommentVotes sets n_votes to registered voters plus anonymous votes.
func (s *PostgresStore) RecacheCommentVotes(ctx context.Context, commentID int64) (int, error) {
	var n int
	err := s.conn(ctx).QueryRowContext(ctx, `
		UPDATE section_comments SET n_votes = n_unregistered_votes + (
			SELECT COUNT(*) FROM section_comment_voters v WHERE v.comment_id=$1
		)
		WHERE id=$1
		RETURNING n_votes
	`, commentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("recache votes %d: %w", commentID, err)
	}
	return n, nil
}

// VotedCommentIDs returns which of commentIDs the user has voted for.
func (s *PostgresStore) VotedCommentIDs(ctx context.Context, userID string, commentIDs []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	if userID == "" || len(commentIDs) == 0 {
		return out, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT comment_id FROM section_comment_voters WHERE user_id=$1 AND comment_id = ANY($2)
	`, userID, pq.Array(commentIDs))
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return out, nil
}

// FlagComment marks the comment flagged once; later flags are no-ops.
func (s *PostgresStore) FlagComment(ctx context.Context, id int64, userID *string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_comments SET flagged_at=NOW(), flagged_by_id=$2
		WHERE id=$1 AND flagged_at IS NULL AND NOT deleted
	`, id, userID)
	if err != nil {
		return false, fmt.Errorf("flag comment %d: %w", id, err)
	}
	return affected(result)
}

const commentImageColumns = `ci.id, ci.comment_id, ci.title, ci.caption, ci.content_type, ci.object_key, ci.width, ci.height`

func scanCommentImage(row interface{ Scan(...any) error }) (CommentImage, error) {
	var item CommentImage
	targets := []any{&item.ID, &item.CommentID, &item.Title, &item.Caption, &item.ContentType, &item.ObjectKey, &item.Width, &item.Height}
	err := row.Scan(append(targets, item.Meta.targets()...)...)
	return item, err
}

func (s *PostgresStore) ListCommentImages(ctx context.Context, commentIDs []int64) (map[int64][]CommentImage, error) {
	out := map[int64][]CommentImage{}
	if len(commentIDs) == 0 {
		return out, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+commentImageColumns+`, `+metaColumns("ci")+`
		FROM comment_images ci
		WHERE ci.comment_id = ANY($1) AND NOT ci.deleted
		ORDER BY ci.comment_id, ci.id ASC
	`, pq.Array(commentIDs))
	if err != nil {
		return nil, fmt.Errorf("list comment images: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanCommentImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment image: %w", err)
		}
		out[item.CommentID] = append(out[item.CommentID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comment images: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetCommentImage(ctx context.Context, id int64) (CommentImage, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+commentImageColumns+`, `+metaColumns("ci")+` FROM comment_images ci WHERE ci.id=$1 AND NOT ci.deleted
	`, id)
	item, err := scanCommentImage(row)
	if err != nil {
		return CommentImage{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCommentImage(ctx context.Context, item CommentImage) (CommentImage, error) {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO comment_images(comment_id, title, caption, content_type, object_key, width, height, created_by_id, modified_by_id)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id, created_at, modified_at, published
	`, item.CommentID, item.Title, item.Caption, item.ContentType, item.ObjectKey, item.Width, item.Height, item.CreatedBy).
		Scan(&item.ID, &item.CreatedAt, &item.ModifiedAt, &item.Published)
	if err != nil {
		return CommentImage{}, fmt.Errorf("insert comment image: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) SoftDeleteCommentImages(ctx context.Context, commentID int64, actor *string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE comment_images SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2 WHERE comment_id=$1 AND NOT deleted
	`, commentID, actor)
	if err != nil {
		return fmt.Errorf("delete comment images %d: %w", commentID, err)
	}
	return nil
}

func (s *PostgresStore) InsertCommentRevision(ctx context.Context, item CommentRevision) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO comment_revisions(comment_id, snapshot, created_by_id) VALUES($1, $2, $3)
	`, item.CommentID, string(item.Snapshot), item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert comment revision %d: %w", item.CommentID, err)
	}
	return nil
}

func (s *PostgresStore) ListCommentRevisions(ctx context.Context, commentID int64) ([]CommentRevision, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, comment_id, snapshot, created_at, created_by_id
		FROM comment_revisions WHERE comment_id=$1 ORDER BY created_at ASC, id ASC
	`, commentID)
	if err != nil {
		return nil, fmt.Errorf("list comment revisions: %w", err)
	}
	defer rows.Close()
	items := make([]CommentRevision, 0)
	for rows.Next() {
		var item CommentRevision
		if err := rows.Scan(&item.ID, &item.CommentID, (*[]byte)(&item.Snapshot), &item.CreatedAt, &item.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan comment revision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comment revisions: %w", err)
	}
	return items, nil
}
