package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// userRefTables carry the shared meta columns and hold no personal data
// beyond who created or touched the row.
var userRefTables = []string{
	"contact_persons",
	"section_poll_answers",
	"projects",
	"project_phases",
	"sections",
	"labels",
	"section_images",
	"section_files",
	"section_polls",
	"section_poll_options",
	"comment_images",
}

func (s *PostgresStore) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *PostgresStore) AnonymizeOldComments(ctx context.Context, before time.Time) (int64, error) {
	return s.exec(ctx, "anonymize comments", `
		UPDATE section_comments
		SET created_by_id = NULL, modified_by_id = NULL, deleted_by_id = NULL,
			author_name = NULL, flagged_by_id = NULL
		WHERE created_at < $1
		  AND (created_by_id IS NOT NULL OR modified_by_id IS NOT NULL OR deleted_by_id IS NOT NULL
			OR author_name IS NOT NULL OR flagged_by_id IS NOT NULL)`, before)
}

func (s *PostgresStore) AnonymizeOldRelatedObjects(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, table := range userRefTables {
		n, err := s.exec(ctx, "anonymize "+table, `
			UPDATE `+table+`
			SET created_by_id = NULL, modified_by_id = NULL, deleted_by_id = NULL
			WHERE created_at < $1
			  AND (created_by_id IS NOT NULL OR modified_by_id IS NOT NULL OR deleted_by_id IS NOT NULL)`, before)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// CollapseOldVotes folds registered voters of old comments into the
// anonymous counter. n_votes stays the same.
func (s *PostgresStore) CollapseOldVotes(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.exec(ctx, "collapse votes", `
		UPDATE section_comments c
		SET n_unregistered_votes = c.n_unregistered_votes + v.voters
		FROM (
			SELECT comment_id, COUNT(*) AS voters
			FROM section_comment_voters
			GROUP BY comment_id
		) v
		WHERE v.comment_id = c.id AND c.created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	if _, err := s.exec(ctx, "clear voters", `
		DELETE FROM section_comment_voters
		WHERE comment_id IN (SELECT id FROM section_comments WHERE created_at < $1)`, before); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresStore) DetachOldPollAnswers(ctx context.Context, before time.Time) (int64, error) {
	return s.exec(ctx, "detach poll answers", `
		UPDATE section_poll_answers a
		SET created_by_id = NULL, modified_by_id = NULL, deleted_by_id = NULL
		FROM section_comments c
		WHERE a.comment_id = c.id AND c.created_at < $1
		  AND (a.created_by_id IS NOT NULL OR a.modified_by_id IS NOT NULL OR a.deleted_by_id IS NOT NULL)`, before)
}

// AnonymizeOldHearings clears user references and contact person links of
// old hearings, then deletes contact persons nobody references anymore.
func (s *PostgresStore) AnonymizeOldHearings(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.exec(ctx, "anonymize hearings", `
		UPDATE hearings
		SET created_by_id = NULL, modified_by_id = NULL, deleted_by_id = NULL
		WHERE created_at < $1
		  AND (created_by_id IS NOT NULL OR modified_by_id IS NOT NULL OR deleted_by_id IS NOT NULL)`, before)
	if err != nil {
		return 0, err
	}
	unlinked, err := s.exec(ctx, "unlink contact persons", `
		DELETE FROM hearing_contact_persons
		WHERE hearing_id IN (SELECT id FROM hearings WHERE created_at < $1)`, before)
	if err != nil {
		return 0, err
	}
	if unlinked > 0 {
		if _, err := s.exec(ctx, "delete contact persons", `
			DELETE FROM contact_persons p
			WHERE NOT EXISTS (SELECT 1 FROM hearing_contact_persons h WHERE h.contact_person_id = p.id)`); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func (s *PostgresStore) DeleteOldCommentRevisions(ctx context.Context, before time.Time) (int64, error) {
	return s.exec(ctx, "delete comment revisions", `
		DELETE FROM comment_revisions
		WHERE comment_id IN (SELECT id FROM section_comments WHERE created_at < $1)`, before)
}

// DeleteInactiveUsers removes users that joined before the threshold and are
// no longer referenced from any content, vote or moderation column.
func (s *PostgresStore) DeleteInactiveUsers(ctx context.Context, before time.Time) (int64, error) {
	tables := append([]string{"hearings", "section_comments"}, userRefTables...)
	var refs []string
	for _, table := range tables {
		refs = append(refs, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %s r WHERE r.created_by_id = u.id OR r.modified_by_id = u.id OR r.deleted_by_id = u.id)", table))
	}
	refs = append(refs,
		"EXISTS (SELECT 1 FROM section_comments r WHERE r.flagged_by_id = u.id)",
		"EXISTS (SELECT 1 FROM section_comment_voters r WHERE r.user_id = u.id)",
		"EXISTS (SELECT 1 FROM comment_revisions r WHERE r.created_by_id = u.id)",
		"EXISTS (SELECT 1 FROM organization_admins r WHERE r.user_id = u.id)",
	)
	query := `
		DELETE FROM users u
		WHERE u.date_joined < $1
		  AND NOT u.is_staff AND NOT u.is_superuser
		  AND NOT (` + strings.Join(refs, " OR ") + `)`
	return s.exec(ctx, "delete inactive users", query, before)
}
