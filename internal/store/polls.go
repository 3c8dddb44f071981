package store

import (
	"context"
	"fmt"

	"github.com/lib/pq"
)

const pollColumns = `p.id, p.section_id, p.type, p.ordering, p.text, p.is_independent_poll, p.n_answers`
const optionColumns = `op.id, op.poll_id, op.ordering, op.text, op.n_answers`

// ListPolls returns the polls of the given sections with their options.
func (s *PostgresStore) ListPolls(ctx context.Context, sectionIDs []string, scope Scope) ([]Poll, error) {
	if len(sectionIDs) == 0 {
		return []Poll{}, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+pollColumns+`, `+metaColumns("p")+`
		FROM section_polls p
		WHERE p.section_id = ANY($1) AND `+scope.condition("p")+`
		ORDER BY p.section_id, p.ordering ASC, p.id ASC
	`, pq.Array(sectionIDs))
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	items := make([]Poll, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		var item Poll
		targets := []any{&item.ID, &item.SectionID, &item.Type, &item.Ordering, &item.Text, &item.IsIndependent, &item.NAnswers}
		if err := rows.Scan(append(targets, item.Meta.targets()...)...); err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		items = append(items, item)
		ids = append(ids, item.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate polls: %w", err)
	}
	options, err := s.optionsByPoll(ctx, ids, scope)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Options = options[items[i].ID]
	}
	return items, nil
}

func (s *PostgresStore) optionsByPoll(ctx context.Context, pollIDs []int64, scope Scope) (map[int64][]PollOption, error) {
	out := map[int64][]PollOption{}
	if len(pollIDs) == 0 {
		return out, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+optionColumns+`, `+metaColumns("op")+`
		FROM section_poll_options op
		WHERE op.poll_id = ANY($1) AND `+scope.condition("op")+`
		ORDER BY op.poll_id, op.ordering ASC, op.id ASC
	`, pq.Array(pollIDs))
	if err != nil {
		return nil, fmt.Errorf("list poll options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item PollOption
		targets := []any{&item.ID, &item.PollID, &item.Ordering, &item.Text, &item.NAnswers}
		if err := rows.Scan(append(targets, item.Meta.targets()...)...); err != nil {
			return nil, fmt.Errorf("scan poll option: %w", err)
		}
		out[item.PollID] = append(out[item.PollID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate poll options: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) InsertPoll(ctx context.Context, item Poll) (Poll, error) {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO section_polls(section_id, type, ordering, text, is_independent_poll, created_by_id, modified_by_id)
		VALUES($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, created_at, modified_at, published
	`, item.SectionID, item.Type, item.Ordering, item.Text, item.IsIndependent, item.CreatedBy).
		Scan(&item.ID, &item.CreatedAt, &item.ModifiedAt, &item.Published)
	if err != nil {
		return Poll{}, fmt.Errorf("insert poll: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdatePoll(ctx context.Context, item Poll) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_polls SET type=$2, ordering=$3, text=$4, is_independent_poll=$5, modified_by_id=$6, modified_at=NOW()
		WHERE id=$1 AND NOT deleted
	`, item.ID, item.Type, item.Ordering, item.Text, item.IsIndependent, item.ModifiedBy)
	if err != nil {
		return fmt.Errorf("update poll %d: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) SoftDeletePoll(ctx context.Context, id int64, actor *string) error {
	q := s.conn(ctx)
	if _, err := q.ExecContext(ctx, `
		UPDATE section_poll_options SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2 WHERE poll_id=$1 AND NOT deleted
	`, id, actor); err != nil {
		return fmt.Errorf("delete poll options %d: %w", id, err)
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE section_polls SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2 WHERE id=$1 AND NOT deleted
	`, id, actor); err != nil {
		return fmt.Errorf("delete poll %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) InsertPollOption(ctx context.Context, item PollOption) (PollOption, error) {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO section_poll_options(poll_id, ordering, text, created_by_id, modified_by_id)
		VALUES($1, $2, $3, $4, $4)
		RETURNING id, created_at, modified_at, published
	`, item.PollID, item.Ordering, item.Text, item.CreatedBy).Scan(&item.ID, &item.CreatedAt, &item.ModifiedAt, &item.Published)
	if err != nil {
		return PollOption{}, fmt.Errorf("insert poll option: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdatePollOption(ctx context.Context, item PollOption) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_poll_options SET ordering=$2, text=$3, modified_by_id=$4, modified_at=NOW()
		WHERE id=$1 AND NOT deleted
	`, item.ID, item.Ordering, item.Text, item.ModifiedBy)
	if err != nil {
		return fmt.Errorf("update poll option %d: %w", item.ID, err)
	}
	return nil
}

func (s *PostgresStore) SoftDeletePollOption(ctx context.Context, id int64, actor *string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE section_poll_options SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=$2 WHERE id=$1 AND NOT deleted
	`, id, actor)
	if err != nil {
		return fmt.Errorf("delete poll option %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) InsertPollAnswer(ctx context.Context, commentID, optionID int64, actor *string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO section_poll_answers(comment_id, option_id, created_by_id, modified_by_id) VALUES($1, $2, $3, $3)
	`, commentID, optionID, actor)
	if err != nil {
		return fmt.Errorf("insert poll answer: %w", err)
	}
	return nil
}

// SoftDeleteCommentAnswers removes the comment's live answers, limited to
// pollIDs when non-empty. It returns the polls that lost answers.
func (s *PostgresStore) SoftDeleteCommentAnswers(ctx context.Context, commentID int64, pollIDs []int64, actor *string) ([]int64, error) {
	w := &where{}
	w.add("a.comment_id = " + w.arg(commentID))
	w.add("NOT a.deleted")
	w.add("a.option_id = op.id")
	if len(pollIDs) > 0 {
		w.add("op.poll_id = ANY(" + w.arg(pq.Array(pollIDs)) + ")")
	}
	actorArg := w.arg(actor)
	query := `
		UPDATE section_poll_answers a SET deleted=TRUE, deleted_at=NOW(), deleted_by_id=` + actorArg + `
		FROM section_poll_options op` + w.String() + `
		RETURNING op.poll_id`
	rows, err := s.conn(ctx).QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("delete comment answers %d: %w", commentID, err)
	}
	defer rows.Close()
	seen := map[int64]bool{}
	out := make([]int64, 0)
	for rows.Next() {
		var pollID int64
		if err := rows.Scan(&pollID); err != nil {
			return nil, fmt.Errorf("scan answered poll: %w", err)
		}
		if !seen[pollID] {
			seen[pollID] = true
			out = append(out, pollID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answered polls: %w", err)
	}
	return out, nil
}

// RecachePolls recounts option answers and the number of distinct
// answering comments per poll. Answers to deleted options stay attached but
// are not counted.
func (s *PostgresStore) RecachePolls(ctx context.Context, pollIDs []int64) error {
	if len(pollIDs) == 0 {
		return nil
	}
	q := s.conn(ctx)
	if _, err := q.ExecContext(ctx, `
		UPDATE section_poll_options op SET n_answers = (
			SELECT COUNT(*) FROM section_poll_answers a WHERE a.option_id = op.id AND NOT a.deleted AND NOT op.deleted
		)
		WHERE op.poll_id = ANY($1)
	`, pq.Array(pollIDs)); err != nil {
		return fmt.Errorf("recache poll options: %w", err)
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE section_polls p SET n_answers = (
			SELECT COUNT(DISTINCT COALESCE(a.comment_id::text, 'answer-' || a.id::text))
			FROM section_poll_answers a
			JOIN section_poll_options op ON op.id = a.option_id
			WHERE op.poll_id = p.id AND NOT op.deleted AND NOT a.deleted
		)
		WHERE p.id = ANY($1)
	`, pq.Array(pollIDs)); err != nil {
		return fmt.Errorf("recache polls: %w", err)
	}
	return nil
}

// CommentAnswers maps comment id to its live answers.
func (s *PostgresStore) CommentAnswers(ctx context.Context, commentIDs []int64) (map[int64][]PollAnswer, error) {
	out := map[int64][]PollAnswer{}
	if len(commentIDs) == 0 {
		return out, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT a.id, a.comment_id, a.option_id, op.poll_id, `+metaColumns("a")+`
		FROM section_poll_answers a
		JOIN section_poll_options op ON op.id = a.option_id
		WHERE a.comment_id = ANY($1) AND NOT a.deleted
		ORDER BY op.poll_id, op.ordering
	`, pq.Array(commentIDs))
	if err != nil {
		return nil, fmt.Errorf("list comment answers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item PollAnswer
		if err := rows.Scan(append([]any{&item.ID, &item.CommentID, &item.OptionID, &item.PollID}, item.Meta.targets()...)...); err != nil {
			return nil, fmt.Errorf("scan comment answer: %w", err)
		}
		if item.CommentID != nil {
			out[*item.CommentID] = append(out[*item.CommentID], item)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comment answers: %w", err)
	}
	return out, nil
}
