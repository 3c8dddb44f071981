package app

import (
	"context"
	"fmt"
	"strconv"

	"kerrokantasi/api/internal/store"
)

// Restore undeletes one soft-deleted row and refreshes what depends on it.
// Images and poll answers removed together with a comment stay deleted.
func (s *Service) Restore(ctx context.Context, table, id string) (bool, error) {
	var (
		restored bool
		comment  *store.Comment
	)
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		restored, err = s.store.Undelete(ctx, table, id)
		if err != nil || !restored {
			return err
		}
		if table != "section_comments" {
			return nil
		}
		commentID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("parse comment id %q: %w", id, err)
		}
		restoredComment, err := s.store.GetComment(ctx, commentID)
		if err != nil {
			return err
		}
		comment = &restoredComment
		return s.recacheCommentCounts(ctx, restoredComment)
	})
	if err != nil || !restored {
		return false, err
	}

	switch {
	case comment != nil:
		if hearing, err := s.store.GetHearing(ctx, comment.HearingID); err == nil {
			s.search.IndexComment(s.commentRecord(*comment, hearing))
		}
	case table == "hearings":
		if hearing, err := s.store.GetHearing(ctx, id); err == nil {
			s.search.IndexHearing(s.hearingRecord(hearing))
		}
	}
	return true, nil
}
