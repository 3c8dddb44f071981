package app

import (
	"context"

	"kerrokantasi/api/internal/audit"
	"kerrokantasi/api/internal/rbac"
)

type VoteResult struct {
	NVotes     int  `json:"n_votes"`
	Registered bool `json:"-"`
}

func (s *Service) votableComment(ctx context.Context, actor Actor, id int64) (commentTarget, error) {
	comment, target, err := s.loadComment(ctx, actor, id)
	if err != nil {
		return commentTarget{}, err
	}
	if comment.Deleted {
		return commentTarget{}, errNotFound()
	}
	if decision := rbac.Check(rbac.Normalize(target.section.Voting), actor.subject()); decision != rbac.Allowed {
		return commentTarget{}, errPolicy(decision, rbac.ActionVote)
	}
	if target.hearing.Closed(s.now()) {
		return commentTarget{}, errHearingClosed()
	}
	return target, nil
}

// Vote records a vote on a comment. Anonymous votes only bump a counter;
// a registered user votes at most once.
func (s *Service) Vote(ctx context.Context, actor Actor, id int64) (VoteResult, error) {
	if _, err := s.votableComment(ctx, actor, id); err != nil {
		return VoteResult{}, err
	}
	result := VoteResult{Registered: actor.Authenticated()}
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		comment, err := s.store.LockComment(ctx, id)
		if err != nil {
			return err
		}
		if actor.Authenticated() {
			added, err := s.store.AddVoter(ctx, comment.ID, actor.User.ID)
			if err != nil {
				return err
			}
			if !added {
				return errNotModified()
			}
		} else if err := s.store.IncrementUnregisteredVotes(ctx, comment.ID); err != nil {
			return err
		}
		result.NVotes, err = s.store.RecacheCommentVotes(ctx, comment.ID)
		audit.Track(ctx, comment)
		return err
	})
	return result, err
}

// Unvote withdraws a registered user's vote.
func (s *Service) Unvote(ctx context.Context, actor Actor, id int64) (VoteResult, error) {
	if !actor.Authenticated() {
		return VoteResult{}, errPolicy(rbac.AuthRequired, rbac.ActionVote)
	}
	if _, err := s.votableComment(ctx, actor, id); err != nil {
		return VoteResult{}, err
	}
	result := VoteResult{Registered: true}
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		comment, err := s.store.LockComment(ctx, id)
		if err != nil {
			return err
		}
		removed, err := s.store.RemoveVoter(ctx, comment.ID, actor.User.ID)
		if err != nil {
			return err
		}
		if !removed {
			return errNotModified()
		}
		result.NVotes, err = s.store.RecacheCommentVotes(ctx, comment.ID)
		audit.Track(ctx, comment)
		return err
	})
	return result, err
}

// FlagComment marks a comment for moderator attention.
func (s *Service) FlagComment(ctx context.Context, actor Actor, id int64) error {
	comment, target, err := s.loadComment(ctx, actor, id)
	if err != nil {
		return err
	}
	if comment.Deleted {
		return errNotFound()
	}
	if !target.moderator {
		return errPermissionDenied("Only organization admins can flag comments")
	}
	flagged, err := s.store.FlagComment(ctx, comment.ID, actor.UserID())
	if err != nil {
		return err
	}
	audit.Track(ctx, comment)
	if !flagged {
		return errNotModified()
	}
	return nil
}
