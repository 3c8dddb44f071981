package app

import (
	"context"
	"slices"

	"kerrokantasi/api/internal/store"
)

// validateAnswers checks poll answers against the section's live polls.
// A single-choice poll takes exactly one option.
func (s *Service) validateAnswers(ctx context.Context, sectionID string, inputs *[]AnswerInput) ([]AnswerInput, error) {
	if inputs == nil || len(*inputs) == 0 {
		return nil, nil
	}
	polls, err := s.store.ListPolls(ctx, []string{sectionID}, store.ScopeUnpublished)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]store.Poll, len(polls))
	for _, poll := range polls {
		byID[poll.ID] = poll
	}

	seen := map[int64]bool{}
	answers := make([]AnswerInput, 0, len(*inputs))
	for _, input := range *inputs {
		poll, ok := byID[input.Question]
		if !ok {
			return nil, errValidation("Question does not belong to this section", map[string]any{"question": input.Question})
		}
		if seen[poll.ID] {
			return nil, errValidation("Question answered more than once", map[string]any{"question": poll.ID})
		}
		seen[poll.ID] = true
		if input.Type != "" && input.Type != poll.Type {
			return nil, errValidation("Answer type does not match the question", map[string]any{"question": poll.ID, "type": input.Type})
		}

		options := slices.Clone(input.Answers)
		slices.Sort(options)
		options = slices.Compact(options)
		if len(options) == 0 {
			return nil, errValidation("An answer must choose at least one option", map[string]any{"question": poll.ID})
		}
		if poll.Type == store.PollSingleChoice && len(options) != 1 {
			return nil, errValidation("A single choice question takes exactly one option", map[string]any{"question": poll.ID})
		}
		for _, optionID := range options {
			if !slices.ContainsFunc(poll.Options, func(o store.PollOption) bool { return o.ID == optionID }) {
				return nil, errValidation("Option does not belong to the question", map[string]any{"question": poll.ID, "option": optionID})
			}
		}
		answers = append(answers, AnswerInput{Question: poll.ID, Type: poll.Type, Answers: options})
	}
	return answers, nil
}

// replaceAnswers records a comment's answers. When replacing, earlier
// answers to the same questions are soft-deleted first.
func (s *Service) replaceAnswers(ctx context.Context, actor Actor, commentID int64, answers []AnswerInput, replace bool) error {
	touched := []int64{}
	if replace && len(answers) > 0 {
		pollIDs := make([]int64, 0, len(answers))
		for _, answer := range answers {
			pollIDs = append(pollIDs, answer.Question)
		}
		removed, err := s.store.SoftDeleteCommentAnswers(ctx, commentID, pollIDs, actor.UserID())
		if err != nil {
			return err
		}
		touched = append(touched, removed...)
	}
	for _, answer := range answers {
		for _, optionID := range answer.Answers {
			if err := s.store.InsertPollAnswer(ctx, commentID, optionID, actor.UserID()); err != nil {
				return err
			}
		}
		touched = append(touched, answer.Question)
	}
	if len(touched) == 0 {
		return nil
	}
	slices.Sort(touched)
	return s.store.RecachePolls(ctx, slices.Compact(touched))
}
