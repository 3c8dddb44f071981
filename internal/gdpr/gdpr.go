// Package gdpr removes personal data older than a retention threshold.
package gdpr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kerrokantasi/api/internal/audit"
)

// Step names one stage of the removal pipeline.
type Step string

const (
	StepComments    Step = "comments"
	StepRelated     Step = "related"
	StepVotes       Step = "votes"
	StepPollAnswers Step = "poll-answers"
	StepHearings    Step = "hearings"
	StepRevisions   Step = "revisions"
	StepUsers       Step = "users"
)

// AllSteps in execution order.
var AllSteps = []Step{
	StepComments,
	StepRelated,
	StepVotes,
	StepPollAnswers,
	StepHearings,
	StepRevisions,
	StepUsers,
}

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	AnonymizeOldComments(ctx context.Context, before time.Time) (int64, error)
	AnonymizeOldRelatedObjects(ctx context.Context, before time.Time) (int64, error)
	CollapseOldVotes(ctx context.Context, before time.Time) (int64, error)
	DetachOldPollAnswers(ctx context.Context, before time.Time) (int64, error)
	AnonymizeOldHearings(ctx context.Context, before time.Time) (int64, error)
	DeleteOldCommentRevisions(ctx context.Context, before time.Time) (int64, error)
	DeleteInactiveUsers(ctx context.Context, before time.Time) (int64, error)
	InsertAuditLogEntry(ctx context.Context, message []byte) error
}

type Options struct {
	OlderThanDays int
	// Steps selects the stages to run. Empty runs all of them.
	Steps []Step
}

type Result struct {
	Step     Step
	Affected int64
}

type Pipeline struct {
	store  Store
	logger *slog.Logger
	origin string
	now    func() time.Time
}

func New(store Store, logger *slog.Logger, origin string) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, logger: logger, origin: origin, now: time.Now}
}

// ParseSteps resolves step names. Unknown names are an error.
func ParseSteps(names []string) ([]Step, error) {
	steps := make([]Step, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		step := Step(name)
		if !known(step) {
			return nil, fmt.Errorf("unknown step %q", name)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func known(step Step) bool {
	for _, s := range AllSteps {
		if s == step {
			return true
		}
	}
	return false
}

// Threshold is the instant before which data counts as old.
func (p *Pipeline) Threshold(olderThanDays int) time.Time {
	return p.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
}

// Run executes the selected steps in pipeline order, each in its own
// transaction. It stops at the first failing step; steps already committed
// stay committed and a rerun picks up from there.
func (p *Pipeline) Run(ctx context.Context, opts Options) ([]Result, error) {
	if opts.OlderThanDays <= 0 {
		return nil, fmt.Errorf("older than days must be positive, got %d", opts.OlderThanDays)
	}
	selected := map[Step]bool{}
	for _, step := range opts.Steps {
		if !known(step) {
			return nil, fmt.Errorf("unknown step %q", step)
		}
		selected[step] = true
	}
	before := p.Threshold(opts.OlderThanDays)
	p.logger.Info("removing user data", "before", before.Format(time.RFC3339), "older_than_days", opts.OlderThanDays)

	results := make([]Result, 0, len(AllSteps))
	for _, step := range AllSteps {
		if len(selected) > 0 && !selected[step] {
			continue
		}
		run := p.stepFunc(step)
		var affected int64
		err := p.store.InTx(ctx, func(ctx context.Context) error {
			n, err := run(ctx, before)
			affected = n
			return err
		})
		if err != nil {
			return results, fmt.Errorf("%s: %w", step, err)
		}
		p.logger.Info("user data step done", "step", string(step), "affected", affected)
		results = append(results, Result{Step: step, Affected: affected})
	}

	ids := make([]string, 0, len(results))
	for _, result := range results {
		ids = append(ids, string(result.Step))
	}
	event := audit.NewEvent(p.origin, "SUCCESS", "DELETE", "remove_user_data", audit.Actor{Role: audit.RoleSystem}, ids, p.now())
	if err := audit.Write(ctx, p.store, event); err != nil {
		return results, fmt.Errorf("write audit entry: %w", err)
	}
	return results, nil
}

func (p *Pipeline) stepFunc(step Step) func(context.Context, time.Time) (int64, error) {
	switch step {
	case StepComments:
		return p.store.AnonymizeOldComments
	case StepRelated:
		return p.store.AnonymizeOldRelatedObjects
	case StepVotes:
		return p.store.CollapseOldVotes
	case StepPollAnswers:
		return p.store.DetachOldPollAnswers
	case StepHearings:
		return p.store.AnonymizeOldHearings
	case StepRevisions:
		return p.store.DeleteOldCommentRevisions
	default:
		return p.store.DeleteInactiveUsers
	}
}
