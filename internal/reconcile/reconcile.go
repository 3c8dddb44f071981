// Package reconcile computes how an incoming hearing document maps onto the
// stored tree of sections, images, files, polls and poll options.
//
// Planning is pure: callers snapshot the current tree, ask for a Plan, and
// apply it inside one transaction.
package reconcile

import (
	"errors"
	"fmt"
	"slices"
)

type Mode int

const (
	// ModeCreate builds a new tree; incoming ids are ignored.
	ModeCreate Mode = iota
	// ModeUpdate replaces the stored tree (PUT).
	ModeUpdate
	// ModePatch updates hearing fields only and never touches sections.
	ModePatch
	// ModeSaveAsNew clones the incoming tree under fresh ids.
	ModeSaveAsNew
)

type Action int

const (
	Create Action = iota + 1
	Update
	// Claim attaches a previously uploaded orphan file.
	Claim
)

const (
	SectionTypeMain    = "main"
	SectionTypeClosure = "closure-info"

	// ClosureOrdering keeps the closure section ahead of every other one.
	ClosureOrdering = -10000
)

var ErrSectionsInPatch = errors.New("sections cannot be modified with a partial update")

// ForeignChildError is returned when an incoming child id is not a child of
// the parent it was submitted under.
type ForeignChildError struct {
	Kind     string
	ID       string
	ParentID string
}

func (e *ForeignChildError) Error() string {
	if e.ParentID == "" {
		return fmt.Sprintf("%s %s does not belong to this hearing", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s %s does not belong to %s", e.Kind, e.ID, e.ParentID)
}

// CardinalityError reports a section-type count violation.
type CardinalityError struct {
	Message string
}

func (e *CardinalityError) Error() string { return e.Message }

// Tree is the stored shape of a hearing, by id.
type Tree struct {
	Sections map[string]SectionTree
}

type SectionTree struct {
	Images []string
	Files  []string
	Polls  map[string][]string
}

// Hearing is the incoming document reduced to what planning needs.
type Hearing struct {
	Sections    []Section
	HasSections bool
}

type Section struct {
	ID     string
	Type   string
	Images []Child
	Files  []Child
	Polls  []Poll
}

type Child struct {
	ID          string
	ReferenceID string
	// Orphan marks an uploaded file not yet attached to any section.
	Orphan bool
}

type Poll struct {
	ID      string
	Options []Child
}

// Step is one create or update. Index points back into the incoming list.
type Step struct {
	Action      Action
	Index       int
	ID          string
	Ordering    int
	ReferenceID string
}

type PollStep struct {
	Step
	Options       []Step
	DeleteOptions []string
}

type SectionStep struct {
	Step
	Images       []Step
	DeleteImages []string
	Files        []Step
	DeleteFiles  []string
	Polls        []PollStep
	DeletePolls  []string
}

type Plan struct {
	Mode           Mode
	TouchSections  bool
	Sections       []SectionStep
	DeleteSections []string
}

// Build plans incoming against existing. existing may be nil for creates.
func Build(existing *Tree, incoming Hearing, mode Mode) (*Plan, error) {
	plan := &Plan{Mode: mode}
	if mode == ModePatch {
		if incoming.HasSections {
			return nil, ErrSectionsInPatch
		}
		return plan, nil
	}
	if err := checkCardinality(incoming.Sections); err != nil {
		return nil, err
	}
	plan.TouchSections = true

	current := map[string]SectionTree{}
	if existing != nil && mode == ModeUpdate {
		current = existing.Sections
	}

	kept := map[string]bool{}
	ordering := 0
	for i, section := range incoming.Sections {
		step := SectionStep{Step: Step{Index: i}}
		if section.Type == SectionTypeClosure {
			step.Ordering = ClosureOrdering
		} else {
			ordering++
			step.Ordering = ordering
		}

		var stored SectionTree
		switch {
		case mode == ModeUpdate && section.ID != "":
			tree, ok := current[section.ID]
			if !ok {
				return nil, &ForeignChildError{Kind: "section", ID: section.ID}
			}
			step.Action = Update
			step.ID = section.ID
			stored = tree
			kept[section.ID] = true
		default:
			step.Action = Create
		}

		var err error
		parent := sectionLabel(section.ID)
		step.Images, step.DeleteImages, err = planChildren("image", parent, stored.Images, section.Images, mode)
		if err != nil {
			return nil, err
		}
		step.Files, step.DeleteFiles, err = planChildren("file", parent, stored.Files, section.Files, mode)
		if err != nil {
			return nil, err
		}
		step.Polls, step.DeletePolls, err = planPolls(parent, stored.Polls, section.Polls, mode)
		if err != nil {
			return nil, err
		}
		plan.Sections = append(plan.Sections, step)
	}

	for id := range current {
		if !kept[id] {
			plan.DeleteSections = append(plan.DeleteSections, id)
		}
	}
	slices.Sort(plan.DeleteSections)
	return plan, nil
}

func planChildren(kind, parent string, stored []string, incoming []Child, mode Mode) ([]Step, []string, error) {
	owned := make(map[string]bool, len(stored))
	for _, id := range stored {
		owned[id] = true
	}
	kept := map[string]bool{}
	steps := make([]Step, 0, len(incoming))
	for i, child := range incoming {
		step := Step{Index: i, Ordering: i + 1, ReferenceID: child.ReferenceID}
		switch {
		case mode == ModeSaveAsNew:
			step.Action = Create
			if step.ReferenceID == "" {
				step.ReferenceID = child.ID
			}
		case child.Orphan && child.ID != "":
			step.Action = Claim
			step.ID = child.ID
		case mode == ModeUpdate && child.ID != "":
			if !owned[child.ID] {
				return nil, nil, &ForeignChildError{Kind: kind, ID: child.ID, ParentID: parent}
			}
			step.Action = Update
			step.ID = child.ID
			kept[child.ID] = true
		default:
			step.Action = Create
		}
		steps = append(steps, step)
	}
	var deletes []string
	for _, id := range stored {
		if !kept[id] {
			deletes = append(deletes, id)
		}
	}
	return steps, deletes, nil
}

func planPolls(parent string, stored map[string][]string, incoming []Poll, mode Mode) ([]PollStep, []string, error) {
	kept := map[string]bool{}
	steps := make([]PollStep, 0, len(incoming))
	for i, poll := range incoming {
		step := PollStep{Step: Step{Index: i, Ordering: i + 1}}
		var options []string
		if mode == ModeUpdate && poll.ID != "" {
			existing, ok := stored[poll.ID]
			if !ok {
				return nil, nil, &ForeignChildError{Kind: "poll", ID: poll.ID, ParentID: parent}
			}
			step.Action = Update
			step.ID = poll.ID
			options = existing
			kept[poll.ID] = true
		} else {
			step.Action = Create
		}
		optionSteps, deletes, err := planChildren("poll option", "poll "+poll.ID, options, poll.Options, mode)
		if err != nil {
			return nil, nil, err
		}
		for j := range optionSteps {
			optionSteps[j].ReferenceID = ""
		}
		step.Options = optionSteps
		step.DeleteOptions = deletes
		steps = append(steps, step)
	}
	var deletes []string
	for id := range stored {
		if !kept[id] {
			deletes = append(deletes, id)
		}
	}
	slices.Sort(deletes)
	return steps, deletes, nil
}

func sectionLabel(sectionID string) string {
	if sectionID == "" {
		return "a new section"
	}
	return "section " + sectionID
}

func checkCardinality(sections []Section) error {
	mains, closures := 0, 0
	for _, section := range sections {
		switch section.Type {
		case SectionTypeMain:
			mains++
		case SectionTypeClosure:
			closures++
		}
	}
	if mains != 1 {
		return &CardinalityError{Message: fmt.Sprintf("a hearing must have exactly one main section, got %d", mains)}
	}
	if closures > 1 {
		return &CardinalityError{Message: fmt.Sprintf("a hearing may have at most one closure info section, got %d", closures)}
	}
	return nil
}

