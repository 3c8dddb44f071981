package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"kerrokantasi/api/internal/audit"
	"kerrokantasi/api/internal/geo"
	"kerrokantasi/api/internal/media"
	"kerrokantasi/api/internal/rbac"
	"kerrokantasi/api/internal/reconcile"
	"kerrokantasi/api/internal/store"
	"kerrokantasi/api/internal/translation"
	"kerrokantasi/api/internal/util"
)

const defaultHearingDuration = 30 * 24 * time.Hour

var (
	sectionTypes = map[string]bool{
		reconcile.SectionTypeMain:    true,
		"part":                       true,
		"scenario":                   true,
		reconcile.SectionTypeClosure: true,
	}
	mapToolModes = map[string]bool{"none": true, "marker": true, "all": true}
	pollTypes    = map[string]bool{store.PollSingleChoice: true, store.PollMultipleChoice: true}

	fileURLPattern = regexp.MustCompile(`/v1/download/sectionfile/(\d+)`)
)

// hearingWrite is a validated hearing document ready to be applied.
type hearingWrite struct {
	hearing  store.Hearing
	isNew    bool
	labels   *[]int64
	contacts *[]int64
	project  *projectWrite
	plan     *reconcile.Plan
	sections []sectionWrite
}

type projectWrite struct {
	clear   bool
	project store.Project
	isNew   bool
	phases  []phaseWrite
	deletes []int64
}

type phaseWrite struct {
	phase  store.ProjectPhase
	isNew  bool
	active bool
}

type sectionWrite struct {
	section store.Section
	images  []imageWrite
	files   []fileWrite
	polls   []pollWrite
}

type imageWrite struct {
	image    store.SectionImage
	payload  *media.Payload
	copyFrom string
}

type fileWrite struct {
	file     store.SectionFile
	payload  *media.Payload
	copyFrom string
}

type pollWrite struct {
	poll    store.Poll
	options []store.PollOption
}

// existingTree indexes the stored content of a hearing by id.
type existingTree struct {
	sections map[string]store.Section
	images   map[int64]store.SectionImage
	files    map[int64]store.SectionFile
	polls    map[int64]store.Poll
	options  map[int64]store.PollOption
	shape    *reconcile.Tree
}

// CreateHearing writes a new hearing tree. Images and files that carry a
// reference_id copy the referenced payloads into the new hearing.
func (s *Service) CreateHearing(ctx context.Context, actor Actor, input HearingInput) (HearingView, error) {
	if err := requireAdmin(actor); err != nil {
		return HearingView{}, err
	}
	mode := reconcile.ModeCreate
	if referencesExisting(input) {
		mode = reconcile.ModeSaveAsNew
	}

	hearing := store.Hearing{ID: util.NewID("")}
	if input.ID != nil && strings.TrimSpace(*input.ID) != "" {
		id := strings.TrimSpace(*input.ID)
		exists, err := s.store.HearingExists(ctx, id)
		if err != nil {
			return HearingView{}, err
		}
		if exists {
			return HearingView{}, errValidation("A hearing with this id already exists", map[string]any{"field": "id"})
		}
		hearing.ID = id
	}
	hearing.CreatedBy = actor.UserID()
	hearing.ModifiedBy = actor.UserID()
	if org := actor.primaryOrganization(); org != nil {
		hearing.OrganizationID = &org.ID
		hearing.OrganizationName = org.Name
	}

	write, err := s.prepareHearing(ctx, actor, hearing, nil, input, mode)
	if err != nil {
		return HearingView{}, err
	}
	write.isNew = true
	return s.applyHearing(ctx, actor, write)
}

// UpdateHearing replaces (PUT) or patches the stored hearing. Patches merge
// translations and may not carry sections.
func (s *Service) UpdateHearing(ctx context.Context, actor Actor, idOrSlug string, input HearingInput, partial bool) (HearingView, error) {
	if err := requireAdmin(actor); err != nil {
		return HearingView{}, err
	}
	hearing, _, err := s.findHearing(ctx, actor, idOrSlug, "")
	if err != nil {
		return HearingView{}, err
	}
	if !actor.AdminOf(hearing.OrganizationID) {
		return HearingView{}, errPermissionDenied("Only admins of the hearing's organization can edit it")
	}
	if input.ID != nil && *input.ID != "" && *input.ID != hearing.ID {
		return HearingView{}, errImmutableField("id")
	}

	mode := reconcile.ModeUpdate
	if partial {
		mode = reconcile.ModePatch
	}
	var existing *existingTree
	if mode == reconcile.ModeUpdate {
		existing, err = s.loadExistingTree(ctx, hearing.ID)
		if err != nil {
			return HearingView{}, err
		}
	}
	hearing.ModifiedBy = actor.UserID()
	write, err := s.prepareHearing(ctx, actor, hearing, existing, input, mode)
	if err != nil {
		return HearingView{}, err
	}
	return s.applyHearing(ctx, actor, write)
}

func requireAdmin(actor Actor) error {
	if !actor.Authenticated() {
		return errUnauthorized()
	}
	if !actor.IsAdmin() {
		return errPermissionDenied("Only organization admins can write hearings")
	}
	return nil
}

func referencesExisting(input HearingInput) bool {
	if input.Sections == nil {
		return false
	}
	for _, section := range *input.Sections {
		for _, image := range section.Images {
			if image.ReferenceID != "" {
				return true
			}
		}
		for _, file := range section.Files {
			if file.ReferenceID != "" {
				return true
			}
		}
	}
	return false
}

func (s *Service) loadExistingTree(ctx context.Context, hearingID string) (*existingTree, error) {
	tree, err := s.loadSectionTree(ctx, hearingID, store.ScopeUnpublished)
	if err != nil {
		return nil, err
	}
	out := &existingTree{
		sections: map[string]store.Section{},
		images:   map[int64]store.SectionImage{},
		files:    map[int64]store.SectionFile{},
		polls:    map[int64]store.Poll{},
		options:  map[int64]store.PollOption{},
		shape:    &reconcile.Tree{Sections: map[string]reconcile.SectionTree{}},
	}
	for _, section := range tree.sections {
		out.sections[section.ID] = section
		shape := reconcile.SectionTree{Polls: map[string][]string{}}
		for _, image := range tree.images[section.ID] {
			out.images[image.ID] = image
			shape.Images = append(shape.Images, strconv.FormatInt(image.ID, 10))
		}
		for _, file := range tree.files[section.ID] {
			out.files[file.ID] = file
			shape.Files = append(shape.Files, strconv.FormatInt(file.ID, 10))
		}
		for _, poll := range tree.polls[section.ID] {
			out.polls[poll.ID] = poll
			options := make([]string, 0, len(poll.Options))
			for _, option := range poll.Options {
				out.options[option.ID] = option
				options = append(options, strconv.FormatInt(option.ID, 10))
			}
			shape.Polls[strconv.FormatInt(poll.ID, 10)] = options
		}
		out.shape.Sections[section.ID] = shape
	}
	return out, nil
}

// prepareHearing validates the whole document before anything is written.
func (s *Service) prepareHearing(ctx context.Context, actor Actor, hearing store.Hearing, existing *existingTree, input HearingInput, mode reconcile.Mode) (*hearingWrite, error) {
	partial := mode == reconcile.ModePatch
	write := &hearingWrite{hearing: hearing}
	h := &write.hearing

	var err error
	if h.Title, err = s.mergeText("title", h.Title, input.Title, partial); err != nil {
		return nil, err
	}
	if !h.Title.HasContent() {
		return nil, errValidation("Title must be given in at least one language", map[string]any{"field": "title"})
	}
	if h.Abstract, err = s.mergeText("abstract", h.Abstract, input.Abstract, partial); err != nil {
		return nil, err
	}
	if h.Borough, err = s.mergeText("borough", h.Borough, input.Borough, partial); err != nil {
		return nil, err
	}

	if input.Slug != nil {
		h.Slug = strings.TrimSpace(*input.Slug)
	}
	if h.Slug == "" {
		h.Slug = h.ID
	}
	taken, err := s.store.SlugTaken(ctx, h.Slug, h.ID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, errValidation("Slug is already in use", map[string]any{"field": "slug", "slug": h.Slug})
	}

	if input.OpenAt != nil {
		h.OpenAt = *input.OpenAt
	}
	if h.OpenAt.IsZero() {
		h.OpenAt = s.now()
	}
	if input.CloseAt != nil {
		h.CloseAt = *input.CloseAt
	}
	if h.CloseAt.IsZero() {
		h.CloseAt = h.OpenAt.Add(defaultHearingDuration)
	}
	if h.CloseAt.Before(h.OpenAt) {
		return nil, errValidation("close_at must not be before open_at", map[string]any{"field": "close_at"})
	}
	if input.Published != nil {
		h.Published = *input.Published
	}
	if input.ForceClosed != nil {
		h.ForceClosed = *input.ForceClosed
	}
	if input.ServicemapURL != nil {
		h.ServicemapURL = *input.ServicemapURL
	}

	if len(input.GeoJSON) > 0 {
		if err := setGeometry(h, input.GeoJSON); err != nil {
			return nil, err
		}
	}

	if input.Organization != nil {
		name := strings.TrimSpace(*input.Organization)
		if name == "" {
			if !actor.Staff() {
				return nil, errPermissionDenied("Only staff can detach a hearing from its organization")
			}
			h.OrganizationID = nil
			h.OrganizationName = ""
		} else {
			org, err := s.store.GetOrganizationByName(ctx, name)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, errValidation("Unknown organization", map[string]any{"field": "organization", "organization": name})
				}
				return nil, err
			}
			if !actor.AdminOf(&org.ID) {
				return nil, errPermissionDenied("You are not an admin of " + org.Name)
			}
			h.OrganizationID = &org.ID
			h.OrganizationName = org.Name
		}
	}

	if input.Labels != nil {
		ids, err := s.refIDs(ctx, "labels", *input.Labels, s.store.ExistingLabelIDs)
		if err != nil {
			return nil, err
		}
		write.labels = &ids
	}
	if input.ContactPersons != nil {
		ids, err := s.refIDs(ctx, "contact_persons", *input.ContactPersons, s.store.ExistingContactPersonIDs)
		if err != nil {
			return nil, err
		}
		write.contacts = &ids
	}

	if len(input.Project) > 0 {
		project, err := s.prepareProject(ctx, actor, h.ID, input.Project)
		if err != nil {
			return nil, err
		}
		write.project = project
	}

	if mode == reconcile.ModeUpdate && input.Sections == nil {
		write.plan = &reconcile.Plan{Mode: mode}
		return write, nil
	}
	incoming, err := s.reconcileInput(ctx, input)
	if err != nil {
		return nil, err
	}
	var shape *reconcile.Tree
	if existing != nil {
		shape = existing.shape
	}
	plan, err := reconcile.Build(shape, incoming, mode)
	if err != nil {
		return nil, err
	}
	write.plan = plan
	if plan.TouchSections {
		write.sections, err = s.prepareSections(ctx, actor, h.ID, existing, *input.Sections, plan)
		if err != nil {
			return nil, err
		}
	}
	return write, nil
}

// mergeText applies an incoming translated field over the stored value.
// Absent fields keep the stored value.
func (s *Service) mergeText(field string, existing translation.Text, raw json.RawMessage, partial bool) (translation.Text, error) {
	if len(raw) == 0 {
		return existing, nil
	}
	parsed, err := s.languages.Parse(raw)
	if err != nil {
		return nil, translationError(field, err)
	}
	merged, err := s.languages.Merge(existing, parsed, partial)
	if err != nil {
		return nil, translationError(field, err)
	}
	return merged, nil
}

func (s *Service) parseText(field string, raw json.RawMessage) (translation.Text, error) {
	return s.mergeText(field, translation.Text{}, raw, false)
}

func setGeometry(h *store.Hearing, raw json.RawMessage) error {
	shape, err := geo.Parse(raw)
	if err != nil {
		return err
	}
	if shape == nil {
		h.GeoJSON = nil
		h.Geometry = nil
		h.BBox = nil
		return nil
	}
	geometry, err := shape.GeometryJSON()
	if err != nil {
		return errInvalidGeoJSON(err.Error())
	}
	h.GeoJSON = shape.Raw
	h.Geometry = geometry
	h.BBox = nil
	if bound, ok := shape.Bound(); ok {
		h.BBox = &store.BBox{MinLon: bound.Min.Lon(), MinLat: bound.Min.Lat(), MaxLon: bound.Max.Lon(), MaxLat: bound.Max.Lat()}
	}
	return nil
}

func (s *Service) refIDs(ctx context.Context, field string, refs []idRef, existing func(context.Context, []int64) (map[int64]bool, error)) ([]int64, error) {
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		id, ok := ref.ID.Int64()
		if !ok {
			return nil, errValidation("Invalid id", map[string]any{"field": field, "id": ref.ID.String()})
		}
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	found, err := existing(ctx, ids)
	if err != nil {
		return nil, err
	}
	var missing []int64
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, errValidation("Unknown ids", map[string]any{"field": field, "ids": missing})
	}
	return ids, nil
}

// prepareProject diffs the incoming project's phases against the stored
// ones. Phases still used by other hearings cannot be removed.
func (s *Service) prepareProject(ctx context.Context, actor Actor, hearingID string, raw json.RawMessage) (*projectWrite, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return &projectWrite{clear: true}, nil
	}
	var input ProjectInput
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, errValidation("Invalid project", map[string]any{"field": "project"})
	}
	title, err := s.parseText("project.title", input.Title)
	if err != nil {
		return nil, err
	}
	write := &projectWrite{}
	stored := map[int64]store.ProjectPhase{}
	if id, ok := input.ID.Int64(); ok {
		project, err := s.store.GetProject(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errValidation("Unknown project", map[string]any{"field": "project", "id": id})
			}
			return nil, err
		}
		for _, phase := range project.Phases {
			stored[phase.ID] = phase
		}
		write.project = project
		write.project.Title, err = s.languages.Merge(project.Title, title, false)
		if err != nil {
			return nil, translationError("project.title", err)
		}
		write.project.ModifiedBy = actor.UserID()
	} else if input.ID != "" {
		return nil, errValidation("Invalid project id", map[string]any{"field": "project"})
	} else {
		write.isNew = true
		write.project = store.Project{Title: title}
		write.project.CreatedBy = actor.UserID()
		write.project.ModifiedBy = actor.UserID()
	}

	kept := map[int64]bool{}
	for i, phaseInput := range input.Phases {
		phase := store.ProjectPhase{ProjectID: write.project.ID, Ordering: i + 1}
		isNew := true
		if id, ok := phaseInput.ID.Int64(); ok {
			current, found := stored[id]
			if !found {
				return nil, &reconcile.ForeignChildError{Kind: "project phase", ID: phaseInput.ID.String(), ParentID: "project"}
			}
			phase = current
			phase.Ordering = i + 1
			phase.ModifiedBy = actor.UserID()
			kept[id] = true
			isNew = false
		} else {
			phase.CreatedBy = actor.UserID()
			phase.ModifiedBy = actor.UserID()
		}
		if phase.Title, err = s.parseText("project.phases.title", phaseInput.Title); err != nil {
			return nil, err
		}
		if phase.Description, err = s.parseText("project.phases.description", phaseInput.Description); err != nil {
			return nil, err
		}
		if phase.Schedule, err = s.parseText("project.phases.schedule", phaseInput.Schedule); err != nil {
			return nil, err
		}
		write.phases = append(write.phases, phaseWrite{phase: phase, isNew: isNew, active: phaseInput.IsActive})
	}

	for id := range stored {
		if !kept[id] {
			write.deletes = append(write.deletes, id)
		}
	}
	slices.Sort(write.deletes)
	if len(write.deletes) > 0 {
		inUse, err := s.store.PhasesInUse(ctx, write.deletes, hearingID)
		if err != nil {
			return nil, err
		}
		var blocked []int64
		for _, id := range write.deletes {
			if inUse[id] {
				blocked = append(blocked, id)
			}
		}
		if len(blocked) > 0 {
			return nil, errPhaseInUse(blocked)
		}
	}
	return write, nil
}

// reconcileInput reduces the incoming sections to the shape the planner
// needs, marking uploaded files that no section owns yet.
func (s *Service) reconcileInput(ctx context.Context, input HearingInput) (reconcile.Hearing, error) {
	if input.Sections == nil {
		return reconcile.Hearing{}, nil
	}
	out := reconcile.Hearing{HasSections: true}
	for _, section := range *input.Sections {
		shaped := reconcile.Section{ID: section.ID, Type: section.Type}
		for _, image := range section.Images {
			shaped.Images = append(shaped.Images, reconcile.Child{ID: image.ID.String(), ReferenceID: image.ReferenceID.String()})
		}
		for _, file := range section.Files {
			child := reconcile.Child{ID: file.ID.String(), ReferenceID: file.ReferenceID.String()}
			if id, ok := file.ID.Int64(); ok {
				stored, err := s.store.GetSectionFile(ctx, id)
				switch {
				case err == nil:
					child.Orphan = stored.SectionID == nil
				case !errors.Is(err, sql.ErrNoRows):
					return reconcile.Hearing{}, err
				}
			}
			shaped.Files = append(shaped.Files, child)
		}
		for _, poll := range section.Questions {
			shapedPoll := reconcile.Poll{ID: poll.ID.String()}
			for _, option := range poll.Options {
				shapedPoll.Options = append(shapedPoll.Options, reconcile.Child{ID: option.ID.String()})
			}
			shaped.Polls = append(shaped.Polls, shapedPoll)
		}
		out.Sections = append(out.Sections, shaped)
	}
	return out, nil
}

func (s *Service) prepareSections(ctx context.Context, actor Actor, hearingID string, existing *existingTree, inputs []SectionInput, plan *reconcile.Plan) ([]sectionWrite, error) {
	writes := make([]sectionWrite, 0, len(plan.Sections))
	for _, step := range plan.Sections {
		input := inputs[step.Index]
		var section store.Section
		if step.Action == reconcile.Update {
			section = existing.sections[step.ID]
			section.ModifiedBy = actor.UserID()
		} else {
			section = store.Section{
				ID:                 util.NewID(""),
				HearingID:          hearingID,
				Commenting:         string(rbac.PolicyNone),
				Voting:             string(rbac.PolicyRegistered),
				CommentingMapTools: "none",
			}
			section.Published = true
			section.CreatedBy = actor.UserID()
			section.ModifiedBy = actor.UserID()
		}
		section.Ordering = step.Ordering
		if err := s.applySectionFields(&section, input); err != nil {
			return nil, err
		}

		write := sectionWrite{section: section}
		var err error
		if write.images, err = s.prepareImages(ctx, actor, existing, input.Images, step.Images); err != nil {
			return nil, err
		}
		if write.files, err = s.prepareFiles(ctx, actor, existing, input.Files, step.Files); err != nil {
			return nil, err
		}
		if write.polls, err = s.preparePolls(actor, existing, input.Questions, step.Polls); err != nil {
			return nil, err
		}
		writes = append(writes, write)
	}
	return writes, nil
}

func (s *Service) applySectionFields(section *store.Section, input SectionInput) error {
	if !sectionTypes[input.Type] {
		return errValidation("Unknown section type", map[string]any{"field": "type", "type": input.Type})
	}
	section.Type = input.Type
	var err error
	if section.Title, err = s.parseText("sections.title", input.Title); err != nil {
		return err
	}
	if section.Abstract, err = s.parseText("sections.abstract", input.Abstract); err != nil {
		return err
	}
	if section.Content, err = s.parseText("sections.content", input.Content); err != nil {
		return err
	}
	if input.Commenting != nil {
		if !rbac.Valid(*input.Commenting) {
			return errValidation("Unknown commenting policy", map[string]any{"field": "commenting", "value": *input.Commenting})
		}
		section.Commenting = *input.Commenting
	}
	if input.Voting != nil {
		if !rbac.Valid(*input.Voting) {
			return errValidation("Unknown voting policy", map[string]any{"field": "voting", "value": *input.Voting})
		}
		section.Voting = *input.Voting
	}
	if input.CommentingMapTools != nil {
		if !mapToolModes[*input.CommentingMapTools] {
			return errValidation("Unknown map tools mode", map[string]any{"field": "commenting_map_tools"})
		}
		section.CommentingMapTools = *input.CommentingMapTools
	}
	if input.PluginIdentifier != nil {
		section.PluginIdentifier = *input.PluginIdentifier
	}
	if input.PluginData != nil {
		section.PluginData = *input.PluginData
	}
	if input.PluginIframeURL != nil {
		section.PluginIframeURL = *input.PluginIframeURL
	}
	if input.PluginFullscreen != nil {
		section.PluginFullscreen = *input.PluginFullscreen
	}
	if input.Published != nil {
		section.Published = *input.Published
	}
	return nil
}

func (s *Service) prepareImages(ctx context.Context, actor Actor, existing *existingTree, inputs []ImageInput, steps []reconcile.Step) ([]imageWrite, error) {
	writes := make([]imageWrite, 0, len(steps))
	for _, step := range steps {
		input := inputs[step.Index]
		write := imageWrite{}
		if step.Action == reconcile.Update {
			id, _ := strconv.ParseInt(step.ID, 10, 64)
			write.image = existing.images[id]
			write.image.ModifiedBy = actor.UserID()
		} else {
			write.image.Published = true
			write.image.CreatedBy = actor.UserID()
			write.image.ModifiedBy = actor.UserID()
		}
		write.image.Ordering = step.Ordering

		var err error
		if write.image.Title, err = s.parseText("images.title", input.Title); err != nil {
			return nil, err
		}
		if write.image.Caption, err = s.parseText("images.caption", input.Caption); err != nil {
			return nil, err
		}
		if write.image.AltText, err = s.parseText("images.alt_text", input.AltText); err != nil {
			return nil, err
		}
		if input.PhotographerName != nil {
			write.image.PhotographerName = *input.PhotographerName
		}

		switch {
		case input.Image != "" && !isDownloadURL(input.Image):
			payload, err := media.DecodeImage(input.Image, s.config.MaxImageSize)
			if err != nil {
				return nil, err
			}
			write.payload = &payload
		case step.Action == reconcile.Create && step.ReferenceID != "":
			refID, ok := flexID(step.ReferenceID).Int64()
			if !ok {
				return nil, errValidation("Invalid image reference", map[string]any{"field": "images.reference_id"})
			}
			source, err := s.store.GetSectionImage(ctx, refID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, errValidation("Referenced image does not exist", map[string]any{"field": "images.reference_id", "id": refID})
				}
				return nil, err
			}
			write.copyFrom = source.ObjectKey
			write.image.ContentType = source.ContentType
			write.image.Width = source.Width
			write.image.Height = source.Height
		case step.Action == reconcile.Create:
			return nil, errValidation("Image payload is required", map[string]any{"field": "images.image"})
		}
		writes = append(writes, write)
	}
	return writes, nil
}

func (s *Service) prepareFiles(ctx context.Context, actor Actor, existing *existingTree, inputs []FileInput, steps []reconcile.Step) ([]fileWrite, error) {
	writes := make([]fileWrite, 0, len(steps))
	for _, step := range steps {
		input := inputs[step.Index]
		write := fileWrite{}
		switch step.Action {
		case reconcile.Update:
			id, _ := strconv.ParseInt(step.ID, 10, 64)
			write.file = existing.files[id]
			write.file.ModifiedBy = actor.UserID()
		case reconcile.Claim:
			id, _ := strconv.ParseInt(step.ID, 10, 64)
			orphan, err := s.store.GetSectionFile(ctx, id)
			if err != nil {
				return nil, err
			}
			write.file = orphan
			write.file.ModifiedBy = actor.UserID()
		default:
			write.file.Published = true
			write.file.CreatedBy = actor.UserID()
			write.file.ModifiedBy = actor.UserID()
		}
		write.file.Ordering = step.Ordering

		var err error
		if write.file.Title, err = s.parseText("files.title", input.Title); err != nil {
			return nil, err
		}
		if write.file.Caption, err = s.parseText("files.caption", input.Caption); err != nil {
			return nil, err
		}

		switch {
		case input.File != "" && !isDownloadURL(input.File):
			payload, err := media.DecodeFile(input.File, s.config.MaxFileSize)
			if err != nil {
				return nil, err
			}
			write.payload = &payload
		case step.Action == reconcile.Create && step.ReferenceID != "":
			refID, ok := flexID(step.ReferenceID).Int64()
			if !ok {
				return nil, errValidation("Invalid file reference", map[string]any{"field": "files.reference_id"})
			}
			source, err := s.store.GetSectionFile(ctx, refID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, errValidation("Referenced file does not exist", map[string]any{"field": "files.reference_id", "id": refID})
				}
				return nil, err
			}
			write.copyFrom = source.ObjectKey
			write.file.ContentType = source.ContentType
			write.file.Size = source.Size
		case step.Action == reconcile.Create:
			return nil, errValidation("File payload is required", map[string]any{"field": "files.file"})
		}
		writes = append(writes, write)
	}
	return writes, nil
}

func (s *Service) preparePolls(actor Actor, existing *existingTree, inputs []PollInput, steps []reconcile.PollStep) ([]pollWrite, error) {
	writes := make([]pollWrite, 0, len(steps))
	for _, step := range steps {
		input := inputs[step.Index]
		if !pollTypes[input.Type] {
			return nil, errValidation("Unknown poll type", map[string]any{"field": "questions.type", "type": input.Type})
		}
		write := pollWrite{}
		if step.Action == reconcile.Update {
			id, _ := strconv.ParseInt(step.ID, 10, 64)
			write.poll = existing.polls[id]
			write.poll.ModifiedBy = actor.UserID()
		} else {
			write.poll.CreatedBy = actor.UserID()
			write.poll.ModifiedBy = actor.UserID()
		}
		write.poll.Type = input.Type
		write.poll.Ordering = step.Ordering
		write.poll.IsIndependent = input.IsIndependentPoll
		var err error
		if write.poll.Text, err = s.parseText("questions.text", input.Text); err != nil {
			return nil, err
		}
		for _, optionStep := range step.Options {
			var option store.PollOption
			if optionStep.Action == reconcile.Update {
				id, _ := strconv.ParseInt(optionStep.ID, 10, 64)
				option = existing.options[id]
				option.ModifiedBy = actor.UserID()
			} else {
				option.CreatedBy = actor.UserID()
				option.ModifiedBy = actor.UserID()
			}
			option.Ordering = optionStep.Ordering
			if option.Text, err = s.parseText("questions.options.text", input.Options[optionStep.Index].Text); err != nil {
				return nil, err
			}
			write.options = append(write.options, option)
		}
		writes = append(writes, write)
	}
	return writes, nil
}

// isDownloadURL reports whether value echoes a payload URL from a read
// instead of carrying new data.
func isDownloadURL(value string) bool {
	return strings.Contains(value, "/v1/download/")
}

// applyHearing writes a prepared document in one transaction and returns
// the fresh admin projection.
func (s *Service) applyHearing(ctx context.Context, actor Actor, write *hearingWrite) (HearingView, error) {
	var written []string
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.applyProject(ctx, write); err != nil {
			return err
		}
		if write.isNew {
			if err := s.store.InsertHearing(ctx, write.hearing); err != nil {
				return err
			}
		} else if err := s.store.UpdateHearing(ctx, write.hearing); err != nil {
			return err
		}
		if write.labels != nil {
			if err := s.store.SetHearingLabels(ctx, write.hearing.ID, *write.labels); err != nil {
				return err
			}
		}
		if write.contacts != nil {
			if err := s.store.SetHearingContactPersons(ctx, write.hearing.ID, *write.contacts); err != nil {
				return err
			}
		}
		if write.plan.TouchSections {
			keys, err := s.applySections(ctx, actor, write)
			written = keys
			if err != nil {
				return err
			}
		}
		return s.store.RecacheHearingComments(ctx, write.hearing.ID)
	})
	if err != nil {
		for _, key := range written {
			if deleteErr := s.media.Delete(context.WithoutCancel(ctx), key); deleteErr != nil {
				s.logger.Warn("remove orphaned payload", "key", key, "error", deleteErr)
			}
		}
		return HearingView{}, err
	}

	hearing, err := s.store.GetHearing(ctx, write.hearing.ID)
	if err != nil {
		return HearingView{}, err
	}
	audit.Track(ctx, hearing)
	s.search.IndexHearing(s.hearingRecord(hearing))
	return s.hearingDetail(ctx, actor, hearing, false)
}

func (s *Service) applyProject(ctx context.Context, write *hearingWrite) error {
	project := write.project
	if project == nil {
		return nil
	}
	if project.clear {
		write.hearing.ProjectPhaseID = nil
		return nil
	}
	if project.isNew {
		created, err := s.store.InsertProject(ctx, project.project)
		if err != nil {
			return err
		}
		project.project = created
	} else if err := s.store.UpdateProject(ctx, project.project); err != nil {
		return err
	}
	for _, id := range project.deletes {
		if err := s.store.SoftDeletePhase(ctx, id, write.hearing.ModifiedBy); err != nil {
			return err
		}
	}
	write.hearing.ProjectPhaseID = nil
	for _, phase := range project.phases {
		phase.phase.ProjectID = project.project.ID
		if phase.isNew {
			created, err := s.store.InsertPhase(ctx, phase.phase)
			if err != nil {
				return err
			}
			phase.phase = created
		} else if err := s.store.UpdatePhase(ctx, phase.phase); err != nil {
			return err
		}
		if phase.active && write.hearing.ProjectPhaseID == nil {
			id := phase.phase.ID
			write.hearing.ProjectPhaseID = &id
		}
	}
	audit.Track(ctx, project.project)
	return nil
}

// applySections executes the section plan. It returns the object keys it
// stored so a failed transaction can remove them.
func (s *Service) applySections(ctx context.Context, actor Actor, write *hearingWrite) ([]string, error) {
	var keys []string
	actorID := actor.UserID()
	touchedPolls := []int64{}

	for _, id := range write.plan.DeleteSections {
		if err := s.store.SoftDeleteSection(ctx, id, actorID); err != nil {
			return keys, err
		}
	}

	for i, step := range write.plan.Sections {
		section := write.sections[i]
		section.section.HearingID = write.hearing.ID
		if step.Action == reconcile.Update {
			if err := s.store.UpdateSection(ctx, section.section); err != nil {
				return keys, err
			}
		} else if err := s.store.InsertSection(ctx, section.section); err != nil {
			return keys, err
		}
		sectionID := section.section.ID

		for _, raw := range step.DeleteImages {
			id, _ := strconv.ParseInt(raw, 10, 64)
			if err := s.store.SoftDeleteSectionImage(ctx, id, actorID); err != nil {
				return keys, err
			}
		}
		for j, imageStep := range step.Images {
			image := section.images[j]
			image.image.SectionID = sectionID
			key, err := s.storePayload(ctx, "sectionimage", image.payload, image.copyFrom)
			if err != nil {
				return keys, err
			}
			if key != "" {
				keys = append(keys, key)
				image.image.ObjectKey = key
				if image.payload != nil {
					image.image.ContentType = image.payload.ContentType
					image.image.Width = image.payload.Width
					image.image.Height = image.payload.Height
				}
			}
			if imageStep.Action == reconcile.Update {
				if err := s.store.UpdateSectionImage(ctx, image.image); err != nil {
					return keys, err
				}
			} else if _, err := s.store.InsertSectionImage(ctx, image.image); err != nil {
				return keys, err
			}
		}

		for _, raw := range step.DeleteFiles {
			id, _ := strconv.ParseInt(raw, 10, 64)
			if err := s.store.SoftDeleteSectionFile(ctx, id, actorID); err != nil {
				return keys, err
			}
		}
		for j, fileStep := range step.Files {
			file := section.files[j]
			file.file.SectionID = &sectionID
			key, err := s.storePayload(ctx, "sectionfile", file.payload, file.copyFrom)
			if err != nil {
				return keys, err
			}
			if key != "" {
				keys = append(keys, key)
				file.file.ObjectKey = key
				if file.payload != nil {
					file.file.ContentType = file.payload.ContentType
					file.file.Size = int64(len(file.payload.Data))
				}
			}
			if fileStep.Action == reconcile.Create {
				if _, err := s.store.InsertSectionFile(ctx, file.file); err != nil {
					return keys, err
				}
			} else if err := s.store.UpdateSectionFile(ctx, file.file); err != nil {
				return keys, err
			}
		}

		for _, raw := range step.DeletePolls {
			id, _ := strconv.ParseInt(raw, 10, 64)
			if err := s.store.SoftDeletePoll(ctx, id, actorID); err != nil {
				return keys, err
			}
		}
		for j, pollStep := range step.Polls {
			poll := section.polls[j]
			poll.poll.SectionID = sectionID
			if pollStep.Action == reconcile.Update {
				if err := s.store.UpdatePoll(ctx, poll.poll); err != nil {
					return keys, err
				}
				touchedPolls = append(touchedPolls, poll.poll.ID)
			} else {
				created, err := s.store.InsertPoll(ctx, poll.poll)
				if err != nil {
					return keys, err
				}
				poll.poll = created
			}
			for _, raw := range pollStep.DeleteOptions {
				id, _ := strconv.ParseInt(raw, 10, 64)
				if err := s.store.SoftDeletePollOption(ctx, id, actorID); err != nil {
					return keys, err
				}
			}
			for k, optionStep := range pollStep.Options {
				option := poll.options[k]
				option.PollID = poll.poll.ID
				if optionStep.Action == reconcile.Update {
					if err := s.store.UpdatePollOption(ctx, option); err != nil {
						return keys, err
					}
				} else if _, err := s.store.InsertPollOption(ctx, option); err != nil {
					return keys, err
				}
			}
		}

		if _, err := s.store.ClaimOrphanFiles(ctx, sectionID, referencedFileIDs(section.section.Content)); err != nil {
			return keys, err
		}
		if err := s.store.RecacheSectionComments(ctx, sectionID); err != nil {
			return keys, err
		}
		audit.Track(ctx, section.section)
	}
	return keys, s.store.RecachePolls(ctx, touchedPolls)
}

// storePayload writes a new payload or copies an existing object. It
// returns "" when the stored payload is kept.
func (s *Service) storePayload(ctx context.Context, kind string, payload *media.Payload, copyFrom string) (string, error) {
	switch {
	case payload != nil:
		key := media.ObjectKey(kind, util.NewID(""), payload.Extension())
		if err := s.media.Put(ctx, key, payload.ContentType, payload.Data); err != nil {
			return "", fmt.Errorf("store %s: %w", kind, err)
		}
		return key, nil
	case copyFrom != "":
		key := media.ObjectKey(kind, util.NewID(""), extensionOf(copyFrom))
		if err := s.media.Copy(ctx, copyFrom, key); err != nil {
			return "", fmt.Errorf("copy %s: %w", kind, err)
		}
		return key, nil
	default:
		return "", nil
	}
}

func extensionOf(key string) string {
	slash := strings.LastIndex(key, "/")
	dot := strings.LastIndex(key, ".")
	if dot <= slash {
		return ""
	}
	return key[dot:]
}

// referencedFileIDs extracts section file ids linked from rich-text content.
func referencedFileIDs(content translation.Text) []int64 {
	var ids []int64
	for _, value := range content {
		for _, match := range fileURLPattern.FindAllStringSubmatch(value, -1) {
			id, err := strconv.ParseInt(match[1], 10, 64)
			if err == nil && !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return ids
}
