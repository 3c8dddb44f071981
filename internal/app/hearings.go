package app

import (
	"context"
	"database/sql"
	"errors"
	"net/url"

	"kerrokantasi/api/internal/audit"
	"kerrokantasi/api/internal/reconcile"
	"kerrokantasi/api/internal/search"
	"kerrokantasi/api/internal/store"
)

type HearingListParams struct {
	Title          string
	Organization   string
	Labels         []int64
	Open           *bool
	Published      *bool
	Following      bool
	BBox           *store.BBox
	IncludeGeoJSON bool
	Ordering       string
	Limit          int
	Offset         int
}

func (s *Service) hearingFilter(actor Actor) store.HearingFilter {
	return store.HearingFilter{
		Now:         s.now(),
		Staff:       actor.Staff(),
		AdminOrgIDs: actor.adminOrgIDs(),
	}
}

func (s *Service) ListHearings(ctx context.Context, actor Actor, params HearingListParams) ([]HearingView, error) {
	filter := s.hearingFilter(actor)
	filter.Title = params.Title
	filter.Organization = params.Organization
	filter.LabelIDs = params.Labels
	filter.Open = params.Open
	filter.Published = params.Published
	filter.BBox = params.BBox
	filter.Ordering = params.Ordering
	filter.Limit = params.Limit
	filter.Offset = params.Offset
	if params.Following {
		if !actor.Authenticated() {
			return nil, errUnauthorized()
		}
		filter.FollowedBy = actor.User.ID
	}

	hearings, err := s.store.ListHearings(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hearings))
	for _, hearing := range hearings {
		ids = append(ids, hearing.ID)
	}
	labels, err := s.store.HearingLabels(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]HearingView, 0, len(hearings))
	for _, hearing := range hearings {
		view := s.hearingSummary(actor, hearing, labels[hearing.ID])
		if !params.IncludeGeoJSON {
			view.GeoJSON = nil
		}
		views = append(views, view)
	}
	audit.Track(ctx, hearings...)
	return views, nil
}

// findHearing loads a hearing the actor may read. A valid preview code
// opens unpublished and future hearings.
func (s *Service) findHearing(ctx context.Context, actor Actor, idOrSlug, previewCode string) (store.Hearing, bool, error) {
	hearing, err := s.store.GetHearing(ctx, idOrSlug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Hearing{}, false, errNotFound()
		}
		return store.Hearing{}, false, err
	}
	if hearing.Visible(s.now()) || actor.AdminOf(hearing.OrganizationID) {
		return hearing, false, nil
	}
	if previewCode != "" && s.preview.Verify(hearing.ID, previewCode) {
		return hearing, true, nil
	}
	return store.Hearing{}, false, errNotFound()
}

func (s *Service) GetHearing(ctx context.Context, actor Actor, idOrSlug, previewCode string) (HearingView, error) {
	hearing, previewed, err := s.findHearing(ctx, actor, idOrSlug, previewCode)
	if err != nil {
		return HearingView{}, err
	}
	return s.hearingDetail(ctx, actor, hearing, previewed)
}

func (s *Service) hearingSummary(actor Actor, hearing store.Hearing, labels []store.Label) HearingView {
	view := HearingView{
		ID:            hearing.ID,
		Slug:          hearing.Slug,
		Title:         s.languages.Serialize(hearing.Title),
		Abstract:      s.languages.Serialize(hearing.Abstract),
		Borough:       s.languages.Serialize(hearing.Borough),
		OpenAt:        hearing.OpenAt,
		CloseAt:       hearing.CloseAt,
		CreatedAt:     hearing.CreatedAt,
		ForceClosed:   hearing.ForceClosed,
		Published:     hearing.Published,
		ServicemapURL: hearing.ServicemapURL,
		Labels:        make([]LabelView, 0, len(labels)),
		Organization:  optionalString(hearing.OrganizationName),
		GeoJSON:       hearing.GeoJSON,
		NComments:     hearing.NComments,
		Closed:        hearing.Closed(s.now()),
	}
	for _, label := range labels {
		view.Labels = append(view.Labels, s.labelView(label))
	}
	if actor.AdminOf(hearing.OrganizationID) {
		view.PreviewURL = s.previewURL(hearing.ID)
	}
	return view
}

func (s *Service) previewURL(hearingID string) string {
	return s.config.PublicURL + "/v1/hearing/" + hearingID + "/?preview=" + url.QueryEscape(s.preview.Code(hearingID))
}

func (s *Service) hearingDetail(ctx context.Context, actor Actor, hearing store.Hearing, previewed bool) (HearingView, error) {
	labels, err := s.store.HearingLabels(ctx, []string{hearing.ID})
	if err != nil {
		return HearingView{}, err
	}
	view := s.hearingSummary(actor, hearing, labels[hearing.ID])

	contacts, err := s.store.HearingContactPersons(ctx, hearing.ID)
	if err != nil {
		return HearingView{}, err
	}
	view.ContactPersons = make([]ContactPersonView, 0, len(contacts))
	for _, contact := range contacts {
		view.ContactPersons = append(view.ContactPersons, s.contactView(contact))
	}

	if hearing.ProjectPhaseID != nil {
		project, err := s.hearingProject(ctx, *hearing.ProjectPhaseID)
		if err != nil {
			return HearingView{}, err
		}
		view.Project = project
	}

	sections, err := s.visibleSections(ctx, actor, hearing, previewed)
	if err != nil {
		return HearingView{}, err
	}
	view.Sections = sections
	if view.Sections == nil {
		view.Sections = []SectionView{}
	}

	audit.Track(ctx, hearing)
	return view, nil
}

func (s *Service) hearingProject(ctx context.Context, phaseID int64) (*ProjectView, error) {
	phase, err := s.store.GetPhase(ctx, phaseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	project, err := s.store.GetProject(ctx, phase.ProjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	phaseIDs := make([]int64, 0, len(project.Phases))
	for _, p := range project.Phases {
		phaseIDs = append(phaseIDs, p.ID)
	}
	inUse, err := s.store.PhasesInUse(ctx, phaseIDs, "")
	if err != nil {
		return nil, err
	}
	view := s.projectView(project, &phaseID, inUse)
	return &view, nil
}

// visibleSections lists sections in display order. Closure info stays
// hidden from non-admins until the hearing closes.
func (s *Service) visibleSections(ctx context.Context, actor Actor, hearing store.Hearing, previewed bool) ([]SectionView, error) {
	admin := actor.AdminOf(hearing.OrganizationID)
	scope := store.ScopePublic
	if admin || previewed {
		scope = store.ScopeUnpublished
	}
	tree, err := s.loadSectionTree(ctx, hearing.ID, scope)
	if err != nil {
		return nil, err
	}
	closed := hearing.Closed(s.now())
	views := make([]SectionView, 0, len(tree.sections))
	for _, section := range tree.sections {
		if section.Type == reconcile.SectionTypeClosure && !admin && !closed {
			continue
		}
		views = append(views, s.sectionView(section, tree))
		audit.Track(ctx, section)
	}
	return views, nil
}

func (s *Service) ListSections(ctx context.Context, actor Actor, hearingID, previewCode string) ([]SectionView, error) {
	hearing, previewed, err := s.findHearing(ctx, actor, hearingID, previewCode)
	if err != nil {
		return nil, err
	}
	return s.visibleSections(ctx, actor, hearing, previewed)
}

// DeleteHearing soft-deletes a draft hearing nobody has commented on.
func (s *Service) DeleteHearing(ctx context.Context, actor Actor, idOrSlug string) error {
	hearing, _, err := s.findHearing(ctx, actor, idOrSlug, "")
	if err != nil {
		return err
	}
	if !actor.AdminOf(hearing.OrganizationID) {
		return errPermissionDenied("Only organization admins can delete hearings")
	}
	if hearing.Published || hearing.NComments > 0 {
		return errPermissionDenied("Only unpublished hearings without comments can be deleted")
	}
	if _, err := s.store.SoftDeleteHearing(ctx, hearing.ID, actor.UserID()); err != nil {
		return err
	}
	audit.Track(ctx, hearing)
	s.search.DeleteHearing(hearing.ID)
	return nil
}

func (s *Service) FollowHearing(ctx context.Context, actor Actor, idOrSlug string) error {
	if !actor.Authenticated() {
		return errUnauthorized()
	}
	hearing, _, err := s.findHearing(ctx, actor, idOrSlug, "")
	if err != nil {
		return err
	}
	added, err := s.store.FollowHearing(ctx, hearing.ID, actor.User.ID)
	if err != nil {
		return err
	}
	audit.Track(ctx, hearing)
	if !added {
		return errNotModified()
	}
	return nil
}

func (s *Service) UnfollowHearing(ctx context.Context, actor Actor, idOrSlug string) error {
	if !actor.Authenticated() {
		return errUnauthorized()
	}
	hearing, _, err := s.findHearing(ctx, actor, idOrSlug, "")
	if err != nil {
		return err
	}
	removed, err := s.store.UnfollowHearing(ctx, hearing.ID, actor.User.ID)
	if err != nil {
		return err
	}
	audit.Track(ctx, hearing)
	if !removed {
		return errNotModified()
	}
	return nil
}

// CompactSections renumbers the hearing's non-closure sections 1..N.
func (s *Service) CompactSections(ctx context.Context, actor Actor, idOrSlug string) ([]SectionView, error) {
	hearing, _, err := s.findHearing(ctx, actor, idOrSlug, "")
	if err != nil {
		return nil, err
	}
	if !actor.AdminOf(hearing.OrganizationID) {
		return nil, errPermissionDenied("Only organization admins can reorder sections")
	}
	if err := s.store.InTx(ctx, func(ctx context.Context) error {
		return s.store.CompactSectionOrdering(ctx, hearing.ID)
	}); err != nil {
		return nil, err
	}
	return s.visibleSections(ctx, actor, hearing, false)
}

func (s *Service) hearingRecord(hearing store.Hearing) search.HearingRecord {
	return search.HearingRecord{
		ID:           hearing.ID,
		Slug:         hearing.Slug,
		Title:        hearing.Title.Join(" / "),
		Abstract:     hearing.Abstract.Join(" / "),
		Organization: hearing.OrganizationName,
		Published:    hearing.Published,
		OpenAt:       hearing.OpenAt.Unix(),
	}
}
