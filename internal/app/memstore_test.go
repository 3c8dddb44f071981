package app

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"kerrokantasi/api/internal/store"
)

// memStore is an in-memory dataStore for service and HTTP tests. InTx does
// not roll back.
type memStore struct {
	mu  sync.Mutex
	seq int64
	now func() time.Time

	users         map[string]store.User
	orgs          map[int64]store.Organization
	orgAdmins     map[string][]int64
	labels        map[int64]store.Label
	contacts      map[int64]store.ContactPerson
	projects      map[int64]store.Project
	phases        map[int64]store.ProjectPhase
	hearings      map[string]store.Hearing
	hearingLabels map[string][]int64
	hearingCPs    map[string][]int64
	followers     map[string]map[string]bool
	sections      map[string]store.Section
	images        map[int64]store.SectionImage
	files         map[int64]store.SectionFile
	polls         map[int64]store.Poll
	options       map[int64]store.PollOption
	answers       map[int64]store.PollAnswer
	comments      map[int64]store.Comment
	voters        map[int64]map[string]bool
	commentImages map[int64]store.CommentImage
	revisions     []store.CommentRevision
}

func newMemStore() *memStore {
	return &memStore{
		now:           time.Now,
		users:         map[string]store.User{},
		orgs:          map[int64]store.Organization{},
		orgAdmins:     map[string][]int64{},
		labels:        map[int64]store.Label{},
		contacts:      map[int64]store.ContactPerson{},
		projects:      map[int64]store.Project{},
		phases:        map[int64]store.ProjectPhase{},
		hearings:      map[string]store.Hearing{},
		hearingLabels: map[string][]int64{},
		hearingCPs:    map[string][]int64{},
		followers:     map[string]map[string]bool{},
		sections:      map[string]store.Section{},
		images:        map[int64]store.SectionImage{},
		files:         map[int64]store.SectionFile{},
		polls:         map[int64]store.Poll{},
		options:       map[int64]store.PollOption{},
		answers:       map[int64]store.PollAnswer{},
		comments:      map[int64]store.Comment{},
		voters:        map[int64]map[string]bool{},
		commentImages: map[int64]store.CommentImage{},
	}
}

func (m *memStore) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *memStore) stamp(meta *store.Meta) {
	now := m.now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.ModifiedAt = now
}

func softDelete(meta *store.Meta, actor *string, now time.Time) {
	meta.Deleted = true
	meta.DeletedAt = &now
	meta.DeletedBy = actor
}

func scopeMatch(meta store.Meta, scope store.Scope) bool {
	switch scope {
	case store.ScopePublic:
		return meta.Published && !meta.Deleted
	case store.ScopeUnpublished:
		return !meta.Deleted
	case store.ScopeDeleted:
		return meta.Deleted
	default:
		return true
	}
}

// seeding helpers

func (m *memStore) addOrg(name string) store.Organization {
	m.mu.Lock()
	defer m.mu.Unlock()
	org := store.Organization{ID: m.nextID(), Name: name, CreatedAt: m.now()}
	m.orgs[org.ID] = org
	return org
}

func (m *memStore) addUser(user store.User, adminOf ...int64) store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.DateJoined.IsZero() {
		user.DateJoined = m.now()
	}
	m.users[user.ID] = user
	m.orgAdmins[user.ID] = adminOf
	return user
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) InTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (m *memStore) UpsertUser(_ context.Context, user store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[user.ID]
	if !ok {
		if user.Username == "" {
			user.Username = "u-" + user.ID
		}
		user.DateJoined = m.now()
		m.users[user.ID] = user
		return user, nil
	}
	if user.FirstName != "" {
		existing.FirstName = user.FirstName
	}
	if user.LastName != "" {
		existing.LastName = user.LastName
	}
	if user.Email != "" {
		existing.Email = user.Email
	}
	existing.IsStaff = user.IsStaff || existing.IsSuperuser || existing.IsStaff
	m.users[user.ID] = existing
	return existing, nil
}

func (m *memStore) GetUser(_ context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) UpdateUserNickname(_ context.Context, id, nickname string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := m.users[id]
	user.Nickname = nickname
	m.users[id] = user
	return nil
}

func (m *memStore) AdminOrganizations(_ context.Context, userID string) ([]store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Organization{}
	for _, id := range m.orgAdmins[userID] {
		out = append(out, m.orgs[id])
	}
	return out, nil
}

func (m *memStore) ListOrganizations(context.Context) ([]store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Organization{}
	for _, org := range m.orgs {
		out = append(out, org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetOrganizationByName(_ context.Context, name string) (store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, org := range m.orgs {
		if org.Name == name {
			return org, nil
		}
	}
	return store.Organization{}, sql.ErrNoRows
}

func (m *memStore) ListLabels(context.Context) ([]store.Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Label{}
	for _, label := range m.labels {
		if !label.Deleted {
			out = append(out, label)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) InsertLabel(_ context.Context, label store.Label) (store.Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	label.ID = m.nextID()
	label.Published = true
	m.stamp(&label.Meta)
	m.labels[label.ID] = label
	return label, nil
}

func (m *memStore) ExistingLabelIDs(_ context.Context, ids []int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]bool{}
	for _, id := range ids {
		if label, ok := m.labels[id]; ok && !label.Deleted {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memStore) ListContactPersons(context.Context) ([]store.ContactPerson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.ContactPerson{}
	for _, c := range m.contacts {
		if !c.Deleted {
			out = append(out, m.withContactOrg(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) withContactOrg(c store.ContactPerson) store.ContactPerson {
	if c.OrganizationID != nil {
		c.Organization = m.orgs[*c.OrganizationID].Name
	}
	return c
}

func (m *memStore) GetContactPerson(_ context.Context, id int64) (store.ContactPerson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.Deleted {
		return store.ContactPerson{}, sql.ErrNoRows
	}
	return m.withContactOrg(c), nil
}

func (m *memStore) InsertContactPerson(_ context.Context, c store.ContactPerson) (store.ContactPerson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID()
	c.Published = true
	m.stamp(&c.Meta)
	m.contacts[c.ID] = c
	return m.withContactOrg(c), nil
}

func (m *memStore) UpdateContactPerson(_ context.Context, c store.ContactPerson) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.contacts[c.ID]
	if !ok || existing.Deleted {
		return false, nil
	}
	m.stamp(&c.Meta)
	m.contacts[c.ID] = c
	return true, nil
}

func (m *memStore) ExistingContactPersonIDs(_ context.Context, ids []int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]bool{}
	for _, id := range ids {
		if c, ok := m.contacts[id]; ok && !c.Deleted {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memStore) projectWithPhases(p store.Project) store.Project {
	p.Phases = []store.ProjectPhase{}
	for _, phase := range m.phases {
		if phase.ProjectID == p.ID && !phase.Deleted {
			p.Phases = append(p.Phases, phase)
		}
	}
	sort.Slice(p.Phases, func(i, j int) bool {
		if p.Phases[i].Ordering != p.Phases[j].Ordering {
			return p.Phases[i].Ordering < p.Phases[j].Ordering
		}
		return p.Phases[i].ID < p.Phases[j].ID
	})
	return p
}

func (m *memStore) ListProjects(context.Context) ([]store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Project{}
	for _, p := range m.projects {
		if !p.Deleted {
			out = append(out, m.projectWithPhases(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetProject(_ context.Context, id int64) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok || p.Deleted {
		return store.Project{}, sql.ErrNoRows
	}
	return m.projectWithPhases(p), nil
}

func (m *memStore) GetPhase(_ context.Context, id int64) (store.ProjectPhase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	phase, ok := m.phases[id]
	if !ok || phase.Deleted {
		return store.ProjectPhase{}, sql.ErrNoRows
	}
	return phase, nil
}

func (m *memStore) InsertProject(_ context.Context, p store.Project) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextID()
	m.stamp(&p.Meta)
	m.projects[p.ID] = p
	return p, nil
}

func (m *memStore) UpdateProject(_ context.Context, p store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&p.Meta)
	m.projects[p.ID] = p
	return nil
}

func (m *memStore) InsertPhase(_ context.Context, phase store.ProjectPhase) (store.ProjectPhase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	phase.ID = m.nextID()
	m.stamp(&phase.Meta)
	m.phases[phase.ID] = phase
	return phase, nil
}

func (m *memStore) UpdatePhase(_ context.Context, phase store.ProjectPhase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&phase.Meta)
	m.phases[phase.ID] = phase
	return nil
}

func (m *memStore) SoftDeletePhase(_ context.Context, id int64, actor *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	phase := m.phases[id]
	softDelete(&phase.Meta, actor, m.now())
	m.phases[id] = phase
	return nil
}

func (m *memStore) PhasesInUse(_ context.Context, ids []int64, except string) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]bool{}
	for _, h := range m.hearings {
		if h.Deleted || h.ID == except || h.ProjectPhaseID == nil {
			continue
		}
		if slices.Contains(ids, *h.ProjectPhaseID) {
			out[*h.ProjectPhaseID] = true
		}
	}
	return out, nil
}

func (m *memStore) withHearingOrg(h store.Hearing) store.Hearing {
	h.OrganizationName = ""
	if h.OrganizationID != nil {
		h.OrganizationName = m.orgs[*h.OrganizationID].Name
	}
	return h
}

func (m *memStore) ListHearings(_ context.Context, filter store.HearingFilter) ([]store.Hearing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Hearing{}
	for _, h := range m.hearings {
		if h.Deleted {
			continue
		}
		admin := filter.Staff || (h.OrganizationID != nil && slices.Contains(filter.AdminOrgIDs, *h.OrganizationID))
		if !admin && !h.Visible(filter.Now) {
			continue
		}
		if len(filter.IDs) > 0 && !slices.Contains(filter.IDs, h.ID) {
			continue
		}
		if filter.Published != nil && h.Published != *filter.Published {
			continue
		}
		if filter.Open != nil && h.Closed(filter.Now) == *filter.Open {
			continue
		}
		if filter.Title != "" && !strings.Contains(strings.ToLower(h.Title.Join(" ")), strings.ToLower(filter.Title)) {
			continue
		}
		if filter.FollowedBy != "" && !m.followers[h.ID][filter.FollowedBy] {
			continue
		}
		if filter.Organization != "" && m.withHearingOrg(h).OrganizationName != filter.Organization {
			continue
		}
		if len(filter.LabelIDs) > 0 && !slices.ContainsFunc(m.hearingLabels[h.ID], func(id int64) bool { return slices.Contains(filter.LabelIDs, id) }) {
			continue
		}
		if filter.BBox != nil {
			if h.BBox == nil || h.BBox.MaxLon < filter.BBox.MinLon || h.BBox.MinLon > filter.BBox.MaxLon ||
				h.BBox.MaxLat < filter.BBox.MinLat || h.BBox.MinLat > filter.BBox.MaxLat {
				continue
			}
		}
		out = append(out, m.withHearingOrg(h))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, filter.Limit, filter.Offset), nil
}

func (m *memStore) GetHearing(_ context.Context, idOrSlug string) (store.Hearing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.hearings[idOrSlug]; ok && !h.Deleted {
		return m.withHearingOrg(h), nil
	}
	for _, h := range m.hearings {
		if h.Slug == idOrSlug && !h.Deleted {
			return m.withHearingOrg(h), nil
		}
	}
	return store.Hearing{}, sql.ErrNoRows
}

func (m *memStore) HearingExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.hearings[id]
	return ok, nil
}

func (m *memStore) SlugTaken(_ context.Context, slug, except string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.hearings {
		if h.Slug == slug && h.ID != except && !h.Deleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertHearing(_ context.Context, h store.Hearing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&h.Meta)
	m.hearings[h.ID] = h
	return nil
}

func (m *memStore) UpdateHearing(_ context.Context, h store.Hearing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.hearings[h.ID]
	h.CreatedAt = existing.CreatedAt
	h.CreatedBy = existing.CreatedBy
	h.NComments = existing.NComments
	m.stamp(&h.Meta)
	m.hearings[h.ID] = h
	return nil
}

func (m *memStore) SoftDeleteHearing(_ context.Context, id string, actor *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hearings[id]
	if !ok || h.Deleted {
		return false, nil
	}
	softDelete(&h.Meta, actor, m.now())
	m.hearings[id] = h
	return true, nil
}

func (m *memStore) HearingLabels(_ context.Context, ids []string) (map[string][]store.Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]store.Label{}
	for _, id := range ids {
		for _, labelID := range m.hearingLabels[id] {
			out[id] = append(out[id], m.labels[labelID])
		}
	}
	return out, nil
}

func (m *memStore) SetHearingLabels(_ context.Context, id string, labels []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hearingLabels[id] = slices.Clone(labels)
	return nil
}

func (m *memStore) HearingContactPersons(_ context.Context, id string) ([]store.ContactPerson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.ContactPerson{}
	for _, cid := range m.hearingCPs[id] {
		out = append(out, m.withContactOrg(m.contacts[cid]))
	}
	return out, nil
}

func (m *memStore) SetHearingContactPersons(_ context.Context, id string, contacts []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hearingCPs[id] = slices.Clone(contacts)
	return nil
}

func (m *memStore) FollowHearing(_ context.Context, hearingID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.followers[hearingID] == nil {
		m.followers[hearingID] = map[string]bool{}
	}
	if m.followers[hearingID][userID] {
		return false, nil
	}
	m.followers[hearingID][userID] = true
	return true, nil
}

func (m *memStore) UnfollowHearing(_ context.Context, hearingID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.followers[hearingID][userID] {
		return false, nil
	}
	delete(m.followers[hearingID], userID)
	return true, nil
}

func (m *memStore) FollowedHearingIDs(_ context.Context, userID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for id, users := range m.followers {
		if users[userID] {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memStore) RecacheHearingComments(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hearings[id]
	h.NComments = 0
	for _, section := range m.sections {
		if section.HearingID == id && !section.Deleted {
			h.NComments += section.NComments
		}
	}
	m.hearings[id] = h
	return nil
}

func (m *memStore) ListSections(_ context.Context, hearingID string, scope store.Scope) ([]store.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Section{}
	for _, section := range m.sections {
		if section.HearingID == hearingID && scopeMatch(section.Meta, scope) {
			out = append(out, section)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordering != out[j].Ordering {
			return out[i].Ordering < out[j].Ordering
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memStore) GetSection(_ context.Context, id string) (store.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	section, ok := m.sections[id]
	if !ok || section.Deleted {
		return store.Section{}, sql.ErrNoRows
	}
	return section, nil
}

func (m *memStore) InsertSection(_ context.Context, section store.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stamp(&section.Meta)
	m.sections[section.ID] = section
	return nil
}

func (m *memStore) UpdateSection(_ context.Context, section store.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.sections[section.ID]
	section.CreatedAt = existing.CreatedAt
	section.NComments = existing.NComments
	m.stamp(&section.Meta)
	m.sections[section.ID] = section
	return nil
}

func (m *memStore) SoftDeleteSection(_ context.Context, id string, actor *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	section := m.sections[id]
	softDelete(&section.Meta, actor, m.now())
	m.sections[id] = section
	return nil
}

func (m *memStore) CompactSectionOrdering(_ context.Context, hearingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sections := []store.Section{}
	for _, section := range m.sections {
		if section.HearingID == hearingID && !section.Deleted && section.Type != "closure-info" {
			sections = append(sections, section)
		}
	}
	sort.Slice(sections, func(i, j int) bool {
		if sections[i].Ordering != sections[j].Ordering {
			return sections[i].Ordering < sections[j].Ordering
		}
		return sections[i].CreatedAt.Before(sections[j].CreatedAt)
	})
	for i, section := range sections {
		section.Ordering = i + 1
		m.sections[section.ID] = section
	}
	return nil
}

func (m *memStore) RecacheSectionComments(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	section := m.sections[id]
	section.NComments = 0
	for _, c := range m.comments {
		if c.SectionID == id && !c.Deleted {
			section.NComments++
		}
	}
	m.sections[id] = section
	return nil
}

func (m *memStore) ListSectionImages(_ context.Context, sectionIDs []string, scope store.Scope) ([]store.SectionImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.SectionImage{}
	for _, image := range m.images {
		if slices.Contains(sectionIDs, image.SectionID) && scopeMatch(image.Meta, scope) {
			out = append(out, image)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordering != out[j].Ordering {
			return out[i].Ordering < out[j].Ordering
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) GetSectionImage(_ context.Context, id int64) (store.SectionImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	image, ok := m.images[id]
	if !ok || image.Deleted {
		return store.SectionImage{}, sql.ErrNoRows
	}
	return image, nil
}

func (m *memStore) InsertSectionImage(_ context.Context, image store.SectionImage) (store.SectionImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	image.ID = m.nextID()
	m.stamp(&image.Meta)
	m.images[image.ID] = image
	return image, nil
}

func (m *memStore) UpdateSectionImage(_ context.Context, image store.SectionImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.images[image.ID]
	if image.ObjectKey == "" {
		image.ObjectKey = existing.ObjectKey
		image.ContentType = existing.ContentType
		image.Width, image.Height = existing.Width, existing.Height
	}
	m.stamp(&image.Meta)
	m.images[image.ID] = image
	return nil
}

func (m *memStore) SoftDeleteSectionImage(_ context.Context, id int64, actor *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	image := m.images[id]
	softDelete(&image.Meta, actor, m.now())
	m.images[id] = image
	return nil
}

func (m *memStore) ListSectionFiles(_ context.Context, sectionIDs []string, scope store.Scope) ([]store.SectionFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.SectionFile{}
	for _, file := range m.files {
		if file.SectionID != nil && slices.Contains(sectionIDs, *file.SectionID) && scopeMatch(file.Meta, scope) {
			out = append(out, file)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetSectionFile(_ context.Context, id int64) (store.SectionFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[id]
	if !ok || file.Deleted {
		return store.SectionFile{}, sql.ErrNoRows
	}
	return file, nil
}

func (m *memStore) InsertSectionFile(_ context.Context, file store.SectionFile) (store.SectionFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file.ID = m.nextID()
	m.stamp(&file.Meta)
	m.files[file.ID] = file
	return file, nil
}

func (m *memStore) UpdateSectionFile(_ context.Context, file store.SectionFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.files[file.ID]
	if file.ObjectKey == "" {
		file.ObjectKey = existing.ObjectKey
		file.ContentType = existing.ContentType
		file.Size = existing.Size
	}
	m.stamp(&file.Meta)
	m.files[file.ID] = file
	return nil
}

func (m *memStore) SoftDeleteSectionFile(_ context.Context, id int64, actor *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	file := m.files[id]
	softDelete(&file.Meta, actor, m.now())
	m.files[id] = file
	return nil
}

func (m *memStore) ClaimOrphanFiles(_ context.Context, sectionID string, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		file, ok := m.files[id]
		if ok && file.SectionID == nil && !file.Deleted {
			sid := sectionID
			file.SectionID = &sid
			m.files[id] = file
			n++
		}
	}
	return n, nil
}

func (m *memStore) pollWithOptions(p store.Poll) store.Poll {
	p.Options = []store.PollOption{}
	for _, option := range m.options {
		if option.PollID == p.ID && !option.Deleted {
			p.Options = append(p.Options, option)
		}
	}
	sort.Slice(p.Options, func(i, j int) bool {
		if p.Options[i].Ordering != p.Options[j].Ordering {
			return p.Options[i].Ordering < p.Options[j].Ordering
		}
		return p.Options[i].ID < p.Options[j].ID
	})
	return p
}

func (m *memStore) ListPolls(_ context.Context, sectionIDs []string, scope store.Scope) ([]store.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Poll{}
	for _, poll := range m.polls {
		if slices.Contains(sectionIDs, poll.SectionID) && scopeMatch(poll.Meta, scope) {
			out = append(out, m.pollWithOptions(poll))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordering != out[j].Ordering {
			return out[i].Ordering < out[j].Ordering
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) InsertPoll(_ context.Context, poll store.Poll) (store.Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	poll.ID = m.nextID()
	poll.Published = true
	m.stamp(&poll.Meta)
	poll.Options = nil
	m.polls[poll.ID] = poll
	return poll, nil
}

func (m *memStore) UpdatePoll(_ context.Context, poll store.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.polls[poll.ID]
	poll.NAnswers = existing.NAnswers
	poll.Published = true
	poll.Options = nil
	m.stamp(&poll.Meta)
	m.polls[poll.ID] = poll
	return nil
}

func (m *memStore) SoftDeletePoll(_ context.Context, id int64, actor *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	poll := m.polls[id]
	softDelete(&poll.Meta, actor, m.now())
	m.polls[id] = poll
	return nil
}

func (m *memStore) InsertPollOption(_ context.Context, option store.PollOption) (store.PollOption, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	option.ID = m.nextID()
	option.Published = true
	m.stamp(&option.Meta)
	m.options[option.ID] = option
	return option, nil
}

func (m *memStore) UpdatePollOption(_ context.Context, option store.PollOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	option.NAnswers = m.options[option.ID].NAnswers
	option.Published = true
	m.stamp(&option.Meta)
	m.options[option.ID] = option
	return nil
}

func (m *memStore) SoftDeletePollOption(_ context.Context, id int64, actor *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	option := m.options[id]
	softDelete(&option.Meta, actor, m.now())
	m.options[id] = option
	return nil
}

func (m *memStore) InsertPollAnswer(_ context.Context, commentID, optionID int64, actor *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cid := commentID
	answer := store.PollAnswer{ID: m.nextID(), CommentID: &cid, OptionID: optionID, PollID: m.options[optionID].PollID}
	answer.CreatedBy = actor
	m.stamp(&answer.Meta)
	m.answers[answer.ID] = answer
	return nil
}

func (m *memStore) SoftDeleteCommentAnswers(_ context.Context, commentID int64, pollIDs []int64, actor *string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	touched := []int64{}
	for id, answer := range m.answers {
		if answer.Deleted || answer.CommentID == nil || *answer.CommentID != commentID {
			continue
		}
		if len(pollIDs) > 0 && !slices.Contains(pollIDs, answer.PollID) {
			continue
		}
		softDelete(&answer.Meta, actor, m.now())
		m.answers[id] = answer
		if !slices.Contains(touched, answer.PollID) {
			touched = append(touched, answer.PollID)
		}
	}
	return touched, nil
}

func (m *memStore) RecachePolls(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pollID := range ids {
		poll, ok := m.polls[pollID]
		if !ok {
			continue
		}
		commenters := map[int64]bool{}
		for optionID, option := range m.options {
			if option.PollID != pollID {
				continue
			}
			option.NAnswers = 0
			for _, answer := range m.answers {
				if answer.OptionID == optionID && !answer.Deleted && !option.Deleted {
					option.NAnswers++
					if answer.CommentID != nil {
						commenters[*answer.CommentID] = true
					}
				}
			}
			m.options[optionID] = option
		}
		poll.NAnswers = len(commenters)
		m.polls[pollID] = poll
	}
	return nil
}

func (m *memStore) CommentAnswers(_ context.Context, ids []int64) (map[int64][]store.PollAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64][]store.PollAnswer{}
	for _, answer := range m.answers {
		if !answer.Deleted && answer.CommentID != nil && slices.Contains(ids, *answer.CommentID) {
			out[*answer.CommentID] = append(out[*answer.CommentID], answer)
		}
	}
	for id := range out {
		sort.Slice(out[id], func(i, j int) bool {
			a, b := out[id][i], out[id][j]
			if a.PollID != b.PollID {
				return a.PollID < b.PollID
			}
			return a.OptionID < b.OptionID
		})
	}
	return out, nil
}

func (m *memStore) withCreator(c store.Comment) store.Comment {
	if c.CreatedBy != nil {
		if user, ok := m.users[*c.CreatedBy]; ok {
			c.CreatorName = user.DisplayName()
			c.CreatorEmail = user.Email
		}
	}
	return c
}

func (m *memStore) ListComments(_ context.Context, filter store.CommentFilter) ([]store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.Comment{}
	for _, c := range m.comments {
		if c.Deleted && !filter.IncludeDeleted {
			continue
		}
		h := m.hearings[c.HearingID]
		if h.Deleted {
			continue
		}
		admin := filter.Staff || (h.OrganizationID != nil && slices.Contains(filter.AdminOrgIDs, *h.OrganizationID))
		if !admin && !h.Visible(filter.Now) {
			continue
		}
		switch {
		case filter.SectionID != "" && c.SectionID != filter.SectionID,
			filter.HearingID != "" && c.HearingID != filter.HearingID,
			filter.ParentID != nil && (c.ParentID == nil || *c.ParentID != *filter.ParentID),
			filter.CreatedBy != "" && (c.CreatedBy == nil || *c.CreatedBy != filter.CreatedBy),
			filter.LabelID != nil && (c.LabelID == nil || *c.LabelID != *filter.LabelID),
			filter.Pinned != nil && c.Pinned != *filter.Pinned,
			filter.Flagged != nil && (c.FlaggedAt != nil) != *filter.Flagged,
			filter.TopLevel && c.ParentID != nil,
			filter.Since != nil && c.CreatedAt.Before(*filter.Since),
			len(filter.IDs) > 0 && !slices.Contains(filter.IDs, c.ID):
			continue
		}
		out = append(out, m.withCreator(c))
	}
	byVotes := strings.HasSuffix(filter.Ordering, "n_votes")
	descending := strings.HasPrefix(filter.Ordering, "-")
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		if byVotes && out[i].NVotes != out[j].NVotes {
			return (out[i].NVotes < out[j].NVotes) != descending
		}
		if descending {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (m *memStore) GetComment(_ context.Context, id int64) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return store.Comment{}, sql.ErrNoRows
	}
	return m.withCreator(c), nil
}

func (m *memStore) LockComment(ctx context.Context, id int64) (store.Comment, error) {
	return m.GetComment(ctx, id)
}

func (m *memStore) InsertComment(_ context.Context, c store.Comment) (store.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID()
	c.Published = true
	m.stamp(&c.Meta)
	if c.OrganizationID != nil {
		c.OrganizationName = m.orgs[*c.OrganizationID].Name
	}
	m.comments[c.ID] = c
	return c, nil
}

func (m *memStore) UpdateComment(_ context.Context, c store.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.comments[c.ID]
	if !ok || existing.Deleted {
		return nil
	}
	existing.Content = c.Content
	existing.AuthorName = c.AuthorName
	existing.PluginData = c.PluginData
	existing.LabelID = c.LabelID
	existing.GeoJSON = c.GeoJSON
	existing.MapCommentText = c.MapCommentText
	existing.LanguageCode = c.LanguageCode
	existing.ReplyTo = c.ReplyTo
	existing.Pinned = c.Pinned
	existing.Edited = c.Edited
	existing.Moderated = c.Moderated
	existing.OrganizationID = c.OrganizationID
	existing.ModifiedBy = c.ModifiedBy
	m.stamp(&existing.Meta)
	m.comments[c.ID] = existing
	return nil
}

func (m *memStore) SoftDeleteComment(_ context.Context, id int64, moderated bool, reason string, actor *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok || c.Deleted {
		return false, nil
	}
	softDelete(&c.Meta, actor, m.now())
	c.Moderated = moderated
	c.DeleteReason = reason
	m.comments[id] = c
	return true, nil
}

func (m *memStore) RecacheCommentReplies(_ context.Context, parentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent := m.comments[parentID]
	parent.NComments = 0
	for _, c := range m.comments {
		if c.ParentID != nil && *c.ParentID == parentID && !c.Deleted {
			parent.NComments++
		}
	}
	m.comments[parentID] = parent
	return nil
}

func (m *memStore) AddVoter(_ context.Context, id int64, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.voters[id] == nil {
		m.voters[id] = map[string]bool{}
	}
	if m.voters[id][userID] {
		return false, nil
	}
	m.voters[id][userID] = true
	return true, nil
}

func (m *memStore) RemoveVoter(_ context.Context, id int64, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.voters[id][userID] {
		return false, nil
	}
	delete(m.voters[id], userID)
	return true, nil
}

func (m *memStore) IncrementUnregisteredVotes(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.comments[id]
	c.NUnregisteredVotes++
	m.comments[id] = c
	return nil
}

func (m *memStore) RecacheCommentVotes(_ context.Context, id int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.comments[id]
	c.NVotes = c.NUnregisteredVotes + len(m.voters[id])
	m.comments[id] = c
	return c.NVotes, nil
}

func (m *memStore) VotedCommentIDs(_ context.Context, userID string, ids []int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]bool{}
	for _, id := range ids {
		if m.voters[id][userID] {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memStore) FlagComment(_ context.Context, id int64, userID *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.comments[id]
	if c.FlaggedAt != nil || c.Deleted {
		return false, nil
	}
	now := m.now()
	c.FlaggedAt = &now
	c.FlaggedBy = userID
	m.comments[id] = c
	return true, nil
}

func (m *memStore) ListCommentImages(_ context.Context, ids []int64) (map[int64][]store.CommentImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64][]store.CommentImage{}
	for _, image := range m.commentImages {
		if !image.Deleted && slices.Contains(ids, image.CommentID) {
			out[image.CommentID] = append(out[image.CommentID], image)
		}
	}
	return out, nil
}

func (m *memStore) GetCommentImage(_ context.Context, id int64) (store.CommentImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	image, ok := m.commentImages[id]
	if !ok || image.Deleted {
		return store.CommentImage{}, sql.ErrNoRows
	}
	return image, nil
}

func (m *memStore) InsertCommentImage(_ context.Context, image store.CommentImage) (store.CommentImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	image.ID = m.nextID()
	m.stamp(&image.Meta)
	m.commentImages[image.ID] = image
	return image, nil
}

func (m *memStore) SoftDeleteCommentImages(_ context.Context, commentID int64, actor *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, image := range m.commentImages {
		if image.CommentID == commentID && !image.Deleted {
			softDelete(&image.Meta, actor, m.now())
			m.commentImages[id] = image
		}
	}
	return nil
}

func (m *memStore) InsertCommentRevision(_ context.Context, revision store.CommentRevision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	revision.ID = m.nextID()
	revision.CreatedAt = m.now()
	m.revisions = append(m.revisions, revision)
	return nil
}

func (m *memStore) ListCommentRevisions(_ context.Context, commentID int64) ([]store.CommentRevision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []store.CommentRevision{}
	for _, revision := range m.revisions {
		if revision.CommentID == commentID {
			out = append(out, revision)
		}
	}
	return out, nil
}

func (m *memStore) Undelete(_ context.Context, table, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	restore := func(meta *store.Meta) bool {
		if !meta.Deleted {
			return false
		}
		meta.Deleted = false
		meta.DeletedAt = nil
		meta.DeletedBy = nil
		return true
	}
	switch table {
	case "hearings":
		h, ok := m.hearings[id]
		if !ok || !restore(&h.Meta) {
			return false, nil
		}
		m.hearings[id] = h
		return true, nil
	case "section_comments":
		commentID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return false, err
		}
		c, ok := m.comments[commentID]
		if !ok || !restore(&c.Meta) {
			return false, nil
		}
		m.comments[commentID] = c
		return true, nil
	}
	return false, fmt.Errorf("undelete %s: unknown table", table)
}
