package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"kerrokantasi/api/internal/audit"
	"kerrokantasi/api/internal/store"
)

type LabelInput struct {
	Label json.RawMessage `json:"label"`
}

type ContactPersonInput struct {
	Name         string          `json:"name"`
	Title        json.RawMessage `json:"title"`
	Phone        string          `json:"phone"`
	Email        string          `json:"email"`
	Organization *string         `json:"organization"`
}

func (s *Service) ListLabels(ctx context.Context) ([]LabelView, error) {
	labels, err := s.store.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]LabelView, 0, len(labels))
	for _, label := range labels {
		views = append(views, s.labelView(label))
	}
	return views, nil
}

func (s *Service) CreateLabel(ctx context.Context, actor Actor, input LabelInput) (LabelView, error) {
	if err := requireAdmin(actor); err != nil {
		return LabelView{}, err
	}
	text, err := s.parseText("label", input.Label)
	if err != nil {
		return LabelView{}, err
	}
	if !text.HasContent() {
		return LabelView{}, errValidation("A label needs text in at least one language", map[string]any{"field": "label"})
	}
	label := store.Label{Label: text}
	label.CreatedBy = actor.UserID()
	created, err := s.store.InsertLabel(ctx, label)
	if err != nil {
		return LabelView{}, err
	}
	audit.Track(ctx, created)
	return s.labelView(created), nil
}

// ListContactPersons is restricted to organization admins; contact details
// reach the public only through hearings.
func (s *Service) ListContactPersons(ctx context.Context, actor Actor) ([]ContactPersonView, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	contacts, err := s.store.ListContactPersons(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]ContactPersonView, 0, len(contacts))
	for _, contact := range contacts {
		views = append(views, s.contactView(contact))
	}
	audit.Track(ctx, contacts...)
	return views, nil
}

func (s *Service) CreateContactPerson(ctx context.Context, actor Actor, input ContactPersonInput) (ContactPersonView, error) {
	contact, err := s.prepareContactPerson(ctx, actor, store.ContactPerson{}, input)
	if err != nil {
		return ContactPersonView{}, err
	}
	contact.CreatedBy = actor.UserID()
	created, err := s.store.InsertContactPerson(ctx, contact)
	if err != nil {
		return ContactPersonView{}, err
	}
	audit.Track(ctx, created)
	created.Organization = contact.Organization
	return s.contactView(created), nil
}

func (s *Service) UpdateContactPerson(ctx context.Context, actor Actor, id int64, input ContactPersonInput) (ContactPersonView, error) {
	if err := requireAdmin(actor); err != nil {
		return ContactPersonView{}, err
	}
	existing, err := s.store.GetContactPerson(ctx, id)
	if err != nil {
		return ContactPersonView{}, notFoundOr(err)
	}
	if existing.OrganizationID != nil && !actor.AdminOf(existing.OrganizationID) {
		return ContactPersonView{}, errPermissionDenied("The contact person belongs to another organization")
	}
	contact, err := s.prepareContactPerson(ctx, actor, existing, input)
	if err != nil {
		return ContactPersonView{}, err
	}
	contact.ModifiedBy = actor.UserID()
	updated, err := s.store.UpdateContactPerson(ctx, contact)
	if err != nil {
		return ContactPersonView{}, err
	}
	if !updated {
		return ContactPersonView{}, errNotFound()
	}
	audit.Track(ctx, contact)
	return s.contactView(contact), nil
}

func (s *Service) prepareContactPerson(ctx context.Context, actor Actor, contact store.ContactPerson, input ContactPersonInput) (store.ContactPerson, error) {
	if err := requireAdmin(actor); err != nil {
		return contact, err
	}
	contact.Name = strings.TrimSpace(input.Name)
	if contact.Name == "" {
		return contact, errValidation("Name is required", map[string]any{"field": "name"})
	}
	title, err := s.parseText("title", input.Title)
	if err != nil {
		return contact, err
	}
	contact.Title = title
	contact.Phone = strings.TrimSpace(input.Phone)
	contact.Email = strings.TrimSpace(input.Email)

	switch {
	case input.Organization != nil && *input.Organization != "":
		org, err := s.store.GetOrganizationByName(ctx, *input.Organization)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return contact, errValidation("Unknown organization", map[string]any{"field": "organization"})
			}
			return contact, err
		}
		if !actor.AdminOf(&org.ID) {
			return contact, errPermissionDenied("You do not administer that organization")
		}
		contact.OrganizationID = &org.ID
		contact.Organization = org.Name
	case contact.OrganizationID == nil:
		if org := actor.primaryOrganization(); org != nil {
			contact.OrganizationID = &org.ID
			contact.Organization = org.Name
		}
	}
	return contact, nil
}

func (s *Service) ListProjects(ctx context.Context) ([]ProjectView, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	phaseIDs := []int64{}
	for _, project := range projects {
		for _, phase := range project.Phases {
			phaseIDs = append(phaseIDs, phase.ID)
		}
	}
	inUse, err := s.store.PhasesInUse(ctx, phaseIDs, "")
	if err != nil {
		return nil, err
	}
	views := make([]ProjectView, 0, len(projects))
	for _, project := range projects {
		views = append(views, s.projectView(project, nil, inUse))
	}
	return views, nil
}

func (s *Service) ListOrganizations(ctx context.Context) ([]OrganizationView, error) {
	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]OrganizationView, 0, len(orgs))
	for _, org := range orgs {
		views = append(views, OrganizationView{ID: org.ID, Name: org.Name})
	}
	return views, nil
}
