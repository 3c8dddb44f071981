package app

import (
	"slices"
	"time"

	"kerrokantasi/api/internal/audit"
	"kerrokantasi/api/internal/rbac"
	"kerrokantasi/api/internal/store"
)

// Actor is the caller of a service operation. The zero value is an
// anonymous visitor.
type Actor struct {
	User       *store.User
	StrongAuth bool
	AdminOrgs  []store.Organization
	IP         string

	TokenJTI       string
	TokenExpiresAt time.Time
}

func (a Actor) Authenticated() bool {
	return a.User != nil
}

func (a Actor) UserID() *string {
	if a.User == nil {
		return nil
	}
	id := a.User.ID
	return &id
}

// Staff covers both staff and superusers; they administer every
// organization.
func (a Actor) Staff() bool {
	return a.User != nil && (a.User.IsStaff || a.User.IsSuperuser)
}

// IsAdmin reports whether the actor administers at least one organization.
func (a Actor) IsAdmin() bool {
	return a.Staff() || len(a.AdminOrgs) > 0
}

// AdminOf reports whether the actor administers organizationID.
func (a Actor) AdminOf(organizationID *int64) bool {
	if a.Staff() {
		return true
	}
	if organizationID == nil {
		return false
	}
	return slices.Contains(a.adminOrgIDs(), *organizationID)
}

func (a Actor) adminOrgIDs() []int64 {
	ids := make([]int64, 0, len(a.AdminOrgs))
	for _, org := range a.AdminOrgs {
		ids = append(ids, org.ID)
	}
	return ids
}

// primaryOrganization is the organization recorded on comments written by
// an organization admin.
func (a Actor) primaryOrganization() *store.Organization {
	if len(a.AdminOrgs) == 0 {
		return nil
	}
	org := a.AdminOrgs[0]
	return &org
}

func (a Actor) subject() rbac.Subject {
	return rbac.Subject{
		Authenticated:     a.Authenticated(),
		StrongAuth:        a.StrongAuth,
		OrganizationAdmin: a.IsAdmin(),
	}
}

func (a Actor) auditActor() audit.Actor {
	role := audit.RoleAnonymous
	switch {
	case a.Staff():
		role = audit.RoleAdmin
	case a.Authenticated():
		role = audit.RoleUser
	}
	return audit.Actor{Role: role, UUID: a.UserID(), IPAddress: a.IP}
}
