// Package rbac decides whether an actor may perform a participation action
// under a section's commenting or voting policy.
package rbac

type Policy string

const (
	PolicyNone       Policy = "none"
	PolicyRegistered Policy = "registered"
	PolicyOpen       Policy = "open"
	PolicyStrong     Policy = "strong"
)

type Action string

const (
	ActionComment Action = "comment"
	ActionVote    Action = "vote"
	ActionAnswer  Action = "answer"
)

// Decision is the outcome of a policy check.
type Decision int

const (
	Allowed Decision = iota
	Disabled
	AuthRequired
	StrongAuthRequired
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Disabled:
		return "disabled"
	case AuthRequired:
		return "auth_required"
	case StrongAuthRequired:
		return "strong_auth_required"
	default:
		return "unknown"
	}
}

// Subject is the slice of actor state the policies look at.
type Subject struct {
	Authenticated bool
	StrongAuth    bool
	// OrganizationAdmin is true for admins of any organization; they pass
	// the strong requirement without a strong login.
	OrganizationAdmin bool
}

func Check(policy Policy, subject Subject) Decision {
	switch policy {
	case PolicyOpen:
		return Allowed
	case PolicyRegistered:
		if !subject.Authenticated {
			return AuthRequired
		}
		return Allowed
	case PolicyStrong:
		if !subject.Authenticated {
			return AuthRequired
		}
		if !subject.StrongAuth && !subject.OrganizationAdmin {
			return StrongAuthRequired
		}
		return Allowed
	default:
		return Disabled
	}
}

// Normalize maps stored or submitted policy names onto a Policy. Unknown
// values fall back to none.
func Normalize(value string) Policy {
	switch Policy(value) {
	case PolicyNone, PolicyRegistered, PolicyOpen, PolicyStrong:
		return Policy(value)
	default:
		return PolicyNone
	}
}

func Valid(value string) bool {
	return Normalize(value) == Policy(value)
}
