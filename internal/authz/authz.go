// Package authz is the single place where roles and account statuses are
// turned into allow/deny decisions. It holds no state.
package authz

import "github.com/boddenberg/franchise-core-go/internal/domain"

// Reason explains a denial.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNoProfile        Reason = "no_profile"
	ReasonRoleNotPermitted Reason = "role_not_permitted"
	ReasonAccountInactive  Reason = "account_not_active"
	ReasonNotOwner         Reason = "not_owner"
)

// Policy is the requirement attached to one operation.
type Policy struct {
	Name string
	// Roles lists the permitted roles. Empty means any role.
	Roles []domain.Role
	// Mutating operations need an active account.
	Mutating bool
	// AllowPending lets pending_activation accounts through a read.
	AllowPending bool
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Authorize evaluates policy against profile.
func Authorize(profile *domain.Profile, policy Policy) Decision {
	if profile == nil {
		return Decision{Reason: ReasonNoProfile}
	}
	if len(policy.Roles) > 0 && !hasRole(policy.Roles, profile.Role) {
		return Decision{Reason: ReasonRoleNotPermitted}
	}

	switch profile.Status {
	case domain.AccountActive:
		return Decision{Allowed: true}
	case domain.AccountPendingActivation:
		if !policy.Mutating && policy.AllowPending {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: ReasonAccountInactive}
}

// Require is Authorize returning *domain.ErrForbidden on denial.
func Require(profile *domain.Profile, policy Policy) error {
	d := Authorize(profile, policy)
	if d.Allowed {
		return nil
	}
	return &domain.ErrForbidden{Action: policy.Name, Reason: string(d.Reason)}
}

// RequireOwner denies access to a record owned by someone else.
func RequireOwner(caller *domain.Caller, ownerID string, policy Policy) error {
	if caller == nil || caller.UserID() != ownerID {
		return &domain.ErrForbidden{Action: policy.Name, Reason: string(ReasonNotOwner)}
	}
	return nil
}

// IsReviewer reports whether role may review applications.
func IsReviewer(role domain.Role) bool {
	return hasRole(reviewers, role)
}

func hasRole(roles []domain.Role, role domain.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
