package domain

import "time"

// ============================================================
// Principals & profiles
// ============================================================

// Role is the authorization role carried by a profile.
type Role string

const (
	RoleApplicant    Role = "applicant"
	RoleFranchisee   Role = "franchisee"
	RoleHQRecruiter  Role = "hq_recruiter"
	RoleHQOps        Role = "hq_ops"
	RoleHQSupervisor Role = "hq_supervisor"
	RoleHQFinance    Role = "hq_finance"
	RoleAdmin        Role = "admin"
)

// AllRoles lists every role known to the directory.
var AllRoles = []Role{
	RoleApplicant, RoleFranchisee, RoleHQRecruiter, RoleHQOps,
	RoleHQSupervisor, RoleHQFinance, RoleAdmin,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// AccountStatus is independent of the role.
type AccountStatus string

const (
	AccountPendingActivation AccountStatus = "pending_activation"
	AccountActive            AccountStatus = "active"
	AccountDisabled          AccountStatus = "disabled"
	AccountRejected          AccountStatus = "rejected"
)

// AllAccountStatuses lists every account status.
var AllAccountStatuses = []AccountStatus{
	AccountPendingActivation, AccountActive, AccountDisabled, AccountRejected,
}

func (s AccountStatus) Valid() bool {
	for _, known := range AllAccountStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Principal is an authenticated identity as asserted by the identity provider.
type Principal struct {
	ID       string    `json:"id"`
	Email    string    `json:"email,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// Profile is the directory record for a principal.
type Profile struct {
	ID             string        `json:"id"`
	FullName       string        `json:"full_name"`
	Email          *string       `json:"email,omitempty"`
	Phone          *string       `json:"phone,omitempty"`
	Role           Role          `json:"role"`
	Status         AccountStatus `json:"status"`
	OrganizationID *string       `json:"organization_id,omitempty"`
	Region         *string       `json:"region,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Caller is the principal and profile that issued the current request.
// It is resolved once per request and passed explicitly to services.
type Caller struct {
	Principal Principal
	Profile   *Profile
}

// UserID returns the principal id of the caller.
func (c *Caller) UserID() string {
	if c == nil {
		return ""
	}
	return c.Principal.ID
}

// Role returns the caller's role, or "" when no profile is attached.
func (c *Caller) Role() Role {
	if c == nil || c.Profile == nil {
		return ""
	}
	return c.Profile.Role
}

// RegisterRequest is the self-registration payload.
type RegisterRequest struct {
	FullName string  `json:"full_name"`
	Phone    *string `json:"phone,omitempty"`
	Region   *string `json:"region,omitempty"`
}

// RoleChangeRequest is the admin payload for changing a role.
type RoleChangeRequest struct {
	Role Role `json:"role"`
}

// StatusChangeRequest is the admin payload for changing an account status.
type StatusChangeRequest struct {
	Status AccountStatus `json:"status"`
}
