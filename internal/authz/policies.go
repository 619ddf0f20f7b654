package authz

import "github.com/boddenberg/franchise-core-go/internal/domain"

var (
	applicants     = []domain.Role{domain.RoleApplicant}
	reviewers      = []domain.Role{domain.RoleHQRecruiter, domain.RoleAdmin}
	templateAdmins = []domain.Role{domain.RoleHQRecruiter, domain.RoleAdmin}
	admins         = []domain.Role{domain.RoleAdmin}
)

// Named policies. Call sites refer to these instead of role literals.
var (
	ViewOwnProfile = Policy{Name: "view_own_profile", AllowPending: true}

	SubmitApplication   = Policy{Name: "submit_application", Roles: applicants, Mutating: true}
	AmendApplication    = Policy{Name: "amend_application", Roles: applicants, Mutating: true}
	ViewOwnApplications = Policy{Name: "view_own_applications", Roles: applicants, AllowPending: true}

	ReviewApplications = Policy{Name: "review_applications", Roles: reviewers}
	DecideApplication  = Policy{Name: "decide_application", Roles: reviewers, Mutating: true}

	ViewContractTemplate = Policy{Name: "view_contract_template", Roles: applicants, AllowPending: true}
	ManageTemplates      = Policy{Name: "manage_templates", Roles: templateAdmins, Mutating: true}
	ListTemplates        = Policy{Name: "list_templates", Roles: templateAdmins}

	SignContract     = Policy{Name: "sign_contract", Roles: applicants, Mutating: true}
	ViewOwnContracts = Policy{Name: "view_own_contracts", Roles: applicants, AllowPending: true}
	ViewAnyContract  = Policy{Name: "view_any_contract", Roles: reviewers}

	ListProfiles      = Policy{Name: "list_profiles", Roles: admins}
	ManageProfiles    = Policy{Name: "manage_profiles", Roles: admins, Mutating: true}
	RunReconciliation = Policy{Name: "run_reconciliation", Roles: admins, Mutating: true}
	ViewMetrics       = Policy{Name: "view_metrics", Roles: admins}
)
