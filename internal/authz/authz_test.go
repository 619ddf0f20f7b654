package authz_test

import (
	"math/rand"
	"testing"

	"github.com/boddenberg/franchise-core-go/internal/authz"
	"github.com/boddenberg/franchise-core-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func profile(role domain.Role, status domain.AccountStatus) *domain.Profile {
	return &domain.Profile{ID: "u-1", Role: role, Status: status}
}

func TestAuthorize_NoProfile(t *testing.T) {
	d := authz.Authorize(nil, authz.ViewOwnProfile)
	assert.False(t, d.Allowed)
	assert.Equal(t, authz.ReasonNoProfile, d.Reason)
}

func TestAuthorize_DisabledAdminDeniedEverywhere(t *testing.T) {
	p := profile(domain.RoleAdmin, domain.AccountDisabled)
	for _, pol := range []authz.Policy{
		authz.ListProfiles, authz.ManageProfiles, authz.DecideApplication,
		authz.ReviewApplications, authz.ManageTemplates, authz.ViewOwnProfile,
	} {
		d := authz.Authorize(p, pol)
		assert.False(t, d.Allowed, pol.Name)
		assert.Equal(t, authz.ReasonAccountInactive, d.Reason, pol.Name)
	}
}

func TestAuthorize_PendingApplicant(t *testing.T) {
	p := profile(domain.RoleApplicant, domain.AccountPendingActivation)

	assert.True(t, authz.Authorize(p, authz.ViewOwnApplications).Allowed)
	assert.False(t, authz.Authorize(p, authz.SubmitApplication).Allowed)
	assert.False(t, authz.Authorize(p, authz.SignContract).Allowed)
}

func TestRequire_ReturnsForbidden(t *testing.T) {
	err := authz.Require(profile(domain.RoleApplicant, domain.AccountActive), authz.DecideApplication)
	require.Error(t, err)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
	assert.Contains(t, err.Error(), string(authz.ReasonRoleNotPermitted))

	assert.NoError(t, authz.Require(profile(domain.RoleHQRecruiter, domain.AccountActive), authz.DecideApplication))
}

func TestIsReviewer(t *testing.T) {
	assert.True(t, authz.IsReviewer(domain.RoleHQRecruiter))
	assert.True(t, authz.IsReviewer(domain.RoleAdmin))
	assert.False(t, authz.IsReviewer(domain.RoleHQOps))
	assert.False(t, authz.IsReviewer(domain.RoleApplicant))
}

// expected restates the rule independently of the implementation.
func expected(p *domain.Profile, pol authz.Policy) bool {
	if p == nil {
		return false
	}
	roleOK := len(pol.Roles) == 0
	for _, r := range pol.Roles {
		if r == p.Role {
			roleOK = true
		}
	}
	if !roleOK {
		return false
	}
	if p.Status == domain.AccountActive {
		return true
	}
	return p.Status == domain.AccountPendingActivation && !pol.Mutating && pol.AllowPending
}

// Exhaustive over every (role, status, required subset, flags) combination
// plus random subsets.
func TestAuthorize_Exhaustive(t *testing.T) {
	roles := domain.AllRoles
	rng := rand.New(rand.NewSource(7))

	subsets := [][]domain.Role{nil}
	for _, r := range roles {
		subsets = append(subsets, []domain.Role{r})
	}
	for i := 0; i < 64; i++ {
		var s []domain.Role
		for _, r := range roles {
			if rng.Intn(2) == 0 {
				s = append(s, r)
			}
		}
		subsets = append(subsets, s)
	}

	for _, role := range roles {
		for _, status := range domain.AllAccountStatuses {
			p := profile(role, status)
			for _, set := range subsets {
				for _, mutating := range []bool{false, true} {
					for _, pending := range []bool{false, true} {
						pol := authz.Policy{Name: "fuzz", Roles: set, Mutating: mutating, AllowPending: pending}
						got := authz.Authorize(p, pol)
						require.Equal(t, expected(p, pol), got.Allowed,
							"role=%s status=%s roles=%v mutating=%v pending=%v", role, status, set, mutating, pending)
						if !got.Allowed {
							assert.NotEqual(t, authz.ReasonNone, got.Reason)
						}
					}
				}
			}
		}
	}
}
