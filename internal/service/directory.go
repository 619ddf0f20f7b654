package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/authz"
	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/cache"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Request principal
// ============================================================

type principalKey struct{}

// WithPrincipal attaches the authenticated principal to ctx.
func WithPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// ResolveCurrentPrincipal returns the principal of the current request, if any.
func ResolveCurrentPrincipal(ctx context.Context) (*domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*domain.Principal)
	return p, ok && p != nil
}

// ============================================================
// Directory
// ============================================================

// Directory maps principals to profiles and manages them.
type Directory struct {
	profiles port.ProfileStore
	gate     gate
	logger   *zap.Logger
	now      func() time.Time
}

// NewDirectory creates the principal directory.
func NewDirectory(profiles port.ProfileStore, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Directory {
	o := buildOptions(opts)
	return &Directory{
		profiles: profiles,
		gate:     gate{metrics: metrics, logger: logger},
		logger:   logger,
		now:      o.now,
	}
}

func profileKey(id string) string { return "profile:" + id }

// LoadProfile reads the profile of principalID. Within one request the
// result is memoized when the request carries a cache scope.
func (d *Directory) LoadProfile(ctx context.Context, principalID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Directory.LoadProfile")
	defer span.End()
	span.SetAttributes(attribute.String("profile.id", principalID))

	p, hit, err := cache.GetOrLoad(ctx, profileKey(principalID), func(ctx context.Context) (*domain.Profile, error) {
		return d.profiles.GetProfile(ctx, principalID)
	})
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	return p, err
}

// CurrentCaller resolves the principal and profile of the request.
// An authenticated principal without a profile yields *ErrProfileMissing.
func (d *Directory) CurrentCaller(ctx context.Context) (*domain.Caller, error) {
	ctx, span := tracer.Start(ctx, "Directory.CurrentCaller")
	defer span.End()

	principal, ok := ResolveCurrentPrincipal(ctx)
	if !ok {
		return nil, &domain.ErrUnauthorized{Message: "authentication required"}
	}

	profile, err := d.LoadProfile(ctx, principal.ID)
	if domain.KindOf(err) == domain.KindNotFound {
		return nil, &domain.ErrProfileMissing{PrincipalID: principal.ID}
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return &domain.Caller{Principal: *principal, Profile: profile}, nil
}

// Me returns the caller's own profile.
func (d *Directory) Me(ctx context.Context, caller *domain.Caller) (*domain.Profile, error) {
	if err := d.gate.require(ctx, caller, authz.ViewOwnProfile); err != nil {
		return nil, err
	}
	return caller.Profile, nil
}

// Register creates the default profile for a principal that has none:
// role applicant, status pending_activation.
func (d *Directory) Register(ctx context.Context, principal *domain.Principal, req domain.RegisterRequest) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Directory.Register")
	defer span.End()

	if principal == nil {
		return nil, &domain.ErrUnauthorized{Message: "authentication required"}
	}
	name := strings.TrimSpace(req.FullName)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "full_name", Message: "full name is required"}
	}

	now := d.now().UTC()
	p := &domain.Profile{
		ID:        principal.ID,
		FullName:  name,
		Phone:     req.Phone,
		Region:    req.Region,
		Role:      domain.RoleApplicant,
		Status:    domain.AccountPendingActivation,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if principal.Email != "" {
		p.Email = strPtr(principal.Email)
	}

	created, err := d.profiles.CreateProfile(ctx, p)
	if err != nil {
		return nil, err
	}
	if s := cache.FromContext[*domain.Profile](ctx); s != nil {
		s.Delete(profileKey(principal.ID))
	}

	d.logger.Info("profile registered",
		zap.String("user_id", created.ID),
		zap.String("role", string(created.Role)),
		zap.String("status", string(created.Status)),
	)
	return created, nil
}

// ListProfiles pages through every profile, newest first.
func (d *Directory) ListProfiles(ctx context.Context, caller *domain.Caller, page, pageSize int) ([]domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Directory.ListProfiles")
	defer span.End()

	if err := d.gate.require(ctx, caller, authz.ListProfiles); err != nil {
		return nil, err
	}
	return d.profiles.ListProfiles(ctx, page, pageSize)
}

// ChangeRole assigns a new role. Admins cannot change their own role.
func (d *Directory) ChangeRole(ctx context.Context, caller *domain.Caller, profileID string, role domain.Role) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Directory.ChangeRole")
	defer span.End()
	span.SetAttributes(attribute.String("profile.id", profileID), attribute.String("profile.role", string(role)))

	if err := d.gate.require(ctx, caller, authz.ManageProfiles); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, &domain.ErrValidation{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}
	if profileID == caller.UserID() {
		return nil, &domain.ErrValidation{Field: "id", Message: "cannot change your own role"}
	}

	if err := d.profiles.UpdateProfileRole(ctx, profileID, role, d.now().UTC()); err != nil {
		return nil, err
	}
	d.logger.Info("profile role changed",
		zap.String("user_id", profileID),
		zap.String("role", string(role)),
		zap.String("changed_by", caller.UserID()),
	)
	return d.profiles.GetProfile(ctx, profileID)
}

// ChangeStatus activates, disables or rejects an account. Admins cannot
// change their own status.
func (d *Directory) ChangeStatus(ctx context.Context, caller *domain.Caller, profileID string, status domain.AccountStatus) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Directory.ChangeStatus")
	defer span.End()
	span.SetAttributes(attribute.String("profile.id", profileID), attribute.String("profile.status", string(status)))

	if err := d.gate.require(ctx, caller, authz.ManageProfiles); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, &domain.ErrValidation{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	if profileID == caller.UserID() {
		return nil, &domain.ErrValidation{Field: "id", Message: "cannot change your own status"}
	}

	if err := d.profiles.UpdateProfileStatus(ctx, profileID, status, d.now().UTC()); err != nil {
		return nil, err
	}
	d.logger.Info("profile status changed",
		zap.String("user_id", profileID),
		zap.String("status", string(status)),
		zap.String("changed_by", caller.UserID()),
	)
	return d.profiles.GetProfile(ctx, profileID)
}
