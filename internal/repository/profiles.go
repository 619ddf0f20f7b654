package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
)

// Profiles implements port.ProfileStore.
type Profiles struct {
	store port.RecordStore
}

// NewProfiles creates a profile repository.
func NewProfiles(store port.RecordStore) *Profiles {
	return &Profiles{store: store}
}

var _ port.ProfileStore = (*Profiles)(nil)

func (r *Profiles) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Profiles.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("profile.id", id))

	p, err := selectOne[domain.Profile](ctx, r.store, port.TableProfiles, port.Query{
		Filters: []port.Filter{port.Eq("id", id)},
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: id}
	}
	return p, nil
}

func (r *Profiles) CreateProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Profiles.CreateProfile")
	defer span.End()

	row := map[string]any{
		"id":         p.ID,
		"full_name":  p.FullName,
		"role":       p.Role,
		"status":     p.Status,
		"created_at": p.CreatedAt.UTC(),
		"updated_at": p.UpdatedAt.UTC(),
	}
	if p.Email != nil {
		row["email"] = *p.Email
	}
	if p.Phone != nil {
		row["phone"] = *p.Phone
	}
	if p.Region != nil {
		row["region"] = *p.Region
	}
	if p.OrganizationID != nil {
		row["organization_id"] = *p.OrganizationID
	}

	created, err := insertOne[domain.Profile](ctx, r.store, port.TableProfiles, row)
	if errors.Is(err, port.ErrUniqueViolation) {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("profile already exists: %s", p.ID)}
	}
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	return created, nil
}

func (r *Profiles) ListProfiles(ctx context.Context, page, pageSize int) ([]domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Profiles.ListProfiles")
	defer span.End()

	limit, offset := pageQuery(page, pageSize)
	return selectAll[domain.Profile](ctx, r.store, port.TableProfiles, port.Query{
		Order:  []port.Order{{Column: "created_at", Desc: true}},
		Limit:  limit,
		Offset: offset,
	})
}

func (r *Profiles) UpdateProfileRole(ctx context.Context, id string, role domain.Role, at time.Time) error {
	ctx, span := tracer.Start(ctx, "Profiles.UpdateProfileRole")
	defer span.End()

	return r.update(ctx, id, map[string]any{"role": role, "updated_at": at.UTC()})
}

func (r *Profiles) UpdateProfileStatus(ctx context.Context, id string, status domain.AccountStatus, at time.Time) error {
	ctx, span := tracer.Start(ctx, "Profiles.UpdateProfileStatus")
	defer span.End()

	return r.update(ctx, id, map[string]any{"status": status, "updated_at": at.UTC()})
}

func (r *Profiles) update(ctx context.Context, id string, patch map[string]any) error {
	n, err := r.store.Update(ctx, port.TableProfiles, []port.Filter{port.Eq("id", id)}, patch)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: "profile", ID: id}
	}
	return nil
}
