package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Applications implements port.ApplicationStore.
type Applications struct {
	store port.RecordStore
}

// NewApplications creates an application repository.
func NewApplications(store port.RecordStore) *Applications {
	return &Applications{store: store}
}

var _ port.ApplicationStore = (*Applications)(nil)

func openStatuses() []string {
	var out []string
	for _, s := range domain.AllApplicationStatuses {
		if s.IsOpen() {
			out = append(out, string(s))
		}
	}
	return out
}

func statusStrings(in []domain.ApplicationStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func (r *Applications) CreateApplication(ctx context.Context, app *domain.Application) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Applications.CreateApplication")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", app.UserID))

	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	docs := app.Documents
	if docs == nil {
		docs = []domain.Document{}
	}
	docsJSON, err := jsonColumn(docs)
	if err != nil {
		return nil, fmt.Errorf("encode documents: %w", err)
	}

	row := map[string]any{
		"id":                     app.ID,
		"user_id":                app.UserID,
		"contact_name":           app.ContactName,
		"contact_phone":          app.ContactPhone,
		"contact_email":          app.ContactEmail,
		"intended_city":          app.IntendedCity,
		"investment_amount":      app.InvestmentAmount,
		"experience_description": app.ExperienceDescription,
		"documents":              docsJSON,
		"status":                 app.Status,
		"submitted_at":           app.SubmittedAt.UTC(),
		"updated_at":             app.UpdatedAt.UTC(),
	}

	created, err := insertOne[domain.Application](ctx, r.store, port.TableApplications, row)
	if errors.Is(err, port.ErrUniqueViolation) {
		return nil, &domain.ErrDuplicateOpenApplication{UserID: app.UserID}
	}
	if err != nil {
		return nil, fmt.Errorf("insert application: %w", err)
	}
	return created, nil
}

func (r *Applications) GetApplication(ctx context.Context, id string) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Applications.GetApplication")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", id))

	app, err := selectOne[domain.Application](ctx, r.store, port.TableApplications, port.Query{
		Filters: []port.Filter{port.Eq("id", id)},
	})
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, &domain.ErrNotFound{Resource: "application", ID: id}
	}
	return app, nil
}

func (r *Applications) GetApplicationsByIDs(ctx context.Context, ids []string) ([]domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Applications.GetApplicationsByIDs")
	defer span.End()
	span.SetAttributes(attribute.Int("application.count", len(ids)))

	if len(ids) == 0 {
		return []domain.Application{}, nil
	}
	return selectAll[domain.Application](ctx, r.store, port.TableApplications, port.Query{
		Filters: []port.Filter{port.In("id", ids)},
	})
}

// FindOpenApplication returns nil when the user has no open application.
func (r *Applications) FindOpenApplication(ctx context.Context, userID string) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Applications.FindOpenApplication")
	defer span.End()

	return selectOne[domain.Application](ctx, r.store, port.TableApplications, port.Query{
		Filters: []port.Filter{port.Eq("user_id", userID), port.In("status", openStatuses())},
	})
}

func (r *Applications) ListApplicationsByUser(ctx context.Context, userID string) ([]domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Applications.ListApplicationsByUser")
	defer span.End()

	return selectAll[domain.Application](ctx, r.store, port.TableApplications, port.Query{
		Filters: []port.Filter{port.Eq("user_id", userID)},
		Order:   []port.Order{{Column: "submitted_at", Desc: true}},
	})
}

func (r *Applications) ListApplicationsByStatus(ctx context.Context, statuses []domain.ApplicationStatus, page, pageSize int) ([]domain.Application, error) {
	ctx, span := tracer.Start(ctx, "Applications.ListApplicationsByStatus")
	defer span.End()

	limit, offset := pageQuery(page, pageSize)
	return selectAll[domain.Application](ctx, r.store, port.TableApplications, port.Query{
		Filters: []port.Filter{port.In("status", statusStrings(statuses))},
		Order:   []port.Order{{Column: "submitted_at", Desc: true}},
		Limit:   limit,
		Offset:  offset,
	})
}

func (r *Applications) UpdateApplicationIf(ctx context.Context, id string, expected domain.ApplicationStatus, patch port.ApplicationPatch) (bool, error) {
	ctx, span := tracer.Start(ctx, "Applications.UpdateApplicationIf")
	defer span.End()
	span.SetAttributes(
		attribute.String("application.id", id),
		attribute.String("application.expected_status", string(expected)),
	)

	row := map[string]any{"updated_at": patch.UpdatedAt.UTC()}
	if patch.Status != nil {
		row["status"] = *patch.Status
	}
	if patch.ReviewedAt != nil {
		row["reviewed_at"] = patch.ReviewedAt.UTC()
	}
	if patch.ReviewedByUserID != nil {
		row["reviewed_by_user_id"] = *patch.ReviewedByUserID
	}
	if patch.ReviewNotes != nil {
		row["review_notes"] = *patch.ReviewNotes
	}
	if patch.HQCommentsForApplicant != nil {
		row["hq_comments_for_applicant"] = *patch.HQCommentsForApplicant
	}
	if f := patch.Fields; f != nil {
		row["contact_name"] = f.ContactName
		row["contact_phone"] = f.ContactPhone
		row["contact_email"] = f.ContactEmail
		row["intended_city"] = f.IntendedCity
		row["investment_amount"] = f.InvestmentAmount
		row["experience_description"] = f.ExperienceDescription
	}
	if patch.Documents != nil {
		docs, err := jsonColumn(patch.Documents)
		if err != nil {
			return false, fmt.Errorf("encode documents: %w", err)
		}
		row["documents"] = docs
	}

	n, err := r.store.Update(ctx, port.TableApplications,
		[]port.Filter{port.Eq("id", id), port.Eq("status", string(expected))}, row)
	if err != nil {
		return false, fmt.Errorf("update application: %w", err)
	}
	return n > 0, nil
}
