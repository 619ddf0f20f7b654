package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Contract templates
// ============================================================

// Templates implements port.TemplateStore.
type Templates struct {
	store port.RecordStore
}

// NewTemplates creates a template repository.
func NewTemplates(store port.RecordStore) *Templates {
	return &Templates{store: store}
}

var _ port.TemplateStore = (*Templates)(nil)

func (r *Templates) CreateTemplate(ctx context.Context, t *domain.ContractTemplate) (*domain.ContractTemplate, error) {
	ctx, span := tracer.Start(ctx, "Templates.CreateTemplate")
	defer span.End()

	// Version 7 ids grow with creation time, so they order templates that
	// share a created_at.
	if t.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("template id: %w", err)
		}
		t.ID = id.String()
	}
	row := map[string]any{
		"id":                  t.ID,
		"name":                t.Name,
		"description":         t.Description,
		"file_name":           t.FileName,
		"storage_path":        t.StoragePath,
		"status":              t.Status,
		"uploaded_by_user_id": t.UploadedByUserID,
		"created_at":          t.CreatedAt.UTC(),
	}
	created, err := insertOne[domain.ContractTemplate](ctx, r.store, port.TableTemplates, row)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	return created, nil
}

func (r *Templates) GetTemplate(ctx context.Context, id string) (*domain.ContractTemplate, error) {
	ctx, span := tracer.Start(ctx, "Templates.GetTemplate")
	defer span.End()
	span.SetAttributes(attribute.String("template.id", id))

	t, err := selectOne[domain.ContractTemplate](ctx, r.store, port.TableTemplates, port.Query{
		Filters: []port.Filter{port.Eq("id", id)},
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &domain.ErrNotFound{Resource: "contract_template", ID: id}
	}
	return t, nil
}

func (r *Templates) ListTemplates(ctx context.Context, status domain.TemplateStatus) ([]domain.ContractTemplate, error) {
	ctx, span := tracer.Start(ctx, "Templates.ListTemplates")
	defer span.End()

	q := port.Query{Order: []port.Order{{Column: "created_at"}, {Column: "id"}}}
	if status != "" {
		q.Filters = []port.Filter{port.Eq("status", string(status))}
	}
	return selectAll[domain.ContractTemplate](ctx, r.store, port.TableTemplates, q)
}

// ArchiveTemplateIf archives an active template. It reports false when the
// template was not active.
func (r *Templates) ArchiveTemplateIf(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Templates.ArchiveTemplateIf")
	defer span.End()

	n, err := r.store.Update(ctx, port.TableTemplates,
		[]port.Filter{port.Eq("id", id), port.Eq("status", string(domain.TemplateActive))},
		map[string]any{"status": domain.TemplateArchived})
	if err != nil {
		return false, fmt.Errorf("archive template: %w", err)
	}
	return n > 0, nil
}

// ============================================================
// Signed contracts
// ============================================================

// Contracts implements port.ContractStore.
type Contracts struct {
	store port.RecordStore
}

// NewContracts creates a signed contract repository.
func NewContracts(store port.RecordStore) *Contracts {
	return &Contracts{store: store}
}

var _ port.ContractStore = (*Contracts)(nil)

func (r *Contracts) CreateSignedContract(ctx context.Context, c *domain.SignedContract) (*domain.SignedContract, error) {
	ctx, span := tracer.Start(ctx, "Contracts.CreateSignedContract")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", c.ApplicationID))

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := map[string]any{
		"id":              c.ID,
		"application_id":  c.ApplicationID,
		"user_id":         c.UserID,
		"signature_url":   c.SignatureURL,
		"contract_number": c.ContractNumber,
		"signed_at":       c.SignedAt.UTC(),
		"status":          c.Status,
	}

	created, err := insertOne[domain.SignedContract](ctx, r.store, port.TableSignedContracts, row)
	if errors.Is(err, port.ErrUniqueViolation) {
		if strings.Contains(err.Error(), "contract_number") {
			return nil, &domain.ErrConflict{Message: fmt.Sprintf("contract number already issued: %s", c.ContractNumber)}
		}
		return nil, &domain.ErrDuplicateContract{ApplicationID: c.ApplicationID}
	}
	if err != nil {
		return nil, fmt.Errorf("insert signed contract: %w", err)
	}
	return created, nil
}

func (r *Contracts) GetSignedContract(ctx context.Context, id string) (*domain.SignedContract, error) {
	ctx, span := tracer.Start(ctx, "Contracts.GetSignedContract")
	defer span.End()

	c, err := selectOne[domain.SignedContract](ctx, r.store, port.TableSignedContracts, port.Query{
		Filters: []port.Filter{port.Eq("id", id)},
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &domain.ErrNotFound{Resource: "signed_contract", ID: id}
	}
	return c, nil
}

// FindContractByApplication returns nil when no contract exists yet.
func (r *Contracts) FindContractByApplication(ctx context.Context, applicationID string) (*domain.SignedContract, error) {
	ctx, span := tracer.Start(ctx, "Contracts.FindContractByApplication")
	defer span.End()

	return selectOne[domain.SignedContract](ctx, r.store, port.TableSignedContracts, port.Query{
		Filters: []port.Filter{port.Eq("application_id", applicationID)},
	})
}

func (r *Contracts) ListContractsByUser(ctx context.Context, userID string) ([]domain.SignedContract, error) {
	ctx, span := tracer.Start(ctx, "Contracts.ListContractsByUser")
	defer span.End()

	return selectAll[domain.SignedContract](ctx, r.store, port.TableSignedContracts, port.Query{
		Filters: []port.Filter{port.Eq("user_id", userID)},
		Order:   []port.Order{{Column: "signed_at", Desc: true}},
	})
}

func (r *Contracts) ListSignedContracts(ctx context.Context, page, pageSize int) ([]domain.SignedContract, error) {
	ctx, span := tracer.Start(ctx, "Contracts.ListSignedContracts")
	defer span.End()

	limit, offset := pageQuery(page, pageSize)
	return selectAll[domain.SignedContract](ctx, r.store, port.TableSignedContracts, port.Query{
		Order:  []port.Order{{Column: "signed_at"}, {Column: "id"}},
		Limit:  limit,
		Offset: offset,
	})
}
