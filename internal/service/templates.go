package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/authz"
	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// TemplateService resolves and manages contract templates.
type TemplateService struct {
	templates port.TemplateStore
	apps      *ApplicationService
	docs      *DocumentManager
	gate      gate
	logger    *zap.Logger
	now       func() time.Time
}

// NewTemplateService creates the template resolver.
func NewTemplateService(templates port.TemplateStore, apps *ApplicationService, docs *DocumentManager, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *TemplateService {
	o := buildOptions(opts)
	return &TemplateService{
		templates: templates,
		apps:      apps,
		docs:      docs,
		gate:      gate{metrics: metrics, logger: logger},
		logger:    logger,
		now:       o.now,
	}
}

// newest picks the template with the latest created_at. list is ordered by
// (created_at, id) and ids are time-ordered, so on equal timestamps the
// later-inserted template wins.
func newest(list []domain.ContractTemplate) *domain.ContractTemplate {
	var best *domain.ContractTemplate
	for i := range list {
		if best == nil || !list[i].CreatedAt.Before(best.CreatedAt) {
			best = &list[i]
		}
	}
	return best
}

func (s *TemplateService) withURL(t *domain.ContractTemplate) *domain.ContractTemplate {
	t.FileURL = s.docs.Locate(BucketContractTemplates, t.StoragePath)
	return t
}

// activeTemplate returns the template offered to applicants right now.
func (s *TemplateService) activeTemplate(ctx context.Context) (*domain.ContractTemplate, error) {
	active, err := s.templates.ListTemplates(ctx, domain.TemplateActive)
	if err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	t := newest(active)
	if t == nil {
		return nil, &domain.ErrNoActiveTemplate{}
	}
	return s.withURL(t), nil
}

// ResolveActiveTemplate returns the template to present for an approved
// application.
func (s *TemplateService) ResolveActiveTemplate(ctx context.Context, caller *domain.Caller, applicationID string) (*domain.ContractTemplate, error) {
	return s.ResolveTemplate(ctx, caller, applicationID, "")
}

// ResolveTemplate is ResolveActiveTemplate with an optional pinned
// template id. A pinned template must still be active.
func (s *TemplateService) ResolveTemplate(ctx context.Context, caller *domain.Caller, applicationID, templateID string) (*domain.ContractTemplate, error) {
	ctx, span := tracer.Start(ctx, "TemplateService.ResolveTemplate")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", applicationID))

	app, err := s.apps.getVisible(ctx, caller, applicationID, authz.ViewContractTemplate)
	if err != nil {
		return nil, err
	}
	if app.Status != domain.ApplicationApproved && app.Status != domain.ApplicationContracted {
		return nil, &domain.ErrInvalidTransition{From: app.Status, To: domain.ApplicationContracted}
	}

	if templateID == "" {
		return s.activeTemplate(ctx)
	}
	t, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TemplateActive {
		return nil, &domain.ErrNoActiveTemplate{}
	}
	return s.withURL(t), nil
}

// Upload stores a new active template. The file is removed again when the
// record cannot be written.
func (s *TemplateService) Upload(ctx context.Context, caller *domain.Caller, req domain.TemplateUpload) (*domain.ContractTemplate, error) {
	ctx, span := tracer.Start(ctx, "TemplateService.Upload")
	defer span.End()

	if err := s.gate.require(ctx, caller, authz.ManageTemplates); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "template name is required"}
	}

	obj, err := s.docs.UploadTemplateFile(ctx, req.File)
	if err != nil {
		return nil, err
	}

	created, err := s.templates.CreateTemplate(ctx, &domain.ContractTemplate{
		Name:             name,
		Description:      trimmedPtr(req.Description),
		FileName:         cleanName(req.File.Name),
		StoragePath:      obj.Path,
		Status:           domain.TemplateActive,
		UploadedByUserID: caller.UserID(),
		CreatedAt:        s.now().UTC(),
	})
	if err != nil {
		s.docs.Discard(ctx, obj.Bucket, obj.Path)
		return nil, err
	}

	s.logger.Info("contract template uploaded",
		zap.String("template_id", created.ID),
		zap.String("name", created.Name),
		zap.String("uploaded_by", caller.UserID()),
	)
	return s.withURL(created), nil
}

// List returns templates oldest first, optionally filtered by status.
func (s *TemplateService) List(ctx context.Context, caller *domain.Caller, status domain.TemplateStatus) ([]domain.ContractTemplate, error) {
	ctx, span := tracer.Start(ctx, "TemplateService.List")
	defer span.End()

	if err := s.gate.require(ctx, caller, authz.ListTemplates); err != nil {
		return nil, err
	}
	if status != "" && status != domain.TemplateActive && status != domain.TemplateArchived {
		return nil, &domain.ErrValidation{Field: "status", Message: fmt.Sprintf("unknown template status %q", status)}
	}
	list, err := s.templates.ListTemplates(ctx, status)
	if err != nil {
		return nil, err
	}
	for i := range list {
		s.withURL(&list[i])
	}
	return list, nil
}

// Archive retires an active template. Archived templates stay archived.
func (s *TemplateService) Archive(ctx context.Context, caller *domain.Caller, id string) (*domain.ContractTemplate, error) {
	ctx, span := tracer.Start(ctx, "TemplateService.Archive")
	defer span.End()
	span.SetAttributes(attribute.String("template.id", id))

	if err := s.gate.require(ctx, caller, authz.ManageTemplates); err != nil {
		return nil, err
	}

	ok, err := s.templates.ArchiveTemplateIf(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := s.templates.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("contract template %s is already archived", id)}
	}

	s.logger.Info("contract template archived",
		zap.String("template_id", id),
		zap.String("archived_by", caller.UserID()),
	)
	return s.withURL(t), nil
}
