package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/authz"
	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ApplicationService drives the application lifecycle.
type ApplicationService struct {
	apps    port.ApplicationStore
	docs    *DocumentManager
	gate    gate
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewApplicationService creates the lifecycle service.
func NewApplicationService(apps port.ApplicationStore, docs *DocumentManager, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *ApplicationService {
	o := buildOptions(opts)
	return &ApplicationService{
		apps:    apps,
		docs:    docs,
		gate:    gate{metrics: metrics, logger: logger},
		metrics: metrics,
		logger:  logger,
		now:     o.now,
	}
}

// ============================================================
// Submission
// ============================================================

func trimFields(f domain.ApplicationFields) domain.ApplicationFields {
	f.ContactName = strings.TrimSpace(f.ContactName)
	f.ContactPhone = strings.TrimSpace(f.ContactPhone)
	f.ContactEmail = strings.TrimSpace(f.ContactEmail)
	f.IntendedCity = strings.TrimSpace(f.IntendedCity)
	f.InvestmentAmount = trimmedPtr(f.InvestmentAmount)
	f.ExperienceDescription = trimmedPtr(f.ExperienceDescription)
	return f
}

// validateFields reports every missing or malformed contact field at once.
func validateFields(f domain.ApplicationFields) error {
	errs := &domain.ErrValidationList{}
	if f.ContactName == "" {
		errs.Add("contact_name", "contact name is required")
	}
	if f.ContactPhone == "" {
		errs.Add("contact_phone", "contact phone is required")
	}
	if f.ContactEmail == "" {
		errs.Add("contact_email", "contact email is required")
	} else if _, err := mail.ParseAddress(f.ContactEmail); err != nil {
		errs.Add("contact_email", "contact email is not a valid address")
	}
	if f.IntendedCity == "" {
		errs.Add("intended_city", "intended city is required")
	}
	return errs.OrNil()
}

// Submit creates a new application in status submitted. documents must
// already be stored.
func (s *ApplicationService) Submit(ctx context.Context, caller *domain.Caller, fields domain.ApplicationFields, documents []domain.Document) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "ApplicationService.Submit")
	defer span.End()
	start := s.now()
	defer func() { s.metrics.RecordRequestDuration("submit_application", s.now().Sub(start)) }()

	if err := s.gate.require(ctx, caller, authz.SubmitApplication); err != nil {
		return nil, err
	}
	fields = trimFields(fields)
	if err := validateFields(fields); err != nil {
		return nil, err
	}
	if err := s.checkNoOpenApplication(ctx, caller.UserID()); err != nil {
		return nil, err
	}
	if documents == nil {
		documents = []domain.Document{}
	}

	now := s.now().UTC()
	app := &domain.Application{
		UserID:                caller.UserID(),
		ContactName:           fields.ContactName,
		ContactPhone:          fields.ContactPhone,
		ContactEmail:          fields.ContactEmail,
		IntendedCity:          fields.IntendedCity,
		InvestmentAmount:      fields.InvestmentAmount,
		ExperienceDescription: fields.ExperienceDescription,
		Documents:             documents,
		Status:                domain.ApplicationSubmitted,
		SubmittedAt:           now,
		UpdatedAt:             now,
	}

	created, err := s.apps.CreateApplication(ctx, app)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("application.id", created.ID))
	s.logger.Info("application submitted",
		zap.String("application_id", created.ID),
		zap.String("user_id", created.UserID),
		zap.String("intended_city", created.IntendedCity),
		zap.Int("documents", len(created.Documents)),
	)
	return created, nil
}

// SubmitWithFiles checks the caller, the open-application rule and the
// attachments before anything is uploaded, then uploads the files and
// submits.
func (s *ApplicationService) SubmitWithFiles(ctx context.Context, caller *domain.Caller, fields domain.ApplicationFields, files []domain.Attachment) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "ApplicationService.SubmitWithFiles")
	defer span.End()

	if err := s.gate.require(ctx, caller, authz.SubmitApplication); err != nil {
		return nil, err
	}
	fields = trimFields(fields)
	if err := validateFields(fields); err != nil {
		return nil, err
	}
	if err := ValidateSupportingDocuments(files); err != nil {
		return nil, err
	}
	if err := s.checkNoOpenApplication(ctx, caller.UserID()); err != nil {
		return nil, err
	}

	docs, err := s.docs.UploadSupportingDocuments(ctx, caller.UserID(), files)
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, caller, fields, docs)
}

func (s *ApplicationService) checkNoOpenApplication(ctx context.Context, userID string) error {
	open, err := s.apps.FindOpenApplication(ctx, userID)
	if err != nil {
		return fmt.Errorf("check open application: %w", err)
	}
	if open != nil {
		return &domain.ErrDuplicateOpenApplication{UserID: userID, ApplicationID: open.ID}
	}
	return nil
}

// ============================================================
// Reads
// ============================================================

// Get returns one application to its owner or to a reviewer.
func (s *ApplicationService) Get(ctx context.Context, caller *domain.Caller, id string) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "ApplicationService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", id))

	return s.getVisible(ctx, caller, id, authz.ViewOwnApplications)
}

// getVisible loads an application the caller may see: reviewers see every
// application, everyone else only their own under ownPolicy.
func (s *ApplicationService) getVisible(ctx context.Context, caller *domain.Caller, id string, ownPolicy authz.Policy) (*domain.Application, error) {
	if caller != nil && authz.IsReviewer(caller.Role()) {
		if err := s.gate.require(ctx, caller, authz.ReviewApplications); err != nil {
			return nil, err
		}
		return s.apps.GetApplication(ctx, id)
	}

	if err := s.gate.require(ctx, caller, ownPolicy); err != nil {
		return nil, err
	}
	app, err := s.apps.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate.requireOwner(ctx, caller, app.UserID, ownPolicy); err != nil {
		return nil, err
	}
	return app, nil
}

// ListMine returns the caller's applications, newest first.
func (s *ApplicationService) ListMine(ctx context.Context, caller *domain.Caller) ([]domain.Application, error) {
	ctx, span := tracer.Start(ctx, "ApplicationService.ListMine")
	defer span.End()

	if err := s.gate.require(ctx, caller, authz.ViewOwnApplications); err != nil {
		return nil, err
	}
	return s.apps.ListApplicationsByUser(ctx, caller.UserID())
}

// ListForReview returns applications in statuses, newest submission first.
// An empty statuses list means the open review queue.
func (s *ApplicationService) ListForReview(ctx context.Context, caller *domain.Caller, statuses []domain.ApplicationStatus, page, pageSize int) ([]domain.Application, error) {
	ctx, span := tracer.Start(ctx, "ApplicationService.ListForReview")
	defer span.End()

	if err := s.gate.require(ctx, caller, authz.ReviewApplications); err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		statuses = domain.ReviewQueueStatuses
	}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, &domain.ErrValidation{Field: "status", Message: fmt.Sprintf("unknown status %q", st)}
		}
	}
	return s.apps.ListApplicationsByStatus(ctx, statuses, page, pageSize)
}

// ============================================================
// Amendments
// ============================================================

// UpdateDetails lets the owner amend contact fields and attach more
// documents while the application is submitted or waiting for information.
// The status is left as it is.
func (s *ApplicationService) UpdateDetails(ctx context.Context, caller *domain.Caller, id string, fields *domain.ApplicationFields, files []domain.Attachment) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "ApplicationService.UpdateDetails")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", id))

	if err := s.gate.require(ctx, caller, authz.AmendApplication); err != nil {
		return nil, err
	}
	if fields == nil && len(files) == 0 {
		return nil, &domain.ErrValidation{Field: "body", Message: "nothing to update"}
	}
	var trimmed domain.ApplicationFields
	if fields != nil {
		trimmed = trimFields(*fields)
		if err := validateFields(trimmed); err != nil {
			return nil, err
		}
	}
	if err := ValidateSupportingDocuments(files); err != nil {
		return nil, err
	}

	app, err := s.apps.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate.requireOwner(ctx, caller, app.UserID, authz.AmendApplication); err != nil {
		return nil, err
	}
	if !app.Status.Amendable() {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("application %s can no longer be amended (status %s)", id, app.Status)}
	}

	patch := port.ApplicationPatch{UpdatedAt: s.now().UTC()}
	if fields != nil {
		patch.Fields = &trimmed
	}
	if len(files) > 0 {
		added, err := s.docs.UploadSupportingDocuments(ctx, caller.UserID(), files)
		if err != nil {
			return nil, err
		}
		patch.Documents = append(append([]domain.Document{}, app.Documents...), added...)
	}

	ok, err := s.apps.UpdateApplicationIf(ctx, id, app.Status, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.IncrConcurrentConflict("application")
		return nil, &domain.ErrConcurrentModification{Resource: "application", ID: id, Expected: string(app.Status)}
	}

	s.logger.Info("application amended",
		zap.String("application_id", id),
		zap.String("user_id", caller.UserID()),
		zap.Bool("fields", fields != nil),
		zap.Int("documents_added", len(files)),
	)
	return s.apps.GetApplication(ctx, id)
}

// ============================================================
// Decisions
// ============================================================

// Decide applies a reviewer transition. The write only lands while the
// stored status is still the expected one. Without a pinned expected
// status a lost race is retried once from a fresh read.
func (s *ApplicationService) Decide(ctx context.Context, caller *domain.Caller, req domain.DecisionRequest) (*domain.Application, error) {
	ctx, span := tracer.Start(ctx, "ApplicationService.Decide")
	defer span.End()
	span.SetAttributes(
		attribute.String("application.id", req.ApplicationID),
		attribute.String("application.to", string(req.To)),
	)
	start := s.now()
	defer func() { s.metrics.RecordRequestDuration("decide_application", s.now().Sub(start)) }()

	if err := s.gate.require(ctx, caller, authz.DecideApplication); err != nil {
		return nil, err
	}
	if !req.To.Valid() {
		return nil, &domain.ErrValidation{Field: "status", Message: fmt.Sprintf("unknown status %q", req.To)}
	}
	comments := trimmedPtr(req.CommentsForApplicant)
	if domain.RequiresApplicantComments(req.To) && comments == nil {
		return nil, &domain.ErrValidation{Field: "hq_comments_for_applicant", Message: "comments for the applicant are required when requesting more information"}
	}
	if req.ExpectedStatus != nil && !req.ExpectedStatus.Valid() {
		return nil, &domain.ErrValidation{Field: "expected_status", Message: fmt.Sprintf("unknown status %q", *req.ExpectedStatus)}
	}

	attempts := 1
	if req.ExpectedStatus == nil {
		attempts = 2
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		app, err := s.apps.GetApplication(ctx, req.ApplicationID)
		if err != nil {
			return nil, err
		}
		expected := app.Status
		if req.ExpectedStatus != nil {
			expected = *req.ExpectedStatus
		}
		if err := domain.CheckTransition(expected, req.To, domain.ActorReviewer); err != nil {
			if attempt > 0 {
				// The record moved somewhere this decision no longer applies.
				return nil, lastErr
			}
			return nil, err
		}
		if req.To == domain.ApplicationRejected && comments == nil {
			s.logger.Warn("application rejected without comments for the applicant",
				zap.String("application_id", app.ID),
				zap.String("reviewer_id", caller.UserID()),
			)
		}

		now := s.now().UTC()
		to := req.To
		patch := port.ApplicationPatch{
			Status:           &to,
			ReviewedAt:       timePtr(now),
			ReviewedByUserID: strPtr(caller.UserID()),
			ReviewNotes:      trimmedPtr(req.ReviewNotes),
			UpdatedAt:        now,
		}
		if comments != nil {
			patch.HQCommentsForApplicant = comments
		}

		ok, err := s.apps.UpdateApplicationIf(ctx, app.ID, expected, patch)
		if err != nil {
			return nil, err
		}
		if ok {
			s.metrics.IncrTransition(expected, req.To)
			s.logger.Info("application decided",
				zap.String("application_id", app.ID),
				zap.String("from", string(expected)),
				zap.String("to", string(req.To)),
				zap.String("reviewer_id", caller.UserID()),
				zap.Int("attempt", attempt+1),
			)
			return s.apps.GetApplication(ctx, app.ID)
		}

		s.metrics.IncrConcurrentConflict("application")
		lastErr = &domain.ErrConcurrentModification{Resource: "application", ID: app.ID, Expected: string(expected)}
		s.logger.Info("application decision lost a concurrent update",
			zap.String("application_id", app.ID),
			zap.String("expected", string(expected)),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, lastErr
}

// MarkContracted performs the system transition approved -> contracted.
// An application that is already contracted is left alone.
func (s *ApplicationService) MarkContracted(ctx context.Context, applicationID string) error {
	ctx, span := tracer.Start(ctx, "ApplicationService.MarkContracted")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", applicationID))

	to := domain.ApplicationContracted
	ok, err := s.apps.UpdateApplicationIf(ctx, applicationID, domain.ApplicationApproved, port.ApplicationPatch{
		Status:    &to,
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("mark contracted: %w", err)
	}
	if ok {
		s.metrics.IncrTransition(domain.ApplicationApproved, domain.ApplicationContracted)
		return nil
	}

	app, err := s.apps.GetApplication(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("mark contracted: %w", err)
	}
	switch app.Status {
	case domain.ApplicationContracted:
		return nil
	case domain.ApplicationApproved:
		s.metrics.IncrConcurrentConflict("application")
		return &domain.ErrConcurrentModification{Resource: "application", ID: applicationID, Expected: string(domain.ApplicationApproved)}
	}
	return &domain.ErrInvalidTransition{From: app.Status, To: domain.ApplicationContracted}
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
