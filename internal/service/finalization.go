package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/authz"
	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ============================================================
// Saga journal
// ============================================================

// journal records the finalization steps that completed, in order.
type journal struct {
	mu      sync.Mutex
	now     func() time.Time
	records []domain.SagaRecord
}

func (j *journal) done(step domain.SagaStep) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, domain.SagaRecord{Step: step, At: j.now().UTC()})
}

func (j *journal) steps() []domain.SagaRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.SagaRecord(nil), j.records...)
}

// MarshalLogArray lets the journal be logged with zap.Array.
func (j *journal) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, r := range j.steps() {
		enc.AppendString(string(r.Step) + "@" + r.At.Format(time.RFC3339Nano))
	}
	return nil
}

// ============================================================
// Finalization
// ============================================================

// FinalizationService turns an approved application into a signed contract.
type FinalizationService struct {
	apps      port.ApplicationStore
	contracts port.ContractStore
	lifecycle *ApplicationService
	templates *TemplateService
	docs      *DocumentManager
	numberer  port.ContractNumberer
	gate      gate
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewFinalizationService creates the finalization saga.
func NewFinalizationService(
	apps port.ApplicationStore,
	contracts port.ContractStore,
	lifecycle *ApplicationService,
	templates *TemplateService,
	docs *DocumentManager,
	numberer port.ContractNumberer,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...Option,
) *FinalizationService {
	o := buildOptions(opts)
	return &FinalizationService{
		apps:      apps,
		contracts: contracts,
		lifecycle: lifecycle,
		templates: templates,
		docs:      docs,
		numberer:  numberer,
		gate:      gate{metrics: metrics, logger: logger},
		metrics:   metrics,
		logger:    logger,
		now:       o.now,
	}
}

// FinalizeContract signs the contract of an approved application:
//
//  1. the caller must be the active applicant owning the application
//  2. no signed contract may exist for it yet
//  3. the application must be approved
//  4. an active template must exist
//  5. the signature image is stored
//  6. a contract number is issued
//  7. the signed contract is inserted (unique per application)
//  8. the application moves approved -> contracted
//
// A failure at step 8 returns *domain.ErrPartialFinalization; the signed
// contract stays and the reconciler completes the transition later.
func (s *FinalizationService) FinalizeContract(ctx context.Context, caller *domain.Caller, applicationID string, signature domain.Attachment) (*domain.SignedContract, error) {
	ctx, span := tracer.Start(ctx, "FinalizationService.FinalizeContract")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", applicationID))
	start := s.now()
	defer func() { s.metrics.RecordRequestDuration("finalize_contract", s.now().Sub(start)) }()

	j := &journal{now: s.now}
	log := s.logger.With(zap.String("application_id", applicationID), zap.String("user_id", caller.UserID()))

	// 1. authorize
	if err := s.gate.require(ctx, caller, authz.SignContract); err != nil {
		return nil, err
	}
	if err := ValidateSignature(signature); err != nil {
		return nil, err
	}
	app, err := s.apps.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.requireOwner(ctx, caller, app.UserID, authz.SignContract); err != nil {
		return nil, err
	}
	j.done(domain.StepAuthorize)

	// 2. one contract per application
	existing, err := s.contracts.FindContractByApplication(ctx, applicationID)
	if err != nil {
		return nil, s.fail(log, j, fmt.Errorf("check existing contract: %w", err))
	}
	if existing != nil {
		s.metrics.IncrFinalization("duplicate")
		return nil, &domain.ErrDuplicateContract{ApplicationID: applicationID}
	}
	j.done(domain.StepCheckDuplicate)

	// 3. approved only
	if err := domain.CheckTransition(app.Status, domain.ApplicationContracted, domain.ActorSystem); err != nil {
		return nil, err
	}
	j.done(domain.StepCheckApproved)

	// 4. active template
	tmpl, err := s.templates.activeTemplate(ctx)
	if err != nil {
		return nil, err
	}
	j.done(domain.StepResolveTemplate)

	// 5. signature
	sig, err := s.docs.UploadSignature(ctx, caller.UserID(), signature)
	if err != nil {
		return nil, s.fail(log, j, err)
	}
	j.done(domain.StepUploadSignature)

	// 6. number
	number, err := s.numberer.Next(ctx, applicationID, s.now())
	if err != nil {
		s.discardSignature(ctx, j, sig)
		return nil, s.fail(log, j, fmt.Errorf("issue contract number: %w", err))
	}
	j.done(domain.StepNumberContract)

	// 7. insert
	contract, err := s.contracts.CreateSignedContract(ctx, &domain.SignedContract{
		ApplicationID:  applicationID,
		UserID:         caller.UserID(),
		SignatureURL:   sig.URL,
		ContractNumber: number,
		SignedAt:       s.now().UTC(),
		Status:         domain.SignedContractStatus,
	})
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindDuplicateContract:
			s.discardSignature(ctx, j, sig)
			s.metrics.IncrFinalization("duplicate")
			log.Info("concurrent finalization already stored a contract", zap.Array("saga", j))
			return nil, err
		case domain.KindConflict:
			s.discardSignature(ctx, j, sig)
		default:
			// The insert may have landed; the signature stays referenced.
			log.Warn("signed contract insert failed, keeping signature", zap.String("signature_path", sig.Path))
		}
		return nil, s.fail(log, j, err)
	}
	j.done(domain.StepInsertContract)
	span.SetAttributes(attribute.String("contract.id", contract.ID))

	// 8. contracted
	if err := s.lifecycle.MarkContracted(ctx, applicationID); err != nil {
		s.metrics.IncrFinalization("partial")
		s.metrics.IncrPartialFinalization()
		partial := &domain.ErrPartialFinalization{
			ApplicationID:    applicationID,
			SignedContractID: contract.ID,
			Steps:            j.steps(),
			Err:              err,
		}
		log.Error("contract signed but application not contracted",
			zap.String("signed_contract_id", contract.ID),
			zap.Array("saga", j),
			zap.Error(err),
		)
		return nil, partial
	}
	j.done(domain.StepMarkContracted)

	s.metrics.IncrFinalization("ok")
	log.Info("contract finalized",
		zap.String("signed_contract_id", contract.ID),
		zap.String("contract_number", contract.ContractNumber),
		zap.String("template_id", tmpl.ID),
		zap.Array("saga", j),
	)
	return contract, nil
}

func (s *FinalizationService) discardSignature(ctx context.Context, j *journal, sig StoredObject) {
	s.docs.Discard(ctx, sig.Bucket, sig.Path)
	j.done(domain.StepDiscardSignature)
}

func (s *FinalizationService) fail(log *zap.Logger, j *journal, err error) error {
	s.metrics.IncrFinalization("error")
	log.Warn("contract finalization failed", zap.Array("saga", j), zap.Error(err))
	return err
}

// ============================================================
// Signed contract reads
// ============================================================

// ListMyContracts returns the caller's signed contracts, newest first.
func (s *FinalizationService) ListMyContracts(ctx context.Context, caller *domain.Caller) ([]domain.SignedContract, error) {
	ctx, span := tracer.Start(ctx, "FinalizationService.ListMyContracts")
	defer span.End()

	if err := s.gate.require(ctx, caller, authz.ViewOwnContracts); err != nil {
		return nil, err
	}
	return s.contracts.ListContractsByUser(ctx, caller.UserID())
}

// GetContract returns a signed contract to its owner or to a reviewer.
func (s *FinalizationService) GetContract(ctx context.Context, caller *domain.Caller, id string) (*domain.SignedContract, error) {
	ctx, span := tracer.Start(ctx, "FinalizationService.GetContract")
	defer span.End()
	span.SetAttributes(attribute.String("contract.id", id))

	if caller != nil && authz.IsReviewer(caller.Role()) {
		if err := s.gate.require(ctx, caller, authz.ViewAnyContract); err != nil {
			return nil, err
		}
		return s.contracts.GetSignedContract(ctx, id)
	}

	if err := s.gate.require(ctx, caller, authz.ViewOwnContracts); err != nil {
		return nil, err
	}
	c, err := s.contracts.GetSignedContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate.requireOwner(ctx, caller, c.UserID, authz.ViewOwnContracts); err != nil {
		return nil, err
	}
	return c, nil
}
