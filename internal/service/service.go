// Package service provides the business logic layer (use cases) of the
// franchise candidate lifecycle: directory, applications, documents,
// contract templates, finalization and reconciliation.
//
// Every exported entry point takes the *domain.Caller resolved for the
// current request and checks it against a named authz policy first.
package service

import (
	"context"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/authz"
	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service")

// ============================================================
// Options
// ============================================================

type options struct {
	now func() time.Time
}

// Option customizes a service.
type Option func(*options)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ============================================================
// Authorization gate
// ============================================================

// gate checks callers against policies and records denials.
type gate struct {
	metrics *observability.Metrics
	logger  *zap.Logger
}

func (g gate) require(ctx context.Context, caller *domain.Caller, policy authz.Policy) error {
	if caller == nil {
		return &domain.ErrUnauthorized{Message: "authentication required"}
	}
	d := authz.Authorize(caller.Profile, policy)
	if d.Allowed {
		return nil
	}
	g.deny(ctx, caller, policy, d.Reason)
	return &domain.ErrForbidden{Action: policy.Name, Reason: string(d.Reason)}
}

// requireOwner denies callers that do not own the record. It runs after
// require, once the record has been read.
func (g gate) requireOwner(ctx context.Context, caller *domain.Caller, ownerID string, policy authz.Policy) error {
	if err := authz.RequireOwner(caller, ownerID, policy); err != nil {
		g.deny(ctx, caller, policy, authz.ReasonNotOwner)
		return err
	}
	return nil
}

func (g gate) deny(ctx context.Context, caller *domain.Caller, policy authz.Policy, reason authz.Reason) {
	g.metrics.IncrAuthzDenial(policy.Name, string(reason))
	g.logger.Info("authorization denied",
		zap.String("policy", policy.Name),
		zap.String("reason", string(reason)),
		zap.String("user_id", caller.UserID()),
		zap.String("role", string(caller.Role())),
	)
}

// ============================================================
// Wiring
// ============================================================

// Stores are the persistence ports the services run on.
type Stores struct {
	Profiles     port.ProfileStore
	Applications port.ApplicationStore
	Templates    port.TemplateStore
	Contracts    port.ContractStore
	Objects      port.ObjectStore
	Numberer     port.ContractNumberer
}

// Config tunes concurrency limits.
type Config struct {
	// UploadConcurrency bounds object store uploads across requests.
	UploadConcurrency int
	// ReconcileConcurrency bounds parallel repairs in one reconciliation run.
	ReconcileConcurrency int
	// ReconcilePageSize is the number of signed contracts read per page.
	ReconcilePageSize int
}

// Services groups every use case of the core.
type Services struct {
	Directory    *Directory
	Documents    *DocumentManager
	Applications *ApplicationService
	Templates    *TemplateService
	Finalization *FinalizationService
	Reconciler   *Reconciler
}

// New wires the services over st.
func New(st Stores, cfg Config, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Services {
	docs := NewDocumentManager(st.Objects, cfg.UploadConcurrency, metrics, logger, opts...)
	apps := NewApplicationService(st.Applications, docs, metrics, logger, opts...)
	templates := NewTemplateService(st.Templates, apps, docs, metrics, logger, opts...)
	return &Services{
		Directory:    NewDirectory(st.Profiles, metrics, logger, opts...),
		Documents:    docs,
		Applications: apps,
		Templates:    templates,
		Finalization: NewFinalizationService(st.Applications, st.Contracts, apps, templates, docs, st.Numberer, metrics, logger, opts...),
		Reconciler:   NewReconciler(st.Contracts, st.Applications, apps, cfg.ReconcileConcurrency, cfg.ReconcilePageSize, metrics, logger, opts...),
	}
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }
