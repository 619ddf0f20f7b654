package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/authz"
	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reconciler finds signed contracts whose application never reached
// contracted and completes the transition.
type Reconciler struct {
	contracts   port.ContractStore
	apps        port.ApplicationStore
	lifecycle   *ApplicationService
	gate        gate
	concurrency int
	pageSize    int
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time

	// one run at a time
	mu sync.Mutex
}

// NewReconciler creates a reconciler.
func NewReconciler(contracts port.ContractStore, apps port.ApplicationStore, lifecycle *ApplicationService, concurrency, pageSize int, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Reconciler {
	o := buildOptions(opts)
	if concurrency <= 0 {
		concurrency = 4
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Reconciler{
		contracts:   contracts,
		apps:        apps,
		lifecycle:   lifecycle,
		gate:        gate{metrics: metrics, logger: logger},
		concurrency: concurrency,
		pageSize:    pageSize,
		metrics:     metrics,
		logger:      logger,
		now:         o.now,
	}
}

// ReconcileFor runs reconciliation on behalf of an administrator.
func (r *Reconciler) ReconcileFor(ctx context.Context, caller *domain.Caller) (*domain.ReconcileReport, error) {
	if err := r.gate.require(ctx, caller, authz.RunReconciliation); err != nil {
		return nil, err
	}
	r.logger.Info("reconciliation requested", zap.String("user_id", caller.UserID()))
	return r.Run(ctx)
}

// Run scans every signed contract. Approved applications are moved to
// contracted; contracts whose application is missing or in any other
// state are flagged for manual review. Run is safe to call repeatedly.
func (r *Reconciler) Run(ctx context.Context) (*domain.ReconcileReport, error) {
	ctx, span := tracer.Start(ctx, "Reconciler.Run")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	report := &domain.ReconcileReport{StartedAt: r.now().UTC()}
	var (
		mu    sync.Mutex
		items []domain.ReconcileItem
	)
	record := func(item domain.ReconcileItem) {
		r.metrics.IncrReconcile(item.Outcome)
		mu.Lock()
		defer mu.Unlock()
		switch item.Outcome {
		case domain.ReconcileConsistent:
			report.Consistent++
			return
		case domain.ReconcileRepaired:
			report.Repaired++
		case domain.ReconcileFlagged:
			report.Flagged++
		case domain.ReconcileFailed:
			report.Failed++
		}
		items = append(items, item)
	}

	for page := 1; ; page++ {
		contracts, err := r.contracts.ListSignedContracts(ctx, page, r.pageSize)
		if err != nil {
			return nil, fmt.Errorf("reconcile: list signed contracts page %d: %w", page, err)
		}
		if len(contracts) == 0 {
			break
		}
		report.Scanned += len(contracts)

		if err := r.reconcilePage(ctx, contracts, record); err != nil {
			return nil, err
		}
		if len(contracts) < r.pageSize {
			break
		}
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].ApplicationID != items[j].ApplicationID {
			return items[i].ApplicationID < items[j].ApplicationID
		}
		return items[i].SignedContractID < items[j].SignedContractID
	})
	report.Items = items
	report.FinishedAt = r.now().UTC()

	span.SetAttributes(
		attribute.Int("reconcile.scanned", report.Scanned),
		attribute.Int("reconcile.repaired", report.Repaired),
		attribute.Int("reconcile.flagged", report.Flagged),
	)
	r.logger.Info("reconciliation finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("consistent", report.Consistent),
		zap.Int("repaired", report.Repaired),
		zap.Int("flagged", report.Flagged),
		zap.Int("failed", report.Failed),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (r *Reconciler) reconcilePage(ctx context.Context, contracts []domain.SignedContract, record func(domain.ReconcileItem)) error {
	ids := make([]string, 0, len(contracts))
	for _, c := range contracts {
		ids = append(ids, c.ApplicationID)
	}
	apps, err := r.apps.GetApplicationsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("reconcile: load applications: %w", err)
	}
	byID := make(map[string]domain.Application, len(apps))
	for _, a := range apps {
		byID[a.ID] = a
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, c := range contracts {
		c := c
		app, found := byID[c.ApplicationID]
		item := domain.ReconcileItem{SignedContractID: c.ID, ApplicationID: c.ApplicationID}

		switch {
		case !found:
			item.Outcome = domain.ReconcileFlagged
			item.Reason = "application not found"
			r.logger.Warn("signed contract without application",
				zap.String("signed_contract_id", c.ID),
				zap.String("application_id", c.ApplicationID),
			)
			record(item)
		case app.Status == domain.ApplicationContracted:
			item.Status = app.Status
			item.Outcome = domain.ReconcileConsistent
			record(item)
		case app.Status == domain.ApplicationApproved:
			item.Status = app.Status
			g.Go(func() error {
				if err := r.lifecycle.MarkContracted(gctx, c.ApplicationID); err != nil {
					item.Outcome = domain.ReconcileFailed
					item.Reason = err.Error()
					r.logger.Error("reconcile repair failed",
						zap.String("signed_contract_id", c.ID),
						zap.String("application_id", c.ApplicationID),
						zap.Error(err),
					)
				} else {
					item.Status = domain.ApplicationContracted
					item.Outcome = domain.ReconcileRepaired
					r.logger.Info("reconciled application to contracted",
						zap.String("signed_contract_id", c.ID),
						zap.String("application_id", c.ApplicationID),
					)
				}
				record(item)
				return nil
			})
		default:
			item.Status = app.Status
			item.Outcome = domain.ReconcileFlagged
			item.Reason = fmt.Sprintf("signed contract exists for application in status %s", app.Status)
			r.logger.Warn("signed contract for application outside approved",
				zap.String("signed_contract_id", c.ID),
				zap.String("application_id", c.ApplicationID),
				zap.String("status", string(app.Status)),
			)
			record(item)
		}
	}
	return g.Wait()
}
