package service_test

import (
	"testing"

	"github.com/boddenberg/franchise-core-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) storeContract(applicationID, userID, number string) *domain.SignedContract {
	h.t.Helper()
	c, err := h.contracts.CreateSignedContract(h.ctx, &domain.SignedContract{
		ApplicationID:  applicationID,
		UserID:         userID,
		SignatureURL:   "memory://objects/contracts/signatures/" + number + ".png",
		ContractNumber: number,
		SignedAt:       h.clock.Now(),
		Status:         domain.SignedContractStatus,
	})
	require.NoError(h.t, err)
	return c
}

func TestReconciler_ClassifiesEveryContract(t *testing.T) {
	h := newHarness(t)
	reviewer := h.reviewer("r1")

	// contracted through the normal path
	done, doneApp := h.approved("u1")
	_, err := h.svc.Finalization.FinalizeContract(h.ctx, done, doneApp.ID, signaturePNG())
	require.NoError(t, err)

	// approved with a contract: repairable
	_, stuck := h.approved("u2")
	h.storeContract(stuck.ID, "u2", "FC-20260314-000002")

	// rejected with a contract: flagged
	rejected := h.submit(h.applicant("u3"))
	h.decide(reviewer, rejected.ID, domain.ApplicationRejected, "")
	h.storeContract(rejected.ID, "u3", "FC-20260314-000003")

	// no application at all: flagged
	orphanID := "00000000-0000-4000-8000-000000000000"
	h.storeContract(orphanID, "u4", "FC-20260314-000004")

	report, err := h.svc.Reconciler.Run(h.ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Scanned)
	assert.Equal(t, 1, report.Consistent)
	assert.Equal(t, 1, report.Repaired)
	assert.Equal(t, 2, report.Flagged)
	assert.Zero(t, report.Failed)
	assert.True(t, report.StartedAt.Equal(h.clock.Now()))
	assert.True(t, report.FinishedAt.Equal(h.clock.Now()))

	outcomes := make(map[string]domain.ReconcileItem, len(report.Items))
	for _, item := range report.Items {
		outcomes[item.ApplicationID] = item
	}
	require.Len(t, outcomes, 3)
	assert.Equal(t, domain.ReconcileRepaired, outcomes[stuck.ID].Outcome)
	assert.Equal(t, domain.ApplicationContracted, outcomes[stuck.ID].Status)
	assert.Equal(t, domain.ReconcileFlagged, outcomes[rejected.ID].Outcome)
	assert.Equal(t, domain.ApplicationRejected, outcomes[rejected.ID].Status)
	assert.Equal(t, domain.ReconcileFlagged, outcomes[orphanID].Outcome)
	assert.Equal(t, "application not found", outcomes[orphanID].Reason)

	for i := 1; i < len(report.Items); i++ {
		assert.LessOrEqual(t, report.Items[i-1].ApplicationID, report.Items[i].ApplicationID)
	}

	repaired, err := h.svc.Applications.Get(h.ctx, reviewer, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationContracted, repaired.Status)

	snap := h.metrics.GetLifecycleSnapshot()
	assert.Equal(t, 1.0, snap.ReconcileRepaired)
	assert.Equal(t, 2.0, snap.ReconcileFlagged)
}

func TestReconciler_RepairFailureIsReported(t *testing.T) {
	h := newHarness(t)
	_, stuck := h.approved("u1")
	h.storeContract(stuck.ID, "u1", "FC-20260314-000001")

	h.apps.failMark.Store(true)
	report, err := h.svc.Reconciler.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Items, 1)
	assert.Equal(t, domain.ReconcileFailed, report.Items[0].Outcome)
	assert.Contains(t, report.Items[0].Reason, "connection reset")

	h.apps.failMark.Store(false)
	report, err = h.svc.Reconciler.Run(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
}

func TestReconciler_EmptyStore(t *testing.T) {
	h := newHarness(t)

	report, err := h.svc.Reconciler.Run(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Empty(t, report.Items)
}

func TestReconcileFor_AdminOnly(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Reconciler.ReconcileFor(h.ctx, h.reviewer("r1"))
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	_, err = h.svc.Reconciler.ReconcileFor(h.ctx, nil)
	assert.Equal(t, domain.KindUnauthorized, domain.KindOf(err))

	report, err := h.svc.Reconciler.ReconcileFor(h.ctx, h.admin("a1"))
	require.NoError(t, err)
	assert.NotNil(t, report)
}
