package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLifecycleSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrTransition(domain.ApplicationSubmitted, domain.ApplicationUnderReview)
	m.IncrTransition(domain.ApplicationUnderReview, domain.ApplicationApproved)
	m.IncrTransition(domain.ApplicationUnderReview, domain.ApplicationApproved)
	m.IncrFinalization("ok")
	m.IncrFinalization("duplicate")
	m.IncrPartialFinalization()
	m.IncrReconcile(domain.ReconcileRepaired)
	m.IncrAuthzDenial("sign_contract", "role_not_permitted")
	m.IncrAuthzDenial("decide_application", "account_not_active")
	m.IncrConcurrentConflict("application")

	snap := m.GetLifecycleSnapshot()
	assert.Equal(t, 1.0, snap.Transitions["submitted->under_review"])
	assert.Equal(t, 2.0, snap.Transitions["under_review->approved"])
	assert.Equal(t, 1.0, snap.FinalizationsOK)
	assert.Equal(t, 1.0, snap.FinalizationsFailed)
	assert.Equal(t, 1.0, snap.PartialFinalizations)
	assert.Equal(t, 1.0, snap.ReconcileRepaired)
	assert.Equal(t, 2.0, snap.AuthorizationDenials)
	assert.Equal(t, 1.0, snap.ConcurrentConflicts)
}

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := observability.NewMetrics()
	b := observability.NewMetrics()
	a.IncrFinalization("ok")

	assert.Equal(t, 0.0, b.GetLifecycleSnapshot().FinalizationsOK)
}

func TestZapLoggerMiddleware_LevelsByStatus(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	handler := observability.ZapLoggerMiddleware(logger, "/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))

	for _, path := range []string{"/healthz", "/ok", "/missing", "/boom"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.InfoLevel, entries[1].Level)
	assert.Equal(t, zap.WarnLevel, entries[2].Level)
	assert.Equal(t, zap.ErrorLevel, entries[3].Level)
}

func TestInitTracer_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := observability.InitTracer("", "franchise-core-test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
