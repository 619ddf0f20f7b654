package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/handler"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"go.uber.org/zap"
)

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Name() string { return s.name }
func (s stubChecker) Ping(ctx context.Context) error { return s.err }

func opsRouter(checks ...port.HealthChecker) http.Handler {
	return handler.NewRouter(handler.Deps{
		Health:  checks,
		Metrics: observability.NewMetrics(),
		Logger:  zap.NewNop(),
	})
}

func TestHealthz(t *testing.T) {
	router := opsRouter(stubChecker{name: "memory-records"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var body domain.HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %q", body.Status)
	}
	if len(body.Services) != 2 {
		t.Errorf("expected 2 services, got %d", len(body.Services))
	}
}

func TestHealthzDegraded(t *testing.T) {
	router := opsRouter(
		stubChecker{name: "supabase"},
		stubChecker{name: "redis", err: errors.New("dial tcp: connection refused")},
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	var body domain.HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("expected degraded, got %q", body.Status)
	}
	if got := body.Services[2]; got.Name != "redis" || got.Error == "" {
		t.Errorf("expected redis failure to be reported, got %+v", got)
	}
}

func TestReadyz(t *testing.T) {
	router := opsRouter()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.IncrFinalization("ok")
	router := handler.NewRouter(handler.Deps{Metrics: metrics, Logger: zap.NewNop()})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "finalization") {
		t.Errorf("expected finalization counter in exposition")
	}
}
