package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/port"
	"github.com/boddenberg/franchise-core-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// defaultMaxUpload bounds multipart bodies when Deps.MaxUploadBytes is unset.
const defaultMaxUpload = 32 << 20

// Deps groups what the router needs.
type Deps struct {
	Services       *service.Services
	Verifier       port.TokenVerifier
	Health         []port.HealthChecker
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	MaxUploadBytes int64
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	svc := d.Services

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger, "/healthz", "/readyz", "/metrics"))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Health, logger))
	r.Get("/readyz", readyzHandler())
	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	if svc == nil {
		return r
	}

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Verifier, logger))

		// Principal directory
		r.Post("/profiles/me", registerProfileHandler(svc.Directory, logger))
		r.Get("/profiles/me", getMyProfileHandler(svc.Directory, logger))

		// Applications
		r.Post("/applications", submitApplicationHandler(svc, maxUpload, logger))
		r.Get("/applications/me", listMyApplicationsHandler(svc, logger))
		r.Get("/applications/{id}", getApplicationHandler(svc, logger))
		r.Patch("/applications/{id}", updateApplicationHandler(svc, maxUpload, logger))
		r.Post("/applications/{id}/decisions", decideApplicationHandler(svc, logger))

		// Review queue
		r.Get("/review/applications", listReviewQueueHandler(svc, logger))

		// Contracts
		r.Get("/applications/{id}/contract-template", contractTemplateHandler(svc, logger))
		r.Post("/applications/{id}/contract", finalizeContractHandler(svc, maxUpload, logger))
		r.Get("/contracts/me", listMyContractsHandler(svc, logger))
		r.Get("/contracts/{id}", getContractHandler(svc, logger))

		// Administration
		r.Route("/admin", func(r chi.Router) {
			r.Get("/profiles", listProfilesHandler(svc.Directory, logger))
			r.Put("/profiles/{id}/role", changeRoleHandler(svc.Directory, logger))
			r.Put("/profiles/{id}/status", changeStatusHandler(svc.Directory, logger))

			r.Get("/contract-templates", listTemplatesHandler(svc, logger))
			r.Post("/contract-templates", uploadTemplateHandler(svc, maxUpload, logger))
			r.Post("/contract-templates/{id}/archive", archiveTemplateHandler(svc, logger))

			r.Post("/reconcile", reconcileHandler(svc, logger))
			if d.Metrics != nil {
				r.Get("/metrics/lifecycle", lifecycleMetricsHandler(svc, d.Metrics, logger))
			}
		})
	})

	return r
}

// ============================================================
// Probes
// ============================================================

// healthCheckTimeout bounds each backend ping.
const healthCheckTimeout = 2 * time.Second

func healthzHandler(checks []port.HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "franchise-core", Status: "healthy", LastChecked: now},
		}
		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			start := time.Now()
			err := c.Ping(ctx)
			cancel()

			sh := domain.ServiceHealth{
				Name:        c.Name(),
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				sh.Status = "degraded"
				sh.Error = err.Error()
				logger.Warn("health check failed", zap.String("backend", c.Name()), zap.Error(err))
			}
			services = append(services, sh)
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
