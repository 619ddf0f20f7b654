package handler

import (
	"net/http"

	"github.com/boddenberg/franchise-core-go/internal/authz"
	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Contract template & operations Handlers
// ============================================================

const templateFileField = "file"

func listTemplatesHandler(svc *service.Services, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/contract-templates")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		status := domain.TemplateStatus(r.URL.Query().Get("status"))
		list, err := svc.Templates.List(ctx, caller, status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if list == nil {
			list = []domain.ContractTemplate{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func uploadTemplateHandler(svc *service.Services, maxUpload int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/contract-templates")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		if !isMultipart(r) {
			handleServiceError(w, &domain.ErrValidation{Field: templateFileField, Message: "a multipart form with the template file is required"}, logger)
			return
		}
		if err := parseMultipart(w, r, maxUpload); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		file, err := formFile(r, templateFileField)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		req := domain.TemplateUpload{Name: r.FormValue("name"), File: file}
		if d := r.FormValue("description"); d != "" {
			req.Description = &d
		}
		tmpl, err := svc.Templates.Upload(ctx, caller, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, tmpl)
	}
}

func archiveTemplateHandler(svc *service.Services, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/contract-templates/{id}/archive")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		tmpl, err := svc.Templates.Archive(ctx, caller, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, tmpl)
	}
}

func reconcileHandler(svc *service.Services, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/reconcile")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		report, err := svc.Reconciler.ReconcileFor(ctx, caller)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func lifecycleMetricsHandler(svc *service.Services, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/metrics/lifecycle")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		if err := authz.Require(caller.Profile, authz.ViewMetrics); err != nil {
			metrics.IncrAuthzDenial(authz.ViewMetrics.Name, "denied")
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, metrics.GetLifecycleSnapshot())
	}
}
