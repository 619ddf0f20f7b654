package handler

import (
	"net/http"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Application Handlers
// ============================================================

// documentsField is the multipart field carrying supporting documents.
const documentsField = "documents"

// readApplicationRequest accepts either a JSON body of application fields
// or a multipart form with the fields as text parts plus documents.
func readApplicationRequest(w http.ResponseWriter, r *http.Request, maxUpload int64) (*domain.ApplicationFields, []domain.Attachment, error) {
	if !isMultipart(r) {
		var fields domain.ApplicationFields
		if err := decodeJSON(r, applicationFieldsSchema, &fields); err != nil {
			return nil, nil, err
		}
		return &fields, nil, nil
	}

	if err := parseMultipart(w, r, maxUpload); err != nil {
		return nil, nil, err
	}
	files, err := formFiles(r, documentsField)
	if err != nil {
		return nil, nil, err
	}
	body, found, err := applicationFieldsFromForm(r)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, files, nil
	}
	var fields domain.ApplicationFields
	if err := decodeJSONBytes(body, applicationFieldsSchema, &fields); err != nil {
		return nil, nil, err
	}
	return &fields, files, nil
}

func submitApplicationHandler(svc *service.Services, maxUpload int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/applications")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		fields, files, err := readApplicationRequest(w, r, maxUpload)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if fields == nil {
			fields = &domain.ApplicationFields{}
		}

		app, err := svc.Applications.SubmitWithFiles(ctx, caller, *fields, files)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, app)
	}
}

func listMyApplicationsHandler(svc *service.Services, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/applications/me")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		apps, err := svc.Applications.ListMine(ctx, caller)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if apps == nil {
			apps = []domain.Application{}
		}
		writeJSON(w, http.StatusOK, apps)
	}
}

func getApplicationHandler(svc *service.Services, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/applications/{id}")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		app, err := svc.Applications.Get(ctx, caller, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, app)
	}
}

func updateApplicationHandler(svc *service.Services, maxUpload int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/applications/{id}")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		fields, files, err := readApplicationRequest(w, r, maxUpload)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		app, err := svc.Applications.UpdateDetails(ctx, caller, chi.URLParam(r, "id"), fields, files)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, app)
	}
}

func listReviewQueueHandler(svc *service.Services, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/review/applications")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		page, pageSize := parsePagination(r)
		apps, err := svc.Applications.ListForReview(ctx, caller, parseStatuses(r), page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, listResponse(apps, page, pageSize))
	}
}

func decideApplicationHandler(svc *service.Services, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/applications/{id}/decisions")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		var req domain.DecisionRequest
		if err := decodeJSON(r, decisionSchema, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		req.ApplicationID = chi.URLParam(r, "id")

		app, err := svc.Applications.Decide(ctx, caller, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, app)
	}
}
