package handler

import (
	"net/http"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Contract Handlers
// ============================================================

const signatureField = "signature"

func contractTemplateHandler(svc *service.Services, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/applications/{id}/contract-template")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		tmpl, err := svc.Templates.ResolveTemplate(ctx, caller, chi.URLParam(r, "id"), r.URL.Query().Get("template_id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, tmpl)
	}
}

func finalizeContractHandler(svc *service.Services, maxUpload int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/applications/{id}/contract")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		if !isMultipart(r) {
			handleServiceError(w, &domain.ErrValidation{Field: signatureField, Message: "a multipart form with the signature image is required"}, logger)
			return
		}
		if err := parseMultipart(w, r, maxUpload); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		sig, err := formFile(r, signatureField)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		contract, err := svc.Finalization.FinalizeContract(ctx, caller, chi.URLParam(r, "id"), sig)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, contract)
	}
}

func listMyContractsHandler(svc *service.Services, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/contracts/me")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		contracts, err := svc.Finalization.ListMyContracts(ctx, caller)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if contracts == nil {
			contracts = []domain.SignedContract{}
		}
		writeJSON(w, http.StatusOK, contracts)
	}
}

func getContractHandler(svc *service.Services, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/contracts/{id}")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, svc.Directory, logger)
		if !ok {
			return
		}
		contract, err := svc.Finalization.GetContract(ctx, caller, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, contract)
	}
}
