package handler

import (
	"context"
	"net/http"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Profile Handlers
// ============================================================

// resolveCaller loads the caller of the request, writing the error response
// when it cannot.
func resolveCaller(ctx context.Context, w http.ResponseWriter, dir *service.Directory, logger *zap.Logger) (*domain.Caller, bool) {
	caller, err := dir.CurrentCaller(ctx)
	if err != nil {
		handleServiceError(w, err, logger)
		return nil, false
	}
	return caller, true
}

func registerProfileHandler(dir *service.Directory, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/profiles/me")
		defer span.End()

		principal, ok := service.ResolveCurrentPrincipal(ctx)
		if !ok {
			handleServiceError(w, &domain.ErrUnauthorized{Message: "authentication required"}, logger)
			return
		}

		var req domain.RegisterRequest
		if err := decodeJSON(r, registerSchema, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		profile, err := dir.Register(ctx, principal, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, profile)
	}
}

func getMyProfileHandler(dir *service.Directory, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/profiles/me")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, dir, logger)
		if !ok {
			return
		}
		profile, err := dir.Me(ctx, caller)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func listProfilesHandler(dir *service.Directory, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/profiles")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, dir, logger)
		if !ok {
			return
		}
		page, pageSize := parsePagination(r)
		profiles, err := dir.ListProfiles(ctx, caller, page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, listResponse(profiles, page, pageSize))
	}
}

func changeRoleHandler(dir *service.Directory, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/admin/profiles/{id}/role")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, dir, logger)
		if !ok {
			return
		}
		var req domain.RoleChangeRequest
		if err := decodeJSON(r, roleChangeSchema, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		profile, err := dir.ChangeRole(ctx, caller, chi.URLParam(r, "id"), req.Role)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func changeStatusHandler(dir *service.Directory, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/admin/profiles/{id}/status")
		defer span.End()

		caller, ok := resolveCaller(ctx, w, dir, logger)
		if !ok {
			return
		}
		var req domain.StatusChangeRequest
		if err := decodeJSON(r, statusChangeSchema, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		profile, err := dir.ChangeStatus(ctx, caller, chi.URLParam(r, "id"), req.Status)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}
