package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/boddenberg/franchise-core-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error  string       `json:"error"`
	Kind   string       `json:"kind,omitempty"`
	Fields []fieldError `json:"fields,omitempty"`

	// partial upload
	StoredDocuments []domain.Document `json:"stored_documents,omitempty"`
	FailedFile      string            `json:"failed_file,omitempty"`

	// partial finalization
	ApplicationID    string `json:"application_id,omitempty"`
	SignedContractID string `json:"signed_contract_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 20
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}
	return
}

func listResponse[T any](items []T, page, pageSize int) domain.ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return domain.ListResponse[T]{
		Data:     items,
		Total:    len(items),
		Page:     page,
		PageSize: pageSize,
		HasMore:  len(items) == pageSize,
	}
}

// parseStatuses reads a comma separated ?status= filter.
func parseStatuses(r *http.Request) []domain.ApplicationStatus {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil
	}
	var out []domain.ApplicationStatus
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, domain.ApplicationStatus(s))
		}
	}
	return out
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind domain.ErrorKind, err error) int {
	switch kind {
	case domain.KindValidation, domain.KindInvalidAttachment:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindProfileMissing, domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound, domain.KindNoActiveTemplate:
		return http.StatusNotFound
	case domain.KindInvalidTransition, domain.KindConcurrentModification,
		domain.KindDuplicateOpenApplication, domain.KindDuplicateContract, domain.KindConflict:
		return http.StatusConflict
	case domain.KindPartialUpload:
		return http.StatusBadGateway
	case domain.KindPartialFinalization:
		return http.StatusInternalServerError
	case domain.KindTimeout:
		return http.StatusGatewayTimeout
	case domain.KindDependency:
		var circuitOpen *domain.ErrCircuitOpen
		if errors.As(err, &circuitOpen) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	kind := domain.KindOf(err)
	status := statusFor(kind, err)
	resp := errorResponse{Error: err.Error(), Kind: string(kind)}

	var (
		validation   *domain.ErrValidation
		validations  *domain.ErrValidationList
		partialUp    *domain.ErrPartialUpload
		partialFinal *domain.ErrPartialFinalization
	)

	switch {
	case errors.As(err, &validations):
		for _, f := range validations.Fields {
			resp.Fields = append(resp.Fields, fieldError{Field: f.Field, Message: f.Message})
		}
		logger.Debug("validation error", zap.String("error", err.Error()))
	case errors.As(err, &validation):
		resp.Fields = []fieldError{{Field: validation.Field, Message: validation.Message}}
		logger.Debug("validation error", zap.String("error", err.Error()))
	case errors.As(err, &partialFinal):
		resp.ApplicationID = partialFinal.ApplicationID
		resp.SignedContractID = partialFinal.SignedContractID
		logger.Error("partial finalization", zap.Error(err))
	case errors.As(err, &partialUp):
		resp.StoredDocuments = partialUp.Stored
		resp.FailedFile = partialUp.Failed
		logger.Error("partial upload", zap.Error(err))
	case kind == domain.KindDependency || kind == domain.KindTimeout:
		logger.Error("dependency failure", zap.Error(err))
	case kind == domain.KindUnauthorized || kind == domain.KindAuthorization || kind == domain.KindProfileMissing:
		logger.Warn("access denied", zap.String("error", err.Error()))
	case status == http.StatusInternalServerError:
		logger.Error("unhandled error", zap.Error(err))
		resp = errorResponse{Error: "internal server error", Kind: string(domain.KindInternal)}
	default:
		logger.Debug("request rejected", zap.String("kind", string(kind)), zap.String("error", err.Error()))
	}

	writeJSON(w, status, resp)
}
