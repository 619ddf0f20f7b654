package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for consistent error handling across the core.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in a record or object store call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrValidationList collects several field errors found in one pass.
type ErrValidationList struct {
	Fields []ErrValidation
}

func (e *ErrValidationList) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a field error.
func (e *ErrValidationList) Add(field, message string) {
	e.Fields = append(e.Fields, ErrValidation{Field: field, Message: message})
}

// OrNil returns e when it holds at least one field error.
func (e *ErrValidationList) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ErrInvalidAttachment indicates a file that breaks the attachment rules.
type ErrInvalidAttachment struct {
	File   string
	Reason string
}

func (e *ErrInvalidAttachment) Error() string {
	if e.File == "" {
		return fmt.Sprintf("invalid attachment: %s", e.Reason)
	}
	return fmt.Sprintf("invalid attachment '%s': %s", e.File, e.Reason)
}

// ErrUnauthorized indicates a missing or invalid principal token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrProfileMissing indicates an authenticated principal with no profile.
type ErrProfileMissing struct {
	PrincipalID string
}

func (e *ErrProfileMissing) Error() string {
	return fmt.Sprintf("profile missing for principal: %s", e.PrincipalID)
}

// ErrForbidden indicates the caller lacks permission for the operation.
type ErrForbidden struct {
	Action string
	Reason string
}

func (e *ErrForbidden) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("forbidden: %s", e.Action)
	}
	return fmt.Sprintf("forbidden: %s (%s)", e.Action, e.Reason)
}

// ErrInvalidTransition indicates a lifecycle edge that does not exist.
type ErrInvalidTransition struct {
	From ApplicationStatus
	To   ApplicationStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// ErrConcurrentModification indicates a conditional write matched no rows.
type ErrConcurrentModification struct {
	Resource string
	ID       string
	Expected string
}

func (e *ErrConcurrentModification) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently (expected status %s)", e.Resource, e.ID, e.Expected)
}

// ErrDuplicateOpenApplication indicates the principal already has an open application.
type ErrDuplicateOpenApplication struct {
	UserID        string
	ApplicationID string
}

func (e *ErrDuplicateOpenApplication) Error() string {
	if e.ApplicationID == "" {
		return fmt.Sprintf("user %s already has an open application", e.UserID)
	}
	return fmt.Sprintf("user %s already has an open application: %s", e.UserID, e.ApplicationID)
}

// ErrDuplicateContract indicates a signed contract already exists for the application.
type ErrDuplicateContract struct {
	ApplicationID string
}

func (e *ErrDuplicateContract) Error() string {
	return fmt.Sprintf("application %s already has a signed contract", e.ApplicationID)
}

// ErrNoActiveTemplate indicates no active contract template exists.
type ErrNoActiveTemplate struct{}

func (e *ErrNoActiveTemplate) Error() string {
	return "no active contract template"
}

// ErrConflict indicates a resource already exists.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrPartialUpload indicates a batch upload that stopped midway.
// Stored holds the documents that did reach the object store.
type ErrPartialUpload struct {
	Stored []Document
	Failed string
	Err    error
}

func (e *ErrPartialUpload) Error() string {
	return fmt.Sprintf("upload stopped at '%s' after %d stored: %v", e.Failed, len(e.Stored), e.Err)
}

func (e *ErrPartialUpload) Unwrap() error {
	return e.Err
}

// ErrPartialFinalization indicates the signed contract was written but the
// application could not be moved to contracted.
type ErrPartialFinalization struct {
	ApplicationID    string
	SignedContractID string
	Steps            []SagaRecord
	Err              error
}

func (e *ErrPartialFinalization) Error() string {
	return fmt.Sprintf("partial finalization: contract %s stored but application %s not contracted: %v",
		e.SignedContractID, e.ApplicationID, e.Err)
}

func (e *ErrPartialFinalization) Unwrap() error {
	return e.Err
}

// ============================================================
// Error kinds
// ============================================================

// ErrorKind is a coarse classification of the error taxonomy above.
type ErrorKind string

const (
	KindNone                     ErrorKind = ""
	KindNotFound                 ErrorKind = "not_found"
	KindValidation               ErrorKind = "validation"
	KindInvalidAttachment        ErrorKind = "invalid_attachment"
	KindUnauthorized             ErrorKind = "unauthorized"
	KindProfileMissing           ErrorKind = "profile_missing"
	KindAuthorization            ErrorKind = "authorization"
	KindInvalidTransition        ErrorKind = "invalid_transition"
	KindConcurrentModification   ErrorKind = "concurrent_modification"
	KindDuplicateOpenApplication ErrorKind = "duplicate_open_application"
	KindDuplicateContract        ErrorKind = "duplicate_contract"
	KindNoActiveTemplate         ErrorKind = "no_active_template"
	KindConflict                 ErrorKind = "conflict"
	KindPartialUpload            ErrorKind = "partial_upload"
	KindPartialFinalization      ErrorKind = "partial_finalization"
	KindDependency               ErrorKind = "dependency_failure"
	KindTimeout                  ErrorKind = "timeout"
	KindInternal                 ErrorKind = "internal"
)

// KindOf classifies err. Partial failures win over the dependency error
// they wrap.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var (
		partialFinal *ErrPartialFinalization
		partialUp    *ErrPartialUpload
		notFound     *ErrNotFound
		validation   *ErrValidation
		validations  *ErrValidationList
		attachment   *ErrInvalidAttachment
		unauthorized *ErrUnauthorized
		missing      *ErrProfileMissing
		forbidden    *ErrForbidden
		transition   *ErrInvalidTransition
		concurrent   *ErrConcurrentModification
		dupOpen      *ErrDuplicateOpenApplication
		dupContract  *ErrDuplicateContract
		noTemplate   *ErrNoActiveTemplate
		conflict     *ErrConflict
		external     *ErrExternalService
		circuit      *ErrCircuitOpen
		timeout      *ErrTimeout
	)

	switch {
	case errors.As(err, &partialFinal):
		return KindPartialFinalization
	case errors.As(err, &partialUp):
		return KindPartialUpload
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &validation), errors.As(err, &validations):
		return KindValidation
	case errors.As(err, &attachment):
		return KindInvalidAttachment
	case errors.As(err, &unauthorized):
		return KindUnauthorized
	case errors.As(err, &missing):
		return KindProfileMissing
	case errors.As(err, &forbidden):
		return KindAuthorization
	case errors.As(err, &transition):
		return KindInvalidTransition
	case errors.As(err, &concurrent):
		return KindConcurrentModification
	case errors.As(err, &dupOpen):
		return KindDuplicateOpenApplication
	case errors.As(err, &dupContract):
		return KindDuplicateContract
	case errors.As(err, &noTemplate):
		return KindNoActiveTemplate
	case errors.As(err, &conflict):
		return KindConflict
	case errors.As(err, &timeout):
		return KindTimeout
	case errors.As(err, &external), errors.As(err, &circuit):
		return KindDependency
	default:
		return KindInternal
	}
}
