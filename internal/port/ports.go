// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/domain"
)

// ErrUniqueViolation is wrapped by record stores when an insert or update
// breaks a unique constraint.
var ErrUniqueViolation = errors.New("unique constraint violated")

// ============================================================
// Generic record store
// ============================================================

// Table names shared by every record store.
const (
	TableProfiles        = "profiles"
	TableApplications    = "franchise_applications"
	TableTemplates       = "contract_templates"
	TableSignedContracts = "signed_contracts"
)

// Op is a filter comparison.
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpIn  Op = "in"
	OpIs  Op = "is" // value must be nil
)

// Filter restricts a query to rows where Column Op Value holds.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Eq is shorthand for an equality filter.
func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// In is shorthand for a membership filter. values must be a []string.
func In(column string, values []string) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

// Order sorts query results.
type Order struct {
	Column string
	Desc   bool
}

// Query describes a filtered, ordered and paginated read.
type Query struct {
	Filters []Filter
	Order   []Order
	Limit   int
	Offset  int
}

// RecordStore is the keyed record store the core persists into.
// Rows travel as JSON so adapters never need to know domain types.
type RecordStore interface {
	// Insert stores row and returns the stored record as a JSON object.
	Insert(ctx context.Context, table string, row map[string]any) ([]byte, error)
	// Select returns the matching records as a JSON array.
	Select(ctx context.Context, table string, q Query) ([]byte, error)
	// Update applies patch to every row matching filters and returns the
	// number of rows changed. Filters make the write conditional.
	Update(ctx context.Context, table string, filters []Filter, patch map[string]any) (int, error)
	// Delete removes every row matching filters.
	Delete(ctx context.Context, table string, filters []Filter) error
}

// ObjectStore stores binary objects in named buckets.
type ObjectStore interface {
	// Upload stores data and returns a retrieval URL for it.
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	// PublicURL resolves the retrieval URL of an existing object.
	PublicURL(bucket, path string) string
	// Remove deletes the given objects. Missing objects are not an error.
	Remove(ctx context.Context, bucket string, paths []string) error
}

// HealthChecker is implemented by backends that can report liveness.
type HealthChecker interface {
	Name() string
	Ping(ctx context.Context) error
}

// ============================================================
// Typed stores used by the services
// ============================================================

// ProfileStore persists directory profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	CreateProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error)
	ListProfiles(ctx context.Context, page, pageSize int) ([]domain.Profile, error)
	UpdateProfileRole(ctx context.Context, id string, role domain.Role, at time.Time) error
	UpdateProfileStatus(ctx context.Context, id string, status domain.AccountStatus, at time.Time) error
}

// ApplicationPatch lists the columns a conditional application update may set.
// Nil fields are left untouched.
type ApplicationPatch struct {
	Status                 *domain.ApplicationStatus
	ReviewedAt             *time.Time
	ReviewedByUserID       *string
	ReviewNotes            *string
	HQCommentsForApplicant *string
	Fields                 *domain.ApplicationFields
	Documents              []domain.Document
	UpdatedAt              time.Time
}

// ApplicationStore persists franchise applications.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app *domain.Application) (*domain.Application, error)
	GetApplication(ctx context.Context, id string) (*domain.Application, error)
	GetApplicationsByIDs(ctx context.Context, ids []string) ([]domain.Application, error)
	FindOpenApplication(ctx context.Context, userID string) (*domain.Application, error)
	ListApplicationsByUser(ctx context.Context, userID string) ([]domain.Application, error)
	ListApplicationsByStatus(ctx context.Context, statuses []domain.ApplicationStatus, page, pageSize int) ([]domain.Application, error)
	// UpdateApplicationIf applies patch only while the stored status equals
	// expected. It reports false when no row matched.
	UpdateApplicationIf(ctx context.Context, id string, expected domain.ApplicationStatus, patch ApplicationPatch) (bool, error)
}

// TemplateStore persists contract templates.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *domain.ContractTemplate) (*domain.ContractTemplate, error)
	GetTemplate(ctx context.Context, id string) (*domain.ContractTemplate, error)
	// ListTemplates returns templates oldest first. An empty status lists all.
	ListTemplates(ctx context.Context, status domain.TemplateStatus) ([]domain.ContractTemplate, error)
	ArchiveTemplateIf(ctx context.Context, id string) (bool, error)
}

// ContractStore persists signed contracts.
type ContractStore interface {
	CreateSignedContract(ctx context.Context, c *domain.SignedContract) (*domain.SignedContract, error)
	GetSignedContract(ctx context.Context, id string) (*domain.SignedContract, error)
	FindContractByApplication(ctx context.Context, applicationID string) (*domain.SignedContract, error)
	ListContractsByUser(ctx context.Context, userID string) ([]domain.SignedContract, error)
	ListSignedContracts(ctx context.Context, page, pageSize int) ([]domain.SignedContract, error)
}

// ContractNumberer issues human-readable contract numbers.
type ContractNumberer interface {
	Next(ctx context.Context, applicationID string, at time.Time) (string, error)
}

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(token string) (*domain.Principal, error)
}
