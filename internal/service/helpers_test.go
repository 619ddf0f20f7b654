package service_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/memstore"
	"github.com/boddenberg/franchise-core-go/internal/infra/observability"
	"github.com/boddenberg/franchise-core-go/internal/infra/sequence"
	"github.com/boddenberg/franchise-core-go/internal/port"
	"github.com/boddenberg/franchise-core-go/internal/repository"
	"github.com/boddenberg/franchise-core-go/internal/service"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	pdfBytes  = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 32)...)
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, make([]byte, 32)...)
)

func pdf(name string) domain.Attachment {
	return domain.Attachment{Name: name, ContentType: "application/pdf", Data: pdfBytes}
}

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func signaturePNG() domain.Attachment {
	return domain.Attachment{Name: "signature.png", ContentType: "image/png", Data: pngBytes}
}

// clock is a settable time source shared by all services of a harness.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// flakyApplications fails the approved -> contracted write while failMark
// is set.
type flakyApplications struct {
	port.ApplicationStore
	failMark atomic.Bool
}

func (f *flakyApplications) UpdateApplicationIf(ctx context.Context, id string, expected domain.ApplicationStatus, patch port.ApplicationPatch) (bool, error) {
	if f.failMark.Load() && patch.Status != nil && *patch.Status == domain.ApplicationContracted {
		return false, &domain.ErrExternalService{Service: "record_store", Err: errors.New("connection reset by peer")}
	}
	return f.ApplicationStore.UpdateApplicationIf(ctx, id, expected, patch)
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	clock     *clock
	objects   *memstore.Objects
	profiles  *repository.Profiles
	apps      *flakyApplications
	contracts *repository.Contracts
	metrics   *observability.Metrics
	svc       *service.Services
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, sequence.HashNumberer{})
}

func newHarnessWith(t *testing.T, numberer port.ContractNumberer) *harness {
	t.Helper()
	records, objects := memstore.New()
	h := &harness{
		t:         t,
		ctx:       context.Background(),
		clock:     &clock{t: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)},
		objects:   objects,
		profiles:  repository.NewProfiles(records),
		apps:      &flakyApplications{ApplicationStore: repository.NewApplications(records)},
		contracts: repository.NewContracts(records),
		metrics:   observability.NewMetrics(),
	}
	h.svc = service.New(service.Stores{
		Profiles:     h.profiles,
		Applications: h.apps,
		Templates:    repository.NewTemplates(records),
		Contracts:    h.contracts,
		Objects:      objects,
		Numberer:     numberer,
	}, service.Config{
		UploadConcurrency:    4,
		ReconcileConcurrency: 2,
		ReconcilePageSize:    2,
	}, h.metrics, zap.NewNop(), service.WithClock(h.clock.Now))
	return h
}

// principal stores a profile and returns the caller the directory resolves
// for it.
func (h *harness) principal(id string, role domain.Role, status domain.AccountStatus) *domain.Caller {
	h.t.Helper()
	now := h.clock.Now()
	email := id + "@example.com"
	_, err := h.profiles.CreateProfile(h.ctx, &domain.Profile{
		ID:        id,
		FullName:  "User " + id,
		Email:     &email,
		Role:      role,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(h.t, err)

	ctx := service.WithPrincipal(h.ctx, &domain.Principal{ID: id, Email: email})
	caller, err := h.svc.Directory.CurrentCaller(ctx)
	require.NoError(h.t, err)
	return caller
}

func (h *harness) applicant(id string) *domain.Caller {
	return h.principal(id, domain.RoleApplicant, domain.AccountActive)
}

func (h *harness) reviewer(id string) *domain.Caller {
	return h.principal(id, domain.RoleHQRecruiter, domain.AccountActive)
}

func (h *harness) admin(id string) *domain.Caller {
	return h.principal(id, domain.RoleAdmin, domain.AccountActive)
}

func fieldsFor(name, city string) domain.ApplicationFields {
	amount := "80万"
	return domain.ApplicationFields{
		ContactName:      name,
		ContactPhone:     "13800000000",
		ContactEmail:     "candidate@example.com",
		IntendedCity:     city,
		InvestmentAmount: &amount,
	}
}

func (h *harness) submit(caller *domain.Caller) *domain.Application {
	h.t.Helper()
	app, err := h.svc.Applications.Submit(h.ctx, caller, fieldsFor("Li Hua", "Shanghai"), nil)
	require.NoError(h.t, err)
	return app
}

func (h *harness) decide(reviewer *domain.Caller, id string, to domain.ApplicationStatus, comments string) *domain.Application {
	h.t.Helper()
	req := domain.DecisionRequest{ApplicationID: id, To: to}
	if comments != "" {
		req.CommentsForApplicant = &comments
	}
	app, err := h.svc.Applications.Decide(h.ctx, reviewer, req)
	require.NoError(h.t, err)
	return app
}

func (h *harness) uploadTemplate(admin *domain.Caller, name string) *domain.ContractTemplate {
	h.t.Helper()
	tmpl, err := h.svc.Templates.Upload(h.ctx, admin, domain.TemplateUpload{Name: name, File: pdf(name + ".pdf")})
	require.NoError(h.t, err)
	return tmpl
}

// approved returns an approved application of a fresh applicant and makes
// sure an active template exists.
func (h *harness) approved(applicantID string) (*domain.Caller, *domain.Application) {
	h.t.Helper()
	owner := h.applicant(applicantID)
	reviewer := h.reviewer("rev-" + applicantID)
	app := h.submit(owner)
	app = h.decide(reviewer, app.ID, domain.ApplicationApproved, "")

	list, err := h.svc.Templates.List(h.ctx, reviewer, domain.TemplateActive)
	require.NoError(h.t, err)
	if len(list) == 0 {
		h.uploadTemplate(reviewer, "Standard Franchise Agreement")
	}
	return owner, app
}
