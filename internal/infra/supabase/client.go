// Package supabase provides clients for Supabase PostgREST and Storage.
// It is the production record store and object store of the franchise core.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/resilience"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase REST and Storage APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	storageURL     string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		storageURL:     baseURL + "/storage/v1",
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// apiError is a non-2xx answer from Supabase.
type apiError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
	Body    string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("supabase %s %s returned %d (%s): %s", e.Method, e.Path, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// newAPIError classifies a failed response. Unique violations wrap
// port.ErrUniqueViolation; client errors are marked permanent so they are
// neither retried nor counted by the breaker.
func newAPIError(method, path string, status int, body []byte) error {
	e := &apiError{Method: method, Path: path, Status: status, Body: string(body)}

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Code = payload.Code
		e.Message = payload.Message
		if e.Message == "" {
			e.Message = payload.Error
		}
		if payload.Details != "" {
			e.Message += " " + payload.Details
		}
	}

	var err error = e
	if e.Code == "23505" || (status == http.StatusConflict && e.Code == "") {
		err = fmt.Errorf("%w: %w", port.ErrUniqueViolation, e)
	}
	if status < 500 && status != http.StatusTooManyRequests {
		return resilience.Permanent(err)
	}
	return err
}

// wrapErr maps transport failures onto the domain error taxonomy.
func (c *Client) wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case resilience.IsBreakerRejection(err):
		return &domain.ErrCircuitOpen{Service: "supabase"}
	case errors.Is(err, port.ErrUniqueViolation):
		return fmt.Errorf("supabase %s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ErrTimeout{Operation: "supabase " + op}
	default:
		return &domain.ErrExternalService{Service: "supabase", Err: fmt.Errorf("%s: %w", op, err)}
	}
}

// Name implements port.HealthChecker.
func (c *Client) Name() string { return "supabase" }

// Ping checks that PostgREST answers for the profiles table.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	_, err := c.doRequest(ctx, http.MethodGet, port.TableProfiles+"?select=id&limit=1")
	return c.wrapErr("ping", err)
}
