package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/resilience"
	"github.com/boddenberg/franchise-core-go/internal/port"
	"github.com/boddenberg/franchise-core-go/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}, zap.NewNop()), mock
}

func TestInsert_ReturnsRowJSON(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`WITH ins AS (INSERT INTO "profiles" ("full_name", "id", "role") VALUES ($1, $2, $3) RETURNING *) SELECT row_to_json(ins) FROM ins`)).
		WithArgs("Li Hua", "u1", "applicant").
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow([]byte(`{"id":"u1","full_name":"Li Hua","role":"applicant"}`)))

	out, err := store.Insert(context.Background(), port.TableProfiles, map[string]any{
		"id":        "u1",
		"full_name": "Li Hua",
		"role":      domain.RoleApplicant,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"u1","full_name":"Li Hua","role":"applicant"}`, string(out))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_UniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`INSERT INTO "signed_contracts"`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "signed_contracts_application_id_key"})

	_, err := store.Insert(context.Background(), port.TableSignedContracts, map[string]any{"application_id": "a1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, port.ErrUniqueViolation))
	assert.Contains(t, err.Error(), "signed_contracts_application_id_key")
}

func TestSelect_BuildsQuery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT COALESCE(json_agg(t), '[]'::json) FROM (SELECT * FROM "franchise_applications" WHERE "user_id" = $1 AND "status" = ANY($2) AND "reviewed_at" IS NULL ORDER BY "submitted_at" DESC LIMIT 10 OFFSET 20) t`)).
		WithArgs("u1", `{"submitted","under_review"}`).
		WillReturnRows(sqlmock.NewRows([]string{"json_agg"}).AddRow([]byte(`[{"id":"a1"}]`)))

	out, err := store.Select(context.Background(), port.TableApplications, port.Query{
		Filters: []port.Filter{
			port.Eq("user_id", "u1"),
			port.In("status", []string{"submitted", "under_review"}),
			{Column: "reviewed_at", Op: port.OpIs},
		},
		Order:  []port.Order{{Column: "submitted_at", Desc: true}},
		Limit:  10,
		Offset: 20,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"a1"}]`, string(out))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTemplates_BreaksCreatedAtTiesByID(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT COALESCE(json_agg(t), '[]'::json) FROM (SELECT * FROM "contract_templates" WHERE "status" = $1 ORDER BY "created_at" ASC, "id" ASC) t`)).
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows([]string{"json_agg"}).AddRow([]byte(`[` +
			`{"id":"0195b2a0-0000-7000-8000-000000000001","name":"older","status":"active","created_at":"2026-03-01T09:00:00Z"},` +
			`{"id":"0195b2a0-0000-7000-8000-000000000002","name":"newer","status":"active","created_at":"2026-03-01T09:00:00Z"}]`)))

	list, err := repository.NewTemplates(store).ListTemplates(context.Background(), domain.TemplateActive)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "newer", list[1].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelect_RetriesTransientErrors(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COALESCE`).WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectQuery(`SELECT COALESCE`).
		WillReturnRows(sqlmock.NewRows([]string{"json_agg"}).AddRow([]byte(`[]`)))

	out, err := store.Select(context.Background(), port.TableProfiles, port.Query{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelect_PermanentErrorsNotRetried(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COALESCE`).WillReturnError(&pq.Error{Code: "42P01", Message: "relation does not exist"})

	_, err := store.Select(context.Background(), "missing", port.Query{})
	require.Error(t, err)
	assert.Equal(t, domain.KindDependency, domain.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_ConditionalRowsAffected(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE "franchise_applications" SET "status" = $1, "updated_at" = $2 WHERE "id" = $3 AND "status" = $4`)).
		WithArgs("approved", sqlmock.AnyArg(), "a1", "submitted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "franchise_applications"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	filters := []port.Filter{port.Eq("id", "a1"), port.Eq("status", "submitted")}
	patch := map[string]any{"status": domain.ApplicationApproved, "updated_at": time.Now()}

	n, err := store.Update(context.Background(), port.TableApplications, filters, patch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Update(context.Background(), port.TableApplications, filters, patch)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	store, mock := newMockStore(t)

	assert.Error(t, store.Delete(context.Background(), port.TableProfiles, nil))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "profiles" WHERE "id" = $1`)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Delete(context.Background(), port.TableProfiles, []port.Filter{port.Eq("id", "u1")}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLValue(t *testing.T) {
	amount := 800000.0
	notes := "合格"
	var missing *string
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.FixedZone("CST", 8*3600))

	assert.Nil(t, sqlValue(nil))
	assert.Nil(t, sqlValue(missing))
	assert.Equal(t, 800000.0, sqlValue(&amount))
	assert.Equal(t, "合格", sqlValue(&notes))
	assert.Equal(t, "contracted", sqlValue(domain.ApplicationContracted))
	assert.Equal(t, at.UTC(), sqlValue(at))
	assert.Equal(t, `[{"name":"id.pdf"}]`, sqlValue(json.RawMessage(`[{"name":"id.pdf"}]`)))

	raw, ok := sqlValue([]domain.Document{{Name: "id.pdf", URL: "u", Type: "application/pdf", Size: 3}}).(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(raw, `[{"name":"id.pdf"`))
}

func TestBuildWhere_RejectsUnknownOp(t *testing.T) {
	_, _, err := buildWhere([]port.Filter{{Column: "id", Op: "like", Value: "x"}}, 1)
	assert.Error(t, err)

	_, _, err = buildWhere([]port.Filter{{Column: "id", Op: port.OpIn, Value: "x"}}, 1)
	assert.Error(t, err)
}

func TestMigrations_Paired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	require.Len(t, ups, 3)
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := fs.Stat(migrationsFS, down)
		assert.NoError(t, err, "missing %s", down)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	require.NoError(t, err)
	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	body, err := fs.ReadFile(migrationsFS, "migrations/000002_create_franchise_applications.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "franchise_applications_one_open_per_user")
}
