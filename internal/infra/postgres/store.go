// Package postgres implements the record store directly on PostgreSQL for
// deployments that do not go through PostgREST.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/domain"
	"github.com/boddenberg/franchise-core-go/internal/infra/resilience"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("postgres")

// Open opens a connection pool for dsn.
func Open(dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 10
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Store implements port.RecordStore on database/sql.
type Store struct {
	db     *sql.DB
	cfg    resilience.Config
	logger *zap.Logger
}

// New wraps an open pool.
func New(db *sql.DB, cfg resilience.Config, logger *zap.Logger) *Store {
	return &Store{db: db, cfg: cfg, logger: logger}
}

var _ port.RecordStore = (*Store)(nil)

// Insert stores row and returns it as a JSON object.
func (s *Store) Insert(ctx context.Context, table string, row map[string]any) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", table))

	query, args, err := buildInsert(table, row)
	if err != nil {
		return nil, err
	}

	var out []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&out); err != nil {
		return nil, s.wrapErr("insert "+table, err)
	}
	return out, nil
}

// Select returns matching rows as a JSON array. Transient failures are retried.
func (s *Store) Select(ctx context.Context, table string, q port.Query) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Select")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", table))

	query, args, err := buildSelect(table, q)
	if err != nil {
		return nil, err
	}

	var out []byte
	err = resilience.RetryWithBackoff(ctx, s.cfg, func() error {
		err := s.db.QueryRowContext(ctx, query, args...).Scan(&out)
		if err != nil && !isTransient(err) {
			return resilience.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, s.wrapErr("select "+table, err)
	}
	if len(out) == 0 {
		return []byte("[]"), nil
	}
	return out, nil
}

// Update applies patch to the matching rows and reports how many changed.
func (s *Store) Update(ctx context.Context, table string, filters []port.Filter, patch map[string]any) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", table))

	query, args, err := buildUpdate(table, filters, patch)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.wrapErr("update "+table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.wrapErr("update "+table, err)
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", n))
	return int(n), nil
}

// Delete removes the matching rows. An empty filter list is refused.
func (s *Store) Delete(ctx context.Context, table string, filters []port.Filter) error {
	ctx, span := tracer.Start(ctx, "Postgres.Delete")
	defer span.End()

	if len(filters) == 0 {
		return fmt.Errorf("postgres: refusing unfiltered delete on %s", table)
	}
	where, args, err := buildWhere(filters, 1)
	if err != nil {
		return err
	}
	query := "DELETE FROM " + pq.QuoteIdentifier(table) + where
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return s.wrapErr("delete "+table, err)
	}
	return nil
}

// Name implements port.HealthChecker.
func (s *Store) Name() string { return "postgres" }

// Ping checks the connection pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.wrapErr("ping", s.db.PingContext(ctx))
}

func (s *Store) wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pqErr) && pqErr.Code == "23505":
		return fmt.Errorf("postgres %s: %w: %s", op, port.ErrUniqueViolation, pqErr.Constraint)
	case errors.Is(err, context.DeadlineExceeded):
		return &domain.ErrTimeout{Operation: "postgres " + op}
	default:
		s.logger.Warn("postgres: statement failed", zap.String("op", op), zap.Error(err))
		return &domain.ErrExternalService{Service: "postgres", Err: fmt.Errorf("%s: %w", op, err)}
	}
}

// isTransient reports connection, lock and resource errors worth retrying.
func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return true
		}
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// ============================================================
// SQL building
// ============================================================

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildInsert(table string, row map[string]any) (string, []any, error) {
	if len(row) == 0 {
		return "", nil, fmt.Errorf("postgres: empty insert on %s", table)
	}
	keys := sortedKeys(row)
	cols := make([]string, len(keys))
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = pq.QuoteIdentifier(k)
		marks[i] = "$" + strconv.Itoa(i+1)
		args[i] = sqlValue(row[k])
	}
	query := fmt.Sprintf("WITH ins AS (INSERT INTO %s (%s) VALUES (%s) RETURNING *) SELECT row_to_json(ins) FROM ins",
		pq.QuoteIdentifier(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	return query, args, nil
}

func buildSelect(table string, q port.Query) (string, []any, error) {
	where, args, err := buildWhere(q.Filters, 1)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(pq.QuoteIdentifier(table))
	b.WriteString(where)
	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts[i] = pq.QuoteIdentifier(o.Column) + " " + dir
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(q.Offset))
	}

	return "SELECT COALESCE(json_agg(t), '[]'::json) FROM (" + b.String() + ") t", args, nil
}

func buildUpdate(table string, filters []port.Filter, patch map[string]any) (string, []any, error) {
	if len(patch) == 0 {
		return "", nil, fmt.Errorf("postgres: empty update on %s", table)
	}
	keys := sortedKeys(patch)
	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys)+len(filters))
	for i, k := range keys {
		sets[i] = pq.QuoteIdentifier(k) + " = $" + strconv.Itoa(i+1)
		args = append(args, sqlValue(patch[k]))
	}
	where, whereArgs, err := buildWhere(filters, len(keys)+1)
	if err != nil {
		return "", nil, err
	}
	args = append(args, whereArgs...)
	return "UPDATE " + pq.QuoteIdentifier(table) + " SET " + strings.Join(sets, ", ") + where, args, nil
}

// buildWhere renders filters with placeholders numbered from start.
func buildWhere(filters []port.Filter, start int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(filters))
	var args []any
	n := start
	for _, f := range filters {
		col := pq.QuoteIdentifier(f.Column)
		switch f.Op {
		case port.OpEq:
			parts = append(parts, col+" = $"+strconv.Itoa(n))
			args = append(args, sqlValue(f.Value))
			n++
		case port.OpNeq:
			parts = append(parts, col+" <> $"+strconv.Itoa(n))
			args = append(args, sqlValue(f.Value))
			n++
		case port.OpIn:
			values, ok := f.Value.([]string)
			if !ok {
				return "", nil, fmt.Errorf("postgres: filter %s: in expects []string", f.Column)
			}
			parts = append(parts, col+" = ANY($"+strconv.Itoa(n)+")")
			args = append(args, pq.Array(values))
			n++
		case port.OpIs:
			parts = append(parts, col+" IS NULL")
		default:
			return "", nil, fmt.Errorf("postgres: unsupported filter op %q", f.Op)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// sqlValue converts repository values into types lib/pq can bind.
func sqlValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return string(x)
	case time.Time:
		return x.UTC()
	case string, bool, int, int64, float64, []byte:
		return x
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	if t, ok := rv.Interface().(time.Time); ok {
		return t.UTC()
	}
	// Structs, slices and maps land in json/jsonb columns.
	raw, err := json.Marshal(rv.Interface())
	if err != nil {
		return fmt.Sprint(rv.Interface())
	}
	return string(raw)
}
