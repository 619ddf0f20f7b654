// Package memstore provides in-process record and object stores.
// They back local development (STORE_BACKEND=memory) and the service tests,
// and enforce the same unique constraints as the SQL schema.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/port"

	"github.com/google/uuid"
)

// Unique is a (possibly partial) unique constraint over one table.
type Unique struct {
	Name    string
	Columns []string
	// Where limits the constraint to matching rows. Nil applies it to all rows.
	Where func(row map[string]any) bool
}

// Records is a mutex-guarded port.RecordStore. Rows keep insertion order.
type Records struct {
	mu      sync.Mutex
	tables  map[string][]map[string]any
	uniques map[string][]Unique
}

// NewRecords returns an empty store with the given constraints per table.
func NewRecords(constraints map[string][]Unique) *Records {
	u := make(map[string][]Unique, len(constraints))
	for t, cs := range constraints {
		u[t] = append([]Unique(nil), cs...)
	}
	return &Records{
		tables:  make(map[string][]map[string]any),
		uniques: u,
	}
}

var _ port.RecordStore = (*Records)(nil)

// Insert stores row, assigning an id when missing.
func (s *Records) Insert(ctx context.Context, table string, row map[string]any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := normalizeRow(row)
	if err != nil {
		return nil, err
	}
	if v, ok := rec["id"]; !ok || v == nil || v == "" {
		rec["id"] = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUnique(table, rec, -1); err != nil {
		return nil, err
	}
	s.tables[table] = append(s.tables[table], rec)
	return json.Marshal(rec)
}

// Select returns matching rows as a JSON array.
func (s *Records) Select(ctx context.Context, table string, q port.Query) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filters, err := normalizeFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	matched := make([]map[string]any, 0)
	for _, rec := range s.tables[table] {
		if matches(rec, filters) {
			matched = append(matched, rec)
		}
	}
	s.mu.Unlock()

	if len(q.Order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range q.Order {
				c := compareValues(matched[i][o.Column], matched[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return json.Marshal(matched)
}

// Update patches matching rows atomically and returns how many changed.
func (s *Records) Update(ctx context.Context, table string, filters []port.Filter, patch map[string]any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	nf, err := normalizeFilters(filters)
	if err != nil {
		return 0, err
	}
	np, err := normalizeRow(patch)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	var idx []int
	updated := make(map[int]map[string]any)
	for i, rec := range rows {
		if !matches(rec, nf) {
			continue
		}
		next := make(map[string]any, len(rec)+len(np))
		for k, v := range rec {
			next[k] = v
		}
		for k, v := range np {
			next[k] = v
		}
		idx = append(idx, i)
		updated[i] = next
	}

	for _, i := range idx {
		if err := s.checkUniqueWith(table, updated[i], i, updated); err != nil {
			return 0, err
		}
	}
	for _, i := range idx {
		rows[i] = updated[i]
	}
	return len(idx), nil
}

// Delete removes matching rows.
func (s *Records) Delete(ctx context.Context, table string, filters []port.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	nf, err := normalizeFilters(filters)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tables[table][:0]
	for _, rec := range s.tables[table] {
		if !matches(rec, nf) {
			kept = append(kept, rec)
		}
	}
	s.tables[table] = kept
	return nil
}

// Name implements port.HealthChecker.
func (s *Records) Name() string { return "memory-records" }

// Ping implements port.HealthChecker.
func (s *Records) Ping(context.Context) error { return nil }

// Count returns the number of rows in table.
func (s *Records) Count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

// ============================================================
// Constraint checks
// ============================================================

func (s *Records) checkUnique(table string, rec map[string]any, self int) error {
	return s.checkUniqueWith(table, rec, self, nil)
}

// checkUniqueWith validates rec against every other row; pending holds
// rows that are being rewritten in the same statement.
func (s *Records) checkUniqueWith(table string, rec map[string]any, self int, pending map[int]map[string]any) error {
	constraints := append([]Unique{{Name: table + "_pkey", Columns: []string{"id"}}}, s.uniques[table]...)
	for i, other := range s.tables[table] {
		if i == self {
			continue
		}
		if p, ok := pending[i]; ok {
			other = p
		}
		for _, u := range constraints {
			if conflicts(u, rec, other) {
				return fmt.Errorf("%w: %s", port.ErrUniqueViolation, u.Name)
			}
		}
	}
	return nil
}

func conflicts(u Unique, a, b map[string]any) bool {
	if u.Where != nil && (!u.Where(a) || !u.Where(b)) {
		return false
	}
	for _, c := range u.Columns {
		av, bv := a[c], b[c]
		if av == nil || bv == nil || !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}

// ============================================================
// Value handling
// ============================================================

// normalizeRow round-trips row through JSON so stored values have the same
// shapes the HTTP and SQL stores return.
func normalizeRow(row map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeFilters(filters []port.Filter) ([]port.Filter, error) {
	out := make([]port.Filter, len(filters))
	for i, f := range filters {
		v, err := normalizeValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("encode filter %s: %w", f.Column, err)
		}
		out[i] = port.Filter{Column: f.Column, Op: f.Op, Value: v}
	}
	return out, nil
}

func matches(rec map[string]any, filters []port.Filter) bool {
	for _, f := range filters {
		v := rec[f.Column]
		switch f.Op {
		case port.OpEq:
			if v == nil || !reflect.DeepEqual(v, f.Value) {
				return false
			}
		case port.OpNeq:
			if v == nil || reflect.DeepEqual(v, f.Value) {
				return false
			}
		case port.OpIs:
			if v != nil {
				return false
			}
		case port.OpIn:
			list, _ := f.Value.([]any)
			found := false
			for _, item := range list {
				if reflect.DeepEqual(v, item) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// compareValues orders JSON scalars. Nulls sort first; RFC 3339 strings
// compare as instants.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			at, aerr := time.Parse(time.RFC3339Nano, av)
			bt, berr := time.Parse(time.RFC3339Nano, bv)
			if aerr == nil && berr == nil {
				return at.Compare(bt)
			}
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok && av != bv {
			if !av {
				return -1
			}
			return 1
		}
		return 0
	}
	return 0
}
