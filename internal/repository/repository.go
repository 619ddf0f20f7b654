// Package repository maps domain records onto a port.RecordStore.
// Each repository owns one table and translates constraint violations into
// domain errors.
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/boddenberg/franchise-core-go/internal/port"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("repository")

const defaultPageSize = 50

func pageQuery(page, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if page <= 0 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize
}

func selectAll[T any](ctx context.Context, store port.RecordStore, table string, q port.Query) ([]T, error) {
	raw, err := store.Select(ctx, table, q)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	out := make([]T, 0)
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", table, err)
	}
	return out, nil
}

// selectOne returns nil without error when nothing matched.
func selectOne[T any](ctx context.Context, store port.RecordStore, table string, q port.Query) (*T, error) {
	q.Limit = 1
	rows, err := selectAll[T](ctx, store, table, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func insertOne[T any](ctx context.Context, store port.RecordStore, table string, row map[string]any) (*T, error) {
	raw, err := store.Insert(ctx, table, row)
	if err != nil {
		return nil, err
	}
	var out T
	if err := decodeInserted(raw, &out); err != nil {
		return nil, fmt.Errorf("decode inserted %s: %w", table, err)
	}
	return &out, nil
}

// decodeInserted accepts both a single object and a one-element array,
// PostgREST returning the latter.
func decodeInserted(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("empty insert response")
		}
		return json.Unmarshal(rows[0], out)
	}
	return json.Unmarshal(trimmed, out)
}

func jsonColumn(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
