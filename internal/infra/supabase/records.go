package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/infra/resilience"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
)

var _ port.RecordStore = (*Client)(nil)

// ============================================================
// port.RecordStore over PostgREST
// ============================================================

// Insert posts one row and returns it.
func (c *Client) Insert(ctx context.Context, table string, row map[string]any) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", table))

	out, err := c.cb.Execute(func() (any, error) {
		return c.doPost(ctx, table, row)
	})
	if err != nil {
		return nil, c.wrapErr("insert "+table, err)
	}

	// PostgREST answers with a one-element array.
	body, _ := out.([]byte)
	var rows []json.RawMessage
	if json.Unmarshal(body, &rows) == nil && len(rows) > 0 {
		return rows[0], nil
	}
	return body, nil
}

// Select reads rows; transient failures are retried.
func (c *Client) Select(ctx context.Context, table string, q port.Query) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Select")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", table))

	path := table + "?" + encodeQuery(q)
	var body []byte

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			b, err := c.doRequest(ctx, http.MethodGet, path)
			if err != nil {
				return err
			}
			body = b
			return nil
		})
	})
	if err != nil {
		return nil, c.wrapErr("select "+table, err)
	}
	if len(body) == 0 {
		return []byte("[]"), nil
	}
	return body, nil
}

// Update patches matching rows and counts the rows PostgREST returns.
// Updates are not retried.
func (c *Client) Update(ctx context.Context, table string, filters []port.Filter, patch map[string]any) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.Update")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", table))

	path := table + "?" + encodeFilters(filters).Encode()
	out, err := c.cb.Execute(func() (any, error) {
		return c.doPatch(ctx, path, patch)
	})
	if err != nil {
		return 0, c.wrapErr("update "+table, err)
	}

	body, _ := out.([]byte)
	if len(body) == 0 {
		return 0, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return 0, fmt.Errorf("decode update response: %w", err)
	}
	span.SetAttributes(attribute.Int("db.rows_affected", len(rows)))
	return len(rows), nil
}

// Delete removes matching rows. An empty filter list is refused.
func (c *Client) Delete(ctx context.Context, table string, filters []port.Filter) error {
	ctx, span := tracer.Start(ctx, "Supabase.Delete")
	defer span.End()

	if len(filters) == 0 {
		return fmt.Errorf("supabase: refusing unfiltered delete on %s", table)
	}
	path := table + "?" + encodeFilters(filters).Encode()
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			return c.doDelete(ctx, path)
		})
	})
	return c.wrapErr("delete "+table, err)
}

// ============================================================
// Query encoding
// ============================================================

func encodeQuery(q port.Query) string {
	v := encodeFilters(q.Filters)
	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			parts[i] = o.Column + "." + dir
		}
		v.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	v.Set("select", "*")
	return v.Encode()
}

func encodeFilters(filters []port.Filter) url.Values {
	v := url.Values{}
	for _, f := range filters {
		switch f.Op {
		case port.OpIs:
			v.Add(f.Column, "is.null")
		case port.OpIn:
			values, _ := f.Value.([]string)
			quoted := make([]string, len(values))
			for i, s := range values {
				quoted[i] = quoteListItem(s)
			}
			v.Add(f.Column, "in.("+strings.Join(quoted, ",")+")")
		default:
			v.Add(f.Column, string(f.Op)+"."+formatValue(f.Value))
		}
	}
	return v
}

func formatValue(value any) string {
	switch x := value.(type) {
	case nil:
		return "null"
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// quoteListItem double-quotes an in.() member so commas and parentheses
// inside values survive.
func quoteListItem(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
