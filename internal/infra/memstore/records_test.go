package memstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/infra/memstore"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRows(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(raw, &rows))
	return rows
}

func TestInsertAssignsIDAndSelects(t *testing.T) {
	ctx := context.Background()
	recs, _ := memstore.New()

	raw, err := recs.Insert(ctx, "notes", map[string]any{"body": "hello"})
	require.NoError(t, err)

	var row map[string]any
	require.NoError(t, json.Unmarshal(raw, &row))
	assert.NotEmpty(t, row["id"])

	out, err := recs.Select(ctx, "notes", port.Query{Filters: []port.Filter{port.Eq("body", "hello")}})
	require.NoError(t, err)
	assert.Len(t, decodeRows(t, out), 1)
}

func TestSelectEmptyTableIsEmptyArray(t *testing.T) {
	recs, _ := memstore.New()
	out, err := recs.Select(context.Background(), "nothing", port.Query{})
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(out))
}

func TestSelectOrderIsStableForTies(t *testing.T) {
	ctx := context.Background()
	recs, _ := memstore.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for _, name := range []string{"first", "second", "third"} {
		_, err := recs.Insert(ctx, "t", map[string]any{"name": name, "created_at": at})
		require.NoError(t, err)
	}
	_, err := recs.Insert(ctx, "t", map[string]any{"name": "older", "created_at": at.Add(-time.Hour)})
	require.NoError(t, err)

	out, err := recs.Select(ctx, "t", port.Query{Order: []port.Order{{Column: "created_at"}}})
	require.NoError(t, err)
	rows := decodeRows(t, out)
	require.Len(t, rows, 4)
	assert.Equal(t, "older", rows[0]["name"])
	assert.Equal(t, "first", rows[1]["name"])
	assert.Equal(t, "third", rows[3]["name"])
}

func TestSelectInFilterAndPagination(t *testing.T) {
	ctx := context.Background()
	recs, _ := memstore.New()
	for _, s := range []string{"a", "b", "c", "d"} {
		_, err := recs.Insert(ctx, "t", map[string]any{"status": s})
		require.NoError(t, err)
	}

	out, err := recs.Select(ctx, "t", port.Query{
		Filters: []port.Filter{port.In("status", []string{"b", "c", "d"})},
		Limit:   2,
		Offset:  1,
	})
	require.NoError(t, err)
	rows := decodeRows(t, out)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0]["status"])
	assert.Equal(t, "d", rows[1]["status"])
}

func TestConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	recs, _ := memstore.New()
	_, err := recs.Insert(ctx, "t", map[string]any{"id": "r1", "status": "submitted"})
	require.NoError(t, err)

	n, err := recs.Update(ctx, "t", []port.Filter{port.Eq("id", "r1"), port.Eq("status", "draft")}, map[string]any{"status": "approved"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = recs.Update(ctx, "t", []port.Filter{port.Eq("id", "r1"), port.Eq("status", "submitted")}, map[string]any{"status": "approved"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConditionalUpdate_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	recs, _ := memstore.New()
	_, err := recs.Insert(ctx, "t", map[string]any{"id": "r1", "status": "submitted"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := recs.Update(ctx, "t",
				[]port.Filter{port.Eq("id", "r1"), port.Eq("status", "submitted")},
				map[string]any{"status": "approved"})
			if err == nil && n == 1 {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestPartialUniqueOpenApplication(t *testing.T) {
	ctx := context.Background()
	recs, _ := memstore.New()

	_, err := recs.Insert(ctx, port.TableApplications, map[string]any{"user_id": "u1", "status": "rejected"})
	require.NoError(t, err)
	_, err = recs.Insert(ctx, port.TableApplications, map[string]any{"user_id": "u1", "status": "submitted"})
	require.NoError(t, err)

	_, err = recs.Insert(ctx, port.TableApplications, map[string]any{"user_id": "u1", "status": "under_review"})
	assert.True(t, errors.Is(err, port.ErrUniqueViolation))

	_, err = recs.Insert(ctx, port.TableApplications, map[string]any{"user_id": "u2", "status": "submitted"})
	assert.NoError(t, err)
}

func TestUniqueSignedContractPerApplication(t *testing.T) {
	ctx := context.Background()
	recs, _ := memstore.New()

	_, err := recs.Insert(ctx, port.TableSignedContracts, map[string]any{"application_id": "a1", "contract_number": "N1"})
	require.NoError(t, err)
	_, err = recs.Insert(ctx, port.TableSignedContracts, map[string]any{"application_id": "a1", "contract_number": "N2"})
	assert.True(t, errors.Is(err, port.ErrUniqueViolation))
	_, err = recs.Insert(ctx, port.TableSignedContracts, map[string]any{"application_id": "a2", "contract_number": "N1"})
	assert.True(t, errors.Is(err, port.ErrUniqueViolation))
	assert.Equal(t, 1, recs.Count(port.TableSignedContracts))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	recs, _ := memstore.New()
	_, _ = recs.Insert(ctx, "t", map[string]any{"id": "x"})
	_, _ = recs.Insert(ctx, "t", map[string]any{"id": "y"})

	require.NoError(t, recs.Delete(ctx, "t", []port.Filter{port.Eq("id", "x")}))
	assert.Equal(t, 1, recs.Count("t"))
}

func TestObjects(t *testing.T) {
	ctx := context.Background()
	_, objs := memstore.New()

	url, err := objs.Upload(ctx, "bucket", "a/b.pdf", []byte("%PDF"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, objs.PublicURL("bucket", "a/b.pdf"), url)

	obj, ok := objs.Get("bucket", "a/b.pdf")
	require.True(t, ok)
	assert.Equal(t, "application/pdf", obj.ContentType)

	require.NoError(t, objs.Remove(ctx, "bucket", []string{"a/b.pdf", "missing"}))
	assert.Equal(t, 0, objs.Len())
	assert.Equal(t, 1, objs.Uploads())
}
