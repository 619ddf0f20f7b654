package sequence

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var day = time.Date(2026, 10, 14, 23, 30, 0, 0, time.UTC)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisNumberer) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := NewRedisClient(RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewRedisNumberer(rdb)
}

func TestRedisNumberer_DailySequence(t *testing.T) {
	mr, numberer := newMiniRedis(t)
	ctx := context.Background()

	first, err := numberer.Next(ctx, "a1", day)
	require.NoError(t, err)
	second, err := numberer.Next(ctx, "a2", day)
	require.NoError(t, err)
	nextDay, err := numberer.Next(ctx, "a3", day.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, "FC-20261014-000001", first)
	assert.Equal(t, "FC-20261014-000002", second)
	assert.Equal(t, "FC-20261015-000001", nextDay)

	assert.True(t, mr.Exists("contract_number:20261014"))
	assert.Equal(t, counterTTL, mr.TTL("contract_number:20261014"))
	assert.NoError(t, numberer.Ping(ctx))
}

func TestRedisNumberer_UsesUTCDay(t *testing.T) {
	_, numberer := newMiniRedis(t)
	shanghai := time.FixedZone("CST", 8*3600)

	number, err := numberer.Next(context.Background(), "a1", time.Date(2026, 10, 15, 7, 0, 0, 0, shanghai))
	require.NoError(t, err)
	assert.Equal(t, "FC-20261014-000001", number)
}

func TestHashNumberer(t *testing.T) {
	var h HashNumberer
	a, err := h.Next(context.Background(), "app-1", day)
	require.NoError(t, err)
	again, _ := h.Next(context.Background(), "app-1", day)
	other, _ := h.Next(context.Background(), "app-2", day)

	assert.Regexp(t, regexp.MustCompile(`^FC-20261014-[0-9A-F]{10}$`), a)
	assert.Equal(t, a, again)
	assert.NotEqual(t, a, other)
}

type failingNumberer struct{}

func (failingNumberer) Next(context.Context, string, time.Time) (string, error) {
	return "", errors.New("connection refused")
}

func TestFallback(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := &Fallback{Primary: failingNumberer{}, Secondary: HashNumberer{}, Logger: zap.New(core)}

	number, err := f.Next(context.Background(), "app-1", day)
	require.NoError(t, err)
	assert.Regexp(t, `^FC-20261014-[0-9A-F]{10}$`, number)
	assert.Equal(t, 1, logs.Len())

	_, numberer := newMiniRedis(t)
	f.Primary = numberer
	number, err = f.Next(context.Background(), "app-2", day)
	require.NoError(t, err)
	assert.Equal(t, "FC-20261014-000001", number)
	assert.Equal(t, 1, logs.Len())
}

func TestRedisNumberer_ServerDown(t *testing.T) {
	mr, numberer := newMiniRedis(t)
	mr.Close()

	_, err := numberer.Next(context.Background(), "a1", day)
	assert.Error(t, err)
}
