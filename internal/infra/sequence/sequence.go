// Package sequence issues contract numbers.
//
// Numbers look like FC-YYYYMMDD-NNNNNN when they come from the Redis daily
// counter and FC-YYYYMMDD-XXXXXXXXXX when they are derived from the
// application id.
package sequence

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/franchise-core-go/internal/port"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

var tracer = otel.Tracer("sequence")

const (
	prefix     = "FC"
	dateLayout = "20060102"
	counterTTL = 48 * time.Hour
)

// ============================================================
// Redis daily counter
// ============================================================

// RedisConfig holds connection settings for the counter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a go-redis client for the counter.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

// RedisNumberer increments one counter per UTC day.
type RedisNumberer struct {
	rdb *redis.Client
}

// NewRedisNumberer wraps rdb.
func NewRedisNumberer(rdb *redis.Client) *RedisNumberer {
	return &RedisNumberer{rdb: rdb}
}

var _ port.ContractNumberer = (*RedisNumberer)(nil)

func counterKey(day string) string { return "contract_number:" + day }

// Next returns the next number of the day of at.
func (n *RedisNumberer) Next(ctx context.Context, applicationID string, at time.Time) (string, error) {
	ctx, span := tracer.Start(ctx, "RedisNumberer.Next")
	defer span.End()

	day := at.UTC().Format(dateLayout)
	key := counterKey(day)

	pipe := n.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("increment %s: %w", key, err)
	}
	return fmt.Sprintf("%s-%s-%06d", prefix, day, incr.Val()), nil
}

// Name implements port.HealthChecker.
func (n *RedisNumberer) Name() string { return "redis" }

// Ping checks the Redis connection.
func (n *RedisNumberer) Ping(ctx context.Context) error {
	if err := n.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// ============================================================
// Hash-derived numbers
// ============================================================

// HashNumberer derives the number from the application id. An application
// holds at most one contract, so the number is unique as long as ids are.
type HashNumberer struct{}

var _ port.ContractNumberer = HashNumberer{}

// Next never fails.
func (HashNumberer) Next(_ context.Context, applicationID string, at time.Time) (string, error) {
	sum := blake2b.Sum256([]byte(applicationID))
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format(dateLayout), strings.ToUpper(hex.EncodeToString(sum[:5]))), nil
}

// ============================================================
// Fallback
// ============================================================

// Fallback asks Primary first and Secondary when Primary fails.
type Fallback struct {
	Primary   port.ContractNumberer
	Secondary port.ContractNumberer
	Logger    *zap.Logger
}

var _ port.ContractNumberer = (*Fallback)(nil)

func (f *Fallback) Next(ctx context.Context, applicationID string, at time.Time) (string, error) {
	number, err := f.Primary.Next(ctx, applicationID, at)
	if err == nil {
		return number, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	f.Logger.Warn("contract counter unavailable, deriving number from application id",
		zap.String("application_id", applicationID),
		zap.Error(err),
	)
	return f.Secondary.Next(ctx, applicationID, at)
}
