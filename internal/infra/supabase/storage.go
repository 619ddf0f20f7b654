package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/franchise-core-go/internal/infra/resilience"
	"github.com/boddenberg/franchise-core-go/internal/port"

	"go.opentelemetry.io/otel/attribute"
)

// Storage implements port.ObjectStore over Supabase Storage.
type Storage struct {
	client *Client
}

// NewStorage returns the object store sharing c's HTTP client and breaker.
func NewStorage(c *Client) *Storage {
	return &Storage{client: c}
}

var _ port.ObjectStore = (*Storage)(nil)

// escapePath escapes each segment and keeps the separators.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// Upload stores data at bucket/path. Existing objects are not overwritten.
func (s *Storage) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	ctx, span := tracer.Start(ctx, "SupabaseStorage.Upload")
	defer span.End()
	span.SetAttributes(
		attribute.String("storage.bucket", bucket),
		attribute.Int("storage.size", len(data)),
	)

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	urlStr := fmt.Sprintf("%s/object/%s/%s", s.client.storageURL, bucket, escapePath(path))
	headers := map[string]string{
		"Content-Type":  contentType,
		"Cache-Control": "3600",
		"x-upsert":      "false",
	}

	_, err := s.client.cb.Execute(func() (any, error) {
		return s.client.doStorage(ctx, http.MethodPost, urlStr, data, headers)
	})
	if err != nil {
		return "", s.client.wrapErr("upload "+bucket, err)
	}
	return s.PublicURL(bucket, path), nil
}

// PublicURL returns the public URL for a file.
func (s *Storage) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", s.client.storageURL, bucket, escapePath(path))
}

// Remove deletes files from a bucket.
func (s *Storage) Remove(ctx context.Context, bucket string, paths []string) error {
	ctx, span := tracer.Start(ctx, "SupabaseStorage.Remove")
	defer span.End()

	if len(paths) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{"prefixes": paths})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	urlStr := fmt.Sprintf("%s/object/%s", s.client.storageURL, bucket)

	_, err = s.client.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, s.client.cfg, func() error {
			_, err := s.client.doStorage(ctx, http.MethodDelete, urlStr, body, nil)
			return err
		})
	})
	return s.client.wrapErr("remove "+bucket, err)
}

// Name implements port.HealthChecker.
func (s *Storage) Name() string { return "supabase-storage" }

// Ping lists buckets to check the Storage API.
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.client.doStorage(ctx, http.MethodGet, s.client.storageURL+"/bucket", nil, nil)
	return s.client.wrapErr("ping storage", err)
}
