package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/boddenberg/franchise-core-go/internal/port"
)

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

// Objects is an in-memory port.ObjectStore.
type Objects struct {
	mu      sync.Mutex
	baseURL string
	objects map[string]Object
	uploads int
}

// NewObjects returns an empty object store whose locators start with baseURL.
func NewObjects(baseURL string) *Objects {
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &Objects{baseURL: baseURL, objects: make(map[string]Object)}
}

var _ port.ObjectStore = (*Objects)(nil)

func key(bucket, path string) string { return bucket + "/" + path }

// Upload stores a copy of data.
func (o *Objects) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if bucket == "" || path == "" {
		return "", fmt.Errorf("memstore: bucket and path are required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.objects[key(bucket, path)] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	o.uploads++
	return o.PublicURL(bucket, path), nil
}

// PublicURL returns the locator for bucket/path.
func (o *Objects) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/%s/%s", o.baseURL, bucket, path)
}

// Remove deletes objects; unknown paths are ignored.
func (o *Objects) Remove(ctx context.Context, bucket string, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, p := range paths {
		delete(o.objects, key(bucket, p))
	}
	return nil
}

// Get returns a stored object.
func (o *Objects) Get(bucket, path string) (Object, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	obj, ok := o.objects[key(bucket, path)]
	return obj, ok
}

// Len returns the number of stored objects.
func (o *Objects) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.objects)
}

// Uploads returns how many Upload calls succeeded.
func (o *Objects) Uploads() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.uploads
}

// Name implements port.HealthChecker.
func (o *Objects) Name() string { return "memory-objects" }

// Ping implements port.HealthChecker.
func (o *Objects) Ping(context.Context) error { return nil }
