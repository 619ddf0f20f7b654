// Package cache provides a request-scoped memo.
// Entries live as long as the request context they are attached to and are
// never shared across requests.
package cache

import (
	"context"
	"sync"
)

// Scope is a thread-safe memo bound to one request.
type Scope[T any] struct {
	mu    sync.Mutex
	items map[string]T
}

// NewScope creates an empty memo.
func NewScope[T any]() *Scope[T] {
	return &Scope[T]{items: make(map[string]T)}
}

// Get retrieves a value from the memo.
func (s *Scope[T]) Get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items[key]
	return v, ok
}

// Set stores a value in the memo.
func (s *Scope[T]) Set(key string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = value
}

// Delete removes a value, used after a write to the underlying record.
func (s *Scope[T]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
}

// Len returns the number of memoized entries.
func (s *Scope[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

type scopeKey[T any] struct{}

// WithScope returns a child context carrying a fresh memo for values of type T.
func WithScope[T any](ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey[T]{}, NewScope[T]())
}

// FromContext returns the memo attached by WithScope, or nil.
func FromContext[T any](ctx context.Context) *Scope[T] {
	s, _ := ctx.Value(scopeKey[T]{}).(*Scope[T])
	return s
}

// GetOrLoad returns the memoized value for key, calling load on a miss.
// Without a scope in ctx it always calls load. Errors are not memoized.
func GetOrLoad[T any](ctx context.Context, key string, load func(context.Context) (T, error)) (T, bool, error) {
	s := FromContext[T](ctx)
	if s != nil {
		if v, ok := s.Get(key); ok {
			return v, true, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return v, false, err
	}
	if s != nil {
		s.Set(key, v)
	}
	return v, false, nil
}
