// Package barrier collects one-shot callbacks under a key and runs them once
// the key is resolved. A resolved key stays resolved: later Adds run at once.
package barrier

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Func is a deferred callback.
type Func func(ctx context.Context) error

type Barrier struct {
	mu       sync.Mutex
	pending  map[string][]Func
	resolved map[string]struct{}
}

func New() *Barrier {
	return &Barrier{
		pending:  map[string][]Func{},
		resolved: map[string]struct{}{},
	}
}

// NewKey returns a fresh key that was never used before.
func NewKey() string { return uuid.NewString() }

// Add registers fn under key. If key is already resolved, fn runs
// synchronously and its error is returned.
func (b *Barrier) Add(ctx context.Context, key string, fn Func) error {
	if fn == nil {
		return nil
	}
	b.mu.Lock()
	if _, ok := b.resolved[key]; ok {
		b.mu.Unlock()
		return fn(ctx)
	}
	b.pending[key] = append(b.pending[key], fn)
	b.mu.Unlock()
	return nil
}

// Resolve marks key resolved and runs its buffered callbacks in insertion
// order, one after another. Every callback runs even if an earlier one
// failed; their errors are joined.
func (b *Barrier) Resolve(ctx context.Context, key string) error {
	b.mu.Lock()
	fns := b.pending[key]
	delete(b.pending, key)
	b.resolved[key] = struct{}{}
	b.mu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending returns how many callbacks wait on key.
func (b *Barrier) Pending(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[key])
}

// Resolved reports whether key was resolved.
func (b *Barrier) Resolved(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.resolved[key]
	return ok
}
