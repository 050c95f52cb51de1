// Package deferred provides a single-resolution future used to turn
// callback-style worker messages into values a caller can wait on.
package deferred

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadyResolved is returned when a Deferred is resolved a second time.
var ErrAlreadyResolved = errors.New("deferred already resolved")

// Deferred holds a value that becomes available exactly once.
type Deferred[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New returns an unresolved Deferred.
func New[T any]() *Deferred[T] {
	return &Deferred[T]{done: make(chan struct{})}
}

// Resolve completes the Deferred with v. Only the first call wins.
func (d *Deferred[T]) Resolve(v T) error {
	return d.complete(v, nil)
}

// Reject completes the Deferred with err. Only the first call wins.
func (d *Deferred[T]) Reject(err error) error {
	var zero T
	return d.complete(zero, err)
}

func (d *Deferred[T]) complete(v T, err error) error {
	resolved := false
	d.once.Do(func() {
		d.value = v
		d.err = err
		close(d.done)
		resolved = true
	})
	if !resolved {
		return ErrAlreadyResolved
	}
	return nil
}

// Done is closed once the Deferred is resolved or rejected.
func (d *Deferred[T]) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until resolution or ctx cancellation.
func (d *Deferred[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.value, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
