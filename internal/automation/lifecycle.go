package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

type disposable struct {
	name string
	fn   func(ctx context.Context) error
}

// Lifecycle is the per-invocation registry of scoped resources.
type Lifecycle struct {
	logger *slog.Logger

	mu          sync.Mutex
	disposables []disposable
	disposed    bool
}

// NewLifecycle returns an empty Lifecycle. logger receives the failures of
// resources registered after disposal; nil means slog.Default.
func NewLifecycle(logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{logger: logger}
}

// RegisterDisposable records fn to run when the invocation ends. Resources
// registered after disposal are released immediately.
func (l *Lifecycle) RegisterDisposable(name string, fn func(ctx context.Context) error) {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		if err := runDisposer(context.Background(), disposable{name: name, fn: fn}); err != nil {
			l.logger.Warn("failed to dispose invocation resources", "error", err)
		}
		return
	}
	l.disposables = append(l.disposables, disposable{name: name, fn: fn})
	l.mu.Unlock()
}

// Dispose releases every registered resource exactly once. All disposers run
// even when some fail or panic; the failures are joined into the result.
func (l *Lifecycle) Dispose(ctx context.Context) error {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return nil
	}
	l.disposed = true
	items := l.disposables
	l.disposables = nil
	l.mu.Unlock()

	var errs []error
	for _, d := range items {
		if err := runDisposer(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runDisposer(ctx context.Context, d disposable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispose %s: panic: %v", d.name, r)
		}
	}()
	if e := d.fn(ctx); e != nil {
		return fmt.Errorf("dispose %s: %w", d.name, e)
	}
	return nil
}
