package eventstore

import (
	"context"

	"github.com/mattjoyce/autoclient/internal/automation"
)

type workerIDKey struct{}

// WithWorkerID tags ctx with the worker that ran the invocation so the
// journal can record it.
func WithWorkerID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, workerIDKey{}, id)
}

func workerID(ctx context.Context) *int {
	if id, ok := ctx.Value(workerIDKey{}).(int); ok {
		return &id
	}
	return nil
}

// Listener journals every finished invocation.
type Listener struct {
	automation.NopListener
	store *Store
}

func NewListener(store *Store) *Listener {
	return &Listener{store: store}
}

func (l *Listener) CommandSuccessful(ctx context.Context, _ *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error {
	return l.recordCommand(ctx, hc, result)
}

func (l *Listener) CommandFailed(ctx context.Context, _ *automation.Command, hc *automation.HandlerContext, result *automation.HandlerResult) error {
	return l.recordCommand(ctx, hc, result)
}

func (l *Listener) EventSuccessful(ctx context.Context, _ *automation.Event, hc *automation.HandlerContext, results []automation.HandlerResult) error {
	_, err := l.store.RecordInvocation(ctx, hc.Context, KindEvent, results, workerID(ctx))
	return err
}

func (l *Listener) EventFailed(ctx context.Context, _ *automation.Event, hc *automation.HandlerContext, results []automation.HandlerResult) error {
	_, err := l.store.RecordInvocation(ctx, hc.Context, KindEvent, results, workerID(ctx))
	return err
}

func (l *Listener) recordCommand(ctx context.Context, hc *automation.HandlerContext, result *automation.HandlerResult) error {
	var results []automation.HandlerResult
	if result != nil {
		results = []automation.HandlerResult{*result}
	}
	_, err := l.store.RecordInvocation(ctx, hc.Context, KindCommand, results, workerID(ctx))
	return err
}
