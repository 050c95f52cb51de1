package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunOrdersByPriorityAndContinuesOnError(t *testing.T) {
	r := NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))

	var order []string
	r.Register("late", 10, func(context.Context) error {
		order = append(order, "late")
		return nil
	})
	r.Register("early", 1, func(context.Context) error {
		order = append(order, "early")
		return errors.New("boom")
	})
	r.Register("middle", 5, func(context.Context) error {
		order = append(order, "middle")
		return nil
	})

	failed := r.Run(context.Background())
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"early", "middle", "late"}, order)

	assert.Equal(t, 0, r.Run(context.Background()))
	assert.Len(t, order, 3, "hooks must run only once")
}
