package automation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testContext() *AutomationContext {
	return &AutomationContext{
		CorrelationID: "c1",
		WorkspaceID:   "T1",
		Operation:     "Foo",
		InvocationID:  "inv-1",
	}
}

func TestBackfillCodeOnly(t *testing.T) {
	got := Backfill(&HandlerResult{Code: 0}, testContext())
	assert.Equal(t, 0, got.Code)
	assert.Equal(t, "c1", got.CorrelationID)
	assert.Equal(t, "inv-1", got.InvocationID)
	assert.NotEmpty(t, got.Message)
}

func TestBackfillNil(t *testing.T) {
	got := Backfill(nil, testContext())
	assert.Equal(t, Success(testContext()), got)
}

func TestBackfillKeepsHandlerFields(t *testing.T) {
	got := Backfill(&HandlerResult{Code: 3, Message: "custom", CorrelationID: "other"}, testContext())
	assert.Equal(t, 3, got.Code)
	assert.Equal(t, "custom", got.Message)
	assert.Equal(t, "other", got.CorrelationID)
	assert.Equal(t, "inv-1", got.InvocationID)
}

func TestFailureCarriesError(t *testing.T) {
	got := Failure(testContext(), errors.New("kaput"))
	assert.Equal(t, 1, got.Code)
	assert.Contains(t, got.Message, "kaput")
}

func TestSucceeded(t *testing.T) {
	assert.True(t, Succeeded(nil))
	assert.True(t, Succeeded([]HandlerResult{{Code: 0}, {Code: 0}}))
	assert.False(t, Succeeded([]HandlerResult{{Code: 0}, {Code: 2}}))
}
