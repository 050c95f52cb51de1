package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/autoclient/internal/automation"
)

func TestListenerCountsOutcomes(t *testing.T) {
	m := New()
	l := NewListener(m)
	l.now = func() time.Time { return time.UnixMilli(3000) }
	hc := &automation.HandlerContext{Ts: 1000}

	require.NoError(t, l.CommandSuccessful(context.Background(), nil, hc, nil))
	require.NoError(t, l.CommandFailed(context.Background(), nil, hc, nil))
	require.NoError(t, l.EventFailed(context.Background(), nil, hc, nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues("command", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues("command", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues("event", "failure")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.InvocationDuration))
}

func TestHandlerExposesBackoffGauge(t *testing.T) {
	m := New()
	m.Backoff.Set(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "autoclient_cluster_backoff 1"))
}

func TestTrackDroppedEvents(t *testing.T) {
	m := New()
	var dropped int64 = 7
	m.TrackDroppedEvents(func() int64 { return dropped })

	n, err := testutil.GatherAndCount(m.Registry(), "autoclient_events_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "autoclient_events_dropped_total 7")
}
